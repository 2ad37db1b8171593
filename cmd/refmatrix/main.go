// Command refmatrix extracts the color matrix from a reference image and
// saves it as TSV, so later runs can reuse it without re-detecting the card.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"card-correct/internal/card"
	"card-correct/internal/decode"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	defaults := card.DefaultConfig()
	adaptive := flag.Int("adaptive", int(defaults.AdaptiveMethod), "adaptive threshold method: 0 = mean, 1 = Gaussian")
	blockSize := flag.Int("blocksize", defaults.BlockSize, "adaptive threshold window (odd)")
	radius := flag.Int("radius", defaults.Radius, "patch sampling radius in pixels")
	minSize := flag.Int("minsize", defaults.MinSize, "minimum patch area in pixels")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr,
			"Usage: refmatrix [flags] <ref_image> <output.tsv> <review_dir>\n\n"+
				"Detects the color card in <ref_image>, samples its matrix, and writes\n"+
				"it to <output.tsv>. The detection review PNG lands in <review_dir>.\n\nFlags:\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() != 3 {
		flag.Usage()
		os.Exit(2)
	}
	refPath, outPath, reviewDir := flag.Arg(0), flag.Arg(1), flag.Arg(2)

	cfg := card.Config{
		AdaptiveMethod: card.AdaptiveMethod(*adaptive),
		BlockSize:      *blockSize,
		Radius:         *radius,
		MinSize:        *minSize,
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("bad configuration: %v", err)
	}
	if err := os.MkdirAll(reviewDir, 0o755); err != nil {
		log.Fatalf("create review directory: %v", err)
	}

	ctx := context.Background()

	detImg, err := decode.File(ctx, refPath, decode.ForDetection)
	if err != nil {
		log.Fatalf("%v", err)
	}
	defer detImg.Close()

	det, err := card.DetectCard(detImg, cfg)
	if err != nil {
		log.Fatalf("reference %s: %v", refPath, err)
	}
	defer det.Close()

	base := filepath.Base(refPath)
	reviewPath := filepath.Join(reviewDir, base[:len(base)-len(filepath.Ext(base))]+"_card.png")
	if err := det.WriteReviewPNG(reviewPath); err != nil {
		log.Fatalf("%v", err)
	}

	smpImg, err := decode.File(ctx, refPath, decode.ForSampling)
	if err != nil {
		log.Fatalf("%v", err)
	}
	defer smpImg.Close()

	m, err := card.SampleMatrix(smpImg, det)
	if err != nil {
		log.Fatalf("reference %s: %v", refPath, err)
	}

	if err := m.WriteTSV(outPath); err != nil {
		log.Fatalf("%v", err)
	}
	fmt.Printf("%s -> %s (grid residual %.1f px)\n", base, outPath, det.Residual)
}
