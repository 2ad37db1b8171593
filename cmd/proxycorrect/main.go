// Command proxycorrect corrects a single image whose color card is covered
// or undetectable, inferring the correction from a proxy image of the same
// series.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"

	"card-correct/internal/card"
	"card-correct/internal/pipeline"
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
			"Usage: proxycorrect [flags] <target_image> <proxy_image> <ref_image|ref.tsv> <output.tiff> <review_dir> <icc_profile>\n\n"+
				"Detects the card in <proxy_image>, fits its correction against the\n"+
				"reference, and applies it to <target_image>. Assumes the proxy was shot\n"+
				"under the same lighting as the target.\n\nFlags:\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() != 6 {
		flag.Usage()
		os.Exit(2)
	}
	args := flag.Args()

	cfg := pipeline.ProxyConfig{
		TargetPath: args[0],
		ProxyPath:  args[1],
		RefPath:    args[2],
		OutputPath: args[3],
		ReviewDir:  args[4],
		ICCPath:    args[5],
		Card: card.Config{
			AdaptiveMethod: card.AdaptiveMethod(*adaptive),
			BlockSize:      *blockSize,
			Radius:         *radius,
			MinSize:        *minSize,
		},
	}

	if _, err := pipeline.RunProxy(context.Background(), cfg); err != nil {
		log.Fatalf("proxy run failed: %v", err)
	}
}
