package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"card-correct/internal/card"
	"card-correct/internal/decode"
	"card-correct/internal/imgconv"
	"card-correct/internal/tiffx"
)

// ProxyConfig describes a single-target proxy correction: the correction is
// inferred from the proxy image's card and applied to the target image,
// whose own card is covered or undetectable. The proxy is assumed to share
// the target's lighting, e.g. an adjacent shot of the same series.
type ProxyConfig struct {
	TargetPath string // image the correction is applied to
	ProxyPath  string // image the correction is inferred from
	RefPath    string // reference image, or a .tsv matrix from refmatrix
	OutputPath string // exact path of the corrected TIFF
	ReviewDir  string // the proxy detection's review PNG lands here
	ICCPath    string // ICC profile embedded in the output
	Card       card.Config

	Engine  Engine  // nil selects the card-based engine
	Decoder Decoder // nil selects the file decoder
}

func (cfg *ProxyConfig) engine() Engine {
	if cfg.Engine != nil {
		return cfg.Engine
	}
	return cardEngine{}
}

func (cfg *ProxyConfig) decoder() Decoder {
	if cfg.Decoder != nil {
		return cfg.Decoder
	}
	return fileDecoder{}
}

func (cfg *ProxyConfig) validate() error {
	if err := cfg.Card.Validate(); err != nil {
		return err
	}
	for _, p := range []string{cfg.TargetPath, cfg.ProxyPath, cfg.RefPath} {
		if _, err := os.Stat(p); err != nil {
			return err
		}
	}
	return nil
}

// ProxyResult reports what a proxy run produced.
type ProxyResult struct {
	OutputPath string
	Correction card.Correction // fitted from (proxy matrix, reference matrix)
}

// RunProxy corrects the target image using the proxy image's card. There is
// exactly one unit of work, so any stage failure is fatal.
func RunProxy(ctx context.Context, cfg ProxyConfig) (*ProxyResult, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	icc, err := tiffx.ReadProfile(cfg.ICCPath)
	if err != nil {
		return nil, err
	}
	if err := ensureDir(cfg.ReviewDir); err != nil {
		return nil, err
	}

	eng := cfg.engine()
	dec := cfg.decoder()

	ref, err := referenceMatrix(ctx, eng, dec, cfg.RefPath, cfg.ReviewDir, cfg.Card)
	if err != nil {
		return nil, err
	}

	// Detect and sample the proxy; its matrix stands in for the target's.
	detImg, err := dec.Decode(ctx, cfg.ProxyPath, decode.ForDetection)
	if err != nil {
		return nil, err
	}
	defer detImg.Close()

	det, err := eng.Detect(detImg, cfg.Card)
	if err != nil {
		return nil, fmt.Errorf("proxy %s: %w", cfg.ProxyPath, err)
	}
	defer det.Close()

	reviewPath := filepath.Join(cfg.ReviewDir, reviewName(filepath.Base(cfg.ProxyPath)))
	if err := eng.Review(det, reviewPath); err != nil {
		return nil, err
	}

	proxyImg, err := dec.Decode(ctx, cfg.ProxyPath, decode.ForSampling)
	if err != nil {
		return nil, err
	}
	defer proxyImg.Close()

	proxyMatrix, err := eng.Sample(proxyImg, det)
	if err != nil {
		return nil, fmt.Errorf("proxy %s: %w", cfg.ProxyPath, err)
	}

	// The correction is applied to the target raster, not the proxy's.
	targetImg, err := dec.Decode(ctx, cfg.TargetPath, decode.ForSampling)
	if err != nil {
		return nil, err
	}
	defer targetImg.Close()

	corrected, corr, err := eng.Correct(targetImg, proxyMatrix, ref)
	if err != nil {
		return nil, fmt.Errorf("correct %s: %w", cfg.TargetPath, err)
	}
	defer corrected.Close()

	img, err := imgconv.ToImage(corrected)
	if err != nil {
		return nil, err
	}
	if err := tiffx.WriteFile(cfg.OutputPath, img, icc); err != nil {
		return nil, err
	}

	fmt.Printf("%s -> %s (corrections from %s)\n",
		filepath.Base(cfg.TargetPath), cfg.OutputPath, filepath.Base(cfg.ProxyPath))

	return &ProxyResult{OutputPath: cfg.OutputPath, Correction: corr}, nil
}
