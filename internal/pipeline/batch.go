package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"card-correct/internal/card"
	"card-correct/internal/decode"
	"card-correct/internal/imgconv"
	"card-correct/internal/tiffx"
)

// BatchConfig describes one batch correction run.
type BatchConfig struct {
	InputDir  string // directory of input images
	OutputDir string // corrected TIFFs land here, created if absent
	ReviewDir string // detection review PNGs land here, created if absent
	RefPath   string // reference image, or a .tsv matrix from refmatrix
	RawSuffix string // input extension to match, e.g. "ARW", "NEF", "tiff"
	ICCPath   string // ICC profile embedded in every output
	Card      card.Config

	Engine  Engine  // nil selects the card-based engine
	Decoder Decoder // nil selects the file decoder
}

func (cfg *BatchConfig) engine() Engine {
	if cfg.Engine != nil {
		return cfg.Engine
	}
	return cardEngine{}
}

func (cfg *BatchConfig) decoder() Decoder {
	if cfg.Decoder != nil {
		return cfg.Decoder
	}
	return fileDecoder{}
}

func (cfg *BatchConfig) validate() error {
	if err := cfg.Card.Validate(); err != nil {
		return err
	}
	info, err := os.Stat(cfg.InputDir)
	if err != nil {
		return fmt.Errorf("input directory: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("input directory: %s is not a directory", cfg.InputDir)
	}
	if !decode.Supported(cfg.RawSuffix) {
		return fmt.Errorf("unsupported input suffix %q (RAW, TIFF or PNG required)", cfg.RawSuffix)
	}
	if _, err := os.Stat(cfg.RefPath); err != nil {
		return fmt.Errorf("reference: %w", err)
	}
	return nil
}

// RunBatch corrects every suffix-matching file in the input directory
// against the reference, one file at a time in lexicographic order. A file
// that fails is reported in the summary and does not stop the loop; errors
// in the configuration or the reference are fatal and returned directly.
func RunBatch(ctx context.Context, cfg BatchConfig) (*Summary, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	icc, err := tiffx.ReadProfile(cfg.ICCPath)
	if err != nil {
		return nil, err
	}
	if err := ensureDir(cfg.OutputDir); err != nil {
		return nil, err
	}
	if err := ensureDir(cfg.ReviewDir); err != nil {
		return nil, err
	}

	files, err := listInputs(cfg.InputDir, cfg.RawSuffix)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no .%s files in %s", cfg.RawSuffix, cfg.InputDir)
	}

	eng := cfg.engine()
	dec := cfg.decoder()

	// The reference matrix is pinned once and reused, unchanged, for every
	// file of the run.
	ref, err := referenceMatrix(ctx, eng, dec, cfg.RefPath, cfg.ReviewDir, cfg.Card)
	if err != nil {
		return nil, err
	}

	summary := &Summary{}
	written := make(map[string]string)
	for i, name := range files {
		if err := ctx.Err(); err != nil {
			return summary, err
		}

		res := FileResult{Input: name}
		out := outputName(name)
		if prev, ok := written[out]; ok {
			res.Err = fmt.Errorf("output %s already produced from %s", out, prev)
		} else {
			res = processFile(ctx, eng, dec, cfg, icc, ref, name)
			if res.Err == nil {
				written[out] = name
			}
		}

		if res.Err != nil {
			fmt.Fprintf(os.Stderr, "[%d/%d] %s: FAILED: %v\n", i+1, len(files), name, res.Err)
		} else {
			fmt.Printf("[%d/%d] %s -> %s\n", i+1, len(files), name, res.Output)
		}
		summary.Results = append(summary.Results, res)
	}
	return summary, nil
}

// processFile runs the full per-file sequence: decode for detection, detect,
// write the review image, decode neutrally, sample, correct, write TIFF.
// The review image is written before correction so it exists for audit even
// when a later stage fails.
func processFile(ctx context.Context, eng Engine, dec Decoder, cfg BatchConfig, icc []byte, ref card.Matrix, name string) FileResult {
	res := FileResult{Input: name}
	inPath := filepath.Join(cfg.InputDir, name)

	detImg, err := dec.Decode(ctx, inPath, decode.ForDetection)
	if err != nil {
		res.Err = err
		return res
	}
	defer detImg.Close()

	det, err := eng.Detect(detImg, cfg.Card)
	if err != nil {
		res.Err = fmt.Errorf("detect card: %w", err)
		return res
	}
	defer det.Close()

	if err := eng.Review(det, filepath.Join(cfg.ReviewDir, reviewName(name))); err != nil {
		res.Err = err
		return res
	}

	smpImg, err := dec.Decode(ctx, inPath, decode.ForSampling)
	if err != nil {
		res.Err = err
		return res
	}
	defer smpImg.Close()

	m, err := eng.Sample(smpImg, det)
	if err != nil {
		res.Err = fmt.Errorf("sample card: %w", err)
		return res
	}

	// The card may have been laid down rotated by 180 degrees; read the
	// grid both ways and keep whichever matrix sits closer to the reference.
	if flipped, err := eng.Sample(smpImg, det.FlipUD()); err == nil {
		if m.Distance(ref) >= flipped.Distance(ref) {
			fmt.Printf("[INFO] %s: color card upside down\n", name)
			m = flipped
		}
	}

	corrected, _, err := eng.Correct(smpImg, m, ref)
	if err != nil {
		res.Err = fmt.Errorf("correct: %w", err)
		return res
	}
	defer corrected.Close()

	img, err := imgconv.ToImage(corrected)
	if err != nil {
		res.Err = err
		return res
	}

	outPath := filepath.Join(cfg.OutputDir, outputName(name))
	if err := tiffx.WriteFile(outPath, img, icc); err != nil {
		res.Err = err
		return res
	}
	res.Output = outPath
	return res
}

// listInputs returns the base names of directory entries whose extension
// matches the suffix (case-insensitive), sorted lexicographically so runs
// are deterministic.
func listInputs(dir, suffix string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("list input directory: %w", err)
	}

	var files []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := strings.TrimPrefix(filepath.Ext(e.Name()), ".")
		if strings.EqualFold(ext, suffix) {
			files = append(files, e.Name())
		}
	}
	sort.Strings(files)
	return files, nil
}
