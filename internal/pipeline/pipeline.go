// Package pipeline orchestrates card-based color correction runs: the batch
// pipeline over a directory of inputs, and the proxy pipeline for a single
// target whose own card is unusable.
package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"card-correct/internal/card"
	"card-correct/internal/decode"

	"gocv.io/x/gocv"
)

// Engine is the pluggable detection/correction boundary. The production
// engine wraps the card package; tests substitute fakes.
type Engine interface {
	// Detect locates the card grid in a detection-mode rendering.
	Detect(img gocv.Mat, cfg card.Config) (*card.Detection, error)
	// Sample reads the color matrix at the detection's grid from a
	// sampling-mode rendering.
	Sample(img gocv.Mat, det *card.Detection) (card.Matrix, error)
	// Correct fits src onto ref and applies the result to img, returning
	// the corrected mat and the fitted parameters.
	Correct(img gocv.Mat, src, ref card.Matrix) (gocv.Mat, card.Correction, error)
	// Review persists the detection's audit image.
	Review(det *card.Detection, path string) error
}

// Decoder turns a file into a BGR mat under a decode mode.
type Decoder interface {
	Decode(ctx context.Context, path string, mode decode.Mode) (gocv.Mat, error)
}

// FileResult is the outcome of one input file in a batch run.
type FileResult struct {
	Input  string // input filename (base name)
	Output string // written TIFF path, empty on failure
	Err    error
}

// Summary collects per-file outcomes of a batch run, in processing order.
type Summary struct {
	Results []FileResult
}

// Succeeded returns the number of files that produced output.
func (s *Summary) Succeeded() int {
	n := 0
	for _, r := range s.Results {
		if r.Err == nil {
			n++
		}
	}
	return n
}

// Failed returns the number of files that did not produce output.
func (s *Summary) Failed() int {
	return len(s.Results) - s.Succeeded()
}

// cardEngine is the production Engine on top of the card package.
type cardEngine struct{}

func (cardEngine) Detect(img gocv.Mat, cfg card.Config) (*card.Detection, error) {
	return card.DetectCard(img, cfg)
}

func (cardEngine) Sample(img gocv.Mat, det *card.Detection) (card.Matrix, error) {
	return card.SampleMatrix(img, det)
}

func (cardEngine) Correct(img gocv.Mat, src, ref card.Matrix) (gocv.Mat, card.Correction, error) {
	corr, err := card.FitCorrection(src, ref)
	if err != nil {
		return gocv.Mat{}, card.Correction{}, err
	}
	return corr.Apply(img), corr, nil
}

func (cardEngine) Review(det *card.Detection, path string) error {
	return det.WriteReviewPNG(path)
}

// fileDecoder is the production Decoder on top of the decode package.
type fileDecoder struct{}

func (fileDecoder) Decode(ctx context.Context, path string, mode decode.Mode) (gocv.Mat, error) {
	return decode.File(ctx, path, mode)
}

// referenceMatrix pins the reference color matrix for a run: read directly
// from a previously extracted .tsv, or detected and sampled from the
// reference image. A review image for the reference detection lands in
// reviewDir unless it is empty.
func referenceMatrix(ctx context.Context, eng Engine, dec Decoder, refPath, reviewDir string, cfg card.Config) (card.Matrix, error) {
	var m card.Matrix

	if strings.EqualFold(filepath.Ext(refPath), ".tsv") {
		return card.ReadMatrixTSV(refPath)
	}

	detImg, err := dec.Decode(ctx, refPath, decode.ForDetection)
	if err != nil {
		return m, fmt.Errorf("reference: %w", err)
	}
	defer detImg.Close()

	det, err := eng.Detect(detImg, cfg)
	if err != nil {
		return m, fmt.Errorf("reference %s: %w", refPath, err)
	}
	defer det.Close()

	if reviewDir != "" {
		// Prefixed so a reference sharing an input's base name cannot
		// overwrite that input's review image.
		name := "ref_" + reviewName(filepath.Base(refPath))
		if err := eng.Review(det, filepath.Join(reviewDir, name)); err != nil {
			return m, fmt.Errorf("reference: %w", err)
		}
	}

	smpImg, err := dec.Decode(ctx, refPath, decode.ForSampling)
	if err != nil {
		return m, fmt.Errorf("reference: %w", err)
	}
	defer smpImg.Close()

	m, err = eng.Sample(smpImg, det)
	if err != nil {
		return m, fmt.Errorf("reference %s: %w", refPath, err)
	}
	return m, nil
}

// reviewName derives the review PNG name from an input filename.
func reviewName(input string) string {
	base := strings.TrimSuffix(input, filepath.Ext(input))
	return base + "_card.png"
}

// outputName derives the output TIFF name from an input filename: same base
// name, .tiff extension. The mapping is 1:1 by construction.
func outputName(input string) string {
	base := strings.TrimSuffix(input, filepath.Ext(input))
	return base + ".tiff"
}

// ensureDir creates the directory if it does not exist.
func ensureDir(path string) error {
	if err := os.MkdirAll(path, 0o755); err != nil {
		return fmt.Errorf("create directory %s: %w", path, err)
	}
	return nil
}
