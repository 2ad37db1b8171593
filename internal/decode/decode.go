// Package decode ingests RAW and TIFF/PNG photographs as OpenCV BGR mats.
//
// Vendor RAW files are developed by a dcraw subprocess writing PPM to
// stdout; demosaicing stays outside this repository. TIFF and PNG inputs
// are read directly.
package decode

import (
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"

	"gocv.io/x/gocv"
)

// Mode selects how an image is developed. Detection wants a bright,
// white-balanced rendering so the card thresholds cleanly; color sampling
// wants a neutral rendering so measurements are comparable across the run.
type Mode int

const (
	// ForDetection develops with auto brightness and auto white balance.
	ForDetection Mode = iota
	// ForSampling develops neutrally: fixed brightness, no white balance.
	ForSampling
)

// dcrawBin is the RAW developer looked up on PATH.
const dcrawBin = "dcraw"

var rawSuffixes = map[string]bool{
	"raw": true,
	"arw": true, // Sony
	"nef": true, // Nikon
	"cr2": true, // Canon
	"cr3": true,
	"dng": true,
}

var tifPngSuffixes = map[string]bool{
	"tiff": true,
	"tif":  true,
	"png":  true,
}

// IsRawSuffix reports whether the suffix names a supported vendor RAW format.
func IsRawSuffix(suffix string) bool {
	return rawSuffixes[strings.ToLower(suffix)]
}

// IsTifPngSuffix reports whether the suffix names a directly readable format.
func IsTifPngSuffix(suffix string) bool {
	return tifPngSuffixes[strings.ToLower(suffix)]
}

// Supported reports whether the suffix is decodable at all.
func Supported(suffix string) bool {
	return IsRawSuffix(suffix) || IsTifPngSuffix(suffix)
}

// File decodes the image at path into a BGR mat. The format is taken from
// the file extension. The context cancels a running RAW subprocess.
func File(ctx context.Context, path string, mode Mode) (gocv.Mat, error) {
	suffix := strings.TrimPrefix(filepath.Ext(path), ".")
	switch {
	case IsRawSuffix(suffix):
		return decodeRaw(ctx, path, mode)
	case IsTifPngSuffix(suffix):
		img := gocv.IMRead(path, gocv.IMReadColor)
		if img.Empty() {
			return gocv.Mat{}, fmt.Errorf("decode %s: unreadable or corrupt image", path)
		}
		return img, nil
	default:
		return gocv.Mat{}, fmt.Errorf("decode %s: unsupported format %q (RAW, TIFF or PNG required)", path, suffix)
	}
}

// decodeRaw develops a vendor RAW file through dcraw and decodes the PPM it
// writes to stdout.
func decodeRaw(ctx context.Context, path string, mode Mode) (gocv.Mat, error) {
	args := append(dcrawArgs(mode), path)
	cmd := exec.CommandContext(ctx, dcrawBin, args...)

	out, err := cmd.Output()
	if err != nil {
		if ee, ok := err.(*exec.ExitError); ok && len(ee.Stderr) > 0 {
			return gocv.Mat{}, fmt.Errorf("decode %s: %s: %s", path, dcrawBin, strings.TrimSpace(string(ee.Stderr)))
		}
		return gocv.Mat{}, fmt.Errorf("decode %s: %s: %w", path, dcrawBin, err)
	}

	img, err := gocv.IMDecode(out, gocv.IMReadColor)
	if err != nil {
		return gocv.Mat{}, fmt.Errorf("decode %s: %w", path, err)
	}
	if img.Empty() {
		return gocv.Mat{}, fmt.Errorf("decode %s: %s produced no image", path, dcrawBin)
	}
	return img, nil
}

// dcrawArgs maps a decode mode to dcraw flags. Both modes develop 8-bit
// sRGB to stdout; they differ in brightness and white balance handling.
func dcrawArgs(mode Mode) []string {
	// -c: write PPM to stdout, -o 1: sRGB output space
	args := []string{"-c", "-o", "1"}
	switch mode {
	case ForDetection:
		// -a: white balance from averaging the whole frame; brightness
		// auto-scaling is the dcraw default
		args = append(args, "-a")
	case ForSampling:
		// -W: fixed brightness, no auto scaling; no white balance flags so
		// every frame of a series is developed identically
		args = append(args, "-W")
	}
	return args
}
