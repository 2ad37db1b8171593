// Package card locates a 24-patch color reference card in a photograph,
// samples a color matrix from it, and fits affine color corrections
// between matrices.
package card

import "fmt"

// AdaptiveMethod selects the adaptive threshold flavor used during detection.
type AdaptiveMethod int

const (
	// AdaptiveMean thresholds against the mean of the local block.
	AdaptiveMean AdaptiveMethod = iota
	// AdaptiveGaussian thresholds against a Gaussian-weighted local mean.
	AdaptiveGaussian
)

// Card geometry: 4 rows by 6 columns of patches.
const (
	GridRows   = 4
	GridCols   = 6
	PatchCount = GridRows * GridCols
)

// Config holds the detection tuning scalars. The same Config must be used for
// every image of a run so that corrections stay comparable.
type Config struct {
	AdaptiveMethod AdaptiveMethod // local threshold method
	BlockSize      int            // adaptive-threshold window, odd
	Radius         int            // patch sampling radius in pixels
	MinSize        int            // minimum patch contour area in pixels
}

// DefaultConfig returns the operator defaults, tuned for full-resolution
// camera images with the card filling roughly a tenth of the frame.
func DefaultConfig() Config {
	return Config{
		AdaptiveMethod: AdaptiveMean,
		BlockSize:      101,
		Radius:         50,
		MinSize:        20000,
	}
}

// Validate checks the tuning scalars before any image is touched.
func (c Config) Validate() error {
	if c.AdaptiveMethod != AdaptiveMean && c.AdaptiveMethod != AdaptiveGaussian {
		return fmt.Errorf("adaptive method must be 0 (mean) or 1 (Gaussian), got %d", c.AdaptiveMethod)
	}
	if c.BlockSize < 3 || c.BlockSize%2 == 0 {
		return fmt.Errorf("block size must be an odd integer >= 3, got %d", c.BlockSize)
	}
	if c.Radius <= 0 {
		return fmt.Errorf("sampling radius must be positive, got %d", c.Radius)
	}
	if c.MinSize <= 0 {
		return fmt.Errorf("minimum patch size must be positive, got %d", c.MinSize)
	}
	return nil
}
