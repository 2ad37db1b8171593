package card

import (
	"fmt"
	"image"
	"image/png"
	"os"

	"card-correct/internal/imgconv"

	"github.com/disintegration/gift"
)

// reviewMaxWidth bounds the review PNG width; full-resolution overlays are
// too heavy to eyeball in bulk.
const reviewMaxWidth = 1600

// WriteReviewPNG saves the detection overlay as a PNG for manual audit,
// downscaled when wider than the review limit.
func (d *Detection) WriteReviewPNG(path string) error {
	if !d.hasMats {
		return fmt.Errorf("detection carries no overlay")
	}

	img, err := imgconv.ToImage(d.Overlay)
	if err != nil {
		return fmt.Errorf("render review image: %w", err)
	}

	var out image.Image = img
	if img.Bounds().Dx() > reviewMaxWidth {
		g := gift.New(gift.Resize(reviewMaxWidth, 0, gift.LanczosResampling))
		dst := image.NewRGBA(g.Bounds(img.Bounds()))
		g.Draw(dst, img)
		out = dst
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("write review image: %w", err)
	}
	defer f.Close()

	if err := png.Encode(f, out); err != nil {
		return fmt.Errorf("write review image: %w", err)
	}
	return nil
}
