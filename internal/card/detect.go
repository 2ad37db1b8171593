package card

import (
	"errors"
	"fmt"
	"image"
	"image/color"

	"card-correct/pkg/colorutil"
	"card-correct/pkg/geometry"

	"gocv.io/x/gocv"
)

// ErrCardNotFound reports that no usable 4x6 patch grid was found.
var ErrCardNotFound = errors.New("color card not found")

// Detection holds the fitted patch grid for one image. Centers are in
// row-major card order (top-left patch first). Mask labels the sampled
// discs with (patch index + 1) * 10; Overlay is a BGR render for review.
type Detection struct {
	Centers  [PatchCount]geometry.Point2D
	Radius   int
	Residual float64 // mean grid-fit residual in pixels
	Mask     gocv.Mat
	Overlay  gocv.Mat

	hasMats bool
}

// Close releases the detection's mats. Safe to call on flipped readings.
func (d *Detection) Close() {
	if !d.hasMats {
		return
	}
	d.Mask.Close()
	d.Overlay.Close()
	d.hasMats = false
}

// FlipUD returns the upside-down reading of the same grid: the card rotated
// 180 degrees, so patch i is read at position PatchCount-1-i. The returned
// detection shares no mats and needs no Close.
func (d *Detection) FlipUD() *Detection {
	out := &Detection{Radius: d.Radius, Residual: d.Residual}
	for i, c := range d.Centers {
		out.Centers[PatchCount-1-i] = c
	}
	return out
}

// DetectCard locates the color card in a BGR image and fits the 4x6 patch
// grid. Patch candidates come from an adaptive threshold and contour pass;
// the full grid is recovered by least squares so that a few missed patches
// do not fail the detection.
func DetectCard(img gocv.Mat, cfg Config) (*Detection, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if img.Empty() {
		return nil, fmt.Errorf("empty input image")
	}

	candidates := patchCandidates(img, cfg)
	if len(candidates) == 0 {
		return nil, fmt.Errorf("%w: no patch candidates above %d px", ErrCardNotFound, cfg.MinSize)
	}

	points, err := assignGrid(candidates)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCardNotFound, err)
	}
	sortGridPoints(points)

	centers, residual, err := fitGrid(points)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCardNotFound, err)
	}

	det := &Detection{
		Centers:  centers,
		Radius:   cfg.Radius,
		Residual: residual,
		hasMats:  true,
	}
	det.Mask = renderMask(img.Rows(), img.Cols(), det)
	det.Overlay = renderOverlay(img, det, points)
	return det, nil
}

// patchCandidates returns the centers of near-square contours large enough
// to be card patches.
func patchCandidates(img gocv.Mat, cfg Config) []geometry.Point2D {
	gray := gocv.NewMat()
	defer gray.Close()
	gocv.CvtColor(img, &gray, gocv.ColorBGRToGray)

	blurred := gocv.NewMat()
	defer blurred.Close()
	gocv.GaussianBlur(gray, &blurred, image.Point{X: 5, Y: 5}, 0, 0, gocv.BorderDefault)

	method := gocv.AdaptiveThresholdMean
	if cfg.AdaptiveMethod == AdaptiveGaussian {
		method = gocv.AdaptiveThresholdGaussian
	}
	binary := gocv.NewMat()
	defer binary.Close()
	gocv.AdaptiveThreshold(blurred, &binary, 255, method, gocv.ThresholdBinaryInv, cfg.BlockSize, 10)

	// Knock out threshold noise before contour extraction
	kernel := gocv.GetStructuringElement(gocv.MorphRect, image.Point{X: 3, Y: 3})
	defer kernel.Close()
	gocv.MorphologyEx(binary, &binary, gocv.MorphOpen, kernel)

	contours := gocv.FindContours(binary, gocv.RetrievalExternal, gocv.ChainApproxSimple)
	defer contours.Close()

	var centers []geometry.Point2D
	for i := 0; i < contours.Size(); i++ {
		contour := contours.At(i)
		area := gocv.ContourArea(contour)
		if area < float64(cfg.MinSize) {
			continue
		}

		approx := gocv.ApproxPolyDP(contour, 0.05*gocv.ArcLength(contour, true), true)
		corners := approx.Size()
		approx.Close()
		if corners != 4 {
			continue
		}

		bounds := gocv.BoundingRect(contour)
		rect := geometry.RectInt{X: bounds.Min.X, Y: bounds.Min.Y, Width: bounds.Dx(), Height: bounds.Dy()}
		if rect.Width == 0 || rect.Height == 0 {
			continue
		}
		aspect := float64(rect.Width) / float64(rect.Height)
		if aspect < 0.6 || aspect > 1.67 {
			continue
		}
		// Squares fill their bounding rect; thin L-shaped noise does not
		if area/float64(rect.Width*rect.Height) < 0.65 {
			continue
		}

		centers = append(centers, rect.Center())
	}
	return centers
}

// renderMask builds the labeled sampling mask: a filled disc of value
// (i+1)*10 per patch, zero elsewhere.
func renderMask(rows, cols int, det *Detection) gocv.Mat {
	mask := gocv.NewMatWithSize(rows, cols, gocv.MatTypeCV8U)
	for i, c := range det.Centers {
		label := uint8((i + 1) * 10)
		gocv.Circle(&mask, image.Point{X: int(c.X), Y: int(c.Y)},
			det.Radius, color.RGBA{R: label, G: label, B: label, A: 255}, -1)
	}
	return mask
}

// renderOverlay draws the fitted grid onto a copy of the input image:
// green circles for fitted sampling discs, magenta dots for the raw
// candidates, and the patch index next to each disc.
func renderOverlay(img gocv.Mat, det *Detection, points []gridPoint) gocv.Mat {
	overlay := img.Clone()
	for i, c := range det.Centers {
		pt := image.Point{X: int(c.X), Y: int(c.Y)}
		gocv.Circle(&overlay, pt, det.Radius, colorutil.Green, 3)
		gocv.PutText(&overlay, fmt.Sprintf("%d", i+1),
			image.Point{X: pt.X + det.Radius, Y: pt.Y},
			gocv.FontHersheySimplex, 1.2, colorutil.Yellow, 2)
	}
	for _, gp := range points {
		gocv.Circle(&overlay, image.Point{X: int(gp.pt.X), Y: int(gp.pt.Y)},
			6, colorutil.Magenta, -1)
	}
	return overlay
}
