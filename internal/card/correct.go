package card

import (
	"fmt"
	"runtime"
	"sync"

	"gocv.io/x/gocv"
	"gonum.org/v1/gonum/mat"
)

// Correction is an affine color map fit between two matrices: a corrected
// triple is [1 r g b] * M with M a 4x3 coefficient matrix.
type Correction struct {
	M [4][3]float64
}

// FitCorrection solves for the affine map that takes the source matrix
// colors onto the reference matrix colors, by QR least squares over the 24
// patch rows.
func FitCorrection(src, ref Matrix) (Correction, error) {
	A := mat.NewDense(PatchCount, 4, nil)
	B := mat.NewDense(PatchCount, 3, nil)
	for i := 0; i < PatchCount; i++ {
		A.Set(i, 0, 1)
		A.Set(i, 1, src[i][1])
		A.Set(i, 2, src[i][2])
		A.Set(i, 3, src[i][3])

		B.Set(i, 0, ref[i][1])
		B.Set(i, 1, ref[i][2])
		B.Set(i, 2, ref[i][3])
	}

	var qr mat.QR
	qr.Factorize(A)

	var sol mat.Dense
	if err := qr.SolveTo(&sol, false, B); err != nil {
		return Correction{}, fmt.Errorf("correction fit: %w", err)
	}

	var c Correction
	for i := 0; i < 4; i++ {
		for j := 0; j < 3; j++ {
			c.M[i][j] = sol.At(i, j)
		}
	}
	return c, nil
}

// ApplyRGB maps a single RGB triple (0-255 range) through the correction,
// without clamping.
func (c Correction) ApplyRGB(r, g, b float64) (rOut, gOut, bOut float64) {
	rOut = c.M[0][0] + r*c.M[1][0] + g*c.M[2][0] + b*c.M[3][0]
	gOut = c.M[0][1] + r*c.M[1][1] + g*c.M[2][1] + b*c.M[3][1]
	bOut = c.M[0][2] + r*c.M[1][2] + g*c.M[2][2] + b*c.M[3][2]
	return rOut, gOut, bOut
}

// Apply maps every pixel of a BGR mat through the correction and returns a
// new mat, clamped to [0, 255]. The input is left untouched. Work is split
// into horizontal stripes, one per CPU.
func (c Correction) Apply(img gocv.Mat) gocv.Mat {
	h := img.Rows()
	w := img.Cols()
	out := gocv.NewMatWithSize(h, w, gocv.MatTypeCV8UC3)

	numWorkers := runtime.NumCPU()
	rowsPerWorker := (h + numWorkers - 1) / numWorkers

	var wg sync.WaitGroup
	for worker := 0; worker < numWorkers; worker++ {
		startY := worker * rowsPerWorker
		endY := startY + rowsPerWorker
		if endY > h {
			endY = h
		}
		if startY >= h {
			break
		}

		wg.Add(1)
		go func(yStart, yEnd int) {
			defer wg.Done()
			for y := yStart; y < yEnd; y++ {
				for x := 0; x < w; x++ {
					b := float64(img.GetUCharAt(y, x*3+0))
					g := float64(img.GetUCharAt(y, x*3+1))
					r := float64(img.GetUCharAt(y, x*3+2))

					rc, gc, bc := c.ApplyRGB(r, g, b)

					out.SetUCharAt(y, x*3+0, clampByte(bc))
					out.SetUCharAt(y, x*3+1, clampByte(gc))
					out.SetUCharAt(y, x*3+2, clampByte(rc))
				}
			}
		}(startY, endY)
	}
	wg.Wait()

	return out
}

func clampByte(v float64) uint8 {
	if v <= 0 {
		return 0
	}
	if v >= 255 {
		return 255
	}
	return uint8(v + 0.5)
}
