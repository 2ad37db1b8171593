package card

import (
	"bufio"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"

	"card-correct/pkg/colorutil"
	"card-correct/pkg/geometry"

	"gocv.io/x/gocv"
)

// Matrix is the sampled color matrix of one card: one row per patch, in
// row-major card order. Columns are [label, R, G, B] with the label
// (i+1)*10 matching the detection mask values and RGB as 0-255 means.
type Matrix [PatchCount][4]float64

// SampleMatrix computes the mean RGB of each patch disc of the detection.
// The image must be the BGR mat the detection geometry refers to.
func SampleMatrix(img gocv.Mat, det *Detection) (Matrix, error) {
	var m Matrix
	if img.Empty() {
		return m, fmt.Errorf("empty input image")
	}

	bounds := geometry.RectInt{Width: img.Cols(), Height: img.Rows()}
	r := det.Radius
	r2 := r * r

	for i, c := range det.Centers {
		cx := int(c.X)
		cy := int(c.Y)

		var sumR, sumG, sumB float64
		var count int
		for dy := -r; dy <= r; dy++ {
			for dx := -r; dx <= r; dx++ {
				if dx*dx+dy*dy > r2 {
					continue
				}
				x := cx + dx
				y := cy + dy
				if !bounds.Contains(x, y) {
					continue
				}
				sumB += float64(img.GetUCharAt(y, x*3+0))
				sumG += float64(img.GetUCharAt(y, x*3+1))
				sumR += float64(img.GetUCharAt(y, x*3+2))
				count++
			}
		}
		if count == 0 {
			return m, fmt.Errorf("patch %d at (%d, %d) lies outside the image", i+1, cx, cy)
		}

		m[i][0] = float64((i + 1) * 10)
		m[i][1] = sumR / float64(count)
		m[i][2] = sumG / float64(count)
		m[i][3] = sumB / float64(count)
	}
	return m, nil
}

// Distance returns the Frobenius distance to another matrix. Labels are
// identical across matrices so only the color columns contribute.
func (m Matrix) Distance(other Matrix) float64 {
	var sum float64
	for i := range m {
		d := colorutil.Dist(m[i][1], m[i][2], m[i][3], other[i][1], other[i][2], other[i][3])
		sum += d * d
	}
	return math.Sqrt(sum)
}

// WriteTSV persists the matrix as tab-separated rows, one per patch.
func (m Matrix) WriteTSV(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("write color matrix: %w", err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	for _, row := range m {
		for j, v := range row {
			if j > 0 {
				if _, err := w.WriteString("\t"); err != nil {
					return err
				}
			}
			if _, err := fmt.Fprintf(w, "%.8e", v); err != nil {
				return err
			}
		}
		if _, err := w.WriteString("\n"); err != nil {
			return err
		}
	}
	return w.Flush()
}

// ReadMatrixTSV loads a matrix previously written by WriteTSV.
func ReadMatrixTSV(path string) (Matrix, error) {
	var m Matrix

	f, err := os.Open(path)
	if err != nil {
		return m, fmt.Errorf("read color matrix: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	row := 0
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if row >= PatchCount {
			return m, fmt.Errorf("%s: more than %d rows", path, PatchCount)
		}
		fields := strings.Split(line, "\t")
		if len(fields) != 4 {
			return m, fmt.Errorf("%s row %d: expected 4 columns, got %d", path, row+1, len(fields))
		}
		for j, field := range fields {
			v, err := strconv.ParseFloat(strings.TrimSpace(field), 64)
			if err != nil {
				return m, fmt.Errorf("%s row %d: %w", path, row+1, err)
			}
			m[row][j] = v
		}
		row++
	}
	if err := scanner.Err(); err != nil {
		return m, fmt.Errorf("read color matrix: %w", err)
	}
	if row != PatchCount {
		return m, fmt.Errorf("%s: expected %d rows, got %d", path, PatchCount, row)
	}
	return m, nil
}
