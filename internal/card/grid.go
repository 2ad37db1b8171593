package card

import (
	"fmt"
	"math"
	"sort"

	"card-correct/pkg/geometry"

	"gonum.org/v1/gonum/mat"
)

// gridPoint is a candidate patch center with its assigned grid cell.
type gridPoint struct {
	pt  geometry.Point2D
	row int
	col int
}

// assignGrid projects candidate patch centers onto the card's principal axes
// and assigns each one a row/column cell. The long axis of the point cloud is
// taken as the column direction (6 columns vs 4 rows). Duplicate cells keep
// the first candidate.
func assignGrid(centers []geometry.Point2D) ([]gridPoint, error) {
	if len(centers) < PatchCount/2 {
		return nil, fmt.Errorf("only %d patch candidates, need at least %d", len(centers), PatchCount/2)
	}

	// Centroid and 2x2 covariance of the candidate cloud
	var cx, cy float64
	for _, p := range centers {
		cx += p.X
		cy += p.Y
	}
	cx /= float64(len(centers))
	cy /= float64(len(centers))

	var sxx, sxy, syy float64
	for _, p := range centers {
		dx := p.X - cx
		dy := p.Y - cy
		sxx += dx * dx
		sxy += dx * dy
		syy += dy * dy
	}

	// Principal axis of the larger eigenvalue = the card's long (column) axis
	theta := 0.5 * math.Atan2(2*sxy, sxx-syy)
	u := geometry.Point2D{X: math.Cos(theta), Y: math.Sin(theta)}
	if u.X < 0 || (u.X == 0 && u.Y < 0) {
		u = u.Scale(-1)
	}
	v := geometry.Point2D{X: -u.Y, Y: u.X}
	if v.Y < 0 {
		v = v.Scale(-1)
	}

	us := make([]float64, len(centers))
	vs := make([]float64, len(centers))
	for i, p := range centers {
		d := p.Sub(geometry.Point2D{X: cx, Y: cy})
		us[i] = d.Dot(u)
		vs[i] = d.Dot(v)
	}

	cols, err := bucketIndices(us, GridCols)
	if err != nil {
		return nil, fmt.Errorf("column layout: %w", err)
	}
	rows, err := bucketIndices(vs, GridRows)
	if err != nil {
		return nil, fmt.Errorf("row layout: %w", err)
	}

	seen := make(map[[2]int]bool)
	rowsSeen := make(map[int]bool)
	colsSeen := make(map[int]bool)
	var points []gridPoint
	for i := range centers {
		cell := [2]int{rows[i], cols[i]}
		if seen[cell] {
			continue
		}
		seen[cell] = true
		rowsSeen[rows[i]] = true
		colsSeen[cols[i]] = true
		points = append(points, gridPoint{pt: centers[i], row: rows[i], col: cols[i]})
	}

	if len(points) < PatchCount/2 {
		return nil, fmt.Errorf("only %d distinct grid cells from %d candidates", len(points), len(centers))
	}
	if len(rowsSeen) < 2 || len(colsSeen) < 2 {
		return nil, fmt.Errorf("degenerate layout: %d rows, %d cols", len(rowsSeen), len(colsSeen))
	}
	return points, nil
}

// bucketIndices maps 1D projections onto integer grid indices in [0, n),
// assuming the extreme grid lines are represented in the values.
func bucketIndices(values []float64, n int) ([]int, error) {
	minV, maxV := values[0], values[0]
	for _, v := range values[1:] {
		minV = math.Min(minV, v)
		maxV = math.Max(maxV, v)
	}
	span := maxV - minV
	if span <= 0 {
		return nil, fmt.Errorf("all candidates collapse onto one grid line")
	}
	step := span / float64(n-1)

	idx := make([]int, len(values))
	for i, v := range values {
		k := int(math.Round((v - minV) / step))
		if k < 0 || k >= n {
			return nil, fmt.Errorf("candidate falls outside the %d-line grid", n)
		}
		idx[i] = k
	}
	return idx, nil
}

// fitGrid solves center = origin + col*colStep + row*rowStep by least squares
// over the assigned candidates and returns all 24 predicted centers in
// row-major order, plus the mean residual in pixels.
func fitGrid(points []gridPoint) ([PatchCount]geometry.Point2D, float64, error) {
	var centers [PatchCount]geometry.Point2D
	if len(points) < 3 {
		return centers, 0, fmt.Errorf("need at least 3 assigned patches, got %d", len(points))
	}

	// Overdetermined system in (originX, colStepX, rowStepX, originY, colStepY, rowStepY)
	n := len(points)
	A := mat.NewDense(n*2, 6, nil)
	B := mat.NewVecDense(n*2, nil)
	for i, gp := range points {
		c := float64(gp.col)
		r := float64(gp.row)

		A.Set(i*2, 0, 1)
		A.Set(i*2, 1, c)
		A.Set(i*2, 2, r)
		B.SetVec(i*2, gp.pt.X)

		A.Set(i*2+1, 3, 1)
		A.Set(i*2+1, 4, c)
		A.Set(i*2+1, 5, r)
		B.SetVec(i*2+1, gp.pt.Y)
	}

	var qr mat.QR
	qr.Factorize(A)

	var params mat.VecDense
	if err := qr.SolveVecTo(&params, false, B); err != nil {
		return centers, 0, fmt.Errorf("grid fit: %w", err)
	}

	origin := geometry.Point2D{X: params.AtVec(0), Y: params.AtVec(3)}
	colStep := geometry.Point2D{X: params.AtVec(1), Y: params.AtVec(4)}
	rowStep := geometry.Point2D{X: params.AtVec(2), Y: params.AtVec(5)}

	for r := 0; r < GridRows; r++ {
		for c := 0; c < GridCols; c++ {
			centers[r*GridCols+c] = origin.
				Add(colStep.Scale(float64(c))).
				Add(rowStep.Scale(float64(r)))
		}
	}

	var residual float64
	for _, gp := range points {
		residual += gp.pt.Distance(centers[gp.row*GridCols+gp.col])
	}
	residual /= float64(len(points))

	return centers, residual, nil
}

// sortGridPoints orders points row-major; useful for deterministic logs.
func sortGridPoints(points []gridPoint) {
	sort.Slice(points, func(i, j int) bool {
		if points[i].row != points[j].row {
			return points[i].row < points[j].row
		}
		return points[i].col < points[j].col
	})
}
