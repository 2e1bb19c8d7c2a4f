package embed

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

var (
	// ErrEmptyInput indicates a matrix with fewer than two rows or no columns.
	ErrEmptyInput = errors.New("embed: at least two rows and one column required")

	// ErrBadDims indicates a non-positive requested dimensionality.
	ErrBadDims = errors.New("embed: dims must be > 0")

	// ErrEigenFailed is returned when the Jacobi fallback does not converge
	// either; the embedding cannot be computed.
	ErrEigenFailed = errors.New("embed: eigen decomposition did not converge")
)

// Jacobi sweep bounds for the fallback routine.
const (
	jacobiTol     = 1e-10
	jacobiMaxIter = 200
)

// Reduce projects x (rows = cells, columns = genes) onto its top principal
// components and returns an rows × dims coordinate matrix. dims is clipped
// to the attainable rank bound min(cols, rows−1).
//
// The returned flag is true when the SVD-based primary routine failed and
// the covariance + Jacobi fallback produced the embedding instead.
func Reduce(x *mat.Dense, dims int) (*mat.Dense, bool, error) {
	if x == nil {
		return nil, false, fmt.Errorf("Reduce: %w", ErrEmptyInput)
	}
	n, d := x.Dims()
	if n < 2 || d < 1 {
		return nil, false, fmt.Errorf("Reduce: %dx%d: %w", n, d, ErrEmptyInput)
	}
	if dims <= 0 {
		return nil, false, fmt.Errorf("Reduce: dims=%d: %w", dims, ErrBadDims)
	}
	if dims > d {
		dims = d
	}
	if dims > n-1 {
		dims = n - 1
	}

	centered := centerColumns(x)

	if proj, err := pcaSVD(x, centered, dims); err == nil {
		return proj, false, nil
	}

	proj, err := pcaJacobi(centered, dims)
	if err != nil {
		return nil, true, fmt.Errorf("Reduce: %w", err)
	}

	return proj, true, nil
}

// pcaSVD runs gonum's principal component analysis and projects the
// centered data onto the top dims direction vectors.
func pcaSVD(x, centered *mat.Dense, dims int) (*mat.Dense, error) {
	var pc stat.PC
	if ok := pc.PrincipalComponents(x, nil); !ok {
		return nil, ErrEigenFailed
	}
	var vec mat.Dense
	pc.VectorsTo(&vec)

	n, _ := centered.Dims()
	vr, vc := vec.Dims()
	if vc < dims {
		dims = vc
	}
	proj := mat.NewDense(n, dims, nil)
	proj.Mul(centered, vec.Slice(0, vr, 0, dims))

	return proj, nil
}

// pcaJacobi is the fallback: an explicit covariance matrix diagonalized by
// cyclic Jacobi rotations (largest off-diagonal pivot), eigenpairs sorted
// by descending eigenvalue, then projection of the centered data.
func pcaJacobi(centered *mat.Dense, dims int) (*mat.Dense, error) {
	n, d := centered.Dims()

	// Sample covariance of columns: centeredᵀ·centered / (n−1).
	cov := make([][]float64, d)
	for i := range cov {
		cov[i] = make([]float64, d)
	}
	for r := 0; r < n; r++ {
		row := centered.RawRowView(r)
		for i := 0; i < d; i++ {
			if row[i] == 0 {
				continue
			}
			for j := i; j < d; j++ {
				cov[i][j] += row[i] * row[j]
			}
		}
	}
	inv := 1 / float64(n-1)
	for i := 0; i < d; i++ {
		for j := i; j < d; j++ {
			cov[i][j] *= inv
			cov[j][i] = cov[i][j]
		}
	}

	vals, vecs, err := jacobiEigen(cov)
	if err != nil {
		return nil, err
	}

	// Order eigenpairs by descending eigenvalue; ties by index.
	order := make([]int, d)
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool { return vals[order[a]] > vals[order[b]] })

	proj := mat.NewDense(n, dims, nil)
	for r := 0; r < n; r++ {
		row := centered.RawRowView(r)
		for k := 0; k < dims; k++ {
			col := order[k]
			var s float64
			for j := 0; j < d; j++ {
				s += row[j] * vecs[j][col]
			}
			proj.Set(r, k, s)
		}
	}

	return proj, nil
}

// jacobiEigen diagonalizes the symmetric matrix a in place by Jacobi
// rotations on the largest off-diagonal element. Returns eigenvalues and
// the accumulated rotation matrix (eigenvectors in columns).
func jacobiEigen(a [][]float64) ([]float64, [][]float64, error) {
	d := len(a)
	q := make([][]float64, d)
	for i := range q {
		q[i] = make([]float64, d)
		q[i][i] = 1
	}

	for iter := 0; iter < jacobiMaxIter*d; iter++ {
		// Locate the dominant off-diagonal element.
		p, r, maxOff := 0, 1, 0.0
		for i := 0; i < d; i++ {
			for j := i + 1; j < d; j++ {
				if off := math.Abs(a[i][j]); off > maxOff {
					p, r, maxOff = i, j, off
				}
			}
		}
		if maxOff < jacobiTol {
			vals := make([]float64, d)
			for i := 0; i < d; i++ {
				vals[i] = a[i][i]
			}

			return vals, q, nil
		}

		// Rotation angle zeroing a[p][r].
		theta := (a[r][r] - a[p][p]) / (2 * a[p][r])
		t := math.Copysign(1, theta) / (math.Abs(theta) + math.Sqrt(theta*theta+1))
		c := 1 / math.Sqrt(t*t+1)
		s := t * c

		app, arr, apr := a[p][p], a[r][r], a[p][r]
		a[p][p] = c*c*app - 2*s*c*apr + s*s*arr
		a[r][r] = s*s*app + 2*s*c*apr + c*c*arr
		a[p][r] = 0
		a[r][p] = 0
		for i := 0; i < d; i++ {
			if i == p || i == r {
				continue
			}
			aip, air := a[i][p], a[i][r]
			a[i][p] = c*aip - s*air
			a[p][i] = a[i][p]
			a[i][r] = s*aip + c*air
			a[r][i] = a[i][r]
		}
		for i := 0; i < d; i++ {
			qip, qir := q[i][p], q[i][r]
			q[i][p] = c*qip - s*qir
			q[i][r] = s*qip + c*qir
		}
	}

	return nil, nil, ErrEigenFailed
}

// centerColumns returns a copy of x with the per-column mean subtracted.
func centerColumns(x *mat.Dense) *mat.Dense {
	n, d := x.Dims()
	means := make([]float64, d)
	for r := 0; r < n; r++ {
		row := x.RawRowView(r)
		for j, v := range row {
			means[j] += v
		}
	}
	for j := range means {
		means[j] /= float64(n)
	}
	out := mat.NewDense(n, d, nil)
	for r := 0; r < n; r++ {
		row := x.RawRowView(r)
		dst := out.RawRowView(r)
		for j, v := range row {
			dst[j] = v - means[j]
		}
	}

	return out
}

// Rows converts an embedding matrix into per-cell coordinate slices
// (views into the backing array; callers must treat them as read-only).
func Rows(e *mat.Dense) [][]float64 {
	n, _ := e.Dims()
	rows := make([][]float64, n)
	for i := 0; i < n; i++ {
		rows[i] = e.RawRowView(i)
	}

	return rows
}
