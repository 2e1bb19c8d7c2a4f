package embed

import "gonum.org/v1/gonum/mat"

// ReduceJacobiForTest exposes the fallback projection so tests can compare
// it against the primary SVD path.
func ReduceJacobiForTest(x *mat.Dense, dims int) (*mat.Dense, error) {
	return pcaJacobi(centerColumns(x), dims)
}
