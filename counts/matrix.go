package counts

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/mat"
)

var (
	// ErrEmptyMatrix is returned when a matrix with zero rows or columns is
	// required to be non-empty.
	ErrEmptyMatrix = errors.New("counts: matrix is empty")

	// ErrDimensionMismatch indicates incompatible shapes between operands
	// (AppendDense row length, VStack column counts, annotation lengths).
	ErrDimensionMismatch = errors.New("counts: dimension mismatch")

	// ErrNegativeCount signals a negative, NaN or ±Inf count at ingestion.
	ErrNegativeCount = errors.New("counts: counts must be finite and non-negative")

	// ErrGeneIndex indicates a gene (column) index outside [0, Cols).
	ErrGeneIndex = errors.New("counts: gene index out of range")
)

// Matrix is an immutable cell × gene count matrix in CSR layout.
// rowPtr has len rows+1; colIdx/vals hold the non-zeros of row i in
// colIdx[rowPtr[i]:rowPtr[i+1]], sorted by column.
type Matrix struct {
	rows, cols int
	rowPtr     []int
	colIdx     []int
	vals       []float64
}

// Builder accumulates rows for a Matrix. Rows are append-only; Build
// finalizes and the Builder must not be reused afterwards.
type Builder struct {
	cols   int
	rowPtr []int
	colIdx []int
	vals   []float64
}

// NewBuilder returns a Builder for matrices with the given column count.
func NewBuilder(cols int) (*Builder, error) {
	if cols <= 0 {
		return nil, fmt.Errorf("NewBuilder: cols=%d: %w", cols, ErrEmptyMatrix)
	}

	return &Builder{cols: cols, rowPtr: []int{0}}, nil
}

// AppendDense appends one cell row given as a dense slice of counts.
// Zeros are dropped; negative or non-finite values are rejected.
func (b *Builder) AppendDense(row []float64) error {
	if len(row) != b.cols {
		return fmt.Errorf("AppendDense: len=%d want=%d: %w", len(row), b.cols, ErrDimensionMismatch)
	}
	for j, v := range row {
		if v < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("AppendDense: col=%d val=%v: %w", j, v, ErrNegativeCount)
		}
		if v == 0 {
			continue
		}
		b.colIdx = append(b.colIdx, j)
		b.vals = append(b.vals, v)
	}
	b.rowPtr = append(b.rowPtr, len(b.colIdx))

	return nil
}

// AppendSparse appends one cell row given as parallel (gene index, count)
// slices. Indices need not be sorted; duplicates are summed.
func (b *Builder) AppendSparse(idx []int, vals []float64) error {
	if len(idx) != len(vals) {
		return fmt.Errorf("AppendSparse: idx/vals length: %w", ErrDimensionMismatch)
	}
	// Collapse duplicates via a scratch map, then emit in index order.
	merged := make(map[int]float64, len(idx))
	for k, j := range idx {
		if j < 0 || j >= b.cols {
			return fmt.Errorf("AppendSparse: gene=%d: %w", j, ErrGeneIndex)
		}
		v := vals[k]
		if v < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("AppendSparse: gene=%d val=%v: %w", j, v, ErrNegativeCount)
		}
		merged[j] += v
	}
	cols := make([]int, 0, len(merged))
	for j := range merged {
		cols = append(cols, j)
	}
	sort.Ints(cols)
	for _, j := range cols {
		if merged[j] == 0 {
			continue
		}
		b.colIdx = append(b.colIdx, j)
		b.vals = append(b.vals, merged[j])
	}
	b.rowPtr = append(b.rowPtr, len(b.colIdx))

	return nil
}

// Build finalizes the accumulated rows into an immutable Matrix.
func (b *Builder) Build() *Matrix {
	return &Matrix{
		rows:   len(b.rowPtr) - 1,
		cols:   b.cols,
		rowPtr: b.rowPtr,
		colIdx: b.colIdx,
		vals:   b.vals,
	}
}

// FromDense builds a Matrix from dense rows. All rows must share one length.
func FromDense(rows [][]float64) (*Matrix, error) {
	if len(rows) == 0 || len(rows[0]) == 0 {
		return nil, fmt.Errorf("FromDense: %w", ErrEmptyMatrix)
	}
	b, err := NewBuilder(len(rows[0]))
	if err != nil {
		return nil, err
	}
	for i, r := range rows {
		if err = b.AppendDense(r); err != nil {
			return nil, fmt.Errorf("FromDense: row=%d: %w", i, err)
		}
	}

	return b.Build(), nil
}

// Rows returns the number of cells.
func (m *Matrix) Rows() int { return m.rows }

// Cols returns the number of genes.
func (m *Matrix) Cols() int { return m.cols }

// Row returns the non-zero gene indices and counts of cell i as read-only
// views into the backing storage. Callers must not mutate them.
func (m *Matrix) Row(i int) (idx []int, vals []float64) {
	lo, hi := m.rowPtr[i], m.rowPtr[i+1]

	return m.colIdx[lo:hi], m.vals[lo:hi]
}

// At returns the count at (cell i, gene j) via binary search over the row.
func (m *Matrix) At(i, j int) float64 {
	idx, vals := m.Row(i)
	p := sort.SearchInts(idx, j)
	if p < len(idx) && idx[p] == j {
		return vals[p]
	}

	return 0
}

// LibrarySizes returns the total count per cell.
func (m *Matrix) LibrarySizes() []float64 {
	ls := make([]float64, m.rows)
	for i := 0; i < m.rows; i++ {
		_, vals := m.Row(i)
		var s float64
		for _, v := range vals {
			s += v
		}
		ls[i] = s
	}

	return ls
}

// DetectedFeatures returns the number of genes with non-zero counts per cell.
func (m *Matrix) DetectedFeatures() []int {
	nf := make([]int, m.rows)
	for i := 0; i < m.rows; i++ {
		nf[i] = m.rowPtr[i+1] - m.rowPtr[i]
	}

	return nf
}

// SumRows returns the elementwise sum of cells i and j as a sparse row.
// Used to synthesize artificial doublets; no rescaling is applied.
func (m *Matrix) SumRows(i, j int) (idx []int, vals []float64) {
	ai, av := m.Row(i)
	bi, bv := m.Row(j)
	idx = make([]int, 0, len(ai)+len(bi))
	vals = make([]float64, 0, len(ai)+len(bi))
	p, q := 0, 0
	for p < len(ai) && q < len(bi) {
		switch {
		case ai[p] < bi[q]:
			idx = append(idx, ai[p])
			vals = append(vals, av[p])
			p++
		case ai[p] > bi[q]:
			idx = append(idx, bi[q])
			vals = append(vals, bv[q])
			q++
		default:
			idx = append(idx, ai[p])
			vals = append(vals, av[p]+bv[q])
			p++
			q++
		}
	}
	for ; p < len(ai); p++ {
		idx = append(idx, ai[p])
		vals = append(vals, av[p])
	}
	for ; q < len(bi); q++ {
		idx = append(idx, bi[q])
		vals = append(vals, bv[q])
	}

	return idx, vals
}

// SubsetGenes returns a new Matrix keeping only the given gene columns,
// renumbered 0..len(genes)-1 in the given order. Indices must be unique.
func (m *Matrix) SubsetGenes(genes []int) (*Matrix, error) {
	remap := make(map[int]int, len(genes))
	for k, g := range genes {
		if g < 0 || g >= m.cols {
			return nil, fmt.Errorf("SubsetGenes: gene=%d: %w", g, ErrGeneIndex)
		}
		if _, dup := remap[g]; dup {
			return nil, fmt.Errorf("SubsetGenes: duplicate gene=%d: %w", g, ErrGeneIndex)
		}
		remap[g] = k
	}
	b, err := NewBuilder(len(genes))
	if err != nil {
		return nil, fmt.Errorf("SubsetGenes: %w", err)
	}
	ridx := make([]int, 0, 64)
	rval := make([]float64, 0, 64)
	for i := 0; i < m.rows; i++ {
		ridx = ridx[:0]
		rval = rval[:0]
		idx, vals := m.Row(i)
		for k, g := range idx {
			if nj, keep := remap[g]; keep {
				ridx = append(ridx, nj)
				rval = append(rval, vals[k])
			}
		}
		if err = b.AppendSparse(ridx, rval); err != nil {
			return nil, fmt.Errorf("SubsetGenes: row=%d: %w", i, err)
		}
	}

	return b.Build(), nil
}

// SubsetRows returns a new Matrix keeping only the given cell rows, in the
// given order.
func (m *Matrix) SubsetRows(cells []int) (*Matrix, error) {
	b, err := NewBuilder(m.cols)
	if err != nil {
		return nil, fmt.Errorf("SubsetRows: %w", err)
	}
	for _, i := range cells {
		if i < 0 || i >= m.rows {
			return nil, fmt.Errorf("SubsetRows: cell=%d: %w", i, ErrDimensionMismatch)
		}
		idx, vals := m.Row(i)
		if err = b.AppendSparse(idx, vals); err != nil {
			return nil, fmt.Errorf("SubsetRows: cell=%d: %w", i, err)
		}
	}

	return b.Build(), nil
}

// VStack stacks a on top of b. Both must share the same gene set.
func VStack(a, b *Matrix) (*Matrix, error) {
	if a.cols != b.cols {
		return nil, fmt.Errorf("VStack: cols %d vs %d: %w", a.cols, b.cols, ErrDimensionMismatch)
	}
	out := &Matrix{
		rows:   a.rows + b.rows,
		cols:   a.cols,
		rowPtr: make([]int, 0, a.rows+b.rows+1),
		colIdx: make([]int, 0, len(a.colIdx)+len(b.colIdx)),
		vals:   make([]float64, 0, len(a.vals)+len(b.vals)),
	}
	out.rowPtr = append(out.rowPtr, a.rowPtr...)
	out.colIdx = append(out.colIdx, a.colIdx...)
	out.vals = append(out.vals, a.vals...)
	shift := len(a.colIdx)
	for _, p := range b.rowPtr[1:] {
		out.rowPtr = append(out.rowPtr, p+shift)
	}
	out.colIdx = append(out.colIdx, b.colIdx...)
	out.vals = append(out.vals, b.vals...)

	return out, nil
}

// LogNormDense returns log1p(count / librarySize * target) as a dense
// cells × genes matrix. A target ≤ 0 selects the median library size.
// Cells with an empty library are left as zero rows.
func (m *Matrix) LogNormDense(target float64) *mat.Dense {
	ls := m.LibrarySizes()
	if target <= 0 {
		target = medianPositive(ls)
	}
	out := mat.NewDense(m.rows, m.cols, nil)
	for i := 0; i < m.rows; i++ {
		if ls[i] == 0 {
			continue
		}
		f := target / ls[i]
		idx, vals := m.Row(i)
		for k, j := range idx {
			out.Set(i, j, math.Log1p(vals[k]*f))
		}
	}

	return out
}

// GeneLogStats returns the per-gene mean and variance of the log-normalized
// counts (including implicit zeros). Used by feature selection.
func (m *Matrix) GeneLogStats(target float64) (means, vars []float64) {
	ls := m.LibrarySizes()
	if target <= 0 {
		target = medianPositive(ls)
	}
	sum := make([]float64, m.cols)
	sumSq := make([]float64, m.cols)
	for i := 0; i < m.rows; i++ {
		if ls[i] == 0 {
			continue
		}
		f := target / ls[i]
		idx, vals := m.Row(i)
		for k, j := range idx {
			v := math.Log1p(vals[k] * f)
			sum[j] += v
			sumSq[j] += v * v
		}
	}
	n := float64(m.rows)
	means = make([]float64, m.cols)
	vars = make([]float64, m.cols)
	for j := 0; j < m.cols; j++ {
		mu := sum[j] / n
		means[j] = mu
		vars[j] = sumSq[j]/n - mu*mu
		if vars[j] < 0 { // numeric guard
			vars[j] = 0
		}
	}

	return means, vars
}

// medianPositive returns the median of the positive entries of xs, or 1
// when none exist.
func medianPositive(xs []float64) float64 {
	pos := make([]float64, 0, len(xs))
	for _, v := range xs {
		if v > 0 {
			pos = append(pos, v)
		}
	}
	if len(pos) == 0 {
		return 1
	}
	sort.Float64s(pos)
	h := len(pos) / 2
	if len(pos)%2 == 1 {
		return pos[h]
	}

	return (pos[h-1] + pos[h]) / 2
}
