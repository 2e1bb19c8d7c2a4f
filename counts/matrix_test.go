package counts_test

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/semir2/scDblFinder/counts"
)

// TestFromDense_RoundTrip verifies basic shape, At lookups and sparsity.
func TestFromDense_RoundTrip(t *testing.T) {
	m, err := counts.FromDense([][]float64{
		{0, 2, 0, 1},
		{3, 0, 0, 0},
		{0, 0, 0, 0},
	})
	require.NoError(t, err, "valid dense input must build")

	assert.Equal(t, 3, m.Rows(), "row count")
	assert.Equal(t, 4, m.Cols(), "column count")
	assert.Equal(t, 2.0, m.At(0, 1), "stored value")
	assert.Equal(t, 0.0, m.At(0, 2), "implicit zero")
	assert.Equal(t, 3.0, m.At(1, 0), "stored value")

	idx, vals := m.Row(2)
	assert.Empty(t, idx, "all-zero row has no stored indices")
	assert.Empty(t, vals, "all-zero row has no stored values")
}

// TestBuilder_RejectsBadValues ensures negative/NaN/Inf counts error.
func TestBuilder_RejectsBadValues(t *testing.T) {
	b, err := counts.NewBuilder(2)
	require.NoError(t, err)

	assert.ErrorIs(t, b.AppendDense([]float64{-1, 0}), counts.ErrNegativeCount, "negative count")
	assert.ErrorIs(t, b.AppendDense([]float64{math.NaN(), 0}), counts.ErrNegativeCount, "NaN count")
	assert.ErrorIs(t, b.AppendDense([]float64{math.Inf(1), 0}), counts.ErrNegativeCount, "Inf count")
	assert.ErrorIs(t, b.AppendDense([]float64{1}), counts.ErrDimensionMismatch, "short row")
}

// TestAppendSparse_MergesDuplicates checks duplicate gene indices are summed
// and emitted in sorted order.
func TestAppendSparse_MergesDuplicates(t *testing.T) {
	b, err := counts.NewBuilder(5)
	require.NoError(t, err)
	require.NoError(t, b.AppendSparse([]int{3, 1, 3}, []float64{1, 2, 4}))
	m := b.Build()

	assert.Equal(t, 2.0, m.At(0, 1), "single entry kept")
	assert.Equal(t, 5.0, m.At(0, 3), "duplicates summed")
}

// TestLibrarySizesAndDetected verifies per-cell totals and non-zero counts.
func TestLibrarySizesAndDetected(t *testing.T) {
	m, err := counts.FromDense([][]float64{
		{1, 2, 3},
		{0, 0, 4},
	})
	require.NoError(t, err)

	assert.Equal(t, []float64{6, 4}, m.LibrarySizes(), "library sizes")
	assert.Equal(t, []int{3, 1}, m.DetectedFeatures(), "detected features")
}

// TestSumRows_SparseMerge verifies the elementwise parent sum.
func TestSumRows_SparseMerge(t *testing.T) {
	m, err := counts.FromDense([][]float64{
		{1, 0, 2, 0},
		{0, 3, 2, 0},
	})
	require.NoError(t, err)

	idx, vals := m.SumRows(0, 1)
	assert.Equal(t, []int{0, 1, 2}, idx, "union of gene indices")
	assert.Equal(t, []float64{1, 3, 4}, vals, "summed counts")
}

// TestSumRows_Intermediacy checks the monotonic intermediacy law: the
// library-size-normalized sum lies pointwise between the parents'
// normalized values for every gene.
func TestSumRows_Intermediacy(t *testing.T) {
	m, err := counts.FromDense([][]float64{
		{5, 0, 10, 1, 0, 4},
		{0, 8, 2, 1, 6, 0},
	})
	require.NoError(t, err)

	ls := m.LibrarySizes()
	idx, vals := m.SumRows(0, 1)
	sum := make([]float64, m.Cols())
	var sumLS float64
	for k, j := range idx {
		sum[j] = vals[k]
	}
	sumLS = ls[0] + ls[1]

	for j := 0; j < m.Cols(); j++ {
		a := m.At(0, j) / ls[0]
		b := m.At(1, j) / ls[1]
		d := sum[j] / sumLS
		lo, hi := math.Min(a, b), math.Max(a, b)
		assert.GreaterOrEqual(t, d, lo-1e-12, "gene %d below parents", j)
		assert.LessOrEqual(t, d, hi+1e-12, "gene %d above parents", j)
	}
}

// TestSubsetAndVStack verifies gene subsetting, row subsetting and stacking.
func TestSubsetAndVStack(t *testing.T) {
	m, err := counts.FromDense([][]float64{
		{1, 2, 3},
		{4, 5, 6},
	})
	require.NoError(t, err)

	sub, err := m.SubsetGenes([]int{2, 0})
	require.NoError(t, err)
	assert.Equal(t, 2, sub.Cols(), "two genes kept")
	assert.Equal(t, 3.0, sub.At(0, 0), "gene 2 remapped to column 0")
	assert.Equal(t, 1.0, sub.At(0, 1), "gene 0 remapped to column 1")

	_, err = m.SubsetGenes([]int{0, 0})
	assert.ErrorIs(t, err, counts.ErrGeneIndex, "duplicate gene index rejected")

	rows, err := m.SubsetRows([]int{1})
	require.NoError(t, err)
	assert.Equal(t, 1, rows.Rows(), "one row kept")
	assert.Equal(t, 4.0, rows.At(0, 0), "row content preserved")

	st, err := counts.VStack(m, rows)
	require.NoError(t, err)
	assert.Equal(t, 3, st.Rows(), "stacked rows")
	assert.Equal(t, 4.0, st.At(2, 0), "bottom block values")

	short, err := counts.FromDense([][]float64{{1}})
	require.NoError(t, err)
	_, err = counts.VStack(m, short)
	assert.ErrorIs(t, err, counts.ErrDimensionMismatch, "mismatched gene sets rejected")
}

// TestLogNormDense checks normalization against a hand-computed value and
// that empty libraries stay zero.
func TestLogNormDense(t *testing.T) {
	m, err := counts.FromDense([][]float64{
		{2, 2},
		{0, 0},
		{1, 3},
	})
	require.NoError(t, err)

	// Median positive library size = 4, so row 0 scales by 4/4 = 1.
	d := m.LogNormDense(0)
	assert.InDelta(t, math.Log1p(2), d.At(0, 0), 1e-12, "log1p of scaled count")
	assert.Equal(t, 0.0, d.At(1, 0), "empty library stays zero")
	assert.InDelta(t, math.Log1p(3), d.At(2, 1), 1e-12, "row 2 scales by 4/4")
}

// TestSelectFeatures_QuotaAndDeterminism verifies the quota, determinism
// and that marker genes of every cluster are represented.
func TestSelectFeatures_QuotaAndDeterminism(t *testing.T) {
	// Two clusters with disjoint high-expression blocks plus noise genes.
	rows := make([][]float64, 0, 20)
	labels := make([]int, 0, 20)
	for i := 0; i < 10; i++ {
		r := make([]float64, 12)
		r[0], r[1], r[2] = 9, 8, 7 // cluster 0 block
		r[10] = float64(i % 2)     // low-information gene
		rows = append(rows, r)
		labels = append(labels, 0)
	}
	for i := 0; i < 10; i++ {
		r := make([]float64, 12)
		r[5], r[6], r[7] = 9, 8, 7 // cluster 1 block
		r[11] = float64(i % 3)
		rows = append(rows, r)
		labels = append(labels, 1)
	}
	m, err := counts.FromDense(rows)
	require.NoError(t, err)

	sel, err := counts.SelectFeatures(m, labels, 6, 0.5)
	require.NoError(t, err)
	assert.Len(t, sel, 6, "quota respected")

	sel2, err := counts.SelectFeatures(m, labels, 6, 0.5)
	require.NoError(t, err)
	assert.Equal(t, sel, sel2, "deterministic selection")

	has := func(g int) bool {
		for _, j := range sel {
			if j == g {
				return true
			}
		}
		return false
	}
	assert.True(t, has(0), "cluster 0 top marker selected")
	assert.True(t, has(5), "cluster 1 top marker selected")
}

// TestSelectFeatures_SmallGeneSet returns all genes when under quota.
func TestSelectFeatures_SmallGeneSet(t *testing.T) {
	m, err := counts.FromDense([][]float64{{1, 2}, {3, 4}})
	require.NoError(t, err)

	sel, err := counts.SelectFeatures(m, nil, 10, 0.5)
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1}, sel, "all genes kept under quota")
}

// TestCoexpressionScore_DoubletSignal builds two mutually exclusive gene
// programs and checks that a mixed cell scores above the pure cells.
func TestCoexpressionScore_DoubletSignal(t *testing.T) {
	rows := make([][]float64, 0, 41)
	for i := 0; i < 20; i++ {
		rows = append(rows, []float64{5, 4, 3, 0, 0, 0})
	}
	for i := 0; i < 20; i++ {
		rows = append(rows, []float64{0, 0, 0, 5, 4, 3})
	}
	rows = append(rows, []float64{5, 4, 3, 5, 4, 3}) // mixed profile
	m, err := counts.FromDense(rows)
	require.NoError(t, err)

	sc, err := counts.CoexpressionScore(m, 0, 0)
	require.NoError(t, err)
	require.Len(t, sc, 41)

	for i := 0; i < 40; i++ {
		assert.Less(t, sc[i], sc[40], "pure cell %d must score below the mixed cell", i)
	}
	assert.GreaterOrEqual(t, sc[40], 0.0, "score lower bound")
	assert.LessOrEqual(t, sc[40], 1.0, "score upper bound")
}
