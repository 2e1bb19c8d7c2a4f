package features

import (
	"errors"
	"fmt"

	"github.com/semir2/scDblFinder/synth"
)

var (
	// ErrBadInput indicates inconsistent evaluation inputs (lengths, NReal).
	ErrBadInput = errors.New("features: inconsistent input")

	// ErrBadK indicates an empty or non-positive neighbor-count request.
	ErrBadK = errors.New("features: neighbor counts must be positive")
)

// Table is the score table: one row per cell (real rows first, then
// artificial), one parallel slice per engineered feature. Built once by
// Evaluate, optionally joined with per-cell stats, then read-only.
type Table struct {
	N     int // total cells
	NReal int // leading real cells
	Ks    []int

	// Provenance and class.
	Doublet []bool // doublet class: artificial, or known real doublet

	// Neighborhood features.
	DistanceToNearest        []float64
	DistanceToNearestDoublet []float64
	DistanceToNearestReal    []float64
	Ratios                   [][]float64 // Ratios[ki][cell], Ks[ki] neighbors
	Weighted                 []float64

	// Origin assignment.
	Origin          []synth.Origin
	OriginAmbiguous []bool
	Difficulty      []float64
	Expected        []float64
	Observed        []float64

	// Joined per-cell stats.
	LibSize          []float64
	DetectedFeatures []float64
	Coexpression     []float64

	// Outcome columns, filled by the trainer and thresholder.
	Score []float64
	Class []bool

	// Embedding holds each cell's joint-embedding coordinates; read-only
	// once attached.
	Embedding [][]float64
}

// Artificial reports whether row i holds an artificial doublet.
func (t *Table) Artificial(i int) bool { return i >= t.NReal }

// Ratio returns the doublet-neighbor ratio at the largest requested K.
func (t *Table) Ratio() []float64 { return t.Ratios[len(t.Ratios)-1] }

// AttachCellStats joins library sizes, detected-feature counts and the
// co-expression score by cell index. All slices must have length N.
func (t *Table) AttachCellStats(libSize []float64, detected []int, coex []float64) error {
	if len(libSize) != t.N || len(detected) != t.N || len(coex) != t.N {
		return fmt.Errorf("AttachCellStats: want length %d: %w", t.N, ErrBadInput)
	}
	t.LibSize = append([]float64(nil), libSize...)
	t.Coexpression = append([]float64(nil), coex...)
	t.DetectedFeatures = make([]float64, t.N)
	for i, d := range detected {
		t.DetectedFeatures[i] = float64(d)
	}

	return nil
}

// FeatureMatrix assembles the classifier input: one row per cell over the
// engineered feature columns. Identifier, origin-label, ambiguity, score
// and class columns are deliberately excluded. Returns the matrix and the
// column names in order.
func (t *Table) FeatureMatrix() ([][]float64, []string) {
	names := make([]string, 0, len(t.Ks)+9)
	for _, k := range t.Ks {
		names = append(names, fmt.Sprintf("ratio.k%d", k))
	}
	names = append(names,
		"weighted",
		"distanceToNearest",
		"distanceToNearestDoublet",
		"distanceToNearestReal",
		"librarySize",
		"detectedFeatures",
		"coexpression",
		"difficulty",
		"expected",
		"observed",
	)

	x := make([][]float64, t.N)
	for i := 0; i < t.N; i++ {
		row := make([]float64, 0, len(names))
		for ki := range t.Ks {
			row = append(row, t.Ratios[ki][i])
		}
		row = append(row,
			t.Weighted[i],
			t.DistanceToNearest[i],
			t.DistanceToNearestDoublet[i],
			t.DistanceToNearestReal[i],
			at(t.LibSize, i),
			at(t.DetectedFeatures, i),
			at(t.Coexpression, i),
			t.Difficulty[i],
			t.Expected[i],
			t.Observed[i],
		)
		x[i] = row
	}

	return x, names
}

// Labels returns the training class per row: 1 for the doublet class
// (artificial or known), 0 for real singlets.
func (t *Table) Labels() []float64 {
	y := make([]float64, t.N)
	for i := range y {
		if t.Doublet[i] {
			y[i] = 1
		}
	}

	return y
}

// Concat merges per-partition tables into one, preserving the real-first
// row invariant: all partitions' real rows come first (in partition
// order), then all artificial rows. All tables must share the same Ks.
// perm[p][i] gives the output row of table p's row i, so callers can
// scatter merged outcomes back to their partitions.
func Concat(tables []*Table) (out *Table, perm [][]int, err error) {
	if len(tables) == 0 {
		return nil, nil, fmt.Errorf("Concat: %w", ErrBadInput)
	}
	ks := tables[0].Ks
	for _, o := range tables[1:] {
		if len(o.Ks) != len(ks) {
			return nil, nil, fmt.Errorf("Concat: mismatched Ks: %w", ErrBadInput)
		}
		for i := range ks {
			if o.Ks[i] != ks[i] {
				return nil, nil, fmt.Errorf("Concat: mismatched Ks: %w", ErrBadInput)
			}
		}
	}

	out = &Table{Ks: append([]int(nil), ks...)}
	for _, o := range tables {
		out.N += o.N
		out.NReal += o.NReal
	}
	out.alloc(len(ks))

	perm = make([][]int, len(tables))
	realAt, artAt := 0, out.NReal
	for p, o := range tables {
		perm[p] = make([]int, o.N)
		for i := 0; i < o.N; i++ {
			dst := realAt
			if o.Artificial(i) {
				dst = artAt
				artAt++
			} else {
				realAt++
			}
			perm[p][i] = dst
			out.copyRow(dst, o, i)
		}
	}

	return out, perm, nil
}

// alloc sizes every column of the table for N rows and nk ratio columns.
func (t *Table) alloc(nk int) {
	t.Doublet = make([]bool, t.N)
	t.DistanceToNearest = make([]float64, t.N)
	t.DistanceToNearestDoublet = make([]float64, t.N)
	t.DistanceToNearestReal = make([]float64, t.N)
	t.Ratios = make([][]float64, nk)
	for ki := range t.Ratios {
		t.Ratios[ki] = make([]float64, t.N)
	}
	t.Weighted = make([]float64, t.N)
	t.Origin = make([]synth.Origin, t.N)
	t.OriginAmbiguous = make([]bool, t.N)
	t.Difficulty = make([]float64, t.N)
	t.Expected = make([]float64, t.N)
	t.Observed = make([]float64, t.N)
	t.LibSize = make([]float64, t.N)
	t.DetectedFeatures = make([]float64, t.N)
	t.Coexpression = make([]float64, t.N)
	t.Score = make([]float64, t.N)
	t.Class = make([]bool, t.N)
	t.Embedding = make([][]float64, t.N)
}

// copyRow copies row i of src into row dst of t.
func (t *Table) copyRow(dst int, src *Table, i int) {
	t.Doublet[dst] = src.Doublet[i]
	t.DistanceToNearest[dst] = src.DistanceToNearest[i]
	t.DistanceToNearestDoublet[dst] = src.DistanceToNearestDoublet[i]
	t.DistanceToNearestReal[dst] = src.DistanceToNearestReal[i]
	for ki := range t.Ratios {
		t.Ratios[ki][dst] = src.Ratios[ki][i]
	}
	t.Weighted[dst] = src.Weighted[i]
	t.Origin[dst] = src.Origin[i]
	t.OriginAmbiguous[dst] = src.OriginAmbiguous[i]
	t.Difficulty[dst] = src.Difficulty[i]
	t.Expected[dst] = src.Expected[i]
	t.Observed[dst] = src.Observed[i]
	t.LibSize[dst] = at(src.LibSize, i)
	t.DetectedFeatures[dst] = at(src.DetectedFeatures, i)
	t.Coexpression[dst] = at(src.Coexpression, i)
	if src.Embedding != nil {
		t.Embedding[dst] = src.Embedding[i]
	}
}

// at reads xs[i] treating a nil slice as all-zero, so optional joined
// columns degrade to constant features instead of panicking.
func at(xs []float64, i int) float64 {
	if xs == nil {
		return 0
	}

	return xs[i]
}
