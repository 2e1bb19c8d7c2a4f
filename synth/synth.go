package synth

import (
	"errors"
	"fmt"
	"math/rand"
	"sort"

	"github.com/semir2/scDblFinder/counts"
)

var (
	// ErrInsufficientClusters is returned when fewer than two clusters are
	// available: inter-cluster doublets cannot be synthesized.
	ErrInsufficientClusters = errors.New("synth: at least two clusters are required")

	// ErrBadProportion indicates propRandom outside [0, 1].
	ErrBadProportion = errors.New("synth: proportion must be in [0,1]")

	// ErrLabelMismatch indicates the label vector does not match the matrix.
	ErrLabelMismatch = errors.New("synth: labels must match matrix rows")
)

// coveragePerPairSq is the per-C² floor on generated doublets: with C
// clusters at least coveragePerPairSq·C² synthetics are produced.
const coveragePerPairSq = 10

// Origin identifies the parent-cluster pair of an artificial doublet.
// The pair is unordered and stored canonically with A ≤ B. Random is set
// when the parents were drawn uniformly, ignoring clusters.
type Origin struct {
	A, B   int
	Random bool
}

// NewOrigin returns the canonical unordered origin for cluster labels a, b.
func NewOrigin(a, b int) Origin {
	if b < a {
		a, b = b, a
	}

	return Origin{A: a, B: b}
}

// RandomOrigin marks parents drawn without cluster guidance.
func RandomOrigin() Origin { return Origin{A: -1, B: -1, Random: true} }

// String renders "a+b", or "random" for cluster-ignoring origins.
func (o Origin) String() string {
	if o.Random {
		return "random"
	}

	return fmt.Sprintf("%d+%d", o.A, o.B)
}

// Generate synthesizes approximately target artificial doublets from the
// real cells in m with the given cluster labels. A propRandom fraction
// pairs two uniformly random cells; the remainder pairs cells across
// different clusters, stratified over all pairs. Returns the synthetic
// count matrix and the same-length origin vector.
//
// The effective count is max(target, 10·C²) so every pair combination
// receives adequate synthetic support. With fewer than two clusters the
// generator fails with ErrInsufficientClusters.
func Generate(m *counts.Matrix, labels []int, target int, propRandom float64, rng *rand.Rand) (*counts.Matrix, []Origin, error) {
	if m == nil || m.Rows() == 0 {
		return nil, nil, fmt.Errorf("Generate: %w", counts.ErrEmptyMatrix)
	}
	if len(labels) != m.Rows() {
		return nil, nil, fmt.Errorf("Generate: labels=%d rows=%d: %w", len(labels), m.Rows(), ErrLabelMismatch)
	}
	if propRandom < 0 || propRandom > 1 {
		return nil, nil, fmt.Errorf("Generate: propRandom=%v: %w", propRandom, ErrBadProportion)
	}

	members, order := membersByCluster(labels)
	c := len(order)
	if c < 2 {
		return nil, nil, fmt.Errorf("Generate: %d cluster(s): %w", c, ErrInsufficientClusters)
	}

	n := target
	if floor := coveragePerPairSq * c * c; n < floor {
		n = floor
	}
	nRandom := int(propRandom*float64(n) + 0.5)
	nInter := n - nRandom

	// Allocate the inter-cluster share over all unordered pairs,
	// proportional to the product of cluster sizes, floor one per pair.
	type pairAlloc struct {
		a, b  int // cluster labels
		count int
	}
	pairs := make([]pairAlloc, 0, c*(c-1)/2)
	var totalW float64
	for i := 0; i < c; i++ {
		for j := i + 1; j < c; j++ {
			w := float64(len(members[order[i]]) * len(members[order[j]]))
			pairs = append(pairs, pairAlloc{a: order[i], b: order[j]})
			totalW += w
		}
	}
	assigned := 0
	for k := range pairs {
		w := float64(len(members[pairs[k].a]) * len(members[pairs[k].b]))
		cnt := int(float64(nInter) * w / totalW)
		if cnt < 1 {
			cnt = 1
		}
		pairs[k].count = cnt
		assigned += cnt
	}
	// Distribute the rounding remainder cyclically over the pairs.
	for k := 0; assigned < nInter; k = (k + 1) % len(pairs) {
		pairs[k].count++
		assigned++
	}

	b, err := counts.NewBuilder(m.Cols())
	if err != nil {
		return nil, nil, fmt.Errorf("Generate: %w", err)
	}
	origins := make([]Origin, 0, assigned+nRandom)

	for _, p := range pairs {
		ma, mb := members[p.a], members[p.b]
		for k := 0; k < p.count; k++ {
			pi := ma[rng.Intn(len(ma))]
			pj := mb[rng.Intn(len(mb))]
			idx, vals := m.SumRows(pi, pj)
			if err = b.AppendSparse(idx, vals); err != nil {
				return nil, nil, fmt.Errorf("Generate: %w", err)
			}
			origins = append(origins, NewOrigin(p.a, p.b))
		}
	}
	for k := 0; k < nRandom; k++ {
		pi := rng.Intn(m.Rows())
		pj := rng.Intn(m.Rows())
		for pj == pi && m.Rows() > 1 {
			pj = rng.Intn(m.Rows())
		}
		idx, vals := m.SumRows(pi, pj)
		if err = b.AppendSparse(idx, vals); err != nil {
			return nil, nil, fmt.Errorf("Generate: %w", err)
		}
		origins = append(origins, RandomOrigin())
	}

	return b.Build(), origins, nil
}

// membersByCluster groups cell indices by label; order lists labels by
// first appearance for deterministic pair iteration.
func membersByCluster(labels []int) (map[int][]int, []int) {
	members := make(map[int][]int, 8)
	order := make([]int, 0, 8)
	for i, l := range labels {
		if _, ok := members[l]; !ok {
			order = append(order, l)
		}
		members[l] = append(members[l], i)
	}
	sort.Ints(order)

	return members, order
}
