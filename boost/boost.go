package boost

import (
	"errors"
	"fmt"
	"math"
	"sort"
)

var (
	// ErrNoData indicates an empty training set.
	ErrNoData = errors.New("boost: no training data")

	// ErrBadParams indicates non-positive rounds, depth or learning rate.
	ErrBadParams = errors.New("boost: invalid parameters")

	// ErrDegenerate is returned when training cannot proceed: a single
	// class, or labels outside {0,1}. Callers are expected to treat this
	// as a soft failure and keep their previous scores.
	ErrDegenerate = errors.New("boost: degenerate training input")
)

// Documented parameter defaults; Params zero values resolve to these.
const (
	DefaultMaxDepth       = 4
	DefaultEta            = 0.3
	DefaultLambda         = 1.0
	DefaultMinChildWeight = 1.0
)

// marginClamp bounds the accumulated margin before the sigmoid; beyond
// this the probability saturates anyway and exp may overflow.
const marginClamp = 30.0

// Params configures training. Zero values fall back to the defaults
// above; Rounds must be set explicitly (or chosen via SelectRounds).
type Params struct {
	Rounds         int
	MaxDepth       int
	Eta            float64
	Lambda         float64
	MinChildWeight float64
	Seed           int64
}

// withDefaults resolves zero values against the documented defaults.
func (p Params) withDefaults() Params {
	if p.MaxDepth == 0 {
		p.MaxDepth = DefaultMaxDepth
	}
	if p.Eta == 0 {
		p.Eta = DefaultEta
	}
	if p.Lambda == 0 {
		p.Lambda = DefaultLambda
	}
	if p.MinChildWeight == 0 {
		p.MinChildWeight = DefaultMinChildWeight
	}

	return p
}

// Model is a trained boosted ensemble.
type Model struct {
	trees []tree
	base  float64
	eta   float64
}

// Train fits a boosted ensemble on X (rows = samples) with binary labels
// y in {0,1}. Returns ErrDegenerate when only one class is present so the
// caller can fall back to its previous scores.
func Train(x [][]float64, y []float64, p Params) (*Model, error) {
	if len(x) == 0 || len(x[0]) == 0 {
		return nil, fmt.Errorf("Train: %w", ErrNoData)
	}
	if len(y) != len(x) {
		return nil, fmt.Errorf("Train: %d labels for %d rows: %w", len(y), len(x), ErrNoData)
	}
	p = p.withDefaults()
	if p.Rounds <= 0 || p.MaxDepth <= 0 || p.Eta <= 0 || p.Eta > 1 {
		return nil, fmt.Errorf("Train: rounds=%d depth=%d eta=%v: %w", p.Rounds, p.MaxDepth, p.Eta, ErrBadParams)
	}
	var pos, neg int
	for _, v := range y {
		switch v {
		case 0:
			neg++
		case 1:
			pos++
		default:
			return nil, fmt.Errorf("Train: label %v: %w", v, ErrDegenerate)
		}
	}
	if pos == 0 || neg == 0 {
		return nil, fmt.Errorf("Train: single-class input: %w", ErrDegenerate)
	}

	n := len(x)
	rate := float64(pos) / float64(n)
	m := &Model{base: logit(rate), eta: p.Eta}

	margin := make([]float64, n)
	for i := range margin {
		margin[i] = m.base
	}
	grad := make([]float64, n)
	hess := make([]float64, n)
	all := make([]int, n)
	for i := range all {
		all[i] = i
	}

	for round := 0; round < p.Rounds; round++ {
		for i := 0; i < n; i++ {
			pr := sigmoid(margin[i])
			grad[i] = pr - y[i]
			hess[i] = pr * (1 - pr)
		}
		tr := buildTree(x, grad, hess, all, p)
		m.trees = append(m.trees, tr)
		for i := 0; i < n; i++ {
			margin[i] += p.Eta * tr.predict(x[i])
		}
	}

	return m, nil
}

// Rounds returns the number of trees in the ensemble.
func (m *Model) Rounds() int { return len(m.trees) }

// Predict returns the doublet probability for one feature row.
func (m *Model) Predict(row []float64) float64 {
	return sigmoid(m.margin(row, len(m.trees)))
}

// PredictAll returns probabilities for every row of x.
func (m *Model) PredictAll(x [][]float64) []float64 {
	out := make([]float64, len(x))
	for i, row := range x {
		out[i] = m.Predict(row)
	}

	return out
}

// margin accumulates base plus the first upto tree contributions.
func (m *Model) margin(row []float64, upto int) float64 {
	s := m.base
	for t := 0; t < upto; t++ {
		s += m.eta * m.trees[t].predict(row)
	}
	if s > marginClamp {
		return marginClamp
	}
	if s < -marginClamp {
		return -marginClamp
	}

	return s
}

// ---------------------------------------------------------------------------
// Regression tree on (grad, hess)

type node struct {
	feature     int
	thresh      float64
	left, right int
	leaf        bool
	weight      float64
}

type tree struct {
	nodes []node
}

// predict walks the tree to a leaf weight.
func (t tree) predict(row []float64) float64 {
	i := 0
	for {
		nd := t.nodes[i]
		if nd.leaf {
			return nd.weight
		}
		if row[nd.feature] < nd.thresh {
			i = nd.left
		} else {
			i = nd.right
		}
	}
}

// buildTree grows an exact-greedy tree on the given sample subset.
func buildTree(x [][]float64, grad, hess []float64, samples []int, p Params) tree {
	t := tree{}
	t.grow(x, grad, hess, samples, p, 0)

	return t
}

// grow appends the subtree for samples and returns its node index.
func (t *tree) grow(x [][]float64, grad, hess []float64, samples []int, p Params, depth int) int {
	var gSum, hSum float64
	for _, i := range samples {
		gSum += grad[i]
		hSum += hess[i]
	}

	leafAt := func() int {
		t.nodes = append(t.nodes, node{leaf: true, weight: -gSum / (hSum + p.Lambda)})

		return len(t.nodes) - 1
	}
	if depth >= p.MaxDepth || len(samples) < 2 {
		return leafAt()
	}

	bestGain := 0.0
	bestFeature := -1
	var bestThresh float64
	parentScore := gSum * gSum / (hSum + p.Lambda)

	nf := len(x[0])
	order := make([]int, len(samples))
	for f := 0; f < nf; f++ {
		copy(order, samples)
		sort.SliceStable(order, func(a, b int) bool { return x[order[a]][f] < x[order[b]][f] })

		var gl, hl float64
		for k := 0; k < len(order)-1; k++ {
			i := order[k]
			gl += grad[i]
			hl += hess[i]
			v, next := x[i][f], x[order[k+1]][f]
			if v == next {
				continue // no boundary between identical values
			}
			hr := hSum - hl
			if hl < p.MinChildWeight || hr < p.MinChildWeight {
				continue
			}
			gr := gSum - gl
			gain := gl*gl/(hl+p.Lambda) + gr*gr/(hr+p.Lambda) - parentScore
			if gain > bestGain {
				bestGain = gain
				bestFeature = f
				bestThresh = (v + next) / 2
			}
		}
	}
	if bestFeature < 0 {
		return leafAt()
	}

	left := make([]int, 0, len(samples))
	right := make([]int, 0, len(samples))
	for _, i := range samples {
		if x[i][bestFeature] < bestThresh {
			left = append(left, i)
		} else {
			right = append(right, i)
		}
	}

	self := len(t.nodes)
	t.nodes = append(t.nodes, node{feature: bestFeature, thresh: bestThresh})
	l := t.grow(x, grad, hess, left, p, depth+1)
	r := t.grow(x, grad, hess, right, p, depth+1)
	t.nodes[self].left = l
	t.nodes[self].right = r

	return self
}

// ---------------------------------------------------------------------------

func sigmoid(v float64) float64 {
	return 1 / (1 + math.Exp(-v))
}

func logit(p float64) float64 {
	const eps = 1e-6
	if p < eps {
		p = eps
	}
	if p > 1-eps {
		p = 1 - eps
	}

	return math.Log(p / (1 - p))
}
