package counts

import (
	"fmt"
	"math/bits"
	"sort"
)

// Defaults for the co-expression score. Kept small: the score is an
// auxiliary signal, not the main classifier input.
const (
	// DefaultCoexTopGenes caps the genes considered for pairing, chosen by
	// binarized variance (expression frequency closest to 1/2).
	DefaultCoexTopGenes = 128

	// DefaultCoexPairs caps the retained anti-correlated gene pairs.
	DefaultCoexPairs = 200
)

// CoexpressionScore computes a per-cell doublet signal from binarized
// counts, in the spirit of co-expression based doublet scoring: gene pairs
// that are rarely co-expressed across the population (anti-correlated)
// are selected, and cells co-expressing many such pairs score high —
// a profile mixing two distinct cells lights up mutually exclusive genes.
//
// Stage 1: binarize counts at > 0 into per-gene bitsets.
// Stage 2: keep the topGenes most variable binary genes (freq·(1−freq)).
// Stage 3: weight each pair by expected−observed co-occurrence; keep the
// npairs most under-represented pairs.
// Stage 4: cell score = Σ weight over co-expressed selected pairs,
// normalized to [0, 1] by the maximum attainable weight sum.
//
// topGenes/npairs ≤ 0 select the defaults. Deterministic: stable ordering,
// ties broken by gene index. Complexity: O(g²·n/64) for g kept genes.
func CoexpressionScore(m *Matrix, topGenes, npairs int) ([]float64, error) {
	if m == nil || m.Rows() == 0 || m.Cols() == 0 {
		return nil, fmt.Errorf("CoexpressionScore: %w", ErrEmptyMatrix)
	}
	if topGenes <= 0 {
		topGenes = DefaultCoexTopGenes
	}
	if npairs <= 0 {
		npairs = DefaultCoexPairs
	}
	n, g := m.Rows(), m.Cols()
	if topGenes > g {
		topGenes = g
	}

	// Stage 1: per-gene presence bitsets.
	words := (n + 63) / 64
	presence := make([][]uint64, g)
	freq := make([]float64, g)
	for j := range presence {
		presence[j] = make([]uint64, words)
	}
	for i := 0; i < n; i++ {
		idx, _ := m.Row(i)
		for _, j := range idx {
			presence[j][i/64] |= 1 << uint(i%64)
		}
	}
	for j := 0; j < g; j++ {
		var c int
		for _, w := range presence[j] {
			c += bits.OnesCount64(w)
		}
		freq[j] = float64(c) / float64(n)
	}

	// Stage 2: most variable binary genes.
	order := make([]int, g)
	for j := range order {
		order[j] = j
	}
	sort.SliceStable(order, func(a, b int) bool {
		va := freq[order[a]] * (1 - freq[order[a]])
		vb := freq[order[b]] * (1 - freq[order[b]])
		if va != vb {
			return va > vb
		}

		return order[a] < order[b]
	})
	kept := order[:topGenes]

	// Stage 3: anti-correlated pairs by expected − observed co-occurrence.
	type pair struct {
		a, b int
		w    float64
	}
	pairs := make([]pair, 0, topGenes*(topGenes-1)/2)
	for x := 0; x < len(kept); x++ {
		for y := x + 1; y < len(kept); y++ {
			a, b := kept[x], kept[y]
			var co int
			for wi := 0; wi < words; wi++ {
				co += bits.OnesCount64(presence[a][wi] & presence[b][wi])
			}
			w := float64(n)*freq[a]*freq[b] - float64(co)
			if w > 0 {
				pairs = append(pairs, pair{a: a, b: b, w: w})
			}
		}
	}
	sort.SliceStable(pairs, func(p, q int) bool {
		if pairs[p].w != pairs[q].w {
			return pairs[p].w > pairs[q].w
		}
		if pairs[p].a != pairs[q].a {
			return pairs[p].a < pairs[q].a
		}

		return pairs[p].b < pairs[q].b
	})
	if len(pairs) > npairs {
		pairs = pairs[:npairs]
	}

	// Stage 4: per-cell weighted co-expression, normalized.
	scores := make([]float64, n)
	var maxW float64
	for _, p := range pairs {
		maxW += p.w
		for wi := 0; wi < words; wi++ {
			both := presence[p.a][wi] & presence[p.b][wi]
			for both != 0 {
				bit := bits.TrailingZeros64(both)
				scores[wi*64+bit] += p.w
				both &= both - 1
			}
		}
	}
	if maxW > 0 {
		for i := range scores {
			scores[i] /= maxW
		}
	}

	return scores, nil
}
