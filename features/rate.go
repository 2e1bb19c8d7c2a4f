package features

import (
	"fmt"
	"sort"

	"github.com/semir2/scDblFinder/synth"
)

// ExpectedOriginCounts computes, for every unordered cluster pair, the
// number of doublets expected from that pair under multinomial pairing:
// pair weight size(i)·size(j) for i≠j, and size(i)²/2 for homotypic pairs
// (same-cluster doublets are statistically under-detectable and carry half
// weight), normalized so the weights total dbr · totalCells.
func ExpectedOriginCounts(sizes map[int]int, dbr float64, totalCells int) (map[synth.Origin]float64, error) {
	if dbr < 0 || dbr > 1 {
		return nil, fmt.Errorf("ExpectedOriginCounts: dbr=%v: %w", dbr, ErrBadInput)
	}
	labels := make([]int, 0, len(sizes))
	for l := range sizes {
		labels = append(labels, l)
	}
	sort.Ints(labels)

	weights := make(map[synth.Origin]float64, len(labels)*(len(labels)+1)/2)
	var total float64
	for a := 0; a < len(labels); a++ {
		for b := a; b < len(labels); b++ {
			w := float64(sizes[labels[a]]) * float64(sizes[labels[b]])
			if a == b {
				w /= 2
			}
			weights[synth.NewOrigin(labels[a], labels[b])] = w
			total += w
		}
	}
	if total == 0 {
		return weights, nil
	}
	budget := dbr * float64(totalCells)
	for o := range weights {
		weights[o] = weights[o] / total * budget
	}

	return weights, nil
}

// AttachOriginRates fills the per-cell expected and observed columns from
// the per-origin expectation map: observed counts real cells assigned to
// each origin, and each cell reads the values of its own assigned origin.
func (t *Table) AttachOriginRates(expected map[synth.Origin]float64) {
	observed := make(map[synth.Origin]int, len(expected))
	for i := 0; i < t.NReal; i++ {
		if !t.Origin[i].Random {
			observed[t.Origin[i]]++
		}
	}
	for i := 0; i < t.N; i++ {
		o := t.Origin[i]
		if o.Random {
			continue
		}
		t.Expected[i] = expected[o]
		t.Observed[i] = float64(observed[o])
	}
}
