package features

import (
	"fmt"
	"math"
	"sort"

	"github.com/semir2/scDblFinder/knn"
	"github.com/semir2/scDblFinder/synth"
)

// ambiguityMargin flags the origin assignment as ambiguous when the
// runner-up origin reaches this fraction of the winner's neighbor count.
const ambiguityMargin = 0.8

// Input carries the joint embedding and annotations for one evaluation.
// Rows 0..NReal-1 are real cells; the remaining rows are artificial
// doublets with Origins[i-NReal] recording their parent-cluster pair.
// Known optionally flags pre-labeled real doublets (length NReal); they
// join the doublet class for neighbor accounting and training.
type Input struct {
	Embedding [][]float64
	NReal     int
	Origins   []synth.Origin
	Known     []bool
	Ks        []int
}

// Evaluate builds the neighborhood score table for all cells.
//
// Stage 1 (Validate): shape checks, K list normalized (sorted, unique,
// clipped to N−1).
// Stage 2 (Search): exact KNN at the largest K over the joint embedding.
// Stage 3 (Derive): per-cell features exactly as documented on Table;
// zero first-neighbor distances are replaced by the smallest non-zero
// first-neighbor distance observed; missing per-class neighbors are capped
// at twice the maximum first-neighbor distance.
// Stage 4 (Origins): most-likely origin per cell from artificial
// neighbors, per-origin difficulty from the weighted score of artificial
// doublets sharing that origin.
func Evaluate(in Input) (*Table, error) {
	n := len(in.Embedding)
	if n == 0 || in.NReal <= 0 || in.NReal >= n {
		return nil, fmt.Errorf("Evaluate: n=%d nReal=%d: %w", n, in.NReal, ErrBadInput)
	}
	if len(in.Origins) != n-in.NReal {
		return nil, fmt.Errorf("Evaluate: origins=%d want=%d: %w", len(in.Origins), n-in.NReal, ErrBadInput)
	}
	if in.Known != nil && len(in.Known) != in.NReal {
		return nil, fmt.Errorf("Evaluate: known=%d want=%d: %w", len(in.Known), in.NReal, ErrBadInput)
	}
	ks, err := normalizeKs(in.Ks, n-1)
	if err != nil {
		return nil, fmt.Errorf("Evaluate: %w", err)
	}
	kmax := ks[len(ks)-1]

	t := &Table{N: n, NReal: in.NReal, Ks: ks}
	t.alloc(len(ks))
	copy(t.Embedding, in.Embedding)
	for i := 0; i < n; i++ {
		t.Doublet[i] = i >= in.NReal || (in.Known != nil && in.Known[i])
	}
	for i := in.NReal; i < n; i++ {
		t.Origin[i] = in.Origins[i-in.NReal]
	}

	ix, err := knn.NewIndex(in.Embedding)
	if err != nil {
		return nil, fmt.Errorf("Evaluate: %w", err)
	}
	neighbors, err := ix.QueryAll(kmax)
	if err != nil {
		return nil, fmt.Errorf("Evaluate: %w", err)
	}

	// Zero-distance policy: the replacement value is the smallest non-zero
	// first-neighbor distance; the cap for absent class neighbors is twice
	// the largest first-neighbor distance.
	minNonzero, maxFirst := math.Inf(1), 0.0
	for i := range neighbors {
		d := neighbors[i][0].Dist
		if d > 0 && d < minNonzero {
			minNonzero = d
		}
		if d > maxFirst {
			maxFirst = d
		}
	}
	if math.IsInf(minNonzero, 1) {
		minNonzero = 1 // fully degenerate embedding; keep features finite
	}
	cap2 := 2 * maxFirst
	if cap2 == 0 {
		cap2 = 2 * minNonzero
	}

	for i := range neighbors {
		nb := neighbors[i]

		d0 := nb[0].Dist
		if d0 == 0 {
			d0 = minNonzero
		}
		t.DistanceToNearest[i] = d0

		// Ratio features per requested sub-K.
		var artSeen int
		ki := 0
		for r, ngh := range nb {
			if ngh.ID >= in.NReal {
				artSeen++
			}
			for ki < len(ks) && r+1 == ks[ki] {
				t.Ratios[ki][i] = float64(artSeen) / float64(ks[ki])
				ki++
			}
		}
		// K values beyond the available neighbors fall back to the full
		// window ratio (clipping policy).
		for ; ki < len(ks); ki++ {
			t.Ratios[ki][i] = float64(artSeen) / float64(len(nb))
		}

		// Rank- and distance-decayed weighted doublet score.
		var sumW, sumWD float64
		for r, ngh := range nb {
			d := ngh.Dist
			if d == 0 {
				d = minNonzero
			}
			w := math.Sqrt(float64(kmax-(r+1))) / d
			sumW += w
			if t.Doublet[ngh.ID] {
				sumWD += w
			}
		}
		if sumW > 0 {
			t.Weighted[i] = sumWD / sumW
		} else {
			t.Weighted[i] = t.Ratios[len(ks)-1][i]
		}

		// Nearest neighbor of each provenance class, capped when absent.
		t.DistanceToNearestDoublet[i] = cap2
		t.DistanceToNearestReal[i] = cap2
		foundD, foundR := false, false
		for _, ngh := range nb {
			if t.Doublet[ngh.ID] {
				if !foundD {
					foundD = true
					if d := ngh.Dist; d > 0 {
						t.DistanceToNearestDoublet[i] = d
					} else {
						t.DistanceToNearestDoublet[i] = minNonzero
					}
				}
			} else if !foundR {
				foundR = true
				if d := ngh.Dist; d > 0 {
					t.DistanceToNearestReal[i] = d
				} else {
					t.DistanceToNearestReal[i] = minNonzero
				}
			}
			if foundD && foundR {
				break
			}
		}
	}

	assignOrigins(t, neighbors, in)
	computeDifficulty(t)

	return t, nil
}

// assignOrigins sets the most frequent synthetic, non-random origin among
// each cell's artificial neighbors, flagging near-ties as ambiguous.
// Artificial cells keep their true generation origin and are never
// ambiguous. Cells with no informative neighbor get the random origin.
func assignOrigins(t *Table, neighbors [][]knn.Neighbor, in Input) {
	for i := 0; i < t.N; i++ {
		if t.Artificial(i) {
			continue // true origin already set
		}
		counts := make(map[synth.Origin]int, 8)
		for _, ngh := range neighbors[i] {
			if ngh.ID < in.NReal {
				continue
			}
			o := in.Origins[ngh.ID-in.NReal]
			if o.Random {
				continue
			}
			counts[o]++
		}
		if len(counts) == 0 {
			t.Origin[i] = synth.RandomOrigin()
			continue
		}
		ordered := make([]synth.Origin, 0, len(counts))
		for o := range counts {
			ordered = append(ordered, o)
		}
		sort.Slice(ordered, func(a, b int) bool {
			if counts[ordered[a]] != counts[ordered[b]] {
				return counts[ordered[a]] > counts[ordered[b]]
			}
			if ordered[a].A != ordered[b].A {
				return ordered[a].A < ordered[b].A
			}

			return ordered[a].B < ordered[b].B
		})
		t.Origin[i] = ordered[0]
		if len(ordered) > 1 {
			top, second := counts[ordered[0]], counts[ordered[1]]
			t.OriginAmbiguous[i] = float64(second) >= ambiguityMargin*float64(top)
		}
	}
}

// computeDifficulty derives the per-origin calibration signal: one minus
// the mean weighted doublet score over artificial doublets of that origin.
// Origin pairs whose synthetics are hard to recognize (few distinguishing
// genes) thus receive a high difficulty.
func computeDifficulty(t *Table) {
	sum := make(map[synth.Origin]float64, 8)
	cnt := make(map[synth.Origin]int, 8)
	for i := t.NReal; i < t.N; i++ {
		o := t.Origin[i]
		if o.Random {
			continue
		}
		sum[o] += t.Weighted[i]
		cnt[o]++
	}
	diff := make(map[synth.Origin]float64, len(sum))
	for o, s := range sum {
		diff[o] = 1 - s/float64(cnt[o])
	}
	for i := 0; i < t.N; i++ {
		if d, ok := diff[t.Origin[i]]; ok {
			t.Difficulty[i] = d
		}
	}
}

// normalizeKs sorts, deduplicates and clips the requested neighbor counts.
func normalizeKs(ks []int, maxK int) ([]int, error) {
	if len(ks) == 0 {
		return nil, ErrBadK
	}
	seen := make(map[int]bool, len(ks))
	out := make([]int, 0, len(ks))
	for _, k := range ks {
		if k <= 0 {
			return nil, fmt.Errorf("k=%d: %w", k, ErrBadK)
		}
		if k > maxK {
			k = maxK
		}
		if !seen[k] {
			seen[k] = true
			out = append(out, k)
		}
	}
	sort.Ints(out)

	return out, nil
}
