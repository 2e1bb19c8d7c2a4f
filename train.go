package scdblfinder

import (
	"log/slog"
	"sort"

	"github.com/semir2/scDblFinder/boost"
	"github.com/semir2/scDblFinder/features"
)

// score produces the continuous doublet score per merged row according to
// the configured ScoreMode. Classifier training is global by default;
// ScoreBoostedPerSample refits within each partition instead.
func (o *Options) score(merged *features.Table, results []*partResult, perm [][]int, globalDBR float64, log *slog.Logger) ([]float64, error) {
	switch o.scoreMode {
	case ScoreWeighted:
		return append([]float64(nil), merged.Weighted...), nil
	case ScoreRatio:
		return append([]float64(nil), merged.Ratio()...), nil
	case ScoreBoostedPerSample:
		out := make([]float64, merged.N)
		for pi, r := range results {
			s := o.trainAndScore(r.table, r.dbr, log.With("sample", r.label))
			for i, v := range s {
				out[perm[pi][i]] = v
			}
		}

		return out, nil
	default:
		return o.trainAndScore(merged, globalDBR, log), nil
	}
}

// trainAndScore runs the iterative purification loop: rank-based proxy
// scores seed the exclusion of likely real doublets from the negative
// pool, then the classifier is refit and the exclusion recomputed each
// iteration. A fit failure keeps the previous iteration's scores.
func (o *Options) trainAndScore(t *features.Table, dbr float64, log *slog.Logger) []float64 {
	x, _ := t.FeatureMatrix()
	y := t.Labels()
	scores := proxyScores(t)
	excluded := suspectReal(t, scores, dbr)

	params := boost.Params{Seed: o.seed}
	rounds := o.rounds
	if rounds == 0 {
		px, py := trainingPool(x, y, t, excluded)
		r, err := boost.SelectRounds(px, py, params, DefaultCVFolds, DefaultMaxRounds, o.metric)
		if err != nil {
			log.Warn("round selection failed; using the round cap", "error", err)
			r = DefaultMaxRounds
		}
		rounds = r
	}
	params.Rounds = rounds

	for it := 0; it < o.iterations; it++ {
		px, py := trainingPool(x, y, t, excluded)
		model, err := boost.Train(px, py, params)
		if err != nil {
			log.Warn("classifier fit failed; keeping previous scores", "iteration", it, "error", err)
			break
		}
		scores = model.PredictAll(x)
		excluded = suspectReal(t, scores, dbr)
	}

	return scores
}

// proxyScores is the pre-classifier score: the normalized rank of the
// doublet-neighbor ratio, blended half-and-half with the normalized rank
// of the co-expression score when attached.
func proxyScores(t *features.Table) []float64 {
	r := rankScores(t.Ratio())
	if t.Coexpression == nil {
		return r
	}
	c := rankScores(t.Coexpression)
	for i := range r {
		r[i] = (r[i] + c[i]) / 2
	}

	return r
}

// rankScores maps values to ascending ranks normalized to [0,1]; ties
// resolve by index, keeping the mapping deterministic.
func rankScores(xs []float64) []float64 {
	order := make([]int, len(xs))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool { return xs[order[a]] < xs[order[b]] })

	out := make([]float64, len(xs))
	if len(xs) < 2 {
		return out
	}
	denom := float64(len(xs) - 1)
	for rank, i := range order {
		out[i] = float64(rank) / denom
	}

	return out
}

// suspectReal flags the top-dbr fraction of unlabeled real cells by score
// as provisional doublets, excluding them from the negative pool.
func suspectReal(t *features.Table, scores []float64, dbr float64) map[int]bool {
	k := int(dbr*float64(t.NReal) + 0.5)
	if k <= 0 {
		return nil
	}

	candidates := make([]int, 0, t.NReal)
	for i := 0; i < t.NReal; i++ {
		if !t.Doublet[i] {
			candidates = append(candidates, i)
		}
	}
	sort.SliceStable(candidates, func(a, b int) bool {
		return scores[candidates[a]] > scores[candidates[b]]
	})
	if k > len(candidates) {
		k = len(candidates)
	}

	out := make(map[int]bool, k)
	for _, i := range candidates[:k] {
		out[i] = true
	}

	return out
}

// trainingPool assembles the rows fed to the classifier: every doublet-
// class row plus the real cells not currently under suspicion.
func trainingPool(x [][]float64, y []float64, t *features.Table, excluded map[int]bool) ([][]float64, []float64) {
	px := make([][]float64, 0, len(x)-len(excluded))
	py := make([]float64, 0, len(x)-len(excluded))
	for i := range x {
		if excluded[i] {
			continue
		}
		px = append(px, x[i])
		py = append(py, y[i])
	}

	return px, py
}
