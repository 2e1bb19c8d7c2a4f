package boost

import (
	"fmt"
	"math"
	"math/rand"
)

// SelectRounds picks the ensemble size by k-fold cross-validation.
//
// Stage 1 (Validate): reject empty input, fewer rows than folds, or a
// non-positive round cap.
// Stage 2 (Fold loop): shuffle row indices with p.Seed, assign folds by
// index modulo folds, train each fold to maxRounds, and score the held-out
// rows after every round using the metric.
// Stage 3 (One-SD rule): find the round with the best mean metric, then
// return the earliest round whose mean is within one standard deviation of
// that best. Smaller ensembles generalize no worse and predict faster.
//
// Complexity: O(folds * maxRounds * n * d * log n) for the fold training
// plus O(folds * maxRounds * n log n) for metric evaluation.
func SelectRounds(x [][]float64, y []float64, p Params, folds, maxRounds int, metric Metric) (int, error) {
	n := len(x)
	if n == 0 {
		return 0, fmt.Errorf("SelectRounds: %w", ErrNoData)
	}
	if folds < 2 || n < folds || maxRounds <= 0 {
		return 0, fmt.Errorf("SelectRounds: folds=%d rows=%d maxRounds=%d: %w", folds, n, maxRounds, ErrBadParams)
	}

	perm := rand.New(rand.NewSource(p.Seed)).Perm(n)
	fold := make([]int, n)
	for pos, idx := range perm {
		fold[idx] = pos % folds
	}

	// perf[r][f] is the metric on fold f after round r+1.
	perf := make([][]float64, maxRounds)
	for r := range perf {
		perf[r] = make([]float64, folds)
	}

	trainParams := p
	trainParams.Rounds = maxRounds

	for f := 0; f < folds; f++ {
		var trainX, valX [][]float64
		var trainY, valY []float64
		for i := 0; i < n; i++ {
			if fold[i] == f {
				valX = append(valX, x[i])
				valY = append(valY, y[i])
			} else {
				trainX = append(trainX, x[i])
				trainY = append(trainY, y[i])
			}
		}

		model, err := Train(trainX, trainY, trainParams)
		if err != nil {
			return 0, fmt.Errorf("SelectRounds: fold %d: %w", f, err)
		}

		// Accumulate validation margins one tree at a time so every
		// round is scored without re-predicting the whole prefix.
		margins := make([]float64, len(valX))
		for i := range margins {
			margins[i] = model.base
		}
		scores := make([]float64, len(valX))
		for r := 0; r < model.Rounds(); r++ {
			for i, row := range valX {
				margins[i] += model.eta * model.trees[r].predict(row)
				scores[i] = sigmoid(margins[i])
			}
			perf[r][f] = metric.Eval(scores, valY)
		}
	}

	means := make([]float64, maxRounds)
	sds := make([]float64, maxRounds)
	for r := 0; r < maxRounds; r++ {
		var sum float64
		for _, v := range perf[r] {
			sum += v
		}
		means[r] = sum / float64(folds)
		var sq float64
		for _, v := range perf[r] {
			d := v - means[r]
			sq += d * d
		}
		sds[r] = math.Sqrt(sq / float64(folds-1))
	}

	best := 0
	for r := 1; r < maxRounds; r++ {
		if means[r] > means[best] {
			best = r
		}
	}
	floor := means[best] - sds[best]
	for r := 0; r <= best; r++ {
		if means[r] >= floor {
			return r + 1, nil
		}
	}

	return best + 1, nil
}
