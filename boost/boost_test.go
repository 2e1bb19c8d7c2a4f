package boost_test

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/semir2/scDblFinder/boost"
)

// separable builds a two-feature set where class 1 lives around (3,3)
// and class 0 around (0,0), with mild seeded jitter.
func separable(n int, seed int64) ([][]float64, []float64) {
	rng := rand.New(rand.NewSource(seed))
	x := make([][]float64, n)
	y := make([]float64, n)
	for i := range x {
		var off float64
		if i%2 == 0 {
			off, y[i] = 3, 1
		}
		x[i] = []float64{off + rng.Float64()*0.5, off + rng.Float64()*0.5}
	}

	return x, y
}

func TestTrain_Validation(t *testing.T) {
	_, err := boost.Train(nil, nil, boost.Params{Rounds: 3})
	assert.ErrorIs(t, err, boost.ErrNoData, "empty input must be rejected")

	x, y := separable(10, 1)
	_, err = boost.Train(x, y[:5], boost.Params{Rounds: 3})
	assert.ErrorIs(t, err, boost.ErrNoData, "label/row mismatch must be rejected")

	_, err = boost.Train(x, y, boost.Params{Rounds: 0})
	assert.ErrorIs(t, err, boost.ErrBadParams, "Rounds must be explicit and positive")

	ones := make([]float64, len(x))
	for i := range ones {
		ones[i] = 1
	}
	_, err = boost.Train(x, ones, boost.Params{Rounds: 3})
	assert.ErrorIs(t, err, boost.ErrDegenerate, "single-class input is degenerate")

	bad := append([]float64(nil), y...)
	bad[0] = 0.5
	_, err = boost.Train(x, bad, boost.Params{Rounds: 3})
	assert.ErrorIs(t, err, boost.ErrDegenerate, "non-binary labels are degenerate")
}

func TestTrain_SeparatesClasses(t *testing.T) {
	x, y := separable(60, 7)
	m, err := boost.Train(x, y, boost.Params{Rounds: 20})
	require.NoError(t, err, "training on separable data must succeed")
	assert.Equal(t, 20, m.Rounds(), "every round grows one tree")

	scores := m.PredictAll(x)
	var minPos, maxNeg = 1.0, 0.0
	for i, s := range scores {
		assert.Greater(t, s, 0.0, "probability must be positive")
		assert.Less(t, s, 1.0, "probability must be below one")
		if y[i] == 1 && s < minPos {
			minPos = s
		}
		if y[i] == 0 && s > maxNeg {
			maxNeg = s
		}
	}
	assert.Greater(t, minPos, maxNeg, "classes must be fully separated on this fixture")
}

func TestPredictAll_MatchesPredict(t *testing.T) {
	x, y := separable(30, 3)
	m, err := boost.Train(x, y, boost.Params{Rounds: 5})
	require.NoError(t, err)

	all := m.PredictAll(x)
	for i, row := range x {
		assert.Equal(t, m.Predict(row), all[i], "batch and single predictions must agree at row %d", i)
	}
}

func TestTrain_Deterministic(t *testing.T) {
	x, y := separable(40, 11)
	m1, err := boost.Train(x, y, boost.Params{Rounds: 8, Seed: 42})
	require.NoError(t, err)
	m2, err := boost.Train(x, y, boost.Params{Rounds: 8, Seed: 42})
	require.NoError(t, err)

	assert.Equal(t, m1.PredictAll(x), m2.PredictAll(x), "identical input and seed must reproduce scores")
}

func TestMetric_AUROC(t *testing.T) {
	scores := []float64{0.1, 0.4, 0.35, 0.8}
	labels := []float64{0, 0, 1, 1}
	assert.InDelta(t, 0.75, boost.MetricAUROC.Eval(scores, labels), 1e-12,
		"hand-computed rank statistic")

	perfect := []float64{0.1, 0.2, 0.8, 0.9}
	assert.InDelta(t, 1.0, boost.MetricAUROC.Eval(perfect, labels), 1e-12,
		"perfect ordering scores 1")

	constant := []float64{0.5, 0.5, 0.5, 0.5}
	assert.InDelta(t, 0.5, boost.MetricAUROC.Eval(constant, labels), 1e-12,
		"all-tied scores sit at chance via midranks")

	assert.Equal(t, 0.5, boost.MetricAUROC.Eval([]float64{0.1, 0.9}, []float64{1, 1}),
		"single-class input returns chance level")
}

func TestMetric_AUPRC(t *testing.T) {
	scores := []float64{0.1, 0.4, 0.35, 0.8}
	labels := []float64{0, 0, 1, 1}
	assert.InDelta(t, 0.5+1.0/3.0, boost.MetricAUPRC.Eval(scores, labels), 1e-12,
		"hand-computed average precision")

	perfect := []float64{0.1, 0.2, 0.8, 0.9}
	assert.InDelta(t, 1.0, boost.MetricAUPRC.Eval(perfect, labels), 1e-12,
		"perfect ordering scores 1")

	assert.Equal(t, "auprc", boost.MetricAUPRC.String())
	assert.Equal(t, "auroc", boost.MetricAUROC.String())
}

func TestSelectRounds(t *testing.T) {
	x, y := separable(60, 5)

	_, err := boost.SelectRounds(nil, nil, boost.Params{}, 5, 10, boost.MetricAUPRC)
	assert.ErrorIs(t, err, boost.ErrNoData)

	_, err = boost.SelectRounds(x, y, boost.Params{}, 1, 10, boost.MetricAUPRC)
	assert.ErrorIs(t, err, boost.ErrBadParams, "fewer than two folds is invalid")

	r, err := boost.SelectRounds(x, y, boost.Params{Seed: 9}, 5, 15, boost.MetricAUPRC)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, r, 1, "at least one round must be selected")
	assert.LessOrEqual(t, r, 15, "selection cannot exceed the cap")

	r2, err := boost.SelectRounds(x, y, boost.Params{Seed: 9}, 5, 15, boost.MetricAUPRC)
	require.NoError(t, err)
	assert.Equal(t, r, r2, "same seed must reproduce the selection")
}
