package scdblfinder_test

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	scdblfinder "github.com/semir2/scDblFinder"
	"github.com/semir2/scDblFinder/counts"
	"github.com/semir2/scDblFinder/synth"
)

// doubletFixture builds perCluster cells for each of 3 well-separated
// expression programs over 30 genes, then nDoublets cells that are exact
// elementwise sums of cross-cluster pairs. Returned labels give each
// program its own cluster and the constructed doublets cluster 3.
func doubletFixture(perCluster, nDoublets int, seed int64) (*counts.Matrix, []int) {
	rng := rand.New(rand.NewSource(seed))
	const genes = 30

	cellFor := func(c int) []float64 {
		row := make([]float64, genes)
		for g := 0; g < genes; g++ {
			switch {
			case g/10 == c:
				row[g] = float64(8 + rng.Intn(5))
			case rng.Intn(5) == 0:
				row[g] = 1
			}
		}

		return row
	}

	rows := make([][]float64, 0, 3*perCluster+nDoublets)
	labels := make([]int, 0, 3*perCluster+nDoublets)
	for c := 0; c < 3; c++ {
		for i := 0; i < perCluster; i++ {
			rows = append(rows, cellFor(c))
			labels = append(labels, c)
		}
	}
	for d := 0; d < nDoublets; d++ {
		a := rng.Intn(3)
		b := (a + 1 + rng.Intn(2)) % 3
		ra, rb := cellFor(a), cellFor(b)
		sum := make([]float64, genes)
		for g := range sum {
			sum[g] = ra[g] + rb[g]
		}
		rows = append(rows, sum)
		labels = append(labels, 3)
	}

	m, err := counts.FromDense(rows)
	if err != nil {
		panic(err)
	}

	return m, labels
}

func TestFind_DetectsConstructedDoublets(t *testing.T) {
	m, labels := doubletFixture(100, 30, 1)
	rep, err := scdblfinder.Find(m,
		scdblfinder.WithClusters(labels),
		scdblfinder.WithDBR(0.09),
		scdblfinder.WithDBRSD(0.02),
		scdblfinder.WithRounds(20),
		scdblfinder.WithSeed(1),
	)
	require.NoError(t, err, "the pipeline must run end to end")
	require.Equal(t, 330, rep.Cells)

	var hits, falsePositives int
	for i, c := range rep.Class {
		if labels[i] == 3 {
			if c {
				hits++
			}
		} else if c {
			falsePositives++
		}
	}
	assert.GreaterOrEqual(t, hits, 27, "at least 90 percent of constructed doublets must be called")
	assert.LessOrEqual(t, falsePositives, 15, "at most 5 percent of singlets may be called")

	for i := range rep.Score {
		assert.GreaterOrEqual(t, rep.Score[i], 0.0, "score must be in [0,1] at cell %d", i)
		assert.LessOrEqual(t, rep.Score[i], 1.0, "score must be in [0,1] at cell %d", i)
		assert.GreaterOrEqual(t, rep.Ratio[i], 0.0, "ratio must be in [0,1] at cell %d", i)
		assert.LessOrEqual(t, rep.Ratio[i], 1.0, "ratio must be in [0,1] at cell %d", i)
		assert.GreaterOrEqual(t, rep.Weighted[i], 0.0, "weighted must be in [0,1] at cell %d", i)
		assert.LessOrEqual(t, rep.Weighted[i], 1.0, "weighted must be in [0,1] at cell %d", i)
	}
	assert.NotEmpty(t, rep.RunID, "every run carries an identifier")
	assert.NotNil(t, rep.Table, "the combined feature table is returned")
}

func TestFind_SingleClusterFails(t *testing.T) {
	m, _ := doubletFixture(40, 0, 2)
	labels := make([]int, m.Rows()) // everything in one cluster

	_, err := scdblfinder.Find(m,
		scdblfinder.WithClusters(labels),
		scdblfinder.WithRounds(5),
	)
	assert.ErrorIs(t, err, synth.ErrInsufficientClusters,
		"one cluster cannot seed artificial doublets")
}

func TestFind_KnownDoubletsForced(t *testing.T) {
	m, labels := doubletFixture(100, 30, 3)
	known := make([]bool, m.Rows())
	for i := 0; i < 10; i++ {
		known[i] = true // genuine cluster-0 singlets, scores will be low
	}

	rep, err := scdblfinder.Find(m,
		scdblfinder.WithClusters(labels),
		scdblfinder.WithKnownDoublets(known),
		scdblfinder.WithDBR(0.09),
		scdblfinder.WithDBRSD(0.02),
		scdblfinder.WithRounds(20),
		scdblfinder.WithSeed(2),
	)
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		assert.True(t, rep.Class[i], "known doublet %d must be classified doublet regardless of score", i)
	}
}

func TestFind_SplitMatchesUnsplit(t *testing.T) {
	m, labels := doubletFixture(100, 30, 4)
	samples := make([]string, m.Rows())
	for i := range samples {
		if i%2 == 0 {
			samples[i] = "a"
		} else {
			samples[i] = "b"
		}
	}

	opts := []scdblfinder.Option{
		scdblfinder.WithClusters(labels),
		scdblfinder.WithDBR(0.09),
		scdblfinder.WithDBRSD(0.02),
		scdblfinder.WithRounds(20),
		scdblfinder.WithSeed(3),
	}

	unsplit, err := scdblfinder.Find(m, opts...)
	require.NoError(t, err)
	split, err := scdblfinder.Find(m, append(opts, scdblfinder.WithSamples(samples))...)
	require.NoError(t, err)

	// An explicit rate forces one global threshold even across samples.
	assert.Contains(t, split.Thresholds, "", "explicit dbr must yield a single global threshold")
	require.NotNil(t, split.Sample)
	assert.Equal(t, "a", split.Sample[0])
	assert.Equal(t, "b", split.Sample[1])

	agree := 0
	for i := range unsplit.Class {
		if unsplit.Class[i] == split.Class[i] {
			agree++
		}
	}
	assert.GreaterOrEqual(t, float64(agree)/float64(len(unsplit.Class)), 0.9,
		"split and unsplit runs must agree on most calls")
}

func TestFind_PerSampleThresholds(t *testing.T) {
	m, labels := doubletFixture(100, 30, 5)
	samples := make([]string, m.Rows())
	for i := range samples {
		if i%2 == 0 {
			samples[i] = "a"
		} else {
			samples[i] = "b"
		}
	}

	// No explicit rate: each sample derives its own and gets its own
	// threshold.
	rep, err := scdblfinder.Find(m,
		scdblfinder.WithClusters(labels),
		scdblfinder.WithSamples(samples),
		scdblfinder.WithRounds(10),
		scdblfinder.WithSeed(4),
	)
	require.NoError(t, err)
	assert.Contains(t, rep.Thresholds, "a")
	assert.Contains(t, rep.Thresholds, "b")
	assert.NotContains(t, rep.Thresholds, "", "no global threshold without an explicit rate")
}

func TestFind_Validation(t *testing.T) {
	m, labels := doubletFixture(40, 0, 6)

	_, err := scdblfinder.Find(nil)
	assert.ErrorIs(t, err, scdblfinder.ErrNoCounts, "nil matrix must be rejected")

	_, err = scdblfinder.Find(m, scdblfinder.WithPropRandom(1.5))
	assert.ErrorIs(t, err, scdblfinder.ErrBadProportion)

	_, err = scdblfinder.Find(m, scdblfinder.WithDBR(-0.1))
	assert.ErrorIs(t, err, scdblfinder.ErrBadProportion)

	_, err = scdblfinder.Find(m, scdblfinder.WithClusters(labels[:5]))
	assert.ErrorIs(t, err, scdblfinder.ErrBadInput, "cluster labels must match the matrix")

	_, err = scdblfinder.Find(m, scdblfinder.WithScoreMode(scdblfinder.ScoreMode(99)))
	assert.ErrorIs(t, err, scdblfinder.ErrUnknownScoreMode)
}

func TestFind_ScoresOnly(t *testing.T) {
	m, labels := doubletFixture(50, 10, 7)

	rep, err := scdblfinder.Find(m,
		scdblfinder.WithClusters(labels),
		scdblfinder.WithRounds(5),
		scdblfinder.WithoutThreshold(),
		scdblfinder.WithSeed(5),
	)
	require.NoError(t, err)
	assert.Nil(t, rep.Class, "no classes without thresholding")
	assert.Nil(t, rep.Threshold, "no per-cell thresholds without thresholding")
	assert.Len(t, rep.Score, m.Rows())
}

func TestFind_RatioScoreMode(t *testing.T) {
	m, labels := doubletFixture(50, 10, 8)

	rep, err := scdblfinder.Find(m,
		scdblfinder.WithClusters(labels),
		scdblfinder.WithScoreMode(scdblfinder.ScoreRatio),
		scdblfinder.WithoutThreshold(),
		scdblfinder.WithSeed(6),
	)
	require.NoError(t, err)
	assert.Equal(t, rep.Ratio, rep.Score, "ratio mode reports the raw neighbor ratio as the score")
}

func TestFind_Deterministic(t *testing.T) {
	m, labels := doubletFixture(50, 10, 9)
	opts := []scdblfinder.Option{
		scdblfinder.WithClusters(labels),
		scdblfinder.WithRounds(8),
		scdblfinder.WithSeed(11),
	}

	a, err := scdblfinder.Find(m, opts...)
	require.NoError(t, err)
	b, err := scdblfinder.Find(m, opts...)
	require.NoError(t, err)

	assert.Equal(t, a.Score, b.Score, "identical input and seed must reproduce scores")
	assert.Equal(t, a.Class, b.Class, "identical input and seed must reproduce calls")
}
