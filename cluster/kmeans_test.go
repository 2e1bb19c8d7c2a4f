package cluster_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/semir2/scDblFinder/cluster"
)

// threeBlobs builds three tight, well-separated 2D groups of 10 points.
func threeBlobs() [][]float64 {
	pts := make([][]float64, 0, 30)
	offsets := [][2]float64{{0, 0}, {100, 0}, {0, 100}}
	for _, o := range offsets {
		for i := 0; i < 10; i++ {
			pts = append(pts, []float64{o[0] + float64(i%3), o[1] + float64(i%5)})
		}
	}

	return pts
}

// TestKMeans_SeparatedBlobs verifies each blob maps to exactly one cluster.
func TestKMeans_SeparatedBlobs(t *testing.T) {
	pts := threeBlobs()
	labels, err := cluster.KMeans(pts, 3, 7)
	require.NoError(t, err, "well-formed input must cluster")
	require.Len(t, labels, 30)

	for blob := 0; blob < 3; blob++ {
		want := labels[blob*10]
		for i := blob * 10; i < (blob+1)*10; i++ {
			assert.Equal(t, want, labels[i], "blob %d must be homogeneous", blob)
		}
	}
	sizes := cluster.Sizes(labels)
	assert.Len(t, sizes, 3, "three distinct clusters")
}

// TestKMeans_Deterministic checks identical seeds give identical labels.
func TestKMeans_Deterministic(t *testing.T) {
	pts := threeBlobs()
	a, err := cluster.KMeans(pts, 3, 42)
	require.NoError(t, err)
	b, err := cluster.KMeans(pts, 3, 42)
	require.NoError(t, err)

	assert.Equal(t, a, b, "same seed must reproduce labels")
}

// TestKMeans_Validation covers the precondition errors.
func TestKMeans_Validation(t *testing.T) {
	_, err := cluster.KMeans(nil, 2, 1)
	assert.ErrorIs(t, err, cluster.ErrNoPoints, "empty input")

	_, err = cluster.KMeans([][]float64{{1}}, 0, 1)
	assert.ErrorIs(t, err, cluster.ErrBadK, "k below one")

	_, err = cluster.KMeans([][]float64{{1}}, 2, 1)
	assert.ErrorIs(t, err, cluster.ErrBadK, "k above point count")
}

// TestRelabel verifies consecutive relabeling by first appearance.
func TestRelabel(t *testing.T) {
	out, c := cluster.Relabel([]int{7, 7, 3, 7, 9, 3})
	assert.Equal(t, []int{0, 0, 1, 0, 2, 1}, out, "first-appearance order")
	assert.Equal(t, 3, c, "cluster count")
}
