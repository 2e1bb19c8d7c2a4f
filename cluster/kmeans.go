package cluster

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
)

var (
	// ErrNoPoints indicates an empty input point set.
	ErrNoPoints = errors.New("cluster: no points")

	// ErrBadK indicates k < 1 or k exceeding the number of points.
	ErrBadK = errors.New("cluster: invalid cluster count")
)

// maxLloydIterations bounds the assignment/update loop; convergence on
// typical embeddings happens far earlier.
const maxLloydIterations = 60

// KMeans partitions points into k clusters and returns one label per point
// in 0..k-1, relabeled by order of first appearance for stability.
//
// Stage 1 (Validate): non-empty points, 1 ≤ k ≤ len(points).
// Stage 2 (Seed): k-means++ initialization from a rand.Rand seeded with
// seed, so runs are reproducible.
// Stage 3 (Iterate): Lloyd assignment/update until stable or the iteration
// cap; an emptied cluster is reseeded to the point farthest from its
// nearest center.
//
// Complexity: O(iter · n · k · d).
func KMeans(points [][]float64, k int, seed int64) ([]int, error) {
	n := len(points)
	if n == 0 {
		return nil, fmt.Errorf("KMeans: %w", ErrNoPoints)
	}
	if k < 1 || k > n {
		return nil, fmt.Errorf("KMeans: k=%d n=%d: %w", k, n, ErrBadK)
	}
	dim := len(points[0])
	for i, p := range points {
		if len(p) != dim {
			return nil, fmt.Errorf("KMeans: point %d has dim %d, want %d: %w", i, len(p), dim, ErrBadK)
		}
	}

	rng := rand.New(rand.NewSource(seed))
	centers := seedPlusPlus(points, k, rng)

	labels := make([]int, n)
	dists := make([]float64, n)
	for iter := 0; iter < maxLloydIterations; iter++ {
		changed := false
		// Assignment step.
		for i, p := range points {
			best, bestD := 0, math.Inf(1)
			for c := range centers {
				d := sqDist(p, centers[c])
				if d < bestD {
					best, bestD = c, d
				}
			}
			if labels[i] != best {
				labels[i] = best
				changed = true
			}
			dists[i] = bestD
		}
		if !changed && iter > 0 {
			break
		}
		// Update step.
		sizes := make([]int, k)
		for c := range centers {
			for j := range centers[c] {
				centers[c][j] = 0
			}
		}
		for i, p := range points {
			c := labels[i]
			sizes[c]++
			for j, v := range p {
				centers[c][j] += v
			}
		}
		for c := 0; c < k; c++ {
			if sizes[c] == 0 {
				// Reseed an empty cluster to the farthest point.
				far, farD := 0, -1.0
				for i := range points {
					if dists[i] > farD {
						far, farD = i, dists[i]
					}
				}
				copy(centers[c], points[far])
				continue
			}
			inv := 1 / float64(sizes[c])
			for j := range centers[c] {
				centers[c][j] *= inv
			}
		}
	}

	relabeled, _ := Relabel(labels)

	return relabeled, nil
}

// seedPlusPlus picks k initial centers with the k-means++ rule: the first
// uniformly, each next proportionally to squared distance from the chosen.
func seedPlusPlus(points [][]float64, k int, rng *rand.Rand) [][]float64 {
	n := len(points)
	dim := len(points[0])
	centers := make([][]float64, 0, k)
	first := rng.Intn(n)
	centers = append(centers, append([]float64(nil), points[first]...))

	minD := make([]float64, n)
	for i, p := range points {
		minD[i] = sqDist(p, centers[0])
	}
	for len(centers) < k {
		var total float64
		for _, d := range minD {
			total += d
		}
		var pick int
		if total == 0 {
			pick = rng.Intn(n) // all points coincide with a center
		} else {
			target := rng.Float64() * total
			acc := 0.0
			for i, d := range minD {
				acc += d
				if acc >= target {
					pick = i
					break
				}
			}
		}
		c := make([]float64, dim)
		copy(c, points[pick])
		centers = append(centers, c)
		for i, p := range points {
			if d := sqDist(p, c); d < minD[i] {
				minD[i] = d
			}
		}
	}

	return centers
}

// Relabel maps arbitrary integer labels to consecutive 0..C-1 in order of
// first appearance and returns the new labels with the cluster count.
func Relabel(labels []int) ([]int, int) {
	remap := make(map[int]int, 8)
	out := make([]int, len(labels))
	next := 0
	for i, l := range labels {
		nl, ok := remap[l]
		if !ok {
			nl = next
			remap[l] = nl
			next++
		}
		out[i] = nl
	}

	return out, next
}

// Sizes counts the members of each label value.
func Sizes(labels []int) map[int]int {
	sizes := make(map[int]int, 8)
	for _, l := range labels {
		sizes[l]++
	}

	return sizes
}

// sqDist returns the squared Euclidean distance between equal-length vectors.
func sqDist(a, b []float64) float64 {
	var s float64
	for j := range a {
		d := a[j] - b[j]
		s += d * d
	}

	return s
}
