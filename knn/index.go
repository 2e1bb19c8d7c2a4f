package knn

import (
	"container/heap"
	"errors"
	"fmt"
	"math"
	"runtime"
	"sort"

	"golang.org/x/sync/errgroup"
)

var (
	// ErrNoPoints indicates an empty point set.
	ErrNoPoints = errors.New("knn: no points")

	// ErrDimMismatch indicates points (or a query) of inconsistent dimension.
	ErrDimMismatch = errors.New("knn: dimension mismatch")

	// ErrBadK indicates a non-positive neighbor count.
	ErrBadK = errors.New("knn: k must be > 0")
)

// Neighbor is one query result: the point id and its Euclidean distance.
type Neighbor struct {
	ID   int
	Dist float64
}

// Index is an immutable flat KNN index. Safe for concurrent queries.
type Index struct {
	points [][]float64
	dim    int
}

// NewIndex builds an index over the given points. The slices are retained,
// not copied; callers must not mutate them afterwards.
func NewIndex(points [][]float64) (*Index, error) {
	if len(points) == 0 {
		return nil, fmt.Errorf("NewIndex: %w", ErrNoPoints)
	}
	dim := len(points[0])
	for i, p := range points {
		if len(p) != dim {
			return nil, fmt.Errorf("NewIndex: point %d dim %d, want %d: %w", i, len(p), dim, ErrDimMismatch)
		}
	}

	return &Index{points: points, dim: dim}, nil
}

// Len returns the number of indexed points.
func (ix *Index) Len() int { return len(ix.points) }

// Query returns the k nearest neighbors of q, excluding the point id
// exclude (pass a negative id to keep all). k larger than the available
// points is clipped. Results are sorted by (distance, id).
func (ix *Index) Query(q []float64, k, exclude int) ([]Neighbor, error) {
	if len(q) != ix.dim {
		return nil, fmt.Errorf("Query: dim %d, want %d: %w", len(q), ix.dim, ErrDimMismatch)
	}
	if k <= 0 {
		return nil, fmt.Errorf("Query: k=%d: %w", k, ErrBadK)
	}
	avail := len(ix.points)
	if exclude >= 0 && exclude < avail {
		avail--
	}
	if k > avail {
		k = avail
	}
	if k == 0 {
		return nil, nil
	}

	// Bounded max-heap scan: keep the k best, evict the current worst.
	h := make(maxHeap, 0, k+1)
	for id, p := range ix.points {
		if id == exclude {
			continue
		}
		d := euclidean(q, p)
		if len(h) < k {
			heap.Push(&h, Neighbor{ID: id, Dist: d})
			continue
		}
		if d < h[0].Dist || (d == h[0].Dist && id < h[0].ID) {
			h[0] = Neighbor{ID: id, Dist: d}
			heap.Fix(&h, 0)
		}
	}

	out := []Neighbor(h)
	sort.Slice(out, func(a, b int) bool {
		if out[a].Dist != out[b].Dist {
			return out[a].Dist < out[b].Dist
		}

		return out[a].ID < out[b].ID
	})

	return out, nil
}

// QueryAll returns, for every indexed point, its k nearest neighbors with
// the point itself excluded. Queries run in parallel across cores; the
// result is deterministic regardless of scheduling.
func (ix *Index) QueryAll(k int) ([][]Neighbor, error) {
	if k <= 0 {
		return nil, fmt.Errorf("QueryAll: k=%d: %w", k, ErrBadK)
	}
	n := len(ix.points)
	out := make([][]Neighbor, n)

	var g errgroup.Group
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i := 0; i < n; i++ {
		i := i
		g.Go(func() error {
			nb, err := ix.Query(ix.points[i], k, i)
			if err != nil {
				return fmt.Errorf("QueryAll: point %d: %w", i, err)
			}
			out[i] = nb

			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return out, nil
}

// euclidean returns the L2 distance between equal-length vectors.
func euclidean(a, b []float64) float64 {
	var s float64
	for j := range a {
		d := a[j] - b[j]
		s += d * d
	}

	return math.Sqrt(s)
}

// maxHeap orders neighbors worst-first: larger distance on top, with the
// larger id on top among equal distances so the smaller id survives eviction.
type maxHeap []Neighbor

func (h maxHeap) Len() int { return len(h) }

func (h maxHeap) Less(a, b int) bool {
	if h[a].Dist != h[b].Dist {
		return h[a].Dist > h[b].Dist
	}

	return h[a].ID > h[b].ID
}

func (h maxHeap) Swap(a, b int) { h[a], h[b] = h[b], h[a] }

func (h *maxHeap) Push(x any) { *h = append(*h, x.(Neighbor)) }

func (h *maxHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]

	return x
}
