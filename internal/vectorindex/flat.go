// Package vectorindex implements an exact nearest-neighbour index over float32 vectors.
package vectorindex

import (
	"container/heap"
	"errors"
	"fmt"
	"sort"
)

// ErrDimensionMismatch is returned when a vector does not match the index dimension.
var ErrDimensionMismatch = errors.New("vector dimension mismatch")

// Hit is a search result: an index position and its squared L2 distance to the query.
type Hit struct {
	Position int
	Distance float32
}

// Index is an immutable brute-force index. Positions are dense and follow build order.
type Index struct {
	dimension int
	count     int
	data      []float32 // row-major, count*dimension
}

// Build constructs a fresh index over exactly the given vectors.
// An empty vector set is a valid, empty index.
func Build(dimension int, vectors [][]float32) (*Index, error) {
	if len(vectors) == 0 {
		return &Index{dimension: dimension}, nil
	}
	if dimension <= 0 {
		return nil, errors.New("invalid dimension")
	}
	data := make([]float32, 0, len(vectors)*dimension)
	for i, v := range vectors {
		if len(v) != dimension {
			return nil, fmt.Errorf("%w: position %d has %d values, want %d", ErrDimensionMismatch, i, len(v), dimension)
		}
		data = append(data, v...)
	}
	return &Index{dimension: dimension, count: len(vectors), data: data}, nil
}

// Len returns the number of indexed vectors.
func (x *Index) Len() int { return x.count }

// Dimension returns the vector dimension of the index.
func (x *Index) Dimension() int { return x.dimension }

// Vector returns the stored vector at pos. The slice must not be modified.
func (x *Index) Vector(pos int) []float32 {
	if pos < 0 || pos >= x.count {
		return nil
	}
	off := pos * x.dimension
	return x.data[off : off+x.dimension : off+x.dimension]
}

// Search returns up to k hits ordered by ascending distance, ties by smaller position.
func (x *Index) Search(query []float32, k int) ([]Hit, error) {
	if x.count == 0 || k <= 0 {
		return nil, nil
	}
	if len(query) != x.dimension {
		return nil, fmt.Errorf("%w: query has %d values, want %d", ErrDimensionMismatch, len(query), x.dimension)
	}
	if k >= x.count {
		hits := make([]Hit, x.count)
		for i := range hits {
			hits[i] = Hit{Position: i, Distance: SquaredL2(x.Vector(i), query)}
		}
		sort.Slice(hits, func(i, j int) bool { return closer(hits[i], hits[j]) })
		return hits, nil
	}

	// bounded max-heap: the root is the worst of the k best seen so far
	h := make(worstFirst, 0, k)
	for i := 0; i < x.count; i++ {
		hit := Hit{Position: i, Distance: SquaredL2(x.Vector(i), query)}
		if len(h) < k {
			heap.Push(&h, hit)
			continue
		}
		if closer(hit, h[0]) {
			h[0] = hit
			heap.Fix(&h, 0)
		}
	}
	hits := make([]Hit, len(h))
	for i := len(hits) - 1; i >= 0; i-- {
		hits[i] = heap.Pop(&h).(Hit)
	}
	return hits, nil
}

// SquaredL2 returns the squared Euclidean distance between two equal-length vectors.
func SquaredL2(a, b []float32) float32 {
	var sum float32
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return sum
}

func closer(a, b Hit) bool {
	if a.Distance != b.Distance {
		return a.Distance < b.Distance
	}
	return a.Position < b.Position
}

type worstFirst []Hit

func (h worstFirst) Len() int           { return len(h) }
func (h worstFirst) Less(i, j int) bool { return closer(h[j], h[i]) }
func (h worstFirst) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *worstFirst) Push(x any)        { *h = append(*h, x.(Hit)) }
func (h *worstFirst) Pop() any {
	old := *h
	n := len(old)
	it := old[n-1]
	*h = old[:n-1]
	return it
}
