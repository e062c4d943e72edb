package vectorindex

import (
	"container/heap"
	"math"
	"sort"
)

// better reports whether a ranks ahead of b.
func better(a, b Result) bool {
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	return a.ChunkID < b.ChunkID
}

// topK keeps the k best results seen so far. The heap root is the worst of
// them, so a new candidate only has to beat the root.
type topK struct {
	k     int
	items []Result
}

// newTopK keeps at most k results; n bounds the candidates that will be
// offered and caps the initial allocation.
func newTopK(k, n int) *topK {
	return &topK{k: k, items: make([]Result, 0, min(k, n))}
}

func (t *topK) Len() int           { return len(t.items) }
func (t *topK) Less(i, j int) bool { return better(t.items[j], t.items[i]) }
func (t *topK) Swap(i, j int)      { t.items[i], t.items[j] = t.items[j], t.items[i] }
func (t *topK) Push(x any)         { t.items = append(t.items, x.(Result)) }
func (t *topK) Pop() any {
	old := t.items
	n := len(old)
	item := old[n-1]
	t.items = old[:n-1]
	return item
}

func (t *topK) offer(r Result) {
	if len(t.items) < t.k {
		heap.Push(t, r)
		return
	}
	if better(r, t.items[0]) {
		t.items[0] = r
		heap.Fix(t, 0)
	}
}

// sorted returns the kept results best first.
func (t *topK) sorted() []Result {
	out := make([]Result, len(t.items))
	copy(out, t.items)
	sort.Slice(out, func(i, j int) bool { return better(out[i], out[j]) })
	return out
}

// normalize returns a unit-length copy of v. Zero vectors stay zero.
func normalize(v []float32) []float32 {
	var sum float64
	for _, f := range v {
		sum += float64(f) * float64(f)
	}
	out := make([]float32, len(v))
	if sum == 0 {
		return out
	}
	n := math.Sqrt(sum)
	for i, f := range v {
		out[i] = float32(float64(f) / n)
	}
	return out
}

func dot(a, b []float32) float32 {
	var s float64
	for i := range a {
		s += float64(a[i]) * float64(b[i])
	}
	return float32(s)
}
