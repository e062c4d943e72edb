package vectorindex

import (
	"fmt"
	"math"
	"math/rand"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kalambet/docmind/internal/document"
)

func chunk(docID string, seq int) document.Chunk {
	return document.Chunk{ID: document.ChunkID(docID, seq), DocID: docID, Sequence: seq}
}

func ids(results []Result) []string {
	out := make([]string, len(results))
	for i, r := range results {
		out[i] = r.ChunkID
	}
	return out
}

func TestSearch_EmptyIndex(t *testing.T) {
	ix := New(3)
	res, err := ix.Search([]float32{1, 0, 0}, 5)
	require.NoError(t, err)
	assert.Empty(t, res)

	res, err = ix.SearchDocument("doc", []float32{1, 0, 0}, 5)
	require.NoError(t, err)
	assert.Empty(t, res)
}

func TestSearch_NonPositiveK(t *testing.T) {
	ix := New(2)
	require.NoError(t, ix.Add(Entry{Chunk: chunk("d", 0), Vector: []float32{1, 0}}))
	res, err := ix.Search([]float32{1, 0}, 0)
	require.NoError(t, err)
	assert.Empty(t, res)
}

func TestSearch_Ranking(t *testing.T) {
	ix := New(2)
	require.NoError(t, ix.AddBatch([]Entry{
		{Chunk: chunk("d", 0), Vector: []float32{0, 1}},
		{Chunk: chunk("d", 1), Vector: []float32{1, 0}},
		{Chunk: chunk("d", 2), Vector: []float32{1, 1}},
	}))

	res, err := ix.Search([]float32{2, 0}, 2)
	require.NoError(t, err)
	require.Len(t, res, 2)
	assert.Equal(t, []string{"d:000001", "d:000002"}, ids(res))
	assert.InDelta(t, 1.0, res[0].Score, 1e-6)
	assert.InDelta(t, 0.7071, res[1].Score, 1e-3)
}

func TestSearch_SelfRetrieval(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	ix := New(16)
	vecs := make([][]float32, 50)
	for i := range vecs {
		v := make([]float32, 16)
		for j := range v {
			v[j] = rng.Float32()*2 - 1
		}
		vecs[i] = v
		require.NoError(t, ix.Add(Entry{Chunk: chunk("doc", i), Vector: v}))
	}

	for i, v := range vecs {
		res, err := ix.Search(v, 1)
		require.NoError(t, err)
		require.Len(t, res, 1)
		assert.Equal(t, document.ChunkID("doc", i), res[0].ChunkID)
		assert.InDelta(t, 1.0, res[0].Score, 1e-5)
	}
}

func TestSearch_TiesBreakByChunkID(t *testing.T) {
	ix := New(2)
	// Inserted out of order; all identical.
	for _, seq := range []int{3, 1, 2, 0} {
		require.NoError(t, ix.Add(Entry{Chunk: chunk("d", seq), Vector: []float32{1, 1}}))
	}
	res, err := ix.Search([]float32{1, 1}, 3)
	require.NoError(t, err)
	assert.Equal(t, []string{"d:000000", "d:000001", "d:000002"}, ids(res))
}

func TestSearch_KLargerThanIndex(t *testing.T) {
	ix := New(2)
	require.NoError(t, ix.AddBatch([]Entry{
		{Chunk: chunk("d", 0), Vector: []float32{1, 0}},
		{Chunk: chunk("d", 1), Vector: []float32{0, 1}},
	}))
	res, err := ix.Search([]float32{1, 0}, 3)
	require.NoError(t, err)
	assert.Len(t, res, 2)
}

func TestSearch_HugeK(t *testing.T) {
	ix := New(2)
	require.NoError(t, ix.AddBatch([]Entry{
		{Chunk: chunk("d", 0), Vector: []float32{1, 0}},
		{Chunk: chunk("d", 1), Vector: []float32{0, 1}},
	}))

	res, err := ix.Search([]float32{1, 0}, math.MaxInt)
	require.NoError(t, err)
	assert.Equal(t, []string{"d:000000", "d:000001"}, ids(res))

	res, err = ix.SearchDocument("d", []float32{1, 0}, math.MaxInt)
	require.NoError(t, err)
	assert.Len(t, res, 2)
}

func TestSearch_DimensionMismatch(t *testing.T) {
	ix := New(3)
	require.NoError(t, ix.Add(Entry{Chunk: chunk("d", 0), Vector: []float32{1, 0, 0}}))
	_, err := ix.Search([]float32{1, 0}, 1)
	assert.ErrorIs(t, err, document.ErrDimensionMismatch)
	_, err = ix.SearchDocument("d", []float32{1, 0}, 1)
	assert.ErrorIs(t, err, document.ErrDimensionMismatch)
}

func TestSearch_ZeroQuery(t *testing.T) {
	ix := New(2)
	require.NoError(t, ix.AddBatch([]Entry{
		{Chunk: chunk("d", 1), Vector: []float32{1, 0}},
		{Chunk: chunk("d", 0), Vector: []float32{0, 1}},
	}))
	res, err := ix.Search([]float32{0, 0}, 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"d:000000", "d:000001"}, ids(res))
	assert.Zero(t, res[0].Score)
}

func TestAdd_DimensionMismatch(t *testing.T) {
	ix := New(3)
	err := ix.Add(Entry{Chunk: chunk("d", 0), Vector: []float32{1, 2}})
	assert.ErrorIs(t, err, document.ErrDimensionMismatch)
	assert.Equal(t, 0, ix.Len())
}

func TestAdd_AdoptsFirstDimension(t *testing.T) {
	ix := New(0)
	require.NoError(t, ix.Add(Entry{Chunk: chunk("d", 0), Vector: []float32{1, 2, 3, 4}}))
	assert.Equal(t, 4, ix.Dimension())

	err := ix.Add(Entry{Chunk: chunk("d", 1), Vector: []float32{1, 2}})
	assert.ErrorIs(t, err, document.ErrDimensionMismatch)
}

func TestAdd_RejectsEmptyVectorInDimensionlessIndex(t *testing.T) {
	ix := New(0)
	err := ix.Add(Entry{Chunk: chunk("d", 0), Vector: nil})
	assert.ErrorIs(t, err, document.ErrDimensionMismatch)
	assert.Equal(t, 0, ix.Dimension())
}

func TestAddBatch_IsAtomic(t *testing.T) {
	ix := New(2)
	err := ix.AddBatch([]Entry{
		{Chunk: chunk("d", 0), Vector: []float32{1, 0}},
		{Chunk: chunk("d", 1), Vector: []float32{1, 0, 0}},
	})
	assert.ErrorIs(t, err, document.ErrDimensionMismatch)
	assert.Equal(t, 0, ix.Len())
	assert.False(t, ix.HasDocument("d"))
}

func TestAddBatch_Duplicates(t *testing.T) {
	ix := New(2)
	require.NoError(t, ix.Add(Entry{Chunk: chunk("d", 0), Vector: []float32{1, 0}}))

	err := ix.Add(Entry{Chunk: chunk("d", 0), Vector: []float32{0, 1}})
	assert.ErrorIs(t, err, document.ErrDuplicateChunk)

	err = ix.AddBatch([]Entry{
		{Chunk: chunk("e", 0), Vector: []float32{1, 0}},
		{Chunk: chunk("e", 0), Vector: []float32{0, 1}},
	})
	assert.ErrorIs(t, err, document.ErrDuplicateChunk)
	assert.Equal(t, 1, ix.Len())
}

func TestRemoveDocument(t *testing.T) {
	ix := New(2)
	require.NoError(t, ix.AddBatch([]Entry{
		{Chunk: chunk("a", 0), Vector: []float32{1, 0}},
		{Chunk: chunk("a", 1), Vector: []float32{1, 0.1}},
		{Chunk: chunk("b", 0), Vector: []float32{0.9, 0.1}},
	}))

	assert.Equal(t, 2, ix.RemoveDocument("a"))
	assert.Equal(t, 0, ix.RemoveDocument("a"))
	assert.Equal(t, 1, ix.Len())

	res, err := ix.Search([]float32{1, 0}, 5)
	require.NoError(t, err)
	assert.Equal(t, []string{"b:000000"}, ids(res))

	// Removed ids may be inserted again.
	require.NoError(t, ix.Add(Entry{Chunk: chunk("a", 0), Vector: []float32{1, 0}}))
}

func TestSearchDocument_Scoped(t *testing.T) {
	ix := New(2)
	require.NoError(t, ix.AddBatch([]Entry{
		{Chunk: chunk("a", 0), Vector: []float32{0, 1}},
		{Chunk: chunk("b", 0), Vector: []float32{1, 0}},
	}))
	res, err := ix.SearchDocument("a", []float32{1, 0}, 5)
	require.NoError(t, err)
	assert.Equal(t, []string{"a:000000"}, ids(res))
}

func TestDocumentChunks_SequenceOrder(t *testing.T) {
	ix := New(1)
	for _, seq := range []int{2, 0, 1} {
		require.NoError(t, ix.Add(Entry{Chunk: chunk("d", seq), Vector: []float32{1}}))
	}
	chunks := ix.DocumentChunks("d")
	require.Len(t, chunks, 3)
	for i, c := range chunks {
		assert.Equal(t, i, c.Sequence)
	}
	assert.Empty(t, ix.DocumentChunks("missing"))
}

func TestSearch_ParallelMatchesSequential(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	const dim = 8
	n := parallelThreshold + 1000
	ix := New(dim)
	entries := make([]Entry, n)
	for i := range entries {
		v := make([]float32, dim)
		for j := range v {
			// Coarse values make score ties likely.
			v[j] = float32(rng.Intn(3))
		}
		entries[i] = Entry{Chunk: chunk(fmt.Sprintf("doc%d", i%7), i), Vector: v}
	}
	require.NoError(t, ix.AddBatch(entries))

	q := []float32{1, 2, 0, 1, 0, 2, 1, 1}
	got, err := ix.Search(q, 25)
	require.NoError(t, err)

	want := scan(ix.all, normalize(q), 25).sorted()
	assert.Equal(t, ids(want), ids(got))

	all, err := ix.Search(q, math.MaxInt)
	require.NoError(t, err)
	assert.Len(t, all, n)
}

func TestIndex_ConcurrentAccess(t *testing.T) {
	ix := New(4)
	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			docID := fmt.Sprintf("doc%d", w)
			for i := 0; i < 50; i++ {
				v := []float32{float32(w), float32(i), 1, 0}
				if err := ix.Add(Entry{Chunk: chunk(docID, i), Vector: v}); err != nil {
					t.Errorf("add: %v", err)
					return
				}
			}
		}(w)
	}
	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				if _, err := ix.Search([]float32{1, 1, 1, 1}, 3); err != nil {
					t.Errorf("search: %v", err)
					return
				}
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 200, ix.Len())

	ix.RemoveDocument("doc0")
	assert.Equal(t, 150, ix.Len())
}

func BenchmarkSearch(b *testing.B) {
	rng := rand.New(rand.NewSource(1))
	const dim = 384
	ix := New(dim)
	entries := make([]Entry, 20000)
	for i := range entries {
		v := make([]float32, dim)
		for j := range v {
			v[j] = rng.Float32()
		}
		entries[i] = Entry{Chunk: chunk("bench", i), Vector: v}
	}
	if err := ix.AddBatch(entries); err != nil {
		b.Fatal(err)
	}
	q := entries[123].Vector

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := ix.Search(q, 5); err != nil {
			b.Fatal(err)
		}
	}
}
