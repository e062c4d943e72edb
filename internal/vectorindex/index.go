// Package vectorindex is the in-memory nearest-neighbour index over chunk
// embeddings.
//
// Search is exact: every entry is scored by cosine similarity and the top k
// are kept in a bounded heap. Results are therefore deterministic, with
// equal scores ordered by ascending chunk id. Large indexes are scanned in
// parallel partitions whose partial top-k lists are merged.
package vectorindex

import (
	"fmt"
	"runtime"
	"sort"
	"sync"

	"github.com/kalambet/docmind/internal/document"
)

// parallelThreshold is the entry count above which Search fans out.
const parallelThreshold = 8192

// Entry is a chunk vector to insert.
type Entry struct {
	Chunk  document.Chunk
	Vector []float32
}

// Result is one search hit.
type Result struct {
	ChunkID string
	Score   float32
	Chunk   document.Chunk
}

type entry struct {
	id    string
	docID string
	unit  []float32 // L2-normalised copy of the inserted vector
	chunk document.Chunk
}

// Index stores entries of a single dimension. Searches run concurrently;
// inserts and removals take the write lock, so a document's entries become
// visible all at once.
type Index struct {
	mu    sync.RWMutex
	dim   int
	all   []*entry
	byID  map[string]*entry
	byDoc map[string][]*entry
}

// New returns an empty index for vectors of size dim. When dim is 0 the
// first insert fixes it.
func New(dim int) *Index {
	return &Index{
		dim:   dim,
		byID:  make(map[string]*entry),
		byDoc: make(map[string][]*entry),
	}
}

// Dimension returns D, or 0 if nothing was inserted into a dimensionless index.
func (ix *Index) Dimension() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return ix.dim
}

// Len returns the number of entries.
func (ix *Index) Len() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.all)
}

// Add inserts a single entry.
func (ix *Index) Add(e Entry) error {
	return ix.AddBatch([]Entry{e})
}

// AddBatch inserts entries atomically: if any entry has the wrong dimension
// or a chunk id already present, nothing is inserted.
func (ix *Index) AddBatch(entries []Entry) error {
	if len(entries) == 0 {
		return nil
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()

	dim := ix.dim
	if dim == 0 {
		dim = len(entries[0].Vector)
	}
	seen := make(map[string]struct{}, len(entries))
	for _, e := range entries {
		if len(e.Vector) != dim || dim == 0 {
			return fmt.Errorf("%w: chunk %s has %d dimensions, index has %d",
				document.ErrDimensionMismatch, e.Chunk.ID, len(e.Vector), dim)
		}
		if _, ok := ix.byID[e.Chunk.ID]; ok {
			return fmt.Errorf("%w: %s", document.ErrDuplicateChunk, e.Chunk.ID)
		}
		if _, ok := seen[e.Chunk.ID]; ok {
			return fmt.Errorf("%w: %s", document.ErrDuplicateChunk, e.Chunk.ID)
		}
		seen[e.Chunk.ID] = struct{}{}
	}

	ix.dim = dim
	for _, e := range entries {
		en := &entry{
			id:    e.Chunk.ID,
			docID: e.Chunk.DocID,
			unit:  normalize(e.Vector),
			chunk: e.Chunk,
		}
		ix.all = append(ix.all, en)
		ix.byID[en.id] = en
		ix.byDoc[en.docID] = append(ix.byDoc[en.docID], en)
	}
	return nil
}

// RemoveDocument evicts every entry of docID and returns how many were removed.
func (ix *Index) RemoveDocument(docID string) int {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	removed := ix.byDoc[docID]
	if len(removed) == 0 {
		return 0
	}
	for _, en := range removed {
		delete(ix.byID, en.id)
	}
	delete(ix.byDoc, docID)

	kept := ix.all[:0]
	for _, en := range ix.all {
		if en.docID != docID {
			kept = append(kept, en)
		}
	}
	// Release pointers held past the new length.
	for i := len(kept); i < len(ix.all); i++ {
		ix.all[i] = nil
	}
	ix.all = kept
	return len(removed)
}

// HasDocument reports whether docID has any entries.
func (ix *Index) HasDocument(docID string) bool {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.byDoc[docID]) > 0
}

// DocumentChunks returns the chunks of docID in sequence order.
func (ix *Index) DocumentChunks(docID string) []document.Chunk {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	entries := ix.byDoc[docID]
	chunks := make([]document.Chunk, len(entries))
	for i, en := range entries {
		chunks[i] = en.chunk
	}
	sort.Slice(chunks, func(i, j int) bool { return chunks[i].Sequence < chunks[j].Sequence })
	return chunks
}

// Search returns up to k entries most similar to query across all documents,
// sorted by descending score and ascending chunk id on ties. An empty index
// yields an empty result.
func (ix *Index) Search(query []float32, k int) ([]Result, error) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	if k <= 0 || len(ix.all) == 0 {
		return []Result{}, nil
	}
	if len(query) != ix.dim {
		return nil, fmt.Errorf("%w: query has %d dimensions, index has %d",
			document.ErrDimensionMismatch, len(query), ix.dim)
	}

	q := normalize(query)
	if len(ix.all) < parallelThreshold {
		return scan(ix.all, q, k).sorted(), nil
	}
	return parallelScan(ix.all, q, k), nil
}

// SearchDocument is Search restricted to the entries of docID.
func (ix *Index) SearchDocument(docID string, query []float32, k int) ([]Result, error) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	entries := ix.byDoc[docID]
	if k <= 0 || len(entries) == 0 {
		return []Result{}, nil
	}
	if len(query) != ix.dim {
		return nil, fmt.Errorf("%w: query has %d dimensions, index has %d",
			document.ErrDimensionMismatch, len(query), ix.dim)
	}
	return scan(entries, normalize(query), k).sorted(), nil
}

func scan(entries []*entry, q []float32, k int) *topK {
	t := newTopK(k, len(entries))
	for _, en := range entries {
		t.offer(Result{ChunkID: en.id, Score: dot(q, en.unit), Chunk: en.chunk})
	}
	return t
}

func parallelScan(entries []*entry, q []float32, k int) []Result {
	workers := runtime.GOMAXPROCS(0)
	size := (len(entries) + workers - 1) / workers
	parts := make([]*topK, 0, workers)
	var mu sync.Mutex
	var wg sync.WaitGroup

	for start := 0; start < len(entries); start += size {
		end := min(start+size, len(entries))
		wg.Add(1)
		go func(part []*entry) {
			defer wg.Done()
			t := scan(part, q, k)
			mu.Lock()
			parts = append(parts, t)
			mu.Unlock()
		}(entries[start:end])
	}
	wg.Wait()

	merged := newTopK(k, len(entries))
	for _, p := range parts {
		for _, r := range p.items {
			merged.offer(r)
		}
	}
	return merged.sorted()
}
