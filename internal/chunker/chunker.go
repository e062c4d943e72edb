// Package chunker splits extracted page text into overlapping windows.
package chunker

import (
	"fmt"
	"sort"
	"strings"

	"github.com/kalambet/docmind/internal/document"
)

const (
	DefaultMaxChunkChars = 1000
	DefaultOverlapChars  = 200
)

// Config bounds the window size. Sizes are counted in runes.
type Config struct {
	MaxChunkChars int
	OverlapChars  int
}

// DefaultConfig returns the default chunking window.
func DefaultConfig() Config {
	return Config{MaxChunkChars: DefaultMaxChunkChars, OverlapChars: DefaultOverlapChars}
}

// Validate requires MaxChunkChars > OverlapChars >= 0.
func (c Config) Validate() error {
	if c.OverlapChars < 0 {
		return fmt.Errorf("%w: overlap_chars must be >= 0, got %d", document.ErrInvalidConfig, c.OverlapChars)
	}
	if c.MaxChunkChars <= c.OverlapChars {
		return fmt.Errorf("%w: max_chunk_chars (%d) must exceed overlap_chars (%d)",
			document.ErrInvalidConfig, c.MaxChunkChars, c.OverlapChars)
	}
	return nil
}

// Chunk concatenates the page texts and slides a window of MaxChunkChars
// over them, advancing by MaxChunkChars-OverlapChars. The last window may be
// shorter. A document without text yields no chunks.
func Chunk(docID, source string, pages []document.Page, cfg Config) ([]document.Chunk, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var text []rune
	// ends[i] is the exclusive rune offset where pages[i] stops.
	ends := make([]int, len(pages))
	for i, p := range pages {
		text = append(text, []rune(p.Text)...)
		ends[i] = len(text)
	}
	if len(text) == 0 {
		return nil, nil
	}

	step := cfg.MaxChunkChars - cfg.OverlapChars
	var chunks []document.Chunk
	for start, seq := 0, 0; ; start, seq = start+step, seq+1 {
		end := min(start+cfg.MaxChunkChars, len(text))
		pageStart := pages[pageAt(ends, start)].Index
		pageEnd := pages[pageAt(ends, end-1)].Index
		chunks = append(chunks, document.Chunk{
			ID:        document.ChunkID(docID, seq),
			DocID:     docID,
			Sequence:  seq,
			Text:      string(text[start:end]),
			Start:     start,
			End:       end,
			PageStart: pageStart,
			PageEnd:   pageEnd,
			PageLabel: document.PageLabel(pageStart, pageEnd),
			Source:    source,
		})
		if end == len(text) {
			break
		}
	}
	return chunks, nil
}

// pageAt returns the index of the page containing rune offset off.
func pageAt(ends []int, off int) int {
	return sort.Search(len(ends), func(i int) bool { return ends[i] > off })
}

// Reassemble rebuilds the document text from its chunks by dropping the
// part of each chunk that overlaps the one before it.
func Reassemble(chunks []document.Chunk) string {
	sorted := make([]document.Chunk, len(chunks))
	copy(sorted, chunks)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Sequence < sorted[j].Sequence })

	var sb strings.Builder
	covered := 0
	for _, c := range sorted {
		runes := []rune(c.Text)
		skip := covered - c.Start
		if skip < 0 {
			skip = 0
		}
		if skip < len(runes) {
			sb.WriteString(string(runes[skip:]))
		}
		if c.End > covered {
			covered = c.End
		}
	}
	return sb.String()
}
