// Package document holds the types shared by the ingest and query paths:
// pages, chunks, answers, insights and the per-document state machine.
package document

import (
	"fmt"
	"time"
)

// State is the ingest lifecycle of a document.
type State string

const (
	StateUploaded  State = "uploaded"
	StateIngesting State = "ingesting"
	StateReady     State = "ready"
	StateError     State = "error"
)

// Page is the extracted text of one PDF page.
type Page struct {
	Index  int    `json:"index"`
	Text   string `json:"text"`
	Failed bool   `json:"failed,omitempty"`
}

// Chunk is a bounded, contiguous span of a document's text.
// Start and End are rune offsets into the concatenated page text.
type Chunk struct {
	ID        string `json:"chunk_id"`
	DocID     string `json:"doc_id"`
	Sequence  int    `json:"sequence_index"`
	Text      string `json:"text"`
	Start     int    `json:"start"`
	End       int    `json:"end"`
	PageStart int    `json:"page_start"`
	PageEnd   int    `json:"page_end"`
	PageLabel string `json:"page_label"`
	Source    string `json:"source"`
}

// ChunkID returns the identifier of the chunk at seq within docID.
// Zero padding keeps lexical order equal to sequence order.
func ChunkID(docID string, seq int) string {
	return fmt.Sprintf("%s:%06d", docID, seq)
}

// PageLabel renders a 0-based page range as a 1-based label.
func PageLabel(start, end int) string {
	if start == end {
		return fmt.Sprintf("%d", start+1)
	}
	return fmt.Sprintf("%d-%d", start+1, end+1)
}

// Document is the metadata of an uploaded file.
type Document struct {
	ID        string    `json:"doc_id"`
	Filename  string    `json:"filename"`
	State     State     `json:"status"`
	PageCount int       `json:"page_count"`
	WordCount int       `json:"word_count"`
	NumChunks int       `json:"num_chunks"`
	ErrorKind string    `json:"error_kind,omitempty"`
	Error     string    `json:"error,omitempty"`
	// Archive is where the raw upload was copied, if archiving is enabled.
	Archive   string    `json:"archive,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Source is the citation attached to an answer.
type Source struct {
	Title      string `json:"title"`
	PageLabel  string `json:"page_label"`
	TotalPages int    `json:"total_pages"`
	Source     string `json:"source"`
}

// Answer is the result of a question against one document.
type Answer struct {
	Answer   string   `json:"answer"`
	Sources  []Source `json:"sources"`
	Degraded bool     `json:"degraded"`
}

// InsightsStatus is the extraction lifecycle of a document's insights.
type InsightsStatus string

const (
	InsightsPending    InsightsStatus = "pending"
	InsightsProcessing InsightsStatus = "processing"
	InsightsReady      InsightsStatus = "ready"
	InsightsError      InsightsStatus = "error"
)

// Entities groups named entities by category.
type Entities struct {
	People        []string `json:"people"`
	Organizations []string `json:"organizations"`
	Dates         []string `json:"dates"`
	Locations     []string `json:"locations"`
}

// DocumentStats holds locally computed reading statistics.
type DocumentStats struct {
	EstimatedReadingTime string `json:"estimated_reading_time"`
	ComplexityScore      string `json:"complexity_score"`
}

// Insights is the derived analysis of a document.
type Insights struct {
	Summary       string        `json:"summary"`
	KeyTopics     []string      `json:"key_topics"`
	ActionItems   []string      `json:"action_items"`
	Entities      Entities      `json:"entities"`
	Sentiment     string        `json:"sentiment"`
	DocumentStats DocumentStats `json:"document_stats"`
}

// InsightsRecord is the stored insights state for one document.
type InsightsRecord struct {
	DocID     string
	Status    InsightsStatus
	Insights  *Insights
	Error     string
	UpdatedAt time.Time
}
