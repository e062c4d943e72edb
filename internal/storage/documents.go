package storage

import (
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/kalambet/docmind/internal/document"
)

// timeFormat is fixed width so stored timestamps sort lexically.
const timeFormat = "2006-01-02T15:04:05.000000Z07:00"

func formatTime(t time.Time) string { return t.UTC().Format(timeFormat) }

func parseTime(s string) (time.Time, error) { return time.Parse(timeFormat, s) }

// --- Documents ---

const documentColumns = `id, filename, state, page_count, word_count, num_chunks, error_kind, error, archive_uri, created_at, updated_at`

// CreateDocument inserts a new document row.
func (s *Store) CreateDocument(d document.Document) error {
	now := time.Now()
	if d.CreatedAt.IsZero() {
		d.CreatedAt = now
	}
	if d.UpdatedAt.IsZero() {
		d.UpdatedAt = d.CreatedAt
	}
	_, err := s.db.Exec(`INSERT INTO documents (`+documentColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		d.ID, d.Filename, string(d.State), d.PageCount, d.WordCount, d.NumChunks,
		d.ErrorKind, d.Error, d.Archive, formatTime(d.CreatedAt), formatTime(d.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("inserting document %s: %w", d.ID, err)
	}
	return nil
}

func (s *Store) GetDocument(id string) (document.Document, error) {
	d, err := scanDocument(s.db.QueryRow(`SELECT `+documentColumns+` FROM documents WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return document.Document{}, ErrNotFound
	}
	return d, err
}

// ListDocuments returns documents newest first. An empty state lists all.
func (s *Store) ListDocuments(state document.State) ([]document.Document, error) {
	query := `SELECT ` + documentColumns + ` FROM documents`
	var args []any
	if state != "" {
		query += ` WHERE state = ?`
		args = append(args, string(state))
	}
	query += ` ORDER BY created_at DESC, id ASC`

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var docs []document.Document
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, d)
	}
	return docs, rows.Err()
}

// SetDocumentState records a state transition. errKind and errMsg are
// cleared for any state other than Error.
func (s *Store) SetDocumentState(id string, state document.State, errKind, errMsg string) error {
	if state != document.StateError {
		errKind, errMsg = "", ""
	}
	res, err := s.db.Exec(`UPDATE documents SET state = ?, error_kind = ?, error = ?, updated_at = ? WHERE id = ?`,
		string(state), errKind, errMsg, formatTime(time.Now()), id)
	if err != nil {
		return err
	}
	return expectOne(res)
}

// SetArchive records where the raw upload was stored.
func (s *Store) SetArchive(id, uri string) error {
	res, err := s.db.Exec(`UPDATE documents SET archive_uri = ?, updated_at = ? WHERE id = ?`,
		uri, formatTime(time.Now()), id)
	if err != nil {
		return err
	}
	return expectOne(res)
}

// FailInterruptedIngests moves documents stuck in Ingesting, left by a
// process that exited mid-ingest, to Error.
func (s *Store) FailInterruptedIngests() (int, error) {
	res, err := s.db.Exec(`UPDATE documents SET state = ?, error_kind = ?, error = ?, updated_at = ? WHERE state = ?`,
		string(document.StateError), "interrupted", "ingest interrupted by shutdown",
		formatTime(time.Now()), string(document.StateIngesting))
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// SaveIngest stores every chunk with its vector and marks the document Ready
// with the given stats, all in one transaction. Chunks from an earlier
// attempt are replaced.
func (s *Store) SaveIngest(d document.Document, chunks []document.Chunk, vectors [][]float32) error {
	if len(chunks) != len(vectors) {
		return fmt.Errorf("saving ingest: %d chunks but %d vectors", len(chunks), len(vectors))
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning ingest transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM chunks WHERE doc_id = ?`, d.ID); err != nil {
		return fmt.Errorf("clearing chunks: %w", err)
	}

	stmt, err := tx.Prepare(`INSERT INTO chunks
		(id, doc_id, seq, text, start_offset, end_offset, page_start, page_end, page_label, source, embedding)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("preparing chunk insert: %w", err)
	}
	defer stmt.Close()

	for i, c := range chunks {
		if _, err := stmt.Exec(c.ID, c.DocID, c.Sequence, c.Text, c.Start, c.End,
			c.PageStart, c.PageEnd, c.PageLabel, c.Source, encodeFloat32s(vectors[i])); err != nil {
			return fmt.Errorf("inserting chunk %s: %w", c.ID, err)
		}
	}

	res, err := tx.Exec(`UPDATE documents SET state = ?, page_count = ?, word_count = ?, num_chunks = ?,
		error_kind = '', error = '', updated_at = ? WHERE id = ?`,
		string(document.StateReady), d.PageCount, d.WordCount, len(chunks), formatTime(time.Now()), d.ID)
	if err != nil {
		return fmt.Errorf("updating document: %w", err)
	}
	if err := expectOne(res); err != nil {
		return err
	}
	return tx.Commit()
}

// LoadChunks returns a document's chunks in sequence order with their vectors.
func (s *Store) LoadChunks(docID string) ([]document.Chunk, [][]float32, error) {
	rows, err := s.db.Query(`
		SELECT id, doc_id, seq, text, start_offset, end_offset, page_start, page_end, page_label, source, embedding
		FROM chunks WHERE doc_id = ? ORDER BY seq ASC`, docID)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	var chunks []document.Chunk
	var vectors [][]float32
	for rows.Next() {
		var c document.Chunk
		var blob []byte
		if err := rows.Scan(&c.ID, &c.DocID, &c.Sequence, &c.Text, &c.Start, &c.End,
			&c.PageStart, &c.PageEnd, &c.PageLabel, &c.Source, &blob); err != nil {
			return nil, nil, err
		}
		vec, err := decodeFloat32s(blob)
		if err != nil {
			return nil, nil, fmt.Errorf("decoding embedding for chunk %s: %w", c.ID, err)
		}
		chunks = append(chunks, c)
		vectors = append(vectors, vec)
	}
	return chunks, vectors, rows.Err()
}

// DeleteDocument removes a document with its chunks and insights.
func (s *Store) DeleteDocument(id string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning delete transaction: %w", err)
	}
	defer tx.Rollback()

	for _, q := range []string{
		`DELETE FROM chunks WHERE doc_id = ?`,
		`DELETE FROM insights WHERE doc_id = ?`,
	} {
		if _, err := tx.Exec(q, id); err != nil {
			return fmt.Errorf("deleting document %s: %w", id, err)
		}
	}
	res, err := tx.Exec(`DELETE FROM documents WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting document %s: %w", id, err)
	}
	if err := expectOne(res); err != nil {
		return err
	}
	return tx.Commit()
}

func scanDocument(row rowScanner) (document.Document, error) {
	var d document.Document
	var state, createdAt, updatedAt string
	if err := row.Scan(&d.ID, &d.Filename, &state, &d.PageCount, &d.WordCount, &d.NumChunks,
		&d.ErrorKind, &d.Error, &d.Archive, &createdAt, &updatedAt); err != nil {
		return document.Document{}, err
	}
	d.State = document.State(state)

	var err error
	if d.CreatedAt, err = parseTime(createdAt); err != nil {
		return document.Document{}, fmt.Errorf("parsing created_at: %w", err)
	}
	if d.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return document.Document{}, fmt.Errorf("parsing updated_at: %w", err)
	}
	return d, nil
}

// --- Insights ---

// SetInsights upserts the insights record of a document.
func (s *Store) SetInsights(rec document.InsightsRecord) error {
	var payload sql.NullString
	if rec.Insights != nil {
		b, err := json.Marshal(rec.Insights)
		if err != nil {
			return fmt.Errorf("marshaling insights: %w", err)
		}
		payload = sql.NullString{String: string(b), Valid: true}
	}
	_, err := s.db.Exec(`
		INSERT INTO insights (doc_id, status, payload_json, error, updated_at) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(doc_id) DO UPDATE SET status = excluded.status, payload_json = excluded.payload_json,
			error = excluded.error, updated_at = excluded.updated_at`,
		rec.DocID, string(rec.Status), payload, rec.Error, formatTime(time.Now()),
	)
	return err
}

func (s *Store) GetInsights(docID string) (document.InsightsRecord, error) {
	var rec document.InsightsRecord
	var status, updatedAt string
	var payload sql.NullString
	err := s.db.QueryRow(`SELECT doc_id, status, payload_json, error, updated_at FROM insights WHERE doc_id = ?`, docID).
		Scan(&rec.DocID, &status, &payload, &rec.Error, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return document.InsightsRecord{}, ErrNotFound
	}
	if err != nil {
		return document.InsightsRecord{}, err
	}
	rec.Status = document.InsightsStatus(status)
	if payload.Valid {
		var in document.Insights
		if err := json.Unmarshal([]byte(payload.String), &in); err != nil {
			return document.InsightsRecord{}, fmt.Errorf("decoding insights for %s: %w", docID, err)
		}
		rec.Insights = &in
	}
	if rec.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return document.InsightsRecord{}, fmt.Errorf("parsing updated_at: %w", err)
	}
	return rec, nil
}

// --- Vector encoding ---

// encodeFloat32s serializes a float32 slice as little-endian bytes.
func encodeFloat32s(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// decodeFloat32s is the inverse of encodeFloat32s. A length that is not a
// multiple of 4 means the blob is corrupt.
func decodeFloat32s(b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("byte slice length %d is not a multiple of 4", len(b))
	}
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return v, nil
}
