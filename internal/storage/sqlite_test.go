package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/kalambet/docmind/internal/document"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(MemoryDSN)
	if err != nil {
		t.Fatalf("Open(%s) failed: %v", MemoryDSN, err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// TestMigrationsIdempotent runs Open twice on the same database and verifies
// the schema_version count stays correct (migration not re-applied).
func TestMigrationsIdempotent(t *testing.T) {
	dir := t.TempDir()

	s1, err := Open(dir)
	if err != nil {
		t.Fatalf("first Open failed: %v", err)
	}
	v1, err := s1.AppliedMigrations()
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}
	s1.Close()

	s2, err := Open(dir)
	if err != nil {
		t.Fatalf("second Open failed: %v", err)
	}
	defer s2.Close()

	v2, err := s2.AppliedMigrations()
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}
	if len(v1) == 0 || len(v1) != len(v2) {
		t.Errorf("migration count changed: %d -> %d", len(v1), len(v2))
	}
}

func TestOpen_CreatesDataDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "data")
	s, err := Open(dir)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer s.Close()

	info, err := os.Stat(dir)
	if err != nil {
		t.Fatalf("stat data dir: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0o700 {
		t.Errorf("data dir mode = %o, want 700", perm)
	}
	if _, err := os.Stat(filepath.Join(dir, DBFile)); err != nil {
		t.Errorf("database file missing: %v", err)
	}
}

func TestParseMigrationVersion(t *testing.T) {
	if v, err := parseMigrationVersion("001_init.sql"); err != nil || v != 1 {
		t.Errorf("parseMigrationVersion(001_init.sql) = %d, %v", v, err)
	}
	if _, err := parseMigrationVersion("init.sql"); err == nil {
		t.Error("expected error for a file without a version prefix")
	}
}

func TestIndexesExist(t *testing.T) {
	s := openTestStore(t)

	for _, idx := range []string{"idx_documents_state", "idx_chunks_doc_id", "idx_jobs_status_run_after"} {
		var count int
		err := s.db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='index' AND name=?", idx).Scan(&count)
		if err != nil {
			t.Fatalf("querying sqlite_master for %q: %v", idx, err)
		}
		if count != 1 {
			t.Errorf("index %q not found in sqlite_master", idx)
		}
	}
}

func newDoc(id string) document.Document {
	return document.Document{ID: id, Filename: id + ".pdf", State: document.StateUploaded}
}

func TestCreateAndGetDocument(t *testing.T) {
	s := openTestStore(t)

	created := time.Date(2025, 3, 1, 12, 0, 0, 123456000, time.UTC)
	d := newDoc("doc-1")
	d.CreatedAt = created
	if err := s.CreateDocument(d); err != nil {
		t.Fatalf("CreateDocument: %v", err)
	}

	got, err := s.GetDocument("doc-1")
	if err != nil {
		t.Fatalf("GetDocument: %v", err)
	}
	if got.Filename != "doc-1.pdf" || got.State != document.StateUploaded {
		t.Errorf("got %+v", got)
	}
	if !got.CreatedAt.Equal(created) {
		t.Errorf("CreatedAt = %v, want %v", got.CreatedAt, created)
	}

	if err := s.CreateDocument(d); err == nil {
		t.Error("duplicate CreateDocument should fail")
	}
}

func TestGetDocumentNotFound(t *testing.T) {
	s := openTestStore(t)
	if _, err := s.GetDocument("missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestSetDocumentState(t *testing.T) {
	s := openTestStore(t)
	if err := s.CreateDocument(newDoc("d")); err != nil {
		t.Fatalf("CreateDocument: %v", err)
	}

	if err := s.SetDocumentState("d", document.StateError, "corrupt_document", "xref table broken"); err != nil {
		t.Fatalf("SetDocumentState: %v", err)
	}
	got, _ := s.GetDocument("d")
	if got.State != document.StateError || got.ErrorKind != "corrupt_document" || got.Error != "xref table broken" {
		t.Errorf("got %+v", got)
	}

	// Leaving Error clears the error fields.
	if err := s.SetDocumentState("d", document.StateIngesting, "ignored", "ignored"); err != nil {
		t.Fatalf("SetDocumentState: %v", err)
	}
	got, _ = s.GetDocument("d")
	if got.State != document.StateIngesting || got.ErrorKind != "" || got.Error != "" {
		t.Errorf("got %+v", got)
	}

	if err := s.SetDocumentState("missing", document.StateReady, "", ""); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestListDocuments(t *testing.T) {
	s := openTestStore(t)
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, state := range []document.State{document.StateReady, document.StateError, document.StateReady} {
		d := newDoc(fmt.Sprintf("d%d", i))
		d.State = state
		d.CreatedAt = base.Add(time.Duration(i) * time.Minute)
		if err := s.CreateDocument(d); err != nil {
			t.Fatalf("CreateDocument: %v", err)
		}
	}

	all, err := s.ListDocuments("")
	if err != nil {
		t.Fatalf("ListDocuments: %v", err)
	}
	if len(all) != 3 || all[0].ID != "d2" || all[2].ID != "d0" {
		t.Errorf("ListDocuments(all) = %v, want newest first", ids(all))
	}

	ready, err := s.ListDocuments(document.StateReady)
	if err != nil {
		t.Fatalf("ListDocuments: %v", err)
	}
	if len(ready) != 2 {
		t.Errorf("ListDocuments(ready) = %v", ids(ready))
	}
}

func ids(docs []document.Document) []string {
	out := make([]string, len(docs))
	for i, d := range docs {
		out[i] = d.ID
	}
	return out
}

func testChunks(docID string, n int) ([]document.Chunk, [][]float32) {
	chunks := make([]document.Chunk, n)
	vectors := make([][]float32, n)
	for i := range chunks {
		chunks[i] = document.Chunk{
			ID: document.ChunkID(docID, i), DocID: docID, Sequence: i,
			Text: fmt.Sprintf("chunk %d", i), Start: i * 10, End: i*10 + 12,
			PageStart: i, PageEnd: i + 1, PageLabel: document.PageLabel(i, i+1), Source: "report.pdf",
		}
		vectors[i] = []float32{float32(i), 0.5, -1.25}
	}
	return chunks, vectors
}

func TestSaveIngestAndLoadChunks(t *testing.T) {
	s := openTestStore(t)
	d := newDoc("doc")
	if err := s.CreateDocument(d); err != nil {
		t.Fatalf("CreateDocument: %v", err)
	}

	chunks, vectors := testChunks("doc", 3)
	d.PageCount, d.WordCount = 4, 321
	if err := s.SaveIngest(d, chunks, vectors); err != nil {
		t.Fatalf("SaveIngest: %v", err)
	}

	got, err := s.GetDocument("doc")
	if err != nil {
		t.Fatalf("GetDocument: %v", err)
	}
	if got.State != document.StateReady || got.NumChunks != 3 || got.PageCount != 4 || got.WordCount != 321 {
		t.Errorf("document = %+v", got)
	}

	loaded, vecs, err := s.LoadChunks("doc")
	if err != nil {
		t.Fatalf("LoadChunks: %v", err)
	}
	if len(loaded) != 3 || len(vecs) != 3 {
		t.Fatalf("loaded %d chunks, %d vectors", len(loaded), len(vecs))
	}
	for i := range loaded {
		if loaded[i] != chunks[i] {
			t.Errorf("chunk %d = %+v, want %+v", i, loaded[i], chunks[i])
		}
		for j := range vecs[i] {
			if vecs[i][j] != vectors[i][j] {
				t.Errorf("vector %d = %v, want %v", i, vecs[i], vectors[i])
				break
			}
		}
	}
}

func TestSaveIngest_ReplacesEarlierChunks(t *testing.T) {
	s := openTestStore(t)
	d := newDoc("doc")
	s.CreateDocument(d)

	chunks, vectors := testChunks("doc", 5)
	if err := s.SaveIngest(d, chunks, vectors); err != nil {
		t.Fatalf("SaveIngest: %v", err)
	}
	chunks, vectors = testChunks("doc", 2)
	if err := s.SaveIngest(d, chunks, vectors); err != nil {
		t.Fatalf("second SaveIngest: %v", err)
	}
	loaded, _, _ := s.LoadChunks("doc")
	if len(loaded) != 2 {
		t.Errorf("loaded %d chunks, want 2", len(loaded))
	}
}

func TestSaveIngest_RollsBackOnMissingDocument(t *testing.T) {
	s := openTestStore(t)
	chunks, vectors := testChunks("ghost", 2)
	if err := s.SaveIngest(newDoc("ghost"), chunks, vectors); !errors.Is(err, ErrNotFound) {
		t.Fatalf("SaveIngest err = %v, want ErrNotFound", err)
	}
	loaded, _, err := s.LoadChunks("ghost")
	if err != nil {
		t.Fatalf("LoadChunks: %v", err)
	}
	if len(loaded) != 0 {
		t.Errorf("found %d chunks after rollback", len(loaded))
	}
}

func TestSaveIngest_LengthMismatch(t *testing.T) {
	s := openTestStore(t)
	chunks, _ := testChunks("d", 2)
	if err := s.SaveIngest(newDoc("d"), chunks, nil); err == nil {
		t.Fatal("expected error")
	}
}

func TestDeleteDocument(t *testing.T) {
	s := openTestStore(t)
	d := newDoc("doc")
	s.CreateDocument(d)
	chunks, vectors := testChunks("doc", 2)
	s.SaveIngest(d, chunks, vectors)
	s.SetInsights(document.InsightsRecord{DocID: "doc", Status: document.InsightsPending})

	if err := s.DeleteDocument("doc"); err != nil {
		t.Fatalf("DeleteDocument: %v", err)
	}
	if _, err := s.GetDocument("doc"); !errors.Is(err, ErrNotFound) {
		t.Errorf("document still present: %v", err)
	}
	if loaded, _, _ := s.LoadChunks("doc"); len(loaded) != 0 {
		t.Errorf("%d chunks remain", len(loaded))
	}
	if _, err := s.GetInsights("doc"); !errors.Is(err, ErrNotFound) {
		t.Errorf("insights remain: %v", err)
	}
	if err := s.DeleteDocument("doc"); !errors.Is(err, ErrNotFound) {
		t.Errorf("second delete = %v, want ErrNotFound", err)
	}
}

func TestFailInterruptedIngests(t *testing.T) {
	s := openTestStore(t)
	a, b := newDoc("a"), newDoc("b")
	a.State = document.StateIngesting
	b.State = document.StateReady
	s.CreateDocument(a)
	s.CreateDocument(b)

	n, err := s.FailInterruptedIngests()
	if err != nil {
		t.Fatalf("FailInterruptedIngests: %v", err)
	}
	if n != 1 {
		t.Errorf("n = %d, want 1", n)
	}
	got, _ := s.GetDocument("a")
	if got.State != document.StateError || got.ErrorKind == "" {
		t.Errorf("a = %+v", got)
	}
	got, _ = s.GetDocument("b")
	if got.State != document.StateReady {
		t.Errorf("b = %+v", got)
	}
}

func TestSetArchive(t *testing.T) {
	s := openTestStore(t)
	s.CreateDocument(newDoc("d"))
	if err := s.SetArchive("d", "gs://bucket/d/d.pdf"); err != nil {
		t.Fatalf("SetArchive: %v", err)
	}
	got, _ := s.GetDocument("d")
	if got.Archive != "gs://bucket/d/d.pdf" {
		t.Errorf("Archive = %q", got.Archive)
	}
}

func TestInsightsRoundTrip(t *testing.T) {
	s := openTestStore(t)

	if _, err := s.GetInsights("d"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("GetInsights on empty store = %v, want ErrNotFound", err)
	}

	if err := s.SetInsights(document.InsightsRecord{DocID: "d", Status: document.InsightsPending}); err != nil {
		t.Fatalf("SetInsights: %v", err)
	}
	rec, err := s.GetInsights("d")
	if err != nil {
		t.Fatalf("GetInsights: %v", err)
	}
	if rec.Status != document.InsightsPending || rec.Insights != nil {
		t.Errorf("rec = %+v", rec)
	}

	in := &document.Insights{
		Summary:   "Quarterly results.",
		KeyTopics: []string{"revenue", "growth"},
		Entities:  document.Entities{Organizations: []string{"Acme Corp"}},
		Sentiment: "Positive",
		DocumentStats: document.DocumentStats{
			EstimatedReadingTime: "3 minutes",
			ComplexityScore:      "Medium",
		},
	}
	if err := s.SetInsights(document.InsightsRecord{DocID: "d", Status: document.InsightsReady, Insights: in}); err != nil {
		t.Fatalf("SetInsights: %v", err)
	}
	rec, err = s.GetInsights("d")
	if err != nil {
		t.Fatalf("GetInsights: %v", err)
	}
	if rec.Status != document.InsightsReady || rec.Insights == nil {
		t.Fatalf("rec = %+v", rec)
	}
	if rec.Insights.Summary != in.Summary || rec.Insights.Entities.Organizations[0] != "Acme Corp" {
		t.Errorf("insights = %+v", rec.Insights)
	}
	if rec.UpdatedAt.IsZero() {
		t.Error("UpdatedAt not set")
	}
}

func TestFloat32Encoding(t *testing.T) {
	v := []float32{0, 1.5, -2.25, 3.4028235e38}
	got, err := decodeFloat32s(encodeFloat32s(v))
	if err != nil {
		t.Fatalf("decodeFloat32s: %v", err)
	}
	for i := range v {
		if got[i] != v[i] {
			t.Errorf("got[%d] = %v, want %v", i, got[i], v[i])
		}
	}
	if _, err := decodeFloat32s([]byte{1, 2, 3}); err == nil {
		t.Error("expected error for truncated blob")
	}
}
