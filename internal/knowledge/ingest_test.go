package knowledge

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"legalrag/internal/docparse"
	"legalrag/internal/store"
	"legalrag/internal/textproc"
)

type fixedEngine struct{ vec []float32 }

func (e fixedEngine) Embed(ctx context.Context, text string) ([]float32, error) {
	return e.vec, nil
}

func (e fixedEngine) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = e.vec
	}
	return out, nil
}

func (e fixedEngine) Dimensions() int { return len(e.vec) }
func (e fixedEngine) Name() string    { return "fixed" }

func newTestIndexer(t *testing.T) (*Indexer, *store.LocalStore) {
	t.Helper()
	db, err := store.NewLocalStore(filepath.Join(t.TempDir(), "knowledge.db"))
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	proc, err := textproc.NewProcessor(100, 20, 500)
	if err != nil {
		t.Fatal(err)
	}
	ix := NewIndexer(db, docparse.NewParser(0), proc, fixedEngine{vec: []float32{1, 0, 0}})
	return ix, db
}

const lawText = "中华人民共和国民法典。第五百七十七条 当事人一方不履行合同义务或者履行合同义务不符合约定的,应当承担继续履行、采取补救措施或者赔偿损失等违约责任。"

func TestIngestReaderIndexesDocument(t *testing.T) {
	ix, db := newTestIndexer(t)
	ctx := context.Background()

	doc, n, err := ix.IngestReader(ctx, strings.NewReader(lawText), "民法典.txt", "")
	if err != nil {
		t.Fatalf("IngestReader failed: %v", err)
	}
	if n == 0 {
		t.Fatal("no segments written")
	}
	if doc.Status != store.DocStatusIndexed {
		t.Errorf("status %s, want INDEXED", doc.Status)
	}
	if doc.ContentType != "LAW_PROVISION" {
		t.Errorf("inferred content type %s, want LAW_PROVISION", doc.ContentType)
	}

	segs, err := db.SegmentsByDocument(ctx, doc.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(segs) != n {
		t.Errorf("persisted %d segments, reported %d", len(segs), n)
	}
	for _, seg := range segs {
		if seg.Source != "民法典.txt" {
			t.Errorf("segment source %q, want filename", seg.Source)
		}
	}
}

func TestIngestDeduplicatesByContent(t *testing.T) {
	ix, _ := newTestIndexer(t)
	ctx := context.Background()

	first, n1, err := ix.IngestReader(ctx, strings.NewReader(lawText), "民法典.txt", "")
	if err != nil {
		t.Fatal(err)
	}
	// Same bytes under a different name: skipped, original returned.
	second, n2, err := ix.IngestReader(ctx, strings.NewReader(lawText), "民法典副本.txt", "")
	if err != nil {
		t.Fatal(err)
	}
	if n2 != 0 {
		t.Errorf("duplicate wrote %d segments, want 0", n2)
	}
	if second.ID != first.ID {
		t.Errorf("duplicate returned new document %s, want original %s", second.ID, first.ID)
	}
	if n1 == 0 {
		t.Error("original ingest wrote no segments")
	}
}

func TestIngestFailedDocumentRetries(t *testing.T) {
	ix, db := newTestIndexer(t)
	ctx := context.Background()

	// Register the hash with FAILED status; a re-ingest of the same bytes
	// must run the pipeline instead of skipping.
	doc, n, err := ix.IngestReader(ctx, strings.NewReader(lawText), "民法典.txt", "")
	if err != nil {
		t.Fatal(err)
	}
	if err := db.SetDocumentStatus(ctx, doc.ID, store.DocStatusFailed, 0); err != nil {
		t.Fatal(err)
	}

	doc2, n2, err := ix.IngestReader(ctx, strings.NewReader(lawText), "民法典.txt", "")
	if err != nil {
		t.Fatalf("re-ingest failed: %v", err)
	}
	if doc2.ID != doc.ID {
		t.Errorf("re-ingest created new document %s", doc2.ID)
	}
	if n2 != n {
		t.Errorf("re-ingest wrote %d segments, want %d", n2, n)
	}
	if doc2.Status != store.DocStatusIndexed {
		t.Errorf("status %s after re-ingest, want INDEXED", doc2.Status)
	}

	// The rerun replaces the old segments instead of stacking on top of them.
	segs, err := db.SegmentsByDocument(ctx, doc.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(segs) != n2 {
		t.Errorf("found %d segments after re-index, want %d", len(segs), n2)
	}
}

func TestBulkIndexWalksDirectory(t *testing.T) {
	ix, _ := newTestIndexer(t)
	ctx := context.Background()
	dir := t.TempDir()

	files := map[string]string{
		"民法典.txt":  lawText,
		"劳动法.md":   "中华人民共和国劳动法。第三条 劳动者享有平等就业和选择职业的权利。",
		"notes.xyz": "unsupported format, must be skipped",
	}
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0644); err != nil {
			t.Fatal(err)
		}
	}

	result, err := ix.BulkIndex(ctx, dir)
	if err != nil {
		t.Fatalf("BulkIndex failed: %v", err)
	}
	if result.Indexed != 2 {
		t.Errorf("indexed %d files, want 2", result.Indexed)
	}
	if result.Failed != 0 {
		t.Errorf("unexpected failures: %d", result.Failed)
	}
	if result.Segments == 0 {
		t.Error("no segments reported")
	}

	// Second run over the same directory skips everything.
	again, err := ix.BulkIndex(ctx, dir)
	if err != nil {
		t.Fatal(err)
	}
	if again.Indexed != 0 || again.Skipped != 2 {
		t.Errorf("rerun got %+v, want all skipped", again)
	}
}

func TestRemoveDeletesDocumentAndSegments(t *testing.T) {
	ix, db := newTestIndexer(t)
	ctx := context.Background()

	doc, _, err := ix.IngestReader(ctx, strings.NewReader(lawText), "民法典.txt", "")
	if err != nil {
		t.Fatal(err)
	}
	if err := ix.Remove(ctx, doc.ID); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}

	if _, err := db.DocumentByID(ctx, doc.ID); err == nil {
		t.Error("document still present after Remove")
	}
	segs, err := db.SegmentsByDocument(ctx, doc.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(segs) != 0 {
		t.Errorf("%d segments left behind", len(segs))
	}
}

func TestWatcherIndexesNewFiles(t *testing.T) {
	ix, db := newTestIndexer(t)
	dir := t.TempDir()

	w, err := NewWatcher(dir, ix)
	if err != nil {
		t.Fatalf("NewWatcher failed: %v", err)
	}
	w.debounceDur = 50 * time.Millisecond

	ctx := context.Background()
	if err := w.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer w.Stop()

	if err := os.WriteFile(filepath.Join(dir, "民法典.txt"), []byte(lawText), 0644); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		docs, err := db.ListDocuments(ctx)
		if err != nil {
			t.Fatal(err)
		}
		if len(docs) == 1 && docs[0].Status == store.DocStatusIndexed {
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatal("watcher did not index the new file in time")
}

func TestWatcherIgnoresUnsupportedFiles(t *testing.T) {
	ix, db := newTestIndexer(t)
	dir := t.TempDir()

	w, err := NewWatcher(dir, ix)
	if err != nil {
		t.Fatal(err)
	}
	w.debounceDur = 50 * time.Millisecond

	ctx := context.Background()
	if err := w.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer w.Stop()

	if err := os.WriteFile(filepath.Join(dir, "ignore.xyz"), []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}

	time.Sleep(500 * time.Millisecond)
	docs, err := db.ListDocuments(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(docs) != 0 {
		t.Errorf("unsupported file was indexed: %+v", docs)
	}
}
