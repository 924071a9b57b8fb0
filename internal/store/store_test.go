package store

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"legalrag/internal/fault"
)

func newTestStore(t *testing.T) *LocalStore {
	t.Helper()
	s, err := NewLocalStore(filepath.Join(t.TempDir(), "legalrag.db"))
	if err != nil {
		t.Fatalf("NewLocalStore failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRegisterDocumentDeduplicates(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	hash := strings.Repeat("a", 64)
	doc, dup, err := s.RegisterDocument(ctx, "civil_code.pdf", hash, "LAW_PROVISION", 1024)
	if err != nil {
		t.Fatalf("RegisterDocument failed: %v", err)
	}
	if dup {
		t.Fatal("first registration flagged as duplicate")
	}

	again, dup, err := s.RegisterDocument(ctx, "civil_code_copy.pdf", hash, "LAW_PROVISION", 1024)
	if err != nil {
		t.Fatalf("second RegisterDocument failed: %v", err)
	}
	if !dup {
		t.Fatal("same hash not detected as duplicate")
	}
	if again.ID != doc.ID {
		t.Errorf("duplicate returned different document: %s vs %s", again.ID, doc.ID)
	}
	if again.Filename != "civil_code.pdf" {
		t.Errorf("duplicate must return the original record, got filename %q", again.Filename)
	}
}

func TestSegmentSearchOrdersBySimilarity(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	doc, _, err := s.RegisterDocument(ctx, "law.txt", strings.Repeat("b", 64), "LAW_PROVISION", 10)
	if err != nil {
		t.Fatal(err)
	}

	segs := []Segment{
		{DocumentID: doc.ID, Ord: 0, Content: "far", ContentType: "LAW_PROVISION", Embedding: []float32{0, 1, 0}},
		{DocumentID: doc.ID, Ord: 1, Content: "near", ContentType: "LAW_PROVISION", Embedding: []float32{1, 0.1, 0}},
		{DocumentID: doc.ID, Ord: 2, Content: "exact", ContentType: "LAW_PROVISION", Embedding: []float32{1, 0, 0}},
	}
	if err := s.InsertSegments(ctx, segs); err != nil {
		t.Fatalf("InsertSegments failed: %v", err)
	}

	got, err := s.SearchSegments(ctx, []float32{1, 0, 0}, 2, SearchFilter{})
	if err != nil {
		t.Fatalf("SearchSegments failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 results, got %d", len(got))
	}
	if got[0].Content != "exact" || got[1].Content != "near" {
		t.Errorf("wrong ordering: %q then %q", got[0].Content, got[1].Content)
	}
	if got[0].Similarity < got[1].Similarity {
		t.Error("similarities not descending")
	}
}

func TestSegmentSearchEmptyStore(t *testing.T) {
	s := newTestStore(t)

	got, err := s.SearchSegments(context.Background(), []float32{1, 0}, 10, SearchFilter{})
	if err != nil {
		t.Fatalf("empty store search must not error: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("expected no results, got %d", len(got))
	}
}

func TestSegmentDimensionInvariant(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	doc, _, _ := s.RegisterDocument(ctx, "a.txt", strings.Repeat("c", 64), "GENERAL", 1)
	if _, err := s.InsertSegment(ctx, Segment{DocumentID: doc.ID, Ord: 0, Content: "x", Embedding: []float32{1, 2, 3}}); err != nil {
		t.Fatal(err)
	}

	_, err := s.InsertSegment(ctx, Segment{DocumentID: doc.ID, Ord: 1, Content: "y", Embedding: []float32{1, 2}})
	if fault.KindOf(err) != fault.KindInvariant {
		t.Fatalf("expected dimension invariant violation, got %v", err)
	}
}

func TestSegmentFilterByContentType(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	doc, _, _ := s.RegisterDocument(ctx, "mixed.txt", strings.Repeat("d", 64), "GENERAL", 1)
	s.InsertSegments(ctx, []Segment{
		{DocumentID: doc.ID, Ord: 0, Content: "law", ContentType: "LAW_PROVISION", Embedding: []float32{1, 0}},
		{DocumentID: doc.ID, Ord: 1, Content: "web", ContentType: "WEB_CONTENT", Embedding: []float32{1, 0}},
	})

	got, err := s.SearchSegments(ctx, []float32{1, 0}, 10, SearchFilter{ContentType: "LAW_PROVISION"})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].Content != "law" {
		t.Errorf("filter not applied: %+v", got)
	}
}

func TestDeleteDocumentRemovesSegments(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	doc, _, _ := s.RegisterDocument(ctx, "del.txt", strings.Repeat("e", 64), "GENERAL", 1)
	s.InsertSegments(ctx, []Segment{
		{DocumentID: doc.ID, Ord: 0, Content: "a", Embedding: []float32{1, 0}},
		{DocumentID: doc.ID, Ord: 1, Content: "b", Embedding: []float32{0, 1}},
	})

	if err := s.DeleteDocument(ctx, doc.ID); err != nil {
		t.Fatalf("DeleteDocument failed: %v", err)
	}
	n, err := s.SegmentCount(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Errorf("segments survived document delete: %d", n)
	}
	if _, err := s.DocumentByID(ctx, doc.ID); fault.KindOf(err) != fault.KindDocumentNotFound {
		t.Errorf("expected DOCUMENT_NOT_FOUND, got %v", err)
	}
}

func TestEnsureSessionTruncatesTitle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	long := strings.Repeat("合同纠纷怎么处理", 20)
	sess, err := s.EnsureSession(ctx, "conv-1", "user-1", "OLLAMA", long)
	if err != nil {
		t.Fatalf("EnsureSession failed: %v", err)
	}
	if got := len([]rune(sess.Title)); got > maxTitleRunes {
		t.Errorf("title not truncated: %d runes", got)
	}

	// Second ensure keeps the original title.
	sess2, err := s.EnsureSession(ctx, "conv-1", "user-1", "OLLAMA", "another question")
	if err != nil {
		t.Fatal(err)
	}
	if sess2.Title != sess.Title {
		t.Errorf("title changed on re-ensure: %q vs %q", sess2.Title, sess.Title)
	}
}

func TestSessionOwnerScoping(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.EnsureSession(ctx, "conv-2", "alice", "OLLAMA", "q"); err != nil {
		t.Fatal(err)
	}

	if _, err := s.GetSession(ctx, "conv-2", "mallory"); fault.KindOf(err) != fault.KindForbidden {
		t.Errorf("expected FORBIDDEN for wrong owner, got %v", err)
	}
	if _, err := s.GetSession(ctx, "missing", "alice"); fault.KindOf(err) != fault.KindSessionNotFound {
		t.Errorf("expected SESSION_NOT_FOUND, got %v", err)
	}
	if err := s.DeleteSession(ctx, "conv-2", "mallory"); fault.KindOf(err) != fault.KindForbidden {
		t.Errorf("expected FORBIDDEN on delete, got %v", err)
	}
	if err := s.DeleteSession(ctx, "conv-2", "alice"); err != nil {
		t.Errorf("owner delete failed: %v", err)
	}
}

func TestRecentMessagesWindow(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	s.EnsureSession(ctx, "conv-3", "u", "OLLAMA", "q")
	for i := 0; i < 15; i++ {
		msg := Message{ConversationID: "conv-3", Role: RoleUser, Content: strings.Repeat("x", i+1)}
		if err := s.AppendMessage(ctx, msg); err != nil {
			t.Fatal(err)
		}
	}

	msgs, err := s.RecentMessages(ctx, "conv-3", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 10 {
		t.Fatalf("expected 10 messages, got %d", len(msgs))
	}
	// Chronological: the oldest of the window is the 6th overall (length 6).
	if len(msgs[0].Content) != 6 || len(msgs[9].Content) != 15 {
		t.Errorf("window not chronological: first=%d last=%d", len(msgs[0].Content), len(msgs[9].Content))
	}
}

func TestReviewClaimIsAtomic(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	r, err := s.CreateReview(ctx, "alice", "contract.docx")
	if err != nil {
		t.Fatal(err)
	}

	if err := s.ClaimReview(ctx, r.ID); err != nil {
		t.Fatalf("first claim failed: %v", err)
	}
	if err := s.ClaimReview(ctx, r.ID); fault.KindOf(err) != fault.KindAlreadyClaimed {
		t.Errorf("expected ALREADY_CLAIMED on second claim, got %v", err)
	}
	if err := s.ClaimReview(ctx, "no-such-review"); fault.KindOf(err) != fault.KindReviewNotFound {
		t.Errorf("expected REVIEW_NOT_FOUND, got %v", err)
	}
}

func TestCompleteReviewWritesClausesAtomically(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	r, _ := s.CreateReview(ctx, "alice", "contract.docx")
	s.ClaimReview(ctx, r.ID)

	clauses := []RiskClause{
		{ClauseText: "违约金超过实际损失的百分之三十", RiskLevel: "HIGH", RiskType: "违约责任", Suggestion: "调整违约金比例"},
		{ClauseText: "争议解决条款未约定管辖法院", RiskLevel: "MEDIUM", RiskType: "争议解决", Suggestion: "明确约定管辖"},
	}
	if err := s.CompleteReview(ctx, r.ID, "HIGH", "合同存在高风险条款", 60, clauses); err != nil {
		t.Fatalf("CompleteReview failed: %v", err)
	}

	got, err := s.GetReview(ctx, r.ID, "alice")
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != ReviewCompleted || got.Progress != 100 || got.RiskLevel != "HIGH" {
		t.Errorf("unexpected review state: %+v", got)
	}

	stored, err := s.RiskClauses(ctx, r.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(stored) != 2 || stored[0].Ord != 0 || stored[1].Ord != 1 {
		t.Errorf("clauses not stored in order: %+v", stored)
	}

	// Completing again must fail: status is no longer PROCESSING.
	if err := s.CompleteReview(ctx, r.ID, "LOW", "", 90, nil); err == nil {
		t.Error("expected error completing a COMPLETED review")
	}
}

func TestResetReviewDropsClauses(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	r, _ := s.CreateReview(ctx, "alice", "c.docx")
	s.ClaimReview(ctx, r.ID)
	s.CompleteReview(ctx, r.ID, "LOW", "ok", 95, []RiskClause{{ClauseText: "x", RiskLevel: "LOW"}})

	if err := s.ResetReview(ctx, r.ID); err != nil {
		t.Fatalf("ResetReview failed: %v", err)
	}
	got, _ := s.GetReview(ctx, r.ID, "alice")
	if got.Status != ReviewPending || got.Progress != 0 {
		t.Errorf("reset did not restore PENDING: %+v", got)
	}
	clauses, _ := s.RiskClauses(ctx, r.ID)
	if len(clauses) != 0 {
		t.Errorf("stale clauses survived reset: %d", len(clauses))
	}

	// A reset review can be claimed again.
	if err := s.ClaimReview(ctx, r.ID); err != nil {
		t.Errorf("claim after reset failed: %v", err)
	}
}

func TestReviewListPagination(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if _, err := s.CreateReview(ctx, "alice", "c.docx"); err != nil {
			t.Fatal(err)
		}
	}
	s.CreateReview(ctx, "bob", "other.docx")

	page, err := s.ListReviews(ctx, "alice", 3, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(page) != 3 {
		t.Errorf("expected 3 reviews, got %d", len(page))
	}
	rest, err := s.ListReviews(ctx, "alice", 3, 3)
	if err != nil {
		t.Fatal(err)
	}
	if len(rest) != 2 {
		t.Errorf("expected 2 reviews on second page, got %d", len(rest))
	}
}
