package doccomplex

import (
	"context"
	"testing"

	"bayou/internal/deltadoc"
	"bayou/internal/errs"
	"bayou/internal/storage"
)

func TestOpen_NotFound(t *testing.T) {
	store := storage.NewMemStore()
	dc, err := Open(context.Background(), store, "missing", Options{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if dc.Status != StatusNotFound {
		t.Fatalf("Status = %s, want not_found", dc.Status)
	}
}

func TestCreateThenOpen_OK(t *testing.T) {
	store := storage.NewMemStore()
	ctx := context.Background()

	initial := deltadoc.Body{{Kind: deltadoc.KindInsert, Text: "hello"}}
	dc, err := Create(ctx, store, "doc1", initial, Options{})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if dc.Status != StatusOK {
		t.Fatalf("Status = %s, want ok", dc.Status)
	}
	defer dc.Close(ctx)

	head, err := dc.Body.CurrentRevNum(ctx)
	if err != nil {
		t.Fatalf("CurrentRevNum: %v", err)
	}
	if head != 1 {
		t.Fatalf("head = %d, want 1", head)
	}
	body, _, err := dc.Body.Snapshot(ctx, head)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	text, _ := body.Text()
	if text != "hello" {
		t.Fatalf("text = %q, want %q", text, "hello")
	}

	reopened, err := Open(ctx, store, "doc1", Options{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer reopened.Close(ctx)
	if reopened.Status != StatusOK {
		t.Fatalf("reopened.Status = %s, want ok", reopened.Status)
	}
}

func TestOpen_MigrateOnFormatMismatch(t *testing.T) {
	store := storage.NewMemStore()
	ctx := context.Background()

	if _, err := Create(ctx, store, "doc1", nil, Options{FormatVersion: "1"}); err != nil {
		t.Fatalf("Create: %v", err)
	}

	dc, err := Open(ctx, store, "doc1", Options{FormatVersion: "2"})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if dc.Status != StatusMigrate {
		t.Fatalf("Status = %s, want migrate", dc.Status)
	}
}

func TestOpenSession_RefusesWhenNotOK(t *testing.T) {
	store := storage.NewMemStore()
	dc, err := Open(context.Background(), store, "missing", Options{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, err := dc.OpenSession(context.Background(), "alice"); !errs.Is(err, errs.InvariantViolation) {
		t.Fatalf("OpenSession err = %v, want invariant_violation", err)
	}
}

func TestOpenSession_AllocatesCaret(t *testing.T) {
	store := storage.NewMemStore()
	ctx := context.Background()
	dc, err := Create(ctx, store, "doc1", nil, Options{})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer dc.Close(ctx)

	s, err := dc.OpenSession(ctx, "alice")
	if err != nil {
		t.Fatalf("OpenSession: %v", err)
	}
	if s.AuthorId != "alice" {
		t.Fatalf("AuthorId = %s, want alice", s.AuthorId)
	}

	head, err := dc.Carets.CurrentRevNum(ctx)
	if err != nil {
		t.Fatalf("CurrentRevNum: %v", err)
	}
	carets, _, err := dc.Carets.Snapshot(ctx, head)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if len(carets) != 1 || carets[0].AuthorId != "alice" {
		t.Fatalf("carets = %+v, want one caret for alice", carets)
	}
}

func TestDelete_RemovesStorage(t *testing.T) {
	store := storage.NewMemStore()
	ctx := context.Background()
	dc, err := Create(ctx, store, "doc1", nil, Options{})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := dc.Delete(ctx); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	reopened, err := Open(ctx, store, "doc1", Options{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if reopened.Status != StatusNotFound {
		t.Fatalf("Status = %s, want not_found", reopened.Status)
	}
}
