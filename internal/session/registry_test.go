package session

import (
	"context"
	"testing"

	"bayou/internal/control"
	"bayou/internal/deltadoc"
	"bayou/internal/storage"
)

func newTestControls(t *testing.T) (*control.BodyControl, *control.CaretControl, *control.PropertyControl) {
	t.Helper()
	file := storage.NewMemStore().Open("doc1")
	ctx := context.Background()
	if err := file.Create(ctx); err != nil {
		t.Fatalf("Create: %v", err)
	}
	ops := []storage.TxOp{}
	for _, prefix := range []string{"/body", "/caret", "/property"} {
		ops = append(ops,
			storage.WritePath(prefix+"/revision_number", []byte("0")),
			storage.WritePath(prefix+"/change/0", []byte(`{"revNum":0,"delta":[]}`)),
		)
	}
	if _, err := file.Transact(ctx, ops); err != nil {
		t.Fatalf("seed: %v", err)
	}
	return control.NewBodyControl(file), control.NewCaretControl(file), control.NewPropertyControl(file)
}

func TestRegistry_OpenAllocatesCaretAndTracksSession(t *testing.T) {
	body, carets, props := newTestControls(t)
	reg := NewRegistry(body, carets, props)
	ctx := context.Background()

	s, err := reg.Open(ctx, "alice")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if s.AuthorId != "alice" {
		t.Fatalf("AuthorId = %s, want alice", s.AuthorId)
	}
	if reg.Count() != 1 {
		t.Fatalf("Count = %d, want 1", reg.Count())
	}
	if len(reg.SessionsFor("alice")) != 1 {
		t.Fatalf("SessionsFor(alice) = %v, want 1 entry", reg.SessionsFor("alice"))
	}
}

func TestRegistry_CloseEndsCaretAndRemovesSession(t *testing.T) {
	body, carets, props := newTestControls(t)
	reg := NewRegistry(body, carets, props)
	ctx := context.Background()

	s, err := reg.Open(ctx, "alice")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := reg.Close(ctx, s); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if reg.Count() != 0 {
		t.Fatalf("Count = %d, want 0", reg.Count())
	}

	head, err := carets.CurrentRevNum(ctx)
	if err != nil {
		t.Fatalf("CurrentRevNum: %v", err)
	}
	live, _, err := carets.Snapshot(ctx, head)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if len(live) != 0 {
		t.Fatalf("live carets = %+v, want none after Close", live)
	}
}

func TestSession_ApplyBodyChangeAndSetProperty(t *testing.T) {
	body, carets, props := newTestControls(t)
	reg := NewRegistry(body, carets, props)
	ctx := context.Background()

	s, err := reg.Open(ctx, "alice")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	if _, _, err := s.ApplyBodyChange(ctx, deltadoc.Body{{Kind: deltadoc.KindInsert, Text: "hi"}}, 0); err != nil {
		t.Fatalf("ApplyBodyChange: %v", err)
	}
	text, _, err := s.GetSnapshot(ctx, 1)
	if err != nil {
		t.Fatalf("GetSnapshot: %v", err)
	}
	got, _ := text.Text()
	if got != "hi" {
		t.Fatalf("text = %q, want %q", got, "hi")
	}

	if _, _, err := s.SetProperty(ctx, "title", "Draft", 0); err != nil {
		t.Fatalf("SetProperty: %v", err)
	}
}

func TestSession_EndCaretIsIdempotent(t *testing.T) {
	body, carets, props := newTestControls(t)
	reg := NewRegistry(body, carets, props)
	ctx := context.Background()

	s, err := reg.Open(ctx, "alice")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := s.EndCaret(ctx); err != nil {
		t.Fatalf("EndCaret: %v", err)
	}
	if err := s.EndCaret(ctx); err != nil {
		t.Fatalf("EndCaret (again): %v", err)
	}
	if err := s.UpdateCaret(ctx, 1, 1, 0); err == nil {
		t.Fatal("UpdateCaret after EndCaret should fail")
	}
}
