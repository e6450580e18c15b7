package control

import (
	"context"
	"testing"
	"time"

	"bayou/internal/errs"
	"bayou/internal/storage"
)

func newTestCarets(t *testing.T) *CaretControl {
	t.Helper()
	file := storage.NewMemStore().Open("doc1")
	if err := file.Create(context.Background()); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := file.Transact(context.Background(), []storage.TxOp{
		storage.WritePath("/caret/revision_number", []byte("0")),
		storage.WritePath("/caret/change/0", []byte(`{"revNum":0,"delta":[]}`)),
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	return NewCaretControl(file)
}

func TestCaretControl_MakeNewSessionAllocatesDistinctColors(t *testing.T) {
	c := newTestCarets(t)
	ctx := context.Background()

	s1, err := c.MakeNewSession(ctx, "alice", 0)
	if err != nil {
		t.Fatalf("MakeNewSession(alice): %v", err)
	}
	s2, err := c.MakeNewSession(ctx, "bob", 0)
	if err != nil {
		t.Fatalf("MakeNewSession(bob): %v", err)
	}
	if s1.CaretId == s2.CaretId {
		t.Fatalf("sessions share caretId %s", s1.CaretId)
	}

	head, _ := c.CurrentRevNum(ctx)
	snap, _, err := c.Snapshot(ctx, head)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if len(snap) != 2 {
		t.Fatalf("len(snap) = %d, want 2", len(snap))
	}
	if snap[0].Color == snap[1].Color {
		t.Fatalf("both carets got color %s", snap[0].Color)
	}
}

func TestCaretControl_FindExistingSessionWrongAuthor(t *testing.T) {
	c := newTestCarets(t)
	ctx := context.Background()

	s, err := c.MakeNewSession(ctx, "alice", 0)
	if err != nil {
		t.Fatalf("MakeNewSession: %v", err)
	}
	if _, err := c.FindExistingSession(ctx, "bob", s.CaretId); !errs.Is(err, errs.WrongAuthor) {
		t.Fatalf("err = %v, want wrong_author", err)
	}
	if _, err := c.FindExistingSession(ctx, "alice", "nonexistent"); !errs.Is(err, errs.UnknownSession) {
		t.Fatalf("err = %v, want unknown_session", err)
	}
	if _, err := c.FindExistingSession(ctx, "alice", s.CaretId); err != nil {
		t.Fatalf("FindExistingSession(alice): %v", err)
	}
}

func TestCaretControl_UpdateAndEndSession(t *testing.T) {
	c := newTestCarets(t)
	ctx := context.Background()

	s, err := c.MakeNewSession(ctx, "alice", 0)
	if err != nil {
		t.Fatalf("MakeNewSession: %v", err)
	}
	if err := c.UpdateCaret(ctx, s, 3, 5, 0); err != nil {
		t.Fatalf("UpdateCaret: %v", err)
	}
	head, _ := c.CurrentRevNum(ctx)
	snap, _, err := c.Snapshot(ctx, head)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if snap[0].Index != 3 || snap[0].Length != 5 {
		t.Fatalf("snap[0] = %+v, want index=3 length=5", snap[0])
	}

	if err := c.EndSession(ctx, s); err != nil {
		t.Fatalf("EndSession: %v", err)
	}
	head, _ = c.CurrentRevNum(ctx)
	snap, _, err = c.Snapshot(ctx, head)
	if err != nil {
		t.Fatalf("Snapshot after end: %v", err)
	}
	if len(snap) != 0 {
		t.Fatalf("snap after end = %+v, want empty", snap)
	}
}

func TestCaretControl_ReapIdle(t *testing.T) {
	c := newTestCarets(t)
	c.idleAfter = 10 * time.Millisecond
	ctx := context.Background()

	s, err := c.MakeNewSession(ctx, "alice", 0)
	if err != nil {
		t.Fatalf("MakeNewSession: %v", err)
	}
	time.Sleep(30 * time.Millisecond)

	ended, err := c.ReapIdle(ctx)
	if err != nil {
		t.Fatalf("ReapIdle: %v", err)
	}
	if len(ended) != 1 || ended[0] != s.CaretId {
		t.Fatalf("ended = %v, want [%s]", ended, s.CaretId)
	}

	head, _ := c.CurrentRevNum(ctx)
	snap, _, err := c.Snapshot(ctx, head)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if len(snap) != 0 {
		t.Fatalf("snap after reap = %+v, want empty", snap)
	}
}

func TestPickCaretColor_MaximizesHueDistance(t *testing.T) {
	first := pickCaretColor(nil)
	second := pickCaretColor([]string{first})
	if first == second {
		t.Fatalf("pickCaretColor returned the same color twice: %s", first)
	}
	h1, ok1 := hexToHue(first)
	h2, ok2 := hexToHue(second)
	if !ok1 || !ok2 {
		t.Fatalf("hexToHue failed on %s / %s", first, second)
	}
	if d := hueDistance(h1, h2); d < 90 {
		t.Fatalf("hue distance = %v, want a wide spread for two colors", d)
	}
}
