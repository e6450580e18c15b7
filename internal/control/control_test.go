package control

import (
	"context"
	"testing"
	"time"

	"bayou/internal/deltadoc"
	"bayou/internal/errs"
	"bayou/internal/storage"
)

func newTestBody(t *testing.T) *BodyControl {
	t.Helper()
	file := storage.NewMemStore().Open("doc1")
	if err := file.Create(context.Background()); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := file.Transact(context.Background(), []storage.TxOp{
		storage.WritePath("/body/revision_number", []byte("0")),
		storage.WritePath("/body/change/0", []byte(`{"revNum":0,"delta":[]}`)),
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	return NewBodyControl(file)
}

func TestBodyControl_FastPathApply(t *testing.T) {
	b := newTestBody(t)
	ctx := context.Background()

	ins := deltadoc.Body{{Kind: deltadoc.KindInsert, Text: "hello"}}
	committed, corr, err := b.Apply(ctx, ins, 0, "alice")
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if committed.RevNum != 1 {
		t.Fatalf("RevNum = %d, want 1", committed.RevNum)
	}
	if !corr.IsEmpty() {
		t.Fatalf("fast-path correction should be empty, got %+v", corr)
	}

	body, rev, err := b.Snapshot(ctx, 1)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if rev != 1 {
		t.Fatalf("rev = %d, want 1", rev)
	}
	text, _ := body.Text()
	if text != "hello" {
		t.Fatalf("text = %q, want %q", text, "hello")
	}
}

func TestBodyControl_RebasePathProducesCorrection(t *testing.T) {
	b := newTestBody(t)
	ctx := context.Background()

	if _, _, err := b.Apply(ctx, deltadoc.Body{{Kind: deltadoc.KindInsert, Text: "X"}}, 0, "alice"); err != nil {
		t.Fatalf("Apply(X): %v", err)
	}

	// bob still thinks the head is revision 0.
	committed, corr, err := b.Apply(ctx, deltadoc.Body{{Kind: deltadoc.KindInsert, Text: "Y"}}, 0, "bob")
	if err != nil {
		t.Fatalf("Apply(Y): %v", err)
	}
	if committed.RevNum != 2 {
		t.Fatalf("RevNum = %d, want 2", committed.RevNum)
	}

	head, _, err := b.Snapshot(ctx, 2)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	headText, _ := head.Text()
	if headText != "XY" {
		t.Fatalf("head text = %q, want %q", headText, "XY")
	}

	// Correction law: bob's expected state composed with the
	// correction must reproduce the authoritative head.
	bobExpected, err := deltadoc.Body{}.Compose(deltadoc.Body{{Kind: deltadoc.KindInsert, Text: "Y"}})
	if err != nil {
		t.Fatalf("compose expected: %v", err)
	}
	reconstructed, err := bobExpected.Compose(corr)
	if err != nil {
		t.Fatalf("compose correction: %v", err)
	}
	got, _ := reconstructed.Text()
	if got != "XY" {
		t.Fatalf("bobExpected.compose(correction) = %q, want %q", got, "XY")
	}
}

func TestBodyControl_NoOpShortCircuit(t *testing.T) {
	b := newTestBody(t)
	ctx := context.Background()

	committed, corr, err := b.Apply(ctx, deltadoc.Body{}, 0, "alice")
	if err != nil {
		t.Fatalf("Apply(empty): %v", err)
	}
	if committed.RevNum != 0 || !corr.IsEmpty() {
		t.Fatalf("got (%v, %v), want (0, empty)", committed, corr)
	}
	head, err := b.CurrentRevNum(ctx)
	if err != nil {
		t.Fatalf("CurrentRevNum: %v", err)
	}
	if head != 0 {
		t.Fatalf("head = %d, want unchanged at 0", head)
	}
}

func TestBodyControl_GetChangeAfterResolvesOnCommit(t *testing.T) {
	b := newTestBody(t)
	ctx := context.Background()

	done := make(chan struct{})
	var gotRev int64
	var gotErr error
	go func() {
		gotRev, _, gotErr = b.WaitForChangeAfter(ctx, 0, 2*time.Second)
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	if _, _, err := b.Apply(ctx, deltadoc.Body{{Kind: deltadoc.KindInsert, Text: "z"}}, 0, "alice"); err != nil {
		t.Fatalf("Apply: %v", err)
	}

	select {
	case <-done:
		if gotErr != nil {
			t.Fatalf("WaitForChangeAfter: %v", gotErr)
		}
		if gotRev != 1 {
			t.Fatalf("gotRev = %d, want 1", gotRev)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("WaitForChangeAfter never resolved")
	}
}

func TestBodyControl_GetChangeAfterTimesOut(t *testing.T) {
	b := newTestBody(t)
	ctx := context.Background()
	_, _, err := b.WaitForChangeAfter(ctx, 0, 20*time.Millisecond)
	if !errs.Is(err, errs.TimedOut) {
		t.Fatalf("err = %v, want timed_out", err)
	}
}

func TestBodyControl_GetChangeAfterAborts(t *testing.T) {
	b := newTestBody(t)
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	_, _, err := b.WaitForChangeAfter(ctx, 0, 0)
	if !errs.Is(err, errs.Aborted) {
		t.Fatalf("err = %v, want aborted", err)
	}
}

func TestBodyControl_RevisionNotAvailable(t *testing.T) {
	b := newTestBody(t)
	ctx := context.Background()
	if _, err := b.GetSnapshot(ctx, 5); !errs.Is(err, errs.RevisionNotAvailable) {
		t.Fatalf("GetSnapshot(5) err = %v, want revision_not_available", err)
	}
	if _, _, err := b.Apply(ctx, deltadoc.Body{{Kind: deltadoc.KindInsert, Text: "x"}}, 5, "alice"); !errs.Is(err, errs.RevisionNotAvailable) {
		t.Fatalf("Apply(base=5) err = %v, want revision_not_available", err)
	}
}

// alwaysConflictFile wraps a storage.File so every transaction that
// attempts a write reports path_not_empty, simulating a storage layer
// under permanent contention; reads pass through untouched so the
// caller can still determine the current head.
type alwaysConflictFile struct {
	storage.File
}

func (f alwaysConflictFile) Transact(ctx context.Context, spec []storage.TxOp) (*storage.TxResult, error) {
	for _, op := range spec {
		if op.Kind == storage.OpWritePath {
			return nil, errs.New(errs.PathNotEmpty, "alwaysConflictFile: simulated conflict")
		}
	}
	return f.File.Transact(ctx, spec)
}

func TestBodyControl_TooManyRetries(t *testing.T) {
	file := storage.NewMemStore().Open("doc1")
	ctx := context.Background()
	if err := file.Create(ctx); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := file.Transact(ctx, []storage.TxOp{
		storage.WritePath("/body/revision_number", []byte("0")),
		storage.WritePath("/body/change/0", []byte(`{"revNum":0,"delta":[]}`)),
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	b := NewBodyControl(alwaysConflictFile{File: file})
	b.backoff = BackoffConfig{Base: time.Millisecond, Growth: 2, Budget: 20 * time.Millisecond}

	_, _, err := b.Apply(ctx, deltadoc.Body{{Kind: deltadoc.KindInsert, Text: "z"}}, 0, "alice")
	if !errs.Is(err, errs.TooManyRetries) {
		t.Fatalf("err = %v, want too_many_retries", err)
	}
}

func TestSnapshotCache_ConcurrentReadersSeeSameSnapshot(t *testing.T) {
	b := newTestBody(t)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		text := string([]rune{'a' + rune(i)})
		if _, _, err := b.Apply(ctx, deltadoc.Body{{Kind: deltadoc.KindInsert, Text: text}}, int64(i), "alice"); err != nil {
			t.Fatalf("Apply %d: %v", i, err)
		}
	}

	results := make(chan deltadoc.Body, 4)
	for i := 0; i < 4; i++ {
		go func() {
			body, _, err := b.Snapshot(ctx, 5)
			if err != nil {
				t.Errorf("Snapshot: %v", err)
				return
			}
			results <- body
		}()
	}
	var texts []string
	for i := 0; i < 4; i++ {
		body := <-results
		text, _ := body.Text()
		texts = append(texts, text)
	}
	for _, text := range texts {
		if text != "abcde" {
			t.Fatalf("text = %q, want %q", text, "abcde")
		}
	}
}
