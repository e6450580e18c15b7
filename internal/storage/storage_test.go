package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"bayou/internal/errs"
)

func TestValidatePath(t *testing.T) {
	ok := []string{"/format_version", "/body/revision_number", "/body/change/0", "/session/abc123"}
	bad := []string{"", "/", "//", "/a/", "/a//b", "/a b", "no-leading-slash"}
	for _, p := range ok {
		if err := ValidatePath(p); err != nil {
			t.Errorf("ValidatePath(%q) = %v, want nil", p, err)
		}
	}
	for _, p := range bad {
		if err := ValidatePath(p); err == nil {
			t.Errorf("ValidatePath(%q) = nil, want error", p)
		}
	}
}

func testFileConflict(t *testing.T, f File) {
	ctx := context.Background()
	if err := f.Create(ctx); err != nil {
		t.Fatalf("Create: %v", err)
	}

	if _, err := f.Transact(ctx, []TxOp{
		CheckPathEmpty("/x"),
		WritePath("/x", []byte("1")),
	}); err != nil {
		t.Fatalf("Transact #1: %v", err)
	}

	_, err := f.Transact(ctx, []TxOp{CheckPathEmpty("/x")})
	if !errs.Is(err, errs.PathNotEmpty) {
		t.Fatalf("Transact #2 err = %v, want path_not_empty", err)
	}

	res, err := f.Transact(ctx, []TxOp{ReadPath("/x")})
	if err != nil {
		t.Fatalf("Transact read: %v", err)
	}
	if string(res.Reads[0]) != "1" {
		t.Fatalf("read = %q, want %q", res.Reads[0], "1")
	}
}

func TestMemFile_Conflict(t *testing.T) {
	testFileConflict(t, NewMemStore().Open("doc1"))
}

func TestBoltFile_Conflict(t *testing.T) {
	store, err := OpenBoltStore(filepath.Join(t.TempDir(), "doc.bolt"))
	if err != nil {
		t.Fatalf("OpenBoltStore: %v", err)
	}
	defer store.Close()
	testFileConflict(t, store.Open("doc1"))
}

func TestMemFile_WhenChangedResolvesOnWrite(t *testing.T) {
	f := NewMemStore().Open("doc1")
	ctx := context.Background()
	if err := f.Create(ctx); err != nil {
		t.Fatalf("Create: %v", err)
	}
	rev, _ := f.FileRev(ctx)

	done := make(chan error, 1)
	go func() {
		done <- f.WhenChanged(ctx, 2*time.Second, rev, "/body/revision_number")
	}()

	time.Sleep(20 * time.Millisecond)
	if _, err := f.Transact(ctx, []TxOp{WritePath("/body/revision_number", []byte("1"))}); err != nil {
		t.Fatalf("Transact: %v", err)
	}

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("WhenChanged: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("WhenChanged never resolved")
	}
}

func TestMemFile_WhenChangedTimesOut(t *testing.T) {
	f := NewMemStore().Open("doc1")
	ctx := context.Background()
	if err := f.Create(ctx); err != nil {
		t.Fatalf("Create: %v", err)
	}
	rev, _ := f.FileRev(ctx)
	err := f.WhenChanged(ctx, 20*time.Millisecond, rev, "/body/revision_number")
	if !errs.Is(err, errs.TimedOut) {
		t.Fatalf("err = %v, want timed_out", err)
	}
}
