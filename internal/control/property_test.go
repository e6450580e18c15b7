package control

import (
	"context"
	"testing"

	"bayou/internal/storage"
)

func newTestProperties(t *testing.T) *PropertyControl {
	t.Helper()
	file := storage.NewMemStore().Open("doc1")
	if err := file.Create(context.Background()); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := file.Transact(context.Background(), []storage.TxOp{
		storage.WritePath("/property/revision_number", []byte("0")),
		storage.WritePath("/property/change/0", []byte(`{"revNum":0,"delta":[]}`)),
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	return NewPropertyControl(file)
}

func TestPropertyControl_SetAndSnapshot(t *testing.T) {
	p := newTestProperties(t)
	ctx := context.Background()

	committed, _, err := p.Set(ctx, "title", "Quarterly Plan", 0, "alice")
	if err != nil {
		t.Fatalf("Set: %v", err)
	}
	if committed.RevNum != 1 {
		t.Fatalf("RevNum = %d, want 1", committed.RevNum)
	}

	props, rev, err := p.Snapshot(ctx, 1)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if rev != 1 {
		t.Fatalf("rev = %d, want 1", rev)
	}
	found := false
	for _, op := range props {
		if op.Name == "title" && op.Value == "Quarterly Plan" {
			found = true
		}
	}
	if !found {
		t.Fatalf("props = %+v, want title=Quarterly Plan", props)
	}
}

func TestPropertyControl_DeleteRemovesKey(t *testing.T) {
	p := newTestProperties(t)
	ctx := context.Background()

	if _, _, err := p.Set(ctx, "title", "Draft", 0, "alice"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if _, _, err := p.Delete(ctx, "title", 1, "alice"); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	props, _, err := p.Snapshot(ctx, 2)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	for _, op := range props {
		if op.Name == "title" {
			t.Fatalf("title still present after delete: %+v", op)
		}
	}
}

func TestPropertyControl_ConcurrentSetsRebase(t *testing.T) {
	p := newTestProperties(t)
	ctx := context.Background()

	if _, _, err := p.Set(ctx, "owner", "alice", 0, "alice"); err != nil {
		t.Fatalf("Set(owner): %v", err)
	}

	// bob still thinks head is revision 0, setting an unrelated key.
	committed, _, err := p.Set(ctx, "status", "in_review", 0, "bob")
	if err != nil {
		t.Fatalf("Set(status): %v", err)
	}
	if committed.RevNum != 2 {
		t.Fatalf("RevNum = %d, want 2", committed.RevNum)
	}

	props, _, err := p.Snapshot(ctx, 2)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	values := map[string]any{}
	for _, op := range props {
		values[op.Name] = op.Value
	}
	if values["owner"] != "alice" || values["status"] != "in_review" {
		t.Fatalf("values = %+v, want owner=alice status=in_review", values)
	}
}
