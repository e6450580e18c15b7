package doccomplex

import (
	"context"
	"sync"

	"bayou/internal/storage"
)

// Registry is the process-global map enforcing spec §5's
// single-instance-per-document invariant: concurrent Open(docId) calls
// against the same docId share one DocComplex and one in-flight open
// attempt instead of racing to create two.
type Registry struct {
	store storage.Store
	opts  Options

	mu      sync.Mutex
	live    map[string]*DocComplex
	pending map[string]*sync.WaitGroup
}

// NewRegistry builds a Registry backed by store, opening every
// document with opts.
func NewRegistry(store storage.Store, opts Options) *Registry {
	return &Registry{store: store, opts: opts.withDefaults(), live: map[string]*DocComplex{}, pending: map[string]*sync.WaitGroup{}}
}

// Open returns the shared live DocComplex for docId, opening it if
// this is the first request for it.
func (r *Registry) Open(ctx context.Context, docId string) (*DocComplex, error) {
	for {
		r.mu.Lock()
		if dc, ok := r.live[docId]; ok {
			r.mu.Unlock()
			return dc, nil
		}
		if wg, ok := r.pending[docId]; ok {
			r.mu.Unlock()
			wg.Wait()
			continue
		}
		wg := &sync.WaitGroup{}
		wg.Add(1)
		r.pending[docId] = wg
		r.mu.Unlock()

		dc, err := Open(ctx, r.store, docId, r.opts)

		r.mu.Lock()
		if err == nil {
			r.live[docId] = dc
		}
		delete(r.pending, docId)
		r.mu.Unlock()
		wg.Done()

		return dc, err
	}
}

// Evict closes and removes docId's DocComplex from the registry
// without touching its storage, so a future Open reopens fresh (used
// after a migration completes, or to shed memory for an idle
// document).
func (r *Registry) Evict(ctx context.Context, docId string) {
	r.mu.Lock()
	dc, ok := r.live[docId]
	delete(r.live, docId)
	r.mu.Unlock()
	if ok {
		dc.Close(ctx)
	}
}

// Delete evicts docId and deletes its underlying storage.
func (r *Registry) Delete(ctx context.Context, docId string) error {
	r.mu.Lock()
	dc, ok := r.live[docId]
	delete(r.live, docId)
	r.mu.Unlock()
	if ok {
		return dc.Delete(ctx)
	}
	return r.store.Open(docId).Delete(ctx)
}
