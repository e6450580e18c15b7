package control

import (
	"context"
	"sync"
)

// snapshotCacheCap bounds the number of distinct revisions a
// snapshotCache retains before evicting, per spec §4.4.
const snapshotCacheCap = 16

// inFlight is a promise for a snapshot being computed by exactly one
// caller; concurrent requesters for the same revNum wait on it instead
// of recomputing, per spec §4.4's "at most one concurrent compute per
// revision" invariant.
type inFlight struct {
	done     chan struct{}
	snapshot Snapshot
	err      error
}

// snapshotCache memoizes Snapshot by RevNum with production-order
// eviction and a single-compute-per-key guard, grounded on the
// teacher's cache/presence.go (one authoritative Redis-backed value per
// key, guarded so concurrent requests don't double-compute), adapted
// here from a distributed cache keyed by presence ID to an in-process
// cache keyed by revision number.
type snapshotCache struct {
	mu      sync.Mutex
	entries map[int64]Snapshot
	order   []int64 // production order, oldest first
	pending map[int64]*inFlight
}

func newSnapshotCache() *snapshotCache {
	return &snapshotCache{
		entries: map[int64]Snapshot{},
		pending: map[int64]*inFlight{},
	}
}

func (c *snapshotCache) get(revNum int64) (Snapshot, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.entries[revNum]
	return s, ok
}

func (c *snapshotCache) put(s Snapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.entries[s.RevNum]; !ok {
		c.order = append(c.order, s.RevNum)
	}
	c.entries[s.RevNum] = s
	for len(c.order) > snapshotCacheCap {
		oldest := c.order[0]
		c.order = c.order[1:]
		delete(c.entries, oldest)
	}
}

// getOrCompute returns the cached snapshot for revNum, or runs compute
// exactly once across all concurrent callers for that revNum and caches
// the result.
func (c *snapshotCache) getOrCompute(ctx context.Context, revNum int64, compute func(ctx context.Context) (Snapshot, error)) (Snapshot, error) {
	if s, ok := c.get(revNum); ok {
		return s, nil
	}

	c.mu.Lock()
	if s, ok := c.entries[revNum]; ok {
		c.mu.Unlock()
		return s, nil
	}
	if f, ok := c.pending[revNum]; ok {
		c.mu.Unlock()
		select {
		case <-f.done:
			return f.snapshot, f.err
		case <-ctx.Done():
			return Snapshot{}, ctx.Err()
		}
	}
	f := &inFlight{done: make(chan struct{})}
	c.pending[revNum] = f
	c.mu.Unlock()

	snapshot, err := compute(ctx)

	c.mu.Lock()
	f.snapshot, f.err = snapshot, err
	delete(c.pending, revNum)
	c.mu.Unlock()
	close(f.done)

	if err != nil {
		return Snapshot{}, err
	}
	c.put(snapshot)
	return snapshot, nil
}

// nearestAtOrBelow returns the highest cached snapshot with RevNum <=
// revNum, if any, so computeSnapshot can compose forward from it
// instead of from revision 0.
func (c *snapshotCache) nearestAtOrBelow(revNum int64) (Snapshot, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	best, ok := Snapshot{}, false
	for r, s := range c.entries {
		if r <= revNum && (!ok || r > best.RevNum) {
			best, ok = s, true
		}
	}
	return best, ok
}

// invalidateAbove drops cached snapshots at or above revNum. Nothing
// calls it at present: ordinary append-only growth never needs it,
// since snapshots at lower revisions remain valid forever.
func (c *snapshotCache) invalidateAbove(revNum int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	kept := c.order[:0:0]
	for _, r := range c.order {
		if r >= revNum {
			delete(c.entries, r)
			continue
		}
		kept = append(kept, r)
	}
	c.order = kept
}
