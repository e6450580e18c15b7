package control

import (
	"context"
	"sync"
	"time"

	"bayou/internal/deltadoc"
	"bayou/internal/errs"
	"bayou/internal/storage"
)

// Control is the generic revisioned-stream engine spec §4.1 describes:
// an append-only, single-writer-per-stream change log with cached
// snapshots and rebase-on-conflict application. BodyControl,
// CaretControl, and PropertyControl each wrap one Control value,
// configured with a stream-specific Adapter, instead of each
// reimplementing this machinery.
type Control struct {
	file    storage.File
	prefix  string // e.g. "/body", "/caret", "/property"
	adapter Adapter

	cache   *snapshotCache
	reader  *changeReader
	backoff BackoffConfig

	// writeMu serializes ApplyChange calls against this stream: spec §5
	// requires a single writer per stream at a time, even though reads
	// (GetSnapshot, GetChange, GetChangeAfter) may run concurrently.
	writeMu sync.Mutex
}

// New constructs a Control for one stream of one document file.
func New(file storage.File, prefix string, adapter Adapter) *Control {
	return &Control{
		file:    file,
		prefix:  prefix,
		adapter: adapter,
		cache:   newSnapshotCache(),
		reader:  newChangeReader(file, prefix, adapter),
		backoff: DefaultBackoff,
	}
}

// CurrentRevNum returns the stream's head revision number.
func (c *Control) CurrentRevNum(ctx context.Context) (int64, error) {
	return c.reader.currentRevNum(ctx)
}

// GetChange returns the single change record at revNum (revNum must be
// >= 1; revision 0 always holds the empty change and is not served here).
func (c *Control) GetChange(ctx context.Context, revNum int64) (Change, error) {
	if revNum < 1 {
		return Change{}, errs.New(errs.BadValue, "GetChange: revNum must be >= 1, got %d", revNum)
	}
	head, err := c.reader.currentRevNum(ctx)
	if err != nil {
		return Change{}, err
	}
	if revNum > head {
		return Change{}, errs.New(errs.RevisionNotAvailable, "GetChange: revNum %d > head %d", revNum, head)
	}
	changes, err := c.reader.readRange(ctx, revNum, revNum+1)
	if err != nil {
		return Change{}, err
	}
	return changes[0], nil
}

// GetComposedChanges returns the single delta that, composed onto the
// snapshot at fromRevNum, yields the snapshot at toRevNum (exclusive of
// fromRevNum, inclusive of toRevNum). fromRevNum == toRevNum yields the
// stream's empty delta.
func (c *Control) GetComposedChanges(ctx context.Context, fromRevNum, toRevNum int64) (deltadoc.Delta, error) {
	if toRevNum < fromRevNum {
		return nil, errs.New(errs.BadValue, "GetComposedChanges: to(%d) < from(%d)", toRevNum, fromRevNum)
	}
	if toRevNum == fromRevNum {
		return c.adapter.EmptyDelta(), nil
	}
	changes, err := c.reader.readRange(ctx, fromRevNum+1, toRevNum+1)
	if err != nil {
		return nil, err
	}
	// Fold edit onto edit starting from the first change itself: the
	// stream's empty delta also counts as an (empty) document, and
	// composing onto a document would yield document form instead.
	composed := changes[0].Delta
	for _, ch := range changes[1:] {
		composed, err = composed.ComposeWith(ch.Delta)
		if err != nil {
			return nil, err
		}
	}
	return composed, nil
}

// GetSnapshot returns the full document contents at revNum, computing
// and caching it (once, regardless of concurrent callers) by composing
// forward from the nearest cached snapshot at or below revNum.
func (c *Control) GetSnapshot(ctx context.Context, revNum int64) (Snapshot, error) {
	head, err := c.reader.currentRevNum(ctx)
	if err != nil {
		return Snapshot{}, err
	}
	if revNum < 0 || revNum > head {
		return Snapshot{}, errs.New(errs.RevisionNotAvailable, "GetSnapshot: revNum %d not in [0,%d]", revNum, head)
	}
	return c.cache.getOrCompute(ctx, revNum, func(ctx context.Context) (Snapshot, error) {
		base, haveBase := c.cache.nearestAtOrBelow(revNum)
		if !haveBase {
			base = Snapshot{RevNum: 0, Contents: c.adapter.EmptyDelta()}
		}
		if base.RevNum == revNum {
			return base, nil
		}
		delta, err := c.GetComposedChanges(ctx, base.RevNum, revNum)
		if err != nil {
			return Snapshot{}, err
		}
		contents, err := base.Contents.ComposeWith(delta)
		if err != nil {
			return Snapshot{}, err
		}
		if !contents.IsDocument() {
			return Snapshot{}, errs.New(errs.InvariantViolation, "GetSnapshot: composed contents at revision %d do not satisfy IsDocument", revNum)
		}
		return Snapshot{RevNum: revNum, Contents: contents}, nil
	})
}

// GetChangeAfter blocks until a change with RevNum > baseRevNum is
// available and returns the single delta that folds every change in
// (baseRevNum, head] into one, or returns errs.TimedOut /
// errs.Aborted per spec §4.1/§7 if timeout elapses or ctx is
// cancelled first.
func (c *Control) GetChangeAfter(ctx context.Context, baseRevNum int64, timeout time.Duration) (Change, error) {
	deadline := time.Time{}
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}
	for {
		head, err := c.reader.currentRevNum(ctx)
		if err != nil {
			return Change{}, err
		}
		if head > baseRevNum {
			delta, err := c.GetComposedChanges(ctx, baseRevNum, head)
			if err != nil {
				return Change{}, err
			}
			return Change{RevNum: head, Delta: delta}, nil
		}

		remaining := time.Duration(0)
		if timeout > 0 {
			remaining = time.Until(deadline)
			if remaining <= 0 {
				return Change{}, errs.New(errs.TimedOut, "GetChangeAfter: timed out waiting past revision %d", baseRevNum)
			}
		}
		if err := c.reader.waitForChangeAfter(ctx, baseRevNum, remaining); err != nil {
			return Change{}, err
		}
	}
}

// ApplyChange admits delta as an edit against baseRevNum, rebasing
// past any changes committed concurrently by other writers, and
// returns the resulting Change (with its assigned RevNum) plus the
// correction delta a caller must apply locally to reconcile its own
// optimistic state with the authoritative result.
func (c *Control) ApplyChange(ctx context.Context, delta deltadoc.Delta, baseRevNum int64, authorId string) (committed Change, correction deltadoc.Delta, err error) {
	if delta.IsEmpty() {
		// The empty delta never changes anything; short-circuit before
		// touching the retry/rebase machinery below.
		head, err := c.reader.currentRevNum(ctx)
		if err != nil {
			return Change{}, nil, err
		}
		if baseRevNum > head {
			return Change{}, nil, errs.New(errs.RevisionNotAvailable, "ApplyChange: baseRevNum %d > head %d", baseRevNum, head)
		}
		return Change{RevNum: baseRevNum}, c.adapter.EmptyDelta(), nil
	}
	head, err := c.reader.currentRevNum(ctx)
	if err != nil {
		return Change{}, nil, err
	}
	if baseRevNum > head {
		return Change{}, nil, errs.New(errs.RevisionNotAvailable, "ApplyChange: baseRevNum %d > head %d", baseRevNum, head)
	}
	if err := c.adapter.ValidateChange(delta, baseRevNum); err != nil {
		return Change{}, nil, err
	}

	base, err := c.GetSnapshot(ctx, baseRevNum)
	if err != nil {
		return Change{}, nil, err
	}
	expected, err := base.Contents.ComposeWith(delta)
	if err != nil {
		return Change{}, nil, errs.Wrap(errs.BadValue, err, "ApplyChange: delta does not apply to base revision %d", baseRevNum)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	var result Change
	var corr deltadoc.Delta
	retryErr := backoffSchedule(ctx, c.backoff, func(attempt int) (bool, error) {
		head, err := c.reader.currentRevNum(ctx)
		if err != nil {
			return false, err
		}
		current, err := c.GetSnapshot(ctx, head)
		if err != nil {
			return false, err
		}

		var toAppend deltadoc.Delta
		if base.RevNum == current.RevNum {
			// Fast path: nothing committed since our base, apply as-is.
			toAppend = delta
			corr = c.adapter.EmptyDelta()
		} else {
			// Rebase path: fold in everything committed since base,
			// transforming our delta to land cleanly past it. priority
			// true gives the already-committed server-side changes
			// precedence at any tied insert position.
			dServer, err := c.GetComposedChanges(ctx, base.RevNum, current.RevNum)
			if err != nil {
				return false, err
			}
			toAppend, err = dServer.TransformWith(delta, true)
			if err != nil {
				return false, err
			}
			if toAppend.IsEmpty() {
				result = Change{RevNum: current.RevNum}
				corr, err = expected.DiffFrom(current.Contents)
				return true, err
			}
		}

		nextRev := current.RevNum + 1
		raw, err := encodeChange(c.adapter, Change{RevNum: nextRev, Delta: toAppend, Timestamp: nowMillis(), AuthorId: authorId})
		if err != nil {
			return false, err
		}

		// The conflict check is that nobody else has claimed the next
		// change slot since we read the head.
		revCheck := storage.CheckPathEmpty(changePath(c.prefix, nextRev))
		_, txErr := c.file.Transact(ctx, []storage.TxOp{
			revCheck,
			storage.WritePath(changePath(c.prefix, nextRev), raw),
			storage.WritePath(revisionNumberPath(c.prefix), encodeRevNum(nextRev)),
		})
		if txErr == nil {
			newContents, err := current.Contents.ComposeWith(toAppend)
			if err != nil {
				return false, err
			}
			if base.RevNum != current.RevNum {
				corr, err = expected.DiffFrom(newContents)
				if err != nil {
					return false, err
				}
			}
			result = Change{RevNum: nextRev, Delta: toAppend, AuthorId: authorId}
			c.cache.put(Snapshot{RevNum: nextRev, Contents: newContents})
			return true, nil
		}
		if errs.Is(txErr, errs.PathHashMismatch) || errs.Is(txErr, errs.TransactionAborted) || errs.Is(txErr, errs.PathNotEmpty) {
			// Someone else committed between our read and our write;
			// retry against the new head.
			return false, nil
		}
		return false, txErr
	})
	if retryErr != nil {
		return Change{}, nil, retryErr
	}
	return result, corr, nil
}

func nowMillis() int64 { return time.Now().UnixMilli() }

// probeMargin is how many revisions beyond the recorded head
// validateStream checks are genuinely absent, per spec §4.1's "for
// ≥10 revisions beyond N no change/* keys exist".
const probeMargin = 10

// validateStream runs the open-time check spec §4.1 requires of every
// control: every change 0..head decodes and carries the RevNum its
// path implies, revision 0 is the empty change, and no change exists
// past head within probeMargin.
func validateStream(ctx context.Context, c *Control) error {
	head, err := c.reader.currentRevNum(ctx)
	if err != nil {
		return err
	}
	changes, err := c.reader.readRange(ctx, 0, head+1)
	if err != nil {
		return errs.Wrap(errs.StorageCorrupt, err, "validateStream(%s): reading 0..%d", c.adapter.Name(), head)
	}
	if len(changes) == 0 || !changes[0].Delta.IsEmpty() {
		return errs.New(errs.StorageCorrupt, "validateStream(%s): revision 0 must be the empty change", c.adapter.Name())
	}
	for i, ch := range changes {
		if ch.RevNum != int64(i) {
			return errs.New(errs.StorageCorrupt, "validateStream(%s): change at index %d has RevNum %d", c.adapter.Name(), i, ch.RevNum)
		}
	}
	for rev := head + 1; rev <= head+probeMargin; rev++ {
		if _, err := c.file.Transact(ctx, []storage.TxOp{storage.CheckPathEmpty(changePath(c.prefix, rev))}); err != nil {
			return errs.Wrap(errs.StorageCorrupt, err, "validateStream(%s): change/%d should not exist past head %d", c.adapter.Name(), rev, head)
		}
	}
	return nil
}
