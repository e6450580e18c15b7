package control

import (
	"context"
	"time"

	"bayou/internal/errs"
	"bayou/internal/storage"
)

// maxReadsPerTx bounds how many change records changeReader.readRange
// folds into a single storage transaction, per spec §4.5, so a
// long-running catch-up read doesn't hold one giant transaction open.
const maxReadsPerTx = 20

// changeReader reads and validates contiguous ranges of a stream's
// persisted change log, and exposes the long-poll wait used by
// GetChangeAfter. Grounded on the teacher's kafka reader in
// kafka_dispatcher.go (batches records, validates offsets are
// contiguous) adapted from Kafka offsets to storage revision numbers.
type changeReader struct {
	file    storage.File
	prefix  string
	adapter Adapter
}

func newChangeReader(file storage.File, prefix string, adapter Adapter) *changeReader {
	return &changeReader{file: file, prefix: prefix, adapter: adapter}
}

// currentRevNum reads the stream's head revision number, or 0 if the
// stream has never been written.
func (r *changeReader) currentRevNum(ctx context.Context) (int64, error) {
	res, err := r.file.Transact(ctx, []storage.TxOp{storage.ReadPath(revisionNumberPath(r.prefix))})
	if err != nil {
		if errs.Is(err, errs.TransactionAborted) {
			return 0, nil
		}
		return 0, err
	}
	return decodeRevNum(res.Reads[0])
}

// readRange fetches changes [from, to) in ascending order, batching
// storage reads into transactions of at most maxReadsPerTx each, and
// validates that the revision numbers read are exactly the contiguous
// range requested.
func (r *changeReader) readRange(ctx context.Context, from, to int64) ([]Change, error) {
	if to < from {
		return nil, errs.New(errs.BadValue, "readRange: to(%d) < from(%d)", to, from)
	}
	changes := make([]Change, 0, to-from)
	for batchStart := from; batchStart < to; batchStart += maxReadsPerTx {
		batchEnd := batchStart + maxReadsPerTx
		if batchEnd > to {
			batchEnd = to
		}
		ops := make([]storage.TxOp, 0, batchEnd-batchStart)
		for rev := batchStart; rev < batchEnd; rev++ {
			ops = append(ops, storage.ReadPath(changePath(r.prefix, rev)))
		}
		res, err := r.file.Transact(ctx, ops)
		if err != nil {
			// Callers bound [from, to) against currentRevNum before calling
			// readRange, so every change in range is expected to exist; a
			// Transact failure here is a transient storage failure
			// (timed_out, transaction_aborted), not a missing key, and must
			// surface with its kind intact.
			return nil, err
		}
		for i, raw := range res.Reads {
			c, err := decodeChange(r.adapter, raw)
			if err != nil {
				return nil, err
			}
			wantRev := batchStart + int64(i)
			if c.RevNum != wantRev {
				return nil, errs.New(errs.StorageCorrupt, "readRange: change at path rev %d has RevNum %d", wantRev, c.RevNum)
			}
			changes = append(changes, c)
		}
	}
	return changes, nil
}

// waitForChangeAfter blocks until the stream's head revision number
// exceeds afterRevNum, ctx is cancelled, or timeout elapses. It may
// wake spuriously (the underlying file-level signal fires on any
// mutation to the file, not just this stream's revision_number) so
// callers must re-check currentRevNum after it returns nil.
func (r *changeReader) waitForChangeAfter(ctx context.Context, afterRevNum int64, timeout time.Duration) error {
	fileRev, err := r.file.FileRev(ctx)
	if err != nil {
		return err
	}
	waitCtx := ctx
	var cancel context.CancelFunc
	if timeout > 0 {
		waitCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	return r.file.WhenChanged(waitCtx, 0, fileRev, revisionNumberPath(r.prefix))
}
