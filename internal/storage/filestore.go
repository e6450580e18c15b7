package storage

import (
	"context"
	"time"
)

// OpKind identifies one operation within a transaction spec, per §6.
type OpKind int

const (
	OpCheckPathExists OpKind = iota
	OpCheckPathEmpty
	OpCheckPathIs
	OpReadPath
	OpWritePath
	OpDeletePath
	OpListPath
)

// TxOp is one operation in an ordered transaction spec. Value is used
// by checkPathIs and writePath; Path is used by all but the timeout
// pseudo-op, which transact() handles via the ctx deadline instead.
type TxOp struct {
	Kind  OpKind
	Path  string
	Value []byte
}

func CheckPathExists(p string) TxOp   { return TxOp{Kind: OpCheckPathExists, Path: p} }
func CheckPathEmpty(p string) TxOp    { return TxOp{Kind: OpCheckPathEmpty, Path: p} }
func CheckPathIs(p string, v []byte) TxOp { return TxOp{Kind: OpCheckPathIs, Path: p, Value: v} }
func ReadPath(p string) TxOp          { return TxOp{Kind: OpReadPath, Path: p} }
func WritePath(p string, v []byte) TxOp { return TxOp{Kind: OpWritePath, Path: p, Value: v} }
func DeletePath(p string) TxOp        { return TxOp{Kind: OpDeletePath, Path: p} }
func ListPath(prefix string) TxOp     { return TxOp{Kind: OpListPath, Path: prefix} }

// TxResult holds the outcome of a committed transaction: the values read
// by readPath ops (in order) and the names returned by listPath ops.
type TxResult struct {
	Reads [][]byte
	Lists [][]string
}

// File is one document's transactional key/value file, per spec §6.
type File interface {
	Create(ctx context.Context) error
	Delete(ctx context.Context) error
	Exists(ctx context.Context) (bool, error)

	// Transact runs spec as a single all-or-nothing transaction. A
	// conflict (e.g. checkPathEmpty failing) surfaces as an
	// *errs.Error with Kind errs.PathNotEmpty, errs.PathHashMismatch,
	// errs.TimedOut, or errs.TransactionAborted — distinguishable from
	// any other error per spec §6.
	Transact(ctx context.Context, spec []TxOp) (*TxResult, error)

	// WhenChanged suspends until the file is mutated after afterFileRev,
	// or ctx is done, or timeout elapses. Both implementations wake on a
	// mutation of any path; path only appears in error messages.
	// afterFileRev is an opaque, monotonically increasing file revision
	// counter bumped by every successful Transact that writes or deletes
	// a path, and by Delete — NOT the body/caret/property RevNum.
	WhenChanged(ctx context.Context, timeout time.Duration, afterFileRev int64, path string) error

	// FileRev returns the current opaque file revision counter, for
	// passing to WhenChanged as afterFileRev.
	FileRev(ctx context.Context) (int64, error)
}

// Store opens/creates Files by document ID.
type Store interface {
	Open(docID string) File
}
