package storage

import (
	"bytes"
	"context"
	"sync"
	"time"

	"go.etcd.io/bbolt"

	"bayou/internal/errs"
)

// BoltStore is the durable File/Store backing: one top-level bucket per
// document, one key per storage path. bbolt's Update/View transactions
// give us exactly the all-or-nothing commit spec §6's transact()
// requires; we layer checkPathEmpty/checkPathIs semantics and the
// changeSignal broadcast on top, since bbolt itself has no notification
// primitive.
type BoltStore struct {
	db *bbolt.DB

	mu    sync.Mutex
	files map[string]*boltFile
}

// OpenBoltStore opens (creating if necessary) a bbolt database at path
// to back the engine's document files.
func OpenBoltStore(path string) (*BoltStore, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, errs.Wrap(errs.StorageCorrupt, err, "OpenBoltStore: %s", path)
	}
	return &BoltStore{db: db, files: map[string]*boltFile{}}, nil
}

func (s *BoltStore) Close() error { return s.db.Close() }

func (s *BoltStore) Open(docID string) File {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.files[docID]
	if !ok {
		f = &boltFile{db: s.db, bucket: []byte("doc/" + docID), sig: newChangeSignal()}
		s.files[docID] = f
	}
	return f
}

type boltFile struct {
	db     *bbolt.DB
	bucket []byte
	sig    *changeSignal
}

func (f *boltFile) Create(ctx context.Context) error {
	return f.db.Update(func(tx *bbolt.Tx) error {
		if tx.Bucket(f.bucket) != nil {
			return errs.New(errs.PathNotEmpty, "file already exists")
		}
		_, err := tx.CreateBucket(f.bucket)
		return err
	})
}

func (f *boltFile) Delete(ctx context.Context) error {
	err := f.db.Update(func(tx *bbolt.Tx) error {
		if tx.Bucket(f.bucket) == nil {
			return nil
		}
		return tx.DeleteBucket(f.bucket)
	})
	if err != nil {
		return errs.Wrap(errs.StorageCorrupt, err, "Delete")
	}
	f.sig.bump()
	return nil
}

func (f *boltFile) Exists(ctx context.Context) (bool, error) {
	exists := false
	err := f.db.View(func(tx *bbolt.Tx) error {
		exists = tx.Bucket(f.bucket) != nil
		return nil
	})
	return exists, err
}

func (f *boltFile) FileRev(ctx context.Context) (int64, error) {
	return f.sig.current(), nil
}

func (f *boltFile) WhenChanged(ctx context.Context, timeout time.Duration, afterFileRev int64, path string) error {
	return f.sig.wait(ctx, timeout, afterFileRev, path)
}

func (f *boltFile) Transact(ctx context.Context, spec []TxOp) (*TxResult, error) {
	if deadline, ok := ctx.Deadline(); ok && time.Now().After(deadline) {
		return nil, errs.New(errs.TimedOut, "Transact: context already expired")
	}

	result := &TxResult{}
	mutated := false
	err := f.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(f.bucket)
		if b == nil {
			return errs.New(errs.TransactionAborted, "Transact: file does not exist")
		}
		for _, op := range spec {
			switch op.Kind {
			case OpCheckPathExists:
				if b.Get([]byte(op.Path)) == nil {
					return errs.New(errs.TransactionAborted, "checkPathExists failed: %s", op.Path)
				}
			case OpCheckPathEmpty:
				if b.Get([]byte(op.Path)) != nil {
					return errs.New(errs.PathNotEmpty, "checkPathEmpty failed: %s", op.Path)
				}
			case OpCheckPathIs:
				v := b.Get([]byte(op.Path))
				if v == nil || !bytes.Equal(v, op.Value) {
					return errs.New(errs.PathHashMismatch, "checkPathIs failed: %s", op.Path)
				}
			case OpReadPath:
				v := b.Get([]byte(op.Path))
				if v == nil {
					return errs.New(errs.TransactionAborted, "readPath failed, no such path: %s", op.Path)
				}
				cp := make([]byte, len(v))
				copy(cp, v)
				result.Reads = append(result.Reads, cp)
			case OpWritePath:
				if err := b.Put([]byte(op.Path), op.Value); err != nil {
					return err
				}
				mutated = true
			case OpDeletePath:
				if err := b.Delete([]byte(op.Path)); err != nil {
					return err
				}
				mutated = true
			case OpListPath:
				var names []string
				prefix := []byte(op.Path + "/")
				c := b.Cursor()
				for k, _ := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, _ = c.Next() {
					names = append(names, string(k[len(prefix):]))
				}
				result.Lists = append(result.Lists, names)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if mutated {
		f.sig.bump()
	}
	return result, nil
}
