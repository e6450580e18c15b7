// Package doccomplex implements DocComplex (spec §4.7): the
// per-document lifecycle coordinator that owns one document's
// BodyControl, CaretControl, PropertyControl, and SessionRegistry, plus
// the process-global registry enforcing at most one live DocComplex per
// document ID (spec §5).
package doccomplex

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"bayou/internal/clusterlock"
	"bayou/internal/control"
	"bayou/internal/deltadoc"
	"bayou/internal/errs"
	"bayou/internal/session"
	"bayou/internal/storage"
)

// Status is the result of Open, per spec §4.7.
type Status string

const (
	StatusNotFound Status = "not_found"
	StatusMigrate  Status = "migrate"
	StatusOK       Status = "ok"
	StatusError    Status = "error"
)

const formatVersionPath = "/format_version"

// DocComplex is the live coordinator for one document's three
// controls. A DocComplex in StatusError or StatusMigrate refuses
// mutations; StatusOK is the only status session operations run
// against.
type DocComplex struct {
	DocId  string
	Status Status

	file     storage.File
	lock     clusterlock.Lock
	Body     *control.BodyControl
	Carets   *control.CaretControl
	Props    *control.PropertyControl
	Sessions *session.Registry

	reaperCancel context.CancelFunc

	mu  sync.Mutex
	err error // sticky error once Status becomes StatusError
}

// Options configures Open/Create.
type Options struct {
	FormatVersion string
	// IdleThreshold is defaulted by withDefaults but Open does not pass it
	// on: every CaretControl reaps after control.DefaultIdleThreshold.
	IdleThreshold time.Duration
	ReapInterval  time.Duration
	Locker        clusterlock.Locker
	LockTTL       time.Duration
}

func (o Options) withDefaults() Options {
	if o.FormatVersion == "" {
		o.FormatVersion = "1"
	}
	if o.IdleThreshold == 0 {
		o.IdleThreshold = control.DefaultIdleThreshold
	}
	if o.ReapInterval == 0 {
		o.ReapInterval = 30 * time.Second
	}
	if o.Locker == nil {
		o.Locker = clusterlock.NewLocalLocker()
	}
	if o.LockTTL == 0 {
		o.LockTTL = 30 * time.Second
	}
	return o
}

// Open opens docId's file via store, returning StatusNotFound if it
// doesn't exist, StatusMigrate if its format_version doesn't match
// opts.FormatVersion, StatusOK after successful validation of all
// three streams, or StatusError (with the DocComplex still returned,
// so callers can inspect Err()) if validation fails.
func Open(ctx context.Context, store storage.Store, docId string, opts Options) (*DocComplex, error) {
	opts = opts.withDefaults()
	file := store.Open(docId)

	exists, err := file.Exists(ctx)
	if err != nil {
		return nil, err
	}
	if !exists {
		return &DocComplex{DocId: docId, Status: StatusNotFound, file: file}, nil
	}

	lock, err := opts.Locker.Acquire(ctx, docId, opts.LockTTL)
	if err != nil {
		return nil, err
	}

	res, err := file.Transact(ctx, []storage.TxOp{storage.ReadPath(formatVersionPath)})
	if err != nil {
		_ = lock.Release(ctx)
		return nil, err
	}
	if string(res.Reads[0]) != opts.FormatVersion {
		return &DocComplex{DocId: docId, Status: StatusMigrate, file: file, lock: lock}, nil
	}

	dc := &DocComplex{
		DocId:  docId,
		file:   file,
		lock:   lock,
		Body:   control.NewBodyControl(file),
		Carets: control.NewCaretControl(file),
		Props:  control.NewPropertyControl(file),
	}
	dc.Carets.TouchFromSnapshot(ctx)
	dc.Sessions = session.NewRegistry(dc.Body, dc.Carets, dc.Props)

	if err := dc.validate(ctx); err != nil {
		dc.mu.Lock()
		dc.Status, dc.err = StatusError, err
		dc.mu.Unlock()
		return dc, nil
	}
	dc.Status = StatusOK

	reaperCtx, cancel := context.WithCancel(context.Background())
	dc.reaperCancel = cancel
	go dc.Carets.RunReaper(reaperCtx, opts.ReapInterval)

	return dc, nil
}

func (dc *DocComplex) validate(ctx context.Context) error {
	if err := dc.Body.Validate(ctx); err != nil {
		return err
	}
	if err := dc.Carets.Validate(ctx); err != nil {
		return err
	}
	if err := dc.Props.Validate(ctx); err != nil {
		return err
	}
	return nil
}

// Create atomically initializes a new document file in a single
// transaction: format_version, each stream's revision_number, the
// empty change/0 for each stream, and (if initialBody is non-nil and
// non-empty) body/revision_number=1 plus change/1 for the body, per
// spec §4.7's "revision_numbers (0 or 1)" requirement. Folding the
// initial body into the same transaction as the rest of the layout
// avoids a window where a concurrent Open sees a body-revision-0
// document despite initial content having been requested, and avoids
// leaving the document durably half-initialized (format_version and
// revision_number=0 written, initial body lost) if a second,
// independent write were to fail.
func Create(ctx context.Context, store storage.Store, docId string, initialBody deltadoc.Body, opts Options) (*DocComplex, error) {
	opts = opts.withDefaults()
	file := store.Open(docId)

	if err := file.Create(ctx); err != nil {
		return nil, err
	}

	hasInitialBody := initialBody != nil && !initialBody.IsEmpty()

	ops := []storage.TxOp{
		storage.CheckPathEmpty(formatVersionPath),
		storage.WritePath(formatVersionPath, []byte(opts.FormatVersion)),
	}
	for _, prefix := range []string{"/body", "/caret", "/property"} {
		ops = append(ops,
			storage.CheckPathEmpty(prefix+"/revision_number"),
			storage.WritePath(prefix+"/change/0", emptyChangeJSON()),
		)
		if prefix == "/body" && hasInitialBody {
			raw, err := initialBodyChangeJSON(initialBody)
			if err != nil {
				return nil, err
			}
			ops = append(ops,
				storage.WritePath(prefix+"/revision_number", []byte("1")),
				storage.WritePath(prefix+"/change/1", raw),
			)
			continue
		}
		ops = append(ops, storage.WritePath(prefix+"/revision_number", []byte("0")))
	}
	if _, err := file.Transact(ctx, ops); err != nil {
		return nil, err
	}

	return Open(ctx, store, docId, opts)
}

func emptyChangeJSON() []byte {
	return []byte(`{"revNum":0,"delta":[]}`)
}

// initialBodyChangeJSON encodes initialBody as the change/1 wire
// envelope, matching the {revNum, delta, timestamp?, authorId?} shape
// control.decodeChange expects (timestamp and authorId are omitted:
// revision 1 here was never "applied" by an author, it's part of the
// document's initial layout).
func initialBodyChangeJSON(initialBody deltadoc.Body) ([]byte, error) {
	raw, err := initialBody.Encode()
	if err != nil {
		return nil, errs.Wrap(errs.BadValue, err, "doccomplex: encode initial body")
	}
	return json.Marshal(struct {
		RevNum int64           `json:"revNum"`
		Delta  json.RawMessage `json:"delta"`
	}{RevNum: 1, Delta: raw})
}

// Delete discards the document's storage and in-memory state.
func (dc *DocComplex) Delete(ctx context.Context) error {
	dc.Close(ctx)
	return dc.file.Delete(ctx)
}

// Close stops the idle reaper and releases the cluster lock without
// touching storage; used when evicting a DocComplex from the registry
// without deleting the underlying document.
func (dc *DocComplex) Close(ctx context.Context) {
	if dc.reaperCancel != nil {
		dc.reaperCancel()
	}
	if dc.lock != nil {
		_ = dc.lock.Release(ctx)
	}
}

// OpenSession creates a new SessionRegistry session for authorId,
// refusing if this DocComplex isn't StatusOK.
func (dc *DocComplex) OpenSession(ctx context.Context, authorId string) (*session.Session, error) {
	if err := dc.checkUsable(); err != nil {
		return nil, err
	}
	return dc.Sessions.Open(ctx, authorId)
}

// Err returns the sticky error that put this DocComplex into
// StatusError, or nil.
func (dc *DocComplex) Err() error {
	dc.mu.Lock()
	defer dc.mu.Unlock()
	return dc.err
}

// checkUsable fails fast with the DocComplex's sticky error if it's not
// StatusOK, per spec §4.8's "subsequent calls fail fast with the same
// kind" requirement for fatal corruption.
func (dc *DocComplex) checkUsable() error {
	dc.mu.Lock()
	defer dc.mu.Unlock()
	switch dc.Status {
	case StatusOK:
		return nil
	case StatusError:
		return dc.err
	default:
		return errs.New(errs.InvariantViolation, "doccomplex %s: not open (status %s)", dc.DocId, dc.Status)
	}
}
