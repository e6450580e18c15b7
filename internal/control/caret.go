package control

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"bayou/internal/deltadoc"
	"bayou/internal/errs"
	"bayou/internal/storage"
)

type caretAdapter struct{}

func (caretAdapter) EmptyDelta() deltadoc.Delta { return deltadoc.EmptyCaret() }

func (caretAdapter) DecodeDelta(raw []byte) (deltadoc.Delta, error) {
	c, err := deltadoc.DecodeCaret(raw)
	if err != nil {
		return nil, err
	}
	return c, nil
}

func (caretAdapter) ValidateChange(delta deltadoc.Delta, baseRevNum int64) error {
	return nil
}

func (caretAdapter) Name() string { return "caret" }

// DefaultIdleThreshold is how long a caret may go without an update
// before the reaper ends its session, per spec §4.2.
const DefaultIdleThreshold = 10 * time.Minute

// Session is the author-facing handle §4.2's makeNewSession/
// findExistingSession return: an (authorId, caretId) pair bound to a
// live caret.
type Session struct {
	CaretId  string
	AuthorId string
}

// CaretControl is the revisioned log of live caret state for one
// document, plus the session bookkeeping (allocation, lookup, idle
// reaping) that sits on top of the generic apply/rebase engine.
type CaretControl struct {
	*Control

	mu           sync.Mutex
	lastActivity map[string]time.Time // caretId -> last update
	idleAfter    time.Duration
}

func NewCaretControl(file storage.File) *CaretControl {
	return &CaretControl{
		Control:      New(file, "/caret", caretAdapter{}),
		lastActivity: map[string]time.Time{},
		idleAfter:    DefaultIdleThreshold,
	}
}

func (c *CaretControl) touch(caretId string) {
	c.mu.Lock()
	c.lastActivity[caretId] = time.Now()
	c.mu.Unlock()
}

func (c *CaretControl) forget(caretId string) {
	c.mu.Lock()
	delete(c.lastActivity, caretId)
	c.mu.Unlock()
}

func (c *CaretControl) Snapshot(ctx context.Context, revNum int64) (deltadoc.Caret, int64, error) {
	s, err := c.GetSnapshot(ctx, revNum)
	if err != nil {
		return nil, 0, err
	}
	caret, ok := s.Contents.(deltadoc.Caret)
	if !ok {
		return nil, 0, errs.New(errs.InvariantViolation, "CaretControl.Snapshot: contents has wrong delta type")
	}
	return caret, s.RevNum, nil
}

// MakeNewSession allocates a fresh caretId collision-free w.r.t. active
// carets, assigns it a color chosen to maximize hue distance from
// colors already in use, and appends the begin-session change.
func (c *CaretControl) MakeNewSession(ctx context.Context, authorId string, docRev int64) (*Session, error) {
	head, err := c.CurrentRevNum(ctx)
	if err != nil {
		return nil, err
	}
	current, _, err := c.Snapshot(ctx, head)
	if err != nil {
		return nil, err
	}
	existingColors := make([]string, 0, len(current))
	for _, op := range current {
		existingColors = append(existingColors, op.Color)
	}

	var caretId string
	for {
		caretId = uuid.NewString()
		if !caretExists(current, caretId) {
			break
		}
	}
	color := pickCaretColor(existingColors)

	begin := deltadoc.Caret{{
		Kind: deltadoc.CaretBegin, CaretId: caretId, AuthorId: authorId,
		DocRev: uint64(docRev), Color: color,
	}}
	if _, _, err := c.Apply(ctx, begin, head, authorId); err != nil {
		return nil, err
	}
	c.touch(caretId)
	return &Session{CaretId: caretId, AuthorId: authorId}, nil
}

func caretExists(doc deltadoc.Caret, caretId string) bool {
	for _, op := range doc {
		if op.CaretId == caretId {
			return true
		}
	}
	return false
}

// FindExistingSession validates that (authorId, caretId) is currently
// live, failing unknown_session or wrong_author per spec §4.2.
func (c *CaretControl) FindExistingSession(ctx context.Context, authorId, caretId string) (*Session, error) {
	head, err := c.CurrentRevNum(ctx)
	if err != nil {
		return nil, err
	}
	current, _, err := c.Snapshot(ctx, head)
	if err != nil {
		return nil, err
	}
	for _, op := range current {
		if op.CaretId == caretId {
			if op.AuthorId != authorId {
				return nil, errs.New(errs.WrongAuthor, "FindExistingSession: caret %s belongs to a different author", caretId)
			}
			return &Session{CaretId: caretId, AuthorId: authorId}, nil
		}
	}
	return nil, errs.New(errs.UnknownSession, "FindExistingSession: no live caret %s", caretId)
}

// Apply submits a caret edit delta at baseRevNum, narrowing the
// generic correction to deltadoc.Caret.
func (c *CaretControl) Apply(ctx context.Context, delta deltadoc.Caret, baseRevNum int64, authorId string) (Change, deltadoc.Caret, error) {
	committed, correction, err := c.ApplyChange(ctx, delta, baseRevNum, authorId)
	if err != nil {
		return Change{}, nil, err
	}
	corr, ok := correction.(deltadoc.Caret)
	if !ok {
		return Change{}, nil, errs.New(errs.InvariantViolation, "CaretControl.Apply: correction has wrong delta type")
	}
	return committed, corr, nil
}

// UpdateCaret moves an existing caret's index/length/docRev.
func (c *CaretControl) UpdateCaret(ctx context.Context, session *Session, index, length int, docRev int64) error {
	head, err := c.CurrentRevNum(ctx)
	if err != nil {
		return err
	}
	edit := deltadoc.Caret{
		{Kind: deltadoc.CaretSet, CaretId: session.CaretId, Field: "index", Index: index},
		{Kind: deltadoc.CaretSet, CaretId: session.CaretId, Field: "length", Length: length},
		{Kind: deltadoc.CaretSet, CaretId: session.CaretId, Field: "docRev", DocRev: uint64(docRev)},
	}
	if _, _, err := c.Apply(ctx, edit, head, session.AuthorId); err != nil {
		return err
	}
	c.touch(session.CaretId)
	return nil
}

// EndSession appends an end-session change for caretId.
func (c *CaretControl) EndSession(ctx context.Context, session *Session) error {
	head, err := c.CurrentRevNum(ctx)
	if err != nil {
		return err
	}
	edit := deltadoc.Caret{{Kind: deltadoc.CaretEnd, CaretId: session.CaretId}}
	if _, _, err := c.Apply(ctx, edit, head, session.AuthorId); err != nil {
		return err
	}
	c.forget(session.CaretId)
	return nil
}

// ReapIdle ends every session whose last update is older than the idle
// threshold, returning the caretIds it ended. It's meant to be called
// periodically by the single per-document reaper task DocComplex runs
// (spec §4.2). It only considers carets that have a lastActivity entry
// in this process (set by MakeNewSession, UpdateCaret, or
// TouchFromSnapshot); the persisted changes' timestamps are not
// consulted.
func (c *CaretControl) ReapIdle(ctx context.Context) ([]string, error) {
	now := time.Now()
	c.mu.Lock()
	var idle []string
	for caretId, last := range c.lastActivity {
		if now.Sub(last) > c.idleAfter {
			idle = append(idle, caretId)
		}
	}
	c.mu.Unlock()

	var ended []string
	for _, caretId := range idle {
		head, err := c.CurrentRevNum(ctx)
		if err != nil {
			return ended, err
		}
		current, _, err := c.Snapshot(ctx, head)
		if err != nil {
			return ended, err
		}
		var authorId string
		found := false
		for _, op := range current {
			if op.CaretId == caretId {
				authorId, found = op.AuthorId, true
				break
			}
		}
		if !found {
			c.forget(caretId)
			continue
		}
		if err := c.EndSession(ctx, &Session{CaretId: caretId, AuthorId: authorId}); err != nil {
			return ended, err
		}
		ended = append(ended, caretId)
	}
	return ended, nil
}

// RunReaper starts the single cooperative idle-reaping task for this
// caret stream, grounded on the teacher's background-ticker workers
// (e.g. the Kafka dispatcher's retry loop): it runs until ctx is done.
func (c *CaretControl) RunReaper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.ReapIdle(ctx)
		}
	}
}

func (c *CaretControl) Validate(ctx context.Context) error {
	return validateStream(ctx, c.Control)
}

// TouchFromSnapshot seeds lastActivity with the current time for every
// caret present in the stream's current snapshot at DocComplex open
// time, so carets left over from before the process (re)started become
// subject to idle reaping, with their idle time counted from the open.
func (c *CaretControl) TouchFromSnapshot(ctx context.Context) error {
	head, err := c.CurrentRevNum(ctx)
	if err != nil {
		return err
	}
	current, _, err := c.Snapshot(ctx, head)
	if err != nil {
		return err
	}
	for _, op := range current {
		c.touch(op.CaretId)
	}
	return nil
}
