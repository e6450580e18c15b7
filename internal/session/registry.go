// Package session implements SessionRegistry (spec §4.6): per-author
// handles onto a document's body/caret/property controls, with the
// author's ID stamped onto every mutating call automatically instead of
// being threaded through by every caller.
package session

import (
	"context"
	"sync"
	"time"

	"bayou/internal/control"
	"bayou/internal/deltadoc"
	"bayou/internal/errs"
)

// Session is one author's live handle onto a document: it wraps the
// document's BodyControl/PropertyControl with the author's ID baked
// in, and owns at most one caret (none once EndCaret has run).
type Session struct {
	AuthorId string
	caret    *control.Session

	body     *control.BodyControl
	carets   *control.CaretControl
	props    *control.PropertyControl
}

// ApplyBodyChange submits delta as an edit against baseRevNum on
// behalf of this session's author.
func (s *Session) ApplyBodyChange(ctx context.Context, delta deltadoc.Body, baseRevNum int64) (control.Change, deltadoc.Body, error) {
	return s.body.Apply(ctx, delta, baseRevNum, s.AuthorId)
}

// GetSnapshot returns the body contents at revNum.
func (s *Session) GetSnapshot(ctx context.Context, revNum int64) (deltadoc.Body, int64, error) {
	return s.body.Snapshot(ctx, revNum)
}

// GetChangeAfter long-polls the body stream past baseRevNum.
func (s *Session) GetChangeAfter(ctx context.Context, baseRevNum int64, timeout time.Duration) (int64, deltadoc.Body, error) {
	return s.body.WaitForChangeAfter(ctx, baseRevNum, timeout)
}

// UpdateCaret moves this session's caret.
func (s *Session) UpdateCaret(ctx context.Context, index, length int, docRev int64) error {
	if s.caret == nil {
		return errs.New(errs.UnknownSession, "UpdateCaret: session has no active caret")
	}
	return s.carets.UpdateCaret(ctx, s.caret, index, length, docRev)
}

// EndCaret ends this session's caret, leaving the session's body/
// property handles usable (a session can drop its cursor without
// logging out).
func (s *Session) EndCaret(ctx context.Context) error {
	if s.caret == nil {
		return nil
	}
	if err := s.carets.EndSession(ctx, s.caret); err != nil {
		return err
	}
	s.caret = nil
	return nil
}

// SetProperty sets a document property on behalf of this session.
func (s *Session) SetProperty(ctx context.Context, name string, value any, baseRevNum int64) (control.Change, deltadoc.Property, error) {
	return s.props.Set(ctx, name, value, baseRevNum, s.AuthorId)
}

// Registry maps authorId -> live Sessions, per spec §4.6.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]map[*Session]struct{} // authorId -> set

	body   *control.BodyControl
	carets *control.CaretControl
	props  *control.PropertyControl
}

// NewRegistry builds a Registry bound to one document's three controls.
func NewRegistry(body *control.BodyControl, carets *control.CaretControl, props *control.PropertyControl) *Registry {
	return &Registry{
		sessions: map[string]map[*Session]struct{}{},
		body:     body,
		carets:   carets,
		props:    props,
	}
}

// Open creates a new Session for authorId, allocating a fresh caret at
// the body stream's current head.
func (r *Registry) Open(ctx context.Context, authorId string) (*Session, error) {
	bodyHead, err := r.body.CurrentRevNum(ctx)
	if err != nil {
		return nil, err
	}
	caretSession, err := r.carets.MakeNewSession(ctx, authorId, bodyHead)
	if err != nil {
		return nil, err
	}
	s := &Session{AuthorId: authorId, caret: caretSession, body: r.body, carets: r.carets, props: r.props}

	r.mu.Lock()
	set, ok := r.sessions[authorId]
	if !ok {
		set = map[*Session]struct{}{}
		r.sessions[authorId] = set
	}
	set[s] = struct{}{}
	r.mu.Unlock()

	return s, nil
}

// Close ends s's caret and removes it from the registry.
func (r *Registry) Close(ctx context.Context, s *Session) error {
	err := s.EndCaret(ctx)

	r.mu.Lock()
	if set, ok := r.sessions[s.AuthorId]; ok {
		delete(set, s)
		if len(set) == 0 {
			delete(r.sessions, s.AuthorId)
		}
	}
	r.mu.Unlock()

	return err
}

// SessionsFor returns every live session for authorId.
func (r *Registry) SessionsFor(authorId string) []*Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	set, ok := r.sessions[authorId]
	if !ok {
		return nil
	}
	out := make([]*Session, 0, len(set))
	for s := range set {
		out = append(out, s)
	}
	return out
}

// Count returns the number of live sessions across all authors.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, set := range r.sessions {
		n += len(set)
	}
	return n
}
