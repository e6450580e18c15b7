package control

import (
	"context"
	"time"

	"bayou/internal/deltadoc"
	"bayou/internal/errs"
	"bayou/internal/storage"
)

// bodyAdapter is the Adapter for the document body stream: plain OT
// text deltas, no extra validation beyond what the generic algebra
// already enforces.
type bodyAdapter struct{}

func (bodyAdapter) EmptyDelta() deltadoc.Delta { return deltadoc.EmptyBody() }

func (bodyAdapter) DecodeDelta(raw []byte) (deltadoc.Delta, error) {
	b, err := deltadoc.DecodeBody(raw)
	if err != nil {
		return nil, err
	}
	return b, nil
}

func (bodyAdapter) ValidateChange(delta deltadoc.Delta, baseRevNum int64) error {
	return nil
}

func (bodyAdapter) Name() string { return "body" }

// BodyControl is the revisioned log of body edits for one document,
// per the public contract of the representative control described at
// length: currentRevNum, getSnapshot, getChange, getComposedChanges,
// getChangeAfter, applyChange.
type BodyControl struct {
	*Control
}

// NewBodyControl wraps file's "/body" stream as a BodyControl.
func NewBodyControl(file storage.File) *BodyControl {
	return &BodyControl{Control: New(file, "/body", bodyAdapter{})}
}

// Apply submits delta as an edit against baseRevNum and returns the
// committed change plus the correction the caller must fold into its
// own optimistic state.
func (b *BodyControl) Apply(ctx context.Context, delta deltadoc.Body, baseRevNum int64, authorId string) (Change, deltadoc.Body, error) {
	committed, correction, err := b.ApplyChange(ctx, delta, baseRevNum, authorId)
	if err != nil {
		return Change{}, nil, err
	}
	corr, ok := correction.(deltadoc.Body)
	if !ok {
		return Change{}, nil, errs.New(errs.InvariantViolation, "BodyControl.Apply: correction has wrong delta type")
	}
	return committed, corr, nil
}

// Snapshot returns the body contents at revNum (0 for the empty
// document) as a concrete Body value.
func (b *BodyControl) Snapshot(ctx context.Context, revNum int64) (deltadoc.Body, int64, error) {
	s, err := b.GetSnapshot(ctx, revNum)
	if err != nil {
		return nil, 0, err
	}
	body, ok := s.Contents.(deltadoc.Body)
	if !ok {
		return nil, 0, errs.New(errs.InvariantViolation, "BodyControl.Snapshot: contents has wrong delta type")
	}
	return body, s.RevNum, nil
}

// WaitForChangeAfter is GetChangeAfter narrowed to Body deltas, per the
// public contract's getChangeAfter(baseRev, timeout?).
func (b *BodyControl) WaitForChangeAfter(ctx context.Context, baseRevNum int64, timeout time.Duration) (int64, deltadoc.Body, error) {
	c, err := b.GetChangeAfter(ctx, baseRevNum, timeout)
	if err != nil {
		return 0, nil, err
	}
	body, ok := c.Delta.(deltadoc.Body)
	if !ok {
		return 0, nil, errs.New(errs.InvariantViolation, "BodyControl.WaitForChangeAfter: wrong delta type")
	}
	return c.RevNum, body, nil
}

// Validate implements the §4.1 open-time check: every revision 0..N
// decodes, has the right RevNum, revision 0 is empty, and no keys
// exist beyond N for a margin of probe revisions.
func (b *BodyControl) Validate(ctx context.Context) error {
	return validateStream(ctx, b.Control)
}
