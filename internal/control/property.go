package control

import (
	"context"

	"bayou/internal/deltadoc"
	"bayou/internal/errs"
	"bayou/internal/storage"
)

type propertyAdapter struct{}

func (propertyAdapter) EmptyDelta() deltadoc.Delta { return deltadoc.EmptyProperty() }

func (propertyAdapter) DecodeDelta(raw []byte) (deltadoc.Delta, error) {
	p, err := deltadoc.DecodeProperty(raw)
	if err != nil {
		return nil, err
	}
	return p, nil
}

func (propertyAdapter) ValidateChange(delta deltadoc.Delta, baseRevNum int64) error {
	return nil
}

func (propertyAdapter) Name() string { return "property" }

// PropertyControl is the revisioned log of document-level key/value
// properties, sharing BodyControl's shape over a set/delete delta
// algebra instead of positional text edits.
type PropertyControl struct {
	*Control
}

func NewPropertyControl(file storage.File) *PropertyControl {
	return &PropertyControl{Control: New(file, "/property", propertyAdapter{})}
}

func (p *PropertyControl) Apply(ctx context.Context, delta deltadoc.Property, baseRevNum int64, authorId string) (Change, deltadoc.Property, error) {
	committed, correction, err := p.ApplyChange(ctx, delta, baseRevNum, authorId)
	if err != nil {
		return Change{}, nil, err
	}
	corr, ok := correction.(deltadoc.Property)
	if !ok {
		return Change{}, nil, errs.New(errs.InvariantViolation, "PropertyControl.Apply: correction has wrong delta type")
	}
	return committed, corr, nil
}

func (p *PropertyControl) Snapshot(ctx context.Context, revNum int64) (deltadoc.Property, int64, error) {
	s, err := p.GetSnapshot(ctx, revNum)
	if err != nil {
		return nil, 0, err
	}
	props, ok := s.Contents.(deltadoc.Property)
	if !ok {
		return nil, 0, errs.New(errs.InvariantViolation, "PropertyControl.Snapshot: contents has wrong delta type")
	}
	return props, s.RevNum, nil
}

// Set applies a single set(name, value) edit on behalf of authorId at
// baseRevNum, a convenience wrapper for the session-facing API.
func (p *PropertyControl) Set(ctx context.Context, name string, value any, baseRevNum int64, authorId string) (Change, deltadoc.Property, error) {
	return p.Apply(ctx, deltadoc.Property{{Kind: deltadoc.PropertySet, Name: name, Value: value}}, baseRevNum, authorId)
}

// Delete applies a single delete(name) edit.
func (p *PropertyControl) Delete(ctx context.Context, name string, baseRevNum int64, authorId string) (Change, deltadoc.Property, error) {
	return p.Apply(ctx, deltadoc.Property{{Kind: deltadoc.PropertyDelete, Name: name}}, baseRevNum, authorId)
}

func (p *PropertyControl) Validate(ctx context.Context) error {
	return validateStream(ctx, p.Control)
}
