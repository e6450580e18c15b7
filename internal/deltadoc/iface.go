package deltadoc

import (
	"encoding/json"

	"bayou/internal/errs"
)

// Delta is the algebraic contract spec §6 requires of every stream's
// delta type: Compose, Transform, Diff, Invert, IsEmpty, a IsDocument
// predicate, and byte encoding for the storage layer. Every concrete
// delta type (Body, Caret, Property) implements it so control.go can be
// written once against the interface instead of once per stream, per
// the design note in spec §9 about replacing inheritance chains with an
// adapter parameterized by the stream's algebra.
type Delta interface {
	ComposeWith(other Delta) (Delta, error)
	TransformWith(other Delta, priority bool) (Delta, error)
	DiffFrom(other Delta) (Delta, error)
	InvertWith(base Delta) (Delta, error)
	IsEmpty() bool
	IsDocument() bool
	Encode() ([]byte, error)
}

func (d Body) ComposeWith(other Delta) (Delta, error) {
	b, ok := other.(Body)
	if !ok {
		return nil, errs.New(errs.BadValue, "Body.ComposeWith: type mismatch")
	}
	return d.Compose(b)
}

func (d Body) TransformWith(other Delta, priority bool) (Delta, error) {
	b, ok := other.(Body)
	if !ok {
		return nil, errs.New(errs.BadValue, "Body.TransformWith: type mismatch")
	}
	return d.Transform(b, priority)
}

func (d Body) DiffFrom(other Delta) (Delta, error) {
	b, ok := other.(Body)
	if !ok {
		return nil, errs.New(errs.BadValue, "Body.DiffFrom: type mismatch")
	}
	return d.Diff(b)
}

func (d Body) InvertWith(base Delta) (Delta, error) {
	b, ok := base.(Body)
	if !ok {
		return nil, errs.New(errs.BadValue, "Body.InvertWith: type mismatch")
	}
	return d.Invert(b)
}

func (d Body) Encode() ([]byte, error) { return json.Marshal(d) }

// DecodeBody decodes a Body from its storage/wire representation.
func DecodeBody(b []byte) (Body, error) {
	var d Body
	if err := json.Unmarshal(b, &d); err != nil {
		return nil, errs.Wrap(errs.StorageCorrupt, err, "DecodeBody")
	}
	return d, nil
}

// EmptyBody is the identity delta for the body stream.
func EmptyBody() Body { return Body{} }
