package deltadoc

import (
	"encoding/json"
	"sort"

	"bayou/internal/errs"
)

// PropertyKind identifies a property-stream op.
type PropertyKind string

const (
	PropertySnapshot PropertyKind = "snapshot"
	PropertySet      PropertyKind = "set"
	PropertyDelete   PropertyKind = "delete"
)

// PropertyOp is one operation in a Property delta.
type PropertyOp struct {
	Kind  PropertyKind `json:"kind"`
	Name  string       `json:"name"`
	Value any          `json:"value,omitempty"`
}

// Property is the delta type for PropertyControl: a log of set/delete
// ops over a flat key/value map, or (when IsDocument) a snapshot of
// every currently-set key.
type Property []PropertyOp

func (d Property) IsEmpty() bool { return len(d) == 0 }

func (d Property) IsDocument() bool {
	for _, op := range d {
		if op.Kind != PropertySnapshot {
			return false
		}
	}
	return true
}

func decodePropertyDocument(d Property) (map[string]any, error) {
	out := map[string]any{}
	for _, op := range d {
		if op.Kind != PropertySnapshot {
			return nil, errs.New(errs.BadValue, "decodePropertyDocument: non-snapshot op in document delta")
		}
		out[op.Name] = op.Value
	}
	return out, nil
}

func encodePropertyDocument(m map[string]any) Property {
	names := make([]string, 0, len(m))
	for n := range m {
		names = append(names, n)
	}
	sort.Strings(names)
	out := make(Property, 0, len(names))
	for _, n := range names {
		out = append(out, PropertyOp{Kind: PropertySnapshot, Name: n, Value: m[n]})
	}
	return out
}

func (d Property) Compose(other Property) (Property, error) {
	if !d.IsDocument() {
		return append(append(Property{}, d...), other...), nil
	}
	m, err := decodePropertyDocument(d)
	if err != nil {
		return nil, err
	}
	for _, op := range other {
		switch op.Kind {
		case PropertySet:
			m[op.Name] = op.Value
		case PropertyDelete:
			delete(m, op.Name)
		case PropertySnapshot:
			return nil, errs.New(errs.BadValue, "Property.Compose: snapshot op in edit delta")
		}
	}
	return encodePropertyDocument(m), nil
}

// Transform passes other through unchanged: properties are an
// independent-keys last-write-wins map, so compose order alone
// resolves conflicts (see Caret.Transform).
func (d Property) Transform(other Property, priority bool) (Property, error) {
	return other, nil
}

func (d Property) Diff(other Property) (Property, error) {
	a, err := decodePropertyDocument(d)
	if err != nil {
		return nil, err
	}
	b, err := decodePropertyDocument(other)
	if err != nil {
		return nil, err
	}
	var out Property
	names := make([]string, 0, len(b))
	for n := range b {
		names = append(names, n)
	}
	sort.Strings(names)
	for _, n := range names {
		if av, ok := a[n]; !ok || av != b[n] {
			out = append(out, PropertyOp{Kind: PropertySet, Name: n, Value: b[n]})
		}
	}
	delNames := make([]string, 0)
	for n := range a {
		if _, still := b[n]; !still {
			delNames = append(delNames, n)
		}
	}
	sort.Strings(delNames)
	for _, n := range delNames {
		out = append(out, PropertyOp{Kind: PropertyDelete, Name: n})
	}
	return out, nil
}

func (d Property) Invert(base Property) (Property, error) {
	m, err := decodePropertyDocument(base)
	if err != nil {
		return nil, err
	}
	after := map[string]any{}
	for k, v := range m {
		after[k] = v
	}
	for _, op := range d {
		switch op.Kind {
		case PropertySet:
			after[op.Name] = op.Value
		case PropertyDelete:
			delete(after, op.Name)
		}
	}
	return encodePropertyDocument(m).Diff(encodePropertyDocument(after))
}

func (d Property) Encode() ([]byte, error) { return json.Marshal(d) }

func (d Property) ComposeWith(other Delta) (Delta, error) {
	o, ok := other.(Property)
	if !ok {
		return nil, errs.New(errs.BadValue, "Property.ComposeWith: type mismatch")
	}
	return d.Compose(o)
}

func (d Property) TransformWith(other Delta, priority bool) (Delta, error) {
	o, ok := other.(Property)
	if !ok {
		return nil, errs.New(errs.BadValue, "Property.TransformWith: type mismatch")
	}
	return d.Transform(o, priority)
}

func (d Property) DiffFrom(other Delta) (Delta, error) {
	o, ok := other.(Property)
	if !ok {
		return nil, errs.New(errs.BadValue, "Property.DiffFrom: type mismatch")
	}
	return d.Diff(o)
}

func (d Property) InvertWith(base Delta) (Delta, error) {
	o, ok := base.(Property)
	if !ok {
		return nil, errs.New(errs.BadValue, "Property.InvertWith: type mismatch")
	}
	return d.Invert(o)
}

// DecodeProperty decodes a Property delta from its storage representation.
func DecodeProperty(b []byte) (Property, error) {
	var d Property
	if err := json.Unmarshal(b, &d); err != nil {
		return nil, errs.Wrap(errs.StorageCorrupt, err, "DecodeProperty")
	}
	return d, nil
}

// EmptyProperty is the identity delta for the property stream.
func EmptyProperty() Property { return Property{} }
