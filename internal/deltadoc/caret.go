package deltadoc

import (
	"encoding/json"
	"sort"

	"bayou/internal/errs"
)

// CaretKind identifies a caret-stream op. Snapshot only ever appears in
// a document delta (the full current state of every live caret);
// Begin/Set/End are the wire-visible ops spec §4.2/§6 define.
type CaretKind string

const (
	CaretSnapshot CaretKind = "snapshot"
	CaretBegin    CaretKind = "begin"
	CaretSet      CaretKind = "set"
	CaretEnd      CaretKind = "end"
)

// CaretOp is one operation in a Caret delta.
type CaretOp struct {
	Kind     CaretKind `json:"kind"`
	CaretId  string    `json:"caretId"`
	AuthorId string    `json:"authorId,omitempty"`
	DocRev   uint64    `json:"docRev,omitempty"`
	Index    int       `json:"index,omitempty"`
	Length   int       `json:"length,omitempty"`
	Color    string    `json:"color,omitempty"`
	Field    string    `json:"field,omitempty"`
}

// Caret is the delta type for CaretControl: a log of begin/set/end ops,
// or (when IsDocument) a snapshot of every currently live caret.
type Caret []CaretOp

func (d Caret) IsEmpty() bool { return len(d) == 0 }

func (d Caret) IsDocument() bool {
	for _, op := range d {
		if op.Kind != CaretSnapshot {
			return false
		}
	}
	return true
}

// caretState is the map a Caret document delta, or the application of a
// Caret edit delta to one, represents.
type caretState struct {
	authorId string
	docRev   uint64
	index    int
	length   int
	color    string
}

func decodeCaretDocument(d Caret) (map[string]caretState, error) {
	out := map[string]caretState{}
	for _, op := range d {
		if op.Kind != CaretSnapshot {
			return nil, errs.New(errs.BadValue, "decodeCaretDocument: non-snapshot op in document delta")
		}
		out[op.CaretId] = caretState{
			authorId: op.AuthorId,
			docRev:   op.DocRev,
			index:    op.Index,
			length:   op.Length,
			color:    op.Color,
		}
	}
	return out, nil
}

func encodeCaretDocument(m map[string]caretState) Caret {
	ids := make([]string, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	out := make(Caret, 0, len(ids))
	for _, id := range ids {
		s := m[id]
		out = append(out, CaretOp{
			Kind: CaretSnapshot, CaretId: id, AuthorId: s.authorId,
			DocRev: s.docRev, Index: s.index, Length: s.length, Color: s.color,
		})
	}
	return out
}

// applyEdit runs the begin/set/end ops of an edit delta over m in place.
func applyEdit(m map[string]caretState, edit Caret) error {
	for _, op := range edit {
		switch op.Kind {
		case CaretBegin:
			m[op.CaretId] = caretState{authorId: op.AuthorId, docRev: op.DocRev, color: op.Color}
		case CaretSet:
			s, ok := m[op.CaretId]
			if !ok {
				return errs.New(errs.UnknownSession, "applyEdit: set on unknown caret %s", op.CaretId)
			}
			switch op.Field {
			case "index":
				s.index = op.Index
			case "length":
				s.length = op.Length
			case "docRev":
				s.docRev = op.DocRev
			case "color":
				s.color = op.Color
			default:
				return errs.New(errs.BadValue, "applyEdit: unknown field %q", op.Field)
			}
			m[op.CaretId] = s
		case CaretEnd:
			delete(m, op.CaretId)
		case CaretSnapshot:
			return errs.New(errs.BadValue, "applyEdit: snapshot op in edit delta")
		}
	}
	return nil
}

// Compose applies the edit delta other atop the document delta d,
// producing the new document delta.
func (d Caret) Compose(other Caret) (Caret, error) {
	if !d.IsDocument() {
		// d is itself an edit (composing two edits, e.g. when folding a
		// change range for rebasing): concatenation is well-defined for
		// a pure op log.
		return append(append(Caret{}, d...), other...), nil
	}
	m, err := decodeCaretDocument(d)
	if err != nil {
		return nil, err
	}
	if err := applyEdit(m, other); err != nil {
		return nil, err
	}
	return encodeCaretDocument(m), nil
}

// Transform passes other through unchanged: caret ops key by caretId
// and field, an independent-keys LWW map, so there is no positional
// conflict for transform to resolve (see spec §9 open-bug note — unlike
// body text, caret fields don't share a coordinate space).
func (d Caret) Transform(other Caret, priority bool) (Caret, error) {
	return other, nil
}

func (d Caret) Diff(other Caret) (Caret, error) {
	a, err := decodeCaretDocument(d)
	if err != nil {
		return nil, err
	}
	b, err := decodeCaretDocument(other)
	if err != nil {
		return nil, err
	}
	var out Caret
	for id, bs := range b {
		as, existed := a[id]
		if !existed {
			out = append(out, CaretOp{Kind: CaretBegin, CaretId: id, AuthorId: bs.authorId, DocRev: bs.docRev, Color: bs.color})
			if bs.index != 0 {
				out = append(out, CaretOp{Kind: CaretSet, CaretId: id, Field: "index", Index: bs.index})
			}
			if bs.length != 0 {
				out = append(out, CaretOp{Kind: CaretSet, CaretId: id, Field: "length", Length: bs.length})
			}
			continue
		}
		if as.index != bs.index {
			out = append(out, CaretOp{Kind: CaretSet, CaretId: id, Field: "index", Index: bs.index})
		}
		if as.length != bs.length {
			out = append(out, CaretOp{Kind: CaretSet, CaretId: id, Field: "length", Length: bs.length})
		}
		if as.docRev != bs.docRev {
			out = append(out, CaretOp{Kind: CaretSet, CaretId: id, Field: "docRev", DocRev: bs.docRev})
		}
		if as.color != bs.color {
			out = append(out, CaretOp{Kind: CaretSet, CaretId: id, Field: "color", Color: bs.color})
		}
	}
	for id := range a {
		if _, still := b[id]; !still {
			out = append(out, CaretOp{Kind: CaretEnd, CaretId: id})
		}
	}
	return out, nil
}

// Invert undoes d relative to the document base it was applied to.
func (d Caret) Invert(base Caret) (Caret, error) {
	m, err := decodeCaretDocument(base)
	if err != nil {
		return nil, err
	}
	after := map[string]caretState{}
	for k, v := range m {
		after[k] = v
	}
	if err := applyEdit(after, d); err != nil {
		return nil, err
	}
	return encodeCaretDocument(m).Diff(encodeCaretDocument(after))
}

func (d Caret) Encode() ([]byte, error) { return json.Marshal(d) }

func (d Caret) ComposeWith(other Delta) (Delta, error) {
	o, ok := other.(Caret)
	if !ok {
		return nil, errs.New(errs.BadValue, "Caret.ComposeWith: type mismatch")
	}
	return d.Compose(o)
}

func (d Caret) TransformWith(other Delta, priority bool) (Delta, error) {
	o, ok := other.(Caret)
	if !ok {
		return nil, errs.New(errs.BadValue, "Caret.TransformWith: type mismatch")
	}
	return d.Transform(o, priority)
}

func (d Caret) DiffFrom(other Delta) (Delta, error) {
	o, ok := other.(Caret)
	if !ok {
		return nil, errs.New(errs.BadValue, "Caret.DiffFrom: type mismatch")
	}
	return d.Diff(o)
}

func (d Caret) InvertWith(base Delta) (Delta, error) {
	o, ok := base.(Caret)
	if !ok {
		return nil, errs.New(errs.BadValue, "Caret.InvertWith: type mismatch")
	}
	return d.Invert(o)
}

// DecodeCaret decodes a Caret delta from its storage representation.
func DecodeCaret(b []byte) (Caret, error) {
	var d Caret
	if err := json.Unmarshal(b, &d); err != nil {
		return nil, errs.Wrap(errs.StorageCorrupt, err, "DecodeCaret")
	}
	return d, nil
}

// EmptyCaret is the identity delta for the caret stream.
func EmptyCaret() Caret { return Caret{} }
