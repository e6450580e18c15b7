package deltadoc

import "bayou/internal/errs"

// Compose merges d then other into a single delta equivalent to
// applying d followed by other to whatever base d itself applies to.
// When d is a document (all inserts), the result is the new document
// produced by applying the edit other to it — the form spec §4.1 uses
// at every step of the OT apply/rebase loop.
func (d Body) Compose(other Body) (Body, error) {
	ai, bi := newOpIter(d), newOpIter(other)
	var out Body

	for ai.hasNext() || bi.hasNext() {
		switch {
		case bi.peekKind() == KindInsert:
			out = append(out, bi.next(bi.peekLen()))
		case !ai.hasNext():
			// b still has retain/delete left but a is exhausted: only
			// valid if what's left is delete-of-nothing or a plain
			// trailing retain, both no-ops against an empty tail.
			out = append(out, bi.next(bi.peekLen()))
		case !bi.hasNext():
			out = append(out, ai.rest()...)
		default:
			n := minInt(ai.peekLen(), bi.peekLen())
			aOp := ai.next(n)
			bOp := bi.next(n)
			switch {
			case bOp.Kind == KindDelete:
				if aOp.Kind == KindInsert {
					// insert immediately deleted: cancels out.
					continue
				}
				out = append(out, Op{Kind: KindDelete, Count: n})
			case aOp.Kind == KindDelete:
				out = append(out, Op{Kind: KindDelete, Count: n})
			case aOp.Kind == KindInsert:
				out = append(out, Op{Kind: KindInsert, Text: aOp.Text, Attrs: mergeAttrs(aOp.Attrs, bOp.Attrs)})
			default: // both retain
				out = append(out, Op{Kind: KindRetain, Count: n, Attrs: mergeAttrs(aOp.Attrs, bOp.Attrs)})
			}
		}
	}
	return chop(out), nil
}

// Transform produces other', the form of other that applies cleanly
// after d has already been applied, per spec §6's TP1 requirement:
// applying d then Transform(d, other) must converge with applying
// other then Transform(other, d) regardless of which happened first on
// the server. priority resolves same-position inserts: true means d's
// insert is considered to have landed first (used for the server side
// in spec §4.1 step 5c, "priority = otherSideFirst").
func (d Body) Transform(other Body, priority bool) (Body, error) {
	ai, bi := newOpIter(d), newOpIter(other)
	var out Body

	for ai.hasNext() || bi.hasNext() {
		switch {
		case ai.peekKind() == KindInsert && (priority || bi.peekKind() != KindInsert):
			n := ai.peekLen()
			ai.next(n)
			out = append(out, Op{Kind: KindRetain, Count: n})
		case bi.peekKind() == KindInsert:
			out = append(out, bi.next(bi.peekLen()))
		case !ai.hasNext():
			out = append(out, bi.rest()...)
		case !bi.hasNext():
			// Nothing more of other to transform; stop — trailing
			// retains are implicit.
			return chop(out), nil
		default:
			n := minInt(ai.peekLen(), bi.peekLen())
			aOp := ai.next(n)
			bOp := bi.next(n)
			switch {
			case aOp.Kind == KindDelete:
				// Already gone server-side; drop whatever b wanted to
				// do to that span.
				continue
			case bOp.Kind == KindDelete:
				out = append(out, bOp)
			default:
				out = append(out, Op{Kind: KindRetain, Count: n})
			}
		}
	}
	return chop(out), nil
}

// Diff produces the edit that turns the document d into the document
// other, used to build the correction delta of spec §4.1 step 5c:
// expected.diff(newHead.contents).
func (d Body) Diff(other Body) (Body, error) {
	a, err := d.Text()
	if err != nil {
		return nil, err
	}
	b, err := other.Text()
	if err != nil {
		return nil, err
	}
	ar, br := []rune(a), []rune(b)

	prefix := 0
	for prefix < len(ar) && prefix < len(br) && ar[prefix] == br[prefix] {
		prefix++
	}
	suffix := 0
	for suffix < len(ar)-prefix && suffix < len(br)-prefix &&
		ar[len(ar)-1-suffix] == br[len(br)-1-suffix] {
		suffix++
	}

	var out Body
	if prefix > 0 {
		out = append(out, Op{Kind: KindRetain, Count: prefix})
	}
	midOldLen := len(ar) - prefix - suffix
	midNew := br[prefix : len(br)-suffix]
	if midOldLen > 0 {
		out = append(out, Op{Kind: KindDelete, Count: midOldLen})
	}
	if len(midNew) > 0 {
		out = append(out, Op{Kind: KindInsert, Text: string(midNew)})
	}
	return chop(out), nil
}

// Invert produces the delta that undoes d when applied to the document
// that results from applying d to base; base must be the document d
// was originally applied against.
func (d Body) Invert(base Body) (Body, error) {
	if !base.IsDocument() {
		return nil, errs.New(errs.BadValue, "Invert: base is not a document")
	}
	baseText, _ := base.Text()
	baseRunes := []rune(baseText)
	cursor := 0
	var out Body
	for _, op := range d {
		switch op.Kind {
		case KindRetain:
			out = append(out, Op{Kind: KindRetain, Count: op.Count})
			cursor += op.Count
		case KindInsert:
			out = append(out, Op{Kind: KindDelete, Count: runeLen(op.Text)})
		case KindDelete:
			if cursor+op.Count > len(baseRunes) {
				return nil, errs.New(errs.BadValue, "Invert: delete runs past base document")
			}
			out = append(out, Op{Kind: KindInsert, Text: string(baseRunes[cursor : cursor+op.Count])})
			cursor += op.Count
		}
	}
	return chop(out), nil
}
