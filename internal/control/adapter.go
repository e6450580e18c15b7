package control

import "bayou/internal/deltadoc"

// Adapter is the per-stream hook set that turns the generic Control
// engine into BodyControl, CaretControl, or PropertyControl. It
// replaces the inheritance chain a class-based design would reach for
// (BaseControl -> BodyControl/CaretControl/PropertyControl): instead of
// subclassing, each stream supplies its own delta algebra and change
// validation.
type Adapter interface {
	// EmptyDelta returns the identity delta for this stream, used as the
	// revision-0 snapshot contents and as the zero value when composing
	// an empty range.
	EmptyDelta() deltadoc.Delta

	// DecodeDelta parses a delta from its JSON wire representation.
	DecodeDelta(raw []byte) (deltadoc.Delta, error)

	// ValidateChange runs stream-specific admission checks on a proposed
	// change's delta before it's applied against baseRevNum. Streams
	// that have nothing beyond the generic algebra (property, caret)
	// return nil.
	ValidateChange(delta deltadoc.Delta, baseRevNum int64) error

	// Name identifies the stream for storage path prefixes and error
	// messages ("body", "caret", "property").
	Name() string
}
