// Package control implements the generic revisioned-stream engine spec
// §4.1 describes for BodyControl, generalized (per the design note in
// spec §9) to a single type parameterized by a per-stream Adapter
// instead of a BaseControl inheritance chain. BodyControl, CaretControl,
// and PropertyControl (in this package) are thin Adapter implementations
// over this one engine.
package control

import (
	"encoding/json"
	"fmt"

	"bayou/internal/deltadoc"
	"bayou/internal/errs"
)

// Change is the spec §3 tuple (revNum, delta, timestamp, authorId?).
type Change struct {
	RevNum    int64
	Delta     deltadoc.Delta
	Timestamp int64 // msec since epoch; 0 and AuthorId=="" for revision 0
	AuthorId  string
}

// Snapshot is the spec §3 tuple (revNum, contents).
type Snapshot struct {
	RevNum   int64
	Contents deltadoc.Delta
}

// wireChange is the JSON envelope stored at <prefix>/change/<N>.
type wireChange struct {
	RevNum    int64           `json:"revNum"`
	Delta     json.RawMessage `json:"delta"`
	Timestamp int64           `json:"timestamp,omitempty"`
	AuthorId  string          `json:"authorId,omitempty"`
}

func encodeChange(a Adapter, c Change) ([]byte, error) {
	rawDelta, err := c.Delta.Encode()
	if err != nil {
		return nil, errs.Wrap(errs.BadValue, err, "encodeChange: delta")
	}
	return json.Marshal(wireChange{RevNum: c.RevNum, Delta: rawDelta, Timestamp: c.Timestamp, AuthorId: c.AuthorId})
}

func decodeChange(a Adapter, raw []byte) (Change, error) {
	var w wireChange
	if err := json.Unmarshal(raw, &w); err != nil {
		return Change{}, errs.Wrap(errs.StorageCorrupt, err, "decodeChange: envelope")
	}
	delta, err := a.DecodeDelta(w.Delta)
	if err != nil {
		return Change{}, errs.Wrap(errs.StorageCorrupt, err, "decodeChange: delta")
	}
	return Change{RevNum: w.RevNum, Delta: delta, Timestamp: w.Timestamp, AuthorId: w.AuthorId}, nil
}

func changePath(prefix string, rev int64) string {
	return fmt.Sprintf("%s/change/%d", prefix, rev)
}

func revisionNumberPath(prefix string) string {
	return prefix + "/revision_number"
}

func encodeRevNum(rev int64) []byte {
	return []byte(fmt.Sprintf("%d", rev))
}

func decodeRevNum(raw []byte) (int64, error) {
	var rev int64
	if _, err := fmt.Sscanf(string(raw), "%d", &rev); err != nil {
		return 0, errs.Wrap(errs.StorageCorrupt, err, "decodeRevNum: %q", raw)
	}
	return rev, nil
}
