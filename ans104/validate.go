package ans104

import (
	"fmt"
	"sort"

	"github.com/pkg/errors"
)

// Status is the outcome of validating an item.
type Status int

const (
	Valid Status = iota
	Malformed
)

var statusNames = []string{"valid", "malformed"}

func (s Status) String() string {
	if int(s) < len(statusNames) && s >= 0 {
		return statusNames[s]
	}
	return fmt.Sprintf("status(%d)", int(s))
}

// ParseStatus is the inverse of Status.String.
func ParseStatus(s string) (Status, error) {
	for i, name := range statusNames {
		if name == s {
			return Status(i), nil
		}
	}
	return Valid, fmt.Errorf("unknown status %q", s)
}

func (s Status) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *Status) UnmarshalText(b []byte) error {
	v, err := ParseStatus(string(b))
	*s = v
	return err
}

// Reason says which rule a Malformed item broke.
type Reason int

const (
	NoReason Reason = iota
	OffsetOutOfBounds
	LengthMismatch
	TagMismatch
	OverlappingRanges
	RecursionLimitExceeded
	ItemTruncated
	InvalidSignatureType
	InvalidPresence
)

var reasonNames = []string{
	"",
	"offset-out-of-bounds",
	"length-mismatch",
	"tag-mismatch",
	"overlapping-ranges",
	"recursion-limit-exceeded",
	"item-truncated",
	"invalid-signature-type",
	"invalid-presence",
}

func (r Reason) String() string {
	if int(r) < len(reasonNames) && r >= 0 {
		return reasonNames[r]
	}
	return fmt.Sprintf("reason(%d)", int(r))
}

// ParseReason is the inverse of Reason.String.
func ParseReason(s string) (Reason, error) {
	for i, name := range reasonNames {
		if name == s {
			return Reason(i), nil
		}
	}
	return NoReason, fmt.Errorf("unknown reason %q", s)
}

func (r Reason) MarshalText() ([]byte, error) { return []byte(r.String()), nil }

func (r *Reason) UnmarshalText(b []byte) error {
	v, err := ParseReason(string(b))
	*r = v
	return err
}

// Result is attached to an item by validation. It never changes the item.
type Result struct {
	Status Status
	Reason Reason
}

// Ok is the Result of a valid item.
var Ok = Result{Status: Valid}

// Fail returns a Malformed Result for the given reason.
func Fail(r Reason) Result {
	return Result{Status: Malformed, Reason: r}
}

func (r Result) String() string {
	if r.Status == Valid {
		return r.Status.String()
	}
	return fmt.Sprintf("%s(%s)", r.Status, r.Reason)
}

// Validate checks the structure of a single item read from a buffer of
// bufLen bytes. It returns the first rule the item breaks. Overlap with
// sibling items is a bundle wide property checked by FindOverlaps.
func Validate(it *Item, bufLen uint64) Result {
	if it.End() > bufLen || addSat(it.DataOffset, it.DataLength) > bufLen {
		return Fail(OffsetOutOfBounds)
	}
	if it.Empty() {
		return Ok
	}
	if it.Err != nil {
		return Fail(reasonFor(it.Err))
	}
	sigLen, ownerLen, ok := it.SignatureType.Lengths()
	if !ok {
		return Fail(InvalidSignatureType)
	}
	if len(it.Signature) != sigLen || len(it.Owner) != ownerLen {
		return Fail(LengthMismatch)
	}
	if uint64(len(it.Tags)) != it.TagCount || it.tagSpan != it.TagBytes {
		return Fail(TagMismatch)
	}
	return Ok
}

func reasonFor(err error) Reason {
	switch errors.Cause(err) {
	case ErrInvalidSignatureType:
		return InvalidSignatureType
	case ErrInvalidPresence:
		return InvalidPresence
	case ErrTagDecode:
		return TagMismatch
	}
	return ItemTruncated
}

// Range is the payload byte range of one item.
type Range struct {
	Index  int
	Offset uint64
	Length uint64
}

// RangeOf returns the payload range of it.
func RangeOf(it *Item) Range {
	return Range{Index: it.Index, Offset: it.DataOffset, Length: it.DataLength}
}

// FindOverlaps returns the indices of the ranges which share at least one
// byte with another range. Empty ranges overlap nothing. It sorts a copy of
// ranges and sweeps it once, keeping the range reaching furthest so far.
func FindOverlaps(ranges []Range) map[int]bool {
	rs := make([]Range, 0, len(ranges))
	for _, r := range ranges {
		if r.Length > 0 {
			rs = append(rs, r)
		}
	}
	sort.Slice(rs, func(i, j int) bool {
		if rs[i].Offset != rs[j].Offset {
			return rs[i].Offset < rs[j].Offset
		}
		return rs[i].Index < rs[j].Index
	})
	result := make(map[int]bool)
	var reach uint64 // end of the range reaching furthest
	widest := -1     // index of that range
	for _, r := range rs {
		if widest >= 0 && r.Offset < reach {
			result[r.Index] = true
			result[widest] = true
		}
		if end := addSat(r.Offset, r.Length); widest < 0 || end > reach {
			reach = end
			widest = r.Index
		}
	}
	return result
}

// ValidateAll validates every item of one bundle, including the overlap
// check between siblings. Items that fail a per item rule keep that reason.
func ValidateAll(items []*Item, bufLen uint64) []Result {
	results := make([]Result, len(items))
	ranges := make([]Range, 0, len(items))
	for i, it := range items {
		results[i] = Validate(it, bufLen)
		if results[i].Status == Valid {
			ranges = append(ranges, Range{Index: i, Offset: it.DataOffset, Length: it.DataLength})
		}
	}
	overlaps := FindOverlaps(ranges)
	for i := range items {
		if results[i].Status == Valid && overlaps[i] {
			results[i] = Fail(OverlappingRanges)
		}
	}
	return results
}
