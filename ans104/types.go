package ans104

import (
	"encoding/base64"
	"fmt"
	"math"

	"github.com/pkg/errors"
)

// IDLen is the length in bytes of item ids, targets and anchors.
const IDLen = 32

// ID identifies a data item. It is printed as unpadded base64url, which is
// how Arweave writes identifiers.
type ID [IDLen]byte

func (id ID) String() string {
	return base64.RawURLEncoding.EncodeToString(id[:])
}

// ParseID decodes an identifier in base64url form.
func ParseID(s string) (ID, error) {
	var id ID
	b, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return id, errors.Wrapf(err, "parse id %q", s)
	}
	if len(b) != IDLen {
		return id, fmt.Errorf("parse id %q: has %d bytes, expected %d", s, len(b), IDLen)
	}
	copy(id[:], b)
	return id, nil
}

// SignatureType names the signing scheme of an item. It determines the
// length of the signature and owner fields.
type SignatureType uint16

const (
	Arweave       SignatureType = 1
	ED25519       SignatureType = 2
	Ethereum      SignatureType = 3
	Solana        SignatureType = 4
	InjectedAptos SignatureType = 5
	MultiAptos    SignatureType = 6
	TypedEthereum SignatureType = 7
	Starknet      SignatureType = 8
)

type sigLengths struct {
	name      string
	signature int
	owner     int
}

var signatureTypes = map[SignatureType]sigLengths{
	Arweave:       {"arweave", 512, 512},
	ED25519:       {"ed25519", 64, 32},
	Ethereum:      {"ethereum", 65, 65},
	Solana:        {"solana", 64, 32},
	InjectedAptos: {"injectedaptos", 64, 32},
	MultiAptos:    {"multiaptos", 2052, 1025},
	TypedEthereum: {"typedethereum", 65, 42},
	Starknet:      {"starknet", 128, 33},
}

// Lengths returns the signature and owner lengths for t. ok is false if t
// is not a known signature type.
func (t SignatureType) Lengths() (signature, owner int, ok bool) {
	l, ok := signatureTypes[t]
	return l.signature, l.owner, ok
}

func (t SignatureType) String() string {
	if l, ok := signatureTypes[t]; ok {
		return l.name
	}
	return fmt.Sprintf("unknown(%d)", uint16(t))
}

// Optional is a fixed length field preceded by a presence byte on the wire.
type Optional struct {
	Present bool
	Value   ID
}

func (o Optional) String() string {
	if !o.Present {
		return ""
	}
	return o.Value.String()
}

// A Tag is a name/value pair attached to an item. Order is significant and
// names may repeat.
type Tag struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Entry is one row of the bundle header.
type Entry struct {
	Size uint64
	ID   ID
}

// Header is the count and entry table at the start of a bundle.
type Header struct {
	Count   int
	Entries []Entry
}

// Len returns the number of bytes the header occupies.
func (h *Header) Len() int {
	return headerLen(h.Count)
}

func headerLen(count int) int {
	return countLen + count*entryLen
}

// Item describes one data item inside a bundle buffer. The Signature and
// Owner slices point into the buffer the item was read from. The payload is
// the byte range [DataOffset, DataOffset+DataLength) of that buffer.
type Item struct {
	Index int // position in the bundle header
	ID    ID

	Start uint64 // offset of the item in the bundle buffer
	Size  uint64 // size declared in the bundle header

	SignatureType SignatureType
	Signature     []byte
	Owner         []byte
	Target        Optional
	Anchor        Optional

	TagCount uint64 // number of tags declared by the item
	TagBytes uint64 // size of the tag section declared by the item
	Tags     []Tag

	DataOffset uint64
	DataLength uint64

	// Nested is set when the tags mark the payload as a bundle itself.
	Nested bool

	// Err is set when the item could not be completely decoded. The
	// fields decoded before the failure are still filled in.
	Err error

	// number of bytes the tag decoder consumed. Compared against TagBytes.
	tagSpan uint64
}

// Empty reports whether the header declared a zero size for the item.
func (it *Item) Empty() bool {
	return it.Size == 0
}

// End returns the offset just past the item in the bundle buffer.
func (it *Item) End() uint64 {
	return addSat(it.Start, it.Size)
}

// Data returns the payload of the item as a sub-slice of buf. It returns nil
// if the payload range is not inside buf.
func (it *Item) Data(buf []byte) []byte {
	end := addSat(it.DataOffset, it.DataLength)
	if end > uint64(len(buf)) {
		return nil
	}
	return buf[it.DataOffset:end]
}

// Tag returns the value of the first tag with the given name.
func (it *Item) Tag(name string) (string, bool) {
	for _, t := range it.Tags {
		if t.Name == name {
			return t.Value, true
		}
	}
	return "", false
}

// The tags which mark an item's payload as a bundle.
const (
	BundleFormatTag  = "Bundle-Format"
	BundleVersionTag = "Bundle-Version"
	BundleFormat     = "binary"
	BundleVersion    = "2.0.0"
)

// IsBundle reports whether tags mark a payload as an ANS-104 bundle.
func IsBundle(tags []Tag) bool {
	var format, version bool
	for _, t := range tags {
		switch {
		case t.Name == BundleFormatTag && t.Value == BundleFormat:
			format = true
		case t.Name == BundleVersionTag && t.Value == BundleVersion:
			version = true
		}
	}
	return format && version
}

// addSat adds without wrapping around.
func addSat(a, b uint64) uint64 {
	if a > math.MaxUint64-b {
		return math.MaxUint64
	}
	return a + b
}
