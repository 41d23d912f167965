package ans104

import (
	"encoding/binary"
	"math"

	"github.com/pkg/errors"
)

const (
	countLen = 32            // the item count field
	entryLen = 32 + IDLen    // size field plus item id
	maxCount = math.MaxInt32 // refuse counts we could never index
)

// readUint256 reads a 32 byte little endian integer. Values too large for
// a uint64 saturate to math.MaxUint64.
func readUint256(b []byte) uint64 {
	for _, c := range b[8:32] {
		if c != 0 {
			return math.MaxUint64
		}
	}
	return binary.LittleEndian.Uint64(b[:8])
}

// ReadHeader decodes the item count and entry table at the front of buf.
func ReadHeader(buf []byte) (*Header, error) {
	if len(buf) < countLen {
		return nil, errors.Wrapf(ErrTruncated, "%d bytes, need %d for the item count", len(buf), countLen)
	}
	n := readUint256(buf[:countLen])
	if n > maxCount {
		return nil, errors.Wrapf(ErrInvalidHeader, "item count %d", n)
	}
	if countLen+n*entryLen > uint64(len(buf)) {
		return nil, errors.Wrapf(ErrTruncated, "%d items need a %d byte header, have %d bytes", n, countLen+n*entryLen, len(buf))
	}
	count := int(n)
	h := &Header{Count: count, Entries: make([]Entry, count)}
	for i := range h.Entries {
		b := buf[countLen+i*entryLen:]
		h.Entries[i].Size = readUint256(b[:32])
		copy(h.Entries[i].ID[:], b[32:entryLen])
	}
	return h, nil
}

// A Reader yields the items of a bundle one at a time, in header order.
// Usage follows bufio.Scanner:
//
//	r, err := ans104.NewReader(buf)
//	for r.Next() {
//		item := r.Item()
//	}
//
// Item offsets are a running sum of the declared sizes, so a Reader makes a
// single forward pass and cannot be rewound. Create a new one to read again.
type Reader struct {
	buf    []byte
	header *Header
	next   int    // index of the next entry to read
	offset uint64 // start of the next item
	item   *Item
}

// NewReader reads the header of buf and returns a Reader positioned at the
// first item. The only errors are bundle level ones.
func NewReader(buf []byte) (*Reader, error) {
	h, err := ReadHeader(buf)
	if err != nil {
		return nil, err
	}
	return &Reader{
		buf:    buf,
		header: h,
		offset: uint64(h.Len()),
	}, nil
}

// Header returns the decoded bundle header.
func (r *Reader) Header() *Header {
	return r.header
}

// Next decodes the next item. It returns false when there are no more.
func (r *Reader) Next() bool {
	if r.next >= len(r.header.Entries) {
		r.item = nil
		return false
	}
	e := r.header.Entries[r.next]
	it := &Item{
		Index: r.next,
		ID:    e.ID,
		Start: r.offset,
		Size:  e.Size,
	}
	r.next++
	r.offset = addSat(r.offset, e.Size)
	parseItem(r.buf, it)
	r.item = it
	return true
}

// Item returns the item decoded by the last call to Next.
func (r *Reader) Item() *Item {
	return r.item
}

// ReadAll decodes every item in buf.
func ReadAll(buf []byte) (*Header, []*Item, error) {
	r, err := NewReader(buf)
	if err != nil {
		return nil, nil, err
	}
	items := make([]*Item, 0, r.header.Count)
	for r.Next() {
		items = append(items, r.Item())
	}
	return r.header, items, nil
}

// cursor reads item fields from a window of the bundle buffer. The first
// failure sticks and later reads return nothing.
type cursor struct {
	b   []byte
	pos int
	err error
}

func (c *cursor) fail(err error) {
	if c.err == nil {
		c.err = err
	}
}

func (c *cursor) take(n uint64) []byte {
	if c.err != nil {
		return nil
	}
	if n > uint64(len(c.b)-c.pos) {
		c.fail(errors.Wrapf(ErrItemTruncated, "need %d bytes at item offset %d, have %d", n, c.pos, len(c.b)-c.pos))
		return nil
	}
	s := c.b[c.pos : c.pos+int(n)]
	c.pos += int(n)
	return s
}

func (c *cursor) uint16() uint16 {
	if b := c.take(2); b != nil {
		return binary.LittleEndian.Uint16(b)
	}
	return 0
}

func (c *cursor) uint64() uint64 {
	if b := c.take(8); b != nil {
		return binary.LittleEndian.Uint64(b)
	}
	return 0
}

func (c *cursor) optional() Optional {
	var o Optional
	b := c.take(1)
	if b == nil {
		return o
	}
	switch b[0] {
	case 0:
	case 1:
		if v := c.take(IDLen); v != nil {
			o.Present = true
			copy(o.Value[:], v)
		}
	default:
		c.fail(errors.Wrapf(ErrInvalidPresence, "presence byte %d", b[0]))
	}
	return o
}

// parseItem fills in the item fields from its window of buf. The window is
// cut short if the declared size runs past the end of buf.
func parseItem(buf []byte, it *Item) {
	// until the fields are known the payload is the whole window
	it.DataOffset = it.Start
	it.DataLength = it.Size
	if it.Size == 0 {
		return
	}
	end := it.End()
	if end > uint64(len(buf)) {
		end = uint64(len(buf))
	}
	if it.Start >= end {
		it.Err = errors.Wrapf(ErrItemTruncated, "item starts at %d, buffer has %d bytes", it.Start, len(buf))
		return
	}
	c := &cursor{b: buf[it.Start:end]}

	it.SignatureType = SignatureType(c.uint16())
	if c.err == nil {
		sigLen, ownerLen, ok := it.SignatureType.Lengths()
		if !ok {
			c.fail(errors.Wrapf(ErrInvalidSignatureType, "type %d", uint16(it.SignatureType)))
		}
		it.Signature = c.take(uint64(sigLen))
		it.Owner = c.take(uint64(ownerLen))
	}
	it.Target = c.optional()
	it.Anchor = c.optional()
	it.TagCount = c.uint64()
	it.TagBytes = c.uint64()
	raw := c.take(it.TagBytes)
	if c.err != nil {
		it.Err = c.err
		return
	}
	if len(raw) > 0 {
		tags, n, err := DecodeTags(raw)
		it.Tags = tags
		it.tagSpan = uint64(n)
		if err != nil {
			it.Err = err
		}
		it.Nested = IsBundle(tags)
	}
	it.DataOffset = it.Start + uint64(c.pos)
	it.DataLength = it.Size - uint64(c.pos)
}
