package ans104

import (
	"encoding/binary"
	"unicode/utf8"

	"github.com/pkg/errors"
)

// Tags are encoded as an Avro array of records with two string fields.
// Avro writes an array as a sequence of blocks, each starting with a zigzag
// varint item count, and ends it with a count of zero. A negative count
// means the absolute value is the count and it is followed by the size of
// the block in bytes. Strings are a zigzag varint length and the UTF-8
// bytes. Go's binary.Varint uses the same zigzag encoding.

// DecodeTags decodes an Avro tag array from b. It returns the tags and the
// number of bytes consumed, which may be less than len(b).
func DecodeTags(b []byte) ([]Tag, int, error) {
	var tags []Tag
	pos := 0
	for {
		n, k := binary.Varint(b[pos:])
		if k <= 0 {
			return tags, pos, errors.Wrap(ErrTagDecode, "block count")
		}
		pos += k
		if n == 0 {
			return tags, pos, nil
		}
		if n < 0 {
			n = -n
			// skip the block size. we decode the block anyway
			_, k = binary.Varint(b[pos:])
			if k <= 0 {
				return tags, pos, errors.Wrap(ErrTagDecode, "block size")
			}
			pos += k
		}
		// every tag needs at least two bytes, so this bounds n before we
		// trust it as a loop count
		if n < 0 || n > int64(len(b)-pos)/2 {
			return tags, pos, errors.Wrapf(ErrTagDecode, "block count %d too large", n)
		}
		for i := int64(0); i < n; i++ {
			var t Tag
			var err error
			t.Name, pos, err = readString(b, pos)
			if err != nil {
				return tags, pos, err
			}
			t.Value, pos, err = readString(b, pos)
			if err != nil {
				return tags, pos, err
			}
			tags = append(tags, t)
		}
	}
}

func readString(b []byte, pos int) (string, int, error) {
	n, k := binary.Varint(b[pos:])
	if k <= 0 {
		return "", pos, errors.Wrap(ErrTagDecode, "string length")
	}
	pos += k
	if n < 0 || n > int64(len(b)-pos) {
		return "", pos, errors.Wrapf(ErrTagDecode, "string length %d", n)
	}
	s := b[pos : pos+int(n)]
	if !utf8.Valid(s) {
		return "", pos, errors.Wrap(ErrTagDecode, "string is not utf-8")
	}
	return string(s), pos + int(n), nil
}

// EncodeTags returns the Avro encoding of tags as a single block. An empty
// list encodes to zero bytes, which is what bundlers write for items
// without tags.
func EncodeTags(tags []Tag) []byte {
	if len(tags) == 0 {
		return nil
	}
	var scratch [binary.MaxVarintLen64]byte
	var out []byte
	put := func(v int64) {
		n := binary.PutVarint(scratch[:], v)
		out = append(out, scratch[:n]...)
	}
	put(int64(len(tags)))
	for _, t := range tags {
		put(int64(len(t.Name)))
		out = append(out, t.Name...)
		put(int64(len(t.Value)))
		out = append(out, t.Value...)
	}
	put(0)
	return out
}
