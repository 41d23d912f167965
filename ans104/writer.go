package ans104

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"io"
)

// A DataItem holds the fields of an item to be encoded. Nil Signature or
// Owner fields are filled with zero bytes of the right length.
type DataItem struct {
	SignatureType SignatureType
	Signature     []byte
	Owner         []byte
	Target        *ID
	Anchor        *ID
	Tags          []Tag
	Data          []byte
}

// Encode returns the binary form of the item.
func (d *DataItem) Encode() ([]byte, error) {
	sigLen, ownerLen, ok := d.SignatureType.Lengths()
	if !ok {
		return nil, fmt.Errorf("encode item: unknown signature type %d", uint16(d.SignatureType))
	}
	sig := d.Signature
	if sig == nil {
		sig = make([]byte, sigLen)
	}
	owner := d.Owner
	if owner == nil {
		owner = make([]byte, ownerLen)
	}
	if len(sig) != sigLen || len(owner) != ownerLen {
		return nil, fmt.Errorf("encode item: %s needs a %d byte signature and %d byte owner, have %d and %d",
			d.SignatureType, sigLen, ownerLen, len(sig), len(owner))
	}
	tags := EncodeTags(d.Tags)

	var b bytes.Buffer
	var scratch [8]byte
	binary.LittleEndian.PutUint16(scratch[:2], uint16(d.SignatureType))
	b.Write(scratch[:2])
	b.Write(sig)
	b.Write(owner)
	writeOptional(&b, d.Target)
	writeOptional(&b, d.Anchor)
	binary.LittleEndian.PutUint64(scratch[:], uint64(len(d.Tags)))
	b.Write(scratch[:])
	binary.LittleEndian.PutUint64(scratch[:], uint64(len(tags)))
	b.Write(scratch[:])
	b.Write(tags)
	b.Write(d.Data)
	return b.Bytes(), nil
}

// ID returns the item id, which is the SHA-256 of the signature.
func (d *DataItem) ID() ID {
	sig := d.Signature
	if sig == nil {
		n, _, _ := d.SignatureType.Lengths()
		sig = make([]byte, n)
	}
	return ID(sha256.Sum256(sig))
}

func writeOptional(b *bytes.Buffer, v *ID) {
	if v == nil {
		b.WriteByte(0)
		return
	}
	b.WriteByte(1)
	b.Write(v[:])
}

// A Writer assembles a bundle from items. Items appear in the order they
// were added.
type Writer struct {
	entries []Entry
	items   [][]byte
}

// Add encodes d and appends it to the bundle. It returns the item's id.
func (w *Writer) Add(d *DataItem) (ID, error) {
	raw, err := d.Encode()
	if err != nil {
		return ID{}, err
	}
	id := d.ID()
	w.AddRaw(id, raw)
	return id, nil
}

// AddRaw appends already encoded item bytes under the given id. The bytes
// are not checked, which makes it possible to build broken bundles.
func (w *Writer) AddRaw(id ID, raw []byte) {
	w.AddEntry(Entry{Size: uint64(len(raw)), ID: id}, raw)
}

// AddEntry appends raw bytes with an arbitrary header entry. The declared
// size need not match len(raw).
func (w *Writer) AddEntry(e Entry, raw []byte) {
	w.entries = append(w.entries, e)
	w.items = append(w.items, raw)
}

// WriteTo writes the bundle to out.
func (w *Writer) WriteTo(out io.Writer) (int64, error) {
	var total int64
	write := func(b []byte) error {
		n, err := out.Write(b)
		total += int64(n)
		return err
	}
	if err := write(uint256(uint64(len(w.entries)))); err != nil {
		return total, err
	}
	for _, e := range w.entries {
		if err := write(uint256(e.Size)); err != nil {
			return total, err
		}
		if err := write(e.ID[:]); err != nil {
			return total, err
		}
	}
	for _, raw := range w.items {
		if err := write(raw); err != nil {
			return total, err
		}
	}
	return total, nil
}

// Bytes returns the encoded bundle.
func (w *Writer) Bytes() []byte {
	var b bytes.Buffer
	w.WriteTo(&b)
	return b.Bytes()
}

func uint256(v uint64) []byte {
	b := make([]byte, 32)
	binary.LittleEndian.PutUint64(b, v)
	return b
}
