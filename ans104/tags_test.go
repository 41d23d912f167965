package ans104

import (
	"encoding/binary"
	"testing"

	"github.com/pkg/errors"
)

func varint(v int64) []byte {
	var b [binary.MaxVarintLen64]byte
	n := binary.PutVarint(b[:], v)
	return b[:n]
}

func avroString(s string) []byte {
	return append(varint(int64(len(s))), s...)
}

func TestEncodeDecodeTags(t *testing.T) {
	var table = [][]Tag{
		{{"Content-Type", "application/json"}},
		{{"", ""}, {"Bundle-Format", "binary"}, {"ключ", "значение"}},
	}
	for _, tags := range table {
		b := EncodeTags(tags)
		got, n, err := DecodeTags(b)
		if err != nil {
			t.Errorf("%v: Received %s", tags, err.Error())
			continue
		}
		if n != len(b) {
			t.Errorf("%v: consumed %d bytes, expected %d", tags, n, len(b))
		}
		if len(got) != len(tags) {
			t.Errorf("Received %v, expected %v", got, tags)
			continue
		}
		for i := range tags {
			if got[i] != tags[i] {
				t.Errorf("Received %v, expected %v", got[i], tags[i])
			}
		}
	}
	if EncodeTags(nil) != nil {
		t.Errorf("no tags should encode to nothing")
	}
}

func TestDecodeTagBlocks(t *testing.T) {
	// first block uses a negative count followed by a byte size
	block1 := append(avroString("a"), avroString("1")...)
	var b []byte
	b = append(b, varint(-1)...)
	b = append(b, varint(int64(len(block1)))...)
	b = append(b, block1...)
	b = append(b, varint(2)...)
	b = append(b, avroString("b")...)
	b = append(b, avroString("2")...)
	b = append(b, avroString("c")...)
	b = append(b, avroString("3")...)
	b = append(b, varint(0)...)
	b = append(b, "trailing data"...)

	tags, n, err := DecodeTags(b)
	if err != nil {
		t.Fatalf("Received %s", err.Error())
	}
	expected := []Tag{{"a", "1"}, {"b", "2"}, {"c", "3"}}
	if len(tags) != len(expected) {
		t.Fatalf("Received %v, expected %v", tags, expected)
	}
	for i := range expected {
		if tags[i] != expected[i] {
			t.Errorf("Received %v, expected %v", tags[i], expected[i])
		}
	}
	if n != len(b)-len("trailing data") {
		t.Errorf("consumed %d bytes, expected %d", n, len(b)-len("trailing data"))
	}
}

func TestDecodeTagErrors(t *testing.T) {
	var table = []struct {
		name string
		b    []byte
	}{
		{"empty", nil},
		{"no terminator", append(varint(1), append(avroString("a"), avroString("b")...)...)},
		{"huge count", append(varint(1<<40), 0, 0)},
		{"string too long", append(varint(1), varint(50)...)},
		{"negative string", append(varint(1), varint(-3)...)},
		{"bad utf-8", append(append(varint(1), avroString("\xff\xfe")...), append(avroString("v"), 0)...)},
	}
	for _, tab := range table {
		_, _, err := DecodeTags(tab.b)
		if errors.Cause(err) != ErrTagDecode {
			t.Errorf("%s: Received %v, expected %v", tab.name, err, ErrTagDecode)
		}
	}
}
