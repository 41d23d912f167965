package util

import (
	"bytes"
	"encoding/hex"
	"strings"
	"testing"
)

const hashInput = "hello1 hello2 hello3 hello4 hello5abcdefghijklmnopqrstuvwxyz0123456789"

var goalSHA256, _ = hex.DecodeString("fef15edd82b33633582c723562d192fec2d2003df12d4aeac89df17c279a1658")

func TestHashWriter(t *testing.T) {
	var w = new(bytes.Buffer)
	hw := NewHashWriter(w)
	hw.Write([]byte(hashInput))
	h, ok := hw.CheckSHA256(goalSHA256)
	if !ok {
		t.Fatalf("Got %v, expected %v\n", h, goalSHA256)
	}
	if w.String() != hashInput {
		t.Errorf("Received %q, expected %q", w.String(), hashInput)
	}
	if hw.Size() != int64(len(hashInput)) {
		t.Errorf("Received size %d, expected %d", hw.Size(), len(hashInput))
	}
}

func TestVerifyStreamHash(t *testing.T) {
	var table = []struct {
		goal []byte
		ok   bool
	}{
		{goalSHA256, true},
		{nil, true},
		{[]byte{1, 2, 3}, false},
	}
	for _, tab := range table {
		n, ok, err := VerifyStreamHash(strings.NewReader(hashInput), tab.goal)
		if err != nil {
			t.Fatalf("Received %s", err.Error())
		}
		if ok != tab.ok || n != int64(len(hashInput)) {
			t.Errorf("goal %x: Received %v %d, expected %v %d", tab.goal, ok, n, tab.ok, len(hashInput))
		}
	}
}
