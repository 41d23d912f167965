package ans104

import (
	"github.com/pkg/errors"
)

// Bundle level errors are returned by ReadHeader and NewReader. Nothing in
// the bundle can be read when one of these happens.
var (
	ErrTruncated     = errors.New("bundle truncated")
	ErrInvalidHeader = errors.New("invalid bundle header")
)

// Item level errors are carried in Item.Err.
var (
	ErrItemTruncated        = errors.New("item truncated")
	ErrInvalidSignatureType = errors.New("invalid signature type")
	ErrInvalidPresence      = errors.New("invalid presence byte")
	ErrTagDecode            = errors.New("cannot decode tags")
)
