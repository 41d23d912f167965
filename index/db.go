// Package index records what was found in each bundle: one Entry per data
// item and one Run per completed indexing run. Two implementations are
// provided. The QL database is embedded and needs no setup, and is the
// default. MySQL is for deployments sharing one index between hosts.
package index

import (
	"encoding/json"
	"time"

	"github.com/ndlib/ansindex/ans104"
)

// An Entry is the index record of one data item. Entries are keyed by the
// pair (ItemID, BundleID). Writing an entry for a pair which already exists
// replaces it.
type Entry struct {
	ItemID   string `json:"item_id"`
	BundleID string `json:"bundle_id"`           // the root transaction
	ParentID string `json:"parent_id,omitempty"` // empty for items of the root bundle
	Depth    int    `json:"depth"`

	// Location is where the payload was stored. Empty for malformed items.
	Location string `json:"location,omitempty"`
	Offset   int64  `json:"offset"` // of the payload within its containing bundle
	Size     int64  `json:"size"`   // of the payload

	SignatureType int          `json:"signature_type"`
	Owner         string       `json:"owner,omitempty"`
	Target        string       `json:"target,omitempty"`
	Anchor        string       `json:"anchor,omitempty"`
	Tags          []ans104.Tag `json:"tags"`

	Status ans104.Status `json:"status"`
	Reason ans104.Reason `json:"reason,omitempty"`
	SHA256 string        `json:"sha256,omitempty"` // hex

	RunID   string    `json:"run_id"`
	Indexed time.Time `json:"indexed"`
}

// Same reports whether e and other record the same facts. The run id and
// time of indexing are not compared, so indexing a bundle again gives
// entries which are the Same as before.
func (e *Entry) Same(other *Entry) bool {
	if len(e.Tags) != len(other.Tags) {
		return false
	}
	for i := range e.Tags {
		if e.Tags[i] != other.Tags[i] {
			return false
		}
	}
	return e.ItemID == other.ItemID &&
		e.BundleID == other.BundleID &&
		e.ParentID == other.ParentID &&
		e.Depth == other.Depth &&
		e.Location == other.Location &&
		e.Offset == other.Offset &&
		e.Size == other.Size &&
		e.SignatureType == other.SignatureType &&
		e.Owner == other.Owner &&
		e.Target == other.Target &&
		e.Anchor == other.Anchor &&
		e.Status == other.Status &&
		e.Reason == other.Reason &&
		e.SHA256 == other.SHA256
}

// A Run summarizes one completed indexing of a bundle.
type Run struct {
	BundleID  string    `json:"bundle_id"`
	RunID     string    `json:"run_id"`
	Started   time.Time `json:"started"`
	Finished  time.Time `json:"finished"`
	Valid     int       `json:"valid"`
	Malformed int       `json:"malformed"`
	Failed    int       `json:"failed"`
	Bytes     int64     `json:"bytes"`
}

// DB is the index storage.
type DB interface {
	// SetEntry inserts e, or replaces the entry with the same item and
	// bundle ids.
	SetEntry(e *Entry) error

	// Lookup returns every entry for the item id. An item can appear in
	// more than one bundle. No entries is not an error.
	Lookup(itemID string) ([]*Entry, error)

	// Bundle returns the entries of a bundle ordered by depth and offset.
	Bundle(bundleID string) ([]*Entry, error)

	// SetRun records a completed run.
	SetRun(r *Run) error

	// LastRun returns the most recently finished run for the bundle, or
	// nil if it was never indexed.
	LastRun(bundleID string) (*Run, error)

	Close() error
}

// tags are kept as a JSON list in a single column
func encodeTags(tags []ans104.Tag) (string, error) {
	if tags == nil {
		tags = []ans104.Tag{}
	}
	b, err := json.Marshal(tags)
	return string(b), err
}

func decodeTags(s string) ([]ans104.Tag, error) {
	var tags []ans104.Tag
	err := json.Unmarshal([]byte(s), &tags)
	if len(tags) == 0 {
		tags = nil
	}
	return tags, err
}
