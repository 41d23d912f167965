package indexer

import (
	"fmt"
	"sort"
	"time"

	"github.com/ndlib/ansindex/ans104"
	"github.com/ndlib/ansindex/index"
)

// Summary reports what a run did.
type Summary struct {
	BundleID string    `json:"bundle_id"`
	RunID    string    `json:"run_id"`
	Started  time.Time `json:"started"`
	Finished time.Time `json:"finished"`

	// Items are counted by validation outcome, including nested items.
	// A valid item whose write failed is counted in both Valid and Failed.
	Valid     int   `json:"valid"`
	Malformed int   `json:"malformed"`
	Failed    int   `json:"failed"` // storage failures
	Bytes     int64 `json:"bytes"`  // payload bytes stored

	// Failures lists every malformed item, storage failure, repeated item
	// id and unreadable nested bundle, in the order the items appear.
	Failures []Failure `json:"failures,omitempty"`

	// FromCache is true when the bundle bytes came from the local cache.
	FromCache bool `json:"from_cache,omitempty"`

	// Reused is true when a fresh earlier run was returned instead of
	// indexing again. Only the counts are filled in.
	Reused bool `json:"reused,omitempty"`
}

// A Failure names one item that was not indexed cleanly.
type Failure struct {
	ItemID   string        `json:"item_id"`
	ParentID string        `json:"parent_id,omitempty"`
	Depth    int           `json:"depth"`
	Reason   ans104.Reason `json:"reason,omitempty"` // set for malformed items
	Err      string        `json:"error,omitempty"`  // set for other failures

	seq int
}

func (f Failure) String() string {
	what := f.Err
	if f.Reason != ans104.NoReason {
		what = "malformed: " + f.Reason.String()
	}
	if f.ParentID != "" {
		return fmt.Sprintf("%s (in %s): %s", f.ItemID, f.ParentID, what)
	}
	return fmt.Sprintf("%s: %s", f.ItemID, what)
}

func (s *Summary) sortFailures() {
	sort.SliceStable(s.Failures, func(i, j int) bool {
		return s.Failures[i].seq < s.Failures[j].seq
	})
}

// Run returns the record of this run for the index.
func (s *Summary) Run() *index.Run {
	return &index.Run{
		BundleID:  s.BundleID,
		RunID:     s.RunID,
		Started:   s.Started,
		Finished:  s.Finished,
		Valid:     s.Valid,
		Malformed: s.Malformed,
		Failed:    s.Failed,
		Bytes:     s.Bytes,
	}
}

// summaryOf turns an earlier run back into a Summary.
func summaryOf(r *index.Run) *Summary {
	return &Summary{
		BundleID:  r.BundleID,
		RunID:     r.RunID,
		Started:   r.Started,
		Finished:  r.Finished,
		Valid:     r.Valid,
		Malformed: r.Malformed,
		Failed:    r.Failed,
		Bytes:     r.Bytes,
		Reused:    true,
	}
}
