package indexer

import (
	"context"
	"encoding/hex"
	"fmt"

	"github.com/pkg/errors"

	"github.com/ndlib/ansindex/ans104"
	"github.com/ndlib/ansindex/index"
	"github.com/ndlib/ansindex/store"
	"github.com/ndlib/ansindex/util"
)

// A VerifyReport lists the outcome of checking the payloads of one bundle.
type VerifyReport struct {
	BundleID string
	Checked  int
	Bytes    int64
	Problems []Problem
}

// A Problem is a stored payload which did not match its index entry.
type Problem struct {
	ItemID string
	Err    string
}

func (p Problem) String() string {
	return fmt.Sprintf("%s: %s", p.ItemID, p.Err)
}

// Verify rereads the stored payload of every valid item indexed under the
// bundle txid and compares it with the recorded size and SHA-256.
func Verify(ctx context.Context, db index.DB, s store.ROStore, txid string) (*VerifyReport, error) {
	entries, err := db.Bundle(txid)
	if err != nil {
		return nil, err
	}
	report := &VerifyReport{BundleID: txid}
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		if e.Status != ans104.Valid {
			continue
		}
		report.Checked++
		problem := verifyOne(s, e)
		if problem != "" {
			report.Problems = append(report.Problems, Problem{ItemID: e.ItemID, Err: problem})
			continue
		}
		report.Bytes += e.Size
	}
	return report, nil
}

func verifyOne(s store.ROStore, e *index.Entry) string {
	goal, err := hex.DecodeString(e.SHA256)
	if err != nil || len(goal) == 0 {
		return "no checksum recorded"
	}
	rac, size, err := s.Open(e.Location)
	if errors.Cause(err) == store.ErrNotFound {
		return "payload missing"
	} else if err != nil {
		return err.Error()
	}
	defer rac.Close()
	if size != e.Size {
		return fmt.Sprintf("size is %d, expected %d", size, e.Size)
	}
	_, ok, err := util.VerifyStreamHash(store.NewReader(rac), goal)
	if err != nil {
		return err.Error()
	}
	if !ok {
		return "checksum mismatch"
	}
	return ""
}
