package indexer

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/ndlib/ansindex/gateway"
	"github.com/ndlib/ansindex/index"
)

// ErrDuplicateInFlight is returned by Run when the same transaction is
// already being indexed.
var ErrDuplicateInFlight = errors.New("bundle is already being indexed")

// A Runner fetches bundles and indexes them, recording each completed run
// in the index.
type Runner struct {
	Source  gateway.Source
	Indexer *Indexer
	DB      index.DB

	// Fresh is how long a completed run is good for. Within that time Run
	// returns the earlier run instead of indexing again. Zero disables
	// reuse.
	Fresh time.Duration

	Log logrus.FieldLogger

	flights flights
}

// Run indexes the bundle in the transaction txid. A run is recorded only if
// indexing finished, even when some items failed to be stored. The error
// is one of those returned by Source.Fetch or Indexer.Index, or
// ErrDuplicateInFlight.
func (rn *Runner) Run(ctx context.Context, txid string, force bool) (*Summary, error) {
	if !rn.flights.Begin(txid) {
		return nil, errors.Wrap(ErrDuplicateInFlight, txid)
	}
	defer rn.flights.End(txid)
	log := rn.Log
	if log == nil {
		log = logrus.StandardLogger()
	}
	log = log.WithField("bundle", txid)

	if rn.Fresh > 0 && !force {
		last, err := rn.DB.LastRun(txid)
		if err != nil {
			return nil, err
		}
		if last != nil && time.Since(last.Finished) < rn.Fresh {
			log.WithField("run", last.RunID).Info("reusing earlier run")
			return summaryOf(last), nil
		}
	}

	data, err := rn.Source.Fetch(ctx, txid)
	if err != nil {
		return nil, err
	}
	defer data.Close()
	log.WithField("size", len(data.Bytes)).Debug("fetched bundle")

	summary, err := rn.Indexer.Index(ctx, txid, data.Bytes)
	if summary != nil {
		summary.FromCache = data.Cached
	}
	if err != nil {
		return summary, err
	}
	if err := rn.DB.SetRun(summary.Run()); err != nil {
		return summary, errors.Wrapf(err, "recording run %s", summary.RunID)
	}
	return summary, nil
}

// Running reports whether txid is being indexed.
func (rn *Runner) Running(txid string) bool {
	return rn.flights.Busy(txid)
}
