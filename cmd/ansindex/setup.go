package main

import (
	"path/filepath"

	raven "github.com/getsentry/raven-go"
	"github.com/sirupsen/logrus"

	"github.com/ndlib/ansindex/blobcache"
	"github.com/ndlib/ansindex/gateway"
	"github.com/ndlib/ansindex/index"
	"github.com/ndlib/ansindex/indexer"
	"github.com/ndlib/ansindex/store"
	"github.com/ndlib/ansindex/util"
)

func setupLogging(cfg Config) {
	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	if cfg.Verbose {
		logrus.SetLevel(logrus.DebugLevel)
	}
	if cfg.SentryDSN != "" {
		if err := raven.SetDSN(cfg.SentryDSN); err != nil {
			logrus.WithError(err).Warn("sentry")
		}
	}
}

// stack is everything a command needs, built from the config.
type stack struct {
	payloads store.Store
	cache    blobcache.Cache
	db       index.DB
	source   gateway.Source
	rate     *util.RateCounter
}

// openStack builds the stores, index and gateway connection described by
// cfg. When the storage root is "" everything is kept in one memory store.
func openStack(cfg Config) (*stack, error) {
	s := &stack{}
	var err error
	var cacheStore store.Store
	if cfg.Storage == "" {
		mem := store.NewMemory()
		s.payloads = store.NewWithPrefix(mem, "items/")
		cacheStore = store.NewWithPrefix(mem, "cache/")
	} else {
		s.payloads, err = parselocation(cfg.Storage, "items")
		if err != nil {
			return nil, err
		}
		cacheStore, err = parselocation(cfg.Storage, "cache")
		if err != nil {
			return nil, err
		}
	}
	if cfg.Payloads != "" {
		s.payloads, err = parselocation(cfg.Payloads, "")
		if err != nil {
			return nil, err
		}
	}

	switch {
	case cfg.MySQL != "":
		logrus.Info("Using MySQL index")
		s.db, err = index.NewMySQL(cfg.MySQL)
	case cfg.Storage == "":
		s.db, err = index.NewQL("memory")
	default:
		path := filepath.Join(cfg.Storage, "index.ql")
		logrus.WithField("path", path).Info("Using internal index")
		s.db, err = index.NewQL(path)
	}
	if err != nil {
		return nil, err
	}

	if cfg.CacheSize > 0 {
		c := blobcache.NewLRU(cacheStore, int64(cfg.CacheSize))
		c.Scan()
		s.cache = c
	} else {
		s.cache = blobcache.EmptyCache{}
	}
	if cfg.Rate > 0 {
		s.rate = util.NewRateCounter(float64(cfg.Rate))
	}
	s.source = &gateway.Cached{
		Source: &gateway.Connection{
			HostURL:   cfg.Gateway,
			Timeout:   cfg.Timeout.Duration,
			Rate:      s.rate,
			CheckSize: cfg.CheckSize,
		},
		Cache: s.cache,
	}
	return s, nil
}

func (s *stack) runner(cfg Config) *indexer.Runner {
	return &indexer.Runner{
		Source: s.source,
		Indexer: &indexer.Indexer{
			Writer:      &indexer.StoreWriter{Store: s.payloads, DB: s.db},
			MaxDepth:    cfg.MaxDepth,
			FailFast:    cfg.FailFast,
			Concurrency: cfg.Concurrency,
		},
		DB:    s.db,
		Fresh: cfg.Fresh.Duration,
	}
}

func (s *stack) Close() error {
	if s.rate != nil {
		s.rate.Stop()
	}
	return s.db.Close()
}
