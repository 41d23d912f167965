package server

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/julienschmidt/httprouter"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/ndlib/ansindex/ans104"
	"github.com/ndlib/ansindex/gateway"
	"github.com/ndlib/ansindex/indexer"
)

// BundleHandler lists the entries of every item indexed under a bundle,
// nested items included.
func (s *RESTServer) BundleHandler(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	txid := ps.ByName("txid")
	entries, err := s.DB.Bundle(txid)
	if err != nil {
		w.WriteHeader(500)
		fmt.Fprintln(w, err.Error())
		return
	}
	if len(entries) == 0 {
		w.WriteHeader(404)
		fmt.Fprintln(w, "Bundle not indexed")
		return
	}
	writeJSON(w, entries)
}

// BundleRunHandler returns the most recent completed run for a bundle.
func (s *RESTServer) BundleRunHandler(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	txid := ps.ByName("txid")
	run, err := s.DB.LastRun(txid)
	if err != nil {
		w.WriteHeader(500)
		fmt.Fprintln(w, err.Error())
		return
	}
	if run == nil {
		w.WriteHeader(404)
		fmt.Fprintln(w, "Bundle not indexed")
		return
	}
	writeJSON(w, run)
}

// IndexBundleHandler indexes a bundle and returns the summary of the run.
// The query parameter force=true ignores an earlier fresh run.
func (s *RESTServer) IndexBundleHandler(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	if s.Runner == nil {
		w.WriteHeader(http.StatusNotImplemented)
		fmt.Fprintln(w, "Indexing is not enabled")
		return
	}
	txid := ps.ByName("txid")
	force, _ := strconv.ParseBool(r.FormValue("force"))
	s.logger().WithFields(logrus.Fields{
		"bundle": txid,
		"user":   ps.ByName("username"),
	}).Info("index request")

	summary, err := s.Runner.Run(r.Context(), txid, force)
	if err != nil {
		w.WriteHeader(statusFor(err))
		fmt.Fprintln(w, err.Error())
		return
	}
	writeJSON(w, summary)
}

// statusFor maps a run error to a response code.
func statusFor(err error) int {
	var serr *indexer.StorageError
	if errors.As(err, &serr) {
		return 500
	}
	switch errors.Cause(err) {
	case indexer.ErrDuplicateInFlight:
		return http.StatusConflict
	case gateway.ErrInvalidID:
		return http.StatusBadRequest
	case gateway.ErrNotFound:
		return http.StatusNotFound
	case gateway.ErrNetwork, gateway.ErrTimeout:
		return http.StatusBadGateway
	case ans104.ErrTruncated, ans104.ErrInvalidHeader:
		return http.StatusUnprocessableEntity
	}
	return 500
}
