package server

import (
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/julienschmidt/httprouter"
	"github.com/pkg/errors"

	"github.com/ndlib/ansindex/ans104"
	"github.com/ndlib/ansindex/index"
	"github.com/ndlib/ansindex/store"
)

// ItemHandler returns every entry recorded for an item id. The same item
// may appear in more than one bundle.
func (s *RESTServer) ItemHandler(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	id := ps.ByName("id")
	entries, err := s.DB.Lookup(id)
	if err != nil {
		w.WriteHeader(500)
		fmt.Fprintln(w, err.Error())
		return
	}
	if len(entries) == 0 {
		w.WriteHeader(404)
		fmt.Fprintln(w, "Item not found")
		return
	}
	writeJSON(w, entries)
}

// ItemDataHandler returns the stored payload of a valid item. The
// Content-Type tag of the item, if any, is used for the response.
func (s *RESTServer) ItemDataHandler(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	id := ps.ByName("id")
	entries, err := s.DB.Lookup(id)
	if err != nil {
		w.WriteHeader(500)
		fmt.Fprintln(w, err.Error())
		return
	}
	var e *index.Entry
	for _, x := range entries {
		if x.Status == ans104.Valid && x.Location != "" {
			e = x
			break
		}
	}
	if e == nil || s.Payloads == nil {
		w.WriteHeader(404)
		fmt.Fprintln(w, "No payload stored")
		return
	}
	src, size, err := s.Payloads.Open(e.Location)
	if errors.Cause(err) == store.ErrNotFound {
		w.WriteHeader(404)
		fmt.Fprintln(w, "No payload stored")
		return
	} else if err != nil {
		w.WriteHeader(500)
		fmt.Fprintln(w, err.Error())
		return
	}
	defer src.Close()
	if ct := contentType(e); ct != "" {
		w.Header().Set("Content-Type", ct)
	}
	w.Header().Set("Content-Length", strconv.FormatInt(size, 10))
	w.Header().Set("ETag", `"`+e.SHA256+`"`)
	if r.Method == "HEAD" {
		return
	}
	_, err = io.Copy(w, io.NewSectionReader(src, 0, size))
	if err != nil {
		s.logger().WithField("item", id).WithError(err).Warn("sending payload")
	}
}

func contentType(e *index.Entry) string {
	for _, t := range e.Tags {
		if t.Name == "Content-Type" {
			return t.Value
		}
	}
	return ""
}
