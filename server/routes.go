// Package server exposes the index over HTTP. Lookups are read only; a POST
// to a bundle indexes it on demand.
package server

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/facebookgo/httpdown"
	"github.com/julienschmidt/httprouter"
	"github.com/sirupsen/logrus"

	"github.com/ndlib/ansindex/index"
	"github.com/ndlib/ansindex/indexer"
	"github.com/ndlib/ansindex/store"
)

// RESTServer holds the configuration for the lookup server.
//
// Set the public fields and then call Run. Run will listen on the given
// port and handle requests. Do not change any fields after calling Run.
type RESTServer struct {
	// Port number to listen on. defaults to 14000
	PortNumber string

	// DB is the index to answer lookups from. Run panics if it is nil.
	DB index.DB

	// Payloads is where item payloads were stored.
	Payloads store.ROStore

	// Runner does the work for POST /bundle/:txid. If it is nil that
	// route returns 501.
	Runner *indexer.Runner

	// Validator does authentication by validating any user tokens
	// presented to the API. If this is nil then no authentication will be
	// done.
	Validator TokenValidator

	Log logrus.FieldLogger

	server httpdown.Server // used to close our listening socket
}

// Run starts the server and blocks handling requests until Stop is called.
func (s *RESTServer) Run() error {
	if s.DB == nil {
		panic("No index given. DB is nil.")
	}
	if s.PortNumber == "" {
		s.PortNumber = "14000"
	}
	log := s.logger()
	log.WithFields(logrus.Fields{"version": Version, "port": s.PortNumber}).Info("starting server")

	h := httpdown.HTTP{}
	var err error
	s.server, err = h.ListenAndServe(&http.Server{
		Addr:    ":" + s.PortNumber,
		Handler: s.addRoutes(),
	})
	if err != nil {
		log.WithError(err).Error("listen")
		return err
	}
	return s.server.Wait()
}

// Stop closes the listening socket and returns once the requests in
// progress have finished.
func (s *RESTServer) Stop() error {
	return s.server.Stop()
}

func (s *RESTServer) logger() logrus.FieldLogger {
	if s.Log == nil {
		return logrus.StandardLogger()
	}
	return s.Log
}

func (s *RESTServer) addRoutes() http.Handler {
	if s.Validator == nil {
		s.Validator = NobodyValidator{}
	}
	var routes = []struct {
		method  string
		route   string
		role    Role // RoleUnknown means no API key is needed to access
		handler httprouter.Handle
	}{
		{"GET", "/item/:id", RoleUnknown, s.ItemHandler},
		{"GET", "/item/:id/data", RoleRead, s.ItemDataHandler},
		{"HEAD", "/item/:id/data", RoleRead, s.ItemDataHandler},
		{"GET", "/bundle/:txid", RoleUnknown, s.BundleHandler},
		{"GET", "/bundle/:txid/run", RoleUnknown, s.BundleRunHandler},
		{"POST", "/bundle/:txid", RoleWrite, s.IndexBundleHandler},

		{"GET", "/", RoleUnknown, WelcomeHandler},
	}

	r := httprouter.New()
	for _, route := range routes {
		r.Handle(route.method,
			route.route,
			s.logWrapper(s.authzWrapper(route.handler, route.role)))
	}
	return r
}

// writeJSON sends val as the response body.
func writeJSON(w http.ResponseWriter, val interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	json.NewEncoder(w).Encode(val)
}

// authzWrapper returns a Handler which will first verify the user token as
// having at least the given Role. The user name is added as a parameter
// "username".
func (s *RESTServer) authzWrapper(handler httprouter.Handle, leastRole Role) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		token := r.Header.Get("X-Api-Key")
		user, role, err := s.Validator.TokenValid(token)
		if err != nil {
			w.WriteHeader(500)
			fmt.Fprintln(w, err.Error())
			return
		}
		if role < leastRole {
			w.WriteHeader(401)
			fmt.Fprintln(w, "Forbidden")
			return
		}
		ps = append(ps, httprouter.Param{Key: "username", Value: user})
		handler(w, r, ps)
	}
}

// logWrapper takes a handler and returns a handler which does the same thing,
// after first logging the request URL.
func (s *RESTServer) logWrapper(handler httprouter.Handle) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		s.logger().WithFields(logrus.Fields{"method": r.Method, "url": r.URL.String()}).Debug("request")
		handler(w, r, ps)
	}
}
