package server

import (
	"fmt"
	"net/http"

	"github.com/julienschmidt/httprouter"
)

// Version is reported by the welcome page. The build sets it.
var Version = "dev"

func WelcomeHandler(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	fmt.Fprintf(w, "ansindex (%s)\n", Version)
}
