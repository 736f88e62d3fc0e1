package httputil

import (
	"errors"
	"net/http"
)

// HandlerFunc converts a function that returns an error into an http.Handler.
// Errors are rendered via HTTPError; a plain error becomes a 500.
type HandlerFunc func(w http.ResponseWriter, r *http.Request) error

// ServeHTTP calls f(w, r) and handles any returned error.
func (f HandlerFunc) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if err := f(w, r); err != nil {
		var httpErr *HTTPError
		if !errors.As(err, &httpErr) {
			httpErr = &HTTPError{Status: http.StatusInternalServerError, Err: err}
		}
		httpErr.ErrorResponse(w, r)
	}
}

// HealthCheck is a simple healthcheck handler that responds to GET and HEAD
// http requests.
func HealthCheck(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	if r.Method == http.MethodGet {
		w.Write([]byte(http.StatusText(http.StatusOK)))
	}
}
