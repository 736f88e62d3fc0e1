package httputil

import (
	"encoding/json"
	"net/http"

	"github.com/ssoline/ssoline/internal/log"
)

// HTTPError contains an HTTP status code and wrapped error.
type HTTPError struct {
	// HTTP status codes as registered with IANA.
	Status int
	// Err is the wrapped error.
	Err error
}

// NewError returns an error that contains a HTTP status and error.
func NewError(status int, err error) error {
	return &HTTPError{Status: status, Err: err}
}

// Error implements the `error` interface.
func (e *HTTPError) Error() string {
	return http.StatusText(e.Status) + ": " + e.Err.Error()
}

// Unwrap implements the `error` Unwrap interface.
func (e *HTTPError) Unwrap() error { return e.Err }

// ErrorResponse replies to the request with the specified error message and
// HTTP code. It does not otherwise end the request; the caller should ensure
// no further writes are done to w.
func (e *HTTPError) ErrorResponse(w http.ResponseWriter, r *http.Request) {
	if e.Status/100 == 5 {
		log.Error(r.Context()).Err(e.Err).Int("status", e.Status).Msg("httputil: error response")
	} else {
		log.Debug(r.Context()).Err(e.Err).Int("status", e.Status).Msg("httputil: error response")
	}

	response := struct {
		Status     int    `json:"status"`
		StatusText string `json:"statusText"`
		Error      string `json:"error"`
	}{
		Status:     e.Status,
		StatusText: http.StatusText(e.Status),
		Error:      e.Error(),
	}

	RenderJSON(w, e.Status, response)
}

// RenderJSON replies to the request with the specified object as JSON and HTTP code.
func RenderJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
