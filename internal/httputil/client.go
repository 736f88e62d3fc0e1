package httputil

import (
	"net/http"
	"time"

	"github.com/ssoline/ssoline/internal/log"
)

// DefaultClientTimeout bounds every outbound call. Hanging indefinitely on a
// gateway or backend outage is not acceptable.
const DefaultClientTimeout = 10 * time.Second

type loggingRoundTripper struct {
	base http.RoundTripper
}

func (l loggingRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	start := time.Now()
	res, err := l.base.RoundTrip(req)
	statusCode := http.StatusInternalServerError
	if res != nil {
		statusCode = res.StatusCode
	}
	log.Debug(req.Context()).
		Str("method", req.Method).
		Str("authority", req.URL.Host).
		Str("path", req.URL.Path).
		Dur("duration", time.Since(start)).
		Int("response-code", statusCode).
		Msg("outbound http-request")
	return res, err
}

// NewLoggingRoundTripper creates a http.RoundTripper that will log requests.
func NewLoggingRoundTripper(base http.RoundTripper) http.RoundTripper {
	if base == nil {
		base = http.DefaultTransport
	}
	return loggingRoundTripper{base: base}
}

// NewLoggingClient creates a new http.Client that logs requests and enforces
// the default timeout.
func NewLoggingClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = DefaultClientTimeout
	}
	return &http.Client{
		Timeout:   timeout,
		Transport: NewLoggingRoundTripper(nil),
	}
}
