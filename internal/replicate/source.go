package replicate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/ssoline/ssoline/internal/httputil"
	"github.com/ssoline/ssoline/internal/urlutil"
)

// reindexingRetryBackoff is the fixed delay before the single retry allowed
// for a transient upstream reindexing condition.
const reindexingRetryBackoff = 500 * time.Millisecond

// HTTPSource fetches identity records from the authoritative backend over
// HTTP: GET /identity/{id}, authenticated with the caller's bearer token or
// the configured static service credential.
type HTTPSource struct {
	baseURL      string
	serviceToken string
	http         *http.Client
}

// NewHTTPSource creates a new HTTP remote profile source.
func NewHTTPSource(backendURL, serviceToken string, timeout time.Duration) (*HTTPSource, error) {
	u, err := urlutil.ParseAndValidateURL(backendURL)
	if err != nil {
		return nil, fmt.Errorf("replicate: invalid backend url: %w", err)
	}
	return &HTTPSource{
		baseURL:      u.String(),
		serviceToken: serviceToken,
		http:         httputil.NewLoggingClient(timeout),
	}, nil
}

// Fetch retrieves the remote record for an identity.
func (s *HTTPSource) Fetch(ctx context.Context, identityID, bearerToken string) (*RemoteRecord, error) {
	var record *RemoteRecord
	operation := func() error {
		var err error
		record, err = s.fetchOnce(ctx, identityID, bearerToken)
		return err
	}
	// a transient upstream reindexing condition may be retried once after a
	// fixed backoff; everything else fails the encompassing operation
	err := backoff.Retry(operation, backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(reindexingRetryBackoff), 1), ctx))
	if err != nil {
		var permanent *backoff.PermanentError
		if errors.As(err, &permanent) {
			return nil, permanent.Unwrap()
		}
		return nil, err
	}
	return record, nil
}

func (s *HTTPSource) fetchOnce(ctx context.Context, identityID, bearerToken string) (*RemoteRecord, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		urlutil.Join(s.baseURL, "/identity/", identityID), nil)
	if err != nil {
		return nil, backoff.Permanent(err)
	}
	if bearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+bearerToken)
	} else {
		req.Header.Set("Authorization", "Token "+s.serviceToken)
	}

	res, err := s.http.Do(req)
	if err != nil {
		return nil, backoff.Permanent(fmt.Errorf("%w: %w", ErrReplicationSourceUnavailable, err))
	}
	defer res.Body.Close()

	switch {
	case res.StatusCode == http.StatusOK:
		var record RemoteRecord
		if err := json.NewDecoder(res.Body).Decode(&record); err != nil {
			return nil, backoff.Permanent(fmt.Errorf("replicate: decode remote record: %w", err))
		}
		if record.ID == "" {
			record.ID = identityID
		}
		return &record, nil
	case isReindexing(res):
		return nil, fmt.Errorf("%w: upstream reindexing", ErrReplicationSourceUnavailable)
	case res.StatusCode >= 500:
		return nil, backoff.Permanent(fmt.Errorf("%w: status %d", ErrReplicationSourceUnavailable, res.StatusCode))
	default:
		return nil, backoff.Permanent(fmt.Errorf("replicate: fetch %s: status %d", identityID, res.StatusCode))
	}
}

// isReindexing detects the events-ingestion collaborator's transient
// reindexing condition, the one documented retryable failure.
func isReindexing(res *http.Response) bool {
	return res.StatusCode == http.StatusServiceUnavailable &&
		strings.Contains(res.Header.Get("X-Upstream-Status"), "reindexing")
}
