package sessions

import (
	"net/http"
)

// HeaderStore loads sessions from the Authorization header. Saving and
// clearing are no-ops: header credentials are supplied by the client on every
// request.
type HeaderStore struct{}

// NewHeaderStore returns a new header store.
func NewHeaderStore() *HeaderStore {
	return &HeaderStore{}
}

// LoadSessionToken returns the raw session token from the Authorization header.
func (*HeaderStore) LoadSessionToken(r *http.Request) (string, error) {
	tok := TokenFromHeader(r)
	if tok == "" {
		return "", ErrNoSessionFound
	}
	return tok, nil
}

// ClearSession is a no-op for header sessions.
func (*HeaderStore) ClearSession(http.ResponseWriter, *http.Request) {}

// SaveSession is a no-op for header sessions.
func (*HeaderStore) SaveSession(http.ResponseWriter, *http.Request, string) error {
	return nil
}
