// Package sessions handles the transport of signed session tokens between
// clients and instances: extraction from requests and persistence into
// response cookies.
package sessions

import (
	"errors"
	"net/http"
	"strings"
)

// Library errors
var (
	// ErrNoSessionFound is the error for when no session token is found in a request.
	ErrNoSessionFound = errors.New("sessions: session is not found")
)

// SessionStore has the functions for setting, getting, and clearing a raw
// session token on requests and responses.
type SessionStore interface {
	SessionLoader
	ClearSession(http.ResponseWriter, *http.Request)
	SaveSession(http.ResponseWriter, *http.Request, string) error
}

// A SessionLoader loads a raw session token from a request.
type SessionLoader interface {
	LoadSessionToken(*http.Request) (string, error)
}

// NewMultiStore returns a SessionStore that persists and clears sessions
// through base but loads tokens from each loader in order. Listing a header
// store before a cookie store gives header credentials precedence.
func NewMultiStore(base SessionStore, loaders ...SessionLoader) SessionStore {
	return &multiStore{SessionStore: base, loaders: loaders}
}

type multiStore struct {
	SessionStore
	loaders []SessionLoader
}

func (ms *multiStore) LoadSessionToken(r *http.Request) (string, error) {
	for _, loader := range ms.loaders {
		tok, err := loader.LoadSessionToken(r)
		if err == nil {
			return tok, nil
		} else if !errors.Is(err, ErrNoSessionFound) {
			return "", err
		}
	}
	return "", ErrNoSessionFound
}

// TokenFromHeader tries to retrieve the token string from the
// "Authorization" request header: "Authorization: BEARER T".
func TokenFromHeader(r *http.Request) string {
	bearer := r.Header.Get("Authorization")
	if len(bearer) > 7 && strings.EqualFold(bearer[0:6], "BEARER") {
		return bearer[7:]
	}
	return ""
}

// TokenFromCookie tries to retrieve the token string from the session cookie.
func TokenFromCookie(r *http.Request, cookieName string) string {
	cookie, err := r.Cookie(cookieName)
	if err != nil {
		return ""
	}
	return cookie.Value
}
