package sessions // import "github.com/ssoline/ssoline/internal/sessions"

import (
	"fmt"
	"net/http"
	"time"
)

// CookieStore implements the session store interface for session cookies.
type CookieStore struct {
	Name     string
	Domain   string
	Expire   time.Duration
	HTTPOnly bool
	Secure   bool
}

// CookieOptions holds options for CookieStore.
type CookieOptions struct {
	Name     string
	Domain   string
	Expire   time.Duration
	HTTPOnly bool
	Secure   bool
}

// NewCookieStore returns a new cookie store for the given options.
func NewCookieStore(opts *CookieOptions) (*CookieStore, error) {
	if opts.Name == "" {
		return nil, fmt.Errorf("sessions: cookie name cannot be empty")
	}
	return &CookieStore{
		Name:     opts.Name,
		Domain:   opts.Domain,
		Expire:   opts.Expire,
		HTTPOnly: opts.HTTPOnly,
		Secure:   opts.Secure,
	}, nil
}

func (cs *CookieStore) makeCookie(value string) *http.Cookie {
	return &http.Cookie{
		Name:     cs.Name,
		Value:    value,
		Path:     "/",
		Domain:   cs.Domain,
		HttpOnly: cs.HTTPOnly,
		Secure:   cs.Secure,
		Expires:  timeNow().Add(cs.Expire),
	}
}

// ClearSession clears the session cookie by setting an already-expired cookie
// with the same name and domain.
func (cs *CookieStore) ClearSession(w http.ResponseWriter, _ *http.Request) {
	c := cs.makeCookie("")
	c.MaxAge = -1
	c.Expires = timeNow().Add(-time.Hour)
	http.SetCookie(w, c)
}

// LoadSessionToken returns the raw session token from the cookie in the request.
func (cs *CookieStore) LoadSessionToken(r *http.Request) (string, error) {
	tok := TokenFromCookie(r, cs.Name)
	if tok == "" {
		return "", ErrNoSessionFound
	}
	return tok, nil
}

// SaveSession saves a raw session token to a response cookie.
func (cs *CookieStore) SaveSession(w http.ResponseWriter, _ *http.Request, rawToken string) error {
	http.SetCookie(w, cs.makeCookie(rawToken))
	return nil
}
