package sessions

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMultiStoreLoadSessionToken(t *testing.T) {
	t.Parallel()

	cookieStore, err := NewCookieStore(&CookieOptions{Name: "_session"})
	require.NoError(t, err)
	store := NewMultiStore(cookieStore, NewHeaderStore(), cookieStore)

	newRequest := func(header, cookie string) *http.Request {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		if header != "" {
			r.Header.Set("Authorization", header)
		}
		if cookie != "" {
			r.AddCookie(&http.Cookie{Name: "_session", Value: cookie})
		}
		return r
	}

	tests := []struct {
		name    string
		header  string
		cookie  string
		want    string
		wantErr bool
	}{
		{"none", "", "", "", true},
		{"cookie only", "", "cookie-token", "cookie-token", false},
		{"header only", "Bearer header-token", "", "header-token", false},
		{"header beats cookie", "Bearer header-token", "cookie-token", "header-token", false},
		{"case insensitive scheme", "bearer header-token", "", "header-token", false},
		{"wrong scheme falls back to cookie", "Basic Zm9v", "cookie-token", "cookie-token", false},
		{"wrong scheme alone", "Basic Zm9v", "", "", true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := store.LoadSessionToken(newRequest(tc.header, tc.cookie))
			if tc.wantErr {
				assert.ErrorIs(t, err, ErrNoSessionFound)
				return
			}
			assert.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}
