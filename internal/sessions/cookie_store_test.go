package sessions

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCookieStoreRoundTrip(t *testing.T) {
	cs, err := NewCookieStore(&CookieOptions{
		Name:     "_session",
		Expire:   time.Hour,
		HTTPOnly: true,
		Secure:   true,
	})
	require.NoError(t, err)

	w := httptest.NewRecorder()
	require.NoError(t, cs.SaveSession(w, nil, "raw-token"))

	res := w.Result()
	cookies := res.Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, "_session", cookies[0].Name)
	assert.Equal(t, "raw-token", cookies[0].Value)
	assert.True(t, cookies[0].HttpOnly)
	assert.True(t, cookies[0].Secure)

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.AddCookie(cookies[0])
	tok, err := cs.LoadSessionToken(r)
	require.NoError(t, err)
	assert.Equal(t, "raw-token", tok)
}

func TestCookieStoreClearSession(t *testing.T) {
	cs, err := NewCookieStore(&CookieOptions{Name: "_session"})
	require.NoError(t, err)

	w := httptest.NewRecorder()
	cs.ClearSession(w, nil)

	cookies := w.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Empty(t, cookies[0].Value)
	assert.Negative(t, cookies[0].MaxAge)
}

func TestCookieStoreRequiresName(t *testing.T) {
	_, err := NewCookieStore(&CookieOptions{})
	assert.Error(t, err)
}
