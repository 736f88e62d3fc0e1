package authenticate

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ssoline/ssoline/internal/httputil"
	"github.com/ssoline/ssoline/internal/profiles"
	"github.com/ssoline/ssoline/internal/replicate"
	"github.com/ssoline/ssoline/internal/revision"
)

func newTestHandler(t *testing.T, f *authFixture) http.Handler {
	t.Helper()
	profileManager := profiles.NewManager(f.backend, revision.NewTracker(f.backend), f.devices, nil)
	router := httputil.NewRouter()
	NewHandler(f.auth, profileManager, f.backend, "service-token", "/login/").Mount(router)
	return router
}

func TestGetIdentityWithServiceToken(t *testing.T) {
	f := newAuthFixture(t, 1, false)
	record := f.newIdentity(t, 4)
	router := newTestHandler(t, f)

	r := httptest.NewRequest(http.MethodGet, "/identity/"+record.ID, nil)
	r.Header.Set("Authorization", "Token service-token")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, r)

	require.Equal(t, http.StatusOK, w.Result().StatusCode)
	var body replicate.RemoteRecord
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	assert.Equal(t, record.ID, body.ID)
	assert.EqualValues(t, 4, body.Revision)
}

func TestGetIdentityRequiresMatchingCaller(t *testing.T) {
	f := newAuthFixture(t, 1, false)
	record := f.newIdentity(t, 1)
	router := newTestHandler(t, f)

	// no credentials at all
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/identity/"+record.ID, nil))
	assert.Equal(t, http.StatusUnauthorized, w.Result().StatusCode)

	// wrong service token
	r := httptest.NewRequest(http.MethodGet, "/identity/"+record.ID, nil)
	r.Header.Set("Authorization", "Token wrong")
	w = httptest.NewRecorder()
	router.ServeHTTP(w, r)
	assert.Equal(t, http.StatusUnauthorized, w.Result().StatusCode)
}

func TestAPIRequiresServiceToken(t *testing.T) {
	f := newAuthFixture(t, 1, false)
	router := newTestHandler(t, f)

	r := httptest.NewRequest(http.MethodPost, "/api/v1/identity", strings.NewReader(`{}`))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, r)
	assert.Equal(t, http.StatusUnauthorized, w.Result().StatusCode)
}

func TestCreateSessionEndpoint(t *testing.T) {
	f := newAuthFixture(t, 1, false)
	record := f.newIdentity(t, 1)
	router := newTestHandler(t, f)

	r := httptest.NewRequest(http.MethodPost, "/api/v1/sessions",
		strings.NewReader(`{"identity_id":"`+record.ID+`","fingerprint":"fp-1"}`))
	r.Header.Set("Authorization", "Token service-token")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, r)

	require.Equal(t, http.StatusCreated, w.Result().StatusCode)
	var body map[string]string
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	assert.NotEmpty(t, body["token"])
	assert.NotEmpty(t, body["device_id"])
}

func TestSecurityEventEndpoint(t *testing.T) {
	f := newAuthFixture(t, 1, false)
	record := f.newIdentity(t, 1)
	router := newTestHandler(t, f)

	session, err := f.auth.SignIn(context.Background(), record.ID, "fp-1", "")
	require.NoError(t, err)

	r := httptest.NewRequest(http.MethodPost, "/api/v1/identity/"+record.ID+"/security-events", nil)
	r.Header.Set("Authorization", "Token service-token")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, r)
	require.Equal(t, http.StatusNoContent, w.Result().StatusCode)

	stored, err := f.backend.GetIdentity(context.Background(), record.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 2, stored.Revision)

	_, err = f.devices.Lookup(context.Background(), session.DeviceID, "fp-1")
	assert.Error(t, err, "security-sensitive updates revoke every device")
}

func TestSignOutWithoutSessionRedirects(t *testing.T) {
	f := newAuthFixture(t, 1, false)
	router := newTestHandler(t, f)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/logout/", nil))
	assert.Equal(t, http.StatusFound, w.Result().StatusCode)
	assert.Equal(t, "/login/", w.Result().Header.Get("Location"))
}
