package authenticate

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ssoline/ssoline/internal/devices"
	"github.com/ssoline/ssoline/internal/encoding/jws"
	"github.com/ssoline/ssoline/internal/passepartout"
	"github.com/ssoline/ssoline/internal/sessions"
	"github.com/ssoline/ssoline/pkg/identity"
	"github.com/ssoline/ssoline/pkg/storage"
	"github.com/ssoline/ssoline/pkg/storage/inmemory"
)

type authFixture struct {
	backend *inmemory.Backend
	devices *devices.Store
	codec   *jws.Codec
	auth    *Authenticator
}

func newAuthFixture(t *testing.T, chainLen int, logoutAll bool) *authFixture {
	t.Helper()
	backend := inmemory.New()
	deviceStore := devices.NewStore(backend, devices.LocalSecretSource{})
	codec := jws.New()

	var chain []*url.URL
	for _, raw := range []string{"https://sso.example.com", "https://app1.example.com"}[:chainLen] {
		u, err := url.Parse(raw)
		require.NoError(t, err)
		chain = append(chain, u)
	}
	tickets, err := passepartout.NewManager(backend, chain, 0)
	require.NoError(t, err)

	cookieStore, err := sessions.NewCookieStore(&sessions.CookieOptions{Name: "_session"})
	require.NoError(t, err)

	return &authFixture{
		backend: backend,
		devices: deviceStore,
		codec:   codec,
		auth: New(codec, deviceStore, backend, cookieStore, tickets,
			time.Hour, logoutAll),
	}
}

func (f *authFixture) newIdentity(t *testing.T, rev uint64) *identity.Record {
	t.Helper()
	record := identity.NewRecord()
	record.Revision = rev
	require.NoError(t, f.backend.CreateIdentity(context.Background(), record))
	return record
}

func TestSignIn(t *testing.T) {
	f := newAuthFixture(t, 2, false)
	record := f.newIdentity(t, 3)

	session, err := f.auth.SignIn(context.Background(), record.ID, "fp-1", "/home/")
	require.NoError(t, err)
	require.NotEmpty(t, session.Token)

	// the token verifies against the bound device's own secret and carries
	// the identity's current revision
	device, err := f.backend.GetDevice(context.Background(), session.DeviceID)
	require.NoError(t, err)

	var state sessions.State
	require.NoError(t, f.codec.Verify(session.Token, device.SigningSecret, &state))
	assert.Equal(t, record.ID, state.IdentityID)
	assert.EqualValues(t, 3, state.Revision)
	assert.Equal(t, device.ID, state.DeviceID)
	assert.Equal(t, "fp-1", state.Fingerprint)

	// a two-instance chain yields a hop to walk
	assert.Contains(t, session.ChainURL, "https://app1.example.com/passepartout/login/")
	assert.Contains(t, session.ChainURL, "next=%2Fhome%2F")
}

func TestSignInSingleInstance(t *testing.T) {
	f := newAuthFixture(t, 1, false)
	record := f.newIdentity(t, 1)

	session, err := f.auth.SignIn(context.Background(), record.ID, "fp-1", "")
	require.NoError(t, err)
	assert.Empty(t, session.ChainURL)
}

func TestSignInUnknownIdentity(t *testing.T) {
	f := newAuthFixture(t, 1, false)

	_, err := f.auth.SignIn(context.Background(), "missing", "fp-1", "")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestSignInReusesDevice(t *testing.T) {
	f := newAuthFixture(t, 1, false)
	record := f.newIdentity(t, 1)

	first, err := f.auth.SignIn(context.Background(), record.ID, "fp-1", "")
	require.NoError(t, err)
	second, err := f.auth.SignIn(context.Background(), record.ID, "fp-1", "")
	require.NoError(t, err)
	assert.Equal(t, first.DeviceID, second.DeviceID)
}

func TestSignOutSingleDevice(t *testing.T) {
	f := newAuthFixture(t, 1, false)
	record := f.newIdentity(t, 1)

	laptop, err := f.auth.SignIn(context.Background(), record.ID, "laptop", "")
	require.NoError(t, err)
	phone, err := f.auth.SignIn(context.Background(), record.ID, "phone", "")
	require.NoError(t, err)

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/logout/", nil)
	require.NoError(t, f.auth.SignOut(r.Context(), w, r, record.ID, laptop.DeviceID))

	_, err = f.devices.Lookup(context.Background(), laptop.DeviceID, "laptop")
	assert.ErrorIs(t, err, storage.ErrNotFound)
	_, err = f.devices.Lookup(context.Background(), phone.DeviceID, "phone")
	assert.NoError(t, err, "other devices survive a single-device logout")

	cookies := w.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Negative(t, cookies[0].MaxAge)
}

func TestSignOutAllDevices(t *testing.T) {
	f := newAuthFixture(t, 1, true)
	record := f.newIdentity(t, 1)

	laptop, err := f.auth.SignIn(context.Background(), record.ID, "laptop", "")
	require.NoError(t, err)
	phone, err := f.auth.SignIn(context.Background(), record.ID, "phone", "")
	require.NoError(t, err)

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/logout/", nil)
	require.NoError(t, f.auth.SignOut(r.Context(), w, r, record.ID, laptop.DeviceID))

	for fp, id := range map[string]string{"laptop": laptop.DeviceID, "phone": phone.DeviceID} {
		_, err := f.devices.Lookup(context.Background(), id, fp)
		assert.ErrorIs(t, err, storage.ErrNotFound)
	}
}
