package passepartout

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ssoline/ssoline/internal/httputil"
	"github.com/ssoline/ssoline/internal/services"
	"github.com/ssoline/ssoline/internal/sessions"
	"github.com/ssoline/ssoline/pkg/identity"
	"github.com/ssoline/ssoline/pkg/storage/inmemory"
)

var testChain = []*url.URL{
	mustParse("https://sso.example.com"),
	mustParse("https://app1.example.com"),
	mustParse("https://app2.example.com"),
}

func mustParse(raw string) *url.URL {
	u, err := url.Parse(raw)
	if err != nil {
		panic(err)
	}
	return u
}

type handlerFixture struct {
	backend *inmemory.Backend
	manager *Manager
	router  http.Handler
}

func newHandlerFixture(t *testing.T, position int) *handlerFixture {
	t.Helper()
	backend := inmemory.New()
	manager, err := NewManager(backend, testChain, position)
	require.NoError(t, err)

	cookieStore, err := sessions.NewCookieStore(&sessions.CookieOptions{Name: "_session"})
	require.NoError(t, err)

	registry := services.NewRegistry()
	for _, u := range testChain {
		require.NoError(t, registry.Register(u.Host, u.String()))
	}

	router := httputil.NewRouter()
	NewHandler(manager, cookieStore, registry, "/login/").Mount(router)
	return &handlerFixture{backend: backend, manager: manager, router: router}
}

func (f *handlerFixture) mintTicket(t *testing.T) *identity.Ticket {
	t.Helper()
	ticket, err := f.manager.Initiate(context.Background(), "dev-1", "raw-session-token")
	require.NoError(t, err)
	return ticket
}

func (f *handlerFixture) get(path string) *http.Response {
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	return w.Result()
}

func TestInitiate(t *testing.T) {
	f := newHandlerFixture(t, 0)
	ticket := f.mintTicket(t)

	assert.Len(t, ticket.Token, 36)
	assert.Equal(t, 2, ticket.HopCount, "hop count is chain length minus one")
	assert.Equal(t, "https://app1.example.com/passepartout/login/"+ticket.Token+"/?next=%2Fhome%2F",
		f.manager.StartURL(ticket, "/home/"))
}

func TestIntermediateHopForwardsWithoutConsuming(t *testing.T) {
	f := newHandlerFixture(t, 1)
	ticket := f.mintTicket(t)

	res := f.get("/passepartout/login/" + ticket.Token + "/?next=%2Fhome%2F")
	require.Equal(t, http.StatusFound, res.StatusCode)
	assert.Equal(t, "https://app2.example.com/passepartout/login/"+ticket.Token+"/?next=%2Fhome%2F",
		res.Header.Get("Location"))

	// the hop sets this origin's session cookie
	cookies := res.Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, "raw-session-token", cookies[0].Value)

	// the ticket is still live for the rest of the chain
	_, err := f.manager.Lookup(context.Background(), ticket.Token)
	assert.NoError(t, err)
}

func TestTerminalHopConsumesOnce(t *testing.T) {
	f := newHandlerFixture(t, 2)
	ticket := f.mintTicket(t)

	res := f.get("/passepartout/login/" + ticket.Token + "/?next=%2Fhome%2F")
	require.Equal(t, http.StatusFound, res.StatusCode)
	assert.Equal(t, "/home/", res.Header.Get("Location"))
	cookies := res.Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, "raw-session-token", cookies[0].Value)

	// replay: same outcome as a ticket that never existed
	replay := f.get("/passepartout/login/" + ticket.Token + "/?next=%2Fhome%2F")
	unknown := f.get("/passepartout/login/QQQQQQQQQQQQQQQQQQQQQQQQQQQQQQQQQQQQ/")
	assert.Equal(t, http.StatusFound, replay.StatusCode)
	assert.Equal(t, http.StatusFound, unknown.StatusCode)
	assert.Equal(t, "/login/", replay.Header.Get("Location"))
	assert.Equal(t, "/login/", unknown.Header.Get("Location"))
	assert.Empty(t, replay.Cookies(), "a spent ticket must not set a session cookie")
}

func TestTerminalHopDefaultsDestination(t *testing.T) {
	f := newHandlerFixture(t, 2)
	ticket := f.mintTicket(t)

	res := f.get("/passepartout/login/" + ticket.Token + "/")
	require.Equal(t, http.StatusFound, res.StatusCode)
	assert.Equal(t, "/", res.Header.Get("Location"))
}

func TestTerminalHopRegisteredAbsoluteDestination(t *testing.T) {
	f := newHandlerFixture(t, 2)
	ticket := f.mintTicket(t)

	res := f.get("/passepartout/login/" + ticket.Token + "/?next=" +
		url.QueryEscape("https://app1.example.com/dashboard"))
	require.Equal(t, http.StatusFound, res.StatusCode)
	assert.Equal(t, "https://app1.example.com/dashboard", res.Header.Get("Location"))
}

func TestTerminalHopUnknownDestination(t *testing.T) {
	f := newHandlerFixture(t, 2)
	ticket := f.mintTicket(t)

	res := f.get("/passepartout/login/" + ticket.Token + "/?next=" +
		url.QueryEscape("https://evil.example.com/"))
	assert.Equal(t, http.StatusNotFound, res.StatusCode)
}

func TestSingleInstanceChainHasNoHops(t *testing.T) {
	backend := inmemory.New()
	manager, err := NewManager(backend, testChain[:1], 0)
	require.NoError(t, err)

	ticket, err := manager.Initiate(context.Background(), "dev-1", "raw")
	require.NoError(t, err)
	assert.Zero(t, ticket.HopCount)
	assert.True(t, manager.Terminal(ticket))
	assert.Empty(t, manager.StartURL(ticket, "/"))
}
