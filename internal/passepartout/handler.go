package passepartout

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"github.com/ssoline/ssoline/internal/httputil"
	"github.com/ssoline/ssoline/internal/log"
	"github.com/ssoline/ssoline/internal/services"
	"github.com/ssoline/ssoline/internal/sessions"
	"github.com/ssoline/ssoline/pkg/storage"
)

// Handler serves the chain login endpoint.
type Handler struct {
	manager  *Manager
	sessions sessions.SessionStore
	registry *services.Registry
	loginURL string
}

// NewHandler creates the ticket login handler.
func NewHandler(manager *Manager, sessionStore sessions.SessionStore, registry *services.Registry, loginURL string) *Handler {
	if loginURL == "" {
		loginURL = "/login/"
	}
	return &Handler{manager: manager, sessions: sessionStore, registry: registry, loginURL: loginURL}
}

// Mount registers the handler's routes.
func (h *Handler) Mount(r *mux.Router) {
	r.Handle("/passepartout/login/{ticket_token}/", httputil.HandlerFunc(h.Login)).
		Methods(http.MethodGet)
}

// Login walks one hop of a ticket. Intermediate hops adopt the session and
// forward; the terminal hop consumes the ticket and lands on the
// destination. An absent ticket and an already-consumed ticket produce the
// same redirect, so probing tokens reveals nothing.
func (h *Handler) Login(w http.ResponseWriter, req *http.Request) error {
	ctx := req.Context()
	token := mux.Vars(req)["ticket_token"]
	next := req.URL.Query().Get("next")

	ticket, err := h.manager.Lookup(ctx, token)
	if errors.Is(err, storage.ErrNotFound) {
		log.Info(ctx).Msg("passepartout: unknown or spent ticket")
		http.Redirect(w, req, h.loginURL, http.StatusFound)
		return nil
	} else if err != nil {
		return err
	}

	if !h.manager.Terminal(ticket) {
		forward := h.manager.NextHopURL(ticket, next)
		if forward == "" {
			return errors.New("passepartout: chain has no next hop")
		}
		if err := h.sessions.SaveSession(w, req, ticket.SessionToken); err != nil {
			return err
		}
		log.Debug(ctx).Str("forward", forward).Msg("passepartout: forwarding hop")
		http.Redirect(w, req, forward, http.StatusFound)
		return nil
	}

	consumed, err := h.manager.Consume(ctx, ticket.Token)
	if err != nil {
		return err
	}
	if !consumed {
		// lost the consumption race; identical outcome to a spent ticket
		http.Redirect(w, req, h.loginURL, http.StatusFound)
		return nil
	}
	if err := h.sessions.SaveSession(w, req, ticket.SessionToken); err != nil {
		return err
	}

	dest, err := h.resolveDestination(next)
	if err != nil {
		return httputil.NewError(http.StatusNotFound, err)
	}
	log.Info(ctx).Str("destination", dest).Msg("passepartout: consumed")
	http.Redirect(w, req, dest, http.StatusFound)
	return nil
}

// resolveDestination validates the requested landing URL. Relative paths
// stay on this origin; absolute URLs must belong to a registered service.
func (h *Handler) resolveDestination(next string) (string, error) {
	if next == "" {
		return "/", nil
	}
	if strings.HasPrefix(next, "/") && !strings.HasPrefix(next, "//") {
		return next, nil
	}
	if _, err := h.registry.Lookup(next); err != nil {
		return "", err
	}
	return next, nil
}
