package authenticate

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"github.com/ssoline/ssoline/internal/httputil"
	"github.com/ssoline/ssoline/internal/profiles"
	"github.com/ssoline/ssoline/internal/replicate"
	"github.com/ssoline/ssoline/internal/resolver"
	"github.com/ssoline/ssoline/pkg/storage"
)

// Handler is the HTTP surface of the identity layer: session issuance for
// trusted callers, the identity endpoint dependent apps replicate from, the
// profile mutation API and sign-out.
type Handler struct {
	auth     *Authenticator
	profiles *profiles.Manager
	store    storage.IdentityStore

	// serviceToken guards the service-to-service API.
	serviceToken string
	loginURL     string
}

// NewHandler creates the HTTP handler.
func NewHandler(auth *Authenticator, profileManager *profiles.Manager, identityStore storage.IdentityStore,
	serviceToken, loginURL string) *Handler {
	if loginURL == "" {
		loginURL = "/login/"
	}
	return &Handler{
		auth:         auth,
		profiles:     profileManager,
		store:        identityStore,
		serviceToken: serviceToken,
		loginURL:     loginURL,
	}
}

// Mount registers the handler's routes.
func (h *Handler) Mount(r *mux.Router) {
	r.Handle("/logout/", httputil.HandlerFunc(h.SignOut)).Methods(http.MethodGet, http.MethodPost)
	r.Handle("/identity/{identity_id}", httputil.HandlerFunc(h.GetIdentity)).Methods(http.MethodGet)

	api := r.PathPrefix("/api/v1").Subrouter()
	api.Use(h.requireServiceToken)
	api.Handle("/sessions", httputil.HandlerFunc(h.CreateSession)).Methods(http.MethodPost)
	api.Handle("/identity", httputil.HandlerFunc(h.CreateIdentity)).Methods(http.MethodPost)
	api.Handle("/identity/{identity_id}/profile", httputil.HandlerFunc(h.UpdateProfile)).Methods(http.MethodPatch)
	api.Handle("/identity/{identity_id}/groups/{group}", httputil.HandlerFunc(h.AddGroup)).Methods(http.MethodPut)
	api.Handle("/identity/{identity_id}/groups/{group}", httputil.HandlerFunc(h.RemoveGroup)).Methods(http.MethodDelete)
	api.Handle("/identity/{identity_id}/security-events", httputil.HandlerFunc(h.SecurityEvent)).Methods(http.MethodPost)
	api.Handle("/identity/{identity_id}", httputil.HandlerFunc(h.Deactivate)).Methods(http.MethodDelete)
}

// requireServiceToken guards the service-to-service API with the static
// service credential.
func (h *Handler) requireServiceToken(next http.Handler) http.Handler {
	return httputil.HandlerFunc(func(w http.ResponseWriter, r *http.Request) error {
		if h.serviceToken == "" || !h.callerIsService(r) {
			return httputil.NewError(http.StatusUnauthorized, errors.New("service token required"))
		}
		next.ServeHTTP(w, r)
		return nil
	})
}

func (h *Handler) callerIsService(r *http.Request) bool {
	raw := r.Header.Get("Authorization")
	return strings.HasPrefix(raw, "Token ") && strings.TrimPrefix(raw, "Token ") == h.serviceToken
}

// CreateSession issues a session for an identity a trusted caller has
// already authenticated.
func (h *Handler) CreateSession(w http.ResponseWriter, r *http.Request) error {
	var body struct {
		IdentityID  string `json:"identity_id"`
		Fingerprint string `json:"fingerprint"`
		Next        string `json:"next"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		return httputil.NewError(http.StatusBadRequest, err)
	}
	if body.IdentityID == "" {
		return httputil.NewError(http.StatusBadRequest, errors.New("identity_id is required"))
	}

	session, err := h.auth.SignIn(r.Context(), body.IdentityID, body.Fingerprint, body.Next)
	if errors.Is(err, storage.ErrNotFound) {
		return httputil.NewError(http.StatusNotFound, err)
	} else if err != nil {
		return err
	}
	httputil.RenderJSON(w, http.StatusCreated, map[string]string{
		"token":     session.Token,
		"device_id": session.DeviceID,
		"chain_url": session.ChainURL,
	})
	return nil
}

// SignOut ends the caller's session per the configured logout policy.
func (h *Handler) SignOut(w http.ResponseWriter, r *http.Request) error {
	res := resolver.FromContext(r.Context())
	if !res.Authenticated() {
		http.Redirect(w, r, h.loginURL, http.StatusFound)
		return nil
	}
	if err := h.auth.SignOut(r.Context(), w, r, res.Record.ID, res.State.DeviceID); err != nil {
		return err
	}
	http.Redirect(w, r, h.loginURL, http.StatusFound)
	return nil
}

// GetIdentity serves the canonical record dependent apps replicate from.
// Callers prove themselves with either the service credential or a verified
// session for the same identity.
func (h *Handler) GetIdentity(w http.ResponseWriter, r *http.Request) error {
	identityID := mux.Vars(r)["identity_id"]

	if !h.callerIsService(r) {
		res := resolver.FromContext(r.Context())
		if !res.Authenticated() || res.Record.ID != identityID {
			return httputil.NewError(http.StatusUnauthorized, errors.New("unauthorized"))
		}
	}

	record, err := h.store.GetIdentity(r.Context(), identityID)
	if errors.Is(err, storage.ErrNotFound) {
		return httputil.NewError(http.StatusNotFound, err)
	} else if err != nil {
		return err
	}
	httputil.RenderJSON(w, http.StatusOK, &replicate.RemoteRecord{
		ID:       record.ID,
		Revision: record.Revision,
		Fields:   record.Fields,
		Groups:   record.Groups,
		Active:   record.Active,
		Staff:    record.Staff,
	})
	return nil
}

// CreateIdentity stores a new identity record.
func (h *Handler) CreateIdentity(w http.ResponseWriter, r *http.Request) error {
	var body struct {
		Fields map[string]string `json:"fields"`
		Groups []string          `json:"groups"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		return httputil.NewError(http.StatusBadRequest, err)
	}
	record, err := h.profiles.Create(r.Context(), body.Fields, body.Groups)
	if err != nil {
		return httputil.NewError(http.StatusBadRequest, err)
	}
	httputil.RenderJSON(w, http.StatusCreated, map[string]any{
		"identity_id": record.ID,
		"revision":    record.Revision,
	})
	return nil
}

// UpdateProfile applies profile field changes as one logical update.
func (h *Handler) UpdateProfile(w http.ResponseWriter, r *http.Request) error {
	identityID := mux.Vars(r)["identity_id"]
	var body struct {
		Fields map[string]string `json:"fields"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		return httputil.NewError(http.StatusBadRequest, err)
	}
	record, err := h.profiles.UpdateFields(r.Context(), identityID, body.Fields)
	if errors.Is(err, storage.ErrNotFound) {
		return httputil.NewError(http.StatusNotFound, err)
	} else if err != nil {
		return httputil.NewError(http.StatusBadRequest, err)
	}
	httputil.RenderJSON(w, http.StatusOK, map[string]any{"revision": record.Revision})
	return nil
}

// AddGroup adds the identity to a group.
func (h *Handler) AddGroup(w http.ResponseWriter, r *http.Request) error {
	vars := mux.Vars(r)
	record, err := h.profiles.AddToGroup(r.Context(), vars["identity_id"], vars["group"])
	if errors.Is(err, storage.ErrNotFound) {
		return httputil.NewError(http.StatusNotFound, err)
	} else if err != nil {
		return err
	}
	httputil.RenderJSON(w, http.StatusOK, map[string]any{"revision": record.Revision})
	return nil
}

// RemoveGroup removes the identity from a group.
func (h *Handler) RemoveGroup(w http.ResponseWriter, r *http.Request) error {
	vars := mux.Vars(r)
	record, err := h.profiles.RemoveFromGroup(r.Context(), vars["identity_id"], vars["group"])
	if errors.Is(err, storage.ErrNotFound) {
		return httputil.NewError(http.StatusNotFound, err)
	} else if err != nil {
		return err
	}
	httputil.RenderJSON(w, http.StatusOK, map[string]any{"revision": record.Revision})
	return nil
}

// SecurityEvent records a credential-affecting change: the revision bumps
// and every device of the identity is revoked.
func (h *Handler) SecurityEvent(w http.ResponseWriter, r *http.Request) error {
	identityID := mux.Vars(r)["identity_id"]
	if err := h.profiles.SecuritySensitiveUpdate(r.Context(), identityID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return httputil.NewError(http.StatusNotFound, err)
		}
		return err
	}
	w.WriteHeader(http.StatusNoContent)
	return nil
}

// Deactivate marks the identity inactive.
func (h *Handler) Deactivate(w http.ResponseWriter, r *http.Request) error {
	identityID := mux.Vars(r)["identity_id"]
	if err := h.profiles.Deactivate(r.Context(), identityID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return httputil.NewError(http.StatusNotFound, err)
		}
		return err
	}
	w.WriteHeader(http.StatusNoContent)
	return nil
}
