// Package resolver turns raw requests into resolved identities. Every
// request walks the same path: credential extraction, device resolution,
// token verification, identity matching. The walk either ends authenticated,
// anonymous, or rejected, and a rejection is final: later steps never
// downgrade it back to anonymous.
package resolver

import (
	"context"
	"errors"
	"net/http"
	"net/url"

	"github.com/ssoline/ssoline/internal/devices"
	"github.com/ssoline/ssoline/internal/encoding/jws"
	"github.com/ssoline/ssoline/internal/gateway"
	"github.com/ssoline/ssoline/internal/httputil"
	"github.com/ssoline/ssoline/internal/log"
	"github.com/ssoline/ssoline/internal/replicate"
	"github.com/ssoline/ssoline/internal/sessions"
	"github.com/ssoline/ssoline/pkg/identity"
	"github.com/ssoline/ssoline/pkg/storage"
)

// Config assembles the resolver's collaborators and policy knobs.
type Config struct {
	Codec    *jws.Codec
	Devices  *devices.Store
	Sessions sessions.SessionStore
	Strategy AuthenticationStrategy

	// GatewayEnabled trusts gateway-injected identity headers.
	GatewayEnabled bool
	// AnonymousConsumerIDs are gateway consumer custom ids carried by
	// unauthenticated traffic.
	AnonymousConsumerIDs []string

	// DisallowStaff rejects staff identities. Dependent apps typically do
	// not accept backend staff as local users.
	DisallowStaff bool

	// RequiredProfileFields must be non-empty before a profile counts as
	// complete.
	RequiredProfileFields []string
	// SubscriptionGroup, when set, requires membership before access.
	SubscriptionGroup string

	// PathIsRedirectExempt reports paths exempt from the incomplete-profile
	// and subscription redirects.
	PathIsRedirectExempt func(string) bool

	ProfileCompleteURL string
	LoginURL           string
}

// A Resolver resolves request identities and enforces login policy.
type Resolver struct {
	cfg Config
}

// New creates a new resolver.
func New(cfg Config) *Resolver {
	if cfg.PathIsRedirectExempt == nil {
		cfg.PathIsRedirectExempt = func(string) bool { return false }
	}
	if cfg.LoginURL == "" {
		cfg.LoginURL = "/login/"
	}
	return &Resolver{cfg: cfg}
}

// Resolve runs the resolution walk for one request.
//
// The returned error is an infrastructure failure (store down, credential
// issuer or replication source unreachable) and maps to a 5xx; it is never
// treated as anonymous. All credential problems instead come back as a
// StatusRejected resolution, deliberately indistinguishable from each other
// at the client.
func (r *Resolver) Resolve(req *http.Request) (*Resolution, error) {
	ctx := req.Context()

	var gw gateway.Headers
	if r.cfg.GatewayEnabled {
		gw = gateway.ParseHeaders(req, r.cfg.AnonymousConsumerIDs)
		if gw.Anonymous {
			return &Resolution{Status: StatusAnonymous, GatewayGroups: gw.Groups}, nil
		}
	}

	rawToken, err := r.cfg.Sessions.LoadSessionToken(req)
	if errors.Is(err, sessions.ErrNoSessionFound) {
		if r.cfg.GatewayEnabled && gw.ConsumerCustomID != "" {
			// the gateway asserts a consumer but the request carries no
			// token to prove it
			return rejected(ctx, ErrIdentityMismatch, gw.Groups), nil
		}
		return &Resolution{Status: StatusAnonymous}, nil
	} else if err != nil {
		return nil, err
	}

	// Device resolution: peek, unverified, only to learn which device's
	// secret verifies this token.
	peeked, err := jws.Peek(rawToken)
	if err != nil {
		return rejected(ctx, err, gw.Groups), nil
	}
	device, err := r.cfg.Devices.Lookup(ctx, peeked.DeviceID, peeked.Fingerprint)
	if errors.Is(err, storage.ErrNotFound) {
		return rejected(ctx, ErrRequestHasNoAssociatedDevice, gw.Groups), nil
	} else if err != nil {
		return nil, err
	}

	// Token verification against the device's own secret.
	var state sessions.State
	if err := r.cfg.Codec.Verify(rawToken, device.SigningSecret, &state); err != nil {
		return rejected(ctx, err, gw.Groups), nil
	}
	if err := state.Valid(); err != nil {
		return rejected(ctx, err, gw.Groups), nil
	}
	if state.DeviceID != device.ID || state.Fingerprint != device.Fingerprint {
		return rejected(ctx, ErrFingerprintMismatch, gw.Groups), nil
	}
	if device.IdentityID != state.IdentityID {
		return rejected(ctx, ErrIdentityMismatch, gw.Groups), nil
	}

	// Identity matching: the gateway's asserted consumer and the token must
	// agree before either is trusted.
	if r.cfg.GatewayEnabled && gw.ConsumerCustomID != "" && gw.ConsumerCustomID != state.IdentityID {
		return rejected(ctx, ErrIdentityMismatch, gw.Groups), nil
	}

	record, status, err := r.cfg.Strategy.MatchIdentity(ctx, &state, rawToken)
	if err != nil {
		if errors.Is(err, replicate.ErrReplicationSourceUnavailable) ||
			errors.Is(err, devices.ErrCredentialIssuerUnavailable) {
			return nil, err
		}
		if status == StatusRejected {
			return rejected(ctx, err, gw.Groups), nil
		}
		return nil, err
	}

	if !record.Active {
		return rejected(ctx, ErrIdentityDeactivated, gw.Groups), nil
	}
	if r.cfg.DisallowStaff && record.Staff {
		return rejected(ctx, ErrStaffLoginDisallowed, gw.Groups), nil
	}

	log.Debug(ctx).Str("identity-id", record.ID).Str("device-id", device.ID).
		Str("strategy", r.cfg.Strategy.Name()).Stringer("status", status).
		Msg("resolver: resolved")
	return &Resolution{
		Status:        status,
		Record:        record,
		State:         &state,
		RawToken:      rawToken,
		GatewayGroups: gw.Groups,
	}, nil
}

// rejected builds the uniform rejection outcome. The detailed reason stays
// in the resolution for logging; clients never see it.
func rejected(ctx context.Context, reason error, groups []string) *Resolution {
	log.Debug(ctx).Err(reason).Msg("resolver: rejecting credentials")
	return &Resolution{Status: StatusRejected, GatewayGroups: groups, rejectReason: reason}
}

// Middleware resolves the request identity, enforces login policy and
// invokes the next handler with the resolution on the context.
func (r *Resolver) Middleware(next http.Handler) http.Handler {
	return httputil.HandlerFunc(func(w http.ResponseWriter, req *http.Request) error {
		res, err := r.Resolve(req)
		if err != nil {
			return httputil.NewError(http.StatusBadGateway, err)
		}

		if res.Status == StatusRejected {
			log.Info(req.Context()).Err(res.rejectReason).Str("path", req.URL.Path).
				Msg("resolver: rejected")
			r.cfg.Sessions.ClearSession(w, req)
			r.unauthorized(w, req)
			return nil
		}

		if res.Authenticated() {
			if redir := r.redirectFor(res.Record, req); redir != nil {
				log.Debug(req.Context()).Err(redir.Reason).Str("url", redir.URL).
					Msg("resolver: redirect signal")
				http.Redirect(w, req, redir.URL, http.StatusFound)
				return nil
			}
		}

		next.ServeHTTP(w, req.WithContext(NewContext(req.Context(), res)))
		return nil
	})
}

// unauthorized renders the single rejection outcome: API callers get a 401,
// browsers an invalidated cookie and a trip to the login page.
func (r *Resolver) unauthorized(w http.ResponseWriter, req *http.Request) {
	if sessions.TokenFromHeader(req) != "" {
		httputil.RenderJSON(w, http.StatusUnauthorized, map[string]string{
			"error": "unauthorized",
		})
		return
	}
	http.Redirect(w, req, loginRedirectURL(r.cfg.LoginURL, req), http.StatusFound)
}

// redirectFor applies the post-authentication login checks that steer a
// browser instead of rejecting it: incomplete profiles and missing
// subscriptions. Exempt paths pass through to avoid redirect loops.
func (r *Resolver) redirectFor(record *identity.Record, req *http.Request) *RedirectError {
	if r.cfg.PathIsRedirectExempt(req.URL.Path) {
		return nil
	}
	if sessions.TokenFromHeader(req) != "" {
		// API traffic is never steered by redirects
		return nil
	}
	if r.cfg.ProfileCompleteURL != "" && !profileComplete(record, r.cfg.RequiredProfileFields) {
		return &RedirectError{Reason: ErrProfileIncomplete, URL: r.cfg.ProfileCompleteURL}
	}
	if r.cfg.SubscriptionGroup != "" && !record.InGroup(r.cfg.SubscriptionGroup) {
		return &RedirectError{Reason: ErrSubscriptionRequired, URL: loginRedirectURL(r.cfg.LoginURL, req)}
	}
	return nil
}

func profileComplete(record *identity.Record, required []string) bool {
	for _, field := range required {
		if record.Fields[field] == "" {
			return false
		}
	}
	return true
}

func loginRedirectURL(loginURL string, req *http.Request) string {
	u, err := url.Parse(loginURL)
	if err != nil {
		return loginURL
	}
	q := u.Query()
	q.Set("next", req.URL.RequestURI())
	u.RawQuery = q.Encode()
	return u.String()
}
