// Package authenticate turns an authentication decision into a live
// session: it binds a device, signs a token with the device's own secret,
// and mints the passepartout ticket that carries the session across the
// chain. It also tears sessions down again on sign-out.
package authenticate

import (
	"context"
	"net/http"
	"time"

	"github.com/go-jose/go-jose/v3"

	"github.com/ssoline/ssoline/internal/devices"
	"github.com/ssoline/ssoline/internal/encoding/jws"
	"github.com/ssoline/ssoline/internal/log"
	"github.com/ssoline/ssoline/internal/passepartout"
	"github.com/ssoline/ssoline/internal/sessions"
	"github.com/ssoline/ssoline/pkg/storage"
)

// Authenticator signs identities in and out.
type Authenticator struct {
	codec    *jws.Codec
	devices  *devices.Store
	store    storage.IdentityStore
	sessions sessions.SessionStore
	tickets  *passepartout.Manager

	sessionTTL       time.Duration
	logoutAllDevices bool
}

// New creates a new authenticator.
func New(codec *jws.Codec, deviceStore *devices.Store, identityStore storage.IdentityStore,
	sessionStore sessions.SessionStore, tickets *passepartout.Manager,
	sessionTTL time.Duration, logoutAllDevices bool) *Authenticator {
	return &Authenticator{
		codec:            codec,
		devices:          deviceStore,
		store:            identityStore,
		sessions:         sessionStore,
		tickets:          tickets,
		sessionTTL:       sessionTTL,
		logoutAllDevices: logoutAllDevices,
	}
}

// A Session is the outcome of a sign-in.
type Session struct {
	// Token is the freshly signed session token.
	Token string
	// DeviceID is the device the token is bound to.
	DeviceID string
	// ChainURL is the next chain hop to walk with the minted ticket, empty
	// when this instance is the whole chain.
	ChainURL string
}

// SignIn establishes a session for an already-authenticated identity: the
// device for this client fingerprint is found or created, a token is signed
// with that device's secret at the identity's current revision, and a
// one-time ticket is minted for the rest of the chain.
func (a *Authenticator) SignIn(ctx context.Context, identityID, fingerprint, next string) (*Session, error) {
	record, err := a.store.GetIdentity(ctx, identityID)
	if err != nil {
		return nil, err
	}

	device, err := a.devices.GetOrCreate(ctx, identityID, fingerprint)
	if err != nil {
		return nil, err
	}

	state := sessions.NewState(device.ID, device.Fingerprint, identityID,
		record.Revision, device.KeyID, a.sessionTTL)
	rawToken, err := a.codec.Encode(state, device.SigningSecret, jose.HS256)
	if err != nil {
		return nil, err
	}

	session := &Session{Token: rawToken, DeviceID: device.ID}
	if a.tickets != nil && a.tickets.HopCount() > 0 {
		ticket, err := a.tickets.Initiate(ctx, device.ID, rawToken)
		if err != nil {
			return nil, err
		}
		session.ChainURL = a.tickets.StartURL(ticket, next)
	}

	log.Info(ctx).Str("identity-id", identityID).Str("device-id", device.ID).
		Msg("authenticate: signed in")
	return session, nil
}

// SignOut revokes the session's device, or every device of the identity
// when the logout-all policy is enabled, and invalidates the cookie.
func (a *Authenticator) SignOut(ctx context.Context, w http.ResponseWriter, r *http.Request,
	identityID, deviceID string) error {
	if a.logoutAllDevices {
		if err := a.devices.RevokeAll(ctx, identityID); err != nil {
			return err
		}
	} else if deviceID != "" {
		if err := a.devices.Revoke(ctx, deviceID); err != nil {
			return err
		}
	}
	a.sessions.ClearSession(w, r)
	log.Info(ctx).Str("identity-id", identityID).Bool("all-devices", a.logoutAllDevices).
		Msg("authenticate: signed out")
	return nil
}
