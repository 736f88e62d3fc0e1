package sessions

import (
	"errors"
	"time"

	"github.com/go-jose/go-jose/v3/jwt"
)

// Session state errors.
var (
	// ErrMissingDeviceID is the error for a session state with no device id.
	ErrMissingDeviceID = errors.New("invalid session: missing device id")
	// ErrMissingIdentityID is the error for a session state with no identity id.
	ErrMissingIdentityID = errors.New("invalid session: missing identity id")
	// ErrExpired is the error for an expired session state.
	ErrExpired = errors.New("invalid session: expired")
)

// DefaultLeeway defines the default leeway for matching expiry claims.
const DefaultLeeway = 1 * time.Minute

// timeNow is time.Now but pulled out as a variable for tests.
var timeNow = time.Now

// State is the verified claim set of a signed session token. The wire names
// match what every cooperating instance expects: the device id, the device
// fingerprint, the identity id, the issuer's revision at signing time and the
// issuer key id.
type State struct {
	DeviceID    string `json:"id,omitempty"`
	Fingerprint string `json:"fp,omitempty"`
	IdentityID  string `json:"sso_id,omitempty"`
	Revision    uint64 `json:"sso_rev"`
	KeyID       string `json:"iss,omitempty"`

	IssuedAt *jwt.NumericDate `json:"iat,omitempty"`
	Expiry   *jwt.NumericDate `json:"exp,omitempty"`
}

// NewState returns a session state issued now.
func NewState(deviceID, fingerprint, identityID string, revision uint64, keyID string, ttl time.Duration) *State {
	now := timeNow()
	s := &State{
		DeviceID:    deviceID,
		Fingerprint: fingerprint,
		IdentityID:  identityID,
		Revision:    revision,
		KeyID:       keyID,
		IssuedAt:    jwt.NewNumericDate(now),
	}
	if ttl > 0 {
		s.Expiry = jwt.NewNumericDate(now.Add(ttl))
	}
	return s
}

// Valid returns an error if the state is structurally incomplete or expired.
func (s *State) Valid() error {
	if s.DeviceID == "" {
		return ErrMissingDeviceID
	}
	if s.IdentityID == "" {
		return ErrMissingIdentityID
	}
	if s.Expiry != nil && timeNow().After(s.Expiry.Time().Add(DefaultLeeway)) {
		return ErrExpired
	}
	return nil
}
