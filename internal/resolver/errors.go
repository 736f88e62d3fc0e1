package resolver

import "errors"

// Resolution errors. All of them collapse into one uniform rejection
// response; the distinct values exist for logs and tests, not for clients.
var (
	// ErrRequestHasNoAssociatedDevice is returned when a structurally valid
	// token names a device that does not exist locally. That indicates
	// credential data loss and is a hard failure: the token is never
	// re-minted silently.
	ErrRequestHasNoAssociatedDevice = errors.New("resolver: request has no associated device")

	// ErrFingerprintMismatch is returned when a token's fingerprint does not
	// match the stored device.
	ErrFingerprintMismatch = errors.New("resolver: device fingerprint mismatch")

	// ErrIdentityMismatch is returned when the gateway-asserted consumer and
	// the token's identity disagree.
	ErrIdentityMismatch = errors.New("resolver: gateway and token identities disagree")

	// ErrIdentityDeactivated is returned when the matched identity record is
	// inactive.
	ErrIdentityDeactivated = errors.New("resolver: identity is deactivated")

	// ErrStaffLoginDisallowed is returned when a staff identity attempts to
	// authenticate against an instance that does not accept staff logins.
	ErrStaffLoginDisallowed = errors.New("resolver: staff login disallowed")

	// ErrRevisionBehind is returned when a token carries an older revision
	// than the local record: its claims predate an invalidating update.
	ErrRevisionBehind = errors.New("resolver: token revision behind local record")

	// ErrUnknownIdentity is returned when a verified token names an identity
	// this instance cannot match or replicate.
	ErrUnknownIdentity = errors.New("resolver: unknown identity")
)

// Redirect signals raised by the post-authentication login checks. They
// steer a browser rather than failing the request, and are suppressed on
// allow-listed paths.
var (
	// ErrProfileIncomplete signals a required profile field is empty.
	ErrProfileIncomplete = errors.New("resolver: profile incomplete")
	// ErrSubscriptionRequired signals the identity is not subscribed to this
	// service.
	ErrSubscriptionRequired = errors.New("resolver: subscription required")
)

// A RedirectError carries a redirect signal and its destination through the
// request pipeline.
type RedirectError struct {
	Reason error
	URL    string
}

// Error implements error.
func (e *RedirectError) Error() string { return e.Reason.Error() }

// Unwrap returns the underlying signal.
func (e *RedirectError) Unwrap() error { return e.Reason }
