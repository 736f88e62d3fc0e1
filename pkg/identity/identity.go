// Package identity defines the durable state shared by cooperating
// instances: identity records, device credentials and passepartout tickets.
package identity

import (
	"time"

	"github.com/google/uuid"
)

// ProfileFields is the known set of profile attribute names an identity
// record may carry in its local fields.
var ProfileFields = []string{
	"email",
	"username",
	"first_name",
	"last_name",
	"alias",
	"description",
	"picture",
	"birthdate",
	"country",
	"address",
	"language",
	"phone",
}

// A Record is the canonical identity state for one principal.
//
// ID is immutable and globally unique, assigned at first creation by
// whichever instance creates it. Revision is a monotonic counter that
// invalidates dependent instances' cached copies: it never decreases, and any
// non-administrative mutation of fields or groups increments it exactly once
// per logical change.
type Record struct {
	ID       string
	Revision uint64

	Fields map[string]string
	Groups []string

	// CreatedByReplication marks records that are replicas of a remote
	// canonical record. Replicas never own identity-id allocation.
	CreatedByReplication bool

	// Staff identities may not log in through the SSO surface.
	Staff bool

	Active        bool
	CreatedAt     time.Time
	DeactivatedAt *time.Time

	// GatewayConsumerID is the id of the gateway consumer backing this
	// identity, when gateway mode is enabled on the issuing instance.
	GatewayConsumerID string
}

// NewRecord returns a new active identity record at revision 1.
func NewRecord() *Record {
	return &Record{
		ID:       uuid.NewString(),
		Revision: 1,
		Fields:   map[string]string{},
		Active:   true,
	}
}

// Clone returns a deep copy of the record.
func (r *Record) Clone() *Record {
	dup := *r
	dup.Fields = make(map[string]string, len(r.Fields))
	for k, v := range r.Fields {
		dup.Fields[k] = v
	}
	dup.Groups = append([]string(nil), r.Groups...)
	return &dup
}

// InGroup reports whether the record is a member of the named group.
func (r *Record) InGroup(name string) bool {
	for _, g := range r.Groups {
		if g == name {
			return true
		}
	}
	return false
}

// A Device represents one authenticated client instance bound to one signing
// secret. At most one active device exists per (identity, fingerprint) pair,
// and a signing secret is never reused across identities.
type Device struct {
	ID            string
	IdentityID    string
	Fingerprint   string
	SigningSecret []byte

	// KeyID is an opaque reference to key material held by an external
	// credential-issuing service (the gateway's JWT credential id).
	KeyID string
	// GatewayJWTID is the gateway-side id of the JWT credential, used to
	// delete it on revocation.
	GatewayJWTID string

	Active    bool
	CreatedAt time.Time
}

// A Ticket is a short-lived, single-use passepartout artifact that relays a
// freshly authenticated session across a chain of instances. Once consumed
// it must never authenticate again.
type Ticket struct {
	Token        string
	DeviceID     string
	SessionToken string
	HopCount     int
	Active       bool
	CreatedAt    time.Time
}

// MaxFingerprintLength bounds client-supplied fingerprints.
const MaxFingerprintLength = 32

// NormalizeFingerprint truncates a client-supplied fingerprint to the
// maximum stored length.
func NormalizeFingerprint(fp string) string {
	if len(fp) > MaxFingerprintLength {
		return fp[:MaxFingerprintLength]
	}
	return fp
}
