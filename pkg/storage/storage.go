// Package storage provides a generic interface to the shared backing store
// holding identity records, device credentials and passepartout tickets.
//
// Workers run across multiple processes and machines, so every invariant
// that must hold under concurrency (one active device per identity and
// fingerprint, monotonic revisions, exactly-once ticket consumption) is
// enforced at this layer, not with application-level locks.
package storage

import (
	"context"
	"errors"

	"github.com/ssoline/ssoline/pkg/identity"
)

// Errors
var (
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("storage: record not found")
	// ErrAlreadyExists is returned when a create violates a uniqueness
	// constraint. Callers racing on device creation retry the lookup.
	ErrAlreadyExists = errors.New("storage: record already exists")
	// ErrRevisionConflict is returned when a compare-and-set update loses to
	// a concurrent writer. Callers re-read and retry.
	ErrRevisionConflict = errors.New("storage: revision conflict")
)

// Backend is the interface required for a storage backend.
type Backend interface {
	IdentityStore
	DeviceStore
	TicketStore

	// Close closes the backend.
	Close() error
}

// IdentityStore stores identity records.
type IdentityStore interface {
	// GetIdentity retrieves an identity record by id.
	GetIdentity(ctx context.Context, id string) (*identity.Record, error)
	// CreateIdentity stores a new identity record. The record's revision is
	// persisted as-is; initial creation never bumps.
	CreateIdentity(ctx context.Context, record *identity.Record) error
	// UpdateIdentity overwrites an identity record as one full snapshot,
	// including its revision. Used by replication, which is last-writer-wins
	// at record granularity.
	UpdateIdentity(ctx context.Context, record *identity.Record) error
	// CompareAndUpdateIdentity overwrites an identity record in a single
	// atomic statement, but only while the stored revision still equals
	// expectedRevision. Returns ErrRevisionConflict when a concurrent writer
	// advanced the record first, so no update is ever silently lost.
	CompareAndUpdateIdentity(ctx context.Context, record *identity.Record, expectedRevision uint64) error
	// BumpRevision atomically increments an identity's revision and returns
	// the new value. Increment, not read-then-write, so concurrent bumps
	// from different devices are never lost.
	BumpRevision(ctx context.Context, id string) (uint64, error)
}

// DeviceStore stores device credentials.
type DeviceStore interface {
	// GetDevice retrieves a device by id.
	GetDevice(ctx context.Context, id string) (*identity.Device, error)
	// FindDevice retrieves the active device for an (identity, fingerprint)
	// pair.
	FindDevice(ctx context.Context, identityID, fingerprint string) (*identity.Device, error)
	// CreateDevice stores a new device. Returns ErrAlreadyExists if an
	// active device already exists for the (identity, fingerprint) pair.
	CreateDevice(ctx context.Context, device *identity.Device) error
	// DeactivateDevice marks a device inactive.
	DeactivateDevice(ctx context.Context, id string) error
	// ListActiveDevices lists every active device of an identity.
	ListActiveDevices(ctx context.Context, identityID string) ([]*identity.Device, error)
}

// TicketStore stores passepartout tickets.
type TicketStore interface {
	// CreateTicket stores a new ticket. Returns ErrAlreadyExists on a token
	// collision; callers regenerate and retry.
	CreateTicket(ctx context.Context, ticket *identity.Ticket) error
	// GetActiveTicket retrieves an active ticket by token. Returns
	// ErrNotFound for unknown and consumed tickets alike.
	GetActiveTicket(ctx context.Context, token string) (*identity.Ticket, error)
	// ConsumeTicket atomically flips a ticket's active flag to false.
	// Returns false if the ticket was absent or already consumed, so
	// terminal consumption happens exactly once even if two hops race.
	ConsumeTicket(ctx context.Context, token string) (bool, error)
}
