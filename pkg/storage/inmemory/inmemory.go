// Package inmemory implements the storage backend in process memory. It is
// used by tests and single-node development setups; the uniqueness and
// atomicity guarantees mirror the postgres backend's constraints.
package inmemory

import (
	"context"
	"sync"
	"time"

	"github.com/ssoline/ssoline/pkg/identity"
	"github.com/ssoline/ssoline/pkg/storage"
)

// Backend is an in-memory storage backend.
type Backend struct {
	mu         sync.Mutex
	identities map[string]*identity.Record
	devices    map[string]*identity.Device
	tickets    map[string]*identity.Ticket
}

// New creates a new in-memory backend.
func New() *Backend {
	return &Backend{
		identities: map[string]*identity.Record{},
		devices:    map[string]*identity.Device{},
		tickets:    map[string]*identity.Ticket{},
	}
}

// Close releases the backend's resources.
func (b *Backend) Close() error {
	return nil
}

// GetIdentity retrieves an identity record by id.
func (b *Backend) GetIdentity(_ context.Context, id string) (*identity.Record, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	record, ok := b.identities[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return record.Clone(), nil
}

// CreateIdentity stores a new identity record.
func (b *Backend) CreateIdentity(_ context.Context, record *identity.Record) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.identities[record.ID]; ok {
		return storage.ErrAlreadyExists
	}
	stored := record.Clone()
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now()
	}
	b.identities[record.ID] = stored
	return nil
}

// UpdateIdentity overwrites an identity record as one full snapshot.
func (b *Backend) UpdateIdentity(_ context.Context, record *identity.Record) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.identities[record.ID]; !ok {
		return storage.ErrNotFound
	}
	b.identities[record.ID] = record.Clone()
	return nil
}

// CompareAndUpdateIdentity overwrites an identity record while its stored
// revision still equals expectedRevision.
func (b *Backend) CompareAndUpdateIdentity(_ context.Context, record *identity.Record, expectedRevision uint64) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	stored, ok := b.identities[record.ID]
	if !ok {
		return storage.ErrNotFound
	}
	if stored.Revision != expectedRevision {
		return storage.ErrRevisionConflict
	}
	b.identities[record.ID] = record.Clone()
	return nil
}

// BumpRevision atomically increments an identity's revision.
func (b *Backend) BumpRevision(_ context.Context, id string) (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	record, ok := b.identities[id]
	if !ok {
		return 0, storage.ErrNotFound
	}
	record.Revision++
	return record.Revision, nil
}

// GetDevice retrieves a device by id.
func (b *Backend) GetDevice(_ context.Context, id string) (*identity.Device, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	device, ok := b.devices[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	dup := *device
	return &dup, nil
}

// FindDevice retrieves the active device for an (identity, fingerprint) pair.
func (b *Backend) FindDevice(_ context.Context, identityID, fingerprint string) (*identity.Device, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, device := range b.devices {
		if device.Active && device.IdentityID == identityID && device.Fingerprint == fingerprint {
			dup := *device
			return &dup, nil
		}
	}
	return nil, storage.ErrNotFound
}

// CreateDevice stores a new device, enforcing the one-active-device
// constraint per (identity, fingerprint) pair.
func (b *Backend) CreateDevice(_ context.Context, device *identity.Device) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.devices[device.ID]; ok {
		return storage.ErrAlreadyExists
	}
	if device.Active {
		for _, existing := range b.devices {
			if existing.Active &&
				existing.IdentityID == device.IdentityID &&
				existing.Fingerprint == device.Fingerprint {
				return storage.ErrAlreadyExists
			}
		}
	}
	dup := *device
	if dup.CreatedAt.IsZero() {
		dup.CreatedAt = time.Now()
	}
	b.devices[device.ID] = &dup
	return nil
}

// DeactivateDevice marks a device inactive.
func (b *Backend) DeactivateDevice(_ context.Context, id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	device, ok := b.devices[id]
	if !ok {
		return storage.ErrNotFound
	}
	device.Active = false
	return nil
}

// ListActiveDevices lists every active device of an identity.
func (b *Backend) ListActiveDevices(_ context.Context, identityID string) ([]*identity.Device, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	var devices []*identity.Device
	for _, device := range b.devices {
		if device.Active && device.IdentityID == identityID {
			dup := *device
			devices = append(devices, &dup)
		}
	}
	return devices, nil
}

// CreateTicket stores a new ticket.
func (b *Backend) CreateTicket(_ context.Context, ticket *identity.Ticket) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.tickets[ticket.Token]; ok {
		return storage.ErrAlreadyExists
	}
	dup := *ticket
	if dup.CreatedAt.IsZero() {
		dup.CreatedAt = time.Now()
	}
	b.tickets[ticket.Token] = &dup
	return nil
}

// GetActiveTicket retrieves an active ticket by token. Unknown and consumed
// tickets are indistinguishable.
func (b *Backend) GetActiveTicket(_ context.Context, token string) (*identity.Ticket, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ticket, ok := b.tickets[token]
	if !ok || !ticket.Active {
		return nil, storage.ErrNotFound
	}
	dup := *ticket
	return &dup, nil
}

// ConsumeTicket atomically flips a ticket's active flag to false.
func (b *Backend) ConsumeTicket(_ context.Context, token string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ticket, ok := b.tickets[token]
	if !ok || !ticket.Active {
		return false, nil
	}
	ticket.Active = false
	return true, nil
}
