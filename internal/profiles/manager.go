// Package profiles applies mutations to identity records: profile fields,
// group memberships and security-sensitive changes. Every side effect of a
// mutation (revision bump, gateway ACL sync, device revocation) is an
// explicit synchronous call from the mutating operation.
package profiles

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ssoline/ssoline/internal/devices"
	"github.com/ssoline/ssoline/internal/log"
	"github.com/ssoline/ssoline/internal/revision"
	"github.com/ssoline/ssoline/pkg/identity"
	"github.com/ssoline/ssoline/pkg/storage"
)

// A GroupSyncer propagates group membership changes to an external system
// (the gateway's ACL groups). Implementations must be idempotent.
type GroupSyncer interface {
	GroupAdded(ctx context.Context, record *identity.Record, group string) error
	GroupRemoved(ctx context.Context, record *identity.Record, group string) error
}

// NopGroupSyncer ignores group changes. Used when gateway mode is disabled.
type NopGroupSyncer struct{}

// GroupAdded implements GroupSyncer.
func (NopGroupSyncer) GroupAdded(context.Context, *identity.Record, string) error { return nil }

// GroupRemoved implements GroupSyncer.
func (NopGroupSyncer) GroupRemoved(context.Context, *identity.Record, string) error { return nil }

// Manager mutates identity records.
type Manager struct {
	store   storage.IdentityStore
	tracker *revision.Tracker
	devices *devices.Store
	groups  GroupSyncer
}

// NewManager creates a new profile manager.
func NewManager(store storage.IdentityStore, tracker *revision.Tracker, deviceStore *devices.Store, groups GroupSyncer) *Manager {
	if groups == nil {
		groups = NopGroupSyncer{}
	}
	return &Manager{store: store, tracker: tracker, devices: deviceStore, groups: groups}
}

// Create stores a new identity record. Initial creation never bumps the
// revision.
func (m *Manager) Create(ctx context.Context, fields map[string]string, groups []string) (*identity.Record, error) {
	if err := validateFields(fields); err != nil {
		return nil, err
	}
	record := identity.NewRecord()
	for k, v := range fields {
		record.Fields[k] = v
	}
	record.Groups = append(record.Groups, groups...)
	if err := m.store.CreateIdentity(ctx, record); err != nil {
		return nil, err
	}
	log.Info(ctx).Str("identity-id", record.ID).Msg("profiles: created")
	return record, nil
}

// maxUpdateAttempts bounds how often a conflicted update is retried before
// giving up.
const maxUpdateAttempts = 3

// mutate runs one logical update as a read, apply, compare-and-set cycle.
// When a concurrent writer advanced the record between the read and the
// write, the record is re-read and the change re-applied, so neither
// writer's content is lost. apply reports whether it changed the record.
func (m *Manager) mutate(ctx context.Context, identityID string, apply func(*identity.Record) bool) (*identity.Record, bool, error) {
	for attempt := 0; attempt < maxUpdateAttempts; attempt++ {
		record, err := m.store.GetIdentity(ctx, identityID)
		if err != nil {
			return nil, false, err
		}
		if !apply(record) {
			return record, false, nil
		}

		prev := record.Revision
		newRevision, err := m.tracker.Bump(ctx, identityID, false)
		if err != nil {
			return nil, false, err
		}
		record.Revision = newRevision

		err = m.store.CompareAndUpdateIdentity(ctx, record, prev)
		if errors.Is(err, storage.ErrRevisionConflict) {
			log.Debug(ctx).Str("identity-id", identityID).
				Msg("profiles: concurrent update, retrying")
			continue
		}
		if err != nil {
			return nil, false, err
		}
		if newRevision != prev {
			m.tracker.Committed(ctx, identityID)
		}
		return record, true, nil
	}
	return nil, false, fmt.Errorf("profiles: identity %q: update kept conflicting after %d attempts", identityID, maxUpdateAttempts)
}

// UpdateFields applies profile field changes as one logical update: the
// revision increments exactly once no matter how many fields change.
func (m *Manager) UpdateFields(ctx context.Context, identityID string, fields map[string]string) (*identity.Record, error) {
	if err := validateFields(fields); err != nil {
		return nil, err
	}

	ctx = ensureUnit(ctx)
	record, _, err := m.mutate(ctx, identityID, func(r *identity.Record) bool {
		changed := false
		for k, v := range fields {
			if r.Fields[k] != v {
				r.Fields[k] = v
				changed = true
			}
		}
		return changed
	})
	return record, err
}

// AddToGroup adds an identity to a group, bumps the revision and syncs the
// gateway ACL.
func (m *Manager) AddToGroup(ctx context.Context, identityID, group string) (*identity.Record, error) {
	ctx = ensureUnit(ctx)
	record, changed, err := m.mutate(ctx, identityID, func(r *identity.Record) bool {
		if r.InGroup(group) {
			return false
		}
		r.Groups = append(r.Groups, group)
		return true
	})
	if err != nil {
		return nil, err
	}
	if changed {
		if err := m.groups.GroupAdded(ctx, record, group); err != nil {
			log.Warn(ctx).Err(err).Str("identity-id", identityID).Str("group", group).
				Msg("profiles: gateway acl sync failed")
		}
	}
	return record, nil
}

// RemoveFromGroup removes an identity from a group, bumps the revision and
// syncs the gateway ACL.
func (m *Manager) RemoveFromGroup(ctx context.Context, identityID, group string) (*identity.Record, error) {
	ctx = ensureUnit(ctx)
	record, changed, err := m.mutate(ctx, identityID, func(r *identity.Record) bool {
		if !r.InGroup(group) {
			return false
		}
		kept := r.Groups[:0]
		for _, g := range r.Groups {
			if g != group {
				kept = append(kept, g)
			}
		}
		r.Groups = kept
		return true
	})
	if err != nil {
		return nil, err
	}
	if changed {
		if err := m.groups.GroupRemoved(ctx, record, group); err != nil {
			log.Warn(ctx).Err(err).Str("identity-id", identityID).Str("group", group).
				Msg("profiles: gateway acl sync failed")
		}
	}
	return record, nil
}

// SecuritySensitiveUpdate records a credential-affecting event (password
// change): the revision bumps and every device of the identity is revoked
// to force credential re-issuance.
func (m *Manager) SecuritySensitiveUpdate(ctx context.Context, identityID string) error {
	ctx = ensureUnit(ctx)
	if _, err := m.tracker.Bump(ctx, identityID, true); err != nil {
		return err
	}
	if err := m.devices.RevokeAll(ctx, identityID); err != nil {
		return fmt.Errorf("profiles: revoke devices: %w", err)
	}
	log.Info(ctx).Str("identity-id", identityID).Msg("profiles: security-sensitive update")
	return nil
}

// Deactivate marks an identity inactive. Records in the replication path are
// never hard-deleted.
func (m *Manager) Deactivate(ctx context.Context, identityID string) error {
	ctx = ensureUnit(ctx)
	_, _, err := m.mutate(ctx, identityID, func(r *identity.Record) bool {
		if !r.Active {
			return false
		}
		now := time.Now()
		r.Active = false
		r.DeactivatedAt = &now
		return true
	})
	return err
}

func ensureUnit(ctx context.Context) context.Context {
	if revision.UnitFromContext(ctx) == nil {
		ctx = revision.WithUnitOfWork(ctx)
	}
	return ctx
}

func validateFields(fields map[string]string) error {
	for name := range fields {
		known := false
		for _, f := range identity.ProfileFields {
			if f == name {
				known = true
				break
			}
		}
		if !known {
			return fmt.Errorf("profiles: unknown profile field %q", name)
		}
	}
	return nil
}
