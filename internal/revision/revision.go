// Package revision tracks the monotonic revision counter that invalidates
// dependent instances' cached copies of an identity.
//
// Bumps are scoped to a unit of work carried on the request context: several
// signals firing for one logical update increment the counter exactly once,
// and writes performed during creation, replication, bulk loads or by
// administrative actors suppress the bump entirely. Suppression is an
// explicit context value, never a mutable flag stashed on the record.
package revision

import (
	"context"
	"sync"

	"github.com/ssoline/ssoline/internal/log"
	"github.com/ssoline/ssoline/pkg/storage"
)

// IsStale reports whether a local copy at localRevision is stale relative to
// a token issued at tokenRevision. Staleness triggers full replication,
// never a partial patch.
func IsStale(localRevision, tokenRevision uint64) bool {
	return tokenRevision > localRevision
}

// A UnitOfWork scopes revision bumps to one logical operation.
type UnitOfWork struct {
	suppress bool
	reason   string

	mu     sync.Mutex
	bumped map[string]bool
}

// Suppressed reports whether bumps are suppressed for this unit of work.
func (u *UnitOfWork) Suppressed() bool {
	return u != nil && u.suppress
}

func (u *UnitOfWork) alreadyBumped(identityID string) bool {
	if u == nil {
		return false
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.bumped[identityID]
}

func (u *UnitOfWork) markBumped(identityID string) bool {
	if u == nil {
		return false
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.bumped == nil {
		u.bumped = map[string]bool{}
	}
	already := u.bumped[identityID]
	u.bumped[identityID] = true
	return already
}

type unitOfWorkCtxKey struct{}

// WithUnitOfWork returns a context carrying a fresh unit of work.
func WithUnitOfWork(ctx context.Context) context.Context {
	return context.WithValue(ctx, unitOfWorkCtxKey{}, &UnitOfWork{})
}

// WithSuppressedBumps returns a context whose unit of work suppresses all
// revision bumps. Used for initial creation, replication writes, bulk loads
// and administrative actors.
func WithSuppressedBumps(ctx context.Context, reason string) context.Context {
	return context.WithValue(ctx, unitOfWorkCtxKey{}, &UnitOfWork{suppress: true, reason: reason})
}

// UnitFromContext returns the unit of work bound to the context, or nil.
func UnitFromContext(ctx context.Context) *UnitOfWork {
	u, _ := ctx.Value(unitOfWorkCtxKey{}).(*UnitOfWork)
	return u
}

// A Tracker bumps identity revisions against the backing store.
type Tracker struct {
	store storage.IdentityStore
}

// NewTracker creates a new revision tracker.
func NewTracker(store storage.IdentityStore) *Tracker {
	return &Tracker{store: store}
}

// Bump increments an identity's revision exactly once per unit of work.
//
// With commit true the increment is persisted immediately as an atomic
// read-modify-write. With commit false the predicted next revision is
// returned for the caller to persist through a compare-and-set snapshot
// write; the prediction does not count against the unit of work until the
// caller confirms the write landed via Committed, so a conflicted write can
// re-predict and retry.
func (t *Tracker) Bump(ctx context.Context, identityID string, commit bool) (uint64, error) {
	u := UnitFromContext(ctx)

	if u.Suppressed() {
		log.Debug(ctx).Str("identity-id", identityID).Str("reason", u.reason).
			Msg("revision: bump suppressed")
		record, err := t.store.GetIdentity(ctx, identityID)
		if err != nil {
			return 0, err
		}
		return record.Revision, nil
	}

	if commit {
		if u.markBumped(identityID) {
			log.Debug(ctx).Str("identity-id", identityID).Msg("revision: already bumped")
			record, err := t.store.GetIdentity(ctx, identityID)
			if err != nil {
				return 0, err
			}
			return record.Revision, nil
		}
		revision, err := t.store.BumpRevision(ctx, identityID)
		if err != nil {
			return 0, err
		}
		log.Info(ctx).Str("identity-id", identityID).Uint64("revision", revision).
			Msg("revision: bumped")
		return revision, nil
	}

	record, err := t.store.GetIdentity(ctx, identityID)
	if err != nil {
		return 0, err
	}
	if u.alreadyBumped(identityID) {
		log.Debug(ctx).Str("identity-id", identityID).Msg("revision: already bumped")
		return record.Revision, nil
	}
	return record.Revision + 1, nil
}

// Committed records that a revision predicted by Bump with commit false was
// persisted, so later signals in the same unit of work are no-ops.
func (t *Tracker) Committed(ctx context.Context, identityID string) {
	UnitFromContext(ctx).markBumped(identityID)
}
