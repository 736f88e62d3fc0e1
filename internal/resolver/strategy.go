package resolver

import (
	"context"
	"errors"

	"github.com/ssoline/ssoline/internal/log"
	"github.com/ssoline/ssoline/internal/replicate"
	"github.com/ssoline/ssoline/internal/revision"
	"github.com/ssoline/ssoline/internal/sessions"
	"github.com/ssoline/ssoline/pkg/identity"
	"github.com/ssoline/ssoline/pkg/storage"
)

// An AuthenticationStrategy reconciles a verified token with the local
// identity store. The backend shape is authoritative and never replicates;
// the app shape holds replicas and refreshes them when a token outruns the
// local revision.
type AuthenticationStrategy interface {
	// Name identifies the strategy in logs.
	Name() string
	// MatchIdentity returns the local record for a verified token's identity
	// and the outcome status. The raw token is forwarded so replication can
	// act on behalf of the caller.
	MatchIdentity(ctx context.Context, state *sessions.State, rawToken string) (*identity.Record, Status, error)
}

// BackendStrategy matches tokens against the authoritative store. Tokens
// carrying any revision other than the stored one are rejected: the backend
// mints revisions, it never chases them.
type BackendStrategy struct {
	Store storage.IdentityStore
}

// Name implements AuthenticationStrategy.
func (s *BackendStrategy) Name() string { return "backend" }

// MatchIdentity implements AuthenticationStrategy.
func (s *BackendStrategy) MatchIdentity(ctx context.Context, state *sessions.State, _ string) (*identity.Record, Status, error) {
	record, err := s.Store.GetIdentity(ctx, state.IdentityID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, StatusRejected, ErrUnknownIdentity
	} else if err != nil {
		return nil, StatusRejected, err
	}
	if state.Revision != record.Revision {
		return nil, StatusRejected, ErrRevisionBehind
	}
	return record, StatusLocalMatch, nil
}

// AppStrategy matches tokens against a replica store, pulling a fresh
// snapshot from the authoritative backend whenever the token's revision is
// ahead of the local copy or the identity is unknown locally.
type AppStrategy struct {
	Store storage.IdentityStore
	// Replicator is nil when profile replication is disabled; unknown
	// identities are then rejected instead of replicated.
	Replicator *replicate.Replicator
}

// Name implements AuthenticationStrategy.
func (s *AppStrategy) Name() string { return "app" }

// MatchIdentity implements AuthenticationStrategy.
func (s *AppStrategy) MatchIdentity(ctx context.Context, state *sessions.State, rawToken string) (*identity.Record, Status, error) {
	record, err := s.Store.GetIdentity(ctx, state.IdentityID)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		if s.Replicator == nil {
			return nil, StatusRejected, ErrUnknownIdentity
		}
		record, err = s.Replicator.Replicate(ctx, state.IdentityID, rawToken)
		if err != nil {
			return nil, StatusRejected, err
		}
		return record, StatusReplicated, nil
	case err != nil:
		return nil, StatusRejected, err
	}

	if revision.IsStale(record.Revision, state.Revision) {
		if s.Replicator == nil {
			// can't refresh; the local copy is all there is
			log.Warn(ctx).Str("identity-id", state.IdentityID).
				Uint64("local-revision", record.Revision).
				Uint64("token-revision", state.Revision).
				Msg("resolver: stale local copy with replication disabled")
			return record, StatusLocalMatch, nil
		}
		record, err = s.Replicator.Replicate(ctx, state.IdentityID, rawToken)
		if err != nil {
			return nil, StatusRejected, err
		}
		return record, StatusReplicated, nil
	}

	if state.Revision < record.Revision {
		return nil, StatusRejected, ErrRevisionBehind
	}
	return record, StatusLocalMatch, nil
}
