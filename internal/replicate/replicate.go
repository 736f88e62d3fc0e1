// Package replicate pulls identity snapshots from the authoritative backend
// into the local store. Replication is last-writer-wins at the granularity
// of a full record snapshot: the revision is only ever advanced by the
// authoritative backend, so there is no field-by-field merging.
package replicate

import (
	"context"
	"errors"

	"github.com/ssoline/ssoline/internal/log"
	"github.com/ssoline/ssoline/internal/revision"
	"github.com/ssoline/ssoline/pkg/identity"
	"github.com/ssoline/ssoline/pkg/storage"
)

// ErrReplicationSourceUnavailable is returned when the remote profile
// source cannot be reached. Surfaced as a 5xx-class failure; never treated
// as anonymous or trusted.
var ErrReplicationSourceUnavailable = errors.New("replicate: remote profile source unavailable")

// A RemoteRecord is the authoritative backend's view of an identity.
type RemoteRecord struct {
	ID       string            `json:"sso_id"`
	Revision uint64            `json:"sso_rev"`
	Fields   map[string]string `json:"fields"`
	Groups   []string          `json:"groups"`
	Active   bool              `json:"active"`
	Staff    bool              `json:"staff"`
}

// A Source fetches remote identity records. The bearer token is the
// caller's own signed session token; with an empty token the source falls
// back to its static service credential.
type Source interface {
	Fetch(ctx context.Context, identityID, bearerToken string) (*RemoteRecord, error)
}

// A Replicator merges remote identity snapshots into the local store.
type Replicator struct {
	store  storage.IdentityStore
	source Source
}

// New creates a new replicator.
func New(store storage.IdentityStore, source Source) *Replicator {
	return &Replicator{store: store, source: source}
}

// Replicate fetches the remote canonical record and creates or overwrites
// the local copy. Revision bumps are suppressed for the replication writes,
// so replicas never re-trigger bump loops between instances. The snapshot
// write carries fields, groups and the adopted revision in one atomic
// update, which makes a partial failure safe to retry.
func (r *Replicator) Replicate(ctx context.Context, identityID, bearerToken string) (*identity.Record, error) {
	remote, err := r.source.Fetch(ctx, identityID, bearerToken)
	if err != nil {
		return nil, err
	}

	ctx = revision.WithSuppressedBumps(ctx, "replication")

	local, err := r.store.GetIdentity(ctx, identityID)
	if errors.Is(err, storage.ErrNotFound) {
		record := recordFromRemote(remote)
		record.CreatedByReplication = true
		if err := r.store.CreateIdentity(ctx, record); err != nil {
			if errors.Is(err, storage.ErrAlreadyExists) {
				// lost a replication race; the stored copy wins
				return r.store.GetIdentity(ctx, identityID)
			}
			return nil, err
		}
		log.Info(ctx).Str("identity-id", identityID).Uint64("revision", record.Revision).
			Msg("replicate: created local replica")
		return record, nil
	} else if err != nil {
		return nil, err
	}

	if remote.Revision <= local.Revision {
		log.Debug(ctx).Str("identity-id", identityID).
			Uint64("local-revision", local.Revision).
			Uint64("remote-revision", remote.Revision).
			Msg("replicate: local copy up to date")
		return local, nil
	}

	record := recordFromRemote(remote)
	record.CreatedByReplication = local.CreatedByReplication
	record.CreatedAt = local.CreatedAt
	record.GatewayConsumerID = local.GatewayConsumerID
	if err := r.store.UpdateIdentity(ctx, record); err != nil {
		return nil, err
	}
	log.Info(ctx).Str("identity-id", identityID).
		Uint64("from-revision", local.Revision).
		Uint64("to-revision", record.Revision).
		Msg("replicate: overwrote local replica")
	return record, nil
}

func recordFromRemote(remote *RemoteRecord) *identity.Record {
	record := &identity.Record{
		ID:       remote.ID,
		Revision: remote.Revision,
		Fields:   map[string]string{},
		Groups:   append([]string(nil), remote.Groups...),
		Active:   remote.Active,
		Staff:    remote.Staff,
	}
	for k, v := range remote.Fields {
		record.Fields[k] = v
	}
	return record
}
