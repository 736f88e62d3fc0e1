// Package postgres contains an implementation of the storage.Backend backed
// by postgres.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ssoline/ssoline/pkg/identity"
	"github.com/ssoline/ssoline/pkg/storage"
)

const schema = `
CREATE TABLE IF NOT EXISTS identities (
	id TEXT PRIMARY KEY,
	revision BIGINT NOT NULL DEFAULT 1,
	fields JSONB NOT NULL DEFAULT '{}',
	groups TEXT[] NOT NULL DEFAULT '{}',
	created_by_replication BOOLEAN NOT NULL DEFAULT FALSE,
	staff BOOLEAN NOT NULL DEFAULT FALSE,
	active BOOLEAN NOT NULL DEFAULT TRUE,
	gateway_consumer_id TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	deactivated_at TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS devices (
	id TEXT PRIMARY KEY,
	identity_id TEXT NOT NULL REFERENCES identities (id) ON DELETE CASCADE,
	fingerprint TEXT NOT NULL,
	signing_secret BYTEA NOT NULL,
	key_id TEXT NOT NULL DEFAULT '',
	gateway_jwt_id TEXT NOT NULL DEFAULT '',
	active BOOLEAN NOT NULL DEFAULT TRUE,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

-- at most one active device per (identity, fingerprint); concurrent
-- get-or-create converges on this constraint, not on application locks
CREATE UNIQUE INDEX IF NOT EXISTS devices_identity_fingerprint_active_idx
	ON devices (identity_id, fingerprint) WHERE active;

CREATE TABLE IF NOT EXISTS passepartout_tickets (
	token TEXT PRIMARY KEY,
	device_id TEXT NOT NULL REFERENCES devices (id) ON DELETE CASCADE,
	session_token TEXT NOT NULL,
	hop_count INTEGER NOT NULL DEFAULT 0,
	active BOOLEAN NOT NULL DEFAULT TRUE,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

// Backend is a postgres storage backend.
type Backend struct {
	pool *pgxpool.Pool
}

// New creates a new postgres backend, applying the schema.
func New(ctx context.Context, dsn string) (*Backend, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: connect: %w", err)
	}
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: apply schema: %w", err)
	}
	return &Backend{pool: pool}, nil
}

// Close closes the backend.
func (b *Backend) Close() error {
	b.pool.Close()
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// GetIdentity retrieves an identity record by id.
func (b *Backend) GetIdentity(ctx context.Context, id string) (*identity.Record, error) {
	record := &identity.Record{}
	var deactivatedAt *time.Time
	err := b.pool.QueryRow(ctx, `
		SELECT id, revision, fields, groups, created_by_replication, staff,
		       active, gateway_consumer_id, created_at, deactivated_at
		FROM identities
		WHERE id = $1
	`, id).Scan(&record.ID, &record.Revision, &record.Fields, &record.Groups,
		&record.CreatedByReplication, &record.Staff, &record.Active,
		&record.GatewayConsumerID, &record.CreatedAt, &deactivatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, storage.ErrNotFound
	} else if err != nil {
		return nil, err
	}
	record.DeactivatedAt = deactivatedAt
	return record, nil
}

// CreateIdentity stores a new identity record.
func (b *Backend) CreateIdentity(ctx context.Context, record *identity.Record) error {
	_, err := b.pool.Exec(ctx, `
		INSERT INTO identities (id, revision, fields, groups, created_by_replication,
		                        staff, active, gateway_consumer_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, record.ID, record.Revision, record.Fields, record.Groups,
		record.CreatedByReplication, record.Staff, record.Active, record.GatewayConsumerID)
	if isUniqueViolation(err) {
		return storage.ErrAlreadyExists
	}
	return err
}

// UpdateIdentity overwrites an identity record as one full snapshot,
// including the revision, in a single statement.
func (b *Backend) UpdateIdentity(ctx context.Context, record *identity.Record) error {
	tag, err := b.pool.Exec(ctx, `
		UPDATE identities
		SET revision = $2,
		    fields = $3,
		    groups = $4,
		    created_by_replication = $5,
		    staff = $6,
		    active = $7,
		    gateway_consumer_id = $8,
		    deactivated_at = $9
		WHERE id = $1
	`, record.ID, record.Revision, record.Fields, record.Groups,
		record.CreatedByReplication, record.Staff, record.Active,
		record.GatewayConsumerID, record.DeactivatedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// CompareAndUpdateIdentity overwrites an identity record in one statement
// guarded by the revision the caller read, so a concurrent writer's update
// is never silently overwritten.
func (b *Backend) CompareAndUpdateIdentity(ctx context.Context, record *identity.Record, expectedRevision uint64) error {
	tag, err := b.pool.Exec(ctx, `
		UPDATE identities
		SET revision = $2,
		    fields = $3,
		    groups = $4,
		    created_by_replication = $5,
		    staff = $6,
		    active = $7,
		    gateway_consumer_id = $8,
		    deactivated_at = $9
		WHERE id = $1 AND revision = $10
	`, record.ID, record.Revision, record.Fields, record.Groups,
		record.CreatedByReplication, record.Staff, record.Active,
		record.GatewayConsumerID, record.DeactivatedAt, expectedRevision)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := b.pool.QueryRow(ctx, `
			SELECT EXISTS (SELECT 1 FROM identities WHERE id = $1)
		`, record.ID).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return storage.ErrNotFound
		}
		return storage.ErrRevisionConflict
	}
	return nil
}

// BumpRevision atomically increments an identity's revision.
func (b *Backend) BumpRevision(ctx context.Context, id string) (uint64, error) {
	var revision uint64
	err := b.pool.QueryRow(ctx, `
		UPDATE identities
		SET revision = revision + 1
		WHERE id = $1
		RETURNING revision
	`, id).Scan(&revision)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, storage.ErrNotFound
	}
	return revision, err
}

// GetDevice retrieves a device by id.
func (b *Backend) GetDevice(ctx context.Context, id string) (*identity.Device, error) {
	return b.scanDevice(b.pool.QueryRow(ctx, `
		SELECT id, identity_id, fingerprint, signing_secret, key_id,
		       gateway_jwt_id, active, created_at
		FROM devices
		WHERE id = $1
	`, id))
}

// FindDevice retrieves the active device for an (identity, fingerprint) pair.
func (b *Backend) FindDevice(ctx context.Context, identityID, fingerprint string) (*identity.Device, error) {
	return b.scanDevice(b.pool.QueryRow(ctx, `
		SELECT id, identity_id, fingerprint, signing_secret, key_id,
		       gateway_jwt_id, active, created_at
		FROM devices
		WHERE identity_id = $1 AND fingerprint = $2 AND active
	`, identityID, fingerprint))
}

func (b *Backend) scanDevice(row pgx.Row) (*identity.Device, error) {
	device := &identity.Device{}
	err := row.Scan(&device.ID, &device.IdentityID, &device.Fingerprint,
		&device.SigningSecret, &device.KeyID, &device.GatewayJWTID,
		&device.Active, &device.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, storage.ErrNotFound
	} else if err != nil {
		return nil, err
	}
	return device, nil
}

// CreateDevice stores a new device.
func (b *Backend) CreateDevice(ctx context.Context, device *identity.Device) error {
	_, err := b.pool.Exec(ctx, `
		INSERT INTO devices (id, identity_id, fingerprint, signing_secret,
		                     key_id, gateway_jwt_id, active)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, device.ID, device.IdentityID, device.Fingerprint, device.SigningSecret,
		device.KeyID, device.GatewayJWTID, device.Active)
	if isUniqueViolation(err) {
		return storage.ErrAlreadyExists
	}
	return err
}

// DeactivateDevice marks a device inactive.
func (b *Backend) DeactivateDevice(ctx context.Context, id string) error {
	tag, err := b.pool.Exec(ctx, `
		UPDATE devices SET active = FALSE WHERE id = $1
	`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// ListActiveDevices lists every active device of an identity.
func (b *Backend) ListActiveDevices(ctx context.Context, identityID string) ([]*identity.Device, error) {
	rows, err := b.pool.Query(ctx, `
		SELECT id, identity_id, fingerprint, signing_secret, key_id,
		       gateway_jwt_id, active, created_at
		FROM devices
		WHERE identity_id = $1 AND active
	`, identityID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var devices []*identity.Device
	for rows.Next() {
		device := &identity.Device{}
		err := rows.Scan(&device.ID, &device.IdentityID, &device.Fingerprint,
			&device.SigningSecret, &device.KeyID, &device.GatewayJWTID,
			&device.Active, &device.CreatedAt)
		if err != nil {
			return nil, err
		}
		devices = append(devices, device)
	}
	return devices, rows.Err()
}

// CreateTicket stores a new ticket.
func (b *Backend) CreateTicket(ctx context.Context, ticket *identity.Ticket) error {
	_, err := b.pool.Exec(ctx, `
		INSERT INTO passepartout_tickets (token, device_id, session_token, hop_count, active)
		VALUES ($1, $2, $3, $4, $5)
	`, ticket.Token, ticket.DeviceID, ticket.SessionToken, ticket.HopCount, ticket.Active)
	if isUniqueViolation(err) {
		return storage.ErrAlreadyExists
	}
	return err
}

// GetActiveTicket retrieves an active ticket by token.
func (b *Backend) GetActiveTicket(ctx context.Context, token string) (*identity.Ticket, error) {
	ticket := &identity.Ticket{}
	err := b.pool.QueryRow(ctx, `
		SELECT token, device_id, session_token, hop_count, active, created_at
		FROM passepartout_tickets
		WHERE token = $1 AND active
	`, token).Scan(&ticket.Token, &ticket.DeviceID, &ticket.SessionToken,
		&ticket.HopCount, &ticket.Active, &ticket.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, storage.ErrNotFound
	} else if err != nil {
		return nil, err
	}
	return ticket, nil
}

// ConsumeTicket atomically flips a ticket's active flag to false via
// compare-and-set.
func (b *Backend) ConsumeTicket(ctx context.Context, token string) (bool, error) {
	tag, err := b.pool.Exec(ctx, `
		UPDATE passepartout_tickets SET active = FALSE WHERE token = $1 AND active
	`, token)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}
