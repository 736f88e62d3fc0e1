// Package devices manages per-device signing credentials. A device is one
// authenticated client context bound to one signing secret; secrets come
// either from the local source or from the gateway's credential API.
package devices

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"

	"github.com/ssoline/ssoline/internal/log"
	"github.com/ssoline/ssoline/pkg/identity"
	"github.com/ssoline/ssoline/pkg/storage"
)

// ErrCredentialIssuerUnavailable is returned when the external
// credential-issuing service cannot be reached. Callers must surface this as
// a 5xx-class failure, never degrade to an unsigned session.
var ErrCredentialIssuerUnavailable = errors.New("devices: credential issuer unavailable")

// A Credential is freshly issued signing key material for one device.
type Credential struct {
	Secret []byte
	// KeyID is embedded in tokens as the issuer key id.
	KeyID string
	// ExternalID references the external service's copy of the key
	// material, empty for locally issued secrets.
	ExternalID string
}

// A SecretSource issues and revokes signing secrets.
type SecretSource interface {
	IssueCredential(ctx context.Context, identityID string) (*Credential, error)
	RevokeCredential(ctx context.Context, identityID, externalID string) error
}

// Store creates, looks up and revokes device credentials.
type Store struct {
	backend storage.DeviceStore
	source  SecretSource
}

// NewStore creates a new device credential store.
func NewStore(backend storage.DeviceStore, source SecretSource) *Store {
	return &Store{backend: backend, source: source}
}

// GetOrCreate returns the existing active device for the (identity,
// fingerprint) pair, creating one with a fresh secret if absent. Concurrent
// identical calls converge on the storage uniqueness constraint: a
// duplicate-key race retries the lookup instead of erroring.
func (s *Store) GetOrCreate(ctx context.Context, identityID, fingerprint string) (*identity.Device, error) {
	fingerprint = identity.NormalizeFingerprint(fingerprint)

	device, err := s.backend.FindDevice(ctx, identityID, fingerprint)
	if err == nil {
		return device, nil
	} else if !errors.Is(err, storage.ErrNotFound) {
		return nil, err
	}

	credential, err := s.source.IssueCredential(ctx, identityID)
	if err != nil {
		return nil, err
	}

	device = &identity.Device{
		ID:            uuid.NewString(),
		IdentityID:    identityID,
		Fingerprint:   fingerprint,
		SigningSecret: credential.Secret,
		KeyID:         credential.KeyID,
		GatewayJWTID:  credential.ExternalID,
		Active:        true,
	}
	err = s.backend.CreateDevice(ctx, device)
	if errors.Is(err, storage.ErrAlreadyExists) {
		// lost the race; the winner's credential is the one to use
		log.Debug(ctx).Str("identity-id", identityID).Str("fingerprint", fingerprint).
			Msg("devices: create raced, retrying lookup")
		if revokeErr := s.source.RevokeCredential(ctx, identityID, credential.ExternalID); revokeErr != nil {
			log.Warn(ctx).Err(revokeErr).Msg("devices: failed to revoke orphaned credential")
		}
		return s.backend.FindDevice(ctx, identityID, fingerprint)
	} else if err != nil {
		return nil, err
	}

	log.Info(ctx).Str("device-id", device.ID).Str("identity-id", identityID).
		Str("fingerprint", fingerprint).Msg("devices: created")
	return device, nil
}

// Lookup returns the device for a token's embedded (device id, fingerprint)
// pair. A token that names no stored device indicates credential data loss
// and must not be trusted: there is no silent re-mint here.
func (s *Store) Lookup(ctx context.Context, deviceID, fingerprint string) (*identity.Device, error) {
	device, err := s.backend.GetDevice(ctx, deviceID)
	if err != nil {
		return nil, err
	}
	if !device.Active || device.Fingerprint != fingerprint {
		return nil, storage.ErrNotFound
	}
	return device, nil
}

// Revoke deactivates a device. Deleting the external key material is
// best-effort: failures from the external service are logged and ignored,
// with not-found treated as already-revoked.
func (s *Store) Revoke(ctx context.Context, deviceID string) error {
	device, err := s.backend.GetDevice(ctx, deviceID)
	if err != nil {
		return err
	}
	if err := s.backend.DeactivateDevice(ctx, deviceID); err != nil {
		return err
	}
	if err := s.source.RevokeCredential(ctx, device.IdentityID, device.GatewayJWTID); err != nil {
		log.Warn(ctx).Err(err).Str("device-id", deviceID).
			Msg("devices: external credential delete failed")
	}
	log.Info(ctx).Str("device-id", deviceID).Msg("devices: revoked")
	return nil
}

// RevokeAll revokes every active device of an identity. Used on logout-all
// and on security-sensitive revision bumps, which must force re-issuance.
func (s *Store) RevokeAll(ctx context.Context, identityID string) error {
	deviceList, err := s.backend.ListActiveDevices(ctx, identityID)
	if err != nil {
		return err
	}
	var result *multierror.Error
	for _, device := range deviceList {
		if err := s.Revoke(ctx, device.ID); err != nil {
			result = multierror.Append(result, fmt.Errorf("device %s: %w", device.ID, err))
		}
	}
	return result.ErrorOrNil()
}
