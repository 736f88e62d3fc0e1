package devices

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ssoline/ssoline/pkg/identity"
	"github.com/ssoline/ssoline/pkg/storage"
	"github.com/ssoline/ssoline/pkg/storage/inmemory"
)

type countingSource struct {
	issued  int
	revoked int
	err     error
}

func (s *countingSource) IssueCredential(context.Context, string) (*Credential, error) {
	if s.err != nil {
		return nil, s.err
	}
	s.issued++
	return &Credential{Secret: []byte("0123456789abcdef0123456789abcdef"), KeyID: "key-1"}, nil
}

func (s *countingSource) RevokeCredential(context.Context, string, string) error {
	s.revoked++
	return nil
}

func TestGetOrCreate(t *testing.T) {
	ctx := context.Background()
	source := &countingSource{}
	store := NewStore(inmemory.New(), source)

	device, err := store.GetOrCreate(ctx, "id-1", "fp-1")
	require.NoError(t, err)
	assert.Equal(t, "id-1", device.IdentityID)
	assert.Equal(t, "fp-1", device.Fingerprint)
	assert.Equal(t, "key-1", device.KeyID)
	assert.True(t, device.Active)
	assert.Equal(t, 1, source.issued)

	// the second call converges on the same device without a fresh secret
	again, err := store.GetOrCreate(ctx, "id-1", "fp-1")
	require.NoError(t, err)
	assert.Equal(t, device.ID, again.ID)
	assert.Equal(t, 1, source.issued)
}

func TestGetOrCreateIssuerDown(t *testing.T) {
	ctx := context.Background()
	store := NewStore(inmemory.New(), &countingSource{err: ErrCredentialIssuerUnavailable})

	_, err := store.GetOrCreate(ctx, "id-1", "fp-1")
	assert.ErrorIs(t, err, ErrCredentialIssuerUnavailable)
}

// raceStore loses every create to a concurrent winner.
type raceStore struct {
	*inmemory.Backend
}

func (s *raceStore) CreateDevice(ctx context.Context, device *identity.Device) error {
	winner := &identity.Device{
		ID:         "winner",
		IdentityID: device.IdentityID, Fingerprint: device.Fingerprint,
		SigningSecret: []byte("winner-secret"), Active: true,
	}
	if err := s.Backend.CreateDevice(ctx, winner); err != nil && !errors.Is(err, storage.ErrAlreadyExists) {
		return err
	}
	return storage.ErrAlreadyExists
}

func TestGetOrCreateLosesRace(t *testing.T) {
	ctx := context.Background()
	source := &countingSource{}
	store := NewStore(&raceStore{Backend: inmemory.New()}, source)

	device, err := store.GetOrCreate(ctx, "id-1", "fp-1")
	require.NoError(t, err)
	assert.Equal(t, "winner", device.ID, "loser must adopt the winner's device")
	assert.Equal(t, 1, source.revoked, "the orphaned credential is revoked")
}

func TestLookup(t *testing.T) {
	ctx := context.Background()
	backend := inmemory.New()
	store := NewStore(backend, &countingSource{})

	device, err := store.GetOrCreate(ctx, "id-1", "fp-1")
	require.NoError(t, err)

	got, err := store.Lookup(ctx, device.ID, "fp-1")
	require.NoError(t, err)
	assert.Equal(t, device.ID, got.ID)

	// fingerprint mismatch looks like a missing device
	_, err = store.Lookup(ctx, device.ID, "other-fp")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	// inactive devices never match
	require.NoError(t, backend.DeactivateDevice(ctx, device.ID))
	_, err = store.Lookup(ctx, device.ID, "fp-1")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestRevokeAll(t *testing.T) {
	ctx := context.Background()
	backend := inmemory.New()
	source := &countingSource{}
	store := NewStore(backend, source)

	d1, err := store.GetOrCreate(ctx, "id-1", "fp-1")
	require.NoError(t, err)
	d2, err := store.GetOrCreate(ctx, "id-1", "fp-2")
	require.NoError(t, err)
	other, err := store.GetOrCreate(ctx, "id-2", "fp-1")
	require.NoError(t, err)

	require.NoError(t, store.RevokeAll(ctx, "id-1"))

	for _, id := range []string{d1.ID, d2.ID} {
		_, err := store.Lookup(ctx, id, "fp-1")
		assert.ErrorIs(t, err, storage.ErrNotFound)
	}
	got, err := store.Lookup(ctx, other.ID, "fp-1")
	require.NoError(t, err)
	assert.True(t, got.Active)
}

func TestFingerprintNormalized(t *testing.T) {
	ctx := context.Background()
	store := NewStore(inmemory.New(), &countingSource{})

	long := "0123456789012345678901234567890123456789"
	device, err := store.GetOrCreate(ctx, "id-1", long)
	require.NoError(t, err)
	assert.Len(t, device.Fingerprint, identity.MaxFingerprintLength)
}
