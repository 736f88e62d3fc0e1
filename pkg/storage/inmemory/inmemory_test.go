package inmemory

import (
	"context"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ssoline/ssoline/pkg/identity"
	"github.com/ssoline/ssoline/pkg/storage"
)

func TestIdentityLifecycle(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	b := New()

	_, err := b.GetIdentity(ctx, "missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	record := identity.NewRecord()
	record.Fields["email"] = "jane@example.com"
	require.NoError(t, b.CreateIdentity(ctx, record))
	assert.ErrorIs(t, b.CreateIdentity(ctx, record), storage.ErrAlreadyExists)

	got, err := b.GetIdentity(ctx, record.ID)
	require.NoError(t, err)
	assert.Equal(t, "jane@example.com", got.Fields["email"])
	assert.EqualValues(t, 1, got.Revision)

	// stored copies are isolated from later caller mutation
	got.Fields["email"] = "changed@example.com"
	again, err := b.GetIdentity(ctx, record.ID)
	require.NoError(t, err)
	assert.Equal(t, "jane@example.com", again.Fields["email"])

	record.Fields["username"] = "jane"
	record.Revision = 2
	require.NoError(t, b.UpdateIdentity(ctx, record))
	got, err = b.GetIdentity(ctx, record.ID)
	require.NoError(t, err)
	assert.Empty(t, cmp.Diff(record.Fields, got.Fields))
	assert.EqualValues(t, 2, got.Revision)
}

func TestCompareAndUpdateIdentity(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	b := New()

	record := identity.NewRecord()
	require.NoError(t, b.CreateIdentity(ctx, record))

	record.Fields["email"] = "jane@example.com"
	record.Revision = 2
	require.NoError(t, b.CompareAndUpdateIdentity(ctx, record, 1))

	// stale expectation loses
	record.Fields["email"] = "stale@example.com"
	record.Revision = 2
	assert.ErrorIs(t, b.CompareAndUpdateIdentity(ctx, record, 1), storage.ErrRevisionConflict)

	got, err := b.GetIdentity(ctx, record.ID)
	require.NoError(t, err)
	assert.Equal(t, "jane@example.com", got.Fields["email"])
	assert.EqualValues(t, 2, got.Revision)

	missing := identity.NewRecord()
	assert.ErrorIs(t, b.CompareAndUpdateIdentity(ctx, missing, 1), storage.ErrNotFound)
}

func TestBumpRevision(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	b := New()

	record := identity.NewRecord()
	require.NoError(t, b.CreateIdentity(ctx, record))

	rev, err := b.BumpRevision(ctx, record.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 2, rev)

	_, err = b.BumpRevision(ctx, "missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestCreateDeviceUniqueActivePair(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	b := New()

	first := &identity.Device{ID: "dev-1", IdentityID: "id-1", Fingerprint: "fp-1", Active: true}
	require.NoError(t, b.CreateDevice(ctx, first))

	dup := &identity.Device{ID: "dev-2", IdentityID: "id-1", Fingerprint: "fp-1", Active: true}
	assert.ErrorIs(t, b.CreateDevice(ctx, dup), storage.ErrAlreadyExists)

	// a different fingerprint for the same identity is fine
	other := &identity.Device{ID: "dev-3", IdentityID: "id-1", Fingerprint: "fp-2", Active: true}
	assert.NoError(t, b.CreateDevice(ctx, other))

	// deactivating frees the pair for a replacement device
	require.NoError(t, b.DeactivateDevice(ctx, "dev-1"))
	replacement := &identity.Device{ID: "dev-4", IdentityID: "id-1", Fingerprint: "fp-1", Active: true}
	assert.NoError(t, b.CreateDevice(ctx, replacement))
}

func TestCreateDeviceConcurrent(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	b := New()

	const attempts = 16
	var wg sync.WaitGroup
	errs := make([]error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = b.CreateDevice(ctx, &identity.Device{
				ID:         "dev-" + string(rune('a'+i)),
				IdentityID: "id-1", Fingerprint: "fp-1", Active: true,
			})
		}(i)
	}
	wg.Wait()

	created := 0
	for _, err := range errs {
		if err == nil {
			created++
		} else {
			assert.ErrorIs(t, err, storage.ErrAlreadyExists)
		}
	}
	assert.Equal(t, 1, created, "exactly one concurrent create must win")
}

func TestTicketConsumeOnce(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	b := New()

	ticket := &identity.Ticket{Token: "tok-1", DeviceID: "dev-1", SessionToken: "raw", HopCount: 2, Active: true}
	require.NoError(t, b.CreateTicket(ctx, ticket))

	got, err := b.GetActiveTicket(ctx, "tok-1")
	require.NoError(t, err)
	assert.Equal(t, 2, got.HopCount)

	consumed, err := b.ConsumeTicket(ctx, "tok-1")
	require.NoError(t, err)
	assert.True(t, consumed)

	consumed, err = b.ConsumeTicket(ctx, "tok-1")
	require.NoError(t, err)
	assert.False(t, consumed)

	// consumed and never-issued tokens are indistinguishable
	_, errConsumed := b.GetActiveTicket(ctx, "tok-1")
	_, errUnknown := b.GetActiveTicket(ctx, "never-issued")
	assert.ErrorIs(t, errConsumed, storage.ErrNotFound)
	assert.ErrorIs(t, errUnknown, storage.ErrNotFound)
}

func TestConsumeTicketConcurrent(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	b := New()

	require.NoError(t, b.CreateTicket(ctx, &identity.Ticket{Token: "tok-1", Active: true}))

	const attempts = 16
	var wg sync.WaitGroup
	wins := make([]bool, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			wins[i], _ = b.ConsumeTicket(ctx, "tok-1")
		}(i)
	}
	wg.Wait()

	total := 0
	for _, won := range wins {
		if won {
			total++
		}
	}
	assert.Equal(t, 1, total, "exactly one concurrent consume must win")
}
