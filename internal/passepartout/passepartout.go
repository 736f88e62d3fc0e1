// Package passepartout implements one-time login tickets that carry a fresh
// session across the configured chain of cooperating instances. A ticket is
// minted at login, walked through every chain member so each can set its own
// session cookie, and consumed exactly once at the terminal hop.
package passepartout

import (
	"context"
	"errors"
	"fmt"
	"net/url"

	"github.com/ssoline/ssoline/internal/urlutil"
	"github.com/ssoline/ssoline/pkg/cryptutil"
	"github.com/ssoline/ssoline/pkg/identity"
	"github.com/ssoline/ssoline/pkg/storage"
)

// maxTokenAttempts bounds retries on ticket token collisions.
const maxTokenAttempts = 3

// LoginPathPrefix is the path prefix of the ticket login endpoint on every
// chain member.
const LoginPathPrefix = "/passepartout/login/"

// A Manager mints and walks login tickets over a configured chain. The
// instance's own position in the chain comes from configuration, never from
// request headers.
type Manager struct {
	store    storage.TicketStore
	chain    []*url.URL
	position int
}

// NewManager creates a ticket manager for an instance at the given
// configured chain position.
func NewManager(store storage.TicketStore, chain []*url.URL, position int) (*Manager, error) {
	if len(chain) > 0 && (position < 0 || position >= len(chain)) {
		return nil, fmt.Errorf("passepartout: position %d outside chain of %d", position, len(chain))
	}
	return &Manager{store: store, chain: chain, position: position}, nil
}

// HopCount returns the number of hops a freshly minted ticket must make:
// the chain length minus one.
func (m *Manager) HopCount() int {
	if len(m.chain) == 0 {
		return 0
	}
	return len(m.chain) - 1
}

// Terminal reports whether this instance is the ticket's last hop.
func (m *Manager) Terminal(ticket *identity.Ticket) bool {
	return m.position >= ticket.HopCount
}

// Initiate mints a one-time ticket binding the device's fresh session token.
// Token collisions retry with a new token.
func (m *Manager) Initiate(ctx context.Context, deviceID, sessionToken string) (*identity.Ticket, error) {
	var lastErr error
	for i := 0; i < maxTokenAttempts; i++ {
		ticket := &identity.Ticket{
			Token:        cryptutil.NewTicketToken(),
			DeviceID:     deviceID,
			SessionToken: sessionToken,
			HopCount:     m.HopCount(),
			Active:       true,
		}
		err := m.store.CreateTicket(ctx, ticket)
		if err == nil {
			return ticket, nil
		}
		if !errors.Is(err, storage.ErrAlreadyExists) {
			return nil, err
		}
		lastErr = err
	}
	return nil, fmt.Errorf("passepartout: ticket token collisions exhausted retries: %w", lastErr)
}

// Lookup returns the active ticket for a token. Consumed and never-issued
// tokens are indistinguishable: both come back storage.ErrNotFound.
func (m *Manager) Lookup(ctx context.Context, token string) (*identity.Ticket, error) {
	return m.store.GetActiveTicket(ctx, token)
}

// Consume atomically retires the ticket. Exactly one caller observes true;
// concurrent duplicates lose the compare-and-swap and observe false.
func (m *Manager) Consume(ctx context.Context, token string) (bool, error) {
	return m.store.ConsumeTicket(ctx, token)
}

// StartURL builds the login URL on the chain's next hop after this
// instance, or "" when this instance is already the last chain member.
func (m *Manager) StartURL(ticket *identity.Ticket, next string) string {
	return m.hopURL(m.position+1, ticket, next)
}

// NextHopURL builds the login URL for the hop after this one during a walk.
func (m *Manager) NextHopURL(ticket *identity.Ticket, next string) string {
	return m.hopURL(m.position+1, ticket, next)
}

func (m *Manager) hopURL(position int, ticket *identity.Ticket, next string) string {
	if position < 0 || position >= len(m.chain) {
		return ""
	}
	u, err := url.Parse(urlutil.Join(m.chain[position].String(), LoginPathPrefix, ticket.Token, "/"))
	if err != nil {
		return ""
	}
	if next != "" {
		q := u.Query()
		q.Set("next", next)
		u.RawQuery = q.Encode()
	}
	return u.String()
}
