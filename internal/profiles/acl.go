package profiles

import (
	"context"
	"errors"

	"github.com/ssoline/ssoline/internal/gateway"
	"github.com/ssoline/ssoline/pkg/identity"
)

// GatewayGroupSyncer mirrors group membership changes into gateway ACL
// groups. The consumer custom id is the identity id; identities without a
// gateway consumer are skipped.
type GatewayGroupSyncer struct {
	Client *gateway.Client
}

// GroupAdded implements GroupSyncer.
func (s *GatewayGroupSyncer) GroupAdded(ctx context.Context, record *identity.Record, group string) error {
	consumer, err := s.Client.GetConsumerByCustomID(ctx, record.ID)
	if errors.Is(err, gateway.ErrNotFound) {
		return nil
	} else if err != nil {
		return err
	}
	return s.Client.AddACL(ctx, consumer.ID, group)
}

// GroupRemoved implements GroupSyncer.
func (s *GatewayGroupSyncer) GroupRemoved(ctx context.Context, record *identity.Record, group string) error {
	consumer, err := s.Client.GetConsumerByCustomID(ctx, record.ID)
	if errors.Is(err, gateway.ErrNotFound) {
		return nil
	} else if err != nil {
		return err
	}
	return s.Client.RemoveACL(ctx, consumer.ID, group)
}
