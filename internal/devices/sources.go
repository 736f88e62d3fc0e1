package devices

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/ssoline/ssoline/internal/gateway"
	"github.com/ssoline/ssoline/pkg/cryptutil"
)

// LocalSecretSource issues random signing secrets locally, with no external
// credential service involved.
type LocalSecretSource struct{}

// IssueCredential returns a fresh random secret.
func (LocalSecretSource) IssueCredential(_ context.Context, _ string) (*Credential, error) {
	return &Credential{
		Secret: cryptutil.NewSigningSecret(),
		KeyID:  uuid.NewString(),
	}, nil
}

// RevokeCredential is a no-op for local secrets.
func (LocalSecretSource) RevokeCredential(context.Context, string, string) error {
	return nil
}

// GatewaySecretSource issues signing secrets through the gateway's JWT
// credential API. The consumer custom id is the identity id.
type GatewaySecretSource struct {
	Client *gateway.Client
}

// IssueCredential ensures a gateway consumer exists for the identity and
// creates a JWT credential on it.
func (s *GatewaySecretSource) IssueCredential(ctx context.Context, identityID string) (*Credential, error) {
	consumer, err := s.Client.GetConsumerByCustomID(ctx, identityID)
	if errors.Is(err, gateway.ErrNotFound) {
		consumer, err = s.Client.CreateConsumer(ctx, identityID)
	}
	if err != nil {
		return nil, wrapIssuerErr(err)
	}

	credential, err := s.Client.CreateJWTCredential(ctx, consumer.ID)
	if err != nil {
		return nil, wrapIssuerErr(err)
	}
	return &Credential{
		Secret:     []byte(credential.Secret),
		KeyID:      credential.Key,
		ExternalID: credential.ID,
	}, nil
}

// RevokeCredential deletes the gateway-side JWT credential. Not-found is
// already-revoked.
func (s *GatewaySecretSource) RevokeCredential(ctx context.Context, identityID, externalID string) error {
	if externalID == "" {
		return nil
	}
	consumer, err := s.Client.GetConsumerByCustomID(ctx, identityID)
	if errors.Is(err, gateway.ErrNotFound) {
		return nil
	} else if err != nil {
		return err
	}
	return s.Client.DeleteJWTCredential(ctx, consumer.ID, externalID)
}

func wrapIssuerErr(err error) error {
	if errors.Is(err, gateway.ErrUnavailable) {
		return fmt.Errorf("%w: %w", ErrCredentialIssuerUnavailable, err)
	}
	return err
}
