// Package gateway talks to the API gateway: its admin API for consumer and
// credential management, and the trusted identity headers it injects on
// inbound requests when gateway mode is enabled.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/ssoline/ssoline/internal/httputil"
	"github.com/ssoline/ssoline/internal/log"
	"github.com/ssoline/ssoline/internal/urlutil"
)

// Client errors.
var (
	// ErrUnavailable is returned when the gateway admin API cannot be
	// reached or answers with a server error.
	ErrUnavailable = errors.New("gateway: admin api unavailable")
	// ErrNotFound is returned for consumers and credentials that do not exist.
	ErrNotFound = errors.New("gateway: not found")
)

// A Consumer is a gateway consumer. CustomID carries the identity id.
type Consumer struct {
	ID       string `json:"id"`
	CustomID string `json:"custom_id"`
}

// A JWTCredential is gateway-held JWT key material for one consumer. Key is
// embedded in tokens as the issuer key id; Secret signs them.
type JWTCredential struct {
	ID     string `json:"id"`
	Key    string `json:"key"`
	Secret string `json:"secret"`
}

// A Client talks to the gateway admin API.
type Client struct {
	baseURL *url.URL
	http    *http.Client
}

// New creates a new gateway admin client.
func New(adminURL string, timeout time.Duration) (*Client, error) {
	u, err := urlutil.ParseAndValidateURL(adminURL)
	if err != nil {
		return nil, fmt.Errorf("gateway: invalid admin url: %w", err)
	}
	return &Client{
		baseURL: u,
		http:    httputil.NewLoggingClient(timeout),
	}, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, dst any) (int, error) {
	var reqBody io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return 0, err
		}
		reqBody = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, urlutil.Join(c.baseURL.String(), path), reqBody)
	if err != nil {
		return 0, err
	}
	if reqBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	res, err := c.http.Do(req)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	defer res.Body.Close()

	if res.StatusCode >= 500 {
		return res.StatusCode, fmt.Errorf("%w: status %d", ErrUnavailable, res.StatusCode)
	}
	if dst != nil && res.StatusCode/100 == 2 {
		if err := json.NewDecoder(res.Body).Decode(dst); err != nil {
			return res.StatusCode, fmt.Errorf("gateway: decode response: %w", err)
		}
	}
	return res.StatusCode, nil
}

// CreateConsumer creates a gateway consumer with the given custom id. A 409
// is treated as already-present and resolved with a lookup.
func (c *Client) CreateConsumer(ctx context.Context, customID string) (*Consumer, error) {
	var consumer Consumer
	status, err := c.do(ctx, http.MethodPost, "/consumers/", map[string]string{"custom_id": customID}, &consumer)
	if err != nil {
		return nil, err
	}
	if status == http.StatusConflict {
		return c.GetConsumerByCustomID(ctx, customID)
	}
	if status/100 != 2 {
		return nil, fmt.Errorf("gateway: create consumer: status %d", status)
	}
	log.Info(ctx).Str("custom-id", customID).Str("consumer-id", consumer.ID).
		Msg("gateway: consumer created")
	return &consumer, nil
}

// GetConsumer retrieves a consumer by gateway id.
func (c *Client) GetConsumer(ctx context.Context, consumerID string) (*Consumer, error) {
	var consumer Consumer
	status, err := c.do(ctx, http.MethodGet, "/consumers/"+consumerID, nil, &consumer)
	if err != nil {
		return nil, err
	}
	if status == http.StatusNotFound {
		return nil, ErrNotFound
	}
	if status/100 != 2 {
		return nil, fmt.Errorf("gateway: get consumer: status %d", status)
	}
	return &consumer, nil
}

// GetConsumerByCustomID retrieves a consumer by custom id.
func (c *Client) GetConsumerByCustomID(ctx context.Context, customID string) (*Consumer, error) {
	var listing struct {
		Data []Consumer `json:"data"`
	}
	status, err := c.do(ctx, http.MethodGet, "/consumers/?custom_id="+url.QueryEscape(customID), nil, &listing)
	if err != nil {
		return nil, err
	}
	if status/100 != 2 {
		return nil, fmt.Errorf("gateway: get consumer by custom id: status %d", status)
	}
	if len(listing.Data) == 0 {
		return nil, ErrNotFound
	}
	return &listing.Data[0], nil
}

// DeleteConsumer deletes a consumer. A 404 is treated as already-absent.
func (c *Client) DeleteConsumer(ctx context.Context, consumerID string) error {
	status, err := c.do(ctx, http.MethodDelete, "/consumers/"+consumerID, nil, nil)
	if err != nil {
		return err
	}
	if status == http.StatusNotFound || status/100 == 2 {
		return nil
	}
	return fmt.Errorf("gateway: delete consumer: status %d", status)
}

// CreateJWTCredential creates a new JWT credential for a consumer.
func (c *Client) CreateJWTCredential(ctx context.Context, consumerID string) (*JWTCredential, error) {
	var credential JWTCredential
	status, err := c.do(ctx, http.MethodPost, "/consumers/"+consumerID+"/jwt/", map[string]string{}, &credential)
	if err != nil {
		return nil, err
	}
	if status/100 != 2 {
		return nil, fmt.Errorf("gateway: create jwt credential: status %d", status)
	}
	return &credential, nil
}

// DeleteJWTCredential deletes a consumer's JWT credential. A 404 is treated
// as already-absent.
func (c *Client) DeleteJWTCredential(ctx context.Context, consumerID, jwtID string) error {
	status, err := c.do(ctx, http.MethodDelete, "/consumers/"+consumerID+"/jwt/"+jwtID, nil, nil)
	if err != nil {
		return err
	}
	if status == http.StatusNotFound || status/100 == 2 {
		return nil
	}
	return fmt.Errorf("gateway: delete jwt credential: status %d", status)
}

// AddACL adds a consumer to a gateway ACL group. A 409 is treated as
// already-present.
func (c *Client) AddACL(ctx context.Context, consumerID, group string) error {
	status, err := c.do(ctx, http.MethodPost, "/consumers/"+consumerID+"/acls/", map[string]string{"group": group}, nil)
	if err != nil {
		return err
	}
	if status == http.StatusConflict || status/100 == 2 {
		return nil
	}
	return fmt.Errorf("gateway: add acl: status %d", status)
}

// RemoveACL removes a consumer from a gateway ACL group. A 404 is treated as
// already-absent.
func (c *Client) RemoveACL(ctx context.Context, consumerID, group string) error {
	status, err := c.do(ctx, http.MethodDelete, "/consumers/"+consumerID+"/acls/"+url.PathEscape(group), nil, nil)
	if err != nil {
		return err
	}
	if status == http.StatusNotFound || status/100 == 2 {
		return nil
	}
	return fmt.Errorf("gateway: remove acl: status %d", status)
}
