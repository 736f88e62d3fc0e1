// Package jws encodes and verifies the signed session tokens exchanged
// between instances, as specified by rfc7515.
//
// Verification is two-phase because the signing secret is per device, not
// global: a token is first peeked at without verification to learn which
// device's secret to fetch, then re-parsed and validated with that secret.
// PeekedClaims exists so the unverified result cannot be confused with a
// verified State: it carries only the fields needed for secret lookup.
package jws

import (
	"errors"
	"fmt"

	"github.com/go-jose/go-jose/v3"
	"github.com/go-jose/go-jose/v3/jwt"
)

// Codec errors.
var (
	// ErrMalformedToken is returned when a token fails structural parsing.
	ErrMalformedToken = errors.New("jws: malformed token")
	// ErrSignature is returned when signature verification fails.
	ErrSignature = errors.New("jws: signature verification failed")
	// ErrUnsupportedAlgorithm is returned when a token's signing algorithm is
	// not in the configured allow-list.
	ErrUnsupportedAlgorithm = errors.New("jws: unsupported signing algorithm")
)

// PeekedClaims are the structurally-parsed, UNVERIFIED claims of a session
// token. They must only ever be used to look up the signing secret for the
// embedded device; never for authorization decisions.
type PeekedClaims struct {
	DeviceID    string `json:"id"`
	Fingerprint string `json:"fp"`
	KeyID       string `json:"iss"`
}

// A Codec signs and verifies session tokens against an algorithm allow-list.
type Codec struct {
	allowed map[jose.SignatureAlgorithm]struct{}
}

// DefaultAlgorithms are the signing algorithms accepted when none are
// configured explicitly.
var DefaultAlgorithms = []jose.SignatureAlgorithm{jose.HS256, jose.RS256}

// New returns a Codec restricted to the given signing algorithms.
func New(algorithms ...jose.SignatureAlgorithm) *Codec {
	if len(algorithms) == 0 {
		algorithms = DefaultAlgorithms
	}
	c := &Codec{allowed: make(map[jose.SignatureAlgorithm]struct{}, len(algorithms))}
	for _, alg := range algorithms {
		c.allowed[alg] = struct{}{}
	}
	return c
}

// Encode serializes and signs claims with the given secret. No side effects.
func (c *Codec) Encode(claims any, secret []byte, algorithm jose.SignatureAlgorithm) (string, error) {
	if _, ok := c.allowed[algorithm]; !ok {
		return "", fmt.Errorf("%w: %s", ErrUnsupportedAlgorithm, algorithm)
	}
	sig, err := jose.NewSigner(jose.SigningKey{Algorithm: algorithm, Key: secret},
		(&jose.SignerOptions{}).WithType("JWT"))
	if err != nil {
		return "", err
	}
	return jwt.Signed(sig).Claims(claims).CompactSerialize()
}

// Peek structurally parses a token WITHOUT verifying its signature and
// returns the claims needed to resolve the signing secret.
func Peek(rawToken string) (*PeekedClaims, error) {
	tok, err := jwt.ParseSigned(rawToken)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedToken, err)
	}
	var claims PeekedClaims
	if err := tok.UnsafeClaimsWithoutVerification(&claims); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedToken, err)
	}
	return &claims, nil
}

// Verify re-parses a token, checks its signing algorithm against the
// allow-list and validates the signature with the resolved secret,
// unmarshaling the verified claims into dst.
func (c *Codec) Verify(rawToken string, secret []byte, dst any) error {
	tok, err := jwt.ParseSigned(rawToken)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrMalformedToken, err)
	}
	for _, hdr := range tok.Headers {
		if _, ok := c.allowed[jose.SignatureAlgorithm(hdr.Algorithm)]; !ok {
			return fmt.Errorf("%w: %s", ErrUnsupportedAlgorithm, hdr.Algorithm)
		}
	}
	if err := tok.Claims(secret, dst); err != nil {
		return fmt.Errorf("%w: %w", ErrSignature, err)
	}
	return nil
}
