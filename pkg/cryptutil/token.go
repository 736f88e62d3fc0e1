// Package cryptutil provides random tokens and signing secrets.
package cryptutil

import (
	"crypto/rand"
	"math/big"
)

// TicketTokenLength is the length of a passepartout ticket token.
const TicketTokenLength = 36

// ticketAlphabet is alphanumeric with visually ambiguous characters
// (I, l, 1, 0, O) removed, so tokens survive manual transcription.
const ticketAlphabet = "23456789ABCDEFGHJKLMNPQRSTUVWXYZabcdefghijkmnopqrstuvwxyz"

// NewTicketToken returns a new unguessable ticket token drawn from the
// ambiguity-excluded alphabet.
func NewTicketToken() string {
	return RandomString(TicketTokenLength)
}

// RandomString returns a random string of length n drawn from the
// ambiguity-excluded alphabet.
func RandomString(n int) string {
	max := big.NewInt(int64(len(ticketAlphabet)))
	b := make([]byte, n)
	for i := range b {
		idx, err := rand.Int(rand.Reader, max)
		if err != nil {
			panic(err) // crypto/rand failure is not recoverable
		}
		b[i] = ticketAlphabet[idx.Int64()]
	}
	return string(b)
}

// NewSigningSecret returns a new random 32-byte signing secret.
func NewSigningSecret() []byte {
	return randomBytes(32)
}

func randomBytes(n int) []byte {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		panic(err)
	}
	return b
}
