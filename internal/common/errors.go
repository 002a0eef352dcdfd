// Package common defines shared constants and sentinel errors used across
// client and server layers of the messaging core. Callers should use
// errors.Is to match these values.
package common

import "errors"

var (
	// Repository-level errors.
	ErrNotFound  = errors.New("not found")
	ErrDuplicate = errors.New("duplicate message")

	// Envelope / input errors. Rejected immediately, never retried.
	ErrValidation = errors.New("validation error")

	// Auth errors. An identity mismatch is session-fatal.
	ErrUnauthorized = errors.New("unauthorized")
	ErrInvalidToken = errors.New("invalid token")

	// Crypto errors (malformed key, corrupt ciphertext). Not retried.
	ErrCrypto = errors.New("crypto error")

	// ErrKeyNotFound means the peer has no registered public key; text
	// messages must not be sent to such a peer.
	ErrKeyNotFound = errors.New("no public key registered")

	// Transient transport errors, retried by the outbox.
	ErrAckTimeout       = errors.New("ack timeout")
	ErrConnectionClosed = errors.New("connection closed")
)
