// Package credstore persists the bearer token across launches.
//
// The store holds at most one token. An empty string is equivalent to
// absence and is never written.
package credstore

import (
	"context"
	"errors"
)

// ErrUnavailable is returned when the underlying store cannot be read
// or written. Callers treat a failed read as "no stored token" and a
// failed write as fatal to the current sign-in hand-off.
var ErrUnavailable = errors.New("credential store unavailable")

// ErrEmptyToken is returned by Save when given an empty token.
var ErrEmptyToken = errors.New("refusing to store empty token")

// Store is the credential store contract. Implementations must make
// Save durable before returning, and must scope the stored value so
// other processes on the host cannot read it.
type Store interface {
	// Load returns the stored token, or "" if absent.
	Load(ctx context.Context) (string, error)

	// Save overwrites any prior token. Empty tokens are rejected.
	Save(ctx context.Context, token string) error

	// Clear removes the stored token. Clearing an empty store is not
	// an error.
	Clear(ctx context.Context) error
}

// credentialRecord is the persisted layout: one entry under a
// process-private namespace.
type credentialRecord struct {
	AuthToken string `json:"auth_token"`
}
