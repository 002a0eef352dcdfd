// Package users provides PostgreSQL-backed access to user profile
// snapshots, registered public keys and contact lists. The identity
// service owns registration; this is a read-mostly mirror.
package users

import (
	"context"
	"time"

	"github.com/hirewire/messaging/internal/server/models"
)

// Repository is the persistence surface for users and contacts.
type Repository interface {
	// GetByID fetches one user profile snapshot.
	GetByID(ctx context.Context, id string) (*models.User, error)

	// PublicKey returns the registered public key PEM for a user.
	// Returns common.ErrKeyNotFound when the user has no key.
	PublicKey(ctx context.Context, id string) (string, error)

	// Contacts lists the explicit contacts of a user.
	Contacts(ctx context.Context, userID string) ([]string, error)

	// UpdateLastSeen records presence on join/leave/disconnect.
	UpdateLastSeen(ctx context.Context, userID string, at time.Time) error
}
