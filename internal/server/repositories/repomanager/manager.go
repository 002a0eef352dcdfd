// Package repomanager wires the PostgreSQL connection to the individual
// repositories and owns schema migrations.
package repomanager

import (
	"context"

	"github.com/hirewire/messaging/internal/server/repositories/messages"
	"github.com/hirewire/messaging/internal/server/repositories/users"
)

// RepositoryManager hands out repositories bound to one database.
type RepositoryManager interface {
	Messages() messages.Repository
	Users() users.Repository
	RunMigrations(ctx context.Context) error
	Close() error
}
