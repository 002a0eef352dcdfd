// Package messages provides PostgreSQL-backed persistence for chat
// messages: dedup insert, guarded status transitions and the queries the
// chat-list aggregation is built from.
package messages

import (
	"context"

	"github.com/hirewire/messaging/internal/server/models"
	"github.com/hirewire/messaging/internal/status"
)

// Repository is the persistence surface for messages.
type Repository interface {
	// InsertOrGet persists a message, deduplicating on
	// (sender_id, client_message_id). The second return value reports
	// whether a new row was created; on a replay the existing row comes
	// back untouched.
	InsertOrGet(ctx context.Context, m *models.Message) (*models.Message, bool, error)

	// GetByID fetches one message.
	GetByID(ctx context.Context, id int64) (*models.Message, error)

	// UpdateStatus moves one message to the target status. The update is
	// guarded so it never regresses; the return value reports whether a
	// row actually changed.
	UpdateStatus(ctx context.Context, id int64, to status.Status) (bool, error)

	// UpdateStatusBatch moves every listed message addressed to
	// recipientID to the target status, skipping regressions. Returns the
	// affected IDs so receipts can be forwarded per sender.
	UpdateStatusBatch(ctx context.Context, ids []int64, to status.Status, recipientID string) ([]*models.Message, error)

	// Conversation returns one page of the conversation between two
	// users, newest first, and whether older messages remain.
	Conversation(ctx context.Context, userID, peerID string, limit, skip int) ([]*models.Message, bool, error)

	// UpdateContent replaces the content of a sender's own message.
	UpdateContent(ctx context.Context, id int64, senderID, content string) error

	// DeleteByID removes a sender's own message entirely.
	DeleteByID(ctx context.Context, id int64, senderID string) error

	// DistinctPeers lists every user that exchanged at least one message
	// with userID.
	DistinctPeers(ctx context.Context, userID string) ([]string, error)

	// LatestBetween returns the most recent message between the pair, or
	// nil when the pair has no history.
	LatestBetween(ctx context.Context, userID, peerID string) (*models.Message, error)

	// UnreadCount counts messages from peerID to userID not yet read.
	UnreadCount(ctx context.Context, userID, peerID string) (int, error)
}
