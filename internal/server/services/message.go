package services

import (
	"context"
	"fmt"
	"time"

	"github.com/hirewire/messaging/internal/common"
	"github.com/hirewire/messaging/internal/logging"
	"github.com/hirewire/messaging/internal/protocol"
	"github.com/hirewire/messaging/internal/server/events"
	"github.com/hirewire/messaging/internal/server/models"
	"github.com/hirewire/messaging/internal/server/repositories/repomanager"
	"github.com/hirewire/messaging/internal/status"
)

// MessageService owns the persistence side of the message lifecycle:
// idempotent insert, guarded status transitions, edits and deletes.
// Relay and buffering stay in the transport layer.
type MessageService struct {
	repomanager repomanager.RepositoryManager
	publisher   events.Publisher
	logger      logging.Logger
}

func NewMessageService(rm repomanager.RepositoryManager, publisher events.Publisher, logger logging.Logger) *MessageService {
	return &MessageService{repomanager: rm, publisher: publisher, logger: logger}
}

// Persist validates and stores an inbound message event. Replays of a
// clientMessageId the sender already used return the stored row with
// created=false; the caller acks identically either way.
func (s *MessageService) Persist(ctx context.Context, ev *protocol.MessageEvent) (*models.Message, bool, error) {
	if err := protocol.ValidateMessageEvent(ev); err != nil {
		return nil, false, err
	}

	msg, created, err := s.repomanager.Messages().InsertOrGet(ctx, models.FromEvent(ev))
	if err != nil {
		return nil, false, fmt.Errorf("persist message: %w", err)
	}

	if created {
		s.publish(ctx, events.KeyMessageSent, msg)
	}

	return msg, created, nil
}

// ApplyStatus advances one message to next. Out-of-order or regressive
// receipts yield changed=false and no stored change. The updated message
// is returned so the caller can forward the receipt to the sender.
func (s *MessageService) ApplyStatus(ctx context.Context, messageID int64, next status.Status) (*models.Message, bool, error) {
	if !status.Valid(next) {
		return nil, false, fmt.Errorf("%w: unknown status %q", common.ErrValidation, next)
	}

	changed, err := s.repomanager.Messages().UpdateStatus(ctx, messageID, next)
	if err != nil {
		return nil, false, fmt.Errorf("update status: %w", err)
	}
	if !changed {
		return nil, false, nil
	}

	msg, err := s.repomanager.Messages().GetByID(ctx, messageID)
	if err != nil {
		return nil, false, fmt.Errorf("load updated message: %w", err)
	}

	s.publish(ctx, routingKeyFor(next), msg)

	return msg, true, nil
}

// ApplyStatusBatch advances many messages at once, typically a page of
// read receipts. Only messages addressed to recipientID that actually
// transitioned are returned.
func (s *MessageService) ApplyStatusBatch(ctx context.Context, messageIDs []int64, next status.Status, recipientID string) ([]*models.Message, error) {
	if !status.Valid(next) {
		return nil, fmt.Errorf("%w: unknown status %q", common.ErrValidation, next)
	}

	changed, err := s.repomanager.Messages().UpdateStatusBatch(ctx, messageIDs, next, recipientID)
	if err != nil {
		return nil, fmt.Errorf("batch update status: %w", err)
	}

	for _, msg := range changed {
		s.publish(ctx, routingKeyFor(next), msg)
	}

	return changed, nil
}

// Edit replaces the stored ciphertext of a message. Only the original
// sender may edit; anyone else gets ErrUnauthorized.
func (s *MessageService) Edit(ctx context.Context, senderID string, messageID int64, content string) (*models.Message, error) {
	if content == "" {
		return nil, fmt.Errorf("%w: empty content", common.ErrValidation)
	}

	msg, err := s.repomanager.Messages().GetByID(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if msg.SenderID != senderID {
		return nil, common.ErrUnauthorized
	}

	if err := s.repomanager.Messages().UpdateContent(ctx, messageID, senderID, content); err != nil {
		return nil, fmt.Errorf("update content: %w", err)
	}

	msg.Content = content
	return msg, nil
}

// Delete removes a message. Only the original sender may delete. The
// removed row is returned so the recipient can be notified.
func (s *MessageService) Delete(ctx context.Context, senderID string, messageID int64) (*models.Message, error) {
	msg, err := s.repomanager.Messages().GetByID(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if msg.SenderID != senderID {
		return nil, common.ErrUnauthorized
	}

	if err := s.repomanager.Messages().DeleteByID(ctx, messageID, senderID); err != nil {
		return nil, fmt.Errorf("delete message: %w", err)
	}

	s.publish(ctx, events.KeyMessageDeleted, msg)

	return msg, nil
}

// ConversationPage returns one page of history between two users,
// newest first, and whether older messages remain.
func (s *MessageService) ConversationPage(ctx context.Context, userID, peerID string, limit, skip int) ([]*models.Message, bool, error) {
	if limit <= 0 {
		limit = 50
	}
	if skip < 0 {
		skip = 0
	}
	return s.repomanager.Messages().Conversation(ctx, userID, peerID, limit, skip)
}

// publish emits a lifecycle event. Broker failures are logged, never
// surfaced: message delivery must not depend on the broker.
func (s *MessageService) publish(ctx context.Context, routingKey string, msg *models.Message) {
	ev := &events.LifecycleEvent{
		MessageID:   msg.ID,
		SenderID:    msg.SenderID,
		RecipientID: msg.RecipientID,
		Status:      string(msg.Status),
		OccurredAt:  time.Now().UnixMilli(),
	}
	if err := s.publisher.Publish(ctx, routingKey, ev); err != nil {
		s.logger.Warn(ctx, "lifecycle publish failed", "routing_key", routingKey, "message_id", msg.ID, "error", err)
	}
}

func routingKeyFor(next status.Status) string {
	switch next {
	case status.Read:
		return events.KeyMessageRead
	default:
		return events.KeyMessageDelivered
	}
}
