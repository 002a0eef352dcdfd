// Package outbox implements optimistic sending: every outgoing message
// is written locally as pending and enqueued durably before transmission,
// so a crash or disconnect never loses a send. Replays reuse the same
// clientMessageId and the server deduplicates.
package outbox

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"

	"github.com/hirewire/messaging/internal/client/store"
	"github.com/hirewire/messaging/internal/common"
	"github.com/hirewire/messaging/internal/cryptox"
	"github.com/hirewire/messaging/internal/logging"
	"github.com/hirewire/messaging/internal/protocol"
	"github.com/hirewire/messaging/internal/status"
)

const (
	// maxAttempts bounds transmissions per message before it fails.
	maxAttempts = 5
	// retryBase is the first backoff delay; it doubles per attempt.
	retryBase = 500 * time.Millisecond
	// retryCap bounds a single backoff delay.
	retryCap = 30 * time.Second
)

// Sender transmits an encoded message event and waits for the ack.
type Sender interface {
	SendMessage(ctx context.Context, clientMessageID string, payload []byte) (*protocol.AckEvent, error)
}

// KeyResolver looks up recipient public keys.
type KeyResolver interface {
	PublicKey(ctx context.Context, userID string) ([]byte, error)
}

// Manager owns the outgoing half of the message lifecycle.
type Manager struct {
	store  *store.Store
	keys   KeyResolver
	sender Sender
	selfID string
	logger logging.Logger
}

func NewManager(s *store.Store, keys KeyResolver, sender Sender, selfID string, logger logging.Logger) *Manager {
	return &Manager{store: s, keys: keys, sender: sender, selfID: selfID, logger: logger}
}

// Draft describes one message to send.
type Draft struct {
	RecipientID      string
	ContentType      string
	Content          string
	Caption          string
	ReplyTo          *int64
	OriginalFilename string
}

// Send encrypts the draft, persists it as pending, enqueues it and kicks
// off transmission in the background. It returns the clientMessageId
// immediately; the UI shows the message as pending until the ack lands.
func (m *Manager) Send(ctx context.Context, draft *Draft) (string, error) {
	if draft.RecipientID == "" || draft.RecipientID == m.selfID {
		return "", fmt.Errorf("%w: bad recipient", common.ErrValidation)
	}
	if draft.Content == "" {
		return "", fmt.Errorf("%w: empty content", common.ErrValidation)
	}
	contentType := draft.ContentType
	if contentType == "" {
		contentType = protocol.ContentTypeText
	}

	recipientKey, err := m.keys.PublicKey(ctx, draft.RecipientID)
	if err != nil {
		return "", err
	}

	encrypted, err := cryptox.Encrypt([]byte(draft.Content), recipientKey)
	if err != nil {
		return "", err
	}

	clientMessageID := uuid.NewString()

	event := &protocol.MessageEvent{
		Type:             protocol.TypeMessage,
		ClientMessageID:  clientMessageID,
		SenderID:         m.selfID,
		RecipientID:      draft.RecipientID,
		ContentType:      contentType,
		Content:          encrypted,
		Caption:          draft.Caption,
		ReplyTo:          draft.ReplyTo,
		OriginalFilename: draft.OriginalFilename,
	}
	payload, err := protocol.EncodeJSON(event)
	if err != nil {
		return "", err
	}

	local := &store.Message{
		ClientMessageID: clientMessageID,
		SenderID:        m.selfID,
		RecipientID:     draft.RecipientID,
		ContentType:     contentType,
		Content:         draft.Content,
		Caption:         draft.Caption,
		ReplyTo:         draft.ReplyTo,
		Status:          status.Pending,
		CreatedAt:       time.Now(),
	}

	if err := m.store.SavePendingSend(ctx, local, payload); err != nil {
		return "", err
	}

	go func() {
		if err := m.deliver(context.Background(), clientMessageID, payload, 0); err != nil {
			m.logger.Debug(context.Background(), "initial delivery failed, left in outbox",
				"client_message_id", clientMessageID, "error", err)
		}
	}()

	return clientMessageID, nil
}

// Resend re-enters a failed message into the send pipeline as a fresh
// send with a new clientMessageId. The failed copy stays in history.
func (m *Manager) Resend(ctx context.Context, clientMessageID string) (string, error) {
	failed, err := m.store.Get(ctx, clientMessageID)
	if err != nil {
		return "", err
	}
	if failed.Status != status.Failed {
		return "", fmt.Errorf("%w: message %s is %s, only failed messages can be resent",
			common.ErrValidation, clientMessageID, failed.Status)
	}

	return m.Send(ctx, &Draft{
		RecipientID: failed.RecipientID,
		ContentType: failed.ContentType,
		Content:     failed.Content,
		Caption:     failed.Caption,
		ReplyTo:     failed.ReplyTo,
	})
}

// FlushPending retransmits everything still in the outbox, oldest first,
// with exponential backoff per item. Called after reconnect and at
// startup.
func (m *Manager) FlushPending(ctx context.Context) error {
	items, err := m.store.PendingOutbox(ctx)
	if err != nil {
		return err
	}

	for _, item := range items {
		backoff := retry.WithCappedDuration(retryCap, retry.NewExponential(retryBase))
		backoff = retry.WithMaxRetries(maxAttempts-1, backoff)

		err := retry.Do(ctx, backoff, func(ctx context.Context) error {
			deliverErr := m.deliver(ctx, item.ClientMessageID, item.Payload, item.Attempts)
			if deliverErr == nil || errors.Is(deliverErr, errPermanent) {
				return deliverErr
			}
			return retry.RetryableError(deliverErr)
		})
		if err != nil && !errors.Is(err, errPermanent) {
			m.logger.Warn(ctx, "outbox item still undelivered",
				"client_message_id", item.ClientMessageID, "error", err)
		}
	}

	return nil
}

// errPermanent marks delivery outcomes that retrying cannot fix.
var errPermanent = errors.New("outbox: permanent delivery failure")

// deliver makes one transmission attempt. A spent retry budget or a
// validation rejection moves the message to failed and drops it from the
// outbox.
func (m *Manager) deliver(ctx context.Context, clientMessageID string, payload []byte, priorAttempts int) error {
	if priorAttempts >= maxAttempts {
		return m.giveUp(ctx, clientMessageID)
	}

	attempts, err := m.store.IncrementAttempts(ctx, clientMessageID)
	if err != nil {
		// Already acked and removed by a concurrent attempt.
		if errors.Is(err, common.ErrNotFound) {
			return nil
		}
		return err
	}

	ack, err := m.sender.SendMessage(ctx, clientMessageID, payload)
	if err != nil {
		if attempts >= maxAttempts {
			return m.giveUp(ctx, clientMessageID)
		}
		return err
	}

	if ack.Status != "ok" {
		if ack.Error == protocol.CodeValidation {
			// The server will reject this payload forever.
			return m.giveUp(ctx, clientMessageID)
		}
		if attempts >= maxAttempts {
			return m.giveUp(ctx, clientMessageID)
		}
		return fmt.Errorf("server rejected message: %s", ack.Error)
	}

	if err := m.store.ConfirmAck(ctx, clientMessageID, ack.Message.ID); err != nil {
		return err
	}
	return m.store.RemoveFromOutbox(ctx, clientMessageID)
}

func (m *Manager) giveUp(ctx context.Context, clientMessageID string) error {
	if err := m.store.MarkFailed(ctx, clientMessageID); err != nil {
		return err
	}
	if err := m.store.RemoveFromOutbox(ctx, clientMessageID); err != nil {
		return err
	}
	return errPermanent
}
