// Package session owns the inbound half of the client: decrypting and
// storing relayed messages, applying receipts, and batching outgoing
// read receipts so fast scrolling does not flood the channel.
package session

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/hirewire/messaging/internal/client/store"
	"github.com/hirewire/messaging/internal/cryptox"
	"github.com/hirewire/messaging/internal/logging"
	"github.com/hirewire/messaging/internal/protocol"
	"github.com/hirewire/messaging/internal/status"
)

const (
	// receiptFlushInterval bounds how stale a queued read receipt gets.
	receiptFlushInterval = 500 * time.Millisecond
	// receiptBatchSize flushes early once this many receipts queue up.
	receiptBatchSize = 50
)

// EventSender is the outbound side the session needs: fire-and-forget
// event writes on the live connection.
type EventSender interface {
	SendEvent(event any) error
}

// Callbacks notify the UI layer. Any of them may be nil.
type Callbacks struct {
	OnMessage func(m *store.Message)
	OnStatus  func(serverID int64, st status.Status)
	OnTyping  func(userID string, typing bool)
	OnEdit    func(serverID int64, content string)
	OnDelete  func(serverID int64)
}

// Session consumes inbound events and drives the local store.
type Session struct {
	store     *store.Store
	sender    EventSender
	privPEM   []byte
	selfID    string
	callbacks Callbacks
	logger    logging.Logger

	mu          sync.Mutex
	focusedPeer string
	queuedReads []int64
	flushTimer  *time.Timer
}

func New(s *store.Store, sender EventSender, privPEM []byte, selfID string, callbacks Callbacks, logger logging.Logger) *Session {
	return &Session{
		store:     s,
		sender:    sender,
		privPEM:   privPEM,
		selfID:    selfID,
		callbacks: callbacks,
		logger:    logger,
	}
}

// HandleEvent is the transport's EventHandler. It must stay fast; all
// work here is local.
func (s *Session) HandleEvent(eventType string, payload []byte) {
	ctx := context.Background()

	switch eventType {
	case protocol.TypeMessage:
		s.handleMessage(ctx, payload)
	case protocol.TypeStatus:
		s.handleStatus(ctx, payload)
	case protocol.TypeBatchStatus:
		s.handleBatchStatus(ctx, payload)
	case protocol.TypeTyping:
		s.handleTyping(payload, true)
	case protocol.TypeStopTyping:
		s.handleTyping(payload, false)
	case protocol.TypeEditMessage:
		s.handleEdit(ctx, payload)
	case protocol.TypeDeleteMessage:
		s.handleDelete(ctx, payload)
	case protocol.TypeError:
		var ev protocol.ErrorEvent
		if err := json.Unmarshal(payload, &ev); err == nil {
			s.logger.Warn(ctx, "server error event", "code", ev.Code, "message", ev.Message)
		}
	default:
		s.logger.Debug(ctx, "unhandled event", "type", eventType)
	}
}

func (s *Session) handleMessage(ctx context.Context, payload []byte) {
	var relay protocol.MessageDeliveryEvent
	if err := json.Unmarshal(payload, &relay); err != nil || relay.Message == nil {
		s.logger.Warn(ctx, "bad message relay", "error", err)
		return
	}
	record := relay.Message

	// Decryption failures surface as a placeholder, never an error:
	// one undecryptable message must not wedge the inbox.
	plaintext := cryptox.Decrypt(record.Content, s.privPEM)

	m := &store.Message{
		ClientMessageID: record.ClientMessageID,
		ServerID:        record.ID,
		SenderID:        record.SenderID,
		RecipientID:     record.RecipientID,
		ContentType:     record.ContentType,
		Content:         plaintext,
		Caption:         record.Caption,
		ReplyTo:         record.ReplyTo,
		Status:          status.Delivered,
		CreatedAt:       time.UnixMilli(record.CreatedAt),
	}

	if err := s.store.InsertIncoming(ctx, m); err != nil {
		s.logger.Error(ctx, "store incoming failed", "server_id", record.ID, "error", err)
		return
	}

	if s.callbacks.OnMessage != nil {
		s.callbacks.OnMessage(m)
	}

	// Reading is immediate when the conversation is on screen.
	s.mu.Lock()
	focused := s.focusedPeer == record.SenderID
	s.mu.Unlock()
	if focused {
		s.QueueReadReceipt(record.ID)
	}
}

func (s *Session) handleStatus(ctx context.Context, payload []byte) {
	var ev protocol.StatusEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		return
	}

	changed, err := s.store.ApplyStatus(ctx, ev.MessageID, status.Status(ev.Status))
	if err != nil {
		s.logger.Warn(ctx, "apply status failed", "server_id", ev.MessageID, "error", err)
		return
	}
	if changed && s.callbacks.OnStatus != nil {
		s.callbacks.OnStatus(ev.MessageID, status.Status(ev.Status))
	}
}

func (s *Session) handleBatchStatus(ctx context.Context, payload []byte) {
	var ev protocol.BatchStatusEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		return
	}

	for _, id := range ev.MessageIDs {
		changed, err := s.store.ApplyStatus(ctx, id, status.Status(ev.Status))
		if err != nil {
			s.logger.Warn(ctx, "apply status failed", "server_id", id, "error", err)
			continue
		}
		if changed && s.callbacks.OnStatus != nil {
			s.callbacks.OnStatus(id, status.Status(ev.Status))
		}
	}
}

func (s *Session) handleTyping(payload []byte, typing bool) {
	var ev protocol.TypingEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		return
	}
	if s.callbacks.OnTyping != nil {
		s.callbacks.OnTyping(ev.UserID, typing)
	}
}

func (s *Session) handleEdit(ctx context.Context, payload []byte) {
	var ev protocol.EditMessageEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		return
	}

	plaintext := cryptox.Decrypt(ev.Content, s.privPEM)
	if err := s.store.UpdateContent(ctx, ev.MessageID, plaintext); err != nil {
		s.logger.Warn(ctx, "apply edit failed", "server_id", ev.MessageID, "error", err)
		return
	}
	if s.callbacks.OnEdit != nil {
		s.callbacks.OnEdit(ev.MessageID, plaintext)
	}
}

func (s *Session) handleDelete(ctx context.Context, payload []byte) {
	var ev protocol.DeleteMessageEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		return
	}

	if err := s.store.DeleteByServerID(ctx, ev.MessageID); err != nil {
		s.logger.Warn(ctx, "apply delete failed", "server_id", ev.MessageID, "error", err)
		return
	}
	if s.callbacks.OnDelete != nil {
		s.callbacks.OnDelete(ev.MessageID)
	}
}

// Focus marks a conversation as on screen. Messages arriving from that
// peer generate read receipts; pass "" on blur.
func (s *Session) Focus(peerID string) {
	s.mu.Lock()
	s.focusedPeer = peerID
	s.mu.Unlock()
}

// QueueReadReceipt schedules a read receipt for one message. Receipts
// are flushed in batches, at most every receiptFlushInterval or once
// receiptBatchSize accumulate.
func (s *Session) QueueReadReceipt(serverID int64) {
	s.mu.Lock()
	s.queuedReads = append(s.queuedReads, serverID)
	shouldFlushNow := len(s.queuedReads) >= receiptBatchSize
	if s.flushTimer == nil && !shouldFlushNow {
		s.flushTimer = time.AfterFunc(receiptFlushInterval, s.FlushReadReceipts)
	}
	s.mu.Unlock()

	if shouldFlushNow {
		s.FlushReadReceipts()
	}
}

// FlushReadReceipts sends everything queued as one batch event and
// applies the change locally.
func (s *Session) FlushReadReceipts() {
	s.mu.Lock()
	ids := s.queuedReads
	s.queuedReads = nil
	if s.flushTimer != nil {
		s.flushTimer.Stop()
		s.flushTimer = nil
	}
	s.mu.Unlock()

	if len(ids) == 0 {
		return
	}

	ctx := context.Background()

	if err := s.sender.SendEvent(&protocol.BatchStatusEvent{
		Type:        protocol.TypeBatchStatus,
		MessageIDs:  ids,
		Status:      string(status.Read),
		RecipientID: s.selfID,
	}); err != nil {
		s.logger.Warn(ctx, "read receipt batch failed", "count", len(ids), "error", err)
		return
	}

	for _, id := range ids {
		if _, err := s.store.ApplyStatus(ctx, id, status.Read); err != nil {
			s.logger.Warn(ctx, "local read apply failed", "server_id", id, "error", err)
		}
	}
}
