package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/hirewire/messaging/internal/common"
	"github.com/hirewire/messaging/internal/protocol"
	"github.com/hirewire/messaging/internal/status"
)

// session is one authenticated connection. The read loop runs on the
// accepting goroutine; writes from other goroutines (relays via the
// hub) are serialized by sendMu.
type session struct {
	server *Server
	conn   net.Conn
	userID string

	sendMu sync.Mutex

	joinedMu sync.Mutex
	joined   bool
}

func newSession(s *Server, conn net.Conn, userID string) *session {
	return &session{server: s, conn: conn, userID: userID}
}

// Send implements hub.Sender.
func (sess *session) Send(payload []byte) error {
	sess.sendMu.Lock()
	defer sess.sendMu.Unlock()
	return protocol.WriteFrame(sess.conn, payload)
}

func (sess *session) send(event any) error {
	payload, err := protocol.EncodeJSON(event)
	if err != nil {
		return err
	}
	return sess.Send(payload)
}

func (sess *session) run() {
	ctx := sess.server.baseCtx
	defer sess.teardown(ctx)

	for {
		payload, err := protocol.ReadFrameWithTimeout(sess.conn, protocol.DefaultFrameReadTimeout)
		if err != nil {
			return
		}

		if err := sess.dispatch(ctx, payload); err != nil {
			if errors.Is(err, common.ErrUnauthorized) {
				// Identity mismatch is session-fatal: the client is
				// speaking for someone it did not authenticate as.
				_ = sess.send(&protocol.ErrorEvent{
					Type:    protocol.TypeError,
					Code:    protocol.CodeUnauthorized,
					Message: "event identity does not match session",
				})
				return
			}
			sess.server.logger.Warn(ctx, "event failed", "user_id", sess.userID, "error", err)
		}
	}
}

func (sess *session) dispatch(ctx context.Context, payload []byte) error {
	eventType, err := protocol.DecodeEventType(payload)
	if err != nil {
		return err
	}

	switch eventType {
	case protocol.TypeJoin:
		var ev protocol.JoinEvent
		if err := json.Unmarshal(payload, &ev); err != nil {
			return err
		}
		return sess.handleJoin(ctx, &ev)

	case protocol.TypeLeave:
		var ev protocol.LeaveEvent
		if err := json.Unmarshal(payload, &ev); err != nil {
			return err
		}
		if ev.UserID != sess.userID {
			return common.ErrUnauthorized
		}
		sess.leave(ctx)
		return nil

	case protocol.TypeMessage:
		var ev protocol.MessageEvent
		if err := json.Unmarshal(payload, &ev); err != nil {
			return err
		}
		return sess.handleMessage(ctx, &ev)

	case protocol.TypeStatus:
		var ev protocol.StatusEvent
		if err := json.Unmarshal(payload, &ev); err != nil {
			return err
		}
		return sess.handleStatus(ctx, &ev)

	case protocol.TypeBatchStatus:
		var ev protocol.BatchStatusEvent
		if err := json.Unmarshal(payload, &ev); err != nil {
			return err
		}
		return sess.handleBatchStatus(ctx, &ev)

	case protocol.TypeTyping, protocol.TypeStopTyping:
		var ev protocol.TypingEvent
		if err := json.Unmarshal(payload, &ev); err != nil {
			return err
		}
		return sess.handleTyping(payload, &ev)

	case protocol.TypeEditMessage:
		var ev protocol.EditMessageEvent
		if err := json.Unmarshal(payload, &ev); err != nil {
			return err
		}
		return sess.handleEdit(ctx, &ev)

	case protocol.TypeDeleteMessage:
		var ev protocol.DeleteMessageEvent
		if err := json.Unmarshal(payload, &ev); err != nil {
			return err
		}
		return sess.handleDelete(ctx, &ev)

	case protocol.TypePing:
		return sess.send(&protocol.PongEvent{Type: protocol.TypePong, Timestamp: time.Now().UnixMilli()})

	case protocol.TypePong:
		return nil

	default:
		return fmt.Errorf("%w: %q", protocol.ErrInvalidEventType, eventType)
	}
}

// handleJoin registers the session for routing and replays everything
// buffered while the user was offline, in arrival order.
func (sess *session) handleJoin(ctx context.Context, ev *protocol.JoinEvent) error {
	if ev.UserID != sess.userID {
		return common.ErrUnauthorized
	}

	sess.joinedMu.Lock()
	alreadyJoined := sess.joined
	sess.joined = true
	sess.joinedMu.Unlock()

	if !alreadyJoined {
		sess.server.hub.Register(sess.userID, sess)
	}

	if err := sess.server.users.UpdateLastSeen(ctx, sess.userID, time.Now()); err != nil {
		sess.server.logger.Warn(ctx, "update last seen failed", "user_id", sess.userID, "error", err)
	}

	buffered, err := sess.server.buffer.Drain(ctx, sess.userID)
	if err != nil {
		return fmt.Errorf("drain buffer: %w", err)
	}

	for _, payload := range buffered {
		if err := sess.Send(payload); err != nil {
			// Connection died mid-replay. Anything not yet sent goes
			// back in the buffer so the next join picks it up.
			_ = sess.server.buffer.Push(ctx, sess.userID, payload)
			continue
		}
		sess.markDeliveredIfMessage(ctx, payload)
	}

	return nil
}

// markDeliveredIfMessage advances replayed message relays to delivered
// and forwards the receipt to the sender.
func (sess *session) markDeliveredIfMessage(ctx context.Context, payload []byte) {
	eventType, err := protocol.DecodeEventType(payload)
	if err != nil || eventType != protocol.TypeMessage {
		return
	}

	var relay protocol.MessageDeliveryEvent
	if err := json.Unmarshal(payload, &relay); err != nil || relay.Message == nil {
		return
	}

	sess.markDelivered(ctx, relay.Message.ID, relay.Message.SenderID)
}

func (sess *session) markDelivered(ctx context.Context, messageID int64, senderID string) {
	_, changed, err := sess.server.messages.ApplyStatus(ctx, messageID, status.Delivered)
	if err != nil {
		sess.server.logger.Warn(ctx, "mark delivered failed", "message_id", messageID, "error", err)
		return
	}
	if !changed {
		return
	}

	sess.relayOrBuffer(ctx, senderID, &protocol.StatusEvent{
		Type:        protocol.TypeStatus,
		MessageID:   messageID,
		Status:      string(status.Delivered),
		RecipientID: sess.userID,
		SenderID:    senderID,
	})
}

func (sess *session) leave(ctx context.Context) {
	sess.joinedMu.Lock()
	wasJoined := sess.joined
	sess.joined = false
	sess.joinedMu.Unlock()

	if wasJoined {
		sess.server.hub.Unregister(sess.userID, sess)
	}

	if err := sess.server.users.UpdateLastSeen(ctx, sess.userID, time.Now()); err != nil {
		sess.server.logger.Warn(ctx, "update last seen failed", "user_id", sess.userID, "error", err)
	}
}

func (sess *session) teardown(ctx context.Context) {
	sess.leave(ctx)
}

// handleMessage persists, acks the sender, then relays to the recipient
// or buffers when offline. Replays of a known clientMessageId ack with
// the original stored record and are never relayed twice.
func (sess *session) handleMessage(ctx context.Context, ev *protocol.MessageEvent) error {
	if ev.SenderID != sess.userID {
		return common.ErrUnauthorized
	}

	msg, created, err := sess.server.messages.Persist(ctx, ev)
	if err != nil {
		ackErr := sess.send(&protocol.AckEvent{
			Type:            protocol.TypeAck,
			ClientMessageID: ev.ClientMessageID,
			Status:          "error",
			Error:           ackError(err),
		})
		if ackErr != nil {
			return ackErr
		}
		if errors.Is(err, common.ErrValidation) {
			return nil
		}
		return err
	}

	if err := sess.send(&protocol.AckEvent{
		Type:            protocol.TypeAck,
		ClientMessageID: ev.ClientMessageID,
		Status:          "ok",
		Message:         msg.Record(),
	}); err != nil {
		return err
	}

	if !created {
		return nil
	}

	relay := &protocol.MessageDeliveryEvent{Type: protocol.TypeMessage, Message: msg.Record()}
	payload, err := protocol.EncodeJSON(relay)
	if err != nil {
		return err
	}

	if sess.server.hub.SendToUser(ev.RecipientID, payload) {
		sess.markRecipientDelivered(ctx, msg.ID, ev.RecipientID)
	} else if err := sess.server.buffer.Push(ctx, ev.RecipientID, payload); err != nil {
		return fmt.Errorf("buffer message: %w", err)
	}

	return nil
}

// markRecipientDelivered advances a live-relayed message to delivered
// and sends the receipt back on this session.
func (sess *session) markRecipientDelivered(ctx context.Context, messageID int64, recipientID string) {
	_, changed, err := sess.server.messages.ApplyStatus(ctx, messageID, status.Delivered)
	if err != nil {
		sess.server.logger.Warn(ctx, "mark delivered failed", "message_id", messageID, "error", err)
		return
	}
	if !changed {
		return
	}

	receipt := &protocol.StatusEvent{
		Type:        protocol.TypeStatus,
		MessageID:   messageID,
		Status:      string(status.Delivered),
		RecipientID: recipientID,
		SenderID:    sess.userID,
	}
	if err := sess.send(receipt); err != nil {
		sess.server.logger.Debug(ctx, "delivery receipt lost", "message_id", messageID, "error", err)
	}
}

// handleStatus lets a recipient advance one of their messages, most
// commonly to read. The receipt is forwarded to the sender.
func (sess *session) handleStatus(ctx context.Context, ev *protocol.StatusEvent) error {
	if ev.RecipientID != sess.userID {
		return common.ErrUnauthorized
	}
	if err := protocol.ValidateStatus(ev.Status); err != nil {
		return err
	}

	// The batch update is scoped to the session's own messages, so a
	// client can never advance a message addressed to someone else.
	changed, err := sess.server.messages.ApplyStatusBatch(ctx, []int64{ev.MessageID}, status.Status(ev.Status), sess.userID)
	if err != nil {
		return err
	}
	if len(changed) == 0 {
		return nil
	}
	msg := changed[0]

	sess.relayOrBuffer(ctx, msg.SenderID, &protocol.StatusEvent{
		Type:        protocol.TypeStatus,
		MessageID:   ev.MessageID,
		Status:      ev.Status,
		RecipientID: sess.userID,
		SenderID:    msg.SenderID,
	})
	return nil
}

// handleBatchStatus applies a page of receipts at once and forwards one
// batch event per affected sender.
func (sess *session) handleBatchStatus(ctx context.Context, ev *protocol.BatchStatusEvent) error {
	if ev.RecipientID != sess.userID {
		return common.ErrUnauthorized
	}
	if err := protocol.ValidateStatus(ev.Status); err != nil {
		return err
	}

	changed, err := sess.server.messages.ApplyStatusBatch(ctx, ev.MessageIDs, status.Status(ev.Status), sess.userID)
	if err != nil {
		return err
	}

	bySender := make(map[string][]int64)
	for _, msg := range changed {
		bySender[msg.SenderID] = append(bySender[msg.SenderID], msg.ID)
	}

	for senderID, ids := range bySender {
		sess.relayOrBuffer(ctx, senderID, &protocol.BatchStatusEvent{
			Type:        protocol.TypeBatchStatus,
			MessageIDs:  ids,
			Status:      ev.Status,
			RecipientID: sess.userID,
		})
	}
	return nil
}

// handleTyping forwards the indicator to a live recipient and drops it
// otherwise. Typing is at-most-once and never buffered.
func (sess *session) handleTyping(payload []byte, ev *protocol.TypingEvent) error {
	if ev.UserID != sess.userID {
		return common.ErrUnauthorized
	}
	sess.server.hub.SendToUser(ev.RecipientID, payload)
	return nil
}

func (sess *session) handleEdit(ctx context.Context, ev *protocol.EditMessageEvent) error {
	if ev.SenderID != sess.userID {
		return common.ErrUnauthorized
	}

	msg, err := sess.server.messages.Edit(ctx, sess.userID, ev.MessageID, ev.Content)
	if err != nil {
		return err
	}

	sess.relayOrBuffer(ctx, msg.RecipientID, &protocol.EditMessageEvent{
		Type:      protocol.TypeEditMessage,
		MessageID: ev.MessageID,
		SenderID:  sess.userID,
		Content:   ev.Content,
	})
	return nil
}

func (sess *session) handleDelete(ctx context.Context, ev *protocol.DeleteMessageEvent) error {
	if ev.SenderID != sess.userID {
		return common.ErrUnauthorized
	}

	msg, err := sess.server.messages.Delete(ctx, sess.userID, ev.MessageID)
	if err != nil {
		return err
	}

	sess.relayOrBuffer(ctx, msg.RecipientID, &protocol.DeleteMessageEvent{
		Type:      protocol.TypeDeleteMessage,
		MessageID: ev.MessageID,
		SenderID:  sess.userID,
	})
	return nil
}

// relayOrBuffer sends an event to every live session of userID, falling
// back to the offline buffer.
func (sess *session) relayOrBuffer(ctx context.Context, userID string, event any) {
	payload, err := protocol.EncodeJSON(event)
	if err != nil {
		sess.server.logger.Error(ctx, "encode relay failed", "error", err)
		return
	}
	if sess.server.hub.SendToUser(userID, payload) {
		return
	}
	if err := sess.server.buffer.Push(ctx, userID, payload); err != nil {
		sess.server.logger.Warn(ctx, "buffer relay failed", "user_id", userID, "error", err)
	}
}

func ackError(err error) string {
	switch {
	case errors.Is(err, common.ErrValidation):
		return protocol.CodeValidation
	case errors.Is(err, common.ErrUnauthorized):
		return protocol.CodeUnauthorized
	default:
		return protocol.CodeInternal
	}
}
