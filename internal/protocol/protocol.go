// Package protocol defines the wire protocol of the messaging transport:
// JSON event envelopes carried as length-prefixed frames over one
// persistent duplex connection per client.
package protocol

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"time"
)

const (
	// ProtocolVersion is the current wire protocol version.
	ProtocolVersion = 1
	// MaxFrameSize is the maximum accepted frame payload size (1 MB).
	MaxFrameSize = 1 * 1024 * 1024
	// DefaultHandshakeTimeout bounds the handshake exchange.
	DefaultHandshakeTimeout = 15 * time.Second
	// DefaultFrameReadTimeout bounds each frame read.
	DefaultFrameReadTimeout = 90 * time.Second
	// DefaultKeepAliveInterval sends ping on idle connections.
	DefaultKeepAliveInterval = 30 * time.Second
)

const (
	TypeHandshake     = "handshake"
	TypeHandshakeAck  = "handshakeAck"
	TypeJoin          = "join"
	TypeLeave         = "leave"
	TypeMessage       = "message"
	TypeAck           = "ack"
	TypeStatus        = "messageStatus"
	TypeBatchStatus   = "batchMessageStatus"
	TypeTyping        = "typing"
	TypeStopTyping    = "stopTyping"
	TypeEditMessage   = "editMessage"
	TypeDeleteMessage = "deleteMessage"
	TypeError         = "error"
	TypePing          = "ping"
	TypePong          = "pong"
)

var (
	// ErrFrameTooLarge indicates payload exceeds MaxFrameSize.
	ErrFrameTooLarge = errors.New("protocol: frame exceeds max size")
	// ErrInvalidEventType indicates the type field is missing or unknown.
	ErrInvalidEventType = errors.New("protocol: invalid event type")
	// ErrUnsupportedVersion indicates protocol version mismatch.
	ErrUnsupportedVersion = errors.New("protocol: unsupported version")
)

// Envelope identifies the event type of a frame.
type Envelope struct {
	Type string `json:"type"`
}

// HandshakeEvent opens a session. The token must prove the claimed user
// identity; the server binds the session to it for all later events.
type HandshakeEvent struct {
	Type            string `json:"type"`
	UserID          string `json:"userId"`
	Token           string `json:"token"`
	ProtocolVersion int    `json:"protocolVersion"`
}

// HandshakeAckEvent confirms a bound session.
type HandshakeAckEvent struct {
	Type      string `json:"type"`
	UserID    string `json:"userId"`
	Timestamp int64  `json:"timestamp"`
}

// JoinEvent associates the connection with the user's room. Required
// before any message can be routed to this connection.
type JoinEvent struct {
	Type   string `json:"type"`
	UserID string `json:"userId"`
}

// LeaveEvent removes the room association.
type LeaveEvent struct {
	Type   string `json:"type"`
	UserID string `json:"userId"`
}

// MessageEvent is a client-originated chat message. Content carries
// ciphertext for text messages and an object-storage URL for media.
type MessageEvent struct {
	Type             string `json:"type"`
	ClientMessageID  string `json:"clientMessageId"`
	SenderID         string `json:"senderId"`
	RecipientID      string `json:"recipientId"`
	ContentType      string `json:"contentType"`
	Content          string `json:"content"`
	Caption          string `json:"caption,omitempty"`
	ReplyTo          *int64 `json:"replyTo,omitempty"`
	OriginalFilename string `json:"originalFilename,omitempty"`
}

// MessageRecord is the durable server copy returned in acks and relayed to
// recipients. ID is the server-assigned durable identifier.
type MessageRecord struct {
	ID               int64  `json:"id"`
	ClientMessageID  string `json:"clientMessageId"`
	SenderID         string `json:"senderId"`
	RecipientID      string `json:"recipientId"`
	ContentType      string `json:"contentType"`
	Content          string `json:"content"`
	Caption          string `json:"caption,omitempty"`
	ReplyTo          *int64 `json:"replyTo,omitempty"`
	OriginalFilename string `json:"originalFilename,omitempty"`
	Status           string `json:"status"`
	CreatedAt        int64  `json:"createdAt"`
}

// MessageDeliveryEvent relays a stored message to its recipient. It
// shares the "message" wire type with MessageEvent; direction
// disambiguates, the server only ever sends this form.
type MessageDeliveryEvent struct {
	Type    string         `json:"type"`
	Message *MessageRecord `json:"message"`
}

// AckEvent answers a MessageEvent. Status is "ok" with the durable record,
// or "error" with a reason. Acks never cross the wire as failures of the
// whole session.
type AckEvent struct {
	Type            string         `json:"type"`
	ClientMessageID string         `json:"clientMessageId"`
	Status          string         `json:"status"`
	Message         *MessageRecord `json:"message,omitempty"`
	Error           string         `json:"error,omitempty"`
}

// StatusEvent advances one message's delivery state.
type StatusEvent struct {
	Type        string `json:"type"`
	MessageID   int64  `json:"messageId"`
	Status      string `json:"status"`
	RecipientID string `json:"recipientId"`
	SenderID    string `json:"senderId,omitempty"`
}

// BatchStatusEvent advances many messages at once. Emitted by recipients
// for read receipts so fast scrolling does not flood the channel.
type BatchStatusEvent struct {
	Type        string  `json:"type"`
	MessageIDs  []int64 `json:"messageIds"`
	Status      string  `json:"status"`
	RecipientID string  `json:"recipientId"`
}

// TypingEvent is fire-and-forget, at-most-once, never persisted.
type TypingEvent struct {
	Type        string `json:"type"`
	UserID      string `json:"userId"`
	RecipientID string `json:"recipientId"`
}

// EditMessageEvent replaces the content of an existing message. The new
// content is re-encrypted by the sender before it reaches the wire.
type EditMessageEvent struct {
	Type      string `json:"type"`
	MessageID int64  `json:"messageId"`
	SenderID  string `json:"senderId"`
	Content   string `json:"content"`
}

// DeleteMessageEvent removes a message (tombstone removal, not soft-delete).
type DeleteMessageEvent struct {
	Type      string `json:"type"`
	MessageID int64  `json:"messageId"`
	SenderID  string `json:"senderId"`
}

// ErrorEvent reports a protocol-level error. For identity mismatches the
// server closes the session after sending it.
type ErrorEvent struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// PingEvent / PongEvent keep idle connections alive.
type PingEvent struct {
	Type      string `json:"type"`
	Timestamp int64  `json:"timestamp"`
}

type PongEvent struct {
	Type      string `json:"type"`
	Timestamp int64  `json:"timestamp"`
}

// Error codes carried in ErrorEvent and AckEvent.Error prefixes.
const (
	CodeValidation   = "validation_error"
	CodeUnauthorized = "authorization_error"
	CodeInternal     = "internal_error"
)

// EncodeJSON marshals an event to JSON.
func EncodeJSON(event any) ([]byte, error) {
	payload, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("marshal event: %w", err)
	}
	return payload, nil
}

// DecodeEventType extracts the "type" field from a payload.
func DecodeEventType(payload []byte) (string, error) {
	var envelope Envelope
	if err := json.Unmarshal(payload, &envelope); err != nil {
		return "", fmt.Errorf("decode envelope: %w", err)
	}
	if envelope.Type == "" {
		return "", ErrInvalidEventType
	}
	return envelope.Type, nil
}

// WriteFrame writes one length-prefixed frame.
func WriteFrame(w io.Writer, payload []byte) error {
	if len(payload) > MaxFrameSize {
		return ErrFrameTooLarge
	}

	header := make([]byte, 4)
	binary.BigEndian.PutUint32(header, uint32(len(payload)))

	if _, err := w.Write(header); err != nil {
		return fmt.Errorf("write frame length: %w", err)
	}
	if len(payload) == 0 {
		return nil
	}
	if _, err := w.Write(payload); err != nil {
		return fmt.Errorf("write frame payload: %w", err)
	}

	return nil
}

// ReadFrame reads one length-prefixed frame.
func ReadFrame(r io.Reader) ([]byte, error) {
	header := make([]byte, 4)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, fmt.Errorf("read frame length: %w", err)
	}

	length := binary.BigEndian.Uint32(header)
	if length > MaxFrameSize {
		return nil, ErrFrameTooLarge
	}
	if length == 0 {
		return []byte{}, nil
	}

	payload := make([]byte, int(length))
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, fmt.Errorf("read frame payload: %w", err)
	}

	return payload, nil
}

// ReadFrameWithTimeout reads a frame with an optional read deadline.
func ReadFrameWithTimeout(conn net.Conn, timeout time.Duration) ([]byte, error) {
	if timeout > 0 {
		if err := conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
			return nil, fmt.Errorf("set read deadline: %w", err)
		}
		defer func() {
			_ = conn.SetReadDeadline(time.Time{})
		}()
	}
	return ReadFrame(conn)
}

// WriteEvent marshals an event and writes it as one frame.
func WriteEvent(w io.Writer, event any) error {
	payload, err := EncodeJSON(event)
	if err != nil {
		return err
	}
	return WriteFrame(w, payload)
}
