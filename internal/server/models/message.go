// Package models holds the server-side domain types.
package models

import (
	"time"

	"github.com/hirewire/messaging/internal/protocol"
	"github.com/hirewire/messaging/internal/status"
)

// Message is the durable server copy of a chat message. Content is opaque
// to the server: ciphertext for text, an object-storage URL for media.
type Message struct {
	ID               int64
	ClientMessageID  string
	SenderID         string
	RecipientID      string
	ContentType      string
	Content          string
	Caption          string
	ReplyTo          *int64
	Status           status.Status
	OriginalFilename string
	CreatedAt        time.Time
}

// Record converts a message to its wire representation.
func (m *Message) Record() *protocol.MessageRecord {
	return &protocol.MessageRecord{
		ID:               m.ID,
		ClientMessageID:  m.ClientMessageID,
		SenderID:         m.SenderID,
		RecipientID:      m.RecipientID,
		ContentType:      m.ContentType,
		Content:          m.Content,
		Caption:          m.Caption,
		ReplyTo:          m.ReplyTo,
		OriginalFilename: m.OriginalFilename,
		Status:           string(m.Status),
		CreatedAt:        m.CreatedAt.UnixMilli(),
	}
}

// FromEvent builds the durable copy of an inbound message event. The
// persisted status starts at sent: the sender's ack is what moves the
// sender-local copy out of pending.
func FromEvent(ev *protocol.MessageEvent) *Message {
	return &Message{
		ClientMessageID:  ev.ClientMessageID,
		SenderID:         ev.SenderID,
		RecipientID:      ev.RecipientID,
		ContentType:      ev.ContentType,
		Content:          ev.Content,
		Caption:          ev.Caption,
		ReplyTo:          ev.ReplyTo,
		OriginalFilename: ev.OriginalFilename,
		Status:           status.Sent,
	}
}
