package cli

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/hirewire/messaging/internal/client/outbox"
	"github.com/hirewire/messaging/internal/cryptox"
	"github.com/hirewire/messaging/internal/protocol"
)

// Send queues a text message to the open conversation. The message shows
// as pending until the server ack lands.
func (a *App) Send(ctx context.Context, text string) {
	peer := a.focusedPeer()
	if peer == "" {
		printlnFn("No open conversation. Use: open <user>")
		return
	}

	a.notifyTyping(peer)

	id, err := a.outbox.Send(ctx, &outbox.Draft{RecipientID: peer, Content: text})
	if err != nil {
		printlnFn("send failed:", err.Error())
		return
	}
	a.logger.Debug(ctx, "message queued", "client_message_id", id)
}

// Attach encrypts a file for the peer, uploads it to object storage via
// a presigned grant and sends a media message carrying the storage key.
func (a *App) Attach(ctx context.Context, path string) {
	peer := a.focusedPeer()
	if peer == "" {
		printlnFn("No open conversation. Use: open <user>")
		return
	}

	data, err := os.ReadFile(path)
	if err != nil {
		printlnFn("attach failed:", err.Error())
		return
	}

	peerKey, err := a.keys.PublicKey(ctx, peer)
	if err != nil {
		printlnFn("attach failed:", err.Error())
		return
	}
	sealed, err := cryptox.Encrypt(data, peerKey)
	if err != nil {
		printlnFn("attach failed:", err.Error())
		return
	}

	storageKey, uploadURL, err := a.rest.PresignUpload(ctx)
	if err != nil {
		printlnFn("attach failed:", err.Error())
		return
	}
	if err := a.rest.Upload(ctx, uploadURL, []byte(sealed)); err != nil {
		printlnFn("attach failed:", err.Error())
		return
	}

	_, err = a.outbox.Send(ctx, &outbox.Draft{
		RecipientID:      peer,
		ContentType:      contentTypeForFile(path),
		Content:          storageKey,
		OriginalFilename: filepath.Base(path),
	})
	if err != nil {
		printlnFn("send failed:", err.Error())
		return
	}
	printlnFn("Uploaded " + filepath.Base(path))
}

// Resend retries a failed message under a fresh client message ID. The
// ID to pass is printed next to failed entries in history output.
func (a *App) Resend(ctx context.Context, clientMessageID string) {
	newID, err := a.outbox.Resend(ctx, clientMessageID)
	if err != nil {
		printlnFn("resend failed:", err.Error())
		return
	}
	a.logger.Debug(ctx, "message requeued", "client_message_id", newID)
}

// Flush retransmits everything still waiting in the outbox.
func (a *App) Flush(ctx context.Context) {
	if err := a.outbox.FlushPending(ctx); err != nil {
		printlnFn("flush failed:", err.Error())
		return
	}
	printlnFn("Outbox flushed.")
}

// notifyTyping fires the typing pair around a send. Best effort, the
// server drops it when the peer is offline.
func (a *App) notifyTyping(peer string) {
	_ = a.conn.SendEvent(&protocol.TypingEvent{Type: protocol.TypeTyping, UserID: a.config.UserID, RecipientID: peer})
	_ = a.conn.SendEvent(&protocol.TypingEvent{Type: protocol.TypeStopTyping, UserID: a.config.UserID, RecipientID: peer})
}

func contentTypeForFile(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".jpg", ".jpeg", ".png", ".gif", ".webp":
		return protocol.ContentTypeImage
	case ".mp4", ".mov", ".webm":
		return protocol.ContentTypeVideo
	case ".mp3", ".ogg", ".wav", ".m4a":
		return protocol.ContentTypeAudio
	default:
		return protocol.ContentTypeDocument
	}
}
