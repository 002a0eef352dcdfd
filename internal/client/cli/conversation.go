package cli

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/hirewire/messaging/internal/client/store"
	"github.com/hirewire/messaging/internal/cryptox"
	"github.com/hirewire/messaging/internal/status"
)

const defaultHistoryLimit = 20

// Open focuses a conversation. Incoming messages from this peer are
// acknowledged as read from now on, and recent history is printed.
func (a *App) Open(ctx context.Context, peer string) {
	if peer == a.config.UserID {
		printlnFn("That is you.")
		return
	}
	a.setPeer(peer)
	a.History(ctx, "")
	a.markVisibleAsRead(ctx)
}

// CloseChat leaves the focused conversation.
func (a *App) CloseChat() {
	a.session.FlushReadReceipts()
	a.setPeer("")
}

// History prints the last messages of the open conversation, oldest
// first.
func (a *App) History(ctx context.Context, limitArg string) {
	peer := a.focusedPeer()
	if peer == "" {
		printlnFn("No open conversation. Use: open <user>")
		return
	}

	limit := defaultHistoryLimit
	if limitArg != "" {
		n, err := strconv.Atoi(limitArg)
		if err != nil || n <= 0 {
			printlnFn("Usage: history [n]")
			return
		}
		limit = n
	}

	page, err := a.store.Conversation(ctx, a.config.UserID, peer, limit, 0)
	if err != nil {
		printlnFn("history failed:", err.Error())
		return
	}

	for i := len(page) - 1; i >= 0; i-- {
		printlnFn(formatMessage(a.config.UserID, page[i]))
	}
}

// Backfill pulls a server history page for the open conversation and
// stores whatever is missing locally. Messages this client sent in a
// past life were encrypted for the peer and show as undisplayable.
func (a *App) Backfill(ctx context.Context) {
	peer := a.focusedPeer()
	if peer == "" {
		printlnFn("No open conversation. Use: open <user>")
		return
	}

	records, hasMore, err := a.rest.Messages(ctx, peer, 50, 0)
	if err != nil {
		printlnFn("backfill failed:", err.Error())
		return
	}

	inserted := 0
	for _, record := range records {
		m := &store.Message{
			ClientMessageID: record.ClientMessageID,
			ServerID:        record.ID,
			SenderID:        record.SenderID,
			RecipientID:     record.RecipientID,
			ContentType:     record.ContentType,
			Content:         cryptox.Decrypt(record.Content, a.privPEM),
			Caption:         record.Caption,
			ReplyTo:         record.ReplyTo,
			Status:          status.Status(record.Status),
			CreatedAt:       time.UnixMilli(record.CreatedAt),
		}
		if err := a.store.InsertIncoming(ctx, m); err != nil {
			printlnFn("backfill store failed:", err.Error())
			return
		}
		inserted++
	}

	line := fmt.Sprintf("Fetched %d messages.", inserted)
	if hasMore {
		line += " More are available on the server."
	}
	printlnFn(line)
}

// markVisibleAsRead queues read receipts for everything unread in the
// open conversation.
func (a *App) markVisibleAsRead(ctx context.Context) {
	peer := a.focusedPeer()
	page, err := a.store.Conversation(ctx, a.config.UserID, peer, defaultHistoryLimit, 0)
	if err != nil {
		return
	}
	for _, m := range page {
		if m.SenderID == peer && m.Status == status.Delivered && m.ServerID > 0 {
			a.session.QueueReadReceipt(m.ServerID)
		}
	}
	a.session.FlushReadReceipts()
}

func formatMessage(selfID string, m *store.Message) string {
	who := m.SenderID
	if m.SenderID == selfID {
		who = "me"
	}
	line := fmt.Sprintf("[%s] %s: %s", m.CreatedAt.Format("15:04"), who, m.Content)
	if m.Caption != "" {
		line += " (" + m.Caption + ")"
	}
	if m.SenderID == selfID {
		line += " · " + string(m.Status)
		if m.Status == status.Failed {
			line += " (resend " + m.ClientMessageID + ")"
		}
	}
	return line
}
