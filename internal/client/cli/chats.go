package cli

import (
	"context"
	"fmt"
	"time"
)

// Chats prints the server-built conversation list.
func (a *App) Chats(ctx context.Context) {
	chats, err := a.rest.ChatList(ctx)
	if err != nil {
		printlnFn("chat list failed:", err.Error())
		return
	}
	if len(chats) == 0 {
		printlnFn("No conversations yet.")
		return
	}

	for _, chat := range chats {
		line := chat.PeerID
		if chat.Username != "" && chat.Username != chat.PeerID {
			line += " (" + chat.Username + ")"
		}
		if chat.UnreadCount > 0 {
			line += fmt.Sprintf(" [%d unread]", chat.UnreadCount)
		}
		if chat.LatestMessage != nil {
			ts := time.UnixMilli(chat.LatestMessage.CreatedAt).Format("Jan 2 15:04")
			line += "  last: " + ts
		}
		printlnFn(line)
	}
}
