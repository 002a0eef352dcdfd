// Package chatlist builds a user's conversation overview on demand: the
// union of explicit contacts and everyone the user has exchanged messages
// with, each with the latest message and unread count.
package chatlist

import (
	"context"
	"fmt"
	"sort"

	"github.com/hirewire/messaging/internal/server/models"
	"github.com/hirewire/messaging/internal/server/repositories/repomanager"
)

type Service struct {
	repomanager repomanager.RepositoryManager
}

func NewService(rm repomanager.RepositoryManager) *Service {
	return &Service{repomanager: rm}
}

// Build assembles the chat list for userID. Entries with message history
// come first, ordered by latest message time descending; contacts with no
// history follow, ordered by username for a stable rendering.
func (s *Service) Build(ctx context.Context, userID string) ([]*models.ChatListEntry, error) {
	userRepo := s.repomanager.Users()
	msgRepo := s.repomanager.Messages()

	contacts, err := userRepo.Contacts(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load contacts: %w", err)
	}

	peers, err := msgRepo.DistinctPeers(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load peers: %w", err)
	}

	isContact := make(map[string]bool, len(contacts))
	for _, id := range contacts {
		isContact[id] = true
	}

	seen := make(map[string]struct{}, len(contacts)+len(peers))
	union := make([]string, 0, len(contacts)+len(peers))
	for _, id := range append(append([]string{}, contacts...), peers...) {
		if id == userID {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		union = append(union, id)
	}

	entries := make([]*models.ChatListEntry, 0, len(union))
	for _, peerID := range union {
		peer, err := userRepo.GetByID(ctx, peerID)
		if err != nil {
			return nil, fmt.Errorf("load peer %s: %w", peerID, err)
		}

		latest, err := msgRepo.LatestBetween(ctx, userID, peerID)
		if err != nil {
			return nil, fmt.Errorf("latest message with %s: %w", peerID, err)
		}

		unread := 0
		if latest != nil {
			unread, err = msgRepo.UnreadCount(ctx, userID, peerID)
			if err != nil {
				return nil, fmt.Errorf("unread count with %s: %w", peerID, err)
			}
		}

		entries = append(entries, &models.ChatListEntry{
			PeerID:        peer.ID,
			Username:      peer.Username,
			PhotoURL:      peer.PhotoURL,
			StatusText:    peer.StatusText,
			LastSeen:      peer.LastSeen,
			LatestMessage: latest,
			UnreadCount:   unread,
			IsContact:     isContact[peerID],
		})
	}

	sort.SliceStable(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		switch {
		case a.LatestMessage != nil && b.LatestMessage != nil:
			return a.LatestMessage.CreatedAt.After(b.LatestMessage.CreatedAt)
		case a.LatestMessage != nil:
			return true
		case b.LatestMessage != nil:
			return false
		default:
			return a.Username < b.Username
		}
	})

	return entries, nil
}
