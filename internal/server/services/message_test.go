package services

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hirewire/messaging/internal/common"
	"github.com/hirewire/messaging/internal/logging"
	"github.com/hirewire/messaging/internal/protocol"
	"github.com/hirewire/messaging/internal/server/events"
	"github.com/hirewire/messaging/internal/server/models"
	"github.com/hirewire/messaging/internal/server/repositories/messages"
	"github.com/hirewire/messaging/internal/server/repositories/users"
	"github.com/hirewire/messaging/internal/status"
)

// fakeMessageRepo keeps messages in a slice and mimics the dedup and
// guarded-transition behavior of the real repository.
type fakeMessageRepo struct {
	rows   []*models.Message
	nextID int64
}

func (r *fakeMessageRepo) InsertOrGet(_ context.Context, m *models.Message) (*models.Message, bool, error) {
	for _, row := range r.rows {
		if row.SenderID == m.SenderID && row.ClientMessageID == m.ClientMessageID {
			return row, false, nil
		}
	}
	r.nextID++
	stored := *m
	stored.ID = r.nextID
	stored.CreatedAt = time.Now()
	r.rows = append(r.rows, &stored)
	return &stored, true, nil
}

func (r *fakeMessageRepo) GetByID(_ context.Context, id int64) (*models.Message, error) {
	for _, row := range r.rows {
		if row.ID == id {
			return row, nil
		}
	}
	return nil, common.ErrNotFound
}

func (r *fakeMessageRepo) UpdateStatus(_ context.Context, id int64, to status.Status) (bool, error) {
	for _, row := range r.rows {
		if row.ID == id {
			next, changed := status.Apply(row.Status, to)
			row.Status = next
			return changed, nil
		}
	}
	return false, nil
}

func (r *fakeMessageRepo) UpdateStatusBatch(_ context.Context, ids []int64, to status.Status, recipientID string) ([]*models.Message, error) {
	var changedRows []*models.Message
	for _, id := range ids {
		for _, row := range r.rows {
			if row.ID == id && row.RecipientID == recipientID {
				next, changed := status.Apply(row.Status, to)
				row.Status = next
				if changed {
					changedRows = append(changedRows, row)
				}
			}
		}
	}
	return changedRows, nil
}

func (r *fakeMessageRepo) Conversation(_ context.Context, userID, peerID string, limit, skip int) ([]*models.Message, bool, error) {
	var between []*models.Message
	for i := len(r.rows) - 1; i >= 0; i-- {
		row := r.rows[i]
		if (row.SenderID == userID && row.RecipientID == peerID) ||
			(row.SenderID == peerID && row.RecipientID == userID) {
			between = append(between, row)
		}
	}
	if skip >= len(between) {
		return nil, false, nil
	}
	between = between[skip:]
	hasMore := len(between) > limit
	if hasMore {
		between = between[:limit]
	}
	return between, hasMore, nil
}

func (r *fakeMessageRepo) UpdateContent(_ context.Context, id int64, senderID, content string) error {
	for _, row := range r.rows {
		if row.ID == id && row.SenderID == senderID {
			row.Content = content
			return nil
		}
	}
	return common.ErrNotFound
}

func (r *fakeMessageRepo) DeleteByID(_ context.Context, id int64, senderID string) error {
	for i, row := range r.rows {
		if row.ID == id && row.SenderID == senderID {
			r.rows = append(r.rows[:i], r.rows[i+1:]...)
			return nil
		}
	}
	return common.ErrNotFound
}

func (r *fakeMessageRepo) DistinctPeers(_ context.Context, userID string) ([]string, error) {
	seen := map[string]struct{}{}
	var peers []string
	for _, row := range r.rows {
		var peer string
		switch userID {
		case row.SenderID:
			peer = row.RecipientID
		case row.RecipientID:
			peer = row.SenderID
		default:
			continue
		}
		if _, ok := seen[peer]; !ok {
			seen[peer] = struct{}{}
			peers = append(peers, peer)
		}
	}
	return peers, nil
}

func (r *fakeMessageRepo) LatestBetween(_ context.Context, userID, peerID string) (*models.Message, error) {
	for i := len(r.rows) - 1; i >= 0; i-- {
		row := r.rows[i]
		if (row.SenderID == userID && row.RecipientID == peerID) ||
			(row.SenderID == peerID && row.RecipientID == userID) {
			return row, nil
		}
	}
	return nil, nil
}

func (r *fakeMessageRepo) UnreadCount(_ context.Context, userID, peerID string) (int, error) {
	n := 0
	for _, row := range r.rows {
		if row.SenderID == peerID && row.RecipientID == userID && row.Status != status.Read {
			n++
		}
	}
	return n, nil
}

type fakeRepoManager struct {
	messageRepo *fakeMessageRepo
}

func (m *fakeRepoManager) Messages() messages.Repository       { return m.messageRepo }
func (m *fakeRepoManager) Users() users.Repository             { return nil }
func (m *fakeRepoManager) RunMigrations(context.Context) error { return nil }
func (m *fakeRepoManager) Close() error                        { return nil }

type recordingPublisher struct {
	keys []string
}

func (p *recordingPublisher) Publish(_ context.Context, routingKey string, _ *events.LifecycleEvent) error {
	p.keys = append(p.keys, routingKey)
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

func newTestService() (*MessageService, *fakeMessageRepo, *recordingPublisher) {
	repo := &fakeMessageRepo{}
	pub := &recordingPublisher{}
	logger := logging.NewSlogLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))
	svc := NewMessageService(&fakeRepoManager{messageRepo: repo}, pub, logger)
	return svc, repo, pub
}

func newEvent(sender, recipient string) *protocol.MessageEvent {
	return &protocol.MessageEvent{
		ClientMessageID: uuid.NewString(),
		SenderID:        sender,
		RecipientID:     recipient,
		ContentType:     protocol.ContentTypeText,
		Content:         "ciphertext|iv|key",
	}
}

func TestPersistAndReplay(t *testing.T) {
	svc, _, pub := newTestService()
	ctx := context.Background()

	ev := newEvent("alice", "bob")

	first, created, err := svc.Persist(ctx, ev)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, status.Sent, first.Status)

	// Same clientMessageId again: same row, not a duplicate.
	second, created, err := svc.Persist(ctx, ev)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, second.ID)

	assert.Equal(t, []string{events.KeyMessageSent}, pub.keys)
}

func TestPersistRejectsInvalid(t *testing.T) {
	svc, _, _ := newTestService()

	ev := newEvent("alice", "alice")
	_, _, err := svc.Persist(context.Background(), ev)
	assert.ErrorIs(t, err, common.ErrValidation)
}

func TestApplyStatusForwardAndRegression(t *testing.T) {
	svc, _, pub := newTestService()
	ctx := context.Background()

	msg, _, err := svc.Persist(ctx, newEvent("alice", "bob"))
	require.NoError(t, err)

	updated, changed, err := svc.ApplyStatus(ctx, msg.ID, status.Delivered)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, status.Delivered, updated.Status)

	// A late "delivered" after "read" must not regress.
	_, changed, err = svc.ApplyStatus(ctx, msg.ID, status.Read)
	require.NoError(t, err)
	assert.True(t, changed)

	_, changed, err = svc.ApplyStatus(ctx, msg.ID, status.Delivered)
	require.NoError(t, err)
	assert.False(t, changed)

	assert.Equal(t, []string{events.KeyMessageSent, events.KeyMessageDelivered, events.KeyMessageRead}, pub.keys)
}

func TestApplyStatusBatchSkipsForeign(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()

	toBob, _, err := svc.Persist(ctx, newEvent("alice", "bob"))
	require.NoError(t, err)
	toCarol, _, err := svc.Persist(ctx, newEvent("alice", "carol"))
	require.NoError(t, err)

	changed, err := svc.ApplyStatusBatch(ctx, []int64{toBob.ID, toCarol.ID}, status.Read, "bob")
	require.NoError(t, err)
	require.Len(t, changed, 1)
	assert.Equal(t, toBob.ID, changed[0].ID)
}

func TestEditOnlyBySender(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()

	msg, _, err := svc.Persist(ctx, newEvent("alice", "bob"))
	require.NoError(t, err)

	_, err = svc.Edit(ctx, "bob", msg.ID, "tampered")
	assert.ErrorIs(t, err, common.ErrUnauthorized)

	edited, err := svc.Edit(ctx, "alice", msg.ID, "new-ciphertext")
	require.NoError(t, err)
	assert.Equal(t, "new-ciphertext", edited.Content)
}

func TestDeleteOnlyBySender(t *testing.T) {
	svc, repo, pub := newTestService()
	ctx := context.Background()

	msg, _, err := svc.Persist(ctx, newEvent("alice", "bob"))
	require.NoError(t, err)

	_, err = svc.Delete(ctx, "bob", msg.ID)
	assert.ErrorIs(t, err, common.ErrUnauthorized)

	removed, err := svc.Delete(ctx, "alice", msg.ID)
	require.NoError(t, err)
	assert.Equal(t, msg.ID, removed.ID)
	assert.Empty(t, repo.rows)
	assert.Contains(t, pub.keys, events.KeyMessageDeleted)
}

func TestConversationPageDefaults(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, _, err := svc.Persist(ctx, newEvent("alice", "bob"))
		require.NoError(t, err)
	}

	page, hasMore, err := svc.ConversationPage(ctx, "alice", "bob", 2, 0)
	require.NoError(t, err)
	assert.Len(t, page, 2)
	assert.True(t, hasMore)

	page, hasMore, err = svc.ConversationPage(ctx, "alice", "bob", 2, 2)
	require.NoError(t, err)
	assert.Len(t, page, 1)
	assert.False(t, hasMore)
}
