package transport

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hirewire/messaging/internal/common"
	"github.com/hirewire/messaging/internal/logging"
	"github.com/hirewire/messaging/internal/protocol"
	"github.com/hirewire/messaging/internal/server/auth"
	"github.com/hirewire/messaging/internal/server/buffer"
	"github.com/hirewire/messaging/internal/server/events"
	"github.com/hirewire/messaging/internal/server/hub"
	"github.com/hirewire/messaging/internal/server/models"
	"github.com/hirewire/messaging/internal/server/repositories/messages"
	"github.com/hirewire/messaging/internal/server/repositories/users"
	"github.com/hirewire/messaging/internal/server/services"
	"github.com/hirewire/messaging/internal/status"
)

var testSecret = []byte("transport-test-secret")

type memMessageRepo struct {
	mu     sync.Mutex
	rows   []*models.Message
	nextID int64
}

func (r *memMessageRepo) InsertOrGet(_ context.Context, m *models.Message) (*models.Message, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, row := range r.rows {
		if row.SenderID == m.SenderID && row.ClientMessageID == m.ClientMessageID {
			copied := *row
			return &copied, false, nil
		}
	}
	r.nextID++
	stored := *m
	stored.ID = r.nextID
	stored.CreatedAt = time.Now()
	r.rows = append(r.rows, &stored)
	copied := stored
	return &copied, true, nil
}

func (r *memMessageRepo) GetByID(_ context.Context, id int64) (*models.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, row := range r.rows {
		if row.ID == id {
			copied := *row
			return &copied, nil
		}
	}
	return nil, common.ErrNotFound
}

func (r *memMessageRepo) UpdateStatus(_ context.Context, id int64, to status.Status) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, row := range r.rows {
		if row.ID == id {
			next, changed := status.Apply(row.Status, to)
			row.Status = next
			return changed, nil
		}
	}
	return false, nil
}

func (r *memMessageRepo) UpdateStatusBatch(_ context.Context, ids []int64, to status.Status, recipientID string) ([]*models.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var changedRows []*models.Message
	for _, id := range ids {
		for _, row := range r.rows {
			if row.ID == id && row.RecipientID == recipientID {
				next, changed := status.Apply(row.Status, to)
				row.Status = next
				if changed {
					copied := *row
					changedRows = append(changedRows, &copied)
				}
			}
		}
	}
	return changedRows, nil
}

func (r *memMessageRepo) Conversation(context.Context, string, string, int, int) ([]*models.Message, bool, error) {
	return nil, false, nil
}

func (r *memMessageRepo) UpdateContent(_ context.Context, id int64, senderID, content string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, row := range r.rows {
		if row.ID == id && row.SenderID == senderID {
			row.Content = content
			return nil
		}
	}
	return common.ErrNotFound
}

func (r *memMessageRepo) DeleteByID(_ context.Context, id int64, senderID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, row := range r.rows {
		if row.ID == id && row.SenderID == senderID {
			r.rows = append(r.rows[:i], r.rows[i+1:]...)
			return nil
		}
	}
	return common.ErrNotFound
}

func (r *memMessageRepo) DistinctPeers(context.Context, string) ([]string, error) { return nil, nil }

func (r *memMessageRepo) LatestBetween(context.Context, string, string) (*models.Message, error) {
	return nil, nil
}

func (r *memMessageRepo) UnreadCount(context.Context, string, string) (int, error) { return 0, nil }

type memUserRepo struct{}

func (memUserRepo) GetByID(context.Context, string) (*models.User, error) {
	return nil, common.ErrNotFound
}
func (memUserRepo) PublicKey(context.Context, string) (string, error) {
	return "", common.ErrKeyNotFound
}
func (memUserRepo) Contacts(context.Context, string) ([]string, error)      { return nil, nil }
func (memUserRepo) UpdateLastSeen(context.Context, string, time.Time) error { return nil }

type memRepoManager struct {
	msgRepo *memMessageRepo
}

func (m *memRepoManager) Messages() messages.Repository       { return m.msgRepo }
func (m *memRepoManager) Users() users.Repository             { return memUserRepo{} }
func (m *memRepoManager) RunMigrations(context.Context) error { return nil }
func (m *memRepoManager) Close() error                        { return nil }

func startTestServer(t *testing.T) (*Server, *memMessageRepo) {
	t.Helper()

	repo := &memMessageRepo{}
	logger := logging.NewSlogLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))
	svc := services.NewMessageService(&memRepoManager{msgRepo: repo}, events.NewFallbackPublisher(logger), logger)

	srv := NewServer(svc, memUserRepo{}, hub.New(), buffer.NewMemoryBuffer(100), testSecret, logger)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, srv.Listen(ctx, "127.0.0.1:0"))
	t.Cleanup(func() {
		cancel()
		_ = srv.Close()
	})

	return srv, repo
}

// testClient is a minimal raw-socket client speaking the framed protocol.
type testClient struct {
	t    *testing.T
	conn net.Conn
}

func connect(t *testing.T, srv *Server, userID string) *testClient {
	t.Helper()

	conn, err := net.Dial("tcp", srv.Addr().String())
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	token, err := auth.GenerateToken(userID, testSecret, time.Minute)
	require.NoError(t, err)

	c := &testClient{t: t, conn: conn}
	c.write(&protocol.HandshakeEvent{
		Type:            protocol.TypeHandshake,
		UserID:          userID,
		Token:           token,
		ProtocolVersion: protocol.ProtocolVersion,
	})

	var ack protocol.HandshakeAckEvent
	c.readInto(&ack)
	require.Equal(t, protocol.TypeHandshakeAck, ack.Type)
	require.Equal(t, userID, ack.UserID)

	return c
}

func (c *testClient) write(event any) {
	c.t.Helper()
	require.NoError(c.t, protocol.WriteEvent(c.conn, event))
}

func (c *testClient) read() []byte {
	c.t.Helper()
	payload, err := protocol.ReadFrameWithTimeout(c.conn, 5*time.Second)
	require.NoError(c.t, err)
	return payload
}

func (c *testClient) readInto(target any) []byte {
	c.t.Helper()
	payload := c.read()
	require.NoError(c.t, json.Unmarshal(payload, target))
	return payload
}

func (c *testClient) join(userID string) {
	c.t.Helper()
	c.write(&protocol.JoinEvent{Type: protocol.TypeJoin, UserID: userID})
}

func newMessageEvent(sender, recipient string) *protocol.MessageEvent {
	return &protocol.MessageEvent{
		Type:            protocol.TypeMessage,
		ClientMessageID: uuid.NewString(),
		SenderID:        sender,
		RecipientID:     recipient,
		ContentType:     protocol.ContentTypeText,
		Content:         "ciphertext|iv|wrappedkey",
	}
}

func TestLiveRelayWithDeliveryReceipt(t *testing.T) {
	srv, _ := startTestServer(t)

	alice := connect(t, srv, "alice")
	alice.join("alice")

	bob := connect(t, srv, "bob")
	bob.join("bob")

	alice.write(newMessageEvent("alice", "bob"))

	var ack protocol.AckEvent
	alice.readInto(&ack)
	require.Equal(t, "ok", ack.Status)
	require.NotNil(t, ack.Message)
	assert.Equal(t, string(status.Sent), ack.Message.Status)

	var relay protocol.MessageDeliveryEvent
	bob.readInto(&relay)
	require.NotNil(t, relay.Message)
	assert.Equal(t, ack.Message.ID, relay.Message.ID)
	assert.Equal(t, "alice", relay.Message.SenderID)

	var receipt protocol.StatusEvent
	alice.readInto(&receipt)
	assert.Equal(t, protocol.TypeStatus, receipt.Type)
	assert.Equal(t, ack.Message.ID, receipt.MessageID)
	assert.Equal(t, string(status.Delivered), receipt.Status)
}

func TestOfflineBufferAndDrainOnJoin(t *testing.T) {
	srv, _ := startTestServer(t)

	alice := connect(t, srv, "alice")
	alice.join("alice")

	// bob is offline: the message must be buffered, not lost.
	alice.write(newMessageEvent("alice", "bob"))

	var ack protocol.AckEvent
	alice.readInto(&ack)
	require.Equal(t, "ok", ack.Status)

	bob := connect(t, srv, "bob")
	bob.join("bob")

	var relay protocol.MessageDeliveryEvent
	bob.readInto(&relay)
	require.NotNil(t, relay.Message)
	assert.Equal(t, ack.Message.ID, relay.Message.ID)

	// Replay advances the message to delivered and the sender hears it.
	var receipt protocol.StatusEvent
	alice.readInto(&receipt)
	assert.Equal(t, ack.Message.ID, receipt.MessageID)
	assert.Equal(t, string(status.Delivered), receipt.Status)
}

func TestDuplicateClientMessageIDAckedOnceRelayedOnce(t *testing.T) {
	srv, _ := startTestServer(t)

	alice := connect(t, srv, "alice")
	alice.join("alice")
	bob := connect(t, srv, "bob")
	bob.join("bob")

	ev := newMessageEvent("alice", "bob")
	alice.write(ev)

	var first protocol.AckEvent
	alice.readInto(&first)
	require.Equal(t, "ok", first.Status)

	var relay protocol.MessageDeliveryEvent
	bob.readInto(&relay)

	var receipt protocol.StatusEvent
	alice.readInto(&receipt)

	// Retransmit after a simulated ack loss: identical ack, no second relay.
	alice.write(ev)

	var second protocol.AckEvent
	alice.readInto(&second)
	require.Equal(t, "ok", second.Status)
	assert.Equal(t, first.Message.ID, second.Message.ID)

	bob.write(&protocol.PingEvent{Type: protocol.TypePing, Timestamp: time.Now().UnixMilli()})
	var pong protocol.PongEvent
	bob.readInto(&pong)
	assert.Equal(t, protocol.TypePong, pong.Type)
}

func TestReadReceiptReachesSender(t *testing.T) {
	srv, _ := startTestServer(t)

	alice := connect(t, srv, "alice")
	alice.join("alice")
	bob := connect(t, srv, "bob")
	bob.join("bob")

	alice.write(newMessageEvent("alice", "bob"))

	var ack protocol.AckEvent
	alice.readInto(&ack)

	var relay protocol.MessageDeliveryEvent
	bob.readInto(&relay)

	var delivered protocol.StatusEvent
	alice.readInto(&delivered)

	bob.write(&protocol.BatchStatusEvent{
		Type:        protocol.TypeBatchStatus,
		MessageIDs:  []int64{ack.Message.ID},
		Status:      string(status.Read),
		RecipientID: "bob",
	})

	var read protocol.BatchStatusEvent
	alice.readInto(&read)
	assert.Equal(t, protocol.TypeBatchStatus, read.Type)
	assert.Equal(t, []int64{ack.Message.ID}, read.MessageIDs)
	assert.Equal(t, string(status.Read), read.Status)
}

func TestHandshakeRejectsMismatchedIdentity(t *testing.T) {
	srv, _ := startTestServer(t)

	conn, err := net.Dial("tcp", srv.Addr().String())
	require.NoError(t, err)
	defer conn.Close()

	token, err := auth.GenerateToken("mallory", testSecret, time.Minute)
	require.NoError(t, err)

	require.NoError(t, protocol.WriteEvent(conn, &protocol.HandshakeEvent{
		Type:            protocol.TypeHandshake,
		UserID:          "alice",
		Token:           token,
		ProtocolVersion: protocol.ProtocolVersion,
	}))

	payload, err := protocol.ReadFrameWithTimeout(conn, 5*time.Second)
	require.NoError(t, err)

	var errEvent protocol.ErrorEvent
	require.NoError(t, json.Unmarshal(payload, &errEvent))
	assert.Equal(t, protocol.TypeError, errEvent.Type)
	assert.Equal(t, protocol.CodeUnauthorized, errEvent.Code)
}

func TestSpoofedSenderClosesSession(t *testing.T) {
	srv, _ := startTestServer(t)

	mallory := connect(t, srv, "mallory")
	mallory.join("mallory")

	mallory.write(newMessageEvent("alice", "bob"))

	var errEvent protocol.ErrorEvent
	mallory.readInto(&errEvent)
	assert.Equal(t, protocol.CodeUnauthorized, errEvent.Code)

	// The server hangs up after the error event.
	_, err := protocol.ReadFrameWithTimeout(mallory.conn, 5*time.Second)
	assert.Error(t, err)
}

func TestTypingForwardedOnlyWhenOnline(t *testing.T) {
	srv, _ := startTestServer(t)

	alice := connect(t, srv, "alice")
	alice.join("alice")
	bob := connect(t, srv, "bob")
	bob.join("bob")

	alice.write(&protocol.TypingEvent{Type: protocol.TypeTyping, UserID: "alice", RecipientID: "bob"})

	var typing protocol.TypingEvent
	bob.readInto(&typing)
	assert.Equal(t, protocol.TypeTyping, typing.Type)
	assert.Equal(t, "alice", typing.UserID)

	// To an offline recipient the indicator is silently dropped; the
	// session stays healthy.
	alice.write(&protocol.TypingEvent{Type: protocol.TypeTyping, UserID: "alice", RecipientID: "carol"})
	alice.write(&protocol.PingEvent{Type: protocol.TypePing, Timestamp: time.Now().UnixMilli()})

	var pong protocol.PongEvent
	alice.readInto(&pong)
	assert.Equal(t, protocol.TypePong, pong.Type)
}

func TestEditAndDeleteReachRecipient(t *testing.T) {
	srv, _ := startTestServer(t)

	alice := connect(t, srv, "alice")
	alice.join("alice")
	bob := connect(t, srv, "bob")
	bob.join("bob")

	alice.write(newMessageEvent("alice", "bob"))

	var ack protocol.AckEvent
	alice.readInto(&ack)
	var relay protocol.MessageDeliveryEvent
	bob.readInto(&relay)
	var delivered protocol.StatusEvent
	alice.readInto(&delivered)

	alice.write(&protocol.EditMessageEvent{
		Type:      protocol.TypeEditMessage,
		MessageID: ack.Message.ID,
		SenderID:  "alice",
		Content:   "new-ciphertext",
	})

	var edit protocol.EditMessageEvent
	bob.readInto(&edit)
	assert.Equal(t, ack.Message.ID, edit.MessageID)
	assert.Equal(t, "new-ciphertext", edit.Content)

	alice.write(&protocol.DeleteMessageEvent{
		Type:      protocol.TypeDeleteMessage,
		MessageID: ack.Message.ID,
		SenderID:  "alice",
	})

	var del protocol.DeleteMessageEvent
	bob.readInto(&del)
	assert.Equal(t, ack.Message.ID, del.MessageID)
}
