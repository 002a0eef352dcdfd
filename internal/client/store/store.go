// Package store is the client's durable sqlite state: the local message
// history (plaintext, device-only) and the outbox of sends awaiting a
// server ack.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pressly/goose/v3"

	"github.com/hirewire/messaging/internal/client/migrations"
	"github.com/hirewire/messaging/internal/common"
	"github.com/hirewire/messaging/internal/dbx"
	"github.com/hirewire/messaging/internal/status"
)

// Message is the device-local copy of a chat message. Content here is
// plaintext: incoming messages are decrypted on arrival and own messages
// are stored before encryption.
type Message struct {
	ClientMessageID string
	ServerID        int64
	SenderID        string
	RecipientID     string
	ContentType     string
	Content         string
	Caption         string
	ReplyTo         *int64
	Status          status.Status
	CreatedAt       time.Time
}

// OutboxItem is one send awaiting acknowledgment. Payload is the encoded
// message event, already encrypted, ready for retransmission as-is.
type OutboxItem struct {
	ClientMessageID string
	Payload         []byte
	Attempts        int
	EnqueuedAt      time.Time
}

// Store wraps the sqlite database behind the message and outbox surface.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the local database and applies
// migrations.
func Open(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open local db: %w", err)
	}

	goose.SetBaseFS(migrations.Migrations)
	if err := goose.SetDialect("sqlite3"); err != nil {
		return nil, fmt.Errorf("set goose dialect: %w", err)
	}
	if err := goose.UpContext(ctx, db, "."); err != nil {
		return nil, fmt.Errorf("apply migrations: %w", err)
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the underlying handle for transactions via dbx.WithTx.
func (s *Store) DB() *sql.DB {
	return s.db
}

const messageColumns = `client_message_id, server_id, sender_id, recipient_id, content_type, content, caption, reply_to, status, created_at`

// UpsertPending records an optimistic local copy of an outgoing message.
// Re-running for the same clientMessageId refreshes content but never
// resurrects a message that already advanced past pending.
func (s *Store) UpsertPending(ctx context.Context, m *Message) error {
	return upsertPending(ctx, s.db, m)
}

func upsertPending(ctx context.Context, db dbx.DBTX, m *Message) error {
	query := `INSERT INTO messages (` + messageColumns + `)
		VALUES (?, NULL, ?, ?, ?, ?, ?, ?, 'pending', ?)
		ON CONFLICT(client_message_id) DO UPDATE SET content = excluded.content
			WHERE messages.status = 'pending'`

	_, err := db.ExecContext(ctx, query,
		m.ClientMessageID, m.SenderID, m.RecipientID, m.ContentType,
		m.Content, m.Caption, m.ReplyTo, m.CreatedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("upsert pending: %w", err)
	}
	return nil
}

// SavePendingSend writes the local pending copy and the outbox entry in
// one transaction, so a crash can never leave one without the other.
func (s *Store) SavePendingSend(ctx context.Context, m *Message, payload []byte) error {
	return dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		if err := upsertPending(ctx, tx, m); err != nil {
			return err
		}
		return enqueue(ctx, tx, m.ClientMessageID, payload)
	})
}

// ConfirmAck binds the server id to a local message and advances it to
// sent. Replayed acks are harmless.
func (s *Store) ConfirmAck(ctx context.Context, clientMessageID string, serverID int64) error {
	query := `UPDATE messages SET server_id = ?, status = 'sent'
		WHERE client_message_id = ? AND status IN ('pending', 'failed')`

	_, err := s.db.ExecContext(ctx, query, serverID, clientMessageID)
	if err != nil {
		return fmt.Errorf("confirm ack: %w", err)
	}
	return nil
}

// MarkFailed moves a pending message to failed after the retry budget is
// spent. Only pending messages can fail.
func (s *Store) MarkFailed(ctx context.Context, clientMessageID string) error {
	query := `UPDATE messages SET status = 'failed'
		WHERE client_message_id = ? AND status = 'pending'`

	_, err := s.db.ExecContext(ctx, query, clientMessageID)
	if err != nil {
		return fmt.Errorf("mark failed: %w", err)
	}
	return nil
}

// InsertIncoming stores a decrypted inbound message. Duplicate relays of
// the same clientMessageId are ignored.
func (s *Store) InsertIncoming(ctx context.Context, m *Message) error {
	query := `INSERT INTO messages (` + messageColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(client_message_id) DO NOTHING`

	_, err := s.db.ExecContext(ctx, query,
		m.ClientMessageID, m.ServerID, m.SenderID, m.RecipientID, m.ContentType,
		m.Content, m.Caption, m.ReplyTo, m.Status, m.CreatedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("insert incoming: %w", err)
	}
	return nil
}

// ApplyStatus advances one message, by server id, without regressing.
func (s *Store) ApplyStatus(ctx context.Context, serverID int64, to status.Status) (bool, error) {
	prior := status.Prior(to)
	if len(prior) == 0 {
		return false, nil
	}

	query := `UPDATE messages SET status = ? WHERE server_id = ? AND status IN (` + placeholders(len(prior)) + `)`

	args := make([]any, 0, len(prior)+2)
	args = append(args, to, serverID)
	for _, st := range prior {
		args = append(args, st)
	}

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("apply status: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

// UpdateContent replaces a message's plaintext after a remote edit.
func (s *Store) UpdateContent(ctx context.Context, serverID int64, content string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE messages SET content = ? WHERE server_id = ?`, content, serverID)
	if err != nil {
		return fmt.Errorf("update content: %w", err)
	}
	return nil
}

// DeleteByServerID removes a message after a remote delete.
func (s *Store) DeleteByServerID(ctx context.Context, serverID int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM messages WHERE server_id = ?`, serverID)
	if err != nil {
		return fmt.Errorf("delete message: %w", err)
	}
	return nil
}

// Get fetches one message by its client id.
func (s *Store) Get(ctx context.Context, clientMessageID string) (*Message, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+messageColumns+` FROM messages WHERE client_message_id = ?`, clientMessageID)
	return scanMessage(row)
}

// Conversation returns one page of history with a peer, newest first.
func (s *Store) Conversation(ctx context.Context, selfID, peerID string, limit, skip int) ([]*Message, error) {
	query := `SELECT ` + messageColumns + ` FROM messages
		WHERE (sender_id = ? AND recipient_id = ?) OR (sender_id = ? AND recipient_id = ?)
		ORDER BY created_at DESC, client_message_id DESC LIMIT ? OFFSET ?`

	rows, err := s.db.QueryContext(ctx, query, selfID, peerID, peerID, selfID, limit, skip)
	if err != nil {
		return nil, fmt.Errorf("select conversation: %w", err)
	}
	defer rows.Close()

	var result []*Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, m)
	}
	return result, rows.Err()
}

// Enqueue adds a send to the outbox.
func (s *Store) Enqueue(ctx context.Context, clientMessageID string, payload []byte) error {
	return enqueue(ctx, s.db, clientMessageID, payload)
}

func enqueue(ctx context.Context, db dbx.DBTX, clientMessageID string, payload []byte) error {
	query := `INSERT INTO outbox (client_message_id, payload, enqueued_at) VALUES (?, ?, ?)
		ON CONFLICT(client_message_id) DO NOTHING`

	_, err := db.ExecContext(ctx, query, clientMessageID, string(payload), time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("enqueue outbox: %w", err)
	}
	return nil
}

// PendingOutbox lists outbox items in enqueue order.
func (s *Store) PendingOutbox(ctx context.Context) ([]*OutboxItem, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT client_message_id, payload, attempts, enqueued_at FROM outbox ORDER BY enqueued_at, client_message_id`)
	if err != nil {
		return nil, fmt.Errorf("select outbox: %w", err)
	}
	defer rows.Close()

	var result []*OutboxItem
	for rows.Next() {
		item := &OutboxItem{}
		var payload string
		var enqueuedAt int64
		if err := rows.Scan(&item.ClientMessageID, &payload, &item.Attempts, &enqueuedAt); err != nil {
			return nil, err
		}
		item.Payload = []byte(payload)
		item.EnqueuedAt = time.UnixMilli(enqueuedAt)
		result = append(result, item)
	}
	return result, rows.Err()
}

// RemoveFromOutbox drops an acknowledged send.
func (s *Store) RemoveFromOutbox(ctx context.Context, clientMessageID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM outbox WHERE client_message_id = ?`, clientMessageID)
	if err != nil {
		return fmt.Errorf("remove outbox item: %w", err)
	}
	return nil
}

// IncrementAttempts bumps the retry counter and returns the new value.
func (s *Store) IncrementAttempts(ctx context.Context, clientMessageID string) (int, error) {
	_, err := s.db.ExecContext(ctx,
		`UPDATE outbox SET attempts = attempts + 1 WHERE client_message_id = ?`, clientMessageID)
	if err != nil {
		return 0, fmt.Errorf("increment attempts: %w", err)
	}

	var attempts int
	err = s.db.QueryRowContext(ctx,
		`SELECT attempts FROM outbox WHERE client_message_id = ?`, clientMessageID).Scan(&attempts)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, common.ErrNotFound
		}
		return 0, fmt.Errorf("read attempts: %w", err)
	}
	return attempts, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMessage(row rowScanner) (*Message, error) {
	m := &Message{}
	var serverID, replyTo sql.NullInt64
	var createdAt int64

	err := row.Scan(&m.ClientMessageID, &serverID, &m.SenderID, &m.RecipientID,
		&m.ContentType, &m.Content, &m.Caption, &replyTo, &m.Status, &createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrNotFound
		}
		return nil, fmt.Errorf("scan message: %w", err)
	}

	if serverID.Valid {
		m.ServerID = serverID.Int64
	}
	if replyTo.Valid {
		v := replyTo.Int64
		m.ReplyTo = &v
	}
	m.CreatedAt = time.UnixMilli(createdAt)
	return m, nil
}

func placeholders(n int) string {
	out := make([]byte, 0, n*3)
	for i := 0; i < n; i++ {
		if i > 0 {
			out = append(out, ", "...)
		}
		out = append(out, '?')
	}
	return string(out)
}
