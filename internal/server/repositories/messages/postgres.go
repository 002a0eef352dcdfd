package messages

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/hirewire/messaging/internal/common"
	"github.com/hirewire/messaging/internal/dbx"
	"github.com/hirewire/messaging/internal/server/models"
	"github.com/hirewire/messaging/internal/status"
)

// PostgresRepository implements Repository over a dbx.DBTX
// (*sql.DB or *sql.Tx).
type PostgresRepository struct {
	db dbx.DBTX
}

// NewPostgresRepository constructs a repository bound to the given DBTX.
func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const messageColumns = `id, client_message_id, sender_id, recipient_id, content_type, content, caption, reply_to, status, original_filename, created_at`

func (r *PostgresRepository) InsertOrGet(ctx context.Context, m *models.Message) (*models.Message, bool, error) {
	query := `
		INSERT INTO messages (client_message_id, sender_id, recipient_id, content_type, content, caption, reply_to, status, original_filename)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (sender_id, client_message_id) DO NOTHING
		RETURNING id, created_at;
	`
	row := r.db.QueryRowContext(ctx, query,
		m.ClientMessageID, m.SenderID, m.RecipientID, m.ContentType, m.Content,
		m.Caption, m.ReplyTo, m.Status, m.OriginalFilename)

	inserted := *m
	err := row.Scan(&inserted.ID, &inserted.CreatedAt)
	if err == nil {
		return &inserted, true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, false, fmt.Errorf("insert message: %w", err)
	}

	// Replay of an already-persisted client message ID: hand back the
	// existing record so the ack is idempotent.
	existing, err := r.getByClientID(ctx, m.SenderID, m.ClientMessageID)
	if err != nil {
		return nil, false, err
	}
	return existing, false, nil
}

func (r *PostgresRepository) getByClientID(ctx context.Context, senderID, clientMessageID string) (*models.Message, error) {
	query := `SELECT ` + messageColumns + ` FROM messages WHERE sender_id=$1 AND client_message_id=$2`
	m, err := scanMessage(r.db.QueryRowContext(ctx, query, senderID, clientMessageID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrNotFound
		}
		return nil, fmt.Errorf("get message by client id: %w", err)
	}
	return m, nil
}

func (r *PostgresRepository) GetByID(ctx context.Context, id int64) (*models.Message, error) {
	query := `SELECT ` + messageColumns + ` FROM messages WHERE id=$1`
	m, err := scanMessage(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrNotFound
		}
		return nil, fmt.Errorf("get message %d: %w", id, err)
	}
	return m, nil
}

func (r *PostgresRepository) UpdateStatus(ctx context.Context, id int64, to status.Status) (bool, error) {
	prior := status.Prior(to)
	if len(prior) == 0 {
		return false, fmt.Errorf("%w: unknown status %q", common.ErrValidation, to)
	}

	placeholders, args := inClause(3, prior)
	query := fmt.Sprintf(`UPDATE messages SET status=$1 WHERE id=$2 AND status IN (%s)`, placeholders)

	res, err := r.db.ExecContext(ctx, query, append([]any{to, id}, args...)...)
	if err != nil {
		return false, fmt.Errorf("update status for message %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n == 1, nil
}

func (r *PostgresRepository) UpdateStatusBatch(ctx context.Context, ids []int64, to status.Status, recipientID string) ([]*models.Message, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	prior := status.Prior(to)
	if len(prior) == 0 {
		return nil, fmt.Errorf("%w: unknown status %q", common.ErrValidation, to)
	}

	args := []any{to, recipientID}
	idPlaceholders := make([]string, 0, len(ids))
	for _, id := range ids {
		args = append(args, id)
		idPlaceholders = append(idPlaceholders, fmt.Sprintf("$%d", len(args)))
	}
	priorPlaceholders := make([]string, 0, len(prior))
	for _, p := range prior {
		args = append(args, p)
		priorPlaceholders = append(priorPlaceholders, fmt.Sprintf("$%d", len(args)))
	}

	query := fmt.Sprintf(`
		UPDATE messages SET status=$1
		WHERE recipient_id=$2 AND id IN (%s) AND status IN (%s)
		RETURNING %s`,
		strings.Join(idPlaceholders, ", "), strings.Join(priorPlaceholders, ", "), messageColumns)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("batch update status: %w", err)
	}
	defer rows.Close()

	var updated []*models.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		updated = append(updated, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return updated, nil
}

func (r *PostgresRepository) Conversation(ctx context.Context, userID, peerID string, limit, skip int) ([]*models.Message, bool, error) {
	if limit <= 0 {
		limit = 50
	}
	if skip < 0 {
		skip = 0
	}

	query := `
		SELECT ` + messageColumns + ` FROM messages
		WHERE (sender_id=$1 AND recipient_id=$2) OR (sender_id=$2 AND recipient_id=$1)
		ORDER BY created_at DESC, id DESC
		LIMIT $3 OFFSET $4`

	rows, err := r.db.QueryContext(ctx, query, userID, peerID, limit+1, skip)
	if err != nil {
		return nil, false, fmt.Errorf("select conversation: %w", err)
	}
	defer rows.Close()

	var result []*models.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, false, err
		}
		result = append(result, m)
	}
	if err := rows.Err(); err != nil {
		return nil, false, err
	}

	hasMore := len(result) > limit
	if hasMore {
		result = result[:limit]
	}
	return result, hasMore, nil
}

func (r *PostgresRepository) UpdateContent(ctx context.Context, id int64, senderID, content string) error {
	query := `UPDATE messages SET content=$1 WHERE id=$2 AND sender_id=$3`
	res, err := r.db.ExecContext(ctx, query, content, id, senderID)
	if err != nil {
		return fmt.Errorf("update content for message %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return common.ErrNotFound
	}
	return nil
}

func (r *PostgresRepository) DeleteByID(ctx context.Context, id int64, senderID string) error {
	query := `DELETE FROM messages WHERE id=$1 AND sender_id=$2`
	res, err := r.db.ExecContext(ctx, query, id, senderID)
	if err != nil {
		return fmt.Errorf("delete message %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return common.ErrNotFound
	}
	return nil
}

func (r *PostgresRepository) DistinctPeers(ctx context.Context, userID string) ([]string, error) {
	query := `
		SELECT DISTINCT CASE WHEN sender_id=$1 THEN recipient_id ELSE sender_id END AS peer
		FROM messages
		WHERE sender_id=$1 OR recipient_id=$1`

	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("select message peers: %w", err)
	}
	defer rows.Close()

	var peers []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, err
		}
		peers = append(peers, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return peers, nil
}

func (r *PostgresRepository) LatestBetween(ctx context.Context, userID, peerID string) (*models.Message, error) {
	query := `
		SELECT ` + messageColumns + ` FROM messages
		WHERE (sender_id=$1 AND recipient_id=$2) OR (sender_id=$2 AND recipient_id=$1)
		ORDER BY created_at DESC, id DESC
		LIMIT 1`

	m, err := scanMessage(r.db.QueryRowContext(ctx, query, userID, peerID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("select latest message: %w", err)
	}
	return m, nil
}

func (r *PostgresRepository) UnreadCount(ctx context.Context, userID, peerID string) (int, error) {
	query := `SELECT count(*) FROM messages WHERE recipient_id=$1 AND sender_id=$2 AND status <> 'read'`

	var n int
	if err := r.db.QueryRowContext(ctx, query, userID, peerID).Scan(&n); err != nil {
		return 0, fmt.Errorf("count unread: %w", err)
	}
	return n, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanMessage(row scanner) (*models.Message, error) {
	var (
		m       models.Message
		replyTo sql.NullInt64
	)
	if err := row.Scan(
		&m.ID, &m.ClientMessageID, &m.SenderID, &m.RecipientID, &m.ContentType,
		&m.Content, &m.Caption, &replyTo, &m.Status, &m.OriginalFilename, &m.CreatedAt,
	); err != nil {
		return nil, err
	}
	if replyTo.Valid {
		m.ReplyTo = &replyTo.Int64
	}
	return &m, nil
}

func inClause(start int, statuses []status.Status) (string, []any) {
	placeholders := make([]string, 0, len(statuses))
	args := make([]any, 0, len(statuses))
	for i, s := range statuses {
		placeholders = append(placeholders, fmt.Sprintf("$%d", start+i))
		args = append(args, s)
	}
	return strings.Join(placeholders, ", "), args
}
