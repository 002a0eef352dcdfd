package users

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/hirewire/messaging/internal/common"
	"github.com/hirewire/messaging/internal/dbx"
	"github.com/hirewire/messaging/internal/server/models"
)

// PostgresRepository implements Repository over a dbx.DBTX.
type PostgresRepository struct {
	db dbx.DBTX
}

// NewPostgresRepository constructs a repository bound to the given DBTX.
func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*models.User, error) {
	query := `SELECT id, username, photo_url, status_text, last_seen, public_key_pem FROM users WHERE id=$1`

	var u models.User
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&u.ID, &u.Username, &u.PhotoURL, &u.StatusText, &u.LastSeen, &u.PublicKeyPEM)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrNotFound
		}
		return nil, fmt.Errorf("select user %q: %w", id, err)
	}
	return &u, nil
}

func (r *PostgresRepository) PublicKey(ctx context.Context, id string) (string, error) {
	query := `SELECT public_key_pem FROM users WHERE id=$1`

	var pem string
	err := r.db.QueryRowContext(ctx, query, id).Scan(&pem)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", common.ErrKeyNotFound
		}
		return "", fmt.Errorf("select public key for %q: %w", id, err)
	}
	if pem == "" {
		return "", common.ErrKeyNotFound
	}
	return pem, nil
}

func (r *PostgresRepository) Contacts(ctx context.Context, userID string) ([]string, error) {
	query := `SELECT contact_id FROM contacts WHERE user_id=$1`

	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("select contacts for %q: %w", userID, err)
	}
	defer rows.Close()

	var contacts []string
	for rows.Next() {
		var c string
		if err := rows.Scan(&c); err != nil {
			return nil, err
		}
		contacts = append(contacts, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return contacts, nil
}

func (r *PostgresRepository) UpdateLastSeen(ctx context.Context, userID string, at time.Time) error {
	query := `UPDATE users SET last_seen=$1 WHERE id=$2`
	if _, err := r.db.ExecContext(ctx, query, at, userID); err != nil {
		return fmt.Errorf("update last_seen for %q: %w", userID, err)
	}
	return nil
}
