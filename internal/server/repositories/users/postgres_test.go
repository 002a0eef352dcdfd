package users

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hirewire/messaging/internal/common"
)

func newRepoWithMock(t *testing.T) (*PostgresRepository, sqlmock.Sqlmock, *sql.DB) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return NewPostgresRepository(db), mock, db
}

func TestGetByID(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectQuery(`SELECT id, username, photo_url, status_text, last_seen, public_key_pem FROM users`).
		WithArgs("alice").
		WillReturnRows(sqlmock.NewRows([]string{"id", "username", "photo_url", "status_text", "last_seen", "public_key_pem"}).
			AddRow("alice", "Alice", "", "hiring!", time.Now(), "PEM"))

	u, err := repo.GetByID(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, "Alice", u.Username)
}

func TestGetByIDNotFound(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectQuery(`SELECT .* FROM users`).WillReturnError(sql.ErrNoRows)

	_, err := repo.GetByID(context.Background(), "ghost")
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestPublicKeyMissing(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectQuery(`SELECT public_key_pem FROM users`).WillReturnError(sql.ErrNoRows)
	_, err := repo.PublicKey(context.Background(), "ghost")
	assert.ErrorIs(t, err, common.ErrKeyNotFound)

	mock.ExpectQuery(`SELECT public_key_pem FROM users`).
		WillReturnRows(sqlmock.NewRows([]string{"public_key_pem"}).AddRow(""))
	_, err = repo.PublicKey(context.Background(), "keyless")
	assert.ErrorIs(t, err, common.ErrKeyNotFound)
}

func TestContacts(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectQuery(`SELECT contact_id FROM contacts WHERE user_id=\$1`).
		WithArgs("alice").
		WillReturnRows(sqlmock.NewRows([]string{"contact_id"}).AddRow("bob").AddRow("carol"))

	got, err := repo.Contacts(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, []string{"bob", "carol"}, got)
}
