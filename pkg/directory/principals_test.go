package directory

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/platinummonkey/websso/pkg/auth"
)

// Test helper to create a new mock store
func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock, *sql.DB) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	store := NewStore(db)
	fixed := time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return fixed }
	return store, mock, db
}

var principalRowColumns = []string{
	"id", "login", "email", "nicename", "display_name", "first_name", "last_name",
	"is_network_admin", "created_at", "updated_at",
}

func TestFindPrincipalByLogin(t *testing.T) {
	ctx := context.Background()

	t.Run("found with metadata", func(t *testing.T) {
		store, mock, db := newMockStore(t)
		defer db.Close()
		now := time.Now()

		mock.ExpectQuery(`SELECT id, login, email, .* FROM users WHERE login = \$1`).
			WithArgs("jdoe1").
			WillReturnRows(sqlmock.NewRows(principalRowColumns).
				AddRow(7, "jdoe1", "jane.doe@fau.de", "jdoe1", "Jane Doe", "Jane", "Doe", false, now, now))
		mock.ExpectQuery(`SELECT meta_key, meta_value FROM user_meta WHERE user_id = \$1`).
			WithArgs(int64(7)).
			WillReturnRows(sqlmock.NewRows([]string{"meta_key", "meta_value"}).
				AddRow(metaAffiliations, `["member","staff"]`).
				AddRow(metaEntitlements, `[]`))

		p, err := store.FindPrincipalByLogin(ctx, "jdoe1")
		require.NoError(t, err)
		assert.Equal(t, int64(7), p.ID)
		assert.Equal(t, "jane.doe@fau.de", p.Email)
		assert.Equal(t, []string{"member", "staff"}, p.Metadata.Affiliations)
		assert.Equal(t, []string{}, p.Metadata.Entitlements)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("not found", func(t *testing.T) {
		store, mock, db := newMockStore(t)
		defer db.Close()

		mock.ExpectQuery(`FROM users WHERE login = \$1`).
			WithArgs("nobody").
			WillReturnError(sql.ErrNoRows)

		_, err := store.FindPrincipalByLogin(ctx, "nobody")
		assert.ErrorIs(t, err, ErrNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("database error", func(t *testing.T) {
		store, mock, db := newMockStore(t)
		defer db.Close()

		mock.ExpectQuery(`FROM users WHERE login = \$1`).
			WithArgs("jdoe1").
			WillReturnError(errors.New("connection refused"))

		_, err := store.FindPrincipalByLogin(ctx, "jdoe1")
		require.Error(t, err)
		assert.NotErrorIs(t, err, ErrNotFound)
		assert.Contains(t, err.Error(), "failed to get principal")
	})
}

func TestCreatePrincipal(t *testing.T) {
	ctx := context.Background()

	t.Run("hashes a placeholder password", func(t *testing.T) {
		store, mock, db := newMockStore(t)
		defer db.Close()

		mock.ExpectBegin()
		mock.ExpectQuery(`INSERT INTO users`).
			WithArgs("jdoe1", "jane.doe@fau.de", "jdoe1", "Jane Doe", "Jane", "Doe",
				sqlmock.AnyArg(), false, store.now(), store.now()).
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(42))
		mock.ExpectExec(`INSERT INTO user_meta`).
			WithArgs(int64(42), metaAffiliations, `[]`).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(`INSERT INTO user_meta`).
			WithArgs(int64(42), metaEntitlements, `[]`).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		p, err := store.CreatePrincipal(ctx, NewPrincipal{
			Login:       "jdoe1",
			Email:       "jane.doe@fau.de",
			DisplayName: "Jane Doe",
			FirstName:   "Jane",
			LastName:    "Doe",
		})
		require.NoError(t, err)
		assert.Equal(t, int64(42), p.ID)
		assert.Equal(t, "jdoe1", p.Nicename)
		assert.NotNil(t, p.Metadata.Affiliations)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("rejects empty login", func(t *testing.T) {
		store, mock, db := newMockStore(t)
		defer db.Close()

		_, err := store.CreatePrincipal(ctx, NewPrincipal{Email: "a@b.de"})
		assert.ErrorIs(t, err, ErrInvalidPrincipal)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("rejects overlong login", func(t *testing.T) {
		store, _, db := newMockStore(t)
		defer db.Close()

		login := ""
		for i := 0; i < 61; i++ {
			login += "a"
		}
		_, err := store.CreatePrincipal(ctx, NewPrincipal{Login: login, Email: "a@b.de"})
		assert.ErrorIs(t, err, ErrInvalidPrincipal)
	})

	t.Run("unique violation", func(t *testing.T) {
		store, mock, db := newMockStore(t)
		defer db.Close()

		mock.ExpectBegin()
		mock.ExpectQuery(`INSERT INTO users`).
			WillReturnError(&pq.Error{Code: "23505"})
		mock.ExpectRollback()

		_, err := store.CreatePrincipal(ctx, NewPrincipal{Login: "jdoe1", Email: "a@b.de"})
		assert.ErrorIs(t, err, ErrLoginExists)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("writes metadata in the same transaction", func(t *testing.T) {
		store, mock, db := newMockStore(t)
		defer db.Close()

		mock.ExpectBegin()
		mock.ExpectQuery(`INSERT INTO users`).
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(9))
		mock.ExpectExec(`INSERT INTO user_meta`).
			WithArgs(int64(9), metaAffiliations, `["staff"]`).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(`INSERT INTO user_meta`).
			WithArgs(int64(9), metaEntitlements, `[]`).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		p, err := store.CreatePrincipal(ctx, NewPrincipal{
			Login:    "jdoe1",
			Email:    "a@b.de",
			Metadata: auth.Metadata{Affiliations: []string{"staff"}},
		})
		require.NoError(t, err)
		assert.Equal(t, []string{"staff"}, p.Metadata.Affiliations)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("metadata failure rolls back the insert", func(t *testing.T) {
		store, mock, db := newMockStore(t)
		defer db.Close()

		mock.ExpectBegin()
		mock.ExpectQuery(`INSERT INTO users`).
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(9))
		mock.ExpectExec(`INSERT INTO user_meta`).WillReturnError(errors.New("disk full"))
		mock.ExpectRollback()

		_, err := store.CreatePrincipal(ctx, NewPrincipal{Login: "jdoe1", Email: "a@b.de"})
		require.Error(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestUpdatePrincipalMetadata(t *testing.T) {
	ctx := context.Background()

	t.Run("upserts both keys", func(t *testing.T) {
		store, mock, db := newMockStore(t)
		defer db.Close()

		mock.ExpectBegin()
		mock.ExpectExec(`INSERT INTO user_meta`).
			WithArgs(int64(7), metaAffiliations, `["staff"]`).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(`INSERT INTO user_meta`).
			WithArgs(int64(7), metaEntitlements, `[]`).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(`UPDATE users SET updated_at = \$1 WHERE id = \$2`).
			WithArgs(store.now(), int64(7)).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		err := store.UpdatePrincipalMetadata(ctx, 7, auth.Metadata{Affiliations: []string{"staff"}})
		require.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("rolls back on failure", func(t *testing.T) {
		store, mock, db := newMockStore(t)
		defer db.Close()

		mock.ExpectBegin()
		mock.ExpectExec(`INSERT INTO user_meta`).WillReturnError(errors.New("disk full"))
		mock.ExpectRollback()

		err := store.UpdatePrincipalMetadata(ctx, 7, auth.Metadata{})
		require.Error(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestCheckPassword(t *testing.T) {
	ctx := context.Background()
	hash, err := bcrypt.GenerateFromPassword([]byte("s3cret"), bcrypt.MinCost)
	require.NoError(t, err)

	t.Run("wrong password", func(t *testing.T) {
		store, mock, db := newMockStore(t)
		defer db.Close()

		mock.ExpectQuery(`SELECT id, password_hash FROM users WHERE login = \$1`).
			WithArgs("jdoe1").
			WillReturnRows(sqlmock.NewRows([]string{"id", "password_hash"}).AddRow(7, string(hash)))

		_, err := store.CheckPassword(ctx, "jdoe1", "wrong")
		assert.ErrorIs(t, err, ErrInvalidCredentials)
	})

	t.Run("unknown login", func(t *testing.T) {
		store, mock, db := newMockStore(t)
		defer db.Close()

		mock.ExpectQuery(`SELECT id, password_hash FROM users`).
			WithArgs("ghost").
			WillReturnError(sql.ErrNoRows)

		_, err := store.CheckPassword(ctx, "ghost", "s3cret")
		assert.ErrorIs(t, err, ErrInvalidCredentials)
	})
}

func TestGeneratePlaceholder(t *testing.T) {
	a, err := generatePlaceholder()
	require.NoError(t, err)
	b, err := generatePlaceholder()
	require.NoError(t, err)

	assert.Len(t, a, 64)
	assert.NotEqual(t, a, b)
}
