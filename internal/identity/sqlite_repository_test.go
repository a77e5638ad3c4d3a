package identity

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
)

func setupSQLiteRepo(t *testing.T) *SQLiteRepository {
	t.Helper()
	sqldb, err := sql.Open(sqliteshim.ShimName, ":memory:")
	require.NoError(t, err)
	sqldb.SetMaxOpenConns(1)

	db := bun.NewDB(sqldb, sqlitedialect.New())
	t.Cleanup(func() { _ = db.Close() })

	repo := NewSQLiteRepository(db)
	require.NoError(t, repo.CreateSchema(context.Background()))
	return repo
}

func sampleAccount(username, email, phone string) Account {
	now := time.Date(2026, 2, 3, 4, 5, 6, 0, time.UTC)
	return Account{
		Username:     username,
		Name:         "Sample " + username,
		Email:        email,
		Phone:        phone,
		CountryCode:  "+1",
		PasswordHash: "$2a$04$hash",
		Active:       true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

func TestSQLiteRepositoryInsertAndFind(t *testing.T) {
	repo := setupSQLiteRepo(t)
	ctx := context.Background()

	id, err := repo.Insert(ctx, sampleAccount("alice", "alice@example.com", "2025550143"))
	require.NoError(t, err)
	require.NotZero(t, id)

	got, err := repo.FindByID(ctx, id)
	require.NoError(t, err)
	require.Equal(t, "alice", got.Username)
	require.Equal(t, "2025550143", got.Phone)
	require.Equal(t, "+1", got.CountryCode)
	require.Empty(t, got.PasscodeHash)
	require.True(t, got.Active)

	byEmail, err := repo.FindByEmail(ctx, "alice@example.com")
	require.NoError(t, err)
	require.Equal(t, id, byEmail.ID)

	_, err = repo.FindByID(ctx, id+100)
	require.ErrorIs(t, err, ErrNotFound)
	_, err = repo.FindByEmail(ctx, "missing@example.com")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestSQLiteRepositoryUniqueConstraints(t *testing.T) {
	repo := setupSQLiteRepo(t)
	ctx := context.Background()

	_, err := repo.Insert(ctx, sampleAccount("alice", "alice@example.com", "2025550143"))
	require.NoError(t, err)

	cases := []struct {
		name    string
		account Account
		field   string
	}{
		{"username", sampleAccount("alice", "a2@example.com", "2025550100"), FieldUsername},
		{"email", sampleAccount("alice2", "alice@example.com", "2025550100"), FieldEmail},
		{"email case", sampleAccount("alice4", "ALICE@Example.com", "2025550101"), FieldEmail},
		{"phone pair", sampleAccount("alice3", "a3@example.com", "2025550143"), FieldPhone},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := repo.Insert(ctx, tc.account)
			var ce *ConflictError
			require.ErrorAs(t, err, &ce)
			require.Equal(t, tc.field, ce.Field)
		})
	}

	// federated accounts carry no phone and must not collide with each other
	fed1 := sampleAccount("fed1", "fed1@example.com", "")
	fed1.CountryCode = ""
	fed2 := sampleAccount("fed2", "fed2@example.com", "")
	fed2.CountryCode = ""
	_, err = repo.Insert(ctx, fed1)
	require.NoError(t, err)
	_, err = repo.Insert(ctx, fed2)
	require.NoError(t, err)

	rows, err := repo.FindConflicts(ctx, "zed", "alice@example.com", "2025550143", "+1")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, FieldEmail, conflictField(rows, "zed", "alice@example.com", "2025550143", "+1"))

	found, err := repo.FindByEmail(ctx, "Alice@EXAMPLE.com")
	require.NoError(t, err)
	require.Equal(t, "alice", found.Username)
	found, err = repo.FindActiveByEmail(ctx, "ALICE@example.com")
	require.NoError(t, err)
	require.Equal(t, "alice", found.Username)
}

func TestSQLiteRepositoryConditionalUpdates(t *testing.T) {
	repo := setupSQLiteRepo(t)
	ctx := context.Background()
	at := time.Date(2026, 2, 4, 0, 0, 0, 0, time.UTC)

	id, err := repo.Insert(ctx, sampleAccount("alice", "alice@example.com", "2025550143"))
	require.NoError(t, err)

	require.NoError(t, repo.MarkVerified(ctx, id, at))
	require.ErrorIs(t, repo.MarkVerified(ctx, id, at), ErrNotFound, "second verify affects no row")

	got, err := repo.FindByID(ctx, id)
	require.NoError(t, err)
	require.True(t, got.EmailVerified)
	require.True(t, got.PhoneVerified)
	require.True(t, got.UpdatedAt.Equal(at))

	require.NoError(t, repo.UpdatePasscode(ctx, id, "passcode-hash", at))
	require.NoError(t, repo.UpdatePassword(ctx, id, "password-hash", at))
	got, err = repo.FindByID(ctx, id)
	require.NoError(t, err)
	require.Equal(t, "passcode-hash", got.PasscodeHash)
	require.Equal(t, "password-hash", got.PasswordHash)

	_, err = repo.db.NewUpdate().Model((*AccountModel)(nil)).
		Set("active = ?", false).
		Where("id = ?", id).
		Exec(ctx)
	require.NoError(t, err)

	require.ErrorIs(t, repo.UpdatePasscode(ctx, id, "x", at), ErrNotFound)
	require.ErrorIs(t, repo.UpdatePassword(ctx, id, "x", at), ErrNotFound)
	_, err = repo.FindActiveByEmail(ctx, "alice@example.com")
	require.ErrorIs(t, err, ErrNotFound)
	_, err = repo.FindByEmail(ctx, "alice@example.com")
	require.NoError(t, err)

	require.ErrorIs(t, repo.UpdatePassword(ctx, id+1, "x", at), ErrNotFound)
}
