package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Uniqueness fields reported by ConflictError.
const (
	FieldUsername = "username"
	FieldEmail    = "email"
	FieldPhone    = "phone"
)

// ErrNotFound is returned by lookups with no match and by conditional updates
// that affected no row.
var ErrNotFound = errors.New("account not found")

// ConflictError reports which unique field an insert collided on.
type ConflictError struct {
	Field string
}

func (e *ConflictError) Error() string {
	switch e.Field {
	case FieldPhone:
		return "phone number with this country code already exists"
	default:
		return e.Field + " already exists"
	}
}

// Repository is the query surface the lifecycle engine needs against the
// account table. Implementations must enforce the username, email and
// (phone, country_code) unique constraints on Insert.
type Repository interface {
	FindConflicts(ctx context.Context, username, email, phone, countryCode string) ([]Account, error)
	Insert(ctx context.Context, account Account) (int64, error)
	FindByID(ctx context.Context, id int64) (Account, error)
	FindByEmail(ctx context.Context, email string) (Account, error)
	FindActiveByEmail(ctx context.Context, email string) (Account, error)
	// MarkVerified sets both verification flags on an account that is not
	// already fully verified.
	MarkVerified(ctx context.Context, id int64, at time.Time) error
	// UpdatePasscode and UpdatePassword only touch active accounts.
	UpdatePasscode(ctx context.Context, id int64, hash string, at time.Time) error
	UpdatePassword(ctx context.Context, id int64, hash string, at time.Time) error
}

// conflictField picks the reported field in priority order username, email,
// phone.
func conflictField(rows []Account, username, email, phone, countryCode string) string {
	for _, field := range []string{FieldUsername, FieldEmail, FieldPhone} {
		for _, row := range rows {
			switch {
			case field == FieldUsername && row.Username == username:
				return field
			case field == FieldEmail && strings.EqualFold(row.Email, email):
				return field
			case field == FieldPhone && phone != "" && row.Phone == phone && row.CountryCode == countryCode:
				return field
			}
		}
	}
	return ""
}

// PostgresRepository implements Repository using PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository builds a Postgres-backed account repository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const accountColumns = `id, username, name, email, COALESCE(phone, ''), COALESCE(country_code, ''),
	COALESCE(password_hash, ''), COALESCE(passcode_hash, ''), email_verified, phone_verified, active,
	created_at, updated_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanAccount(row scanner) (Account, error) {
	var a Account
	err := row.Scan(&a.ID, &a.Username, &a.Name, &a.Email, &a.Phone, &a.CountryCode,
		&a.PasswordHash, &a.PasscodeHash, &a.EmailVerified, &a.PhoneVerified, &a.Active,
		&a.CreatedAt, &a.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Account{}, ErrNotFound
	}
	if err != nil {
		return Account{}, err
	}
	a.CreatedAt = a.CreatedAt.UTC()
	a.UpdatedAt = a.UpdatedAt.UTC()
	return a, nil
}

// FindConflicts returns every account sharing the username, the email or the
// phone and country code pair.
func (r *PostgresRepository) FindConflicts(ctx context.Context, username, email, phone, countryCode string) ([]Account, error) {
	rows, err := r.db.Query(ctx, `SELECT `+accountColumns+` FROM accounts
		WHERE username = $1 OR lower(email) = lower($2) OR (phone = $3 AND country_code = $4)`,
		username, email, phone, countryCode)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// Insert creates the account and returns its id. Unique violations come back
// as *ConflictError.
func (r *PostgresRepository) Insert(ctx context.Context, a Account) (int64, error) {
	var id int64
	err := r.db.QueryRow(ctx, `INSERT INTO accounts
		(username, name, email, phone, country_code, password_hash, passcode_hash,
		 email_verified, phone_verified, active, created_at, updated_at)
		VALUES ($1, $2, $3, NULLIF($4, ''), NULLIF($5, ''), NULLIF($6, ''), NULLIF($7, ''), $8, $9, $10, $11, $12)
		RETURNING id`,
		a.Username, a.Name, a.Email, a.Phone, a.CountryCode, a.PasswordHash, a.PasscodeHash,
		a.EmailVerified, a.PhoneVerified, a.Active, a.CreatedAt.UTC(), a.UpdatedAt.UTC()).Scan(&id)
	if err != nil {
		if field := pgUniqueField(err); field != "" {
			return 0, &ConflictError{Field: field}
		}
		return 0, err
	}
	return id, nil
}

// FindByID fetches an account regardless of its state.
func (r *PostgresRepository) FindByID(ctx context.Context, id int64) (Account, error) {
	return scanAccount(r.db.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = $1`, id))
}

// FindByEmail fetches an account by email regardless of its state.
func (r *PostgresRepository) FindByEmail(ctx context.Context, email string) (Account, error) {
	return scanAccount(r.db.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE lower(email) = lower($1)`, email))
}

// FindActiveByEmail fetches an active account by email.
func (r *PostgresRepository) FindActiveByEmail(ctx context.Context, email string) (Account, error) {
	return scanAccount(r.db.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE lower(email) = lower($1) AND active = TRUE`, email))
}

// MarkVerified sets both verification flags unless they are already set.
func (r *PostgresRepository) MarkVerified(ctx context.Context, id int64, at time.Time) error {
	return r.exec(ctx, `UPDATE accounts SET email_verified = TRUE, phone_verified = TRUE, updated_at = $2
		WHERE id = $1 AND NOT (email_verified AND phone_verified)`, id, at.UTC())
}

// UpdatePasscode stores a passcode hash on an active account.
func (r *PostgresRepository) UpdatePasscode(ctx context.Context, id int64, hash string, at time.Time) error {
	return r.exec(ctx, `UPDATE accounts SET passcode_hash = $2, updated_at = $3 WHERE id = $1 AND active = TRUE`, id, hash, at.UTC())
}

// UpdatePassword stores a password hash on an active account.
func (r *PostgresRepository) UpdatePassword(ctx context.Context, id int64, hash string, at time.Time) error {
	return r.exec(ctx, `UPDATE accounts SET password_hash = $2, updated_at = $3 WHERE id = $1 AND active = TRUE`, id, hash, at.UTC())
}

func (r *PostgresRepository) exec(ctx context.Context, sql string, args ...any) error {
	cmd, err := r.db.Exec(ctx, sql, args...)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// pgUniqueField maps a unique_violation onto the colliding field.
func pgUniqueField(err error) string {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != "23505" {
		return ""
	}
	return constraintField(pgErr.ConstraintName)
}

func constraintField(constraint string) string {
	switch {
	case strings.Contains(constraint, "username"):
		return FieldUsername
	case strings.Contains(constraint, "email"):
		return FieldEmail
	case strings.Contains(constraint, "phone"):
		return FieldPhone
	default:
		return fmt.Sprintf("unknown(%s)", constraint)
	}
}
