package identity

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/uptrace/bun"
)

// AccountModel maps the accounts table for bun.
type AccountModel struct {
	bun.BaseModel `bun:"table:accounts,alias:a"`

	ID            int64          `bun:"id,pk,autoincrement"`
	Username      string         `bun:"username,notnull,unique"`
	Name          string         `bun:"name,notnull"`
	Email         string         `bun:"email,notnull"`
	Phone         sql.NullString `bun:"phone,unique:accounts_phone_country_code"`
	CountryCode   sql.NullString `bun:"country_code,unique:accounts_phone_country_code"`
	PasswordHash  sql.NullString `bun:"password_hash"`
	PasscodeHash  sql.NullString `bun:"passcode_hash"`
	EmailVerified bool           `bun:"email_verified,notnull"`
	PhoneVerified bool           `bun:"phone_verified,notnull"`
	Active        bool           `bun:"active,notnull"`
	CreatedAt     time.Time      `bun:"created_at,notnull"`
	UpdatedAt     time.Time      `bun:"updated_at,notnull"`
}

func toModel(a Account) *AccountModel {
	return &AccountModel{
		ID:            a.ID,
		Username:      a.Username,
		Name:          a.Name,
		Email:         a.Email,
		Phone:         nullString(a.Phone),
		CountryCode:   nullString(a.CountryCode),
		PasswordHash:  nullString(a.PasswordHash),
		PasscodeHash:  nullString(a.PasscodeHash),
		EmailVerified: a.EmailVerified,
		PhoneVerified: a.PhoneVerified,
		Active:        a.Active,
		CreatedAt:     a.CreatedAt.UTC(),
		UpdatedAt:     a.UpdatedAt.UTC(),
	}
}

func (m *AccountModel) account() Account {
	return Account{
		ID:            m.ID,
		Username:      m.Username,
		Name:          m.Name,
		Email:         m.Email,
		Phone:         m.Phone.String,
		CountryCode:   m.CountryCode.String,
		PasswordHash:  m.PasswordHash.String,
		PasscodeHash:  m.PasscodeHash.String,
		EmailVerified: m.EmailVerified,
		PhoneVerified: m.PhoneVerified,
		Active:        m.Active,
		CreatedAt:     m.CreatedAt.UTC(),
		UpdatedAt:     m.UpdatedAt.UTC(),
	}
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// SQLiteRepository implements Repository on an embedded SQLite database via
// bun.
type SQLiteRepository struct {
	db *bun.DB
}

// NewSQLiteRepository builds a bun-backed account repository.
func NewSQLiteRepository(db *bun.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// CreateSchema creates the accounts table and its unique indexes.
func (r *SQLiteRepository) CreateSchema(ctx context.Context) error {
	if _, err := r.db.NewCreateTable().Model((*AccountModel)(nil)).IfNotExists().Exec(ctx); err != nil {
		return err
	}
	// emails compare case-insensitively
	_, err := r.db.NewCreateIndex().Model((*AccountModel)(nil)).
		Unique().Index("accounts_email_key").IfNotExists().
		ColumnExpr("lower(email)").Exec(ctx)
	return err
}

func (r *SQLiteRepository) FindConflicts(ctx context.Context, username, email, phone, countryCode string) ([]Account, error) {
	var models []AccountModel
	err := r.db.NewSelect().Model(&models).
		Where("username = ?", username).
		WhereOr("lower(email) = lower(?)", email).
		WhereOr("(phone = ? AND country_code = ?)", phone, countryCode).
		Scan(ctx)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	out := make([]Account, 0, len(models))
	for i := range models {
		out = append(out, models[i].account())
	}
	return out, nil
}

func (r *SQLiteRepository) Insert(ctx context.Context, a Account) (int64, error) {
	m := toModel(a)
	m.ID = 0
	if _, err := r.db.NewInsert().Model(m).Exec(ctx); err != nil {
		if field := sqliteUniqueField(err); field != "" {
			return 0, &ConflictError{Field: field}
		}
		return 0, err
	}
	return m.ID, nil
}

func (r *SQLiteRepository) FindByID(ctx context.Context, id int64) (Account, error) {
	return r.findOne(ctx, func(q *bun.SelectQuery) *bun.SelectQuery {
		return q.Where("id = ?", id)
	})
}

func (r *SQLiteRepository) FindByEmail(ctx context.Context, email string) (Account, error) {
	return r.findOne(ctx, func(q *bun.SelectQuery) *bun.SelectQuery {
		return q.Where("lower(email) = lower(?)", email)
	})
}

func (r *SQLiteRepository) FindActiveByEmail(ctx context.Context, email string) (Account, error) {
	return r.findOne(ctx, func(q *bun.SelectQuery) *bun.SelectQuery {
		return q.Where("lower(email) = lower(?)", email).Where("active = ?", true)
	})
}

func (r *SQLiteRepository) findOne(ctx context.Context, where func(*bun.SelectQuery) *bun.SelectQuery) (Account, error) {
	m := new(AccountModel)
	err := where(r.db.NewSelect().Model(m)).Limit(1).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return Account{}, ErrNotFound
	}
	if err != nil {
		return Account{}, err
	}
	return m.account(), nil
}

func (r *SQLiteRepository) MarkVerified(ctx context.Context, id int64, at time.Time) error {
	q := r.db.NewUpdate().Model((*AccountModel)(nil)).
		Set("email_verified = ?", true).
		Set("phone_verified = ?", true).
		Set("updated_at = ?", at.UTC()).
		Where("id = ?", id).
		Where("NOT (email_verified AND phone_verified)")
	return affected(q.Exec(ctx))
}

func (r *SQLiteRepository) UpdatePasscode(ctx context.Context, id int64, hash string, at time.Time) error {
	return r.updateActive(ctx, id, "passcode_hash", hash, at)
}

func (r *SQLiteRepository) UpdatePassword(ctx context.Context, id int64, hash string, at time.Time) error {
	return r.updateActive(ctx, id, "password_hash", hash, at)
}

func (r *SQLiteRepository) updateActive(ctx context.Context, id int64, column, hash string, at time.Time) error {
	q := r.db.NewUpdate().Model((*AccountModel)(nil)).
		Set("? = ?", bun.Ident(column), hash).
		Set("updated_at = ?", at.UTC()).
		Where("id = ?", id).
		Where("active = ?", true)
	return affected(q.Exec(ctx))
}

func affected(res sql.Result, err error) error {
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// sqliteUniqueField reads the column list out of a
// "UNIQUE constraint failed: accounts.email" message.
func sqliteUniqueField(err error) string {
	msg := err.Error()
	idx := strings.Index(msg, "UNIQUE constraint failed:")
	if idx < 0 {
		return ""
	}
	return constraintField(msg[idx:])
}
