package submission

import (
	"context"
	"time"

	"github.com/uptrace/bun"
)

// VerificationModel maps verification_submissions for bun.
type VerificationModel struct {
	bun.BaseModel `bun:"table:verification_submissions,alias:vs"`

	ID           int64     `bun:"id,pk,autoincrement"`
	AccountID    int64     `bun:"account_id,notnull"`
	FirstName    string    `bun:"first_name,notnull"`
	LastName     string    `bun:"last_name,notnull"`
	DOB          string    `bun:"dob,notnull"`
	Country      string    `bun:"country,notnull"`
	Address      string    `bun:"address,notnull"`
	IDType       string    `bun:"id_type,notnull"`
	DocumentPath string    `bun:"document_path,notnull"`
	CreatedAt    time.Time `bun:"created_at,notnull"`
}

// TransactionModel maps transaction_submissions for bun.
type TransactionModel struct {
	bun.BaseModel `bun:"table:transaction_submissions,alias:ts"`

	ID             int64     `bun:"id,pk,autoincrement"`
	AccountID      int64     `bun:"account_id,notnull"`
	DepositAddress string    `bun:"deposit_address,notnull"`
	XLMAmount      string    `bun:"xlm_amount,notnull"`
	Name           string    `bun:"name,notnull"`
	Email          string    `bun:"email,notnull"`
	Phone          string    `bun:"phone,notnull"`
	TransactionID  string    `bun:"transaction_id,notnull"`
	ProofPath      string    `bun:"proof_path,notnull"`
	CreatedAt      time.Time `bun:"created_at,notnull"`
}

// SQLiteRepository implements Repository on SQLite via bun.
type SQLiteRepository struct {
	db *bun.DB
}

// NewSQLiteRepository builds a bun-backed submission repository.
func NewSQLiteRepository(db *bun.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// CreateSchema creates both submission tables and their account indexes.
func (r *SQLiteRepository) CreateSchema(ctx context.Context) error {
	for _, model := range []any{(*VerificationModel)(nil), (*TransactionModel)(nil)} {
		if _, err := r.db.NewCreateTable().Model(model).IfNotExists().Exec(ctx); err != nil {
			return err
		}
	}
	if _, err := r.db.NewCreateIndex().Model((*VerificationModel)(nil)).
		Index("verification_submissions_account_idx").IfNotExists().
		Column("account_id", "created_at").Exec(ctx); err != nil {
		return err
	}
	_, err := r.db.NewCreateIndex().Model((*TransactionModel)(nil)).
		Index("transaction_submissions_account_idx").IfNotExists().
		Column("account_id", "created_at").Exec(ctx)
	return err
}

func (r *SQLiteRepository) InsertVerification(ctx context.Context, v Verification) (int64, error) {
	m := &VerificationModel{
		AccountID:    v.AccountID,
		FirstName:    v.FirstName,
		LastName:     v.LastName,
		DOB:          v.DOB,
		Country:      v.Country,
		Address:      v.Address,
		IDType:       v.IDType,
		DocumentPath: v.DocumentPath,
		CreatedAt:    v.CreatedAt.UTC(),
	}
	if _, err := r.db.NewInsert().Model(m).Exec(ctx); err != nil {
		return 0, err
	}
	return m.ID, nil
}

func (r *SQLiteRepository) ListVerifications(ctx context.Context, accountID int64) ([]Verification, error) {
	var models []VerificationModel
	err := r.db.NewSelect().Model(&models).
		Where("account_id = ?", accountID).
		Order("created_at DESC", "id DESC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Verification, 0, len(models))
	for _, m := range models {
		out = append(out, Verification{
			ID:           m.ID,
			AccountID:    m.AccountID,
			FirstName:    m.FirstName,
			LastName:     m.LastName,
			DOB:          m.DOB,
			Country:      m.Country,
			Address:      m.Address,
			IDType:       m.IDType,
			DocumentPath: m.DocumentPath,
			CreatedAt:    m.CreatedAt.UTC(),
		})
	}
	return out, nil
}

func (r *SQLiteRepository) InsertTransaction(ctx context.Context, tx Transaction) (int64, error) {
	m := &TransactionModel{
		AccountID:      tx.AccountID,
		DepositAddress: tx.DepositAddress,
		XLMAmount:      tx.XLMAmount,
		Name:           tx.Name,
		Email:          tx.Email,
		Phone:          tx.Phone,
		TransactionID:  tx.TransactionID,
		ProofPath:      tx.ProofPath,
		CreatedAt:      tx.CreatedAt.UTC(),
	}
	if _, err := r.db.NewInsert().Model(m).Exec(ctx); err != nil {
		return 0, err
	}
	return m.ID, nil
}

func (r *SQLiteRepository) ListTransactions(ctx context.Context, accountID int64) ([]Transaction, error) {
	var models []TransactionModel
	err := r.db.NewSelect().Model(&models).
		Where("account_id = ?", accountID).
		Order("created_at DESC", "id DESC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Transaction, 0, len(models))
	for _, m := range models {
		out = append(out, Transaction{
			ID:             m.ID,
			AccountID:      m.AccountID,
			DepositAddress: m.DepositAddress,
			XLMAmount:      m.XLMAmount,
			Name:           m.Name,
			Email:          m.Email,
			Phone:          m.Phone,
			TransactionID:  m.TransactionID,
			ProofPath:      m.ProofPath,
			CreatedAt:      m.CreatedAt.UTC(),
		})
	}
	return out, nil
}
