package submission

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository persists submissions. Both listings return the account's rows
// newest first.
type Repository interface {
	InsertVerification(ctx context.Context, v Verification) (int64, error)
	ListVerifications(ctx context.Context, accountID int64) ([]Verification, error)
	InsertTransaction(ctx context.Context, tx Transaction) (int64, error)
	ListTransactions(ctx context.Context, accountID int64) ([]Transaction, error)
}

// PostgresRepository stores submissions in PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository builds a repository backed by PostgreSQL.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) InsertVerification(ctx context.Context, v Verification) (int64, error) {
	var id int64
	err := r.db.QueryRow(ctx, `INSERT INTO verification_submissions
        (account_id, first_name, last_name, dob, country, address, id_type, document_path, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9) RETURNING id`,
		v.AccountID, v.FirstName, v.LastName, v.DOB, v.Country, v.Address, v.IDType, v.DocumentPath, v.CreatedAt.UTC(),
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert verification: %w", err)
	}
	return id, nil
}

func (r *PostgresRepository) ListVerifications(ctx context.Context, accountID int64) ([]Verification, error) {
	rows, err := r.db.Query(ctx, `SELECT id, account_id, first_name, last_name, dob, country, address, id_type, document_path, created_at
        FROM verification_submissions WHERE account_id = $1
        ORDER BY created_at DESC, id DESC`, accountID)
	if err != nil {
		return nil, fmt.Errorf("list verifications: %w", err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Verification, error) {
		var v Verification
		err := row.Scan(&v.ID, &v.AccountID, &v.FirstName, &v.LastName, &v.DOB, &v.Country, &v.Address, &v.IDType, &v.DocumentPath, &v.CreatedAt)
		v.CreatedAt = v.CreatedAt.UTC()
		return v, err
	})
	if err != nil {
		return nil, fmt.Errorf("list verifications: %w", err)
	}
	return out, nil
}

func (r *PostgresRepository) InsertTransaction(ctx context.Context, tx Transaction) (int64, error) {
	var id int64
	err := r.db.QueryRow(ctx, `INSERT INTO transaction_submissions
        (account_id, deposit_address, xlm_amount, name, email, phone, transaction_id, proof_path, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9) RETURNING id`,
		tx.AccountID, tx.DepositAddress, tx.XLMAmount, tx.Name, tx.Email, tx.Phone, tx.TransactionID, tx.ProofPath, tx.CreatedAt.UTC(),
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert transaction: %w", err)
	}
	return id, nil
}

func (r *PostgresRepository) ListTransactions(ctx context.Context, accountID int64) ([]Transaction, error) {
	rows, err := r.db.Query(ctx, `SELECT id, account_id, deposit_address, xlm_amount, name, email, phone, transaction_id, proof_path, created_at
        FROM transaction_submissions WHERE account_id = $1
        ORDER BY created_at DESC, id DESC`, accountID)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Transaction, error) {
		var tx Transaction
		err := row.Scan(&tx.ID, &tx.AccountID, &tx.DepositAddress, &tx.XLMAmount, &tx.Name, &tx.Email, &tx.Phone, &tx.TransactionID, &tx.ProofPath, &tx.CreatedAt)
		tx.CreatedAt = tx.CreatedAt.UTC()
		return tx, err
	})
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	return out, nil
}

type memoryRepository struct {
	mu            sync.RWMutex
	nextID        int64
	verifications []Verification
	transactions  []Transaction
}

// NewMemoryRepository constructs an in-memory repository for tests.
func NewMemoryRepository() Repository {
	return &memoryRepository{}
}

func (r *memoryRepository) InsertVerification(_ context.Context, v Verification) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	v.ID = r.nextID
	r.verifications = append(r.verifications, v)
	return v.ID, nil
}

func (r *memoryRepository) ListVerifications(_ context.Context, accountID int64) ([]Verification, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := []Verification{}
	for _, v := range r.verifications {
		if v.AccountID == accountID {
			out = append(out, v)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return newer(out[i].CreatedAt.UnixNano(), out[i].ID, out[j].CreatedAt.UnixNano(), out[j].ID)
	})
	return out, nil
}

func (r *memoryRepository) InsertTransaction(_ context.Context, tx Transaction) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	tx.ID = r.nextID
	r.transactions = append(r.transactions, tx)
	return tx.ID, nil
}

func (r *memoryRepository) ListTransactions(_ context.Context, accountID int64) ([]Transaction, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := []Transaction{}
	for _, tx := range r.transactions {
		if tx.AccountID == accountID {
			out = append(out, tx)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return newer(out[i].CreatedAt.UnixNano(), out[i].ID, out[j].CreatedAt.UnixNano(), out[j].ID)
	})
	return out, nil
}

// newer orders by creation time, then id, both descending.
func newer(at1, id1, at2, id2 int64) bool {
	if at1 != at2 {
		return at1 > at2
	}
	return id1 > id2
}
