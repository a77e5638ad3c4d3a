package identity

import (
	"context"
	"strings"
	"sync"
	"time"
)

type memoryRepository struct {
	mu       sync.RWMutex
	nextID   int64
	accounts map[int64]Account
}

// NewMemoryRepository builds an in-memory account store for tests and local
// development. Insert enforces the same unique constraints as the SQL stores.
func NewMemoryRepository() Repository {
	return &memoryRepository{accounts: make(map[int64]Account)}
}

func (r *memoryRepository) FindConflicts(_ context.Context, username, email, phone, countryCode string) ([]Account, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.conflicts(username, email, phone, countryCode), nil
}

func (r *memoryRepository) conflicts(username, email, phone, countryCode string) []Account {
	var out []Account
	for _, a := range r.accounts {
		if a.Username == username || strings.EqualFold(a.Email, email) ||
			(phone != "" && a.Phone == phone && a.CountryCode == countryCode) {
			out = append(out, a)
		}
	}
	return out
}

func (r *memoryRepository) Insert(_ context.Context, a Account) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rows := r.conflicts(a.Username, a.Email, a.Phone, a.CountryCode); len(rows) > 0 {
		return 0, &ConflictError{Field: conflictField(rows, a.Username, a.Email, a.Phone, a.CountryCode)}
	}
	r.nextID++
	a.ID = r.nextID
	r.accounts[a.ID] = a
	return a.ID, nil
}

func (r *memoryRepository) FindByID(_ context.Context, id int64) (Account, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.accounts[id]
	if !ok {
		return Account{}, ErrNotFound
	}
	return a, nil
}

func (r *memoryRepository) FindByEmail(_ context.Context, email string) (Account, error) {
	return r.findByEmail(email, false)
}

func (r *memoryRepository) FindActiveByEmail(_ context.Context, email string) (Account, error) {
	return r.findByEmail(email, true)
}

func (r *memoryRepository) findByEmail(email string, activeOnly bool) (Account, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, a := range r.accounts {
		if strings.EqualFold(a.Email, email) && (!activeOnly || a.Active) {
			return a, nil
		}
	}
	return Account{}, ErrNotFound
}

func (r *memoryRepository) MarkVerified(_ context.Context, id int64, at time.Time) error {
	return r.update(id, func(a *Account) bool {
		if a.EmailVerified && a.PhoneVerified {
			return false
		}
		a.EmailVerified, a.PhoneVerified = true, true
		a.UpdatedAt = at
		return true
	})
}

func (r *memoryRepository) UpdatePasscode(_ context.Context, id int64, hash string, at time.Time) error {
	return r.update(id, func(a *Account) bool {
		if !a.Active {
			return false
		}
		a.PasscodeHash = hash
		a.UpdatedAt = at
		return true
	})
}

func (r *memoryRepository) UpdatePassword(_ context.Context, id int64, hash string, at time.Time) error {
	return r.update(id, func(a *Account) bool {
		if !a.Active {
			return false
		}
		a.PasswordHash = hash
		a.UpdatedAt = at
		return true
	})
}

// update applies fn under the write lock; fn reports whether the row matched.
func (r *memoryRepository) update(id int64, fn func(*Account) bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.accounts[id]
	if !ok || !fn(&a) {
		return ErrNotFound
	}
	r.accounts[id] = a
	return nil
}
