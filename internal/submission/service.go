package submission

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/backedbyquantum/accounts/internal/apperr"
	"github.com/backedbyquantum/accounts/internal/identity"
	"github.com/backedbyquantum/accounts/internal/notification"
	"github.com/backedbyquantum/accounts/internal/storage"
)

// Notifier queues outbound email without blocking the caller.
type Notifier interface {
	Dispatch(ctx context.Context, message notification.Message)
}

// Options configures where operator notifications go and how document links
// in them are built.
type Options struct {
	OpsMailbox    string
	PublicBaseURL string
}

// Service admits document submissions for authenticated accounts.
type Service struct {
	repo     Repository
	store    storage.Store
	notifier Notifier
	opts     Options
	logger   *slog.Logger
	now      func() time.Time
}

// NewService constructs the submission service.
func NewService(repo Repository, store storage.Store, notifier Notifier, opts Options, logger *slog.Logger) *Service {
	return &Service{
		repo:     repo,
		store:    store,
		notifier: notifier,
		opts:     opts,
		logger:   logger,
		now:      time.Now,
	}
}

// gate describes one submission kind. record inserts the row for the stored
// document path; notify renders the operator email for the inserted row.
type gate[R any] struct {
	kind     string
	input    interface{ Validate() error }
	document Document
	missing  string
	record   func(ctx context.Context, path string, at time.Time) (R, error)
	notify   func(row R, documentURL string) (notification.Message, error)
}

// admit validates the fields, requires the document, stores it, records the
// row and notifies the ops mailbox, in that order.
func admit[R any](ctx context.Context, s *Service, owner identity.Account, g gate[R]) (R, error) {
	var zero R
	if err := g.input.Validate(); err != nil {
		return zero, apperr.FromValidation(err)
	}
	if !g.document.attached() {
		return zero, apperr.Validation(g.missing)
	}

	path, err := s.store.Save(ctx, g.document.Filename, g.document.Body)
	if errors.Is(err, storage.ErrUnsupportedType) {
		return zero, apperr.Validation(err.Error())
	}
	if err != nil {
		return zero, apperr.Internal(fmt.Errorf("store %s document: %w", g.kind, err))
	}

	row, err := g.record(ctx, path, s.now().UTC())
	if err != nil {
		return zero, apperr.Internal(fmt.Errorf("record %s: %w", g.kind, err))
	}

	if s.opts.OpsMailbox != "" {
		msg, err := g.notify(row, AbsoluteURL(s.opts.PublicBaseURL, path))
		if err != nil {
			s.logger.Error("render ops notification", slog.String("kind", g.kind), slog.Any("error", err))
		} else {
			s.notifier.Dispatch(ctx, msg)
		}
	}

	s.logger.Info("submission recorded", slog.String("kind", g.kind), slog.Int64("account_id", owner.ID))
	return row, nil
}

// SubmitVerification records an identity document for owner.
func (s *Service) SubmitVerification(ctx context.Context, owner identity.Account, in VerificationInput, doc Document) (Verification, error) {
	return admit(ctx, s, owner, gate[Verification]{
		kind:     "verification",
		input:    in,
		document: doc,
		missing:  "ID image is required",
		record: func(ctx context.Context, path string, at time.Time) (Verification, error) {
			v := Verification{
				AccountID:    owner.ID,
				FirstName:    in.FirstName,
				LastName:     in.LastName,
				DOB:          in.DOB,
				Country:      in.Country,
				Address:      in.Address,
				IDType:       in.IDType,
				DocumentPath: path,
				CreatedAt:    at,
			}
			id, err := s.repo.InsertVerification(ctx, v)
			v.ID = id
			return v, err
		},
		notify: func(v Verification, url string) (notification.Message, error) {
			return notification.VerificationSubmitted(s.opts.OpsMailbox, notification.VerificationSummary{
				AccountID:   owner.ID,
				FirstName:   v.FirstName,
				LastName:    v.LastName,
				DOB:         v.DOB,
				Country:     v.Country,
				Address:     v.Address,
				IDType:      v.IDType,
				DocumentURL: url,
			})
		},
	})
}

// SubmitTransaction records a deposit proof for owner.
func (s *Service) SubmitTransaction(ctx context.Context, owner identity.Account, in TransactionInput, doc Document) (Transaction, error) {
	return admit(ctx, s, owner, gate[Transaction]{
		kind:     "transaction",
		input:    in,
		document: doc,
		missing:  "transaction image is required",
		record: func(ctx context.Context, path string, at time.Time) (Transaction, error) {
			tx := Transaction{
				AccountID:      owner.ID,
				DepositAddress: in.DepositAddress,
				XLMAmount:      in.XLMAmount,
				Name:           in.Name,
				Email:          in.Email,
				Phone:          in.Phone,
				TransactionID:  in.TransactionID,
				ProofPath:      path,
				CreatedAt:      at,
			}
			id, err := s.repo.InsertTransaction(ctx, tx)
			tx.ID = id
			return tx, err
		},
		notify: func(tx Transaction, url string) (notification.Message, error) {
			return notification.TransactionSubmitted(s.opts.OpsMailbox, notification.TransactionSummary{
				AccountID:      owner.ID,
				AccountEmail:   owner.Email,
				DepositAddress: tx.DepositAddress,
				XLMAmount:      tx.XLMAmount,
				Name:           tx.Name,
				Email:          tx.Email,
				Phone:          tx.Phone,
				TransactionID:  tx.TransactionID,
				ProofURL:       url,
			})
		},
	})
}

// ListVerifications returns owner's verifications, newest first.
func (s *Service) ListVerifications(ctx context.Context, owner identity.Account) ([]Verification, error) {
	rows, err := s.repo.ListVerifications(ctx, owner.ID)
	if err != nil {
		return nil, apperr.Internal(fmt.Errorf("list verifications: %w", err))
	}
	if rows == nil {
		rows = []Verification{}
	}
	return rows, nil
}

// ListTransactions returns owner's transactions, newest first.
func (s *Service) ListTransactions(ctx context.Context, owner identity.Account) ([]Transaction, error) {
	rows, err := s.repo.ListTransactions(ctx, owner.ID)
	if err != nil {
		return nil, apperr.Internal(fmt.Errorf("list transactions: %w", err))
	}
	if rows == nil {
		rows = []Transaction{}
	}
	return rows, nil
}

// AbsoluteURL joins a stored relative path onto base. An empty base leaves
// the path relative.
func AbsoluteURL(base, path string) string {
	if path == "" || base == "" {
		return path
	}
	return strings.TrimRight(base, "/") + "/" + strings.TrimLeft(path, "/")
}
