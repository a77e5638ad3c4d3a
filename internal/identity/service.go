package identity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/backedbyquantum/accounts/internal/apperr"
	"github.com/backedbyquantum/accounts/internal/auth"
	"github.com/backedbyquantum/accounts/internal/credential"
	"github.com/backedbyquantum/accounts/internal/federation"
	"github.com/backedbyquantum/accounts/internal/notification"
)

// Notifier queues outbound email without blocking the caller.
type Notifier interface {
	Dispatch(ctx context.Context, message notification.Message)
}

// Links holds the absolute URLs embedded in emails.
type Links struct {
	// VerifyEmailURL receives ?token= from the verification email.
	VerifyEmailURL string
	// PasswordResetURL is the frontend page that completes a reset.
	PasswordResetURL string
}

func withToken(base, token string) string {
	sep := "?"
	if strings.Contains(base, "?") {
		sep = "&"
	}
	return base + sep + "token=" + url.QueryEscape(token)
}

// Service runs the account lifecycle: registration, verification, logins,
// passcode and password changes, and federated sign-in.
type Service struct {
	repo     Repository
	hasher   credential.Hasher
	tokens   *auth.Tokens
	notifier Notifier
	links    Links
	logger   *slog.Logger
	now      func() time.Time
}

// NewService creates the lifecycle service.
func NewService(repo Repository, hasher credential.Hasher, tokens *auth.Tokens, notifier Notifier, links Links, logger *slog.Logger) *Service {
	return &Service{
		repo:     repo,
		hasher:   hasher,
		tokens:   tokens,
		notifier: notifier,
		links:    links,
		logger:   logger,
		now:      time.Now,
	}
}

// Register creates an unverified, active account, returns a registration
// token and emails a verification link.
func (s *Service) Register(ctx context.Context, in RegisterInput) (Session, error) {
	in.Email = normalizeEmail(in.Email)
	if err := in.Validate(); err != nil {
		return Session{}, apperr.FromValidation(err)
	}

	rows, err := s.repo.FindConflicts(ctx, in.Username, in.Email, in.Phone, in.CountryCode)
	if err != nil {
		return Session{}, internal("register: find conflicts", err)
	}
	if field := conflictField(rows, in.Username, in.Email, in.Phone, in.CountryCode); field != "" {
		return Session{}, conflict(&ConflictError{Field: field})
	}

	hash, err := s.hasher.Hash(ctx, in.Password)
	if err != nil {
		return Session{}, internal("register: hash password", err)
	}

	now := s.now().UTC()
	account := Account{
		Username:     in.Username,
		Name:         in.Name,
		Email:        in.Email,
		Phone:        in.Phone,
		CountryCode:  in.CountryCode,
		PasswordHash: hash,
		Active:       true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	// the repository enforces uniqueness again for concurrent registrations
	id, err := s.repo.Insert(ctx, account)
	if err != nil {
		var ce *ConflictError
		if errors.As(err, &ce) {
			return Session{}, conflict(ce)
		}
		return Session{}, internal("register: insert account", err)
	}
	account.ID = id

	token, err := s.tokens.IssueFor(auth.PurposeRegistration, account.identity())
	if err != nil {
		return Session{}, internal("register: issue token", err)
	}

	msg, err := notification.VerifyEmail(account.Email, withToken(s.links.VerifyEmailURL, token))
	s.dispatch(ctx, msg, err)

	s.logger.Info("account registered", slog.Int64("account_id", id))
	return Session{Token: token, Account: account.Public()}, nil
}

// VerifyEmail marks the token's account as email and phone verified and
// returns a fresh 24 hour token.
func (s *Service) VerifyEmail(ctx context.Context, token string) (Session, error) {
	account, err := s.Authenticate(ctx, token)
	if err != nil {
		return Session{}, err
	}

	now := s.now().UTC()
	if err := s.repo.MarkVerified(ctx, account.ID, now); err != nil {
		if errors.Is(err, ErrNotFound) {
			return Session{}, apperr.NotFoundOrInactive("user not found or already verified")
		}
		return Session{}, internal("verify email: update flags", err)
	}
	account.EmailVerified, account.PhoneVerified = true, true
	account.UpdatedAt = now

	fresh, err := s.tokens.IssueFor(auth.PurposeEmailVerification, account.identity())
	if err != nil {
		return Session{}, internal("verify email: issue token", err)
	}

	s.logger.Info("account verified", slog.Int64("account_id", account.ID))
	return Session{Token: fresh, Account: account.PublicWithFlags()}, nil
}

// SetPasscode stores a new six digit passcode for the token's account.
func (s *Service) SetPasscode(ctx context.Context, token string, in PasscodeInput) error {
	if err := in.Validate(); err != nil {
		return apperr.FromValidation(err)
	}
	account, err := s.Authenticate(ctx, token)
	if err != nil {
		return err
	}

	hash, err := s.hasher.Hash(ctx, in.Passcode)
	if err != nil {
		return internal("set passcode: hash", err)
	}
	if err := s.repo.UpdatePasscode(ctx, account.ID, hash, s.now().UTC()); err != nil {
		if errors.Is(err, ErrNotFound) {
			return apperr.NotFoundOrInactive("user not found or inactive")
		}
		return internal("set passcode: update", err)
	}

	s.logger.Info("passcode set", slog.Int64("account_id", account.ID))
	return nil
}

// LoginWithPasscode authenticates an active account by email and passcode.
func (s *Service) LoginWithPasscode(ctx context.Context, in PasscodeLoginInput) (Session, error) {
	in.Email = normalizeEmail(in.Email)
	if err := in.Validate(); err != nil {
		return Session{}, apperr.FromValidation(err)
	}
	account, err := s.activeByEmail(ctx, in.Email, "user not found or inactive")
	if err != nil {
		return Session{}, err
	}
	if account.PasscodeHash == "" {
		return Session{}, apperr.Validation("passcode has not been set for this account")
	}
	if err := s.checkSecret(ctx, in.Passcode, account.PasscodeHash, "invalid passcode"); err != nil {
		return Session{}, err
	}
	return s.login(account, auth.PurposePasscodeLogin)
}

// LoginWithPassword authenticates an active account by email and password.
func (s *Service) LoginWithPassword(ctx context.Context, in PasswordLoginInput) (Session, error) {
	in.Email = normalizeEmail(in.Email)
	if err := in.Validate(); err != nil {
		return Session{}, apperr.FromValidation(err)
	}
	account, err := s.activeByEmail(ctx, in.Email, "user not found or inactive")
	if err != nil {
		return Session{}, err
	}
	if err := s.checkSecret(ctx, in.Password, account.PasswordHash, "invalid password"); err != nil {
		return Session{}, err
	}
	return s.login(account, auth.PurposePasswordLogin)
}

// RequestPasswordReset emails a 15 minute reset link to an active account.
// Nothing is written to storage.
func (s *Service) RequestPasswordReset(ctx context.Context, in ResetRequestInput) error {
	in.Email = normalizeEmail(in.Email)
	if err := in.Validate(); err != nil {
		return apperr.FromValidation(err)
	}
	account, err := s.activeByEmail(ctx, in.Email, "no active user with this email")
	if err != nil {
		return err
	}

	token, err := s.tokens.IssueFor(auth.PurposePasswordReset, account.identity())
	if err != nil {
		return internal("password reset: issue token", err)
	}
	msg, err := notification.PasswordReset(account.Email, withToken(s.links.PasswordResetURL, token), auth.PasswordResetTTL)
	s.dispatch(ctx, msg, err)

	s.logger.Info("password reset requested", slog.Int64("account_id", account.ID))
	return nil
}

// SetNewPassword replaces the password of the reset token's account.
func (s *Service) SetNewPassword(ctx context.Context, token string, in NewPasswordInput) error {
	if err := in.Validate(); err != nil {
		return apperr.FromValidation(err)
	}
	claims, err := s.tokens.Validate(token)
	if err != nil {
		return err
	}
	// only the emailed 15 minute link may replace a password
	if err := auth.RequirePurpose(claims, auth.PurposePasswordReset); err != nil {
		return err
	}
	id, err := accountID(claims)
	if err != nil {
		return err
	}

	hash, err := s.hasher.Hash(ctx, in.Password)
	if err != nil {
		return internal("set password: hash", err)
	}
	if err := s.repo.UpdatePassword(ctx, id, hash, s.now().UTC()); err != nil {
		if errors.Is(err, ErrNotFound) {
			return apperr.NotFoundOrInactive("user not found or inactive")
		}
		return internal("set password: update", err)
	}

	s.logger.Info("password reset completed", slog.Int64("account_id", id))
	return nil
}

// FederatedLogin signs in the account owning the provider-verified email,
// creating a pre-verified account on first sight.
func (s *Service) FederatedLogin(ctx context.Context, p federation.Profile) (Session, error) {
	p.Email = normalizeEmail(p.Email)
	if p.Email == "" || !p.EmailVerified {
		return Session{}, apperr.Auth("identity provider did not return a verified email", nil)
	}

	account, err := s.repo.FindByEmail(ctx, p.Email)
	switch {
	case errors.Is(err, ErrNotFound):
		account, err = s.provision(ctx, p)
		if err != nil {
			return Session{}, err
		}
		s.logger.Info("federated account created",
			slog.Int64("account_id", account.ID),
			slog.String("provider", p.Provider))
	case err != nil:
		return Session{}, internal("federated login: find account", err)
	}

	if !account.Active {
		return Session{}, apperr.NotFoundOrInactive("user not found or inactive")
	}
	return s.login(account, auth.PurposeFederatedLogin)
}

func (s *Service) provision(ctx context.Context, p federation.Profile) (Account, error) {
	now := s.now().UTC()
	account := Account{
		Username:      derivedUsername(p.Name, p.Email),
		Name:          p.Name,
		Email:         p.Email,
		EmailVerified: true,
		PhoneVerified: true,
		Active:        true,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if account.Name == "" {
		account.Name = account.Username
	}

	base := account.Username
	for attempt := 0; attempt < 2; attempt++ {
		id, err := s.repo.Insert(ctx, account)
		if err == nil {
			account.ID = id
			return account, nil
		}
		var ce *ConflictError
		if !errors.As(err, &ce) {
			return Account{}, internal("federated login: insert account", err)
		}
		switch ce.Field {
		case FieldEmail:
			// a concurrent first login created it
			existing, err := s.repo.FindByEmail(ctx, p.Email)
			if err != nil {
				return Account{}, internal("federated login: reread account", err)
			}
			return existing, nil
		case FieldUsername:
			account.Username = base + "-" + uuid.NewString()[:6]
		default:
			return Account{}, conflict(ce)
		}
	}
	return Account{}, conflict(&ConflictError{Field: FieldUsername})
}

// derivedUsername lower-cases the display name and strips all whitespace.
func derivedUsername(name, email string) string {
	username := strings.ToLower(strings.Join(strings.Fields(name), ""))
	if username == "" {
		local, _, _ := strings.Cut(email, "@")
		username = strings.ToLower(local)
	}
	return username
}

// Authenticate validates token and re-reads its account by id. Password
// reset tokens only authorize SetNewPassword.
func (s *Service) Authenticate(ctx context.Context, token string) (Account, error) {
	claims, err := s.tokens.Validate(token)
	if err != nil {
		return Account{}, err
	}
	if claims.Purpose == auth.PurposePasswordReset {
		return Account{}, apperr.Auth(auth.ErrInvalidOrExpiredToken.Error(), fmt.Errorf("%w: password reset token used as a session", auth.ErrInvalidOrExpiredToken))
	}
	id, err := accountID(claims)
	if err != nil {
		return Account{}, err
	}
	account, err := s.repo.FindByID(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return Account{}, apperr.NotFoundOrInactive("user not found")
	}
	if err != nil {
		return Account{}, internal("authenticate: find account", err)
	}
	return account, nil
}

// Profile returns the token's account with its verification flags.
func (s *Service) Profile(ctx context.Context, token string) (PublicAccount, error) {
	account, err := s.Authenticate(ctx, token)
	if err != nil {
		return PublicAccount{}, err
	}
	return account.PublicWithFlags(), nil
}

func accountID(claims auth.Claims) (int64, error) {
	id, err := claims.AccountID()
	if err != nil {
		return 0, apperr.Auth(auth.ErrInvalidOrExpiredToken.Error(), err)
	}
	return id, nil
}

func (s *Service) activeByEmail(ctx context.Context, email, missing string) (Account, error) {
	account, err := s.repo.FindActiveByEmail(ctx, email)
	if errors.Is(err, ErrNotFound) {
		return Account{}, apperr.NotFoundOrInactive(missing)
	}
	if err != nil {
		return Account{}, internal("find active account", err)
	}
	return account, nil
}

func (s *Service) checkSecret(ctx context.Context, secret, hash, mismatch string) error {
	ok, err := s.hasher.Verify(ctx, secret, hash)
	if err != nil {
		return internal("verify secret", err)
	}
	if !ok {
		return apperr.Auth(mismatch, nil)
	}
	return nil
}

func (s *Service) login(account Account, purpose auth.Purpose) (Session, error) {
	token, err := s.tokens.IssueFor(purpose, account.identity())
	if err != nil {
		return Session{}, internal("login: issue token", err)
	}
	s.logger.Info("account logged in", slog.Int64("account_id", account.ID), slog.String("method", purpose.String()))
	return Session{Token: token, Account: account.PublicWithFlags()}, nil
}

// dispatch hands msg to the notifier. Render failures are logged; the
// surrounding operation has already committed.
func (s *Service) dispatch(ctx context.Context, msg notification.Message, renderErr error) {
	if renderErr != nil {
		s.logger.Error("render email", slog.Any("error", renderErr))
		return
	}
	s.notifier.Dispatch(ctx, msg)
}

func conflict(ce *ConflictError) error {
	return apperr.Conflict(ce.Field, ce.Error())
}

func internal(op string, err error) error {
	return apperr.Internal(fmt.Errorf("%s: %w", op, err))
}
