package identity

import (
	"context"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/backedbyquantum/accounts/internal/apperr"
	"github.com/backedbyquantum/accounts/internal/auth"
	"github.com/backedbyquantum/accounts/internal/credential"
	"github.com/backedbyquantum/accounts/internal/federation"
	"github.com/backedbyquantum/accounts/internal/logging"
	"github.com/backedbyquantum/accounts/internal/notification"
)

type recordingNotifier struct {
	mu       sync.Mutex
	messages []notification.Message
}

func (n *recordingNotifier) Dispatch(_ context.Context, m notification.Message) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.messages = append(n.messages, m)
}

func (n *recordingNotifier) last(t *testing.T) notification.Message {
	t.Helper()
	n.mu.Lock()
	defer n.mu.Unlock()
	require.NotEmpty(t, n.messages)
	return n.messages[len(n.messages)-1]
}

type fixture struct {
	svc      *Service
	repo     Repository
	tokens   *auth.Tokens
	notifier *recordingNotifier
	now      time.Time
}

func (f *fixture) advance(d time.Duration) { f.now = f.now.Add(d) }

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		repo:     NewMemoryRepository(),
		notifier: &recordingNotifier{},
		now:      time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC),
	}
	clock := func() time.Time { return f.now }
	tokens, err := auth.NewTokens(auth.Config{Secret: []byte("identity-test-secret")}, auth.WithClock(clock))
	require.NoError(t, err)
	f.tokens = tokens
	f.svc = NewService(f.repo, credential.NewBcryptHasher(bcrypt.MinCost), tokens, f.notifier, Links{
		VerifyEmailURL:   "https://api.example.com/api/auth/verify-email",
		PasswordResetURL: "https://app.example.com/change-password",
	}, logging.Discard())
	f.svc.now = clock
	return f
}

func validRegistration() RegisterInput {
	return RegisterInput{
		Username:    "alice",
		Name:        "Alice Doe",
		Email:       "alice@example.com",
		Password:    "correct horse battery staple",
		Phone:       "2025550143",
		CountryCode: "+1",
	}
}

func tokenFromLink(t *testing.T, html string) string {
	t.Helper()
	i := strings.Index(html, "token=")
	require.GreaterOrEqual(t, i, 0, "link with token not found")
	rest := html[i+len("token="):]
	if end := strings.IndexAny(rest, "\"'<& "); end >= 0 {
		rest = rest[:end]
	}
	token, err := url.QueryUnescape(rest)
	require.NoError(t, err)
	return token
}

func TestRegisterStoresHashAndIssuesMatchingToken(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	in := validRegistration()

	s, err := f.svc.Register(ctx, in)
	require.NoError(t, err)
	require.NotZero(t, s.Account.ID)
	require.Equal(t, "alice", s.Account.Username)
	require.Nil(t, s.Account.EmailVerified)

	stored, err := f.repo.FindByID(ctx, s.Account.ID)
	require.NoError(t, err)
	require.NotEqual(t, in.Password, stored.PasswordHash)
	require.NoError(t, bcrypt.CompareHashAndPassword([]byte(stored.PasswordHash), []byte(in.Password)))
	require.True(t, stored.Active)
	require.False(t, stored.EmailVerified)
	require.False(t, stored.PhoneVerified)

	claims, err := f.tokens.Validate(s.Token)
	require.NoError(t, err)
	id, err := claims.AccountID()
	require.NoError(t, err)
	require.Equal(t, s.Account.ID, id)
	require.Equal(t, in.Email, claims.Email)
	require.Equal(t, in.Username, claims.Username)
	require.Equal(t, in.Name, claims.Name)
	require.Equal(t, in.Phone, claims.Phone)
	require.Equal(t, in.CountryCode, claims.CountryCode)

	msg := f.notifier.last(t)
	require.Equal(t, notification.KindVerifyEmail, msg.Kind)
	require.Equal(t, in.Email, msg.To)
	require.Equal(t, s.Token, tokenFromLink(t, msg.HTML))
}

func TestRegisterValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	cases := map[string]func(*RegisterInput){
		"missing username":    func(in *RegisterInput) { in.Username = "" },
		"missing name":        func(in *RegisterInput) { in.Name = "" },
		"bad email":           func(in *RegisterInput) { in.Email = "not-an-email" },
		"missing password":    func(in *RegisterInput) { in.Password = "" },
		"long password":       func(in *RegisterInput) { in.Password = strings.Repeat("x", 73) },
		"letters in phone":    func(in *RegisterInput) { in.Phone = "20255abc43" },
		"impossible phone":    func(in *RegisterInput) { in.Phone = "12" },
		"bad country code":    func(in *RegisterInput) { in.CountryCode = "abc" },
		"missing countrycode": func(in *RegisterInput) { in.CountryCode = "" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			in := validRegistration()
			mutate(&in)
			_, err := f.svc.Register(ctx, in)
			require.True(t, apperr.Is(err, apperr.KindValidation), "got %v", err)
		})
	}
	require.Empty(t, f.notifier.messages)
}

func TestRegisterConflicts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.svc.Register(ctx, validRegistration())
	require.NoError(t, err)

	cases := []struct {
		name   string
		mutate func(*RegisterInput)
		field  string
	}{
		{"same everything reports username first", func(*RegisterInput) {}, FieldUsername},
		{"same email", func(in *RegisterInput) { in.Username = "alice2"; in.Phone = "2025550199" }, FieldEmail},
		{"same email and phone", func(in *RegisterInput) { in.Username = "alice2" }, FieldEmail},
		{"same phone and code", func(in *RegisterInput) { in.Username = "alice2"; in.Email = "other@example.com" }, FieldPhone},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			in := validRegistration()
			tc.mutate(&in)
			_, err := f.svc.Register(ctx, in)
			require.True(t, apperr.Is(err, apperr.KindConflict), "got %v", err)
			var appErr *apperr.Error
			require.ErrorAs(t, err, &appErr)
			require.Equal(t, tc.field, appErr.Field)
		})
	}

	// same phone under another country code is a different number
	in := validRegistration()
	in.Username, in.Email, in.CountryCode = "bob", "bob@example.com", "+44"
	in.Phone = "2071838750"
	_, err = f.svc.Register(ctx, in)
	require.NoError(t, err)
}

func TestVerifyEmailIsOneShot(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	reg, err := f.svc.Register(ctx, validRegistration())
	require.NoError(t, err)

	f.advance(time.Minute)
	s, err := f.svc.VerifyEmail(ctx, reg.Token)
	require.NoError(t, err)
	require.NotEqual(t, reg.Token, s.Token)
	require.True(t, *s.Account.EmailVerified)
	require.True(t, *s.Account.PhoneVerified)

	claims, err := f.tokens.Validate(s.Token)
	require.NoError(t, err)
	require.True(t, claims.ExpiresAt.Equal(f.now.Add(24*time.Hour)))

	stored, err := f.repo.FindByID(ctx, reg.Account.ID)
	require.NoError(t, err)
	require.True(t, stored.EmailVerified)
	require.True(t, stored.PhoneVerified)
	require.True(t, stored.UpdatedAt.Equal(f.now))

	_, err = f.svc.VerifyEmail(ctx, reg.Token)
	require.True(t, apperr.Is(err, apperr.KindNotFoundOrInactive), "got %v", err)
	require.EqualError(t, err, "user not found or already verified")
}

func TestVerifyEmailRejectsBadTokens(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.VerifyEmail(ctx, "")
	require.True(t, apperr.Is(err, apperr.KindAuth))
	require.ErrorIs(t, err, auth.ErrInvalidOrExpiredToken)

	orphan, err := f.tokens.IssueFor(auth.PurposeRegistration, auth.Identity{ID: 999, Email: "ghost@example.com"})
	require.NoError(t, err)
	_, err = f.svc.VerifyEmail(ctx, orphan)
	require.True(t, apperr.Is(err, apperr.KindNotFoundOrInactive))
	require.EqualError(t, err, "user not found")
}

func TestSetPasscodeAndLogin(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	reg, err := f.svc.Register(ctx, validRegistration())
	require.NoError(t, err)

	_, err = f.svc.LoginWithPasscode(ctx, PasscodeLoginInput{Email: "alice@example.com", Passcode: "123456"})
	require.True(t, apperr.Is(err, apperr.KindValidation), "login before passcode is set: %v", err)

	for _, bad := range []string{"12345", "1234567", "abcdef", ""} {
		err := f.svc.SetPasscode(ctx, reg.Token, PasscodeInput{Passcode: bad})
		require.True(t, apperr.Is(err, apperr.KindValidation), "passcode %q: %v", bad, err)
	}
	// validation precedes the token check
	err = f.svc.SetPasscode(ctx, "", PasscodeInput{Passcode: "12"})
	require.True(t, apperr.Is(err, apperr.KindValidation))

	require.NoError(t, f.svc.SetPasscode(ctx, reg.Token, PasscodeInput{Passcode: "000000"}))

	stored, err := f.repo.FindByID(ctx, reg.Account.ID)
	require.NoError(t, err)
	require.NotEqual(t, "000000", stored.PasscodeHash)

	s, err := f.svc.LoginWithPasscode(ctx, PasscodeLoginInput{Email: "alice@example.com", Passcode: "000000"})
	require.NoError(t, err)
	require.NotNil(t, s.Account.EmailVerified)
	require.False(t, *s.Account.EmailVerified)
	claims, err := f.tokens.Validate(s.Token)
	require.NoError(t, err)
	require.True(t, claims.ExpiresAt.Equal(f.now.Add(7*24*time.Hour)))
	require.Empty(t, claims.Username)

	_, err = f.svc.LoginWithPasscode(ctx, PasscodeLoginInput{Email: "alice@example.com", Passcode: "111111"})
	require.True(t, apperr.Is(err, apperr.KindAuth))
	require.EqualError(t, err, "invalid passcode")
}

func TestLoginWithPassword(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	in := validRegistration()
	reg, err := f.svc.Register(ctx, in)
	require.NoError(t, err)

	s, err := f.svc.LoginWithPassword(ctx, PasswordLoginInput{Email: in.Email, Password: in.Password})
	require.NoError(t, err)
	require.Equal(t, reg.Account.ID, s.Account.ID)
	claims, err := f.tokens.Validate(s.Token)
	require.NoError(t, err)
	require.True(t, claims.ExpiresAt.IsZero(), "default ttl of zero issues no expiry")

	_, err = f.svc.LoginWithPassword(ctx, PasswordLoginInput{Email: in.Email, Password: "wrong"})
	require.True(t, apperr.Is(err, apperr.KindAuth))
	require.EqualError(t, err, "invalid password")

	_, err = f.svc.LoginWithPassword(ctx, PasswordLoginInput{Email: "nobody@example.com", Password: in.Password})
	require.True(t, apperr.Is(err, apperr.KindNotFoundOrInactive))

	_, err = f.svc.LoginWithPassword(ctx, PasswordLoginInput{Email: in.Email})
	require.True(t, apperr.Is(err, apperr.KindValidation))
}

func deactivate(t *testing.T, repo Repository, id int64) {
	t.Helper()
	mem := repo.(*memoryRepository)
	require.NoError(t, mem.update(id, func(a *Account) bool {
		a.Active = false
		return true
	}))
}

func TestInactiveAccountIsRejectedEverywhere(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	in := validRegistration()
	reg, err := f.svc.Register(ctx, in)
	require.NoError(t, err)
	require.NoError(t, f.svc.SetPasscode(ctx, reg.Token, PasscodeInput{Passcode: "246810"}))
	deactivate(t, f.repo, reg.Account.ID)

	_, err = f.svc.LoginWithPassword(ctx, PasswordLoginInput{Email: in.Email, Password: in.Password})
	require.True(t, apperr.Is(err, apperr.KindNotFoundOrInactive), "correct password on inactive account: %v", err)

	_, err = f.svc.LoginWithPasscode(ctx, PasscodeLoginInput{Email: in.Email, Passcode: "246810"})
	require.True(t, apperr.Is(err, apperr.KindNotFoundOrInactive))

	err = f.svc.SetPasscode(ctx, reg.Token, PasscodeInput{Passcode: "135790"})
	require.True(t, apperr.Is(err, apperr.KindNotFoundOrInactive))
	require.EqualError(t, err, "user not found or inactive")

	err = f.svc.RequestPasswordReset(ctx, ResetRequestInput{Email: in.Email})
	require.True(t, apperr.Is(err, apperr.KindNotFoundOrInactive))
	require.EqualError(t, err, "no active user with this email")
}

func TestPasswordReset(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	in := validRegistration()
	_, err := f.svc.Register(ctx, in)
	require.NoError(t, err)

	require.NoError(t, f.svc.RequestPasswordReset(ctx, ResetRequestInput{Email: in.Email}))
	msg := f.notifier.last(t)
	require.Equal(t, notification.KindPasswordReset, msg.Kind)
	require.Contains(t, msg.HTML, "https://app.example.com/change-password?token=")
	token := tokenFromLink(t, msg.HTML)

	f.advance(10 * time.Minute)
	require.NoError(t, f.svc.SetNewPassword(ctx, token, NewPasswordInput{Password: "a brand new secret"}))

	_, err = f.svc.LoginWithPassword(ctx, PasswordLoginInput{Email: in.Email, Password: in.Password})
	require.True(t, apperr.Is(err, apperr.KindAuth))
	_, err = f.svc.LoginWithPassword(ctx, PasswordLoginInput{Email: in.Email, Password: "a brand new secret"})
	require.NoError(t, err)

	err = f.svc.RequestPasswordReset(ctx, ResetRequestInput{Email: "nobody@example.com"})
	require.True(t, apperr.Is(err, apperr.KindNotFoundOrInactive))
}

func TestExpiredResetTokenIsAuthError(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	in := validRegistration()
	_, err := f.svc.Register(ctx, in)
	require.NoError(t, err)
	require.NoError(t, f.svc.RequestPasswordReset(ctx, ResetRequestInput{Email: in.Email}))
	token := tokenFromLink(t, f.notifier.last(t).HTML)

	f.advance(15*time.Minute + time.Second)
	err = f.svc.SetNewPassword(ctx, token, NewPasswordInput{Password: "too late"})
	require.True(t, apperr.Is(err, apperr.KindAuth), "got %v", err)
	require.ErrorIs(t, err, auth.ErrInvalidOrExpiredToken)

	_, err = f.svc.LoginWithPassword(ctx, PasswordLoginInput{Email: in.Email, Password: in.Password})
	require.NoError(t, err, "password must be unchanged")
}

func TestOnlyResetTokensSetNewPassword(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	in := validRegistration()
	reg, err := f.svc.Register(ctx, in)
	require.NoError(t, err)
	login, err := f.svc.LoginWithPassword(ctx, PasswordLoginInput{Email: in.Email, Password: in.Password})
	require.NoError(t, err)

	// both tokens never expire under the default config
	f.advance(365 * 24 * time.Hour)
	for name, token := range map[string]string{"registration": reg.Token, "login": login.Token} {
		err := f.svc.SetNewPassword(ctx, token, NewPasswordInput{Password: "hijacked password"})
		require.True(t, apperr.Is(err, apperr.KindAuth), "%s token: %v", name, err)
		require.ErrorIs(t, err, auth.ErrInvalidOrExpiredToken)
	}
	_, err = f.svc.LoginWithPassword(ctx, PasswordLoginInput{Email: in.Email, Password: in.Password})
	require.NoError(t, err, "password must be unchanged")

	require.NoError(t, f.svc.RequestPasswordReset(ctx, ResetRequestInput{Email: in.Email}))
	reset := tokenFromLink(t, f.notifier.last(t).HTML)
	_, err = f.svc.Profile(ctx, reset)
	require.True(t, apperr.Is(err, apperr.KindAuth), "reset token is not a session: %v", err)
	err = f.svc.SetPasscode(ctx, reset, PasscodeInput{Passcode: "123456"})
	require.True(t, apperr.Is(err, apperr.KindAuth))
}

func TestEmailsAreCaseInsensitive(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	in := validRegistration()
	reg, err := f.svc.Register(ctx, in)
	require.NoError(t, err)

	dup := validRegistration()
	dup.Username = "alice2"
	dup.Phone = "2025550100"
	dup.Email = " ALICE@Example.com "
	_, err = f.svc.Register(ctx, dup)
	require.True(t, apperr.Is(err, apperr.KindConflict), "got %v", err)
	var appErr *apperr.Error
	require.ErrorAs(t, err, &appErr)
	require.Equal(t, FieldEmail, appErr.Field)

	s, err := f.svc.LoginWithPassword(ctx, PasswordLoginInput{Email: "Alice@EXAMPLE.com", Password: in.Password})
	require.NoError(t, err)
	require.Equal(t, reg.Account.ID, s.Account.ID)

	require.NoError(t, f.svc.RequestPasswordReset(ctx, ResetRequestInput{Email: "ALICE@EXAMPLE.COM"}))
	require.Equal(t, "alice@example.com", f.notifier.last(t).To)

	fed, err := f.svc.FederatedLogin(ctx, federation.Profile{Provider: "google", Email: "Alice@Example.com", EmailVerified: true, Name: "Alice"})
	require.NoError(t, err)
	require.Equal(t, reg.Account.ID, fed.Account.ID, "federated login must reuse the account")
}

func TestProfile(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	reg, err := f.svc.Register(ctx, validRegistration())
	require.NoError(t, err)

	p, err := f.svc.Profile(ctx, reg.Token)
	require.NoError(t, err)
	require.Equal(t, reg.Account.ID, p.ID)
	require.NotNil(t, p.EmailVerified)

	_, err = f.svc.Profile(ctx, "garbage")
	require.True(t, apperr.Is(err, apperr.KindAuth))
}

func TestFederatedLogin(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	profile := federation.Profile{
		Provider:      "google",
		Subject:       "g-1",
		Email:         "jane@example.com",
		EmailVerified: true,
		Name:          "Jane Q Public",
	}

	first, err := f.svc.FederatedLogin(ctx, profile)
	require.NoError(t, err)
	require.Equal(t, "janeqpublic", first.Account.Username)
	require.True(t, *first.Account.EmailVerified)

	second, err := f.svc.FederatedLogin(ctx, profile)
	require.NoError(t, err)
	require.Equal(t, first.Account.ID, second.Account.ID)

	rows, err := f.repo.FindConflicts(ctx, "", profile.Email, "", "")
	require.NoError(t, err)
	require.Len(t, rows, 1, "exactly one account for the email")

	stored, err := f.repo.FindByID(ctx, first.Account.ID)
	require.NoError(t, err)
	require.Empty(t, stored.PasswordHash)
	require.Empty(t, stored.PasscodeHash)

	// no password was set, so password login must fail rather than match ""
	_, err = f.svc.LoginWithPassword(ctx, PasswordLoginInput{Email: profile.Email, Password: "anything"})
	require.True(t, apperr.Is(err, apperr.KindAuth))
}

func TestFederatedLoginExistingAccount(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	reg, err := f.svc.Register(ctx, validRegistration())
	require.NoError(t, err)

	s, err := f.svc.FederatedLogin(ctx, federation.Profile{Provider: "google", Email: "alice@example.com", EmailVerified: true, Name: "Alice"})
	require.NoError(t, err)
	require.Equal(t, reg.Account.ID, s.Account.ID)
	require.Equal(t, "alice", s.Account.Username)
}

func TestFederatedLoginUsernameCollision(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.svc.Register(ctx, validRegistration())
	require.NoError(t, err)

	s, err := f.svc.FederatedLogin(ctx, federation.Profile{Provider: "google", Email: "alice.two@example.com", EmailVerified: true, Name: "Alice"})
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(s.Account.Username, "alice-"), s.Account.Username)
}

func TestFederatedLoginRequiresVerifiedEmail(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.FederatedLogin(ctx, federation.Profile{Provider: "google", Email: "x@example.com"})
	require.True(t, apperr.Is(err, apperr.KindAuth))
	_, err = f.svc.FederatedLogin(ctx, federation.Profile{Provider: "google", EmailVerified: true})
	require.True(t, apperr.Is(err, apperr.KindAuth))
}

func TestDerivedUsername(t *testing.T) {
	require.Equal(t, "janeqpublic", derivedUsername("Jane Q\tPublic", "j@example.com"))
	require.Equal(t, "j.doe", derivedUsername("  ", "J.Doe@example.com"))
}

func TestBearerTokenIsRequiredForPasscode(t *testing.T) {
	f := newFixture(t)
	err := f.svc.SetPasscode(context.Background(), "", PasscodeInput{Passcode: "123456"})
	require.True(t, apperr.Is(err, apperr.KindAuth))
}
