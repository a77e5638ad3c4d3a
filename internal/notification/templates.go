package notification

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"time"
)

//go:embed templates/*.html
var templateFS embed.FS

var templates = template.Must(template.ParseFS(templateFS, "templates/*.html"))

// VerificationSummary is the operator view of an identity document
// submission.
type VerificationSummary struct {
	AccountID   int64
	FirstName   string
	LastName    string
	DOB         string
	Country     string
	Address     string
	IDType      string
	DocumentURL string
}

// TransactionSummary is the operator view of a transaction proof submission.
type TransactionSummary struct {
	AccountID      int64
	AccountEmail   string
	DepositAddress string
	XLMAmount      string
	Name           string
	Email          string
	Phone          string
	TransactionID  string
	ProofURL       string
}

// VerifyEmail builds the email carrying the verification link.
func VerifyEmail(to, link string) (Message, error) {
	return render(KindVerifyEmail, to, "Welcome to Our Platform!", "verify_email.html", map[string]any{
		"Link": link,
	})
}

// PasswordReset builds the email carrying the reset link.
func PasswordReset(to, link string, validFor time.Duration) (Message, error) {
	return render(KindPasswordReset, to, "Reset Your Password", "password_reset.html", map[string]any{
		"Link":     link,
		"ValidFor": validFor.String(),
	})
}

// VerificationSubmitted builds the operator notification for a new identity
// document.
func VerificationSubmitted(to string, s VerificationSummary) (Message, error) {
	return render(KindVerificationSubmitted, to, "New User Verification Submitted", "verification_submitted.html", s)
}

// TransactionSubmitted builds the operator notification for a new
// transaction proof.
func TransactionSubmitted(to string, s TransactionSummary) (Message, error) {
	return render(KindTransactionSubmitted, to, "New Transaction Submitted", "transaction_submitted.html", s)
}

func render(kind, to, subject, name string, data any) (Message, error) {
	var buf bytes.Buffer
	if err := templates.ExecuteTemplate(&buf, name, data); err != nil {
		return Message{}, fmt.Errorf("render %s: %w", name, err)
	}
	return Message{Kind: kind, To: to, Subject: subject, HTML: buf.String()}, nil
}
