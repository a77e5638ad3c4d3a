package submission

import (
	"errors"
	"io"
	"regexp"
	"strconv"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
)

var decimalPattern = regexp.MustCompile(`^\d+(\.\d+)?$`)

// Verification is an identity document submitted by an account.
type Verification struct {
	ID           int64
	AccountID    int64
	FirstName    string
	LastName     string
	DOB          string
	Country      string
	Address      string
	IDType       string
	DocumentPath string
	CreatedAt    time.Time
}

// Transaction is a deposit proof submitted by an account.
type Transaction struct {
	ID             int64
	AccountID      int64
	DepositAddress string
	XLMAmount      string
	Name           string
	Email          string
	Phone          string
	TransactionID  string
	ProofPath      string
	CreatedAt      time.Time
}

// Document is an uploaded file. A nil Body means nothing was attached.
type Document struct {
	Filename string
	Body     io.Reader
}

func (d Document) attached() bool { return d.Body != nil && d.Filename != "" }

// VerificationInput holds the structured fields of a verification upload.
type VerificationInput struct {
	FirstName string `form:"firstName" json:"firstName"`
	LastName  string `form:"lastName" json:"lastName"`
	DOB       string `form:"dob" json:"dob"`
	Country   string `form:"country" json:"country"`
	Address   string `form:"address" json:"address"`
	IDType    string `form:"idType" json:"idType"`
}

func (in VerificationInput) Validate() error {
	return validation.ValidateStruct(&in,
		validation.Field(&in.FirstName, validation.Required, validation.Length(1, 100)),
		validation.Field(&in.LastName, validation.Required, validation.Length(1, 100)),
		validation.Field(&in.DOB, validation.Required, validation.Date("2006-01-02")),
		validation.Field(&in.Country, validation.Required, validation.Length(1, 100)),
		validation.Field(&in.Address, validation.Required, validation.Length(1, 500)),
		validation.Field(&in.IDType, validation.Required, validation.Length(1, 50)),
	)
}

// TransactionInput holds the structured fields of a transaction upload.
type TransactionInput struct {
	DepositAddress string `form:"depositAddress" json:"depositAddress"`
	XLMAmount      string `form:"xlmAmount" json:"xlmAmount"`
	Name           string `form:"name" json:"name"`
	Email          string `form:"email" json:"email"`
	Phone          string `form:"phone" json:"phone"`
	TransactionID  string `form:"transactionId" json:"transactionId"`
}

func (in TransactionInput) Validate() error {
	return validation.ValidateStruct(&in,
		validation.Field(&in.DepositAddress, validation.Required, validation.Length(1, 128)),
		validation.Field(&in.XLMAmount, validation.Required, validation.By(positiveDecimal)),
		validation.Field(&in.Name, validation.Required, validation.Length(1, 200)),
		validation.Field(&in.Email, validation.Required, is.Email),
		validation.Field(&in.Phone, validation.Required, validation.Length(1, 32)),
		validation.Field(&in.TransactionID, validation.Required, validation.Length(1, 128)),
	)
}

func positiveDecimal(value any) error {
	s, _ := value.(string)
	if s == "" {
		return nil
	}
	if !decimalPattern.MatchString(s) {
		return errors.New("must be a positive decimal amount")
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || f <= 0 {
		return errors.New("must be a positive decimal amount")
	}
	return nil
}
