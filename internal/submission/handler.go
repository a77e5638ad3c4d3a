package submission

import (
	"mime/multipart"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/backedbyquantum/accounts/internal/apperr"
	"github.com/backedbyquantum/accounts/internal/identity"
)

// Handler exposes the submission gate over HTTP.
type Handler struct {
	service       *Service
	publicBaseURL string
}

// NewHandler constructs the handler. publicBaseURL overrides the request's
// base URL when document links are rendered.
func NewHandler(service *Service, publicBaseURL string) *Handler {
	return &Handler{service: service, publicBaseURL: publicBaseURL}
}

type verificationResponse struct {
	ID        int64     `json:"id"`
	UserID    int64     `json:"user_id"`
	FirstName string    `json:"firstName"`
	LastName  string    `json:"lastName"`
	DOB       string    `json:"dob"`
	Country   string    `json:"country"`
	Address   string    `json:"address"`
	IDType    string    `json:"idType"`
	IDImage   string    `json:"idImage"`
	CreatedAt time.Time `json:"created_at"`
}

type transactionResponse struct {
	ID             int64     `json:"id"`
	UserID         int64     `json:"user_id"`
	DepositAddress string    `json:"depositAddress"`
	XLMAmount      string    `json:"xlmAmount"`
	Name           string    `json:"name"`
	Email          string    `json:"email"`
	Phone          string    `json:"phone"`
	TransactionID  string    `json:"transactionId"`
	TransactionImg string    `json:"transactionImg"`
	CreatedAt      time.Time `json:"created_at"`
}

type listResponse[T any] struct {
	Msg        string `json:"msg"`
	StatusCode bool   `json:"status_code"`
	Data       []T    `json:"data"`
}

type createdResponse[T any] struct {
	Msg        string `json:"msg"`
	StatusCode bool   `json:"status_code"`
	Data       T      `json:"data"`
}

func owner(c *fiber.Ctx) (identity.Account, error) {
	account, ok := identity.CurrentAccount(c)
	if !ok {
		return identity.Account{}, apperr.Auth("authentication required", nil)
	}
	return account, nil
}

// document opens the uploaded file in field. A missing file, or a body that
// is not multipart at all, yields an empty Document; the caller closes the
// returned file when non-nil.
func document(c *fiber.Ctx, field string) (Document, multipart.File, error) {
	header, err := c.FormFile(field)
	if err != nil {
		return Document{}, nil, nil
	}
	f, err := header.Open()
	if err != nil {
		return Document{}, nil, apperr.Internal(err)
	}
	return Document{Filename: header.Filename, Body: f}, f, nil
}

func (h *Handler) baseURL(c *fiber.Ctx) string {
	if h.publicBaseURL != "" {
		return h.publicBaseURL
	}
	return c.BaseURL()
}

// SubmitVerification handles the identity document upload.
func (h *Handler) SubmitVerification(c *fiber.Ctx) error {
	account, err := owner(c)
	if err != nil {
		return err
	}
	var in VerificationInput
	if err := c.BodyParser(&in); err != nil {
		return apperr.Validation("invalid request body")
	}
	doc, f, err := document(c, "idImage")
	if err != nil {
		return err
	}
	if f != nil {
		defer f.Close()
	}

	v, err := h.service.SubmitVerification(c.UserContext(), account, in, doc)
	if err != nil {
		return err
	}
	return c.Status(http.StatusCreated).JSON(createdResponse[verificationResponse]{
		Msg:        "Verification submitted successfully",
		StatusCode: true,
		Data:       h.verification(c, v),
	})
}

// ListVerifications returns the caller's verification submissions.
func (h *Handler) ListVerifications(c *fiber.Ctx) error {
	account, err := owner(c)
	if err != nil {
		return err
	}
	rows, err := h.service.ListVerifications(c.UserContext(), account)
	if err != nil {
		return err
	}
	out := make([]verificationResponse, 0, len(rows))
	for _, v := range rows {
		out = append(out, h.verification(c, v))
	}
	return c.Status(http.StatusOK).JSON(listResponse[verificationResponse]{Msg: listMsg(len(out)), StatusCode: true, Data: out})
}

// SubmitTransaction handles the transaction proof upload.
func (h *Handler) SubmitTransaction(c *fiber.Ctx) error {
	account, err := owner(c)
	if err != nil {
		return err
	}
	var in TransactionInput
	if err := c.BodyParser(&in); err != nil {
		return apperr.Validation("invalid request body")
	}
	doc, f, err := document(c, "transactionImg")
	if err != nil {
		return err
	}
	if f != nil {
		defer f.Close()
	}

	tx, err := h.service.SubmitTransaction(c.UserContext(), account, in, doc)
	if err != nil {
		return err
	}
	return c.Status(http.StatusCreated).JSON(createdResponse[transactionResponse]{
		Msg:        "Transaction submitted successfully",
		StatusCode: true,
		Data:       h.transaction(c, tx),
	})
}

// ListTransactions returns the caller's transaction submissions.
func (h *Handler) ListTransactions(c *fiber.Ctx) error {
	account, err := owner(c)
	if err != nil {
		return err
	}
	rows, err := h.service.ListTransactions(c.UserContext(), account)
	if err != nil {
		return err
	}
	out := make([]transactionResponse, 0, len(rows))
	for _, tx := range rows {
		out = append(out, h.transaction(c, tx))
	}
	return c.Status(http.StatusOK).JSON(listResponse[transactionResponse]{Msg: listMsg(len(out)), StatusCode: true, Data: out})
}

func listMsg(n int) string {
	if n == 0 {
		return "You have no records"
	}
	return "Records fetched successfully"
}

func (h *Handler) verification(c *fiber.Ctx, v Verification) verificationResponse {
	return verificationResponse{
		ID:        v.ID,
		UserID:    v.AccountID,
		FirstName: v.FirstName,
		LastName:  v.LastName,
		DOB:       v.DOB,
		Country:   v.Country,
		Address:   v.Address,
		IDType:    v.IDType,
		IDImage:   AbsoluteURL(h.baseURL(c), v.DocumentPath),
		CreatedAt: v.CreatedAt,
	}
}

func (h *Handler) transaction(c *fiber.Ctx, tx Transaction) transactionResponse {
	return transactionResponse{
		ID:             tx.ID,
		UserID:         tx.AccountID,
		DepositAddress: tx.DepositAddress,
		XLMAmount:      tx.XLMAmount,
		Name:           tx.Name,
		Email:          tx.Email,
		Phone:          tx.Phone,
		TransactionID:  tx.TransactionID,
		TransactionImg: AbsoluteURL(h.baseURL(c), tx.ProofPath),
		CreatedAt:      tx.CreatedAt,
	}
}
