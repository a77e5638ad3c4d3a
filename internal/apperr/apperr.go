package apperr

import (
	"errors"
	"net/http"

	validation "github.com/go-ozzo/ozzo-validation"
)

// Kind classifies an error for callers and for the HTTP envelope.
type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindConflict
	KindAuth
	KindNotFoundOrInactive
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindConflict:
		return "conflict"
	case KindAuth:
		return "auth"
	case KindNotFoundOrInactive:
		return "not_found_or_inactive"
	default:
		return "internal"
	}
}

// Error is the only error type returned across service boundaries.
type Error struct {
	Kind    Kind
	Msg     string
	Field   string
	Details map[string]string
	Err     error
}

func (e *Error) Error() string {
	if e.Kind == KindInternal && e.Err != nil && e.Msg == "" {
		return e.Err.Error()
	}
	return e.Msg
}

func (e *Error) Unwrap() error { return e.Err }

// Validation reports a caller-fixable input problem.
func Validation(msg string) *Error {
	return &Error{Kind: KindValidation, Msg: msg}
}

// FromValidation converts an ozzo validation result. Non-validation errors
// (rule implementation failures) become internal errors.
func FromValidation(err error) error {
	if err == nil {
		return nil
	}
	var verrs validation.Errors
	if !errors.As(err, &verrs) {
		return Internal(err)
	}
	// Errors.Error panics on nil entries, so drop them first.
	filtered := make(validation.Errors, len(verrs))
	for field, ferr := range verrs {
		if ferr != nil {
			filtered[field] = ferr
		}
	}
	if len(filtered) == 0 {
		return nil
	}
	details := make(map[string]string, len(filtered))
	for field, ferr := range filtered {
		details[field] = ferr.Error()
	}
	return &Error{Kind: KindValidation, Msg: filtered.Error(), Details: details, Err: filtered}
}

// Conflict reports a uniqueness violation on field.
func Conflict(field, msg string) *Error {
	return &Error{Kind: KindConflict, Field: field, Msg: msg}
}

// Auth reports a missing, invalid or expired token or a secret mismatch.
func Auth(msg string, cause error) *Error {
	return &Error{Kind: KindAuth, Msg: msg, Err: cause}
}

// NotFoundOrInactive reports a lookup or conditional update that matched no
// active row.
func NotFoundOrInactive(msg string) *Error {
	return &Error{Kind: KindNotFoundOrInactive, Msg: msg}
}

// Internal wraps an unexpected storage or dispatch failure.
func Internal(err error) *Error {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr
	}
	return &Error{Kind: KindInternal, Err: err}
}

// KindOf returns the kind of err, KindInternal for foreign errors.
func KindOf(err error) Kind {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	return KindInternal
}

// Is reports whether err carries kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// HTTPStatus maps err onto the service's single status convention.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindValidation:
		return http.StatusBadRequest
	case KindConflict:
		return http.StatusConflict
	case KindAuth:
		return http.StatusUnauthorized
	case KindNotFoundOrInactive:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}
