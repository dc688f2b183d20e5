package errorutil

import (
	"database/sql"
	"errors"
	"fmt"
	"net/http"

	"github.com/jackc/pgx/v5"
	"gorm.io/gorm"
)

// Error codes shared by the store, the lifecycle manager and the HTTP layer.
const (
	CodeValidation      = "VALIDATION_FAILED"
	CodeNotFound        = "NOT_FOUND"
	CodeConflict        = "CONFLICT"
	CodeDuplicateTicket = "DUPLICATE_TICKET"
	CodeAlreadyClaimed  = "ALREADY_CLAIMED"
	CodeNotClaimant     = "NOT_CLAIMANT"
	CodeInvalidState    = "INVALID_STATE"
	CodeAuditWrite      = "AUDIT_WRITE_FAILED"
	CodeUnauthorized    = "UNAUTHORIZED"
	CodeForbidden       = "FORBIDDEN"
	CodeInternal        = "INTERNAL_ERROR"
)

// Sentinels for errors.Is; matching is by code only.
var (
	ErrValidation      = &DomainError{Code: CodeValidation}
	ErrNotFound        = &DomainError{Code: CodeNotFound}
	ErrConflict        = &DomainError{Code: CodeConflict}
	ErrDuplicateTicket = &DomainError{Code: CodeDuplicateTicket}
	ErrAlreadyClaimed  = &DomainError{Code: CodeAlreadyClaimed}
	ErrNotClaimant     = &DomainError{Code: CodeNotClaimant}
	ErrInvalidState    = &DomainError{Code: CodeInvalidState}
	ErrAuditWrite      = &DomainError{Code: CodeAuditWrite}
)

// DomainError standardizes application errors.
type DomainError struct {
	Code       string
	Message    string
	HTTPStatus int
	Details    map[string]any
	Err        error
}

func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *DomainError) Unwrap() error {
	return e.Err
}

// Is reports whether target is a DomainError carrying the same code.
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// NewDomainError constructs a DomainError.
func NewDomainError(code, message string, status int, details map[string]any) *DomainError {
	return &DomainError{Code: code, Message: message, HTTPStatus: status, Details: details}
}

func NewValidationError(message string, details map[string]any) error {
	return NewDomainError(CodeValidation, message, http.StatusBadRequest, details)
}

func NewNotFound(resource string, details map[string]any) error {
	if details == nil {
		details = map[string]any{}
	}
	return &DomainError{
		Code:       CodeNotFound,
		Message:    fmt.Sprintf("%s not found", resource),
		HTTPStatus: http.StatusNotFound,
		Details:    details,
	}
}

func NewUnauthorized(message string) error {
	return NewDomainError(CodeUnauthorized, message, http.StatusUnauthorized, nil)
}

func NewForbidden(message string) error {
	return NewDomainError(CodeForbidden, message, http.StatusForbidden, nil)
}

func NewConflict(message string, details map[string]any) error {
	return NewDomainError(CodeConflict, message, http.StatusConflict, details)
}

func NewDuplicateTicket(channelID string) error {
	return NewDomainError(CodeDuplicateTicket, "a ticket is already open in this channel", http.StatusConflict,
		map[string]any{"channel_id": channelID})
}

func NewAlreadyClaimed(ticketID string, claimedBy *string) error {
	details := map[string]any{"ticket_id": ticketID}
	if claimedBy != nil {
		details["claimed_by"] = *claimedBy
	}
	return NewDomainError(CodeAlreadyClaimed, "ticket is already claimed by another staff member", http.StatusConflict, details)
}

func NewNotClaimant(ticketID, userID string) error {
	return NewDomainError(CodeNotClaimant, "only the current claimant can release this ticket", http.StatusForbidden,
		map[string]any{"ticket_id": ticketID, "user_id": userID})
}

func NewInvalidState(message string, details map[string]any) error {
	return NewDomainError(CodeInvalidState, message, http.StatusConflict, details)
}

// NewAuditWriteError wraps a storage fault raised while appending an audit entry.
// The operation that triggered the write has already committed.
func NewAuditWriteError(err error, details map[string]any) error {
	return &DomainError{
		Code:       CodeAuditWrite,
		Message:    "audit entry could not be written",
		HTTPStatus: http.StatusInternalServerError,
		Details:    details,
		Err:        err,
	}
}

func NewInternalError(err error) error {
	return &DomainError{
		Code:       CodeInternal,
		Message:    "internal server error",
		HTTPStatus: http.StatusInternalServerError,
		Err:        err,
	}
}

// IsDegraded reports whether err signals a committed operation whose audit entry was lost.
func IsDegraded(err error) bool {
	return errors.Is(err, ErrAuditWrite)
}

// ToDomainError converts generic errors to DomainError.
func ToDomainError(err error) *DomainError {
	if err == nil {
		return nil
	}
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr
	}
	if errors.Is(err, sql.ErrNoRows) || errors.Is(err, pgx.ErrNoRows) || errors.Is(err, gorm.ErrRecordNotFound) {
		return NewNotFound("resource", nil).(*DomainError)
	}
	return NewInternalError(err).(*DomainError)
}

func MapError(err error) error {
	return ToDomainError(err)
}
