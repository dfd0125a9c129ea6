package errors

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
)

// Kind classifies an application error by how the terminal recovers from it.
type Kind string

const (
	// KindValidation is recovered locally with inline feedback.
	KindValidation Kind = "validation"
	// KindCollaborator is a failed call to the backend, gateway or member service.
	KindCollaborator Kind = "collaborator"
	// KindConflict is an operation not allowed in the current state.
	KindConflict Kind = "conflict"
	// KindNotFound is a lookup that matched nothing.
	KindNotFound Kind = "not_found"
	// KindDuplicate marks a late or repeated event. Never surfaced.
	KindDuplicate Kind = "duplicate"
	// KindInternal is anything else.
	KindInternal Kind = "internal"
)

// Error represents an application error
type Error struct {
	Code    int    `json:"code"`
	Kind    Kind   `json:"kind"`
	Message string `json:"message"`
	Err     error  `json:"-"`
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the wrapped error
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches errors of the same kind and message, so wrapped copies of a
// sentinel still satisfy errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind && e.Message == t.Message
}

// JSON returns the error as a JSON string
func (e *Error) JSON() string {
	b, _ := json.Marshal(e)
	return string(b)
}

// New creates a new Error
func New(code int, kind Kind, message string, err error) *Error {
	return &Error{
		Code:    code,
		Kind:    kind,
		Message: message,
		Err:     err,
	}
}

// Wrap returns a copy of base carrying err as its cause.
func Wrap(base *Error, err error) *Error {
	return &Error{Code: base.Code, Kind: base.Kind, Message: base.Message, Err: err}
}

// Validation builds a validation error with a custom message.
func Validation(message string) *Error {
	return New(http.StatusUnprocessableEntity, KindValidation, message, nil)
}

// Collaborator wraps a failed outbound call.
func Collaborator(message string, err error) *Error {
	return New(http.StatusBadGateway, KindCollaborator, message, err)
}

// KindOf returns the Kind of err, or KindInternal when err is not an *Error.
func KindOf(err error) Kind {
	var appErr *Error
	if stderrors.As(err, &appErr) {
		return appErr.Kind
	}
	return KindInternal
}

// IsKind reports whether err is an *Error of the given kind.
func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// Common error types
var (
	ErrBadRequest         = New(http.StatusBadRequest, KindValidation, "Bad request", nil)
	ErrNotFound           = New(http.StatusNotFound, KindNotFound, "Not found", nil)
	ErrInternalServer     = New(http.StatusInternalServerError, KindInternal, "Internal server error", nil)
	ErrServiceUnavailable = New(http.StatusServiceUnavailable, KindCollaborator, "Service unavailable", nil)
)

// Cart and checkout error types
var (
	ErrInvalidQuantity = New(http.StatusUnprocessableEntity, KindValidation, "Quantity must be at least 1", nil)
	ErrTooManySlots    = New(http.StatusUnprocessableEntity, KindValidation, "More topping slots than units", nil)
	ErrLineNotFound    = New(http.StatusNotFound, KindNotFound, "Cart line not found", nil)
	ErrUnitOutOfRange  = New(http.StatusUnprocessableEntity, KindValidation, "Unit index out of range", nil)
	ErrUnknownTopping  = New(http.StatusUnprocessableEntity, KindValidation, "Topping not available for this item", nil)
	ErrEmptyCart       = New(http.StatusUnprocessableEntity, KindValidation, "Cart is empty", nil)
	ErrCartLocked      = New(http.StatusConflict, KindConflict, "Cart is locked while a payment is in progress", nil)
	ErrInvalidOrder    = New(http.StatusUnprocessableEntity, KindValidation, "Invalid order details", nil)
)

// Payment error types
var (
	ErrInvalidState         = New(http.StatusConflict, KindConflict, "Operation not allowed in current payment state", nil)
	ErrInsufficientTendered = New(http.StatusUnprocessableEntity, KindValidation, "Cash received is less than total", nil)
	ErrMethodUnavailable    = New(http.StatusUnprocessableEntity, KindValidation, "Debit payment not available yet", nil)
	ErrUnknownMethod        = New(http.StatusUnprocessableEntity, KindValidation, "Unknown payment method", nil)
	ErrPaymentFailed        = New(http.StatusBadGateway, KindCollaborator, "Payment failed", nil)
	ErrDuplicateEvent       = New(http.StatusOK, KindDuplicate, "Duplicate payment event", nil)
)

// Member and points error types
var (
	ErrPhoneRequired           = New(http.StatusUnprocessableEntity, KindValidation, "Phone number required", nil)
	ErrMemberNotFound          = New(http.StatusNotFound, KindNotFound, "Member not found", nil)
	ErrMemberAlreadyRegistered = New(http.StatusConflict, KindConflict, "Member already registered", nil)
	ErrMemberLookupFailed      = New(http.StatusBadGateway, KindCollaborator, "Member lookup failed", nil)
	ErrNoMember                = New(http.StatusUnprocessableEntity, KindValidation, "No member selected", nil)
	ErrBalanceTooLow           = New(http.StatusUnprocessableEntity, KindValidation, "Points balance too low", nil)
	ErrPointsExceedMax         = New(http.StatusUnprocessableEntity, KindValidation, "Cannot use points beyond limit", nil)
	ErrPointsNonPositive       = New(http.StatusUnprocessableEntity, KindValidation, "Points must be greater than zero", nil)
)

// ErrorMiddleware renders the last gin error as JSON.
func ErrorMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) > 0 {
			err := c.Errors.Last().Err
			var appErr *Error
			if !stderrors.As(err, &appErr) {
				appErr = Wrap(ErrInternalServer, err)
			}

			c.JSON(appErr.Code, appErr)
			c.Abort()
		}
	}
}
