package errors

import (
	"errors"
	"fmt"
)

// Error types for different domains
type ErrorType string

const (
	ErrorTypeValidation ErrorType = "validation"
	ErrorTypeState      ErrorType = "state"
	ErrorTypeNotFound   ErrorType = "not_found"
	ErrorTypeForbidden  ErrorType = "forbidden"
	ErrorTypeConflict   ErrorType = "conflict"
	ErrorTypeContention ErrorType = "contention"
	ErrorTypeRateLimit  ErrorType = "rate_limit"
	ErrorTypeInternal   ErrorType = "internal"
)

// AppError represents a structured application error
type AppError struct {
	Type       ErrorType              `json:"type"`
	Code       string                 `json:"code"`
	Message    string                 `json:"message"`
	Details    map[string]interface{} `json:"details,omitempty"`
	Cause      error                  `json:"-"`
	Retryable  bool                   `json:"retryable"`
	StatusCode int                    `json:"status_code"`
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

func (e *AppError) WithDetails(details map[string]interface{}) *AppError {
	clone := *e
	clone.Details = details
	return &clone
}

func (e *AppError) WithCause(cause error) *AppError {
	clone := *e
	clone.Cause = cause
	return &clone
}

// Error constructors
func NewValidationError(code, message string) *AppError {
	return &AppError{
		Type:       ErrorTypeValidation,
		Code:       code,
		Message:    message,
		Retryable:  false,
		StatusCode: 400,
	}
}

// NewStateError signals an operation rejected because the entity is in the
// wrong lifecycle state (not active, already ended, already retracted).
func NewStateError(code, message string) *AppError {
	return &AppError{
		Type:       ErrorTypeState,
		Code:       code,
		Message:    message,
		Retryable:  false,
		StatusCode: 400,
	}
}

func NewNotFoundError(resource string) *AppError {
	return &AppError{
		Type:       ErrorTypeNotFound,
		Code:       "RESOURCE_NOT_FOUND",
		Message:    fmt.Sprintf("%s not found", resource),
		Retryable:  false,
		StatusCode: 404,
	}
}

func NewForbiddenError(message string) *AppError {
	return &AppError{
		Type:       ErrorTypeForbidden,
		Code:       "FORBIDDEN",
		Message:    message,
		Retryable:  false,
		StatusCode: 403,
	}
}

func NewConflictError(message string) *AppError {
	return &AppError{
		Type:       ErrorTypeConflict,
		Code:       "CONFLICT",
		Message:    message,
		Retryable:  false,
		StatusCode: 409,
	}
}

// NewContentionError signals that the per-auction lock could not be acquired
// within the bounded retry budget. Clients may retry.
func NewContentionError(message string) *AppError {
	return &AppError{
		Type:       ErrorTypeContention,
		Code:       "LOCK_BUSY",
		Message:    message,
		Retryable:  true,
		StatusCode: 409,
	}
}

func NewRateLimitError(message string) *AppError {
	return &AppError{
		Type:       ErrorTypeRateLimit,
		Code:       "RATE_LIMIT_EXCEEDED",
		Message:    message,
		Retryable:  true,
		StatusCode: 429,
	}
}

func NewInternalError(message string) *AppError {
	return &AppError{
		Type:       ErrorTypeInternal,
		Code:       "INTERNAL_ERROR",
		Message:    message,
		Retryable:  true,
		StatusCode: 500,
	}
}

// Predefined common errors
var (
	ErrAuctionNotFound   = NewNotFoundError("auction")
	ErrBidNotFound       = NewNotFoundError("bid")
	ErrUserNotFound      = NewNotFoundError("user")
	ErrAuctionNotActive  = NewStateError("AUCTION_NOT_ACTIVE", "Auction is not accepting bids")
	ErrAuctionEnded      = NewStateError("AUCTION_ENDED", "Auction has ended")
	ErrAuctionHasBids    = NewStateError("AUCTION_HAS_BIDS", "Auction already has bids")
	ErrBidTooLow         = NewValidationError("BID_TOO_LOW", "Bid amount is below the minimum next bid")
	ErrSelfBid           = NewForbiddenError("Sellers cannot bid on their own auctions")
	ErrNotBidOwner       = NewForbiddenError("Bid belongs to another user")
	ErrAlreadyRetracted  = NewStateError("ALREADY_RETRACTED", "Bid has already been retracted")
	ErrNotWinningBid     = NewStateError("NOT_WINNING_BID", "Only the current winning bid may be retracted")
	ErrRetractionExpired = NewStateError("RETRACTION_WINDOW_EXPIRED", "Retraction window has expired")
	ErrLockBusy          = NewContentionError("Auction is busy, please retry")
	ErrDuplicateEntity   = NewConflictError("Entity with this id already exists")
	ErrDuplicateEmail    = NewConflictError("Email is already registered")
)

// Wrap wraps an error with a message using fmt.Errorf with %w
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// AsAppError unwraps an error into an AppError if it is one.
func AsAppError(err error) (*AppError, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// IsType checks if an error is of a specific type
func IsType(err error, errorType ErrorType) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Type == errorType
	}
	return false
}

// IsRetryable checks if an error is retryable
func IsRetryable(err error) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Retryable
	}
	return false
}

// GetStatusCode extracts HTTP status code from error
func GetStatusCode(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.StatusCode
	}
	return 500
}

// GetCode extracts the machine-readable code from an error
func GetCode(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return "INTERNAL_ERROR"
}
