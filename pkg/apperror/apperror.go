package apperror

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an AppError so callers can branch on it with errors.Is.
type Kind string

const (
	KindInsufficientStock   Kind = "INSUFFICIENT_STOCK"
	KindPeriodLocked        Kind = "PERIOD_LOCKED"
	KindOrderingViolation   Kind = "ORDERING_VIOLATION"
	KindPeriodChainBroken   Kind = "PERIOD_CHAIN_BROKEN"
	KindInsufficientBalance Kind = "INSUFFICIENT_BALANCE"
	KindValidation          Kind = "VALIDATION_ERROR"
	KindNotFound            Kind = "RESOURCE_NOT_FOUND"
	KindInternal            Kind = "INTERNAL_ERROR"
)

// Sentinels for errors.Is comparisons. Two AppErrors match when their kinds match.
var (
	ErrInsufficientStock   = &AppError{Kind: KindInsufficientStock}
	ErrPeriodLocked        = &AppError{Kind: KindPeriodLocked}
	ErrOrderingViolation   = &AppError{Kind: KindOrderingViolation}
	ErrPeriodChainBroken   = &AppError{Kind: KindPeriodChainBroken}
	ErrInsufficientBalance = &AppError{Kind: KindInsufficientBalance}
	ErrValidation          = &AppError{Kind: KindValidation}
	ErrNotFound            = &AppError{Kind: KindNotFound}
)

// AppError is a user-visible failure: a kind, a human message and optional details.
type AppError struct {
	Kind       Kind              `json:"kind"`
	Message    string            `json:"message"`
	Details    map[string]string `json:"details,omitempty"`
	HTTPStatus int               `json:"-"`
	Err        error             `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// Is reports kind equality, so errors.Is(err, apperror.ErrPeriodLocked) works on any wrapped AppError.
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// WithDetail adds a single detail to the error
func (e *AppError) WithDetail(key, value string) *AppError {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// Wrap attaches an underlying cause
func (e *AppError) Wrap(err error) *AppError {
	e.Err = err
	return e
}

func New(kind Kind, message string) *AppError {
	return &AppError{Kind: kind, Message: message, HTTPStatus: statusFor(kind)}
}

func Newf(kind Kind, format string, args ...interface{}) *AppError {
	return New(kind, fmt.Sprintf(format, args...))
}

func InsufficientStock(productID string, requested, available int) *AppError {
	return Newf(KindInsufficientStock, "requested %d units but only %d remain in lots received by the sale date", requested, available).
		WithDetail("product_id", productID)
}

func PeriodLocked(period string) *AppError {
	return Newf(KindPeriodLocked, "period %s is locked; unlock it before making changes", period).
		WithDetail("period", period)
}

func OrderingViolation(format string, args ...interface{}) *AppError {
	return Newf(KindOrderingViolation, format, args...)
}

func Validation(message string) *AppError {
	return New(KindValidation, message)
}

func NotFound(resource, id string) *AppError {
	return Newf(KindNotFound, "%s not found", resource).WithDetail("id", id)
}

// As extracts an AppError from an error chain.
func As(err error) (*AppError, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// HTTPStatus returns the status for err, 500 for anything that is not an AppError.
func HTTPStatus(err error) int {
	if appErr, ok := As(err); ok {
		if appErr.HTTPStatus != 0 {
			return appErr.HTTPStatus
		}
		return statusFor(appErr.Kind)
	}
	return http.StatusInternalServerError
}

func statusFor(kind Kind) int {
	switch kind {
	case KindInsufficientStock, KindInsufficientBalance:
		return http.StatusUnprocessableEntity
	case KindPeriodLocked:
		return http.StatusLocked
	case KindPeriodChainBroken:
		return http.StatusConflict
	case KindValidation:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}
