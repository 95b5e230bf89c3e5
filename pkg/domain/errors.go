package domain

import (
	"errors"
	"fmt"
)

// Failure kinds reported by the conversion engine. Match with errors.Is.
var (
	ErrNotFound               = errors.New("not found")
	ErrUnsupportedOperation   = errors.New("unsupported operation")
	ErrInsufficientStock      = errors.New("insufficient stock")
	ErrInvalidPortionSize     = errors.New("invalid portion size")
	ErrInvalidStateTransition = errors.New("invalid state transition")
	ErrConfiguration          = errors.New("configuration error")
	ErrInvalidQuantity        = errors.New("invalid quantity")
)

// NotFoundError reports a record id that did not resolve. It matches ErrNotFound.
type NotFoundError struct {
	Entity EntityType
	ID     string
}

func (e NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Entity, e.ID)
}

// Is lets errors.Is(err, ErrNotFound) succeed.
func (e NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

// OperationError describes a failed engine operation on a stock record.
type OperationError struct {
	Op      string
	StockID string
	Kind    error
	Detail  string
}

func (e *OperationError) Error() string {
	msg := e.Op
	if e.StockID != "" {
		msg += " " + e.StockID
	}
	if e.Kind != nil {
		msg += ": " + e.Kind.Error()
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	return msg
}

func (e *OperationError) Unwrap() error { return e.Kind }

// NewOperationError builds an OperationError with a formatted detail message.
func NewOperationError(op, stockID string, kind error, format string, args ...any) *OperationError {
	return &OperationError{Op: op, StockID: stockID, Kind: kind, Detail: fmt.Sprintf(format, args...)}
}
