package models

import (
	"errors"
	"fmt"
	"strings"

	mysqlDriver "github.com/go-sql-driver/mysql"
	"github.com/shopspring/decimal"
)

// ErrorKind tags engine errors so callers can map them to retry/no-retry
// behavior and HTTP statuses without string matching.
type ErrorKind string

const (
	ErrorKindValidation            ErrorKind = "ValidationError"
	ErrorKindInvalidState          ErrorKind = "InvalidState"
	ErrorKindInvalidTransition     ErrorKind = "InvalidTransition"
	ErrorKindInsufficientStock     ErrorKind = "InsufficientStock"
	ErrorKindInsufficientMaterials ErrorKind = "InsufficientMaterials"
	ErrorKindInsufficientInventory ErrorKind = "InsufficientInventory"
	ErrorKindNotFound              ErrorKind = "NotFound"
)

type EngineError struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
}

func (e *EngineError) Error() string {
	return e.Message
}

func NewValidationError(format string, args ...interface{}) *EngineError {
	return &EngineError{Kind: ErrorKindValidation, Message: fmt.Sprintf(format, args...)}
}

func NewInvalidStateError(format string, args ...interface{}) *EngineError {
	return &EngineError{Kind: ErrorKindInvalidState, Message: fmt.Sprintf(format, args...)}
}

func NewInvalidTransitionError(entity string, from string, to string) *EngineError {
	return &EngineError{
		Kind:    ErrorKindInvalidTransition,
		Message: fmt.Sprintf("%s cannot transition from %s to %s", entity, from, to),
	}
}

func NewNotFoundError(entity string, id interface{}) *EngineError {
	return &EngineError{Kind: ErrorKindNotFound, Message: fmt.Sprintf("%s %v not found", entity, id)}
}

// ShortageItem is one line of an itemized insufficiency failure. Callers
// render the full list, not a bare "insufficient stock".
type ShortageItem struct {
	Name      string          `json:"name"`
	Code      string          `json:"code"`
	Required  decimal.Decimal `json:"required"`
	Available decimal.Decimal `json:"available"`
	Shortage  decimal.Decimal `json:"shortage"`
}

type ShortageError struct {
	Kind      ErrorKind      `json:"kind"`
	Message   string         `json:"message"`
	Shortages []ShortageItem `json:"shortages"`
}

func (e *ShortageError) Error() string {
	parts := make([]string, 0, len(e.Shortages))
	for _, s := range e.Shortages {
		parts = append(parts, fmt.Sprintf("%s (%s): required %s, available %s, short %s",
			s.Name, s.Code, s.Required.String(), s.Available.String(), s.Shortage.String()))
	}
	if len(parts) == 0 {
		return e.Message
	}
	return e.Message + ": " + strings.Join(parts, "; ")
}

func NewInsufficientStockError(items ...ShortageItem) *ShortageError {
	return &ShortageError{
		Kind:      ErrorKindInsufficientStock,
		Message:   "insufficient stock",
		Shortages: items,
	}
}

func NewInsufficientMaterialsError(items []ShortageItem) *ShortageError {
	return &ShortageError{
		Kind:      ErrorKindInsufficientMaterials,
		Message:   "insufficient materials",
		Shortages: items,
	}
}

func NewInsufficientInventoryError(items []ShortageItem) *ShortageError {
	return &ShortageError{
		Kind:      ErrorKindInsufficientInventory,
		Message:   "insufficient finished goods inventory",
		Shortages: items,
	}
}

// isDuplicateEntry reports a MySQL ER_DUP_ENTRY failure. Uniqueness is
// validated before insert, but two concurrent creates can both pass the
// check; the losing insert surfaces here and gets the same ValidationError.
func isDuplicateEntry(err error) bool {
	var mysqlErr *mysqlDriver.MySQLError
	return errors.As(err, &mysqlErr) && mysqlErr.Number == 1062
}

// ErrorKindOf extracts the kind for HTTP mapping; unknown errors report as "".
func ErrorKindOf(err error) ErrorKind {
	switch e := err.(type) {
	case *EngineError:
		return e.Kind
	case *ShortageError:
		return e.Kind
	}
	return ""
}
