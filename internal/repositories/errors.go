package repositories

import (
	"errors"
	"fmt"
)

// StoreError is the backend-neutral RepositoryError used by the memory and relational stores.
type StoreError struct {
	Op          string
	Err         error
	notFound    bool
	conflict    bool
	unavailable bool
}

var _ RepositoryError = (*StoreError)(nil)

// Error implements the error interface.
func (e *StoreError) Error() string {
	if e == nil {
		return ""
	}
	if e.Op != "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return e.Err.Error()
}

// Unwrap returns the underlying error.
func (e *StoreError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func (e *StoreError) IsNotFound() bool    { return e != nil && e.notFound }
func (e *StoreError) IsConflict() bool    { return e != nil && e.conflict }
func (e *StoreError) IsUnavailable() bool { return e != nil && e.unavailable }

// NewNotFoundError reports a missing record.
func NewNotFoundError(op string, err error) *StoreError {
	if err == nil {
		err = errors.New("not found")
	}
	return &StoreError{Op: op, Err: err, notFound: true}
}

// NewConflictError reports a uniqueness or concurrent-update violation.
func NewConflictError(op string, err error) *StoreError {
	if err == nil {
		err = errors.New("conflict")
	}
	return &StoreError{Op: op, Err: err, conflict: true}
}

// NewUnavailableError reports a transient backend failure.
func NewUnavailableError(op string, err error) *StoreError {
	if err == nil {
		err = errors.New("unavailable")
	}
	return &StoreError{Op: op, Err: err, unavailable: true}
}

// IsNotFound reports whether err carries not-found semantics.
func IsNotFound(err error) bool {
	var repoErr RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsNotFound()
}

// IsConflict reports whether err carries conflict semantics.
func IsConflict(err error) bool {
	var repoErr RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsConflict()
}

// StockErrorCode enumerates stock adjustment failures.
type StockErrorCode string

const (
	// StockErrorInsufficient indicates the requested decrement exceeds available stock.
	StockErrorInsufficient StockErrorCode = "stock_insufficient"
	// StockErrorProductNotFound indicates the product row is missing.
	StockErrorProductNotFound StockErrorCode = "stock_product_not_found"
)

// StockError wraps stock-specific failures with machine readable codes.
type StockError struct {
	Op        string
	Code      StockErrorCode
	ProductID string
	Available int
	Requested int
}

// Error implements the error interface.
func (e *StockError) Error() string {
	if e == nil {
		return ""
	}
	msg := fmt.Sprintf("%s for product %s (available %d, requested %d)", e.Code, e.ProductID, e.Available, e.Requested)
	if e.Op != "" {
		return e.Op + ": " + msg
	}
	return msg
}

// IsNotFound lets StockError satisfy not-found classification for missing products.
func (e *StockError) IsNotFound() bool    { return e != nil && e.Code == StockErrorProductNotFound }
func (e *StockError) IsConflict() bool    { return e != nil && e.Code == StockErrorInsufficient }
func (e *StockError) IsUnavailable() bool { return false }

// NewStockError constructs a typed stock error.
func NewStockError(op string, code StockErrorCode, productID string, available, requested int) *StockError {
	return &StockError{Op: op, Code: code, ProductID: productID, Available: available, Requested: requested}
}
