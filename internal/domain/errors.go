package domain

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var (
	ErrValidation             = errors.New("validation failed")
	ErrProductNotFound        = errors.New("product not found")
	ErrInsufficientStock      = errors.New("insufficient stock")
	ErrInsufficientBatchStock = errors.New("insufficient batch stock")
	ErrAlreadyReversed        = errors.New("sale already reversed")
)

// BatchStockError reports a pinned-batch request that the batch cannot cover.
type BatchStockError struct {
	Product   string
	Batch     string
	Requested decimal.Decimal
	Available decimal.Decimal
}

func (e *BatchStockError) Error() string {
	return fmt.Sprintf("insufficient stock in batch %s of %s: requested %s, available %s",
		e.Batch, e.Product, e.Requested.String(), e.Available.String())
}

func (e *BatchStockError) Unwrap() error { return ErrInsufficientBatchStock }

// ShortfallError reports an unpinned request larger than the product's FIFO availability.
type ShortfallError struct {
	Product   string
	Requested decimal.Decimal
	Available decimal.Decimal
	Shortfall decimal.Decimal
}

func (e *ShortfallError) Error() string {
	return fmt.Sprintf("insufficient stock of %s: requested %s, available %s, short by %s",
		e.Product, e.Requested.String(), e.Available.String(), e.Shortfall.String())
}

func (e *ShortfallError) Unwrap() error { return ErrInsufficientStock }

type ProductNotFoundError struct {
	Name string
}

func (e *ProductNotFoundError) Error() string {
	return fmt.Sprintf("product %q not found", e.Name)
}

func (e *ProductNotFoundError) Unwrap() error { return ErrProductNotFound }
