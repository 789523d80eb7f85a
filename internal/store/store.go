package store

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"queijaria/backend/internal/domain"
)

var (
	ErrNotFound  = errors.New("not found")
	ErrDuplicate = errors.New("duplicate record")
)

// Repository is the single local store. Every write that touches movements
// advances LastModified.
type Repository interface {
	ListProducts(ctx context.Context) ([]domain.Product, error)
	GetProduct(ctx context.Context, name string) (*domain.Product, error)
	CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error)
	DeleteProduct(ctx context.Context, name string) error
	SetProductQuantity(ctx context.Context, name string, qty decimal.Decimal) error

	ListCustomers(ctx context.Context) ([]domain.Customer, error)
	CreateCustomer(ctx context.Context, customer domain.Customer) (*domain.Customer, error)
	DeleteCustomer(ctx context.Context, id string) error
	// CatalogVersion advances on every product or customer create and delete.
	CatalogVersion(ctx context.Context) (int64, error)

	AppendMovements(ctx context.Context, movements []domain.Movement) ([]domain.Movement, error)
	ListMovements(ctx context.Context) ([]domain.Movement, error)
	ListMovementsBySale(ctx context.Context, code string) ([]domain.Movement, error)
	LastModified(ctx context.Context) (time.Time, error)

	// CommitSale assigns the next sale code, appends the exits tagged with it and
	// stores the sale, all or nothing.
	CommitSale(ctx context.Context, sale domain.Sale, exits []domain.Movement) (*domain.Sale, error)
	GetSale(ctx context.Context, code string) (*domain.Sale, error)
	ListSales(ctx context.Context, limit int) ([]domain.Sale, error)
	CountSales(ctx context.Context) (int, error)
	// MarkSaleReversed flips the reversed flag and appends the compensating entries,
	// all or nothing. A sale already reversed yields domain.ErrAlreadyReversed.
	MarkSaleReversed(ctx context.Context, code string, entries []domain.Movement, at time.Time) (*domain.Sale, error)

	CreateAuditLog(ctx context.Context, entry domain.AuditLog) error
	ListAuditLogs(ctx context.Context, limit int) ([]domain.AuditLog, error)

	GetUser(ctx context.Context, username string) (*domain.UserAccount, error)
	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
}
