// Package sale stages sale lines against the ledger and commits them as one unit.
package sale

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"queijaria/backend/internal/domain"
	"queijaria/backend/internal/ledger"
	"queijaria/backend/internal/store"
)

type Catalog interface {
	GetProduct(ctx context.Context, name string) (*domain.Product, error)
}

// Store commits a sale and its exits atomically and assigns the sale code.
type Store interface {
	CommitSale(ctx context.Context, sale domain.Sale, exits []domain.Movement) (*domain.Sale, error)
}

type Line struct {
	Product  string
	Batch    string
	Quantity decimal.Decimal
	// AllowOverdraft records that the operator already accepted selling past stock.
	AllowOverdraft bool
}

// Draft is an in-progress sale. It holds no stock; dropping it cancels the sale.
type Draft struct {
	lines []Line
}

// NewDraft rebuilds a draft from lines staged elsewhere, such as a client holding
// the cart. Finalize checks every line again, so no availability check runs here.
func NewDraft(lines ...Line) *Draft {
	return &Draft{lines: append([]Line(nil), lines...)}
}

func (d *Draft) Lines() []Line {
	return append([]Line(nil), d.lines...)
}

func (d *Draft) Len() int {
	return len(d.lines)
}

func (d *Draft) Reset() {
	d.lines = nil
}

// OverdraftApprover decides whether a shortfall found at finalize may be sold anyway.
type OverdraftApprover interface {
	ApproveOverdraft(ctx context.Context, product string, shortfall decimal.Decimal) bool
}

type ApproveFunc func(ctx context.Context, product string, shortfall decimal.Decimal) bool

func (f ApproveFunc) ApproveOverdraft(ctx context.Context, product string, shortfall decimal.Decimal) bool {
	return f(ctx, product, shortfall)
}

// DeclineOverdraft refuses every shortfall.
var DeclineOverdraft = ApproveFunc(func(context.Context, string, decimal.Decimal) bool { return false })

type Checkout struct {
	Customer        string
	DiscountPercent decimal.Decimal
	PaymentMethod   string
	CreatedBy       string
}

type Builder struct {
	ledger  *ledger.Ledger
	catalog Catalog
	store   Store
	now     func() time.Time
}

func NewBuilder(l *ledger.Ledger, catalog Catalog, st Store) *Builder {
	return &Builder{ledger: l, catalog: catalog, store: st, now: time.Now}
}

// AddLine stages line on draft if the stock left after the lines already staged covers it.
// It returns what remains available for the line's product (or pinned batch) once the
// line is counted. A rejected line leaves the draft untouched.
func (b *Builder) AddLine(ctx context.Context, draft *Draft, line Line) (decimal.Decimal, error) {
	line.Product = strings.TrimSpace(line.Product)
	line.Batch = strings.TrimSpace(line.Batch)
	line.Quantity = domain.RoundQty(line.Quantity)
	if !line.Quantity.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: quantity must be positive", domain.ErrValidation)
	}
	if err := domain.CheckOperatorBatch(line.Batch); err != nil {
		return decimal.Zero, err
	}
	product, err := b.product(ctx, line.Product)
	if err != nil {
		return decimal.Zero, err
	}
	line.Product = product.Name

	book, err := b.ledger.Book(ctx)
	if err != nil {
		return decimal.Zero, err
	}
	at := b.now().UTC()
	for _, staged := range draft.lines {
		alloc, err := ledger.Allocate(book, ledger.AllocationRequest{
			Product: staged.Product, Quantity: staged.Quantity, Batch: staged.Batch, Date: at,
		})
		if err != nil {
			return decimal.Zero, fmt.Errorf("staged line %s: %w", staged.Product, err)
		}
		book.Apply(alloc.Exits...)
	}

	var available decimal.Decimal
	if line.Batch != "" {
		available = book.BatchBalance(line.Product, line.Batch)
		if available.LessThan(line.Quantity) {
			return decimal.Zero, &domain.BatchStockError{
				Product:   line.Product,
				Batch:     line.Batch,
				Requested: line.Quantity,
				Available: decimal.Max(available, decimal.Zero),
			}
		}
	} else {
		available = book.Available(line.Product)
		if available.LessThan(line.Quantity) && !line.AllowOverdraft {
			return decimal.Zero, &domain.ShortfallError{
				Product:   line.Product,
				Requested: line.Quantity,
				Available: available,
				Shortfall: domain.RoundQty(line.Quantity.Sub(available)),
			}
		}
	}

	draft.lines = append(draft.lines, line)
	return decimal.Max(domain.RoundQty(available.Sub(line.Quantity)), decimal.Zero), nil
}

// Finalize allocates every staged line against one replay of the ledger and commits the
// sale. Any shortfall the line did not pre-approve goes to approver; a refusal aborts the
// whole sale before anything is written.
func (b *Builder) Finalize(ctx context.Context, draft *Draft, co Checkout, approver OverdraftApprover) (*domain.Sale, error) {
	if draft.Len() == 0 {
		return nil, fmt.Errorf("%w: sale has no lines", domain.ErrValidation)
	}
	co.Customer = strings.TrimSpace(co.Customer)
	if co.Customer == "" {
		co.Customer = domain.AnonymousCustomer
	}
	co.PaymentMethod = strings.ToLower(strings.TrimSpace(co.PaymentMethod))
	if co.PaymentMethod == "" {
		co.PaymentMethod = domain.PaymentCash
	}
	if !domain.IsSupportedPaymentMethod(co.PaymentMethod) {
		return nil, fmt.Errorf("%w: unsupported payment method %q", domain.ErrValidation, co.PaymentMethod)
	}
	co.DiscountPercent = domain.RoundMoney(co.DiscountPercent)
	if co.DiscountPercent.IsNegative() || co.DiscountPercent.GreaterThan(decimal.NewFromInt(100)) {
		return nil, fmt.Errorf("%w: discount must be between 0 and 100", domain.ErrValidation)
	}
	if approver == nil {
		approver = DeclineOverdraft
	}

	book, err := b.ledger.Book(ctx)
	if err != nil {
		return nil, err
	}
	at := b.now().UTC()

	var exits []domain.Movement
	lines := make([]domain.SaleLine, 0, draft.Len())
	for _, line := range draft.lines {
		if err := domain.CheckOperatorBatch(line.Batch); err != nil {
			return nil, err
		}
		product, err := b.product(ctx, line.Product)
		if err != nil {
			return nil, err
		}
		alloc, err := ledger.Allocate(book, ledger.AllocationRequest{
			Product:  product.Name,
			Quantity: line.Quantity,
			Batch:    line.Batch,
			Date:     at,
			Unit:     product.Unit,
			Note:     "sale",
		})
		if err != nil {
			return nil, err
		}
		if alloc.HasShortfall() {
			if !line.AllowOverdraft && !approver.ApproveOverdraft(ctx, product.Name, alloc.Shortfall) {
				return nil, &domain.ShortfallError{
					Product:   product.Name,
					Requested: alloc.Requested,
					Available: alloc.Allocated(),
					Shortfall: alloc.Shortfall,
				}
			}
			if alloc, err = alloc.WithOverdraft(); err != nil {
				return nil, err
			}
		}
		book.Apply(alloc.Exits...)
		exits = append(exits, alloc.Exits...)

		qty := alloc.Requested
		lines = append(lines, domain.SaleLine{
			Product:     product.Name,
			Batch:       line.Batch,
			Quantity:    qty,
			UnitPrice:   product.SellPrice,
			UnitCost:    product.CostPrice,
			LineTotal:   domain.RoundMoney(qty.Mul(product.SellPrice)),
			LineMargin:  domain.RoundMoney(qty.Mul(product.SellPrice.Sub(product.CostPrice))),
			Allocations: alloc.Split(),
		})
	}

	amounts := Totals(lines, co.DiscountPercent)
	committed, err := b.store.CommitSale(ctx, domain.Sale{
		Customer:        co.Customer,
		Timestamp:       at,
		Lines:           lines,
		DiscountPercent: co.DiscountPercent,
		Subtotal:        amounts.Subtotal,
		DiscountAmount:  amounts.DiscountAmount,
		Total:           amounts.Total,
		TotalMargin:     amounts.Margin,
		PaymentMethod:   co.PaymentMethod,
		CreatedBy:       co.CreatedBy,
	}, exits)
	if err != nil {
		return nil, fmt.Errorf("commit sale: %w", err)
	}

	draft.Reset()
	for i := range exits {
		exits[i].SaleCode = committed.Code
	}
	b.ledger.Notify(ctx, exits)
	return committed, nil
}

type Amounts struct {
	Subtotal       decimal.Decimal
	DiscountAmount decimal.Decimal
	Total          decimal.Decimal
	Margin         decimal.Decimal
}

// Totals sums line totals and margins and applies the discount. The total is rounded
// once; the discount amount is whatever separates it from the subtotal.
func Totals(lines []domain.SaleLine, discountPercent decimal.Decimal) Amounts {
	subtotal := decimal.Zero
	margin := decimal.Zero
	for _, l := range lines {
		subtotal = subtotal.Add(l.LineTotal)
		margin = margin.Add(l.LineMargin)
	}
	subtotal = domain.RoundMoney(subtotal)
	total := domain.RoundMoney(subtotal.Sub(domain.PercentOf(subtotal, discountPercent)))
	return Amounts{
		Subtotal:       subtotal,
		DiscountAmount: subtotal.Sub(total),
		Total:          total,
		Margin:         domain.RoundMoney(margin),
	}
}

func (b *Builder) product(ctx context.Context, name string) (*domain.Product, error) {
	if name == "" {
		return nil, fmt.Errorf("%w: product is required", domain.ErrValidation)
	}
	product, err := b.catalog.GetProduct(ctx, name)
	if errors.Is(err, store.ErrNotFound) {
		return nil, &domain.ProductNotFoundError{Name: name}
	}
	if err != nil {
		return nil, err
	}
	return product, nil
}
