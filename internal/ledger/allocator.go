package ledger

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"queijaria/backend/internal/domain"
)

type AllocationRequest struct {
	Product  string
	Quantity decimal.Decimal
	// Batch pins the request to one batch. Empty means FIFO.
	Batch string
	Date  time.Time
	Unit  string
	Note  string
}

// Allocation is the set of exit movements covering a request. A non-zero Shortfall
// means the FIFO queue ran dry; no movement exists for that part yet.
type Allocation struct {
	Product   string
	Requested decimal.Decimal
	Exits     []domain.Movement
	Shortfall decimal.Decimal

	req AllocationRequest
}

func (a Allocation) HasShortfall() bool {
	return a.Shortfall.IsPositive()
}

// Allocated is the quantity covered by exits.
func (a Allocation) Allocated() decimal.Decimal {
	total := decimal.Zero
	for _, m := range a.Exits {
		total = total.Add(m.Quantity)
	}
	return domain.RoundQty(total)
}

// Split reports how much each batch contributed, in allocation order.
func (a Allocation) Split() []domain.BatchAllocation {
	out := make([]domain.BatchAllocation, 0, len(a.Exits))
	for _, m := range a.Exits {
		out = append(out, domain.BatchAllocation{Batch: m.Batch, Quantity: m.Quantity})
	}
	return out
}

// WithOverdraft covers the shortfall with one exit on the OVERDRAFT batch. Call it only
// after the shortfall was explicitly approved.
func (a Allocation) WithOverdraft() (Allocation, error) {
	if !a.HasShortfall() {
		return a, nil
	}
	m, err := domain.NewMovement(domain.MovementInput{
		Date:     a.req.Date,
		Product:  a.Product,
		Kind:     domain.Exit,
		Quantity: a.Shortfall,
		Unit:     a.req.Unit,
		Batch:    domain.OverdraftBatch,
		Note:     a.req.Note,
	})
	if err != nil {
		return a, err
	}
	out := a
	out.Exits = append(append([]domain.Movement(nil), a.Exits...), m)
	out.Shortfall = decimal.Zero
	return out, nil
}

// Allocate decides which batches a request consumes. It never writes; the caller
// appends the returned exits.
func Allocate(book *Book, req AllocationRequest) (Allocation, error) {
	req.Product = strings.TrimSpace(req.Product)
	req.Batch = strings.TrimSpace(req.Batch)
	qty := domain.RoundQty(req.Quantity)
	if req.Product == "" {
		return Allocation{}, fmt.Errorf("%w: product is required", domain.ErrValidation)
	}
	if !qty.IsPositive() {
		return Allocation{}, fmt.Errorf("%w: quantity must be positive", domain.ErrValidation)
	}
	if req.Date.IsZero() {
		req.Date = time.Now().UTC()
	}

	alloc := Allocation{Product: req.Product, Requested: qty, Shortfall: decimal.Zero, req: req}

	if req.Batch != "" {
		available := book.BatchBalance(req.Product, req.Batch)
		if available.LessThan(qty) {
			return Allocation{}, &domain.BatchStockError{
				Product:   req.Product,
				Batch:     req.Batch,
				Requested: qty,
				Available: decimal.Max(available, decimal.Zero),
			}
		}
		m, err := exitFor(req, req.Batch, qty)
		if err != nil {
			return Allocation{}, err
		}
		alloc.Exits = []domain.Movement{m}
		return alloc, nil
	}

	remaining := qty
	for _, slot := range book.FIFOQueue(req.Product) {
		if !remaining.IsPositive() {
			break
		}
		take := decimal.Min(remaining, slot.Remaining)
		m, err := exitFor(req, slot.Batch, take)
		if err != nil {
			return Allocation{}, err
		}
		alloc.Exits = append(alloc.Exits, m)
		remaining = domain.RoundQty(remaining.Sub(take))
	}
	if remaining.IsPositive() {
		alloc.Shortfall = remaining
	}
	return alloc, nil
}

func exitFor(req AllocationRequest, batch string, qty decimal.Decimal) (domain.Movement, error) {
	return domain.NewMovement(domain.MovementInput{
		Date:     req.Date,
		Product:  req.Product,
		Kind:     domain.Exit,
		Quantity: qty,
		Unit:     req.Unit,
		Batch:    batch,
		Note:     req.Note,
	})
}
