package sale

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"queijaria/backend/internal/domain"
	"queijaria/backend/internal/ledger"
)

type ReversalStore interface {
	GetSale(ctx context.Context, code string) (*domain.Sale, error)
	ListMovementsBySale(ctx context.Context, code string) ([]domain.Movement, error)
	MarkSaleReversed(ctx context.Context, code string, entries []domain.Movement, at time.Time) (*domain.Sale, error)
}

// Reverser undoes a sale by appending entries that mirror its exits.
type Reverser struct {
	store  ReversalStore
	ledger *ledger.Ledger
	now    func() time.Time
}

func NewReverser(l *ledger.Ledger, st ReversalStore) *Reverser {
	return &Reverser{store: st, ledger: l, now: time.Now}
}

// Reverse returns the reversed sale and the entries written for it. A sale can be
// reversed once; later calls fail with domain.ErrAlreadyReversed and write nothing.
func (r *Reverser) Reverse(ctx context.Context, code string) (*domain.Sale, []domain.Movement, error) {
	sale, err := r.store.GetSale(ctx, code)
	if err != nil {
		return nil, nil, fmt.Errorf("load sale %s: %w", code, err)
	}
	if sale.Reversed {
		return nil, nil, domain.ErrAlreadyReversed
	}

	linked, err := r.store.ListMovementsBySale(ctx, code)
	if err != nil {
		return nil, nil, fmt.Errorf("load exits of %s: %w", code, err)
	}

	at := r.now().UTC()
	entries, err := compensatingEntries(*sale, linked, at)
	if err != nil {
		return nil, nil, err
	}

	reversed, err := r.store.MarkSaleReversed(ctx, code, entries, at)
	if err != nil {
		return nil, nil, err
	}
	r.ledger.Notify(ctx, entries)
	return reversed, entries, nil
}

type returned struct {
	product string
	unit    string
	batch   string
	qty     decimal.Decimal
}

// compensatingEntries mirrors the exits linked to the sale. Sales recorded before exits
// carried a sale code fall back to the lines themselves.
func compensatingEntries(sale domain.Sale, linked []domain.Movement, at time.Time) ([]domain.Movement, error) {
	var items []returned
	for _, m := range linked {
		if m.Kind == domain.Exit {
			items = append(items, returned{product: m.Product, unit: m.Unit, batch: m.Batch, qty: m.Quantity})
		}
	}
	if len(items) == 0 {
		for _, line := range sale.Lines {
			if len(line.Allocations) > 0 {
				for _, a := range line.Allocations {
					items = append(items, returned{product: line.Product, batch: a.Batch, qty: a.Quantity})
				}
				continue
			}
			items = append(items, returned{product: line.Product, batch: line.Batch, qty: line.Quantity})
		}
	}

	entries := make([]domain.Movement, 0, len(items))
	for _, it := range items {
		batch := it.batch
		if batch == "" {
			batch = domain.ReturnBatch
		}
		m, err := domain.NewMovement(domain.MovementInput{
			Date:     at,
			Product:  it.product,
			Kind:     domain.Entry,
			Quantity: it.qty,
			Unit:     it.unit,
			Batch:    batch,
			Note:     "reversal of " + sale.Code,
			SaleCode: sale.Code,
		})
		if err != nil {
			return nil, fmt.Errorf("reversal entry for %s: %w", it.product, err)
		}
		entries = append(entries, m)
	}
	return entries, nil
}
