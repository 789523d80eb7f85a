package ledger

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"queijaria/backend/internal/domain"
)

type batchState struct {
	label    string
	balance  decimal.Decimal
	hasEntry bool
	// first entry position, used for FIFO order
	firstDate time.Time
	firstSeq  int64
	firstPos  int
}

type productState struct {
	onHand       decimal.Decimal
	batches      map[string]*batchState
	lastMovement time.Time
}

// Book is the balance state obtained by replaying movements in order.
// It is a snapshot: later ledger writes are not reflected unless applied.
type Book struct {
	products map[string]*productState
	applied  int
}

// Replay builds a Book from movements in any order. The input slice is not modified.
func Replay(movements []domain.Movement) *Book {
	ordered := append([]domain.Movement(nil), movements...)
	SortChronological(ordered)
	b := &Book{products: make(map[string]*productState)}
	b.Apply(ordered...)
	return b
}

// Apply folds movements into the book in the given order.
func (b *Book) Apply(movements ...domain.Movement) {
	for _, m := range movements {
		ps := b.product(m.Product)
		ps.onHand = domain.RoundQty(ps.onHand.Add(m.Signed()))
		if m.Date.After(ps.lastMovement) {
			ps.lastMovement = m.Date
		}
		b.applied++

		// Records without a batch label move on-hand only.
		if m.Batch == "" {
			continue
		}
		bs, ok := ps.batches[m.Batch]
		if !ok {
			bs = &batchState{label: m.Batch}
			ps.batches[m.Batch] = bs
		}
		bs.balance = domain.RoundQty(bs.balance.Add(m.Signed()))
		if m.Kind == domain.Entry && !bs.hasEntry {
			bs.hasEntry = true
			bs.firstDate = m.Date
			bs.firstSeq = m.Seq
			bs.firstPos = b.applied
		}
	}
}

func (b *Book) product(name string) *productState {
	ps, ok := b.products[name]
	if !ok {
		ps = &productState{batches: make(map[string]*batchState)}
		b.products[name] = ps
	}
	return ps
}

// OnHand is Σ entries − Σ exits for the product. It may be negative.
func (b *Book) OnHand(product string) decimal.Decimal {
	ps, ok := b.products[product]
	if !ok {
		return decimal.Zero
	}
	return ps.onHand
}

// BatchBalances maps each batch label seen for the product to its remaining quantity.
func (b *Book) BatchBalances(product string) map[string]decimal.Decimal {
	out := make(map[string]decimal.Decimal)
	ps, ok := b.products[product]
	if !ok {
		return out
	}
	for label, bs := range ps.batches {
		out[label] = bs.balance
	}
	return out
}

// BatchBalance returns one batch's remaining quantity.
func (b *Book) BatchBalance(product, batch string) decimal.Decimal {
	ps, ok := b.products[product]
	if !ok {
		return decimal.Zero
	}
	bs, ok := ps.batches[batch]
	if !ok {
		return decimal.Zero
	}
	return bs.balance
}

// Batches lists every batch of the product, FIFO-ordered first and labels without
// an entry last.
func (b *Book) Batches(product string) []domain.BatchBalance {
	states := b.orderedBatches(product)
	out := make([]domain.BatchBalance, 0, len(states))
	for _, bs := range states {
		out = append(out, domain.BatchBalance{Batch: bs.label, Quantity: bs.balance})
	}
	return out
}

// FIFOQueue lists batches with stock left, oldest entry first. Batches sharing an
// entry date keep ledger insertion order.
func (b *Book) FIFOQueue(product string) []domain.FIFOSlot {
	states := b.orderedBatches(product)
	out := make([]domain.FIFOSlot, 0, len(states))
	for _, bs := range states {
		if !bs.hasEntry || !bs.balance.IsPositive() {
			continue
		}
		out = append(out, domain.FIFOSlot{Batch: bs.label, EntryDate: bs.firstDate, Remaining: bs.balance})
	}
	return out
}

// Available is the sum of the FIFO queue.
func (b *Book) Available(product string) decimal.Decimal {
	total := decimal.Zero
	for _, slot := range b.FIFOQueue(product) {
		total = total.Add(slot.Remaining)
	}
	return domain.RoundQty(total)
}

func (b *Book) LastMovement(product string) (time.Time, bool) {
	ps, ok := b.products[product]
	if !ok || ps.lastMovement.IsZero() {
		return time.Time{}, false
	}
	return ps.lastMovement, true
}

// Products returns every product that appears in the ledger, sorted by name.
func (b *Book) Products() []string {
	out := make([]string, 0, len(b.products))
	for name := range b.products {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func (b *Book) orderedBatches(product string) []*batchState {
	ps, ok := b.products[product]
	if !ok {
		return nil
	}
	states := make([]*batchState, 0, len(ps.batches))
	for _, bs := range ps.batches {
		states = append(states, bs)
	}
	sort.Slice(states, func(i, j int) bool {
		a, c := states[i], states[j]
		if a.hasEntry != c.hasEntry {
			return a.hasEntry
		}
		if !a.hasEntry {
			return a.label < c.label
		}
		if !a.firstDate.Equal(c.firstDate) {
			return a.firstDate.Before(c.firstDate)
		}
		if a.firstSeq != c.firstSeq {
			return a.firstSeq < c.firstSeq
		}
		return a.firstPos < c.firstPos
	})
	return states
}
