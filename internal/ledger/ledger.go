// Package ledger keeps the append-only record of stock movements and derives
// balances from it. Nothing here edits or deletes a movement; corrections are
// new movements.
package ledger

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"queijaria/backend/internal/domain"
)

// Store is the persistence the ledger needs. AppendMovements must be all-or-nothing
// and must advance the last-modified stamp.
type Store interface {
	AppendMovements(ctx context.Context, movements []domain.Movement) ([]domain.Movement, error)
	ListMovements(ctx context.Context) ([]domain.Movement, error)
	LastModified(ctx context.Context) (time.Time, error)
}

// ChangeFunc is called after movements were durably written.
type ChangeFunc func(ctx context.Context, written []domain.Movement)

type Ledger struct {
	store Store

	mu        sync.RWMutex
	listeners []ChangeFunc
}

func New(store Store) *Ledger {
	return &Ledger{store: store}
}

// OnChange registers fn to run after every successful write.
func (l *Ledger) OnChange(fn ChangeFunc) {
	if fn == nil {
		return
	}
	l.mu.Lock()
	l.listeners = append(l.listeners, fn)
	l.mu.Unlock()
}

func (l *Ledger) Append(ctx context.Context, m domain.Movement) (domain.Movement, error) {
	written, err := l.AppendBatch(ctx, []domain.Movement{m})
	if err != nil {
		return domain.Movement{}, err
	}
	return written[0], nil
}

func (l *Ledger) AppendBatch(ctx context.Context, movements []domain.Movement) ([]domain.Movement, error) {
	if len(movements) == 0 {
		return nil, fmt.Errorf("%w: empty movement batch", domain.ErrValidation)
	}
	for _, m := range movements {
		if !m.Kind.Valid() || !m.Quantity.IsPositive() || m.Product == "" || m.Date.IsZero() {
			return nil, fmt.Errorf("%w: movement %s was not built by NewMovement", domain.ErrValidation, m.ID)
		}
	}
	written, err := l.store.AppendMovements(ctx, movements)
	if err != nil {
		return nil, fmt.Errorf("append movements: %w", err)
	}
	l.Notify(ctx, written)
	return written, nil
}

// Notify runs the change listeners for movements written outside AppendBatch,
// such as the exits committed together with a sale.
func (l *Ledger) Notify(ctx context.Context, written []domain.Movement) {
	l.mu.RLock()
	listeners := append([]ChangeFunc(nil), l.listeners...)
	l.mu.RUnlock()
	for _, fn := range listeners {
		fn(ctx, written)
	}
}

// All returns every movement in chronological order.
func (l *Ledger) All(ctx context.Context) ([]domain.Movement, error) {
	movements, err := l.store.ListMovements(ctx)
	if err != nil {
		return nil, fmt.Errorf("list movements: %w", err)
	}
	SortChronological(movements)
	return movements, nil
}

func (l *Ledger) LastModified(ctx context.Context) (time.Time, error) {
	return l.store.LastModified(ctx)
}

// Book replays the whole ledger.
func (l *Ledger) Book(ctx context.Context) (*Book, error) {
	movements, err := l.All(ctx)
	if err != nil {
		return nil, err
	}
	return Replay(movements), nil
}

// SortChronological orders by movement date; equal dates keep insertion order.
func SortChronological(movements []domain.Movement) {
	sort.SliceStable(movements, func(i, j int) bool {
		if !movements[i].Date.Equal(movements[j].Date) {
			return movements[i].Date.Before(movements[j].Date)
		}
		return movements[i].Seq < movements[j].Seq
	})
}
