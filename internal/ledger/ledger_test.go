package ledger_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"queijaria/backend/internal/domain"
	"queijaria/backend/internal/ledger"
	"queijaria/backend/internal/store/memory"
)

func movement(t *testing.T, kind domain.MovementKind, batch, qty string, at time.Time) domain.Movement {
	t.Helper()
	m, err := domain.NewMovement(domain.MovementInput{
		Date: at, Product: "Canastra", Kind: kind, Quantity: decimal.RequireFromString(qty), Batch: batch,
	})
	require.NoError(t, err)
	return m
}

func TestAppendNotifiesListenersAndAdvancesStamp(t *testing.T) {
	ctx := context.Background()
	l := ledger.New(memory.New())

	var seen []domain.Movement
	l.OnChange(func(_ context.Context, written []domain.Movement) {
		seen = append(seen, written...)
	})

	before, err := l.LastModified(ctx)
	require.NoError(t, err)

	written, err := l.Append(ctx, movement(t, domain.Entry, "C1", "2", time.Now()))
	require.NoError(t, err)
	assert.Positive(t, written.Seq)
	require.Len(t, seen, 1)
	assert.Equal(t, written.ID, seen[0].ID)

	after, err := l.LastModified(ctx)
	require.NoError(t, err)
	assert.True(t, after.After(before))
}

func TestAppendBatchRejectsUnbuiltMovements(t *testing.T) {
	l := ledger.New(memory.New())

	_, err := l.AppendBatch(context.Background(), []domain.Movement{{Product: "Canastra"}})
	assert.ErrorIs(t, err, domain.ErrValidation)

	all, err := l.All(context.Background())
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestAllIsChronologicalWithInsertionTieBreak(t *testing.T) {
	ctx := context.Background()
	l := ledger.New(memory.New())
	day := time.Date(2026, 4, 10, 0, 0, 0, 0, time.UTC)

	_, err := l.AppendBatch(ctx, []domain.Movement{
		movement(t, domain.Entry, "late", "1", day.AddDate(0, 0, 1)),
		movement(t, domain.Entry, "same-1", "1", day),
		movement(t, domain.Entry, "same-2", "1", day),
	})
	require.NoError(t, err)

	all, err := l.All(ctx)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, []string{"same-1", "same-2", "late"}, []string{all[0].Batch, all[1].Batch, all[2].Batch})

	book, err := l.Book(ctx)
	require.NoError(t, err)
	assert.True(t, book.OnHand("Canastra").Equal(decimal.NewFromInt(3)))
	assert.Equal(t, "same-1", book.FIFOQueue("Canastra")[0].Batch)
}
