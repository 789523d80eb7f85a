package ledger

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"queijaria/backend/internal/domain"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

var day1 = time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)

func entry(t *testing.T, product, batch, qty string, at time.Time) domain.Movement {
	t.Helper()
	m, err := domain.NewMovement(domain.MovementInput{Date: at, Product: product, Kind: domain.Entry, Quantity: d(qty), Batch: batch})
	require.NoError(t, err)
	return m
}

func exit(t *testing.T, product, batch, qty string, at time.Time) domain.Movement {
	t.Helper()
	m, err := domain.NewMovement(domain.MovementInput{Date: at, Product: product, Kind: domain.Exit, Quantity: d(qty), Batch: batch})
	require.NoError(t, err)
	return m
}

func TestAllocateConsumesOldestBatchFirst(t *testing.T) {
	book := Replay([]domain.Movement{
		entry(t, "Brie", "B", "5", day1.AddDate(0, 0, 1)),
		entry(t, "Brie", "A", "5", day1),
	})

	alloc, err := Allocate(book, AllocationRequest{Product: "Brie", Quantity: d("7"), Date: day1.AddDate(0, 0, 2)})
	require.NoError(t, err)

	require.Len(t, alloc.Exits, 2)
	assert.Equal(t, "A", alloc.Exits[0].Batch)
	assert.True(t, alloc.Exits[0].Quantity.Equal(d("5")))
	assert.Equal(t, "B", alloc.Exits[1].Batch)
	assert.True(t, alloc.Exits[1].Quantity.Equal(d("2")))
	assert.False(t, alloc.HasShortfall())
	assert.True(t, alloc.Allocated().Equal(d("7")))
	for _, m := range alloc.Exits {
		assert.Equal(t, domain.Exit, m.Kind)
	}
}

func TestAllocateSameDayBatchesFollowInsertionOrder(t *testing.T) {
	book := Replay([]domain.Movement{
		entry(t, "Brie", "Z-first", "1", day1),
		entry(t, "Brie", "A-second", "1", day1),
	})

	alloc, err := Allocate(book, AllocationRequest{Product: "Brie", Quantity: d("1.5"), Date: day1})
	require.NoError(t, err)
	require.Len(t, alloc.Exits, 2)
	assert.Equal(t, "Z-first", alloc.Exits[0].Batch)
	assert.Equal(t, "A-second", alloc.Exits[1].Batch)
}

func TestAllocatePinnedBatchIgnoresOlderStock(t *testing.T) {
	book := Replay([]domain.Movement{
		entry(t, "Brie", "A", "5", day1),
		entry(t, "Brie", "B", "5", day1.AddDate(0, 0, 1)),
	})

	alloc, err := Allocate(book, AllocationRequest{Product: "Brie", Quantity: d("3"), Batch: "B", Date: day1})
	require.NoError(t, err)
	require.Len(t, alloc.Exits, 1)
	assert.Equal(t, "B", alloc.Exits[0].Batch)
	assert.True(t, alloc.Exits[0].Quantity.Equal(d("3")))
}

func TestAllocatePinnedBatchShort(t *testing.T) {
	book := Replay([]domain.Movement{entry(t, "Brie", "B", "2", day1)})

	_, err := Allocate(book, AllocationRequest{Product: "Brie", Quantity: d("3"), Batch: "B", Date: day1})
	require.ErrorIs(t, err, domain.ErrInsufficientBatchStock)

	var batchErr *domain.BatchStockError
	require.True(t, errors.As(err, &batchErr))
	assert.Equal(t, "B", batchErr.Batch)
	assert.True(t, batchErr.Available.Equal(d("2")))
}

func TestAllocateReportsShortfallWithoutOverdraftMovement(t *testing.T) {
	book := Replay([]domain.Movement{
		entry(t, "Brie", "A", "4", day1),
		entry(t, "Brie", "B", "6", day1.AddDate(0, 0, 1)),
	})

	alloc, err := Allocate(book, AllocationRequest{Product: "Brie", Quantity: d("12"), Date: day1})
	require.NoError(t, err)
	assert.True(t, alloc.Shortfall.Equal(d("2")))
	assert.True(t, alloc.Allocated().Equal(d("10")))
	for _, m := range alloc.Exits {
		assert.NotEqual(t, domain.OverdraftBatch, m.Batch)
	}
}

func TestWithOverdraftAddsSentinelExit(t *testing.T) {
	book := Replay([]domain.Movement{entry(t, "Brie", "A", "1", day1)})

	alloc, err := Allocate(book, AllocationRequest{Product: "Brie", Quantity: d("1.75"), Date: day1})
	require.NoError(t, err)
	require.True(t, alloc.HasShortfall())

	approved, err := alloc.WithOverdraft()
	require.NoError(t, err)
	require.Len(t, approved.Exits, 2)
	last := approved.Exits[1]
	assert.Equal(t, domain.OverdraftBatch, last.Batch)
	assert.True(t, last.Quantity.Equal(d("0.75")))
	assert.False(t, approved.HasShortfall())
	assert.Len(t, alloc.Exits, 1, "original allocation is untouched")

	book.Apply(approved.Exits...)
	assert.True(t, book.OnHand("Brie").Equal(d("-0.75")))
	assert.Empty(t, book.FIFOQueue("Brie"))
}

func TestAllocateUnknownProductIsAllShortfall(t *testing.T) {
	alloc, err := Allocate(Replay(nil), AllocationRequest{Product: "Gruyère", Quantity: d("1"), Date: day1})
	require.NoError(t, err)
	assert.Empty(t, alloc.Exits)
	assert.True(t, alloc.Shortfall.Equal(d("1")))
}

func TestAllocateRejectsNonPositiveQuantity(t *testing.T) {
	_, err := Allocate(Replay(nil), AllocationRequest{Product: "Brie", Quantity: d("0.0004"), Date: day1})
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestAllocateRoundsToThreePlaces(t *testing.T) {
	book := Replay([]domain.Movement{entry(t, "Brie", "A", "1", day1)})

	alloc, err := Allocate(book, AllocationRequest{Product: "Brie", Quantity: d("0.33333"), Date: day1})
	require.NoError(t, err)
	require.Len(t, alloc.Exits, 1)
	assert.Equal(t, "0.333", alloc.Exits[0].Quantity.String())
}
