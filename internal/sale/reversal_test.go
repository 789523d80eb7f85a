package sale

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"queijaria/backend/internal/domain"
	"queijaria/backend/internal/ledger"
	"queijaria/backend/internal/store"
)

func (f *fixture) sell(t *testing.T, lines ...Line) *domain.Sale {
	t.Helper()
	ctx := context.Background()
	var draft Draft
	for _, line := range lines {
		_, err := f.builder.AddLine(ctx, &draft, line)
		require.NoError(t, err)
	}
	sale, err := f.builder.Finalize(ctx, &draft, Checkout{}, nil)
	require.NoError(t, err)
	return sale
}

func TestReverseRestoresEachBatch(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.product(t, "Brie", "40.00", "65.00")
	f.stock(t, domain.Entry, "Brie", "A", "1", opened)
	f.stock(t, domain.Entry, "Brie", "B", "2", opened.AddDate(0, 0, -1))

	before := ledger.Replay(f.movements(t))
	sold := f.sell(t, Line{Product: "Brie", Quantity: d("2.5")})

	reversed, entries, err := f.reverser.Reverse(ctx, sold.Code)
	require.NoError(t, err)
	assert.True(t, reversed.Reversed)
	require.NotNil(t, reversed.ReversedAt)

	require.Len(t, entries, 2)
	for _, m := range entries {
		assert.Equal(t, domain.Entry, m.Kind)
		assert.Equal(t, sold.Code, m.SaleCode)
	}
	assert.Equal(t, "B", entries[0].Batch)
	assert.Equal(t, "A", entries[1].Batch)

	after := ledger.Replay(f.movements(t))
	assert.True(t, after.OnHand("Brie").Equal(before.OnHand("Brie")))
	for batch, qty := range before.BatchBalances("Brie") {
		assert.True(t, after.BatchBalance("Brie", batch).Equal(qty), batch)
	}
}

func TestReverseTwiceFailsWithoutWriting(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.product(t, "Brie", "40.00", "65.00")
	f.stock(t, domain.Entry, "Brie", "A", "3", opened)
	sold := f.sell(t, Line{Product: "Brie", Quantity: d("1")})

	_, _, err := f.reverser.Reverse(ctx, sold.Code)
	require.NoError(t, err)
	count := len(f.movements(t))

	_, _, err = f.reverser.Reverse(ctx, sold.Code)
	assert.ErrorIs(t, err, domain.ErrAlreadyReversed)
	assert.Len(t, f.movements(t), count)

	_, _, err = f.reverser.Reverse(ctx, "VEN-0404")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestReverseOverdraftSaleClearsOverdraftBatch(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.product(t, "Brie", "40.00", "65.00")
	f.stock(t, domain.Entry, "Brie", "A", "1", opened)
	sold := f.sell(t, Line{Product: "Brie", Quantity: d("1.5"), AllowOverdraft: true})

	_, _, err := f.reverser.Reverse(ctx, sold.Code)
	require.NoError(t, err)

	book := ledger.Replay(f.movements(t))
	assert.True(t, book.OnHand("Brie").Equal(d("1")))
	assert.True(t, book.BatchBalance("Brie", domain.OverdraftBatch).IsZero())
	assert.True(t, book.BatchBalance("Brie", "A").Equal(d("1")))
}

func TestReverseSaleWithoutLinkedExitsUsesItsLines(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	legacy, err := f.repo.CommitSale(ctx, domain.Sale{
		Customer: "Ana", Timestamp: opened, PaymentMethod: domain.PaymentCash,
		Lines: []domain.SaleLine{
			{Product: "Brie", Quantity: d("0.4")},
			{Product: "Gouda", Batch: "G7", Quantity: d("1.2")},
		},
	}, nil)
	require.NoError(t, err)

	_, entries, err := f.reverser.Reverse(ctx, legacy.Code)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, domain.ReturnBatch, entries[0].Batch)
	assert.True(t, entries[0].Quantity.Equal(d("0.4")))
	assert.Equal(t, "G7", entries[1].Batch)

	book := ledger.Replay(f.movements(t))
	assert.True(t, book.BatchBalance("Brie", domain.ReturnBatch).Equal(d("0.4")))
	require.Len(t, book.FIFOQueue("Brie"), 1)
}
