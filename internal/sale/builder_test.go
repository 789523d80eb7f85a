package sale

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"queijaria/backend/internal/domain"
	"queijaria/backend/internal/ledger"
	"queijaria/backend/internal/store/memory"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

var opened = time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)

type fixture struct {
	repo     *memory.Store
	ledger   *ledger.Ledger
	builder  *Builder
	reverser *Reverser
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	repo := memory.New()
	l := ledger.New(repo)
	f := &fixture{repo: repo, ledger: l, builder: NewBuilder(l, repo, repo), reverser: NewReverser(l, repo)}
	clock := func() time.Time { return opened.Add(time.Hour) }
	f.builder.now = clock
	f.reverser.now = func() time.Time { return opened.Add(2 * time.Hour) }
	return f
}

func (f *fixture) product(t *testing.T, name, cost, sell string) {
	t.Helper()
	p, err := domain.NewProduct(domain.ProductCreateRequest{
		Name: name, Unit: "kg", CostPrice: d(cost), SellPrice: d(sell),
	}, opened)
	require.NoError(t, err)
	_, err = f.repo.CreateProduct(context.Background(), p)
	require.NoError(t, err)
}

func (f *fixture) stock(t *testing.T, kind domain.MovementKind, product, batch, qty string, at time.Time) {
	t.Helper()
	m, err := domain.NewMovement(domain.MovementInput{
		Date: at, Product: product, Kind: kind, Quantity: d(qty), Unit: "kg", Batch: batch,
	})
	require.NoError(t, err)
	_, err = f.ledger.Append(context.Background(), m)
	require.NoError(t, err)
}

func (f *fixture) movements(t *testing.T) []domain.Movement {
	t.Helper()
	all, err := f.ledger.All(context.Background())
	require.NoError(t, err)
	return all
}

func TestAddLineCountsAlreadyStagedDemand(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.product(t, "Brie", "40.00", "65.00")
	f.stock(t, domain.Entry, "Brie", "A", "5", opened)

	var draft Draft
	left, err := f.builder.AddLine(ctx, &draft, Line{Product: "Brie", Quantity: d("3")})
	require.NoError(t, err)
	assert.True(t, left.Equal(d("2")))

	_, err = f.builder.AddLine(ctx, &draft, Line{Product: "Brie", Quantity: d("3")})
	require.ErrorIs(t, err, domain.ErrInsufficientStock)
	var short *domain.ShortfallError
	require.True(t, errors.As(err, &short))
	assert.True(t, short.Available.Equal(d("2")))
	assert.True(t, short.Shortfall.Equal(d("1")))
	assert.Equal(t, 1, draft.Len(), "rejected line is not staged")
}

func TestAddLinePinnedBatchCountsStagedDemand(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.product(t, "Brie", "40.00", "65.00")
	f.stock(t, domain.Entry, "Brie", "A", "2", opened)
	f.stock(t, domain.Entry, "Brie", "B", "9", opened.AddDate(0, 0, 1))

	var draft Draft
	_, err := f.builder.AddLine(ctx, &draft, Line{Product: "Brie", Batch: "A", Quantity: d("1.5")})
	require.NoError(t, err)

	_, err = f.builder.AddLine(ctx, &draft, Line{Product: "Brie", Batch: "A", Quantity: d("1")})
	var batchErr *domain.BatchStockError
	require.True(t, errors.As(err, &batchErr))
	assert.True(t, batchErr.Available.Equal(d("0.5")))
}

func TestAddLineAcceptsPreApprovedOverdraft(t *testing.T) {
	f := newFixture(t)
	f.product(t, "Brie", "40.00", "65.00")

	var draft Draft
	left, err := f.builder.AddLine(context.Background(), &draft, Line{Product: "Brie", Quantity: d("1"), AllowOverdraft: true})
	require.NoError(t, err)
	assert.True(t, left.IsZero())
	assert.Equal(t, 1, draft.Len())
}

func TestAddLineRejectsUnknownProductAndBadQuantity(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.product(t, "Brie", "40.00", "65.00")

	var draft Draft
	_, err := f.builder.AddLine(ctx, &draft, Line{Product: "Roquefort", Quantity: d("1")})
	assert.ErrorIs(t, err, domain.ErrProductNotFound)

	_, err = f.builder.AddLine(ctx, &draft, Line{Product: "Brie", Quantity: d("0")})
	assert.ErrorIs(t, err, domain.ErrValidation)
	assert.Zero(t, draft.Len())
}

func TestReservedBatchesCannotBePinned(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.product(t, "Brie", "40.00", "65.00")
	f.stock(t, domain.Entry, "Brie", "A", "2", time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC))

	var draft Draft
	_, err := f.builder.AddLine(ctx, &draft, Line{Product: "Brie", Quantity: d("1"), Batch: domain.OverdraftBatch})
	assert.ErrorIs(t, err, domain.ErrValidation)
	assert.Zero(t, draft.Len())

	_, err = f.builder.Finalize(ctx, NewDraft(Line{Product: "Brie", Quantity: d("1"), Batch: "return"}), Checkout{}, nil)
	assert.ErrorIs(t, err, domain.ErrValidation)
	assert.Len(t, f.movements(t), 1)
}

func TestFinalizeSplitsAcrossBatchesAndTagsExits(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.product(t, "Minas", "28.00", "42.90")
	f.stock(t, domain.Entry, "Minas", "A", "1", opened)
	f.stock(t, domain.Entry, "Minas", "B", "2", opened.AddDate(0, 0, 1))

	var notified []domain.Movement
	f.ledger.OnChange(func(_ context.Context, written []domain.Movement) { notified = written })

	var draft Draft
	_, err := f.builder.AddLine(ctx, &draft, Line{Product: "Minas", Quantity: d("1.255")})
	require.NoError(t, err)

	sale, err := f.builder.Finalize(ctx, &draft, Checkout{DiscountPercent: d("10"), PaymentMethod: "PIX"}, nil)
	require.NoError(t, err)

	assert.Equal(t, "VEN-0001", sale.Code)
	assert.Equal(t, domain.AnonymousCustomer, sale.Customer)
	assert.Equal(t, domain.PaymentPix, sale.PaymentMethod)
	assert.Zero(t, draft.Len(), "draft is cleared on success")

	require.Len(t, sale.Lines, 1)
	line := sale.Lines[0]
	assert.Equal(t, "53.84", line.LineTotal.StringFixed(2))
	assert.Equal(t, "18.70", line.LineMargin.StringFixed(2))
	require.Len(t, line.Allocations, 2)
	assert.Equal(t, "A", line.Allocations[0].Batch)
	assert.True(t, line.Allocations[0].Quantity.Equal(d("1")))
	assert.Equal(t, "B", line.Allocations[1].Batch)
	assert.True(t, line.Allocations[1].Quantity.Equal(d("0.255")))

	assert.Equal(t, "53.84", sale.Subtotal.StringFixed(2))
	assert.Equal(t, "48.46", sale.Total.StringFixed(2))
	assert.True(t, sale.Subtotal.Sub(sale.DiscountAmount).Equal(sale.Total))

	all := f.movements(t)
	require.Len(t, all, 4)
	var tagged int
	for _, m := range all {
		if m.Kind == domain.Exit {
			assert.Equal(t, "VEN-0001", m.SaleCode)
			tagged++
		}
	}
	assert.Equal(t, 2, tagged)
	require.Len(t, notified, 2)
	assert.Equal(t, "VEN-0001", notified[0].SaleCode)
	assert.True(t, ledger.Replay(all).OnHand("Minas").Equal(d("1.745")))
}

func TestFinalizeDeclinedShortfallWritesNothing(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.product(t, "Gouda", "30.00", "50.00")
	f.product(t, "Brie", "40.00", "65.00")
	f.stock(t, domain.Entry, "Gouda", "G1", "4", opened)
	f.stock(t, domain.Entry, "Brie", "A", "2", opened)

	var draft Draft
	_, err := f.builder.AddLine(ctx, &draft, Line{Product: "Gouda", Quantity: d("1")})
	require.NoError(t, err)
	_, err = f.builder.AddLine(ctx, &draft, Line{Product: "Brie", Quantity: d("2")})
	require.NoError(t, err)

	// Stock leaves between staging and checkout.
	f.stock(t, domain.Exit, "Brie", "A", "1.5", opened.Add(30*time.Minute))
	before := len(f.movements(t))

	var asked decimal.Decimal
	_, err = f.builder.Finalize(ctx, &draft, Checkout{}, ApproveFunc(func(_ context.Context, product string, shortfall decimal.Decimal) bool {
		asked = shortfall
		return false
	}))
	require.ErrorIs(t, err, domain.ErrInsufficientStock)
	assert.True(t, asked.Equal(d("1.5")))

	assert.Len(t, f.movements(t), before, "no exit of any line was written")
	n, err := f.repo.CountSales(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, 2, draft.Len(), "draft survives a failed finalize")
}

func TestFinalizeApprovedShortfallGoesToOverdraftBatch(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.product(t, "Brie", "40.00", "65.00")
	f.stock(t, domain.Entry, "Brie", "A", "1", opened)

	var draft Draft
	_, err := f.builder.AddLine(ctx, &draft, Line{Product: "Brie", Quantity: d("1.5"), AllowOverdraft: true})
	require.NoError(t, err)

	sale, err := f.builder.Finalize(ctx, &draft, Checkout{Customer: "Ana"}, nil)
	require.NoError(t, err)
	require.Len(t, sale.Lines[0].Allocations, 2)
	assert.Equal(t, domain.OverdraftBatch, sale.Lines[0].Allocations[1].Batch)

	book := ledger.Replay(f.movements(t))
	assert.True(t, book.OnHand("Brie").Equal(d("-0.5")))
	assert.True(t, book.BatchBalance("Brie", domain.OverdraftBatch).Equal(d("-0.5")))
	assert.Empty(t, book.FIFOQueue("Brie"))
}

func TestFinalizeAssignsSequentialCodes(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.product(t, "Brie", "40.00", "65.00")
	f.stock(t, domain.Entry, "Brie", "A", "10", opened)

	for _, want := range []string{"VEN-0001", "VEN-0002", "VEN-0003"} {
		var draft Draft
		_, err := f.builder.AddLine(ctx, &draft, Line{Product: "Brie", Quantity: d("0.5")})
		require.NoError(t, err)
		sale, err := f.builder.Finalize(ctx, &draft, Checkout{PaymentMethod: domain.PaymentCard}, nil)
		require.NoError(t, err)
		assert.Equal(t, want, sale.Code)
	}
}

func TestFinalizeValidatesCheckout(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.product(t, "Brie", "40.00", "65.00")
	f.stock(t, domain.Entry, "Brie", "A", "10", opened)

	var empty Draft
	_, err := f.builder.Finalize(ctx, &empty, Checkout{}, nil)
	assert.ErrorIs(t, err, domain.ErrValidation)

	var draft Draft
	_, err = f.builder.AddLine(ctx, &draft, Line{Product: "Brie", Quantity: d("1")})
	require.NoError(t, err)

	_, err = f.builder.Finalize(ctx, &draft, Checkout{PaymentMethod: "cheque"}, nil)
	assert.ErrorIs(t, err, domain.ErrValidation)
	_, err = f.builder.Finalize(ctx, &draft, Checkout{DiscountPercent: d("100.01")}, nil)
	assert.ErrorIs(t, err, domain.ErrValidation)
	_, err = f.builder.Finalize(ctx, &draft, Checkout{DiscountPercent: d("-1")}, nil)
	assert.ErrorIs(t, err, domain.ErrValidation)
	assert.Equal(t, 1, draft.Len())
}

func TestTotalsRoundTheDiscountedTotalOnce(t *testing.T) {
	cases := []struct {
		name      string
		lineTotal []string
		percent   string
		subtotal  string
		total     string
	}{
		{"no discount", []string{"10.10", "5.05"}, "0", "15.15", "15.15"},
		{"fractional percent", []string{"33.33"}, "12.5", "33.33", "29.16"},
		{"full discount", []string{"19.99"}, "100", "19.99", "0.00"},
		{"half cent tie", []string{"1.00"}, "0.5", "1.00", "1.00"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			lines := make([]domain.SaleLine, 0, len(tc.lineTotal))
			for _, lt := range tc.lineTotal {
				lines = append(lines, domain.SaleLine{LineTotal: d(lt), LineMargin: d("1.00")})
			}
			got := Totals(lines, d(tc.percent))

			subtotal := d(tc.subtotal)
			want := domain.RoundMoney(subtotal.Sub(subtotal.Mul(d(tc.percent)).Div(decimal.NewFromInt(100))))
			assert.True(t, got.Subtotal.Equal(subtotal))
			assert.True(t, got.Total.Equal(d(tc.total)), "total %s", got.Total)
			assert.True(t, got.Total.Equal(want))
			assert.True(t, got.Subtotal.Sub(got.DiscountAmount).Equal(got.Total))
			assert.True(t, got.Margin.Equal(decimal.NewFromInt(int64(len(lines)))))
		})
	}
}
