// Package storetest holds the behaviour every store.Repository must share.
package storetest

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"queijaria/backend/internal/domain"
	"queijaria/backend/internal/store"
)

// Run exercises repo constructors returning empty stores.
func Run(t *testing.T, newRepo func(t *testing.T) store.Repository) {
	t.Run("products", func(t *testing.T) { testProducts(t, newRepo(t)) })
	t.Run("customers reject duplicates", func(t *testing.T) { testCustomers(t, newRepo(t)) })
	t.Run("movements keep insertion order", func(t *testing.T) { testMovements(t, newRepo(t)) })
	t.Run("commit sale assigns sequential codes", func(t *testing.T) { testCommitSale(t, newRepo(t)) })
	t.Run("sale lines keep their batch split", func(t *testing.T) { testSaleAllocations(t, newRepo(t)) })
	t.Run("catalog writes advance the version", func(t *testing.T) { testCatalogVersion(t, newRepo(t)) })
	t.Run("reversal flips once", func(t *testing.T) { testReversal(t, newRepo(t)) })
	t.Run("users", func(t *testing.T) { testUsers(t, newRepo(t)) })
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func mustProduct(t *testing.T, name string) domain.Product {
	t.Helper()
	p, err := domain.NewProduct(domain.ProductCreateRequest{
		Name: name, Category: "curado", Unit: "kg", CostPrice: dec("10.00"), SellPrice: dec("15.50"),
	}, time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	return p
}

func mustMovement(t *testing.T, kind domain.MovementKind, product, batch, qty string, at time.Time) domain.Movement {
	t.Helper()
	m, err := domain.NewMovement(domain.MovementInput{
		Date: at, Product: product, Kind: kind, Quantity: dec(qty), Unit: "kg", Batch: batch,
	})
	require.NoError(t, err)
	return m
}

func testProducts(t *testing.T, repo store.Repository) {
	ctx := context.Background()
	p := mustProduct(t, "Gouda")

	_, err := repo.CreateProduct(ctx, p)
	require.NoError(t, err)
	_, err = repo.CreateProduct(ctx, mustProduct(t, "Gouda"))
	assert.ErrorIs(t, err, store.ErrDuplicate)

	got, err := repo.GetProduct(ctx, "Gouda")
	require.NoError(t, err)
	assert.Equal(t, p.ID, got.ID)
	assert.True(t, got.SellPrice.Equal(dec("15.50")))
	assert.True(t, got.MarginPercent.Equal(p.MarginPercent))

	require.NoError(t, repo.SetProductQuantity(ctx, "Gouda", dec("3.250")))
	got, err = repo.GetProduct(ctx, "Gouda")
	require.NoError(t, err)
	assert.True(t, got.Quantity.Equal(dec("3.25")))

	require.NoError(t, repo.DeleteProduct(ctx, "Gouda"))
	_, err = repo.GetProduct(ctx, "Gouda")
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.ErrorIs(t, repo.DeleteProduct(ctx, "Gouda"), store.ErrNotFound)
}

func testCustomers(t *testing.T, repo store.Repository) {
	ctx := context.Background()
	now := time.Now()

	first, err := domain.NewCustomer(domain.CustomerCreateRequest{Name: "Ana", Phone: "(31) 99999-0000", TaxID: "123.456.789-00"}, now)
	require.NoError(t, err)
	_, err = repo.CreateCustomer(ctx, first)
	require.NoError(t, err)

	samePhone, err := domain.NewCustomer(domain.CustomerCreateRequest{Name: "Bia", Phone: "31999990000"}, now)
	require.NoError(t, err)
	_, err = repo.CreateCustomer(ctx, samePhone)
	assert.ErrorIs(t, err, store.ErrDuplicate)

	other, err := domain.NewCustomer(domain.CustomerCreateRequest{Name: "Caio"}, now)
	require.NoError(t, err)
	_, err = repo.CreateCustomer(ctx, other)
	require.NoError(t, err)

	list, err := repo.ListCustomers(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "Ana", list[0].Name)

	require.NoError(t, repo.DeleteCustomer(ctx, other.ID))
	assert.ErrorIs(t, repo.DeleteCustomer(ctx, other.ID), store.ErrNotFound)
}

func testMovements(t *testing.T, repo store.Repository) {
	ctx := context.Background()
	day := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)

	before, err := repo.LastModified(ctx)
	require.NoError(t, err)

	written, err := repo.AppendMovements(ctx, []domain.Movement{
		mustMovement(t, domain.Entry, "Brie", "B1", "2.500", day),
		mustMovement(t, domain.Entry, "Brie", "B2", "1.125", day),
	})
	require.NoError(t, err)
	require.Len(t, written, 2)
	assert.Less(t, written[0].Seq, written[1].Seq)

	_, err = repo.AppendMovements(ctx, []domain.Movement{mustMovement(t, domain.Exit, "Brie", "B1", "0.500", day.Add(time.Hour))})
	require.NoError(t, err)

	after, err := repo.LastModified(ctx)
	require.NoError(t, err)
	assert.True(t, after.After(before))

	all, err := repo.ListMovements(ctx)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "B1", all[0].Batch)
	assert.Equal(t, "B2", all[1].Batch)
	assert.Equal(t, domain.Exit, all[2].Kind)
	assert.True(t, all[1].Quantity.Equal(dec("1.125")))
	assert.True(t, all[0].Date.Equal(day))
}

func testCommitSale(t *testing.T, repo store.Repository) {
	ctx := context.Background()
	at := time.Date(2026, 3, 3, 10, 0, 0, 0, time.UTC)

	for i := 1; i <= 2; i++ {
		exit := mustMovement(t, domain.Exit, "Brie", "B1", "0.250", at)
		sale := domain.Sale{
			Customer:        domain.AnonymousCustomer,
			Timestamp:       at.Add(time.Duration(i) * time.Minute),
			DiscountPercent: dec("10"),
			Subtotal:        dec("20.00"),
			DiscountAmount:  dec("2.00"),
			Total:           dec("18.00"),
			TotalMargin:     dec("5.00"),
			PaymentMethod:   domain.PaymentPix,
			Lines: []domain.SaleLine{{
				Product: "Brie", Quantity: dec("0.250"), UnitPrice: dec("80.00"), UnitCost: dec("60.00"),
				LineTotal: dec("20.00"), LineMargin: dec("5.00"),
			}},
		}
		committed, err := repo.CommitSale(ctx, sale, []domain.Movement{exit})
		require.NoError(t, err)
		assert.Equal(t, domain.SaleCode(i), committed.Code)
	}

	n, err := repo.CountSales(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	got, err := repo.GetSale(ctx, "VEN-0001")
	require.NoError(t, err)
	assert.True(t, got.Total.Equal(dec("18.00")))
	require.Len(t, got.Lines, 1)
	assert.True(t, got.Lines[0].Quantity.Equal(dec("0.25")))

	linked, err := repo.ListMovementsBySale(ctx, "VEN-0002")
	require.NoError(t, err)
	require.Len(t, linked, 1)
	assert.Equal(t, "VEN-0002", linked[0].SaleCode)

	sales, err := repo.ListSales(ctx, 10)
	require.NoError(t, err)
	require.Len(t, sales, 2)
	assert.Equal(t, "VEN-0002", sales[0].Code)

	_, err = repo.GetSale(ctx, "VEN-9999")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func testSaleAllocations(t *testing.T, repo store.Repository) {
	ctx := context.Background()
	at := time.Date(2026, 3, 3, 11, 0, 0, 0, time.UTC)

	committed, err := repo.CommitSale(ctx, domain.Sale{
		Customer: "Ana", Timestamp: at, PaymentMethod: domain.PaymentCard,
		Subtotal: dec("140.00"), DiscountAmount: decimal.Zero, Total: dec("140.00"), TotalMargin: dec("35.00"),
		Lines: []domain.SaleLine{
			{
				Product: "Brie", Quantity: dec("7"), UnitPrice: dec("20.00"), UnitCost: dec("15.00"),
				LineTotal: dec("140.00"), LineMargin: dec("35.00"),
				Allocations: []domain.BatchAllocation{{Batch: "A", Quantity: dec("5")}, {Batch: "B", Quantity: dec("2")}},
			},
			{
				Product: "Gouda", Quantity: dec("0.5"), UnitPrice: dec("0"), UnitCost: dec("0"),
				LineTotal: decimal.Zero, LineMargin: decimal.Zero,
			},
		},
	}, []domain.Movement{
		mustMovement(t, domain.Exit, "Brie", "A", "5", at),
		mustMovement(t, domain.Exit, "Brie", "B", "2", at),
		mustMovement(t, domain.Exit, "Gouda", domain.OverdraftBatch, "0.5", at),
	})
	require.NoError(t, err)
	require.Len(t, committed.Lines[0].Allocations, 2)

	got, err := repo.GetSale(ctx, committed.Code)
	require.NoError(t, err)
	require.Len(t, got.Lines, 2)
	require.Len(t, got.Lines[0].Allocations, 2)
	assert.Equal(t, "A", got.Lines[0].Allocations[0].Batch)
	assert.True(t, got.Lines[0].Allocations[0].Quantity.Equal(dec("5")))
	assert.Equal(t, "B", got.Lines[0].Allocations[1].Batch)
	assert.True(t, got.Lines[0].Allocations[1].Quantity.Equal(dec("2")))
	assert.Empty(t, got.Lines[1].Allocations)

	entry := mustMovement(t, domain.Entry, "Brie", "A", "5", at.Add(time.Hour))
	reversed, err := repo.MarkSaleReversed(ctx, committed.Code, []domain.Movement{entry}, at.Add(time.Hour))
	require.NoError(t, err)
	assert.Len(t, reversed.Lines[0].Allocations, 2)
}

func testCatalogVersion(t *testing.T, repo store.Repository) {
	ctx := context.Background()

	v0, err := repo.CatalogVersion(ctx)
	require.NoError(t, err)

	_, err = repo.CreateProduct(ctx, mustProduct(t, "Gruyère"))
	require.NoError(t, err)
	v1, err := repo.CatalogVersion(ctx)
	require.NoError(t, err)
	assert.Greater(t, v1, v0)

	_, err = repo.CreateProduct(ctx, mustProduct(t, "Gruyère"))
	assert.ErrorIs(t, err, store.ErrDuplicate)
	unchanged, err := repo.CatalogVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, v1, unchanged)

	customer, err := domain.NewCustomer(domain.CustomerCreateRequest{Name: "Duda"}, time.Now())
	require.NoError(t, err)
	_, err = repo.CreateCustomer(ctx, customer)
	require.NoError(t, err)
	require.NoError(t, repo.DeleteCustomer(ctx, customer.ID))
	require.NoError(t, repo.DeleteProduct(ctx, "Gruyère"))

	v2, err := repo.CatalogVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, v1+3, v2)

	// movements are not catalog writes
	_, err = repo.AppendMovements(ctx, []domain.Movement{mustMovement(t, domain.Entry, "Brie", "B1", "1", time.Now())})
	require.NoError(t, err)
	v3, err := repo.CatalogVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, v2, v3)
}

func testReversal(t *testing.T, repo store.Repository) {
	ctx := context.Background()
	at := time.Date(2026, 3, 4, 10, 0, 0, 0, time.UTC)

	committed, err := repo.CommitSale(ctx, domain.Sale{
		Customer: "Ana", Timestamp: at, PaymentMethod: domain.PaymentCash,
		Subtotal: dec("8.00"), DiscountAmount: decimal.Zero, Total: dec("8.00"), TotalMargin: dec("2.00"),
		Lines: []domain.SaleLine{{Product: "Brie", Quantity: dec("0.1"), UnitPrice: dec("80.00"), LineTotal: dec("8.00")}},
	}, []domain.Movement{mustMovement(t, domain.Exit, "Brie", "B1", "0.100", at)})
	require.NoError(t, err)

	entry := mustMovement(t, domain.Entry, "Brie", "B1", "0.100", at.Add(time.Hour))
	reversed, err := repo.MarkSaleReversed(ctx, committed.Code, []domain.Movement{entry}, at.Add(time.Hour))
	require.NoError(t, err)
	assert.True(t, reversed.Reversed)
	require.NotNil(t, reversed.ReversedAt)

	again := mustMovement(t, domain.Entry, "Brie", "B1", "0.100", at.Add(2*time.Hour))
	_, err = repo.MarkSaleReversed(ctx, committed.Code, []domain.Movement{again}, at.Add(2*time.Hour))
	assert.ErrorIs(t, err, domain.ErrAlreadyReversed)

	all, err := repo.ListMovements(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	_, err = repo.MarkSaleReversed(ctx, "VEN-0404", nil, at)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func testUsers(t *testing.T, repo store.Repository) {
	ctx := context.Background()
	user := domain.UserAccount{Username: "caixa1", Password: "$2a$04$hash", Role: "cashier", Active: true, CreatedAt: time.Now().UTC()}

	require.NoError(t, repo.CreateUser(ctx, user))
	assert.ErrorIs(t, repo.CreateUser(ctx, user), store.ErrDuplicate)
	require.NoError(t, repo.UpdateUserPassword(ctx, "caixa1", "$2a$04$other"))

	got, err := repo.GetUser(ctx, "caixa1")
	require.NoError(t, err)
	assert.Equal(t, "cashier", got.Role)
	assert.Equal(t, "$2a$04$other", got.Password)
	_, err = repo.GetUser(ctx, "ninguem")
	assert.ErrorIs(t, err, store.ErrNotFound)

	users, err := repo.ListUsers(ctx)
	require.NoError(t, err)
	var found bool
	for _, u := range users {
		if u.Username == "caixa1" {
			found = true
			assert.Equal(t, "$2a$04$other", u.Password)
			assert.True(t, u.Active)
		}
	}
	assert.True(t, found)
}
