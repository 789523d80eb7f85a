package memory

import (
	"context"
	"testing"

	"queijaria/backend/internal/store"
	"queijaria/backend/internal/store/storetest"
)

func TestRepositoryContract(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Repository {
		return New()
	})
}

func TestNewSeededProjectsOpeningStock(t *testing.T) {
	s := NewSeeded()

	products, err := s.ListProducts(context.Background())
	if err != nil {
		t.Fatalf("list products: %v", err)
	}
	if len(products) == 0 {
		t.Fatalf("expected seeded products")
	}
	for _, p := range products {
		if !p.Quantity.IsPositive() {
			t.Fatalf("expected seeded quantity for %s, got %s", p.Name, p.Quantity)
		}
	}

	users, err := s.ListUsers(context.Background())
	if err != nil {
		t.Fatalf("list users: %v", err)
	}
	if len(users) != 2 {
		t.Fatalf("expected admin and cashier, got %d users", len(users))
	}
}
