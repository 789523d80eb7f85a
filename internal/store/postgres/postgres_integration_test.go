package postgres

import (
	"context"
	"os"
	"testing"

	"queijaria/backend/internal/store"
	"queijaria/backend/internal/store/storetest"
)

func TestRepositoryContract(t *testing.T) {
	databaseURL := os.Getenv("QUEIJARIA_TEST_DATABASE_URL")
	if databaseURL == "" {
		t.Skip("set QUEIJARIA_TEST_DATABASE_URL to run postgres integration test")
	}

	storetest.Run(t, func(t *testing.T) store.Repository {
		s, err := New(context.Background(), databaseURL)
		if err != nil {
			t.Fatalf("new store: %v", err)
		}
		t.Cleanup(func() {
			_ = s.Close()
		})
		if _, err := s.DB().Exec(`TRUNCATE sale_lines, sales, movements, ledger_meta, customers, products, audit_logs, users`); err != nil {
			t.Fatalf("truncate: %v", err)
		}
		return s
	})
}
