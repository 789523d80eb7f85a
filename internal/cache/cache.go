package cache

import (
	"context"
	"fmt"
	"time"

	"queijaria/backend/internal/domain"
)

// DashboardCache stores dashboard summaries. Keys embed the ledger's last-modified
// stamp and the store's catalog version, so any write makes older entries unreachable
// for every process sharing the store.
type DashboardCache interface {
	Get(ctx context.Context, key string) (*domain.DashboardSummary, bool, error)
	Set(ctx context.Context, key string, value *domain.DashboardSummary, ttl time.Duration) error
}

func DashboardKey(lastModified time.Time, catalogVersion int64) string {
	return fmt.Sprintf("queijaria:dashboard:%d:%d", lastModified.UnixNano(), catalogVersion)
}

type NoopDashboardCache struct{}

func (NoopDashboardCache) Get(_ context.Context, _ string) (*domain.DashboardSummary, bool, error) {
	return nil, false, nil
}

func (NoopDashboardCache) Set(_ context.Context, _ string, _ *domain.DashboardSummary, _ time.Duration) error {
	return nil
}
