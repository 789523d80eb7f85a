// Package bootstrap opens the repository and caches named by the configuration. The
// server and ledgerctl share it so both binaries see the same store.
package bootstrap

import (
	"context"
	"fmt"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"

	"queijaria/backend/internal/cache"
	"queijaria/backend/internal/config"
	"queijaria/backend/internal/domain"
	"queijaria/backend/internal/store"
	"queijaria/backend/internal/store/memory"
	pgstore "queijaria/backend/internal/store/postgres"
	"queijaria/backend/internal/store/sqlite"
)

// Closer releases whatever Open acquired.
type Closer func() error

// OpenRepository picks postgres when DATABASE_URL is set, then sqlite when SQLITE_PATH
// is set, and falls back to a seeded in-memory store otherwise.
func OpenRepository(ctx context.Context, cfg config.Config) (store.Repository, Closer, error) {
	switch {
	case cfg.DatabaseURL != "":
		pg, err := pgstore.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("postgres unavailable and DATABASE_URL is set: %w", err)
		}
		log.WithField("repository", "postgres").Info("repository ready")
		if err := ensureAdmin(ctx, pg, cfg.AdminPassword); err != nil {
			_ = pg.Close()
			return nil, nil, err
		}
		return pg, pg.Close, nil
	case cfg.SQLitePath != "":
		db, err := sqlite.New(cfg.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		log.WithFields(log.Fields{"repository": "sqlite", "path": cfg.SQLitePath}).Info("repository ready")
		if err := ensureAdmin(ctx, db, cfg.AdminPassword); err != nil {
			_ = db.Close()
			return nil, nil, err
		}
		return db, db.Close, nil
	default:
		log.WithField("repository", "memory").Info("repository ready")
		return memory.NewSeeded(), func() error { return nil }, nil
	}
}

// OpenDashboardCache returns the redis cache when REDIS_ADDR answers, otherwise the
// no-op cache. Redis being down never stops the shop.
func OpenDashboardCache(ctx context.Context, cfg config.Config) (cache.DashboardCache, Closer) {
	noop := func() error { return nil }
	if cfg.RedisAddr == "" {
		log.WithField("cache", "noop").Info("dashboard cache ready")
		return cache.NoopDashboardCache{}, noop
	}

	redisCache := cache.NewRedisDashboardCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err := redisCache.Ping(ctx); err != nil {
		log.WithError(err).Warn("redis unavailable, using noop dashboard cache")
		_ = redisCache.Close()
		return cache.NoopDashboardCache{}, noop
	}
	log.WithField("cache", "redis").Info("dashboard cache ready")
	return redisCache, redisCache.Close
}

// ensureAdmin creates the first admin of an empty store from SEED_ADMIN_PASSWORD.
func ensureAdmin(ctx context.Context, repo store.Repository, password string) error {
	users, err := repo.ListUsers(ctx)
	if err != nil {
		return fmt.Errorf("list users: %w", err)
	}
	if len(users) > 0 {
		return nil
	}
	if strings.TrimSpace(password) == "" {
		log.Warn("store has no users and SEED_ADMIN_PASSWORD is empty; nobody can log in")
		return nil
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash admin password: %w", err)
	}
	if err := repo.CreateUser(ctx, domain.UserAccount{
		Username:  "admin",
		Password:  string(hash),
		Role:      domain.RoleAdmin,
		Active:    true,
		CreatedAt: time.Now().UTC(),
	}); err != nil {
		return fmt.Errorf("create admin: %w", err)
	}
	log.WithField("username", "admin").Info("seeded first admin account")
	return nil
}
