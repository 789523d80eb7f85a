package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"queijaria/backend/internal/store/sqlstore"
)

// Store is the PostgreSQL repository. Ledger writes run in serializable transactions.
type Store struct {
	*sqlstore.Store
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	if err := migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return &Store{Store: sqlstore.New(db, sqlstore.Dialect{
		IsUniqueViolation: isUniqueViolation,
		TxOptions:         &sql.TxOptions{Isolation: sql.LevelSerializable},
	})}, nil
}

func migrate(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, schema)
	return err
}

const schema = `
CREATE TABLE IF NOT EXISTS products (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL UNIQUE,
	category TEXT NOT NULL DEFAULT '',
	unit TEXT NOT NULL,
	avg_weight NUMERIC(14,3) NOT NULL DEFAULT 0,
	cost_price NUMERIC(14,2) NOT NULL,
	sell_price NUMERIC(14,2) NOT NULL,
	margin_percent NUMERIC(8,2) NOT NULL,
	quantity NUMERIC(14,3) NOT NULL DEFAULT 0,
	created_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS customers (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	phone TEXT NOT NULL DEFAULT '',
	tax_id TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS movements (
	seq BIGSERIAL PRIMARY KEY,
	id TEXT NOT NULL UNIQUE,
	date TIMESTAMPTZ NOT NULL,
	product TEXT NOT NULL,
	kind TEXT NOT NULL CHECK (kind IN ('entry', 'exit')),
	quantity NUMERIC(14,3) NOT NULL CHECK (quantity > 0),
	unit TEXT NOT NULL DEFAULT '',
	batch TEXT NOT NULL DEFAULT '',
	note TEXT NOT NULL DEFAULT '',
	sale_code TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_movements_product_date ON movements (product, date, seq);
CREATE INDEX IF NOT EXISTS idx_movements_sale_code ON movements (sale_code) WHERE sale_code <> '';

CREATE TABLE IF NOT EXISTS sales (
	code TEXT PRIMARY KEY,
	customer TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	discount_percent NUMERIC(6,2) NOT NULL,
	subtotal NUMERIC(14,2) NOT NULL,
	discount_amount NUMERIC(14,2) NOT NULL,
	total NUMERIC(14,2) NOT NULL,
	total_margin NUMERIC(14,2) NOT NULL,
	payment_method TEXT NOT NULL,
	created_by TEXT NOT NULL DEFAULT '',
	reversed BOOLEAN NOT NULL DEFAULT FALSE,
	reversed_at TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS sale_lines (
	sale_code TEXT NOT NULL REFERENCES sales (code),
	line_no INTEGER NOT NULL,
	product TEXT NOT NULL,
	batch TEXT NOT NULL DEFAULT '',
	quantity NUMERIC(14,3) NOT NULL,
	unit_price NUMERIC(14,2) NOT NULL,
	unit_cost NUMERIC(14,2) NOT NULL,
	line_total NUMERIC(14,2) NOT NULL,
	line_margin NUMERIC(14,2) NOT NULL,
	PRIMARY KEY (sale_code, line_no)
);

CREATE TABLE IF NOT EXISTS sale_line_allocations (
	sale_code TEXT NOT NULL,
	line_no INTEGER NOT NULL,
	alloc_no INTEGER NOT NULL,
	batch TEXT NOT NULL,
	quantity NUMERIC(14,3) NOT NULL,
	PRIMARY KEY (sale_code, line_no, alloc_no),
	FOREIGN KEY (sale_code, line_no) REFERENCES sale_lines (sale_code, line_no)
);

CREATE TABLE IF NOT EXISTS catalog_meta (
	id INTEGER PRIMARY KEY,
	version BIGINT NOT NULL
);

CREATE TABLE IF NOT EXISTS ledger_meta (
	id INTEGER PRIMARY KEY,
	last_modified TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS audit_logs (
	id TEXT PRIMARY KEY,
	actor_username TEXT NOT NULL,
	actor_role TEXT NOT NULL,
	action TEXT NOT NULL,
	entity_type TEXT NOT NULL,
	entity_id TEXT NOT NULL,
	detail TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS users (
	username TEXT PRIMARY KEY,
	password TEXT NOT NULL,
	role TEXT NOT NULL,
	active BOOLEAN NOT NULL DEFAULT TRUE,
	created_at TIMESTAMPTZ NOT NULL
);
`

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}
