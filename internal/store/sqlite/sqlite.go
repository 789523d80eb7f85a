// Package sqlite is the single-file local store. The schema is migrated on New;
// quantities and money are kept as TEXT so decimals survive exactly.
package sqlite

import (
	"database/sql"
	"errors"
	"fmt"

	sqlite3 "github.com/mattn/go-sqlite3"

	"queijaria/backend/internal/store/sqlstore"
)

type Store struct {
	*sqlstore.Store
}

// New opens (or creates) the database at path. Use ":memory:" for tests.
func New(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One connection keeps ":memory:" databases alive and matches sqlite's single writer.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return &Store{Store: sqlstore.New(db, sqlstore.Dialect{IsUniqueViolation: isUniqueViolation})}, nil
}

const schema = `
CREATE TABLE IF NOT EXISTS products (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL UNIQUE,
	category TEXT NOT NULL DEFAULT '',
	unit TEXT NOT NULL,
	avg_weight TEXT NOT NULL DEFAULT '0',
	cost_price TEXT NOT NULL,
	sell_price TEXT NOT NULL,
	margin_percent TEXT NOT NULL,
	quantity TEXT NOT NULL DEFAULT '0',
	created_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS customers (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	phone TEXT NOT NULL DEFAULT '',
	tax_id TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMP NOT NULL
);

-- append-only: no UPDATE or DELETE is ever issued against movements
CREATE TABLE IF NOT EXISTS movements (
	seq INTEGER PRIMARY KEY AUTOINCREMENT,
	id TEXT NOT NULL UNIQUE,
	date TIMESTAMP NOT NULL,
	product TEXT NOT NULL,
	kind TEXT NOT NULL CHECK (kind IN ('entry', 'exit')),
	quantity TEXT NOT NULL,
	unit TEXT NOT NULL DEFAULT '',
	batch TEXT NOT NULL DEFAULT '',
	note TEXT NOT NULL DEFAULT '',
	sale_code TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_movements_product_date ON movements (product, date, seq);
CREATE INDEX IF NOT EXISTS idx_movements_sale_code ON movements (sale_code) WHERE sale_code <> '';

CREATE TABLE IF NOT EXISTS sales (
	code TEXT PRIMARY KEY,
	customer TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL,
	discount_percent TEXT NOT NULL,
	subtotal TEXT NOT NULL,
	discount_amount TEXT NOT NULL,
	total TEXT NOT NULL,
	total_margin TEXT NOT NULL,
	payment_method TEXT NOT NULL,
	created_by TEXT NOT NULL DEFAULT '',
	reversed BOOLEAN NOT NULL DEFAULT 0,
	reversed_at TIMESTAMP
);

CREATE TABLE IF NOT EXISTS sale_lines (
	sale_code TEXT NOT NULL REFERENCES sales (code),
	line_no INTEGER NOT NULL,
	product TEXT NOT NULL,
	batch TEXT NOT NULL DEFAULT '',
	quantity TEXT NOT NULL,
	unit_price TEXT NOT NULL,
	unit_cost TEXT NOT NULL,
	line_total TEXT NOT NULL,
	line_margin TEXT NOT NULL,
	PRIMARY KEY (sale_code, line_no)
);

CREATE TABLE IF NOT EXISTS sale_line_allocations (
	sale_code TEXT NOT NULL,
	line_no INTEGER NOT NULL,
	alloc_no INTEGER NOT NULL,
	batch TEXT NOT NULL,
	quantity TEXT NOT NULL,
	PRIMARY KEY (sale_code, line_no, alloc_no),
	FOREIGN KEY (sale_code, line_no) REFERENCES sale_lines (sale_code, line_no)
);

CREATE TABLE IF NOT EXISTS catalog_meta (
	id INTEGER PRIMARY KEY,
	version BIGINT NOT NULL
);

CREATE TABLE IF NOT EXISTS ledger_meta (
	id INTEGER PRIMARY KEY,
	last_modified TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS audit_logs (
	id TEXT PRIMARY KEY,
	actor_username TEXT NOT NULL,
	actor_role TEXT NOT NULL,
	action TEXT NOT NULL,
	entity_type TEXT NOT NULL,
	entity_id TEXT NOT NULL,
	detail TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS users (
	username TEXT PRIMARY KEY,
	password TEXT NOT NULL,
	role TEXT NOT NULL,
	active BOOLEAN NOT NULL DEFAULT 1,
	created_at TIMESTAMP NOT NULL
);
`

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique || sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}
