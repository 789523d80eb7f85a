// Package sqlstore implements store.Repository over database/sql. The postgres and
// sqlite packages open the connection, own the schema and supply a Dialect.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"queijaria/backend/internal/domain"
	"queijaria/backend/internal/store"
)

// Dialect covers what differs between drivers. Queries use $1, $2 ... placeholders,
// which both postgres and sqlite bind by position.
type Dialect struct {
	IsUniqueViolation func(error) bool
	TxOptions         *sql.TxOptions
}

type Store struct {
	db      *sql.DB
	dialect Dialect
	// serializes writers; sqlite allows one writer anyway
	mu sync.Mutex
}

func New(db *sql.DB, dialect Dialect) *Store {
	if dialect.IsUniqueViolation == nil {
		dialect.IsUniqueViolation = func(error) bool { return false }
	}
	return &Store{db: db, dialect: dialect}
}

func (s *Store) DB() *sql.DB {
	return s.db
}

func (s *Store) Close() error {
	return s.db.Close()
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, s.dialect.TxOptions)
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback()
	}()
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

const productColumns = `id, name, category, unit, avg_weight, cost_price, sell_price, margin_percent, quantity, created_at`

func scanProduct(row interface{ Scan(...any) error }) (domain.Product, error) {
	var p domain.Product
	err := row.Scan(&p.ID, &p.Name, &p.Category, &p.Unit, &p.AvgWeight, &p.CostPrice, &p.SellPrice, &p.MarginPercent, &p.Quantity, &p.CreatedAt)
	p.CreatedAt = p.CreatedAt.UTC()
	return p, err
}

func (s *Store) ListProducts(ctx context.Context) ([]domain.Product, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+productColumns+` FROM products ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.Product, 0)
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *Store) GetProduct(ctx context.Context, name string) (*domain.Product, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+productColumns+` FROM products WHERE name = $1`, strings.TrimSpace(name))
	p, err := scanProduct(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *Store) CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO products (`+productColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		`, product.ID, product.Name, product.Category, product.Unit, product.AvgWeight, product.CostPrice,
			product.SellPrice, product.MarginPercent, product.Quantity, product.CreatedAt.UTC())
		if err != nil {
			if s.dialect.IsUniqueViolation(err) {
				return store.ErrDuplicate
			}
			return err
		}
		return bumpCatalog(ctx, tx)
	})
	if err != nil {
		return nil, err
	}
	return &product, nil
}

func (s *Store) DeleteProduct(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM products WHERE name = $1`, name)
		if err != nil {
			return err
		}
		if err := expectOneRow(res); err != nil {
			return err
		}
		return bumpCatalog(ctx, tx)
	})
}

func (s *Store) SetProductQuantity(ctx context.Context, name string, qty decimal.Decimal) error {
	res, err := s.db.ExecContext(ctx, `UPDATE products SET quantity = $1 WHERE name = $2`, qty, name)
	if err != nil {
		return err
	}
	return expectOneRow(res)
}

func (s *Store) ListCustomers(ctx context.Context) ([]domain.Customer, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, phone, tax_id, created_at FROM customers ORDER BY name, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.Customer, 0)
	for rows.Next() {
		var c domain.Customer
		if err := rows.Scan(&c.ID, &c.Name, &c.Phone, &c.TaxID, &c.CreatedAt); err != nil {
			return nil, err
		}
		c.CreatedAt = c.CreatedAt.UTC()
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *Store) CreateCustomer(ctx context.Context, customer domain.Customer) (*domain.Customer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var dupes int
		err := tx.QueryRowContext(ctx, `
			SELECT COUNT(*) FROM customers
			WHERE ($1 <> '' AND tax_id = $1) OR ($2 <> '' AND phone = $2)
		`, customer.TaxID, customer.Phone).Scan(&dupes)
		if err != nil {
			return err
		}
		if dupes > 0 {
			return store.ErrDuplicate
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO customers (id, name, phone, tax_id, created_at) VALUES ($1, $2, $3, $4, $5)
		`, customer.ID, customer.Name, customer.Phone, customer.TaxID, customer.CreatedAt.UTC())
		if err != nil {
			if s.dialect.IsUniqueViolation(err) {
				return store.ErrDuplicate
			}
			return err
		}
		return bumpCatalog(ctx, tx)
	})
	if err != nil {
		return nil, err
	}
	return &customer, nil
}

func (s *Store) DeleteCustomer(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM customers WHERE id = $1`, id)
		if err != nil {
			return err
		}
		if err := expectOneRow(res); err != nil {
			return err
		}
		return bumpCatalog(ctx, tx)
	})
}

// bumpCatalog advances the version that dashboard cache keys carry, so every process
// sharing the database sees a product or customer change.
func bumpCatalog(ctx context.Context, tx queryer) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO catalog_meta (id, version) VALUES (1, 1)
		ON CONFLICT (id) DO UPDATE SET version = catalog_meta.version + 1
	`)
	return err
}

func (s *Store) CatalogVersion(ctx context.Context) (int64, error) {
	var version int64
	err := s.db.QueryRowContext(ctx, `SELECT version FROM catalog_meta WHERE id = 1`).Scan(&version)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return version, err
}

func (s *Store) AppendMovements(ctx context.Context, movements []domain.Movement) ([]domain.Movement, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var written []domain.Movement
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		written, err = s.insertMovements(ctx, tx, movements, "")
		return err
	})
	if err != nil {
		return nil, err
	}
	return written, nil
}

func (s *Store) insertMovements(ctx context.Context, tx queryer, movements []domain.Movement, saleCode string) ([]domain.Movement, error) {
	written := make([]domain.Movement, 0, len(movements))
	for _, m := range movements {
		if saleCode != "" {
			m.SaleCode = saleCode
		}
		err := tx.QueryRowContext(ctx, `
			INSERT INTO movements (id, date, product, kind, quantity, unit, batch, note, sale_code, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
			RETURNING seq
		`, m.ID, m.Date.UTC(), m.Product, m.Kind, m.Quantity, m.Unit, m.Batch, m.Note, m.SaleCode, m.CreatedAt.UTC()).Scan(&m.Seq)
		if err != nil {
			if s.dialect.IsUniqueViolation(err) {
				return nil, fmt.Errorf("movement %s: %w", m.ID, store.ErrDuplicate)
			}
			return nil, err
		}
		written = append(written, m)
	}
	if err := s.touch(ctx, tx); err != nil {
		return nil, err
	}
	return written, nil
}

func (s *Store) touch(ctx context.Context, tx queryer) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO ledger_meta (id, last_modified) VALUES (1, $1)
		ON CONFLICT (id) DO UPDATE SET last_modified = excluded.last_modified
	`, time.Now().UTC())
	return err
}

const movementColumns = `seq, id, date, product, kind, quantity, unit, batch, note, sale_code, created_at`

func scanMovements(rows *sql.Rows) ([]domain.Movement, error) {
	defer rows.Close()

	out := make([]domain.Movement, 0)
	for rows.Next() {
		var m domain.Movement
		if err := rows.Scan(&m.Seq, &m.ID, &m.Date, &m.Product, &m.Kind, &m.Quantity, &m.Unit, &m.Batch, &m.Note, &m.SaleCode, &m.CreatedAt); err != nil {
			return nil, err
		}
		m.Date = m.Date.UTC()
		m.CreatedAt = m.CreatedAt.UTC()
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *Store) ListMovements(ctx context.Context) ([]domain.Movement, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+movementColumns+` FROM movements ORDER BY seq`)
	if err != nil {
		return nil, err
	}
	return scanMovements(rows)
}

func (s *Store) ListMovementsBySale(ctx context.Context, code string) ([]domain.Movement, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+movementColumns+` FROM movements WHERE sale_code = $1 ORDER BY seq`, code)
	if err != nil {
		return nil, err
	}
	return scanMovements(rows)
}

func (s *Store) LastModified(ctx context.Context) (time.Time, error) {
	var at time.Time
	err := s.db.QueryRowContext(ctx, `SELECT last_modified FROM ledger_meta WHERE id = 1`).Scan(&at)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, err
	}
	return at.UTC(), nil
}

func (s *Store) CommitSale(ctx context.Context, sale domain.Sale, exits []domain.Movement) (*domain.Sale, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var count int
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM sales`).Scan(&count); err != nil {
			return err
		}
		sale.Code = domain.SaleCode(count + 1)

		_, err := tx.ExecContext(ctx, `
			INSERT INTO sales (code, customer, created_at, discount_percent, subtotal, discount_amount, total, total_margin, payment_method, created_by, reversed)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		`, sale.Code, sale.Customer, sale.Timestamp.UTC(), sale.DiscountPercent, sale.Subtotal, sale.DiscountAmount,
			sale.Total, sale.TotalMargin, sale.PaymentMethod, sale.CreatedBy, false)
		if err != nil {
			if s.dialect.IsUniqueViolation(err) {
				return fmt.Errorf("sale %s: %w", sale.Code, store.ErrDuplicate)
			}
			return err
		}

		for i, line := range sale.Lines {
			_, err := tx.ExecContext(ctx, `
				INSERT INTO sale_lines (sale_code, line_no, product, batch, quantity, unit_price, unit_cost, line_total, line_margin)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			`, sale.Code, i+1, line.Product, line.Batch, line.Quantity, line.UnitPrice, line.UnitCost, line.LineTotal, line.LineMargin)
			if err != nil {
				return err
			}
			for j, a := range line.Allocations {
				_, err := tx.ExecContext(ctx, `
					INSERT INTO sale_line_allocations (sale_code, line_no, alloc_no, batch, quantity)
					VALUES ($1, $2, $3, $4, $5)
				`, sale.Code, i+1, j+1, a.Batch, a.Quantity)
				if err != nil {
					return err
				}
			}
		}

		_, err = s.insertMovements(ctx, tx, exits, sale.Code)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &sale, nil
}

const saleColumns = `code, customer, created_at, discount_percent, subtotal, discount_amount, total, total_margin, payment_method, created_by, reversed, reversed_at`

func (s *Store) scanSale(ctx context.Context, db queryer, row interface{ Scan(...any) error }) (*domain.Sale, error) {
	var sale domain.Sale
	var reversedAt sql.NullTime
	err := row.Scan(&sale.Code, &sale.Customer, &sale.Timestamp, &sale.DiscountPercent, &sale.Subtotal, &sale.DiscountAmount,
		&sale.Total, &sale.TotalMargin, &sale.PaymentMethod, &sale.CreatedBy, &sale.Reversed, &reversedAt)
	if err != nil {
		return nil, err
	}
	sale.Timestamp = sale.Timestamp.UTC()
	if reversedAt.Valid {
		at := reversedAt.Time.UTC()
		sale.ReversedAt = &at
	}
	lines, err := s.saleLines(ctx, db, sale.Code)
	if err != nil {
		return nil, err
	}
	sale.Lines = lines
	return &sale, nil
}

func (s *Store) saleLines(ctx context.Context, db queryer, code string) ([]domain.SaleLine, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT line_no, product, batch, quantity, unit_price, unit_cost, line_total, line_margin
		FROM sale_lines WHERE sale_code = $1 ORDER BY line_no
	`, code)
	if err != nil {
		return nil, err
	}

	out := make([]domain.SaleLine, 0)
	byLineNo := make(map[int]int)
	for rows.Next() {
		var lineNo int
		var line domain.SaleLine
		if err := rows.Scan(&lineNo, &line.Product, &line.Batch, &line.Quantity, &line.UnitPrice, &line.UnitCost, &line.LineTotal, &line.LineMargin); err != nil {
			rows.Close()
			return nil, err
		}
		byLineNo[lineNo] = len(out)
		out = append(out, line)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// pgx cannot interleave two result sets on one connection, so allocations are read after the lines.
	allocs, err := db.QueryContext(ctx, `
		SELECT line_no, batch, quantity FROM sale_line_allocations
		WHERE sale_code = $1 ORDER BY line_no, alloc_no
	`, code)
	if err != nil {
		return nil, err
	}
	defer allocs.Close()

	for allocs.Next() {
		var lineNo int
		var a domain.BatchAllocation
		if err := allocs.Scan(&lineNo, &a.Batch, &a.Quantity); err != nil {
			return nil, err
		}
		if idx, ok := byLineNo[lineNo]; ok {
			out[idx].Allocations = append(out[idx].Allocations, a)
		}
	}
	return out, allocs.Err()
}

func (s *Store) GetSale(ctx context.Context, code string) (*domain.Sale, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+saleColumns+` FROM sales WHERE code = $1`, code)
	sale, err := s.scanSale(ctx, s.db, row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	return sale, err
}

func (s *Store) ListSales(ctx context.Context, limit int) ([]domain.Sale, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `SELECT code FROM sales ORDER BY created_at DESC, code DESC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	codes := make([]string, 0)
	for rows.Next() {
		var code string
		if err := rows.Scan(&code); err != nil {
			rows.Close()
			return nil, err
		}
		codes = append(codes, code)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]domain.Sale, 0, len(codes))
	for _, code := range codes {
		sale, err := s.GetSale(ctx, code)
		if err != nil {
			return nil, err
		}
		out = append(out, *sale)
	}
	return out, nil
}

func (s *Store) CountSales(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sales`).Scan(&n)
	return n, err
}

func (s *Store) MarkSaleReversed(ctx context.Context, code string, entries []domain.Movement, at time.Time) (*domain.Sale, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var sale *domain.Sale
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var reversed bool
		err := tx.QueryRowContext(ctx, `SELECT reversed FROM sales WHERE code = $1`, code).Scan(&reversed)
		if errors.Is(err, sql.ErrNoRows) {
			return store.ErrNotFound
		}
		if err != nil {
			return err
		}
		if reversed {
			return domain.ErrAlreadyReversed
		}

		res, err := tx.ExecContext(ctx, `UPDATE sales SET reversed = $1, reversed_at = $2 WHERE code = $3 AND reversed = $4`, true, at.UTC(), code, false)
		if err != nil {
			return err
		}
		if n, err := res.RowsAffected(); err == nil && n == 0 {
			return domain.ErrAlreadyReversed
		}
		if _, err := s.insertMovements(ctx, tx, entries, code); err != nil {
			return err
		}

		row := tx.QueryRowContext(ctx, `SELECT `+saleColumns+` FROM sales WHERE code = $1`, code)
		sale, err = s.scanSale(ctx, tx, row)
		return err
	})
	if err != nil {
		return nil, err
	}
	return sale, nil
}

func (s *Store) CreateAuditLog(ctx context.Context, entry domain.AuditLog) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_logs (id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, entry.ID, entry.ActorUsername, entry.ActorRole, entry.Action, entry.EntityType, entry.EntityID, entry.Detail, entry.CreatedAt.UTC())
	return err
}

func (s *Store) ListAuditLogs(ctx context.Context, limit int) ([]domain.AuditLog, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at
		FROM audit_logs ORDER BY created_at DESC, id DESC LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.AuditLog, 0)
	for rows.Next() {
		var e domain.AuditLog
		if err := rows.Scan(&e.ID, &e.ActorUsername, &e.ActorRole, &e.Action, &e.EntityType, &e.EntityID, &e.Detail, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.CreatedAt = e.CreatedAt.UTC()
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *Store) GetUser(ctx context.Context, username string) (*domain.UserAccount, error) {
	var u domain.UserAccount
	err := s.db.QueryRowContext(ctx, `
		SELECT username, password, role, active, created_at FROM users WHERE username = $1
	`, username).Scan(&u.Username, &u.Password, &u.Role, &u.Active, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	u.CreatedAt = u.CreatedAt.UTC()
	return &u, nil
}

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (username, password, role, active, created_at) VALUES ($1, $2, $3, $4, $5)
	`, user.Username, user.Password, user.Role, user.Active, user.CreatedAt.UTC())
	if err != nil && s.dialect.IsUniqueViolation(err) {
		return store.ErrDuplicate
	}
	return err
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT username, password, role, active, created_at FROM users ORDER BY username`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.UserAccount, 0)
	for rows.Next() {
		var u domain.UserAccount
		if err := rows.Scan(&u.Username, &u.Password, &u.Role, &u.Active, &u.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

func (s *Store) UpdateUserPassword(ctx context.Context, username string, password string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE users SET password = $1 WHERE username = $2`, password, username)
	if err != nil {
		return err
	}
	return expectOneRow(res)
}

func expectOneRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}
