package memory

import (
	"context"
	"os"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"

	"queijaria/backend/internal/domain"
	"queijaria/backend/internal/store"
)

type Store struct {
	mu              sync.RWMutex
	products        map[string]domain.Product
	customersByID   map[string]domain.Customer
	movements       []domain.Movement
	nextSeq         int64
	sales           []domain.Sale
	salesByCode     map[string]int
	auditLogs       []domain.AuditLog
	usersByUsername map[string]domain.UserAccount
	lastModified    time.Time
	catalogVersion  int64
}

func New() *Store {
	return &Store{
		products:        make(map[string]domain.Product),
		customersByID:   make(map[string]domain.Customer),
		salesByCode:     make(map[string]int),
		usersByUsername: make(map[string]domain.UserAccount),
	}
}

// seedUsers builds the dev/demo accounts. Passwords come from SEED_ADMIN_PASSWORD
// and SEED_CASHIER_PASSWORD with dev defaults.
func seedUsers() map[string]domain.UserAccount {
	adminPwd := envOr("SEED_ADMIN_PASSWORD", "admin123")
	cashierPwd := envOr("SEED_CASHIER_PASSWORD", "cashier123")
	if os.Getenv("SEED_ADMIN_PASSWORD") == "" || os.Getenv("SEED_CASHIER_PASSWORD") == "" {
		log.WithField("component", "memory-store").Warn("using default dev credentials; set SEED_ADMIN_PASSWORD and SEED_CASHIER_PASSWORD to override")
	}

	now := time.Now().UTC()
	users := map[string]domain.UserAccount{}
	for _, u := range []struct {
		username string
		password string
		role     string
	}{
		{"admin", adminPwd, domain.RoleAdmin},
		{"cashier", cashierPwd, domain.RoleCashier},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.DefaultCost)
		if err != nil {
			log.WithError(err).Fatalf("failed to hash seed password for %s", u.username)
		}
		users[u.username] = domain.UserAccount{
			Username:  u.username,
			Password:  string(hash),
			Role:      u.role,
			Active:    true,
			CreatedAt: now,
		}
	}
	return users
}

// NewSeeded returns a store with demo users, a few cheeses and their opening batches.
func NewSeeded() *Store {
	s := New()
	s.usersByUsername = seedUsers()

	now := time.Now().UTC()
	day := func(offset int) time.Time {
		return time.Date(now.Year(), now.Month(), now.Day(), 9, 0, 0, 0, time.UTC).AddDate(0, 0, offset)
	}

	type seedBatch struct {
		batch string
		qty   string
		at    time.Time
	}
	seeds := []struct {
		name, category, unit string
		cost, sell           string
		batches              []seedBatch
	}{
		{"Queijo Minas Frescal", "fresco", "kg", "28.00", "42.90", []seedBatch{{"MF-0101", "6.500", day(-6)}, {"MF-0102", "8.000", day(-2)}}},
		{"Queijo Canastra", "curado", "kg", "55.00", "89.90", []seedBatch{{"CN-0301", "4.200", day(-10)}}},
		{"Parmesão", "curado", "kg", "61.50", "98.00", []seedBatch{{"PM-0907", "3.000", day(-20)}, {"PM-0911", "5.250", day(-4)}}},
	}

	for _, seed := range seeds {
		product, err := domain.NewProduct(domain.ProductCreateRequest{
			Name:      seed.name,
			Category:  seed.category,
			Unit:      seed.unit,
			CostPrice: decimal.RequireFromString(seed.cost),
			SellPrice: decimal.RequireFromString(seed.sell),
		}, day(-30))
		if err != nil {
			log.WithError(err).Fatalf("invalid seed product %s", seed.name)
		}
		onHand := decimal.Zero
		for _, b := range seed.batches {
			m, err := domain.NewMovement(domain.MovementInput{
				Date:     b.at,
				Product:  product.Name,
				Kind:     domain.Entry,
				Quantity: decimal.RequireFromString(b.qty),
				Unit:     product.Unit,
				Batch:    b.batch,
				Note:     "opening stock",
			})
			if err != nil {
				log.WithError(err).Fatalf("invalid seed movement for %s", seed.name)
			}
			s.nextSeq++
			m.Seq = s.nextSeq
			s.movements = append(s.movements, m)
			onHand = onHand.Add(m.Quantity)
		}
		product.Quantity = onHand
		s.products[product.Name] = product
	}
	s.lastModified = now
	return s
}

func (s *Store) ListProducts(_ context.Context) ([]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Product, 0, len(s.products))
	for _, p := range s.products {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *Store) GetProduct(_ context.Context, name string) (*domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.products[strings.TrimSpace(name)]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &p, nil
}

func (s *Store) CreateProduct(_ context.Context, product domain.Product) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.products[product.Name]; exists {
		return nil, store.ErrDuplicate
	}
	s.products[product.Name] = product
	s.catalogVersion++
	return &product, nil
}

func (s *Store) DeleteProduct(_ context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.products[name]; !ok {
		return store.ErrNotFound
	}
	delete(s.products, name)
	s.catalogVersion++
	return nil
}

func (s *Store) SetProductQuantity(_ context.Context, name string, qty decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.products[name]
	if !ok {
		return store.ErrNotFound
	}
	p.Quantity = qty
	s.products[name] = p
	return nil
}

func (s *Store) ListCustomers(_ context.Context) ([]domain.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Customer, 0, len(s.customersByID))
	for _, c := range s.customersByID {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *Store) CreateCustomer(_ context.Context, customer domain.Customer) (*domain.Customer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.customersByID {
		if customer.TaxID != "" && existing.TaxID == customer.TaxID {
			return nil, store.ErrDuplicate
		}
		if customer.Phone != "" && existing.Phone == customer.Phone {
			return nil, store.ErrDuplicate
		}
	}
	s.customersByID[customer.ID] = customer
	s.catalogVersion++
	return &customer, nil
}

func (s *Store) DeleteCustomer(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.customersByID[id]; !ok {
		return store.ErrNotFound
	}
	delete(s.customersByID, id)
	s.catalogVersion++
	return nil
}

func (s *Store) CatalogVersion(_ context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.catalogVersion, nil
}

func (s *Store) AppendMovements(_ context.Context, movements []domain.Movement) ([]domain.Movement, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.appendLocked(movements, ""), nil
}

func (s *Store) appendLocked(movements []domain.Movement, saleCode string) []domain.Movement {
	written := make([]domain.Movement, 0, len(movements))
	for _, m := range movements {
		s.nextSeq++
		m.Seq = s.nextSeq
		if saleCode != "" {
			m.SaleCode = saleCode
		}
		s.movements = append(s.movements, m)
		written = append(written, m)
	}
	s.lastModified = time.Now().UTC()
	return written
}

func (s *Store) ListMovements(_ context.Context) ([]domain.Movement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return slices.Clone(s.movements), nil
}

func (s *Store) ListMovementsBySale(_ context.Context, code string) ([]domain.Movement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Movement, 0)
	for _, m := range s.movements {
		if m.SaleCode == code {
			out = append(out, m)
		}
	}
	return out, nil
}

func (s *Store) LastModified(_ context.Context) (time.Time, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.lastModified, nil
}

func (s *Store) CommitSale(_ context.Context, sale domain.Sale, exits []domain.Movement) (*domain.Sale, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sale.Code = domain.SaleCode(len(s.sales) + 1)
	if _, exists := s.salesByCode[sale.Code]; exists {
		return nil, store.ErrDuplicate
	}
	s.appendLocked(exits, sale.Code)
	s.sales = append(s.sales, cloneSale(sale))
	s.salesByCode[sale.Code] = len(s.sales) - 1

	out := cloneSale(sale)
	return &out, nil
}

func (s *Store) GetSale(_ context.Context, code string) (*domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	idx, ok := s.salesByCode[code]
	if !ok {
		return nil, store.ErrNotFound
	}
	out := cloneSale(s.sales[idx])
	return &out, nil
}

func (s *Store) ListSales(_ context.Context, limit int) ([]domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Sale, 0, len(s.sales))
	for i := len(s.sales) - 1; i >= 0; i-- {
		out = append(out, cloneSale(s.sales[i]))
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (s *Store) CountSales(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.sales), nil
}

func (s *Store) MarkSaleReversed(_ context.Context, code string, entries []domain.Movement, at time.Time) (*domain.Sale, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx, ok := s.salesByCode[code]
	if !ok {
		return nil, store.ErrNotFound
	}
	sale := s.sales[idx]
	if sale.Reversed {
		return nil, domain.ErrAlreadyReversed
	}
	s.appendLocked(entries, code)
	reversedAt := at.UTC()
	sale.Reversed = true
	sale.ReversedAt = &reversedAt
	s.sales[idx] = sale

	out := cloneSale(sale)
	return &out, nil
}

func (s *Store) CreateAuditLog(_ context.Context, entry domain.AuditLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.auditLogs = append(s.auditLogs, entry)
	return nil
}

func (s *Store) ListAuditLogs(_ context.Context, limit int) ([]domain.AuditLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.AuditLog, 0, len(s.auditLogs))
	for i := len(s.auditLogs) - 1; i >= 0; i-- {
		out = append(out, s.auditLogs[i])
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (s *Store) GetUser(_ context.Context, username string) (*domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.usersByUsername[username]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &u, nil
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.usersByUsername[user.Username]; exists {
		return store.ErrDuplicate
	}
	s.usersByUsername[user.Username] = user
	return nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.UserAccount, 0, len(s.usersByUsername))
	for _, u := range s.usersByUsername {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Username < out[j].Username })
	return out, nil
}

func (s *Store) UpdateUserPassword(_ context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.usersByUsername[username]
	if !ok {
		return store.ErrNotFound
	}
	u.Password = password
	s.usersByUsername[username] = u
	return nil
}

func cloneSale(sale domain.Sale) domain.Sale {
	out := sale
	out.Lines = make([]domain.SaleLine, len(sale.Lines))
	for i, line := range sale.Lines {
		line.Allocations = slices.Clone(line.Allocations)
		out.Lines[i] = line
	}
	if sale.ReversedAt != nil {
		at := *sale.ReversedAt
		out.ReversedAt = &at
	}
	return out
}

func envOr(key string, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
