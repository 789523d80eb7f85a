package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"queijaria/backend/internal/cache"
	"queijaria/backend/internal/domain"
	"queijaria/backend/internal/ledger"
	"queijaria/backend/internal/metrics"
	"queijaria/backend/internal/sale"
	"queijaria/backend/internal/store"
	"queijaria/backend/internal/xid"
)

var ErrForbidden = errors.New("admin role required")

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

type Options struct {
	Cache        cache.DashboardCache
	DashboardTTL time.Duration
	Metrics      *metrics.LedgerMetrics
	Logger       *log.Entry
}

type Service struct {
	repo     store.Repository
	ledger   *ledger.Ledger
	builder  *sale.Builder
	reverser *sale.Reverser

	cache        cache.DashboardCache
	dashboardTTL time.Duration
	metrics      *metrics.LedgerMetrics
	logger       *log.Entry

	// writeMu serializes everything that appends to the ledger, so a sale is
	// allocated against the same balances it commits on top of.
	writeMu sync.Mutex
}

func New(repo store.Repository, opts Options) *Service {
	if opts.Cache == nil {
		opts.Cache = cache.NoopDashboardCache{}
	}
	if opts.DashboardTTL <= 0 {
		opts.DashboardTTL = 30 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = log.WithField("component", "service")
	}

	l := ledger.New(repo)
	s := &Service{
		repo:         repo,
		ledger:       l,
		builder:      sale.NewBuilder(l, repo, repo),
		reverser:     sale.NewReverser(l, repo),
		cache:        opts.Cache,
		dashboardTTL: opts.DashboardTTL,
		metrics:      opts.Metrics,
		logger:       opts.Logger,
	}
	l.OnChange(s.refreshQuantities)
	l.OnChange(func(_ context.Context, written []domain.Movement) {
		s.metrics.RecordMovements(written)
	})
	return s
}

func (s *Service) Ledger() *ledger.Ledger {
	return s.ledger
}

func (s *Service) ListProducts(ctx context.Context) ([]domain.Product, error) {
	return s.repo.ListProducts(ctx)
}

func (s *Service) CreateProduct(ctx context.Context, req domain.ProductCreateRequest) (domain.Product, error) {
	if err := requireAdmin(ctx); err != nil {
		return domain.Product{}, err
	}

	product, err := domain.NewProduct(req, time.Now())
	if err != nil {
		return domain.Product{}, err
	}

	// A name can come back after a delete; its old movements still count.
	book, err := s.ledger.Book(ctx)
	if err != nil {
		return domain.Product{}, err
	}
	product.Quantity = book.OnHand(product.Name)

	created, err := s.repo.CreateProduct(ctx, product)
	if err != nil {
		return domain.Product{}, err
	}

	s.logAudit(ctx, "create_product", "product", created.Name,
		fmt.Sprintf("cost=%s,sell=%s,margin=%s", created.CostPrice.StringFixed(2), created.SellPrice.StringFixed(2), created.MarginPercent.StringFixed(2)))
	return *created, nil
}

// DeleteProduct removes the catalog entry only. Its movements stay in the ledger and
// are reported as missing by valuation.
func (s *Service) DeleteProduct(ctx context.Context, name string) error {
	if err := requireAdmin(ctx); err != nil {
		return err
	}
	if err := s.repo.DeleteProduct(ctx, name); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return &domain.ProductNotFoundError{Name: name}
		}
		return err
	}
	s.logAudit(ctx, "delete_product", "product", name, "")
	return nil
}

func (s *Service) ListCustomers(ctx context.Context) ([]domain.Customer, error) {
	return s.repo.ListCustomers(ctx)
}

func (s *Service) CreateCustomer(ctx context.Context, req domain.CustomerCreateRequest) (domain.Customer, error) {
	customer, err := domain.NewCustomer(req, time.Now())
	if err != nil {
		return domain.Customer{}, err
	}
	created, err := s.repo.CreateCustomer(ctx, customer)
	if err != nil {
		return domain.Customer{}, err
	}
	s.logAudit(ctx, "create_customer", "customer", created.ID, created.Name)
	return *created, nil
}

func (s *Service) DeleteCustomer(ctx context.Context, id string) error {
	if err := s.repo.DeleteCustomer(ctx, id); err != nil {
		return err
	}
	s.logAudit(ctx, "delete_customer", "customer", id, "")
	return nil
}

func (s *Service) ListAuditLogs(ctx context.Context, limit int) ([]domain.AuditLog, error) {
	if err := requireAdmin(ctx); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 100
	}
	return s.repo.ListAuditLogs(ctx, limit)
}

// refreshQuantities rewrites the cached quantity of every product the written
// movements touched. The ledger stays authoritative; a failure here only leaves
// the cached value stale until the next write.
func (s *Service) refreshQuantities(ctx context.Context, written []domain.Movement) {
	touched := make(map[string]struct{}, len(written))
	for _, m := range written {
		touched[m.Product] = struct{}{}
	}
	if len(touched) == 0 {
		return
	}

	book, err := s.ledger.Book(ctx)
	if err != nil {
		s.logger.WithError(err).Warn("failed to replay ledger for quantity refresh")
		return
	}

	names := make([]string, 0, len(touched))
	for name := range touched {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		err := s.repo.SetProductQuantity(ctx, name, book.OnHand(name))
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			s.logger.WithError(err).WithField("product", name).Warn("failed to refresh cached quantity")
		}
	}
}

func (s *Service) logAudit(ctx context.Context, action string, entityType string, entityID string, detail string) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		actor = domain.Actor{Username: "system", Role: "system"}
	}

	if err := s.repo.CreateAuditLog(ctx, domain.AuditLog{
		ID:            xid.New("AUD"),
		ActorUsername: actor.Username,
		ActorRole:     actor.Role,
		Action:        action,
		EntityType:    entityType,
		EntityID:      entityID,
		Detail:        detail,
		CreatedAt:     time.Now().UTC(),
	}); err != nil {
		s.logger.WithError(err).WithFields(log.Fields{
			"action": action,
			"entity": entityType + "/" + entityID,
		}).Warn("failed to write audit log")
	}
}

func requireAdmin(ctx context.Context) error {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != domain.RoleAdmin {
		return ErrForbidden
	}
	return nil
}
