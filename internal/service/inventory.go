package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"queijaria/backend/internal/cache"
	"queijaria/backend/internal/domain"
	"queijaria/backend/internal/ledger"
	"queijaria/backend/internal/store"
)

// ListMovements returns the ledger in chronological order, optionally for one product.
func (s *Service) ListMovements(ctx context.Context, product string) ([]domain.Movement, error) {
	all, err := s.ledger.All(ctx)
	if err != nil {
		return nil, err
	}
	product = strings.TrimSpace(product)
	if product == "" {
		return all, nil
	}
	out := make([]domain.Movement, 0)
	for _, m := range all {
		if m.Product == product {
			out = append(out, m)
		}
	}
	return out, nil
}

// RecordMovement appends a manual stock movement. Entries go straight in. An exit
// naming a batch must fit in that batch; an exit without one is spread over the
// FIFO queue and needs ApproveOverdraft when the queue cannot cover it.
func (s *Service) RecordMovement(ctx context.Context, req domain.MovementCreateRequest) (domain.MovementResponse, error) {
	kind, err := domain.ParseMovementKind(req.Kind)
	if err != nil {
		return domain.MovementResponse{}, err
	}
	date, err := domain.ParseMovementDate(req.Date, time.Now())
	if err != nil {
		return domain.MovementResponse{}, err
	}
	if err := domain.CheckOperatorBatch(req.Batch); err != nil {
		return domain.MovementResponse{}, err
	}
	product, err := s.product(ctx, req.Product)
	if err != nil {
		return domain.MovementResponse{}, err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	var pending []domain.Movement
	shortfall := decimal.Zero
	switch kind {
	case domain.Entry:
		m, err := domain.NewMovement(domain.MovementInput{
			Date: date, Product: product.Name, Kind: domain.Entry, Quantity: req.Quantity,
			Unit: product.Unit, Batch: req.Batch, Note: req.Note,
		})
		if err != nil {
			return domain.MovementResponse{}, err
		}
		pending = []domain.Movement{m}
	case domain.Exit:
		book, err := s.ledger.Book(ctx)
		if err != nil {
			return domain.MovementResponse{}, err
		}
		alloc, err := ledger.Allocate(book, ledger.AllocationRequest{
			Product: product.Name, Quantity: req.Quantity, Batch: req.Batch,
			Date: date, Unit: product.Unit, Note: req.Note,
		})
		if err != nil {
			s.recordRejection(err)
			return domain.MovementResponse{}, err
		}
		if alloc.HasShortfall() {
			if !req.ApproveOverdraft {
				err := &domain.ShortfallError{
					Product: product.Name, Requested: alloc.Requested,
					Available: alloc.Allocated(), Shortfall: alloc.Shortfall,
				}
				s.recordRejection(err)
				return domain.MovementResponse{}, err
			}
			shortfall = alloc.Shortfall
			if alloc, err = alloc.WithOverdraft(); err != nil {
				return domain.MovementResponse{}, err
			}
			s.logger.WithFields(log.Fields{
				"product":   product.Name,
				"shortfall": shortfall.String(),
			}).Warn("manual exit approved past available stock")
		}
		pending = alloc.Exits
	}

	written, err := s.ledger.AppendBatch(ctx, pending)
	if err != nil {
		return domain.MovementResponse{}, err
	}

	onHand, err := s.OnHand(ctx, product.Name)
	if err != nil {
		return domain.MovementResponse{}, err
	}
	s.logAudit(ctx, "record_movement", "product", product.Name,
		fmt.Sprintf("kind=%s,quantity=%s,batch=%s,movements=%d", kind, domain.RoundQty(req.Quantity).String(), req.Batch, len(written)))

	return domain.MovementResponse{Movements: written, Shortfall: shortfall, OnHand: onHand}, nil
}

func (s *Service) OnHand(ctx context.Context, product string) (decimal.Decimal, error) {
	book, err := s.ledger.Book(ctx)
	if err != nil {
		return decimal.Zero, err
	}
	return book.OnHand(product), nil
}

func (s *Service) BatchBalances(ctx context.Context, product string) (map[string]decimal.Decimal, error) {
	book, err := s.ledger.Book(ctx)
	if err != nil {
		return nil, err
	}
	return book.BatchBalances(product), nil
}

// Inventory describes one product's stock. Products known only to the ledger are
// reported with Missing set; a name found nowhere is ErrProductNotFound.
func (s *Service) Inventory(ctx context.Context, name string) (domain.InventoryView, error) {
	name = strings.TrimSpace(name)
	book, err := s.ledger.Book(ctx)
	if err != nil {
		return domain.InventoryView{}, err
	}

	product, err := s.repo.GetProduct(ctx, name)
	switch {
	case errors.Is(err, store.ErrNotFound):
		if _, seen := book.LastMovement(name); !seen {
			return domain.InventoryView{}, &domain.ProductNotFoundError{Name: name}
		}
		return inventoryView(book, name, "", true), nil
	case err != nil:
		return domain.InventoryView{}, err
	}
	return inventoryView(book, product.Name, product.Unit, false), nil
}

// InventoryAll covers every catalog product plus every name left behind in the ledger.
func (s *Service) InventoryAll(ctx context.Context) ([]domain.InventoryView, error) {
	book, err := s.ledger.Book(ctx)
	if err != nil {
		return nil, err
	}
	catalog, err := s.catalogByName(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]domain.InventoryView, 0, len(catalog))
	for _, name := range productNames(book, catalog) {
		product, known := catalog[name]
		out = append(out, inventoryView(book, name, product.Unit, !known))
	}
	return out, nil
}

// TotalInventoryValue sums on hand times cost price. Ledger entries whose product is
// gone from the catalog are valued at zero and listed instead of failing the query.
func (s *Service) TotalInventoryValue(ctx context.Context) (domain.Valuation, error) {
	book, err := s.ledger.Book(ctx)
	if err != nil {
		return domain.Valuation{}, err
	}
	catalog, err := s.catalogByName(ctx)
	if err != nil {
		return domain.Valuation{}, err
	}
	return valuation(book, catalog), nil
}

func valuation(book *ledger.Book, catalog map[string]domain.Product) domain.Valuation {
	result := domain.Valuation{Total: decimal.Zero, Items: []domain.ValuationItem{}, MissingProducts: []string{}}
	for _, name := range productNames(book, catalog) {
		onHand := book.OnHand(name)
		product, known := catalog[name]
		if !known {
			result.MissingProducts = append(result.MissingProducts, name)
			result.Items = append(result.Items, domain.ValuationItem{
				Product: name, OnHand: onHand, UnitCost: decimal.Zero, Value: decimal.Zero, Missing: true,
			})
			continue
		}
		value := domain.RoundMoney(onHand.Mul(product.CostPrice))
		result.Items = append(result.Items, domain.ValuationItem{
			Product: name, OnHand: onHand, UnitCost: product.CostPrice, Value: value,
		})
		result.Total = result.Total.Add(value)
	}
	result.Total = domain.RoundMoney(result.Total)
	return result
}

// Dashboard summarizes the shop. Summaries are cached under the ledger stamp and the
// catalog version, so a write is visible on the next call.
func (s *Service) Dashboard(ctx context.Context) (domain.DashboardSummary, error) {
	stamp, err := s.ledger.LastModified(ctx)
	if err != nil {
		return domain.DashboardSummary{}, err
	}
	version, err := s.repo.CatalogVersion(ctx)
	if err != nil {
		return domain.DashboardSummary{}, err
	}
	key := cache.DashboardKey(stamp, version)

	if cached, ok, err := s.cache.Get(ctx, key); err != nil {
		s.logger.WithError(err).Warn("dashboard cache read failed")
	} else if ok {
		return *cached, nil
	}

	customers, err := s.repo.ListCustomers(ctx)
	if err != nil {
		return domain.DashboardSummary{}, err
	}
	sales, err := s.repo.CountSales(ctx)
	if err != nil {
		return domain.DashboardSummary{}, err
	}
	book, err := s.ledger.Book(ctx)
	if err != nil {
		return domain.DashboardSummary{}, err
	}
	catalog, err := s.catalogByName(ctx)
	if err != nil {
		return domain.DashboardSummary{}, err
	}

	totalStock := decimal.Zero
	for name := range catalog {
		totalStock = totalStock.Add(book.OnHand(name))
	}

	summary := domain.DashboardSummary{
		Customers:      len(customers),
		Products:       len(catalog),
		TotalStock:     domain.RoundQty(totalStock),
		Sales:          sales,
		InventoryValue: valuation(book, catalog).Total,
		LastModified:   stamp,
	}
	if err := s.cache.Set(ctx, key, &summary, s.dashboardTTL); err != nil {
		s.logger.WithError(err).Warn("dashboard cache write failed")
	}
	return summary, nil
}

func (s *Service) product(ctx context.Context, name string) (*domain.Product, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: product is required", domain.ErrValidation)
	}
	product, err := s.repo.GetProduct(ctx, name)
	if errors.Is(err, store.ErrNotFound) {
		return nil, &domain.ProductNotFoundError{Name: name}
	}
	return product, err
}

func (s *Service) catalogByName(ctx context.Context) (map[string]domain.Product, error) {
	products, err := s.repo.ListProducts(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[string]domain.Product, len(products))
	for _, p := range products {
		out[p.Name] = p
	}
	return out, nil
}

func (s *Service) recordRejection(err error) {
	switch {
	case errors.Is(err, domain.ErrInsufficientBatchStock):
		s.metrics.RecordStockRejection("batch")
	case errors.Is(err, domain.ErrInsufficientStock):
		s.metrics.RecordStockRejection("total")
	}
}

func productNames(book *ledger.Book, catalog map[string]domain.Product) []string {
	seen := make(map[string]struct{}, len(catalog))
	names := make([]string, 0, len(catalog))
	for name := range catalog {
		seen[name] = struct{}{}
		names = append(names, name)
	}
	for _, name := range book.Products() {
		if _, ok := seen[name]; !ok {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

func inventoryView(book *ledger.Book, name, unit string, missing bool) domain.InventoryView {
	view := domain.InventoryView{
		Product: name,
		Unit:    unit,
		OnHand:  book.OnHand(name),
		Batches: book.Batches(name),
		Queue:   book.FIFOQueue(name),
		Missing: missing,
	}
	if last, ok := book.LastMovement(name); ok {
		view.LastMovement = &last
	}
	return view
}
