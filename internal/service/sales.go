package service

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"queijaria/backend/internal/domain"
	"queijaria/backend/internal/export"
	"queijaria/backend/internal/sale"
)

// CheckSaleLine validates one more line against a draft the client holds. The staged
// lines are re-checked in order, so an answer reflects the ledger as it is now.
func (s *Service) CheckSaleLine(ctx context.Context, req domain.SaleLineCheckRequest) (domain.SaleLineCheckResponse, error) {
	var draft sale.Draft
	for i, staged := range req.Staged {
		if _, err := s.builder.AddLine(ctx, &draft, toLine(staged, false)); err != nil {
			s.recordRejection(err)
			return domain.SaleLineCheckResponse{}, fmt.Errorf("staged line %d: %w", i+1, err)
		}
	}
	available, err := s.builder.AddLine(ctx, &draft, toLine(req.Line, false))
	if err != nil {
		s.recordRejection(err)
		return domain.SaleLineCheckResponse{}, err
	}
	return domain.SaleLineCheckResponse{
		Accepted:  true,
		Lines:     fromLines(draft.Lines()),
		Available: available,
	}, nil
}

// FinalizeSale commits a sale. Shortfalls are sold against the overdraft batch only
// when the request or the line approves them, or when approver says yes.
func (s *Service) FinalizeSale(ctx context.Context, req domain.SaleFinalizeRequest, approver sale.OverdraftApprover) (*domain.Sale, error) {
	if len(req.Lines) == 0 {
		return nil, fmt.Errorf("%w: sale has no lines", domain.ErrValidation)
	}
	lines := make([]sale.Line, 0, len(req.Lines))
	for _, line := range req.Lines {
		lines = append(lines, toLine(line, req.ApproveOverdraft))
	}
	actor, _ := ActorFromContext(ctx)

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	started := time.Now()

	committed, err := s.builder.Finalize(ctx, sale.NewDraft(lines...), sale.Checkout{
		Customer:        req.Customer,
		DiscountPercent: req.DiscountPercent,
		PaymentMethod:   req.PaymentMethod,
		CreatedBy:       actor.Username,
	}, approver)
	if err != nil {
		s.recordRejection(err)
		return nil, err
	}
	s.metrics.RecordSaleFinalized(time.Since(started))

	s.logger.WithFields(log.Fields{
		"code":  committed.Code,
		"total": committed.Total.StringFixed(2),
		"lines": len(committed.Lines),
	}).Info("sale finalized")
	s.logAudit(ctx, "finalize_sale", "sale", committed.Code,
		fmt.Sprintf("total=%s,payment=%s,discount=%s,lines=%d",
			committed.Total.StringFixed(2), committed.PaymentMethod, committed.DiscountPercent.String(), len(committed.Lines)))
	return committed, nil
}

func (s *Service) ReverseSale(ctx context.Context, req domain.SaleReverseRequest) (domain.SaleReverseResponse, error) {
	code := strings.ToUpper(strings.TrimSpace(req.Code))
	if code == "" {
		return domain.SaleReverseResponse{}, fmt.Errorf("%w: sale code is required", domain.ErrValidation)
	}
	reason := strings.TrimSpace(req.Reason)
	if reason == "" {
		reason = "unspecified"
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	reversed, entries, err := s.reverser.Reverse(ctx, code)
	if err != nil {
		return domain.SaleReverseResponse{}, err
	}
	s.metrics.RecordSaleReversed()
	s.logAudit(ctx, "reverse_sale", "sale", code, fmt.Sprintf("reason=%s,entries=%d", reason, len(entries)))

	resp := domain.SaleReverseResponse{Code: reversed.Code, Reversed: reversed.Reversed, Entries: entries}
	if reversed.ReversedAt != nil {
		resp.ReversedAt = *reversed.ReversedAt
	}
	return resp, nil
}

func (s *Service) GetSale(ctx context.Context, code string) (*domain.Sale, error) {
	return s.repo.GetSale(ctx, strings.ToUpper(strings.TrimSpace(code)))
}

func (s *Service) ListSales(ctx context.Context, limit int) ([]domain.Sale, error) {
	return s.repo.ListSales(ctx, limit)
}

// ExportLedger writes the ledger, current balances and sales as an XLSX workbook.
func (s *Service) ExportLedger(ctx context.Context, w io.Writer) error {
	if err := requireAdmin(ctx); err != nil {
		return err
	}
	movements, err := s.ledger.All(ctx)
	if err != nil {
		return err
	}
	inventory, err := s.InventoryAll(ctx)
	if err != nil {
		return err
	}
	sales, err := s.repo.ListSales(ctx, 0)
	if err != nil {
		return err
	}
	return export.Write(w, export.Snapshot{Movements: movements, Inventory: inventory, Sales: sales})
}

func toLine(req domain.SaleLineRequest, approved bool) sale.Line {
	return sale.Line{
		Product:        req.Product,
		Batch:          req.Batch,
		Quantity:       req.Quantity,
		AllowOverdraft: req.AllowOverdraft || approved,
	}
}

func fromLines(lines []sale.Line) []domain.SaleLineRequest {
	out := make([]domain.SaleLineRequest, 0, len(lines))
	for _, l := range lines {
		out = append(out, domain.SaleLineRequest{
			Product: l.Product, Quantity: l.Quantity, Batch: l.Batch, AllowOverdraft: l.AllowOverdraft,
		})
	}
	return out
}
