package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"
	"github.com/shopspring/decimal"

	"queijaria/backend/internal/domain"
	"queijaria/backend/internal/sale"
)

type BalancesCmd struct {
	Product string `arg:"" optional:"" help:"Limit the report to one product."`
}

func (cmd *BalancesCmd) Run(app *App) error {
	var views []domain.InventoryView
	if strings.TrimSpace(cmd.Product) != "" {
		view, err := app.svc.Inventory(app.ctx, cmd.Product)
		if err != nil {
			return err
		}
		views = []domain.InventoryView{view}
	} else {
		all, err := app.svc.InventoryAll(app.ctx)
		if err != nil {
			return err
		}
		views = all
	}

	for _, view := range views {
		title := view.Product
		if view.Missing {
			title += " " + warnStyle.Render("(not in catalog)")
		}
		_, _ = fmt.Fprintf(app.out, "%s  %s %s\n", headerStyle.Render(title), view.OnHand.String(), view.Unit)
		for _, b := range view.Batches {
			_, _ = fmt.Fprintf(app.out, "  %-16s %12s\n", b.Batch, b.Quantity.String())
		}
	}

	if strings.TrimSpace(cmd.Product) != "" {
		return nil
	}
	value, err := app.svc.TotalInventoryValue(app.ctx)
	if err != nil {
		return err
	}
	printInfof(app.out, "inventory value %s", value.Total.StringFixed(2))
	if len(value.MissingProducts) > 0 {
		printInfof(app.out, "not in catalog: %s", strings.Join(value.MissingProducts, ", "))
	}
	return nil
}

type SellCmd struct {
	Lines    []string `name:"line" short:"l" required:"" help:"Sale line as product:quantity[:batch]. Repeat for more lines."`
	Discount string   `help:"Discount percent applied to the subtotal." default:"0"`
	Payment  string   `help:"Payment method (cash, card, pix, credit)." default:"cash"`
	Customer string   `help:"Customer name; empty records a walk-in customer."`
	Yes      bool     `short:"y" help:"Sell past available stock without asking."`
}

func (cmd *SellCmd) Run(app *App) error {
	req := domain.SaleFinalizeRequest{
		Customer:         cmd.Customer,
		PaymentMethod:    cmd.Payment,
		ApproveOverdraft: cmd.Yes,
	}
	discount, err := decimal.NewFromString(strings.TrimSpace(cmd.Discount))
	if err != nil {
		return fmt.Errorf("%w: invalid discount %q", domain.ErrValidation, cmd.Discount)
	}
	req.DiscountPercent = discount
	for _, raw := range cmd.Lines {
		line, err := parseLine(raw)
		if err != nil {
			return err
		}
		req.Lines = append(req.Lines, line)
	}

	var approver sale.OverdraftApprover = sale.DeclineOverdraft
	if app.interactive {
		approver = sale.ApproveFunc(confirmOverdraft)
	}

	committed, err := app.svc.FinalizeSale(app.ctx, req, approver)
	if err != nil {
		var short *domain.ShortfallError
		if errors.As(err, &short) {
			printError(app.out, fmt.Sprintf("%s is short by %s; rerun with --yes to sell anyway", short.Product, short.Shortfall))
		}
		return err
	}

	printSuccess(app.out, fmt.Sprintf("sale %s recorded", codeStyle.Render(committed.Code)))
	for _, line := range committed.Lines {
		_, _ = fmt.Fprintf(app.out, "  %-24s %10s x %8s = %10s\n",
			line.Product, line.Quantity.String(), line.UnitPrice.StringFixed(2), line.LineTotal.StringFixed(2))
	}
	printInfof(app.out, "subtotal %s  discount %s  total %s",
		committed.Subtotal.StringFixed(2), committed.DiscountAmount.StringFixed(2), committed.Total.StringFixed(2))
	return nil
}

type ReverseCmd struct {
	Code   string `arg:"" help:"Sale code, e.g. VEN-0001."`
	Reason string `help:"Why the sale is reversed."`
}

func (cmd *ReverseCmd) Run(app *App) error {
	resp, err := app.svc.ReverseSale(app.ctx, domain.SaleReverseRequest{Code: cmd.Code, Reason: cmd.Reason})
	if err != nil {
		return err
	}
	printSuccess(app.out, fmt.Sprintf("sale %s reversed, %d entries restored", codeStyle.Render(resp.Code), len(resp.Entries)))
	return nil
}

type ExportCmd struct {
	Out string `short:"o" help:"Destination file." default:"ledger.xlsx" type:"path"`
}

func (cmd *ExportCmd) Run(app *App) error {
	var buf bytes.Buffer
	if err := app.svc.ExportLedger(app.ctx, &buf); err != nil {
		return err
	}
	if err := os.WriteFile(cmd.Out, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", cmd.Out, err)
	}
	printSuccess(app.out, "exported to "+pathStyle.Render(cmd.Out))
	return nil
}

// parseLine reads product:quantity[:batch]. Product names may contain colons, so the
// fields are taken from the right; a three-part reading wins over a two-part one.
func parseLine(raw string) (domain.SaleLineRequest, error) {
	parts := strings.Split(strings.TrimSpace(raw), ":")
	n := len(parts)
	if n >= 3 {
		if qty, err := decimal.NewFromString(strings.TrimSpace(parts[n-2])); err == nil {
			product := strings.TrimSpace(strings.Join(parts[:n-2], ":"))
			batch := strings.TrimSpace(parts[n-1])
			if product != "" && batch != "" {
				return domain.SaleLineRequest{Product: product, Quantity: qty, Batch: batch}, nil
			}
		}
	}
	if n >= 2 {
		if qty, err := decimal.NewFromString(strings.TrimSpace(parts[n-1])); err == nil {
			product := strings.TrimSpace(strings.Join(parts[:n-1], ":"))
			if product != "" {
				return domain.SaleLineRequest{Product: product, Quantity: qty}, nil
			}
		}
	}
	return domain.SaleLineRequest{}, fmt.Errorf("%w: line %q must look like product:quantity[:batch]", domain.ErrValidation, raw)
}

func confirmOverdraft(_ context.Context, product string, shortfall decimal.Decimal) bool {
	var confirm bool
	form := huh.NewConfirm().
		Title(fmt.Sprintf("%s is short by %s. Sell anyway?", product, shortfall.String())).
		Affirmative("Sell").
		Negative("Cancel").
		WithButtonAlignment(lipgloss.Left).
		Value(&confirm)
	if err := form.Run(); err != nil {
		return false
	}
	return confirm
}
