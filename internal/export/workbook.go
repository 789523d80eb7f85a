// Package export renders the ledger, stock balances and sales as an XLSX workbook.
package export

import (
	"fmt"
	"io"
	"time"

	"github.com/xuri/excelize/v2"

	"queijaria/backend/internal/domain"
)

const (
	SheetMovements = "Movements"
	SheetStock     = "Stock"
	SheetSales     = "Sales"

	ContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
)

type Snapshot struct {
	Movements []domain.Movement
	Inventory []domain.InventoryView
	Sales     []domain.Sale
}

// Write encodes snap as a workbook with one sheet per record kind.
func Write(w io.Writer, snap Snapshot) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", SheetMovements); err != nil {
		return err
	}
	for _, name := range []string{SheetStock, SheetSales} {
		if _, err := f.NewSheet(name); err != nil {
			return err
		}
	}

	movementRows := make([][]any, 0, len(snap.Movements))
	for _, m := range snap.Movements {
		movementRows = append(movementRows, []any{
			m.Seq, m.Date.Format(time.DateOnly), m.Product, m.Kind.String(),
			m.Quantity.InexactFloat64(), m.Unit, m.Batch, m.SaleCode, m.Note,
		})
	}
	if err := writeSheet(f, SheetMovements,
		[]any{"Seq", "Date", "Product", "Kind", "Quantity", "Unit", "Batch", "Sale", "Note"},
		movementRows); err != nil {
		return err
	}

	var stockRows [][]any
	for _, inv := range snap.Inventory {
		last := ""
		if inv.LastMovement != nil {
			last = inv.LastMovement.Format(time.DateOnly)
		}
		if len(inv.Batches) == 0 {
			stockRows = append(stockRows, []any{inv.Product, "", 0.0, inv.OnHand.InexactFloat64(), last})
			continue
		}
		for _, b := range inv.Batches {
			stockRows = append(stockRows, []any{inv.Product, b.Batch, b.Quantity.InexactFloat64(), inv.OnHand.InexactFloat64(), last})
		}
	}
	if err := writeSheet(f, SheetStock,
		[]any{"Product", "Batch", "Batch balance", "On hand", "Last movement"},
		stockRows); err != nil {
		return err
	}

	saleRows := make([][]any, 0, len(snap.Sales))
	for _, s := range snap.Sales {
		saleRows = append(saleRows, []any{
			s.Code, s.Timestamp.Format(time.RFC3339), s.Customer, len(s.Lines),
			s.Subtotal.InexactFloat64(), s.DiscountPercent.InexactFloat64(), s.DiscountAmount.InexactFloat64(),
			s.Total.InexactFloat64(), s.TotalMargin.InexactFloat64(), s.PaymentMethod, s.Reversed,
		})
	}
	if err := writeSheet(f, SheetSales,
		[]any{"Code", "Timestamp", "Customer", "Lines", "Subtotal", "Discount %", "Discount", "Total", "Margin", "Payment", "Reversed"},
		saleRows); err != nil {
		return err
	}

	f.SetActiveSheet(0)
	return f.Write(w)
}

func writeSheet(f *excelize.File, sheet string, header []any, rows [][]any) error {
	if err := f.SetSheetRow(sheet, "A1", &header); err != nil {
		return fmt.Errorf("%s header: %w", sheet, err)
	}
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return fmt.Errorf("%s row %d: %w", sheet, i+1, err)
		}
	}
	return nil
}
