package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"queijaria/backend/internal/xid"
)

var validate = validator.New()

func validateStruct(v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	parts := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		parts = append(parts, fmt.Sprintf("%s failed %q", strings.ToLower(fe.Field()), fe.Tag()))
	}
	return fmt.Errorf("%w: %s", ErrValidation, strings.Join(parts, ", "))
}

// NewProduct is the only way a Product enters the catalog.
func NewProduct(req ProductCreateRequest, now time.Time) (Product, error) {
	req.Name = strings.TrimSpace(req.Name)
	req.Category = strings.TrimSpace(req.Category)
	req.Unit = strings.TrimSpace(req.Unit)
	if err := validateStruct(req); err != nil {
		return Product{}, err
	}

	cost := RoundMoney(req.CostPrice)
	sell := RoundMoney(req.SellPrice)
	if cost.IsNegative() {
		return Product{}, fmt.Errorf("%w: cost price must not be negative", ErrValidation)
	}
	if !sell.GreaterThan(cost) {
		return Product{}, fmt.Errorf("%w: sell price must be greater than cost price", ErrValidation)
	}
	if req.AvgWeight.IsNegative() {
		return Product{}, fmt.Errorf("%w: average weight must not be negative", ErrValidation)
	}

	return Product{
		ID:            xid.New("PROD"),
		Name:          req.Name,
		Category:      req.Category,
		Unit:          req.Unit,
		AvgWeight:     RoundQty(req.AvgWeight),
		CostPrice:     cost,
		SellPrice:     sell,
		MarginPercent: MarginPercent(cost, sell),
		Quantity:      decimal.Zero,
		CreatedAt:     now.UTC(),
	}, nil
}

func NewCustomer(req CustomerCreateRequest, now time.Time) (Customer, error) {
	req.Name = strings.TrimSpace(req.Name)
	req.Phone = digitsOnly(req.Phone)
	req.TaxID = digitsOnly(req.TaxID)
	if err := validateStruct(req); err != nil {
		return Customer{}, err
	}
	return Customer{
		ID:        xid.New("CLI"),
		Name:      req.Name,
		Phone:     req.Phone,
		TaxID:     req.TaxID,
		CreatedAt: now.UTC(),
	}, nil
}

// MovementInput carries the fields of a movement before validation.
type MovementInput struct {
	Date     time.Time
	Product  string
	Kind     MovementKind
	Quantity decimal.Decimal
	Unit     string
	Batch    string
	Note     string
	SaleCode string
}

// NewMovement validates and normalizes a ledger record. An empty batch becomes NoBatch.
func NewMovement(in MovementInput) (Movement, error) {
	product := strings.TrimSpace(in.Product)
	if product == "" {
		return Movement{}, fmt.Errorf("%w: movement product is required", ErrValidation)
	}
	if !in.Kind.Valid() {
		return Movement{}, fmt.Errorf("%w: movement kind is required", ErrValidation)
	}
	if in.Date.IsZero() {
		return Movement{}, fmt.Errorf("%w: movement date is required", ErrValidation)
	}
	qty := RoundQty(in.Quantity)
	if !qty.IsPositive() {
		return Movement{}, fmt.Errorf("%w: movement quantity must be positive", ErrValidation)
	}
	batch := strings.TrimSpace(in.Batch)
	if batch == "" {
		batch = NoBatch
	}

	return Movement{
		ID:        xid.New("MOV"),
		Date:      in.Date.UTC(),
		Product:   product,
		Kind:      in.Kind,
		Quantity:  qty,
		Unit:      strings.TrimSpace(in.Unit),
		Batch:     batch,
		Note:      strings.TrimSpace(in.Note),
		SaleCode:  in.SaleCode,
		CreatedAt: time.Now().UTC(),
	}, nil
}

// ParseMovementDate accepts a calendar date (2006-01-02) or an RFC 3339 timestamp.
func ParseMovementDate(raw string, fallback time.Time) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fallback.UTC(), nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse(time.DateOnly, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: invalid date %q", ErrValidation, raw)
	}
	return t.UTC(), nil
}

func digitsOnly(s string) string {
	var b strings.Builder
	for _, r := range s {
		if unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}
