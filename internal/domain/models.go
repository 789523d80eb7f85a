package domain

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

func init() {
	// Persisted and API shapes carry quantities and money as JSON numbers.
	decimal.MarshalJSONWithoutQuotes = true
}

// Sentinel batch labels.
const (
	NoBatch        = "NO-BATCH"
	OverdraftBatch = "OVERDRAFT"
	ReturnBatch    = "RETURN"
)

// IsReservedBatch reports whether label is a batch the ledger writes on its own.
// Operators can neither receive into nor pin one.
func IsReservedBatch(label string) bool {
	switch strings.ToUpper(strings.TrimSpace(label)) {
	case NoBatch, OverdraftBatch, ReturnBatch:
		return true
	default:
		return false
	}
}

// CheckOperatorBatch rejects reserved labels on batches typed by an operator.
// An empty label is fine: entries become NoBatch and exits follow FIFO.
func CheckOperatorBatch(label string) error {
	if IsReservedBatch(label) {
		return fmt.Errorf("%w: batch %q is reserved", ErrValidation, strings.TrimSpace(label))
	}
	return nil
}

const (
	AnonymousCustomer = "Walk-in customer"
	SaleCodePrefix    = "VEN-"
)

const (
	PaymentCash   = "cash"
	PaymentCard   = "card"
	PaymentPix    = "pix"
	PaymentCredit = "credit"
)

func IsSupportedPaymentMethod(method string) bool {
	switch method {
	case PaymentCash, PaymentCard, PaymentPix, PaymentCredit:
		return true
	default:
		return false
	}
}

// SaleCode formats the human-facing code of the n-th sale.
func SaleCode(n int) string {
	return fmt.Sprintf("%s%04d", SaleCodePrefix, n)
}

type MovementKind int

const (
	Entry MovementKind = iota + 1
	Exit
)

func (k MovementKind) String() string {
	switch k {
	case Entry:
		return "entry"
	case Exit:
		return "exit"
	default:
		return "unknown"
	}
}

func (k MovementKind) Valid() bool {
	return k == Entry || k == Exit
}

// ParseMovementKind accepts the English labels and the legacy "entrada"/"saida" ones.
func ParseMovementKind(raw string) (MovementKind, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "entry", "entrada":
		return Entry, nil
	case "exit", "saida", "saída":
		return Exit, nil
	default:
		return 0, fmt.Errorf("%w: unknown movement kind %q", ErrValidation, raw)
	}
}

func (k MovementKind) MarshalJSON() ([]byte, error) {
	if !k.Valid() {
		return nil, fmt.Errorf("%w: movement kind %d", ErrValidation, int(k))
	}
	return json.Marshal(k.String())
}

func (k *MovementKind) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	parsed, err := ParseMovementKind(raw)
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

func (k MovementKind) Value() (driver.Value, error) {
	if !k.Valid() {
		return nil, fmt.Errorf("%w: movement kind %d", ErrValidation, int(k))
	}
	return k.String(), nil
}

func (k *MovementKind) Scan(src any) error {
	var raw string
	switch v := src.(type) {
	case string:
		raw = v
	case []byte:
		raw = string(v)
	default:
		return fmt.Errorf("cannot scan %T into MovementKind", src)
	}
	parsed, err := ParseMovementKind(raw)
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

type Product struct {
	ID            string          `json:"id"`
	Name          string          `json:"name"`
	Category      string          `json:"category"`
	Unit          string          `json:"unit"`
	AvgWeight     decimal.Decimal `json:"avg_weight"`
	CostPrice     decimal.Decimal `json:"cost_price"`
	SellPrice     decimal.Decimal `json:"sell_price"`
	MarginPercent decimal.Decimal `json:"margin_percent"`
	// Quantity is a cached projection of the ledger, refreshed after every write.
	Quantity  decimal.Decimal `json:"quantity"`
	CreatedAt time.Time       `json:"created_at"`
}

type ProductCreateRequest struct {
	Name      string          `json:"name" validate:"required,max=120"`
	Category  string          `json:"category" validate:"max=60"`
	Unit      string          `json:"unit" validate:"required,max=16"`
	AvgWeight decimal.Decimal `json:"avg_weight"`
	CostPrice decimal.Decimal `json:"cost_price"`
	SellPrice decimal.Decimal `json:"sell_price"`
}

type Customer struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Phone     string    `json:"phone,omitempty"`
	TaxID     string    `json:"tax_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

type CustomerCreateRequest struct {
	Name  string `json:"name" validate:"required,max=120"`
	Phone string `json:"phone" validate:"omitempty,max=20"`
	TaxID string `json:"tax_id" validate:"omitempty,max=20"`
}

// Movement is one immutable ledger record. Seq is the insertion order assigned by the store.
type Movement struct {
	ID        string          `json:"id"`
	Seq       int64           `json:"seq"`
	Date      time.Time       `json:"date"`
	Product   string          `json:"product"`
	Kind      MovementKind    `json:"kind"`
	Quantity  decimal.Decimal `json:"quantity"`
	Unit      string          `json:"unit,omitempty"`
	Batch     string          `json:"batch"`
	Note      string          `json:"note,omitempty"`
	SaleCode  string          `json:"sale_code,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// Signed returns the quantity with exits negated.
func (m Movement) Signed() decimal.Decimal {
	if m.Kind == Exit {
		return m.Quantity.Neg()
	}
	return m.Quantity
}

type MovementCreateRequest struct {
	Product          string          `json:"product" validate:"required"`
	Kind             string          `json:"kind" validate:"required"`
	Quantity         decimal.Decimal `json:"quantity"`
	Batch            string          `json:"batch"`
	Note             string          `json:"note"`
	Date             string          `json:"date"`
	ApproveOverdraft bool            `json:"approve_overdraft"`
}

type MovementResponse struct {
	Movements []Movement      `json:"movements"`
	Shortfall decimal.Decimal `json:"shortfall"`
	OnHand    decimal.Decimal `json:"on_hand"`
}

type BatchBalance struct {
	Batch    string          `json:"batch"`
	Quantity decimal.Decimal `json:"quantity"`
}

type FIFOSlot struct {
	Batch     string          `json:"batch"`
	EntryDate time.Time       `json:"entry_date"`
	Remaining decimal.Decimal `json:"remaining"`
}

type InventoryView struct {
	Product      string          `json:"product"`
	Unit         string          `json:"unit,omitempty"`
	OnHand       decimal.Decimal `json:"on_hand"`
	Batches      []BatchBalance  `json:"batches"`
	Queue        []FIFOSlot      `json:"fifo_queue"`
	LastMovement *time.Time      `json:"last_movement,omitempty"`
	Missing      bool            `json:"missing_product,omitempty"`
}

type ValuationItem struct {
	Product  string          `json:"product"`
	OnHand   decimal.Decimal `json:"on_hand"`
	UnitCost decimal.Decimal `json:"unit_cost"`
	Value    decimal.Decimal `json:"value"`
	Missing  bool            `json:"missing_product,omitempty"`
}

type Valuation struct {
	Total           decimal.Decimal `json:"total"`
	Items           []ValuationItem `json:"items"`
	MissingProducts []string        `json:"missing_products"`
}

type BatchAllocation struct {
	Batch    string          `json:"batch"`
	Quantity decimal.Decimal `json:"quantity"`
}

type SaleLine struct {
	Product     string            `json:"product"`
	Batch       string            `json:"batch,omitempty"`
	Quantity    decimal.Decimal   `json:"quantity"`
	UnitPrice   decimal.Decimal   `json:"unit_price"`
	UnitCost    decimal.Decimal   `json:"unit_cost"`
	LineTotal   decimal.Decimal   `json:"line_total"`
	LineMargin  decimal.Decimal   `json:"line_margin"`
	Allocations []BatchAllocation `json:"allocations,omitempty"`
}

type Sale struct {
	Code            string          `json:"code"`
	Customer        string          `json:"customer"`
	Timestamp       time.Time       `json:"timestamp"`
	Lines           []SaleLine      `json:"lines"`
	DiscountPercent decimal.Decimal `json:"discount_percent"`
	Subtotal        decimal.Decimal `json:"subtotal"`
	DiscountAmount  decimal.Decimal `json:"discount_amount"`
	Total           decimal.Decimal `json:"total"`
	TotalMargin     decimal.Decimal `json:"total_margin"`
	PaymentMethod   string          `json:"payment_method"`
	CreatedBy       string          `json:"created_by,omitempty"`
	Reversed        bool            `json:"reversed"`
	ReversedAt      *time.Time      `json:"reversed_at,omitempty"`
}

type SaleLineRequest struct {
	Product        string          `json:"product"`
	Quantity       decimal.Decimal `json:"quantity"`
	Batch          string          `json:"batch,omitempty"`
	AllowOverdraft bool            `json:"allow_overdraft,omitempty"`
}

type SaleLineCheckRequest struct {
	Staged []SaleLineRequest `json:"staged"`
	Line   SaleLineRequest   `json:"line"`
}

type SaleLineCheckResponse struct {
	Accepted  bool              `json:"accepted"`
	Lines     []SaleLineRequest `json:"lines"`
	Available decimal.Decimal   `json:"available"`
}

type SaleFinalizeRequest struct {
	Lines            []SaleLineRequest `json:"lines"`
	Customer         string            `json:"customer"`
	DiscountPercent  decimal.Decimal   `json:"discount_percent"`
	PaymentMethod    string            `json:"payment_method"`
	ApproveOverdraft bool              `json:"approve_overdraft"`
}

type SaleReverseRequest struct {
	Code       string `json:"-"`
	ManagerPIN string `json:"manager_pin"`
	Reason     string `json:"reason"`
}

type SaleReverseResponse struct {
	Code       string     `json:"code"`
	Reversed   bool       `json:"reversed"`
	ReversedAt time.Time  `json:"reversed_at"`
	Entries    []Movement `json:"entries"`
}

type DashboardSummary struct {
	Customers      int             `json:"customers"`
	Products       int             `json:"products"`
	TotalStock     decimal.Decimal `json:"total_stock"`
	Sales          int             `json:"sales"`
	InventoryValue decimal.Decimal `json:"inventory_value"`
	LastModified   time.Time       `json:"last_modified"`
}

const (
	RoleAdmin   = "admin"
	RoleCashier = "cashier"
)

type Actor struct {
	Username string `json:"username"`
	Role     string `json:"role"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
	ExpiresAt   string `json:"expires_at"`
}

type UserAccount struct {
	Username  string    `json:"username"`
	Password  string    `json:"-"`
	Role      string    `json:"role"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

type CashierCreateRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type CashierUser struct {
	Username  string    `json:"username"`
	Role      string    `json:"role"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

type AuditLog struct {
	ID            string    `json:"id"`
	ActorUsername string    `json:"actor_username"`
	ActorRole     string    `json:"actor_role"`
	Action        string    `json:"action"`
	EntityType    string    `json:"entity_type"`
	EntityID      string    `json:"entity_id"`
	Detail        string    `json:"detail"`
	CreatedAt     time.Time `json:"created_at"`
}
