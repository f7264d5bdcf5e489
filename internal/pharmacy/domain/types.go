package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Medicine is a catalog entry. The catalog is owned by catalog management;
// the ledger only keeps a read copy for stock alerts and reports.
type Medicine struct {
	ID              string `db:"id" json:"id"`
	Name            string `db:"name" json:"name"`
	Category        string `db:"category" json:"category"`
	ReorderLevel    int    `db:"reorder_level" json:"reorder_level"`
	ReorderQuantity int    `db:"reorder_quantity" json:"reorder_quantity"`
	IsActive        bool   `db:"is_active" json:"is_active"`
}

// Batch is one lot of a medicine received together, sharing an expiry date and unit cost
type Batch struct {
	ID                 string          `db:"id" json:"id"`
	MedicineID         string          `db:"medicine_id" json:"medicine_id"`
	BatchNumber        string          `db:"batch_number" json:"batch_number"`
	ExpiryDate         time.Time       `db:"expiry_date" json:"expiry_date"`
	Quantity           int             `db:"quantity" json:"quantity"`
	ReceivedQuantity   int             `db:"received_quantity" json:"received_quantity"`
	PurchasePrice      decimal.Decimal `db:"purchase_price" json:"purchase_price"`
	SalePrice          decimal.Decimal `db:"sale_price" json:"sale_price"`
	IsActive           bool            `db:"is_active" json:"is_active"`
	DeactivationReason *string         `db:"deactivation_reason" json:"deactivation_reason,omitempty"`
	CreatedAt          time.Time       `db:"created_at" json:"created_at"`
}

// IsAvailable reports whether the batch can be dispensed from
func (b *Batch) IsAvailable() bool {
	return b.IsActive && b.Quantity > 0
}

// StockValue is the remaining quantity valued at purchase price
func (b *Batch) StockValue() decimal.Decimal {
	return b.PurchasePrice.Mul(decimal.NewFromInt(int64(b.Quantity)))
}

// Sale is a completed (or later reversed) point-of-sale transaction
type Sale struct {
	ID            string        `db:"id" json:"id"`
	Status        SaleStatus    `db:"status" json:"status"`
	PaymentMethod PaymentMethod `db:"payment_method" json:"payment_method"`
	PerformedBy   string        `db:"performed_by" json:"performed_by,omitempty"`
	CreatedAt     time.Time     `db:"created_at" json:"created_at"`
	Lines         []SaleLine    `db:"-" json:"lines"`
}

// SaleLine is one batch drawn down by a sale
type SaleLine struct {
	SaleID       string          `db:"sale_id" json:"-"`
	BatchID      string          `db:"batch_id" json:"batch_id"`
	MedicineID   string          `db:"medicine_id" json:"medicine_id"`
	Quantity     int             `db:"quantity" json:"quantity"`
	UnitPrice    decimal.Decimal `db:"unit_price" json:"unit_price"`
	UnitCost     decimal.Decimal `db:"unit_cost" json:"unit_cost"`
	FefoOverride bool            `db:"fefo_override" json:"fefo_override"`
}

// Revenue is quantity times unit price
func (l SaleLine) Revenue() decimal.Decimal {
	return l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

// Cost is quantity times unit cost
func (l SaleLine) Cost() decimal.Decimal {
	return l.UnitCost.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

// Total sums line revenue
func (s *Sale) Total() decimal.Decimal {
	total := decimal.Zero
	for _, l := range s.Lines {
		total = total.Add(l.Revenue())
	}
	return total
}

// StockAdjustment is an administrative correction of a batch quantity
type StockAdjustment struct {
	ID               string           `db:"id" json:"id"`
	BatchID          string           `db:"batch_id" json:"batch_id"`
	MedicineID       string           `db:"medicine_id" json:"medicine_id"`
	Delta            int              `db:"delta" json:"delta"`
	PreviousQuantity int              `db:"previous_quantity" json:"previous_quantity"`
	NewQuantity      int              `db:"new_quantity" json:"new_quantity"`
	Reason           AdjustmentReason `db:"reason" json:"reason"`
	Note             *string          `db:"note" json:"note,omitempty"`
	UnitCost         decimal.Decimal  `db:"unit_cost" json:"unit_cost"`
	PerformedBy      string           `db:"performed_by" json:"performed_by"`
	CreatedAt        time.Time        `db:"created_at" json:"created_at"`
}

// WriteOffValue is the purchase value of units removed by a write-off adjustment.
// Corrections and counts are not losses.
func (a *StockAdjustment) WriteOffValue() decimal.Decimal {
	if !a.Reason.IsWriteOff() || a.Delta >= 0 {
		return decimal.Zero
	}
	return a.UnitCost.Mul(decimal.NewFromInt(int64(-a.Delta)))
}

// Expense is an operating cost fed in from accounting
type Expense struct {
	ID         string          `db:"id" json:"id"`
	Category   string          `db:"category" json:"category"`
	Amount     decimal.Decimal `db:"amount" json:"amount"`
	IncurredAt time.Time       `db:"incurred_at" json:"incurred_at"`
}

// Window is a half-open time range [From, To)
type Window struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

// Contains reports whether t falls in the window
func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.From) && t.Before(w.To)
}

// Valid reports whether the window has a positive length
func (w Window) Valid() bool {
	return w.To.After(w.From)
}

// Prior returns the window of equal length immediately before w
func (w Window) Prior() Window {
	length := w.To.Sub(w.From)
	return Window{From: w.From.Add(-length), To: w.From}
}
