package testutil

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/medflow/medflow-pharmacy/internal/pharmacy/domain"
	"github.com/shopspring/decimal"
)

// FixtureFactory creates test fixtures with sensible defaults
type FixtureFactory struct {
	sequence int
	now      time.Time
}

// NewFixtureFactory creates a new fixture factory. Expiry dates are
// relative to now.
func NewFixtureFactory(now time.Time) *FixtureFactory {
	return &FixtureFactory{now: now}
}

// nextSeq returns the next sequence number for unique values
func (f *FixtureFactory) nextSeq() int {
	f.sequence++
	return f.sequence
}

// Medicine creates a medicine fixture with defaults
func (f *FixtureFactory) Medicine(opts ...func(*domain.Medicine)) domain.Medicine {
	seq := f.nextSeq()
	m := domain.Medicine{
		ID:              uuid.New().String(),
		Name:            fmt.Sprintf("Medicine %d", seq),
		Category:        "general",
		ReorderLevel:    10,
		ReorderQuantity: 50,
		IsActive:        true,
	}
	for _, opt := range opts {
		opt(&m)
	}
	return m
}

// WithMedicineName sets the medicine name
func WithMedicineName(name string) func(*domain.Medicine) {
	return func(m *domain.Medicine) {
		m.Name = name
	}
}

// WithReorder sets reorder level and quantity
func WithReorder(level, quantity int) func(*domain.Medicine) {
	return func(m *domain.Medicine) {
		m.ReorderLevel = level
		m.ReorderQuantity = quantity
	}
}

// Batch creates an active batch fixture for a medicine, expiring in 180 days with 100 units
func (f *FixtureFactory) Batch(medicineID string, opts ...func(*domain.Batch)) domain.Batch {
	seq := f.nextSeq()
	b := domain.Batch{
		ID:            fmt.Sprintf("batch-%d", seq),
		MedicineID:    medicineID,
		BatchNumber:   fmt.Sprintf("LOT-%04d", seq),
		ExpiryDate:    f.now.Add(180 * 24 * time.Hour),
		Quantity:      100,
		PurchasePrice: decimal.NewFromInt(2),
		SalePrice:     decimal.NewFromInt(5),
		IsActive:      true,
		CreatedAt:     f.now.Add(time.Duration(seq) * time.Second),
	}
	for _, opt := range opts {
		opt(&b)
	}
	return b
}

// WithBatchID sets the batch id
func WithBatchID(id string) func(*domain.Batch) {
	return func(b *domain.Batch) {
		b.ID = id
	}
}

// ExpiringInDays sets the expiry date relative to the factory's now
func (f *FixtureFactory) ExpiringInDays(days int) func(*domain.Batch) {
	return func(b *domain.Batch) {
		b.ExpiryDate = f.now.Add(time.Duration(days) * 24 * time.Hour)
	}
}

// WithQuantity sets the batch quantity
func WithQuantity(qty int) func(*domain.Batch) {
	return func(b *domain.Batch) {
		b.Quantity = qty
	}
}

// WithPrices sets purchase and sale price
func WithPrices(purchase, sale string) func(*domain.Batch) {
	return func(b *domain.Batch) {
		b.PurchasePrice = decimal.RequireFromString(purchase)
		b.SalePrice = decimal.RequireFromString(sale)
	}
}

// ReceivedAt sets the arrival time
func ReceivedAt(t time.Time) func(*domain.Batch) {
	return func(b *domain.Batch) {
		b.CreatedAt = t
	}
}
