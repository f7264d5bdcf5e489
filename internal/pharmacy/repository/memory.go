// Package repository holds the sale journal: the record of completed
// sales, stock adjustments and operating expenses that the ledger commits
// against and the KPI aggregator reads back.
package repository

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/medflow/medflow-pharmacy/internal/pharmacy/domain"
	"github.com/medflow/medflow-pharmacy/pkg/errors"
)

// MemoryJournal keeps the journal in process memory
type MemoryJournal struct {
	mu          sync.RWMutex
	sales       []domain.Sale
	saleIDs     map[string]struct{}
	adjustments []domain.StockAdjustment
	expenses    []domain.Expense
}

// NewMemoryJournal creates an empty journal
func NewMemoryJournal() *MemoryJournal {
	return &MemoryJournal{saleIDs: make(map[string]struct{})}
}

// RecordSale appends a copy of the sale
func (j *MemoryJournal) RecordSale(ctx context.Context, sale *domain.Sale) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if _, dup := j.saleIDs[sale.ID]; dup {
		return errors.Conflict("a sale with this id has already been recorded")
	}
	j.saleIDs[sale.ID] = struct{}{}
	j.sales = append(j.sales, copySale(sale))
	return nil
}

// RecordAdjustment appends a copy of the adjustment
func (j *MemoryJournal) RecordAdjustment(ctx context.Context, adj *domain.StockAdjustment) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.adjustments = append(j.adjustments, *adj)
	return nil
}

// RecordExpense appends an expense
func (j *MemoryJournal) RecordExpense(ctx context.Context, e *domain.Expense) error {
	if err := validateExpense(e); err != nil {
		return err
	}
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	j.expenses = append(j.expenses, *e)
	return nil
}

// ListSales returns sales created in w, in record order
func (j *MemoryJournal) ListSales(ctx context.Context, w domain.Window) ([]domain.Sale, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	out := []domain.Sale{}
	for i := range j.sales {
		if w.Contains(j.sales[i].CreatedAt) {
			out = append(out, copySale(&j.sales[i]))
		}
	}
	return out, nil
}

// ListAdjustments returns adjustments created in w
func (j *MemoryJournal) ListAdjustments(ctx context.Context, w domain.Window) ([]domain.StockAdjustment, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	out := []domain.StockAdjustment{}
	for _, a := range j.adjustments {
		if w.Contains(a.CreatedAt) {
			out = append(out, a)
		}
	}
	return out, nil
}

// ListExpenses returns expenses incurred in w
func (j *MemoryJournal) ListExpenses(ctx context.Context, w domain.Window) ([]domain.Expense, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	out := []domain.Expense{}
	for _, e := range j.expenses {
		if w.Contains(e.IncurredAt) {
			out = append(out, e)
		}
	}
	return out, nil
}

func copySale(s *domain.Sale) domain.Sale {
	cp := *s
	cp.Lines = append([]domain.SaleLine(nil), s.Lines...)
	return cp
}

func validateExpense(e *domain.Expense) error {
	details := map[string]string{}
	if e.Category == "" {
		details["category"] = "this field is required"
	}
	if e.Amount.IsNegative() {
		details["amount"] = "must be at least 0"
	}
	if e.IncurredAt.IsZero() {
		details["incurred_at"] = "this field is required"
	}
	if len(details) > 0 {
		return errors.Validation(details)
	}
	return nil
}
