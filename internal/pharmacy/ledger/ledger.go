// Package ledger owns batch records and applies every quantity mutation.
//
// Stock of a medicine is never stored: it is the sum of quantities over the
// medicine's active batches. Mutations run under a per-medicine lock that is
// held across validation, the journal write and the in-memory update, so two
// dispenses against the same medicine cannot both succeed on stock that only
// covers one of them. A failed journal write leaves every quantity unchanged.
package ledger

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/medflow/medflow-pharmacy/internal/pharmacy/audit"
	"github.com/medflow/medflow-pharmacy/internal/pharmacy/domain"
	"github.com/medflow/medflow-pharmacy/pkg/errors"
	"github.com/medflow/medflow-pharmacy/pkg/logger"
	"github.com/medflow/medflow-pharmacy/pkg/metrics"
)

// Journal persists sale and adjustment records. It is called inside the
// ledger's critical section; returning an error aborts the mutation.
type Journal interface {
	RecordSale(ctx context.Context, sale *domain.Sale) error
	RecordAdjustment(ctx context.Context, adj *domain.StockAdjustment) error
}

// Ledger is the in-memory batch store shared by all engine components.
// Every write to a medicine's batches, receipts included, holds that
// medicine's lock.
type Ledger struct {
	mu         sync.RWMutex
	batches    map[string]*domain.Batch
	byMedicine map[string][]string
	medicines  map[string]domain.Medicine

	locks   *medicineLocks
	journal Journal
	audit   audit.Emitter
	clock   domain.Clock
	metrics *metrics.Metrics
	logger  *logger.Logger
}

// Option configures a Ledger
type Option func(*Ledger)

// WithClock overrides the wall clock
func WithClock(c domain.Clock) Option {
	return func(l *Ledger) { l.clock = c }
}

// WithAudit sets the audit emitter
func WithAudit(e audit.Emitter) Option {
	return func(l *Ledger) { l.audit = e }
}

// WithMetrics sets the metrics recorder
func WithMetrics(m *metrics.Metrics) Option {
	return func(l *Ledger) { l.metrics = m }
}

// New creates an empty ledger. A nil journal records nothing.
func New(journal Journal, log *logger.Logger, opts ...Option) *Ledger {
	l := &Ledger{
		batches:    make(map[string]*domain.Batch),
		byMedicine: make(map[string][]string),
		medicines:  make(map[string]domain.Medicine),
		locks:      newMedicineLocks(),
		journal:    journal,
		clock:      domain.SystemClock{},
		logger:     log.WithComponent("ledger"),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Now returns the ledger's clock reading
func (l *Ledger) Now() time.Time {
	return l.clock.Now()
}

// Catalog

// PutMedicine inserts or replaces a catalog entry
func (l *Ledger) PutMedicine(m domain.Medicine) error {
	details := map[string]string{}
	if m.ID == "" {
		details["id"] = "this field is required"
	}
	if m.Name == "" {
		details["name"] = "this field is required"
	}
	if m.ReorderLevel < 0 {
		details["reorder_level"] = "must be at least 0"
	}
	if m.ReorderQuantity < 0 {
		details["reorder_quantity"] = "must be at least 0"
	}
	if len(details) > 0 {
		return errors.Validation(details)
	}

	l.mu.Lock()
	l.medicines[m.ID] = m
	l.mu.Unlock()
	return nil
}

// Medicine returns a catalog entry
func (l *Ledger) Medicine(id string) (domain.Medicine, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	m, ok := l.medicines[id]
	return m, ok
}

// Medicines returns a snapshot of the catalog
func (l *Ledger) Medicines() []domain.Medicine {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]domain.Medicine, 0, len(l.medicines))
	for _, m := range l.medicines {
		out = append(out, m)
	}
	return out
}

// Batches

// AddBatch validates and stores a newly received batch
func (l *Ledger) AddBatch(ctx context.Context, batch domain.Batch) (*domain.Batch, error) {
	if err := validateNewBatch(&batch); err != nil {
		return nil, err
	}

	if batch.ID == "" {
		batch.ID = uuid.New().String()
	}
	batch.IsActive = true
	batch.DeactivationReason = nil
	batch.ReceivedQuantity = batch.Quantity
	if batch.CreatedAt.IsZero() {
		batch.CreatedAt = l.clock.Now()
	}

	unlock := l.locks.lock(batch.MedicineID)
	defer unlock()

	l.mu.Lock()
	if _, exists := l.batches[batch.ID]; exists {
		l.mu.Unlock()
		return nil, errors.Conflict(fmt.Sprintf("batch %s already exists", batch.ID))
	}
	stored := batch
	l.batches[batch.ID] = &stored
	l.byMedicine[batch.MedicineID] = append(l.byMedicine[batch.MedicineID], batch.ID)
	l.mu.Unlock()

	l.metrics.RecordBatchReceived()
	l.logger.WithMedicine(batch.MedicineID).Info().
		Str("batch_id", batch.ID).
		Str("batch_number", batch.BatchNumber).
		Int("quantity", batch.Quantity).
		Time("expiry_date", batch.ExpiryDate).
		Msg("batch received")

	return &batch, nil
}

// GetBatch returns a copy of a batch
func (l *Ledger) GetBatch(id string) (*domain.Batch, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	b, ok := l.batches[id]
	if !ok {
		return nil, errors.NotFound("batch")
	}
	cp := *b
	return &cp, nil
}

// Batches returns a snapshot of every batch, including exhausted and withdrawn ones
func (l *Ledger) Batches() []domain.Batch {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]domain.Batch, 0, len(l.batches))
	for _, b := range l.batches {
		out = append(out, *b)
	}
	return out
}

// ListAvailableBatches returns the active batches of a medicine that still hold stock, unordered
func (l *Ledger) ListAvailableBatches(medicineID string) []domain.Batch {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var out []domain.Batch
	for _, id := range l.byMedicine[medicineID] {
		if b := l.batches[id]; b.IsAvailable() {
			out = append(out, *b)
		}
	}
	return out
}

// GetMedicineStock sums quantity over the medicine's active batches.
// Unknown medicines have zero stock.
func (l *Ledger) GetMedicineStock(medicineID string) int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	total := 0
	for _, id := range l.byMedicine[medicineID] {
		if b := l.batches[id]; b.IsActive {
			total += b.Quantity
		}
	}
	return total
}

// medicineOf resolves the owning medicine of a batch
func (l *Ledger) medicineOf(batchID string) (string, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	b, ok := l.batches[batchID]
	if !ok {
		return "", errors.NotFound("batch")
	}
	return b.MedicineID, nil
}
