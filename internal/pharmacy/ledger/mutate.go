package ledger

import (
	"context"
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"github.com/medflow/medflow-pharmacy/internal/pharmacy/audit"
	"github.com/medflow/medflow-pharmacy/internal/pharmacy/domain"
	"github.com/medflow/medflow-pharmacy/pkg/actor"
	"github.com/medflow/medflow-pharmacy/pkg/errors"
)

// DecrementBatch dispenses qty units from one batch as a single-line cash sale
func (l *Ledger) DecrementBatch(ctx context.Context, batchID string, qty int) (*domain.Sale, error) {
	if qty <= 0 {
		return nil, errors.Validation(map[string]string{"quantity": "must be greater than 0"})
	}

	sale := &domain.Sale{
		PaymentMethod: domain.PaymentCash,
		Lines:         []domain.SaleLine{{BatchID: batchID, Quantity: qty}},
	}
	if err := l.CommitSale(ctx, sale); err != nil {
		return nil, err
	}
	return sale, nil
}

// SaleCheck inspects a prepared sale inside CommitSale's critical section,
// after availability is verified and before the journal write. It may set
// line flags. Returning an error aborts the sale.
type SaleCheck func(sale *domain.Sale) error

// CommitSale validates every line, records the sale in the journal and then
// applies all decrements. Any failure leaves every batch quantity unchanged.
//
// Missing sale fields are filled in place: id, status, created_at,
// performed_by, and per line the medicine id, unit cost and (when zero) the
// unit price from the batch. Checks run while the medicine locks are held, so
// no receipt, adjustment or other sale for those medicines can interleave.
func (l *Ledger) CommitSale(ctx context.Context, sale *domain.Sale, checks ...SaleCheck) error {
	if sale == nil || len(sale.Lines) == 0 {
		return errors.Validation(map[string]string{"lines": "at least one line is required"})
	}
	if sale.PaymentMethod == "" {
		sale.PaymentMethod = domain.PaymentCash
	}

	details := map[string]string{}
	if !sale.PaymentMethod.Valid() {
		details["payment_method"] = "must be one of: cash credit"
	}
	for i, line := range sale.Lines {
		if line.BatchID == "" {
			details[fmt.Sprintf("lines[%d].batch_id", i)] = "this field is required"
		}
		if line.Quantity <= 0 {
			details[fmt.Sprintf("lines[%d].quantity", i)] = "must be greater than 0"
		}
	}
	if len(details) > 0 {
		return errors.Validation(details)
	}

	medicineIDs := make([]string, 0, len(sale.Lines))
	for _, line := range sale.Lines {
		id, err := l.medicineOf(line.BatchID)
		if err != nil {
			return err
		}
		medicineIDs = append(medicineIDs, id)
	}

	unlock := l.locks.lock(medicineIDs...)
	defer unlock()

	if err := l.prepareLines(sale); err != nil {
		return err
	}
	for _, check := range checks {
		if err := check(sale); err != nil {
			return err
		}
	}

	if sale.ID == "" {
		sale.ID = uuid.New().String()
	}
	if sale.Status == "" {
		sale.Status = domain.SaleCompleted
	}
	if sale.PerformedBy == "" {
		sale.PerformedBy = actor.IDFromContext(ctx)
	}
	sale.CreatedAt = l.clock.Now()
	for i := range sale.Lines {
		sale.Lines[i].SaleID = sale.ID
	}

	if l.journal != nil {
		if err := l.journal.RecordSale(ctx, sale); err != nil {
			l.logger.Error().Err(err).Str("sale_id", sale.ID).Msg("failed to record sale")
			return journalError(err, "failed to record sale")
		}
	}

	l.mu.Lock()
	for _, line := range sale.Lines {
		l.batches[line.BatchID].Quantity -= line.Quantity
	}
	l.mu.Unlock()

	for _, line := range sale.Lines {
		l.metrics.RecordDispensed(line.Quantity, line.FefoOverride)
		l.logger.WithMedicine(line.MedicineID).Info().
			Str("sale_id", sale.ID).
			Str("batch_id", line.BatchID).
			Int("quantity", line.Quantity).
			Bool("fefo_override", line.FefoOverride).
			Msg("dispensed")
	}

	return nil
}

// prepareLines checks availability of every line and copies batch data onto
// the lines. Lines drawing on the same batch are checked against its
// combined demand. Callers hold the medicine locks.
func (l *Ledger) prepareLines(sale *domain.Sale) error {
	l.mu.RLock()
	defer l.mu.RUnlock()

	demand := make(map[string]int, len(sale.Lines))
	for i := range sale.Lines {
		line := &sale.Lines[i]
		b := l.batches[line.BatchID]

		available := 0
		if b.IsActive {
			available = b.Quantity
		}
		demand[b.ID] += line.Quantity
		if demand[b.ID] > available {
			return errors.InsufficientStock(b.ID, demand[b.ID], available)
		}

		line.MedicineID = b.MedicineID
		line.UnitCost = b.PurchasePrice
		if line.UnitPrice.IsZero() {
			line.UnitPrice = b.SalePrice
		}
	}
	return nil
}

// AdjustBatch applies an administrative correction. The resulting quantity
// may not go below zero.
func (l *Ledger) AdjustBatch(ctx context.Context, batchID string, delta int, reason domain.AdjustmentReason, note string) (*domain.StockAdjustment, error) {
	details := map[string]string{}
	if delta == 0 {
		details["delta"] = "must not be 0"
	}
	if !reason.Valid() {
		details["reason"] = "must be one of: damage theft expired correction count"
	}
	if len(details) > 0 {
		return nil, errors.Validation(details)
	}

	medicineID, err := l.medicineOf(batchID)
	if err != nil {
		return nil, err
	}

	unlock := l.locks.lock(medicineID)
	defer unlock()

	l.mu.RLock()
	b := *l.batches[batchID]
	l.mu.RUnlock()

	newQty := b.Quantity + delta
	if newQty < 0 {
		return nil, errors.InsufficientStock(batchID, -delta, b.Quantity)
	}

	adj := &domain.StockAdjustment{
		ID:               uuid.New().String(),
		BatchID:          batchID,
		MedicineID:       medicineID,
		Delta:            delta,
		PreviousQuantity: b.Quantity,
		NewQuantity:      newQty,
		Reason:           reason,
		UnitCost:         b.PurchasePrice,
		PerformedBy:      actor.IDFromContext(ctx),
		CreatedAt:        l.clock.Now(),
	}
	if note != "" {
		adj.Note = &note
	}

	if l.journal != nil {
		if err := l.journal.RecordAdjustment(ctx, adj); err != nil {
			l.logger.Error().Err(err).Str("batch_id", batchID).Msg("failed to record stock adjustment")
			return nil, journalError(err, "failed to record stock adjustment")
		}
	}

	l.mu.Lock()
	l.batches[batchID].Quantity = newQty
	l.mu.Unlock()

	l.metrics.RecordStockAdjustment(string(reason))
	l.logger.WithMedicine(medicineID).Info().
		Str("adjustment_id", adj.ID).
		Str("batch_id", batchID).
		Int("delta", delta).
		Int("quantity", newQty).
		Str("reason", string(reason)).
		Msg("stock adjusted")

	l.emit(ctx, audit.Event{
		Type:         audit.EventStockAdjusted,
		MedicineID:   medicineID,
		BatchID:      batchID,
		Delta:        delta,
		NewQuantity:  newQty,
		Reason:       string(reason),
		AdjustmentID: adj.ID,
		PerformedBy:  adj.PerformedBy,
		OccurredAt:   adj.CreatedAt,
	})

	return adj, nil
}

// DeactivateBatch withdraws a batch from dispensing. Its remaining quantity
// is kept on the record but no longer counts toward stock.
func (l *Ledger) DeactivateBatch(ctx context.Context, batchID, reason string) (*domain.Batch, error) {
	if reason == "" {
		return nil, errors.Validation(map[string]string{"reason": "this field is required"})
	}

	medicineID, err := l.medicineOf(batchID)
	if err != nil {
		return nil, err
	}

	unlock := l.locks.lock(medicineID)
	defer unlock()

	l.mu.Lock()
	b := l.batches[batchID]
	if !b.IsActive {
		l.mu.Unlock()
		return nil, errors.Conflict(fmt.Sprintf("batch %s is already inactive", batchID))
	}
	b.IsActive = false
	b.DeactivationReason = &reason
	withdrawn := *b
	l.mu.Unlock()

	l.logger.WithMedicine(medicineID).Info().
		Str("batch_id", batchID).
		Int("quantity", withdrawn.Quantity).
		Str("reason", reason).
		Msg("batch deactivated")

	l.emit(ctx, audit.Event{
		Type:        audit.EventBatchDeactivated,
		MedicineID:  medicineID,
		BatchID:     batchID,
		Quantity:    withdrawn.Quantity,
		NewQuantity: withdrawn.Quantity,
		Reason:      reason,
		PerformedBy: actor.IDFromContext(ctx),
		OccurredAt:  l.clock.Now(),
	})

	return &withdrawn, nil
}

func (l *Ledger) emit(ctx context.Context, event audit.Event) {
	if l.audit == nil {
		return
	}
	l.audit.Emit(ctx, event)
}

// journalError keeps application errors from the journal (e.g. a mapped
// constraint violation) and wraps anything else as internal.
func journalError(err error, message string) error {
	var appErr *errors.AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return errors.Wrap(err, "JOURNAL_ERROR", message, http.StatusInternalServerError)
}
