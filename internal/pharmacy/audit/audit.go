// Package audit carries override and stock-adjustment events from the
// dispensing engine to an external audit sink. Delivery is best-effort:
// the ledger mutation that produced an event is already committed and is
// never rolled back or delayed by the sink.
package audit

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/medflow/medflow-pharmacy/pkg/logger"
	"github.com/medflow/medflow-pharmacy/pkg/metrics"
)

// EventType identifies an audit event
type EventType string

const (
	EventFefoOverride     EventType = "FEFO_OVERRIDE"
	EventStockAdjusted    EventType = "STOCK_ADJUSTED"
	EventBatchDeactivated EventType = "BATCH_DEACTIVATED"
)

// Event is an audit record. Fields not relevant to the type are left zero.
type Event struct {
	ID               string    `json:"id"`
	Type             EventType `json:"type"`
	MedicineID       string    `json:"medicine_id"`
	BatchID          string    `json:"batch_id"`
	SuggestedBatchID string    `json:"suggested_batch_id,omitempty"`
	Quantity         int       `json:"quantity,omitempty"`
	Delta            int       `json:"delta,omitempty"`
	NewQuantity      int       `json:"new_quantity"`
	Reason           string    `json:"reason,omitempty"`
	SaleID           string    `json:"sale_id,omitempty"`
	AdjustmentID     string    `json:"adjustment_id,omitempty"`
	PerformedBy      string    `json:"performed_by,omitempty"`
	OccurredAt       time.Time `json:"occurred_at"`
}

// Sink receives audit events
type Sink interface {
	Record(ctx context.Context, event Event) error
}

// Emitter is what the ledger and selector depend on
type Emitter interface {
	Emit(ctx context.Context, event Event)
}

// Dispatcher delivers events to a Sink on its own goroutine
type Dispatcher struct {
	sink    Sink
	timeout time.Duration
	metrics *metrics.Metrics
	logger  *logger.Logger
	wg      sync.WaitGroup
}

// DefaultTimeout bounds one sink delivery unless overridden
const DefaultTimeout = 10 * time.Second

// Option configures a Dispatcher
type Option func(*Dispatcher)

// WithTimeout bounds each delivery. Values of zero or less are ignored.
func WithTimeout(d time.Duration) Option {
	return func(disp *Dispatcher) {
		if d > 0 {
			disp.timeout = d
		}
	}
}

// NewDispatcher creates a new dispatcher. A nil sink drops events.
func NewDispatcher(sink Sink, m *metrics.Metrics, log *logger.Logger, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		sink:    sink,
		timeout: DefaultTimeout,
		metrics: m,
		logger:  log.WithComponent("audit"),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Emit hands the event to the sink without blocking the caller.
// Cancellation of ctx does not cancel delivery.
func (d *Dispatcher) Emit(ctx context.Context, event Event) {
	if d == nil || d.sink == nil {
		return
	}
	if event.ID == "" {
		event.ID = uuid.New().String()
	}

	ctx = context.WithoutCancel(ctx)
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				d.logger.Error().Interface("panic", r).Str("event_type", string(event.Type)).Msg("audit sink panicked")
				d.metrics.RecordAuditDeliveryError(string(event.Type))
			}
		}()

		sendCtx, cancel := context.WithTimeout(ctx, d.timeout)
		defer cancel()

		if err := d.sink.Record(sendCtx, event); err != nil {
			d.logger.WithError(err).Error().
				Str("event_type", string(event.Type)).
				Str("event_id", event.ID).
				Str("medicine_id", event.MedicineID).
				Str("batch_id", event.BatchID).
				Msg("failed to deliver audit event")
			d.metrics.RecordAuditDeliveryError(string(event.Type))
		}
	}()
}

// Wait blocks until all in-flight deliveries have finished
func (d *Dispatcher) Wait() {
	if d == nil {
		return
	}
	d.wg.Wait()
}
