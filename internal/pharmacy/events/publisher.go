package events

import (
	"context"
	"fmt"

	"github.com/medflow/medflow-pharmacy/internal/pharmacy/audit"
	"github.com/medflow/medflow-pharmacy/pkg/logger"
	"github.com/medflow/medflow-pharmacy/pkg/messaging"
)

// AuditPublisher forwards audit events to the pharmacy exchange
type AuditPublisher struct {
	publisher messaging.EventPublisher
	logger    *logger.Logger
}

// NewAuditPublisher creates a publisher over an existing event publisher
func NewAuditPublisher(publisher messaging.EventPublisher, log *logger.Logger) *AuditPublisher {
	return &AuditPublisher{
		publisher: publisher,
		logger:    log.WithComponent("audit_publisher"),
	}
}

// NewRabbitAuditPublisher declares the pharmacy exchange and returns a publisher on it
func NewRabbitAuditPublisher(rmq *messaging.RabbitMQ, log *logger.Logger) (*AuditPublisher, error) {
	publisher, err := messaging.NewPublisher(rmq, messaging.ExchangePharmacyEvents, "pharmacy-service", log)
	if err != nil {
		return nil, err
	}
	return NewAuditPublisher(publisher, log), nil
}

// Record implements audit.Sink
func (p *AuditPublisher) Record(ctx context.Context, event audit.Event) error {
	eventType, data, err := toMessage(event)
	if err != nil {
		return err
	}

	if err := p.publisher.Publish(ctx, eventType, data); err != nil {
		return fmt.Errorf("publish %s: %w", eventType, err)
	}

	p.logger.Debug().
		Str("event_type", eventType).
		Str("medicine_id", event.MedicineID).
		Str("batch_id", event.BatchID).
		Msg("audit event published")
	return nil
}

func toMessage(e audit.Event) (string, interface{}, error) {
	switch e.Type {
	case audit.EventFefoOverride:
		return messaging.EventFefoOverride, messaging.FefoOverrideEvent{
			MedicineID:       e.MedicineID,
			RequestedBatchID: e.BatchID,
			SuggestedBatchID: e.SuggestedBatchID,
			Quantity:         e.Quantity,
			SaleID:           e.SaleID,
			PerformedBy:      e.PerformedBy,
			OccurredAt:       e.OccurredAt,
		}, nil

	case audit.EventStockAdjusted:
		return messaging.EventStockAdjusted, messaging.StockAdjustedEvent{
			AdjustmentID: e.AdjustmentID,
			MedicineID:   e.MedicineID,
			BatchID:      e.BatchID,
			Delta:        e.Delta,
			NewQuantity:  e.NewQuantity,
			Reason:       e.Reason,
			PerformedBy:  e.PerformedBy,
			OccurredAt:   e.OccurredAt,
		}, nil

	case audit.EventBatchDeactivated:
		return messaging.EventBatchDeactivated, messaging.BatchDeactivatedEvent{
			MedicineID:     e.MedicineID,
			BatchID:        e.BatchID,
			WithdrawnUnits: e.Quantity,
			Reason:         e.Reason,
			PerformedBy:    e.PerformedBy,
			OccurredAt:     e.OccurredAt,
		}, nil
	}
	return "", nil, fmt.Errorf("unsupported audit event type %q", e.Type)
}
