package consumers

import (
	"context"
	"fmt"
	"time"

	"github.com/medflow/medflow-pharmacy/internal/pharmacy/domain"
	"github.com/medflow/medflow-pharmacy/pkg/errors"
	"github.com/medflow/medflow-pharmacy/pkg/logger"
	"github.com/medflow/medflow-pharmacy/pkg/messaging"
	"github.com/shopspring/decimal"
)

// BatchReceiver stores received batches
type BatchReceiver interface {
	AddBatch(ctx context.Context, batch domain.Batch) (*domain.Batch, error)
}

// ReceivingConsumer turns purchase-received events into ledger batches
type ReceivingConsumer struct {
	consumer *messaging.Consumer
	receiver BatchReceiver
	logger   *logger.Logger
}

// NewReceivingConsumer creates a consumer bound to the purchasing exchange
func NewReceivingConsumer(rmq *messaging.RabbitMQ, receiver BatchReceiver, maxRetries int, log *logger.Logger) (*ReceivingConsumer, error) {
	consumer, err := messaging.NewConsumer(rmq, "pharmacy-service.purchase-events", log)
	if err != nil {
		return nil, err
	}
	consumer.SetMaxRetries(maxRetries)

	if err := consumer.Subscribe(messaging.ExchangePurchasingEvents, messaging.EventPurchaseReceived); err != nil {
		return nil, err
	}

	c := NewReceivingHandler(receiver, log)
	c.consumer = consumer
	consumer.RegisterHandler(messaging.EventPurchaseReceived, c.Handle)

	return c, nil
}

// NewReceivingHandler creates the handler without a broker binding
func NewReceivingHandler(receiver BatchReceiver, log *logger.Logger) *ReceivingConsumer {
	return &ReceivingConsumer{
		receiver: receiver,
		logger:   log.WithComponent("receiving_consumer"),
	}
}

// Start starts consuming messages
func (c *ReceivingConsumer) Start(ctx context.Context) error {
	return c.consumer.Start(ctx)
}

// Handle adds one batch per received line. Lines the ledger rejects as
// invalid or duplicate are logged and skipped so a redelivery does not loop
// on them; any other failure is returned for retry.
func (c *ReceivingConsumer) Handle(ctx context.Context, event *messaging.Event) error {
	var data messaging.PurchaseReceivedEvent
	if err := event.UnmarshalData(&data); err != nil {
		c.logger.Error().Err(err).Str("event_id", event.ID).Msg("failed to decode purchase received event")
		return nil
	}

	c.logger.Info().
		Str("purchase_order_id", data.PurchaseOrderID).
		Int("lines", len(data.Lines)).
		Msg("received purchase received event")

	added := 0
	for i, line := range data.Lines {
		batch, err := toBatch(line, data.ReceivedAt)
		if err == nil {
			batch.ID = lineBatchID(data.PurchaseOrderID, i)
			_, err = c.receiver.AddBatch(ctx, batch)
		}
		if err != nil {
			if errors.Is(err, errors.ErrValidation) || errors.Is(err, errors.ErrConflict) {
				c.logger.Warn().
					Err(err).
					Str("purchase_order_id", data.PurchaseOrderID).
					Int("line", i).
					Str("medicine_id", line.MedicineID).
					Msg("skipping received line")
				continue
			}
			return fmt.Errorf("add batch for line %d: %w", i, err)
		}
		added++
	}

	c.logger.Info().
		Str("purchase_order_id", data.PurchaseOrderID).
		Int("batches_added", added).
		Msg("purchase received")
	return nil
}

func toBatch(line messaging.PurchaseReceivedLine, receivedAt time.Time) (domain.Batch, error) {
	purchase, err := decimal.NewFromString(line.PurchasePrice)
	if err != nil {
		return domain.Batch{}, errors.Validation(map[string]string{"purchase_price": "must be a decimal number"})
	}
	sale, err := decimal.NewFromString(line.SalePrice)
	if err != nil {
		return domain.Batch{}, errors.Validation(map[string]string{"sale_price": "must be a decimal number"})
	}
	return domain.Batch{
		MedicineID:    line.MedicineID,
		BatchNumber:   line.BatchNumber,
		ExpiryDate:    line.ExpiryDate,
		Quantity:      line.Quantity,
		PurchasePrice: purchase,
		SalePrice:     sale,
		CreatedAt:     receivedAt,
	}, nil
}

// lineBatchID derives a stable batch id so a redelivered event hits the
// duplicate check instead of adding stock twice
func lineBatchID(purchaseOrderID string, line int) string {
	if purchaseOrderID == "" {
		return ""
	}
	return fmt.Sprintf("%s-%d", purchaseOrderID, line+1)
}
