package consumers_test

import (
	"context"
	stderrors "errors"
	"testing"
	"time"

	"github.com/medflow/medflow-pharmacy/internal/pharmacy/consumers"
	"github.com/medflow/medflow-pharmacy/internal/pharmacy/domain"
	"github.com/medflow/medflow-pharmacy/internal/pharmacy/ledger"
	"github.com/medflow/medflow-pharmacy/pkg/logger"
	"github.com/medflow/medflow-pharmacy/pkg/messaging"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var received = time.Date(2026, 5, 4, 8, 0, 0, 0, time.UTC)

func purchaseEvent(t *testing.T, data messaging.PurchaseReceivedEvent) *messaging.Event {
	t.Helper()
	event, err := messaging.NewEvent(messaging.EventPurchaseReceived, "purchasing-service", "corr", data)
	require.NoError(t, err)
	return event
}

func line(medicineID, lot string, qty int) messaging.PurchaseReceivedLine {
	return messaging.PurchaseReceivedLine{
		MedicineID:    medicineID,
		BatchNumber:   lot,
		ExpiryDate:    received.AddDate(1, 0, 0),
		Quantity:      qty,
		PurchasePrice: "2.40",
		SalePrice:     "4.10",
	}
}

func TestHandle_AddsBatches(t *testing.T) {
	l := ledger.New(nil, logger.Nop())
	c := consumers.NewReceivingHandler(l, logger.Nop())

	event := purchaseEvent(t, messaging.PurchaseReceivedEvent{
		PurchaseOrderID: "po-7",
		ReceivedAt:      received,
		Lines:           []messaging.PurchaseReceivedLine{line("m1", "LOT-A", 20), line("m1", "LOT-B", 5)},
	})
	require.NoError(t, c.Handle(context.Background(), event))

	assert.Equal(t, 25, l.GetMedicineStock("m1"))
	b, err := l.GetBatch("po-7-1")
	require.NoError(t, err)
	assert.Equal(t, "LOT-A", b.BatchNumber)
	assert.True(t, decimal.RequireFromString("2.40").Equal(b.PurchasePrice))
	assert.True(t, received.Equal(b.CreatedAt))
}

func TestHandle_RedeliveryDoesNotDoubleStock(t *testing.T) {
	l := ledger.New(nil, logger.Nop())
	c := consumers.NewReceivingHandler(l, logger.Nop())

	event := purchaseEvent(t, messaging.PurchaseReceivedEvent{
		PurchaseOrderID: "po-8",
		ReceivedAt:      received,
		Lines:           []messaging.PurchaseReceivedLine{line("m1", "LOT-A", 10)},
	})
	require.NoError(t, c.Handle(context.Background(), event))
	require.NoError(t, c.Handle(context.Background(), event))

	assert.Equal(t, 10, l.GetMedicineStock("m1"))
}

func TestHandle_SkipsInvalidLines(t *testing.T) {
	l := ledger.New(nil, logger.Nop())
	c := consumers.NewReceivingHandler(l, logger.Nop())

	badPrice := line("m1", "LOT-X", 3)
	badPrice.SalePrice = "four"

	event := purchaseEvent(t, messaging.PurchaseReceivedEvent{
		PurchaseOrderID: "po-9",
		ReceivedAt:      received,
		Lines: []messaging.PurchaseReceivedLine{
			line("m1", "LOT-A", 0),
			badPrice,
			line("m1", "LOT-B", 4),
		},
	})
	require.NoError(t, c.Handle(context.Background(), event))

	assert.Equal(t, 4, l.GetMedicineStock("m1"))
}

func TestHandle_MalformedDataIsDropped(t *testing.T) {
	c := consumers.NewReceivingHandler(ledger.New(nil, logger.Nop()), logger.Nop())

	event := &messaging.Event{Type: messaging.EventPurchaseReceived, Data: []byte(`{"lines": "nope"}`)}
	assert.NoError(t, c.Handle(context.Background(), event))
}

type failingReceiver struct{ err error }

func (f failingReceiver) AddBatch(ctx context.Context, b domain.Batch) (*domain.Batch, error) {
	return nil, f.err
}

func TestHandle_ReturnsUnexpectedErrors(t *testing.T) {
	boom := stderrors.New("store unavailable")
	c := consumers.NewReceivingHandler(failingReceiver{err: boom}, logger.Nop())

	event := purchaseEvent(t, messaging.PurchaseReceivedEvent{
		PurchaseOrderID: "po-10",
		ReceivedAt:      received,
		Lines:           []messaging.PurchaseReceivedLine{line("m1", "LOT-A", 1)},
	})
	err := c.Handle(context.Background(), event)
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
}
