package messaging

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Event types
const (
	// Audit events emitted by the dispensing engine
	EventFefoOverride     = "pharmacy.audit.fefo_override"
	EventStockAdjusted    = "pharmacy.audit.stock_adjusted"
	EventBatchDeactivated = "pharmacy.audit.batch_deactivated"

	// Purchasing events consumed by the pharmacy service
	EventPurchaseReceived = "pharmacy.purchase.received"
)

// Exchange names
const (
	ExchangePharmacyEvents   = "pharmacy.events"
	ExchangePurchasingEvents = "purchasing.events"
)

// Event is the base event structure
type Event struct {
	ID            string          `json:"id"`
	Type          string          `json:"type"`
	Source        string          `json:"source"`
	Timestamp     time.Time       `json:"timestamp"`
	CorrelationID string          `json:"correlation_id"`
	Data          json.RawMessage `json:"data"`
}

// NewEvent creates a new event with the given type and data
func NewEvent(eventType, source, correlationID string, data interface{}) (*Event, error) {
	dataBytes, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}

	return &Event{
		ID:            uuid.New().String(),
		Type:          eventType,
		Source:        source,
		Timestamp:     time.Now().UTC(),
		CorrelationID: correlationID,
		Data:          dataBytes,
	}, nil
}

// MarshalEvent encodes an event as a message body
func MarshalEvent(e *Event) ([]byte, error) {
	return json.Marshal(e)
}

// UnmarshalData unmarshals the event data into the provided struct
func (e *Event) UnmarshalData(v interface{}) error {
	return json.Unmarshal(e.Data, v)
}

// Audit Events

// FefoOverrideEvent is published when a non-suggested batch is dispensed after confirmation
type FefoOverrideEvent struct {
	MedicineID       string    `json:"medicine_id"`
	RequestedBatchID string    `json:"requested_batch_id"`
	SuggestedBatchID string    `json:"suggested_batch_id"`
	Quantity         int       `json:"quantity"`
	SaleID           string    `json:"sale_id"`
	PerformedBy      string    `json:"performed_by,omitempty"`
	OccurredAt       time.Time `json:"occurred_at"`
}

// StockAdjustedEvent is published when a batch quantity is corrected administratively
type StockAdjustedEvent struct {
	AdjustmentID string    `json:"adjustment_id"`
	MedicineID   string    `json:"medicine_id"`
	BatchID      string    `json:"batch_id"`
	Delta        int       `json:"delta"`
	NewQuantity  int       `json:"new_quantity"`
	Reason       string    `json:"reason"`
	PerformedBy  string    `json:"performed_by,omitempty"`
	OccurredAt   time.Time `json:"occurred_at"`
}

// BatchDeactivatedEvent is published when a batch is withdrawn from dispensing
type BatchDeactivatedEvent struct {
	MedicineID     string    `json:"medicine_id"`
	BatchID        string    `json:"batch_id"`
	WithdrawnUnits int       `json:"withdrawn_units"`
	Reason         string    `json:"reason"`
	PerformedBy    string    `json:"performed_by,omitempty"`
	OccurredAt     time.Time `json:"occurred_at"`
}

// Purchasing Events

// PurchaseReceivedEvent is published by purchasing when a purchase order is received
type PurchaseReceivedEvent struct {
	PurchaseOrderID string                 `json:"purchase_order_id"`
	ReceivedAt      time.Time              `json:"received_at"`
	Lines           []PurchaseReceivedLine `json:"lines"`
}

// PurchaseReceivedLine is one received lot
type PurchaseReceivedLine struct {
	MedicineID    string    `json:"medicine_id"`
	BatchNumber   string    `json:"batch_number"`
	ExpiryDate    time.Time `json:"expiry_date"`
	Quantity      int       `json:"quantity"`
	PurchasePrice string    `json:"purchase_price"`
	SalePrice     string    `json:"sale_price"`
}
