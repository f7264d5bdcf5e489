// Package alerts derives low-stock and expiry alerts from the live ledger.
// Alerts are recomputed on every call; dismissal is a filter the caller
// applies by alert id.
package alerts

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/medflow/medflow-pharmacy/internal/pharmacy/domain"
	"github.com/medflow/medflow-pharmacy/internal/pharmacy/risk"
	"github.com/medflow/medflow-pharmacy/pkg/logger"
	"github.com/shopspring/decimal"
)

// LowStockAlert flags a medicine at or below its reorder level
type LowStockAlert struct {
	ID                       string                 `json:"id"`
	MedicineID               string                 `json:"medicine_id"`
	MedicineName             string                 `json:"medicine_name"`
	Category                 string                 `json:"category"`
	Level                    domain.StockAlertLevel `json:"level"`
	Label                    string                 `json:"label"`
	CurrentStock             int                    `json:"current_stock"`
	ReorderLevel             int                    `json:"reorder_level"`
	SuggestedReorderQuantity int                    `json:"suggested_reorder_quantity"`
}

// AlertID implements Identified
func (a LowStockAlert) AlertID() string { return a.ID }

// ExpiryAlert flags a batch inside an expiry alert window
type ExpiryAlert struct {
	ID              string            `json:"id"`
	BatchID         string            `json:"batch_id"`
	BatchNumber     string            `json:"batch_number"`
	MedicineID      string            `json:"medicine_id"`
	MedicineName    string            `json:"medicine_name"`
	Level           domain.AlertLevel `json:"level"`
	ExpiryDate      time.Time         `json:"expiry_date"`
	DaysUntilExpiry int               `json:"days_until_expiry"`
	RiskPercent     float64           `json:"risk_percent"`
	Quantity        int               `json:"quantity"`
	PotentialLoss   decimal.Decimal   `json:"potential_loss"`
}

// AlertID implements Identified
func (a ExpiryAlert) AlertID() string { return a.ID }

// Identified is any alert with a stable id
type Identified interface {
	AlertID() string
}

// Without drops alerts whose id is in dismissed
func Without[T Identified](alerts []T, dismissed []string) []T {
	if len(dismissed) == 0 {
		return alerts
	}
	skip := make(map[string]struct{}, len(dismissed))
	for _, id := range dismissed {
		skip[strings.TrimSpace(id)] = struct{}{}
	}
	out := make([]T, 0, len(alerts))
	for _, a := range alerts {
		if _, ok := skip[a.AlertID()]; !ok {
			out = append(out, a)
		}
	}
	return out
}

// StockLevel classifies a stock level against a reorder level
func StockLevel(stock, reorderLevel int) domain.StockAlertLevel {
	switch {
	case stock <= 0:
		return domain.StockOut
	case stock <= reorderLevel:
		return domain.StockLow
	default:
		return domain.StockOK
	}
}

// Source is the ledger read side the generator needs
type Source interface {
	Medicines() []domain.Medicine
	GetMedicineStock(medicineID string) int
}

// RiskReporter produces the expiry risk report
type RiskReporter interface {
	GetExpiryRiskReport(ctx context.Context) *risk.Report
}

// Generator builds alert lists
type Generator struct {
	source Source
	risk   RiskReporter
	logger *logger.Logger
}

// NewGenerator creates a new alert generator
func NewGenerator(source Source, rr RiskReporter, log *logger.Logger) *Generator {
	return &Generator{
		source: source,
		risk:   rr,
		logger: log.WithComponent("alerts"),
	}
}

// GetLowStockAlerts returns one alert per active medicine that is out of
// stock or at or below its reorder level. Out-of-stock alerts come first,
// then by medicine name.
func (g *Generator) GetLowStockAlerts(ctx context.Context) []LowStockAlert {
	out := []LowStockAlert{}
	for _, m := range g.source.Medicines() {
		if !m.IsActive {
			continue
		}
		stock := g.source.GetMedicineStock(m.ID)
		level := StockLevel(stock, m.ReorderLevel)
		if level == domain.StockOK {
			continue
		}
		out = append(out, LowStockAlert{
			ID:                       level.String() + ":" + m.ID,
			MedicineID:               m.ID,
			MedicineName:             m.Name,
			Category:                 m.Category,
			Level:                    level,
			Label:                    level.Label(),
			CurrentStock:             stock,
			ReorderLevel:             m.ReorderLevel,
			SuggestedReorderQuantity: m.ReorderQuantity,
		})
	}

	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Level != b.Level {
			return a.Level > b.Level
		}
		if a.MedicineName != b.MedicineName {
			return a.MedicineName < b.MedicineName
		}
		return a.MedicineID < b.MedicineID
	})
	return out
}

// GetExpiryAlerts returns one alert per batch in the expiry risk report,
// in report order.
func (g *Generator) GetExpiryAlerts(ctx context.Context) []ExpiryAlert {
	report := g.risk.GetExpiryRiskReport(ctx)
	out := make([]ExpiryAlert, 0, len(report.Entries))
	for _, e := range report.Entries {
		out = append(out, ExpiryAlert{
			ID:              "expiry:" + e.AlertLevel.String() + ":" + e.BatchID,
			BatchID:         e.BatchID,
			BatchNumber:     e.BatchNumber,
			MedicineID:      e.MedicineID,
			MedicineName:    e.MedicineName,
			Level:           e.AlertLevel,
			ExpiryDate:      e.ExpiryDate,
			DaysUntilExpiry: e.DaysUntilExpiry,
			RiskPercent:     e.RiskPercent,
			Quantity:        e.Quantity,
			PotentialLoss:   e.PotentialLoss,
		})
	}
	return out
}
