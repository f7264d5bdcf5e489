// Package export builds the tabular read models behind the profit and
// stock-value downloads. Rendering to CSV or PDF is left to the caller.
package export

import (
	"context"
	"sort"
	"time"

	"github.com/medflow/medflow-pharmacy/internal/pharmacy/domain"
	"github.com/medflow/medflow-pharmacy/pkg/logger"
	"github.com/shopspring/decimal"
)

// BatchProfitRow is the sales result of one batch over a window
type BatchProfitRow struct {
	BatchID        string          `json:"batch_id"`
	BatchNumber    string          `json:"batch_number"`
	MedicineID     string          `json:"medicine_id"`
	MedicineName   string          `json:"medicine_name"`
	ExpiryDate     time.Time       `json:"expiry_date"`
	SoldQuantity   int             `json:"sold_quantity"`
	Revenue        decimal.Decimal `json:"revenue"`
	Cost           decimal.Decimal `json:"cost"`
	Profit         decimal.Decimal `json:"profit"`
	RemainingQty   int             `json:"remaining_quantity"`
	RemainingValue decimal.Decimal `json:"remaining_value"`
	IsActive       bool            `json:"is_active"`
}

// StockValueRow is the on-hand value of one medicine
type StockValueRow struct {
	MedicineID   string          `json:"medicine_id"`
	MedicineName string          `json:"medicine_name"`
	Category     string          `json:"category"`
	Batches      int             `json:"batches"`
	Quantity     int             `json:"quantity"`
	CostValue    decimal.Decimal `json:"cost_value"`
	RetailValue  decimal.Decimal `json:"retail_value"`
}

// BatchProfit aggregates completed sale lines in w per batch. Batches
// without sales in the window are listed with zero totals.
func BatchProfit(w domain.Window, batches []domain.Batch, medicines []domain.Medicine, sales []domain.Sale) []BatchProfitRow {
	names := medicineNames(medicines)

	rows := make(map[string]*BatchProfitRow, len(batches))
	for i := range batches {
		b := &batches[i]
		rows[b.ID] = &BatchProfitRow{
			BatchID:        b.ID,
			BatchNumber:    b.BatchNumber,
			MedicineID:     b.MedicineID,
			MedicineName:   names[b.MedicineID],
			ExpiryDate:     b.ExpiryDate,
			Revenue:        decimal.Zero,
			Cost:           decimal.Zero,
			RemainingQty:   b.Quantity,
			RemainingValue: b.StockValue(),
			IsActive:       b.IsActive,
		}
	}

	for i := range sales {
		s := &sales[i]
		if s.Status != domain.SaleCompleted || !w.Contains(s.CreatedAt) {
			continue
		}
		for _, line := range s.Lines {
			row, ok := rows[line.BatchID]
			if !ok {
				continue
			}
			row.SoldQuantity += line.Quantity
			row.Revenue = row.Revenue.Add(line.Revenue())
			row.Cost = row.Cost.Add(line.Cost())
		}
	}

	out := make([]BatchProfitRow, 0, len(rows))
	for _, row := range rows {
		row.Profit = row.Revenue.Sub(row.Cost)
		out = append(out, *row)
	}
	sort.Slice(out, func(i, j int) bool {
		if c := out[i].Profit.Cmp(out[j].Profit); c != 0 {
			return c > 0
		}
		return out[i].BatchID < out[j].BatchID
	})
	return out
}

// StockValue sums active batches per catalog medicine. Medicines with no
// stock are listed with zero totals.
func StockValue(batches []domain.Batch, medicines []domain.Medicine) []StockValueRow {
	rows := make(map[string]*StockValueRow, len(medicines))
	for _, m := range medicines {
		rows[m.ID] = &StockValueRow{
			MedicineID:   m.ID,
			MedicineName: m.Name,
			Category:     m.Category,
			CostValue:    decimal.Zero,
			RetailValue:  decimal.Zero,
		}
	}

	for i := range batches {
		b := &batches[i]
		if !b.IsAvailable() {
			continue
		}
		row, ok := rows[b.MedicineID]
		if !ok {
			row = &StockValueRow{MedicineID: b.MedicineID, CostValue: decimal.Zero, RetailValue: decimal.Zero}
			rows[b.MedicineID] = row
		}
		qty := decimal.NewFromInt(int64(b.Quantity))
		row.Batches++
		row.Quantity += b.Quantity
		row.CostValue = row.CostValue.Add(b.PurchasePrice.Mul(qty))
		row.RetailValue = row.RetailValue.Add(b.SalePrice.Mul(qty))
	}

	out := make([]StockValueRow, 0, len(rows))
	for _, row := range rows {
		out = append(out, *row)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].MedicineName != out[j].MedicineName {
			return out[i].MedicineName < out[j].MedicineName
		}
		return out[i].MedicineID < out[j].MedicineID
	})
	return out
}

func medicineNames(medicines []domain.Medicine) map[string]string {
	names := make(map[string]string, len(medicines))
	for _, m := range medicines {
		names[m.ID] = m.Name
	}
	return names
}

// Source is the ledger read side
type Source interface {
	Batches() []domain.Batch
	Medicines() []domain.Medicine
}

// SaleLister lists journaled sales in a window
type SaleLister interface {
	ListSales(ctx context.Context, w domain.Window) ([]domain.Sale, error)
}

// Exporter builds export tables from the ledger and the journal
type Exporter struct {
	source Source
	sales  SaleLister
	logger *logger.Logger
}

// NewExporter creates a new exporter
func NewExporter(source Source, sales SaleLister, log *logger.Logger) *Exporter {
	return &Exporter{
		source: source,
		sales:  sales,
		logger: log.WithComponent("export"),
	}
}

// BatchProfit builds the per-batch profit table for w
func (e *Exporter) BatchProfit(ctx context.Context, w domain.Window) ([]BatchProfitRow, error) {
	sales, err := e.sales.ListSales(ctx, w)
	if err != nil {
		return nil, err
	}
	return BatchProfit(w, e.source.Batches(), e.source.Medicines(), sales), nil
}

// StockValue builds the per-medicine stock value table
func (e *Exporter) StockValue(ctx context.Context) []StockValueRow {
	return StockValue(e.source.Batches(), e.source.Medicines())
}
