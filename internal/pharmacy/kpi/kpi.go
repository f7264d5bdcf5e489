// Package kpi aggregates sales, batches, adjustments and expenses into the
// dashboard performance indicators. Every ratio is finite: a zero
// denominator yields 0, never NaN or Inf.
package kpi

import (
	"context"
	"math"

	"github.com/medflow/medflow-pharmacy/internal/pharmacy/domain"
	"github.com/medflow/medflow-pharmacy/pkg/errors"
	"github.com/medflow/medflow-pharmacy/pkg/logger"
	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// Snapshot is the KPI set for one window
type Snapshot struct {
	Window domain.Window `json:"window"`

	GrossProfitMarginPercent   float64         `json:"gross_profit_margin_percent"`
	InventoryTurnoverRate      float64         `json:"inventory_turnover_rate"`
	AvgTransactionValue        decimal.Decimal `json:"avg_transaction_value"`
	CashCreditRatio            float64         `json:"cash_credit_ratio"`
	DeadStockRatio             float64         `json:"dead_stock_ratio"`
	ExpiryLossReductionPercent float64         `json:"expiry_loss_reduction_percent"`

	TotalRevenue          decimal.Decimal `json:"total_revenue"`
	TotalProfit           decimal.Decimal `json:"total_profit"`
	TotalExpenses         decimal.Decimal `json:"total_expenses"`
	NetProfit             decimal.Decimal `json:"net_profit"`
	CostOfGoodsSold       decimal.Decimal `json:"cost_of_goods_sold"`
	AverageInventoryValue decimal.Decimal `json:"average_inventory_value"`
	CashAmount            decimal.Decimal `json:"cash_amount"`
	CreditAmount          decimal.Decimal `json:"credit_amount"`
	ExpiryLoss            decimal.Decimal `json:"expiry_loss"`
	PriorExpiryLoss       decimal.Decimal `json:"prior_expiry_loss"`
	TransactionCount      int             `json:"transaction_count"`
	StockHoldingBatches   int             `json:"stock_holding_batches"`
	DeadStockBatches      int             `json:"dead_stock_batches"`
}

// Inputs are the raw collections a snapshot is computed from. Records
// outside the window (and its prior window, for expiry loss) are ignored.
type Inputs struct {
	Sales       []domain.Sale
	Batches     []domain.Batch
	Adjustments []domain.StockAdjustment
	Expenses    []domain.Expense
}

// Compute derives the KPI snapshot for window w
func Compute(w domain.Window, in Inputs) *Snapshot {
	s := &Snapshot{Window: w}

	revenue, cogs := decimal.Zero, decimal.Zero
	cash, credit := decimal.Zero, decimal.Zero
	sold := make(map[string]struct{})

	for i := range in.Sales {
		sale := &in.Sales[i]
		if sale.Status != domain.SaleCompleted || !w.Contains(sale.CreatedAt) {
			continue
		}
		s.TransactionCount++

		total := sale.Total()
		revenue = revenue.Add(total)
		switch sale.PaymentMethod {
		case domain.PaymentCash:
			cash = cash.Add(total)
		case domain.PaymentCredit:
			credit = credit.Add(total)
		}
		for _, line := range sale.Lines {
			cogs = cogs.Add(line.Cost())
			sold[line.BatchID] = struct{}{}
		}
	}

	profit := revenue.Sub(cogs)
	s.TotalRevenue = revenue
	s.TotalProfit = profit
	s.CostOfGoodsSold = cogs
	s.CashAmount = cash
	s.CreditAmount = credit
	s.GrossProfitMarginPercent = round2(safeDiv(profit.Mul(hundred), revenue))

	if s.TransactionCount > 0 {
		s.AvgTransactionValue = revenue.Div(decimal.NewFromInt(int64(s.TransactionCount))).Round(2)
	} else {
		s.AvgTransactionValue = decimal.Zero
	}

	if credit.IsZero() {
		s.CashCreditRatio = round2(finite(cash.InexactFloat64()))
	} else {
		s.CashCreditRatio = round2(safeDiv(cash, credit))
	}

	s.AverageInventoryValue = averageInventory(w, in.Batches, cogs)
	s.InventoryTurnoverRate = round2(safeDiv(cogs, s.AverageInventoryValue))

	for i := range in.Batches {
		b := &in.Batches[i]
		if !b.IsAvailable() || !b.CreatedAt.Before(w.To) {
			continue
		}
		s.StockHoldingBatches++
		if _, ok := sold[b.ID]; !ok {
			s.DeadStockBatches++
		}
	}
	s.DeadStockRatio = round2(safeDiv(
		decimal.NewFromInt(int64(s.DeadStockBatches)),
		decimal.NewFromInt(int64(s.StockHoldingBatches)),
	))

	s.ExpiryLoss = expiryLoss(w, in.Batches, in.Adjustments)
	s.PriorExpiryLoss = expiryLoss(w.Prior(), in.Batches, in.Adjustments)
	s.ExpiryLossReductionPercent = round2(safeDiv(
		s.PriorExpiryLoss.Sub(s.ExpiryLoss).Mul(hundred),
		s.PriorExpiryLoss,
	))

	expenses := decimal.Zero
	for _, e := range in.Expenses {
		if w.Contains(e.IncurredAt) {
			expenses = expenses.Add(e.Amount)
		}
	}
	s.TotalExpenses = expenses
	s.NetProfit = profit.Sub(expenses)

	return s
}

// averageInventory is the mean of opening and closing stock value at
// purchase price. Closing is the current value of active batches received
// before the window ends; opening is reconstructed as closing plus cost of
// goods sold minus receipts, floored at zero.
func averageInventory(w domain.Window, batches []domain.Batch, cogs decimal.Decimal) decimal.Decimal {
	closing, receipts := decimal.Zero, decimal.Zero
	for i := range batches {
		b := &batches[i]
		if !b.CreatedAt.Before(w.To) {
			continue
		}
		if b.IsActive {
			closing = closing.Add(b.StockValue())
		}
		if w.Contains(b.CreatedAt) {
			receipts = receipts.Add(b.PurchasePrice.Mul(decimal.NewFromInt(int64(b.ReceivedQuantity))))
		}
	}

	opening := closing.Add(cogs).Sub(receipts)
	if opening.IsNegative() {
		opening = decimal.Zero
	}
	return opening.Add(closing).Div(decimal.NewFromInt(2))
}

// expiryLoss is the purchase value of stock expiring in w plus write-offs
// recorded in w
func expiryLoss(w domain.Window, batches []domain.Batch, adjustments []domain.StockAdjustment) decimal.Decimal {
	loss := decimal.Zero
	for i := range batches {
		b := &batches[i]
		if b.Quantity > 0 && w.Contains(b.ExpiryDate) {
			loss = loss.Add(b.StockValue())
		}
	}
	for i := range adjustments {
		a := &adjustments[i]
		if w.Contains(a.CreatedAt) {
			loss = loss.Add(a.WriteOffValue())
		}
	}
	return loss
}

func safeDiv(n, d decimal.Decimal) float64 {
	if d.IsZero() {
		return 0
	}
	return finite(n.Div(d).InexactFloat64())
}

func finite(f float64) float64 {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0
	}
	return f
}

func round2(f float64) float64 {
	return math.Round(f*100) / 100
}

// History is the read side of the sale journal
type History interface {
	ListSales(ctx context.Context, w domain.Window) ([]domain.Sale, error)
	ListAdjustments(ctx context.Context, w domain.Window) ([]domain.StockAdjustment, error)
	ListExpenses(ctx context.Context, w domain.Window) ([]domain.Expense, error)
}

// BatchSource supplies the current batch snapshot
type BatchSource interface {
	Batches() []domain.Batch
}

// Aggregator computes snapshots from the live ledger and the journal
type Aggregator struct {
	batches BatchSource
	history History
	logger  *logger.Logger
}

// NewAggregator creates a new aggregator
func NewAggregator(batches BatchSource, history History, log *logger.Logger) *Aggregator {
	return &Aggregator{
		batches: batches,
		history: history,
		logger:  log.WithComponent("kpi"),
	}
}

// ComputeKPIs computes the snapshot for [w.From, w.To)
func (a *Aggregator) ComputeKPIs(ctx context.Context, w domain.Window) (*Snapshot, error) {
	if !w.Valid() {
		return nil, errors.Validation(map[string]string{"to": "must be after from"})
	}

	sales, err := a.history.ListSales(ctx, w)
	if err != nil {
		return nil, err
	}
	// expiry loss compares against the prior window of equal length
	adjustments, err := a.history.ListAdjustments(ctx, domain.Window{From: w.Prior().From, To: w.To})
	if err != nil {
		return nil, err
	}
	expenses, err := a.history.ListExpenses(ctx, w)
	if err != nil {
		return nil, err
	}

	snapshot := Compute(w, Inputs{
		Sales:       sales,
		Batches:     a.batches.Batches(),
		Adjustments: adjustments,
		Expenses:    expenses,
	})

	a.logger.Debug().
		Time("from", w.From).
		Time("to", w.To).
		Int("transactions", snapshot.TransactionCount).
		Msg("kpis computed")

	return snapshot, nil
}
