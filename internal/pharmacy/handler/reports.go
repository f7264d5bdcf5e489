package handler

import (
	"net/http"
	"time"

	"github.com/medflow/medflow-pharmacy/internal/pharmacy/alerts"
	"github.com/medflow/medflow-pharmacy/internal/pharmacy/domain"
	"github.com/medflow/medflow-pharmacy/pkg/httputil"
	"github.com/shopspring/decimal"
)

// ExpiryRiskReport scores every available batch
// GET /reports/expiry-risk
func (h *Handler) ExpiryRiskReport(w http.ResponseWriter, r *http.Request) {
	httputil.JSON(w, http.StatusOK, h.scorer.GetExpiryRiskReport(r.Context()))
}

// LowStockAlerts lists reorder alerts, minus dismissed ids
// GET /alerts/low-stock?dismissed=a,b
func (h *Handler) LowStockAlerts(w http.ResponseWriter, r *http.Request) {
	list := alerts.Without(h.alerts.GetLowStockAlerts(r.Context()), dismissedIDs(r))
	httputil.JSON(w, http.StatusOK, list)
}

// ExpiryAlerts lists expiry alerts, minus dismissed ids
// GET /alerts/expiry?dismissed=a,b
func (h *Handler) ExpiryAlerts(w http.ResponseWriter, r *http.Request) {
	list := alerts.Without(h.alerts.GetExpiryAlerts(r.Context()), dismissedIDs(r))
	httputil.JSON(w, http.StatusOK, list)
}

// KPIs computes the KPI snapshot for a window
// GET /kpis?from=&to=
func (h *Handler) KPIs(w http.ResponseWriter, r *http.Request) {
	win, err := parseWindow(r, h.ledger.Now())
	if err != nil {
		httputil.Error(w, err)
		return
	}

	snap, err := h.kpis.ComputeKPIs(r.Context(), win)
	if err != nil {
		httputil.Error(w, err)
		return
	}
	httputil.JSON(w, http.StatusOK, snap)
}

// BatchProfitExport returns the per-batch profit table
// GET /exports/batch-profit?from=&to=
func (h *Handler) BatchProfitExport(w http.ResponseWriter, r *http.Request) {
	win, err := parseWindow(r, h.ledger.Now())
	if err != nil {
		httputil.Error(w, err)
		return
	}

	rows, err := h.exporter.BatchProfit(r.Context(), win)
	if err != nil {
		httputil.Error(w, err)
		return
	}
	httputil.JSON(w, http.StatusOK, rows)
}

// StockValueExport returns the per-medicine stock value table
// GET /exports/stock-value
func (h *Handler) StockValueExport(w http.ResponseWriter, r *http.Request) {
	httputil.JSON(w, http.StatusOK, h.exporter.StockValue(r.Context()))
}

// RecordExpense feeds an operating expense into the KPI net profit
// POST /expenses
func (h *Handler) RecordExpense(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Category   string          `json:"category" validate:"required"`
		Amount     decimal.Decimal `json:"amount"`
		IncurredAt time.Time       `json:"incurred_at" validate:"required"`
	}
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.Error(w, err)
		return
	}
	if err := httputil.Validate(&req); err != nil {
		httputil.Error(w, err)
		return
	}

	e := &domain.Expense{Category: req.Category, Amount: req.Amount, IncurredAt: req.IncurredAt}
	if err := h.expenses.RecordExpense(r.Context(), e); err != nil {
		httputil.Error(w, err)
		return
	}
	httputil.Created(w, e)
}
