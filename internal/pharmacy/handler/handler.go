// Package handler exposes the dispensing engine over HTTP
package handler

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/medflow/medflow-pharmacy/internal/pharmacy/alerts"
	"github.com/medflow/medflow-pharmacy/internal/pharmacy/domain"
	"github.com/medflow/medflow-pharmacy/internal/pharmacy/export"
	"github.com/medflow/medflow-pharmacy/internal/pharmacy/fefo"
	"github.com/medflow/medflow-pharmacy/internal/pharmacy/kpi"
	"github.com/medflow/medflow-pharmacy/internal/pharmacy/ledger"
	"github.com/medflow/medflow-pharmacy/internal/pharmacy/risk"
	"github.com/medflow/medflow-pharmacy/pkg/errors"
	"github.com/medflow/medflow-pharmacy/pkg/logger"
)

// ExpenseRecorder accepts operating expenses from accounting
type ExpenseRecorder interface {
	RecordExpense(ctx context.Context, e *domain.Expense) error
}

// Services are the engine components behind the HTTP surface
type Services struct {
	Ledger   *ledger.Ledger
	Selector *fefo.Selector
	Scorer   *risk.Scorer
	Alerts   *alerts.Generator
	KPIs     *kpi.Aggregator
	Exporter *export.Exporter
	Expenses ExpenseRecorder
}

// Handler bundles the pharmacy endpoints
type Handler struct {
	ledger   *ledger.Ledger
	selector *fefo.Selector
	scorer   *risk.Scorer
	alerts   *alerts.Generator
	kpis     *kpi.Aggregator
	exporter *export.Exporter
	expenses ExpenseRecorder
	logger   *logger.Logger
}

// New creates a new pharmacy handler
func New(s Services, log *logger.Logger) *Handler {
	return &Handler{
		ledger:   s.Ledger,
		selector: s.Selector,
		scorer:   s.Scorer,
		alerts:   s.Alerts,
		kpis:     s.KPIs,
		exporter: s.Exporter,
		expenses: s.Expenses,
		logger:   log.WithComponent("handler"),
	}
}

// Routes mounts every endpoint on r
func (h *Handler) Routes(r chi.Router) {
	r.Route("/medicines/{id}", func(r chi.Router) {
		r.Put("/", h.PutMedicine)
		r.Get("/stock", h.GetStock)
		r.Get("/batches", h.ListBatches)
		r.Post("/batches", h.ReceiveBatch)
		r.Get("/batches/suggested", h.GetSuggestedBatch)
		r.Post("/dispense", h.Dispense)
	})

	r.Route("/overrides/{id}", func(r chi.Router) {
		r.Post("/confirm", h.ConfirmOverride)
		r.Delete("/", h.CancelOverride)
	})

	r.Route("/batches/{id}", func(r chi.Router) {
		r.Get("/", h.GetBatch)
		r.Post("/adjust", h.AdjustBatch)
		r.Post("/deactivate", h.DeactivateBatch)
	})

	r.Post("/sales", h.CommitSale)
	r.Post("/expenses", h.RecordExpense)

	r.Get("/reports/expiry-risk", h.ExpiryRiskReport)
	r.Get("/alerts/low-stock", h.LowStockAlerts)
	r.Get("/alerts/expiry", h.ExpiryAlerts)
	r.Get("/kpis", h.KPIs)
	r.Get("/exports/batch-profit", h.BatchProfitExport)
	r.Get("/exports/stock-value", h.StockValueExport)
}

// dismissedIDs reads a comma separated ?dismissed= list
func dismissedIDs(r *http.Request) []string {
	raw := r.URL.Query().Get("dismissed")
	if raw == "" {
		return nil
	}
	var ids []string
	for _, id := range strings.Split(raw, ",") {
		if id = strings.TrimSpace(id); id != "" {
			ids = append(ids, id)
		}
	}
	return ids
}

// parseWindow reads ?from=&to= as RFC 3339 timestamps or dates. Missing
// bounds default to the 30 days ending now.
func parseWindow(r *http.Request, now time.Time) (domain.Window, error) {
	w := domain.Window{From: now.AddDate(0, 0, -30), To: now}
	details := map[string]string{}

	if v := r.URL.Query().Get("from"); v != "" {
		t, err := parseTime(v)
		if err != nil {
			details["from"] = "must be an RFC 3339 timestamp or YYYY-MM-DD date"
		}
		w.From = t
	}
	if v := r.URL.Query().Get("to"); v != "" {
		t, err := parseTime(v)
		if err != nil {
			details["to"] = "must be an RFC 3339 timestamp or YYYY-MM-DD date"
		}
		w.To = t
	}
	if len(details) > 0 {
		return domain.Window{}, errors.Validation(details)
	}
	return w, nil
}

func parseTime(v string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t, nil
	}
	return time.Parse(time.DateOnly, v)
}
