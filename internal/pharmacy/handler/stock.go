package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/medflow/medflow-pharmacy/internal/pharmacy/domain"
	"github.com/medflow/medflow-pharmacy/pkg/errors"
	"github.com/medflow/medflow-pharmacy/pkg/httputil"
	"github.com/shopspring/decimal"
)

type medicineRequest struct {
	Name            string `json:"name" validate:"required"`
	Category        string `json:"category"`
	ReorderLevel    int    `json:"reorder_level" validate:"gte=0"`
	ReorderQuantity int    `json:"reorder_quantity" validate:"gte=0"`
	IsActive        *bool  `json:"is_active"`
}

// PutMedicine inserts or replaces a catalog entry
// PUT /medicines/{id}
func (h *Handler) PutMedicine(w http.ResponseWriter, r *http.Request) {
	var req medicineRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.Error(w, err)
		return
	}
	if err := httputil.Validate(&req); err != nil {
		httputil.Error(w, err)
		return
	}

	m := domain.Medicine{
		ID:              chi.URLParam(r, "id"),
		Name:            req.Name,
		Category:        req.Category,
		ReorderLevel:    req.ReorderLevel,
		ReorderQuantity: req.ReorderQuantity,
		IsActive:        req.IsActive == nil || *req.IsActive,
	}
	if err := h.ledger.PutMedicine(m); err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, m)
}

// GetStock returns the sum over active batches
// GET /medicines/{id}/stock
func (h *Handler) GetStock(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	httputil.JSON(w, http.StatusOK, map[string]interface{}{
		"medicine_id": id,
		"stock":       h.ledger.GetMedicineStock(id),
	})
}

// ListBatches lists available batches in dispensing order
// GET /medicines/{id}/batches
func (h *Handler) ListBatches(w http.ResponseWriter, r *http.Request) {
	batches := h.selector.GetFEFOBatches(chi.URLParam(r, "id"))
	if batches == nil {
		batches = []domain.Batch{}
	}
	httputil.JSON(w, http.StatusOK, batches)
}

// GetSuggestedBatch returns the batch FEFO dispenses from next
// GET /medicines/{id}/batches/suggested
func (h *Handler) GetSuggestedBatch(w http.ResponseWriter, r *http.Request) {
	b, ok := h.selector.GetSuggestedBatch(chi.URLParam(r, "id"))
	if !ok {
		httputil.Error(w, errors.NotFound("available batch"))
		return
	}
	httputil.JSON(w, http.StatusOK, b)
}

type receiveRequest struct {
	ID            string          `json:"id"`
	BatchNumber   string          `json:"batch_number" validate:"required,max=64"`
	ExpiryDate    time.Time       `json:"expiry_date" validate:"required"`
	Quantity      int             `json:"quantity" validate:"gt=0"`
	PurchasePrice decimal.Decimal `json:"purchase_price"`
	SalePrice     decimal.Decimal `json:"sale_price"`
}

// ReceiveBatch adds a received batch
// POST /medicines/{id}/batches
func (h *Handler) ReceiveBatch(w http.ResponseWriter, r *http.Request) {
	var req receiveRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.Error(w, err)
		return
	}
	if err := httputil.Validate(&req); err != nil {
		httputil.Error(w, err)
		return
	}

	batch, err := h.ledger.AddBatch(r.Context(), domain.Batch{
		ID:            req.ID,
		MedicineID:    chi.URLParam(r, "id"),
		BatchNumber:   req.BatchNumber,
		ExpiryDate:    req.ExpiryDate,
		Quantity:      req.Quantity,
		PurchasePrice: req.PurchasePrice,
		SalePrice:     req.SalePrice,
	})
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.Created(w, batch)
}

// GetBatch gets a batch by ID
// GET /batches/{id}
func (h *Handler) GetBatch(w http.ResponseWriter, r *http.Request) {
	b, err := h.ledger.GetBatch(chi.URLParam(r, "id"))
	if err != nil {
		httputil.Error(w, err)
		return
	}
	httputil.JSON(w, http.StatusOK, b)
}

// AdjustBatch applies an administrative stock correction
// POST /batches/{id}/adjust
func (h *Handler) AdjustBatch(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Delta  int                     `json:"delta" validate:"ne=0"`
		Reason domain.AdjustmentReason `json:"reason" validate:"required,oneof=damage theft expired correction count"`
		Note   string                  `json:"note"`
	}
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.Error(w, err)
		return
	}
	if err := httputil.Validate(&req); err != nil {
		httputil.Error(w, err)
		return
	}

	adj, err := h.ledger.AdjustBatch(r.Context(), chi.URLParam(r, "id"), req.Delta, req.Reason, req.Note)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, adj)
}

// DeactivateBatch withdraws a batch from dispensing
// POST /batches/{id}/deactivate
func (h *Handler) DeactivateBatch(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Reason string `json:"reason" validate:"required"`
	}
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.Error(w, err)
		return
	}
	if err := httputil.Validate(&req); err != nil {
		httputil.Error(w, err)
		return
	}

	b, err := h.ledger.DeactivateBatch(r.Context(), chi.URLParam(r, "id"), req.Reason)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, b)
}
