package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/medflow/medflow-pharmacy/internal/pharmacy/domain"
	"github.com/medflow/medflow-pharmacy/internal/pharmacy/fefo"
	"github.com/medflow/medflow-pharmacy/pkg/httputil"
	"github.com/shopspring/decimal"
)

type dispenseRequest struct {
	BatchID       string               `json:"batch_id"`
	Quantity      int                  `json:"quantity"`
	Mode          domain.FefoMode      `json:"mode"`
	PaymentMethod domain.PaymentMethod `json:"payment_method"`
}

// Dispense dispenses from a requested batch under the FEFO policy. A
// dispense from the suggested batch returns 201 with the sale; a suggest
// mode override returns 202 with the pending override to confirm.
// POST /medicines/{id}/dispense
func (h *Handler) Dispense(w http.ResponseWriter, r *http.Request) {
	var req dispenseRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.Error(w, err)
		return
	}

	sel, err := h.selector.SelectBatch(r.Context(), fefo.Request{
		MedicineID:    chi.URLParam(r, "id"),
		BatchID:       req.BatchID,
		Quantity:      req.Quantity,
		Mode:          req.Mode,
		PaymentMethod: req.PaymentMethod,
	})
	if err != nil {
		httputil.Error(w, err)
		return
	}

	if sel.Pending != nil {
		httputil.JSON(w, http.StatusAccepted, sel)
		return
	}
	httputil.Created(w, sel)
}

// ConfirmOverride dispenses a pending override
// POST /overrides/{id}/confirm
func (h *Handler) ConfirmOverride(w http.ResponseWriter, r *http.Request) {
	sale, err := h.selector.ConfirmOverride(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httputil.Error(w, err)
		return
	}
	httputil.Created(w, sale)
}

// CancelOverride discards a pending override
// DELETE /overrides/{id}
func (h *Handler) CancelOverride(w http.ResponseWriter, r *http.Request) {
	h.selector.CancelOverride(chi.URLParam(r, "id"))
	httputil.NoContent(w)
}

type saleLineRequest struct {
	BatchID   string          `json:"batch_id" validate:"required"`
	Quantity  int             `json:"quantity" validate:"gt=0"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

type saleRequest struct {
	PaymentMethod domain.PaymentMethod `json:"payment_method" validate:"omitempty,oneof=cash credit"`
	Lines         []saleLineRequest    `json:"lines" validate:"required,min=1,dive"`
}

// CommitSale records a multi-line sale. All lines succeed or none do.
// POST /sales
func (h *Handler) CommitSale(w http.ResponseWriter, r *http.Request) {
	var req saleRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.Error(w, err)
		return
	}
	if err := httputil.Validate(&req); err != nil {
		httputil.Error(w, err)
		return
	}

	sale := &domain.Sale{PaymentMethod: req.PaymentMethod}
	for _, l := range req.Lines {
		sale.Lines = append(sale.Lines, domain.SaleLine{
			BatchID:   l.BatchID,
			Quantity:  l.Quantity,
			UnitPrice: l.UnitPrice,
		})
	}

	if err := h.ledger.CommitSale(r.Context(), sale); err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.Created(w, sale)
}
