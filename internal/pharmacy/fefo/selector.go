// Package fefo picks the batch to dispense from. Available batches are
// ordered by expiry date, earliest first; the head of that order is the
// suggested batch. Requests for any other batch are either refused (strict
// mode) or held as a pending override until explicitly confirmed (suggest
// mode).
package fefo

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/medflow/medflow-pharmacy/internal/pharmacy/audit"
	"github.com/medflow/medflow-pharmacy/internal/pharmacy/domain"
	"github.com/medflow/medflow-pharmacy/internal/pharmacy/ledger"
	"github.com/medflow/medflow-pharmacy/pkg/actor"
	"github.com/medflow/medflow-pharmacy/pkg/errors"
	"github.com/medflow/medflow-pharmacy/pkg/logger"
	"github.com/medflow/medflow-pharmacy/pkg/metrics"
)

// Ledger is the subset of the batch ledger the selector uses
type Ledger interface {
	ListAvailableBatches(medicineID string) []domain.Batch
	CommitSale(ctx context.Context, sale *domain.Sale, checks ...ledger.SaleCheck) error
}

// errHeadMoved aborts a sale whose requested batch stopped being the FEFO
// head between arbitration and commit
var errHeadMoved = errors.Conflict("suggested batch changed before commit")

// Request asks to dispense quantity units of a medicine from a specific batch
type Request struct {
	MedicineID    string               `json:"medicine_id"`
	BatchID       string               `json:"batch_id"`
	Quantity      int                  `json:"quantity"`
	Mode          domain.FefoMode      `json:"mode,omitempty"`
	PaymentMethod domain.PaymentMethod `json:"payment_method,omitempty"`
}

// PendingOverride is a validated selection waiting for confirmation.
// It is consumed by exactly one ConfirmOverride.
type PendingOverride struct {
	ID               string               `json:"id"`
	MedicineID       string               `json:"medicine_id"`
	RequestedBatchID string               `json:"requested_batch_id"`
	SuggestedBatchID string               `json:"suggested_batch_id"`
	Quantity         int                  `json:"quantity"`
	PaymentMethod    domain.PaymentMethod `json:"payment_method"`
	Mode             domain.FefoMode      `json:"mode"`
	Override         bool                 `json:"override"`
	RequestedBy      string               `json:"requested_by"`
	CreatedAt        time.Time            `json:"created_at"`
	ExpiresAt        time.Time            `json:"expires_at"`
}

// Selection is the outcome of SelectBatch. Exactly one of Sale and Pending is set.
type Selection struct {
	Override         bool             `json:"override"`
	SuggestedBatchID string           `json:"suggested_batch_id"`
	Sale             *domain.Sale     `json:"sale,omitempty"`
	Pending          *PendingOverride `json:"pending,omitempty"`
}

// Selector arbitrates dispensing requests against the FEFO policy
type Selector struct {
	ledger  Ledger
	mode    domain.FefoMode
	ttl     time.Duration
	clock   domain.Clock
	audit   audit.Emitter
	metrics *metrics.Metrics
	logger  *logger.Logger

	mu      sync.Mutex
	pending map[string]PendingOverride
}

// Option configures a Selector
type Option func(*Selector)

// WithClock overrides the wall clock
func WithClock(c domain.Clock) Option {
	return func(s *Selector) { s.clock = c }
}

// WithAudit sets the audit emitter
func WithAudit(e audit.Emitter) Option {
	return func(s *Selector) { s.audit = e }
}

// WithMetrics sets the metrics recorder
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Selector) { s.metrics = m }
}

// New creates a selector with a default mode and pending override TTL
func New(l Ledger, mode domain.FefoMode, ttl time.Duration, log *logger.Logger, opts ...Option) *Selector {
	s := &Selector{
		ledger:  l,
		mode:    mode,
		ttl:     ttl,
		clock:   domain.SystemClock{},
		logger:  log.WithComponent("fefo"),
		pending: make(map[string]PendingOverride),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Mode returns the configured default mode
func (s *Selector) Mode() domain.FefoMode {
	return s.mode
}

// Order sorts batches by expiry date, then arrival, then id
func Order(batches []domain.Batch) {
	sort.Slice(batches, func(i, j int) bool {
		a, b := &batches[i], &batches[j]
		if !a.ExpiryDate.Equal(b.ExpiryDate) {
			return a.ExpiryDate.Before(b.ExpiryDate)
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})
}

// GetFEFOBatches returns the medicine's available batches in dispensing order
func (s *Selector) GetFEFOBatches(medicineID string) []domain.Batch {
	batches := s.ledger.ListAvailableBatches(medicineID)
	Order(batches)
	return batches
}

// GetSuggestedBatch returns the batch FEFO would dispense from next
func (s *Selector) GetSuggestedBatch(medicineID string) (*domain.Batch, bool) {
	batches := s.GetFEFOBatches(medicineID)
	if len(batches) == 0 {
		return nil, false
	}
	return &batches[0], true
}

// SelectBatch dispenses immediately when the requested batch is the
// suggested one. Otherwise strict mode refuses and suggest mode returns a
// pending override. Nothing is mutated unless a sale is returned.
//
// The suggested batch is checked again under the ledger's medicine lock. If
// a receipt moved the FEFO head in between, the request is arbitrated
// against the new head.
func (s *Selector) SelectBatch(ctx context.Context, req Request) (*Selection, error) {
	req = s.withDefaults(req)
	requested, suggested, err := s.resolve(req)
	if err != nil {
		return nil, err
	}
	suggestedID := suggested.ID

	if requested.ID == suggestedID {
		sale, err := s.dispense(ctx, req, s.requireHead(req, &suggestedID))
		if err == nil {
			return &Selection{SuggestedBatchID: suggestedID, Sale: sale}, nil
		}
		if !errors.Is(err, errHeadMoved) {
			return nil, err
		}
		s.logger.Info().
			Str("medicine_id", req.MedicineID).
			Str("batch_id", req.BatchID).
			Str("suggested_batch_id", suggestedID).
			Msg("suggested batch changed before commit")
	}

	pending, err := s.propose(ctx, req, suggestedID)
	if err != nil {
		return nil, err
	}
	return &Selection{Override: true, SuggestedBatchID: suggestedID, Pending: pending}, nil
}

// ProposeOverride validates a request and holds it for confirmation without
// touching the ledger. Override is false when the requested batch is the
// suggested one.
func (s *Selector) ProposeOverride(ctx context.Context, req Request) (*PendingOverride, error) {
	req = s.withDefaults(req)
	_, suggested, err := s.resolve(req)
	if err != nil {
		return nil, err
	}
	return s.propose(ctx, req, suggested.ID)
}

// ConfirmOverride consumes a pending override and dispenses it. A second
// confirmation of the same id, or one after expiry, is not found.
//
// Whether the sale is an override is decided again at commit time against
// the current FEFO head, and the audit event names that head.
func (s *Selector) ConfirmOverride(ctx context.Context, pendingID string) (*domain.Sale, error) {
	p, ok := s.take(pendingID)
	if !ok {
		return nil, errors.NotFound("pending override")
	}

	req := Request{
		MedicineID:    p.MedicineID,
		BatchID:       p.RequestedBatchID,
		Quantity:      p.Quantity,
		Mode:          p.Mode,
		PaymentMethod: p.PaymentMethod,
	}
	p.Override = false
	sale, err := s.dispense(ctx, req, func(sale *domain.Sale) error {
		p.SuggestedBatchID = s.headID(p.MedicineID)
		p.Override = p.SuggestedBatchID != p.RequestedBatchID
		if p.Override && p.Mode == domain.FefoStrict {
			s.metrics.RecordFefoViolation()
			return errors.FefoStrictViolation(p.RequestedBatchID, p.SuggestedBatchID)
		}
		for i := range sale.Lines {
			sale.Lines[i].FefoOverride = p.Override
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if p.Override {
		s.metrics.RecordOverrideConfirmed()
		s.logger.Info().
			Str("pending_id", p.ID).
			Str("medicine_id", p.MedicineID).
			Str("batch_id", p.RequestedBatchID).
			Str("suggested_batch_id", p.SuggestedBatchID).
			Int("quantity", p.Quantity).
			Msg("fefo override confirmed")

		if s.audit != nil {
			s.audit.Emit(ctx, audit.Event{
				Type:             audit.EventFefoOverride,
				MedicineID:       p.MedicineID,
				BatchID:          p.RequestedBatchID,
				SuggestedBatchID: p.SuggestedBatchID,
				Quantity:         p.Quantity,
				SaleID:           sale.ID,
				PerformedBy:      actor.IDFromContext(ctx),
				OccurredAt:       sale.CreatedAt,
			})
		}
	}

	return sale, nil
}

// CancelOverride discards a pending override. Unknown ids are ignored.
func (s *Selector) CancelOverride(pendingID string) {
	if _, ok := s.take(pendingID); ok {
		s.logger.Debug().Str("pending_id", pendingID).Msg("pending override cancelled")
	}
}

func (s *Selector) withDefaults(req Request) Request {
	if req.Mode == 0 {
		req.Mode = s.mode
	}
	if req.PaymentMethod == "" {
		req.PaymentMethod = domain.PaymentCash
	}
	return req
}

// resolve validates the request and returns the requested and suggested batches
func (s *Selector) resolve(req Request) (domain.Batch, domain.Batch, error) {
	details := map[string]string{}
	if req.MedicineID == "" {
		details["medicine_id"] = "this field is required"
	}
	if req.BatchID == "" {
		details["batch_id"] = "this field is required"
	}
	if req.Quantity <= 0 {
		details["quantity"] = "must be greater than 0"
	}
	if req.Mode != domain.FefoStrict && req.Mode != domain.FefoSuggest {
		details["mode"] = "must be one of: strict suggest"
	}
	if !req.PaymentMethod.Valid() {
		details["payment_method"] = "must be one of: cash credit"
	}
	if len(details) > 0 {
		return domain.Batch{}, domain.Batch{}, errors.Validation(details)
	}

	batches := s.GetFEFOBatches(req.MedicineID)
	idx := -1
	for i := range batches {
		if batches[i].ID == req.BatchID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return domain.Batch{}, domain.Batch{}, errors.NotFound("batch")
	}

	requested := batches[idx]
	if requested.Quantity < req.Quantity {
		return domain.Batch{}, domain.Batch{}, errors.InsufficientStock(requested.ID, req.Quantity, requested.Quantity)
	}
	return requested, batches[0], nil
}

func (s *Selector) propose(ctx context.Context, req Request, suggestedID string) (*PendingOverride, error) {
	override := req.BatchID != suggestedID
	if override && req.Mode == domain.FefoStrict {
		s.metrics.RecordFefoViolation()
		s.logger.Warn().
			Str("medicine_id", req.MedicineID).
			Str("batch_id", req.BatchID).
			Str("suggested_batch_id", suggestedID).
			Int("quantity", req.Quantity).
			Msg("fefo strict violation")
		return nil, errors.FefoStrictViolation(req.BatchID, suggestedID)
	}

	now := s.clock.Now()
	p := PendingOverride{
		ID:               uuid.New().String(),
		MedicineID:       req.MedicineID,
		RequestedBatchID: req.BatchID,
		SuggestedBatchID: suggestedID,
		Quantity:         req.Quantity,
		PaymentMethod:    req.PaymentMethod,
		Mode:             req.Mode,
		Override:         override,
		RequestedBy:      actor.IDFromContext(ctx),
		CreatedAt:        now,
		ExpiresAt:        now.Add(s.ttl),
	}

	s.mu.Lock()
	s.purgeLocked(now)
	s.pending[p.ID] = p
	s.mu.Unlock()

	if override {
		s.metrics.RecordOverrideProposed()
		s.logger.Info().
			Str("pending_id", p.ID).
			Str("medicine_id", p.MedicineID).
			Str("batch_id", p.RequestedBatchID).
			Str("suggested_batch_id", suggestedID).
			Int("quantity", p.Quantity).
			Msg("fefo override proposed")
	}
	return &p, nil
}

// requireHead aborts the sale unless the requested batch is still the FEFO
// head. The head seen at commit is written to suggestedID.
func (s *Selector) requireHead(req Request, suggestedID *string) ledger.SaleCheck {
	return func(*domain.Sale) error {
		*suggestedID = s.headID(req.MedicineID)
		if *suggestedID != req.BatchID {
			return errHeadMoved
		}
		return nil
	}
}

func (s *Selector) headID(medicineID string) string {
	if b, ok := s.GetSuggestedBatch(medicineID); ok {
		return b.ID
	}
	return ""
}

func (s *Selector) dispense(ctx context.Context, req Request, check ledger.SaleCheck) (*domain.Sale, error) {
	sale := &domain.Sale{
		PaymentMethod: req.PaymentMethod,
		Lines: []domain.SaleLine{{
			BatchID:  req.BatchID,
			Quantity: req.Quantity,
		}},
	}
	if err := s.ledger.CommitSale(ctx, sale, check); err != nil {
		return nil, fmt.Errorf("dispense from batch %s: %w", req.BatchID, err)
	}
	return sale, nil
}

// take removes and returns a live pending override
func (s *Selector) take(id string) (PendingOverride, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.purgeLocked(s.clock.Now())
	p, ok := s.pending[id]
	if ok {
		delete(s.pending, id)
	}
	return p, ok
}

// Pending returns a live pending override without consuming it
func (s *Selector) Pending(id string) (PendingOverride, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.purgeLocked(s.clock.Now())
	p, ok := s.pending[id]
	return p, ok
}

func (s *Selector) purgeLocked(now time.Time) {
	for id, p := range s.pending {
		if !now.Before(p.ExpiresAt) {
			delete(s.pending, id)
		}
	}
}
