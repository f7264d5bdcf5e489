package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/medflow/medflow-pharmacy/internal/pharmacy/domain"
	"github.com/medflow/medflow-pharmacy/pkg/database"
	"github.com/medflow/medflow-pharmacy/pkg/logger"
)

// SaleJournal persists the journal to PostgreSQL
type SaleJournal struct {
	db     *database.DB
	logger *logger.Logger
}

// NewSaleJournal creates a new Postgres journal
func NewSaleJournal(db *database.DB, log *logger.Logger) *SaleJournal {
	return &SaleJournal{
		db:     db,
		logger: log.WithComponent("sale_journal"),
	}
}

const (
	insertSale = `
		INSERT INTO sales (id, status, payment_method, performed_by, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`
	insertSaleLine = `
		INSERT INTO sale_lines (
			sale_id, line_no, batch_id, medicine_id, quantity, unit_price, unit_cost, fefo_override
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	insertAdjustment = `
		INSERT INTO stock_adjustments (
			id, batch_id, medicine_id, delta, previous_quantity, new_quantity,
			reason, note, unit_cost, performed_by, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`
	insertExpense = `
		INSERT INTO expenses (id, category, amount, incurred_at)
		VALUES ($1, $2, $3, $4)
	`
	selectSales = `
		SELECT id, status, payment_method, performed_by, created_at
		FROM sales
		WHERE created_at >= $1 AND created_at < $2
		ORDER BY created_at, id
	`
	selectSaleLines = `
		SELECT l.sale_id, l.batch_id, l.medicine_id, l.quantity, l.unit_price, l.unit_cost, l.fefo_override
		FROM sale_lines l
		JOIN sales s ON s.id = l.sale_id
		WHERE s.created_at >= $1 AND s.created_at < $2
		ORDER BY l.sale_id, l.line_no
	`
	selectAdjustments = `
		SELECT id, batch_id, medicine_id, delta, previous_quantity, new_quantity,
			reason, note, unit_cost, performed_by, created_at
		FROM stock_adjustments
		WHERE created_at >= $1 AND created_at < $2
		ORDER BY created_at, id
	`
	selectExpenses = `
		SELECT id, category, amount, incurred_at
		FROM expenses
		WHERE incurred_at >= $1 AND incurred_at < $2
		ORDER BY incurred_at, id
	`
)

// RecordSale writes the sale and its lines in one transaction
func (j *SaleJournal) RecordSale(ctx context.Context, sale *domain.Sale) error {
	err := j.db.Transaction(ctx, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, insertSale,
			sale.ID, sale.Status, sale.PaymentMethod, sale.PerformedBy, sale.CreatedAt,
		); err != nil {
			return err
		}
		for i, line := range sale.Lines {
			if _, err := tx.ExecContext(ctx, insertSaleLine,
				sale.ID, i+1, line.BatchID, line.MedicineID, line.Quantity,
				line.UnitPrice, line.UnitCost, line.FefoOverride,
			); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		j.logger.Error().Err(err).Str("sale_id", sale.ID).Msg("failed to record sale")
		return mapError(err)
	}
	return nil
}

// RecordAdjustment writes one stock adjustment
func (j *SaleJournal) RecordAdjustment(ctx context.Context, adj *domain.StockAdjustment) error {
	err := j.db.Transaction(ctx, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, insertAdjustment,
			adj.ID, adj.BatchID, adj.MedicineID, adj.Delta, adj.PreviousQuantity, adj.NewQuantity,
			adj.Reason, adj.Note, adj.UnitCost, adj.PerformedBy, adj.CreatedAt,
		)
		return err
	})
	if err != nil {
		j.logger.Error().Err(err).Str("adjustment_id", adj.ID).Msg("failed to record stock adjustment")
		return mapError(err)
	}
	return nil
}

// RecordExpense writes one operating expense
func (j *SaleJournal) RecordExpense(ctx context.Context, e *domain.Expense) error {
	if err := validateExpense(e); err != nil {
		return err
	}
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if _, err := j.db.ExecContext(ctx, insertExpense, e.ID, e.Category, e.Amount, e.IncurredAt); err != nil {
		return mapError(err)
	}
	return nil
}

// ListSales returns sales created in w with their lines
func (j *SaleJournal) ListSales(ctx context.Context, w domain.Window) ([]domain.Sale, error) {
	var sales []domain.Sale
	if err := j.db.SelectContext(ctx, &sales, selectSales, w.From, w.To); err != nil {
		return nil, err
	}
	if len(sales) == 0 {
		return []domain.Sale{}, nil
	}

	var lines []domain.SaleLine
	if err := j.db.SelectContext(ctx, &lines, selectSaleLines, w.From, w.To); err != nil {
		return nil, err
	}

	bySale := make(map[string][]domain.SaleLine, len(sales))
	for _, l := range lines {
		bySale[l.SaleID] = append(bySale[l.SaleID], l)
	}
	for i := range sales {
		sales[i].Lines = bySale[sales[i].ID]
	}
	return sales, nil
}

// ListAdjustments returns adjustments created in w
func (j *SaleJournal) ListAdjustments(ctx context.Context, w domain.Window) ([]domain.StockAdjustment, error) {
	adjustments := []domain.StockAdjustment{}
	if err := j.db.SelectContext(ctx, &adjustments, selectAdjustments, w.From, w.To); err != nil {
		return nil, err
	}
	return adjustments, nil
}

// ListExpenses returns expenses incurred in w
func (j *SaleJournal) ListExpenses(ctx context.Context, w domain.Window) ([]domain.Expense, error) {
	expenses := []domain.Expense{}
	if err := j.db.SelectContext(ctx, &expenses, selectExpenses, w.From, w.To); err != nil {
		return nil, err
	}
	return expenses, nil
}

// mapError turns constraint violations into application errors
func mapError(err error) error {
	if appErr := database.MapPQError(err); appErr != nil {
		return appErr
	}
	return err
}
