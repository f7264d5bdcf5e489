package ledger_test

import (
	"context"
	stderrors "errors"
	"sync"
	"testing"
	"time"

	"github.com/medflow/medflow-pharmacy/internal/pharmacy/audit"
	"github.com/medflow/medflow-pharmacy/internal/pharmacy/domain"
	"github.com/medflow/medflow-pharmacy/internal/pharmacy/ledger"
	"github.com/medflow/medflow-pharmacy/pkg/actor"
	"github.com/medflow/medflow-pharmacy/pkg/errors"
	"github.com/medflow/medflow-pharmacy/pkg/logger"
	"github.com/medflow/medflow-pharmacy/pkg/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

type stubJournal struct {
	mu          sync.Mutex
	sales       []*domain.Sale
	adjustments []*domain.StockAdjustment
	err         error
}

func (j *stubJournal) RecordSale(_ context.Context, sale *domain.Sale) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.err != nil {
		return j.err
	}
	j.sales = append(j.sales, sale)
	return nil
}

func (j *stubJournal) RecordAdjustment(_ context.Context, adj *domain.StockAdjustment) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.err != nil {
		return j.err
	}
	j.adjustments = append(j.adjustments, adj)
	return nil
}

func newLedger(t *testing.T) (*ledger.Ledger, *stubJournal, *testutil.RecordingSink, *testutil.FixtureFactory) {
	t.Helper()
	journal := &stubJournal{}
	sink := testutil.NewRecordingSink()
	l := ledger.New(journal, logger.Nop(),
		ledger.WithClock(testutil.NewFixedClock(now)),
		ledger.WithAudit(sink),
	)
	return l, journal, sink, testutil.NewFixtureFactory(now)
}

func addBatch(t *testing.T, l *ledger.Ledger, b domain.Batch) *domain.Batch {
	t.Helper()
	added, err := l.AddBatch(context.Background(), b)
	require.NoError(t, err)
	return added
}

func TestAddBatch(t *testing.T) {
	l, _, _, f := newLedger(t)

	b := f.Batch("med-1", testutil.WithQuantity(40))
	b.ID = ""
	b.CreatedAt = time.Time{}

	added, err := l.AddBatch(context.Background(), b)
	require.NoError(t, err)

	assert.NotEmpty(t, added.ID)
	assert.True(t, added.IsActive)
	assert.Equal(t, 40, added.ReceivedQuantity)
	assert.Equal(t, now, added.CreatedAt)
	assert.Equal(t, 40, l.GetMedicineStock("med-1"))

	stored, err := l.GetBatch(added.ID)
	require.NoError(t, err)
	assert.Equal(t, *added, *stored)
}

func TestAddBatch_Validation(t *testing.T) {
	f := testutil.NewFixtureFactory(now)

	tests := []struct {
		name   string
		mutate func(*domain.Batch)
		field  string
	}{
		{"zero quantity", func(b *domain.Batch) { b.Quantity = 0 }, "quantity"},
		{"negative quantity", func(b *domain.Batch) { b.Quantity = -3 }, "quantity"},
		{"missing medicine", func(b *domain.Batch) { b.MedicineID = "" }, "medicine_id"},
		{"missing batch number", func(b *domain.Batch) { b.BatchNumber = "" }, "batch_number"},
		{"missing expiry", func(b *domain.Batch) { b.ExpiryDate = time.Time{} }, "expiry_date"},
		{"negative purchase price", func(b *domain.Batch) { b.PurchasePrice = decimal.NewFromInt(-1) }, "purchase_price"},
		{"negative sale price", func(b *domain.Batch) { b.SalePrice = decimal.NewFromFloat(-0.5) }, "sale_price"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l, _, _, _ := newLedger(t)
			b := f.Batch("med-1")
			tt.mutate(&b)

			_, err := l.AddBatch(context.Background(), b)
			require.Error(t, err)
			assert.True(t, errors.Is(err, errors.ErrValidation))

			var appErr *errors.AppError
			require.True(t, errors.As(err, &appErr))
			assert.Contains(t, appErr.Details, tt.field)
			assert.Empty(t, l.Batches())
		})
	}
}

func TestAddBatch_DuplicateID(t *testing.T) {
	l, _, _, f := newLedger(t)
	b := addBatch(t, l, f.Batch("med-1"))

	_, err := l.AddBatch(context.Background(), *b)
	assert.True(t, errors.Is(err, errors.ErrConflict))
}

func TestGetMedicineStock(t *testing.T) {
	l, _, _, f := newLedger(t)
	ctx := context.Background()

	addBatch(t, l, f.Batch("med-1", testutil.WithQuantity(10)))
	b2 := addBatch(t, l, f.Batch("med-1", testutil.WithQuantity(25)))
	addBatch(t, l, f.Batch("med-2", testutil.WithQuantity(7)))

	assert.Equal(t, 35, l.GetMedicineStock("med-1"))
	assert.Equal(t, 7, l.GetMedicineStock("med-2"))
	assert.Equal(t, 0, l.GetMedicineStock("unknown"))

	_, err := l.DeactivateBatch(ctx, b2.ID, "recall")
	require.NoError(t, err)
	assert.Equal(t, 10, l.GetMedicineStock("med-1"))
}

func TestListAvailableBatches(t *testing.T) {
	l, _, _, f := newLedger(t)
	ctx := context.Background()

	b1 := addBatch(t, l, f.Batch("med-1", testutil.WithQuantity(5)))
	b2 := addBatch(t, l, f.Batch("med-1", testutil.WithQuantity(5)))
	b3 := addBatch(t, l, f.Batch("med-1", testutil.WithQuantity(5)))

	_, err := l.DecrementBatch(ctx, b1.ID, 5)
	require.NoError(t, err)
	_, err = l.DeactivateBatch(ctx, b2.ID, "damaged packaging")
	require.NoError(t, err)

	available := l.ListAvailableBatches("med-1")
	require.Len(t, available, 1)
	assert.Equal(t, b3.ID, available[0].ID)

	// exhausted batches are kept with zero quantity
	exhausted, err := l.GetBatch(b1.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, exhausted.Quantity)
	assert.True(t, exhausted.IsActive)
}

func TestDecrementBatch(t *testing.T) {
	l, journal, _, f := newLedger(t)
	ctx := actor.WithActor(context.Background(), &actor.Actor{ID: "pharmacist-1"})

	b := addBatch(t, l, f.Batch("med-1", testutil.WithQuantity(10), testutil.WithPrices("2.50", "4.00")))

	sale, err := l.DecrementBatch(ctx, b.ID, 4)
	require.NoError(t, err)

	assert.Equal(t, 6, l.GetMedicineStock("med-1"))
	assert.Equal(t, domain.SaleCompleted, sale.Status)
	assert.Equal(t, domain.PaymentCash, sale.PaymentMethod)
	assert.Equal(t, "pharmacist-1", sale.PerformedBy)
	require.Len(t, sale.Lines, 1)
	assert.Equal(t, "med-1", sale.Lines[0].MedicineID)
	assert.True(t, decimal.RequireFromString("4.00").Equal(sale.Lines[0].UnitPrice))
	assert.True(t, decimal.RequireFromString("2.50").Equal(sale.Lines[0].UnitCost))
	assert.True(t, decimal.NewFromInt(16).Equal(sale.Total()))

	require.Len(t, journal.sales, 1)
	assert.Equal(t, sale.ID, journal.sales[0].ID)
}

func TestDecrementBatch_Errors(t *testing.T) {
	l, journal, _, f := newLedger(t)
	ctx := context.Background()
	b := addBatch(t, l, f.Batch("med-1", testutil.WithQuantity(3)))

	t.Run("over decrement is rejected atomically", func(t *testing.T) {
		_, err := l.DecrementBatch(ctx, b.ID, 4)
		require.Error(t, err)
		assert.True(t, errors.Is(err, errors.ErrInsufficientStock))
		assert.Equal(t, 3, l.GetMedicineStock("med-1"))
	})

	t.Run("non-positive quantity", func(t *testing.T) {
		_, err := l.DecrementBatch(ctx, b.ID, 0)
		assert.True(t, errors.Is(err, errors.ErrValidation))
	})

	t.Run("unknown batch", func(t *testing.T) {
		_, err := l.DecrementBatch(ctx, "missing", 1)
		assert.True(t, errors.Is(err, errors.ErrNotFound))
	})

	t.Run("inactive batch", func(t *testing.T) {
		other := addBatch(t, l, f.Batch("med-1", testutil.WithQuantity(8)))
		_, err := l.DeactivateBatch(ctx, other.ID, "recall")
		require.NoError(t, err)

		_, err = l.DecrementBatch(ctx, other.ID, 1)
		assert.True(t, errors.Is(err, errors.ErrInsufficientStock))
	})

	assert.Empty(t, journal.sales)
}

func TestDecrementBatch_JournalFailureLeavesQuantity(t *testing.T) {
	l, journal, _, f := newLedger(t)
	b := addBatch(t, l, f.Batch("med-1", testutil.WithQuantity(10)))
	journal.err = stderrors.New("connection reset")

	_, err := l.DecrementBatch(context.Background(), b.ID, 2)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrInternal) || stderrors.Is(err, journal.err))
	assert.Equal(t, 10, l.GetMedicineStock("med-1"))
}

func TestDecrementBatch_JournalAppErrorPassesThrough(t *testing.T) {
	l, journal, _, f := newLedger(t)
	b := addBatch(t, l, f.Batch("med-1", testutil.WithQuantity(10)))
	journal.err = errors.Conflict("a sale with this id has already been recorded")

	_, err := l.DecrementBatch(context.Background(), b.ID, 2)
	assert.True(t, errors.Is(err, errors.ErrConflict))
	assert.Equal(t, 10, l.GetMedicineStock("med-1"))
}

func TestCommitSale_MultiLine(t *testing.T) {
	l, journal, _, f := newLedger(t)
	ctx := context.Background()

	a := addBatch(t, l, f.Batch("med-a", testutil.WithQuantity(10)))
	b := addBatch(t, l, f.Batch("med-b", testutil.WithQuantity(5)))

	sale := &domain.Sale{
		PaymentMethod: domain.PaymentCredit,
		Lines: []domain.SaleLine{
			{BatchID: a.ID, Quantity: 3, UnitPrice: decimal.NewFromInt(7)},
			{BatchID: b.ID, Quantity: 5},
		},
	}
	require.NoError(t, l.CommitSale(ctx, sale))

	assert.Equal(t, 7, l.GetMedicineStock("med-a"))
	assert.Equal(t, 0, l.GetMedicineStock("med-b"))
	assert.True(t, decimal.NewFromInt(7).Equal(sale.Lines[0].UnitPrice))
	assert.True(t, b.SalePrice.Equal(sale.Lines[1].UnitPrice))
	for _, line := range sale.Lines {
		assert.Equal(t, sale.ID, line.SaleID)
	}
	require.Len(t, journal.sales, 1)
}

func TestCommitSale_AnyFailingLineLeavesAllQuantities(t *testing.T) {
	l, journal, _, f := newLedger(t)
	ctx := context.Background()

	a := addBatch(t, l, f.Batch("med-a", testutil.WithQuantity(10)))
	b := addBatch(t, l, f.Batch("med-b", testutil.WithQuantity(2)))

	err := l.CommitSale(ctx, &domain.Sale{Lines: []domain.SaleLine{
		{BatchID: a.ID, Quantity: 4},
		{BatchID: b.ID, Quantity: 3},
	}})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrInsufficientStock))

	assert.Equal(t, 10, l.GetMedicineStock("med-a"))
	assert.Equal(t, 2, l.GetMedicineStock("med-b"))
	assert.Empty(t, journal.sales)
}

func TestCommitSale_Checks(t *testing.T) {
	l, journal, _, f := newLedger(t)
	ctx := context.Background()
	a := addBatch(t, l, f.Batch("med-a", testutil.WithQuantity(10)))

	refused := stderrors.New("refused")
	err := l.CommitSale(ctx, &domain.Sale{Lines: []domain.SaleLine{{BatchID: a.ID, Quantity: 2}}},
		func(sale *domain.Sale) error {
			// lines are prepared before checks run
			assert.Equal(t, "med-a", sale.Lines[0].MedicineID)
			return refused
		})
	assert.ErrorIs(t, err, refused)
	assert.Equal(t, 10, l.GetMedicineStock("med-a"))
	assert.Empty(t, journal.sales)

	sale := &domain.Sale{Lines: []domain.SaleLine{{BatchID: a.ID, Quantity: 2}}}
	err = l.CommitSale(ctx, sale, func(sale *domain.Sale) error {
		// a check may read the ledger without deadlocking
		assert.Len(t, l.ListAvailableBatches("med-a"), 1)
		sale.Lines[0].FefoOverride = true
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 8, l.GetMedicineStock("med-a"))
	require.Len(t, journal.sales, 1)
	assert.True(t, journal.sales[0].Lines[0].FefoOverride)
}

func TestCommitSale_SameBatchOnTwoLinesUsesCombinedDemand(t *testing.T) {
	l, _, _, f := newLedger(t)
	b := addBatch(t, l, f.Batch("med-a", testutil.WithQuantity(5)))

	err := l.CommitSale(context.Background(), &domain.Sale{Lines: []domain.SaleLine{
		{BatchID: b.ID, Quantity: 3},
		{BatchID: b.ID, Quantity: 3},
	}})
	assert.True(t, errors.Is(err, errors.ErrInsufficientStock))
	assert.Equal(t, 5, l.GetMedicineStock("med-a"))
}

func TestCommitSale_Validation(t *testing.T) {
	l, _, _, f := newLedger(t)
	b := addBatch(t, l, f.Batch("med-a"))

	tests := []struct {
		name string
		sale *domain.Sale
	}{
		{"nil sale", nil},
		{"no lines", &domain.Sale{}},
		{"bad payment method", &domain.Sale{PaymentMethod: "voucher", Lines: []domain.SaleLine{{BatchID: b.ID, Quantity: 1}}}},
		{"zero quantity line", &domain.Sale{Lines: []domain.SaleLine{{BatchID: b.ID, Quantity: 0}}}},
		{"missing batch id", &domain.Sale{Lines: []domain.SaleLine{{Quantity: 1}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := l.CommitSale(context.Background(), tt.sale)
			assert.True(t, errors.Is(err, errors.ErrValidation))
		})
	}
	assert.Equal(t, 100, l.GetMedicineStock("med-a"))
}

func TestAdjustBatch(t *testing.T) {
	l, journal, sink, f := newLedger(t)
	ctx := actor.WithActor(context.Background(), &actor.Actor{ID: "manager-1"})
	b := addBatch(t, l, f.Batch("med-1", testutil.WithQuantity(12), testutil.WithPrices("3", "6")))

	adj, err := l.AdjustBatch(ctx, b.ID, -2, domain.ReasonDamage, "box crushed")
	require.NoError(t, err)

	assert.Equal(t, 12, adj.PreviousQuantity)
	assert.Equal(t, 10, adj.NewQuantity)
	assert.Equal(t, "manager-1", adj.PerformedBy)
	require.NotNil(t, adj.Note)
	assert.Equal(t, "box crushed", *adj.Note)
	assert.True(t, decimal.NewFromInt(6).Equal(adj.WriteOffValue()))
	assert.Equal(t, 10, l.GetMedicineStock("med-1"))
	require.Len(t, journal.adjustments, 1)

	events := sink.OfType(audit.EventStockAdjusted)
	require.Len(t, events, 1)
	assert.Equal(t, b.ID, events[0].BatchID)
	assert.Equal(t, -2, events[0].Delta)
	assert.Equal(t, 10, events[0].NewQuantity)
	assert.Empty(t, sink.OfType(audit.EventFefoOverride))
}

func TestAdjustBatch_Errors(t *testing.T) {
	l, journal, sink, f := newLedger(t)
	ctx := context.Background()
	b := addBatch(t, l, f.Batch("med-1", testutil.WithQuantity(3)))

	_, err := l.AdjustBatch(ctx, b.ID, -4, domain.ReasonCount, "")
	assert.True(t, errors.Is(err, errors.ErrInsufficientStock))

	_, err = l.AdjustBatch(ctx, b.ID, 0, domain.ReasonCount, "")
	assert.True(t, errors.Is(err, errors.ErrValidation))

	_, err = l.AdjustBatch(ctx, b.ID, 1, "lost", "")
	assert.True(t, errors.Is(err, errors.ErrValidation))

	_, err = l.AdjustBatch(ctx, "missing", 1, domain.ReasonCount, "")
	assert.True(t, errors.Is(err, errors.ErrNotFound))

	journal.err = stderrors.New("disk full")
	_, err = l.AdjustBatch(ctx, b.ID, 5, domain.ReasonCorrection, "")
	assert.Error(t, err)

	assert.Equal(t, 3, l.GetMedicineStock("med-1"))
	assert.Empty(t, sink.Events())
}

func TestDeactivateBatch(t *testing.T) {
	l, _, sink, f := newLedger(t)
	ctx := context.Background()
	b := addBatch(t, l, f.Batch("med-1", testutil.WithQuantity(9)))

	withdrawn, err := l.DeactivateBatch(ctx, b.ID, "manufacturer recall")
	require.NoError(t, err)
	assert.False(t, withdrawn.IsActive)
	require.NotNil(t, withdrawn.DeactivationReason)
	assert.Equal(t, "manufacturer recall", *withdrawn.DeactivationReason)
	assert.Equal(t, 9, withdrawn.Quantity)
	assert.Equal(t, 0, l.GetMedicineStock("med-1"))

	events := sink.OfType(audit.EventBatchDeactivated)
	require.Len(t, events, 1)
	assert.Equal(t, 9, events[0].Quantity)

	_, err = l.DeactivateBatch(ctx, b.ID, "again")
	assert.True(t, errors.Is(err, errors.ErrConflict))

	_, err = l.DeactivateBatch(ctx, b.ID, "")
	assert.True(t, errors.Is(err, errors.ErrValidation))
}

func TestPutMedicine(t *testing.T) {
	l, _, _, f := newLedger(t)
	m := f.Medicine(testutil.WithMedicineName("Amoxicillin 500mg"))

	require.NoError(t, l.PutMedicine(m))
	got, ok := l.Medicine(m.ID)
	require.True(t, ok)
	assert.Equal(t, m, got)
	assert.Len(t, l.Medicines(), 1)

	err := l.PutMedicine(domain.Medicine{ID: "x", ReorderLevel: -1})
	require.Error(t, err)
	var appErr *errors.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Contains(t, appErr.Details, "name")
	assert.Contains(t, appErr.Details, "reorder_level")
}

func TestSnapshotsAreCopies(t *testing.T) {
	l, _, _, f := newLedger(t)
	b := addBatch(t, l, f.Batch("med-1", testutil.WithQuantity(10)))

	snapshot := l.Batches()
	snapshot[0].Quantity = 999

	got, err := l.GetBatch(b.ID)
	require.NoError(t, err)
	got.Quantity = 500

	assert.Equal(t, 10, l.GetMedicineStock("med-1"))
}

func TestConcurrentDecrementsNeverOversell(t *testing.T) {
	l, journal, _, f := newLedger(t)
	b := addBatch(t, l, f.Batch("med-1", testutil.WithQuantity(50)))

	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded := 0
	for i := 0; i < 80; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := l.DecrementBatch(context.Background(), b.ID, 1); err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 50, succeeded)
	assert.Equal(t, 0, l.GetMedicineStock("med-1"))
	assert.Len(t, journal.sales, 50)
}

func TestConcurrentCrossMedicineSales(t *testing.T) {
	l, _, _, f := newLedger(t)
	a := addBatch(t, l, f.Batch("med-a", testutil.WithQuantity(100)))
	b := addBatch(t, l, f.Batch("med-b", testutil.WithQuantity(100)))

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_ = l.CommitSale(context.Background(), &domain.Sale{Lines: []domain.SaleLine{
				{BatchID: a.ID, Quantity: 1}, {BatchID: b.ID, Quantity: 1},
			}})
		}()
		go func() {
			defer wg.Done()
			_ = l.CommitSale(context.Background(), &domain.Sale{Lines: []domain.SaleLine{
				{BatchID: b.ID, Quantity: 1}, {BatchID: a.ID, Quantity: 1},
			}})
		}()
	}
	wg.Wait()

	assert.Equal(t, 0, l.GetMedicineStock("med-a"))
	assert.Equal(t, 0, l.GetMedicineStock("med-b"))
}
