package risk_test

import (
	"context"
	"testing"
	"time"

	"github.com/medflow/medflow-pharmacy/internal/pharmacy/domain"
	"github.com/medflow/medflow-pharmacy/internal/pharmacy/risk"
	"github.com/medflow/medflow-pharmacy/pkg/logger"
	"github.com/medflow/medflow-pharmacy/pkg/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	now        = time.Date(2026, 5, 10, 14, 30, 0, 0, time.UTC)
	thresholds = domain.Thresholds{Critical: 30, Warning: 60, Notice: 90}
)

func TestDaysUntilExpiry(t *testing.T) {
	tests := []struct {
		name   string
		expiry time.Time
		want   int
	}{
		{"same instant", now, 0},
		{"one hour left", now.Add(time.Hour), 1},
		{"exactly one day", now.Add(24 * time.Hour), 1},
		{"a day and a minute", now.Add(24*time.Hour + time.Minute), 2},
		{"expired yesterday", now.Add(-24 * time.Hour), -1},
		{"expired an hour ago", now.Add(-time.Hour), 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, risk.DaysUntilExpiry(tt.expiry, now))
		})
	}
}

func TestScoreBatch(t *testing.T) {
	tests := []struct {
		name        string
		days        int
		wantPercent float64
		wantLevel   domain.AlertLevel
	}{
		{"expires today", 0, 100, domain.AlertCritical},
		{"already expired", -5, 100, domain.AlertCritical},
		{"inside critical window", 20, 77.8, domain.AlertCritical},
		{"critical boundary", 30, 66.7, domain.AlertCritical},
		{"warning window", 45, 50, domain.AlertWarning},
		{"warning boundary", 60, 33.3, domain.AlertWarning},
		{"notice window", 75, 16.7, domain.AlertNotice},
		{"at horizon", 90, 0, domain.AlertNotice},
		{"beyond horizon", 95, 0, domain.AlertNone},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := domain.Batch{ExpiryDate: now.Add(time.Duration(tt.days) * 24 * time.Hour)}
			score := risk.ScoreBatch(b, now, thresholds)

			assert.Equal(t, tt.days, score.DaysUntilExpiry)
			assert.InDelta(t, tt.wantPercent, score.RiskPercent, 0.05)
			assert.Equal(t, tt.wantLevel, score.AlertLevel)
		})
	}
}

func TestScoreBatch_RiskAloneRaisesTier(t *testing.T) {
	// risk >= 80 is critical even when the day thresholds are narrow
	narrow := domain.Thresholds{Critical: 1, Warning: 2, Notice: 100}
	b := domain.Batch{ExpiryDate: now.Add(10 * 24 * time.Hour)}

	score := risk.ScoreBatch(b, now, narrow)
	assert.InDelta(t, 90, score.RiskPercent, 0.05)
	assert.Equal(t, domain.AlertCritical, score.AlertLevel)
}

func TestScoreBatch_TierUsesUnroundedRisk(t *testing.T) {
	wide := domain.Thresholds{Critical: 30, Warning: 60, Notice: 2001}

	tests := []struct {
		name        string
		days        int
		wantPercent float64
		wantLevel   domain.AlertLevel
	}{
		// 79.96 shows as 80.0 but stays below the critical cut
		{"just under critical risk", 401, 80, domain.AlertWarning},
		{"critical risk", 400, 80, domain.AlertCritical},
		// 49.975 shows as 50.0 but stays below the warning cut
		{"just under warning risk", 1001, 50, domain.AlertNotice},
		{"warning risk", 1000, 50, domain.AlertWarning},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := domain.Batch{ExpiryDate: now.Add(time.Duration(tt.days) * 24 * time.Hour)}
			score := risk.ScoreBatch(b, now, wide)

			assert.Equal(t, tt.wantPercent, score.RiskPercent)
			assert.Equal(t, tt.wantLevel, score.AlertLevel)
		})
	}
}

func TestPercent_ZeroHorizon(t *testing.T) {
	assert.Equal(t, float64(100), risk.Percent(0, 0))
	assert.Equal(t, float64(100), risk.Percent(-3, 0))
	assert.Equal(t, float64(0), risk.Percent(1, 0))
}

func TestPercent_Monotonic(t *testing.T) {
	for horizon := 1; horizon <= 200; horizon += 17 {
		prev := risk.Percent(-10, horizon)
		for days := -9; days <= horizon+5; days++ {
			p := risk.Percent(days, horizon)
			assert.LessOrEqual(t, p, prev, "horizon %d days %d", horizon, days)
			assert.GreaterOrEqual(t, p, float64(0))
			assert.LessOrEqual(t, p, float64(100))
			prev = p
		}
	}
}

func TestBuildReport(t *testing.T) {
	f := testutil.NewFixtureFactory(now)
	medicines := []domain.Medicine{{ID: "med-1", Name: "Panadol"}, {ID: "med-2", Name: "Ibuprofen"}}

	batches := []domain.Batch{
		f.Batch("med-1", testutil.WithBatchID("far"), f.ExpiringInDays(95)),
		f.Batch("med-1", testutil.WithBatchID("today"), f.ExpiringInDays(0), testutil.WithQuantity(4), testutil.WithPrices("1", "2")),
		f.Batch("med-2", testutil.WithBatchID("soon-small"), f.ExpiringInDays(20), testutil.WithQuantity(2), testutil.WithPrices("3", "5")),
		f.Batch("med-2", testutil.WithBatchID("soon-big"), f.ExpiringInDays(20), testutil.WithQuantity(10), testutil.WithPrices("3", "5")),
		f.Batch("med-2", testutil.WithBatchID("empty"), f.ExpiringInDays(5), testutil.WithQuantity(0)),
		f.Batch("med-1", testutil.WithBatchID("notice"), f.ExpiringInDays(80), testutil.WithQuantity(1), testutil.WithPrices("10", "12")),
	}
	withdrawn := f.Batch("med-1", testutil.WithBatchID("withdrawn"), f.ExpiringInDays(1))
	withdrawn.IsActive = false
	batches = append(batches, withdrawn)

	report := risk.BuildReport(batches, medicines, now, thresholds)

	ids := make([]string, 0, len(report.Entries))
	for _, e := range report.Entries {
		ids = append(ids, e.BatchID)
	}
	assert.Equal(t, []string{"today", "soon-big", "soon-small", "notice"}, ids)

	first := report.Entries[0]
	assert.Equal(t, "Panadol", first.MedicineName)
	assert.Equal(t, float64(100), first.RiskPercent)
	assert.Equal(t, domain.AlertCritical, first.AlertLevel)
	assert.True(t, decimal.NewFromInt(4).Equal(first.PotentialLoss))

	assert.Equal(t, 3, report.Summary.Critical)
	assert.Equal(t, 0, report.Summary.Warning)
	assert.Equal(t, 1, report.Summary.Notice)
	assert.True(t, decimal.NewFromInt(4+30+6+10).Equal(report.Summary.TotalPotentialLoss))
}

func TestBuildReport_Empty(t *testing.T) {
	report := risk.BuildReport(nil, nil, now, thresholds)
	require.NotNil(t, report.Entries)
	assert.Empty(t, report.Entries)
	assert.True(t, report.Summary.TotalPotentialLoss.IsZero())
}

type staticSource struct {
	batches   []domain.Batch
	medicines []domain.Medicine
}

func (s staticSource) Batches() []domain.Batch      { return s.batches }
func (s staticSource) Medicines() []domain.Medicine { return s.medicines }

func TestScorer_UsesClock(t *testing.T) {
	clock := testutil.NewFixedClock(now)
	b := domain.Batch{ID: "b1", MedicineID: "m", Quantity: 1, IsActive: true, ExpiryDate: now.Add(100 * 24 * time.Hour)}
	s := risk.NewScorer(staticSource{batches: []domain.Batch{b}}, thresholds, clock, logger.Nop())

	assert.Empty(t, s.GetExpiryRiskReport(context.Background()).Entries)

	clock.Advance(20 * 24 * time.Hour)
	report := s.GetExpiryRiskReport(context.Background())
	require.Len(t, report.Entries, 1)
	assert.Equal(t, 80, report.Entries[0].DaysUntilExpiry)
	assert.Equal(t, domain.AlertNotice, s.Score(b).AlertLevel)
}
