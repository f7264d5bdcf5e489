// Package risk scores batches by how close they are to expiring.
//
// The score is a pure function of expiry date, the current time and the
// configured thresholds. It is never stored.
package risk

import (
	"context"
	"math"
	"sort"
	"time"

	"github.com/medflow/medflow-pharmacy/internal/pharmacy/domain"
	"github.com/medflow/medflow-pharmacy/pkg/logger"
	"github.com/shopspring/decimal"
)

const day = 24 * time.Hour

// Score is the expiry exposure of one batch
type Score struct {
	DaysUntilExpiry int               `json:"days_until_expiry"`
	RiskPercent     float64           `json:"risk_percent"`
	AlertLevel      domain.AlertLevel `json:"alert_level"`
}

// DaysUntilExpiry is the number of started days left before expiry.
// Negative for batches that already expired.
func DaysUntilExpiry(expiry, now time.Time) int {
	return int(math.Ceil(float64(expiry.Sub(now)) / float64(day)))
}

// Percent maps days left onto 0..100 against the horizon, rounded to one
// decimal. Zero or fewer days left scores 100, the horizon or more scores 0.
func Percent(days, horizon int) float64 {
	return math.Round(rawPercent(days, horizon)*10) / 10
}

func rawPercent(days, horizon int) float64 {
	if days <= 0 {
		return 100
	}
	if horizon <= 0 || days >= horizon {
		return 0
	}
	return 100 * (1 - float64(days)/float64(horizon))
}

// Level picks the alert tier from days left and the unrounded risk percent
func Level(days int, percent float64, th domain.Thresholds) domain.AlertLevel {
	switch {
	case days <= th.Critical || percent >= 80:
		return domain.AlertCritical
	case days <= th.Warning || percent >= 50:
		return domain.AlertWarning
	case days <= th.Notice || percent >= 25:
		return domain.AlertNotice
	default:
		return domain.AlertNone
	}
}

// ScoreBatch scores a batch at now
func ScoreBatch(b domain.Batch, now time.Time, th domain.Thresholds) Score {
	days := DaysUntilExpiry(b.ExpiryDate, now)
	percent := rawPercent(days, th.Horizon())
	return Score{
		DaysUntilExpiry: days,
		RiskPercent:     math.Round(percent*10) / 10,
		AlertLevel:      Level(days, percent, th),
	}
}

// Entry is one row of the expiry risk report
type Entry struct {
	BatchID       string          `json:"batch_id"`
	BatchNumber   string          `json:"batch_number"`
	MedicineID    string          `json:"medicine_id"`
	MedicineName  string          `json:"medicine_name"`
	ExpiryDate    time.Time       `json:"expiry_date"`
	Quantity      int             `json:"quantity"`
	PotentialLoss decimal.Decimal `json:"potential_loss"`
	Score
}

// Summary totals the report per alert tier
type Summary struct {
	Critical           int             `json:"critical"`
	Warning            int             `json:"warning"`
	Notice             int             `json:"notice"`
	TotalPotentialLoss decimal.Decimal `json:"total_potential_loss"`
}

// Report is the expiry risk view over all available batches
type Report struct {
	GeneratedAt time.Time         `json:"generated_at"`
	Thresholds  domain.Thresholds `json:"thresholds"`
	Entries     []Entry           `json:"entries"`
	Summary     Summary           `json:"summary"`
}

// BuildReport scores every available batch, drops those without an alert
// and orders the rest soonest first, larger potential loss first on ties.
func BuildReport(batches []domain.Batch, medicines []domain.Medicine, now time.Time, th domain.Thresholds) *Report {
	names := make(map[string]string, len(medicines))
	for _, m := range medicines {
		names[m.ID] = m.Name
	}

	report := &Report{
		GeneratedAt: now,
		Thresholds:  th,
		Entries:     []Entry{},
		Summary:     Summary{TotalPotentialLoss: decimal.Zero},
	}

	for i := range batches {
		b := &batches[i]
		if !b.IsAvailable() {
			continue
		}
		score := ScoreBatch(*b, now, th)
		if score.AlertLevel == domain.AlertNone {
			continue
		}

		entry := Entry{
			BatchID:       b.ID,
			BatchNumber:   b.BatchNumber,
			MedicineID:    b.MedicineID,
			MedicineName:  names[b.MedicineID],
			ExpiryDate:    b.ExpiryDate,
			Quantity:      b.Quantity,
			PotentialLoss: b.StockValue(),
			Score:         score,
		}
		report.Entries = append(report.Entries, entry)

		switch score.AlertLevel {
		case domain.AlertCritical:
			report.Summary.Critical++
		case domain.AlertWarning:
			report.Summary.Warning++
		case domain.AlertNotice:
			report.Summary.Notice++
		}
		report.Summary.TotalPotentialLoss = report.Summary.TotalPotentialLoss.Add(entry.PotentialLoss)
	}

	sort.Slice(report.Entries, func(i, j int) bool {
		a, b := report.Entries[i], report.Entries[j]
		if a.DaysUntilExpiry != b.DaysUntilExpiry {
			return a.DaysUntilExpiry < b.DaysUntilExpiry
		}
		if c := a.PotentialLoss.Cmp(b.PotentialLoss); c != 0 {
			return c > 0
		}
		return a.BatchID < b.BatchID
	})

	return report
}

// Source is the ledger read side the scorer needs
type Source interface {
	Batches() []domain.Batch
	Medicines() []domain.Medicine
}

// Scorer builds risk reports over the live ledger
type Scorer struct {
	source     Source
	thresholds domain.Thresholds
	clock      domain.Clock
	logger     *logger.Logger
}

// NewScorer creates a new scorer
func NewScorer(source Source, th domain.Thresholds, clock domain.Clock, log *logger.Logger) *Scorer {
	return &Scorer{
		source:     source,
		thresholds: th,
		clock:      clock,
		logger:     log.WithComponent("risk"),
	}
}

// Thresholds returns the configured alert thresholds
func (s *Scorer) Thresholds() domain.Thresholds {
	return s.thresholds
}

// Score scores one batch at the scorer's clock
func (s *Scorer) Score(b domain.Batch) Score {
	return ScoreBatch(b, s.clock.Now(), s.thresholds)
}

// GetExpiryRiskReport scores the current ledger snapshot
func (s *Scorer) GetExpiryRiskReport(ctx context.Context) *Report {
	report := BuildReport(s.source.Batches(), s.source.Medicines(), s.clock.Now(), s.thresholds)
	s.logger.Debug().
		Int("entries", len(report.Entries)).
		Int("critical", report.Summary.Critical).
		Msg("expiry risk report built")
	return report
}
