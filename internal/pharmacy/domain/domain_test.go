package domain_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medflow/medflow-pharmacy/internal/pharmacy/domain"
)

func TestParseFefoMode(t *testing.T) {
	tests := []struct {
		in      string
		want    domain.FefoMode
		wantErr bool
	}{
		{"strict", domain.FefoStrict, false},
		{" Suggest ", domain.FefoSuggest, false},
		{"loose", 0, true},
		{"", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := domain.ParseFefoMode(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestAlertLevel_JSON(t *testing.T) {
	levels := map[string]domain.AlertLevel{}
	err := json.Unmarshal([]byte(`{"a":"critical","b":"notice","c":"none"}`), &levels)
	require.NoError(t, err)
	assert.Equal(t, domain.AlertCritical, levels["a"])
	assert.Equal(t, domain.AlertNotice, levels["b"])
	assert.Equal(t, domain.AlertNone, levels["c"])

	var lv domain.AlertLevel
	assert.Error(t, json.Unmarshal([]byte(`"urgent"`), &lv))

	out, err := json.Marshal(domain.AlertWarning)
	require.NoError(t, err)
	assert.JSONEq(t, `"warning"`, string(out))
}

func TestStockAlertLevel_Labels(t *testing.T) {
	assert.Equal(t, "out_of_stock", domain.StockOut.String())
	assert.Equal(t, "out of stock", domain.StockOut.Label())
	assert.Equal(t, "low stock", domain.StockLow.Label())
	assert.Equal(t, "in stock", domain.StockOK.Label())

	var lv domain.StockAlertLevel
	require.NoError(t, lv.UnmarshalText([]byte("low_stock")))
	assert.Equal(t, domain.StockLow, lv)
}

func TestWindow(t *testing.T) {
	from := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	w := domain.Window{From: from, To: from.AddDate(0, 0, 10)}

	assert.True(t, w.Valid())
	assert.True(t, w.Contains(from))
	assert.False(t, w.Contains(w.To))
	assert.False(t, w.Contains(from.Add(-time.Second)))

	prior := w.Prior()
	assert.Equal(t, from.AddDate(0, 0, -10), prior.From)
	assert.Equal(t, from, prior.To)

	assert.False(t, domain.Window{From: from, To: from}.Valid())
}

func TestStockAdjustment_WriteOffValue(t *testing.T) {
	cost := decimal.RequireFromString("2.50")

	tests := []struct {
		name   string
		reason domain.AdjustmentReason
		delta  int
		want   string
	}{
		{"damage", domain.ReasonDamage, -4, "10"},
		{"theft", domain.ReasonTheft, -1, "2.5"},
		{"expired", domain.ReasonExpired, -2, "5"},
		{"correction is not a loss", domain.ReasonCorrection, -3, "0"},
		{"positive delta", domain.ReasonDamage, 2, "0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			adj := &domain.StockAdjustment{Reason: tt.reason, Delta: tt.delta, UnitCost: cost}
			assert.True(t, decimal.RequireFromString(tt.want).Equal(adj.WriteOffValue()), adj.WriteOffValue().String())
		})
	}
}

func TestSale_Totals(t *testing.T) {
	sale := &domain.Sale{Lines: []domain.SaleLine{
		{Quantity: 2, UnitPrice: decimal.NewFromInt(5), UnitCost: decimal.NewFromInt(3)},
		{Quantity: 1, UnitPrice: decimal.RequireFromString("1.50"), UnitCost: decimal.NewFromInt(1)},
	}}

	assert.Equal(t, "11.5", sale.Total().String())
	assert.Equal(t, "6", sale.Lines[0].Cost().String())
}

func TestBatch(t *testing.T) {
	b := &domain.Batch{IsActive: true, Quantity: 3, PurchasePrice: decimal.NewFromInt(4)}
	assert.True(t, b.IsAvailable())
	assert.Equal(t, "12", b.StockValue().String())

	b.IsActive = false
	assert.False(t, b.IsAvailable())

	b.IsActive, b.Quantity = true, 0
	assert.False(t, b.IsAvailable())
}

func TestThresholds_Horizon(t *testing.T) {
	assert.Equal(t, 90, domain.Thresholds{Critical: 30, Warning: 60, Notice: 90}.Horizon())
	assert.Equal(t, 45, domain.Thresholds{Critical: 45, Warning: 10, Notice: 20}.Horizon())
}
