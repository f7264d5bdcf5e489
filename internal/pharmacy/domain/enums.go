package domain

import (
	"fmt"
	"strings"
)

// FefoMode controls what happens when a non-suggested batch is requested
type FefoMode int

const (
	// FefoStrict rejects any batch other than the suggested one
	FefoStrict FefoMode = iota + 1
	// FefoSuggest allows an override after explicit confirmation
	FefoSuggest
)

// ParseFefoMode parses "strict" or "suggest"
func ParseFefoMode(s string) (FefoMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "strict":
		return FefoStrict, nil
	case "suggest":
		return FefoSuggest, nil
	default:
		return 0, fmt.Errorf("unknown fefo mode %q", s)
	}
}

func (m FefoMode) String() string {
	switch m {
	case FefoStrict:
		return "strict"
	case FefoSuggest:
		return "suggest"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler
func (m FefoMode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (m *FefoMode) UnmarshalText(text []byte) error {
	parsed, err := ParseFefoMode(string(text))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// AlertLevel is the expiry alert tier of a batch, ordered by severity
type AlertLevel int

const (
	AlertNone AlertLevel = iota
	AlertNotice
	AlertWarning
	AlertCritical
)

func (l AlertLevel) String() string {
	switch l {
	case AlertCritical:
		return "critical"
	case AlertWarning:
		return "warning"
	case AlertNotice:
		return "notice"
	default:
		return "none"
	}
}

// MarshalText implements encoding.TextMarshaler
func (l AlertLevel) MarshalText() ([]byte, error) {
	return []byte(l.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (l *AlertLevel) UnmarshalText(text []byte) error {
	for _, lv := range []AlertLevel{AlertNone, AlertNotice, AlertWarning, AlertCritical} {
		if lv.String() == string(text) {
			*l = lv
			return nil
		}
	}
	return fmt.Errorf("unknown alert level %q", text)
}

// StockAlertLevel is the low-stock signal of a medicine
type StockAlertLevel int

const (
	StockOK StockAlertLevel = iota
	StockLow
	StockOut
)

func (l StockAlertLevel) String() string {
	switch l {
	case StockOut:
		return "out_of_stock"
	case StockLow:
		return "low_stock"
	default:
		return "ok"
	}
}

// Label is the human-readable text shown on dashboards
func (l StockAlertLevel) Label() string {
	switch l {
	case StockOut:
		return "out of stock"
	case StockLow:
		return "low stock"
	default:
		return "in stock"
	}
}

// MarshalText implements encoding.TextMarshaler
func (l StockAlertLevel) MarshalText() ([]byte, error) {
	return []byte(l.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (l *StockAlertLevel) UnmarshalText(text []byte) error {
	for _, lv := range []StockAlertLevel{StockOK, StockLow, StockOut} {
		if lv.String() == string(text) {
			*l = lv
			return nil
		}
	}
	return fmt.Errorf("unknown stock alert level %q", text)
}

// SaleStatus is the lifecycle state of a sale
type SaleStatus string

const (
	SaleCompleted SaleStatus = "completed"
	SaleRefunded  SaleStatus = "refunded"
	SaleVoided    SaleStatus = "voided"
)

// PaymentMethod is how a sale was settled
type PaymentMethod string

const (
	PaymentCash   PaymentMethod = "cash"
	PaymentCredit PaymentMethod = "credit"
)

// Valid reports whether p is a known payment method
func (p PaymentMethod) Valid() bool {
	return p == PaymentCash || p == PaymentCredit
}

// AdjustmentReason classifies an administrative stock adjustment
type AdjustmentReason string

const (
	ReasonDamage     AdjustmentReason = "damage"
	ReasonTheft      AdjustmentReason = "theft"
	ReasonExpired    AdjustmentReason = "expired"
	ReasonCorrection AdjustmentReason = "correction"
	ReasonCount      AdjustmentReason = "count"
)

// Valid reports whether r is a known reason
func (r AdjustmentReason) Valid() bool {
	switch r {
	case ReasonDamage, ReasonTheft, ReasonExpired, ReasonCorrection, ReasonCount:
		return true
	}
	return false
}

// IsWriteOff reports whether the reason counts as lost stock
func (r AdjustmentReason) IsWriteOff() bool {
	return r == ReasonDamage || r == ReasonTheft || r == ReasonExpired
}
