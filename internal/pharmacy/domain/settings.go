package domain

import "time"

// Thresholds are the expiry alert day limits, critical <= warning <= notice
type Thresholds struct {
	Critical int `json:"critical"`
	Warning  int `json:"warning"`
	Notice   int `json:"notice"`
}

// Horizon is the widest configured threshold
func (t Thresholds) Horizon() int {
	h := t.Critical
	if t.Warning > h {
		h = t.Warning
	}
	if t.Notice > h {
		h = t.Notice
	}
	return h
}

// Clock is the wall-clock source
type Clock interface {
	Now() time.Time
}

// SystemClock reads time.Now
type SystemClock struct{}

// Now returns the current time
func (SystemClock) Now() time.Time {
	return time.Now()
}
