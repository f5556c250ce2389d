package models

import (
	"encoding/json"
	"sort"
	"time"
)

// UsageEvent is a single recorded consumption. Events are appended to a
// ledger and never mutated.
type UsageEvent struct {
	Tokens    int64
	Cost      float64
	Timestamp time.Time
}

// Ledger holds the usage history and threshold-firing memory for one identity.
// Events are kept in insertion order.
type Ledger struct {
	Events          []UsageEvent
	FiredThresholds map[float64]struct{}
}

// NewLedger returns an empty ledger.
func NewLedger() *Ledger {
	return &Ledger{
		Events:          make([]UsageEvent, 0),
		FiredThresholds: make(map[float64]struct{}),
	}
}

// Append adds an event to the ledger.
func (l *Ledger) Append(e UsageEvent) {
	l.Events = append(l.Events, e)
}

// HasFired reports whether the threshold was already notified.
func (l *Ledger) HasFired(threshold float64) bool {
	_, ok := l.FiredThresholds[threshold]
	return ok
}

// MarkFired records the threshold as notified.
func (l *Ledger) MarkFired(threshold float64) {
	if l.FiredThresholds == nil {
		l.FiredThresholds = make(map[float64]struct{})
	}
	l.FiredThresholds[threshold] = struct{}{}
}

// FiredList returns the fired thresholds in ascending order.
func (l *Ledger) FiredList() []float64 {
	out := make([]float64, 0, len(l.FiredThresholds))
	for t := range l.FiredThresholds {
		out = append(out, t)
	}
	sort.Float64s(out)
	return out
}

// IsEmpty reports whether the ledger carries neither events nor fired thresholds.
func (l *Ledger) IsEmpty() bool {
	return len(l.Events) == 0 && len(l.FiredThresholds) == 0
}

// Clone returns a deep copy of the ledger.
func (l *Ledger) Clone() *Ledger {
	if l == nil {
		return nil
	}
	c := &Ledger{
		Events:          make([]UsageEvent, len(l.Events)),
		FiredThresholds: make(map[float64]struct{}, len(l.FiredThresholds)),
	}
	copy(c.Events, l.Events)
	for t := range l.FiredThresholds {
		c.FiredThresholds[t] = struct{}{}
	}
	return c
}

// ledgerJSON is the wire form shared by every serializing store.
// Timestamps are unix milliseconds, so persisted events lose sub-millisecond
// precision and may land up to 1ms earlier than in the memory store.
type ledgerJSON struct {
	Entries             []eventJSON `json:"entries"`
	ThresholdsTriggered []float64   `json:"thresholdsTriggered"`
}

type eventJSON struct {
	Tokens    int64   `json:"tokens"`
	Cost      float64 `json:"cost"`
	Timestamp int64   `json:"timestamp"`
}

// MarshalJSON implements json.Marshaler.
func (l Ledger) MarshalJSON() ([]byte, error) {
	out := ledgerJSON{
		Entries:             make([]eventJSON, 0, len(l.Events)),
		ThresholdsTriggered: l.FiredList(),
	}
	for _, e := range l.Events {
		out.Entries = append(out.Entries, eventJSON{
			Tokens:    e.Tokens,
			Cost:      e.Cost,
			Timestamp: e.Timestamp.UnixMilli(),
		})
	}
	return json.Marshal(out)
}

// UnmarshalJSON implements json.Unmarshaler. Missing fields decode to an
// empty ledger.
func (l *Ledger) UnmarshalJSON(data []byte) error {
	var in ledgerJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	l.Events = make([]UsageEvent, 0, len(in.Entries))
	for _, e := range in.Entries {
		l.Events = append(l.Events, UsageEvent{
			Tokens:    e.Tokens,
			Cost:      e.Cost,
			Timestamp: time.UnixMilli(e.Timestamp),
		})
	}
	l.FiredThresholds = make(map[float64]struct{}, len(in.ThresholdsTriggered))
	for _, t := range in.ThresholdsTriggered {
		l.FiredThresholds[t] = struct{}{}
	}
	return nil
}
