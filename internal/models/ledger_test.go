package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLedger_FiredThresholds(t *testing.T) {
	l := NewLedger()
	assert.True(t, l.IsEmpty())
	assert.False(t, l.HasFired(80))

	l.MarkFired(90)
	l.MarkFired(80)
	l.MarkFired(90)

	assert.True(t, l.HasFired(80))
	assert.Equal(t, []float64{80, 90}, l.FiredList())
	assert.False(t, l.IsEmpty())
}

func TestLedger_MarkFiredOnZeroValue(t *testing.T) {
	var l Ledger
	l.MarkFired(100)
	assert.True(t, l.HasFired(100))
}

func TestLedger_CloneIsDeep(t *testing.T) {
	now := time.Now()
	l := NewLedger()
	l.Append(UsageEvent{Tokens: 10, Cost: 0.5, Timestamp: now})
	l.MarkFired(80)

	c := l.Clone()
	c.Append(UsageEvent{Tokens: 5, Timestamp: now})
	c.Events[0].Tokens = 99
	c.MarkFired(90)

	assert.Len(t, l.Events, 1)
	assert.Equal(t, int64(10), l.Events[0].Tokens)
	assert.False(t, l.HasFired(90))

	var nilLedger *Ledger
	assert.Nil(t, nilLedger.Clone())
}

func TestLedger_JSONWireFormat(t *testing.T) {
	ts := time.UnixMilli(1700000000123)
	l := NewLedger()
	l.Append(UsageEvent{Tokens: 42, Cost: 0.01, Timestamp: ts})
	l.MarkFired(90)
	l.MarkFired(80)

	data, err := json.Marshal(l)
	require.NoError(t, err)
	assert.JSONEq(t, `{"entries":[{"tokens":42,"cost":0.01,"timestamp":1700000000123}],"thresholdsTriggered":[80,90]}`, string(data))

	var decoded Ledger
	require.NoError(t, json.Unmarshal(data, &decoded))
	require.Len(t, decoded.Events, 1)
	assert.Equal(t, int64(42), decoded.Events[0].Tokens)
	assert.True(t, decoded.Events[0].Timestamp.Equal(ts))
	assert.True(t, decoded.HasFired(80))
	assert.True(t, decoded.HasFired(90))
}

func TestLedger_JSONTruncatesToMillis(t *testing.T) {
	ts := time.UnixMilli(1700000000123).Add(999 * time.Microsecond)
	l := NewLedger()
	l.Append(UsageEvent{Tokens: 1, Timestamp: ts})

	data, err := json.Marshal(l)
	require.NoError(t, err)
	var decoded Ledger
	require.NoError(t, json.Unmarshal(data, &decoded))

	got := decoded.Events[0].Timestamp
	assert.True(t, got.Equal(time.UnixMilli(1700000000123)))
	assert.False(t, got.After(ts))
	assert.Less(t, ts.Sub(got), time.Millisecond)
}

func TestLedger_UnmarshalMissingFields(t *testing.T) {
	var decoded Ledger
	require.NoError(t, json.Unmarshal([]byte(`{}`), &decoded))
	assert.NotNil(t, decoded.Events)
	assert.NotNil(t, decoded.FiredThresholds)
	assert.True(t, decoded.IsEmpty())

	assert.Error(t, json.Unmarshal([]byte(`{"entries":"nope"}`), &decoded))
}
