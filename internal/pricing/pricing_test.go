package pricing

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLookup_LongestMatchWins(t *testing.T) {
	table := Default()

	tests := []struct {
		model string
		key   string
		ok    bool
	}{
		{"gpt-4o-mini-2024-07-18", "gpt-4o-mini", true},
		{"gpt-4o-2024-08-06", "gpt-4o", true},
		{"gpt-4-turbo-preview", "gpt-4-turbo", true},
		{"gpt-4-0613", "gpt-4", true},
		{"gpt-5-mini", "gpt-5-mini", true},
		{"claude-3-sonnet-20240229", "claude-3-sonnet", true},
		{"claude-sonnet-4-5-20250929", "claude-sonnet-4-5", true},
		{"claude-3-5-haiku-latest", "claude-3-5-haiku", true},
		{"llama-3-70b", "", false},
		{"", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.model, func(t *testing.T) {
			_, key, ok := table.Lookup(tt.model)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.key, key)
		})
	}
}

func TestLookup_TieBreaksLexically(t *testing.T) {
	table := Table{"ab": {Input: 1}, "bc": {Input: 2}}
	p, key, ok := table.Lookup("abc")
	assert.True(t, ok)
	assert.Equal(t, "ab", key)
	assert.Equal(t, 1.0, p.Input)
}

func TestCost(t *testing.T) {
	table := Default()
	assert.InDelta(t, 0.00033, table.Cost("claude-3-sonnet", 10, 20), 1e-12)
	assert.InDelta(t, 0.0021, table.Cost("gpt-4o-mini", 10000, 1000), 1e-12)
	assert.Equal(t, 0.0, table.Cost("unknown-model", 1000, 1000))
	assert.Equal(t, 0.0, table.Cost("", 1000, 1000))
}

func TestMerge(t *testing.T) {
	base := Table{"model-a": {Input: 1, Output: 2}}
	merged := base.Merge(map[string]Price{
		"model-a": {Input: 3, Output: 4},
		"model-b": {Input: 5, Output: 6},
	})

	assert.Equal(t, Price{Input: 3, Output: 4}, merged["model-a"])
	assert.Equal(t, Price{Input: 5, Output: 6}, merged["model-b"])
	assert.Equal(t, Price{Input: 1, Output: 2}, base["model-a"], "receiver must not change")
	assert.Equal(t, []string{"model-a", "model-b"}, merged.Keys())
}
