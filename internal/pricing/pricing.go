// Package pricing estimates the monetary cost of LLM calls.
package pricing

import (
	"sort"
	"strings"
)

// Price is the USD cost per 1,000 tokens.
type Price struct {
	Input  float64 `yaml:"input" json:"input"`
	Output float64 `yaml:"output" json:"output"`
}

// Table maps a model-name fragment to its price. A model matches every key
// it contains; the longest matching key wins.
type Table map[string]Price

// Default returns the built-in price list.
func Default() Table {
	return Table{
		// anthropic
		"claude-3-opus":     {Input: 0.015, Output: 0.075},
		"claude-3-sonnet":   {Input: 0.003, Output: 0.015},
		"claude-3-haiku":    {Input: 0.00025, Output: 0.00125},
		"claude-3-5-haiku":  {Input: 0.0008, Output: 0.004},
		"claude-sonnet-4":   {Input: 0.003, Output: 0.015},
		"claude-opus-4":     {Input: 0.015, Output: 0.075},
		"claude-haiku-4-5":  {Input: 0.001, Output: 0.005},
		"claude-sonnet-4-5": {Input: 0.003, Output: 0.015},
		"claude-opus-4-5":   {Input: 0.005, Output: 0.025},

		// openai
		"gpt-5.2":       {Input: 0.00175, Output: 0.014},
		"gpt-5.1":       {Input: 0.00125, Output: 0.010},
		"gpt-5":         {Input: 0.00125, Output: 0.010},
		"gpt-5-mini":    {Input: 0.00025, Output: 0.002},
		"gpt-5-nano":    {Input: 0.00005, Output: 0.0004},
		"gpt-4":         {Input: 0.03, Output: 0.06},
		"gpt-4-turbo":   {Input: 0.01, Output: 0.03},
		"gpt-4o":        {Input: 0.005, Output: 0.015},
		"gpt-4o-mini":   {Input: 0.00015, Output: 0.0006},
		"gpt-3.5-turbo": {Input: 0.0005, Output: 0.0015},
	}
}

// Lookup returns the price for model and the key that matched it.
// Ties in key length resolve to the lexically smallest key.
func (t Table) Lookup(model string) (Price, string, bool) {
	if model == "" {
		return Price{}, "", false
	}
	best := ""
	found := false
	for key := range t {
		if key == "" || !strings.Contains(model, key) {
			continue
		}
		if !found || len(key) > len(best) || (len(key) == len(best) && key < best) {
			best = key
			found = true
		}
	}
	if !found {
		return Price{}, "", false
	}
	return t[best], best, true
}

// Cost returns the estimated USD cost of a call. Unknown models cost 0.
func (t Table) Cost(model string, input, output int64) float64 {
	p, _, ok := t.Lookup(model)
	if !ok {
		return 0
	}
	return float64(input)/1000*p.Input + float64(output)/1000*p.Output
}

// Merge returns a new table with overrides layered over t.
func (t Table) Merge(overrides map[string]Price) Table {
	out := make(Table, len(t)+len(overrides))
	for k, v := range t {
		out[k] = v
	}
	for k, v := range overrides {
		out[k] = v
	}
	return out
}

// Keys returns the model keys in sorted order.
func (t Table) Keys() []string {
	keys := make([]string, 0, len(t))
	for k := range t {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
