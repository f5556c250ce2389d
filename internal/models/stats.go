package models

import "time"

// Stats reports the primary-window usage for one identity.
type Stats struct {
	TokensUsed  int64     `json:"tokensUsed"`
	Remaining   int64     `json:"remaining"`
	ResetAt     time.Time `json:"resetAt"`
	PercentUsed float64   `json:"percentUsed"`
	// CostUsed is set when cost tracking or a cost ceiling is configured.
	CostUsed *float64 `json:"costUsed,omitempty"`
	// CostRemaining is set only when a cost ceiling is configured.
	CostRemaining *float64 `json:"costRemaining,omitempty"`
}
