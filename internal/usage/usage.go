// Package usage estimates the USD cost of a lace.TokenUsage against a
// model's per-million-token price, surfaced as a read-only diagnostic
// alongside a thread's token budget status.
//
// Grounded on haasonsaas-nexus's internal/usage/usage.go — Cost.Estimate
// and FormatUSD, narrowed from a full Usage/Tracker/Record accounting
// subsystem (this module already owns lifetime accumulation in
// internal/tokenbudget) down to pricing and formatting alone.
package usage

import (
	"fmt"
	"math"

	"github.com/lacehq/lace/pkg/lace"
)

// Cost is a model's per-million-token price, split by prompt vs. completion
// tokens since providers typically charge completion tokens at a higher
// rate.
type Cost struct {
	Input  float64
	Output float64
}

// Estimate returns the USD cost of usage at this rate.
func (c Cost) Estimate(usage lace.TokenUsage) float64 {
	total := float64(usage.Prompt)*c.Input + float64(usage.Completion)*c.Output
	return total / 1_000_000
}

// pricing is a small built-in table of well-known model rates. Unlisted
// models have no entry; CostForModel reports ok=false for them rather than
// guessing a rate.
var pricing = map[string]Cost{
	"claude-sonnet-4-5": {Input: 3.00, Output: 15.00},
	"claude-opus-4-1":   {Input: 15.00, Output: 75.00},
	"claude-haiku-4-5":  {Input: 0.80, Output: 4.00},
	"gpt-4o":            {Input: 2.50, Output: 10.00},
	"gpt-4o-mini":       {Input: 0.15, Output: 0.60},
}

// CostForModel looks up a model's known rate. ok is false for an unlisted
// model, in which case the caller should omit the diagnostic rather than
// report a misleading zero cost.
func CostForModel(model string) (c Cost, ok bool) {
	c, ok = pricing[model]
	return c, ok
}

// EstimateCost is a convenience wrapper combining CostForModel and
// Cost.Estimate.
func EstimateCost(model string, usage lace.TokenUsage) (amount float64, ok bool) {
	c, ok := CostForModel(model)
	if !ok {
		return 0, false
	}
	return c.Estimate(usage), true
}

// FormatUSD formats a dollar amount for display, switching to four decimal
// places under a cent so small per-turn estimates don't round to "$0.00".
func FormatUSD(amount float64) string {
	if amount <= 0 || math.IsNaN(amount) || math.IsInf(amount, 0) {
		return "$0.00"
	}
	if amount >= 0.01 {
		return fmt.Sprintf("$%.2f", amount)
	}
	return fmt.Sprintf("$%.4f", amount)
}
