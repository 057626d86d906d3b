// Package usage records per-invocation token counts and cost.
package usage

import (
	"strconv"
)

// ModelPricing holds per-million-token prices in dollars.
type ModelPricing struct {
	InputPerMillion       float64
	CachedInputPerMillion float64
	OutputPerMillion      float64
}

// Prices by model name. Unknown models record zero cost rather than
// failing the response.
var pricing = map[string]ModelPricing{
	"o4-mini-2025-04-16": {
		InputPerMillion:       1.10,
		CachedInputPerMillion: 0.275,
		OutputPerMillion:      4.40,
	},
	"gpt-4o": {
		InputPerMillion:       2.50,
		CachedInputPerMillion: 1.25,
		OutputPerMillion:      10.00,
	},
	"gpt-4o-mini": {
		InputPerMillion:       0.15,
		CachedInputPerMillion: 0.075,
		OutputPerMillion:      0.60,
	},
	"fireworks/deepseek-r1": {
		InputPerMillion:  3.00,
		OutputPerMillion: 8.00,
	},
}

// CalculateCost returns the cost of one invocation as a fixed
// seven-decimal dollar string. Cached input tokens are billed at the
// cached rate and excluded from the uncached input count.
func CalculateCost(modelName string, inputTokens, outputTokens, cachedTokens int) string {
	prices, ok := pricing[modelName]
	if !ok {
		return formatCost(0)
	}

	uncached := inputTokens - cachedTokens
	if uncached < 0 {
		uncached = 0
	}

	cost := float64(uncached)*prices.InputPerMillion/1_000_000 +
		float64(cachedTokens)*prices.CachedInputPerMillion/1_000_000 +
		float64(outputTokens)*prices.OutputPerMillion/1_000_000

	return formatCost(cost)
}

func formatCost(cost float64) string {
	return strconv.FormatFloat(cost, 'f', 7, 64)
}
