// Package tokencount provides deterministic, allocation-light token
// estimation for text, code, and JSON values. It is a heuristic
// chars-per-token estimator, never a billing source (§4.1).
package tokencount

import (
	"encoding/json"
	"math"
)

// textCharsPerToken and codeCharsPerToken are the fixed ratios of §4.1: code
// is denser, so it costs fewer characters per token.
const (
	textCharsPerToken = 4.0
	codeCharsPerToken = 3.0
)

// Counter estimates token counts. The zero value is ready to use.
type Counter struct{}

// New returns a ready-to-use Counter.
func New() Counter { return Counter{} }

// Estimate returns ceil(len(text)/4) tokens, 0 for empty input.
func (Counter) Estimate(text string) int {
	return estimate(text, textCharsPerToken)
}

// EstimateCode returns ceil(len(text)/3) tokens, 0 for empty input.
func (Counter) EstimateCode(text string) int {
	return estimate(text, codeCharsPerToken)
}

// EstimateJSON marshals value and estimates tokens over the JSON text. It
// returns 0 (not an error) if value cannot be marshaled, since token
// estimation is never on a correctness-critical path.
func (c Counter) EstimateJSON(value any) int {
	b, err := json.Marshal(value)
	if err != nil {
		return 0
	}
	return c.Estimate(string(b))
}

func estimate(text string, charsPerToken float64) int {
	n := len(text)
	if n == 0 {
		return 0
	}
	return int(math.Ceil(float64(n) / charsPerToken))
}
