package budget

import "strings"

// modelPrice is USD per 1K tokens, input and output priced separately.
type modelPrice struct {
	Input  float64
	Output float64
}

var priceTable = map[string]modelPrice{
	"gpt-4o":            {Input: 0.0025, Output: 0.01},
	"gpt-4o-mini":       {Input: 0.00015, Output: 0.0006},
	"gpt-4-turbo":       {Input: 0.01, Output: 0.03},
	"gpt-4":             {Input: 0.03, Output: 0.06},
	"gpt-3.5-turbo":     {Input: 0.0005, Output: 0.0015},
	"claude-3-opus":     {Input: 0.015, Output: 0.075},
	"claude-3-5-sonnet": {Input: 0.003, Output: 0.015},
	"claude-3-haiku":    {Input: 0.00025, Output: 0.00125},
	"gemini-1.5-pro":    {Input: 0.0035, Output: 0.0105},
	"gemini-1.5-flash":  {Input: 0.000075, Output: 0.0003},
}

// fallbackPrice covers unknown models at the most expensive tier in the
// table. Under-estimating cost is the failure mode to avoid: a too-high
// estimate denies a request, a too-low one overspends the ceiling.
var fallbackPrice = modelPrice{Input: 0.03, Output: 0.075}

// EstimateCost returns the projected USD cost of a call against the static
// per-model price table.
func EstimateCost(model string, inputTokens, outputTokens int) float64 {
	price, ok := priceTable[strings.ToLower(strings.TrimSpace(model))]
	if !ok {
		price = fallbackPrice
	}
	return float64(inputTokens)/1000*price.Input + float64(outputTokens)/1000*price.Output
}

// KnownModel reports whether the model has an exact price table entry.
func KnownModel(model string) bool {
	_, ok := priceTable[strings.ToLower(strings.TrimSpace(model))]
	return ok
}

// EstimateTokens approximates the token count of text at four characters
// per token. True tokenization is out of scope; callers needing exact
// counts should supply them from the provider response.
func EstimateTokens(text string) int {
	if text == "" {
		return 0
	}
	return (len(text) + 3) / 4
}
