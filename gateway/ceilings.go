package gateway

// Per-model completion token ceilings. The engine clamps an agent's
// configured max_tokens to the ceiling of its model rather than rejecting
// the workflow: authoring surfaces routinely carry stale limits across
// model changes, and a silent clamp keeps those workflows runnable.
var modelCeilings = map[string]int{
	// OpenAI
	"gpt-4o":        16384,
	"gpt-4o-mini":   16384,
	"gpt-4.1":       32768,
	"gpt-4.1-mini":  32768,
	"gpt-4-turbo":   4096,
	"gpt-4":         8192,
	"gpt-3.5-turbo": 4096,
	"o3":            100000,
	"o4-mini":       100000,

	// Anthropic
	"claude-3-5-haiku-latest":  8192,
	"claude-3-5-sonnet-latest": 8192,
	"claude-3-7-sonnet-latest": 64000,
	"claude-sonnet-4-0":        64000,
	"claude-opus-4-0":          32000,
}

// DefaultTokenCeiling applies to models absent from the table. Conservative
// on purpose: an unknown model is more likely a small one than a large one,
// and over-asking fails the request outright.
const DefaultTokenCeiling = 4096

// TokenCeiling returns the completion ceiling for a model.
func TokenCeiling(model string) int {
	if c, ok := modelCeilings[model]; ok {
		return c
	}
	return DefaultTokenCeiling
}

// ClampMaxTokens resolves the effective completion budget:
// min(requested, ceiling(model)). A non-positive request means the caller
// declared no budget and gets the full ceiling. The clamp is silent; callers
// that want visibility log the delta themselves.
func ClampMaxTokens(model string, requested int) int {
	ceiling := TokenCeiling(model)
	if requested <= 0 || requested > ceiling {
		return ceiling
	}
	return requested
}
