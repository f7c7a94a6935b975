package gateway

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"pgregory.net/rapid"
)

func TestClampMaxTokens(t *testing.T) {
	tests := []struct {
		name      string
		model     string
		requested int
		want      int
	}{
		{"under ceiling passes through", "gpt-4o", 1024, 1024},
		{"over ceiling clamps", "gpt-4", 32000, 8192},
		{"exactly at ceiling", "gpt-4", 8192, 8192},
		{"zero request gets full ceiling", "gpt-4o", 0, 16384},
		{"negative request gets full ceiling", "gpt-4o", -5, 16384},
		{"unknown model gets conservative default", "mystery-model-9000", 32000, DefaultTokenCeiling},
		{"unknown model under default passes through", "mystery-model-9000", 512, 512},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ClampMaxTokens(tt.model, tt.requested))
		})
	}
}

// Property: clamping is idempotent and never exceeds the model's ceiling.
func TestClampMaxTokensRapid(t *testing.T) {
	models := []string{"gpt-4o", "gpt-4", "claude-sonnet-4-0", "unknown-model"}
	rapid.Check(t, func(t *rapid.T) {
		model := rapid.SampledFrom(models).Draw(t, "model")
		requested := rapid.IntRange(-100, 200000).Draw(t, "requested")

		clamped := ClampMaxTokens(model, requested)
		if clamped > TokenCeiling(model) {
			t.Fatalf("clamped %d exceeds ceiling %d", clamped, TokenCeiling(model))
		}
		if clamped <= 0 {
			t.Fatalf("clamped budget %d is not positive", clamped)
		}
		if again := ClampMaxTokens(model, clamped); again != clamped {
			t.Fatalf("clamp not idempotent: %d -> %d", clamped, again)
		}
	})
}
