package llm

import (
	"context"
	"fmt"

	"github.com/rotosaurio/iacandy/pkg/models"
)

// TieredGenerator holds one Completer per model tier.
type TieredGenerator struct {
	completers map[models.ModelTier]Completer
}

// NewTieredGenerator requires a completer for every tier.
func NewTieredGenerator(standard, advanced Completer) (*TieredGenerator, error) {
	if standard == nil || advanced == nil {
		return nil, fmt.Errorf("both standard and advanced completers are required")
	}
	return &TieredGenerator{
		completers: map[models.ModelTier]Completer{
			models.TierStandard: standard,
			models.TierAdvanced: advanced,
		},
	}, nil
}

// Generate runs the completer for tier and returns the text together with the
// model that produced it.
func (g *TieredGenerator) Generate(ctx context.Context, tier models.ModelTier, systemMessage, prompt string) (string, string, error) {
	c, ok := g.completers[tier]
	if !ok {
		return "", "", fmt.Errorf("unknown model tier %q", tier)
	}
	text, err := c.Complete(ctx, systemMessage, prompt)
	return text, c.Model(), err
}

// ModelFor returns the model name configured for tier.
func (g *TieredGenerator) ModelFor(tier models.ModelTier) string {
	if c, ok := g.completers[tier]; ok {
		return c.Model()
	}
	return ""
}
