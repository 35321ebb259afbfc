package generator

import (
	"go.uber.org/fx"
)

var Module = fx.Module("generator",
	fx.Provide(
		NewOpenAIGenerator,
		func(g *OpenAIGenerator) ContentGenerator { return g },
	),
)
