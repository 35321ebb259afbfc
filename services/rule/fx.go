package rule

import (
	"go.uber.org/fx"

	"agora-contentplane/services/content"
)

var Module = fx.Module("rule.service",
	fx.Provide(
		NewRepository,
		NewExecutor,
		NewService,
		NewTaskHandler,
		NewStatsRecorder,
		func(s *StatsRecorder) content.RuleStats { return s },
	),
	fx.Invoke(
		StartExecutor,
		RegisterTaskHandlers,
	),
)
