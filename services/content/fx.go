package content

import (
	"go.uber.org/fx"
)

var Module = fx.Module("content.service",
	fx.Provide(
		NewRepository,
		NewService,
		NewBatchGenerator,
		NewDispatcher,
		NewTaskHandler,
	),
	fx.Invoke(
		StartDispatcher,
		RegisterTaskHandlers,
	),
)
