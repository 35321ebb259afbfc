package publisher

import (
	"go.uber.org/fx"
)

var Module = fx.Module("publisher",
	fx.Provide(
		NewCredentialStore,
		NewRegistry,
		fx.Annotate(func() Publisher { return NewInstagram() }, fx.ResultTags(`group:"publishers"`)),
		fx.Annotate(func() Publisher { return NewFacebook() }, fx.ResultTags(`group:"publishers"`)),
		fx.Annotate(func() Publisher { return NewLinkedIn() }, fx.ResultTags(`group:"publishers"`)),
	),
)
