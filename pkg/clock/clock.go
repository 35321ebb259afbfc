package clock

import (
	"github.com/facebookgo/clock"
	"go.uber.org/fx"
)

// Clock is re-exported so services depend on this package rather than the
// upstream path. Tests swap in clock.NewMock().
type Clock = clock.Clock

var Module = fx.Module("clock",
	fx.Provide(New),
)

func New() Clock {
	return clock.New()
}

func NewMock() *clock.Mock {
	return clock.NewMock()
}
