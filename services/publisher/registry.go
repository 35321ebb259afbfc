package publisher

import (
	"go.uber.org/fx"

	"agora-contentplane/pkg/errutil"
)

// Registry resolves the adapter for a platform. New platforms are added by
// implementing Publisher and listing the adapter here, not by new control flow.
type Registry struct {
	adapters map[Platform]Publisher
}

type RegistryParams struct {
	fx.In
	Adapters []Publisher `group:"publishers"`
}

func NewRegistry(p RegistryParams) *Registry {
	adapters := make(map[Platform]Publisher, len(p.Adapters))
	for _, a := range p.Adapters {
		adapters[a.Platform()] = a
	}
	return &Registry{adapters: adapters}
}

func (r *Registry) Resolve(platform Platform) (Publisher, error) {
	pub, ok := r.adapters[platform]
	if !ok {
		return nil, errutil.BadRequest("unsupported platform: " + string(platform))
	}
	return pub, nil
}

func (r *Registry) Platforms() []Platform {
	out := make([]Platform, 0, len(r.adapters))
	for p := range r.adapters {
		out = append(out, p)
	}
	return out
}
