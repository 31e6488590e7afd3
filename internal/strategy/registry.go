// Package strategy holds the tagged-dispatch table that resolves a
// SiteConfig's
// strategy tag to a concrete ports.Strategy. "generic" is the single
// fully-implemented variant; any other tag resolves to a stub so unfinished
// per-site parsers still let the dispatcher run end to end.
package strategy

import (
	"sync"

	"github.com/harvestnet/harvestor/internal/config"
	"github.com/harvestnet/harvestor/internal/core/ports"
	"github.com/harvestnet/harvestor/internal/strategy/generic"
	"github.com/harvestnet/harvestor/internal/strategy/stub"
)

// Factory builds a ports.Strategy from a site's configuration.
type Factory func(site config.SiteConfig) ports.Strategy

var (
	mu       sync.RWMutex
	registry = map[string]Factory{
		"generic": func(site config.SiteConfig) ports.Strategy {
			return generic.New(site.Name, site.SeedURLs, site.Generic)
		},
	}
)

// Register adds or overrides the factory for a strategy tag. Call during
// init() from a package implementing a bespoke per-site parser.
func Register(tag string, f Factory) {
	mu.Lock()
	defer mu.Unlock()
	registry[tag] = f
}

// Build resolves site.Strategy to a concrete ports.Strategy, falling back to
// stub.Strategy when the tag names nothing registered.
func Build(site config.SiteConfig) ports.Strategy {
	mu.RLock()
	f, ok := registry[site.Strategy]
	mu.RUnlock()

	if !ok {
		return stub.New(site.Name, site.SeedURLs)
	}
	return f(site)
}
