package adapters

import (
	"fmt"
	"sort"

	"landrecord-extractor/internal/types"
)

var registry = map[string]func(Options) types.PortalAdapter{
	"fairfax": func(o Options) types.PortalAdapter { return NewFairfaxAdapter(o) },
	"loudoun": func(o Options) types.PortalAdapter { return NewLoudounAdapter(o) },
	"pwcba":   func(o Options) types.PortalAdapter { return NewPwcbaAdapter(o) },
}

// New returns the adapter registered under name.
func New(name string, opts Options) (types.PortalAdapter, error) {
	factory, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("unsupported portal: %s (supported: %v)", name, Names())
	}
	return factory(opts), nil
}

// Names lists the supported portals.
func Names() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
