// Package source contains the site adapters that enumerate and parse tender
// listing pages.
package source

import (
	"fmt"
	"sort"

	"github.com/evergrid-labs/bidwatch/internal/monitor"
)

// Options carries adapter construction inputs shared by all sources.
type Options struct {
	// Keywords prefilter listing items before the full match policy runs.
	// Listing pages carry hundreds of links; adapters drop the obvious
	// non-candidates early.
	Keywords []string
}

// Factory builds one adapter instance.
type Factory func(opts Options) monitor.SourceAdapter

var registry = map[string]Factory{
	"ccgp":         func(opts Options) monitor.SourceAdapter { return NewCCGP(opts) },
	"chinabidding": func(opts Options) monitor.SourceAdapter { return NewChinaBidding(opts) },
}

// New constructs a registered adapter by name.
func New(name string, opts Options) (monitor.SourceAdapter, error) {
	factory, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("unknown source adapter %q", name)
	}
	return factory(opts), nil
}

// Names returns the registered adapter names, sorted.
func Names() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
