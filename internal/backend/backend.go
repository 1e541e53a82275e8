// Package backend registers the available kernel backends.
package backend

import (
	"fmt"
	"slices"

	"github.com/roach88/tensorc/internal/backend/fallback"
	"github.com/roach88/tensorc/internal/backend/webassembly"
	"github.com/roach88/tensorc/internal/backend/webgpu"
	"github.com/roach88/tensorc/internal/kernel"
)

var registry = map[string]func() kernel.Backend{
	webgpu.Name:      func() kernel.Backend { return webgpu.New() },
	webassembly.Name: func() kernel.Backend { return webassembly.New() },
	fallback.Name:    func() kernel.Backend { return fallback.New() },
}

// Lookup returns the backend registered under name.
func Lookup(name string) (kernel.Backend, error) {
	ctor, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("unknown backend %q (available: %v)", name, Names())
	}
	return ctor(), nil
}

// Names lists the registered backends in sorted order.
func Names() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Default is the backend list used when none is configured.
func Default() []string {
	return []string{webgpu.Name, webassembly.Name, fallback.Name}
}
