package protocol

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/rs/zerolog/log"
)

// ErrUnknownProtocol is returned when a protocol name has no usable handler.
var ErrUnknownProtocol = errors.New("unknown protocol")

// Resolver maps protocol names to handlers using a fixed registry.
type Resolver struct {
	registry Registry
	fallback string
}

// NewResolver creates a resolver over registry. Auto resolves to fallback.
func NewResolver(registry Registry, fallback string) *Resolver {
	reg := make(Registry, len(registry))
	for name, factory := range registry {
		reg[strings.ToLower(name)] = factory
	}

	return &Resolver{registry: reg, fallback: fallback}
}

// Resolve returns a new handler for name. The address is only used for diagnostics;
// auto-detection always picks the configured fallback protocol.
func (r *Resolver) Resolve(name, ip string, port int) (Handler, error) {
	lookup := strings.ToLower(strings.TrimSpace(name))
	if lookup == Auto {
		log.Debug().
			Str("ip", ip).
			Int("port", port).
			Str("protocol", r.fallback).
			Msg("Protocol auto-detection uses fallback")
		lookup = strings.ToLower(r.fallback)
	}

	factory, ok := r.registry[lookup]
	if !ok || factory == nil {
		return nil, fmt.Errorf("%w: %q", ErrUnknownProtocol, name)
	}

	handler := factory()
	if handler == nil {
		return nil, fmt.Errorf("%w: %q has no handler", ErrUnknownProtocol, name)
	}

	return handler, nil
}

// Names lists registered protocol names in sorted order.
func (r *Resolver) Names() []string {
	return slices.Sorted(maps.Keys(r.registry))
}
