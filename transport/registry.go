package transport

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
)

// ErrUnknownTransport is returned by Build for names nobody registered.
var ErrUnknownTransport = errors.New("commitguard: unknown transport")

type registration struct {
	build Builder
	caps  Capabilities
}

// Registry holds the transports a service can be configured with, keyed by
// their PubSubSystem name.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]registration
}

// DefaultRegistry is used when ServiceDependencies names no registry.
var DefaultRegistry = NewRegistry()

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]registration)}
}

// Register adds a builder without capabilities. The coordinator then treats
// the transport as one that reports no positions.
func (r *Registry) Register(name string, builder Builder) {
	r.RegisterWithCapabilities(name, builder, Capabilities{Name: name})
}

// RegisterWithCapabilities adds or replaces a builder together with what the
// transport offers.
func (r *Registry) RegisterWithCapabilities(name string, builder Builder, caps Capabilities) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[name] = registration{build: builder, caps: caps}
}

// GetCapabilities returns what the named transport offers, or a zero value
// carrying only the name.
func (r *Registry) GetCapabilities(name string) Capabilities {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if entry, ok := r.entries[name]; ok {
		return entry.caps
	}
	return Capabilities{Name: name}
}

// Build runs the builder registered for cfg.GetPubSubSystem(). Builder
// failures are wrapped with the transport name and consumer group, and a
// transport missing either half is rejected.
func (r *Registry) Build(ctx context.Context, cfg Config, logger watermill.LoggerAdapter) (Transport, error) {
	if cfg == nil {
		return Transport{}, errors.New("commitguard: transport config is required")
	}
	name := cfg.GetPubSubSystem()

	r.mu.RLock()
	entry, ok := r.entries[name]
	r.mu.RUnlock()
	if !ok {
		return Transport{}, fmt.Errorf("%w %q (registered: %v)", ErrUnknownTransport, name, r.Names())
	}

	tr, err := entry.build(ctx, cfg, logger)
	if err != nil {
		return Transport{}, fmt.Errorf("commitguard: %s transport for group %q: %w", name, cfg.GetConsumerGroup(), err)
	}
	if tr.Publisher == nil || tr.Subscriber == nil {
		_ = tr.Close()
		return Transport{}, fmt.Errorf("commitguard: %s transport needs both a publisher and a subscriber", name)
	}
	return tr, nil
}

// Names returns the registered transport names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Sorted(maps.Keys(r.entries))
}

// Has reports whether name is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.entries[name]
	return ok
}

// Register adds a builder to DefaultRegistry.
func Register(name string, builder Builder) {
	DefaultRegistry.Register(name, builder)
}

// RegisterWithCapabilities adds a builder and its capabilities to
// DefaultRegistry.
func RegisterWithCapabilities(name string, builder Builder, caps Capabilities) {
	DefaultRegistry.RegisterWithCapabilities(name, builder, caps)
}

// Build builds from DefaultRegistry.
func Build(ctx context.Context, cfg Config, logger watermill.LoggerAdapter) (Transport, error) {
	return DefaultRegistry.Build(ctx, cfg, logger)
}
