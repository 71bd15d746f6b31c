package cloud

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/chiquitav2/ddcloud/internal/cache"
	"github.com/chiquitav2/ddcloud/internal/config"
	"github.com/chiquitav2/ddcloud/internal/metrics"
	"github.com/chiquitav2/ddcloud/pkg/compute"
	"github.com/chiquitav2/ddcloud/pkg/errors"
	"github.com/chiquitav2/ddcloud/pkg/events"
	"github.com/chiquitav2/ddcloud/pkg/logger"
)

// CallKind distinguishes node-targeted actions from provider-wide functions
type CallKind string

const (
	CallAction   CallKind = "action"
	CallFunction CallKind = "function"
)

// Results keyed by node, image, size or location name
type Results map[string]map[string]any

// Provider is the contract every driver plugin fulfils
type Provider interface {
	// Alias is the configured provider name, Driver the plugin name
	Alias() string
	Driver() string

	// Virtual reports whether the plugin is usable with the current configuration
	Virtual() bool

	Create(ctx context.Context, vm config.VM) (map[string]any, error)
	Destroy(ctx context.Context, name string, call CallKind) (map[string]any, error)
	Reboot(ctx context.Context, name string, call CallKind) (map[string]any, error)
	ShowInstance(ctx context.Context, name string, call CallKind) (map[string]any, error)

	ListNodes(ctx context.Context, call CallKind) (Results, error)
	ListNodesFull(ctx context.Context, call CallKind) (Results, error)
	ListNodesSelect(ctx context.Context, call CallKind) (Results, error)

	AvailImages(ctx context.Context, call CallKind) (Results, error)
	AvailSizes(ctx context.Context, call CallKind) (Results, error)
	AvailLocations(ctx context.Context, call CallKind) (Results, error)

	GetImage(ctx context.Context, vm config.VM) (*compute.Image, error)
	GetSize(ctx context.Context, vm config.VM) (*compute.Size, error)
	Script(vm config.VM) (string, error)
}

// Deps are the host services handed to a provider
type Deps struct {
	Opts         *config.Opts
	Alias        string
	Logger       *logger.Logger
	Bus          events.Bus
	Metrics      *metrics.Metrics
	Cache        *cache.Store
	Bootstrapper Bootstrapper
}

// Factory builds a provider for deps.Alias
type Factory func(deps Deps) (Provider, error)

// Registry maps driver names to factories
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register adds a driver; registering a name twice replaces the factory
func (r *Registry) Register(driver string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[driver] = f
}

// Drivers lists registered driver names
func (r *Registry) Drivers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Load builds the provider configured under alias. A provider whose
// Virtual check fails is reported as a configuration error.
func (r *Registry) Load(deps Deps, alias string) (Provider, error) {
	if deps.Opts == nil {
		return nil, errors.NewConfigError("no cloud configuration loaded", nil)
	}

	alias, _ = config.SplitProvider(alias)
	driver := deps.Opts.ProviderDriver(alias)
	if driver == "" {
		return nil, errors.NewConfigError(fmt.Sprintf("provider %q is not configured", alias), nil)
	}

	r.mu.RLock()
	factory, ok := r.factories[driver]
	r.mu.RUnlock()
	if !ok {
		return nil, errors.NewConfigError(fmt.Sprintf("driver %q is not available", driver), nil)
	}

	if deps.Logger == nil {
		deps.Logger = logger.NewNop()
	}
	deps.Alias = alias

	p, err := factory(deps)
	if err != nil {
		return nil, err
	}
	if !p.Virtual() {
		return nil, errors.NewConfigError(fmt.Sprintf("provider %q is missing required settings for driver %s", alias, driver), nil)
	}
	return p, nil
}

// LoadForProfile resolves the provider a profile points at
func (r *Registry) LoadForProfile(deps Deps, profile string) (Provider, error) {
	if deps.Opts == nil {
		return nil, errors.NewConfigError("no cloud configuration loaded", nil)
	}
	prof, ok := deps.Opts.Profiles[profile]
	if !ok {
		return nil, errors.NewConfigError(fmt.Sprintf("profile %q is not configured", profile), nil)
	}
	ref, _ := prof["provider"].(string)
	return r.Load(deps, ref)
}
