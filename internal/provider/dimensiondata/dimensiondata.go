// Package dimensiondata is the Dimension Data CloudControl provider. It binds
// the host's create, destroy and listing entry points to a CloudControl
// connection.
package dimensiondata

import (
	"context"
	"log/slog"
	"sync"

	"github.com/chiquitav2/ddcloud/internal/cache"
	"github.com/chiquitav2/ddcloud/internal/cloud"
	"github.com/chiquitav2/ddcloud/internal/cloud/nodefuncs"
	"github.com/chiquitav2/ddcloud/internal/cloudcontrol"
	"github.com/chiquitav2/ddcloud/internal/config"
	"github.com/chiquitav2/ddcloud/internal/metrics"
	"github.com/chiquitav2/ddcloud/pkg/compute"
	"github.com/chiquitav2/ddcloud/pkg/errors"
	"github.com/chiquitav2/ddcloud/pkg/events"
	"github.com/chiquitav2/ddcloud/pkg/logger"
)

// DriverName is the name this provider registers under
const DriverName = cloudcontrol.DriverName

// RequiredKeys must be set on the provider for the driver to load
var RequiredKeys = []string{"user_id", "key", "region"}

// Provider implements cloud.Provider for one configured alias
type Provider struct {
	alias        string
	opts         *config.Opts
	logger       *logger.Logger
	bus          events.Bus
	metrics      *metrics.Metrics
	cache        *cache.Store
	bootstrapper cloud.Bootstrapper
	funcs        *nodefuncs.Funcs

	mu      sync.Mutex
	conn    compute.NetworkDriver
	connect func(ctx context.Context) (compute.NetworkDriver, error)
}

var _ cloud.Provider = (*Provider)(nil)

// New is the cloud.Factory for the driver
func New(deps cloud.Deps) (cloud.Provider, error) {
	if deps.Logger == nil {
		deps.Logger = logger.NewNop()
	}
	log := deps.Logger.WithComponent(DriverName)

	p := &Provider{
		alias:        deps.Alias,
		opts:         deps.Opts,
		logger:       log,
		bus:          deps.Bus,
		metrics:      deps.Metrics,
		cache:        deps.Cache,
		bootstrapper: deps.Bootstrapper,
	}
	if p.bootstrapper == nil {
		p.bootstrapper = cloud.NewSSHBootstrapper(deps.Bus, deps.Logger)
	}
	p.connect = p.dial

	deps.Logger = log
	p.funcs = nodefuncs.New(func(ctx context.Context) (compute.Driver, error) {
		conn, err := p.GetConn(ctx)
		if err != nil {
			return nil, err
		}
		return conn, nil
	}, deps)

	return p, nil
}

// Register adds the driver to a registry
func Register(r *cloud.Registry) {
	r.Register(DriverName, New)
}

func (p *Provider) Alias() string  { return p.alias }
func (p *Provider) Driver() string { return DriverName }

// Virtual reports whether the provider is configured and its dependencies are met
func (p *Provider) Virtual() bool {
	if p.GetConfiguredProvider() == nil {
		return false
	}
	return p.GetDependencies()
}

// GetConfiguredProvider returns the provider settings when user_id, key and region are set
func (p *Provider) GetConfiguredProvider() map[string]any {
	alias := p.alias
	if alias == "" {
		alias = DriverName
	}
	if prov := config.IsProviderConfigured(p.opts, alias, DriverName, RequiredKeys); prov != nil {
		return prov
	}
	return config.IsProviderConfigured(p.opts, "", DriverName, RequiredKeys)
}

// GetDependencies checks that the configured region is served by the library
// or that an explicit endpoint replaces it
func (p *Provider) GetDependencies() bool {
	vm := p.providerVM()
	_, err := cloudcontrol.LookupRegion(config.GetString("region", vm, p.opts, "", false))
	endpoint := config.GetString("endpoint", vm, p.opts, "", false)

	return config.CheckDriverDependencies(p.logger, DriverName, map[string]bool{
		"cloudcontrol region": err == nil || endpoint != "",
	})
}

// GetConn returns the CloudControl connection, creating it on first use
func (p *Provider) GetConn(ctx context.Context) (compute.NetworkDriver, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.conn != nil {
		return p.conn, nil
	}
	conn, err := p.connect(ctx)
	if err != nil {
		return nil, err
	}
	p.conn = conn
	return conn, nil
}

func (p *Provider) dial(ctx context.Context) (compute.NetworkDriver, error) {
	if p.GetConfiguredProvider() == nil {
		return nil, errors.NewConfigError("no dimensiondata provider with user_id, key and region is configured", nil)
	}

	vm := p.providerVM()
	cfg := cloudcontrol.DefaultConfig(
		config.GetString("user_id", vm, p.opts, "", false),
		config.GetString("key", vm, p.opts, "", false),
		config.GetString("region", vm, p.opts, "", false),
	)
	cfg.BaseURL = config.GetString("endpoint", vm, p.opts, "", false)
	cfg.VerifySSL = config.GetBool("verify_ssl", vm, p.opts, true, false)
	cfg.Timeout = config.GetSeconds("api_timeout", vm, p.opts, cfg.Timeout, false)
	cfg.Logger = p.logger
	if p.metrics != nil {
		cfg.Observer = p.metrics
	}

	if cfg.Key != "" {
		p.logger.DebugContext(ctx, "authenticating using password", slog.String("region", cfg.Region))
	}
	if !cfg.VerifySSL {
		p.logger.WarnContext(ctx, "TLS certificate verification disabled", slog.String("provider", p.alias))
	}

	return cloudcontrol.NewDriver(cfg)
}

// providerVM is an empty request scoped to this alias, for provider-level lookups
func (p *Provider) providerVM() config.VM {
	return config.VM{"driver": p.alias}
}

func (p *Provider) waitOptions(vm config.VM) cloud.WaitOptions {
	def := cloud.DefaultWaitOptions()
	return cloud.WaitOptions{
		Timeout:            config.GetSeconds("wait_for_ip_timeout", vm, p.opts, def.Timeout, true),
		Interval:           config.GetSeconds("wait_for_ip_interval", vm, p.opts, def.Interval, true),
		IntervalMultiplier: config.GetFloat("wait_for_ip_interval_multiplier", vm, p.opts, def.IntervalMultiplier, true),
		MaxFailures:        config.GetInt("wait_for_ip_max_failures", vm, p.opts, def.MaxFailures, true),
		Logger:             p.logger,
	}
}

func (p *Provider) Destroy(ctx context.Context, name string, call cloud.CallKind) (map[string]any, error) {
	return p.funcs.Destroy(ctx, name, call)
}

func (p *Provider) Reboot(ctx context.Context, name string, call cloud.CallKind) (map[string]any, error) {
	return p.funcs.Reboot(ctx, name, call)
}

func (p *Provider) ShowInstance(ctx context.Context, name string, call cloud.CallKind) (map[string]any, error) {
	return p.funcs.ShowInstance(ctx, name, call)
}

func (p *Provider) ListNodes(ctx context.Context, call cloud.CallKind) (cloud.Results, error) {
	return p.funcs.ListNodes(ctx, call)
}

func (p *Provider) ListNodesFull(ctx context.Context, call cloud.CallKind) (cloud.Results, error) {
	return p.funcs.ListNodesFull(ctx, call)
}

func (p *Provider) ListNodesSelect(ctx context.Context, call cloud.CallKind) (cloud.Results, error) {
	return p.funcs.ListNodesSelect(ctx, call)
}

func (p *Provider) AvailImages(ctx context.Context, call cloud.CallKind) (cloud.Results, error) {
	return p.funcs.AvailImages(ctx, call)
}

func (p *Provider) AvailSizes(ctx context.Context, call cloud.CallKind) (cloud.Results, error) {
	return p.funcs.AvailSizes(ctx, call)
}

func (p *Provider) AvailLocations(ctx context.Context, call cloud.CallKind) (cloud.Results, error) {
	return p.funcs.AvailLocations(ctx, call)
}

func (p *Provider) GetImage(ctx context.Context, vm config.VM) (*compute.Image, error) {
	return p.funcs.GetImage(ctx, vm)
}

func (p *Provider) GetSize(ctx context.Context, vm config.VM) (*compute.Size, error) {
	return p.funcs.GetSize(ctx, vm)
}

func (p *Provider) Script(vm config.VM) (string, error) {
	return p.funcs.Script(vm)
}
