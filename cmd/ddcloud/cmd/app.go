package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"

	"github.com/chiquitav2/ddcloud/internal/cache"
	"github.com/chiquitav2/ddcloud/internal/cloud"
	"github.com/chiquitav2/ddcloud/internal/config"
	"github.com/chiquitav2/ddcloud/internal/metrics"
	"github.com/chiquitav2/ddcloud/internal/provider/dimensiondata"
	"github.com/chiquitav2/ddcloud/pkg/events"
	"github.com/chiquitav2/ddcloud/pkg/logger"
)

// app holds the services shared by every command of one invocation
type app struct {
	opts     *config.Opts
	logger   *logger.Logger
	bus      events.Bus
	metrics  *metrics.Metrics
	cache    *cache.Store
	registry *cloud.Registry

	// events receives the JSON event stream when --events is set
	events io.Writer
}

func newApp(stderr io.Writer) (*app, error) {
	opts, err := config.LoadWithPath(cfgFile)
	if err != nil {
		return nil, err
	}

	logCfg := opts.Log
	if logLevel != "" {
		logCfg.Level = logger.LogLevel(logLevel)
	}
	if logFormat != "" {
		logCfg.Format = logger.OutputFormat(logFormat)
	}
	logCfg.Component = "ddcloud"
	logCfg.Version = Version
	logCfg.Output = stderr
	opts.Log = logCfg
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	log := logger.New(logCfg)

	a := &app{
		opts:     opts,
		logger:   log,
		bus:      events.NewBus(events.DefaultBusConfig(), log),
		metrics:  metrics.New(),
		registry: cloud.NewRegistry(),
	}
	dimensiondata.Register(a.registry)

	if showEvents {
		if err := a.bus.Subscribe(events.Wildcard, printEvent(stderr)); err != nil {
			return nil, err
		}
		a.events = stderr
	}

	if config.GetBool("update_cachedir", nil, opts, false, true) {
		dir := config.GetString("cachedir", nil, opts, "/var/cache/ddcloud", true)
		store, err := cache.Open(dir)
		if err != nil {
			return nil, err
		}
		a.cache = store
	}

	return a, nil
}

func (a *app) deps() cloud.Deps {
	return cloud.Deps{
		Opts:         a.opts,
		Logger:       a.logger,
		Bus:          a.bus,
		Metrics:      a.metrics,
		Cache:        a.cache,
		Bootstrapper: cloud.NewSSHBootstrapper(a.bus, a.logger),
	}
}

// provider loads the provider named by ref, or the only configured one when ref is empty
func (a *app) provider(ref string) (cloud.Provider, error) {
	if ref == "" {
		aliases := a.opts.ProviderAliases()
		if len(aliases) != 1 {
			return nil, fmt.Errorf("--provider is required when %d providers are configured", len(aliases))
		}
		ref = aliases[0]
	}
	return a.registry.Load(a.deps(), ref)
}

// providers loads ref, or every configured provider that passes its checks
func (a *app) providers(ref string) ([]cloud.Provider, error) {
	if ref != "" {
		p, err := a.registry.Load(a.deps(), ref)
		if err != nil {
			return nil, err
		}
		return []cloud.Provider{p}, nil
	}

	var out []cloud.Provider
	for _, alias := range a.opts.ProviderAliases() {
		p, err := a.registry.Load(a.deps(), alias)
		if err != nil {
			a.logger.Warn("skipping provider", slog.String("provider", alias), slog.String("error", err.Error()))
			continue
		}
		out = append(out, p)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no usable providers are configured")
	}
	return out, nil
}

func (a *app) close(ctx context.Context) {
	if metricsFile != "" {
		if err := a.metrics.WriteFile(metricsFile); err != nil {
			a.logger.ErrorCtx(ctx, "failed to write metrics file", err)
		}
	}
	if a.cache != nil {
		if err := a.cache.Close(); err != nil {
			a.logger.WarnErrCtx(ctx, "failed to close node cache", err)
		}
	}
	a.reportBus(ctx)
	if err := a.bus.Close(); err != nil {
		a.logger.WarnErrCtx(ctx, "failed to close event bus", err)
	}
}

// reportBus warns when event delivery failed and, with --events, ends the
// stream with a summary line
func (a *app) reportBus(ctx context.Context) {
	h := a.bus.Health()
	if h.Status != "healthy" {
		a.logger.WarnContext(ctx, "event bus reported problems",
			slog.String("status", h.Status),
			slog.String("last_error", h.LastError),
			slog.Int("published", h.Published))
	}
	if a.events != nil {
		if err := json.NewEncoder(a.events).Encode(map[string]any{"bus": h}); err != nil {
			a.logger.WarnErrCtx(ctx, "failed to write event summary", err)
		}
	}
}

func printEvent(w io.Writer) events.Handler {
	enc := json.NewEncoder(w)
	return func(ctx context.Context, e events.Event) error {
		return enc.Encode(map[string]any{
			"tag":       e.Tag(),
			"message":   e.Message(),
			"data":      e.Data(),
			"id":        e.ID(),
			"timestamp": e.Timestamp(),
		})
	}
}
