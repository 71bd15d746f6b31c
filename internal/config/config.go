package config

import (
	"fmt"
	"sort"
	"strings"

	"github.com/chiquitav2/ddcloud/pkg/logger"
)

// Opts is the global cloud configuration handed to every provider
type Opts struct {
	// Global holds top level options (cachedir, deploy, ssh_username, ...)
	Global map[string]any

	// Providers maps a provider alias to its settings; each carries "driver"
	Providers map[string]map[string]any

	// Profiles maps a profile name to its settings; each carries "provider"
	Profiles map[string]map[string]any

	Log logger.LoggerConfig
}

// NewOpts builds Opts from plain maps. Keys are lower-cased the same way the
// loader does so lookups behave identically for file and in-code configs.
func NewOpts(global map[string]any, providers, profiles map[string]map[string]any) *Opts {
	o := &Opts{
		Global:    lowerKeys(global),
		Providers: make(map[string]map[string]any, len(providers)),
		Profiles:  make(map[string]map[string]any, len(profiles)),
		Log:       logger.DefaultConfig(),
	}
	for alias, p := range providers {
		o.Providers[alias] = lowerKeys(p)
	}
	for name, p := range profiles {
		o.Profiles[name] = lowerKeys(p)
	}
	return o
}

// ProviderAliases returns configured aliases in stable order
func (o *Opts) ProviderAliases() []string {
	aliases := make([]string, 0, len(o.Providers))
	for alias := range o.Providers {
		aliases = append(aliases, alias)
	}
	sort.Strings(aliases)
	return aliases
}

// ProviderDriver returns the driver name configured for an alias
func (o *Opts) ProviderDriver(alias string) string {
	alias, _ = SplitProvider(alias)
	if p, ok := o.Providers[alias]; ok {
		if d, ok := p["driver"].(string); ok {
			return d
		}
	}
	return ""
}

// Validate checks the cross references between profiles and providers
func (o *Opts) Validate() error {
	validLevels := map[logger.LogLevel]bool{
		logger.LevelTrace: true, logger.LevelDebug: true, logger.LevelInfo: true,
		logger.LevelWarn: true, logger.LevelError: true,
	}
	if o.Log.Level != "" && !validLevels[o.Log.Level] {
		return fmt.Errorf("invalid log.level: %s (must be trace, debug, info, warn, or error)", o.Log.Level)
	}
	if o.Log.Format != "" && o.Log.Format != logger.FormatJSON && o.Log.Format != logger.FormatText {
		return fmt.Errorf("invalid log.format: %s (must be json or text)", o.Log.Format)
	}

	for _, alias := range o.ProviderAliases() {
		if o.ProviderDriver(alias) == "" {
			return fmt.Errorf("provider %q does not name a driver", alias)
		}
	}

	names := make([]string, 0, len(o.Profiles))
	for name := range o.Profiles {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		ref, _ := o.Profiles[name]["provider"].(string)
		if ref == "" {
			return fmt.Errorf("profile %q does not reference a provider", name)
		}
		alias, _ := SplitProvider(ref)
		if _, ok := o.Providers[alias]; !ok {
			return fmt.Errorf("profile %q references unknown provider %q", name, alias)
		}
	}

	return nil
}

// SplitProvider splits "alias:driver" into its parts; the driver part is optional
func SplitProvider(ref string) (alias, driver string) {
	alias, driver, _ = strings.Cut(ref, ":")
	return alias, driver
}

func lowerKeys(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[strings.ToLower(k)] = v
	}
	return out
}
