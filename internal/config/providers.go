package config

import (
	"log/slog"
	"sort"

	"github.com/chiquitav2/ddcloud/pkg/logger"
	"github.com/spf13/cast"
)

// IsProviderConfigured finds the provider settings for driver. With an empty
// alias the first alias (by name) using driver is picked. Every required key
// must be present and non-empty. Returns nil when nothing qualifies.
func IsProviderConfigured(opts *Opts, alias, driver string, requiredKeys []string) map[string]any {
	if opts == nil {
		return nil
	}

	candidates := []string{alias}
	if alias == "" {
		candidates = opts.ProviderAliases()
	}

	for _, a := range candidates {
		a, _ = SplitProvider(a)
		prov, ok := opts.Providers[a]
		if !ok || opts.ProviderDriver(a) != driver {
			continue
		}
		if hasKeys(prov, requiredKeys) {
			return prov
		}
	}

	return nil
}

// IsProfileConfigured reports whether profile exists, targets alias and
// carries every required key (looked up in the profile, then the provider).
func IsProfileConfigured(opts *Opts, alias, profile string, requiredKeys []string) bool {
	if opts == nil {
		return false
	}

	prof, ok := opts.Profiles[profile]
	if !ok {
		return false
	}

	ref, _ := SplitProvider(cast.ToString(prof["provider"]))
	want, _ := SplitProvider(alias)
	if ref != want {
		return false
	}

	prov := opts.Providers[ref]
	for _, key := range requiredKeys {
		if present(prof, key) || present(prov, key) {
			continue
		}
		return false
	}

	return true
}

// CheckDriverDependencies logs every missing dependency and reports whether all are present
func CheckDriverDependencies(log *logger.Logger, driver string, deps map[string]bool) bool {
	names := make([]string, 0, len(deps))
	for name := range deps {
		names = append(names, name)
	}
	sort.Strings(names)

	ok := true
	for _, name := range names {
		if deps[name] {
			continue
		}
		ok = false
		if log != nil {
			log.Warn("missing driver dependency",
				slog.String("driver", driver),
				slog.String("dependency", name))
		}
	}
	return ok
}

func hasKeys(m map[string]any, keys []string) bool {
	for _, k := range keys {
		if !present(m, k) {
			return false
		}
	}
	return true
}

func present(m map[string]any, key string) bool {
	if m == nil {
		return false
	}
	v, ok := m[key]
	if !ok || v == nil {
		return false
	}
	if s, isStr := v.(string); isStr && s == "" {
		return false
	}
	return true
}
