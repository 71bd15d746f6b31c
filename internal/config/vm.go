package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/chiquitav2/ddcloud/pkg/errors"
	"github.com/spf13/cast"
)

// VM is the loosely typed creation request for a single node. It starts as a
// copy of the profile and collects per-call overrides.
type VM map[string]any

// NewVM merges a profile into a request for node name
func NewVM(opts *Opts, profile, name string, overrides map[string]any) (VM, error) {
	prof, ok := opts.Profiles[profile]
	if !ok {
		return nil, errors.NewConfigError(fmt.Sprintf("profile %q is not configured", profile), nil)
	}

	vm := make(VM, len(prof)+len(overrides)+3)
	for k, v := range prof {
		vm[k] = v
	}
	vm["profile"] = profile
	vm["name"] = name
	if ref, ok := prof["provider"].(string); ok {
		vm["driver"] = ref
		delete(vm, "provider")
	}
	for k, v := range overrides {
		vm[strings.ToLower(k)] = v
	}

	return vm, nil
}

func (vm VM) Name() string    { return cast.ToString(vm["name"]) }
func (vm VM) Profile() string { return cast.ToString(vm["profile"]) }

// ProviderAlias returns the alias part of the request's driver reference
func (vm VM) ProviderAlias() string {
	alias, _ := SplitProvider(cast.ToString(vm["driver"]))
	return alias
}

// Clone returns a shallow copy
func (vm VM) Clone() VM {
	out := make(VM, len(vm))
	for k, v := range vm {
		out[k] = v
	}
	return out
}

// GetCloudConfigValue resolves name for a request. Later sources win:
// global (when searchGlobal) < profile < provider < request.
func GetCloudConfigValue(name string, vm VM, opts *Opts, def any, searchGlobal bool) any {
	value := def

	if opts != nil {
		if searchGlobal {
			if v, ok := opts.Global[name]; ok && v != nil {
				value = v
			}
		}

		if prof, ok := opts.Profiles[vm.Profile()]; ok {
			if v, ok := prof[name]; ok && v != nil {
				value = v
			}
		}

		if prov, ok := opts.Providers[vm.ProviderAlias()]; ok {
			if v, ok := prov[name]; ok && v != nil {
				value = v
			}
		}
	}

	if v, ok := vm[name]; ok && v != nil {
		value = v
	}

	return value
}

func GetString(name string, vm VM, opts *Opts, def string, searchGlobal bool) string {
	return cast.ToString(GetCloudConfigValue(name, vm, opts, def, searchGlobal))
}

func GetBool(name string, vm VM, opts *Opts, def bool, searchGlobal bool) bool {
	return cast.ToBool(GetCloudConfigValue(name, vm, opts, def, searchGlobal))
}

func GetInt(name string, vm VM, opts *Opts, def int, searchGlobal bool) int {
	return cast.ToInt(GetCloudConfigValue(name, vm, opts, def, searchGlobal))
}

func GetFloat(name string, vm VM, opts *Opts, def float64, searchGlobal bool) float64 {
	return cast.ToFloat64(GetCloudConfigValue(name, vm, opts, def, searchGlobal))
}

func GetStringSlice(name string, vm VM, opts *Opts, searchGlobal bool) []string {
	return cast.ToStringSlice(GetCloudConfigValue(name, vm, opts, nil, searchGlobal))
}

// GetSeconds reads a duration. Bare numbers are seconds, strings may carry a
// unit ("90s", "25m").
func GetSeconds(name string, vm VM, opts *Opts, def time.Duration, searchGlobal bool) time.Duration {
	raw := GetCloudConfigValue(name, vm, opts, nil, searchGlobal)
	if raw == nil {
		return def
	}

	if d, ok := raw.(time.Duration); ok {
		return d
	}

	if s, ok := raw.(string); ok {
		s = strings.TrimSpace(s)
		if d, err := time.ParseDuration(s); err == nil {
			return d
		}
	}

	secs, err := cast.ToFloat64E(raw)
	if err != nil {
		return def
	}
	return time.Duration(secs * float64(time.Second))
}
