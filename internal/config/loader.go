package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/chiquitav2/ddcloud/pkg/logger"
	"github.com/spf13/cast"
	"github.com/spf13/viper"
)

const envPrefix = "DDCLOUD"

// Loader handles configuration loading from YAML files and environment variables
type Loader struct {
	v *viper.Viper
}

// NewLoader creates a new configuration loader
func NewLoader() *Loader {
	return &Loader{
		v: viper.New(),
	}
}

// Load reads the cloud config. File values win over defaults and DDCLOUD_*
// environment variables win over both.
func (l *Loader) Load() (*Opts, error) {
	if l.v.ConfigFileUsed() == "" {
		l.v.SetConfigName("cloud")
		l.v.SetConfigType("yaml")
		l.v.AddConfigPath("/etc/ddcloud")
		l.v.AddConfigPath("$HOME/.ddcloud")
		l.v.AddConfigPath(".")
	}

	l.v.SetEnvPrefix(envPrefix)
	l.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	l.v.AutomaticEnv()

	l.setDefaults()

	if err := l.v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	opts, err := l.build()
	if err != nil {
		return nil, err
	}

	if err := opts.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return opts, nil
}

func (l *Loader) setDefaults() {
	l.v.SetDefault("log.level", "info")
	l.v.SetDefault("log.format", "text")

	l.v.SetDefault("cachedir", "/var/cache/ddcloud")
	l.v.SetDefault("update_cachedir", false)
	l.v.SetDefault("ssh_username", "root")
	l.v.SetDefault("ssh_port", 22)
	l.v.SetDefault("ssh_connect_timeout", 900)
}

func (l *Loader) build() (*Opts, error) {
	providers, err := sectionMaps(l.v.Get("providers"))
	if err != nil {
		return nil, fmt.Errorf("invalid providers section: %w", err)
	}
	profiles, err := sectionMaps(l.v.Get("profiles"))
	if err != nil {
		return nil, fmt.Errorf("invalid profiles section: %w", err)
	}

	global := make(map[string]any)
	for key, val := range l.v.AllSettings() {
		switch key {
		case "providers", "profiles", "log":
			continue
		}
		global[key] = val
	}

	opts := NewOpts(global, providers, profiles)
	opts.Log = logger.LoggerConfig{
		Level:     logger.LogLevel(strings.ToLower(l.v.GetString("log.level"))),
		Format:    logger.OutputFormat(strings.ToLower(l.v.GetString("log.format"))),
		AddSource: l.v.GetBool("log.add_source"),
		Component: "ddcloud",
	}

	return opts, nil
}

// sectionMaps coerces a "name -> settings" YAML section
func sectionMaps(raw any) (map[string]map[string]any, error) {
	out := make(map[string]map[string]any)
	if raw == nil {
		return out, nil
	}

	section, err := cast.ToStringMapE(raw)
	if err != nil {
		return nil, err
	}

	for name, body := range section {
		m, err := cast.ToStringMapE(body)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		out[name] = m
	}
	return out, nil
}

// GetString reads a raw key, mostly useful for flags that bypass Opts
func (l *Loader) GetString(key string) string {
	return l.v.GetString(key)
}

// IsSet reports whether a key has a value from any source
func (l *Loader) IsSet(key string) bool {
	return l.v.IsSet(key)
}

// LoadWithPath loads configuration from a specific file path
func LoadWithPath(configPath string) (*Opts, error) {
	loader := NewLoader()
	if configPath != "" {
		if _, err := os.Stat(configPath); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		loader.v.SetConfigFile(configPath)
	}
	return loader.Load()
}
