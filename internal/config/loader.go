// Package config provides centralized configuration management for catalogsync.
// It layers values in this order:
// Layer 1: built-in defaults (SetDefaults)
// Layer 2: YAML config file (--config, or config.yaml in the XDG config dir)
// Layer 3: CATALOGSYNC_* environment variables and runtime overrides
package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	gfconfig "github.com/fulmenhq/gofulmen/config"
	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

const (
	// AppName names the XDG config and data directories.
	AppName = "catalogsync"
	// EnvPrefix prefixes every environment override.
	EnvPrefix = "CATALOGSYNC"
)

var (
	// appConfig holds the current application configuration
	appConfig *Config
	configMu  sync.RWMutex
)

// EnvVarSpec defines environment variable mappings for config fields
// following the pattern: {PREFIX}{NAME} maps to config path
type EnvVarSpec = gfconfig.EnvVarSpec

// Environment variable types
const (
	EnvString = gfconfig.EnvString
	EnvInt    = gfconfig.EnvInt
	EnvBool   = gfconfig.EnvBool
)

// LoadOptions controls where configuration is read from.
type LoadOptions struct {
	// ConfigFile is an explicit config path; it must exist when set.
	ConfigFile string
}

// Load builds the configuration from defaults, the config file, environment
// variables and runtime overrides, then validates it.
//
// This function is safe to call multiple times (e.g., for config reload)
func Load(ctx context.Context, opts LoadOptions, runtimeOverrides ...map[string]any) (*Config, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	v := viper.New()
	SetDefaults(v)

	if opts.ConfigFile != "" {
		v.SetConfigFile(opts.ConfigFile)
	} else {
		if dir := gfconfig.GetAppConfigDir(AppName); strings.TrimSpace(dir) != "" {
			v.AddConfigPath(dir)
		}
		v.AddConfigPath("./config")
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if opts.ConfigFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	envOverrides, err := gfconfig.LoadEnvOverrides(getEnvSpecs())
	if err != nil {
		return nil, fmt.Errorf("failed to load environment overrides: %w", err)
	}
	if envOverrides == nil {
		envOverrides = map[string]any{}
	}
	applyScopeEnvOverrides(EnvPrefix+"_", envOverrides)

	allOverrides := []map[string]any{envOverrides}
	allOverrides = append(allOverrides, runtimeOverrides...)
	for _, overrides := range allOverrides {
		applyOverrides(v, "", overrides)
	}

	// Unmarshal into typed config struct
	cfg := &Config{}
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           cfg,
		WeaklyTypedInput: true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
			mapstructure.StringToFloat64HookFunc(),
		),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create decoder: %w", err)
	}

	if err := decoder.Decode(v.AllSettings()); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	setConfig(cfg)

	return cfg, nil
}

// ConfigFileUsed reports the config file Load would read, or "".
func ConfigFileUsed(opts LoadOptions) string {
	if opts.ConfigFile != "" {
		return opts.ConfigFile
	}
	candidates := []string{filepath.Join("config", "config.yaml")}
	if path := DefaultConfigPath(); path != "" {
		candidates = append([]string{path}, candidates...)
	}
	for _, candidate := range candidates {
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
	}
	return ""
}

// GetConfig returns the current application configuration (thread-safe)
func GetConfig() *Config {
	configMu.RLock()
	defer configMu.RUnlock()
	return appConfig
}

// setConfig updates the current configuration (thread-safe)
func setConfig(cfg *Config) {
	configMu.Lock()
	defer configMu.Unlock()
	appConfig = cfg
}

func (c *Config) normalize() {
	if strings.TrimSpace(c.Store.Driver) == "" {
		c.Store.Driver = "libsql"
	}
	if strings.TrimSpace(c.Store.URL) == "" && strings.TrimSpace(c.Store.Path) == "" {
		c.Store.Path = DefaultStorePath()
	}

	scopes := make([]string, 0, len(c.Sync.Scopes))
	for _, scope := range c.Sync.Scopes {
		if scope = strings.ToLower(strings.TrimSpace(scope)); scope != "" {
			scopes = append(scopes, scope)
		}
	}
	if len(scopes) == 0 && len(c.Scopes) > 0 {
		for name := range c.Scopes {
			scopes = append(scopes, name)
		}
		sort.Strings(scopes)
	}
	c.Sync.Scopes = scopes
}

// getEnvSpecs returns environment variable specifications for config mapping.
// Nested keys are also reachable through AutomaticEnv as
// CATALOGSYNC_<SECTION>_<KEY>; these are the short aliases.
func getEnvSpecs() []EnvVarSpec {
	prefix := EnvPrefix + "_"

	return []EnvVarSpec{
		// Server config
		{Name: prefix + "HOST", Path: []string{"server", "host"}, Type: EnvString},
		{Name: prefix + "PORT", Path: []string{"server", "port"}, Type: EnvInt},

		// Logging config
		{Name: prefix + "LOG_LEVEL", Path: []string{"logging", "level"}, Type: EnvString},
		{Name: prefix + "LOG_PROFILE", Path: []string{"logging", "profile"}, Type: EnvString},

		// Store config
		{Name: prefix + "DB_DRIVER", Path: []string{"store", "driver"}, Type: EnvString},
		{Name: prefix + "DB_PATH", Path: []string{"store", "path"}, Type: EnvString},
		{Name: prefix + "DB_URL", Path: []string{"store", "url"}, Type: EnvString},
		{Name: prefix + "DB_AUTH_TOKEN", Path: []string{"store", "auth_token"}, Type: EnvString},

		// Sync config
		{Name: prefix + "MAX_PAGES", Path: []string{"sync", "max_pages"}, Type: EnvInt},
		{Name: prefix + "SYNC_INTERVAL", Path: []string{"sync", "interval"}, Type: EnvString},

		// Metrics config
		{Name: prefix + "METRICS_ENABLED", Path: []string{"metrics", "enabled"}, Type: EnvBool},
		{Name: prefix + "METRICS_PORT", Path: []string{"metrics", "port"}, Type: EnvInt},

		// Telemetry config
		{Name: prefix + "OTLP_ENDPOINT", Path: []string{"telemetry", "endpoint"}, Type: EnvString},
		{Name: prefix + "TRACING_ENABLED", Path: []string{"telemetry", "enabled"}, Type: EnvBool},
	}
}

var scopeEnvFields = []string{"BASE_URL", "USERNAME", "PASSWORD", "TIMEOUT"}

// applyScopeEnvOverrides maps CATALOGSYNC_SCOPE_<NAME>_<FIELD> onto
// scopes.<name>.<field>, so credentials can stay out of config files.
func applyScopeEnvOverrides(prefix string, envOverrides map[string]any) {
	scopePrefix := prefix + "SCOPE_"

	for _, item := range os.Environ() {
		key, value, ok := strings.Cut(item, "=")
		if !ok || !strings.HasPrefix(key, scopePrefix) {
			continue
		}
		if strings.TrimSpace(value) == "" {
			continue
		}

		rest := key[len(scopePrefix):]
		for _, field := range scopeEnvFields {
			name, found := strings.CutSuffix(rest, "_"+field)
			if !found || name == "" {
				continue
			}
			scopes := ensureMap(envOverrides, "scopes")
			scope := ensureMap(scopes, toSlug(name))
			scope[strings.ToLower(field)] = strings.TrimSpace(value)
			break
		}
	}
}

// applyOverrides sets every leaf of overrides on v using dotted keys.
func applyOverrides(v *viper.Viper, parent string, overrides map[string]any) {
	for key, value := range overrides {
		path := key
		if parent != "" {
			path = parent + "." + key
		}
		if nested, ok := value.(map[string]any); ok {
			applyOverrides(v, path, nested)
			continue
		}
		v.Set(path, value)
	}
}

// DefaultConfigPath returns the XDG-compliant path to the user config file.
func DefaultConfigPath() string {
	configDir := gfconfig.GetAppConfigDir(AppName)
	if strings.TrimSpace(configDir) == "" {
		return ""
	}
	return filepath.Join(configDir, "config.yaml")
}

// DefaultDataDir returns the XDG-compliant data directory for the app.
func DefaultDataDir() string {
	return gfconfig.GetAppDataDir(AppName)
}

// DefaultStorePath returns the XDG-compliant path to the database file.
func DefaultStorePath() string {
	dataDir := gfconfig.GetAppDataDir(AppName)
	if strings.TrimSpace(dataDir) == "" {
		return "./" + AppName + ".db"
	}
	return filepath.Join(dataDir, AppName+".db")
}

func ensureMap(parent map[string]any, key string) map[string]any {
	if parent == nil {
		return map[string]any{}
	}
	if existing, ok := parent[key]; ok {
		if typed, ok := existing.(map[string]any); ok {
			return typed
		}
	}
	next := map[string]any{}
	parent[key] = next
	return next
}

func toSlug(raw string) string {
	parts := strings.Split(strings.TrimSpace(raw), "_")
	clean := make([]string, 0, len(parts))
	for _, part := range parts {
		p := strings.ToLower(strings.TrimSpace(part))
		if p == "" {
			continue
		}
		clean = append(clean, p)
	}
	return strings.Join(clean, "-")
}
