// Package config loads runwatch settings from defaults, a config file,
// RUNWATCH_* environment variables and runtime overrides, in increasing order
// of precedence.
package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

// AppIdentity names the binary, its env prefix and its config directory.
type AppIdentity struct {
	BinaryName string
	EnvPrefix  string
	ConfigName string
}

// DefaultIdentity returns the runwatch identity.
func DefaultIdentity() *AppIdentity {
	return &AppIdentity{BinaryName: "runwatch", EnvPrefix: "RUNWATCH", ConfigName: "runwatch"}
}

// Config is the decoded runtime configuration.
type Config struct {
	Logging    LoggingConfig    `mapstructure:"logging"`
	HTTP       HTTPConfig       `mapstructure:"http"`
	Pipeline   PipelineConfig   `mapstructure:"pipeline"`
	Workspaces WorkspacesConfig `mapstructure:"workspaces"`
	Notify     NotifyConfig     `mapstructure:"notify"`
	Server     ServerConfig     `mapstructure:"server"`
	Health     HealthConfig     `mapstructure:"health"`

	// Manifest is the default alert manifest path.
	Manifest string `mapstructure:"manifest"`

	// DataDir holds check history. Empty means the platform app data dir.
	DataDir string `mapstructure:"data_dir"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// HTTPConfig tunes the platform API client.
type HTTPConfig struct {
	Timeout    time.Duration `mapstructure:"timeout"`
	RateLimit  float64       `mapstructure:"rate_limit"`
	APIVersion string        `mapstructure:"api_version"`
}

type PipelineConfig struct {
	Concurrency  int    `mapstructure:"concurrency"`
	PageSize     int    `mapstructure:"page_size"`
	StreamingTag string `mapstructure:"streaming_tag"`
}

// WorkspacesConfig lists workspaces when no manifest is given. URLs and
// Tokens pair up by index and accept the "[a, b]" list form from env.
type WorkspacesConfig struct {
	URLs   []string `mapstructure:"urls"`
	Tokens []string `mapstructure:"tokens"`
}

type NotifyConfig struct {
	Webhook   string  `mapstructure:"webhook"`
	RateLimit float64 `mapstructure:"rate_limit"`
}

// ServerConfig configures serve mode.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	Interval        time.Duration `mapstructure:"interval"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type HealthConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// EnvSpec maps one environment variable to a config path.
type EnvSpec struct {
	Name string
	Path string
}

var (
	configMu    sync.RWMutex
	appIdentity *AppIdentity
	appConfig   *Config
)

// envPaths maps env suffixes (after PREFIX_) to config paths.
var envPaths = []struct{ suffix, path string }{
	{"LOG_LEVEL", "logging.level"},
	{"LOG_FORMAT", "logging.format"},
	{"HTTP_TIMEOUT", "http.timeout"},
	{"RATE_LIMIT", "http.rate_limit"},
	{"API_VERSION", "http.api_version"},
	{"CONCURRENCY", "pipeline.concurrency"},
	{"PAGE_SIZE", "pipeline.page_size"},
	{"STREAMING_TAG", "pipeline.streaming_tag"},
	{"WORKSPACE_URLS", "workspaces.urls"},
	{"WORKSPACE_TOKENS", "workspaces.tokens"},
	{"WEBHOOK_URL", "notify.webhook"},
	{"POST_RATE", "notify.rate_limit"},
	{"HOST", "server.host"},
	{"PORT", "server.port"},
	{"INTERVAL", "server.interval"},
	{"READ_TIMEOUT", "server.read_timeout"},
	{"WRITE_TIMEOUT", "server.write_timeout"},
	{"IDLE_TIMEOUT", "server.idle_timeout"},
	{"SHUTDOWN_TIMEOUT", "server.shutdown_timeout"},
	{"HEALTH_ENABLED", "health.enabled"},
	{"MANIFEST", "manifest"},
	{"DATA_DIR", "data_dir"},
}

// SetDefaults registers every default on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")

	v.SetDefault("http.timeout", "30s")
	v.SetDefault("http.rate_limit", 0.0)
	v.SetDefault("http.api_version", "2.2")

	v.SetDefault("pipeline.concurrency", 4)
	v.SetDefault("pipeline.page_size", 25)
	v.SetDefault("pipeline.streaming_tag", "streaming")

	v.SetDefault("workspaces.urls", []string{})
	v.SetDefault("workspaces.tokens", []string{})

	v.SetDefault("notify.webhook", "")
	v.SetDefault("notify.rate_limit", 1.0)

	v.SetDefault("server.host", "localhost")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.interval", "15m")
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("server.shutdown_timeout", "10s")

	v.SetDefault("health.enabled", true)

	v.SetDefault("manifest", "")
	v.SetDefault("data_dir", "")
}

// Load loads configuration without an explicit config file.
func Load(ctx context.Context, overrides ...map[string]any) (*Config, error) {
	return LoadFile(ctx, "", overrides...)
}

// LoadFile loads configuration. When path is empty the first existing user
// config file is used, if any. Overrides are nested maps keyed like the
// config file and win over everything else.
func LoadFile(ctx context.Context, path string, overrides ...map[string]any) (*Config, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	configMu.Lock()
	defer configMu.Unlock()
	if appIdentity == nil {
		appIdentity = DefaultIdentity()
	}

	v := viper.New()
	SetDefaults(v)

	if path == "" {
		for _, candidate := range userConfigPaths(appIdentity) {
			if _, err := os.Stat(candidate); err == nil {
				path = candidate
				break
			}
		}
	}
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	for _, spec := range envSpecs(appIdentity) {
		if err := v.BindEnv(spec.Path, spec.Name); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", spec.Name, err)
		}
	}

	for _, o := range overrides {
		for key, val := range flatten("", o) {
			v.Set(key, val)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		stringToListHook(),
	))); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	appConfig = &cfg
	return &cfg, nil
}

// Validate rejects settings no command can work with.
func (c *Config) Validate() error {
	var errs []error
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}
	if c.Pipeline.Concurrency < 0 {
		errs = append(errs, fmt.Errorf("pipeline.concurrency must not be negative"))
	}
	if c.Pipeline.PageSize < 0 {
		errs = append(errs, fmt.Errorf("pipeline.page_size must not be negative"))
	}
	if c.HTTP.RateLimit < 0 || c.Notify.RateLimit < 0 {
		errs = append(errs, fmt.Errorf("rate limits must not be negative"))
	}
	if c.Server.Interval < 0 {
		errs = append(errs, fmt.Errorf("server.interval must not be negative"))
	}
	if len(c.Workspaces.Tokens) > 0 && len(c.Workspaces.Tokens) != len(c.Workspaces.URLs) {
		errs = append(errs, fmt.Errorf("workspaces.tokens has %d entries for %d urls",
			len(c.Workspaces.Tokens), len(c.Workspaces.URLs)))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

// GetConfig returns the most recently loaded configuration, or nil.
func GetConfig() *Config {
	configMu.RLock()
	defer configMu.RUnlock()
	return appConfig
}

// GetIdentity returns the identity used by Load, or nil before the first load.
func GetIdentity() *AppIdentity {
	configMu.RLock()
	defer configMu.RUnlock()
	return appIdentity
}

// SetIdentity replaces the identity used by later loads.
func SetIdentity(id *AppIdentity) {
	configMu.Lock()
	defer configMu.Unlock()
	appIdentity = id
}

// EnvSpecs lists the environment variables Load consults.
func EnvSpecs() []EnvSpec {
	return getEnvSpecs()
}

func getEnvSpecs() []EnvSpec {
	return envSpecs(appIdentity)
}

func envSpecs(id *AppIdentity) []EnvSpec {
	if id == nil {
		return []EnvSpec{}
	}
	specs := make([]EnvSpec, 0, len(envPaths))
	for _, p := range envPaths {
		specs = append(specs, EnvSpec{Name: id.EnvPrefix + "_" + p.suffix, Path: p.path})
	}
	return specs
}

func getUserConfigPaths() []string {
	return userConfigPaths(appIdentity)
}

func userConfigPaths(id *AppIdentity) []string {
	if id == nil {
		return []string{}
	}
	var paths []string
	if dir := os.Getenv("XDG_CONFIG_HOME"); dir != "" {
		paths = append(paths, filepath.Join(dir, id.ConfigName, "config.yaml"))
	} else if dir, err := os.UserConfigDir(); err == nil {
		paths = append(paths, filepath.Join(dir, id.ConfigName, "config.yaml"))
	}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, "."+id.ConfigName+".yaml"))
	}
	return paths
}

func flatten(prefix string, m map[string]any) map[string]any {
	out := make(map[string]any)
	for k, val := range m {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		if nested, ok := val.(map[string]any); ok {
			for nk, nv := range flatten(key, nested) {
				out[nk] = nv
			}
			continue
		}
		out[key] = val
	}
	return out
}

// stringToListHook decodes "[a, b]" and "a,b" strings into []string.
func stringToListHook() mapstructure.DecodeHookFuncType {
	return func(from, to reflect.Type, data any) (any, error) {
		if from.Kind() != reflect.String || to != reflect.TypeOf([]string{}) {
			return data, nil
		}
		return ParseList(data.(string)), nil
	}
}

// ParseList parses a list written as "[a, b, c]" or "a, b, c".
//
// Items are trimmed and surrounding quotes dropped. Empty input and "[]"
// yield an empty list.
func ParseList(s string) []string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "[")
	s = strings.TrimSuffix(s, "]")
	if strings.TrimSpace(s) == "" {
		return []string{}
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		p = strings.Trim(p, `"'`)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
