package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// isolate keeps user config files on the test machine out of Load.
func isolate(t *testing.T) {
	t.Helper()
	t.Setenv("HOME", t.TempDir())
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
}

func TestLoad(t *testing.T) {
	ctx := context.Background()

	t.Run("LoadDefaults", func(t *testing.T) {
		isolate(t)
		cfg, err := Load(ctx)
		require.NoError(t, err)
		require.NotNil(t, cfg)

		assert.Equal(t, "localhost", cfg.Server.Host)
		assert.Equal(t, 8080, cfg.Server.Port)
		assert.Equal(t, 15*time.Minute, cfg.Server.Interval)
		assert.Equal(t, 30*time.Second, cfg.Server.ReadTimeout)
		assert.Equal(t, 30*time.Second, cfg.Server.WriteTimeout)
		assert.Equal(t, 120*time.Second, cfg.Server.IdleTimeout)
		assert.Equal(t, 10*time.Second, cfg.Server.ShutdownTimeout)

		assert.Equal(t, "info", cfg.Logging.Level)
		assert.Equal(t, "console", cfg.Logging.Format)

		assert.Equal(t, 30*time.Second, cfg.HTTP.Timeout)
		assert.Equal(t, 0.0, cfg.HTTP.RateLimit)
		assert.Equal(t, "2.2", cfg.HTTP.APIVersion)

		assert.Equal(t, 4, cfg.Pipeline.Concurrency)
		assert.Equal(t, 25, cfg.Pipeline.PageSize)
		assert.Equal(t, "streaming", cfg.Pipeline.StreamingTag)

		assert.Equal(t, 1.0, cfg.Notify.RateLimit)
		assert.True(t, cfg.Health.Enabled)
		assert.Empty(t, cfg.Workspaces.URLs)
		assert.Empty(t, cfg.DataDir)
	})

	t.Run("RuntimeOverrides", func(t *testing.T) {
		isolate(t)
		overrides := map[string]any{
			"server": map[string]any{
				"port": 9000,
				"host": "0.0.0.0",
			},
			"logging": map[string]any{
				"level": "debug",
			},
		}

		cfg, err := Load(ctx, overrides)
		require.NoError(t, err)

		assert.Equal(t, "0.0.0.0", cfg.Server.Host)
		assert.Equal(t, 9000, cfg.Server.Port)
		assert.Equal(t, "debug", cfg.Logging.Level)
		assert.Equal(t, "console", cfg.Logging.Format)
	})

	t.Run("EnvOverrides", func(t *testing.T) {
		isolate(t)
		t.Setenv("RUNWATCH_PORT", "3000")
		t.Setenv("RUNWATCH_LOG_LEVEL", "warn")
		t.Setenv("RUNWATCH_HEALTH_ENABLED", "false")
		t.Setenv("RUNWATCH_CONCURRENCY", "8")

		cfg, err := Load(ctx)
		require.NoError(t, err)

		assert.Equal(t, 3000, cfg.Server.Port)
		assert.Equal(t, "warn", cfg.Logging.Level)
		assert.False(t, cfg.Health.Enabled)
		assert.Equal(t, 8, cfg.Pipeline.Concurrency)
	})

	t.Run("ConfigPrecedence", func(t *testing.T) {
		isolate(t)
		t.Setenv("RUNWATCH_PORT", "4000")

		cfg, err := Load(ctx, map[string]any{"server": map[string]any{"port": 5000}})
		require.NoError(t, err)
		assert.Equal(t, 5000, cfg.Server.Port)
	})

	t.Run("ConfigFile", func(t *testing.T) {
		isolate(t)
		path := filepath.Join(t.TempDir(), "config.yaml")
		require.NoError(t, os.WriteFile(path, []byte(`
http:
  timeout: 5s
  rate_limit: 2.5
workspaces:
  urls: [https://a.example.com, https://b.example.com]
server:
  interval: 1h
`), 0o600))
		t.Setenv("RUNWATCH_INTERVAL", "30m")

		cfg, err := LoadFile(ctx, path)
		require.NoError(t, err)
		assert.Equal(t, 5*time.Second, cfg.HTTP.Timeout)
		assert.Equal(t, 2.5, cfg.HTTP.RateLimit)
		assert.Equal(t, []string{"https://a.example.com", "https://b.example.com"}, cfg.Workspaces.URLs)
		assert.Equal(t, 30*time.Minute, cfg.Server.Interval, "env beats file")
	})

	t.Run("UserConfigFile", func(t *testing.T) {
		isolate(t)
		dir := filepath.Join(os.Getenv("XDG_CONFIG_HOME"), "runwatch")
		require.NoError(t, os.MkdirAll(dir, 0o755))
		require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("data_dir: /var/lib/runwatch\n"), 0o600))

		cfg, err := Load(ctx)
		require.NoError(t, err)
		assert.Equal(t, "/var/lib/runwatch", cfg.DataDir)
	})

	t.Run("MissingConfigFile", func(t *testing.T) {
		isolate(t)
		_, err := LoadFile(ctx, filepath.Join(t.TempDir(), "absent.yaml"))
		assert.Error(t, err)
	})

	t.Run("CancelledContext", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		_, err := Load(cctx)
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestListFromEnv(t *testing.T) {
	isolate(t)
	t.Setenv("RUNWATCH_WORKSPACE_URLS", "[https://a.example.com, https://b.example.com]")
	t.Setenv("RUNWATCH_WORKSPACE_TOKENS", "[tok-a, tok-b]")

	cfg, err := Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"https://a.example.com", "https://b.example.com"}, cfg.Workspaces.URLs)
	assert.Equal(t, []string{"tok-a", "tok-b"}, cfg.Workspaces.Tokens)
}

func TestValidate(t *testing.T) {
	isolate(t)
	ctx := context.Background()

	tests := []struct {
		name      string
		overrides map[string]any
	}{
		{"port out of range", map[string]any{"server": map[string]any{"port": 70000}}},
		{"negative concurrency", map[string]any{"pipeline": map[string]any{"concurrency": -1}}},
		{"negative rate", map[string]any{"http": map[string]any{"rate_limit": -1.0}}},
		{"token count mismatch", map[string]any{"workspaces": map[string]any{
			"urls":   []string{"https://a", "https://b"},
			"tokens": []string{"only-one"},
		}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(ctx, tt.overrides)
			require.Error(t, err)
			assert.Contains(t, err.Error(), "invalid config")
		})
	}
}

func TestDurationParsing(t *testing.T) {
	isolate(t)
	t.Setenv("RUNWATCH_READ_TIMEOUT", "45s")
	t.Setenv("RUNWATCH_SHUTDOWN_TIMEOUT", "5m")
	t.Setenv("RUNWATCH_HTTP_TIMEOUT", "2m")

	cfg, err := Load(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 45*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, 5*time.Minute, cfg.Server.ShutdownTimeout)
	assert.Equal(t, 2*time.Minute, cfg.HTTP.Timeout)
}

func TestGetConfig(t *testing.T) {
	isolate(t)
	ctx := context.Background()

	cfg1, err := Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, cfg1.Server.Port, GetConfig().Server.Port)

	cfg2, err := Load(ctx, map[string]any{"server": map[string]any{"port": cfg1.Server.Port + 1000}})
	require.NoError(t, err)
	assert.Equal(t, cfg2.Server.Port, GetConfig().Server.Port)
}

// resetAppIdentity resets package state for isolated tests.
func resetAppIdentity() {
	configMu.Lock()
	defer configMu.Unlock()
	appIdentity = nil
	appConfig = nil
}

func TestNilIdentity(t *testing.T) {
	resetAppIdentity()
	defer func() { _, _ = Load(context.Background()) }()

	assert.Empty(t, getUserConfigPaths())
	assert.Empty(t, getEnvSpecs())
	assert.Nil(t, GetIdentity())
	assert.Nil(t, GetConfig())
}

func TestEnvSpecs(t *testing.T) {
	isolate(t)
	_, err := Load(context.Background())
	require.NoError(t, err)

	specs := EnvSpecs()
	require.NotEmpty(t, specs)

	names := make(map[string]string)
	for _, spec := range specs {
		assert.Contains(t, spec.Name, "RUNWATCH_")
		assert.NotEmpty(t, spec.Path, "env var %s should have a path", spec.Name)
		names[spec.Name] = spec.Path
	}
	assert.Equal(t, "logging.level", names["RUNWATCH_LOG_LEVEL"])
	assert.Equal(t, "server.port", names["RUNWATCH_PORT"])
	assert.Equal(t, "server.host", names["RUNWATCH_HOST"])
	assert.Equal(t, "workspaces.urls", names["RUNWATCH_WORKSPACE_URLS"])
}

func TestSetIdentity(t *testing.T) {
	isolate(t)
	defer SetIdentity(DefaultIdentity())

	SetIdentity(&AppIdentity{BinaryName: "rw", EnvPrefix: "RW", ConfigName: "rw"})
	t.Setenv("RW_PORT", "7070")

	cfg, err := Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 7070, cfg.Server.Port)
}

func TestParseList(t *testing.T) {
	tests := []struct {
		in   string
		want []string
	}{
		{"[a, b, c]", []string{"a", "b", "c"}},
		{"a,b", []string{"a", "b"}},
		{`["x", 'y']`, []string{"x", "y"}},
		{"[]", []string{}},
		{"", []string{}},
		{"  [ single ]  ", []string{"single"}},
		{"[a,,b]", []string{"a", "b"}},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseList(tt.in))
		})
	}
}
