package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/semwire/component"
	"github.com/c360/semwire/errors"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func validConfig() *Config {
	cfg := Defaults()
	cfg.Runtime.ID = "edge-1"
	cfg.Components = []component.Descriptor{{
		Name:           "greeter",
		Implementation: "inventory",
		Properties:     map[string]any{"greeting": "hello"},
	}}
	return cfg
}

func TestLoader_JSON(t *testing.T) {
	path := writeFile(t, "runtime.json", `{
		"version": "1.2.0",
		"runtime": {"id": "edge-1", "log_level": 4, "factory_enabled": true},
		"nats": {"urls": ["nats://broker:4222"], "reconnect_wait": "5s"},
		"components": [{
			"name": "greeter",
			"implementation": "inventory",
			"service": {"interfaces": ["inventory.Store"]},
			"references": [{"name": "log", "interface": "log.Service", "cardinality": "0..1", "policy": "dynamic"}]
		}]
	}`)

	loader := NewLoader()
	loader.EnableValidation(true)
	cfg, err := loader.LoadFile(path)
	require.NoError(t, err)

	assert.Equal(t, "1.2.0", cfg.Version)
	assert.Equal(t, "edge-1", cfg.Runtime.ID)
	assert.True(t, cfg.Runtime.FactoryEnabled)
	level, err := cfg.Runtime.LogLevel.SlogLevel()
	require.NoError(t, err)
	assert.Equal(t, slog.LevelDebug, level)
	assert.Equal(t, 5*time.Second, cfg.NATS.ReconnectWait.Std())
	assert.Equal(t, -1, cfg.NATS.MaxReconnects, "defaults survive merge")
	assert.Equal(t, 9090, cfg.Metrics.Port)
	assert.Equal(t, "semwire_config", cfg.Runtime.ConfigBucket)

	require.Len(t, cfg.Components, 1)
	d := cfg.Components[0]
	assert.Equal(t, "greeter", d.Name)
	assert.True(t, d.IsDelayed())
	require.Len(t, d.References, 1)
	assert.True(t, d.References[0].Dynamic())
	assert.True(t, d.References[0].Optional())
}

func TestLoader_YAMLLayers(t *testing.T) {
	base := writeFile(t, "base.yaml", `
version: 1.0.0
runtime:
  id: edge-1
  log_level: warn
remote:
  enabled: true
  ttl: 2m
nats:
  urls: [nats://a:4222]
components:
  - name: store
    implementation: inventory
    properties:
      capacity: 10
`)
	override := writeFile(t, "override.yml", `
runtime:
  show_trace: true
metrics:
  port: 0
`)

	loader := NewLoader()
	loader.AddLayer(base)
	loader.AddLayer(override)
	loader.EnableValidation(true)
	cfg, err := loader.Load()
	require.NoError(t, err)

	assert.Equal(t, "edge-1", cfg.Runtime.ID)
	assert.True(t, cfg.Runtime.ShowTrace)
	assert.Equal(t, LogLevel("warn"), cfg.Runtime.LogLevel)
	assert.True(t, cfg.Remote.Enabled)
	assert.Equal(t, "semwire_services", cfg.Remote.Bucket)
	assert.Equal(t, 2*time.Minute, cfg.Remote.TTL.Std())
	assert.Equal(t, 0, cfg.Metrics.Port)
	require.Len(t, cfg.Components, 1)
	assert.Equal(t, 10, GetInt(cfg.Components[0].Properties, "capacity", 0))
}

func TestLoader_EnvOverrides(t *testing.T) {
	path := writeFile(t, "runtime.json", `{"runtime": {"id": "from-file"}}`)

	t.Setenv("SEMWIRE_RUNTIME_ID", "from-env")
	t.Setenv("SEMWIRE_NATS_URLS", "nats://a:4222, nats://b:4222")
	t.Setenv("SEMWIRE_FACTORY_ENABLED", "true")
	t.Setenv("SEMWIRE_METRICS_PORT", "9100")
	t.Setenv("SEMWIRE_LOG_LEVEL", "1")

	cfg, err := NewLoader().LoadFile(path)
	require.NoError(t, err)

	assert.Equal(t, "from-env", cfg.Runtime.ID)
	assert.Equal(t, []string{"nats://a:4222", "nats://b:4222"}, cfg.NATS.URLs)
	assert.True(t, cfg.Runtime.FactoryEnabled)
	assert.Equal(t, 9100, cfg.Metrics.Port)
	level, err := cfg.Runtime.LogLevel.SlogLevel()
	require.NoError(t, err)
	assert.Equal(t, slog.LevelError, level)
}

func TestLoader_BadEnv(t *testing.T) {
	path := writeFile(t, "runtime.json", `{"runtime": {"id": "edge"}}`)
	t.Setenv("SEMWIRE_REMOTE_ENABLED", "maybe")

	_, err := NewLoader().LoadFile(path)
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
}

func TestLoader_Errors(t *testing.T) {
	t.Run("unsupported extension", func(t *testing.T) {
		path := writeFile(t, "runtime.toml", `id = "x"`)
		_, err := NewLoader().LoadFile(path)
		assert.Error(t, err)
	})

	t.Run("malformed json", func(t *testing.T) {
		path := writeFile(t, "runtime.json", `{"runtime": `)
		_, err := NewLoader().LoadFile(path)
		assert.Error(t, err)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := NewLoader().LoadFile(filepath.Join(t.TempDir(), "absent.json"))
		assert.Error(t, err)
	})

	t.Run("validation", func(t *testing.T) {
		path := writeFile(t, "runtime.json", `{"runtime": {"id": "bad id"}}`)
		loader := NewLoader()
		loader.EnableValidation(true)
		_, err := loader.LoadFile(path)
		require.Error(t, err)
		assert.ErrorIs(t, err, errors.ErrInvalidConfig)
	})
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"valid", func(*Config) {}, false},
		{"bad version", func(c *Config) { c.Version = "one" }, true},
		{"missing runtime id", func(c *Config) { c.Runtime.ID = "" }, true},
		{"dotted runtime id", func(c *Config) { c.Runtime.ID = "a.b" }, true},
		{"bad log level", func(c *Config) { c.Runtime.LogLevel = "loud" }, true},
		{"port out of range", func(c *Config) { c.Metrics.Port = 70000 }, true},
		{"remote without urls", func(c *Config) { c.Remote.Enabled = true }, true},
		{"remote with urls", func(c *Config) {
			c.Remote.Enabled = true
			c.NATS.URLs = []string{"nats://localhost:4222"}
		}, false},
		{"negative remote write rate", func(c *Config) {
			c.Remote.Enabled = true
			c.NATS.URLs = []string{"nats://localhost:4222"}
			c.Remote.WriteRate = -1
		}, true},
		{"duplicate component", func(c *Config) {
			c.Components = append(c.Components, c.Components[0])
		}, true},
		{"invalid descriptor", func(c *Config) {
			c.Components[0].Implementation = ""
		}, true},
		{"missing tls file", func(c *Config) {
			c.NATS.TLS = NATSTLSConfig{Enabled: true, CAFile: "/nonexistent/ca.pem"}
		}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestLogLevel(t *testing.T) {
	tests := []struct {
		level LogLevel
		want  slog.Level
	}{
		{"", slog.LevelInfo},
		{"debug", slog.LevelDebug},
		{"DEBUG", slog.LevelDebug},
		{"4", slog.LevelDebug},
		{"3", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"2", slog.LevelWarn},
		{"error", slog.LevelError},
		{"1", slog.LevelError},
	}
	for _, tt := range tests {
		got, err := tt.level.SlogLevel()
		require.NoError(t, err, "level %q", tt.level)
		assert.Equal(t, tt.want, got, "level %q", tt.level)
	}

	_, err := LogLevel("5").SlogLevel()
	assert.Error(t, err)
}

func TestSafeConfig(t *testing.T) {
	sc := NewSafeConfig(validConfig())

	copied := sc.Get()
	copied.Runtime.ID = "changed"
	copied.Components[0].Properties["greeting"] = "changed"
	assert.Equal(t, "edge-1", sc.Get().Runtime.ID, "Get returns a deep copy")
	assert.Equal(t, "hello", sc.Get().Components[0].Properties["greeting"])

	assert.Error(t, sc.Update(nil))
	bad := validConfig()
	bad.Runtime.ID = ""
	assert.Error(t, sc.Update(bad))

	require.NoError(t, sc.Update(copied))
	assert.Equal(t, "changed", sc.Get().Runtime.ID)
}

func TestConfig_SaveAndReload(t *testing.T) {
	cfg := validConfig()
	cfg.NATS.Password = "secret"
	dir := t.TempDir()

	for _, name := range []string{"saved.json", "saved.yaml"} {
		path := filepath.Join(dir, name)
		require.NoError(t, cfg.SaveToFile(path))

		loaded, err := NewLoader().LoadFile(path)
		require.NoError(t, err, name)
		assert.Equal(t, cfg.Runtime.ID, loaded.Runtime.ID, name)
		assert.Equal(t, cfg.Remote.TTL, loaded.Remote.TTL, name)
		require.Len(t, loaded.Components, 1, name)
		assert.Equal(t, "hello", loaded.Components[0].Properties["greeting"], name)
	}

	assert.NotContains(t, cfg.String(), "secret")
}

func TestCompareVersions(t *testing.T) {
	tests := []struct {
		v1, v2 string
		want   int
	}{
		{"1.0.0", "1.0.0", 0},
		{"1.2.0", "1.10.0", -1},
		{"v2.0.0", "1.9.9", 1},
	}
	for _, tt := range tests {
		got, err := CompareVersions(tt.v1, tt.v2)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got, "%s vs %s", tt.v1, tt.v2)
	}

	_, err := CompareVersions("", "1.0.0")
	assert.Error(t, err)
}

func TestPropertyHelpers(t *testing.T) {
	props := map[string]any{
		"name":     "greeter",
		"count":    float64(3),
		"limit":    "7",
		"enabled":  "true",
		"ratio":    0.5,
		"interval": "1m",
		"tags":     []any{"a", "b"},
		"mixed":    []any{"a", 1},
		"nested":   map[string]any{"inner": map[string]any{"key": "value"}},
	}

	assert.Equal(t, "greeter", GetString(props, "name", ""))
	assert.Equal(t, "fallback", GetString(props, "count", "fallback"))
	assert.Equal(t, 3, GetInt(props, "count", 0))
	assert.Equal(t, 7, GetInt(props, "limit", 0))
	assert.True(t, GetBool(props, "enabled", false))
	assert.Equal(t, 0.5, GetFloat64(props, "ratio", 0))
	assert.Equal(t, time.Minute, GetDuration(props, "interval", 0))
	assert.Equal(t, time.Second, GetDuration(props, "missing", time.Second))
	assert.Equal(t, []string{"a", "b"}, GetStringSlice(props, "tags", nil))
	assert.Nil(t, GetStringSlice(props, "mixed", nil))
	assert.Equal(t, "value", GetNestedString(props, []string{"nested", "inner", "key"}, ""))
	assert.Equal(t, "none", GetNestedString(props, []string{"nested", "absent"}, "none"))
}
