package config

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/Masterminds/semver/v3"
	"gopkg.in/yaml.v3"

	"github.com/c360/semwire/component"
	"github.com/c360/semwire/errors"
)

// Config represents the complete runtime configuration
type Config struct {
	Version    string                 `json:"version" yaml:"version"` // semver, controls KV sync direction
	Runtime    RuntimeConfig          `json:"runtime" yaml:"runtime"`
	NATS       NATSConfig             `json:"nats" yaml:"nats"`
	Remote     RemoteConfig           `json:"remote" yaml:"remote"`
	Metrics    MetricsConfig          `json:"metrics" yaml:"metrics"`
	Components []component.Descriptor `json:"components" yaml:"components"`
}

// RuntimeConfig holds the runtime identity and behaviour switches
type RuntimeConfig struct {
	ID             string   `json:"id" yaml:"id"`
	LogLevel       LogLevel `json:"log_level,omitempty" yaml:"log_level,omitempty"`
	FactoryEnabled bool     `json:"factory_enabled,omitempty" yaml:"factory_enabled,omitempty"`
	ShowTrace      bool     `json:"show_trace,omitempty" yaml:"show_trace,omitempty"`
	ShowErrors     bool     `json:"show_errors,omitempty" yaml:"show_errors,omitempty"`
	ConfigBucket   string   `json:"config_bucket,omitempty" yaml:"config_bucket,omitempty"`
	LogToNATS      bool     `json:"log_to_nats,omitempty" yaml:"log_to_nats,omitempty"`
}

// NATSConfig defines NATS connection settings
type NATSConfig struct {
	URLs          []string      `json:"urls,omitempty" yaml:"urls,omitempty"`
	MaxReconnects int           `json:"max_reconnects,omitempty" yaml:"max_reconnects,omitempty"`
	ReconnectWait Duration      `json:"reconnect_wait,omitempty" yaml:"reconnect_wait,omitempty"`
	Username      string        `json:"username,omitempty" yaml:"username,omitempty"`
	Password      string        `json:"password,omitempty" yaml:"password,omitempty"`
	Token         string        `json:"token,omitempty" yaml:"token,omitempty"`
	TLS           NATSTLSConfig `json:"tls,omitempty" yaml:"tls,omitempty"`
}

// NATSTLSConfig for secure NATS connections
type NATSTLSConfig struct {
	Enabled  bool   `json:"enabled" yaml:"enabled"`
	CertFile string `json:"cert_file,omitempty" yaml:"cert_file,omitempty"`
	KeyFile  string `json:"key_file,omitempty" yaml:"key_file,omitempty"`
	CAFile   string `json:"ca_file,omitempty" yaml:"ca_file,omitempty"`
}

// RemoteConfig controls service export and import through the NATS KV
// service bucket.
type RemoteConfig struct {
	Enabled        bool     `json:"enabled" yaml:"enabled"`
	Bucket         string   `json:"bucket,omitempty" yaml:"bucket,omitempty"`
	ExportProperty string   `json:"export_property,omitempty" yaml:"export_property,omitempty"`
	TTL            Duration `json:"ttl,omitempty" yaml:"ttl,omitempty"`
	WriteRate      float64  `json:"write_rate,omitempty" yaml:"write_rate,omitempty"` // bucket writes per second, 0 unthrottled
}

// MetricsConfig controls the metrics and health HTTP server. Port 0
// disables it.
type MetricsConfig struct {
	Port int    `json:"port" yaml:"port"`
	Path string `json:"path,omitempty" yaml:"path,omitempty"`
}

// Descriptor returns the component descriptor with the given name
func (c *Config) Descriptor(name string) (component.Descriptor, bool) {
	for _, d := range c.Components {
		if d.Name == name {
			return d, true
		}
	}
	return component.Descriptor{}, false
}

// SafeConfig provides thread-safe access to configuration
type SafeConfig struct {
	mu     sync.RWMutex
	config *Config
}

// NewSafeConfig creates a new thread-safe config wrapper
func NewSafeConfig(cfg *Config) *SafeConfig {
	if cfg == nil {
		cfg = &Config{}
	}
	return &SafeConfig{config: cfg}
}

// Get returns a deep copy of the current configuration
func (sc *SafeConfig) Get() *Config {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	return sc.config.Clone()
}

// Update atomically replaces the configuration after validation
func (sc *SafeConfig) Update(cfg *Config) error {
	if cfg == nil {
		return errors.WrapInvalid(errors.ErrMissingConfig, "SafeConfig", "Update", "nil config")
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	sc.mu.Lock()
	defer sc.mu.Unlock()
	sc.config = cfg
	return nil
}

// Clone creates a deep copy of the configuration
func (c *Config) Clone() *Config {
	if c == nil {
		return &Config{}
	}

	data, err := json.Marshal(c)
	if err != nil {
		copied := *c
		return &copied
	}
	var clone Config
	if err := json.Unmarshal(data, &clone); err != nil {
		copied := *c
		return &copied
	}
	return &clone
}

// Validate checks the configuration. Errors wrap errors.ErrInvalidConfig.
func (c *Config) Validate() error {
	invalid := func(format string, args ...any) error {
		return errors.WrapInvalid(
			fmt.Errorf("%w: "+format, append([]any{errors.ErrInvalidConfig}, args...)...),
			"Config", "Validate", "validate configuration")
	}

	if c.Version != "" {
		if _, err := semver.NewVersion(c.Version); err != nil {
			return invalid("version %q is not a semantic version", c.Version)
		}
	}

	if c.Runtime.ID == "" {
		return invalid("runtime.id is required")
	}
	if !isValidNATSSubjectPart(c.Runtime.ID) {
		return invalid("runtime.id %q is not valid for NATS subjects", c.Runtime.ID)
	}
	if _, err := c.Runtime.LogLevel.SlogLevel(); err != nil {
		return invalid("runtime.log_level: %v", err)
	}

	if c.Metrics.Port < 0 || c.Metrics.Port > 65535 {
		return invalid("metrics.port %d out of range", c.Metrics.Port)
	}

	if c.Remote.Enabled {
		if c.Remote.Bucket == "" {
			return invalid("remote.bucket is required when remote is enabled")
		}
		if len(c.NATS.URLs) == 0 {
			return invalid("nats.urls is required when remote is enabled")
		}
		if c.Remote.WriteRate < 0 {
			return invalid("remote.write_rate %v is negative", c.Remote.WriteRate)
		}
	}

	if c.NATS.TLS.Enabled {
		for name, path := range map[string]string{
			"cert_file": c.NATS.TLS.CertFile,
			"key_file":  c.NATS.TLS.KeyFile,
			"ca_file":   c.NATS.TLS.CAFile,
		} {
			if path == "" {
				continue
			}
			if _, err := os.Stat(path); err != nil {
				return invalid("nats.tls.%s: %v", name, err)
			}
		}
	}

	seen := make(map[string]bool, len(c.Components))
	for _, d := range c.Components {
		if err := d.Validate(); err != nil {
			return errors.Wrap(err, "Config", "Validate", "validate component "+d.Name)
		}
		if seen[d.Name] {
			return invalid("duplicate component %s", d.Name)
		}
		seen[d.Name] = true
	}

	return nil
}

// isValidNATSSubjectPart reports whether s can be used as one token of a
// NATS subject.
func isValidNATSSubjectPart(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '-' && r != '_' {
			return false
		}
	}
	return true
}

// LogLevel accepts the names debug, info, warn and error or the numeric
// levels 1 (error) to 4 (debug).
type LogLevel string

// SlogLevel converts the level. An empty level is info.
func (l LogLevel) SlogLevel() (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(string(l))) {
	case "", "info", "3":
		return slog.LevelInfo, nil
	case "debug", "4":
		return slog.LevelDebug, nil
	case "warn", "warning", "2":
		return slog.LevelWarn, nil
	case "error", "1":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", string(l))
	}
}

// UnmarshalJSON accepts a string or a number
func (l *LogLevel) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*l = LogLevel(s)
		return nil
	}
	var n int
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("log level must be a string or a number: %w", err)
	}
	*l = LogLevel(strconv.Itoa(n))
	return nil
}

// Duration is a time.Duration that decodes from "30s" style strings or
// from nanoseconds.
type Duration time.Duration

// Std returns the duration as a time.Duration
func (d Duration) Std() time.Duration { return time.Duration(d) }

// MarshalJSON encodes the duration as a string
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// UnmarshalJSON accepts a duration string or nanoseconds
func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		parsed, err := parseDuration(s)
		if err != nil {
			return err
		}
		*d = Duration(parsed)
		return nil
	}
	var n float64
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("duration must be a string or a number: %w", err)
	}
	*d = Duration(time.Duration(n))
	return nil
}

// MarshalYAML encodes the duration as a string
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// UnmarshalYAML accepts a duration string or nanoseconds
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	if n, err := strconv.ParseInt(node.Value, 10, 64); err == nil {
		*d = Duration(time.Duration(n))
		return nil
	}
	parsed, err := parseDuration(node.Value)
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// parseDuration parses durations that may use a day suffix such as "14d"
func parseDuration(s string) (time.Duration, error) {
	if days, ok := strings.CutSuffix(s, "d"); ok {
		n, err := strconv.Atoi(days)
		if err != nil {
			return 0, fmt.Errorf("invalid duration %q: %w", s, err)
		}
		return time.Duration(n) * 24 * time.Hour, nil
	}
	return time.ParseDuration(s)
}

// Loader handles configuration loading with layers and overrides
type Loader struct {
	layers     []string
	validation bool
	envPrefix  string
}

// NewLoader creates a new configuration loader
func NewLoader() *Loader {
	return &Loader{
		envPrefix: "SEMWIRE",
	}
}

// AddLayer adds a configuration file layer. Later layers override earlier ones.
func (l *Loader) AddLayer(path string) {
	l.layers = append(l.layers, path)
}

// EnableValidation enables or disables configuration validation
func (l *Loader) EnableValidation(enable bool) {
	l.validation = enable
}

// LoadFile loads configuration from a single file
func (l *Loader) LoadFile(path string) (*Config, error) {
	l.layers = []string{path}
	return l.Load()
}

// Load loads and merges all configuration layers, then applies
// environment overrides.
func (l *Loader) Load() (*Config, error) {
	merged, err := toMap(Defaults())
	if err != nil {
		return nil, errors.Wrap(err, "Loader", "Load", "encode defaults")
	}

	for _, path := range l.layers {
		raw, err := l.loadRaw(path)
		if err != nil {
			return nil, errors.WrapInvalid(err, "Loader", "Load", "load "+path)
		}
		merged = deepMergeMaps(merged, raw)
	}

	data, err := json.Marshal(merged)
	if err != nil {
		return nil, errors.Wrap(err, "Loader", "Load", "encode merged layers")
	}
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, errors.WrapInvalid(err, "Loader", "Load", "decode merged layers")
	}

	if err := l.applyEnvOverrides(&cfg); err != nil {
		return nil, err
	}

	if l.validation {
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}
	return &cfg, nil
}

// Defaults returns the default configuration
func Defaults() *Config {
	hostname, err := os.Hostname()
	if err != nil || !isValidNATSSubjectPart(hostname) {
		hostname = "semwire"
	}
	return &Config{
		Runtime: RuntimeConfig{
			ID:           hostname,
			LogLevel:     "info",
			ConfigBucket: "semwire_config",
		},
		NATS: NATSConfig{
			MaxReconnects: -1,
			ReconnectWait: Duration(2 * time.Second),
		},
		Remote: RemoteConfig{
			Bucket:         "semwire_services",
			ExportProperty: "service.exported.interfaces",
			TTL:            Duration(time.Minute),
			WriteRate:      50,
		},
		Metrics: MetricsConfig{
			Port: 9090,
			Path: "/metrics",
		},
	}
}

// loadRaw reads a JSON or YAML file into a generic map
func (l *Loader) loadRaw(path string) (map[string]any, error) {
	data, err := readConfigFile(path)
	if err != nil {
		return nil, err
	}

	var raw map[string]any
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("parse yaml: %w", err)
		}
	default:
		if err := checkJSONDepth(data); err != nil {
			return nil, fmt.Errorf("invalid JSON structure: %w", err)
		}
		if err := json.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("parse json: %w", err)
		}
	}
	return raw, nil
}

func toMap(v any) (map[string]any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return m, nil
}

// deepMergeMaps recursively merges two maps with override taking
// precedence. Lists are replaced, not merged.
func deepMergeMaps(base, override map[string]any) map[string]any {
	result := make(map[string]any, len(base)+len(override))
	for k, v := range base {
		result[k] = v
	}

	for k, v := range override {
		if v == nil {
			continue
		}
		if baseMap, ok := base[k].(map[string]any); ok {
			if overrideMap, ok := v.(map[string]any); ok {
				result[k] = deepMergeMaps(baseMap, overrideMap)
				continue
			}
		}
		result[k] = v
	}
	return result
}

// applyEnvOverrides applies SEMWIRE_* environment variables
func (l *Loader) applyEnvOverrides(cfg *Config) error {
	env := func(key string) (string, bool, error) {
		name := l.envPrefix + "_" + key
		val := os.Getenv(name)
		if err := checkEnvValue(name, val); err != nil {
			return "", false, errors.WrapInvalid(err, "Loader", "applyEnvOverrides", "read "+name)
		}
		return val, val != "", nil
	}
	boolEnv := func(key string, dst *bool) error {
		val, ok, err := env(key)
		if err != nil || !ok {
			return err
		}
		b, err := strconv.ParseBool(val)
		if err != nil {
			return errors.WrapInvalid(err, "Loader", "applyEnvOverrides", "parse "+l.envPrefix+"_"+key)
		}
		*dst = b
		return nil
	}

	stringVars := map[string]*string{
		"RUNTIME_ID":    &cfg.Runtime.ID,
		"NATS_USERNAME": &cfg.NATS.Username,
		"NATS_PASSWORD": &cfg.NATS.Password,
		"NATS_TOKEN":    &cfg.NATS.Token,
		"REMOTE_BUCKET": &cfg.Remote.Bucket,
	}
	for key, dst := range stringVars {
		val, ok, err := env(key)
		if err != nil {
			return err
		}
		if ok {
			*dst = val
		}
	}

	if val, ok, err := env("LOG_LEVEL"); err != nil {
		return err
	} else if ok {
		cfg.Runtime.LogLevel = LogLevel(val)
	}
	if val, ok, err := env("NATS_URLS"); err != nil {
		return err
	} else if ok {
		cfg.NATS.URLs = splitList(val)
	}
	if val, ok, err := env("METRICS_PORT"); err != nil {
		return err
	} else if ok {
		port, err := strconv.Atoi(val)
		if err != nil {
			return errors.WrapInvalid(err, "Loader", "applyEnvOverrides", "parse "+l.envPrefix+"_METRICS_PORT")
		}
		cfg.Metrics.Port = port
	}

	if err := boolEnv("FACTORY_ENABLED", &cfg.Runtime.FactoryEnabled); err != nil {
		return err
	}
	if err := boolEnv("SHOW_TRACE", &cfg.Runtime.ShowTrace); err != nil {
		return err
	}
	return boolEnv("REMOTE_ENABLED", &cfg.Remote.Enabled)
}

func splitList(s string) []string {
	parts := strings.Split(s, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// SaveToFile saves the configuration as JSON or YAML depending on the
// file extension.
func (c *Config) SaveToFile(path string) error {
	var data []byte
	var err error
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		data, err = yaml.Marshal(c)
	default:
		data, err = json.MarshalIndent(c, "", "  ")
	}
	if err != nil {
		return errors.Wrap(err, "Config", "SaveToFile", "encode")
	}
	return writeConfigFile(path, data)
}

// String returns a JSON representation of the config with credentials
// removed.
func (c *Config) String() string {
	redacted := c.Clone()
	if redacted.NATS.Password != "" {
		redacted.NATS.Password = "***"
	}
	if redacted.NATS.Token != "" {
		redacted.NATS.Token = "***"
	}
	data, _ := json.MarshalIndent(redacted, "", "  ")
	return string(data)
}

// CompareVersions compares two semantic versions and returns -1, 0 or 1.
func CompareVersions(v1, v2 string) (int, error) {
	a, err := semver.NewVersion(v1)
	if err != nil {
		return 0, fmt.Errorf("invalid version '%s': %w", v1, err)
	}
	b, err := semver.NewVersion(v2)
	if err != nil {
		return 0, fmt.Errorf("invalid version '%s': %w", v2, err)
	}
	return a.Compare(b), nil
}
