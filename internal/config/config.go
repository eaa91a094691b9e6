package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Config описывает параметры шлюза.
type Config struct {
	Binary struct {
		Path             string   `yaml:"path" toml:"path"`
		ProbeArgs        []string `yaml:"probe_args" toml:"probe_args"`
		ProbeTimeoutMS   int      `yaml:"probe_timeout_ms" toml:"probe_timeout_ms"`
		ReprobeIntervalS int      `yaml:"reprobe_interval_s" toml:"reprobe_interval_s"`
	} `yaml:"binary" toml:"binary"`
	Execution struct {
		TimeoutS       int  `yaml:"timeout_s" toml:"timeout_s"`
		SerializePorts bool `yaml:"serialize_ports" toml:"serialize_ports"`
	} `yaml:"execution" toml:"execution"`
	Web struct {
		Enabled          bool   `yaml:"enabled" toml:"enabled"`
		ListenAddr       string `yaml:"listen_addr" toml:"listen_addr"`
		ReadTimeoutMS    int    `yaml:"read_timeout_ms" toml:"read_timeout_ms"`
		WriteTimeoutMS   int    `yaml:"write_timeout_ms" toml:"write_timeout_ms"`
		ShutdownTimeoutS int    `yaml:"shutdown_timeout_s" toml:"shutdown_timeout_s"`
		MaxBodyBytes     int64  `yaml:"max_body_bytes" toml:"max_body_bytes"`
		CORS             struct {
			AllowedOrigins []string `yaml:"allowed_origins" toml:"allowed_origins"`
		} `yaml:"cors" toml:"cors"`
	} `yaml:"web" toml:"web"`
	Events struct {
		Enabled         bool     `yaml:"enabled" toml:"enabled"`
		ListenAddr      string   `yaml:"listen_addr" toml:"listen_addr"`
		Path            string   `yaml:"path" toml:"path"`
		Namespaces      []string `yaml:"namespaces" toml:"namespaces"`
		WriteTimeoutMS  int      `yaml:"write_timeout_ms" toml:"write_timeout_ms"`
		MaxMessageBytes int64    `yaml:"max_message_bytes" toml:"max_message_bytes"`
	} `yaml:"events" toml:"events"`
	RateLimit struct {
		PerClient int `yaml:"per_client" toml:"per_client"`
		WindowMS  int `yaml:"window_ms" toml:"window_ms"`
	} `yaml:"rate_limit" toml:"rate_limit"`
	Log struct {
		Level      string `yaml:"level" toml:"level"`
		Format     string `yaml:"format" toml:"format"`
		File       string `yaml:"file" toml:"file"`
		MaxSizeMB  int    `yaml:"max_size_mb" toml:"max_size_mb"`
		MaxBackups int    `yaml:"max_backups" toml:"max_backups"`
		MaxAgeDays int    `yaml:"max_age_days" toml:"max_age_days"`
	} `yaml:"log" toml:"log"`
}

// Default возвращает конфигурацию по умолчанию.
func Default() Config {
	var cfg Config
	cfg.Binary.ProbeArgs = []string{"version"}
	cfg.Binary.ProbeTimeoutMS = 10000
	cfg.Execution.TimeoutS = 600
	cfg.Execution.SerializePorts = true
	cfg.Web.Enabled = true
	cfg.Web.ListenAddr = "0.0.0.0:3000"
	cfg.Web.ReadTimeoutMS = 5000
	cfg.Web.ShutdownTimeoutS = 5
	cfg.Web.MaxBodyBytes = 1 << 20
	cfg.Events.Enabled = true
	cfg.Events.Path = "/socket"
	cfg.Events.Namespaces = []string{"/", "/custom"}
	cfg.Events.WriteTimeoutMS = 5000
	cfg.Events.MaxMessageBytes = 1 << 20
	cfg.RateLimit.WindowMS = 1000
	cfg.Log.Level = "info"
	cfg.Log.Format = "json"
	cfg.Log.MaxSizeMB = 50
	cfg.Log.MaxBackups = 5
	cfg.Log.MaxAgeDays = 14
	return cfg
}

// Load читает конфиг из YAML или TOML (по расширению) поверх значений по умолчанию.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path) // #nosec G304 -- путь к конфигу задается доверенным оператором.
	if err != nil {
		return cfg, err
	}
	if len(data) == 0 {
		return cfg, errors.New("config file is empty")
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		if _, err := toml.Decode(string(data), &cfg); err != nil {
			return cfg, fmt.Errorf("decode toml: %w", err)
		}
	case ".yaml", ".yml", "":
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("decode yaml: %w", err)
		}
	default:
		return cfg, fmt.Errorf("unsupported config format %q", filepath.Ext(path))
	}
	return cfg, cfg.Validate()
}

// Validate проверяет согласованность значений.
func (c Config) Validate() error {
	var errs []error
	if !c.Web.Enabled && !c.Events.Enabled {
		errs = append(errs, errors.New("at least one transport (web or events) must be enabled"))
	}
	if c.Web.Enabled && strings.TrimSpace(c.Web.ListenAddr) == "" {
		errs = append(errs, errors.New("web.listen_addr is empty"))
	}
	if c.Events.Enabled && !c.Web.Enabled && strings.TrimSpace(c.Events.ListenAddr) == "" {
		errs = append(errs, errors.New("events.listen_addr is required when web is disabled"))
	}
	if c.Events.Enabled && !strings.HasPrefix(c.Events.Path, "/") {
		errs = append(errs, fmt.Errorf("events.path %q must start with /", c.Events.Path))
	}
	negative := map[string]int{
		"binary.probe_timeout_ms":   c.Binary.ProbeTimeoutMS,
		"binary.reprobe_interval_s": c.Binary.ReprobeIntervalS,
		"execution.timeout_s":       c.Execution.TimeoutS,
		"web.read_timeout_ms":       c.Web.ReadTimeoutMS,
		"web.write_timeout_ms":      c.Web.WriteTimeoutMS,
		"web.shutdown_timeout_s":    c.Web.ShutdownTimeoutS,
		"events.write_timeout_ms":   c.Events.WriteTimeoutMS,
		"rate_limit.per_client":     c.RateLimit.PerClient,
		"rate_limit.window_ms":      c.RateLimit.WindowMS,
	}
	for _, key := range sortedKeys(negative) {
		if negative[key] < 0 {
			errs = append(errs, fmt.Errorf("%s must not be negative", key))
		}
	}
	return errors.Join(errs...)
}

// ExecutionTimeout возвращает лимит длительности процесса; 0 означает отсутствие ограничения.
func (c Config) ExecutionTimeout() time.Duration {
	return time.Duration(c.Execution.TimeoutS) * time.Second
}

// ProbeTimeout возвращает лимит пробного запуска.
func (c Config) ProbeTimeout() time.Duration {
	if c.Binary.ProbeTimeoutMS <= 0 {
		return 10 * time.Second
	}
	return time.Duration(c.Binary.ProbeTimeoutMS) * time.Millisecond
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
