package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/dokzlo13/installd/internal/workload"
)

// Host modes
const (
	HostModeLocal    = "local"    // emulated components, no host
	HostModeEmulator = "emulator" // hosted components, in-process host emulator
	HostModeExec     = "exec"     // hosted components, shell command lines
)

// Config represents the application configuration
type Config struct {
	Log             LogConfig           `yaml:"log"`
	Database        DatabaseConfig      `yaml:"database"`
	Host            HostConfig          `yaml:"host"`
	Reconciler      ReconcilerConfig    `yaml:"reconciler"`
	Workloads       []workload.Workload `yaml:"workloads"`
	Catalog         string              `yaml:"catalog"` // YAML, TOML or JSON workload file
	Script          string              `yaml:"script"`  // Lua script returning workloads
	API             APIConfig           `yaml:"api"`
	EventBus        EventBusConfig      `yaml:"eventbus"`
	ShutdownTimeout Duration            `yaml:"shutdown_timeout"`
}

// LogConfig contains logging settings
type LogConfig struct {
	Level  string `yaml:"level"`
	JSON   bool   `yaml:"json"`
	Colors bool   `yaml:"colors"`
}

// DatabaseConfig contains database settings
type DatabaseConfig struct {
	Path string `yaml:"path"` // ":memory:" keeps the ledger for this session only
}

// HostConfig contains host executor settings
type HostConfig struct {
	Mode            string         `yaml:"mode"`
	CompletionDelay Duration       `yaml:"completion_delay"` // Emulated install duration
	Installed       []string       `yaml:"installed"`        // Components the emulator starts with
	Commands        CommandsConfig `yaml:"commands"`
	RateLimitRPS    float64        `yaml:"rate_limit_rps"`
	Retry           RetryConfig    `yaml:"retry"`
	StaleAfter      Duration       `yaml:"stale_after"`
	Workers         int            `yaml:"workers"`
	QueueSize       int            `yaml:"queue_size"`
}

// CommandsConfig holds the exec mode command templates
type CommandsConfig struct {
	Install   string `yaml:"install"`
	Uninstall string `yaml:"uninstall"`
	Status    string `yaml:"status"`
}

// RetryConfig controls host delivery retries
type RetryConfig struct {
	Attempts uint     `yaml:"attempts"`
	Delay    Duration `yaml:"delay"`
	MaxDelay Duration `yaml:"max_delay"`
}

// ReconcilerConfig contains reconciler settings
type ReconcilerConfig struct {
	Period Duration `yaml:"period"`
}

// APIConfig contains HTTP API server settings
type APIConfig struct {
	Enabled bool   `yaml:"enabled"`
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
}

// Addr returns host:port
func (c APIConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// EventBusConfig contains event bus settings
type EventBusConfig struct {
	Workers   int `yaml:"workers"`    // Number of worker goroutines (default: 1)
	QueueSize int `yaml:"queue_size"` // Event queue size (default: 100)
}

// GetWorkers returns worker count with default
func (c *EventBusConfig) GetWorkers() int {
	if c.Workers <= 0 {
		return 1
	}
	return c.Workers
}

// GetQueueSize returns queue size with default
func (c *EventBusConfig) GetQueueSize() int {
	if c.QueueSize <= 0 {
		return 100
	}
	return c.QueueSize
}

// Duration is a wrapper around time.Duration for YAML unmarshalling
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler for Duration
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// Duration returns the underlying time.Duration
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// LoadEnvFile loads KEY=VALUE pairs into the environment. Variables that
// are already set win. A missing file is not an error.
func LoadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to load env file %s: %w", path, err)
	}
	return nil
}

// Load reads and parses the configuration file. An empty path yields the
// defaults.
func Load(path string) (*Config, error) {
	var cfg Config

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}

		// Expand environment variables
		expanded := expandEnvVars(string(data))

		if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Database.Path == "" {
		cfg.Database.Path = ":memory:"
	}

	// Host defaults
	if cfg.Host.Mode == "" {
		cfg.Host.Mode = HostModeLocal
	}
	if cfg.Host.CompletionDelay == 0 {
		cfg.Host.CompletionDelay = Duration(2 * time.Second)
	}
	if cfg.Host.RateLimitRPS == 0 {
		cfg.Host.RateLimitRPS = 10.0
	}
	if cfg.Host.Retry.Attempts == 0 {
		cfg.Host.Retry.Attempts = 3
	}
	if cfg.Host.Retry.Delay == 0 {
		cfg.Host.Retry.Delay = Duration(200 * time.Millisecond)
	}
	if cfg.Host.Retry.MaxDelay == 0 {
		cfg.Host.Retry.MaxDelay = Duration(5 * time.Second)
	}
	if cfg.Host.StaleAfter == 0 {
		cfg.Host.StaleAfter = Duration(30 * time.Second)
	}
	if cfg.Host.Workers <= 0 {
		cfg.Host.Workers = 1
	}
	if cfg.Host.QueueSize <= 0 {
		cfg.Host.QueueSize = 64
	}

	// Reconciler defaults
	if cfg.Reconciler.Period == 0 {
		cfg.Reconciler.Period = Duration(time.Second)
	}

	// API defaults
	if cfg.API.Port == 0 {
		cfg.API.Port = 9090
	}
	if cfg.API.Host == "" {
		cfg.API.Host = "127.0.0.1"
	}

	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = Duration(5 * time.Second)
	}
}

// Validate checks values that have no sensible fallback.
func (c *Config) Validate() error {
	switch c.Host.Mode {
	case HostModeLocal, HostModeEmulator:
	case HostModeExec:
		if c.Host.Commands.Install == "" || c.Host.Commands.Status == "" {
			return fmt.Errorf("host mode %q needs install and status commands", c.Host.Mode)
		}
	default:
		return fmt.Errorf("unknown host mode %q", c.Host.Mode)
	}
	if err := workload.Validate(c.Workloads); err != nil {
		return err
	}
	return nil
}

// expandEnvVars expands environment variables in the format ${VAR} or ${VAR:default}
func expandEnvVars(input string) string {
	// Match ${VAR} or ${VAR:default}
	re := regexp.MustCompile(`\$\{([^}:]+)(?::([^}]*))?\}`)

	return re.ReplaceAllStringFunc(input, func(match string) string {
		parts := re.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}

		varName := parts[1]
		defaultVal := ""
		if len(parts) >= 3 {
			defaultVal = parts[2]
		}

		if val := os.Getenv(varName); val != "" {
			return val
		}
		return defaultVal
	})
}
