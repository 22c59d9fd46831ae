// Package config handles configuration loading for dbgctl.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"gopkg.in/yaml.v3"
)

// Backend describes one debug adapter dbgctl can drive.
type Backend struct {
	// Name is the identifier used with --backend.
	Name string
	// Command is the shell-style command line that starts the adapter,
	// which then speaks DAP on its stdin/stdout.
	Command string
	// Address connects to an adapter already listening on host:port instead
	// of starting Command.
	Address string
	// AdapterID is sent in the initialize request.
	AdapterID string
	// Env is appended to the adapter's environment.
	Env []string
	// StopOnEntry asks the adapter to stop at the program entry point.
	StopOnEntry bool
	// Runner selects how the adapter process is sandboxed.
	Runner *RunnerConfig
}

// RunnerConfig selects a restricted runner for adapter processes.
type RunnerConfig struct {
	// Type is exec, sandbox-exec, firejail or docker.
	Type string
	// MergeStrategy is "extend" (default) or "replace" and controls how a
	// backend's restrictions combine with the global ones.
	MergeStrategy string
	Restrictions  *RunnerRestrictions
}

// RunnerRestrictions limits what a sandboxed adapter can reach.
type RunnerRestrictions struct {
	AllowNetworking   *bool
	AllowReadFolders  []string
	AllowWriteFolders []string
	DenyFolders       []string
	Docker            *DockerRestrictions
}

// DockerRestrictions configures the docker runner.
type DockerRestrictions struct {
	Image       string
	MemoryLimit string
	CPULimit    string
}

// LoggingConfig mirrors the logging command line flags.
type LoggingConfig struct {
	Level      string
	File       string
	FileLevel  string
	JSON       bool
	Components []string
}

// TrafficConfig configures the backend traffic log.
type TrafficConfig struct {
	// File enables a rotating transcript of backend traffic.
	File       string
	MaxSizeMB  int
	MaxBackups int
	// RingSize is the number of lines kept in memory for remote views.
	RingSize int
}

// RateLimitConfig limits mutating requests per client.
type RateLimitConfig struct {
	RequestsPerSecond float64
	Burst             int
}

// Hook is a shell command run around the web server lifetime.
// ${PORT} in Command is replaced with the listening port.
type Hook struct {
	Name    string
	Command string
}

// WebHooks holds the commands run when the web server comes up and goes down.
type WebHooks struct {
	Up   Hook
	Down Hook
}

// WebConfig configures the HTTP surface.
type WebConfig struct {
	// Host defaults to 127.0.0.1.
	Host string
	// Port defaults to 8765.
	Port      int
	RateLimit RateLimitConfig
	Hooks     WebHooks
}

// MCPConfig configures the MCP HTTP listener.
type MCPConfig struct {
	Host string
	// Port 0 disables the HTTP listener.
	Port int
}

// WatchConfig configures the program image watcher.
type WatchConfig struct {
	Enabled  bool
	Debounce time.Duration
}

// Config represents the complete dbgctl configuration.
type Config struct {
	// Backends in configuration order; the first is the default.
	Backends []Backend
	// Runner is the default runner for every backend.
	Runner  *RunnerConfig
	Logging LoggingConfig
	Traffic TrafficConfig
	Web     WebConfig
	MCP     MCPConfig
	Watch   WatchConfig
}

const (
	DefaultWebHost     = "127.0.0.1"
	DefaultWebPort     = 8765
	DefaultRingSize    = 500
	DefaultDebounce    = 500 * time.Millisecond
	DefaultRateLimit   = 10.0
	DefaultRateBurst   = 20
	DefaultTrafficSize = 10
)

type rawRunner struct {
	Type              string   `yaml:"type"`
	MergeStrategy     string   `yaml:"merge_strategy"`
	AllowNetworking   *bool    `yaml:"allow_networking"`
	AllowReadFolders  []string `yaml:"allow_read_folders"`
	AllowWriteFolders []string `yaml:"allow_write_folders"`
	DenyFolders       []string `yaml:"deny_folders"`
	Docker            *struct {
		Image       string `yaml:"image"`
		MemoryLimit string `yaml:"memory_limit"`
		CPULimit    string `yaml:"cpu_limit"`
	} `yaml:"docker"`
}

// rawConfig is used for YAML unmarshaling of the map-based backend list.
type rawHook struct {
	Name    string `yaml:"name"`
	Command string `yaml:"command"`
}

type rawConfig struct {
	Backends []map[string]struct {
		Command     string     `yaml:"command"`
		Address     string     `yaml:"address"`
		AdapterID   string     `yaml:"adapter_id"`
		Env         []string   `yaml:"env"`
		StopOnEntry *bool      `yaml:"stop_on_entry"`
		Runner      *rawRunner `yaml:"runner"`
	} `yaml:"backends"`
	Runner  *rawRunner `yaml:"runner"`
	Logging struct {
		Level      string   `yaml:"level"`
		File       string   `yaml:"file"`
		FileLevel  string   `yaml:"file_level"`
		JSON       bool     `yaml:"json"`
		Components []string `yaml:"components"`
	} `yaml:"logging"`
	Traffic struct {
		File       string `yaml:"file"`
		MaxSizeMB  int    `yaml:"max_size_mb"`
		MaxBackups int    `yaml:"max_backups"`
		RingSize   int    `yaml:"ring_size"`
	} `yaml:"traffic"`
	Web struct {
		Host      string `yaml:"host"`
		Port      int    `yaml:"port"`
		RateLimit struct {
			RequestsPerSecond float64 `yaml:"requests_per_second"`
			Burst             int     `yaml:"burst"`
		} `yaml:"rate_limit"`
		Hooks struct {
			Up   rawHook `yaml:"up"`
			Down rawHook `yaml:"down"`
		} `yaml:"hooks"`
	} `yaml:"web"`
	MCP struct {
		Host string `yaml:"host"`
		Port int    `yaml:"port"`
	} `yaml:"mcp"`
	Watch struct {
		Enabled  *bool  `yaml:"enabled"`
		Debounce string `yaml:"debounce"`
	} `yaml:"watch"`
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	cfg := &Config{
		Backends: []Backend{
			{Name: "delve", Command: "dlv dap", AdapterID: "go", StopOnEntry: true},
			{Name: "gdb", Command: "gdb -i dap", AdapterID: "gdb", StopOnEntry: true},
		},
		Logging: LoggingConfig{Level: "info"},
	}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.Web.Host == "" {
		c.Web.Host = DefaultWebHost
	}
	if c.Web.Port == 0 {
		c.Web.Port = DefaultWebPort
	}
	if c.Web.RateLimit.RequestsPerSecond <= 0 {
		c.Web.RateLimit.RequestsPerSecond = DefaultRateLimit
	}
	if c.Web.RateLimit.Burst <= 0 {
		c.Web.RateLimit.Burst = DefaultRateBurst
	}
	if c.MCP.Host == "" {
		c.MCP.Host = DefaultWebHost
	}
	if c.Traffic.RingSize <= 0 {
		c.Traffic.RingSize = DefaultRingSize
	}
	if c.Traffic.MaxSizeMB <= 0 {
		c.Traffic.MaxSizeMB = DefaultTrafficSize
	}
	if c.Watch.Debounce <= 0 {
		c.Watch.Debounce = DefaultDebounce
	}
}

// DefaultConfigPath returns the default configuration file path for the
// current platform. DBGCTLRC overrides it.
func DefaultConfigPath() string {
	if envPath := os.Getenv("DBGCTLRC"); envPath != "" {
		return envPath
	}

	var configDir string
	switch runtime.GOOS {
	case "windows":
		configDir = os.Getenv("APPDATA")
		if configDir == "" {
			configDir = filepath.Join(os.Getenv("USERPROFILE"), "AppData", "Roaming")
		}
	case "darwin":
		configDir, _ = os.UserHomeDir()
	default:
		if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
			configDir = xdgConfig
		} else {
			configDir, _ = os.UserHomeDir()
		}
	}

	return filepath.Join(configDir, ".dbgctlrc")
}

// Load reads and parses the configuration file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	return Parse(data)
}

// LoadOrDefault loads path, falling back to Default when it does not exist.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Default(), nil
		}
		return nil, err
	}
	return cfg, nil
}

// Parse parses YAML configuration data.
func Parse(data []byte) (*Config, error) {
	var raw rawConfig
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg := &Config{Backends: make([]Backend, 0, len(raw.Backends))}
	seen := make(map[string]bool)
	for _, entry := range raw.Backends {
		for name, b := range entry {
			if seen[name] {
				return nil, fmt.Errorf("backend %q defined more than once", name)
			}
			seen[name] = true
			if b.Command == "" && b.Address == "" {
				return nil, fmt.Errorf("backend %q needs a command or an address", name)
			}
			backend := Backend{
				Name:        name,
				Command:     b.Command,
				Address:     b.Address,
				AdapterID:   b.AdapterID,
				Env:         b.Env,
				StopOnEntry: b.StopOnEntry == nil || *b.StopOnEntry,
				Runner:      toRunnerConfig(b.Runner),
			}
			if backend.AdapterID == "" {
				backend.AdapterID = name
			}
			cfg.Backends = append(cfg.Backends, backend)
		}
	}

	if len(cfg.Backends) == 0 {
		return nil, fmt.Errorf("no backends configured")
	}

	cfg.Runner = toRunnerConfig(raw.Runner)
	cfg.Logging = LoggingConfig{
		Level:      raw.Logging.Level,
		File:       raw.Logging.File,
		FileLevel:  raw.Logging.FileLevel,
		JSON:       raw.Logging.JSON,
		Components: raw.Logging.Components,
	}
	cfg.Traffic = TrafficConfig{
		File:       raw.Traffic.File,
		MaxSizeMB:  raw.Traffic.MaxSizeMB,
		MaxBackups: raw.Traffic.MaxBackups,
		RingSize:   raw.Traffic.RingSize,
	}
	cfg.Web.Host = raw.Web.Host
	cfg.Web.Port = raw.Web.Port
	cfg.Web.RateLimit.RequestsPerSecond = raw.Web.RateLimit.RequestsPerSecond
	cfg.Web.RateLimit.Burst = raw.Web.RateLimit.Burst
	cfg.Web.Hooks.Up = Hook(raw.Web.Hooks.Up)
	cfg.Web.Hooks.Down = Hook(raw.Web.Hooks.Down)
	cfg.MCP.Host = raw.MCP.Host
	cfg.MCP.Port = raw.MCP.Port

	cfg.Watch.Enabled = raw.Watch.Enabled == nil || *raw.Watch.Enabled
	if raw.Watch.Debounce != "" {
		d, err := time.ParseDuration(raw.Watch.Debounce)
		if err != nil {
			return nil, fmt.Errorf("invalid watch.debounce %q: %w", raw.Watch.Debounce, err)
		}
		cfg.Watch.Debounce = d
	}

	cfg.applyDefaults()
	return cfg, nil
}

func toRunnerConfig(r *rawRunner) *RunnerConfig {
	if r == nil {
		return nil
	}
	rc := &RunnerConfig{Type: r.Type, MergeStrategy: r.MergeStrategy}
	if r.AllowNetworking != nil || len(r.AllowReadFolders) > 0 || len(r.AllowWriteFolders) > 0 ||
		len(r.DenyFolders) > 0 || r.Docker != nil {
		rc.Restrictions = &RunnerRestrictions{
			AllowNetworking:   r.AllowNetworking,
			AllowReadFolders:  r.AllowReadFolders,
			AllowWriteFolders: r.AllowWriteFolders,
			DenyFolders:       r.DenyFolders,
		}
		if r.Docker != nil {
			rc.Restrictions.Docker = &DockerRestrictions{
				Image:       r.Docker.Image,
				MemoryLimit: r.Docker.MemoryLimit,
				CPULimit:    r.Docker.CPULimit,
			}
		}
	}
	return rc
}

// DefaultBackend returns the first configured backend.
func (c *Config) DefaultBackend() *Backend {
	if len(c.Backends) == 0 {
		return nil
	}
	return &c.Backends[0]
}

// GetBackend returns the backend with the given name, or the default one
// when name is empty.
func (c *Config) GetBackend(name string) (*Backend, error) {
	if name == "" {
		if b := c.DefaultBackend(); b != nil {
			return b, nil
		}
		return nil, fmt.Errorf("no backends configured")
	}
	for i := range c.Backends {
		if c.Backends[i].Name == name {
			return &c.Backends[i], nil
		}
	}
	return nil, fmt.Errorf("backend %q not found in configuration", name)
}

// BackendNames returns the configured backend names in order.
func (c *Config) BackendNames() []string {
	names := make([]string, len(c.Backends))
	for i, b := range c.Backends {
		names[i] = b.Name
	}
	return names
}
