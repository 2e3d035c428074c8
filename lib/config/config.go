// Copyright 2026 The Gyrid Server Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvVar names the environment variable that points at the config
// file when --config is not given.
const EnvVar = "GYRID_CONFIG"

// Config is the master configuration for gyrid-server.
type Config struct {
	// Listen configures the scanner-facing socket.
	Listen ListenConfig `yaml:"listen"`

	// Keepalive configures scanner liveness checks.
	Keepalive KeepaliveConfig `yaml:"keepalive"`

	// MaxFrameLength caps the declared length of incoming frames.
	// Default and maximum: 65535.
	MaxFrameLength int `yaml:"max_frame_length"`

	// Projects configures the project/location routing source.
	Projects ProjectsConfig `yaml:"projects"`

	// Forward holds the retry constants shared by forwarding plugins.
	Forward ForwardConfig `yaml:"forward"`

	// Metrics configures the Prometheus endpoint.
	Metrics MetricsConfig `yaml:"metrics"`

	// Plugins configures the consumers.
	Plugins PluginsConfig `yaml:"plugins"`
}

// ListenConfig configures the scanner-facing listener.
type ListenConfig struct {
	// Address is the TCP address to listen on.
	// Default: :2583
	Address string `yaml:"address"`

	// TLS enables TLS with mandatory client certificates when
	// CertFile is set.
	TLS TLSConfig `yaml:"tls"`
}

// TLSConfig names PEM files for a TLS endpoint. On a listener CAFile
// verifies client certificates; on a dialer it verifies the server.
type TLSConfig struct {
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
	CAFile   string `yaml:"ca_file"`

	// ServerName overrides the name checked against the server
	// certificate. Dialers only.
	ServerName string `yaml:"server_name"`
}

// Enabled reports whether any TLS material is configured.
func (t TLSConfig) Enabled() bool {
	return t.CertFile != "" || t.CAFile != ""
}

// KeepaliveConfig configures scanner liveness.
type KeepaliveConfig struct {
	// Interval is the keepalive period requested from scanners.
	// Default: 60s
	Interval time.Duration `yaml:"interval"`

	// TimeoutFactor multiplies Interval to get the silence after
	// which a connection is aborted.
	// Default: 1.1
	TimeoutFactor float64 `yaml:"timeout_factor"`

	// IdentifyTimeout is how long a new connection may take to send
	// its hostname before it is closed.
	// Default: 60s
	IdentifyTimeout time.Duration `yaml:"identify_timeout"`
}

// Timeout is the longest silence tolerated before a connection is
// aborted.
func (k KeepaliveConfig) Timeout() time.Duration {
	return time.Duration(float64(k.Interval) * k.TimeoutFactor)
}

// ProjectsConfig configures the routing source.
type ProjectsConfig struct {
	// Source is the JSONC file describing projects and locations.
	Source string `yaml:"source"`

	// StateFile is where the last accepted snapshot is persisted.
	// Empty disables persistence.
	StateFile string `yaml:"state_file"`

	// ReloadInterval is how often Source is re-read.
	// Default: 10s
	ReloadInterval time.Duration `yaml:"reload_interval"`

	// Unassigned applies to scanners that belong to no project.
	Unassigned UnassignedConfig `yaml:"unassigned"`
}

// UnassignedConfig configures the sentinel project for scanners
// without a project.
type UnassignedConfig struct {
	// DisablePlugins lists global plugins that should not see
	// unassigned scanners.
	DisablePlugins []string `yaml:"disable_plugins"`
}

// ForwardConfig holds retry constants for reliable forwarding.
type ForwardConfig struct {
	// MaxMisses is the number of checks between resends.
	// Default: 5
	MaxMisses int `yaml:"max_misses"`

	// OverflowFactor times MaxMisses is the number of checks after
	// which an unacknowledged message is dropped.
	// Default: 10
	OverflowFactor int `yaml:"overflow_factor"`

	// ReplayBatch is the number of spilled messages replayed at once
	// after a reconnect.
	// Default: 50
	ReplayBatch int `yaml:"replay_batch"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	// Address to serve /metrics on. Empty disables the endpoint.
	Address string `yaml:"address"`
}

// PluginsConfig configures every known consumer.
type PluginsConfig struct {
	InServer InServerConfig `yaml:"inserver"`
	Archive  ArchiveConfig  `yaml:"archive"`
	Status   StatusConfig   `yaml:"status"`
}

// PluginOptions are the registration options every plugin shares.
type PluginOptions struct {
	// Enabled registers the plugin at startup.
	Enabled bool `yaml:"enabled"`

	// Global plugins see every scanner regardless of project
	// membership.
	Global bool `yaml:"global"`
}

// InServerConfig configures forwarding to an upstream InServer.
type InServerConfig struct {
	PluginOptions `yaml:",inline"`

	// Address of the InServer.
	Address string `yaml:"address"`

	// TLS configures the client side of the link.
	TLS TLSConfig `yaml:"tls"`

	// CacheDir holds the spill cache file.
	CacheDir string `yaml:"cache_dir"`

	// Keepalive is the interval at which the InServer is asked to
	// send keepalives, and the base of the resend check period.
	// Default: 60s
	Keepalive time.Duration `yaml:"keepalive"`

	// QueueSize bounds the number of events waiting to be forwarded.
	// Default: 4096
	QueueSize int `yaml:"queue_size"`
}

// ArchiveConfig configures the SQLite event archive.
type ArchiveConfig struct {
	PluginOptions `yaml:",inline"`

	// Path of the SQLite database.
	Path string `yaml:"path"`

	// QueueSize bounds the number of events waiting to be written.
	// Default: 4096
	QueueSize int `yaml:"queue_size"`

	// BatchSize is the maximum number of events per transaction.
	// Default: 256
	BatchSize int `yaml:"batch_size"`
}

// StatusConfig configures the live status plugin.
type StatusConfig struct {
	PluginOptions `yaml:",inline"`
}

// Default returns the default configuration. These defaults are the
// base the config file is merged into.
func Default() *Config {
	homeDir, _ := os.UserHomeDir()
	stateRoot := filepath.Join(homeDir, ".local", "state", "gyrid")

	return &Config{
		Listen: ListenConfig{
			Address: ":2583",
		},
		Keepalive: KeepaliveConfig{
			Interval:        60 * time.Second,
			TimeoutFactor:   1.1,
			IdentifyTimeout: 60 * time.Second,
		},
		MaxFrameLength: 65535,
		Projects: ProjectsConfig{
			StateFile:      filepath.Join(stateRoot, "projects.state"),
			ReloadInterval: 10 * time.Second,
		},
		Forward: ForwardConfig{
			MaxMisses:      5,
			OverflowFactor: 10,
			ReplayBatch:    50,
		},
		Plugins: PluginsConfig{
			InServer: InServerConfig{
				CacheDir:  filepath.Join(stateRoot, "inserver"),
				Keepalive: 60 * time.Second,
				QueueSize: 4096,
			},
			Archive: ArchiveConfig{
				Path:      filepath.Join(stateRoot, "archive.db"),
				QueueSize: 4096,
				BatchSize: 256,
			},
			Status: StatusConfig{
				PluginOptions: PluginOptions{Enabled: true, Global: true},
			},
		},
	}
}

// Load loads configuration from the file named by GYRID_CONFIG.
// There is no fallback: an unset variable is an error.
func Load() (*Config, error) {
	configPath := os.Getenv(EnvVar)
	if configPath == "" {
		return nil, fmt.Errorf("%s environment variable not set; "+
			"set it to the path of your gyrid.yaml config file, or use --config flag", EnvVar)
	}
	return LoadFile(configPath)
}

// LoadFile loads configuration from path, merged over Default, with
// ${VAR} and ${VAR:-default} expanded in path fields.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	cfg.expandVariables()
	return cfg, nil
}

func (c *Config) expandVariables() {
	vars := map[string]string{
		"HOME": os.Getenv("HOME"),
	}
	paths := []*string{
		&c.Listen.TLS.CertFile,
		&c.Listen.TLS.KeyFile,
		&c.Listen.TLS.CAFile,
		&c.Projects.Source,
		&c.Projects.StateFile,
		&c.Plugins.InServer.TLS.CertFile,
		&c.Plugins.InServer.TLS.KeyFile,
		&c.Plugins.InServer.TLS.CAFile,
		&c.Plugins.InServer.CacheDir,
		&c.Plugins.Archive.Path,
	}
	for _, path := range paths {
		*path = expandVars(*path, vars)
	}
}

var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

// expandVars expands ${VAR} and ${VAR:-default} patterns. vars is
// consulted before the process environment.
func expandVars(s string, vars map[string]string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}
		name := parts[1]
		defaultValue := ""
		if len(parts) >= 3 {
			defaultValue = parts[2]
		}
		if value, ok := vars[name]; ok && value != "" {
			return value
		}
		if value := os.Getenv(name); value != "" {
			return value
		}
		return defaultValue
	})
}

// Validate checks the configuration for errors. All problems are
// reported together.
func (c *Config) Validate() error {
	var errs []error

	if c.Listen.Address == "" {
		errs = append(errs, errors.New("listen.address is required"))
	}
	errs = append(errs, c.Listen.TLS.validate("listen.tls", true)...)

	if c.Keepalive.Interval < time.Second {
		errs = append(errs, fmt.Errorf("keepalive.interval must be at least 1s, got %s", c.Keepalive.Interval))
	}
	if c.Keepalive.IdentifyTimeout <= 0 {
		errs = append(errs, fmt.Errorf("keepalive.identify_timeout must be positive, got %s", c.Keepalive.IdentifyTimeout))
	}
	if c.Keepalive.TimeoutFactor < 1 {
		errs = append(errs, fmt.Errorf("keepalive.timeout_factor must be at least 1, got %g", c.Keepalive.TimeoutFactor))
	}
	if c.MaxFrameLength <= 0 || c.MaxFrameLength > 65535 {
		errs = append(errs, fmt.Errorf("max_frame_length must be in 1..65535, got %d", c.MaxFrameLength))
	}

	if c.Projects.Source == "" {
		errs = append(errs, errors.New("projects.source is required"))
	}
	if c.Projects.ReloadInterval <= 0 {
		errs = append(errs, errors.New("projects.reload_interval must be positive"))
	}

	if c.Forward.MaxMisses <= 0 {
		errs = append(errs, errors.New("forward.max_misses must be positive"))
	}
	if c.Forward.OverflowFactor <= 0 {
		errs = append(errs, errors.New("forward.overflow_factor must be positive"))
	}
	if c.Forward.ReplayBatch <= 0 {
		errs = append(errs, errors.New("forward.replay_batch must be positive"))
	}

	if c.Plugins.InServer.Enabled {
		if c.Plugins.InServer.Address == "" {
			errs = append(errs, errors.New("plugins.inserver.address is required when enabled"))
		}
		if c.Plugins.InServer.CacheDir == "" {
			errs = append(errs, errors.New("plugins.inserver.cache_dir is required when enabled"))
		}
		if c.Plugins.InServer.Keepalive < time.Second {
			errs = append(errs, errors.New("plugins.inserver.keepalive must be at least 1s"))
		}
		errs = append(errs, c.Plugins.InServer.TLS.validate("plugins.inserver.tls", false)...)
	}
	if c.Plugins.Archive.Enabled {
		if c.Plugins.Archive.Path == "" {
			errs = append(errs, errors.New("plugins.archive.path is required when enabled"))
		}
		if c.Plugins.Archive.QueueSize <= 0 || c.Plugins.Archive.BatchSize <= 0 {
			errs = append(errs, errors.New("plugins.archive queue_size and batch_size must be positive"))
		}
	}

	for _, name := range c.Projects.Unassigned.DisablePlugins {
		if !slices.Contains(PluginNames, name) {
			errs = append(errs, fmt.Errorf("projects.unassigned.disable_plugins: unknown plugin %q", name))
		}
	}

	return errors.Join(errs...)
}

// PluginNames lists the plugins this build knows about.
var PluginNames = []string{"inserver", "archive", "status"}

func (t TLSConfig) validate(section string, server bool) []error {
	var errs []error
	if (t.CertFile == "") != (t.KeyFile == "") {
		errs = append(errs, fmt.Errorf("%s: cert_file and key_file must be set together", section))
	}
	if server && t.Enabled() {
		if t.CertFile == "" {
			errs = append(errs, fmt.Errorf("%s: cert_file is required", section))
		}
		if t.CAFile == "" {
			errs = append(errs, fmt.Errorf("%s: ca_file is required to verify client certificates", section))
		}
	}
	return errs
}
