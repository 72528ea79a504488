package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
)

// Proxy modes supported by the selector layer.
const (
	ProxyModeRotating = "rotating"
	ProxyModeBucketed = "bucketed"
)

// Config holds every runtime setting for the hutch daemon. All fields are
// overridable through HUTCH_-prefixed environment variables and, optionally,
// a YAML file pointed at by HUTCH_CONFIG.
type Config struct {
	// HTTP API listen address.
	ListenAddr string `mapstructure:"listen_addr"`

	// Warm pool sizing.
	PoolMin int `mapstructure:"pool_min"`
	PoolMax int `mapstructure:"pool_max"`

	// Container runtime.
	ContainerImage   string `mapstructure:"container_image"`
	ContainerNetwork string `mapstructure:"container_network"`
	DevtoolsPort     int    `mapstructure:"devtools_port"`
	ControlPort      int    `mapstructure:"control_port"`
	DockerSock       string `mapstructure:"docker_sock"`

	// Lifecycle timing.
	ReleasedIdleTimeout    time.Duration `mapstructure:"released_idle_timeout"`
	SessionTimeout         time.Duration `mapstructure:"session_timeout"`
	AuthTimeout            time.Duration `mapstructure:"auth_timeout"`
	MaintenanceInterval    time.Duration `mapstructure:"maintenance_interval"`
	ContainerSweepInterval time.Duration `mapstructure:"container_sweep_interval"`
	SessionSweepInterval   time.Duration `mapstructure:"session_sweep_interval"`

	// Proxy selection. Rotating mode rewrites the upstream username per
	// assignment; bucketed mode maps flows onto a fixed port range.
	ProxyMode           string `mapstructure:"proxy_mode"`
	ProxyHost           string `mapstructure:"proxy_host"`
	ProxyPort           int    `mapstructure:"proxy_port"`
	ProxyUser           string `mapstructure:"proxy_user"`
	ProxyPass           string `mapstructure:"proxy_pass"`
	ProxyBucketHost     string `mapstructure:"proxy_bucket_host"`
	ProxyBucketPortBase int    `mapstructure:"proxy_bucket_port_base"`
	ProxyBucketCount    int    `mapstructure:"proxy_bucket_count"`

	// Session encryption key material.
	PlatformKey         bool   `mapstructure:"platform_key"`
	PlatformKeyEndpoint string `mapstructure:"platform_key_endpoint"`
	FallbackKeySeed     string `mapstructure:"fallback_key_seed"`

	// Optional target-profile overlay (YAML).
	TWAProfile string `mapstructure:"twa_profile"`

	// Logging.
	LogLevel string `mapstructure:"log_level"`
	LogJSON  bool   `mapstructure:"log_json"`
}

// Load reads configuration from defaults, an optional YAML file, and
// HUTCH_-prefixed environment variables (highest precedence), then validates
// the result. The file is taken from HUTCH_CONFIG when set, otherwise
// searched for as config.yaml under /etc/hutch and $HOME/.hutch.
func Load() (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix("HUTCH")
	v.AutomaticEnv()

	if path := os.Getenv("HUTCH_CONFIG"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("/etc/hutch/")
		v.AddConfigPath("$HOME/.hutch")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("failed to read config: %w", err)
			}
			// No config file; defaults and env vars apply.
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("listen_addr", ":8090")

	v.SetDefault("pool_min", 6)
	v.SetDefault("pool_max", 24)

	v.SetDefault("container_image", "hutch/browser:latest")
	v.SetDefault("container_network", "hutch")
	v.SetDefault("devtools_port", 9222)
	v.SetDefault("control_port", 8080)
	v.SetDefault("docker_sock", "/var/run/docker.sock")

	v.SetDefault("released_idle_timeout", 10*time.Minute)
	v.SetDefault("session_timeout", time.Hour)
	v.SetDefault("auth_timeout", 2*time.Minute)
	v.SetDefault("maintenance_interval", 30*time.Second)
	v.SetDefault("container_sweep_interval", 60*time.Second)
	v.SetDefault("session_sweep_interval", 60*time.Second)

	v.SetDefault("proxy_mode", ProxyModeRotating)
	v.SetDefault("proxy_host", "")
	v.SetDefault("proxy_port", 0)
	v.SetDefault("proxy_user", "")
	v.SetDefault("proxy_pass", "")
	v.SetDefault("proxy_bucket_host", "")
	v.SetDefault("proxy_bucket_port_base", 10000)
	v.SetDefault("proxy_bucket_count", 0)

	v.SetDefault("platform_key", false)
	v.SetDefault("platform_key_endpoint", "http://127.0.0.1:8006")
	v.SetDefault("fallback_key_seed", "")

	v.SetDefault("twa_profile", "")

	v.SetDefault("log_level", "info")
	v.SetDefault("log_json", true)
}

// Validate checks the configuration for combinations the daemon cannot start
// with. It is called by Load and may be called again after programmatic
// overrides.
func (c *Config) Validate() error {
	if c.ListenAddr == "" {
		return fmt.Errorf("listen_addr must not be empty")
	}
	if c.PoolMin < 0 {
		return fmt.Errorf("pool_min must not be negative, got %d", c.PoolMin)
	}
	if c.PoolMax < 1 {
		return fmt.Errorf("pool_max must be at least 1, got %d", c.PoolMax)
	}
	if c.PoolMin > c.PoolMax {
		return fmt.Errorf("pool_min (%d) must not exceed pool_max (%d)", c.PoolMin, c.PoolMax)
	}
	if c.ContainerImage == "" {
		return fmt.Errorf("container_image must not be empty")
	}
	if c.DevtoolsPort < 1 || c.DevtoolsPort > 65535 {
		return fmt.Errorf("devtools_port %d out of range", c.DevtoolsPort)
	}
	if c.ControlPort < 1 || c.ControlPort > 65535 {
		return fmt.Errorf("control_port %d out of range", c.ControlPort)
	}

	for name, d := range map[string]time.Duration{
		"released_idle_timeout":    c.ReleasedIdleTimeout,
		"session_timeout":          c.SessionTimeout,
		"auth_timeout":             c.AuthTimeout,
		"maintenance_interval":     c.MaintenanceInterval,
		"container_sweep_interval": c.ContainerSweepInterval,
		"session_sweep_interval":   c.SessionSweepInterval,
	} {
		if d <= 0 {
			return fmt.Errorf("%s must be positive, got %s", name, d)
		}
	}

	switch c.ProxyMode {
	case ProxyModeRotating:
		// Host may be empty; assignments then run without an upstream.
	case ProxyModeBucketed:
		if c.ProxyBucketHost == "" {
			return fmt.Errorf("proxy_bucket_host must be set in bucketed mode")
		}
		if c.ProxyBucketCount < 1 {
			return fmt.Errorf("proxy_bucket_count must be at least 1 in bucketed mode, got %d", c.ProxyBucketCount)
		}
		if c.ProxyBucketPortBase < 1 || c.ProxyBucketPortBase+c.ProxyBucketCount-1 > 65535 {
			return fmt.Errorf("proxy bucket port range %d..%d out of range",
				c.ProxyBucketPortBase, c.ProxyBucketPortBase+c.ProxyBucketCount-1)
		}
	default:
		return fmt.Errorf("proxy_mode must be %q or %q, got %q", ProxyModeRotating, ProxyModeBucketed, c.ProxyMode)
	}

	if !c.PlatformKey && c.FallbackKeySeed == "" {
		return fmt.Errorf("fallback_key_seed must be set when platform_key is disabled")
	}

	return nil
}
