package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Every Load test needs a seed; without one validation fails by design.
func setSeed(t *testing.T) {
	t.Helper()
	t.Setenv("HUTCH_FALLBACK_KEY_SEED", "test-seed")
}

func TestLoadDefaults(t *testing.T) {
	setSeed(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":8090", cfg.ListenAddr)
	assert.Equal(t, 6, cfg.PoolMin)
	assert.Equal(t, 24, cfg.PoolMax)
	assert.Equal(t, "hutch/browser:latest", cfg.ContainerImage)
	assert.Equal(t, "hutch", cfg.ContainerNetwork)
	assert.Equal(t, 9222, cfg.DevtoolsPort)
	assert.Equal(t, 8080, cfg.ControlPort)
	assert.Equal(t, "/var/run/docker.sock", cfg.DockerSock)
	assert.Equal(t, 10*time.Minute, cfg.ReleasedIdleTimeout)
	assert.Equal(t, time.Hour, cfg.SessionTimeout)
	assert.Equal(t, 2*time.Minute, cfg.AuthTimeout)
	assert.Equal(t, 30*time.Second, cfg.MaintenanceInterval)
	assert.Equal(t, 60*time.Second, cfg.ContainerSweepInterval)
	assert.Equal(t, 60*time.Second, cfg.SessionSweepInterval)
	assert.Equal(t, ProxyModeRotating, cfg.ProxyMode)
	assert.Equal(t, 10000, cfg.ProxyBucketPortBase)
	assert.Equal(t, 0, cfg.ProxyBucketCount)
	assert.False(t, cfg.PlatformKey)
	assert.Equal(t, "http://127.0.0.1:8006", cfg.PlatformKeyEndpoint)
	assert.Equal(t, "test-seed", cfg.FallbackKeySeed)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.True(t, cfg.LogJSON)
}

func TestLoadEnvOverrides(t *testing.T) {
	setSeed(t)
	t.Setenv("HUTCH_LISTEN_ADDR", "127.0.0.1:9999")
	t.Setenv("HUTCH_POOL_MIN", "2")
	t.Setenv("HUTCH_POOL_MAX", "4")
	t.Setenv("HUTCH_CONTAINER_IMAGE", "hutch/browser:v2")
	t.Setenv("HUTCH_SESSION_TIMEOUT", "30m")
	t.Setenv("HUTCH_PROXY_MODE", "bucketed")
	t.Setenv("HUTCH_PROXY_BUCKET_HOST", "gw.proxy.local")
	t.Setenv("HUTCH_PROXY_BUCKET_COUNT", "500")
	t.Setenv("HUTCH_LOG_LEVEL", "debug")
	t.Setenv("HUTCH_LOG_JSON", "false")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:9999", cfg.ListenAddr)
	assert.Equal(t, 2, cfg.PoolMin)
	assert.Equal(t, 4, cfg.PoolMax)
	assert.Equal(t, "hutch/browser:v2", cfg.ContainerImage)
	assert.Equal(t, 30*time.Minute, cfg.SessionTimeout)
	assert.Equal(t, ProxyModeBucketed, cfg.ProxyMode)
	assert.Equal(t, "gw.proxy.local", cfg.ProxyBucketHost)
	assert.Equal(t, 500, cfg.ProxyBucketCount)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.False(t, cfg.LogJSON)
}

func TestLoadConfigFile(t *testing.T) {
	setSeed(t)

	dir := t.TempDir()
	path := filepath.Join(dir, "hutch.yaml")
	data := []byte("listen_addr: \":7070\"\npool_min: 1\npool_max: 3\nproxy_host: proxy.example.net\nproxy_port: 8888\n")
	require.NoError(t, os.WriteFile(path, data, 0o644))
	t.Setenv("HUTCH_CONFIG", path)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":7070", cfg.ListenAddr)
	assert.Equal(t, 1, cfg.PoolMin)
	assert.Equal(t, 3, cfg.PoolMax)
	assert.Equal(t, "proxy.example.net", cfg.ProxyHost)
	assert.Equal(t, 8888, cfg.ProxyPort)
}

func TestLoadEnvBeatsFile(t *testing.T) {
	setSeed(t)

	dir := t.TempDir()
	path := filepath.Join(dir, "hutch.yaml")
	require.NoError(t, os.WriteFile(path, []byte("pool_min: 1\n"), 0o644))
	t.Setenv("HUTCH_CONFIG", path)
	t.Setenv("HUTCH_POOL_MIN", "9")
	t.Setenv("HUTCH_POOL_MAX", "20")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 9, cfg.PoolMin)
}

func TestLoadMissingConfigFile(t *testing.T) {
	setSeed(t)
	t.Setenv("HUTCH_CONFIG", filepath.Join(t.TempDir(), "nope.yaml"))

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read config file")
}

func TestLoadMissingSeed(t *testing.T) {
	// Platform key disabled and no seed: the daemon must refuse to start
	// rather than silently fall back to a weak key.
	t.Setenv("HUTCH_FALLBACK_KEY_SEED", "")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "fallback_key_seed")
}

func TestLoadPlatformKeyWithoutSeed(t *testing.T) {
	t.Setenv("HUTCH_FALLBACK_KEY_SEED", "")
	t.Setenv("HUTCH_PLATFORM_KEY", "true")

	_, err := Load()
	require.NoError(t, err)
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		return &Config{
			ListenAddr:             ":8090",
			PoolMin:                6,
			PoolMax:                24,
			ContainerImage:         "hutch/browser:latest",
			ContainerNetwork:       "hutch",
			DevtoolsPort:           9222,
			ControlPort:            8080,
			ReleasedIdleTimeout:    10 * time.Minute,
			SessionTimeout:         time.Hour,
			AuthTimeout:            2 * time.Minute,
			MaintenanceInterval:    30 * time.Second,
			ContainerSweepInterval: time.Minute,
			SessionSweepInterval:   time.Minute,
			ProxyMode:              ProxyModeRotating,
			ProxyBucketPortBase:    10000,
			FallbackKeySeed:        "seed",
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:   "valid rotating",
			mutate: func(c *Config) {},
		},
		{
			name: "valid bucketed",
			mutate: func(c *Config) {
				c.ProxyMode = ProxyModeBucketed
				c.ProxyBucketHost = "gw"
				c.ProxyBucketCount = 100
			},
		},
		{
			name:    "empty listen addr",
			mutate:  func(c *Config) { c.ListenAddr = "" },
			wantErr: "listen_addr",
		},
		{
			name:    "negative pool min",
			mutate:  func(c *Config) { c.PoolMin = -1 },
			wantErr: "pool_min",
		},
		{
			name:    "zero pool max",
			mutate:  func(c *Config) { c.PoolMax = 0 },
			wantErr: "pool_max",
		},
		{
			name: "min exceeds max",
			mutate: func(c *Config) {
				c.PoolMin = 10
				c.PoolMax = 5
			},
			wantErr: "must not exceed",
		},
		{
			name:    "empty image",
			mutate:  func(c *Config) { c.ContainerImage = "" },
			wantErr: "container_image",
		},
		{
			name:    "zero session timeout",
			mutate:  func(c *Config) { c.SessionTimeout = 0 },
			wantErr: "session_timeout",
		},
		{
			name:    "unknown proxy mode",
			mutate:  func(c *Config) { c.ProxyMode = "sticky" },
			wantErr: "proxy_mode",
		},
		{
			name: "bucketed without host",
			mutate: func(c *Config) {
				c.ProxyMode = ProxyModeBucketed
				c.ProxyBucketCount = 10
			},
			wantErr: "proxy_bucket_host",
		},
		{
			name: "bucketed without count",
			mutate: func(c *Config) {
				c.ProxyMode = ProxyModeBucketed
				c.ProxyBucketHost = "gw"
			},
			wantErr: "proxy_bucket_count",
		},
		{
			name: "bucket range overflows ports",
			mutate: func(c *Config) {
				c.ProxyMode = ProxyModeBucketed
				c.ProxyBucketHost = "gw"
				c.ProxyBucketPortBase = 65000
				c.ProxyBucketCount = 1000
			},
			wantErr: "out of range",
		},
		{
			name:    "missing seed",
			mutate:  func(c *Config) { c.FallbackKeySeed = "" },
			wantErr: "fallback_key_seed",
		},
		{
			name: "platform key allows empty seed",
			mutate: func(c *Config) {
				c.FallbackKeySeed = ""
				c.PlatformKey = true
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}
