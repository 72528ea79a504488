package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/stackpod/hutch/pkg/api"
	"github.com/stackpod/hutch/pkg/config"
	"github.com/stackpod/hutch/pkg/log"
	"github.com/stackpod/hutch/pkg/metrics"
	"github.com/stackpod/hutch/pkg/orchestrator"
	"github.com/stackpod/hutch/pkg/pool"
	"github.com/stackpod/hutch/pkg/proxy"
	"github.com/stackpod/hutch/pkg/runtime"
	"github.com/stackpod/hutch/pkg/security"
	"github.com/stackpod/hutch/pkg/session"
	"github.com/stackpod/hutch/pkg/twa"
	"github.com/stackpod/hutch/pkg/types"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "hutch",
	Short: "Hutch - Browser container pool and session orchestrator",
	Long: `Hutch keeps a warm pool of single-use browser containers and
orchestrates authenticated sessions against a target web application:
QR-based logins, encrypted credential storage, and feed sampling
through assigned containers.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"Hutch version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(sessionsCmd)
	rootCmd.AddCommand(containersCmd)
	rootCmd.AddCommand(healthCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the Hutch daemon",
	Long: `Run the Hutch daemon: connect to docker, clean up orphaned
containers, fill the warm pool, and serve the HTTP API.

Configuration comes from HUTCH_-prefixed environment variables or a
YAML file (--config or HUTCH_CONFIG). The fallback key seed is
mandatory unless the platform key service is available:

  HUTCH_FALLBACK_KEY_SEED=... hutch serve`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().String("config", "", "Path to YAML config file")
}

func runServe(cmd *cobra.Command, args []string) error {
	if path, _ := cmd.Flags().GetString("config"); path != "" {
		os.Setenv("HUTCH_CONFIG", path)
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	log.Init(log.Config{
		Level:      log.Level(cfg.LogLevel),
		JSONOutput: cfg.LogJSON,
	})
	logger := log.WithComponent("main")
	logger.Info().
		Str("version", Version).
		Str("commit", Commit).
		Str("proxy_mode", cfg.ProxyMode).
		Int("pool_min", cfg.PoolMin).
		Int("pool_max", cfg.PoolMax).
		Msg("starting hutch")

	metrics.SetVersion(Version)

	// Encryption key material must exist before any session can load.
	keyCtx, keyCancel := context.WithTimeout(context.Background(), 10*time.Second)
	cipher, err := security.LoadCipher(keyCtx, cfg.PlatformKey, cfg.PlatformKeyEndpoint, cfg.FallbackKeySeed)
	keyCancel()
	if err != nil {
		return fmt.Errorf("failed to load encryption key: %w", err)
	}
	if cipher.IsPlatformKey() {
		logger.Info().Msg("using platform-derived encryption key")
	} else {
		logger.Info().Msg("using fallback seed-derived encryption key")
	}

	driver, err := runtime.NewDockerDriver(runtime.Config{
		SocketPath:   cfg.DockerSock,
		Image:        cfg.ContainerImage,
		Network:      cfg.ContainerNetwork,
		DevtoolsPort: cfg.DevtoolsPort,
		ControlPort:  cfg.ControlPort,
	})
	if err != nil {
		return fmt.Errorf("failed to connect to docker: %w", err)
	}
	defer driver.Close()
	metrics.RegisterComponent("driver", true, "daemon reachable")

	var selector proxy.Selector
	switch cfg.ProxyMode {
	case config.ProxyModeBucketed:
		selector = proxy.NewBucketed(cfg.ProxyBucketHost, cfg.ProxyBucketPortBase,
			cfg.ProxyBucketCount, cfg.ProxyUser, cfg.ProxyPass)
	default:
		selector = proxy.NewRotating(types.ProxyUpstream{
			Host: cfg.ProxyHost,
			Port: cfg.ProxyPort,
			User: cfg.ProxyUser,
			Pass: cfg.ProxyPass,
		})
	}

	mgr := pool.NewManager(driver, selector, pool.Config{
		MinWarm:             cfg.PoolMin,
		MaxTotal:            cfg.PoolMax,
		ReleasedIdleTimeout: cfg.ReleasedIdleTimeout,
		MaintenanceInterval: cfg.MaintenanceInterval,
		SweepInterval:       cfg.ContainerSweepInterval,
	})

	store := session.NewStore(cipher, cfg.SessionTimeout, cfg.AuthTimeout)

	profile := twa.Default()
	if cfg.TWAProfile != "" {
		profile, err = twa.Load(cfg.TWAProfile)
		if err != nil {
			return fmt.Errorf("failed to load target profile: %w", err)
		}
		logger.Info().Str("path", cfg.TWAProfile).Str("host", profile.Host).Msg("target profile loaded")
	}

	registry := twa.NewRegistry()
	registry.Register(twa.NewWebModule(profile))

	orch, err := orchestrator.New(mgr, store, profile, registry, orchestrator.Config{
		LoginPollTimeout: cfg.AuthTimeout,
	})
	if err != nil {
		return fmt.Errorf("failed to build orchestrator: %w", err)
	}

	// Orphan cleanup plus the first refill may pull the image; allow time.
	startCtx, startCancel := context.WithTimeout(context.Background(), 5*time.Minute)
	err = mgr.Start(startCtx)
	startCancel()
	if err != nil {
		return fmt.Errorf("failed to start pool: %w", err)
	}
	metrics.RegisterComponent("pool", true, "maintenance running")

	store.Start(cfg.SessionSweepInterval, cfg.SessionSweepInterval)

	collector := metrics.NewCollector(mgr, store)
	collector.Start()

	apiServer := api.NewServer(orch, cfg.ListenAddr)
	errCh := make(chan error, 1)
	go func() {
		if err := apiServer.Start(); err != nil {
			errCh <- fmt.Errorf("api server error: %w", err)
		}
	}()

	logger.Info().Str("addr", cfg.ListenAddr).Msg("hutch is running")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info().Str("signal", sig.String()).Msg("shutting down")
	case err := <-errCh:
		logger.Error().Err(err).Msg("api server failed")
	}

	// Drain the API first so no new assignments arrive mid-teardown.
	drainCtx, drainCancel := context.WithTimeout(context.Background(), 10*time.Second)
	if err := apiServer.Shutdown(drainCtx); err != nil {
		logger.Warn().Err(err).Msg("api drain incomplete")
	}
	drainCancel()

	collector.Stop()
	store.Stop()

	destroyCtx, destroyCancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer destroyCancel()
	if err := mgr.Shutdown(destroyCtx); err != nil {
		logger.Warn().Err(err).Msg("container teardown incomplete")
	}

	logger.Info().Msg("shutdown complete")
	return nil
}
