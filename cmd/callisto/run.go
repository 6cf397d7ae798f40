package main

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/spf13/cobra"
	"mercator-hq/callisto/pkg/cli"
	"mercator-hq/callisto/pkg/gateway"
	"mercator-hq/callisto/pkg/pricing"
	"mercator-hq/callisto/pkg/relay"
	"mercator-hq/callisto/pkg/telemetry/logging"
	"mercator-hq/callisto/pkg/telemetry/metrics"
	"mercator-hq/callisto/pkg/usagestats"
)

var runFlags struct {
	listenAddress string
	logLevel      string
	dryRun        bool
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the Callisto gateway",
	Long: `Start the Callisto gateway with the specified configuration.

The gateway listens on the configured address and relays Messages API
requests through the key policy engine and the upstream account pool.

Examples:
  # Start with default config
  callisto run

  # Start with custom config
  callisto run --config /etc/callisto/config.yaml

  # Override listen address
  callisto run --listen 0.0.0.0:8082

  # Validate config without starting the gateway
  callisto run --dry-run`,
	RunE: runServer,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVarP(&runFlags.listenAddress, "listen", "l", "", "override listen address")
	runCmd.Flags().StringVar(&runFlags.logLevel, "log-level", "", "override log level (debug, info, warn, error)")
	runCmd.Flags().BoolVar(&runFlags.dryRun, "dry-run", false, "validate config without starting the gateway")
}

func runServer(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	// Apply flag overrides
	if runFlags.listenAddress != "" {
		cfg.Server.ListenAddress = runFlags.listenAddress
	}
	if runFlags.logLevel != "" {
		cfg.Logging.Level = runFlags.logLevel
	}
	if verbose {
		cfg.Logging.Level = "debug"
	}

	if _, err := logging.Setup(cfg.Logging); err != nil {
		return cli.NewConfigError("logging", err.Error())
	}

	if runFlags.dryRun {
		fmt.Println("✓ Configuration valid")
		return nil
	}

	fmt.Printf("Callisto v%s\n", Version)
	if cfgFile != "" {
		fmt.Printf("Loading configuration from: %s\n", cfgFile)
	}
	fmt.Println("✓ Configuration loaded")

	ctx := cli.SetupSignalHandler()

	st, err := openStore(ctx, cfg)
	if err != nil {
		return cli.NewCommandError("run", err)
	}
	defer st.Close()
	fmt.Printf("✓ State store connected (%s)\n", cfg.Store.Backend)

	// Pricing table, with hot reload when configured.
	var pricer *pricing.Calculator
	if cfg.Pricing.Path != "" {
		pricer, err = pricing.NewCalculatorFromFile(cfg.Pricing.Path)
		if err != nil {
			return cli.NewConfigError("pricing.path", err.Error())
		}
		if cfg.Pricing.Watch {
			go func() {
				if err := pricer.Watch(ctx); err != nil {
					slog.Warn("pricing watcher stopped", "error", err)
				}
			}()
		}
	} else {
		pricer = pricing.NewCalculator()
	}
	fmt.Println("✓ Pricing table loaded")

	keySvc := newKeyService(st, cfg, pricer)
	pool := newPool(st, cfg)

	// Durable request log with scheduled retention pruning.
	var usageLog *usagestats.Store
	if cfg.UsageStats.Path != "" {
		usageLog, err = usagestats.Open(cfg.UsageStats)
		if err != nil {
			return cli.NewCommandError("run", fmt.Errorf("opening usage log: %w", err))
		}
		defer usageLog.Close()

		if cfg.UsageStats.PruneSchedule != "" {
			scheduler := usagestats.NewScheduler(usageLog)
			if err := scheduler.Start(ctx); err != nil {
				slog.Warn("failed to start retention scheduler", "error", err)
			} else {
				defer scheduler.Stop()
			}
		}
		fmt.Println("✓ Usage log initialized")
	}

	var m *metrics.Metrics
	var metricsHandler http.Handler
	if cfg.Metrics.Enabled {
		m = metrics.New()
		metricsHandler = m.Handler()
	}

	gw := gateway.New(keySvc, pool, relay.New(cfg.Relay), pricer, usageLog, m)
	srv := gateway.NewServer(gw, gateway.ServerConfig{
		ListenAddress:     cfg.Server.ListenAddress,
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
		ShutdownTimeout:   cfg.Server.ShutdownTimeout,
	}, metricsHandler)

	fmt.Println()
	fmt.Printf("✓ Gateway listening on %s\n", cfg.Server.ListenAddress)
	fmt.Printf("✓ Health endpoint: http://%s/healthz\n", cfg.Server.ListenAddress)
	if cfg.Metrics.Enabled {
		fmt.Printf("✓ Metrics endpoint: http://%s/metrics\n", cfg.Server.ListenAddress)
	}
	fmt.Println("\nPress Ctrl+C to stop")

	if err := srv.ListenAndServe(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return cli.NewCommandError("run", err)
	}

	fmt.Println("✓ Gateway stopped")
	return nil
}
