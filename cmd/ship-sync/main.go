package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/BearBump/FleetSync/config"
	"github.com/BearBump/FleetSync/internal/models"
)

func main() {
	if err := newRootCmd(defaultSyncFactories()).Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd(f syncFactories) *cobra.Command {
	var cfgPath string

	root := &cobra.Command{
		Use:          "ship-sync",
		Short:        "Ship catalog synchronization worker",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&cfgPath, "config", os.Getenv("configPath"), "path to the YAML config (env configPath)")

	serve := &cobra.Command{
		Use:   "serve",
		Short: "Run the periodic scheduler and the trigger/status HTTP surface",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, closeLog, err := loadConfig(cfgPath)
			if err != nil {
				return err
			}
			defer func() { _ = closeLog() }()

			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()
			return runServe(ctx, cfg, f, os.Getenv("swaggerPath"))
		},
	}

	var trigger string
	once := &cobra.Command{
		Use:   "once",
		Short: "Perform a single sync run, print its summary and exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, closeLog, err := loadConfig(cfgPath)
			if err != nil {
				return err
			}
			defer func() { _ = closeLog() }()

			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()
			return runOnce(ctx, cfg, f, models.Trigger(trigger), cmd.OutOrStdout())
		},
	}
	once.Flags().StringVar(&trigger, "trigger", string(models.TriggerManual), "run trigger: manual or scheduled")

	root.AddCommand(serve, once)
	// без подкоманды работаем как serve
	root.RunE = serve.RunE
	return root
}

func loadConfig(path string) (*config.Config, func() error, error) {
	if path == "" {
		return nil, nil, errors.New("config path is required (--config or configPath env var)")
	}
	cfg, err := config.LoadConfig(path)
	if err != nil {
		return nil, nil, fmt.Errorf("ошибка парсинга конфига, %w", err)
	}
	logger, closeLog := config.SetupLogger(cfg.Logging.File, config.ParseLogLevel(cfg.Logging.Level))
	slog.SetDefault(logger)
	return cfg, closeLog, nil
}

func runServe(ctx context.Context, cfg *config.Config, f syncFactories, swaggerPath string) error {
	app, err := buildSyncApp(cfg, f)
	if err != nil {
		return err
	}
	defer app.Close()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("sync scheduler started", "interval", app.sched.Interval().String(), "run_on_start", cfg.Sync.RunOnStart)
		return app.sched.Run(ctx)
	})
	g.Go(func() error {
		return runSyncHTTPServer(ctx, syncHTTPOpts{
			httpAddr:    cfg.Sync.HTTPAddr,
			swaggerPath: swaggerPath,
			onListen: func(addr string) {
				slog.Info("ship-sync HTTP listening", "addr", addr)
			},
			app: app,
		})
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// errRunFailed makes `once` exit non-zero after printing the summary.
var errRunFailed = errors.New("sync run failed")

func runOnce(ctx context.Context, cfg *config.Config, f syncFactories, trigger models.Trigger, out io.Writer) error {
	app, err := buildSyncApp(cfg, f)
	if err != nil {
		return err
	}
	defer app.Close()

	sum := app.orch.Run(ctx, trigger)

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	if err := enc.Encode(sum); err != nil {
		return errors.Wrap(err, "write summary")
	}
	if sum.Status == models.RunStatusFailed {
		return errRunFailed
	}
	return nil
}
