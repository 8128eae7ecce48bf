// Package bootstrap wires configuration, logging, storage, the exchange
// client and the guardian services into a runnable application.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"position_guard/internal/alert"
	"position_guard/internal/config"
	"position_guard/internal/core"
	"position_guard/internal/exchange"
	"position_guard/internal/guardian"
	"position_guard/internal/infrastructure/metrics"
	"position_guard/internal/logging"
	"position_guard/internal/registry"
	"position_guard/pkg/telemetry"
)

// App holds the wired application dependencies.
type App struct {
	Cfg      *config.Config
	Logger   core.ILogger
	Registry *registry.Registry
	Store    *registry.SQLiteStore
	Exchange *exchange.Client
	Guardian *guardian.Manager
	Mirror   *guardian.MirrorSync

	zapLogger     *logging.ZapLogger
	metricsServer *metrics.Server
	telemetry     *telemetry.Telemetry
}

const shutdownTimeout = 10 * time.Second

// Runner is a component with a blocking Run loop that exits on context
// cancellation.
type Runner interface {
	Run(ctx context.Context) error
}

// NewApp bootstraps all dependencies. Configuration and credential errors
// here are fatal: the process must not start half-wired.
func NewApp(configPath string) (*App, error) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	var tel *telemetry.Telemetry
	if cfg.Telemetry.EnableMetrics {
		tel, err = telemetry.Setup("position_guard")
		if err != nil {
			return nil, fmt.Errorf("telemetry: %w", err)
		}
	}

	zapLogger, err := logging.NewZapLogger(cfg.System.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}
	logger := core.ILogger(zapLogger)

	exchangeClient, err := exchange.NewClient(cfg.Accounts, cfg.Policy, logger)
	if err != nil {
		return nil, fmt.Errorf("exchange client: %w", err)
	}

	store, err := registry.NewSQLiteStore(cfg.System.DBPath)
	if err != nil {
		return nil, fmt.Errorf("snapshot store: %w", err)
	}

	alertManager := alert.NewManager(logger)
	if cfg.Alerts.Telegram.BotToken != "" {
		alertManager.AddChannel(alert.NewTelegramChannel(cfg.Alerts.Telegram.BotToken, cfg.Alerts.Telegram.ChatID))
	}
	if cfg.Alerts.Slack.WebhookURL != "" {
		alertManager.AddChannel(alert.NewSlackChannel(cfg.Alerts.Slack.WebhookURL))
	}

	reg := registry.New(logger)
	manager := guardian.NewManager(cfg, reg, exchangeClient, store, alertManager, logger)
	mirror := guardian.NewMirrorSync(cfg, reg, exchangeClient, logger)

	app := &App{
		Cfg:       cfg,
		Logger:    logger,
		Registry:  reg,
		Store:     store,
		Exchange:  exchangeClient,
		Guardian:  manager,
		Mirror:    mirror,
		zapLogger: zapLogger,
		telemetry: tel,
	}

	if cfg.Telemetry.EnableMetrics {
		app.metricsServer = metrics.NewServer(cfg.Telemetry.MetricsPort, logger)
	}

	return app, nil
}

// Run restores persisted state, verifies exchange connectivity, runs the
// recovery pass and then drives all loops until a termination signal.
func (a *App) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	for _, account := range []core.Account{core.AccountPrimary, core.AccountMirror} {
		if err := a.Exchange.CheckHealth(ctx, account); err != nil {
			return fmt.Errorf("exchange unreachable for %s account: %w", account, err)
		}
	}

	snap, err := a.Store.Load(ctx)
	if err != nil {
		return fmt.Errorf("snapshot load: %w", err)
	}
	if snap != nil {
		a.Registry.Restore(snap)
	}

	recovery := guardian.NewRecovery(a.Registry, a.Exchange, guardian.NewFillDetector(a.Cfg.Policy.FillToleranceBps, a.Logger), a.Logger)
	if err := recovery.Run(ctx); err != nil {
		return fmt.Errorf("recovery pass: %w", err)
	}

	if a.metricsServer != nil {
		a.metricsServer.Start()
	}

	g, ctx := errgroup.WithContext(ctx)
	for _, runner := range []Runner{a.Guardian, a.Mirror} {
		r := runner
		g.Go(func() error {
			return r.Run(ctx)
		})
	}
	g.Go(func() error {
		return a.Guardian.FlushLoop(ctx)
	})

	a.Logger.Info("Application started", "monitors", a.Registry.Count(""))

	err = g.Wait()
	a.shutdown()

	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error("Application stopped with error", "error", err)
		return err
	}

	a.Logger.Info("Application shut down gracefully")
	return nil
}

func (a *App) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if a.metricsServer != nil {
		if err := a.metricsServer.Stop(ctx); err != nil {
			a.Logger.Warn("Metrics server shutdown failed", "error", err)
		}
	}
	if err := a.Store.Close(); err != nil {
		a.Logger.Warn("Snapshot store close failed", "error", err)
	}
	if a.telemetry != nil {
		if err := a.telemetry.Shutdown(ctx); err != nil {
			a.Logger.Warn("Telemetry shutdown failed", "error", err)
		}
	}
	_ = a.zapLogger.Sync()
}
