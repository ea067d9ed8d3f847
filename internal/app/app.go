// Package app assembles every component and owns the run lifecycle.
package app

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"pilot/internal/broker"
	"pilot/internal/bus"
	"pilot/internal/config"
	"pilot/internal/coordinator"
	"pilot/internal/events"
	"pilot/internal/execution"
	"pilot/internal/journal"
	"pilot/internal/logger"
	"pilot/internal/marketdata"
	"pilot/internal/portfolio"
	"pilot/internal/risk"
	"pilot/internal/safety"
	"pilot/internal/telemetry"
)

// App holds the wired component graph. Build constructs it without
// starting anything; Run starts and blocks.
type App struct {
	cfg *config.Config

	Bus         *bus.Bus
	Reporter    *telemetry.Reporter
	Portfolio   *portfolio.State
	Limits      *risk.SymbolLimitRegistry
	Guard       *risk.Guard
	Broker      broker.Broker
	Feed        *marketdata.Feed
	Trailing    *execution.TrailingManager
	OCO         *execution.OCOManager
	KillSwitch  *safety.KillSwitch
	Alerts      *safety.Router
	Journal     *journal.Store
	Coordinator *coordinator.Coordinator

	journalWriter *journal.Writer
	portfolioSub  *bus.Subscription
	accountSub    *bus.Subscription
	graph         *coordinator.GraphConfig
}

// Build wires the whole graph from config.
func Build(cfg *config.Config) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	logger.SetLevel(cfg.LogLevel)

	a := &App{cfg: cfg}
	a.Bus = bus.New()

	fileSink, err := telemetry.NewFileSink(cfg.Safety.AlertHistoryPath + ".diag")
	if err != nil {
		return nil, fmt.Errorf("telemetry file sink: %w", err)
	}
	a.Reporter = telemetry.NewReporter(
		telemetry.LogSink{},
		telemetry.BusSink{Bus: a.Bus},
		fileSink,
	)

	a.Portfolio = portfolio.New(config.Decimal(cfg.Portfolio.MaxDailyLoss), cfg.Portfolio.SnapshotPath)

	a.Limits = risk.NewSymbolLimitRegistry(cfg.Risk.SymbolLimitsPath)

	guardOpts := []risk.Option{risk.WithSymbolLimits(a.Limits)}
	if cfg.Risk.ApplyFees {
		guardOpts = append(guardOpts, risk.WithFeeConfig(risk.DefaultFeeConfig()))
	}
	if cfg.Risk.CorrelationPath != "" {
		matrix, err := risk.LoadCorrelationMatrix(cfg.Risk.CorrelationPath)
		if err != nil {
			return nil, fmt.Errorf("correlation matrix: %w", err)
		}
		maxCorrelated := config.Decimal(cfg.Risk.MaxCorrelatedExposure)
		if maxCorrelated.IsPositive() {
			corrGuard, err := risk.NewCorrelationGuard(matrix, maxCorrelated, cfg.Risk.CorrelationThreshold)
			if err != nil {
				return nil, err
			}
			guardOpts = append(guardOpts, risk.WithCorrelationGuard(corrGuard))
		}
	}
	a.Guard = risk.NewGuard(a.Portfolio, config.Decimal(cfg.Risk.MaxExposure), guardOpts...)

	a.KillSwitch, err = safety.NewKillSwitch(cfg.Safety.KillSwitchPath)
	if err != nil {
		return nil, err
	}
	var transport safety.Transport = safety.LogTransport{}
	if cfg.Safety.WebhookURL != "" {
		transport = safety.MultiTransport{
			safety.LogTransport{},
			safety.NewWebhookTransport(cfg.Safety.WebhookURL, cfg.Safety.WebhookTimeout),
		}
	}
	a.Alerts = safety.NewRouter(safety.RouterConfig{
		RateLimitThreshold: cfg.Safety.RateLimitThreshold,
		RateLimitWindow:    cfg.Safety.RateLimitWindow,
		RateLimitCooldown:  cfg.Safety.RateLimitCooldown,
		StaleAfter:         cfg.Safety.StaleAfter,
		CheckInterval:      cfg.Safety.CheckInterval,
	}, transport, a.Bus, a.KillSwitch, cfg.Safety.AlertHistoryPath)

	paper := broker.NewPaperBroker(a.Bus)
	if cfg.Risk.ApplyFees {
		paper.WithFees(risk.DefaultFeeConfig())
	}
	a.Broker = paper
	haltAware := &haltingBroker{inner: a.Broker, killSwitch: a.KillSwitch}

	a.Feed = marketdata.NewFeed(a.Bus, a.Reporter)

	a.Trailing, err = execution.NewTrailingManager(haltAware, a.Bus, a.Reporter,
		cfg.Execution.TrailingStatePath, cfg.Execution.MinUpdateInterval)
	if err != nil {
		return nil, err
	}
	a.OCO, err = execution.NewOCOManager(haltAware, a.Bus, cfg.Execution.OCOStatePath)
	if err != nil {
		return nil, err
	}

	a.Journal, err = journal.NewStore(cfg.Journal.DatabasePath)
	if err != nil {
		return nil, err
	}

	a.Coordinator = coordinator.New(haltAware, a.Guard, a.Feed, a.Reporter)

	if cfg.Graph.Path != "" {
		a.graph, err = coordinator.LoadGraph(cfg.Graph.Path)
		if err != nil {
			return nil, err
		}
	}
	return a, nil
}

// Run starts every background loop and blocks until the context is
// cancelled or a component fails. Teardown runs in reverse start order.
func (a *App) Run(ctx context.Context) error {
	if a == nil || a.cfg == nil {
		return fmt.Errorf("app not initialized")
	}
	if a.KillSwitch.Engaged() {
		status := a.KillSwitch.Status()
		logger.Warnf("starting with kill switch engaged (trigger: %s), trading halted until cleared", status.AlertTitle)
	}

	if a.cfg.Risk.WatchSymbolLimits {
		if err := a.Limits.Watch(); err != nil {
			logger.Warnf("symbol limit watch unavailable: %v", err)
		}
	}

	a.Alerts.Start(ctx)
	a.Trailing.Start(ctx)
	a.OCO.Start(ctx)
	a.journalWriter = journal.NewWriter(ctx, a.Journal, a.Bus)
	a.startPortfolioLoops()

	if a.graph != nil {
		if err := a.Coordinator.Start(ctx, a.graph); err != nil {
			a.shutdown()
			return err
		}
	}

	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		<-ctx.Done()
		a.shutdown()
		return ctx.Err()
	})
	return group.Wait()
}

func (a *App) startPortfolioLoops() {
	a.portfolioSub = a.Bus.Subscribe(bus.TopicExecution)
	go func() {
		for {
			payload, ok := a.portfolioSub.Next()
			if !ok {
				return
			}
			exec, ok := payload.(events.ExecutionEvent)
			if !ok {
				continue
			}
			a.Portfolio.RecordExecutionEvent(exec)
			if err := a.Portfolio.Persist(); err != nil {
				logger.Errorf("persist portfolio snapshot: %v", err)
			}
		}
	}()

	a.accountSub = a.Bus.Subscribe(bus.TopicAccount)
	go func() {
		for {
			payload, ok := a.accountSub.Next()
			if !ok {
				return
			}
			summary, ok := payload.(map[string]string)
			if !ok {
				continue
			}
			a.Portfolio.UpdateAccount(summary)
		}
	}()
}

func (a *App) shutdown() {
	if err := a.Coordinator.Stop(); err != nil {
		logger.Errorf("stop coordinator: %v", err)
	}
	if a.portfolioSub != nil {
		a.portfolioSub.Close()
	}
	if a.accountSub != nil {
		a.accountSub.Close()
	}
	if a.journalWriter != nil {
		a.journalWriter.Stop()
	}
	a.OCO.Stop()
	a.Trailing.Stop()
	a.Alerts.Stop()
	a.Limits.StopWatching()
	if err := a.Portfolio.Persist(); err != nil {
		logger.Errorf("persist portfolio snapshot: %v", err)
	}
	if err := a.Journal.Close(); err != nil {
		logger.Errorf("close journal: %v", err)
	}
	logger.Infof("shutdown complete")
}
