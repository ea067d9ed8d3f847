package coordinator

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"pilot/internal/broker"
	"pilot/internal/logger"
	"pilot/internal/telemetry"
)

// MarketDataService provides per-symbol subscriptions. The coordinator
// acquires one for every symbol in the graph and releases them on Stop.
type MarketDataService interface {
	SubscribeMarketData(symbol string) error
	UnsubscribeMarketData(symbol string) error
}

type runningStrategy struct {
	id       string
	strategy Strategy
}

// Coordinator owns the lifecycle of every strategy in a graph run. One
// run at a time; Start on a running coordinator is an error.
type Coordinator struct {
	mu         sync.Mutex
	broker     broker.Broker
	guard      OrderValidator
	marketData MarketDataService
	reporter   *telemetry.Reporter

	running    bool
	graphName  string
	strategies []runningStrategy
	subscribed []string
}

func New(shared broker.Broker, guard OrderValidator, marketData MarketDataService, reporter *telemetry.Reporter) *Coordinator {
	return &Coordinator{
		broker:     shared,
		guard:      guard,
		marketData: marketData,
		reporter:   reporter,
	}
}

// Start validates the graph, prepares envelopes, subscribes market data
// for the union of symbols, then starts every strategy concurrently and
// waits for them all to come up. A partial failure tears down whatever
// already started.
func (c *Coordinator) Start(ctx context.Context, graph *GraphConfig) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		return fmt.Errorf("coordinator: already running graph %q", c.graphName)
	}
	if err := graph.Validate(); err != nil {
		return err
	}

	policy, err := NewPolicy(graph.Policy)
	if err != nil {
		return err
	}
	if err := policy.Prepare(graph); err != nil {
		return err
	}

	strategies := make([]runningStrategy, 0, len(graph.Strategies))
	for _, node := range graph.Strategies {
		proxy := NewBrokerProxy(node.ID, policy, c.guard, c.broker, c.reporter)
		strategy, err := newStrategy(node, proxy)
		if err != nil {
			return err
		}
		strategies = append(strategies, runningStrategy{id: node.ID, strategy: strategy})
	}

	var subscribed []string
	cleanup := func() {
		for i := len(subscribed) - 1; i >= 0; i-- {
			if err := c.marketData.UnsubscribeMarketData(subscribed[i]); err != nil {
				logger.Warnf("release market data for %s: %v", subscribed[i], err)
			}
		}
	}
	for _, symbol := range graph.SymbolUnion() {
		if err := c.marketData.SubscribeMarketData(symbol); err != nil {
			cleanup()
			return fmt.Errorf("coordinator: subscribe %s: %w", symbol, err)
		}
		subscribed = append(subscribed, symbol)
	}

	group, groupCtx := errgroup.WithContext(ctx)
	var startedMu sync.Mutex
	var started []runningStrategy
	for _, rs := range strategies {
		rs := rs
		group.Go(func() error {
			if err := rs.strategy.Start(groupCtx); err != nil {
				return fmt.Errorf("coordinator: start strategy %q: %w", rs.id, err)
			}
			startedMu.Lock()
			started = append(started, rs)
			startedMu.Unlock()
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		for i := len(started) - 1; i >= 0; i-- {
			if stopErr := started[i].strategy.Stop(); stopErr != nil {
				logger.Warnf("stop strategy %q during rollback: %v", started[i].id, stopErr)
			}
		}
		cleanup()
		return err
	}

	c.running = true
	c.graphName = graph.Name
	c.strategies = strategies
	c.subscribed = subscribed
	logger.Infof("coordinator started graph %q with %d strategies", graph.Name, len(strategies))
	return nil
}

// Stop stops strategies in reverse start order, then releases market-data
// subscriptions in reverse acquisition order. The first error is
// returned, but every component is still asked to stop.
func (c *Coordinator) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.running {
		return nil
	}

	var firstErr error
	for i := len(c.strategies) - 1; i >= 0; i-- {
		if err := c.strategies[i].strategy.Stop(); err != nil {
			logger.Errorf("stop strategy %q: %v", c.strategies[i].id, err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	for i := len(c.subscribed) - 1; i >= 0; i-- {
		if err := c.marketData.UnsubscribeMarketData(c.subscribed[i]); err != nil {
			logger.Warnf("release market data for %s: %v", c.subscribed[i], err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}

	logger.Infof("coordinator stopped graph %q", c.graphName)
	c.running = false
	c.graphName = ""
	c.strategies = nil
	c.subscribed = nil
	return firstErr
}

// Running reports whether a graph is active.
func (c *Coordinator) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}
