package coordinator

import (
	"context"
	"fmt"
	"sync"

	"pilot/internal/broker"
)

// Strategy is the lifecycle contract a node implementation must satisfy.
// Start blocks until the strategy is initialized and returns once its
// internal loops are running; Stop must be safe to call once after Start.
type Strategy interface {
	Start(ctx context.Context) error
	Stop() error
}

// StrategyFactory builds a strategy from its node config and the broker
// surface the coordinator assigns it (always a proxy, never the shared
// broker).
type StrategyFactory func(node NodeConfig, orders broker.Broker) (Strategy, error)

var (
	factoryMu sync.RWMutex
	factories = map[string]StrategyFactory{}
)

// RegisterStrategy makes a node type constructible. Later registrations
// for the same type win, which lets tests install fakes.
func RegisterStrategy(nodeType string, factory StrategyFactory) {
	factoryMu.Lock()
	defer factoryMu.Unlock()
	factories[nodeType] = factory
}

func newStrategy(node NodeConfig, orders broker.Broker) (Strategy, error) {
	factoryMu.RLock()
	factory, ok := factories[node.Type]
	factoryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("coordinator: no strategy registered for type %q", node.Type)
	}
	return factory(node, orders)
}

// manualStrategy holds a proxy open for operator-driven orders and does
// nothing on its own.
type manualStrategy struct{}

func (manualStrategy) Start(context.Context) error { return nil }
func (manualStrategy) Stop() error                 { return nil }

func init() {
	RegisterStrategy("manual", func(NodeConfig, broker.Broker) (Strategy, error) {
		return manualStrategy{}, nil
	})
}
