package coordinator

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pilot/internal/broker"
)

type fakeMarketData struct {
	mu           sync.Mutex
	subscribed   []string
	unsubscribed []string
	failOn       string
}

func (f *fakeMarketData) SubscribeMarketData(symbol string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if symbol == f.failOn {
		return errors.New("feed unavailable")
	}
	f.subscribed = append(f.subscribed, symbol)
	return nil
}

func (f *fakeMarketData) UnsubscribeMarketData(symbol string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unsubscribed = append(f.unsubscribed, symbol)
	return nil
}

type lifecycleStrategy struct {
	mu       sync.Mutex
	started  bool
	stopped  bool
	startErr error
}

func (s *lifecycleStrategy) Start(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.startErr != nil {
		return s.startErr
	}
	s.started = true
	return nil
}

func (s *lifecycleStrategy) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	return nil
}

func registerLifecycle(t *testing.T, nodeType string) map[string]*lifecycleStrategy {
	t.Helper()
	built := make(map[string]*lifecycleStrategy)
	RegisterStrategy(nodeType, func(node NodeConfig, _ broker.Broker) (Strategy, error) {
		s := &lifecycleStrategy{}
		built[node.ID] = s
		return s, nil
	})
	return built
}

func lifecycleGraph(nodeType string) *GraphConfig {
	g := validGraph()
	for i := range g.Strategies {
		g.Strategies[i].Type = nodeType
	}
	return g
}

func TestCoordinatorLifecycle(t *testing.T) {
	built := registerLifecycle(t, "lifecycle-basic")
	feed := &fakeMarketData{}
	c := New(&recordingBroker{}, nil, feed, nil)

	require.NoError(t, c.Start(context.Background(), lifecycleGraph("lifecycle-basic")))
	assert.True(t, c.Running())
	assert.Equal(t, []string{"AAPL", "MSFT"}, feed.subscribed, "union of symbols, deduplicated")
	for id, s := range built {
		assert.True(t, s.started, "strategy %s started", id)
	}

	require.NoError(t, c.Stop())
	assert.False(t, c.Running())
	assert.Equal(t, []string{"MSFT", "AAPL"}, feed.unsubscribed, "released in reverse order")
	for id, s := range built {
		assert.True(t, s.stopped, "strategy %s stopped", id)
	}
}

func TestCoordinatorRejectsSecondStart(t *testing.T) {
	registerLifecycle(t, "lifecycle-double")
	c := New(&recordingBroker{}, nil, &fakeMarketData{}, nil)

	require.NoError(t, c.Start(context.Background(), lifecycleGraph("lifecycle-double")))
	defer c.Stop()

	err := c.Start(context.Background(), lifecycleGraph("lifecycle-double"))
	assert.Error(t, err)
}

func TestCoordinatorSubscriptionFailureRollsBack(t *testing.T) {
	registerLifecycle(t, "lifecycle-feedfail")
	feed := &fakeMarketData{failOn: "MSFT"}
	c := New(&recordingBroker{}, nil, feed, nil)

	err := c.Start(context.Background(), lifecycleGraph("lifecycle-feedfail"))
	require.Error(t, err)
	assert.False(t, c.Running())
	assert.Equal(t, []string{"AAPL"}, feed.subscribed)
	assert.Equal(t, []string{"AAPL"}, feed.unsubscribed, "acquired subscription released")
}

func TestCoordinatorStrategyStartFailureStopsStarted(t *testing.T) {
	var mu sync.Mutex
	built := make(map[string]*lifecycleStrategy)
	RegisterStrategy("lifecycle-startfail", func(node NodeConfig, _ broker.Broker) (Strategy, error) {
		s := &lifecycleStrategy{}
		if node.ID == "mean-rev" {
			s.startErr = errors.New("warmup failed")
		}
		mu.Lock()
		built[node.ID] = s
		mu.Unlock()
		return s, nil
	})

	feed := &fakeMarketData{}
	c := New(&recordingBroker{}, nil, feed, nil)

	err := c.Start(context.Background(), lifecycleGraph("lifecycle-startfail"))
	require.Error(t, err)
	assert.False(t, c.Running())
	assert.Len(t, feed.unsubscribed, len(feed.subscribed), "all subscriptions released")
}

func TestCoordinatorUnknownStrategyType(t *testing.T) {
	c := New(&recordingBroker{}, nil, &fakeMarketData{}, nil)
	g := lifecycleGraph("never-registered")

	err := c.Start(context.Background(), g)
	assert.Error(t, err)
	assert.False(t, c.Running())
}

func TestStopWithoutStartIsNoop(t *testing.T) {
	c := New(&recordingBroker{}, nil, &fakeMarketData{}, nil)
	assert.NoError(t, c.Stop())
}
