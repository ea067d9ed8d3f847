package execution

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"pilot/internal/broker"
	"pilot/internal/bus"
	"pilot/internal/events"
	"pilot/internal/logger"
	"pilot/internal/model"
)

// OCOPair tracks both legs of a one-cancels-other group.
type OCOPair struct {
	GroupID      string    `json:"group_id"`
	OrderAID     int64     `json:"order_a_id"`
	OrderBID     int64     `json:"order_b_id"`
	Symbol       string    `json:"symbol"`
	Quantity     int64     `json:"quantity"`
	OrderAFilled bool      `json:"order_a_filled"`
	OrderBFilled bool      `json:"order_b_filled"`
	Cancelled    bool      `json:"cancelled"`
	CreatedAt    time.Time `json:"created_at"`
}

type ocoDocument struct {
	Pairs []*OCOPair `json:"pairs"`
}

// OCOManager places order pairs and cancels the surviving leg when the
// other fills. Resolved pairs leave the reverse index, which makes a
// duplicate fill event a no-op.
type OCOManager struct {
	mu        sync.Mutex
	broker    broker.Broker
	bus       *bus.Bus
	statePath string

	pairs        map[string]*OCOPair
	placing      map[string]bool
	orderToGroup map[int64]string
	now          func() time.Time

	execSub *bus.Subscription
	wg      sync.WaitGroup
}

func NewOCOManager(orderBroker broker.Broker, eventBus *bus.Bus, statePath string) (*OCOManager, error) {
	m := &OCOManager{
		broker:       orderBroker,
		bus:          eventBus,
		statePath:    statePath,
		pairs:        make(map[string]*OCOPair),
		placing:      make(map[string]bool),
		orderToGroup: make(map[int64]string),
		now:          time.Now,
	}
	if err := m.load(); err != nil {
		return nil, err
	}
	return m, nil
}

// Start runs the execution-event loop until Stop.
func (m *OCOManager) Start(ctx context.Context) {
	m.execSub = m.bus.Subscribe(bus.TopicExecution)
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		for {
			payload, ok := m.execSub.Next()
			if !ok {
				return
			}
			exec, ok := payload.(events.ExecutionEvent)
			if !ok {
				continue
			}
			m.onFill(ctx, exec)
		}
	}()
}

func (m *OCOManager) Stop() {
	if m.execSub != nil {
		m.execSub.Close()
	}
	m.wg.Wait()
}

// Place submits both legs and starts tracking the pair. An empty group
// id gets a generated one.
func (m *OCOManager) Place(ctx context.Context, req model.OCOOrderRequest) (*OCOPair, error) {
	if req.GroupID == "" {
		req.GroupID = model.NewGroupID()
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}
	// Reserve the group id before touching the broker so a concurrent
	// Place with the same id cannot pass the duplicate check.
	m.mu.Lock()
	if _, exists := m.pairs[req.GroupID]; exists || m.placing[req.GroupID] {
		m.mu.Unlock()
		return nil, fmt.Errorf("execution: oco group %q already exists", req.GroupID)
	}
	m.placing[req.GroupID] = true
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		delete(m.placing, req.GroupID)
		m.mu.Unlock()
	}()

	resultA, err := m.broker.PlaceOrder(ctx, req.OrderA)
	if err != nil {
		return nil, fmt.Errorf("execution: place oco leg a: %w", err)
	}
	resultB, err := m.broker.PlaceOrder(ctx, req.OrderB)
	if err != nil {
		// Leg A is live without its sibling. Try to take it down.
		if canceller, ok := m.broker.(broker.OrderCanceller); ok {
			if cancelErr := canceller.CancelOrder(ctx, resultA.OrderID); cancelErr != nil {
				logger.Errorf("cancel orphaned oco leg %d: %v", resultA.OrderID, cancelErr)
			}
		}
		return nil, fmt.Errorf("execution: place oco leg b: %w", err)
	}

	pair := &OCOPair{
		GroupID:   req.GroupID,
		OrderAID:  resultA.OrderID,
		OrderBID:  resultB.OrderID,
		Symbol:    req.OrderA.Contract.Symbol,
		Quantity:  req.OrderA.Quantity,
		CreatedAt: m.now().UTC(),
	}

	m.mu.Lock()
	m.pairs[pair.GroupID] = pair
	m.orderToGroup[pair.OrderAID] = pair.GroupID
	m.orderToGroup[pair.OrderBID] = pair.GroupID
	doc := m.documentLocked()
	m.mu.Unlock()

	m.persist(doc)
	logger.Infof("oco group %s placed: orders %d / %d on %s", pair.GroupID, pair.OrderAID, pair.OrderBID, pair.Symbol)
	return pair, nil
}

// Pair returns a copy of a tracked pair.
func (m *OCOManager) Pair(groupID string) (OCOPair, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	pair, ok := m.pairs[groupID]
	if !ok {
		return OCOPair{}, false
	}
	return *pair, true
}

// ActivePairs returns every unresolved pair.
func (m *OCOManager) ActivePairs() []OCOPair {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]OCOPair, 0, len(m.pairs))
	for _, pair := range m.pairs {
		out = append(out, *pair)
	}
	return out
}

func (m *OCOManager) onFill(ctx context.Context, exec events.ExecutionEvent) {
	m.mu.Lock()
	groupID, tracked := m.orderToGroup[exec.OrderID]
	if !tracked {
		m.mu.Unlock()
		return
	}
	pair := m.pairs[groupID]
	siblingID := pair.OrderBID
	if exec.OrderID == pair.OrderAID {
		pair.OrderAFilled = true
	} else {
		pair.OrderBFilled = true
		siblingID = pair.OrderAID
	}
	pair.Cancelled = true
	delete(m.orderToGroup, pair.OrderAID)
	delete(m.orderToGroup, pair.OrderBID)
	delete(m.pairs, groupID)
	doc := m.documentLocked()
	m.mu.Unlock()

	if canceller, ok := m.broker.(broker.OrderCanceller); ok {
		if err := canceller.CancelOrder(ctx, siblingID); err != nil {
			logger.Errorf("cancel oco sibling %d: %v", siblingID, err)
		}
	} else {
		logger.Warnf("broker cannot cancel, oco sibling %d left working", siblingID)
	}
	m.persist(doc)
	logger.Infof("oco group %s resolved: order %d filled, sibling %d cancelled", groupID, exec.OrderID, siblingID)
}

func (m *OCOManager) documentLocked() ocoDocument {
	doc := ocoDocument{Pairs: make([]*OCOPair, 0, len(m.pairs))}
	for _, pair := range m.pairs {
		copied := *pair
		doc.Pairs = append(doc.Pairs, &copied)
	}
	return doc
}

func (m *OCOManager) persist(doc ocoDocument) {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		logger.Errorf("encode oco state: %v", err)
		return
	}
	if err := os.MkdirAll(filepath.Dir(m.statePath), 0o755); err != nil {
		logger.Errorf("create state dir: %v", err)
		return
	}
	if err := os.WriteFile(m.statePath, data, 0o644); err != nil {
		logger.Errorf("write oco state: %v", err)
	}
}

func (m *OCOManager) load() error {
	data, err := os.ReadFile(m.statePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("execution: read oco state: %w", err)
	}
	var doc ocoDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("execution: parse oco state: %w", err)
	}
	for _, pair := range doc.Pairs {
		m.pairs[pair.GroupID] = pair
		m.orderToGroup[pair.OrderAID] = pair.GroupID
		m.orderToGroup[pair.OrderBID] = pair.GroupID
	}
	return nil
}
