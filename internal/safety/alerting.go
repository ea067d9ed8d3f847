package safety

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"pilot/internal/bus"
	"pilot/internal/events"
	"pilot/internal/logger"
)

type Severity string

const (
	SeverityInfo     Severity = "INFO"
	SeverityWarning  Severity = "WARNING"
	SeverityCritical Severity = "CRITICAL"
)

// AlertMessage is a dispatched alert: sent to the transport, broadcast on
// the bus, and appended to history.
type AlertMessage struct {
	Severity  Severity       `json:"severity"`
	Title     string         `json:"title"`
	Message   string         `json:"message"`
	Timestamp time.Time      `json:"timestamp"`
	Context   map[string]any `json:"context,omitempty"`
}

// Transport delivers alerts to an external channel.
type Transport interface {
	Send(alert AlertMessage) error
}

// LogTransport writes alerts to the process log.
type LogTransport struct{}

func (LogTransport) Send(alert AlertMessage) error {
	switch alert.Severity {
	case SeverityCritical:
		logger.Errorf("ALERT [%s] %s: %s", alert.Severity, alert.Title, alert.Message)
	case SeverityWarning:
		logger.Warnf("ALERT [%s] %s: %s", alert.Severity, alert.Title, alert.Message)
	default:
		logger.Infof("ALERT [%s] %s: %s", alert.Severity, alert.Title, alert.Message)
	}
	return nil
}

// RouterConfig tunes the two alert conditions.
type RouterConfig struct {
	RateLimitThreshold int
	RateLimitWindow    time.Duration
	RateLimitCooldown  time.Duration
	StaleAfter         time.Duration
	CheckInterval      time.Duration
}

func DefaultRouterConfig() RouterConfig {
	return RouterConfig{
		RateLimitThreshold: 3,
		RateLimitWindow:    30 * time.Second,
		RateLimitCooldown:  5 * time.Minute,
		StaleAfter:         2 * time.Minute,
		CheckInterval:      15 * time.Second,
	}
}

func (c RouterConfig) withDefaults() RouterConfig {
	def := DefaultRouterConfig()
	if c.RateLimitThreshold <= 0 {
		c.RateLimitThreshold = def.RateLimitThreshold
	}
	if c.RateLimitWindow <= 0 {
		c.RateLimitWindow = def.RateLimitWindow
	}
	if c.RateLimitCooldown <= 0 {
		c.RateLimitCooldown = def.RateLimitCooldown
	}
	if c.StaleAfter <= 0 {
		c.StaleAfter = def.StaleAfter
	}
	if c.CheckInterval <= 0 {
		c.CheckInterval = def.CheckInterval
	}
	return c
}

// Router derives alerts from diagnostic telemetry: sliding-window
// rate-limit breaches and staleness of periodic refresh heartbeats.
// CRITICAL alerts also engage the attached kill switch.
type Router struct {
	mu          sync.Mutex
	config      RouterConfig
	transport   Transport
	bus         *bus.Bus
	killSwitch  *KillSwitch
	historyPath string
	now         func() time.Time

	rateEvents    map[string][]time.Time
	lastRateAlert map[string]time.Time
	lastRefresh   map[string]time.Time
	staleAlerted  map[string]bool

	diagSub *bus.Subscription
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

func NewRouter(config RouterConfig, transport Transport, eventBus *bus.Bus, killSwitch *KillSwitch, historyPath string) *Router {
	if transport == nil {
		transport = LogTransport{}
	}
	return &Router{
		config:        config.withDefaults(),
		transport:     transport,
		bus:           eventBus,
		killSwitch:    killSwitch,
		historyPath:   historyPath,
		now:           time.Now,
		rateEvents:    make(map[string][]time.Time),
		lastRateAlert: make(map[string]time.Time),
		lastRefresh:   make(map[string]time.Time),
		staleAlerted:  make(map[string]bool),
		stopCh:        make(chan struct{}),
	}
}

// SetClock overrides the time source for windows and staleness.
func (r *Router) SetClock(now func() time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.now = now
}

// Start launches the diagnostic consumer and the staleness sweep.
func (r *Router) Start(ctx context.Context) {
	r.diagSub = r.bus.Subscribe(bus.TopicDiagnostic)
	r.wg.Add(2)
	go r.consumeLoop()
	go r.sweepLoop()
}

// Stop cancels both goroutines and waits for them.
func (r *Router) Stop() {
	close(r.stopCh)
	if r.diagSub != nil {
		r.diagSub.Close()
	}
	r.wg.Wait()
}

func (r *Router) consumeLoop() {
	defer r.wg.Done()
	for {
		payload, ok := r.diagSub.Next()
		if !ok {
			return
		}
		diag, ok := payload.(events.DiagnosticEvent)
		if !ok {
			continue
		}
		r.Observe(diag)
	}
}

func (r *Router) sweepLoop() {
	defer r.wg.Done()
	ticker := time.NewTicker(r.config.CheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-r.stopCh:
			return
		case <-ticker.C:
			r.SweepStale()
		}
	}
}

// Observe routes one diagnostic event through both alert conditions.
// Exported so tests can drive the router without the bus.
func (r *Router) Observe(diag events.DiagnosticEvent) {
	switch {
	case strings.HasSuffix(diag.Message, ".rate_limited"):
		r.observeRateLimited(diag)
	case strings.HasSuffix(diag.Message, ".screen_refresh"):
		r.observeRefresh(strings.TrimSuffix(diag.Message, ".screen_refresh"))
	}
}

func (r *Router) observeRateLimited(diag events.DiagnosticEvent) {
	key := diag.Message
	if id, ok := diag.Context["stop_id"].(string); ok && id != "" {
		key = id
	} else if symbol, ok := diag.Context["symbol"].(string); ok && symbol != "" {
		key = symbol
	}

	r.mu.Lock()
	now := r.now()
	cutoff := now.Add(-r.config.RateLimitWindow)
	window := r.rateEvents[key][:0]
	for _, ts := range r.rateEvents[key] {
		if ts.After(cutoff) {
			window = append(window, ts)
		}
	}
	window = append(window, now)
	r.rateEvents[key] = window

	if len(window) < r.config.RateLimitThreshold {
		r.mu.Unlock()
		return
	}
	if last, ok := r.lastRateAlert[key]; ok && now.Sub(last) < r.config.RateLimitCooldown {
		r.mu.Unlock()
		return
	}
	count := len(window)
	r.lastRateAlert[key] = now
	r.rateEvents[key] = nil
	r.mu.Unlock()

	r.Dispatch(AlertMessage{
		Severity:  SeverityWarning,
		Title:     "Rate limiting detected",
		Message:   diag.Message,
		Timestamp: now.UTC(),
		Context: map[string]any{
			"key":    key,
			"count":  count,
			"window": r.config.RateLimitWindow.String(),
		},
	})
}

func (r *Router) observeRefresh(namespace string) {
	r.mu.Lock()
	now := r.now()
	r.lastRefresh[namespace] = now
	recovered := r.staleAlerted[namespace]
	delete(r.staleAlerted, namespace)
	r.mu.Unlock()

	if recovered {
		r.Dispatch(AlertMessage{
			Severity:  SeverityInfo,
			Title:     "Refresh resumed",
			Message:   namespace + " refresh resumed",
			Timestamp: now.UTC(),
			Context:   map[string]any{"namespace": namespace},
		})
	}
}

// SweepStale raises CRITICAL for every namespace whose heartbeat went
// quiet, once per outage.
func (r *Router) SweepStale() {
	r.mu.Lock()
	now := r.now()
	var stale []string
	var ages []time.Duration
	for namespace, last := range r.lastRefresh {
		if now.Sub(last) > r.config.StaleAfter && !r.staleAlerted[namespace] {
			r.staleAlerted[namespace] = true
			stale = append(stale, namespace)
			ages = append(ages, now.Sub(last))
		}
	}
	r.mu.Unlock()

	for i, namespace := range stale {
		r.Dispatch(AlertMessage{
			Severity:  SeverityCritical,
			Title:     "Refresh stalled",
			Message:   namespace + " refresh has gone stale",
			Timestamp: now.UTC(),
			Context: map[string]any{
				"namespace": namespace,
				"stale_for": ages[i].String(),
			},
		})
	}
}

// Dispatch delivers an alert: transport send, bus broadcast, history
// append, and kill-switch engagement on CRITICAL.
func (r *Router) Dispatch(alert AlertMessage) {
	if err := r.transport.Send(alert); err != nil {
		logger.Errorf("alert transport: %v", err)
	}
	if r.bus != nil {
		r.bus.Publish(bus.TopicAlert, alert)
	}
	r.appendHistory(alert)
	if alert.Severity == SeverityCritical && r.killSwitch != nil {
		if !r.killSwitch.Engage(alert) {
			logger.Warnf("kill switch already engaged, alert %q took no new action", alert.Title)
		}
	}
}

func (r *Router) appendHistory(alert AlertMessage) {
	if r.historyPath == "" {
		return
	}
	data, err := json.Marshal(alert)
	if err != nil {
		logger.Errorf("encode alert: %v", err)
		return
	}
	if err := os.MkdirAll(filepath.Dir(r.historyPath), 0o755); err != nil {
		logger.Errorf("create history dir: %v", err)
		return
	}
	f, err := os.OpenFile(r.historyPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		logger.Errorf("open alert history: %v", err)
		return
	}
	defer f.Close()
	if _, err := f.Write(append(data, '\n')); err != nil {
		logger.Errorf("append alert history: %v", err)
	}
}
