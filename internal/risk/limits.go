package risk

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/shopspring/decimal"

	"pilot/internal/logger"
)

// SymbolLimit caps trading activity for one symbol. Zero values mean
// "no limit of that kind".
type SymbolLimit struct {
	MaxPositionSize        int64           `json:"max_position_size,omitempty"`
	MaxOrderExposure       decimal.Decimal `json:"max_order_exposure,omitempty"`
	MaxDailyLoss           decimal.Decimal `json:"max_daily_loss,omitempty"`
	MaxCorrelationExposure decimal.Decimal `json:"max_correlation_exposure,omitempty"`
}

type limitDocument struct {
	DefaultLimits *SymbolLimit           `json:"default_limits,omitempty"`
	SymbolLimits  map[string]SymbolLimit `json:"symbol_limits"`
}

// SymbolLimitRegistry holds per-symbol limits with a default fallback.
// Reads vastly outnumber writes, so lookups take an RLock and reloads swap
// the maps wholesale.
type SymbolLimitRegistry struct {
	mu       sync.RWMutex
	defaults *SymbolLimit
	symbols  map[string]SymbolLimit

	path    string
	watcher *fsnotify.Watcher
	done    chan struct{}
}

// NewSymbolLimitRegistry builds a registry, loading path when it exists.
func NewSymbolLimitRegistry(path string) *SymbolLimitRegistry {
	r := &SymbolLimitRegistry{
		symbols: make(map[string]SymbolLimit),
		path:    path,
	}
	if path != "" {
		if err := r.reload(); err != nil {
			logger.Warnf("risk: loading symbol limits failed, starting empty: %v", err)
		}
	}
	return r
}

// SetDefaultLimit installs the fallback limit applied to symbols without an
// explicit entry.
func (r *SymbolLimitRegistry) SetDefaultLimit(limit SymbolLimit) {
	r.mu.Lock()
	r.defaults = &limit
	r.mu.Unlock()
}

// SetSymbolLimit installs a limit for one symbol.
func (r *SymbolLimitRegistry) SetSymbolLimit(symbol string, limit SymbolLimit) {
	r.mu.Lock()
	r.symbols[symbol] = limit
	r.mu.Unlock()
}

// Limit returns the effective limit for symbol: the symbol's own entry,
// else the default, else nil.
func (r *SymbolLimitRegistry) Limit(symbol string) *SymbolLimit {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if limit, ok := r.symbols[symbol]; ok {
		return &limit
	}
	if r.defaults != nil {
		cp := *r.defaults
		return &cp
	}
	return nil
}

// DefaultLimit returns the configured fallback, nil when unset.
func (r *SymbolLimitRegistry) DefaultLimit() *SymbolLimit {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.defaults == nil {
		return nil
	}
	cp := *r.defaults
	return &cp
}

// Save persists the registry to its configured path.
func (r *SymbolLimitRegistry) Save() error {
	if r.path == "" {
		return fmt.Errorf("risk: symbol limit registry has no path")
	}
	r.mu.RLock()
	doc := limitDocument{
		DefaultLimits: r.defaults,
		SymbolLimits:  make(map[string]SymbolLimit, len(r.symbols)),
	}
	for symbol, limit := range r.symbols {
		doc.SymbolLimits[symbol] = limit
	}
	r.mu.RUnlock()

	payload, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("risk: marshal symbol limits: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(r.path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(r.path, payload, 0o644)
}

func (r *SymbolLimitRegistry) reload() error {
	payload, err := os.ReadFile(r.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	var doc limitDocument
	if err := json.Unmarshal(payload, &doc); err != nil {
		return fmt.Errorf("risk: parse symbol limits: %w", err)
	}
	symbols := doc.SymbolLimits
	if symbols == nil {
		symbols = make(map[string]SymbolLimit)
	}
	r.mu.Lock()
	r.defaults = doc.DefaultLimits
	r.symbols = symbols
	r.mu.Unlock()
	return nil
}

// Watch reloads the registry whenever its backing file changes, so limits
// can be tightened without restarting the process. Stop with StopWatching.
func (r *SymbolLimitRegistry) Watch() error {
	if r.path == "" {
		return fmt.Errorf("risk: cannot watch registry without a path")
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := watcher.Add(filepath.Dir(r.path)); err != nil {
		watcher.Close()
		return err
	}
	r.watcher = watcher
	r.done = make(chan struct{})
	go func() {
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Name != r.path {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				if err := r.reload(); err != nil {
					logger.Warnf("risk: symbol limit reload failed: %v", err)
				} else {
					logger.Infof("risk: symbol limits reloaded from %s", r.path)
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.Warnf("risk: symbol limit watcher error: %v", err)
			case <-r.done:
				return
			}
		}
	}()
	return nil
}

// StopWatching tears down the file watcher started by Watch.
func (r *SymbolLimitRegistry) StopWatching() {
	if r.watcher == nil {
		return
	}
	close(r.done)
	r.watcher.Close()
	r.watcher = nil
}
