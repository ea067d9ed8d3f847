// Package safety holds the trading halt latch and the alert router that
// can trip it.
package safety

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"pilot/internal/logger"
)

// KillSwitchState is the persisted latch record. TriggeredAt and the
// acknowledgement fields are nil until the corresponding transition.
type KillSwitchState struct {
	Engaged        bool           `json:"engaged"`
	TriggeredAt    *time.Time     `json:"triggered_at,omitempty"`
	AlertTitle     string         `json:"alert_title,omitempty"`
	AlertMessage   string         `json:"alert_message,omitempty"`
	Severity       string         `json:"severity,omitempty"`
	Context        map[string]any `json:"context,omitempty"`
	Acknowledged   bool           `json:"acknowledged"`
	AcknowledgedBy string         `json:"acknowledged_by,omitempty"`
	AcknowledgedAt *time.Time     `json:"acknowledged_at,omitempty"`
	Note           string         `json:"note,omitempty"`
}

// KillSwitch is a one-way halt latch. Engaging is automatic; clearing
// requires an operator identity.
type KillSwitch struct {
	mu        sync.Mutex
	state     KillSwitchState
	statePath string
	now       func() time.Time
}

// NewKillSwitch loads any persisted state, so an engaged switch survives
// a restart.
func NewKillSwitch(statePath string) (*KillSwitch, error) {
	k := &KillSwitch{statePath: statePath, now: time.Now}
	data, err := os.ReadFile(statePath)
	if err != nil {
		if os.IsNotExist(err) {
			return k, nil
		}
		return nil, fmt.Errorf("safety: read kill switch state: %w", err)
	}
	if err := json.Unmarshal(data, &k.state); err != nil {
		return nil, fmt.Errorf("safety: parse kill switch state: %w", err)
	}
	return k, nil
}

// SetClock overrides the timestamp source.
func (k *KillSwitch) SetClock(now func() time.Time) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.now = now
}

// Engage trips the latch with the triggering alert. Returns false without
// touching state when already engaged: the first trigger wins.
func (k *KillSwitch) Engage(alert AlertMessage) bool {
	k.mu.Lock()
	if k.state.Engaged {
		k.mu.Unlock()
		return false
	}
	ts := k.now().UTC()
	k.state = KillSwitchState{
		Engaged:      true,
		TriggeredAt:  &ts,
		AlertTitle:   alert.Title,
		AlertMessage: alert.Message,
		Severity:     string(alert.Severity),
		Context:      alert.Context,
	}
	snapshot := k.state
	k.mu.Unlock()

	k.persist(snapshot)
	logger.Errorf("kill switch engaged: %s", alert.Title)
	return true
}

// Clear releases the latch. The acknowledging identity is mandatory; the
// note is kept with the acknowledgement timestamp.
func (k *KillSwitch) Clear(acknowledgedBy, note string) bool {
	if acknowledgedBy == "" {
		return false
	}
	k.mu.Lock()
	if !k.state.Engaged {
		k.mu.Unlock()
		return false
	}
	ts := k.now().UTC()
	k.state.Engaged = false
	k.state.Acknowledged = true
	k.state.AcknowledgedBy = acknowledgedBy
	k.state.AcknowledgedAt = &ts
	k.state.Note = note
	snapshot := k.state
	k.mu.Unlock()

	k.persist(snapshot)
	logger.Infof("kill switch cleared by %s", acknowledgedBy)
	return true
}

// Engaged reports whether trading is halted.
func (k *KillSwitch) Engaged() bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.state.Engaged
}

// Status returns a copy of the full latch state.
func (k *KillSwitch) Status() KillSwitchState {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.state
}

func (k *KillSwitch) persist(state KillSwitchState) {
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		logger.Errorf("encode kill switch state: %v", err)
		return
	}
	if err := os.MkdirAll(filepath.Dir(k.statePath), 0o755); err != nil {
		logger.Errorf("create state dir: %v", err)
		return
	}
	if err := os.WriteFile(k.statePath, data, 0o644); err != nil {
		logger.Errorf("write kill switch state: %v", err)
	}
}
