package telemetry

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pilot/internal/bus"
	"pilot/internal/events"
)

func TestReporterFansOutToBus(t *testing.T) {
	eventBus := bus.New()
	sub := eventBus.Subscribe(bus.TopicDiagnostic)
	defer sub.Close()

	reporter := NewReporter(BusSink{Bus: eventBus})
	reporter.Warning("trailing_stop.rate_limited", map[string]any{"symbol": "AAPL"})

	payload, ok := sub.Next()
	require.True(t, ok)
	diag := payload.(events.DiagnosticEvent)
	assert.Equal(t, "WARNING", diag.Level)
	assert.Equal(t, "trailing_stop.rate_limited", diag.Message)
	assert.Equal(t, "AAPL", diag.Context["symbol"])
	assert.False(t, diag.Timestamp.IsZero())
}

func TestFileSinkAppendsJSONLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "diag.jsonl")
	sink, err := NewFileSink(path)
	require.NoError(t, err)

	reporter := NewReporter(sink)
	reporter.Info("coordinator.order_allocation", map[string]any{"strategy_id": "s-1"})
	reporter.Error("journal.write_failed", nil)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "coordinator.order_allocation")
	assert.Contains(t, lines[1], `"level":"ERROR"`)
}
