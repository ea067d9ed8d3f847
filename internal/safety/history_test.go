package safety

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTailHistoryReturnsMostRecent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "alerts.jsonl")
	r := NewRouter(RouterConfig{}, &captureTransport{}, nil, nil, path)

	base := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		r.appendHistory(AlertMessage{
			Severity:  SeverityInfo,
			Title:     "alert",
			Message:   "m",
			Timestamp: base.Add(time.Duration(i) * time.Minute),
		})
	}

	records, err := TailHistory(path, 2)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, base.Add(3*time.Minute), records[0].Timestamp)
	assert.Equal(t, base.Add(4*time.Minute), records[1].Timestamp)
}

func TestTailHistorySkipsMalformedLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "alerts.jsonl")
	content := `{"severity":"WARNING","title":"ok","message":"m","timestamp":"2026-03-02T10:00:00Z"}
not json at all
{"severity":"INFO","title":"ok2","message":"m","timestamp":"2026-03-02T10:01:00Z"}
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	records, err := TailHistory(path, 10)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "ok", records[0].Title)
	assert.Equal(t, "ok2", records[1].Title)
}

func TestTailHistoryMissingFile(t *testing.T) {
	records, err := TailHistory(filepath.Join(t.TempDir(), "missing.jsonl"), 10)
	require.NoError(t, err)
	assert.Empty(t, records)
}
