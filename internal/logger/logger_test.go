package logger

import (
	"bytes"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
)

func captureOutput(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	SetOutput(&buf)
	t.Cleanup(func() { SetOutput(os.Stdout) })
	return &buf
}

func TestStructuredFieldsRenderSorted(t *testing.T) {
	buf := captureOutput(t)

	Warnw("trailing_stop.rate_limited", map[string]any{
		"symbol":  "AAPL",
		"stop_id": "AAPL_7",
	})

	line := buf.String()
	assert.Contains(t, line, "level=WARN")
	assert.Contains(t, line, "msg=trailing_stop.rate_limited")
	assert.Contains(t, line, "stop_id=AAPL_7")
	assert.Contains(t, line, "symbol=AAPL")
	assert.Less(t, bytes.Index(buf.Bytes(), []byte("stop_id")), bytes.Index(buf.Bytes(), []byte("symbol")))
}

func TestStructuredNilFields(t *testing.T) {
	buf := captureOutput(t)

	Infow("portfolio.snapshot", nil)
	assert.Contains(t, buf.String(), "msg=portfolio.snapshot")
}

func TestSetLevelFiltersDebug(t *testing.T) {
	buf := captureOutput(t)
	t.Cleanup(func() { SetLevel("info") })

	SetLevel("info")
	Debugf("hidden")
	assert.Empty(t, buf.String())

	SetLevel("debug")
	Debugf("shown")
	assert.Contains(t, buf.String(), "shown")
}
