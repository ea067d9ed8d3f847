// Package telemetry publishes diagnostic events to pluggable sinks.
package telemetry

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"pilot/internal/bus"
	"pilot/internal/events"
	"pilot/internal/logger"
)

// Sink receives every emitted diagnostic event.
type Sink interface {
	Emit(event events.DiagnosticEvent)
}

// LogSink writes telemetry to the process logger.
type LogSink struct{}

func (LogSink) Emit(event events.DiagnosticEvent) {
	switch event.Level {
	case "ERROR":
		logger.Errorw(event.Message, event.Context)
	case "WARNING":
		logger.Warnw(event.Message, event.Context)
	default:
		logger.Infow(event.Message, event.Context)
	}
}

// BusSink forwards telemetry onto the diagnostic topic.
type BusSink struct {
	Bus *bus.Bus
}

func (s BusSink) Emit(event events.DiagnosticEvent) {
	s.Bus.Publish(bus.TopicDiagnostic, event)
}

// FileSink appends telemetry as JSON lines. Write failures are logged and
// swallowed; telemetry must never take the trading path down.
type FileSink struct {
	mu   sync.Mutex
	path string
}

func NewFileSink(path string) (*FileSink, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	return &FileSink{path: path}, nil
}

func (s *FileSink) Emit(event events.DiagnosticEvent) {
	payload, err := json.Marshal(event)
	if err != nil {
		logger.Warnf("telemetry: marshal failed: %v", err)
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		logger.Warnf("telemetry: open %s failed: %v", s.path, err)
		return
	}
	defer f.Close()
	if _, err := f.Write(append(payload, '\n')); err != nil {
		logger.Warnf("telemetry: append to %s failed: %v", s.path, err)
	}
}

// Reporter fans diagnostic messages out to its sinks.
type Reporter struct {
	sinks []Sink
}

// NewReporter builds a reporter; with no sinks it falls back to LogSink.
func NewReporter(sinks ...Sink) *Reporter {
	if len(sinks) == 0 {
		sinks = []Sink{LogSink{}}
	}
	return &Reporter{sinks: sinks}
}

func (r *Reporter) Info(message string, context map[string]any) {
	r.emit("INFO", message, context)
}

func (r *Reporter) Warning(message string, context map[string]any) {
	r.emit("WARNING", message, context)
}

func (r *Reporter) Error(message string, context map[string]any) {
	r.emit("ERROR", message, context)
}

func (r *Reporter) emit(level, message string, context map[string]any) {
	event := events.DiagnosticEvent{
		Level:     level,
		Message:   message,
		Timestamp: time.Now().UTC(),
		Context:   context,
	}
	for _, sink := range r.sinks {
		sink.Emit(event)
	}
}
