// Package journal persists every fill to an append-only SQLite trade log.
package journal

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"pilot/internal/bus"
	"pilot/internal/events"
	"pilot/internal/logger"
	"pilot/internal/model"
)

// ExecutionRecord is one journaled fill. Monetary columns are stored as
// decimal strings to avoid float round-trips.
type ExecutionRecord struct {
	ID         uint      `gorm:"primaryKey;autoIncrement"`
	OrderID    int64     `gorm:"index"`
	Symbol     string    `gorm:"index;size:32"`
	Side       string    `gorm:"size:8"`
	Quantity   int64     ``
	Price      string    `gorm:"size:64"`
	Commission string    `gorm:"size:64"`
	Timestamp  time.Time `gorm:"index"`
	CreatedAt  time.Time
}

func (ExecutionRecord) TableName() string { return "executions" }

// Store wraps the journal database.
type Store struct {
	db *gorm.DB
}

// NewStore opens (or creates) the journal at path with WAL enabled.
func NewStore(path string) (*Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("journal: database path cannot be empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("journal: create database dir: %w", err)
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&cache=shared", path)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("journal: open database: %w", err)
	}
	if err := db.AutoMigrate(&ExecutionRecord{}); err != nil {
		return nil, fmt.Errorf("journal: migrate: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(2)
	sqlDB.SetMaxIdleConns(2)
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// RecordExecution appends one fill.
func (s *Store) RecordExecution(ctx context.Context, exec events.ExecutionEvent) error {
	rec := ExecutionRecord{
		OrderID:    exec.OrderID,
		Symbol:     exec.Contract.Symbol,
		Side:       string(exec.Side),
		Quantity:   exec.Quantity,
		Price:      exec.Price.String(),
		Commission: exec.Commission.String(),
		Timestamp:  exec.Timestamp,
	}
	if err := s.db.WithContext(ctx).Create(&rec).Error; err != nil {
		return fmt.Errorf("journal: record execution: %w", err)
	}
	return nil
}

// RecentExecutions returns the newest fills, most recent first.
func (s *Store) RecentExecutions(ctx context.Context, limit int) ([]ExecutionRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	var records []ExecutionRecord
	err := s.db.WithContext(ctx).
		Order("timestamp DESC").
		Limit(limit).
		Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("journal: query executions: %w", err)
	}
	return records, nil
}

// Writer journals every fill flowing over the execution topic.
type Writer struct {
	store *Store
	sub   *bus.Subscription
	done  chan struct{}
}

// NewWriter subscribes to the execution topic and starts journaling.
func NewWriter(ctx context.Context, store *Store, eventBus *bus.Bus) *Writer {
	w := &Writer{
		store: store,
		sub:   eventBus.Subscribe(bus.TopicExecution),
		done:  make(chan struct{}),
	}
	go w.loop(ctx)
	return w
}

func (w *Writer) loop(ctx context.Context) {
	defer close(w.done)
	for {
		payload, ok := w.sub.Next()
		if !ok {
			return
		}
		exec, ok := payload.(events.ExecutionEvent)
		if !ok {
			continue
		}
		if exec.Side != model.SideBuy && exec.Side != model.SideSell {
			continue
		}
		if err := w.store.RecordExecution(ctx, exec); err != nil {
			logger.Errorf("journal fill %d: %v", exec.OrderID, err)
		}
	}
}

// Stop unsubscribes and waits for the loop to drain.
func (w *Writer) Stop() {
	w.sub.Close()
	<-w.done
}
