// Package store is the durable record of everything Argus does:
// sessions, stage runs, pipelines and their executions, routing
// assignments, remembered facts. Reads are synchronous; run-history
// writes go through an async queue so stage latency never waits on the
// database.
package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/arguslabs/argus/internal/circuitbreaker"
	"github.com/arguslabs/argus/internal/metrics"
)

// Config holds connection settings. Driver stays postgres in every
// deployment; sqlite exists for tests.
type Config struct {
	Driver          string        `mapstructure:"driver"`
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Database        string        `mapstructure:"database"`
	SSLMode         string        `mapstructure:"ssl_mode"`
	MaxConnections  int           `mapstructure:"max_connections"`
	IdleConnections int           `mapstructure:"idle_connections"`
	MaxLifetime     time.Duration `mapstructure:"max_lifetime"`
}

func (c *Config) dsn() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

type writeKind string

const (
	writeRun         writeKind = "run"
	writeSession     writeKind = "session"
	writePipelineRun writeKind = "pipeline_run"
	writeMemory      writeKind = "memory"
)

type writeRequest struct {
	kind     writeKind
	data     any
	callback func(error)
}

// Store wraps the database behind a circuit breaker and a bounded async
// write queue. When the queue is full the write happens synchronously
// on the caller's goroutine rather than being dropped.
type Store struct {
	db     *circuitbreaker.DatabaseWrapper
	logger *zap.Logger

	writeQueue chan writeRequest
	workers    int
	stopCh     chan struct{}
	workerWg   sync.WaitGroup
	closeOnce  sync.Once
}

const (
	defaultQueueSize = 1000
	defaultWorkers   = 4
)

// Open connects, verifies the connection, ensures the schema and starts
// the write workers.
func Open(cfg Config, logger *zap.Logger) (*Store, error) {
	if cfg.Driver == "" {
		cfg.Driver = "postgres"
	}
	if cfg.MaxConnections == 0 {
		cfg.MaxConnections = 25
	}
	if cfg.IdleConnections == 0 {
		cfg.IdleConnections = 5
	}
	if cfg.MaxLifetime == 0 {
		cfg.MaxLifetime = 5 * time.Minute
	}
	if cfg.SSLMode == "" {
		cfg.SSLMode = "require"
	}

	db, err := sqlx.Open(cfg.Driver, cfg.dsn())
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxConnections)
	db.SetMaxIdleConns(cfg.IdleConnections)
	db.SetConnMaxLifetime(cfg.MaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := New(db, logger)
	if err := s.EnsureSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}

	logger.Info("Store initialized",
		zap.String("host", cfg.Host),
		zap.String("database", cfg.Database),
		zap.Int("workers", s.workers))
	return s, nil
}

// New wraps an existing handle. Tests hand in sqlite; Open hands in
// postgres. Write workers start immediately.
func New(db *sqlx.DB, logger *zap.Logger) *Store {
	s := &Store{
		db:         circuitbreaker.NewDatabaseWrapper(db, logger),
		logger:     logger,
		writeQueue: make(chan writeRequest, defaultQueueSize),
		workers:    defaultWorkers,
		stopCh:     make(chan struct{}),
	}
	s.startWorkers()
	return s
}

func (s *Store) startWorkers() {
	for i := 0; i < s.workers; i++ {
		s.workerWg.Add(1)
		go s.writeWorker(i)
	}
}

func (s *Store) writeWorker(id int) {
	defer s.workerWg.Done()
	s.logger.Debug("Write worker started", zap.Int("worker_id", id))

	for {
		select {
		case <-s.stopCh:
			s.drainQueue()
			s.logger.Debug("Write worker stopped", zap.Int("worker_id", id))
			return
		case req := <-s.writeQueue:
			metrics.DBWriteQueueDepth.Set(float64(len(s.writeQueue)))
			s.processWrite(req)
		}
	}
}

func (s *Store) processWrite(req writeRequest) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var err error
	switch req.kind {
	case writeRun:
		if run, ok := req.data.(*RunRecord); ok {
			err = s.InsertRun(ctx, run)
		}
	case writeSession:
		if rec, ok := req.data.(*SessionRecord); ok {
			err = s.UpsertSession(ctx, rec)
		}
	case writePipelineRun:
		if rec, ok := req.data.(*PipelineRunRecord); ok {
			err = s.InsertPipelineRun(ctx, rec)
		}
	case writeMemory:
		if rec, ok := req.data.(*MemoryRecord); ok {
			err = s.InsertMemory(ctx, rec)
		}
	}

	if req.callback != nil {
		req.callback(err)
	}
	if err != nil {
		metrics.DBWriteFailures.WithLabelValues(string(req.kind)).Inc()
		s.logger.Error("Async write failed",
			zap.String("kind", string(req.kind)),
			zap.Error(err))
	}
}

func (s *Store) drainQueue() {
	timeout := time.After(10 * time.Second)
	for {
		select {
		case req := <-s.writeQueue:
			s.processWrite(req)
		case <-timeout:
			s.logger.Warn("Timeout draining write queue",
				zap.Int("remaining", len(s.writeQueue)))
			return
		default:
			return
		}
	}
}

func (s *Store) queue(kind writeKind, data any, callback func(error)) {
	req := writeRequest{kind: kind, data: data, callback: callback}
	select {
	case s.writeQueue <- req:
		metrics.DBWriteQueueDepth.Set(float64(len(s.writeQueue)))
	default:
		metrics.DBWritesDropped.Inc()
		s.logger.Warn("Write queue full, writing synchronously",
			zap.String("kind", string(kind)))
		s.processWrite(req)
	}
}

// QueueRun persists a stage run without blocking the stage loop.
func (s *Store) QueueRun(run *RunRecord, callback func(error)) {
	s.queue(writeRun, run, callback)
}

// QueueSessionSnapshot persists the session row asynchronously.
func (s *Store) QueueSessionSnapshot(rec *SessionRecord, callback func(error)) {
	s.queue(writeSession, rec, callback)
}

// QueuePipelineRun persists a finished pipeline execution.
func (s *Store) QueuePipelineRun(rec *PipelineRunRecord, callback func(error)) {
	s.queue(writePipelineRun, rec, callback)
}

// QueueMemory persists a remembered fact.
func (s *Store) QueueMemory(rec *MemoryRecord, callback func(error)) {
	s.queue(writeMemory, rec, callback)
}

// Ping verifies connectivity through the breaker.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Wrapper exposes the breaker-wrapped handle for health checks.
func (s *Store) Wrapper() *circuitbreaker.DatabaseWrapper { return s.db }

// Close stops the workers, drains what it can and closes the pool.
func (s *Store) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.logger.Info("Shutting down store")
		close(s.stopCh)
		s.workerWg.Wait()
		err = s.db.Close()
	})
	return err
}

// rebind adapts ? placeholders to the active driver.
func (s *Store) rebind(query string) string {
	return s.db.DB().Rebind(query)
}
