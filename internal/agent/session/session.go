package session

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/opticrew/fieldsync/internal/agent/checklist"
	"github.com/opticrew/fieldsync/internal/agent/domain"
	"github.com/opticrew/fieldsync/internal/agent/lifecycle"
	"github.com/opticrew/fieldsync/internal/agent/notify"
	"github.com/opticrew/fieldsync/internal/agent/store"
	"github.com/opticrew/fieldsync/internal/agent/syncqueue"
)

// Backend is what the session needs from the backend of record
type Backend interface {
	GetJob(ctx context.Context, jobID string) (*domain.Job, error)
	ListJobsByAssignee(ctx context.Context, userID string) ([]*domain.Job, error)
	PushOperation(ctx context.Context, op *domain.QueuedOperation) error
}

// Config holds session configuration
type Config struct {
	UserID  string
	DB      *sqlx.DB
	Backend Backend
	Logger  *slog.Logger

	ChecklistValidity  time.Duration
	ReattestOnRevision bool
	PollInterval       time.Duration
	DrainInterval      time.Duration
	DrainMaxAttempts   int
	DrainTimeout       time.Duration
	Now                func() time.Time
}

// Session owns the per-user component instances for one signed-in crew
// member. Created at session start, closed at logout; nothing here is
// ambient global state.
type Session struct {
	UserID   string
	Store    *store.Store
	Queue    *syncqueue.Queue
	Gate     *checklist.Gate
	Machine  *lifecycle.Machine
	Notifier *notify.Reconciler
	Drainer  *syncqueue.Drainer

	logger *slog.Logger
}

// New builds a session and wires its components together
func New(cfg *Config) (*Session, error) {
	if cfg.UserID == "" {
		return nil, fmt.Errorf("session user_id is required")
	}

	logger := cfg.Logger.With(slog.String("user_id", cfg.UserID))

	recordStore, err := store.New(cfg.DB, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open record store: %w", err)
	}

	queue := syncqueue.NewQueue(recordStore, cfg.Now, logger)

	gate := checklist.NewGate(&checklist.Config{
		Store:    recordStore,
		Queue:    queue,
		Validity: cfg.ChecklistValidity,
		Now:      cfg.Now,
		Logger:   logger,
	})

	machine := lifecycle.NewMachine(&lifecycle.Config{
		Store:              recordStore,
		Gate:               gate,
		Queue:              queue,
		Fetcher:            cfg.Backend,
		ReattestOnRevision: cfg.ReattestOnRevision,
		Now:                cfg.Now,
		Logger:             logger,
	})

	notifier := notify.NewReconciler(&notify.Config{
		Store:    recordStore,
		Source:   cfg.Backend,
		Cache:    machine,
		UserID:   cfg.UserID,
		Interval: cfg.PollInterval,
		Now:      cfg.Now,
		Logger:   logger,
	})

	drainer := syncqueue.NewDrainer(&syncqueue.DrainerConfig{
		Queue:          queue,
		Sender:         cfg.Backend,
		Logger:         logger,
		MaxAttempts:    cfg.DrainMaxAttempts,
		AttemptTimeout: cfg.DrainTimeout,
		Interval:       cfg.DrainInterval,
	})

	return &Session{
		UserID:   cfg.UserID,
		Store:    recordStore,
		Queue:    queue,
		Gate:     gate,
		Machine:  machine,
		Notifier: notifier,
		Drainer:  drainer,
		logger:   logger,
	}, nil
}

// Start launches the background loops (notification polling, queue drain)
func (s *Session) Start(ctx context.Context) {
	s.Notifier.Start(ctx)
	s.Drainer.Start(ctx)
	s.logger.Info("Session started")
}

// Close stops the background loops. The local store and its queued
// operations survive; a later session for the same user picks them up.
func (s *Session) Close() {
	s.Notifier.Stop()
	s.Drainer.Stop()
	s.logger.Info("Session closed")
}
