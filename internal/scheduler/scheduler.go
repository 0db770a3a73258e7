// Package scheduler runs the periodic background jobs: metric snapshots and
// content counter reconciliation.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ashureev/contentpipeline/internal/domain"
	"github.com/ashureev/contentpipeline/internal/events"
	"github.com/ashureev/contentpipeline/internal/pipeline"
	"github.com/ashureev/contentpipeline/internal/shared"
	"github.com/robfig/cron/v3"
)

// ErrAlreadyStarted is returned when Start is called more than once.
var ErrAlreadyStarted = errors.New("scheduler already started")

// SnapshotSource produces metric snapshots.
type SnapshotSource interface {
	Snapshot() domain.MetricSnapshot
}

// SnapshotStore persists metric snapshots.
type SnapshotStore interface {
	SaveMetricSnapshot(ctx context.Context, snap *domain.MetricSnapshot) error
}

// Reconciler closes drift between the content counter and persisted rows.
type Reconciler interface {
	Reconcile(ctx context.Context) (pipeline.ReconcileResult, error)
}

// Options configures a Scheduler.
type Options struct {
	SnapshotInterval  time.Duration
	ReconcileInterval time.Duration
	// Retry bounds the attempts made within a single snapshot tick.
	Retry        shared.RetryPolicy
	WriteTimeout time.Duration
	NewID        func(prefix string) string
	Events       events.Publisher
	Logger       *slog.Logger
}

// Scheduler runs jobs on fixed intervals. A failed tick is logged and the
// next tick runs as scheduled; job panics are recovered.
type Scheduler struct {
	source     SnapshotSource
	store      SnapshotStore
	reconciler Reconciler
	opts       Options
	logger     *slog.Logger
	cron       *cron.Cron

	mu      sync.Mutex
	started bool
	stopped bool
	baseCtx context.Context
}

// New creates a scheduler. reconciler may be nil to disable reconciliation.
func New(source SnapshotSource, store SnapshotStore, reconciler Reconciler, opts Options) *Scheduler {
	if opts.SnapshotInterval <= 0 {
		opts.SnapshotInterval = 900 * time.Second
	}
	if opts.Retry.MaxAttempts <= 0 {
		opts.Retry.MaxAttempts = 1
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 10 * time.Second
	}
	if opts.NewID == nil {
		opts.NewID = pipeline.NewUUID
	}
	if opts.Events == nil {
		opts.Events = events.Discard
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "scheduler")

	cl := cronLogger{logger: logger}
	return &Scheduler{
		source:     source,
		store:      store,
		reconciler: reconciler,
		opts:       opts,
		logger:     logger,
		cron: cron.New(
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		baseCtx: context.Background(),
	}
}

// Start schedules the jobs and begins running them. It may be called once;
// the jobs stop when ctx is done or Stop is called.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return ErrAlreadyStarted
	}
	s.started = true
	s.baseCtx = ctx

	s.cron.Schedule(cron.Every(s.opts.SnapshotInterval), cron.FuncJob(func() {
		_ = s.SnapshotTick(s.jobContext())
	}))
	if s.reconciler != nil && s.opts.ReconcileInterval > 0 {
		s.cron.Schedule(cron.Every(s.opts.ReconcileInterval), cron.FuncJob(func() {
			_ = s.ReconcileTick(s.jobContext())
		}))
	}
	s.cron.Start()

	s.logger.Info("Scheduler started",
		"snapshot_interval", s.opts.SnapshotInterval,
		"reconcile_interval", s.opts.ReconcileInterval)

	go func() {
		<-ctx.Done()
		s.Stop()
	}()
	return nil
}

// Stop halts scheduling and waits for running jobs to finish. It is safe to call more than once.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.started || s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	s.mu.Unlock()

	<-s.cron.Stop().Done()
	s.logger.Info("Scheduler stopped")
}

func (s *Scheduler) jobContext() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.baseCtx
}

// SnapshotTick takes and persists one snapshot. Persistence failures are
// retried within the tick with backoff, then logged and returned.
func (s *Scheduler) SnapshotTick(ctx context.Context) error {
	snap := s.source.Snapshot()
	snap.ID = s.opts.NewID("snap")

	err := shared.Retry(ctx, s.opts.Retry, "save_snapshot", isUnavailable, func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, s.opts.WriteTimeout)
		defer cancel()
		return s.store.SaveMetricSnapshot(ctx, &snap)
	})
	if err != nil {
		s.logger.Error("Snapshot tick failed, will retry next tick", "snapshot_id", snap.ID, "error", err)
		return fmt.Errorf("snapshot tick: %w", err)
	}

	s.logger.Info("Metric snapshot saved",
		"snapshot_id", snap.ID,
		"total_content", snap.TotalContent,
		"active_agents", snap.ActiveAgents)
	s.opts.Events.Publish(events.Event{Type: events.SnapshotSaved, RecordID: snap.ID, Timestamp: snap.Timestamp})
	return nil
}

// ReconcileTick runs one counter reconciliation.
func (s *Scheduler) ReconcileTick(ctx context.Context) error {
	if s.reconciler == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, s.opts.WriteTimeout)
	defer cancel()

	res, err := s.reconciler.Reconcile(ctx)
	if err != nil {
		s.logger.Error("Reconcile tick failed", "error", err)
		return fmt.Errorf("reconcile tick: %w", err)
	}
	s.logger.Debug("Reconcile tick completed", "counted", res.Counted, "counter", res.Counter, "in_flight", res.InFlight, "raised", res.Raised)
	return nil
}

func isUnavailable(err error) bool {
	return errors.Is(err, domain.ErrPersistenceUnavailable)
}

// cronLogger adapts slog to cron.Logger.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error("cron: "+msg, append([]interface{}{"error", err}, keysAndValues...)...)
}
