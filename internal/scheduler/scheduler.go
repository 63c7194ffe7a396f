package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"AlertSentinel/internal/collector"
	"AlertSentinel/internal/evaluator"
	"AlertSentinel/internal/logger"
	"AlertSentinel/internal/model"
	"AlertSentinel/internal/portfolio"
	"AlertSentinel/internal/recorder"
	"AlertSentinel/internal/store"
)

const maxBackoff = 60 * time.Second

// ErrCheckRunning is returned when an alert check is requested while
// another one is in progress.
var ErrCheckRunning = errors.New("alert check already running")

// AlertRunner runs one alert evaluation pass.
type AlertRunner interface {
	Run(ctx context.Context) (evaluator.Report, error)
}

// Purger drops expired cache entries.
type Purger interface {
	Purge() int
}

// CommandStore is the part of the store chat commands use.
type CommandStore interface {
	store.AlertStore
	store.FavoriteStore
}

// Deps are the collaborators the scheduler drives.
type Deps struct {
	Evaluator AlertRunner
	Store     CommandStore
	Portfolio *portfolio.Manager
	Providers map[model.AssetClass]collector.Provider
	Recorder  recorder.Recorder
	Caches    []Purger
}

// Options configures job timing.
type Options struct {
	AlertCheck  string
	CachePurge  string
	TaskTimeout time.Duration
	MaxRetries  int
}

// Scheduler manages all cron tasks and answers chat commands.
type Scheduler struct {
	Cron *cron.Cron
	Deps
	opts Options
	log  *zap.Logger
	ctx  context.Context

	// checking serializes alert checks from cron, commands and startup.
	checking sync.Mutex

	sleep func(ctx context.Context, d time.Duration) bool
	now   func() time.Time
}

// NewScheduler creates a new Scheduler. Jobs never overlap with themselves
// and a panicking job is logged instead of killing the process.
func NewScheduler(ctx context.Context, deps Deps, opts Options, log *zap.Logger) *Scheduler {
	if deps.Recorder == nil {
		deps.Recorder = recorder.NewNoopRecorder()
	}
	cl := logger.NewCronLogger(log)
	return &Scheduler{
		Cron: cron.New(
			cron.WithSeconds(),
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		Deps:  deps,
		opts:  opts,
		log:   log,
		ctx:   ctx,
		sleep: sleepCtx,
		now:   time.Now,
	}
}

// RegisterAll registers the alert check and cache purge jobs.
func (s *Scheduler) RegisterAll() error {
	if _, err := s.Cron.AddFunc(s.opts.AlertCheck, func() { _, _ = s.RunAlertCheckNow() }); err != nil {
		return fmt.Errorf("register alert check: %w", err)
	}
	if len(s.Caches) > 0 && s.opts.CachePurge != "" {
		if _, err := s.Cron.AddFunc(s.opts.CachePurge, s.purgeCaches); err != nil {
			return fmt.Errorf("register cache purge: %w", err)
		}
	}
	return nil
}

// Start starts the cron scheduler.
func (s *Scheduler) Start() {
	s.Cron.Start()
	s.log.Info("scheduler started", zap.String("alert_check", s.opts.AlertCheck))
}

// Stop stops the cron scheduler and waits for running jobs.
func (s *Scheduler) Stop() {
	<-s.Cron.Stop().Done()
	s.log.Info("scheduler stopped")
}

// RunAlertCheckNow runs one alert pass immediately (for /check and RUN_ON_START).
// A store failure is retried with exponential backoff within the task timeout.
// Passes never overlap: while one runs, other calls return ErrCheckRunning.
func (s *Scheduler) RunAlertCheckNow() (evaluator.Report, error) {
	if !s.checking.TryLock() {
		s.log.Info("alert check skipped, previous pass still running")
		return evaluator.Report{}, ErrCheckRunning
	}
	defer s.checking.Unlock()

	ctx := s.ctx
	if s.opts.TaskTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(s.ctx, s.opts.TaskTimeout)
		defer cancel()
	}

	started := s.now()
	var (
		report   evaluator.Report
		err      error
		attempts int
	)
	for {
		attempts++
		report, err = s.Evaluator.Run(ctx)
		if err == nil || !evaluator.IsRetryable(err) || attempts > s.opts.MaxRetries {
			break
		}
		backoff := retryBackoff(attempts - 1)
		s.log.Warn("alert check failed, retrying",
			zap.Int("attempt", attempts),
			zap.Int("max_retries", s.opts.MaxRetries),
			zap.Duration("backoff", backoff),
			zap.Error(err))
		if !s.sleep(ctx, backoff) {
			err = multierr.Append(err, ctx.Err())
			break
		}
	}
	if err != nil {
		s.log.Error("alert check failed", zap.Int("attempts", attempts), zap.Error(err))
	}

	s.record(started, attempts, report, err)
	return report, err
}

func (s *Scheduler) record(started time.Time, attempts int, report evaluator.Report, runErr error) {
	rec := &recorder.RunRecord{
		RunID:     report.RunID,
		StartedAt: started,
		Duration:  s.now().Sub(started),
		Attempts:  attempts,
	}
	if rec.RunID == "" {
		rec.RunID = uuid.NewString()
	}
	var errs []string
	if runErr != nil {
		errs = append(errs, runErr.Error())
	}
	for _, p := range report.Partitions {
		rec.Alerts += p.Alerts
		rec.Triggered += p.Triggered
		rec.Notified += p.Notified
		rec.Skipped += p.Skipped
		if p.Err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", p.Class, p.Err))
		}
	}
	rec.Errors = strings.Join(errs, "; ")

	// Record even when the task context expired.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(s.ctx), 5*time.Second)
	defer cancel()
	if err := s.Recorder.RecordRun(ctx, rec); err != nil {
		s.log.Error("record alert check", zap.Error(err))
	}
}

func (s *Scheduler) purgeCaches() {
	n := 0
	for _, c := range s.Caches {
		n += c.Purge()
	}
	if n > 0 {
		s.log.Debug("purged expired prices", zap.Int("entries", n))
	}
}

// retryBackoff returns 1s·2^n capped at one minute.
func retryBackoff(n int) time.Duration {
	if n >= 6 {
		return maxBackoff
	}
	d := time.Duration(1<<uint(n)) * time.Second
	if d > maxBackoff {
		return maxBackoff
	}
	return d
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
