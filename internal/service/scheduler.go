/*
 *    Copyright 2025 blockarchitech
 *
 *    Licensed under the Apache License, Version 2.0 (the "License");
 *    you may not use this file except in compliance with the License.
 *    You may obtain a copy of the License at
 *
 *        http://www.apache.org/licenses/LICENSE-2.0
 *
 *    Unless required by applicable law or agreed to in writing, software
 *    distributed under the License is distributed on an "AS IS" BASIS,
 *    WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 *    See the License for the specific language governing permissions and
 *    limitations under the License.
 */

package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"blockarchitech.com/studysync/internal/storage"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Job names, also used as lease names.
const (
	JobSync      = "sync"
	JobReminders = "reminders"
)

// SyncRunner runs one sync pass.
type SyncRunner interface {
	RunOnce(ctx context.Context) (SyncSummary, error)
}

// ReminderRunner runs one reminder pass.
type ReminderRunner interface {
	RunOnce(ctx context.Context) (ReminderSummary, error)
}

// JobRun is the outcome of the last completed run of a job.
type JobRun struct {
	Job        string           `json:"job"`
	StartedAt  time.Time        `json:"startedAt"`
	FinishedAt time.Time        `json:"finishedAt"`
	Error      string           `json:"error,omitempty"`
	Sync       *SyncSummary     `json:"sync,omitempty"`
	Reminders  *ReminderSummary `json:"reminders,omitempty"`
}

// SchedulerConfig holds the job intervals and the lease TTL.
type SchedulerConfig struct {
	SyncInterval     time.Duration
	ReminderInterval time.Duration
	LockTTL          time.Duration
}

// Scheduler runs the sync and reminder passes on fixed intervals. A job never
// overlaps itself: cron ticks and manual triggers share one in-process guard,
// and a storage lease keeps other replicas out.
type Scheduler struct {
	cfg       SchedulerConfig
	sync      SyncRunner
	reminders ReminderRunner
	locker    storage.Locker
	cron      *cron.Cron
	logger    *zap.Logger

	mu       sync.Mutex
	running  map[string]bool
	lastRuns map[string]JobRun

	ctx    context.Context
	cancel context.CancelFunc
}

// NewScheduler creates a new Scheduler. locker may be nil for a single process.
func NewScheduler(cfg SchedulerConfig, syncRunner SyncRunner, reminderRunner ReminderRunner, locker storage.Locker, logger *zap.Logger) *Scheduler {
	logger = logger.Named("scheduler")
	cl := cronLogger{logger.Sugar()}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cfg:       cfg,
		sync:      syncRunner,
		reminders: reminderRunner,
		locker:    locker,
		cron: cron.New(
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		logger:   logger,
		running:  make(map[string]bool),
		lastRuns: make(map[string]JobRun),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start registers both jobs and starts ticking.
func (s *Scheduler) Start() error {
	if _, err := s.cron.AddFunc(everySpec(s.cfg.SyncInterval), func() {
		if _, err := s.RunSyncNow(s.ctx); err != nil {
			s.logTickError(JobSync, err)
		}
	}); err != nil {
		return fmt.Errorf("failed to schedule sync job: %w", err)
	}
	if _, err := s.cron.AddFunc(everySpec(s.cfg.ReminderInterval), func() {
		if _, err := s.RunRemindersNow(s.ctx); err != nil {
			s.logTickError(JobReminders, err)
		}
	}); err != nil {
		return fmt.Errorf("failed to schedule reminder job: %w", err)
	}

	s.cron.Start()
	s.logger.Info("Scheduler started",
		zap.Duration("syncInterval", s.cfg.SyncInterval),
		zap.Duration("reminderInterval", s.cfg.ReminderInterval),
	)
	return nil
}

// Stop stops ticking, cancels running passes and waits for them to return.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	s.cancel()
	<-ctx.Done()
	s.logger.Info("Scheduler stopped")
}

// RunSyncNow runs a sync pass unless one is already running.
func (s *Scheduler) RunSyncNow(ctx context.Context) (SyncSummary, error) {
	var summary SyncSummary
	err := s.runGuarded(ctx, JobSync, func(ctx context.Context) (JobRun, error) {
		var err error
		summary, err = s.sync.RunOnce(ctx)
		return JobRun{StartedAt: summary.StartedAt, FinishedAt: summary.FinishedAt, Sync: &summary}, err
	})
	return summary, err
}

// RunRemindersNow runs a reminder pass unless one is already running.
func (s *Scheduler) RunRemindersNow(ctx context.Context) (ReminderSummary, error) {
	var summary ReminderSummary
	err := s.runGuarded(ctx, JobReminders, func(ctx context.Context) (JobRun, error) {
		var err error
		summary, err = s.reminders.RunOnce(ctx)
		return JobRun{StartedAt: summary.StartedAt, FinishedAt: summary.FinishedAt, Reminders: &summary}, err
	})
	return summary, err
}

// LastRuns returns the last completed run of each job that has run.
func (s *Scheduler) LastRuns() []JobRun {
	s.mu.Lock()
	defer s.mu.Unlock()
	runs := make([]JobRun, 0, len(s.lastRuns))
	for _, name := range []string{JobSync, JobReminders} {
		if run, ok := s.lastRuns[name]; ok {
			runs = append(runs, run)
		}
	}
	return runs
}

func (s *Scheduler) runGuarded(ctx context.Context, name string, run func(ctx context.Context) (JobRun, error)) error {
	s.mu.Lock()
	if s.running[name] {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrJobBusy, name)
	}
	s.running[name] = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.running, name)
		s.mu.Unlock()
	}()

	if s.locker != nil {
		lease, ok, err := s.locker.TryAcquire(ctx, name, s.cfg.LockTTL)
		if err != nil {
			return fmt.Errorf("failed to acquire %s lease: %w", name, err)
		}
		if !ok {
			return fmt.Errorf("%w: %s lease held elsewhere", ErrJobBusy, name)
		}
		defer func() {
			if err := lease.Release(context.Background()); err != nil {
				s.logger.Warn("Failed to release job lease", zap.String("job", name), zap.Error(err))
			}
		}()
	}

	result, err := run(ctx)
	result.Job = name
	if err != nil {
		result.Error = err.Error()
	}
	s.mu.Lock()
	s.lastRuns[name] = result
	s.mu.Unlock()
	return err
}

func (s *Scheduler) logTickError(job string, err error) {
	if errors.Is(err, ErrJobBusy) {
		s.logger.Info("Skipped tick, job still running", zap.String("job", job))
		return
	}
	s.logger.Error("Scheduled job failed", zap.String("job", job), zap.Error(err))
}

func everySpec(interval time.Duration) string {
	if interval < time.Second {
		interval = time.Second
	}
	return "@every " + interval.String()
}

// cronLogger routes cron's own logging into zap.
type cronLogger struct {
	l *zap.SugaredLogger
}

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.l.Debugw(msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.l.Errorw(msg, append(keysAndValues, "error", err)...)
}
