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
	"time"

	"blockarchitech.com/studysync/internal/models"
	"blockarchitech.com/studysync/internal/repository"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// SyncSummary describes one sync pass.
type SyncSummary struct {
	StartedAt  time.Time `json:"startedAt"`
	FinishedAt time.Time `json:"finishedAt"`
	Accounts   int       `json:"accounts"`
	Synced     int       `json:"synced"`
	Skipped    int       `json:"skipped"`
	Failed     int       `json:"failed"`
	NewTasks   int       `json:"newTasks"`
}

// SyncOrchestrator runs a sync pass over every eligible account.
type SyncOrchestrator struct {
	connections repository.ConnectionRepository
	tasks       repository.TaskRepository
	sync        CourseSynchronizer
	notifier    Notifier
	clock       Clock
	tracer      trace.Tracer
	logger      *zap.Logger
}

// NewSyncOrchestrator creates a new SyncOrchestrator.
func NewSyncOrchestrator(connections repository.ConnectionRepository, tasks repository.TaskRepository, sync CourseSynchronizer, notifier Notifier, clock Clock, tracer trace.Tracer, logger *zap.Logger) *SyncOrchestrator {
	return &SyncOrchestrator{
		connections: connections,
		tasks:       tasks,
		sync:        sync,
		notifier:    notifier,
		clock:       clock,
		tracer:      tracer,
		logger:      logger.Named("sync_orchestrator"),
	}
}

// RunOnce syncs every connection that has sync enabled and an access token.
// A failing account is logged and counted; it never stops the pass. The
// returned error is only set when the account list itself cannot be read.
func (o *SyncOrchestrator) RunOnce(ctx context.Context) (SyncSummary, error) {
	ctx, span := o.tracer.Start(ctx, "SyncOrchestrator.RunOnce")
	defer span.End()

	summary := SyncSummary{StartedAt: o.clock.Now()}
	conns, err := o.connections.ListSyncEnabled(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "List connections failed")
		summary.FinishedAt = o.clock.Now()
		return summary, fmt.Errorf("%w: list connections: %w", ErrPersistence, err)
	}

	for _, conn := range conns {
		summary.Accounts++
		if !conn.SyncEnabled || !conn.HasCredentials() {
			summary.Skipped++
			continue
		}

		created, err := o.syncAccount(ctx, conn.UserID)
		summary.NewTasks += created
		if err != nil {
			summary.Failed++
			level := o.logger.Error
			if errors.Is(err, ErrNotConfigured) || errors.Is(err, ErrCredential) {
				level = o.logger.Warn
			}
			level("Account sync failed", zap.String("userID", conn.UserID), zap.Error(err))
			continue
		}
		summary.Synced++
	}

	summary.FinishedAt = o.clock.Now()
	span.SetAttributes(
		attribute.Int("accounts", summary.Accounts),
		attribute.Int("failed", summary.Failed),
		attribute.Int("new_tasks", summary.NewTasks),
	)
	o.logger.Info("Sync pass finished",
		zap.Int("accounts", summary.Accounts),
		zap.Int("synced", summary.Synced),
		zap.Int("skipped", summary.Skipped),
		zap.Int("failed", summary.Failed),
		zap.Int("newTasks", summary.NewTasks),
		zap.Duration("took", summary.FinishedAt.Sub(summary.StartedAt)),
	)
	return summary, nil
}

// syncAccount runs courses then tasks for one user and stamps LastSyncAt once
// the pass is through. Errors before that point leave the stamp untouched.
// Tasks created before a mid-pass failure are still announced, since the next
// pass finds them already imported.
func (o *SyncOrchestrator) syncAccount(ctx context.Context, userID string) (created int, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic during account sync: %v", r)
		}
	}()

	before, err := o.tasks.CountExternal(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("%w: count tasks: %w", ErrPersistence, err)
	}

	if err := o.sync.SyncCourses(ctx, userID); err != nil {
		return 0, fmt.Errorf("sync courses: %w", err)
	}
	newTasks, err := o.sync.SyncTasks(ctx, userID, o.clock.Now())
	if err != nil {
		o.notifyNewTasks(ctx, userID, newTasks)
		return len(newTasks), fmt.Errorf("sync tasks: %w", err)
	}

	after, err := o.tasks.CountExternal(ctx, userID)
	if err != nil {
		o.notifyNewTasks(ctx, userID, newTasks)
		return len(newTasks), fmt.Errorf("%w: count tasks: %w", ErrPersistence, err)
	}
	if after > before {
		o.notifyNewTasks(ctx, userID, newTasks)
	}

	if err := o.connections.UpdateLastSync(ctx, userID, o.clock.Now()); err != nil {
		return len(newTasks), fmt.Errorf("%w: update last sync: %w", ErrPersistence, err)
	}
	return len(newTasks), nil
}

func (o *SyncOrchestrator) notifyNewTasks(ctx context.Context, userID string, tasks []*models.Task) {
	for _, task := range tasks {
		if err := o.notifier.NotifyNewTask(ctx, userID, task); err != nil {
			o.logger.Warn("Failed to send new task notification",
				zap.String("userID", userID),
				zap.String("taskID", task.ID),
				zap.Error(err),
			)
		}
	}
}
