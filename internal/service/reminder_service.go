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
	"fmt"
	"time"

	"blockarchitech.com/studysync/internal/models"
	"blockarchitech.com/studysync/internal/repository"
	"blockarchitech.com/studysync/internal/utils"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// fixedLeadMinutes is the lead time of gym and activity reminders.
const fixedLeadMinutes = 15

// ReminderSummary describes one reminder pass.
type ReminderSummary struct {
	StartedAt         time.Time `json:"startedAt"`
	FinishedAt        time.Time `json:"finishedAt"`
	Users             int       `json:"users"`
	ScheduleReminders int       `json:"scheduleReminders"`
	DueReminders      int       `json:"dueReminders"`
	Failed            int       `json:"failed"`
}

// ReminderEngine decides which schedule and due-date reminders fire on a tick.
type ReminderEngine struct {
	schedules   repository.ScheduleRepository
	tasks       repository.TaskRepository
	preferences repository.PreferenceRepository
	pushTokens  repository.PushTokenRepository
	notifier    Notifier
	clock       Clock
	defaultLoc  *time.Location
	tracer      trace.Tracer
	logger      *zap.Logger
}

// NewReminderEngine creates a new ReminderEngine. defaultLoc is used for users
// without a timezone preference.
func NewReminderEngine(store *repository.Store, notifier Notifier, clock Clock, defaultLoc *time.Location, tracer trace.Tracer, logger *zap.Logger) *ReminderEngine {
	if defaultLoc == nil {
		defaultLoc = time.UTC
	}
	return &ReminderEngine{
		schedules:   store.Schedules,
		tasks:       store.Tasks,
		preferences: store.Preferences,
		pushTokens:  store.PushTokens,
		notifier:    notifier,
		clock:       clock,
		defaultLoc:  defaultLoc,
		tracer:      tracer,
		logger:      logger.Named("reminder_engine"),
	}
}

// RunOnce evaluates reminders for every user with at least one active device.
func (e *ReminderEngine) RunOnce(ctx context.Context) (ReminderSummary, error) {
	ctx, span := e.tracer.Start(ctx, "ReminderEngine.RunOnce")
	defer span.End()

	now := e.clock.Now()
	summary := ReminderSummary{StartedAt: now}

	users, err := e.pushTokens.ListUsersWithActiveTokens(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "List users failed")
		summary.FinishedAt = e.clock.Now()
		return summary, fmt.Errorf("%w: list users with devices: %w", ErrPersistence, err)
	}

	for _, userID := range users {
		summary.Users++
		scheduled, due, err := e.remindUser(ctx, userID, now)
		summary.ScheduleReminders += scheduled
		summary.DueReminders += due
		if err != nil {
			summary.Failed++
			e.logger.Error("Reminder evaluation failed", zap.String("userID", userID), zap.Error(err))
		}
	}

	summary.FinishedAt = e.clock.Now()
	span.SetAttributes(
		attribute.Int("users", summary.Users),
		attribute.Int("schedule_reminders", summary.ScheduleReminders),
		attribute.Int("due_reminders", summary.DueReminders),
	)
	e.logger.Info("Reminder pass finished",
		zap.Int("users", summary.Users),
		zap.Int("scheduleReminders", summary.ScheduleReminders),
		zap.Int("dueReminders", summary.DueReminders),
		zap.Int("failed", summary.Failed),
	)
	return summary, nil
}

func (e *ReminderEngine) remindUser(ctx context.Context, userID string, now time.Time) (scheduled, due int, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic during reminder evaluation: %v", r)
		}
	}()

	pref, err := e.preferences.Get(ctx, userID)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: load preferences: %w", ErrPersistence, err)
	}
	if pref == nil {
		pref = models.DefaultNotificationPreference(userID)
	}

	scheduled, err = e.remindSchedule(ctx, userID, pref, now)
	if err != nil {
		return scheduled, 0, err
	}
	due, err = e.remindDue(ctx, userID, now)
	return scheduled, due, err
}

// remindSchedule fires one reminder per entry whose start lies strictly ahead
// of now and within the lead time. Nothing records that an occurrence was
// already reminded, so a later tick inside the same window fires again.
func (e *ReminderEngine) remindSchedule(ctx context.Context, userID string, pref *models.NotificationPreference, now time.Time) (int, error) {
	local := now.In(utils.LoadLocation(pref.Timezone, e.defaultLoc))
	nowMinutes, _ := utils.ParseClock(utils.FormatClock(local))
	today := utils.FormatDate(local)

	entries, err := e.schedules.ListActiveForDay(ctx, userID, local.Weekday())
	if err != nil {
		return 0, fmt.Errorf("%w: list schedule: %w", ErrPersistence, err)
	}

	sent := 0
	for _, entry := range entries {
		if entry.IsSkipped(today) {
			continue
		}
		start, err := utils.ParseClock(entry.StartTime)
		if err != nil {
			e.logger.Warn("Skipping schedule entry with bad start time",
				zap.String("userID", userID),
				zap.String("entryID", entry.ID),
				zap.Error(err),
			)
			continue
		}
		gap := start - nowMinutes
		if gap <= 0 || gap > leadMinutes(entry.Kind, pref) {
			continue
		}

		var notifyErr error
		switch entry.Kind {
		case models.ScheduleKindClass:
			notifyErr = e.notifier.NotifyClassReminder(ctx, userID, entry, gap)
		case models.ScheduleKindGym:
			notifyErr = e.notifier.NotifyGymReminder(ctx, userID, entry, gap)
		case models.ScheduleKindActivity:
			notifyErr = e.notifier.NotifyActivityReminder(ctx, userID, entry, gap)
		default:
			continue
		}
		if notifyErr != nil {
			e.logger.Warn("Failed to send schedule reminder",
				zap.String("userID", userID),
				zap.String("entryID", entry.ID),
				zap.Error(notifyErr),
			)
			continue
		}
		sent++
	}
	return sent, nil
}

func leadMinutes(kind models.ScheduleKind, pref *models.NotificationPreference) int {
	if kind == models.ScheduleKindClass {
		return pref.ClassLead()
	}
	return fixedLeadMinutes
}

// remindDue sends the 1h and 24h reminders. The flag is claimed before the
// send, so a reminder whose delivery fails is not retried.
func (e *ReminderEngine) remindDue(ctx context.Context, userID string, now time.Time) (int, error) {
	tasks, err := e.tasks.ListDueCandidates(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("%w: list due tasks: %w", ErrPersistence, err)
	}

	sent := 0
	for _, task := range tasks {
		window, ok := dueWindow(task, now)
		if !ok {
			continue
		}

		claimed, err := e.tasks.ClaimDueNotification(ctx, task.ID, window)
		if err != nil {
			e.logger.Error("Failed to claim due reminder",
				zap.String("userID", userID),
				zap.String("taskID", task.ID),
				zap.Error(err),
			)
			continue
		}
		if !claimed {
			continue
		}

		if err := e.notifier.NotifyTaskDue(ctx, userID, task, window); err != nil {
			e.logger.Warn("Failed to send due reminder",
				zap.String("userID", userID),
				zap.String("taskID", task.ID),
				zap.String("window", string(window)),
				zap.Error(err),
			)
			continue
		}
		sent++
	}
	return sent, nil
}

// dueWindow returns the reminder the task is eligible for at now, if any.
func dueWindow(task *models.Task, now time.Time) (models.DueWindow, bool) {
	if task.DueAt == nil || !task.IsOpen() {
		return "", false
	}
	h := task.DueAt.Sub(now).Hours()
	switch {
	case h > 0 && h <= 1 && !task.Notified1h:
		return models.DueWindow1h, true
	case h > 23 && h <= 24 && !task.Notified24h:
		return models.DueWindow24h, true
	}
	return "", false
}
