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

// Notification types carried in the message data.
const (
	NotificationNewTask  = "new_task"
	NotificationClass    = "class_reminder"
	NotificationGym      = "gym_reminder"
	NotificationActivity = "activity_reminder"
	NotificationTaskDue  = "task_due"
)

// NotificationService filters notifications through user preferences and
// delivers them to the user's active devices.
type NotificationService struct {
	preferences repository.PreferenceRepository
	pushTokens  repository.PushTokenRepository
	transport   PushTransport
	clock       Clock
	defaultLoc  *time.Location
	tracer      trace.Tracer
	logger      *zap.Logger
}

// NewNotificationService creates a new NotificationService.
func NewNotificationService(preferences repository.PreferenceRepository, pushTokens repository.PushTokenRepository, transport PushTransport, clock Clock, defaultLoc *time.Location, tracer trace.Tracer, logger *zap.Logger) *NotificationService {
	if defaultLoc == nil {
		defaultLoc = time.UTC
	}
	return &NotificationService{
		preferences: preferences,
		pushTokens:  pushTokens,
		transport:   transport,
		clock:       clock,
		defaultLoc:  defaultLoc,
		tracer:      tracer,
		logger:      logger.Named("notification_service"),
	}
}

// Notify delivers msg to every active device of the user unless quiet hours
// are in effect. It does not look at category toggles.
func (s *NotificationService) Notify(ctx context.Context, userID string, msg Message) error {
	pref, err := s.loadPreferences(ctx, userID)
	if err != nil {
		return err
	}
	return s.deliver(ctx, userID, pref, msg)
}

func (s *NotificationService) NotifyNewTask(ctx context.Context, userID string, task *models.Task) error {
	pref, err := s.loadPreferences(ctx, userID)
	if err != nil || !pref.NewTask {
		return err
	}
	body := task.Title
	if task.DueAt != nil {
		loc := utils.LoadLocation(pref.Timezone, s.defaultLoc)
		body = fmt.Sprintf("%s (due %s)", task.Title, task.DueAt.In(loc).Format("Mon Jan 2, 15:04"))
	}
	return s.deliver(ctx, userID, pref, Message{
		Title: "New assignment",
		Body:  body,
		Data:  map[string]string{"type": NotificationNewTask, "taskId": task.ID},
	})
}

func (s *NotificationService) NotifyClassReminder(ctx context.Context, userID string, entry *models.ScheduleEntry, minutes int) error {
	pref, err := s.loadPreferences(ctx, userID)
	if err != nil || !pref.ClassReminder {
		return err
	}
	return s.deliver(ctx, userID, pref, scheduleMessage(NotificationClass, "Class", entry, minutes))
}

func (s *NotificationService) NotifyGymReminder(ctx context.Context, userID string, entry *models.ScheduleEntry, minutes int) error {
	pref, err := s.loadPreferences(ctx, userID)
	if err != nil || !pref.GymReminder {
		return err
	}
	return s.deliver(ctx, userID, pref, scheduleMessage(NotificationGym, "Gym", entry, minutes))
}

func (s *NotificationService) NotifyActivityReminder(ctx context.Context, userID string, entry *models.ScheduleEntry, minutes int) error {
	pref, err := s.loadPreferences(ctx, userID)
	if err != nil || !pref.ActivityReminder {
		return err
	}
	return s.deliver(ctx, userID, pref, scheduleMessage(NotificationActivity, "Activity", entry, minutes))
}

func (s *NotificationService) NotifyTaskDue(ctx context.Context, userID string, task *models.Task, window models.DueWindow) error {
	pref, err := s.loadPreferences(ctx, userID)
	if err != nil || !pref.TaskDue {
		return err
	}
	when := "in 24 hours"
	if window == models.DueWindow1h {
		when = "within the hour"
	}
	return s.deliver(ctx, userID, pref, Message{
		Title: "Assignment due " + when,
		Body:  task.Title,
		Data:  map[string]string{"type": NotificationTaskDue, "taskId": task.ID, "window": string(window)},
	})
}

func scheduleMessage(kind, label string, entry *models.ScheduleEntry, minutes int) Message {
	body := fmt.Sprintf("%s starts in %d min", entry.Title, minutes)
	if entry.Location != "" {
		body += " at " + entry.Location
	}
	return Message{
		Title: label + " reminder",
		Body:  body,
		Data:  map[string]string{"type": kind, "scheduleId": entry.ID},
	}
}

func (s *NotificationService) loadPreferences(ctx context.Context, userID string) (*models.NotificationPreference, error) {
	pref, err := s.preferences.Get(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("%w: load preferences: %w", ErrPersistence, err)
	}
	if pref == nil {
		return models.DefaultNotificationPreference(userID), nil
	}
	return pref, nil
}

// InQuietHours reports whether now falls inside the user's quiet hours. The
// times are compared as "HH:MM" strings: now >= start or now < end. A window
// that wraps midnight (22:00-07:00) works; a same-day window (13:00-14:00)
// matches the whole day.
func (s *NotificationService) InQuietHours(pref *models.NotificationPreference, now time.Time) bool {
	if !pref.QuietHoursEnabled || pref.QuietHoursStart == "" || pref.QuietHoursEnd == "" {
		return false
	}
	hm := utils.FormatClock(now.In(utils.LoadLocation(pref.Timezone, s.defaultLoc)))
	return hm >= pref.QuietHoursStart || hm < pref.QuietHoursEnd
}

func (s *NotificationService) deliver(ctx context.Context, userID string, pref *models.NotificationPreference, msg Message) error {
	ctx, span := s.tracer.Start(ctx, "NotificationService.deliver")
	defer span.End()
	span.SetAttributes(attribute.String("user.id", userID), attribute.String("notification.type", msg.Data["type"]))

	if s.InQuietHours(pref, s.clock.Now()) {
		s.logger.Debug("Suppressed notification during quiet hours", zap.String("userID", userID))
		return nil
	}

	tokens, err := s.pushTokens.ListActiveByUser(ctx, userID)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("%w: list push tokens: %w", ErrPersistence, err)
	}
	if len(tokens) == 0 {
		return nil
	}

	batch := make([]PushMessage, 0, len(tokens))
	for _, t := range tokens {
		batch = append(batch, PushMessage{Token: t.Token, Message: msg})
	}

	outcomes, sendErr := s.transport.Send(ctx, batch)
	// Outcomes of chunks that did go through are handled even when a later chunk failed.
	for _, o := range outcomes {
		if o.Status != DeliveryDeviceNotRegistered {
			continue
		}
		if err := s.pushTokens.Deactivate(ctx, o.Token); err != nil {
			s.logger.Error("Failed to deactivate unregistered push token", zap.String("userID", userID), zap.Error(err))
			continue
		}
		s.logger.Info("Deactivated unregistered push token", zap.String("userID", userID))
	}
	if sendErr != nil {
		span.RecordError(sendErr)
		span.SetStatus(codes.Error, "Push send failed")
		return fmt.Errorf("%w: %w", ErrTransport, sendErr)
	}
	return nil
}

var _ Notifier = (*NotificationService)(nil)
