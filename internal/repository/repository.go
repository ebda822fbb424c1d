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

package repository

import (
	"context"
	"errors"
	"time"

	"blockarchitech.com/studysync/internal/models"
)

// Lookups return (nil, nil) when the record does not exist. Mutations on a
// missing record return ErrNotFound.
var ErrNotFound = errors.New("record not found")

// ConnectionRepository stores the upstream link of each user.
type ConnectionRepository interface {
	Save(ctx context.Context, conn *models.Connection) error
	GetByUserID(ctx context.Context, userID string) (*models.Connection, error)
	ListSyncEnabled(ctx context.Context) ([]*models.Connection, error)
	// UpdateCredentials replaces the token triple in a single write.
	UpdateCredentials(ctx context.Context, userID, accessToken, refreshToken string, expiry time.Time) error
	UpdateLastSync(ctx context.Context, userID string, at time.Time) error
	Delete(ctx context.Context, userID string) error
}

// CourseRepository stores mirrored upstream courses, unique per (user, external id).
type CourseRepository interface {
	// Upsert inserts the course or refreshes the descriptive fields of the
	// existing row with the same (UserID, ExternalID). The stored row is returned.
	Upsert(ctx context.Context, course *models.Course) (*models.Course, error)
	GetByExternalID(ctx context.Context, userID, externalID string) (*models.Course, error)
	ListByUser(ctx context.Context, userID string) ([]*models.Course, error)
	ListSyncEnabled(ctx context.Context, userID string) ([]*models.Course, error)
	DeleteByUser(ctx context.Context, userID string) error
}

// TaskRepository stores local and imported tasks.
type TaskRepository interface {
	Create(ctx context.Context, task *models.Task) error
	GetByID(ctx context.Context, id string) (*models.Task, error)
	GetByExternalID(ctx context.Context, userID, externalID string) (*models.Task, error)
	CountExternal(ctx context.Context, userID string) (int, error)
	// ListDueCandidates returns the user's tasks that have a due date and are
	// neither completed nor late.
	ListDueCandidates(ctx context.Context, userID string) ([]*models.Task, error)
	// ClaimDueNotification sets the notified flag of the window if it is unset
	// and reports whether this call set it.
	ClaimDueNotification(ctx context.Context, taskID string, window models.DueWindow) (bool, error)
	UpdateStatus(ctx context.Context, taskID string, status models.TaskStatus) error
	Delete(ctx context.Context, taskID string) error
}

// ScheduleRepository stores recurring weekly schedule entries.
type ScheduleRepository interface {
	Create(ctx context.Context, entry *models.ScheduleEntry) error
	ListByUser(ctx context.Context, userID string) ([]*models.ScheduleEntry, error)
	ListActiveForDay(ctx context.Context, userID string, day time.Weekday) ([]*models.ScheduleEntry, error)
	SkipDate(ctx context.Context, entryID, isoDate string) error
	Delete(ctx context.Context, entryID string) error
}

// PreferenceRepository stores notification preferences.
type PreferenceRepository interface {
	Get(ctx context.Context, userID string) (*models.NotificationPreference, error)
	Save(ctx context.Context, pref *models.NotificationPreference) error
}

// PushTokenRepository stores device push endpoints.
type PushTokenRepository interface {
	// Register stores the token for the user, reactivating it if it was known.
	Register(ctx context.Context, userID, token, platform string) (*models.PushToken, error)
	ListActiveByUser(ctx context.Context, userID string) ([]*models.PushToken, error)
	ListUsersWithActiveTokens(ctx context.Context) ([]string, error)
	Deactivate(ctx context.Context, token string) error
}

// Store bundles the repositories of one storage backend.
type Store struct {
	Connections ConnectionRepository
	Courses     CourseRepository
	Tasks       TaskRepository
	Schedules   ScheduleRepository
	Preferences PreferenceRepository
	PushTokens  PushTokenRepository

	closer func() error
}

// Close releases the backend connection, if any.
func (s *Store) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer()
}
