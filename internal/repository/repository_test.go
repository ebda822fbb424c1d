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
	"path/filepath"
	"sync"
	"testing"
	"time"

	"blockarchitech.com/studysync/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const testSecretKey = "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f"

// stores returns one fresh Store per backend that can run without external services.
func stores(t *testing.T) map[string]*Store {
	t.Helper()
	db, err := NewGormDB(filepath.Join(t.TempDir(), "studysync.db"))
	require.NoError(t, err)
	gormStore := NewGormStoreFromDB(db, testSecretKey)
	t.Cleanup(func() { _ = gormStore.Close() })

	return map[string]*Store{
		"inmemory": NewInMemoryStore(zap.NewNop()),
		"sqlite":   gormStore,
	}
}

func TestConnectionRepository(t *testing.T) {
	ctx := context.Background()
	expiry := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)

	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			got, err := s.Connections.GetByUserID(ctx, "u1")
			require.NoError(t, err)
			assert.Nil(t, got)

			require.NoError(t, s.Connections.Save(ctx, &models.Connection{
				UserID: "u1", AccessToken: "at", RefreshToken: "rt", TokenExpiry: expiry, SyncEnabled: true,
			}))
			require.NoError(t, s.Connections.Save(ctx, &models.Connection{UserID: "u2", SyncEnabled: false}))

			got, err = s.Connections.GetByUserID(ctx, "u1")
			require.NoError(t, err)
			require.NotNil(t, got)
			assert.Equal(t, "at", got.AccessToken)
			assert.Equal(t, "rt", got.RefreshToken)
			assert.True(t, got.TokenExpiry.Equal(expiry))
			assert.Nil(t, got.LastSyncAt)

			list, err := s.Connections.ListSyncEnabled(ctx)
			require.NoError(t, err)
			require.Len(t, list, 1)
			assert.Equal(t, "u1", list[0].UserID)
			assert.Equal(t, "at", list[0].AccessToken)

			newExpiry := expiry.Add(time.Hour)
			require.NoError(t, s.Connections.UpdateCredentials(ctx, "u1", "at2", "rt2", newExpiry))
			synced := expiry.Add(2 * time.Hour)
			require.NoError(t, s.Connections.UpdateLastSync(ctx, "u1", synced))

			got, err = s.Connections.GetByUserID(ctx, "u1")
			require.NoError(t, err)
			assert.Equal(t, "at2", got.AccessToken)
			assert.Equal(t, "rt2", got.RefreshToken)
			assert.True(t, got.TokenExpiry.Equal(newExpiry))
			require.NotNil(t, got.LastSyncAt)
			assert.True(t, got.LastSyncAt.Equal(synced))

			err = s.Connections.UpdateCredentials(ctx, "missing", "a", "b", expiry)
			assert.True(t, errors.Is(err, ErrNotFound))

			require.NoError(t, s.Connections.Delete(ctx, "u1"))
			got, err = s.Connections.GetByUserID(ctx, "u1")
			require.NoError(t, err)
			assert.Nil(t, got)
		})
	}
}

func TestGormConnectionRepository_EncryptsAtRest(t *testing.T) {
	ctx := context.Background()
	db, err := NewGormDB(filepath.Join(t.TempDir(), "enc.db"))
	require.NoError(t, err)
	s := NewGormStoreFromDB(db, testSecretKey)
	defer s.Close()

	require.NoError(t, s.Connections.Save(ctx, &models.Connection{UserID: "u1", AccessToken: "plain-at", SyncEnabled: true}))

	var raw models.Connection
	require.NoError(t, db.Where("user_id = ?", "u1").First(&raw).Error)
	assert.NotEqual(t, "plain-at", raw.AccessToken)

	got, err := s.Connections.GetByUserID(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "plain-at", got.AccessToken)
}

func TestCourseRepository_UpsertIsIdempotent(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)

	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			first, err := s.Courses.Upsert(ctx, &models.Course{
				UserID: "u1", ExternalID: "c1", Name: "Algebra", SyncEnabled: true, LastSyncedAt: now,
			})
			require.NoError(t, err)
			require.NotEmpty(t, first.ID)

			second, err := s.Courses.Upsert(ctx, &models.Course{
				UserID: "u1", ExternalID: "c1", Name: "Algebra II", Room: "B12", LastSyncedAt: now.Add(time.Minute),
			})
			require.NoError(t, err)
			assert.Equal(t, first.ID, second.ID)
			assert.True(t, second.SyncEnabled, "sync flag is owned locally and kept on refresh")

			_, err = s.Courses.Upsert(ctx, &models.Course{UserID: "u2", ExternalID: "c1", Name: "Other", SyncEnabled: false})
			require.NoError(t, err)

			courses, err := s.Courses.ListByUser(ctx, "u1")
			require.NoError(t, err)
			require.Len(t, courses, 1)
			assert.Equal(t, "Algebra II", courses[0].Name)
			assert.Equal(t, "B12", courses[0].Room)

			enabled, err := s.Courses.ListSyncEnabled(ctx, "u2")
			require.NoError(t, err)
			assert.Empty(t, enabled)

			got, err := s.Courses.GetByExternalID(ctx, "u1", "c1")
			require.NoError(t, err)
			require.NotNil(t, got)
			assert.Equal(t, first.ID, got.ID)

			require.NoError(t, s.Courses.DeleteByUser(ctx, "u1"))
			courses, err = s.Courses.ListByUser(ctx, "u1")
			require.NoError(t, err)
			assert.Empty(t, courses)
			others, err := s.Courses.ListByUser(ctx, "u2")
			require.NoError(t, err)
			assert.Len(t, others, 1)
		})
	}
}

func TestTaskRepository(t *testing.T) {
	ctx := context.Background()
	due := time.Date(2025, 1, 2, 12, 0, 0, 0, time.UTC)

	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ext := &models.Task{UserID: "u1", ExternalID: "a1", Title: "Essay", DueAt: &due, Status: models.TaskStatusPending, Priority: models.TaskPriorityMedium}
			local := &models.Task{UserID: "u1", Title: "Groceries", DueAt: &due, Status: models.TaskStatusPending}
			done := &models.Task{UserID: "u1", ExternalID: "a2", Title: "Quiz", DueAt: &due, Status: models.TaskStatusCompleted}
			undated := &models.Task{UserID: "u1", ExternalID: "a3", Title: "Reading", Status: models.TaskStatusPending}
			for _, task := range []*models.Task{ext, local, done, undated} {
				require.NoError(t, s.Tasks.Create(ctx, task))
				require.NotEmpty(t, task.ID)
			}

			n, err := s.Tasks.CountExternal(ctx, "u1")
			require.NoError(t, err)
			assert.Equal(t, 3, n)

			got, err := s.Tasks.GetByExternalID(ctx, "u1", "a1")
			require.NoError(t, err)
			require.NotNil(t, got)
			assert.Equal(t, ext.ID, got.ID)

			got, err = s.Tasks.GetByExternalID(ctx, "u2", "a1")
			require.NoError(t, err)
			assert.Nil(t, got)

			candidates, err := s.Tasks.ListDueCandidates(ctx, "u1")
			require.NoError(t, err)
			ids := make([]string, 0, len(candidates))
			for _, c := range candidates {
				ids = append(ids, c.ID)
			}
			assert.ElementsMatch(t, []string{ext.ID, local.ID}, ids)

			require.NoError(t, s.Tasks.UpdateStatus(ctx, local.ID, models.TaskStatusLate))
			candidates, err = s.Tasks.ListDueCandidates(ctx, "u1")
			require.NoError(t, err)
			assert.Len(t, candidates, 1)

			require.NoError(t, s.Tasks.Delete(ctx, local.ID))
			got, err = s.Tasks.GetByID(ctx, local.ID)
			require.NoError(t, err)
			assert.Nil(t, got)
		})
	}
}

func TestTaskRepository_ClaimDueNotification(t *testing.T) {
	ctx := context.Background()
	due := time.Date(2025, 1, 2, 12, 0, 0, 0, time.UTC)

	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			task := &models.Task{UserID: "u1", ExternalID: "a1", Title: "Essay", DueAt: &due, Status: models.TaskStatusPending}
			require.NoError(t, s.Tasks.Create(ctx, task))

			claimed, err := s.Tasks.ClaimDueNotification(ctx, task.ID, models.DueWindow24h)
			require.NoError(t, err)
			assert.True(t, claimed)

			claimed, err = s.Tasks.ClaimDueNotification(ctx, task.ID, models.DueWindow24h)
			require.NoError(t, err)
			assert.False(t, claimed)

			claimed, err = s.Tasks.ClaimDueNotification(ctx, task.ID, models.DueWindow1h)
			require.NoError(t, err)
			assert.True(t, claimed)

			got, err := s.Tasks.GetByID(ctx, task.ID)
			require.NoError(t, err)
			assert.True(t, got.Notified24h)
			assert.True(t, got.Notified1h)

			_, err = s.Tasks.ClaimDueNotification(ctx, "missing", models.DueWindow1h)
			assert.True(t, errors.Is(err, ErrNotFound))
		})
	}
}

func TestInMemoryTaskRepository_ClaimIsExclusive(t *testing.T) {
	ctx := context.Background()
	repo := NewInMemoryTaskRepository(zap.NewNop())
	task := &models.Task{UserID: "u1", Title: "Essay", Status: models.TaskStatusPending}
	require.NoError(t, repo.Create(ctx, task))

	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		claims int
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := repo.ClaimDueNotification(ctx, task.ID, models.DueWindow1h)
			if err == nil && ok {
				mu.Lock()
				claims++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, claims)
}

func TestScheduleRepository(t *testing.T) {
	ctx := context.Background()

	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			gym := &models.ScheduleEntry{UserID: "u1", Kind: models.ScheduleKindGym, Title: "Gym", DayOfWeek: int(time.Monday), StartTime: "18:00", EndTime: "19:00", Active: true}
			class := &models.ScheduleEntry{UserID: "u1", Kind: models.ScheduleKindClass, Title: "Physics", DayOfWeek: int(time.Monday), StartTime: "09:00", EndTime: "10:00", Active: true}
			inactive := &models.ScheduleEntry{UserID: "u1", Kind: models.ScheduleKindActivity, Title: "Choir", DayOfWeek: int(time.Monday), StartTime: "12:00", EndTime: "13:00"}
			tuesday := &models.ScheduleEntry{UserID: "u1", Kind: models.ScheduleKindClass, Title: "Maths", DayOfWeek: int(time.Tuesday), StartTime: "09:00", EndTime: "10:00", Active: true}
			for _, e := range []*models.ScheduleEntry{gym, class, inactive, tuesday} {
				require.NoError(t, s.Schedules.Create(ctx, e))
			}

			entries, err := s.Schedules.ListActiveForDay(ctx, "u1", time.Monday)
			require.NoError(t, err)
			require.Len(t, entries, 2)
			assert.Equal(t, "Physics", entries[0].Title)
			assert.Equal(t, "Gym", entries[1].Title)

			require.NoError(t, s.Schedules.SkipDate(ctx, gym.ID, "2025-01-06"))
			require.NoError(t, s.Schedules.SkipDate(ctx, gym.ID, "2025-01-06"))

			all, err := s.Schedules.ListByUser(ctx, "u1")
			require.NoError(t, err)
			assert.Len(t, all, 4)
			for _, e := range all {
				if e.ID == gym.ID {
					assert.Equal(t, []string{"2025-01-06"}, e.SkippedDates)
					assert.True(t, e.IsSkipped("2025-01-06"))
				}
			}

			assert.True(t, errors.Is(s.Schedules.SkipDate(ctx, "missing", "2025-01-06"), ErrNotFound))
		})
	}
}

func TestPreferenceRepository(t *testing.T) {
	ctx := context.Background()

	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			got, err := s.Preferences.Get(ctx, "u1")
			require.NoError(t, err)
			assert.Nil(t, got)

			pref := models.DefaultNotificationPreference("u1")
			pref.QuietHoursEnabled = true
			pref.QuietHoursStart = "22:00"
			pref.QuietHoursEnd = "07:00"
			pref.GymReminder = false
			require.NoError(t, s.Preferences.Save(ctx, pref))

			got, err = s.Preferences.Get(ctx, "u1")
			require.NoError(t, err)
			require.NotNil(t, got)
			assert.Equal(t, *pref, *got)
		})
	}
}

func TestPushTokenRepository(t *testing.T) {
	ctx := context.Background()

	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			_, err := s.PushTokens.Register(ctx, "u1", "ExponentPushToken[a]", "ios")
			require.NoError(t, err)
			_, err = s.PushTokens.Register(ctx, "u1", "ExponentPushToken[b]", "android")
			require.NoError(t, err)
			_, err = s.PushTokens.Register(ctx, "u2", "ExponentPushToken[c]", "ios")
			require.NoError(t, err)

			users, err := s.PushTokens.ListUsersWithActiveTokens(ctx)
			require.NoError(t, err)
			assert.Equal(t, []string{"u1", "u2"}, users)

			require.NoError(t, s.PushTokens.Deactivate(ctx, "ExponentPushToken[a]"))
			require.NoError(t, s.PushTokens.Deactivate(ctx, "ExponentPushToken[c]"))

			active, err := s.PushTokens.ListActiveByUser(ctx, "u1")
			require.NoError(t, err)
			require.Len(t, active, 1)
			assert.Equal(t, "ExponentPushToken[b]", active[0].Token)

			users, err = s.PushTokens.ListUsersWithActiveTokens(ctx)
			require.NoError(t, err)
			assert.Equal(t, []string{"u1"}, users)

			// Re-registering a dead token brings it back.
			re, err := s.PushTokens.Register(ctx, "u2", "ExponentPushToken[c]", "ios")
			require.NoError(t, err)
			assert.True(t, re.Active)
			users, err = s.PushTokens.ListUsersWithActiveTokens(ctx)
			require.NoError(t, err)
			assert.Equal(t, []string{"u1", "u2"}, users)

			assert.True(t, errors.Is(s.PushTokens.Deactivate(ctx, "unknown"), ErrNotFound))
		})
	}
}
