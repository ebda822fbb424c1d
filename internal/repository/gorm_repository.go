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
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"blockarchitech.com/studysync/internal/config"
	"blockarchitech.com/studysync/internal/models"
	"blockarchitech.com/studysync/internal/utils"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// NewGormDB opens a SQLite database and runs migrations.
func NewGormDB(dsn string) (*gorm.DB, error) {
	if dsn == "" {
		dsn = "studysync.db"
	}

	if err := ensureDirForSQLite(dsn); err != nil {
		return nil, err
	}

	dbLogger := logger.New(
		log.New(os.Stdout, "", log.LstdFlags),
		logger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  logger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: dbLogger,
	})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	if err := db.AutoMigrate(
		&models.Connection{},
		&models.Course{},
		&models.Task{},
		&models.ScheduleEntry{},
		&models.NotificationPreference{},
		&models.PushToken{},
	); err != nil {
		return nil, fmt.Errorf("migrate db: %w", err)
	}

	return db, nil
}

// ensureDirForSQLite creates the parent directory of a SQLite file if needed.
func ensureDirForSQLite(dsn string) error {
	if strings.Contains(dsn, ":memory:") || strings.Contains(dsn, "mode=memory") {
		return nil
	}
	clean := strings.TrimPrefix(dsn, "file:")
	clean = strings.Split(clean, "?")[0]
	dir := filepath.Dir(clean)
	if dir == "." || dir == "" {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create db dir %q: %w", dir, err)
	}
	return nil
}

// NewGormStore creates a Store backed by an embedded SQLite database.
func NewGormStore(cfg *config.Config, logger *zap.Logger) (*Store, error) {
	db, err := NewGormDB(cfg.SQLiteDSN)
	if err != nil {
		return nil, err
	}
	logger.Info("Opened SQLite database", zap.String("dsn", cfg.SQLiteDSN))
	return NewGormStoreFromDB(db, cfg.SecretKey), nil
}

// NewGormStoreFromDB wraps an already migrated database.
func NewGormStoreFromDB(db *gorm.DB, secretKey string) *Store {
	return &Store{
		Connections: &GormConnectionRepository{db: db, secretKey: secretKey},
		Courses:     &GormCourseRepository{db: db},
		Tasks:       &GormTaskRepository{db: db},
		Schedules:   &GormScheduleRepository{db: db},
		Preferences: &GormPreferenceRepository{db: db},
		PushTokens:  &GormPushTokenRepository{db: db},
		closer: func() error {
			sqlDB, err := db.DB()
			if err != nil {
				return err
			}
			return sqlDB.Close()
		},
	}
}

// GormConnectionRepository handles connections in SQL.
type GormConnectionRepository struct {
	db        *gorm.DB
	secretKey string
}

func (r *GormConnectionRepository) Save(ctx context.Context, conn *models.Connection) error {
	encrypted, err := encryptConnection(conn, r.secretKey)
	if err != nil {
		return err
	}
	if err := r.db.WithContext(ctx).Save(encrypted).Error; err != nil {
		return fmt.Errorf("save connection: %w", err)
	}
	return nil
}

func (r *GormConnectionRepository) GetByUserID(ctx context.Context, userID string) (*models.Connection, error) {
	var conn models.Connection
	err := r.db.WithContext(ctx).Where("user_id = ?", userID).First(&conn).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("find connection: %w", err)
	}
	return decryptConnection(&conn, r.secretKey)
}

func (r *GormConnectionRepository) ListSyncEnabled(ctx context.Context) ([]*models.Connection, error) {
	var conns []*models.Connection
	if err := r.db.WithContext(ctx).Where("sync_enabled = ?", true).Order("user_id").Find(&conns).Error; err != nil {
		return nil, fmt.Errorf("list connections: %w", err)
	}
	out := make([]*models.Connection, 0, len(conns))
	for _, c := range conns {
		dec, err := decryptConnection(c, r.secretKey)
		if err != nil {
			return nil, fmt.Errorf("connection %s: %w", c.UserID, err)
		}
		out = append(out, dec)
	}
	return out, nil
}

func (r *GormConnectionRepository) UpdateCredentials(ctx context.Context, userID, accessToken, refreshToken string, expiry time.Time) error {
	var err error
	if r.secretKey != "" {
		if accessToken, err = utils.Encrypt(accessToken, r.secretKey); err != nil {
			return fmt.Errorf("encrypt access token: %w", err)
		}
		if refreshToken != "" {
			if refreshToken, err = utils.Encrypt(refreshToken, r.secretKey); err != nil {
				return fmt.Errorf("encrypt refresh token: %w", err)
			}
		}
	}
	res := r.db.WithContext(ctx).Model(&models.Connection{}).Where("user_id = ?", userID).Updates(map[string]interface{}{
		"access_token":  accessToken,
		"refresh_token": refreshToken,
		"token_expiry":  expiry,
	})
	if res.Error != nil {
		return fmt.Errorf("update credentials: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("connection for user %s: %w", userID, ErrNotFound)
	}
	return nil
}

func (r *GormConnectionRepository) UpdateLastSync(ctx context.Context, userID string, at time.Time) error {
	res := r.db.WithContext(ctx).Model(&models.Connection{}).Where("user_id = ?", userID).Update("last_sync_at", at)
	if res.Error != nil {
		return fmt.Errorf("update last sync: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("connection for user %s: %w", userID, ErrNotFound)
	}
	return nil
}

func (r *GormConnectionRepository) Delete(ctx context.Context, userID string) error {
	if err := r.db.WithContext(ctx).Where("user_id = ?", userID).Delete(&models.Connection{}).Error; err != nil {
		return fmt.Errorf("delete connection: %w", err)
	}
	return nil
}

// GormCourseRepository handles courses in SQL.
type GormCourseRepository struct {
	db *gorm.DB
}

// Upsert finds the course by (user, external id) and refreshes it, or creates it.
func (r *GormCourseRepository) Upsert(ctx context.Context, course *models.Course) (*models.Course, error) {
	var stored models.Course
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Where("user_id = ? AND external_id = ?", course.UserID, course.ExternalID).First(&stored).Error
		switch {
		case err == nil:
			updates := map[string]interface{}{
				"name":           course.Name,
				"section":        course.Section,
				"description":    course.Description,
				"room":           course.Room,
				"instructor":     course.Instructor,
				"link":           course.Link,
				"last_synced_at": course.LastSyncedAt,
			}
			if err := tx.Model(&stored).Updates(updates).Error; err != nil {
				return fmt.Errorf("update course: %w", err)
			}
			return nil
		case errors.Is(err, gorm.ErrRecordNotFound):
			stored = *course
			if stored.ID == "" {
				stored.ID = uuid.NewString()
			}
			if stored.CreatedAt.IsZero() {
				stored.CreatedAt = course.LastSyncedAt
			}
			if err := tx.Create(&stored).Error; err != nil {
				return fmt.Errorf("create course: %w", err)
			}
			return nil
		default:
			return fmt.Errorf("find course: %w", err)
		}
	})
	if err != nil {
		return nil, err
	}
	return &stored, nil
}

func (r *GormCourseRepository) GetByExternalID(ctx context.Context, userID, externalID string) (*models.Course, error) {
	var course models.Course
	err := r.db.WithContext(ctx).Where("user_id = ? AND external_id = ?", userID, externalID).First(&course).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("find course: %w", err)
	}
	return &course, nil
}

func (r *GormCourseRepository) ListByUser(ctx context.Context, userID string) ([]*models.Course, error) {
	var courses []*models.Course
	if err := r.db.WithContext(ctx).Where("user_id = ?", userID).Order("external_id").Find(&courses).Error; err != nil {
		return nil, fmt.Errorf("list courses: %w", err)
	}
	return courses, nil
}

func (r *GormCourseRepository) ListSyncEnabled(ctx context.Context, userID string) ([]*models.Course, error) {
	var courses []*models.Course
	if err := r.db.WithContext(ctx).Where("user_id = ? AND sync_enabled = ?", userID, true).Order("external_id").Find(&courses).Error; err != nil {
		return nil, fmt.Errorf("list sync-enabled courses: %w", err)
	}
	return courses, nil
}

func (r *GormCourseRepository) DeleteByUser(ctx context.Context, userID string) error {
	if err := r.db.WithContext(ctx).Where("user_id = ?", userID).Delete(&models.Course{}).Error; err != nil {
		return fmt.Errorf("delete courses: %w", err)
	}
	return nil
}

// GormTaskRepository handles tasks in SQL.
type GormTaskRepository struct {
	db *gorm.DB
}

func (r *GormTaskRepository) Create(ctx context.Context, task *models.Task) error {
	if task.ID == "" {
		task.ID = uuid.NewString()
	}
	if err := r.db.WithContext(ctx).Create(task).Error; err != nil {
		return fmt.Errorf("create task: %w", err)
	}
	return nil
}

func (r *GormTaskRepository) GetByID(ctx context.Context, id string) (*models.Task, error) {
	var task models.Task
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&task).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("find task: %w", err)
	}
	return &task, nil
}

func (r *GormTaskRepository) GetByExternalID(ctx context.Context, userID, externalID string) (*models.Task, error) {
	var task models.Task
	if err := r.db.WithContext(ctx).Where("user_id = ? AND external_id = ?", userID, externalID).First(&task).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("find task: %w", err)
	}
	return &task, nil
}

func (r *GormTaskRepository) CountExternal(ctx context.Context, userID string) (int, error) {
	var n int64
	if err := r.db.WithContext(ctx).Model(&models.Task{}).Where("user_id = ? AND external_id <> ''", userID).Count(&n).Error; err != nil {
		return 0, fmt.Errorf("count external tasks: %w", err)
	}
	return int(n), nil
}

func (r *GormTaskRepository) ListDueCandidates(ctx context.Context, userID string) ([]*models.Task, error) {
	var tasks []*models.Task
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND due_at IS NOT NULL AND status NOT IN ?", userID,
			[]models.TaskStatus{models.TaskStatusCompleted, models.TaskStatusLate}).
		Order("due_at").
		Find(&tasks).Error
	if err != nil {
		return nil, fmt.Errorf("list due tasks: %w", err)
	}
	return tasks, nil
}

// ClaimDueNotification flips the flag with a conditional UPDATE so only one
// caller observes a changed row.
func (r *GormTaskRepository) ClaimDueNotification(ctx context.Context, taskID string, window models.DueWindow) (bool, error) {
	var column string
	switch window {
	case models.DueWindow24h:
		column = "notified_24h"
	case models.DueWindow1h:
		column = "notified_1h"
	default:
		return false, fmt.Errorf("unknown due window %q", window)
	}

	db := r.db.WithContext(ctx)
	res := db.Model(&models.Task{}).Where("id = ? AND "+column+" = ?", taskID, false).Update(column, true)
	if res.Error != nil {
		return false, fmt.Errorf("claim %s reminder: %w", window, res.Error)
	}
	if res.RowsAffected == 1 {
		return true, nil
	}

	var n int64
	if err := db.Model(&models.Task{}).Where("id = ?", taskID).Count(&n).Error; err != nil {
		return false, fmt.Errorf("find task: %w", err)
	}
	if n == 0 {
		return false, fmt.Errorf("task %s: %w", taskID, ErrNotFound)
	}
	return false, nil
}

func (r *GormTaskRepository) UpdateStatus(ctx context.Context, taskID string, st models.TaskStatus) error {
	res := r.db.WithContext(ctx).Model(&models.Task{}).Where("id = ?", taskID).Updates(map[string]interface{}{
		"status":     st,
		"updated_at": time.Now(),
	})
	if res.Error != nil {
		return fmt.Errorf("update task status: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("task %s: %w", taskID, ErrNotFound)
	}
	return nil
}

func (r *GormTaskRepository) Delete(ctx context.Context, taskID string) error {
	if err := r.db.WithContext(ctx).Where("id = ?", taskID).Delete(&models.Task{}).Error; err != nil {
		return fmt.Errorf("delete task: %w", err)
	}
	return nil
}

// GormScheduleRepository handles schedule entries in SQL.
type GormScheduleRepository struct {
	db *gorm.DB
}

func (r *GormScheduleRepository) Create(ctx context.Context, entry *models.ScheduleEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if err := r.db.WithContext(ctx).Create(entry).Error; err != nil {
		return fmt.Errorf("create schedule entry: %w", err)
	}
	return nil
}

func (r *GormScheduleRepository) ListByUser(ctx context.Context, userID string) ([]*models.ScheduleEntry, error) {
	var entries []*models.ScheduleEntry
	if err := r.db.WithContext(ctx).Where("user_id = ?", userID).Order("day_of_week, start_time").Find(&entries).Error; err != nil {
		return nil, fmt.Errorf("list schedule entries: %w", err)
	}
	return entries, nil
}

func (r *GormScheduleRepository) ListActiveForDay(ctx context.Context, userID string, day time.Weekday) ([]*models.ScheduleEntry, error) {
	var entries []*models.ScheduleEntry
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND day_of_week = ? AND active = ?", userID, int(day), true).
		Order("start_time").
		Find(&entries).Error
	if err != nil {
		return nil, fmt.Errorf("list schedule entries for day: %w", err)
	}
	return entries, nil
}

func (r *GormScheduleRepository) SkipDate(ctx context.Context, entryID, isoDate string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var entry models.ScheduleEntry
		if err := tx.Where("id = ?", entryID).First(&entry).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("schedule entry %s: %w", entryID, ErrNotFound)
			}
			return fmt.Errorf("find schedule entry: %w", err)
		}
		if entry.IsSkipped(isoDate) {
			return nil
		}
		entry.SkippedDates = append(entry.SkippedDates, isoDate)
		if err := tx.Save(&entry).Error; err != nil {
			return fmt.Errorf("skip date: %w", err)
		}
		return nil
	})
}

func (r *GormScheduleRepository) Delete(ctx context.Context, entryID string) error {
	if err := r.db.WithContext(ctx).Where("id = ?", entryID).Delete(&models.ScheduleEntry{}).Error; err != nil {
		return fmt.Errorf("delete schedule entry: %w", err)
	}
	return nil
}

// GormPreferenceRepository handles notification preferences in SQL.
type GormPreferenceRepository struct {
	db *gorm.DB
}

func (r *GormPreferenceRepository) Get(ctx context.Context, userID string) (*models.NotificationPreference, error) {
	var pref models.NotificationPreference
	if err := r.db.WithContext(ctx).Where("user_id = ?", userID).First(&pref).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("find preferences: %w", err)
	}
	return &pref, nil
}

func (r *GormPreferenceRepository) Save(ctx context.Context, pref *models.NotificationPreference) error {
	if err := r.db.WithContext(ctx).Save(pref).Error; err != nil {
		return fmt.Errorf("save preferences: %w", err)
	}
	return nil
}

// GormPushTokenRepository handles push tokens in SQL.
type GormPushTokenRepository struct {
	db *gorm.DB
}

func (r *GormPushTokenRepository) Register(ctx context.Context, userID, token, platform string) (*models.PushToken, error) {
	var pt models.PushToken
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := time.Now()
		err := tx.Where("token = ?", token).First(&pt).Error
		switch {
		case err == nil:
			updates := map[string]interface{}{
				"user_id":    userID,
				"platform":   platform,
				"active":     true,
				"updated_at": now,
			}
			if err := tx.Model(&pt).Updates(updates).Error; err != nil {
				return fmt.Errorf("update push token: %w", err)
			}
			return nil
		case errors.Is(err, gorm.ErrRecordNotFound):
			pt = models.PushToken{
				ID:        uuid.NewString(),
				UserID:    userID,
				Token:     token,
				Platform:  platform,
				Active:    true,
				CreatedAt: now,
				UpdatedAt: now,
			}
			if err := tx.Create(&pt).Error; err != nil {
				return fmt.Errorf("create push token: %w", err)
			}
			return nil
		default:
			return fmt.Errorf("find push token: %w", err)
		}
	})
	if err != nil {
		return nil, err
	}
	return &pt, nil
}

func (r *GormPushTokenRepository) ListActiveByUser(ctx context.Context, userID string) ([]*models.PushToken, error) {
	var tokens []*models.PushToken
	if err := r.db.WithContext(ctx).Where("user_id = ? AND active = ?", userID, true).Order("token").Find(&tokens).Error; err != nil {
		return nil, fmt.Errorf("list push tokens: %w", err)
	}
	return tokens, nil
}

func (r *GormPushTokenRepository) ListUsersWithActiveTokens(ctx context.Context) ([]string, error) {
	var users []string
	err := r.db.WithContext(ctx).Model(&models.PushToken{}).
		Where("active = ?", true).
		Distinct().
		Order("user_id").
		Pluck("user_id", &users).Error
	if err != nil {
		return nil, fmt.Errorf("list push token owners: %w", err)
	}
	return users, nil
}

func (r *GormPushTokenRepository) Deactivate(ctx context.Context, token string) error {
	res := r.db.WithContext(ctx).Model(&models.PushToken{}).Where("token = ?", token).Updates(map[string]interface{}{
		"active":     false,
		"updated_at": time.Now(),
	})
	if res.Error != nil {
		return fmt.Errorf("deactivate push token: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("push token: %w", ErrNotFound)
	}
	return nil
}

var (
	_ ConnectionRepository = (*GormConnectionRepository)(nil)
	_ CourseRepository     = (*GormCourseRepository)(nil)
	_ TaskRepository       = (*GormTaskRepository)(nil)
	_ ScheduleRepository   = (*GormScheduleRepository)(nil)
	_ PreferenceRepository = (*GormPreferenceRepository)(nil)
	_ PushTokenRepository  = (*GormPushTokenRepository)(nil)
)
