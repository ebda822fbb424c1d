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
	"fmt"
	"sort"
	"sync"
	"time"

	"blockarchitech.com/studysync/internal/models"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// NewInMemoryStore creates a Store whose repositories keep everything in process memory.
func NewInMemoryStore(logger *zap.Logger) *Store {
	return &Store{
		Connections: NewInMemoryConnectionRepository(logger),
		Courses:     NewInMemoryCourseRepository(logger),
		Tasks:       NewInMemoryTaskRepository(logger),
		Schedules:   NewInMemoryScheduleRepository(logger),
		Preferences: NewInMemoryPreferenceRepository(logger),
		PushTokens:  NewInMemoryPushTokenRepository(logger),
	}
}

// InMemoryConnectionRepository is an in-memory implementation of ConnectionRepository.
type InMemoryConnectionRepository struct {
	connections map[string]models.Connection
	mu          sync.RWMutex
	logger      *zap.Logger
}

func NewInMemoryConnectionRepository(logger *zap.Logger) *InMemoryConnectionRepository {
	return &InMemoryConnectionRepository{
		connections: make(map[string]models.Connection),
		logger:      logger.Named("inmemory_connection_repo"),
	}
}

func (r *InMemoryConnectionRepository) Save(ctx context.Context, conn *models.Connection) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.connections[conn.UserID] = *conn
	r.logger.Debug("Saved connection in-memory", zap.String("userID", conn.UserID))
	return nil
}

func (r *InMemoryConnectionRepository) GetByUserID(ctx context.Context, userID string) (*models.Connection, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conn, exists := r.connections[userID]
	if !exists {
		return nil, nil // Not found
	}
	return &conn, nil
}

func (r *InMemoryConnectionRepository) ListSyncEnabled(ctx context.Context) ([]*models.Connection, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*models.Connection
	for _, conn := range r.connections {
		if conn.SyncEnabled {
			c := conn
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out, nil
}

func (r *InMemoryConnectionRepository) UpdateCredentials(ctx context.Context, userID, accessToken, refreshToken string, expiry time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	conn, exists := r.connections[userID]
	if !exists {
		return fmt.Errorf("connection for user %s: %w", userID, ErrNotFound)
	}
	conn.AccessToken = accessToken
	conn.RefreshToken = refreshToken
	conn.TokenExpiry = expiry
	r.connections[userID] = conn
	return nil
}

func (r *InMemoryConnectionRepository) UpdateLastSync(ctx context.Context, userID string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	conn, exists := r.connections[userID]
	if !exists {
		return fmt.Errorf("connection for user %s: %w", userID, ErrNotFound)
	}
	conn.LastSyncAt = &at
	r.connections[userID] = conn
	return nil
}

func (r *InMemoryConnectionRepository) Delete(ctx context.Context, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.connections, userID)
	r.logger.Info("Deleted connection in-memory", zap.String("userID", userID))
	return nil
}

// InMemoryCourseRepository is an in-memory implementation of CourseRepository.
type InMemoryCourseRepository struct {
	courses map[string]models.Course
	mu      sync.RWMutex
	logger  *zap.Logger
}

func NewInMemoryCourseRepository(logger *zap.Logger) *InMemoryCourseRepository {
	return &InMemoryCourseRepository{
		courses: make(map[string]models.Course),
		logger:  logger.Named("inmemory_course_repo"),
	}
}

func (r *InMemoryCourseRepository) Upsert(ctx context.Context, course *models.Course) (*models.Course, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, existing := range r.courses {
		if existing.UserID == course.UserID && existing.ExternalID == course.ExternalID {
			existing.Name = course.Name
			existing.Section = course.Section
			existing.Description = course.Description
			existing.Room = course.Room
			existing.Instructor = course.Instructor
			existing.Link = course.Link
			existing.LastSyncedAt = course.LastSyncedAt
			r.courses[id] = existing
			return &existing, nil
		}
	}
	stored := *course
	if stored.ID == "" {
		stored.ID = uuid.NewString()
	}
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = course.LastSyncedAt
	}
	r.courses[stored.ID] = stored
	r.logger.Debug("Created course in-memory", zap.String("userID", stored.UserID), zap.String("externalID", stored.ExternalID))
	return &stored, nil
}

func (r *InMemoryCourseRepository) GetByExternalID(ctx context.Context, userID, externalID string) (*models.Course, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, c := range r.courses {
		if c.UserID == userID && c.ExternalID == externalID {
			course := c
			return &course, nil
		}
	}
	return nil, nil // Not found
}

func (r *InMemoryCourseRepository) ListByUser(ctx context.Context, userID string) ([]*models.Course, error) {
	return r.list(userID, false), nil
}

func (r *InMemoryCourseRepository) ListSyncEnabled(ctx context.Context, userID string) ([]*models.Course, error) {
	return r.list(userID, true), nil
}

func (r *InMemoryCourseRepository) list(userID string, syncEnabledOnly bool) []*models.Course {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*models.Course
	for _, c := range r.courses {
		if c.UserID != userID || (syncEnabledOnly && !c.SyncEnabled) {
			continue
		}
		course := c
		out = append(out, &course)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExternalID < out[j].ExternalID })
	return out
}

func (r *InMemoryCourseRepository) DeleteByUser(ctx context.Context, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, c := range r.courses {
		if c.UserID == userID {
			delete(r.courses, id)
		}
	}
	return nil
}

// InMemoryTaskRepository is an in-memory implementation of TaskRepository.
type InMemoryTaskRepository struct {
	tasks  map[string]models.Task
	mu     sync.RWMutex
	logger *zap.Logger
}

func NewInMemoryTaskRepository(logger *zap.Logger) *InMemoryTaskRepository {
	return &InMemoryTaskRepository{
		tasks:  make(map[string]models.Task),
		logger: logger.Named("inmemory_task_repo"),
	}
}

func (r *InMemoryTaskRepository) Create(ctx context.Context, task *models.Task) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if task.ID == "" {
		task.ID = uuid.NewString()
	}
	if _, exists := r.tasks[task.ID]; exists {
		return fmt.Errorf("task with id %s already exists", task.ID)
	}
	if task.IsExternal() {
		for _, t := range r.tasks {
			if t.UserID == task.UserID && t.ExternalID == task.ExternalID {
				return fmt.Errorf("task with external id %s already exists for user %s", task.ExternalID, task.UserID)
			}
		}
	}
	r.tasks[task.ID] = *task
	return nil
}

func (r *InMemoryTaskRepository) GetByID(ctx context.Context, id string) (*models.Task, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, exists := r.tasks[id]
	if !exists {
		return nil, nil // Not found
	}
	return &t, nil
}

func (r *InMemoryTaskRepository) GetByExternalID(ctx context.Context, userID, externalID string) (*models.Task, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, t := range r.tasks {
		if t.UserID == userID && t.ExternalID == externalID {
			task := t
			return &task, nil
		}
	}
	return nil, nil // Not found
}

func (r *InMemoryTaskRepository) CountExternal(ctx context.Context, userID string) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, t := range r.tasks {
		if t.UserID == userID && t.IsExternal() {
			n++
		}
	}
	return n, nil
}

func (r *InMemoryTaskRepository) ListDueCandidates(ctx context.Context, userID string) ([]*models.Task, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*models.Task
	for _, t := range r.tasks {
		if t.UserID != userID || t.DueAt == nil || !t.IsOpen() {
			continue
		}
		task := t
		out = append(out, &task)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DueAt.Before(*out[j].DueAt) })
	return out, nil
}

func (r *InMemoryTaskRepository) ClaimDueNotification(ctx context.Context, taskID string, window models.DueWindow) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, exists := r.tasks[taskID]
	if !exists {
		return false, fmt.Errorf("task %s: %w", taskID, ErrNotFound)
	}
	switch window {
	case models.DueWindow24h:
		if t.Notified24h {
			return false, nil
		}
		t.Notified24h = true
	case models.DueWindow1h:
		if t.Notified1h {
			return false, nil
		}
		t.Notified1h = true
	default:
		return false, fmt.Errorf("unknown due window %q", window)
	}
	r.tasks[taskID] = t
	return true, nil
}

func (r *InMemoryTaskRepository) UpdateStatus(ctx context.Context, taskID string, status models.TaskStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, exists := r.tasks[taskID]
	if !exists {
		return fmt.Errorf("task %s: %w", taskID, ErrNotFound)
	}
	t.Status = status
	t.UpdatedAt = time.Now()
	r.tasks[taskID] = t
	return nil
}

func (r *InMemoryTaskRepository) Delete(ctx context.Context, taskID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tasks, taskID)
	return nil
}

// InMemoryScheduleRepository is an in-memory implementation of ScheduleRepository.
type InMemoryScheduleRepository struct {
	entries map[string]models.ScheduleEntry
	mu      sync.RWMutex
	logger  *zap.Logger
}

func NewInMemoryScheduleRepository(logger *zap.Logger) *InMemoryScheduleRepository {
	return &InMemoryScheduleRepository{
		entries: make(map[string]models.ScheduleEntry),
		logger:  logger.Named("inmemory_schedule_repo"),
	}
}

func (r *InMemoryScheduleRepository) Create(ctx context.Context, entry *models.ScheduleEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	stored := *entry
	stored.SkippedDates = append([]string(nil), entry.SkippedDates...)
	r.entries[entry.ID] = stored
	return nil
}

func (r *InMemoryScheduleRepository) ListByUser(ctx context.Context, userID string) ([]*models.ScheduleEntry, error) {
	return r.list(func(e models.ScheduleEntry) bool { return e.UserID == userID }), nil
}

func (r *InMemoryScheduleRepository) ListActiveForDay(ctx context.Context, userID string, day time.Weekday) ([]*models.ScheduleEntry, error) {
	return r.list(func(e models.ScheduleEntry) bool {
		return e.UserID == userID && e.Active && e.DayOfWeek == int(day)
	}), nil
}

func (r *InMemoryScheduleRepository) list(match func(models.ScheduleEntry) bool) []*models.ScheduleEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*models.ScheduleEntry
	for _, e := range r.entries {
		if !match(e) {
			continue
		}
		entry := e
		entry.SkippedDates = append([]string(nil), e.SkippedDates...)
		out = append(out, &entry)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime < out[j].StartTime })
	return out
}

func (r *InMemoryScheduleRepository) SkipDate(ctx context.Context, entryID, isoDate string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, exists := r.entries[entryID]
	if !exists {
		return fmt.Errorf("schedule entry %s: %w", entryID, ErrNotFound)
	}
	if e.IsSkipped(isoDate) {
		return nil
	}
	e.SkippedDates = append(append([]string(nil), e.SkippedDates...), isoDate)
	r.entries[entryID] = e
	return nil
}

func (r *InMemoryScheduleRepository) Delete(ctx context.Context, entryID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, entryID)
	return nil
}

// InMemoryPreferenceRepository is an in-memory implementation of PreferenceRepository.
type InMemoryPreferenceRepository struct {
	prefs  map[string]models.NotificationPreference
	mu     sync.RWMutex
	logger *zap.Logger
}

func NewInMemoryPreferenceRepository(logger *zap.Logger) *InMemoryPreferenceRepository {
	return &InMemoryPreferenceRepository{
		prefs:  make(map[string]models.NotificationPreference),
		logger: logger.Named("inmemory_preference_repo"),
	}
}

func (r *InMemoryPreferenceRepository) Get(ctx context.Context, userID string) (*models.NotificationPreference, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, exists := r.prefs[userID]
	if !exists {
		return nil, nil // Not found
	}
	return &p, nil
}

func (r *InMemoryPreferenceRepository) Save(ctx context.Context, pref *models.NotificationPreference) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.prefs[pref.UserID] = *pref
	r.logger.Debug("Saved notification preferences in-memory", zap.String("userID", pref.UserID))
	return nil
}

// InMemoryPushTokenRepository is an in-memory implementation of PushTokenRepository.
type InMemoryPushTokenRepository struct {
	tokens map[string]models.PushToken // keyed by device token
	mu     sync.RWMutex
	logger *zap.Logger
}

func NewInMemoryPushTokenRepository(logger *zap.Logger) *InMemoryPushTokenRepository {
	return &InMemoryPushTokenRepository{
		tokens: make(map[string]models.PushToken),
		logger: logger.Named("inmemory_push_token_repo"),
	}
}

func (r *InMemoryPushTokenRepository) Register(ctx context.Context, userID, token, platform string) (*models.PushToken, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now()
	pt, exists := r.tokens[token]
	if !exists {
		pt = models.PushToken{ID: uuid.NewString(), Token: token, CreatedAt: now}
	}
	pt.UserID = userID
	pt.Platform = platform
	pt.Active = true
	pt.UpdatedAt = now
	r.tokens[token] = pt
	r.logger.Info("Registered push token in-memory", zap.String("userID", userID))
	return &pt, nil
}

func (r *InMemoryPushTokenRepository) ListActiveByUser(ctx context.Context, userID string) ([]*models.PushToken, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*models.PushToken
	for _, pt := range r.tokens {
		if pt.UserID == userID && pt.Active {
			t := pt
			out = append(out, &t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Token < out[j].Token })
	return out, nil
}

func (r *InMemoryPushTokenRepository) ListUsersWithActiveTokens(ctx context.Context) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	seen := make(map[string]struct{})
	var users []string
	for _, pt := range r.tokens {
		if !pt.Active {
			continue
		}
		if _, ok := seen[pt.UserID]; ok {
			continue
		}
		seen[pt.UserID] = struct{}{}
		users = append(users, pt.UserID)
	}
	sort.Strings(users)
	return users, nil
}

func (r *InMemoryPushTokenRepository) Deactivate(ctx context.Context, token string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	pt, exists := r.tokens[token]
	if !exists {
		return fmt.Errorf("push token: %w", ErrNotFound)
	}
	pt.Active = false
	pt.UpdatedAt = time.Now()
	r.tokens[token] = pt
	r.logger.Info("Deactivated push token in-memory", zap.String("userID", pt.UserID))
	return nil
}

var (
	_ ConnectionRepository = (*InMemoryConnectionRepository)(nil)
	_ CourseRepository     = (*InMemoryCourseRepository)(nil)
	_ TaskRepository       = (*InMemoryTaskRepository)(nil)
	_ ScheduleRepository   = (*InMemoryScheduleRepository)(nil)
	_ PreferenceRepository = (*InMemoryPreferenceRepository)(nil)
	_ PushTokenRepository  = (*InMemoryPushTokenRepository)(nil)
)
