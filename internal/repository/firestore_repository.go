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
	"sort"
	"time"

	"blockarchitech.com/studysync/internal/config"
	"blockarchitech.com/studysync/internal/models"
	"blockarchitech.com/studysync/internal/utils"
	"cloud.google.com/go/firestore"
	"cloud.google.com/go/firestore/apiv1/firestorepb"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	connectionCollection = "connections"
	courseCollection     = "courses"
	taskCollection       = "tasks"
	scheduleCollection   = "schedules"
	preferenceCollection = "preferences"
	pushTokenCollection  = "pushTokens"
)

// NewFirestoreStore creates a Store backed by a single Firestore client.
func NewFirestoreStore(ctx context.Context, projectID string, logger *zap.Logger, cfg *config.Config) (*Store, error) {
	client, err := firestore.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to create firestore client: %w", err)
	}
	logger.Info("Successfully connected to Firestore", zap.String("projectID", projectID))
	return &Store{
		Connections: &FirestoreConnectionRepository{client: client, logger: logger.Named("firestore_connection_repo"), config: cfg},
		Courses:     &FirestoreCourseRepository{client: client, logger: logger.Named("firestore_course_repo")},
		Tasks:       &FirestoreTaskRepository{client: client, logger: logger.Named("firestore_task_repo")},
		Schedules:   &FirestoreScheduleRepository{client: client, logger: logger.Named("firestore_schedule_repo")},
		Preferences: &FirestorePreferenceRepository{client: client, logger: logger.Named("firestore_preference_repo")},
		PushTokens:  &FirestorePushTokenRepository{client: client, logger: logger.Named("firestore_push_token_repo")},
		closer:      client.Close,
	}, nil
}

func isNotFound(err error) bool {
	return status.Code(err) == codes.NotFound
}

// decodeAll drains a document iterator into a slice of T.
func decodeAll[T any](iter *firestore.DocumentIterator) ([]*T, error) {
	defer iter.Stop()
	var out []*T
	for {
		doc, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, err
		}
		var v T
		if err := doc.DataTo(&v); err != nil {
			return nil, fmt.Errorf("failed to decode %s: %w", doc.Ref.ID, err)
		}
		out = append(out, &v)
	}
	return out, nil
}

// decodeFirst returns the first document of the iterator, or nil if it is empty.
func decodeFirst[T any](iter *firestore.DocumentIterator) (*T, error) {
	defer iter.Stop()
	doc, err := iter.Next()
	if err != nil {
		if errors.Is(err, iterator.Done) {
			return nil, nil // Not found
		}
		return nil, err
	}
	var v T
	if err := doc.DataTo(&v); err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", doc.Ref.ID, err)
	}
	return &v, nil
}

// FirestoreConnectionRepository is a Firestore implementation of ConnectionRepository.
// Tokens are encrypted at rest when a secret key is configured.
type FirestoreConnectionRepository struct {
	client *firestore.Client
	logger *zap.Logger
	config *config.Config
}

func (r *FirestoreConnectionRepository) Save(ctx context.Context, conn *models.Connection) error {
	encrypted, err := encryptConnection(conn, r.config.SecretKey)
	if err != nil {
		return err
	}
	_, err = r.client.Collection(connectionCollection).Doc(conn.UserID).Set(ctx, encrypted)
	if err != nil {
		return fmt.Errorf("failed to save connection in firestore: %w", err)
	}
	r.logger.Info("Saved connection in Firestore", zap.String("userID", conn.UserID))
	return nil
}

func (r *FirestoreConnectionRepository) GetByUserID(ctx context.Context, userID string) (*models.Connection, error) {
	doc, err := r.client.Collection(connectionCollection).Doc(userID).Get(ctx)
	if err != nil {
		if isNotFound(err) {
			return nil, nil // Not found
		}
		return nil, fmt.Errorf("failed to get connection: %w", err)
	}
	var conn models.Connection
	if err := doc.DataTo(&conn); err != nil {
		return nil, fmt.Errorf("failed to decode connection data: %w", err)
	}
	return decryptConnection(&conn, r.config.SecretKey)
}

func (r *FirestoreConnectionRepository) ListSyncEnabled(ctx context.Context) ([]*models.Connection, error) {
	conns, err := decodeAll[models.Connection](r.client.Collection(connectionCollection).Where("syncEnabled", "==", true).Documents(ctx))
	if err != nil {
		return nil, fmt.Errorf("failed to list connections: %w", err)
	}
	out := make([]*models.Connection, 0, len(conns))
	for _, c := range conns {
		dec, err := decryptConnection(c, r.config.SecretKey)
		if err != nil {
			r.logger.Error("Skipping connection with undecryptable credentials", zap.String("userID", c.UserID), zap.Error(err))
			continue
		}
		out = append(out, dec)
	}
	return out, nil
}

func (r *FirestoreConnectionRepository) UpdateCredentials(ctx context.Context, userID, accessToken, refreshToken string, expiry time.Time) error {
	var err error
	if r.config.SecretKey != "" {
		if accessToken, err = utils.Encrypt(accessToken, r.config.SecretKey); err != nil {
			return fmt.Errorf("failed to encrypt access token: %w", err)
		}
		if refreshToken != "" {
			if refreshToken, err = utils.Encrypt(refreshToken, r.config.SecretKey); err != nil {
				return fmt.Errorf("failed to encrypt refresh token: %w", err)
			}
		}
	}
	_, err = r.client.Collection(connectionCollection).Doc(userID).Update(ctx, []firestore.Update{
		{Path: "accessToken", Value: accessToken},
		{Path: "refreshToken", Value: refreshToken},
		{Path: "tokenExpiry", Value: expiry},
	})
	if err != nil {
		if isNotFound(err) {
			return fmt.Errorf("connection for user %s: %w", userID, ErrNotFound)
		}
		return fmt.Errorf("failed to update credentials: %w", err)
	}
	return nil
}

func (r *FirestoreConnectionRepository) UpdateLastSync(ctx context.Context, userID string, at time.Time) error {
	_, err := r.client.Collection(connectionCollection).Doc(userID).Update(ctx, []firestore.Update{
		{Path: "lastSyncAt", Value: at},
	})
	if err != nil {
		if isNotFound(err) {
			return fmt.Errorf("connection for user %s: %w", userID, ErrNotFound)
		}
		return fmt.Errorf("failed to update last sync: %w", err)
	}
	return nil
}

func (r *FirestoreConnectionRepository) Delete(ctx context.Context, userID string) error {
	_, err := r.client.Collection(connectionCollection).Doc(userID).Delete(ctx)
	if err != nil && !isNotFound(err) {
		return fmt.Errorf("failed to delete connection: %w", err)
	}
	r.logger.Info("Deleted connection from Firestore", zap.String("userID", userID))
	return nil
}

// FirestoreCourseRepository is a Firestore implementation of CourseRepository.
type FirestoreCourseRepository struct {
	client *firestore.Client
	logger *zap.Logger
}

func (r *FirestoreCourseRepository) Upsert(ctx context.Context, course *models.Course) (*models.Course, error) {
	var stored models.Course
	err := r.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		q := r.client.Collection(courseCollection).
			Where("userID", "==", course.UserID).
			Where("externalID", "==", course.ExternalID).
			Limit(1)
		docs, err := tx.Documents(q).GetAll()
		if err != nil {
			return err
		}
		if len(docs) == 0 {
			stored = *course
			if stored.ID == "" {
				stored.ID = uuid.NewString()
			}
			if stored.CreatedAt.IsZero() {
				stored.CreatedAt = course.LastSyncedAt
			}
			return tx.Create(r.client.Collection(courseCollection).Doc(stored.ID), stored)
		}
		if err := docs[0].DataTo(&stored); err != nil {
			return err
		}
		stored.Name = course.Name
		stored.Section = course.Section
		stored.Description = course.Description
		stored.Room = course.Room
		stored.Instructor = course.Instructor
		stored.Link = course.Link
		stored.LastSyncedAt = course.LastSyncedAt
		return tx.Set(docs[0].Ref, stored)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to upsert course %s: %w", course.ExternalID, err)
	}
	return &stored, nil
}

func (r *FirestoreCourseRepository) GetByExternalID(ctx context.Context, userID, externalID string) (*models.Course, error) {
	c, err := decodeFirst[models.Course](r.client.Collection(courseCollection).
		Where("userID", "==", userID).
		Where("externalID", "==", externalID).
		Limit(1).Documents(ctx))
	if err != nil {
		return nil, fmt.Errorf("failed to get course by external id: %w", err)
	}
	return c, nil
}

func (r *FirestoreCourseRepository) ListByUser(ctx context.Context, userID string) ([]*models.Course, error) {
	courses, err := decodeAll[models.Course](r.client.Collection(courseCollection).Where("userID", "==", userID).Documents(ctx))
	if err != nil {
		return nil, fmt.Errorf("failed to list courses: %w", err)
	}
	return courses, nil
}

func (r *FirestoreCourseRepository) ListSyncEnabled(ctx context.Context, userID string) ([]*models.Course, error) {
	courses, err := decodeAll[models.Course](r.client.Collection(courseCollection).
		Where("userID", "==", userID).
		Where("syncEnabled", "==", true).
		Documents(ctx))
	if err != nil {
		return nil, fmt.Errorf("failed to list sync-enabled courses: %w", err)
	}
	return courses, nil
}

func (r *FirestoreCourseRepository) DeleteByUser(ctx context.Context, userID string) error {
	iter := r.client.Collection(courseCollection).Where("userID", "==", userID).Documents(ctx)
	defer iter.Stop()
	bw := r.client.BulkWriter(ctx)
	for {
		doc, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			bw.End()
			return fmt.Errorf("failed to list courses for deletion: %w", err)
		}
		if _, err := bw.Delete(doc.Ref); err != nil {
			bw.End()
			return fmt.Errorf("failed to queue course deletion: %w", err)
		}
	}
	bw.End()
	r.logger.Info("Deleted courses from Firestore", zap.String("userID", userID))
	return nil
}

// FirestoreTaskRepository is a Firestore implementation of TaskRepository.
type FirestoreTaskRepository struct {
	client *firestore.Client
	logger *zap.Logger
}

func (r *FirestoreTaskRepository) Create(ctx context.Context, task *models.Task) error {
	if task.ID == "" {
		task.ID = uuid.NewString()
	}
	_, err := r.client.Collection(taskCollection).Doc(task.ID).Create(ctx, task)
	if err != nil {
		return fmt.Errorf("failed to create task in firestore: %w", err)
	}
	return nil
}

func (r *FirestoreTaskRepository) GetByID(ctx context.Context, id string) (*models.Task, error) {
	doc, err := r.client.Collection(taskCollection).Doc(id).Get(ctx)
	if err != nil {
		if isNotFound(err) {
			return nil, nil // Not found
		}
		return nil, fmt.Errorf("failed to get task: %w", err)
	}
	var task models.Task
	if err := doc.DataTo(&task); err != nil {
		return nil, fmt.Errorf("failed to decode task data: %w", err)
	}
	return &task, nil
}

func (r *FirestoreTaskRepository) GetByExternalID(ctx context.Context, userID, externalID string) (*models.Task, error) {
	t, err := decodeFirst[models.Task](r.client.Collection(taskCollection).
		Where("userID", "==", userID).
		Where("externalID", "==", externalID).
		Limit(1).Documents(ctx))
	if err != nil {
		return nil, fmt.Errorf("failed to get task by external id: %w", err)
	}
	return t, nil
}

func (r *FirestoreTaskRepository) CountExternal(ctx context.Context, userID string) (int, error) {
	q := r.client.Collection(taskCollection).
		Where("userID", "==", userID).
		Where("externalID", "!=", "")
	res, err := q.NewAggregationQuery().WithCount("all").Get(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to count external tasks: %w", err)
	}
	v, ok := res["all"].(*firestorepb.Value)
	if !ok {
		return 0, fmt.Errorf("unexpected count result type %T", res["all"])
	}
	return int(v.GetIntegerValue()), nil
}

func (r *FirestoreTaskRepository) ListDueCandidates(ctx context.Context, userID string) ([]*models.Task, error) {
	tasks, err := decodeAll[models.Task](r.client.Collection(taskCollection).Where("userID", "==", userID).Documents(ctx))
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}
	out := tasks[:0]
	for _, t := range tasks {
		if t.DueAt != nil && t.IsOpen() {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DueAt.Before(*out[j].DueAt) })
	return out, nil
}

func (r *FirestoreTaskRepository) ClaimDueNotification(ctx context.Context, taskID string, window models.DueWindow) (bool, error) {
	var field string
	switch window {
	case models.DueWindow24h:
		field = "notified24h"
	case models.DueWindow1h:
		field = "notified1h"
	default:
		return false, fmt.Errorf("unknown due window %q", window)
	}

	ref := r.client.Collection(taskCollection).Doc(taskID)
	claimed := false
	err := r.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		claimed = false
		doc, err := tx.Get(ref)
		if err != nil {
			return err
		}
		var task models.Task
		if err := doc.DataTo(&task); err != nil {
			return err
		}
		if task.Notified(window) {
			return nil
		}
		claimed = true
		return tx.Update(ref, []firestore.Update{{Path: field, Value: true}})
	})
	if err != nil {
		if isNotFound(err) {
			return false, fmt.Errorf("task %s: %w", taskID, ErrNotFound)
		}
		return false, fmt.Errorf("failed to claim %s reminder: %w", window, err)
	}
	return claimed, nil
}

func (r *FirestoreTaskRepository) UpdateStatus(ctx context.Context, taskID string, st models.TaskStatus) error {
	_, err := r.client.Collection(taskCollection).Doc(taskID).Update(ctx, []firestore.Update{
		{Path: "status", Value: st},
		{Path: "updatedAt", Value: time.Now()},
	})
	if err != nil {
		if isNotFound(err) {
			return fmt.Errorf("task %s: %w", taskID, ErrNotFound)
		}
		return fmt.Errorf("failed to update task status: %w", err)
	}
	return nil
}

func (r *FirestoreTaskRepository) Delete(ctx context.Context, taskID string) error {
	_, err := r.client.Collection(taskCollection).Doc(taskID).Delete(ctx)
	if err != nil && !isNotFound(err) {
		return fmt.Errorf("failed to delete task: %w", err)
	}
	return nil
}

// FirestoreScheduleRepository is a Firestore implementation of ScheduleRepository.
type FirestoreScheduleRepository struct {
	client *firestore.Client
	logger *zap.Logger
}

func (r *FirestoreScheduleRepository) Create(ctx context.Context, entry *models.ScheduleEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if _, err := r.client.Collection(scheduleCollection).Doc(entry.ID).Create(ctx, entry); err != nil {
		return fmt.Errorf("failed to create schedule entry: %w", err)
	}
	return nil
}

func (r *FirestoreScheduleRepository) ListByUser(ctx context.Context, userID string) ([]*models.ScheduleEntry, error) {
	entries, err := decodeAll[models.ScheduleEntry](r.client.Collection(scheduleCollection).Where("userID", "==", userID).Documents(ctx))
	if err != nil {
		return nil, fmt.Errorf("failed to list schedule entries: %w", err)
	}
	return entries, nil
}

func (r *FirestoreScheduleRepository) ListActiveForDay(ctx context.Context, userID string, day time.Weekday) ([]*models.ScheduleEntry, error) {
	entries, err := decodeAll[models.ScheduleEntry](r.client.Collection(scheduleCollection).
		Where("userID", "==", userID).
		Where("dayOfWeek", "==", int(day)).
		Where("active", "==", true).
		Documents(ctx))
	if err != nil {
		return nil, fmt.Errorf("failed to list schedule entries for day: %w", err)
	}
	return entries, nil
}

func (r *FirestoreScheduleRepository) SkipDate(ctx context.Context, entryID, isoDate string) error {
	_, err := r.client.Collection(scheduleCollection).Doc(entryID).Update(ctx, []firestore.Update{
		{Path: "skippedDates", Value: firestore.ArrayUnion(isoDate)},
	})
	if err != nil {
		if isNotFound(err) {
			return fmt.Errorf("schedule entry %s: %w", entryID, ErrNotFound)
		}
		return fmt.Errorf("failed to skip date: %w", err)
	}
	return nil
}

func (r *FirestoreScheduleRepository) Delete(ctx context.Context, entryID string) error {
	_, err := r.client.Collection(scheduleCollection).Doc(entryID).Delete(ctx)
	if err != nil && !isNotFound(err) {
		return fmt.Errorf("failed to delete schedule entry: %w", err)
	}
	return nil
}

// FirestorePreferenceRepository is a Firestore implementation of PreferenceRepository.
type FirestorePreferenceRepository struct {
	client *firestore.Client
	logger *zap.Logger
}

func (r *FirestorePreferenceRepository) Get(ctx context.Context, userID string) (*models.NotificationPreference, error) {
	doc, err := r.client.Collection(preferenceCollection).Doc(userID).Get(ctx)
	if err != nil {
		if isNotFound(err) {
			return nil, nil // Not found
		}
		return nil, fmt.Errorf("failed to get preferences: %w", err)
	}
	var pref models.NotificationPreference
	if err := doc.DataTo(&pref); err != nil {
		return nil, fmt.Errorf("failed to decode preferences: %w", err)
	}
	return &pref, nil
}

func (r *FirestorePreferenceRepository) Save(ctx context.Context, pref *models.NotificationPreference) error {
	if _, err := r.client.Collection(preferenceCollection).Doc(pref.UserID).Set(ctx, pref); err != nil {
		return fmt.Errorf("failed to save preferences: %w", err)
	}
	return nil
}

// FirestorePushTokenRepository is a Firestore implementation of PushTokenRepository.
type FirestorePushTokenRepository struct {
	client *firestore.Client
	logger *zap.Logger
}

func (r *FirestorePushTokenRepository) byToken(token string) firestore.Query {
	return r.client.Collection(pushTokenCollection).Where("token", "==", token).Limit(1)
}

func (r *FirestorePushTokenRepository) Register(ctx context.Context, userID, token, platform string) (*models.PushToken, error) {
	var stored models.PushToken
	err := r.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		docs, err := tx.Documents(r.byToken(token)).GetAll()
		if err != nil {
			return err
		}
		now := time.Now()
		if len(docs) == 0 {
			stored = models.PushToken{ID: uuid.NewString(), Token: token, CreatedAt: now}
		} else if err := docs[0].DataTo(&stored); err != nil {
			return err
		}
		stored.UserID = userID
		stored.Platform = platform
		stored.Active = true
		stored.UpdatedAt = now
		return tx.Set(r.client.Collection(pushTokenCollection).Doc(stored.ID), stored)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to register push token: %w", err)
	}
	r.logger.Info("Registered push token in Firestore", zap.String("userID", userID))
	return &stored, nil
}

func (r *FirestorePushTokenRepository) ListActiveByUser(ctx context.Context, userID string) ([]*models.PushToken, error) {
	tokens, err := decodeAll[models.PushToken](r.client.Collection(pushTokenCollection).
		Where("userID", "==", userID).
		Where("active", "==", true).
		Documents(ctx))
	if err != nil {
		return nil, fmt.Errorf("failed to list push tokens: %w", err)
	}
	return tokens, nil
}

func (r *FirestorePushTokenRepository) ListUsersWithActiveTokens(ctx context.Context) ([]string, error) {
	tokens, err := decodeAll[models.PushToken](r.client.Collection(pushTokenCollection).
		Where("active", "==", true).
		Select("userID").
		Documents(ctx))
	if err != nil {
		return nil, fmt.Errorf("failed to list push token owners: %w", err)
	}
	seen := make(map[string]struct{}, len(tokens))
	var users []string
	for _, t := range tokens {
		if _, ok := seen[t.UserID]; ok {
			continue
		}
		seen[t.UserID] = struct{}{}
		users = append(users, t.UserID)
	}
	sort.Strings(users)
	return users, nil
}

func (r *FirestorePushTokenRepository) Deactivate(ctx context.Context, token string) error {
	iter := r.byToken(token).Documents(ctx)
	defer iter.Stop()
	doc, err := iter.Next()
	if err != nil {
		if errors.Is(err, iterator.Done) {
			return fmt.Errorf("push token: %w", ErrNotFound)
		}
		return fmt.Errorf("failed to find push token: %w", err)
	}
	_, err = doc.Ref.Update(ctx, []firestore.Update{
		{Path: "active", Value: false},
		{Path: "updatedAt", Value: time.Now()},
	})
	if err != nil {
		return fmt.Errorf("failed to deactivate push token: %w", err)
	}
	return nil
}

var (
	_ ConnectionRepository = (*FirestoreConnectionRepository)(nil)
	_ CourseRepository     = (*FirestoreCourseRepository)(nil)
	_ TaskRepository       = (*FirestoreTaskRepository)(nil)
	_ ScheduleRepository   = (*FirestoreScheduleRepository)(nil)
	_ PreferenceRepository = (*FirestorePreferenceRepository)(nil)
	_ PushTokenRepository  = (*FirestorePushTokenRepository)(nil)
)
