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
	"blockarchitech.com/studysync/internal/types/classroom"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// highPriorityWindow is how close a due date must be at import time for the
// task to be imported as high priority.
const highPriorityWindow = 24 * time.Hour

// CourseSyncService mirrors a user's upstream courses and imports new
// assignments as tasks. Tasks are create-only: an imported task is never
// rewritten by a later sync.
type CourseSyncService struct {
	credentials ClientSource
	courses     repository.CourseRepository
	tasks       repository.TaskRepository
	clock       Clock
	tracer      trace.Tracer
	logger      *zap.Logger
}

// NewCourseSyncService creates a new CourseSyncService.
func NewCourseSyncService(credentials ClientSource, courses repository.CourseRepository, tasks repository.TaskRepository, clock Clock, tracer trace.Tracer, logger *zap.Logger) *CourseSyncService {
	return &CourseSyncService{
		credentials: credentials,
		courses:     courses,
		tasks:       tasks,
		clock:       clock,
		tracer:      tracer,
		logger:      logger.Named("course_sync_service"),
	}
}

// SyncCourses upserts every active upstream course of the user.
func (s *CourseSyncService) SyncCourses(ctx context.Context, userID string) error {
	ctx, span := s.tracer.Start(ctx, "CourseSyncService.SyncCourses")
	defer span.End()
	span.SetAttributes(attribute.String("user.id", userID))

	client, err := s.credentials.GetValidClient(ctx, userID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "No client")
		return err
	}

	upstream, err := client.ListActiveCourses(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "List courses failed")
		return err
	}

	now := s.clock.Now()
	for i := range upstream {
		c := &upstream[i]
		course := &models.Course{
			UserID:       userID,
			ExternalID:   c.ID,
			Name:         c.Name,
			Section:      c.Section,
			Description:  c.Description,
			Room:         c.Room,
			Instructor:   s.resolveInstructor(ctx, client, userID, c),
			Link:         c.AlternateLink,
			SyncEnabled:  true,
			LastSyncedAt: now,
		}
		if _, err := s.courses.Upsert(ctx, course); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "Upsert course failed")
			return fmt.Errorf("%w: upsert course %s: %w", ErrPersistence, c.ID, err)
		}
	}

	span.SetAttributes(attribute.Int("courses.count", len(upstream)))
	s.logger.Info("Synced courses", zap.String("userID", userID), zap.Int("count", len(upstream)))
	return nil
}

// resolveInstructor picks the course owner from the teacher roster, falling
// back to the first teacher. Roster failures leave the instructor empty.
func (s *CourseSyncService) resolveInstructor(ctx context.Context, client CourseworkClient, userID string, c *classroom.Course) string {
	teachers, err := client.ListTeachers(ctx, c.ID)
	if err != nil {
		s.logger.Warn("Failed to list teachers",
			zap.String("userID", userID),
			zap.String("courseID", c.ID),
			zap.Error(err),
		)
		return ""
	}
	if len(teachers) == 0 {
		return ""
	}
	for _, t := range teachers {
		if c.OwnerID != "" && t.UserID == c.OwnerID {
			return t.FullName
		}
	}
	return teachers[0].FullName
}

// SyncTasks imports assignments that have no local task yet and returns the
// tasks created. A failure to fetch one course is logged and the remaining
// courses still sync.
func (s *CourseSyncService) SyncTasks(ctx context.Context, userID string, now time.Time) ([]*models.Task, error) {
	ctx, span := s.tracer.Start(ctx, "CourseSyncService.SyncTasks")
	defer span.End()
	span.SetAttributes(attribute.String("user.id", userID))

	client, err := s.credentials.GetValidClient(ctx, userID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "No client")
		return nil, err
	}

	courses, err := s.courses.ListSyncEnabled(ctx, userID)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("%w: list courses: %w", ErrPersistence, err)
	}

	var created []*models.Task
	for _, course := range courses {
		assignments, err := client.ListAssignments(ctx, course.ExternalID)
		if err != nil {
			if errors.Is(err, ErrCredential) {
				span.RecordError(err)
				span.SetStatus(codes.Error, "Credentials rejected")
				return created, err
			}
			s.logger.Error("Failed to fetch assignments, skipping course",
				zap.String("userID", userID),
				zap.String("courseID", course.ExternalID),
				zap.Error(err),
			)
			continue
		}

		for i := range assignments {
			a := &assignments[i]
			existing, err := s.tasks.GetByExternalID(ctx, userID, a.ID)
			if err != nil {
				return created, fmt.Errorf("%w: look up assignment %s: %w", ErrPersistence, a.ID, err)
			}
			if existing != nil {
				continue
			}

			task := newTaskFromAssignment(userID, course, a, now)
			if err := s.tasks.Create(ctx, task); err != nil {
				return created, fmt.Errorf("%w: create task for assignment %s: %w", ErrPersistence, a.ID, err)
			}
			s.logger.Debug("Imported assignment",
				zap.String("userID", userID),
				zap.String("courseID", course.ExternalID),
				zap.String("taskID", task.ID),
			)
			created = append(created, task)
		}
	}

	span.SetAttributes(attribute.Int("tasks.created", len(created)))
	s.logger.Info("Synced tasks", zap.String("userID", userID), zap.Int("created", len(created)))
	return created, nil
}

func newTaskFromAssignment(userID string, course *models.Course, a *classroom.Assignment, now time.Time) *models.Task {
	due := a.DueAt()
	priority := models.TaskPriorityMedium
	if due != nil && !due.After(now.Add(highPriorityWindow)) {
		priority = models.TaskPriorityHigh
	}
	return &models.Task{
		ID:          uuid.NewString(),
		UserID:      userID,
		CourseID:    course.ID,
		ExternalID:  a.ID,
		Title:       a.Title,
		Description: a.Description,
		Link:        a.AlternateLink,
		DueAt:       due,
		Status:      models.TaskStatusPending,
		Priority:    priority,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}
