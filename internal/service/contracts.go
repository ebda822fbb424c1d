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
	"time"

	"blockarchitech.com/studysync/internal/models"
	"blockarchitech.com/studysync/internal/types/classroom"
	"golang.org/x/oauth2"
)

// CourseworkProvider builds upstream clients and refreshes credentials.
type CourseworkProvider interface {
	NewClient(ctx context.Context, accessToken string) (CourseworkClient, error)
	Refresh(ctx context.Context, refreshToken string) (*oauth2.Token, error)
}

// CourseworkClient reads one account's courses and assignments. Errors wrap
// ErrCredential when the upstream rejects the token and ErrUpstreamFetch otherwise.
type CourseworkClient interface {
	ListActiveCourses(ctx context.Context) ([]classroom.Course, error)
	ListTeachers(ctx context.Context, courseID string) ([]classroom.Teacher, error)
	ListAssignments(ctx context.Context, courseID string) ([]classroom.Assignment, error)
	GetProfile(ctx context.Context) (*classroom.Profile, error)
}

// ClientSource hands out a ready-to-use upstream client for a user.
type ClientSource interface {
	GetValidClient(ctx context.Context, userID string) (CourseworkClient, error)
}

// CourseSynchronizer mirrors upstream courses and assignments for one user.
type CourseSynchronizer interface {
	SyncCourses(ctx context.Context, userID string) error
	SyncTasks(ctx context.Context, userID string, now time.Time) ([]*models.Task, error)
}

// Notifier is the subset of the dispatcher used by the sync and reminder passes.
type Notifier interface {
	NotifyNewTask(ctx context.Context, userID string, task *models.Task) error
	NotifyClassReminder(ctx context.Context, userID string, entry *models.ScheduleEntry, minutes int) error
	NotifyGymReminder(ctx context.Context, userID string, entry *models.ScheduleEntry, minutes int) error
	NotifyActivityReminder(ctx context.Context, userID string, entry *models.ScheduleEntry, minutes int) error
	NotifyTaskDue(ctx context.Context, userID string, task *models.Task, window models.DueWindow) error
}

// PushMessage is one message addressed to one device token.
type PushMessage struct {
	Token string
	Message
}

// Message is the content of a notification.
type Message struct {
	Title string
	Body  string
	Data  map[string]string
}

type DeliveryStatus string

const (
	DeliveryOK                  DeliveryStatus = "ok"
	DeliveryFailed              DeliveryStatus = "failed"
	DeliveryDeviceNotRegistered DeliveryStatus = "device_not_registered"
)

// DeliveryOutcome is the per-token result of a send.
type DeliveryOutcome struct {
	Token  string
	Status DeliveryStatus
	Detail string
}

// PushTransport delivers a batch of messages and reports one outcome per message.
type PushTransport interface {
	Send(ctx context.Context, messages []PushMessage) ([]DeliveryOutcome, error)
}
