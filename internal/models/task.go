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

package models

import "time"

type TaskStatus string

const (
	TaskStatusPending    TaskStatus = "pending"
	TaskStatusInProgress TaskStatus = "in_progress"
	TaskStatusCompleted  TaskStatus = "completed"
	TaskStatusLate       TaskStatus = "late"
)

type TaskPriority string

const (
	TaskPriorityLow    TaskPriority = "low"
	TaskPriorityMedium TaskPriority = "medium"
	TaskPriorityHigh   TaskPriority = "high"
)

// DueWindow identifies one of the two due-date reminders a task can receive.
type DueWindow string

const (
	DueWindow24h DueWindow = "24h"
	DueWindow1h  DueWindow = "1h"
)

// Task is either imported from an upstream assignment (ExternalID set) or
// created locally. Imported tasks are never rewritten by later syncs.
type Task struct {
	ID          string       `gorm:"primaryKey" firestore:"id" json:"id"`
	UserID      string       `gorm:"index:idx_task_user_external" firestore:"userID" json:"userID"`
	CourseID    string       `firestore:"courseID,omitempty" json:"courseID"`
	ExternalID  string       `gorm:"index:idx_task_user_external" firestore:"externalID,omitempty" json:"externalID"`
	Title       string       `firestore:"title" json:"title"`
	Description string       `firestore:"description,omitempty" json:"description"`
	Link        string       `firestore:"link,omitempty" json:"link"`
	DueAt       *time.Time   `firestore:"dueAt,omitempty" json:"dueAt"`
	Status      TaskStatus   `firestore:"status" json:"status"`
	Priority    TaskPriority `firestore:"priority" json:"priority"`
	// One-way markers; only task deletion clears them.
	Notified24h bool      `gorm:"column:notified_24h" firestore:"notified24h" json:"notified24h"`
	Notified1h  bool      `gorm:"column:notified_1h" firestore:"notified1h" json:"notified1h"`
	CreatedAt   time.Time `firestore:"createdAt" json:"createdAt"`
	UpdatedAt   time.Time `firestore:"updatedAt" json:"updatedAt"`
}

// IsExternal reports whether the task was imported from the upstream.
func (t *Task) IsExternal() bool {
	return t.ExternalID != ""
}

// IsOpen reports whether the task can still receive due reminders.
func (t *Task) IsOpen() bool {
	return t.Status != TaskStatusCompleted && t.Status != TaskStatusLate
}

// Notified reports the state of the flag for the given window.
func (t *Task) Notified(w DueWindow) bool {
	switch w {
	case DueWindow24h:
		return t.Notified24h
	case DueWindow1h:
		return t.Notified1h
	}
	return false
}
