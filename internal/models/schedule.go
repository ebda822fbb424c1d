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

type ScheduleKind string

const (
	ScheduleKindClass    ScheduleKind = "class"
	ScheduleKindGym      ScheduleKind = "gym"
	ScheduleKindActivity ScheduleKind = "activity"
)

// ScheduleEntry is a recurring weekly slot. Times are "HH:MM" in the user's
// timezone and DayOfWeek follows time.Weekday (0 is Sunday).
type ScheduleEntry struct {
	ID        string       `gorm:"primaryKey" firestore:"id" json:"id"`
	UserID    string       `gorm:"index" firestore:"userID" json:"userID"`
	Kind      ScheduleKind `firestore:"kind" json:"kind"`
	Title     string       `firestore:"title" json:"title"`
	Location  string       `firestore:"location,omitempty" json:"location"`
	DayOfWeek int          `firestore:"dayOfWeek" json:"dayOfWeek"`
	StartTime string       `firestore:"startTime" json:"startTime"`
	EndTime   string       `firestore:"endTime" json:"endTime"`
	Active    bool         `firestore:"active" json:"active"`
	// ISO dates (2006-01-02) whose occurrence is skipped. Only gym entries use it.
	SkippedDates []string  `gorm:"serializer:json;type:text" firestore:"skippedDates,omitempty" json:"skippedDates"`
	CreatedAt    time.Time `firestore:"createdAt" json:"createdAt"`
}

// IsSkipped reports whether the occurrence on the given ISO date is suppressed.
func (e *ScheduleEntry) IsSkipped(isoDate string) bool {
	if e.Kind != ScheduleKindGym {
		return false
	}
	for _, d := range e.SkippedDates {
		if d == isoDate {
			return true
		}
	}
	return false
}
