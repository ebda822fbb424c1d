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

package classroom

import "time"

// Course states reported by the upstream.
const (
	CourseStateActive   = "ACTIVE"
	CourseStateArchived = "ARCHIVED"
)

// Course is the subset of an upstream course that is mirrored locally.
type Course struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	Section       string `json:"section,omitempty"`
	Description   string `json:"descriptionHeading,omitempty"`
	Room          string `json:"room,omitempty"`
	OwnerID       string `json:"ownerId,omitempty"`
	AlternateLink string `json:"alternateLink,omitempty"`
	State         string `json:"courseState,omitempty"`
}

// Teacher is one entry of a course's teacher roster.
type Teacher struct {
	UserID   string `json:"userId"`
	FullName string `json:"fullName,omitempty"`
	Email    string `json:"emailAddress,omitempty"`
}

// Profile identifies the account the credentials belong to.
type Profile struct {
	ID       string `json:"id"`
	Email    string `json:"emailAddress,omitempty"`
	FullName string `json:"fullName,omitempty"`
}

// Date is a calendar date without a time zone.
type Date struct {
	Year  int `json:"year"`
	Month int `json:"month"`
	Day   int `json:"day"`
}

// TimeOfDay is a wall clock time, interpreted as UTC by the upstream.
type TimeOfDay struct {
	Hours   int `json:"hours"`
	Minutes int `json:"minutes"`
}

// Assignment is one upstream coursework item.
type Assignment struct {
	ID            string     `json:"id"`
	CourseID      string     `json:"courseId"`
	Title         string     `json:"title"`
	Description   string     `json:"description,omitempty"`
	AlternateLink string     `json:"alternateLink,omitempty"`
	DueDate       *Date      `json:"dueDate,omitempty"`
	DueTime       *TimeOfDay `json:"dueTime,omitempty"`
	State         string     `json:"state,omitempty"`
}

// DueAt combines the due date and time into an instant in UTC. A missing time
// defaults to 23:59. A missing date means the assignment has no due date.
func (a *Assignment) DueAt() *time.Time {
	if a.DueDate == nil || a.DueDate.Year == 0 || a.DueDate.Month == 0 || a.DueDate.Day == 0 {
		return nil
	}
	hour, minute := 23, 59
	if a.DueTime != nil {
		hour, minute = a.DueTime.Hours, a.DueTime.Minutes
	}
	due := time.Date(a.DueDate.Year, time.Month(a.DueDate.Month), a.DueDate.Day, hour, minute, 0, 0, time.UTC)
	return &due
}
