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

// Course is the local mirror of one upstream course.
type Course struct {
	ID           string    `gorm:"primaryKey" firestore:"id" json:"id"`
	UserID       string    `gorm:"uniqueIndex:idx_course_user_external" firestore:"userID" json:"userID"`
	ExternalID   string    `gorm:"uniqueIndex:idx_course_user_external" firestore:"externalID" json:"externalID"`
	Name         string    `firestore:"name" json:"name"`
	Section      string    `firestore:"section,omitempty" json:"section"`
	Description  string    `firestore:"description,omitempty" json:"description"`
	Room         string    `firestore:"room,omitempty" json:"room"`
	Instructor   string    `firestore:"instructor,omitempty" json:"instructor"`
	Link         string    `firestore:"link,omitempty" json:"link"`
	SyncEnabled  bool      `firestore:"syncEnabled" json:"syncEnabled"`
	LastSyncedAt time.Time `firestore:"lastSyncedAt" json:"lastSyncedAt"`
	CreatedAt    time.Time `firestore:"createdAt" json:"createdAt"`
}
