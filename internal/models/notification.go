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

// DefaultClassLeadMinutes is the class reminder lead time when the user has not set one.
const DefaultClassLeadMinutes = 15

// NotificationPreference holds per-user toggles for each notification category.
type NotificationPreference struct {
	UserID            string `gorm:"primaryKey" firestore:"userID" json:"userID"`
	NewTask           bool   `firestore:"newTask" json:"newTask"`
	ClassReminder     bool   `firestore:"classReminder" json:"classReminder"`
	GymReminder       bool   `firestore:"gymReminder" json:"gymReminder"`
	ActivityReminder  bool   `firestore:"activityReminder" json:"activityReminder"`
	TaskDue           bool   `firestore:"taskDue" json:"taskDue"`
	ClassLeadMinutes  int    `firestore:"classLeadMinutes,omitempty" json:"classLeadMinutes"`
	QuietHoursEnabled bool   `firestore:"quietHoursEnabled" json:"quietHoursEnabled"`
	QuietHoursStart   string `firestore:"quietHoursStart,omitempty" json:"quietHoursStart"` // HH:MM
	QuietHoursEnd     string `firestore:"quietHoursEnd,omitempty" json:"quietHoursEnd"`     // HH:MM
	Timezone          string `firestore:"timezone,omitempty" json:"timezone"`
}

// DefaultNotificationPreference is used for users without a stored record.
func DefaultNotificationPreference(userID string) *NotificationPreference {
	return &NotificationPreference{
		UserID:           userID,
		NewTask:          true,
		ClassReminder:    true,
		GymReminder:      true,
		ActivityReminder: true,
		TaskDue:          true,
		ClassLeadMinutes: DefaultClassLeadMinutes,
	}
}

// ClassLead returns the class reminder lead time, defaulting to 15 minutes.
func (p *NotificationPreference) ClassLead() int {
	if p.ClassLeadMinutes <= 0 {
		return DefaultClassLeadMinutes
	}
	return p.ClassLeadMinutes
}

// PushToken is one registered device endpoint. Tokens are deactivated, never
// deleted, once the push service reports them as unregistered.
type PushToken struct {
	ID        string    `gorm:"primaryKey" firestore:"id" json:"id"`
	UserID    string    `gorm:"index" firestore:"userID" json:"userID"`
	Token     string    `gorm:"uniqueIndex" firestore:"token" json:"-"`
	Platform  string    `firestore:"platform,omitempty" json:"platform"` // "ios" | "android"
	Active    bool      `gorm:"index" firestore:"active" json:"active"`
	CreatedAt time.Time `firestore:"createdAt" json:"createdAt"`
	UpdatedAt time.Time `firestore:"updatedAt" json:"updatedAt"`
}
