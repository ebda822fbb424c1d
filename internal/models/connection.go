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

// Connection links a user account to their Google Classroom identity and holds
// the OAuth credentials used to read it.
type Connection struct {
	UserID         string     `gorm:"primaryKey" firestore:"userID" json:"userID"`
	ExternalUserID string     `firestore:"externalUserID,omitempty" json:"externalUserID"`
	Email          string     `firestore:"email,omitempty" json:"email"`
	AccessToken    string     `firestore:"accessToken,omitempty" json:"-"`
	RefreshToken   string     `firestore:"refreshToken,omitempty" json:"-"`
	TokenExpiry    time.Time  `firestore:"tokenExpiry,omitempty" json:"tokenExpiry"`
	SyncEnabled    bool       `gorm:"index" firestore:"syncEnabled" json:"syncEnabled"`
	LastSyncAt     *time.Time `firestore:"lastSyncAt,omitempty" json:"lastSyncAt"`
	LinkedAt       time.Time  `firestore:"linkedAt,omitempty" json:"linkedAt"`
}

// HasCredentials reports whether an access token is on file. Accounts linked
// without OAuth (manual mode) have none.
func (c *Connection) HasCredentials() bool {
	return c.AccessToken != ""
}

// IsExpired reports whether the access token expiry is at or before now. A zero
// expiry counts as expired.
func (c *Connection) IsExpired(now time.Time) bool {
	return !c.TokenExpiry.After(now)
}
