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

package utils

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"net/http"
)

type AuthUtils struct{}

// NewAuthUtils creates a new instance of AuthUtils.
func NewAuthUtils() *AuthUtils {
	return &AuthUtils{}
}

// GenerateOAuthState creates a random base64 string for OAuth state.
func (a *AuthUtils) GenerateOAuthState() (string, error) {
	b := make([]byte, 32)
	_, err := rand.Read(b)
	if err != nil {
		return "", fmt.Errorf("failed to read random bytes for state: %w", err)
	}
	return base64.URLEncoding.EncodeToString(b), nil
}

// GetBearerToken retrieves the bearer token from the Authorization header.
func (a *AuthUtils) GetBearerToken(r *http.Request) (string, error) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return "", fmt.Errorf("missing Authorization header")
	}
	parts := SplitAndTrim(authHeader, " ")
	if len(parts) != 2 || parts[0] != "Bearer" {
		return "", fmt.Errorf("invalid Authorization header format")
	}
	if len(parts[1]) == 0 {
		return "", fmt.Errorf("missing token in Authorization header")
	}
	return parts[1], nil
}

// TokensEqual compares two secrets in constant time.
func (a *AuthUtils) TokensEqual(got, want string) bool {
	return subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}
