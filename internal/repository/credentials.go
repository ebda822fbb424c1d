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
	"fmt"

	"blockarchitech.com/studysync/internal/models"
	"blockarchitech.com/studysync/internal/utils"
)

// encryptConnection encrypts the token fields of a connection.
func encryptConnection(conn *models.Connection, key string) (*models.Connection, error) {
	if key == "" {
		return conn, nil
	}
	encrypted := *conn
	var err error
	if encrypted.AccessToken != "" {
		if encrypted.AccessToken, err = utils.Encrypt(encrypted.AccessToken, key); err != nil {
			return nil, fmt.Errorf("failed to encrypt access token: %w", err)
		}
	}
	if encrypted.RefreshToken != "" {
		if encrypted.RefreshToken, err = utils.Encrypt(encrypted.RefreshToken, key); err != nil {
			return nil, fmt.Errorf("failed to encrypt refresh token: %w", err)
		}
	}
	return &encrypted, nil
}

// decryptConnection decrypts the token fields of a connection.
func decryptConnection(conn *models.Connection, key string) (*models.Connection, error) {
	if key == "" {
		return conn, nil
	}
	decrypted := *conn
	var err error
	if decrypted.AccessToken != "" {
		if decrypted.AccessToken, err = utils.Decrypt(decrypted.AccessToken, key); err != nil {
			return nil, fmt.Errorf("failed to decrypt access token: %w", err)
		}
	}
	if decrypted.RefreshToken != "" {
		if decrypted.RefreshToken, err = utils.Decrypt(decrypted.RefreshToken, key); err != nil {
			return nil, fmt.Errorf("failed to decrypt refresh token: %w", err)
		}
	}
	return &decrypted, nil
}
