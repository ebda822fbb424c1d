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
	"fmt"

	"blockarchitech.com/studysync/internal/repository"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// CredentialManager hands out upstream clients backed by a current access
// token, refreshing and persisting credentials when they have expired.
type CredentialManager struct {
	connections repository.ConnectionRepository
	provider    CourseworkProvider
	clock       Clock
	tracer      trace.Tracer
	logger      *zap.Logger
}

// NewCredentialManager creates a new CredentialManager.
func NewCredentialManager(connections repository.ConnectionRepository, provider CourseworkProvider, clock Clock, tracer trace.Tracer, logger *zap.Logger) *CredentialManager {
	return &CredentialManager{
		connections: connections,
		provider:    provider,
		clock:       clock,
		tracer:      tracer,
		logger:      logger.Named("credential_manager"),
	}
}

// GetValidClient loads the user's connection and returns a client for it. The
// connection is read fresh on every call.
func (m *CredentialManager) GetValidClient(ctx context.Context, userID string) (CourseworkClient, error) {
	ctx, span := m.tracer.Start(ctx, "CredentialManager.GetValidClient")
	defer span.End()
	span.SetAttributes(attribute.String("user.id", userID))

	conn, err := m.connections.GetByUserID(ctx, userID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "Load connection failed")
		return nil, fmt.Errorf("%w: load connection: %w", ErrPersistence, err)
	}
	if conn == nil || !conn.HasCredentials() {
		return nil, fmt.Errorf("%w: no access token for user %s", ErrNotConfigured, userID)
	}

	accessToken := conn.AccessToken
	if conn.IsExpired(m.clock.Now()) {
		if conn.RefreshToken == "" {
			span.SetStatus(codes.Error, "Token expired without refresh token")
			return nil, fmt.Errorf("%w: access token expired and no refresh token is stored", ErrCredential)
		}

		m.logger.Debug("Refreshing expired access token", zap.String("userID", userID), zap.Time("expiry", conn.TokenExpiry))
		tok, err := m.provider.Refresh(ctx, conn.RefreshToken)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "Refresh failed")
			return nil, fmt.Errorf("%w: refresh: %w", ErrCredential, err)
		}
		if tok == nil || tok.AccessToken == "" {
			span.SetStatus(codes.Error, "Refresh returned no token")
			return nil, fmt.Errorf("%w: refresh returned no access token", ErrCredential)
		}

		refreshToken := tok.RefreshToken
		if refreshToken == "" {
			refreshToken = conn.RefreshToken
		}
		if err := m.connections.UpdateCredentials(ctx, userID, tok.AccessToken, refreshToken, tok.Expiry); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "Persist refreshed token failed")
			return nil, fmt.Errorf("%w: persist refreshed token: %w", ErrPersistence, err)
		}
		m.logger.Info("Refreshed access token", zap.String("userID", userID), zap.Time("expiry", tok.Expiry))
		accessToken = tok.AccessToken
	}

	client, err := m.provider.NewClient(ctx, accessToken)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "Build client failed")
		return nil, fmt.Errorf("%w: build client: %w", ErrCredential, err)
	}
	return client, nil
}
