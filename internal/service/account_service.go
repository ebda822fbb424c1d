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

	"blockarchitech.com/studysync/internal/models"
	"blockarchitech.com/studysync/internal/repository"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
)

// AccountLinker runs the OAuth consent flow against the upstream.
type AccountLinker interface {
	AuthCodeURL(state string) string
	Exchange(ctx context.Context, code string) (*oauth2.Token, error)
	NewClient(ctx context.Context, accessToken string) (CourseworkClient, error)
}

// AccountService links and unlinks upstream accounts.
type AccountService struct {
	connections repository.ConnectionRepository
	courses     repository.CourseRepository
	linker      AccountLinker
	clock       Clock
	tracer      trace.Tracer
	logger      *zap.Logger
}

// NewAccountService creates a new AccountService.
func NewAccountService(connections repository.ConnectionRepository, courses repository.CourseRepository, linker AccountLinker, clock Clock, tracer trace.Tracer, logger *zap.Logger) *AccountService {
	return &AccountService{
		connections: connections,
		courses:     courses,
		linker:      linker,
		clock:       clock,
		tracer:      tracer,
		logger:      logger.Named("account_service"),
	}
}

// AuthCodeURL returns the URL the user visits to grant access.
func (s *AccountService) AuthCodeURL(state string) string {
	return s.linker.AuthCodeURL(state)
}

// Link exchanges an authorization code and stores the resulting connection
// with sync enabled. Linking again replaces the stored credentials.
func (s *AccountService) Link(ctx context.Context, userID, code string) (*models.Connection, error) {
	ctx, span := s.tracer.Start(ctx, "AccountService.Link")
	defer span.End()
	span.SetAttributes(attribute.String("user.id", userID))

	tok, err := s.linker.Exchange(ctx, code)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "Exchange failed")
		return nil, err
	}
	if tok.AccessToken == "" {
		return nil, fmt.Errorf("%w: exchange returned no access token", ErrCredential)
	}

	client, err := s.linker.NewClient(ctx, tok.AccessToken)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("%w: build client: %w", ErrCredential, err)
	}
	profile, err := client.GetProfile(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "Profile fetch failed")
		return nil, err
	}

	now := s.clock.Now()
	conn := &models.Connection{
		UserID:         userID,
		ExternalUserID: profile.ID,
		Email:          profile.Email,
		AccessToken:    tok.AccessToken,
		RefreshToken:   tok.RefreshToken,
		TokenExpiry:    tok.Expiry,
		SyncEnabled:    true,
		LinkedAt:       now,
	}
	if err := s.connections.Save(ctx, conn); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "Save connection failed")
		return nil, fmt.Errorf("%w: save connection: %w", ErrPersistence, err)
	}

	s.logger.Info("Linked upstream account",
		zap.String("userID", userID),
		zap.String("externalUserID", profile.ID),
		zap.Bool("hasRefreshToken", tok.RefreshToken != ""),
	)
	return conn, nil
}

// Unlink removes the connection and the mirrored courses. Imported tasks stay.
func (s *AccountService) Unlink(ctx context.Context, userID string) error {
	ctx, span := s.tracer.Start(ctx, "AccountService.Unlink")
	defer span.End()
	span.SetAttributes(attribute.String("user.id", userID))

	if err := s.connections.Delete(ctx, userID); err != nil {
		span.RecordError(err)
		return fmt.Errorf("%w: delete connection: %w", ErrPersistence, err)
	}
	if err := s.courses.DeleteByUser(ctx, userID); err != nil {
		span.RecordError(err)
		return fmt.Errorf("%w: delete courses: %w", ErrPersistence, err)
	}
	s.logger.Info("Unlinked upstream account", zap.String("userID", userID))
	return nil
}

var _ AccountLinker = (*ClassroomService)(nil)
var _ CourseworkProvider = (*ClassroomService)(nil)
