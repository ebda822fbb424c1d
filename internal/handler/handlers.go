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

package handler

import (
	"context"
	"time"

	"blockarchitech.com/studysync/internal/config"
	"blockarchitech.com/studysync/internal/models"
	"blockarchitech.com/studysync/internal/service"
	"blockarchitech.com/studysync/internal/utils"
	"blockarchitech.com/studysync/internal/view"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// JobRunner triggers and reports the background passes.
type JobRunner interface {
	RunSyncNow(ctx context.Context) (service.SyncSummary, error)
	RunRemindersNow(ctx context.Context) (service.ReminderSummary, error)
	LastRuns() []service.JobRun
}

// AccountLinker links and unlinks upstream accounts.
type AccountLinker interface {
	AuthCodeURL(state string) string
	Link(ctx context.Context, userID, code string) (*models.Connection, error)
	Unlink(ctx context.Context, userID string) error
}

// HttpHandlers holds application-wide state and dependencies.
type HttpHandlers struct {
	logger    *zap.Logger
	config    *config.Config
	accounts  AccountLinker
	jobs      JobRunner
	templates *view.HTMLTemplateManager
	now       func() time.Time
	Tracer    trace.Tracer
	AuthUtils *utils.AuthUtils
}

// NewHttpHandlers creates a new HttpHandlers instance.
func NewHttpHandlers(
	logger *zap.Logger,
	cfg *config.Config,
	accounts AccountLinker,
	jobs JobRunner,
	templates *view.HTMLTemplateManager,
	tracer trace.Tracer,
) *HttpHandlers {
	return &HttpHandlers{
		logger:    logger.Named("http_handler"),
		config:    cfg,
		accounts:  accounts,
		jobs:      jobs,
		templates: templates,
		now:       time.Now,
		Tracer:    tracer,
		AuthUtils: utils.NewAuthUtils(),
	}
}
