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
	"errors"
	"net/http"

	"blockarchitech.com/studysync/internal/service"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

// HandleRunSync runs a sync pass now and returns its summary.
func (h *HttpHandlers) HandleRunSync(c *gin.Context) {
	ctx, span := h.Tracer.Start(c.Request.Context(), "HandleRunSync")
	defer span.End()

	summary, err := h.jobs.RunSyncNow(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "Sync run failed")
		h.jobError(c, service.JobSync, err)
		return
	}
	c.JSON(http.StatusOK, summary)
}

// HandleRunReminders runs a reminder pass now and returns its summary.
func (h *HttpHandlers) HandleRunReminders(c *gin.Context) {
	ctx, span := h.Tracer.Start(c.Request.Context(), "HandleRunReminders")
	defer span.End()

	summary, err := h.jobs.RunRemindersNow(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "Reminder run failed")
		h.jobError(c, service.JobReminders, err)
		return
	}
	c.JSON(http.StatusOK, summary)
}

// HandleListJobs returns the last run of each job.
func (h *HttpHandlers) HandleListJobs(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"jobs": h.jobs.LastRuns()})
}

func (h *HttpHandlers) jobError(c *gin.Context, job string, err error) {
	if errors.Is(err, service.ErrJobBusy) {
		c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": "Job is already running", "job": job})
		return
	}
	h.logger.Error("Manual job run failed", zap.String("job", job), zap.Error(err))
	c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "Job failed", "job": job})
}
