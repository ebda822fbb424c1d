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
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"blockarchitech.com/studysync/internal/service"
	"blockarchitech.com/studysync/internal/utils"
	"blockarchitech.com/studysync/internal/view"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

// linkStateTTL is how long a consent URL stays usable.
const linkStateTTL = 15 * time.Minute

var errInvalidState = errors.New("invalid or expired link state")

// HandleStartLink returns the consent URL for a user. The OAuth state carries
// the user id sealed with the secret key, so the callback needs no session.
func (h *HttpHandlers) HandleStartLink(c *gin.Context) {
	_, span := h.Tracer.Start(c.Request.Context(), "HandleStartLink")
	defer span.End()

	userID := c.Param("userId")
	span.SetAttributes(attribute.String("user.id", userID))

	if h.config.SecretKey == "" {
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "SECRET_KEY is required for account linking"})
		return
	}

	state, err := h.sealLinkState(userID)
	if err != nil {
		h.logger.Error("Failed to create link state", zap.String("userID", userID), zap.Error(err))
		span.RecordError(err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "Failed to generate OAuth state"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"authUrl": h.accounts.AuthCodeURL(state)})
}

// HandleOAuthCallback completes linking after the user granted access.
func (h *HttpHandlers) HandleOAuthCallback(c *gin.Context) {
	ctx, span := h.Tracer.Start(c.Request.Context(), "HandleOAuthCallback")
	defer span.End()

	if errMsg := c.Query("error"); errMsg != "" {
		h.logger.Warn("OAuth callback returned an error", zap.String("error", errMsg))
		h.renderLinkResult(c, http.StatusBadRequest, view.LinkResult{Error: "Access was not granted: " + errMsg})
		return
	}

	userID, err := h.openLinkState(c.Query("state"))
	if err != nil {
		h.logger.Warn("Rejected OAuth callback state", zap.Error(err))
		h.renderLinkResult(c, http.StatusBadRequest, view.LinkResult{Error: "This link has expired."})
		return
	}
	span.SetAttributes(attribute.String("user.id", userID))

	code := c.Query("code")
	if code == "" {
		h.renderLinkResult(c, http.StatusBadRequest, view.LinkResult{Error: "The authorization code is missing."})
		return
	}

	conn, err := h.accounts.Link(ctx, userID, code)
	if err != nil {
		h.logger.Error("Failed to link account", zap.String("userID", userID), zap.Error(err))
		span.RecordError(err)
		span.SetStatus(codes.Error, "Link failed")
		status := http.StatusBadGateway
		if errors.Is(err, service.ErrPersistence) {
			status = http.StatusInternalServerError
		}
		h.renderLinkResult(c, status, view.LinkResult{Error: "We could not reach Google Classroom. Please try again."})
		return
	}

	h.renderLinkResult(c, http.StatusOK, view.LinkResult{Linked: true, Email: conn.Email})
}

// HandleUnlink removes a user's upstream link.
func (h *HttpHandlers) HandleUnlink(c *gin.Context) {
	ctx, span := h.Tracer.Start(c.Request.Context(), "HandleUnlink")
	defer span.End()

	userID := c.Param("userId")
	if err := h.accounts.Unlink(ctx, userID); err != nil {
		h.logger.Error("Failed to unlink account", zap.String("userID", userID), zap.Error(err))
		span.RecordError(err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "Failed to unlink account"})
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *HttpHandlers) renderLinkResult(c *gin.Context, status int, result view.LinkResult) {
	if h.templates == nil {
		c.JSON(status, result)
		return
	}
	if err := h.templates.Render(c.Writer, status, view.LinkResultPage, result); err != nil {
		h.logger.Error("Failed to render link result", zap.Error(err))
	}
}

// sealLinkState encrypts "expiry|nonce|userID" with the secret key.
func (h *HttpHandlers) sealLinkState(userID string) (string, error) {
	nonce, err := h.AuthUtils.GenerateOAuthState()
	if err != nil {
		return "", err
	}
	expires := h.now().Add(linkStateTTL).Unix()
	return utils.Encrypt(fmt.Sprintf("%d|%s|%s", expires, nonce, userID), h.config.SecretKey)
}

func (h *HttpHandlers) openLinkState(state string) (string, error) {
	if state == "" || h.config.SecretKey == "" {
		return "", errInvalidState
	}
	plain, err := utils.Decrypt(state, h.config.SecretKey)
	if err != nil {
		return "", fmt.Errorf("%w: %w", errInvalidState, err)
	}
	parts := strings.SplitN(plain, "|", 3)
	if len(parts) != 3 || parts[2] == "" {
		return "", errInvalidState
	}
	expires, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil || h.now().Unix() > expires {
		return "", errInvalidState
	}
	return parts[2], nil
}
