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
	"net/http"

	"github.com/gin-gonic/gin"
)

func (h *HttpHandlers) RegisterRoutes(router *gin.Engine) {
	router.Use(h.LoggerMiddleware())

	router.GET("/healthz", func(c *gin.Context) { c.String(http.StatusOK, "ok") })
	router.GET("/robots.txt", func(c *gin.Context) {
		c.Header("Content-Type", "text/plain")
		c.String(http.StatusOK, "User-agent: *\nDisallow: /\n")
	})

	router.GET("/auth/google/callback", h.HandleOAuthCallback)

	internal := router.Group("/internal/v1")
	internal.Use(h.AdminAuthMiddleware())
	{
		jobs := internal.Group("/jobs")
		{
			jobs.GET("", h.HandleListJobs)
			jobs.POST("/sync", h.HandleRunSync)
			jobs.POST("/reminders", h.HandleRunReminders)
		}

		accounts := internal.Group("/accounts/:userId")
		{
			accounts.POST("/link", h.HandleStartLink)
			accounts.DELETE("", h.HandleUnlink)
		}
	}
}
