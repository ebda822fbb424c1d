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
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"blockarchitech.com/studysync/internal/models"
	"blockarchitech.com/studysync/internal/repository"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
)

// fakeClassroomAPI serves the handful of Classroom endpoints the client reads.
func fakeClassroomAPI(t *testing.T) *httptest.Server {
	t.Helper()
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(func(c *gin.Context) {
		if c.GetHeader("Authorization") != "Bearer good-token" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": gin.H{"code": 401, "message": "invalid credentials"}})
			return
		}
		c.Next()
	})
	r.GET("/v1/courses", func(c *gin.Context) {
		if c.Query("pageToken") == "" {
			c.JSON(http.StatusOK, gin.H{
				"courses":       []gin.H{{"id": "c1", "name": "Algebra", "ownerId": "t1", "courseState": "ACTIVE", "room": "101"}},
				"nextPageToken": "page-2",
			})
			return
		}
		c.JSON(http.StatusOK, gin.H{"courses": []gin.H{{"id": "c2", "name": "History", "courseState": "ACTIVE"}}})
	})
	r.GET("/v1/courses/:id/teachers", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"teachers": []gin.H{{"userId": "t1", "profile": gin.H{"name": gin.H{"fullName": "Ada Lovelace"}}}}})
	})
	r.GET("/v1/courses/:id/courseWork", func(c *gin.Context) {
		if c.Param("id") == "missing" {
			c.JSON(http.StatusNotFound, gin.H{"error": gin.H{"code": 404, "message": "not found"}})
			return
		}
		if c.Param("id") == "a-forbidden" {
			c.JSON(http.StatusForbidden, gin.H{"error": gin.H{"code": 403, "message": "The caller does not have permission"}})
			return
		}
		c.JSON(http.StatusOK, gin.H{"courseWork": []gin.H{
			{"id": c.Param("id") + "-a1", "courseId": c.Param("id"), "title": "Worksheet", "dueDate": gin.H{"year": 2025, "month": 3, "day": 11}, "dueTime": gin.H{"hours": 12}},
			{"id": c.Param("id") + "-a2", "courseId": c.Param("id"), "title": "Reading"},
		}})
	})
	r.GET("/v1/userProfiles/:id", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"id": "p1", "emailAddress": "student@example.com", "name": gin.H{"fullName": "Sam Student"}})
	})
	ts := httptest.NewServer(r)
	t.Cleanup(ts.Close)
	return ts
}

func newTestClassroomService(endpoint string) *ClassroomService {
	return NewClassroomService(&oauth2.Config{ClientID: "id", ClientSecret: "secret"}, 1000, testTracer(), zap.NewNop()).
		WithEndpoint(endpoint + "/")
}

func TestClassroomClient_ReadsCoursesAndCoursework(t *testing.T) {
	ts := fakeClassroomAPI(t)
	ctx := context.Background()
	client, err := newTestClassroomService(ts.URL).NewClient(ctx, "good-token")
	require.NoError(t, err)

	courses, err := client.ListActiveCourses(ctx)
	require.NoError(t, err)
	require.Len(t, courses, 2, "both pages are read")
	assert.Equal(t, "c1", courses[0].ID)
	assert.Equal(t, "101", courses[0].Room)
	assert.Equal(t, "t1", courses[0].OwnerID)

	teachers, err := client.ListTeachers(ctx, "c1")
	require.NoError(t, err)
	require.Len(t, teachers, 1)
	assert.Equal(t, "Ada Lovelace", teachers[0].FullName)

	assignments, err := client.ListAssignments(ctx, "c1")
	require.NoError(t, err)
	require.Len(t, assignments, 2)
	due := assignments[0].DueAt()
	require.NotNil(t, due)
	assert.Equal(t, 12, due.Hour())
	assert.Nil(t, assignments[1].DueAt())

	profile, err := client.GetProfile(ctx)
	require.NoError(t, err)
	assert.Equal(t, "p1", profile.ID)
	assert.Equal(t, "student@example.com", profile.Email)
}

func TestClassroomClient_ErrorMapping(t *testing.T) {
	ts := fakeClassroomAPI(t)
	ctx := context.Background()
	svc := newTestClassroomService(ts.URL)

	rejected, err := svc.NewClient(ctx, "revoked-token")
	require.NoError(t, err)
	_, err = rejected.ListActiveCourses(ctx)
	assert.ErrorIs(t, err, ErrCredential)

	client, err := svc.NewClient(ctx, "good-token")
	require.NoError(t, err)
	_, err = client.ListAssignments(ctx, "missing")
	assert.ErrorIs(t, err, ErrUpstreamFetch)
	assert.NotErrorIs(t, err, ErrCredential)

	_, err = client.ListAssignments(ctx, "a-forbidden")
	assert.ErrorIs(t, err, ErrUpstreamFetch)
	assert.NotErrorIs(t, err, ErrCredential, "a per-course 403 is not a rejected token")
}

func TestSyncTasks_ForbiddenCourseDoesNotAbortAccount(t *testing.T) {
	ts := fakeClassroomAPI(t)
	ctx := context.Background()
	store := repository.NewInMemoryStore(zap.NewNop())
	require.NoError(t, store.Connections.Save(ctx, &models.Connection{
		UserID: "u1", AccessToken: "good-token", RefreshToken: "rt", TokenExpiry: monday0900.Add(time.Hour), SyncEnabled: true,
	}))
	for _, id := range []string{"a-forbidden", "b-ok", "c-ok"} {
		_, err := store.Courses.Upsert(ctx, &models.Course{UserID: "u1", ExternalID: id, Name: id, SyncEnabled: true})
		require.NoError(t, err)
	}

	clock := newFakeClock(monday0900)
	creds := NewCredentialManager(store.Connections, newTestClassroomService(ts.URL), clock, testTracer(), zap.NewNop())
	syncer := NewCourseSyncService(creds, store.Courses, store.Tasks, clock, testTracer(), zap.NewNop())

	created, err := syncer.SyncTasks(ctx, "u1", clock.Now())
	require.NoError(t, err)
	var imported []string
	for _, task := range created {
		imported = append(imported, task.ExternalID)
	}
	assert.ElementsMatch(t, []string{"b-ok-a1", "b-ok-a2", "c-ok-a1", "c-ok-a2"}, imported)

	count, err := store.Tasks.CountExternal(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 4, count)
}

func TestClassroomService_AuthCodeURL(t *testing.T) {
	svc := NewClassroomService(&oauth2.Config{
		ClientID: "id",
		Endpoint: oauth2.Endpoint{AuthURL: "https://accounts.example.com/auth"},
	}, 5, testTracer(), zap.NewNop())

	u := svc.AuthCodeURL("state-123")
	assert.Contains(t, u, "state=state-123")
	assert.Contains(t, u, "access_type=offline")
	assert.Contains(t, u, "prompt=consent")
}
