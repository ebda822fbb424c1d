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
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"blockarchitech.com/studysync/internal/config"
	"blockarchitech.com/studysync/internal/models"
	"blockarchitech.com/studysync/internal/service"
	"blockarchitech.com/studysync/internal/view"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"
)

const (
	testAdminToken = "admin-secret"
	testSecretKey  = "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f"
)

type fakeJobs struct {
	syncErr     error
	reminderErr error
	runs        []service.JobRun
}

func (f *fakeJobs) RunSyncNow(ctx context.Context) (service.SyncSummary, error) {
	return service.SyncSummary{Accounts: 4, Synced: 3, Failed: 1}, f.syncErr
}

func (f *fakeJobs) RunRemindersNow(ctx context.Context) (service.ReminderSummary, error) {
	return service.ReminderSummary{Users: 2, DueReminders: 1}, f.reminderErr
}

func (f *fakeJobs) LastRuns() []service.JobRun { return f.runs }

type fakeAccounts struct {
	linked   map[string]string
	unlinked []string
	linkErr  error
}

func (f *fakeAccounts) AuthCodeURL(state string) string {
	return "https://accounts.example.com/auth?state=" + url.QueryEscape(state)
}

func (f *fakeAccounts) Link(ctx context.Context, userID, code string) (*models.Connection, error) {
	if f.linkErr != nil {
		return nil, f.linkErr
	}
	f.linked[userID] = code
	return &models.Connection{UserID: userID, Email: userID + "@example.com"}, nil
}

func (f *fakeAccounts) Unlink(ctx context.Context, userID string) error {
	f.unlinked = append(f.unlinked, userID)
	return nil
}

type handlerFixture struct {
	h        *HttpHandlers
	router   *gin.Engine
	jobs     *fakeJobs
	accounts *fakeAccounts
}

func newHandlerFixture(t *testing.T) *handlerFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)
	templates, err := view.NewHTMLTemplateManager(zap.NewNop())
	require.NoError(t, err)

	jobs := &fakeJobs{}
	accounts := &fakeAccounts{linked: map[string]string{}}
	cfg := &config.Config{AdminToken: testAdminToken, SecretKey: testSecretKey}
	h := NewHttpHandlers(zap.NewNop(), cfg, accounts, jobs, templates, noop.NewTracerProvider().Tracer("test"))
	router := gin.New()
	h.RegisterRoutes(router)
	return &handlerFixture{h: h, router: router, jobs: jobs, accounts: accounts}
}

func (f *handlerFixture) do(method, target, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func TestPublicRoutes(t *testing.T) {
	f := newHandlerFixture(t)

	rec := f.do(http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())

	rec = f.do(http.MethodGet, "/robots.txt", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Disallow: /")
}

func TestAdminAuth(t *testing.T) {
	f := newHandlerFixture(t)

	assert.Equal(t, http.StatusUnauthorized, f.do(http.MethodGet, "/internal/v1/jobs", "").Code)
	assert.Equal(t, http.StatusUnauthorized, f.do(http.MethodGet, "/internal/v1/jobs", "wrong").Code)
	assert.Equal(t, http.StatusOK, f.do(http.MethodGet, "/internal/v1/jobs", testAdminToken).Code)

	f.h.config.AdminToken = ""
	assert.Equal(t, http.StatusServiceUnavailable, f.do(http.MethodGet, "/internal/v1/jobs", "anything").Code)
}

func TestRunJobs(t *testing.T) {
	f := newHandlerFixture(t)

	rec := f.do(http.MethodPost, "/internal/v1/jobs/sync", testAdminToken)
	require.Equal(t, http.StatusOK, rec.Code)
	var summary service.SyncSummary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &summary))
	assert.Equal(t, 3, summary.Synced)

	f.jobs.syncErr = fmt.Errorf("%w: sync", service.ErrJobBusy)
	assert.Equal(t, http.StatusConflict, f.do(http.MethodPost, "/internal/v1/jobs/sync", testAdminToken).Code)

	rec = f.do(http.MethodPost, "/internal/v1/jobs/reminders", testAdminToken)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"dueReminders":1`)

	f.jobs.reminderErr = errors.New("store down")
	assert.Equal(t, http.StatusInternalServerError, f.do(http.MethodPost, "/internal/v1/jobs/reminders", testAdminToken).Code)
}

func TestListJobs(t *testing.T) {
	f := newHandlerFixture(t)
	f.jobs.runs = []service.JobRun{{Job: service.JobSync, Sync: &service.SyncSummary{Synced: 5}}}

	rec := f.do(http.MethodGet, "/internal/v1/jobs", testAdminToken)
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Jobs []service.JobRun `json:"jobs"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Jobs, 1)
	assert.Equal(t, 5, body.Jobs[0].Sync.Synced)
}

func TestLinkFlow(t *testing.T) {
	f := newHandlerFixture(t)

	rec := f.do(http.MethodPost, "/internal/v1/accounts/u-17/link", testAdminToken)
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		AuthURL string `json:"authUrl"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	authURL, err := url.Parse(body.AuthURL)
	require.NoError(t, err)
	state := authURL.Query().Get("state")
	require.NotEmpty(t, state)

	rec = f.do(http.MethodGet, "/auth/google/callback?code=abc&state="+url.QueryEscape(state), "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "u-17@example.com")
	assert.Equal(t, "abc", f.accounts.linked["u-17"])
}

func TestCallbackRejectsBadState(t *testing.T) {
	f := newHandlerFixture(t)

	rec := f.do(http.MethodGet, "/auth/google/callback?code=abc&state=tampered", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, f.accounts.linked)

	state, err := f.h.sealLinkState("u1")
	require.NoError(t, err)
	f.h.now = func() time.Time { return time.Now().Add(linkStateTTL + time.Minute) }
	rec = f.do(http.MethodGet, "/auth/google/callback?code=abc&state="+url.QueryEscape(state), "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, f.accounts.linked)
}

func TestCallbackErrors(t *testing.T) {
	f := newHandlerFixture(t)

	rec := f.do(http.MethodGet, "/auth/google/callback?error=access_denied", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "access_denied"))

	state, err := f.h.sealLinkState("u1")
	require.NoError(t, err)
	f.accounts.linkErr = fmt.Errorf("%w: invalid_grant", service.ErrCredential)
	rec = f.do(http.MethodGet, "/auth/google/callback?code=abc&state="+url.QueryEscape(state), "")
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestUnlink(t *testing.T) {
	f := newHandlerFixture(t)
	rec := f.do(http.MethodDelete, "/internal/v1/accounts/u1", testAdminToken)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, []string{"u1"}, f.accounts.unlinked)
}

func TestStartLinkRequiresSecretKey(t *testing.T) {
	f := newHandlerFixture(t)
	f.h.config.SecretKey = ""
	assert.Equal(t, http.StatusServiceUnavailable, f.do(http.MethodPost, "/internal/v1/accounts/u1/link", testAdminToken).Code)
}
