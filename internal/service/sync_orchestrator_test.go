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
	"testing"
	"time"

	"blockarchitech.com/studysync/internal/models"
	"blockarchitech.com/studysync/internal/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type orchestratorFixture struct {
	store    *repository.Store
	provider *fakeProvider
	clock    *fakeClock
	notifier *recordingNotifier
	orch     *SyncOrchestrator
}

func newOrchestratorFixture(t *testing.T) *orchestratorFixture {
	t.Helper()
	store := repository.NewInMemoryStore(zap.NewNop())
	clock := newFakeClock(monday0900)
	provider := newFakeProvider(newFakeClient())
	creds := NewCredentialManager(store.Connections, provider, clock, testTracer(), zap.NewNop())
	syncer := NewCourseSyncService(creds, store.Courses, store.Tasks, clock, testTracer(), zap.NewNop())
	notifier := &recordingNotifier{}
	return &orchestratorFixture{
		store:    store,
		provider: provider,
		clock:    clock,
		notifier: notifier,
		orch:     NewSyncOrchestrator(store.Connections, store.Tasks, syncer, notifier, clock, testTracer(), zap.NewNop()),
	}
}

// link stores a connection whose access token routes to client.
func (f *orchestratorFixture) link(t *testing.T, userID string, enabled bool, client *fakeClient) {
	t.Helper()
	token := ""
	if client != nil {
		token = "at-" + userID
		f.provider.clients[token] = client
	}
	require.NoError(t, f.store.Connections.Save(context.Background(), &models.Connection{
		UserID:      userID,
		AccessToken: token,
		TokenExpiry: monday0900.Add(24 * time.Hour),
		SyncEnabled: enabled,
	}))
}

func (f *orchestratorFixture) lastSync(t *testing.T, userID string) *time.Time {
	t.Helper()
	conn, err := f.store.Connections.GetByUserID(context.Background(), userID)
	require.NoError(t, err)
	require.NotNil(t, conn)
	return conn.LastSyncAt
}

func TestRunOnce_SkipsDisabledAndUnconfiguredAccounts(t *testing.T) {
	f := newOrchestratorFixture(t)
	active := newFakeClient()
	active.addCourse("c1", "Algebra", assignment("a1", "One", nil))
	disabled := newFakeClient()
	disabled.addCourse("d1", "Muted", assignment("x1", "Never", nil))

	f.link(t, "active", true, active)
	f.link(t, "disabled", false, disabled)
	f.link(t, "unconfigured", true, nil)

	summary, err := f.orch.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Accounts)
	assert.Equal(t, 1, summary.Synced)
	assert.Equal(t, 1, summary.Skipped)
	assert.Zero(t, summary.Failed)
	assert.Equal(t, 1, summary.NewTasks)

	assert.NotNil(t, f.lastSync(t, "active"))
	assert.Nil(t, f.lastSync(t, "disabled"))
	assert.Nil(t, f.lastSync(t, "unconfigured"))
	assert.NotContains(t, f.provider.issued, "at-disabled")

	courses, err := f.store.Courses.ListByUser(context.Background(), "disabled")
	require.NoError(t, err)
	assert.Empty(t, courses)
}

func TestRunOnce_NotifiesOnlyNewTasks(t *testing.T) {
	f := newOrchestratorFixture(t)
	client := newFakeClient()
	client.addCourse("c1", "Algebra", assignment("a1", "One", nil), assignment("a2", "Two", nil))
	f.link(t, "u1", true, client)

	_, err := f.orch.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Len(t, f.notifier.ofKind(NotificationNewTask), 2)

	f.clock.Advance(30 * time.Minute)
	summary, err := f.orch.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, summary.NewTasks)
	assert.Len(t, f.notifier.ofKind(NotificationNewTask), 2)

	last := f.lastSync(t, "u1")
	require.NotNil(t, last)
	assert.True(t, last.Equal(monday0900.Add(30*time.Minute)))
}

func TestRunOnce_AnnouncesTasksImportedBeforeFailure(t *testing.T) {
	f := newOrchestratorFixture(t)
	client := newFakeClient()
	client.addCourse("c1", "Algebra", assignment("a1", "One", nil))
	client.addCourse("c2", "History", assignment("b1", "Essay", nil))
	client.assignmentErrs["c2"] = fmt.Errorf("%w: token revoked", ErrCredential)
	f.link(t, "u1", true, client)

	summary, err := f.orch.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Failed)
	assert.Equal(t, 1, summary.NewTasks)
	assert.Nil(t, f.lastSync(t, "u1"))

	first := f.notifier.ofKind(NotificationNewTask)
	require.Len(t, first, 1)
	a1, err := f.store.Tasks.GetByExternalID(context.Background(), "u1", "a1")
	require.NoError(t, err)
	require.NotNil(t, a1)
	assert.Equal(t, a1.ID, first[0].TaskID)

	delete(client.assignmentErrs, "c2")
	f.clock.Advance(30 * time.Minute)
	summary, err = f.orch.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Synced)
	assert.Equal(t, 1, summary.NewTasks)

	var announced []string
	for _, n := range f.notifier.ofKind(NotificationNewTask) {
		announced = append(announced, n.TaskID)
	}
	b1, err := f.store.Tasks.GetByExternalID(context.Background(), "u1", "b1")
	require.NoError(t, err)
	require.NotNil(t, b1)
	assert.ElementsMatch(t, []string{a1.ID, b1.ID}, announced, "each imported task is announced exactly once")
}

func TestRunOnce_IsolatesFailingAccounts(t *testing.T) {
	f := newOrchestratorFixture(t)
	broken := newFakeClient()
	broken.coursesErr = fmt.Errorf("%w: 503", ErrUpstreamFetch)
	exploding := newFakeClient()
	exploding.panics = true
	healthy := newFakeClient()
	healthy.addCourse("c1", "Algebra", assignment("a1", "One", nil))

	f.link(t, "a-broken", true, broken)
	f.link(t, "b-exploding", true, exploding)
	f.link(t, "c-healthy", true, healthy)

	summary, err := f.orch.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, summary.Accounts)
	assert.Equal(t, 2, summary.Failed)
	assert.Equal(t, 1, summary.Synced)

	assert.Nil(t, f.lastSync(t, "a-broken"), "a failed account stays visibly stale")
	assert.Nil(t, f.lastSync(t, "b-exploding"))
	assert.NotNil(t, f.lastSync(t, "c-healthy"))
}

func TestRunOnce_ExpiredCredentialsWithoutRefreshAreSkipped(t *testing.T) {
	f := newOrchestratorFixture(t)
	require.NoError(t, f.store.Connections.Save(context.Background(), &models.Connection{
		UserID: "u1", AccessToken: "stale", TokenExpiry: monday0900.Add(-time.Hour), SyncEnabled: true,
	}))

	summary, err := f.orch.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Failed)
	assert.Nil(t, f.lastSync(t, "u1"))
	assert.Empty(t, f.notifier.all())
}
