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

package main

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"blockarchitech.com/studysync/internal/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeApp struct {
	closed   bool
	linked   map[string]string
	unlinked []string
	syncErr  error
}

func (f *fakeApp) Serve() error { return nil }

func (f *fakeApp) RunSync(ctx context.Context) (any, error) {
	return service.SyncSummary{Accounts: 2, Synced: 2}, f.syncErr
}

func (f *fakeApp) RunReminders(ctx context.Context) (any, error) {
	return service.ReminderSummary{Users: 1}, nil
}

func (f *fakeApp) AuthCodeURL(state string) string {
	return "https://accounts.example.com/auth?state=" + state
}

func (f *fakeApp) Link(ctx context.Context, userID, code string) (string, error) {
	f.linked[userID] = code
	return userID + "@example.com", nil
}

func (f *fakeApp) Unlink(ctx context.Context, userID string) error {
	f.unlinked = append(f.unlinked, userID)
	return nil
}

func (f *fakeApp) Close() { f.closed = true }

func runCLI(t *testing.T, a *fakeApp, args ...string) (string, error) {
	t.Helper()
	root := buildRootCmd(func(ctx context.Context) (app, error) { return a, nil })
	buf := &bytes.Buffer{}
	root.SetOut(buf)
	root.SetErr(buf)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return buf.String(), err
}

func TestSyncCommand(t *testing.T) {
	a := &fakeApp{linked: map[string]string{}}
	out, err := runCLI(t, a, "sync")
	require.NoError(t, err)
	assert.Contains(t, out, `"synced": 2`)
	assert.True(t, a.closed)

	a.syncErr = errors.New("boom")
	_, err = runCLI(t, a, "sync")
	assert.EqualError(t, err, "boom")
}

func TestRemindCommand(t *testing.T) {
	out, err := runCLI(t, &fakeApp{}, "remind")
	require.NoError(t, err)
	assert.Contains(t, out, `"users": 1`)
}

func TestLinkCommand(t *testing.T) {
	a := &fakeApp{linked: map[string]string{}}

	out, err := runCLI(t, a, "link", "u1")
	require.NoError(t, err)
	assert.Contains(t, out, "https://accounts.example.com/auth?state=")
	assert.Empty(t, a.linked)

	out, err = runCLI(t, a, "link", "u1", "--code", "4/abc")
	require.NoError(t, err)
	assert.Equal(t, "4/abc", a.linked["u1"])
	assert.True(t, strings.Contains(out, "u1@example.com"))
}

func TestUnlinkCommand(t *testing.T) {
	a := &fakeApp{}
	_, err := runCLI(t, a, "unlink", "u9")
	require.NoError(t, err)
	assert.Equal(t, []string{"u9"}, a.unlinked)

	_, err = runCLI(t, a, "unlink")
	assert.Error(t, err)
}

func TestFactoryError(t *testing.T) {
	root := buildRootCmd(func(ctx context.Context) (app, error) { return nil, errors.New("no config") })
	root.SetArgs([]string{"sync"})
	root.SetOut(&bytes.Buffer{})
	assert.EqualError(t, root.Execute(), "no config")
}
