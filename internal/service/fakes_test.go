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
	"errors"
	"sync"
	"time"

	"blockarchitech.com/studysync/internal/models"
	"blockarchitech.com/studysync/internal/types/classroom"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"golang.org/x/oauth2"
)

// monday0900 is a Monday morning, the reference "now" of most tests.
var monday0900 = time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)

func testTracer() trace.Tracer {
	return noop.NewTracerProvider().Tracer("test")
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(now time.Time) *fakeClock { return &fakeClock{now: now} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// fakeClient serves canned upstream data.
type fakeClient struct {
	mu             sync.Mutex
	courses        []classroom.Course
	coursesErr     error
	teachers       map[string][]classroom.Teacher
	assignments    map[string][]classroom.Assignment
	assignmentErrs map[string]error
	profile        *classroom.Profile
	panics         bool
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		teachers:       make(map[string][]classroom.Teacher),
		assignments:    make(map[string][]classroom.Assignment),
		assignmentErrs: make(map[string]error),
	}
}

func (c *fakeClient) addCourse(id, name string, assignments ...classroom.Assignment) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.courses = append(c.courses, classroom.Course{ID: id, Name: name, State: classroom.CourseStateActive})
	for i := range assignments {
		assignments[i].CourseID = id
	}
	c.assignments[id] = assignments
}

func (c *fakeClient) ListActiveCourses(ctx context.Context) ([]classroom.Course, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.panics {
		panic("upstream exploded")
	}
	if c.coursesErr != nil {
		return nil, c.coursesErr
	}
	return append([]classroom.Course(nil), c.courses...), nil
}

func (c *fakeClient) ListTeachers(ctx context.Context, courseID string) ([]classroom.Teacher, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.teachers[courseID], nil
}

func (c *fakeClient) ListAssignments(ctx context.Context, courseID string) ([]classroom.Assignment, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.assignmentErrs[courseID]; err != nil {
		return nil, err
	}
	return append([]classroom.Assignment(nil), c.assignments[courseID]...), nil
}

func (c *fakeClient) GetProfile(ctx context.Context) (*classroom.Profile, error) {
	if c.profile == nil {
		return nil, errors.New("no profile")
	}
	return c.profile, nil
}

// fakeProvider hands out clients keyed by access token and records refreshes.
type fakeProvider struct {
	mu           sync.Mutex
	clients      map[string]*fakeClient
	fallback     *fakeClient
	refreshed    *oauth2.Token
	refreshErr   error
	refreshCalls int
	issued       []string
}

func newFakeProvider(fallback *fakeClient) *fakeProvider {
	return &fakeProvider{clients: make(map[string]*fakeClient), fallback: fallback}
}

func (p *fakeProvider) NewClient(ctx context.Context, accessToken string) (CourseworkClient, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.issued = append(p.issued, accessToken)
	if c, ok := p.clients[accessToken]; ok {
		return c, nil
	}
	return p.fallback, nil
}

func (p *fakeProvider) Refresh(ctx context.Context, refreshToken string) (*oauth2.Token, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.refreshCalls++
	if p.refreshErr != nil {
		return nil, p.refreshErr
	}
	return p.refreshed, nil
}

// recordingTransport records every message and answers with per-token outcomes.
type recordingTransport struct {
	mu       sync.Mutex
	sent     []PushMessage
	statuses map[string]DeliveryStatus
	err      error
}

func newRecordingTransport() *recordingTransport {
	return &recordingTransport{statuses: make(map[string]DeliveryStatus)}
}

func (t *recordingTransport) Send(ctx context.Context, messages []PushMessage) ([]DeliveryOutcome, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sent = append(t.sent, messages...)
	outcomes := make([]DeliveryOutcome, 0, len(messages))
	for _, m := range messages {
		status, ok := t.statuses[m.Token]
		if !ok {
			status = DeliveryOK
		}
		outcomes = append(outcomes, DeliveryOutcome{Token: m.Token, Status: status})
	}
	return outcomes, t.err
}

func (t *recordingTransport) messages() []PushMessage {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]PushMessage(nil), t.sent...)
}

type notification struct {
	Kind    string
	UserID  string
	TaskID  string
	EntryID string
	Minutes int
	Window  models.DueWindow
}

// recordingNotifier records what would have been sent.
type recordingNotifier struct {
	mu   sync.Mutex
	sent []notification
}

func (n *recordingNotifier) record(v notification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, v)
	return nil
}

func (n *recordingNotifier) NotifyNewTask(ctx context.Context, userID string, task *models.Task) error {
	return n.record(notification{Kind: NotificationNewTask, UserID: userID, TaskID: task.ID})
}

func (n *recordingNotifier) NotifyClassReminder(ctx context.Context, userID string, entry *models.ScheduleEntry, minutes int) error {
	return n.record(notification{Kind: NotificationClass, UserID: userID, EntryID: entry.ID, Minutes: minutes})
}

func (n *recordingNotifier) NotifyGymReminder(ctx context.Context, userID string, entry *models.ScheduleEntry, minutes int) error {
	return n.record(notification{Kind: NotificationGym, UserID: userID, EntryID: entry.ID, Minutes: minutes})
}

func (n *recordingNotifier) NotifyActivityReminder(ctx context.Context, userID string, entry *models.ScheduleEntry, minutes int) error {
	return n.record(notification{Kind: NotificationActivity, UserID: userID, EntryID: entry.ID, Minutes: minutes})
}

func (n *recordingNotifier) NotifyTaskDue(ctx context.Context, userID string, task *models.Task, window models.DueWindow) error {
	return n.record(notification{Kind: NotificationTaskDue, UserID: userID, TaskID: task.ID, Window: window})
}

func (n *recordingNotifier) all() []notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]notification(nil), n.sent...)
}

func (n *recordingNotifier) ofKind(kind string) []notification {
	var out []notification
	for _, v := range n.all() {
		if v.Kind == kind {
			out = append(out, v)
		}
	}
	return out
}

func assignment(id, title string, due *time.Time) classroom.Assignment {
	a := classroom.Assignment{ID: id, Title: title}
	if due != nil {
		u := due.UTC()
		a.DueDate = &classroom.Date{Year: u.Year(), Month: int(u.Month()), Day: u.Day()}
		a.DueTime = &classroom.TimeOfDay{Hours: u.Hour(), Minutes: u.Minute()}
	}
	return a
}

func timePtr(t time.Time) *time.Time { return &t }
