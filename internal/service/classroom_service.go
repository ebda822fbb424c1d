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
	"fmt"
	"net/http"
	"time"

	"blockarchitech.com/studysync/internal/types/classroom"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/time/rate"
	classroomapi "google.golang.org/api/classroom/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

const classroomPageSize = 100

// ClassroomService talks to the Google Classroom API. One instance is shared by
// all accounts so its rate limiter caps the process-wide request rate.
type ClassroomService struct {
	oauthConfig *oauth2.Config
	httpClient  *http.Client
	limiter     *rate.Limiter
	endpoint    string
	tracer      trace.Tracer
	logger      *zap.Logger
}

// NewClassroomService creates a new ClassroomService limited to rps requests per second.
func NewClassroomService(oauthConfig *oauth2.Config, rps float64, tracer trace.Tracer, logger *zap.Logger) *ClassroomService {
	burst := int(rps)
	if burst < 1 {
		burst = 1
	}
	return &ClassroomService{
		oauthConfig: oauthConfig,
		httpClient: &http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport,
				otelhttp.WithTracerProvider(otel.GetTracerProvider()),
			),
			Timeout: 15 * time.Second,
		},
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
		tracer:  tracer,
		logger:  logger.Named("classroom_service"),
	}
}

// WithEndpoint points the API clients at a different base URL.
func (s *ClassroomService) WithEndpoint(endpoint string) *ClassroomService {
	s.endpoint = endpoint
	return s
}

// AuthCodeURL returns the consent page URL for linking an account.
func (s *ClassroomService) AuthCodeURL(state string) string {
	return s.oauthConfig.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce)
}

// Exchange trades an authorization code for a token.
func (s *ClassroomService) Exchange(ctx context.Context, code string) (*oauth2.Token, error) {
	ctx, span := s.tracer.Start(ctx, "ClassroomService.Exchange")
	defer span.End()

	tok, err := s.oauthConfig.Exchange(context.WithValue(ctx, oauth2.HTTPClient, s.httpClient), code)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("%w: exchange code: %w", ErrCredential, err)
	}
	return tok, nil
}

// Refresh obtains a new access token from a refresh token.
func (s *ClassroomService) Refresh(ctx context.Context, refreshToken string) (*oauth2.Token, error) {
	ctx, span := s.tracer.Start(ctx, "ClassroomService.Refresh")
	defer span.End()

	ctx = context.WithValue(ctx, oauth2.HTTPClient, s.httpClient)
	tok, err := s.oauthConfig.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken}).Token()
	if err != nil {
		span.RecordError(err)
		s.logger.Warn("Token refresh failed", zap.Error(err))
		return nil, err
	}
	return tok, nil
}

// NewClient builds a client that uses accessToken as is. Refreshing is the
// caller's job, so the token source never refreshes on its own.
func (s *ClassroomService) NewClient(ctx context.Context, accessToken string) (CourseworkClient, error) {
	authed := oauth2.NewClient(
		context.WithValue(ctx, oauth2.HTTPClient, s.httpClient),
		oauth2.StaticTokenSource(&oauth2.Token{AccessToken: accessToken, TokenType: "Bearer"}),
	)
	authed.Timeout = s.httpClient.Timeout

	opts := []option.ClientOption{option.WithHTTPClient(authed)}
	if s.endpoint != "" {
		opts = append(opts, option.WithEndpoint(s.endpoint))
	}
	svc, err := classroomapi.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create classroom service: %w", err)
	}
	return &classroomClient{svc: svc, limiter: s.limiter, tracer: s.tracer, logger: s.logger}, nil
}

type classroomClient struct {
	svc     *classroomapi.Service
	limiter *rate.Limiter
	tracer  trace.Tracer
	logger  *zap.Logger
}

func (c *classroomClient) wait(ctx context.Context) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("%w: rate limiter: %w", ErrUpstreamFetch, err)
	}
	return nil
}

func (c *classroomClient) ListActiveCourses(ctx context.Context) ([]classroom.Course, error) {
	ctx, span := c.tracer.Start(ctx, "ClassroomClient.ListActiveCourses")
	defer span.End()

	var courses []classroom.Course
	call := c.svc.Courses.List().
		StudentId("me").
		CourseStates(classroom.CourseStateActive).
		PageSize(classroomPageSize)
	err := c.pages(ctx, func(token string) (string, error) {
		resp, err := call.PageToken(token).Context(ctx).Do()
		if err != nil {
			return "", err
		}
		for _, item := range resp.Courses {
			courses = append(courses, classroom.Course{
				ID:            item.Id,
				Name:          item.Name,
				Section:       item.Section,
				Description:   item.DescriptionHeading,
				Room:          item.Room,
				OwnerID:       item.OwnerId,
				AlternateLink: item.AlternateLink,
				State:         item.CourseState,
			})
		}
		return resp.NextPageToken, nil
	})
	if err != nil {
		span.RecordError(err)
		return nil, mapUpstreamError("list courses", err)
	}
	return courses, nil
}

func (c *classroomClient) ListTeachers(ctx context.Context, courseID string) ([]classroom.Teacher, error) {
	ctx, span := c.tracer.Start(ctx, "ClassroomClient.ListTeachers")
	defer span.End()

	var teachers []classroom.Teacher
	call := c.svc.Courses.Teachers.List(courseID).PageSize(classroomPageSize)
	err := c.pages(ctx, func(token string) (string, error) {
		resp, err := call.PageToken(token).Context(ctx).Do()
		if err != nil {
			return "", err
		}
		for _, item := range resp.Teachers {
			t := classroom.Teacher{UserID: item.UserId}
			if item.Profile != nil {
				t.Email = item.Profile.EmailAddress
				if item.Profile.Name != nil {
					t.FullName = item.Profile.Name.FullName
				}
			}
			teachers = append(teachers, t)
		}
		return resp.NextPageToken, nil
	})
	if err != nil {
		span.RecordError(err)
		return nil, mapUpstreamError("list teachers of "+courseID, err)
	}
	return teachers, nil
}

func (c *classroomClient) ListAssignments(ctx context.Context, courseID string) ([]classroom.Assignment, error) {
	ctx, span := c.tracer.Start(ctx, "ClassroomClient.ListAssignments")
	defer span.End()

	var assignments []classroom.Assignment
	call := c.svc.Courses.CourseWork.List(courseID).PageSize(classroomPageSize)
	err := c.pages(ctx, func(token string) (string, error) {
		resp, err := call.PageToken(token).Context(ctx).Do()
		if err != nil {
			return "", err
		}
		for _, item := range resp.CourseWork {
			a := classroom.Assignment{
				ID:            item.Id,
				CourseID:      item.CourseId,
				Title:         item.Title,
				Description:   item.Description,
				AlternateLink: item.AlternateLink,
				State:         item.State,
			}
			if item.DueDate != nil {
				a.DueDate = &classroom.Date{Year: int(item.DueDate.Year), Month: int(item.DueDate.Month), Day: int(item.DueDate.Day)}
			}
			if item.DueTime != nil {
				a.DueTime = &classroom.TimeOfDay{Hours: int(item.DueTime.Hours), Minutes: int(item.DueTime.Minutes)}
			}
			assignments = append(assignments, a)
		}
		return resp.NextPageToken, nil
	})
	if err != nil {
		span.RecordError(err)
		return nil, mapUpstreamError("list coursework of "+courseID, err)
	}
	return assignments, nil
}

func (c *classroomClient) GetProfile(ctx context.Context) (*classroom.Profile, error) {
	ctx, span := c.tracer.Start(ctx, "ClassroomClient.GetProfile")
	defer span.End()

	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	p, err := c.svc.UserProfiles.Get("me").Context(ctx).Do()
	if err != nil {
		span.RecordError(err)
		return nil, mapUpstreamError("get profile", err)
	}
	profile := &classroom.Profile{ID: p.Id, Email: p.EmailAddress}
	if p.Name != nil {
		profile.FullName = p.Name.FullName
	}
	return profile, nil
}

// pages drives a paginated call, waiting on the rate limiter before each page.
func (c *classroomClient) pages(ctx context.Context, fetch func(pageToken string) (string, error)) error {
	token := ""
	for {
		if err := c.wait(ctx); err != nil {
			return err
		}
		next, err := fetch(token)
		if err != nil {
			return err
		}
		if next == "" {
			return nil
		}
		token = next
	}
}

// mapUpstreamError classifies an API error: rejected credentials become
// ErrCredential, everything else ErrUpstreamFetch.
func mapUpstreamError(op string, err error) error {
	if errors.Is(err, ErrUpstreamFetch) || errors.Is(err, ErrCredential) {
		return err
	}
	// A 403 is scoped to one resource (course permissions or quota), so only a
	// 401 means the token itself was rejected.
	var gerr *googleapi.Error
	if errors.As(err, &gerr) && gerr.Code == http.StatusUnauthorized {
		return fmt.Errorf("%w: %s: %w", ErrCredential, op, err)
	}
	var rerr *oauth2.RetrieveError
	if errors.As(err, &rerr) {
		return fmt.Errorf("%w: %s: %w", ErrCredential, op, err)
	}
	return fmt.Errorf("%w: %s: %w", ErrUpstreamFetch, op, err)
}
