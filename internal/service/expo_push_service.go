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
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"blockarchitech.com/studysync/internal/types/expo"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// ExpoPushService delivers notifications through the Expo push API.
type ExpoPushService struct {
	apiURL      string
	accessToken string
	httpClient  *http.Client
	tracer      trace.Tracer
	logger      *zap.Logger
}

// NewExpoPushService creates a new ExpoPushService. accessToken is optional and
// only needed when enhanced push security is enabled on the Expo project.
func NewExpoPushService(apiURL, accessToken string, tracer trace.Tracer, logger *zap.Logger) *ExpoPushService {
	return &ExpoPushService{
		apiURL:      apiURL,
		accessToken: accessToken,
		httpClient: &http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport,
				otelhttp.WithTracerProvider(otel.GetTracerProvider()),
			),
			Timeout: 10 * time.Second,
		},
		tracer: tracer,
		logger: logger.Named("expo_push_service"),
	}
}

// Send posts the messages in chunks of at most expo.MaxBatchSize and returns
// one outcome per message, in input order. If a chunk fails, the outcomes of
// the chunks before it are returned with the error.
func (s *ExpoPushService) Send(ctx context.Context, messages []PushMessage) ([]DeliveryOutcome, error) {
	ctx, span := s.tracer.Start(ctx, "ExpoPushService.Send")
	defer span.End()
	span.SetAttributes(attribute.Int("push.messages", len(messages)))

	outcomes := make([]DeliveryOutcome, 0, len(messages))
	for start := 0; start < len(messages); start += expo.MaxBatchSize {
		end := start + expo.MaxBatchSize
		if end > len(messages) {
			end = len(messages)
		}
		chunk, err := s.sendChunk(ctx, messages[start:end])
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "Push chunk failed")
			return outcomes, err
		}
		outcomes = append(outcomes, chunk...)
	}

	span.SetStatus(codes.Ok, "Push sent")
	return outcomes, nil
}

func (s *ExpoPushService) sendChunk(ctx context.Context, messages []PushMessage) ([]DeliveryOutcome, error) {
	payload := make([]expo.PushMessage, 0, len(messages))
	for _, m := range messages {
		payload = append(payload, expo.PushMessage{
			To:        m.Token,
			Title:     m.Title,
			Body:      m.Body,
			Data:      m.Data,
			Sound:     "default",
			Priority:  "high",
			ChannelID: "default",
		})
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal push payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.apiURL, bytes.NewReader(body))
	if err != nil {
		s.logger.Error("Failed to create push request", zap.String("url", s.apiURL), zap.Error(err))
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if s.accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+s.accessToken)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		s.logger.Error("Failed to send push request", zap.String("url", s.apiURL), zap.Error(err))
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read push response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		s.logger.Error("Expo push API error",
			zap.Int("statusCode", resp.StatusCode),
			zap.String("responseBody", string(respBody)),
		)
		return nil, fmt.Errorf("expo push API returned non-success status %d: %s", resp.StatusCode, string(respBody))
	}

	var parsed expo.PushResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		s.logger.Error("Failed to decode Expo push response", zap.Error(err), zap.ByteString("responseBody", respBody))
		return nil, fmt.Errorf("failed to decode push response: %w", err)
	}
	if len(parsed.Errors) > 0 {
		return nil, fmt.Errorf("expo push API rejected request: %s: %s", parsed.Errors[0].Code, parsed.Errors[0].Message)
	}
	if len(parsed.Data) != len(messages) {
		return nil, fmt.Errorf("expo push API returned %d tickets for %d messages", len(parsed.Data), len(messages))
	}

	outcomes := make([]DeliveryOutcome, len(messages))
	for i, ticket := range parsed.Data {
		outcomes[i] = ticketOutcome(messages[i].Token, ticket)
		if outcomes[i].Status != DeliveryOK {
			s.logger.Warn("Push ticket reported an error",
				zap.String("status", string(outcomes[i].Status)),
				zap.String("detail", outcomes[i].Detail),
			)
		}
	}
	return outcomes, nil
}

func ticketOutcome(token string, ticket expo.PushTicket) DeliveryOutcome {
	if ticket.Status == expo.StatusOK {
		return DeliveryOutcome{Token: token, Status: DeliveryOK}
	}
	detail := ticket.Message
	if ticket.Details != nil && ticket.Details.Error != "" {
		if ticket.Details.Error == expo.ErrorDeviceNotRegistered {
			return DeliveryOutcome{Token: token, Status: DeliveryDeviceNotRegistered, Detail: ticket.Details.Error}
		}
		detail = ticket.Details.Error
	}
	return DeliveryOutcome{Token: token, Status: DeliveryFailed, Detail: detail}
}

var _ PushTransport = (*ExpoPushService)(nil)
