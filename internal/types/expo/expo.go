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

package expo

// Ticket statuses and the error code that marks a token as permanently invalid.
const (
	StatusOK    = "ok"
	StatusError = "error"

	ErrorDeviceNotRegistered = "DeviceNotRegistered"
)

// MaxBatchSize is the largest number of messages accepted in one push request.
const MaxBatchSize = 100

// PushMessage is one entry in a push request body.
type PushMessage struct {
	To        string            `json:"to"`
	Title     string            `json:"title,omitempty"`
	Body      string            `json:"body,omitempty"`
	Data      map[string]string `json:"data,omitempty"`
	Sound     string            `json:"sound,omitempty"`
	Priority  string            `json:"priority,omitempty"`
	ChannelID string            `json:"channelId,omitempty"`
}

// TicketDetails carries the machine readable error code of a failed ticket.
type TicketDetails struct {
	Error string `json:"error,omitempty"`
}

// PushTicket is the per-message result, in request order.
type PushTicket struct {
	Status  string         `json:"status"`
	ID      string         `json:"id,omitempty"`
	Message string         `json:"message,omitempty"`
	Details *TicketDetails `json:"details,omitempty"`
}

// RequestError is a failure of the whole request.
type RequestError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// PushResponse is the body returned by the push endpoint.
type PushResponse struct {
	Data   []PushTicket   `json:"data"`
	Errors []RequestError `json:"errors,omitempty"`
}
