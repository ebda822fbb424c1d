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

import "errors"

// Error kinds. Callers wrap a cause with fmt.Errorf("%w: %w", kind, cause) and
// test with errors.Is.
var (
	// ErrCredential means the stored credentials are expired, invalid or could
	// not be refreshed. The account is skipped until the next tick.
	ErrCredential = errors.New("credential error")
	// ErrNotConfigured means no access token is on file for the account.
	ErrNotConfigured = errors.New("account not configured")
	// ErrUpstreamFetch is a failed read from the coursework provider.
	ErrUpstreamFetch = errors.New("upstream fetch failed")
	// ErrTransport is a failed push delivery.
	ErrTransport = errors.New("push transport failed")
	// ErrPersistence is a failed repository read or write.
	ErrPersistence = errors.New("persistence error")
	// ErrJobBusy is returned when a job is asked to run while it is running.
	ErrJobBusy = errors.New("job already running")
)
