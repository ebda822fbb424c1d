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

package storage

import (
	"context"
	"errors"
	"time"
)

// ErrLockHeld is returned by Release when the lease was lost to another owner.
var ErrLockHeld = errors.New("lock held by another owner")

// Locker hands out named, expiring leases. A lease that is never released
// expires after its TTL so a crashed holder cannot wedge a job forever.
type Locker interface {
	// TryAcquire takes the lease if it is free. ok is false when another owner holds it.
	TryAcquire(ctx context.Context, name string, ttl time.Duration) (lease *Lease, ok bool, err error)
	Close() error
}

// Lease is a held lock.
type Lease struct {
	Name    string
	Owner   string
	Expires time.Time
	release func(ctx context.Context) error
}

// Release gives the lease back.
func (l *Lease) Release(ctx context.Context) error {
	if l == nil || l.release == nil {
		return nil
	}
	return l.release(ctx)
}
