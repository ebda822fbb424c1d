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
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type heldLease struct {
	owner   string
	expires time.Time
}

// InMemoryLocker serializes jobs inside a single process.
type InMemoryLocker struct {
	mu     sync.Mutex
	leases map[string]heldLease
	now    func() time.Time
	logger *zap.Logger
}

func NewInMemoryLocker(logger *zap.Logger) *InMemoryLocker {
	return &InMemoryLocker{
		leases: make(map[string]heldLease),
		now:    time.Now,
		logger: logger.Named("inmemory_locker"),
	}
}

func (l *InMemoryLocker) TryAcquire(ctx context.Context, name string, ttl time.Duration) (*Lease, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	if held, ok := l.leases[name]; ok && held.expires.After(now) {
		l.logger.Debug("Lease busy", zap.String("name", name))
		return nil, false, nil
	}
	owner := uuid.NewString()
	expires := now.Add(ttl)
	l.leases[name] = heldLease{owner: owner, expires: expires}
	return &Lease{
		Name:    name,
		Owner:   owner,
		Expires: expires,
		release: func(ctx context.Context) error {
			l.mu.Lock()
			defer l.mu.Unlock()
			held, ok := l.leases[name]
			if !ok {
				return nil
			}
			if held.owner != owner {
				return ErrLockHeld
			}
			delete(l.leases, name)
			return nil
		},
	}, true, nil
}

func (l *InMemoryLocker) Close() error {
	l.logger.Info("Closing InMemoryLocker (no-op)")
	return nil
}
