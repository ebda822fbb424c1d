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
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const lockCollectionName = "jobLocks"

type lockDoc struct {
	Owner     string    `firestore:"owner"`
	ExpiresAt time.Time `firestore:"expiresAt"`
}

// FirestoreLocker keeps leases as documents, for deployments that run on
// Firestore without a Redis.
type FirestoreLocker struct {
	client *firestore.Client
	logger *zap.Logger
}

func NewFirestoreLocker(ctx context.Context, projectID string, logger *zap.Logger) (*FirestoreLocker, error) {
	client, err := firestore.NewClient(ctx, projectID)
	if err != nil {
		logger.Error("Failed to create Firestore client", zap.String("projectID", projectID), zap.Error(err))
		return nil, fmt.Errorf("firestore.NewClient: %w", err)
	}
	return &FirestoreLocker{client: client, logger: logger.Named("firestore_locker")}, nil
}

func (l *FirestoreLocker) TryAcquire(ctx context.Context, name string, ttl time.Duration) (*Lease, bool, error) {
	ref := l.client.Collection(lockCollectionName).Doc(name)
	owner := uuid.NewString()
	var expires time.Time
	acquired := false

	err := l.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		acquired = false
		now := time.Now()
		snap, err := tx.Get(ref)
		if err != nil && status.Code(err) != codes.NotFound {
			return err
		}
		if err == nil {
			var held lockDoc
			if err := snap.DataTo(&held); err != nil {
				return err
			}
			if held.ExpiresAt.After(now) {
				return nil
			}
		}
		expires = now.Add(ttl)
		acquired = true
		return tx.Set(ref, lockDoc{Owner: owner, ExpiresAt: expires})
	})
	if err != nil {
		return nil, false, fmt.Errorf("acquire %s: %w", name, err)
	}
	if !acquired {
		l.logger.Debug("Lease busy", zap.String("name", name))
		return nil, false, nil
	}

	return &Lease{
		Name:    name,
		Owner:   owner,
		Expires: expires,
		release: func(ctx context.Context) error {
			return l.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
				snap, err := tx.Get(ref)
				if err != nil {
					if status.Code(err) == codes.NotFound {
						return nil
					}
					return err
				}
				var held lockDoc
				if err := snap.DataTo(&held); err != nil {
					return err
				}
				if held.Owner != owner {
					return ErrLockHeld
				}
				return tx.Delete(ref)
			})
		},
	}, true, nil
}

func (l *FirestoreLocker) Close() error {
	return l.client.Close()
}
