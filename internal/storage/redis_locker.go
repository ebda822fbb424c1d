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

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const redisLockPrefix = "studysync:lock:"

// releaseScript deletes the key only while it still carries our owner token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker holds leases as SET NX keys so replicas sharing a Redis never
// run the same job at once.
type RedisLocker struct {
	client *redis.Client
	logger *zap.Logger
}

// NewRedisLocker connects to Redis and verifies the connection.
func NewRedisLocker(ctx context.Context, addr, password string, logger *zap.Logger) (*RedisLocker, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	logger.Info("Connected to Redis", zap.String("addr", addr))
	return &RedisLocker{client: client, logger: logger.Named("redis_locker")}, nil
}

func (l *RedisLocker) TryAcquire(ctx context.Context, name string, ttl time.Duration) (*Lease, bool, error) {
	key := redisLockPrefix + name
	owner := uuid.NewString()
	ok, err := l.client.SetNX(ctx, key, owner, ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("acquire %s: %w", name, err)
	}
	if !ok {
		l.logger.Debug("Lease busy", zap.String("name", name))
		return nil, false, nil
	}
	return &Lease{
		Name:    name,
		Owner:   owner,
		Expires: time.Now().Add(ttl),
		release: func(ctx context.Context) error {
			n, err := releaseScript.Run(ctx, l.client, []string{key}, owner).Int()
			if err != nil {
				return fmt.Errorf("release %s: %w", name, err)
			}
			if n == 0 {
				return ErrLockHeld
			}
			return nil
		},
	}, true, nil
}

func (l *RedisLocker) Close() error {
	return l.client.Close()
}
