// Copyright (c) 2025, NVIDIA CORPORATION.  All rights reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/NVIDIA/fleet-ledger/pkg/defaults"
	"github.com/go-redis/redis/v8"
)

const (
	redisBackend      = "redis"
	redisPingAttempts = 3
	redisPingWait     = time.Second
)

// RedisStore keeps the ledger as one JSON value in redis. Update uses
// WATCH/MULTI and retries when another writer changed the key in between.
type RedisStore struct {
	client  *redis.Client
	key     string
	retries int
}

// NewRedisStore connects to the redis instance at url (redis://host:port/db)
// and stores the ledger under key.
func NewRedisStore(ctx context.Context, url, key string) (*RedisStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("redis ledger: parse %q: %w", url, err)
	}
	if key == "" {
		key = defaults.LedgerRedisKey
	}

	client := redis.NewClient(opts)
	var pingErr error
	for i := 0; i < redisPingAttempts; i++ {
		if pingErr = client.Ping(ctx).Err(); pingErr == nil {
			break
		}
		slog.Warn("redis ledger ping failed", "addr", opts.Addr, "attempt", i+1, "error", pingErr)
		select {
		case <-ctx.Done():
			client.Close()
			return nil, ctx.Err()
		case <-time.After(redisPingWait):
		}
	}
	if pingErr != nil {
		client.Close()
		return nil, fmt.Errorf("redis ledger: connect %s: %w", opts.Addr, pingErr)
	}

	return &RedisStore{
		client:  client,
		key:     key,
		retries: defaults.LedgerRedisRetries,
	}, nil
}

// Load implements Store.
func (s *RedisStore) Load(ctx context.Context) (*Document, error) {
	data, err := s.client.Get(ctx, s.key).Bytes()
	return s.decode(data, err)
}

// Save implements Store.
func (s *RedisStore) Save(ctx context.Context, doc *Document) error {
	data, err := encode(doc)
	if err != nil {
		return fmt.Errorf("redis ledger: encode: %w", err)
	}
	err = s.client.Set(ctx, s.key, data, 0).Err()
	recordWrite(redisBackend, err)
	if err != nil {
		return fmt.Errorf("redis ledger: write: %w", err)
	}
	return nil
}

// Update implements Store. fn may run more than once when the optimistic
// transaction has to be retried, each time against a freshly loaded document.
func (s *RedisStore) Update(ctx context.Context, fn func(*Document) error) error {
	txf := func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, s.key).Bytes()
		doc, err := s.decode(data, err)
		if err != nil {
			return err
		}
		if err := fn(doc); err != nil {
			return err
		}
		payload, err := encode(doc)
		if err != nil {
			return fmt.Errorf("redis ledger: encode: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, s.key, payload, 0)
			return nil
		})
		return err
	}

	for attempt := 0; attempt < s.retries; attempt++ {
		err := s.client.Watch(ctx, txf, s.key)
		if errors.Is(err, redis.TxFailedErr) {
			slog.Debug("redis ledger conflict, retrying", "attempt", attempt+1)
			continue
		}
		recordWrite(redisBackend, err)
		return err
	}
	recordWrite(redisBackend, redis.TxFailedErr)
	return fmt.Errorf("redis ledger: update gave up after %d conflicting attempts", s.retries)
}

// Close implements Store.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) decode(data []byte, err error) (*Document, error) {
	if errors.Is(err, redis.Nil) {
		return DefaultDocument(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis ledger: read: %w", err)
	}
	doc, derr := decode(data)
	if derr != nil {
		ledgerCorruptions.Inc()
		slog.Error("ledger corruption, continuing with empty ledger", "key", s.key, "error", derr)
		return DefaultDocument(), nil
	}
	return doc, nil
}
