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
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testStoreContract exercises the behavior every backend must share.
func testStoreContract(t *testing.T, store Store) {
	t.Helper()
	ctx := context.Background()

	t.Run("empty store loads default document", func(t *testing.T) {
		doc, err := store.Load(ctx)
		require.NoError(t, err)
		assert.Empty(t, doc.Servers)
		assert.True(t, doc.Config.AutoRefresh())
	})

	t.Run("save then load", func(t *testing.T) {
		doc := DefaultDocument()
		doc.Servers = append(doc.Servers, Server{
			ID:   "srv-1",
			Name: "Server One",
			Type: "mock",
			Resources: Resources{
				Total:     ResourceMap{CPUs: 8, RAMGB: 32, GPUs: 2},
				Allocated: NewResourceMap(),
				Available: ResourceMap{CPUs: 8, RAMGB: 32, GPUs: 2},
			},
		})
		require.NoError(t, store.Save(ctx, doc))

		got, err := store.Load(ctx)
		require.NoError(t, err)
		require.Len(t, got.Servers, 1)
		assert.Equal(t, int64(32), got.Servers[0].Resources.Available.Get(RAMGB))
	})

	t.Run("update applies mutation", func(t *testing.T) {
		err := store.Update(ctx, func(doc *Document) error {
			s, ok := doc.Server("srv-1")
			require.True(t, ok)
			s.Pods = append(s.Pods, Pod{PodID: "web", Name: "web", Status: StatusPending})
			return nil
		})
		require.NoError(t, err)

		got, err := store.Load(ctx)
		require.NoError(t, err)
		s, ok := got.Server("srv-1")
		require.True(t, ok)
		require.Len(t, s.Pods, 1)
		assert.Equal(t, StatusPending, s.Pods[0].Status)
	})

	t.Run("failed mutation writes nothing", func(t *testing.T) {
		boom := errors.New("boom")
		err := store.Update(ctx, func(doc *Document) error {
			doc.Servers = nil
			return boom
		})
		require.ErrorIs(t, err, boom)

		got, err := store.Load(ctx)
		require.NoError(t, err)
		assert.Len(t, got.Servers, 1)
	})

	t.Run("concurrent updates are not lost", func(t *testing.T) {
		const writers = 16
		var wg sync.WaitGroup
		for i := 0; i < writers; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				err := store.Update(ctx, func(doc *Document) error {
					s, _ := doc.Server("srv-1")
					s.Pods = append(s.Pods, Pod{PodID: fmt.Sprintf("p-%d", i), Status: StatusPending})
					return nil
				})
				assert.NoError(t, err)
			}(i)
		}
		wg.Wait()

		got, err := store.Load(ctx)
		require.NoError(t, err)
		s, _ := got.Server("srv-1")
		assert.Len(t, s.Pods, writers+1)
	})
}

func TestOpen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	tests := []struct {
		name    string
		uri     string
		want    string
		wantErr bool
	}{
		{name: "plain path", uri: dir + "/a.json", want: "*ledger.FileStore"},
		{name: "file scheme", uri: "file://" + dir + "/b.json", want: "*ledger.FileStore"},
		{name: "sqlite scheme", uri: "sqlite://" + dir + "/c.db", want: "*ledger.SQLiteStore"},
		{name: "unknown scheme", uri: "etcd://localhost:2379", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := Open(ctx, tt.uri)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			defer s.Close()
			assert.Equal(t, tt.want, fmt.Sprintf("%T", s))
		})
	}
}

func TestSplitRedisURI(t *testing.T) {
	addr, key, err := splitRedisURI("redis://localhost:6379/2?key=custom")
	require.NoError(t, err)
	assert.Equal(t, "redis://localhost:6379/2", addr)
	assert.Equal(t, "custom", key)

	_, key, err = splitRedisURI("redis://localhost:6379/0")
	require.NoError(t, err)
	assert.Equal(t, "fleet:ledger", key)
}
