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
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileStoreContract(t *testing.T) {
	testStoreContract(t, NewFileStore(filepath.Join(t.TempDir(), "data", "master.json")))
}

func TestFileStoreCorruptionFallsBack(t *testing.T) {
	path := filepath.Join(t.TempDir(), "master.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))

	var logs bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewJSONHandler(&logs, nil)))
	t.Cleanup(func() { slog.SetDefault(prev) })

	store := NewFileStore(path)
	doc, err := store.Load(context.Background())
	require.NoError(t, err)
	assert.Empty(t, doc.Servers)
	assert.Contains(t, logs.String(), `"code":"LEDGER_CORRUPTION"`)
	assert.Contains(t, logs.String(), "[LEDGER_CORRUPTION] ledger is not a valid document")

	backup, err := os.ReadFile(path + ".corrupt")
	require.NoError(t, err)
	assert.Equal(t, "{not json", string(backup))
}

func TestFileStoreWriteLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	store := NewFileStore(filepath.Join(dir, "master.json"))

	require.NoError(t, store.Save(context.Background(), DefaultDocument()))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "master.json", entries[0].Name())
}

func TestFileStoreCancelledContext(t *testing.T) {
	store := NewFileStore(filepath.Join(t.TempDir(), "master.json"))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := store.Load(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.ErrorIs(t, store.Update(ctx, func(*Document) error { return nil }), context.Canceled)
}
