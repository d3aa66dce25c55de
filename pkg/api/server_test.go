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

package api

import (
	"path/filepath"
	"testing"

	"github.com/NVIDIA/fleet-ledger/pkg/defaults"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConstants(t *testing.T) {
	assert.Equal(t, "fleetd", name)
	assert.Equal(t, "dev", versionDefault)
	assert.NotEmpty(t, version)
	assert.NotEmpty(t, commit)
	assert.NotEmpty(t, date)
}

func TestParseConfig(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		cfg := parseConfig()
		assert.Equal(t, defaults.LedgerPath, cfg.Ledger)
		assert.True(t, cfg.AutoRefresh)
		assert.False(t, cfg.ReleaseOnFailure)
		assert.False(t, cfg.Demo)
	})

	t.Run("environment overrides", func(t *testing.T) {
		t.Setenv("FLEET_LEDGER", "sqlite:///var/lib/fleet/ledger.db")
		t.Setenv("FLEET_AUTO_REFRESH", "false")
		t.Setenv("FLEET_RELEASE_ON_FAILURE", "1")
		t.Setenv("FLEET_DEMO", "true")

		cfg := parseConfig()
		assert.Equal(t, "sqlite:///var/lib/fleet/ledger.db", cfg.Ledger)
		assert.False(t, cfg.AutoRefresh)
		assert.True(t, cfg.ReleaseOnFailure)
		assert.True(t, cfg.Demo)
	})

	t.Run("unparseable booleans keep defaults", func(t *testing.T) {
		t.Setenv("FLEET_AUTO_REFRESH", "sometimes")
		assert.True(t, parseConfig().AutoRefresh)
	})
}

func TestOpenSeedsDemo(t *testing.T) {
	ctx := t.Context()
	f, err := open(ctx, Config{
		Ledger: filepath.Join(t.TempDir(), "master.json"),
		Demo:   true,
	})
	require.NoError(t, err)
	defer func() { _ = f.Close(ctx) }()

	servers, err := f.ListServers(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, servers)
	assert.False(t, f.BackgroundRefreshRunning())
}
