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
	"os"
	"strconv"

	"github.com/NVIDIA/fleet-ledger/pkg/defaults"
)

// Config is the daemon configuration read from the environment.
type Config struct {
	// Ledger is the store URI (FLEET_LEDGER).
	Ledger string
	// AutoRefresh starts the reconciliation loop on boot (FLEET_AUTO_REFRESH).
	AutoRefresh bool
	// ReleaseOnFailure returns reservations of failed deployments (FLEET_RELEASE_ON_FAILURE).
	ReleaseOnFailure bool
	// Demo seeds the demo servers on boot (FLEET_DEMO).
	Demo bool
}

// parseConfig returns defaults overridden by FLEET_* variables. Values that
// do not parse are ignored.
func parseConfig() Config {
	cfg := Config{
		Ledger:      defaults.LedgerPath,
		AutoRefresh: true,
	}

	if v := os.Getenv("FLEET_LEDGER"); v != "" {
		cfg.Ledger = v
	}
	cfg.AutoRefresh = envBool("FLEET_AUTO_REFRESH", cfg.AutoRefresh)
	cfg.ReleaseOnFailure = envBool("FLEET_RELEASE_ON_FAILURE", cfg.ReleaseOnFailure)
	cfg.Demo = envBool("FLEET_DEMO", cfg.Demo)

	return cfg
}

func envBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}
