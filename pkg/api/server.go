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
	"context"
	"log/slog"

	"github.com/NVIDIA/fleet-ledger/pkg/defaults"
	"github.com/NVIDIA/fleet-ledger/pkg/fleet"
	"github.com/NVIDIA/fleet-ledger/pkg/logging"
	"github.com/NVIDIA/fleet-ledger/pkg/server"
)

const (
	name           = "fleetd"
	versionDefault = "dev"
)

var (
	// overridden during build with ldflags to reflect actual version info
	// e.g., -X "github.com/NVIDIA/fleet-ledger/pkg/api.version=1.0.0"
	version = versionDefault
	commit  = "unknown"
	date    = "unknown"
)

// Serve starts the API server and blocks until shutdown.
// It configures logging, opens the fleet described by the FLEET_* environment,
// sets up routes and handles graceful shutdown.
func Serve() error {
	ctx := context.Background()

	logging.SetDefaultStructuredLogger(name, version)
	slog.Info("starting",
		"name", name,
		"version", version,
		"commit", commit,
		"date", date,
	)

	cfg := parseConfig()
	f, err := open(ctx, cfg)
	if err != nil {
		slog.Error("failed to open fleet", "ledger", cfg.Ledger, "error", err)
		return err
	}

	s := server.New(
		server.WithName(name),
		server.WithVersion(version),
		server.WithHandler(NewHandler(f).Routes()),
	)

	runErr := s.Run(ctx)

	closeCtx, cancel := context.WithTimeout(context.Background(), defaults.DeployShutdownTimeout)
	defer cancel()
	if err := f.Close(closeCtx); err != nil {
		slog.Warn("fleet did not close cleanly", "error", err)
	}

	if runErr != nil {
		slog.Error("server exited with error", "error", runErr)
		return runErr
	}
	return nil
}

// open builds the fleet and applies the boot-time switches of cfg.
func open(ctx context.Context, cfg Config) (*fleet.Fleet, error) {
	f, err := fleet.New(ctx, fleet.Options{
		Ledger:           cfg.Ledger,
		ReleaseOnFailure: cfg.ReleaseOnFailure,
	})
	if err != nil {
		return nil, err
	}

	if cfg.Demo {
		n, err := f.SeedDemo(ctx)
		if err != nil {
			_ = f.Close(ctx)
			return nil, err
		}
		slog.Info("demo servers seeded", "added", n)
	}

	if cfg.AutoRefresh {
		f.StartBackgroundRefresh()
	}

	slog.Info("fleet ready",
		"ledger", cfg.Ledger,
		"auto_refresh", cfg.AutoRefresh,
		"release_on_failure", cfg.ReleaseOnFailure,
	)
	return f, nil
}
