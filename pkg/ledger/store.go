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
	"fmt"
	"net/url"
	"strings"

	"github.com/NVIDIA/fleet-ledger/pkg/defaults"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Store persists the ledger document.
type Store interface {
	// Load returns the latest document.
	Load(ctx context.Context) (*Document, error)

	// Save replaces the whole document.
	Save(ctx context.Context, doc *Document) error

	// Update reloads the latest document, applies fn, and writes the result
	// back. When fn returns an error nothing is written and the error is returned.
	Update(ctx context.Context, fn func(*Document) error) error

	// Close releases backend resources.
	Close() error
}

// URI schemes understood by Open.
const (
	SchemeFile   = "file://"
	SchemeSQLite = "sqlite://"
	SchemeRedis  = "redis://"
)

var (
	ledgerWrites = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fleet_ledger_writes_total",
			Help: "Total number of ledger writes by backend and result",
		},
		[]string{"backend", "result"},
	)

	ledgerCorruptions = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "fleet_ledger_corruptions_total",
			Help: "Total number of times an unreadable ledger was replaced by the default document",
		},
	)
)

func recordWrite(backend string, err error) {
	result := "success"
	if err != nil {
		result = "error"
	}
	ledgerWrites.WithLabelValues(backend, result).Inc()
}

// Open returns the store addressed by uri. An empty uri selects the file
// backend at defaults.LedgerPath.
func Open(ctx context.Context, uri string) (Store, error) {
	uri = strings.TrimSpace(uri)
	switch {
	case uri == "":
		return NewFileStore(defaults.LedgerPath), nil
	case strings.HasPrefix(uri, SchemeFile):
		return NewFileStore(strings.TrimPrefix(uri, SchemeFile)), nil
	case strings.HasPrefix(uri, SchemeSQLite):
		return NewSQLiteStore(ctx, strings.TrimPrefix(uri, SchemeSQLite))
	case strings.HasPrefix(uri, SchemeRedis):
		addr, key, err := splitRedisURI(uri)
		if err != nil {
			return nil, err
		}
		return NewRedisStore(ctx, addr, key)
	case strings.Contains(uri, "://"):
		return nil, fmt.Errorf("unsupported ledger uri scheme: %q", uri)
	default:
		return NewFileStore(uri), nil
	}
}

// splitRedisURI removes the key query parameter, which the redis client does
// not understand, and returns the remaining connection URL and the key.
func splitRedisURI(uri string) (string, string, error) {
	u, err := url.Parse(uri)
	if err != nil {
		return "", "", fmt.Errorf("invalid redis ledger uri %q: %w", uri, err)
	}
	q := u.Query()
	key := q.Get("key")
	if key == "" {
		key = defaults.LedgerRedisKey
	}
	q.Del("key")
	u.RawQuery = q.Encode()
	return u.String(), key, nil
}
