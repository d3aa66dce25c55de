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

package poll

import (
	"context"
	"time"

	"github.com/NVIDIA/fleet-ledger/pkg/errors"
	"k8s.io/utils/clock"
)

// ErrTimeout is returned by Until when the deadline passes first.
var ErrTimeout = errors.New(errors.ErrCodeTimeout, "condition not met before deadline")

// ConditionFunc reports whether polling is done. A non-nil error stops
// polling and is returned as is.
type ConditionFunc func(ctx context.Context) (done bool, err error)

// Until evaluates cond immediately and then every interval until it reports
// done, returns an error, the context is cancelled, or timeout elapses. The
// condition is not evaluated at the deadline itself: with a 10s interval and
// a 300s timeout it runs at 0s, 10s, ... 290s.
func Until(ctx context.Context, clk clock.Clock, interval, timeout time.Duration, cond ConditionFunc) error {
	if clk == nil {
		clk = clock.RealClock{}
	}
	deadline := clk.Now().Add(timeout)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if !clk.Now().Before(deadline) {
			return ErrTimeout
		}

		done, err := cond(ctx)
		if err != nil {
			return err
		}
		if done {
			return nil
		}

		if err := sleep(ctx, clk, interval); err != nil {
			return err
		}
	}
}

// Every runs fn immediately and then again after whatever delay fn returned,
// until ctx is cancelled. A non-positive delay stops the loop.
func Every(ctx context.Context, clk clock.Clock, fn func(ctx context.Context) time.Duration) error {
	if clk == nil {
		clk = clock.RealClock{}
	}
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		next := fn(ctx)
		if next <= 0 {
			return nil
		}
		if err := sleep(ctx, clk, next); err != nil {
			return err
		}
	}
}

func sleep(ctx context.Context, clk clock.Clock, d time.Duration) error {
	t := clk.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C():
		return nil
	}
}
