/*
Copyright 2025 Openshelf Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package quota tracks day-scoped call budgets for metered providers and
// gates access to the primary provider. The counter lives in Redis so every
// worker instance draws from the same pool; increments are atomic INCRBY, not
// read-modify-write.
package quota

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/openshelf/openshelf/model"
)

// Gate guards the primary provider. Two thresholds split the quota pool
// between latency-sensitive lookups and throughput-sensitive background jobs:
// past the soft threshold only high-priority callers may use the primary
// provider; past the hard threshold nobody may, and every caller is routed to
// the fallback chain.
type Gate struct {
	client      redis.UniversalClient
	provider    string
	dailyLimit  int
	softPercent int
	hardPercent int
	now         func() time.Time
}

const keyPrefix = "openshelf:quota:"

// NewGate builds a quota gate for one metered provider.
func NewGate(client redis.UniversalClient, provider string, dailyLimit, softPercent, hardPercent int) *Gate {
	return &Gate{
		client:      client,
		provider:    provider,
		dailyLimit:  dailyLimit,
		softPercent: softPercent,
		hardPercent: hardPercent,
		now:         time.Now,
	}
}

// key returns the counter key for the current UTC day. Scoping the key by
// date makes the daily reset implicit; the TTL is a safety net for cleanup.
func (g *Gate) key() string {
	return fmt.Sprintf("%s%s:%s", keyPrefix, g.provider, g.now().UTC().Format("2006-01-02"))
}

func (g *Gate) softLimit() int {
	return g.dailyLimit * g.softPercent / 100
}

func (g *Gate) hardLimit() int {
	return g.dailyLimit * g.hardPercent / 100
}

// used reads the current day's counter. A missing key counts as zero.
func (g *Gate) used(ctx context.Context) (int, error) {
	val, err := g.client.Get(ctx, g.key()).Int()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return val, nil
}

// CanCallPrimary reports whether a caller at the given priority may spend
// primary-provider quota, plus the remaining budget. If the shared store is
// unreachable the gate fails closed for background priorities and open for
// high priority, protecting interactive lookups without risking a bulk
// overspend.
func (g *Gate) CanCallPrimary(ctx context.Context, priority int) (bool, int) {
	used, err := g.used(ctx)
	if err != nil {
		logrus.Warnf("quota gate degraded for %s: %v", g.provider, err)
		return priority >= model.PriorityHigh, 0
	}

	remaining := g.dailyLimit - used
	if remaining < 0 {
		remaining = 0
	}

	if used >= g.hardLimit() {
		return false, remaining
	}
	if used >= g.softLimit() && priority < model.PriorityHigh {
		return false, remaining
	}
	return true, remaining
}

// RecordCalls atomically adds n calls to the current day's counter. The key
// expires shortly after the next UTC midnight so stale days clean themselves.
func (g *Gate) RecordCalls(ctx context.Context, n int) error {
	if n <= 0 {
		return nil
	}
	key := g.key()
	pipe := g.client.TxPipeline()
	pipe.IncrBy(ctx, key, int64(n))
	pipe.ExpireAt(ctx, key, g.nextReset().Add(time.Hour))
	_, err := pipe.Exec(ctx)
	return err
}

// nextReset returns the next UTC midnight boundary.
func (g *Gate) nextReset() time.Time {
	now := g.now().UTC()
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC).Add(24 * time.Hour)
}

// State returns the current quota state for dashboards and the stats API.
func (g *Gate) State(ctx context.Context) (*model.QuotaState, error) {
	used, err := g.used(ctx)
	if err != nil {
		return nil, err
	}
	remaining := g.dailyLimit - used
	if remaining < 0 {
		remaining = 0
	}
	return &model.QuotaState{
		Provider:  g.provider,
		Used:      used,
		Limit:     g.dailyLimit,
		Remaining: remaining,
		SoftLimit: g.softLimit(),
		HardLimit: g.hardLimit(),
	}, nil
}
