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

// Package ratelimit enforces a minimum inter-call delay per external provider
// across all worker instances. The last-call timestamp lives in Redis so that
// horizontally scaled workers share one budget; a timestamp kept in process
// memory would be invisible to sibling instances.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// Limiter spaces out calls to external providers using a shared timestamp per
// provider key. Last-writer-wins on the stamp is acceptable: the cost of an
// occasional double-call is lower than the cost of coordinating writers.
type Limiter struct {
	client redis.UniversalClient
	delays map[string]time.Duration
	now    func() time.Time
	sleep  func(context.Context, time.Duration) error
}

const keyPrefix = "openshelf:ratelimit:"

// NewLimiter builds a limiter with per-provider minimum delays.
func NewLimiter(client redis.UniversalClient, delays map[string]time.Duration) *Limiter {
	return &Limiter{
		client: client,
		delays: delays,
		now:    time.Now,
		sleep:  sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Acquire blocks until at least the provider's minimum delay has passed since
// the last recorded call, then stamps now. A provider with no configured delay
// proceeds immediately. If Redis is unavailable the limiter logs and lets the
// call through: a missed delay is cheaper than a stalled pipeline.
func (l *Limiter) Acquire(ctx context.Context, provider string) error {
	delay, ok := l.delays[provider]
	if !ok || delay <= 0 {
		return nil
	}

	key := keyPrefix + provider
	// TTL slightly above the delay so idle providers self-clean.
	ttl := delay + delay/2

	for {
		lastMs, err := l.client.Get(ctx, key).Int64()
		if err != nil && !errors.Is(err, redis.Nil) {
			logrus.Warnf("rate limiter degraded for %s, proceeding without delay: %v", provider, err)
			return nil
		}

		if err == nil {
			elapsed := l.now().Sub(time.UnixMilli(lastMs))
			if elapsed < delay {
				if err := l.sleep(ctx, delay-elapsed); err != nil {
					return err
				}
				// Re-read after sleeping; another worker may have stamped meanwhile.
				continue
			}
		}

		if err := l.client.Set(ctx, key, fmt.Sprintf("%d", l.now().UnixMilli()), ttl).Err(); err != nil {
			logrus.Warnf("rate limiter failed to record call for %s: %v", provider, err)
		}
		return nil
	}
}
