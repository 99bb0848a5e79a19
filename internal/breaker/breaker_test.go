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

package breaker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// withClock pins the breaker to a controllable clock.
func withClock(b *Breaker) *time.Time {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	b.now = func() time.Time { return now }
	return &now
}

func TestBreakerStaysClosedUnderBudget(t *testing.T) {
	b := NewBreaker(3, time.Minute)
	withClock(b)

	b.Failure()
	b.Failure()
	assert.Equal(t, Closed, b.State())
	assert.True(t, b.Allow())
}

func TestBreakerTripsAfterMaxFailures(t *testing.T) {
	b := NewBreaker(3, time.Minute)
	withClock(b)

	b.Failure()
	b.Failure()
	b.Failure()
	assert.Equal(t, Open, b.State())
	assert.False(t, b.Allow())
}

func TestBreakerSuccessResetsFailureCount(t *testing.T) {
	b := NewBreaker(3, time.Minute)
	withClock(b)

	b.Failure()
	b.Failure()
	b.Success()
	// The budget is consecutive failures; a success starts it over.
	b.Failure()
	b.Failure()
	assert.Equal(t, Closed, b.State())
}

func TestBreakerHalfOpensAfterCooldown(t *testing.T) {
	b := NewBreaker(1, time.Minute)
	now := withClock(b)

	b.Failure()
	assert.False(t, b.Allow())

	*now = now.Add(time.Minute)
	assert.True(t, b.Allow())
	assert.Equal(t, HalfOpen, b.State())
}

func TestBreakerReopensOnHalfOpenFailure(t *testing.T) {
	b := NewBreaker(1, time.Minute)
	now := withClock(b)

	b.Failure()
	*now = now.Add(time.Minute)
	assert.True(t, b.Allow())

	b.Failure()
	assert.Equal(t, Open, b.State())
	assert.False(t, b.Allow())

	// The cooldown restarts from the half-open failure.
	*now = now.Add(30 * time.Second)
	assert.False(t, b.Allow())
	*now = now.Add(30 * time.Second)
	assert.True(t, b.Allow())
}

func TestBreakerClosesAfterConsecutiveSuccesses(t *testing.T) {
	b := NewBreaker(1, time.Minute)
	now := withClock(b)

	b.Failure()
	*now = now.Add(time.Minute)
	assert.True(t, b.Allow())
	assert.Equal(t, HalfOpen, b.State())

	b.Success()
	assert.Equal(t, HalfOpen, b.State())
	b.Success()
	assert.Equal(t, Closed, b.State())
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "closed", Closed.String())
	assert.Equal(t, "open", Open.String())
	assert.Equal(t, "half-open", HalfOpen.String())
}
