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

package openshelf

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/openshelf/openshelf/config"
	"github.com/openshelf/openshelf/internal/breaker"
	"github.com/openshelf/openshelf/model"
	"github.com/openshelf/openshelf/providers"
)

// ChainEntry is one fallback resolver in the orchestrator chain, with its
// timeout and circuit-breaker budget.
type ChainEntry struct {
	Resolver    providers.Resolver
	Timeout     time.Duration
	MaxFailures int
	Cooldown    time.Duration
}

type chainSlot struct {
	entry   ChainEntry
	breaker *breaker.Breaker
}

// Orchestrator walks an ordered resolver chain and returns the first
// validated hit. A resolver that times out, errors, or has a tripped breaker
// is skipped; its outcome never decides the chain's answer, only whether the
// chain moves on. First match wins: later resolvers are not consulted to
// compare confidence, which keeps the worst case bounded at the sum of the
// per-resolver timeouts.
type Orchestrator struct {
	slots          []chainSlot
	defaultTimeout time.Duration
}

// NewOrchestrator builds the chain in the given order with one circuit
// breaker per resolver.
func NewOrchestrator(chain []ChainEntry, conf *config.Configuration) *Orchestrator {
	slots := make([]chainSlot, 0, len(chain))
	for _, entry := range chain {
		if entry.Timeout <= 0 {
			entry.Timeout = conf.ResolverTimeout()
		}
		slots = append(slots, chainSlot{
			entry:   entry,
			breaker: breaker.NewBreaker(entry.MaxFailures, entry.Cooldown),
		})
	}
	return &Orchestrator{slots: slots, defaultTimeout: conf.ResolverTimeout()}
}

// Resolve runs the chain for (title, author). It returns nil with no error
// when every resolver missed or was unavailable: an unresolved title is a
// normal outcome, not a failure of the chain.
func (o *Orchestrator) Resolve(ctx context.Context, title, author string) (*model.ResolutionResult, error) {
	ctx, span := tracer.Start(ctx, "Resolving work to ISBN")
	defer span.End()

	for _, slot := range o.slots {
		name := slot.entry.Resolver.Name()
		if !slot.breaker.Allow() {
			logrus.Infof("resolver %s skipped: circuit open", name)
			continue
		}

		result, err := o.resolveOne(ctx, slot, title, author)
		if err != nil {
			slot.breaker.Failure()
			logrus.Warnf("resolver %s failed: %v", name, err)
			continue
		}
		slot.breaker.Success()
		if result != nil {
			logrus.Infof("resolved %q by %s with confidence %d", title, result.Source, result.Confidence)
			return result, nil
		}
	}
	return nil, nil
}

// resolveOne runs a single resolver under its own deadline so one slow
// provider cannot starve the rest of the chain.
func (o *Orchestrator) resolveOne(ctx context.Context, slot chainSlot, title, author string) (*model.ResolutionResult, error) {
	timeout := slot.entry.Timeout
	if timeout <= 0 {
		timeout = o.defaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type outcome struct {
		result *model.ResolutionResult
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		result, err := slot.entry.Resolver.Resolve(ctx, title, author)
		done <- outcome{result, err}
	}()

	select {
	case out := <-done:
		return out.result, out.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// ResolverStates reports each chain resolver's breaker state for the ops
// surface.
func (o *Orchestrator) ResolverStates() map[string]string {
	states := make(map[string]string, len(o.slots))
	for _, slot := range o.slots {
		states[slot.entry.Resolver.Name()] = slot.breaker.State().String()
	}
	return states
}

// ResolveWork resolves (title, author) to an ISBN. The primary provider is
// consulted first when the quota gate admits the task's priority; the free
// fallback chain runs afterwards regardless, so quota exhaustion degrades
// coverage instead of halting resolution.
func (o *Openshelf) ResolveWork(ctx context.Context, title, author string, priority int) (*model.ResolutionResult, error) {
	ctx, span := tracer.Start(ctx, "Resolving work")
	defer span.End()

	cnf, err := config.Fetch()
	if err != nil {
		return nil, err
	}

	if allowed, remaining := o.gate.CanCallPrimary(ctx, priority); allowed {
		result, err := o.resolveViaPrimary(ctx, cnf, title, author)
		if err != nil {
			logrus.Warnf("primary resolver failed, falling back: %v", err)
		} else if result != nil {
			return result, nil
		}
	} else {
		logrus.Infof("primary provider skipped for priority %d: %d calls remaining", priority, remaining)
	}

	return o.orchestrator.Resolve(ctx, title, author)
}

func (o *Openshelf) resolveViaPrimary(ctx context.Context, cnf *config.Configuration, title, author string) (*model.ResolutionResult, error) {
	ctx, cancel := context.WithTimeout(ctx, cnf.ResolverTimeout())
	defer cancel()

	// A metered search pass is one quota unit. Recorded before the call so a
	// timed-out request still counts; the provider billed it either way.
	if err := o.gate.RecordCalls(ctx, 1); err != nil {
		logrus.Warnf("failed to record primary quota usage: %v", err)
	}
	return o.primary.Resolve(ctx, title, author)
}
