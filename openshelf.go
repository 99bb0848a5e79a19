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
	"embed"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"

	"github.com/openshelf/openshelf/config"
	"github.com/openshelf/openshelf/database"
	"github.com/openshelf/openshelf/internal/cache"
	"github.com/openshelf/openshelf/internal/quota"
	"github.com/openshelf/openshelf/internal/ratelimit"
	redis_db "github.com/openshelf/openshelf/internal/redis-db"
	"github.com/openshelf/openshelf/providers"
)

var tracer = otel.Tracer("Enrichment pipeline")

// Openshelf wires together the record store, the enrichment queue, the
// resolver chain and the quota gate guarding the primary provider.
type Openshelf struct {
	queue        *Queue
	redis        redis.UniversalClient
	datasource   database.IDataSource
	registry     *providers.Registry
	orchestrator *Orchestrator
	primary      *providers.ISBNdb
	gate         *quota.Gate
	limiter      *ratelimit.Limiter
	cache        cache.Cache
}

//go:embed sql/*.sql
var SQLFiles embed.FS

// NewOpenshelf initializes the pipeline from configuration: Redis client,
// rate limiter, quota gate, provider registry and resolver chain, and the
// enrichment queue.
func NewOpenshelf(db database.IDataSource) (*Openshelf, error) {
	configuration, err := config.Fetch()
	if err != nil {
		return nil, err
	}
	redisClient, err := redis_db.NewRedisClient([]string{fmt.Sprintf("redis://%s", configuration.Redis.Dns)}, configuration.Redis.SkipTLSVerify)
	if err != nil {
		return nil, err
	}

	limiter := ratelimit.NewLimiter(redisClient.Client(), providerDelays(configuration))
	gate := quota.NewGate(
		redisClient.Client(),
		config.PrimaryProvider,
		configuration.Providers.ISBNdbDailyQuota,
		configuration.Providers.SoftQuotaPercent,
		configuration.Providers.HardQuotaPercent,
	)

	registry := providers.NewRegistry()
	primary := providers.NewISBNdb(configuration.Providers.ISBNdbKey, limiter, configuration.Providers.SimilarityThreshold)
	registry.Register(primary)
	for _, rc := range configuration.Providers.Resolvers {
		switch rc.Name {
		case "openlibrary":
			registry.Register(providers.NewOpenLibrary(limiter, configuration.Providers.SimilarityThreshold))
		case "googlebooks":
			registry.Register(providers.NewGoogleBooks(limiter, configuration.Providers.SimilarityThreshold))
		default:
			return nil, fmt.Errorf("unknown resolver %q in config", rc.Name)
		}
	}

	orchestrator := NewOrchestrator(fallbackChain(registry, configuration), configuration)

	newCache, err := cache.NewCache()
	if err != nil {
		logrus.Warnf("lookup cache disabled: %v", err)
	}

	newQueue := NewQueue(configuration)
	newOpenshelf := &Openshelf{
		cache:        newCache,
		queue:        newQueue,
		redis:        redisClient.Client(),
		datasource:   db,
		registry:     registry,
		orchestrator: orchestrator,
		primary:      primary,
		gate:         gate,
		limiter:      limiter,
	}
	return newOpenshelf, nil
}

// providerDelays maps every configured provider onto its minimum inter-call
// delay for the shared rate limiter.
func providerDelays(configuration *config.Configuration) map[string]time.Duration {
	delays := map[string]time.Duration{
		config.PrimaryProvider: time.Duration(configuration.Providers.ISBNdbMinDelayMs) * time.Millisecond,
	}
	for _, rc := range configuration.Providers.Resolvers {
		delays[rc.Name] = time.Duration(rc.MinDelayMs) * time.Millisecond
	}
	return delays
}

// fallbackChain maps the configured resolver order onto registered adapters.
// The primary provider is not part of the chain; the quota gate routes to it
// separately.
func fallbackChain(registry *providers.Registry, configuration *config.Configuration) []ChainEntry {
	chain := make([]ChainEntry, 0, len(configuration.Providers.Resolvers))
	for _, rc := range configuration.Providers.Resolvers {
		if res, ok := registry.Get(rc.Name); ok {
			chain = append(chain, ChainEntry{
				Resolver:    res,
				Timeout:     time.Duration(rc.TimeoutSec) * time.Second,
				MaxFailures: rc.MaxFailures,
				Cooldown:    time.Duration(rc.CooldownSec) * time.Second,
			})
		}
	}
	return chain
}

// Queue exposes the enrichment queue for producers outside the core.
func (o *Openshelf) Queue() *Queue {
	return o.queue
}

// Registry exposes the provider registry.
func (o *Openshelf) Registry() *providers.Registry {
	return o.registry
}

// QuotaGate exposes the primary provider quota gate.
func (o *Openshelf) QuotaGate() *quota.Gate {
	return o.gate
}
