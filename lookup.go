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
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/openshelf/openshelf/config"
	"github.com/openshelf/openshelf/internal/apierror"
	"github.com/openshelf/openshelf/model"
)

const (
	editionCacheTTL = 5 * time.Minute
	workCacheTTL    = 5 * time.Minute
	searchCacheTTL  = 1 * time.Minute
)

// LookupEdition serves the interactive ISBN lookup path: cache, then store.
// A store miss is a normal not-found answer, but it also enqueues a
// high-priority enrichment task so the next lookup for the same ISBN can be
// served locally once a provider fills it in.
func (o *Openshelf) LookupEdition(ctx context.Context, isbn string) (*model.Edition, error) {
	ctx, span := tracer.Start(ctx, "Looking up edition by ISBN")
	defer span.End()

	cacheKey := fmt.Sprintf("edition:isbn:%s", isbn)
	var cached model.Edition
	if o.cache != nil {
		if err := o.cache.Get(ctx, cacheKey, &cached); err == nil && cached.EditionKey != "" {
			return &cached, nil
		}
	}

	edition, err := o.datasource.GetEditionByISBN(ctx, isbn)
	if err != nil {
		if apierror.GetAPIErrorCode(err) == apierror.ErrNotFound {
			o.queueLookupBackfill(ctx, isbn)
		}
		return nil, err
	}

	if o.cache != nil {
		if err := o.cache.Set(ctx, cacheKey, edition, editionCacheTTL); err != nil {
			logrus.Warnf("failed to cache edition %s: %v", edition.EditionKey, err)
		}
	}
	return edition, nil
}

// queueLookupBackfill enqueues an enrichment task for an ISBN we were asked
// about but do not hold. The task ID is derived from the ISBN so concurrent
// misses for the same ISBN collapse into one pending task.
func (o *Openshelf) queueLookupBackfill(ctx context.Context, isbn string) {
	cnf, err := config.Fetch()
	if err != nil {
		logrus.Warnf("failed to queue lookup backfill for %s: %v", isbn, err)
		return
	}
	task := &model.EnrichmentTask{
		TaskID:         fmt.Sprintf("lookup_%s", isbn),
		EntityType:     model.EntityEdition,
		EntityKey:      isbn,
		ProvidersToTry: o.registry.Names(),
		Priority:       model.PriorityHigh,
		MaxRetries:     cnf.Queue.MaxRetryAttempts,
		ISBN:           isbn,
	}
	if err := o.queue.Enqueue(ctx, task); err != nil {
		logrus.Warnf("failed to queue lookup backfill for %s: %v", isbn, err)
	}
}

// GetWork retrieves a work by key, cache first.
func (o *Openshelf) GetWork(ctx context.Context, workKey string) (*model.Work, error) {
	ctx, span := tracer.Start(ctx, "Getting work")
	defer span.End()

	cacheKey := fmt.Sprintf("work:%s", workKey)
	var cached model.Work
	if o.cache != nil {
		if err := o.cache.Get(ctx, cacheKey, &cached); err == nil && cached.WorkKey != "" {
			return &cached, nil
		}
	}

	work, err := o.datasource.GetWorkByKey(ctx, workKey)
	if err != nil {
		return nil, err
	}
	if o.cache != nil {
		if err := o.cache.Set(ctx, cacheKey, work, workCacheTTL); err != nil {
			logrus.Warnf("failed to cache work %s: %v", workKey, err)
		}
	}
	return work, nil
}

// GetEdition retrieves an edition by key.
func (o *Openshelf) GetEdition(ctx context.Context, editionKey string) (*model.Edition, error) {
	return o.datasource.GetEditionByKey(ctx, editionKey)
}

// SearchWorks pattern-searches works. Results are cached briefly per
// (query, page) since search traffic tends to repeat the same few queries.
func (o *Openshelf) SearchWorks(ctx context.Context, query string, limit, offset int) ([]*model.Work, error) {
	ctx, span := tracer.Start(ctx, "Searching works")
	defer span.End()

	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}

	cacheKey := fmt.Sprintf("search:%s:%d:%d", query, limit, offset)
	var cached []*model.Work
	if o.cache != nil {
		if err := o.cache.Get(ctx, cacheKey, &cached); err == nil && len(cached) > 0 {
			return cached, nil
		}
	}

	works, err := o.datasource.SearchWorks(ctx, query, limit, offset)
	if err != nil {
		return nil, err
	}
	if o.cache != nil && len(works) > 0 {
		if err := o.cache.Set(ctx, cacheKey, works, searchCacheTTL); err != nil {
			logrus.Warnf("failed to cache search %q: %v", query, err)
		}
	}
	return works, nil
}

// QuotaState reports the primary provider's remaining daily budget.
func (o *Openshelf) QuotaState(ctx context.Context) (*model.QuotaState, error) {
	return o.gate.State(ctx)
}

// ResolverStates reports the breaker state of every fallback resolver.
func (o *Openshelf) ResolverStates() map[string]string {
	return o.orchestrator.ResolverStates()
}

// TriggerEnhancerRun enqueues a one-off enhancer pass.
func (o *Openshelf) TriggerEnhancerRun(ctx context.Context) error {
	return o.queue.queueEnhancerRun(ctx)
}
