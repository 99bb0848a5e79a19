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
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"

	"github.com/openshelf/openshelf/config"
	"github.com/openshelf/openshelf/database"
	"github.com/openshelf/openshelf/internal/apierror"
	"github.com/openshelf/openshelf/internal/notification"
	"github.com/openshelf/openshelf/model"
	"github.com/openshelf/openshelf/providers"
)

// ProcessEnrichmentTask is the asynq handler for enrichment tasks. Delivery
// is at-least-once, so every write it performs is an idempotent merge; a
// redelivered task converges on the same record instead of duplicating it.
//
// Error handling decides requeue behavior: a transient provider failure
// returns an error so asynq retries with backoff, a malformed task or an
// unknown provider returns asynq.SkipRetry, and a clean miss (no provider
// knows the entity) completes the task without touching the record.
func (o *Openshelf) ProcessEnrichmentTask(ctx context.Context, t *asynq.Task) error {
	ctx, span := tracer.Start(ctx, "Processing enrichment task")
	defer span.End()

	var task model.EnrichmentTask
	if err := json.Unmarshal(t.Payload(), &task); err != nil {
		logrus.Errorf("discarding malformed enrichment payload: %v", err)
		return fmt.Errorf("malformed enrichment payload: %w", asynq.SkipRetry)
	}
	if err := task.Validate(); err != nil {
		logrus.Errorf("discarding invalid enrichment task %s: %v", task.TaskID, err)
		return fmt.Errorf("invalid enrichment task: %v: %w", err, asynq.SkipRetry)
	}

	resolvers, err := o.registry.FromNames(task.ProvidersToTry)
	if err != nil {
		logrus.Errorf("discarding enrichment task %s: %v", task.TaskID, err)
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}

	retryCount, _ := asynq.GetRetryCount(ctx)
	maxRetry, _ := asynq.GetMaxRetry(ctx)
	task.RetryCount = retryCount

	switch task.EntityType {
	case model.EntityEdition:
		err = o.enrichEdition(ctx, &task, resolvers)
	case model.EntityWork:
		err = o.enrichWork(ctx, &task, resolvers)
	case model.EntityAuthor:
		err = o.enrichAuthor(ctx, &task)
	}

	if err != nil && retryCount >= maxRetry {
		// Last attempt. asynq archives the task after this return; flag it so
		// an operator finds it in the dead set instead of discovering a stale
		// record weeks later.
		notification.NotifyError(fmt.Errorf("enrichment task %s for %s exhausted %d retries: %v",
			task.TaskID, task.EntityKey, maxRetry, err))
	}
	return err
}

// enrichEdition fetches full metadata for the edition's ISBN and merges it
// into the edition, its parent work, and the contributor records.
func (o *Openshelf) enrichEdition(ctx context.Context, task *model.EnrichmentTask, resolvers []providers.Resolver) error {
	isbn := task.ISBN
	if isbn == "" {
		edition, err := o.datasource.GetEditionByKey(ctx, task.EntityKey)
		if err != nil {
			if apierror.GetAPIErrorCode(err) == apierror.ErrNotFound {
				logrus.Warnf("enrichment task %s: edition %s no longer exists", task.TaskID, task.EntityKey)
				return nil
			}
			return err
		}
		isbn = edition.ISBN
	}
	if isbn == "" {
		logrus.Warnf("enrichment task %s: edition %s has no ISBN to enrich by", task.TaskID, task.EntityKey)
		return nil
	}

	record, err := o.fetchFromProviders(ctx, resolvers, isbn, task.Priority)
	if err != nil {
		return err
	}
	if record == nil {
		logrus.Infof("enrichment task %s: no provider knows ISBN %s", task.TaskID, isbn)
		return nil
	}

	return o.applyRecord(ctx, task, record)
}

// enrichWork handles work-scoped tasks. The work is resolved to an ISBN first
// when no linked edition provides one, then enriched through the edition path
// so both records converge through the same merge.
func (o *Openshelf) enrichWork(ctx context.Context, task *model.EnrichmentTask, resolvers []providers.Resolver) error {
	work, err := o.datasource.GetWorkByKey(ctx, task.EntityKey)
	if err != nil {
		if apierror.GetAPIErrorCode(err) == apierror.ErrNotFound {
			logrus.Warnf("enrichment task %s: work %s no longer exists", task.TaskID, task.EntityKey)
			return nil
		}
		return err
	}

	isbn := task.ISBN
	if isbn == "" {
		title, author := task.Title, task.Author
		if title == "" {
			title = work.Title
		}
		if author == "" && len(work.Contributors) > 0 {
			author = work.Contributors[0]
		}
		result, err := o.ResolveWork(ctx, title, author, task.Priority)
		if err != nil {
			return err
		}
		if result == nil {
			logrus.Infof("enrichment task %s: work %s did not resolve to an ISBN", task.TaskID, task.EntityKey)
			return nil
		}
		isbn = result.ISBN
	}

	record, err := o.fetchFromProviders(ctx, resolvers, isbn, task.Priority)
	if err != nil {
		return err
	}
	if record == nil {
		return nil
	}

	editionTask := &model.EnrichmentTask{
		TaskID:         task.TaskID,
		EntityType:     model.EntityEdition,
		EntityKey:      task.EntityKey,
		ProvidersToTry: task.ProvidersToTry,
		Priority:       task.Priority,
		ISBN:           isbn,
	}
	return o.applyRecord(ctx, editionTask, record)
}

// enrichAuthor materializes a contributor row. Author tasks are produced as a
// side effect of edition merges; the upsert is keyed by name so replays and
// concurrent discoveries of the same contributor collapse into one record.
func (o *Openshelf) enrichAuthor(ctx context.Context, task *model.EnrichmentTask) error {
	if task.Author == "" {
		logrus.Warnf("enrichment task %s: author task without a name", task.TaskID)
		return nil
	}
	_, err := o.datasource.UpsertAuthor(ctx, &model.Author{
		Name:              task.Author,
		CompletenessScore: model.ScoreISBNResolved,
	})
	return err
}

// fetchFromProviders walks the task's provider list in order and returns the
// first record found. The primary provider is consulted only when the quota
// gate admits the task's priority; a blocked primary is skipped silently, the
// free providers still run. Transient failures are remembered so an all-miss
// pass that included one is retried rather than treated as a permanent miss.
func (o *Openshelf) fetchFromProviders(ctx context.Context, resolvers []providers.Resolver, isbn string, priority int) (*model.ProviderRecord, error) {
	var transient error
	for _, res := range resolvers {
		if res.Name() == config.PrimaryProvider {
			allowed, remaining := o.gate.CanCallPrimary(ctx, priority)
			if !allowed {
				logrus.Infof("primary provider skipped for priority %d: %d calls remaining", priority, remaining)
				continue
			}
			if err := o.gate.RecordCalls(ctx, 1); err != nil {
				logrus.Warnf("failed to record primary quota usage: %v", err)
			}
		}

		record, err := res.Fetch(ctx, isbn)
		if err != nil {
			if providers.IsTransient(err) {
				logrus.Warnf("provider %s transient failure for ISBN %s: %v", res.Name(), isbn, err)
				transient = err
				continue
			}
			return nil, err
		}
		if record != nil {
			return record, nil
		}
	}
	return nil, transient
}

// applyRecord merges one provider record into the store: edition first, then
// the parent work, then contributor rows via low-priority author tasks. Each
// write is an idempotent merge so redelivery is harmless.
func (o *Openshelf) applyRecord(ctx context.Context, task *model.EnrichmentTask, record *model.ProviderRecord) error {
	ctx, span := tracer.Start(ctx, "Merging provider record")
	defer span.End()

	edition := &model.Edition{
		ISBN:              record.ISBN,
		Publisher:         record.Publisher,
		PublishDate:       record.PublishDate,
		PageCount:         record.PageCount,
		Format:            record.Format,
		Language:          record.Language,
		CoverURL:          record.CoverURL,
		CompletenessScore: record.Completeness(),
		PrimaryProvider:   record.Source,
		Contributors:      record.Authors,
	}
	if record.ExternalID != "" {
		edition.ExternalIDs = map[string]string{record.Source: record.ExternalID}
	}
	// Work tasks carry the work's key; it seeds the edition's write-once work
	// link. The merge SQL ignores it if the edition is already linked.
	if isWorkKey(task.EntityKey) {
		edition.WorkKey = task.EntityKey
	}

	merged, err := o.datasource.UpsertEditionEnrichment(ctx, edition)
	if err != nil {
		return err
	}

	if merged.WorkKey != "" {
		workUpdate := &model.Work{
			WorkKey:           merged.WorkKey,
			Title:             record.Title,
			Description:       record.Description,
			Subjects:          record.Subjects,
			Contributors:      record.Authors,
			CompletenessScore: record.Completeness(),
			PrimaryProvider:   record.Source,
			LastPrimarySync:   time.Now(),
		}
		if _, err := o.datasource.UpdateWorkEnrichment(ctx, workUpdate); err != nil {
			if apierror.GetAPIErrorCode(err) == apierror.ErrNotFound {
				logrus.Warnf("edition %s links to missing work %s", merged.EditionKey, merged.WorkKey)
			} else {
				return err
			}
		}
	}

	o.queueAuthorTasks(ctx, task, record.Authors)
	return nil
}

// queueAuthorTasks enqueues a low-priority materialization task per
// contributor. Failures here are logged, not returned; losing an author row
// must not fail an otherwise successful enrichment pass, and the next pass
// over the same edition will enqueue them again.
func (o *Openshelf) queueAuthorTasks(ctx context.Context, task *model.EnrichmentTask, authors []string) {
	for _, name := range authors {
		if name == "" {
			continue
		}
		authorTask := &model.EnrichmentTask{
			TaskID:         database.GenerateUUIDWithSuffix("tsk"),
			EntityType:     model.EntityAuthor,
			EntityKey:      task.EntityKey,
			ProvidersToTry: task.ProvidersToTry,
			Priority:       model.PriorityLow,
			MaxRetries:     task.MaxRetries,
			Author:         name,
		}
		if err := o.queue.Enqueue(ctx, authorTask); err != nil {
			logrus.Warnf("failed to enqueue author task for %q: %v", name, err)
		}
	}
}

// EnrichBatch fetches up to the primary provider's batch limit of ISBNs in
// one metered call and merges every returned record. ISBNs the provider does
// not know are reported back as misses, not errors.
func (o *Openshelf) EnrichBatch(ctx context.Context, isbns []string, priority int) (map[string]*model.ProviderRecord, error) {
	ctx, span := tracer.Start(ctx, "Batch enriching ISBNs")
	defer span.End()

	if len(isbns) == 0 {
		return nil, apierror.NewAPIError(apierror.ErrInvalidInput, "no ISBNs provided", nil)
	}
	if len(isbns) > providers.BatchLimit {
		return nil, apierror.NewAPIError(apierror.ErrInvalidInput,
			fmt.Sprintf("batch size %d exceeds limit of %d", len(isbns), providers.BatchLimit), nil)
	}

	allowed, remaining := o.gate.CanCallPrimary(ctx, priority)
	if !allowed {
		return nil, apierror.NewAPIError(apierror.ErrQuotaExhausted,
			fmt.Sprintf("primary provider quota blocks this batch (%d calls remaining)", remaining), nil)
	}
	if err := o.gate.RecordCalls(ctx, 1); err != nil {
		logrus.Warnf("failed to record primary quota usage: %v", err)
	}

	records, err := o.primary.FetchBatch(ctx, isbns)
	if err != nil {
		return nil, err
	}

	for isbn, record := range records {
		if record == nil {
			continue
		}
		batchTask := &model.EnrichmentTask{
			TaskID:         database.GenerateUUIDWithSuffix("tsk"),
			EntityType:     model.EntityEdition,
			EntityKey:      "",
			ProvidersToTry: []string{config.PrimaryProvider},
			Priority:       priority,
			ISBN:           isbn,
		}
		if err := o.applyRecord(ctx, batchTask, record); err != nil {
			logrus.Errorf("failed to merge batch record for ISBN %s: %v", isbn, err)
		}
	}
	return records, nil
}

// ProcessEnrichmentBatch is the asynq handler for aggregated edition tasks.
// Each member task would have spent one metered primary call on its own; here
// the whole group is served by a single bulk call when the quota gate admits
// the batch's highest priority. Members the bulk call misses, and the whole
// batch when the gate blocks it, fall back to the per-task provider walk.
// Merges are the same idempotent upserts as the single-task path, so a
// redelivered batch converges instead of duplicating.
func (o *Openshelf) ProcessEnrichmentBatch(ctx context.Context, t *asynq.Task) error {
	ctx, span := tracer.Start(ctx, "Processing enrichment batch")
	defer span.End()

	var payloads []json.RawMessage
	if err := json.Unmarshal(t.Payload(), &payloads); err != nil {
		logrus.Errorf("discarding malformed batch payload: %v", err)
		return fmt.Errorf("malformed batch payload: %w", asynq.SkipRetry)
	}

	var tasks []*model.EnrichmentTask
	priority := model.PriorityLow
	for _, raw := range payloads {
		var task model.EnrichmentTask
		if err := json.Unmarshal(raw, &task); err != nil {
			logrus.Warnf("skipping malformed member of enrichment batch: %v", err)
			continue
		}
		if err := task.Validate(); err != nil || task.ISBN == "" {
			logrus.Warnf("skipping invalid member %s of enrichment batch: %v", task.TaskID, err)
			continue
		}
		if task.Priority > priority {
			priority = task.Priority
		}
		tasks = append(tasks, &task)
	}
	if len(tasks) == 0 {
		return fmt.Errorf("enrichment batch has no usable tasks: %w", asynq.SkipRetry)
	}

	records := map[string]*model.ProviderRecord{}
	consultedPrimary := false
	allowed, remaining := o.gate.CanCallPrimary(ctx, priority)
	if allowed && o.primary != nil {
		isbns := batchISBNs(tasks)
		for start := 0; start < len(isbns); start += providers.BatchLimit {
			end := start + providers.BatchLimit
			if end > len(isbns) {
				end = len(isbns)
			}
			if err := o.gate.RecordCalls(ctx, 1); err != nil {
				logrus.Warnf("failed to record primary quota usage: %v", err)
			}
			recs, err := o.primary.FetchBatch(ctx, isbns[start:end])
			if err != nil {
				if providers.IsTransient(err) {
					return err
				}
				logrus.Errorf("primary batch fetch failed: %v", err)
				break
			}
			for isbn, rec := range recs {
				records[isbn] = rec
			}
			consultedPrimary = true
		}
	} else {
		logrus.Infof("primary provider skipped for batch of %d tasks at priority %d: %d calls remaining",
			len(tasks), priority, remaining)
	}

	var firstErr error
	for _, task := range tasks {
		record := records[task.ISBN]
		if record == nil {
			resolvers, err := o.registry.FromNames(task.ProvidersToTry)
			if err != nil {
				logrus.Errorf("skipping batch task %s: %v", task.TaskID, err)
				continue
			}
			if consultedPrimary {
				// The bulk call already answered for the primary provider; a
				// miss there is a miss, not grounds for a second metered call.
				resolvers = withoutPrimary(resolvers)
			}
			record, err = o.fetchFromProviders(ctx, resolvers, task.ISBN, task.Priority)
			if err != nil {
				logrus.Warnf("batch task %s fallback failed for ISBN %s: %v", task.TaskID, task.ISBN, err)
				if firstErr == nil {
					firstErr = err
				}
				continue
			}
			if record == nil {
				logrus.Infof("batch task %s: no provider knows ISBN %s", task.TaskID, task.ISBN)
				continue
			}
		}
		if err := o.applyRecord(ctx, task, record); err != nil {
			logrus.Errorf("failed to merge batch record for ISBN %s: %v", task.ISBN, err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}

	retryCount, _ := asynq.GetRetryCount(ctx)
	maxRetry, _ := asynq.GetMaxRetry(ctx)
	if firstErr != nil && retryCount >= maxRetry {
		notification.NotifyError(fmt.Errorf("enrichment batch of %d tasks exhausted %d retries: %v",
			len(tasks), maxRetry, firstErr))
	}
	return firstErr
}

// batchISBNs collects the distinct ISBNs of a batch, preserving order.
func batchISBNs(tasks []*model.EnrichmentTask) []string {
	seen := make(map[string]struct{}, len(tasks))
	isbns := make([]string, 0, len(tasks))
	for _, task := range tasks {
		if _, ok := seen[task.ISBN]; ok {
			continue
		}
		seen[task.ISBN] = struct{}{}
		isbns = append(isbns, task.ISBN)
	}
	return isbns
}

func withoutPrimary(resolvers []providers.Resolver) []providers.Resolver {
	out := make([]providers.Resolver, 0, len(resolvers))
	for _, res := range resolvers {
		if res.Name() != config.PrimaryProvider {
			out = append(out, res)
		}
	}
	return out
}

// isWorkKey reports whether a key belongs to a work record.
func isWorkKey(key string) bool {
	return len(key) > 4 && key[:4] == "wrk_"
}
