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

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"

	"github.com/openshelf/openshelf/config"
	"github.com/openshelf/openshelf/database"
	redlock "github.com/openshelf/openshelf/internal/lock"
	"github.com/openshelf/openshelf/model"
)

const enhancerLockKey = "openshelf:enhancer:lock"

// CreateSyntheticWork records a work we know exists but could not match to
// any provider record, e.g. a title imported from a user's shelf. It starts
// at the unresolved score and carries a permanent synthetic flag; the flag is
// provenance, not state, and never flips even after full enrichment.
func (o *Openshelf) CreateSyntheticWork(ctx context.Context, title, author string) (*model.Work, error) {
	ctx, span := tracer.Start(ctx, "Creating synthetic work")
	defer span.End()

	work := &model.Work{
		Title:             title,
		CompletenessScore: model.ScoreUnresolved,
		Synthetic:         true,
	}
	if author != "" {
		work.Contributors = []string{author}
	}
	return o.datasource.CreateWork(ctx, work)
}

// EnhanceSyntheticWorks runs one pass of the synthetic enhancement job:
// scan for eligible synthetic works, resolve each to an ISBN through the
// orchestrator, create the minimal edition, and hand the rest to the
// enrichment queue. Score transitions are explicit states, not merges:
//
//	30 unresolved    -> 50 isbn-resolved   (a validated ISBN was found)
//	50 isbn-resolved -> 80 queued-ok       (enrichment task enqueued)
//	50 isbn-resolved -> 40 queue-failed    (enqueue failed; retried after cooldown)
//
// The 50->40 drop is the one sanctioned score decrease in the system: it is a
// correction that makes the work eligible for the next scan instead of
// stranding it in a state the queue never saw.
//
// A Redis lock serializes passes across worker instances. Skipping a pass
// when another instance holds the lock is correct behavior, not a failure.
func (o *Openshelf) EnhanceSyntheticWorks(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "Enhancing synthetic works")
	defer span.End()

	cnf, err := config.Fetch()
	if err != nil {
		return err
	}

	locker := redlock.NewLocker(o.redis, enhancerLockKey, database.GenerateUUIDWithSuffix("lock"))
	if err := locker.Lock(ctx, 10*time.Minute); err != nil {
		logrus.Infof("enhancer pass skipped: %v", err)
		return nil
	}
	defer func() {
		if err := locker.Unlock(ctx); err != nil {
			logrus.Warnf("failed to release enhancer lock: %v", err)
		}
	}()

	works, err := o.datasource.GetEnhanceableSyntheticWorks(ctx, cnf.Enhancer.BatchSize, cnf.EnhancerCooldown())
	if err != nil {
		return err
	}
	logrus.Infof("enhancer pass: %d synthetic works eligible", len(works))

	for _, work := range works {
		if err := o.enhanceOne(ctx, cnf, work); err != nil {
			logrus.Errorf("failed to enhance work %s: %v", work.WorkKey, err)
		}
	}
	return nil
}

// enhanceOne advances a single synthetic work through the state machine.
func (o *Openshelf) enhanceOne(ctx context.Context, cnf *config.Configuration, work *model.Work) error {
	author := ""
	if len(work.Contributors) > 0 {
		author = work.Contributors[0]
	}

	result, err := o.orchestrator.Resolve(ctx, work.Title, author)
	if err != nil {
		return err
	}
	if result == nil {
		// No resolver produced a validated ISBN. The work stays unresolved;
		// stamping last_enhanced_at starts the cooldown so the next scans do
		// not hammer the same hopeless titles.
		logrus.Infof("work %s (%q) did not resolve", work.WorkKey, work.Title)
		return o.datasource.SetWorkEnhancementState(ctx, work.WorkKey, model.ScoreUnresolved)
	}

	edition := &model.Edition{
		WorkKey:             work.WorkKey,
		ISBN:                result.ISBN,
		CompletenessScore:   model.ScoreISBNResolved,
		WorkMatchConfidence: result.Confidence,
		WorkMatchSource:     result.Source,
	}
	if _, err := o.datasource.CreateEdition(ctx, edition); err != nil {
		// Another work already claimed this ISBN. Do not steal the edition;
		// annotate the conflict and park the work at isbn-resolved, which takes
		// it out of the scan until an operator reviews the collision.
		logrus.Warnf("work %s resolved to ISBN %s which already exists: %v", work.WorkKey, result.ISBN, err)
		meta := map[string]interface{}{
			"enhancement_status": "isbn_conflict",
			"conflicting_isbn":   result.ISBN,
			"conflict_source":    result.Source,
		}
		if err := o.datasource.UpdateWorkMetadata(ctx, work.WorkKey, meta); err != nil {
			logrus.Warnf("failed to record ISBN conflict on work %s: %v", work.WorkKey, err)
		}
		return o.datasource.SetWorkEnhancementState(ctx, work.WorkKey, model.ScoreISBNResolved)
	}

	if err := o.datasource.SetWorkEnhancementState(ctx, work.WorkKey, model.ScoreISBNResolved); err != nil {
		return err
	}

	task := &model.EnrichmentTask{
		TaskID:         database.GenerateUUIDWithSuffix("tsk"),
		EntityType:     model.EntityWork,
		EntityKey:      work.WorkKey,
		ProvidersToTry: o.registry.Names(),
		Priority:       model.PriorityLow,
		MaxRetries:     cnf.Queue.MaxRetryAttempts,
		ISBN:           result.ISBN,
	}
	if err := o.queue.Enqueue(ctx, task); err != nil {
		logrus.Errorf("failed to enqueue enrichment for work %s: %v", work.WorkKey, err)
		return o.datasource.SetWorkEnhancementState(ctx, work.WorkKey, model.ScoreQueueFailed)
	}

	return o.datasource.SetWorkEnhancementState(ctx, work.WorkKey, model.ScoreQueuedOK)
}

// ProcessEnhancerTask is the asynq handler for scheduled and manually
// triggered enhancer runs.
func (o *Openshelf) ProcessEnhancerTask(ctx context.Context, _ *asynq.Task) error {
	return o.EnhanceSyntheticWorks(ctx)
}
