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
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"

	"github.com/openshelf/openshelf/config"
	"github.com/openshelf/openshelf/internal/notification"
	"github.com/openshelf/openshelf/model"
)

const (
	recoveryPollInterval   = 5 * time.Minute
	recoveryStuckThreshold = 1 * time.Hour
	minRecoveryThreshold   = 2 * time.Minute
	maxRecoveryAttempts    = 3
)

// QueueRecoveryProcessor re-enqueues enrichment for works stuck at the
// queued-ok score. A work lands there when the enhancer hands it to the queue,
// and leaves when the enrichment merge raises its score; if the task is lost
// in between (Redis flush, worker crash mid-ack) the work sits at queued-ok
// forever with nothing left to move it. The processor polls for such works,
// re-enqueues them a bounded number of times, and flags the rest for an
// operator.
type QueueRecoveryProcessor struct {
	shelf          *Openshelf
	batchSize      int
	maxRetries     int
	pollInterval   time.Duration
	stuckThreshold time.Duration
	stopChan       chan struct{}
	wg             sync.WaitGroup
	mu             sync.Mutex
	running        bool
}

// NewQueueRecoveryProcessor creates a recovery processor bound to the shelf's
// store and queue.
func NewQueueRecoveryProcessor(shelf *Openshelf) *QueueRecoveryProcessor {
	batchSize := 100
	maxRetries := 5
	if cnf, err := config.Fetch(); err == nil {
		if cnf.Queue.BatchSize > 0 {
			batchSize = cnf.Queue.BatchSize
		}
		if cnf.Queue.MaxRetryAttempts > 0 {
			maxRetries = cnf.Queue.MaxRetryAttempts
		}
	}

	return &QueueRecoveryProcessor{
		shelf:          shelf,
		batchSize:      batchSize,
		maxRetries:     maxRetries,
		pollInterval:   recoveryPollInterval,
		stuckThreshold: recoveryStuckThreshold,
		stopChan:       make(chan struct{}),
	}
}

// Start launches the background polling loop. Safe to call once per process;
// subsequent calls while running are no-ops.
func (p *QueueRecoveryProcessor) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return
	}
	p.running = true
	p.stopChan = make(chan struct{})

	p.wg.Add(1)
	go p.run(ctx)
	logrus.Infof("queue recovery processor started: poll %s, stuck threshold %s", p.pollInterval, p.stuckThreshold)
}

// Stop halts the polling loop and waits for an in-flight pass to finish.
func (p *QueueRecoveryProcessor) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	close(p.stopChan)
	p.mu.Unlock()

	p.wg.Wait()
	logrus.Info("queue recovery processor stopped")
}

// IsRunning reports whether the polling loop is active.
func (p *QueueRecoveryProcessor) IsRunning() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

func (p *QueueRecoveryProcessor) run(ctx context.Context) {
	defer p.wg.Done()

	ticker := time.NewTicker(p.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopChan:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := p.recoverWithThreshold(ctx, p.stuckThreshold); err != nil {
				logrus.Errorf("queue recovery pass failed: %v", err)
			}
		}
	}
}

// RecoverStuckWorks runs one recovery pass with a caller-chosen threshold,
// used by operators to recover faster than the background loop. The threshold
// is clamped so a typo cannot sweep up works whose tasks are simply still in
// flight.
func (p *QueueRecoveryProcessor) RecoverStuckWorks(ctx context.Context, threshold time.Duration) error {
	if threshold < minRecoveryThreshold {
		logrus.Warnf("recovery threshold %s below minimum, clamping to %s", threshold, minRecoveryThreshold)
		threshold = minRecoveryThreshold
	}
	return p.recoverWithThreshold(ctx, threshold)
}

func (p *QueueRecoveryProcessor) recoverWithThreshold(ctx context.Context, threshold time.Duration) error {
	ctx, span := tracer.Start(ctx, "Recovering stuck queued works")
	defer span.End()

	stuck, err := p.shelf.datasource.GetStuckQueuedWorks(ctx, p.batchSize, threshold)
	if err != nil {
		return err
	}
	if len(stuck) == 0 {
		return nil
	}
	logrus.Infof("queue recovery: %d works stuck past %s", len(stuck), threshold)

	for _, work := range stuck {
		if err := p.recoverOne(ctx, work); err != nil {
			logrus.Errorf("failed to recover work %s: %v", work.WorkKey, err)
		}
	}
	return nil
}

// recoverOne re-enqueues enrichment for a single stuck work. Attempts are
// tracked in meta_data; past the cap the work is flagged abandoned and left
// for an operator instead of being requeued forever.
func (p *QueueRecoveryProcessor) recoverOne(ctx context.Context, work *model.StuckWork) error {
	attempts := recoveryAttempts(work.MetaData)
	if attempts >= maxRecoveryAttempts {
		logrus.Warnf("work %s exceeded %d recovery attempts, abandoning", work.WorkKey, maxRecoveryAttempts)
		notification.NotifyError(fmt.Errorf("work %s (%q) abandoned after %d recovery attempts",
			work.WorkKey, work.Title, attempts))
		return p.shelf.datasource.UpdateWorkMetadata(ctx, work.WorkKey, map[string]interface{}{
			"recovery_status":       "abandoned",
			"recovery_last_attempt": time.Now().Format(time.RFC3339),
		})
	}

	attempt := attempts + 1
	task := &model.EnrichmentTask{
		// The attempt number scopes the task ID, so a recovery pass racing a
		// still-pending recovery task dedupes instead of doubling it.
		TaskID:         fmt.Sprintf("recover_%s_%d", work.WorkKey, attempt),
		EntityType:     model.EntityWork,
		EntityKey:      work.WorkKey,
		ProvidersToTry: p.shelf.registry.Names(),
		Priority:       model.PriorityLow,
		MaxRetries:     p.maxRetries,
		ISBN:           work.ISBN,
	}
	if err := p.shelf.queue.Enqueue(ctx, task); err != nil {
		if errors.Is(err, asynq.ErrTaskIDConflict) {
			logrus.Infof("recovery task for work %s already pending", work.WorkKey)
			return nil
		}
		return err
	}

	return p.shelf.datasource.UpdateWorkMetadata(ctx, work.WorkKey, map[string]interface{}{
		"recovery_attempts":     attempt,
		"recovery_status":       "requeued",
		"recovery_last_attempt": time.Now().Format(time.RFC3339),
	})
}

// recoveryAttempts reads the attempt counter out of meta_data. JSON round-trips
// turn ints into float64, so both arrive here depending on the write path.
func recoveryAttempts(meta map[string]interface{}) int {
	switch v := meta["recovery_attempts"].(type) {
	case float64:
		return int(v)
	case int:
		return v
	default:
		return 0
	}
}
