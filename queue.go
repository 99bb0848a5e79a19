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
	"hash/fnv"
	"log"
	"time"

	"github.com/hibiken/asynq"

	"github.com/openshelf/openshelf/config"
	redis_db "github.com/openshelf/openshelf/internal/redis-db"
	"github.com/openshelf/openshelf/model"
)

// BatchTaskType is the task type of an aggregated edition batch emitted by
// the group aggregator; the worker registers a dedicated handler for it.
const BatchTaskType = "enrichment:batch"

// enrichmentBatchGroup names the aggregation group collecting batchable
// edition tasks inside each numbered queue.
const enrichmentBatchGroup = "edition-batch"

// Aggregation windows for the batch group. The grace period resets on every
// new member; the max delay bounds how long the first member can wait.
const (
	BatchGracePeriod = 30 * time.Second
	BatchMaxDelay    = 2 * time.Minute
)

// Queue wraps the asynq client and inspector for the enrichment pipeline.
type Queue struct {
	Client    *asynq.Client
	Inspector *asynq.Inspector
}

// NewQueue initializes a new Queue instance with the provided configuration.
func NewQueue(conf *config.Configuration) *Queue {
	redisOption, err := redis_db.ParseRedisURL(conf.Redis.Dns, conf.Redis.SkipTLSVerify)
	if err != nil {
		log.Fatalf("Error parsing Redis URL: %v", err)
	}

	queueOptions := asynq.RedisClientOpt{Addr: redisOption.Addr, Password: redisOption.Password, DB: redisOption.DB, TLSConfig: redisOption.TLSConfig}
	client := asynq.NewClient(queueOptions)
	inspector := asynq.NewInspector(queueOptions)
	return &Queue{
		Client:    client,
		Inspector: inspector,
	}
}

// Enqueue adds an enrichment task to the Redis queue. Tasks for the same
// entity land in the same queue so passes over one record are processed
// serially, and the task ID dedupes producers racing to enqueue the same
// entity.
func (q *Queue) Enqueue(ctx context.Context, task *model.EnrichmentTask) error {
	ctx, span := tracer.Start(ctx, "Adding enrichment task to Redis queue")
	defer span.End()

	if err := task.Validate(); err != nil {
		return err
	}

	payload, err := task.ToJSON()
	if err != nil {
		return err
	}
	info, err := q.Client.EnqueueContext(ctx, q.newTask(task, payload))
	if err != nil {
		log.Println(err, info)
		return err
	}
	log.Printf(" [*] Successfully enqueued enrichment task: %s for %s", task.TaskID, task.EntityKey)

	return nil
}

// newTask assigns the task to one of the numbered enrichment queues by
// hashing the entity key. All passes over the same entity share a queue, so
// concurrent workers never merge the same record at the same time.
func (q *Queue) newTask(task *model.EnrichmentTask, payload []byte) *asynq.Task {
	cnf, err := config.Fetch()
	if err != nil {
		log.Printf("Error fetching config: %v", err)
		return asynq.NewTask(config.DefaultEnrichmentQueue, payload, asynq.TaskID(task.TaskID))
	}
	queueIndex := hashEntityKey(task.EntityKey) % cnf.Queue.NumberOfQueues
	queueName := fmt.Sprintf("%s_%d", cnf.Queue.EnrichmentQueue, queueIndex+1)

	taskOptions := []asynq.Option{
		asynq.TaskID(task.TaskID),
		asynq.Queue(queueName),
		asynq.MaxRetry(task.MaxRetries),
	}
	if batchable(task) {
		taskOptions = append(taskOptions, asynq.Group(enrichmentBatchGroup))
	}

	return asynq.NewTask(queueName, payload, taskOptions...)
}

// batchable reports whether a task may wait in the aggregation group for a
// combined primary-provider bulk call. High-priority tasks serve interactive
// lookups and must not be delayed; tasks that will never consult the primary
// provider gain nothing from waiting.
func batchable(task *model.EnrichmentTask) bool {
	if task.EntityType != model.EntityEdition || task.ISBN == "" {
		return false
	}
	if task.Priority >= model.PriorityHigh {
		return false
	}
	for _, name := range task.ProvidersToTry {
		if name == config.PrimaryProvider {
			return true
		}
	}
	return false
}

// AggregateEnrichmentTasks combines grouped edition tasks into one batch task
// whose payload is the JSON array of the member payloads. The whole group is
// then served by a single metered bulk call instead of one call per member.
func AggregateEnrichmentTasks(group string, tasks []*asynq.Task) *asynq.Task {
	batch := make([]json.RawMessage, 0, len(tasks))
	for _, t := range tasks {
		if !json.Valid(t.Payload()) {
			log.Printf("dropping malformed payload from group %s", group)
			continue
		}
		batch = append(batch, t.Payload())
	}
	payload, _ := json.Marshal(batch)

	maxRetry := 5
	if cnf, err := config.Fetch(); err == nil && cnf.Queue.MaxRetryAttempts > 0 {
		maxRetry = cnf.Queue.MaxRetryAttempts
	}
	return asynq.NewTask(BatchTaskType, payload, asynq.MaxRetry(maxRetry))
}

// hashEntityKey returns a consistent hash value for an entity key.
func hashEntityKey(entityKey string) int {
	hasher := fnv.New32a()
	_, _ = hasher.Write([]byte(entityKey))
	return int(hasher.Sum32())
}

// GetTaskFromQueue retrieves a pending enrichment task by its ID, checking
// each numbered queue in turn.
func (q *Queue) GetTaskFromQueue(taskID string) (*model.EnrichmentTask, error) {
	cfg, err := config.Fetch()
	if err != nil {
		return nil, err
	}

	for i := 1; i <= cfg.Queue.NumberOfQueues; i++ {
		queueName := fmt.Sprintf("%s_%d", cfg.Queue.EnrichmentQueue, i)
		task, err := q.Inspector.GetTaskInfo(queueName, taskID)
		if err == nil && task != nil {
			var et model.EnrichmentTask
			if err := json.Unmarshal(task.Payload, &et); err != nil {
				return nil, err
			}
			return &et, nil
		}
	}
	return nil, nil
}

// ListDeadTasks returns the tasks parked in the dead-letter (archived) set of
// every enrichment queue. Tasks land there after exhausting their retries;
// they stay until an operator retries or deletes them.
func (q *Queue) ListDeadTasks(limit int) ([]*model.EnrichmentTask, error) {
	cfg, err := config.Fetch()
	if err != nil {
		return nil, err
	}

	var dead []*model.EnrichmentTask
	for i := 1; i <= cfg.Queue.NumberOfQueues; i++ {
		queueName := fmt.Sprintf("%s_%d", cfg.Queue.EnrichmentQueue, i)
		tasks, err := q.Inspector.ListArchivedTasks(queueName, asynq.PageSize(limit))
		if err != nil {
			continue
		}
		for _, task := range tasks {
			var et model.EnrichmentTask
			if err := json.Unmarshal(task.Payload, &et); err != nil {
				continue
			}
			dead = append(dead, &et)
			if len(dead) >= limit {
				return dead, nil
			}
		}
	}
	return dead, nil
}

// RetryDeadTask moves an archived task back onto its queue for another run.
func (q *Queue) RetryDeadTask(taskID string) error {
	cfg, err := config.Fetch()
	if err != nil {
		return err
	}

	for i := 1; i <= cfg.Queue.NumberOfQueues; i++ {
		queueName := fmt.Sprintf("%s_%d", cfg.Queue.EnrichmentQueue, i)
		if err := q.Inspector.RunTask(queueName, taskID); err == nil {
			log.Printf(" [*] Successfully requeued dead task: %s", taskID)
			return nil
		}
	}
	return fmt.Errorf("dead task %s not found in any queue", taskID)
}

// queueEnhancerRun enqueues a one-off enhancer pass, used by the manual
// trigger endpoint. The scheduled runs are registered in the worker process.
func (q *Queue) queueEnhancerRun(ctx context.Context) error {
	cfg, err := config.Fetch()
	if err != nil {
		return err
	}

	payload, err := json.Marshal(map[string]time.Time{"requested_at": time.Now()})
	if err != nil {
		return err
	}
	task := asynq.NewTask(cfg.Queue.EnhancerQueue, payload, asynq.Queue(cfg.Queue.EnhancerQueue))
	info, err := q.Client.EnqueueContext(ctx, task)
	if err != nil {
		log.Println(err, info)
		return err
	}
	log.Printf(" [*] Successfully enqueued enhancer run")
	return nil
}
