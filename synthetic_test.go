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
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/hibiken/asynq"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"

	"github.com/openshelf/openshelf/config"
	"github.com/openshelf/openshelf/model"
)

// expectSyntheticScan queues up a scan result with one eligible work.
func expectSyntheticScan(mock sqlmock.Sqlmock, workKey, title, author string) {
	now := time.Now()
	mock.ExpectQuery(regexp.QuoteMeta("WHERE w.synthetic = true")).
		WillReturnRows(sqlmock.NewRows(testWorkColumns).
			AddRow(workKey, title, "", "{}", "{"+author+"}",
				model.ScoreUnresolved, "", true, now, now, []byte(`{}`), now))
}

func expectEnhancementState(mock sqlmock.Sqlmock, workKey string, score int) {
	mock.ExpectExec(regexp.QuoteMeta("UPDATE openshelf.works SET completeness_score = $2, last_enhanced_at = NOW()")).
		WithArgs(workKey, score).
		WillReturnResult(sqlmock.NewResult(0, 1))
}

func TestCreateSyntheticWork(t *testing.T) {
	shelf, mock, _ := newTestShelf(t)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO openshelf.works")).
		WithArgs(sqlmock.AnyArg(), "Obscure Zine", "", sqlmock.AnyArg(), sqlmock.AnyArg(),
			model.ScoreUnresolved, "", true, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	work, err := shelf.CreateSyntheticWork(context.Background(), "Obscure Zine", "Anon")
	assert.NoError(t, err)
	assert.True(t, work.Synthetic)
	assert.Equal(t, model.ScoreUnresolved, work.CompletenessScore)
	assert.Equal(t, []string{"Anon"}, work.Contributors)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEnhanceSyntheticWorksResolvedAndQueued(t *testing.T) {
	shelf, mock, _ := newTestShelf(t)
	shelf.registry.Register(&MockResolver{ProviderName: "openlibrary"})

	var calls int
	cnf, _ := config.Fetch()
	shelf.orchestrator = NewOrchestrator([]ChainEntry{
		{Resolver: hitResolver("openlibrary", "9780804139021", &calls)},
	}, cnf)

	expectSyntheticScan(mock, "wrk_123", "The Martian", "Andy Weir")
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO openshelf.editions")).
		WillReturnResult(sqlmock.NewResult(1, 1))
	expectEnhancementState(mock, "wrk_123", model.ScoreISBNResolved)
	expectEnhancementState(mock, "wrk_123", model.ScoreQueuedOK)

	err := shelf.EnhanceSyntheticWorks(context.Background())
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())

	tasks := queuedTasks(t, shelf)
	assert.Len(t, tasks, 1)
	assert.Equal(t, model.EntityWork, tasks[0].EntityType)
	assert.Equal(t, "wrk_123", tasks[0].EntityKey)
	assert.Equal(t, "9780804139021", tasks[0].ISBN)
	assert.Equal(t, model.PriorityLow, tasks[0].Priority)
}

func TestEnhanceSyntheticWorksUnresolvedStampsCooldown(t *testing.T) {
	shelf, mock, _ := newTestShelf(t)

	var calls int
	cnf, _ := config.Fetch()
	shelf.orchestrator = NewOrchestrator([]ChainEntry{
		{Resolver: missResolver("openlibrary", &calls)},
	}, cnf)

	expectSyntheticScan(mock, "wrk_123", "Obscure Zine", "Anon")
	// The score stays at unresolved; the write exists to stamp
	// last_enhanced_at so the next scans skip this work until the cooldown.
	expectEnhancementState(mock, "wrk_123", model.ScoreUnresolved)

	err := shelf.EnhanceSyntheticWorks(context.Background())
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
	assert.Empty(t, queuedTasks(t, shelf))
}

func TestEnhanceSyntheticWorksQueueFailureDropsToQueueFailed(t *testing.T) {
	shelf, mock, _ := newTestShelf(t)
	shelf.registry.Register(&MockResolver{ProviderName: "openlibrary"})

	// The queue client points at a dead endpoint while the lock's Redis stays
	// alive, so only the enqueue fails.
	shelf.queue = &Queue{
		Client:    asynq.NewClient(asynq.RedisClientOpt{Addr: "127.0.0.1:1"}),
		Inspector: shelf.queue.Inspector,
	}

	var calls int
	cnf, _ := config.Fetch()
	shelf.orchestrator = NewOrchestrator([]ChainEntry{
		{Resolver: hitResolver("openlibrary", "9780804139021", &calls)},
	}, cnf)

	expectSyntheticScan(mock, "wrk_123", "The Martian", "Andy Weir")
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO openshelf.editions")).
		WillReturnResult(sqlmock.NewResult(1, 1))
	expectEnhancementState(mock, "wrk_123", model.ScoreISBNResolved)
	expectEnhancementState(mock, "wrk_123", model.ScoreQueueFailed)

	err := shelf.EnhanceSyntheticWorks(context.Background())
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEnhanceSyntheticWorksEditionCollision(t *testing.T) {
	shelf, mock, _ := newTestShelf(t)
	shelf.registry.Register(&MockResolver{ProviderName: "openlibrary"})

	var calls int
	cnf, _ := config.Fetch()
	shelf.orchestrator = NewOrchestrator([]ChainEntry{
		{Resolver: hitResolver("openlibrary", "9780804139021", &calls)},
	}, cnf)

	expectSyntheticScan(mock, "wrk_456", "The Martian", "Andy Weir")
	// Another work already owns this ISBN. The edition is not stolen; the
	// conflict is annotated in meta_data and the work parks at isbn-resolved,
	// which keeps it out of later scans until an operator reviews it.
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO openshelf.editions")).
		WillReturnError(&pq.Error{Code: "23505"})
	mock.ExpectExec(regexp.QuoteMeta("meta_data = COALESCE(meta_data, '{}'::jsonb) || $2::jsonb")).
		WithArgs("wrk_456", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	expectEnhancementState(mock, "wrk_456", model.ScoreISBNResolved)

	err := shelf.EnhanceSyntheticWorks(context.Background())
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
	assert.Empty(t, queuedTasks(t, shelf))
}

func TestEnhanceSyntheticWorksSkipsWhenLockHeld(t *testing.T) {
	shelf, mock, mr := newTestShelf(t)

	// Another instance is mid-pass.
	mr.Set(enhancerLockKey, "lock_other-instance")

	err := shelf.EnhanceSyntheticWorks(context.Background())
	assert.NoError(t, err)
	// No scan, no writes.
	assert.NoError(t, mock.ExpectationsWereMet())
}
