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
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/hibiken/asynq"
	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"

	"github.com/openshelf/openshelf/config"
	"github.com/openshelf/openshelf/internal/apierror"
	"github.com/openshelf/openshelf/model"
	"github.com/openshelf/openshelf/providers"
)

var testWorkColumns = []string{
	"work_key", "title", "description", "subjects", "contributors", "completeness_score",
	"primary_provider", "synthetic", "last_primary_sync", "last_enhanced_at", "meta_data", "created_at",
}

var testEditionColumns = []string{
	"edition_key", "work_key", "isbn", "publisher", "publish_date", "page_count", "format", "language",
	"cover_url", "external_ids", "completeness_score", "work_match_confidence", "work_match_source",
	"primary_provider", "contributors", "meta_data", "created_at",
}

func failFetchResolver(name string, calls *int) *MockResolver {
	return &MockResolver{
		ProviderName: name,
		FetchFunc: func(ctx context.Context, isbn string) (*model.ProviderRecord, error) {
			*calls++
			return nil, &providers.TransientError{Provider: name, Err: fmt.Errorf("gateway timeout")}
		},
	}
}

// queuedTasks drains the pending sets of every numbered enrichment queue.
func queuedTasks(t *testing.T, shelf *Openshelf) []*model.EnrichmentTask {
	t.Helper()
	cnf, err := config.Fetch()
	assert.NoError(t, err)

	var out []*model.EnrichmentTask
	for i := 1; i <= cnf.Queue.NumberOfQueues; i++ {
		queueName := fmt.Sprintf("%s_%d", cnf.Queue.EnrichmentQueue, i)
		infos, err := shelf.queue.Inspector.ListPendingTasks(queueName)
		if err != nil {
			continue
		}
		for _, info := range infos {
			var et model.EnrichmentTask
			if json.Unmarshal(info.Payload, &et) == nil {
				out = append(out, &et)
			}
		}
	}
	return out
}

func enrichmentTaskPayload(t *testing.T, task *model.EnrichmentTask) *asynq.Task {
	t.Helper()
	payload, err := task.ToJSON()
	assert.NoError(t, err)
	return asynq.NewTask("new:enrichment_1", payload)
}

func TestProcessEnrichmentTaskMalformedPayload(t *testing.T) {
	shelf, _, _ := newTestShelf(t)

	err := shelf.ProcessEnrichmentTask(context.Background(), asynq.NewTask("new:enrichment_1", []byte("not json")))
	assert.Error(t, err)
	assert.ErrorIs(t, err, asynq.SkipRetry)
}

func TestProcessEnrichmentTaskInvalidTask(t *testing.T) {
	shelf, _, _ := newTestShelf(t)

	task := &model.EnrichmentTask{
		TaskID:     "tsk_1",
		EntityType: "planet", // not an entity we enrich
		EntityKey:  "pln_1",
	}
	err := shelf.ProcessEnrichmentTask(context.Background(), enrichmentTaskPayload(t, task))
	assert.Error(t, err)
	assert.ErrorIs(t, err, asynq.SkipRetry)
}

func TestProcessEnrichmentTaskUnknownProvider(t *testing.T) {
	shelf, _, _ := newTestShelf(t)
	shelf.registry.Register(&MockResolver{ProviderName: "openlibrary"})

	task := &model.EnrichmentTask{
		TaskID:         "tsk_1",
		EntityType:     model.EntityEdition,
		EntityKey:      "9780804139021",
		ProvidersToTry: []string{"librarything"},
		ISBN:           "9780804139021",
	}
	err := shelf.ProcessEnrichmentTask(context.Background(), enrichmentTaskPayload(t, task))
	assert.Error(t, err)
	assert.ErrorIs(t, err, asynq.SkipRetry)
}

func TestEnrichEditionCleanMissCompletesTask(t *testing.T) {
	shelf, mock, _ := newTestShelf(t)
	shelf.registry.Register(&MockResolver{ProviderName: "openlibrary"}) // Fetch returns nil: provider does not know the ISBN

	task := &model.EnrichmentTask{
		TaskID:         "tsk_1",
		EntityType:     model.EntityEdition,
		EntityKey:      "9780804139021",
		ProvidersToTry: []string{"openlibrary"},
		ISBN:           "9780804139021",
	}
	err := shelf.ProcessEnrichmentTask(context.Background(), enrichmentTaskPayload(t, task))
	assert.NoError(t, err)
	// A clean miss never touches the record store.
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEnrichEditionTransientFailureIsRetried(t *testing.T) {
	shelf, _, _ := newTestShelf(t)
	var calls int
	shelf.registry.Register(failFetchResolver("openlibrary", &calls))

	task := &model.EnrichmentTask{
		TaskID:         "tsk_1",
		EntityType:     model.EntityEdition,
		EntityKey:      "9780804139021",
		ProvidersToTry: []string{"openlibrary"},
		ISBN:           "9780804139021",
	}
	err := shelf.ProcessEnrichmentTask(context.Background(), enrichmentTaskPayload(t, task))
	// The error propagates so asynq requeues with backoff; it is not SkipRetry.
	assert.Error(t, err)
	assert.NotErrorIs(t, err, asynq.SkipRetry)
}

func TestEnrichEditionAppliesRecord(t *testing.T) {
	shelf, mock, _ := newTestShelf(t)
	shelf.registry.Register(&MockResolver{
		ProviderName: "openlibrary",
		FetchFunc: func(ctx context.Context, isbn string) (*model.ProviderRecord, error) {
			return &model.ProviderRecord{
				ISBN:      isbn,
				Title:     "The Martian",
				Authors:   []string{"Andy Weir"},
				Publisher: "Crown",
				Source:    "openlibrary",
			}, nil
		},
	})

	now := time.Now()
	mock.ExpectQuery(regexp.QuoteMeta("ON CONFLICT (isbn) DO UPDATE SET")).
		WillReturnRows(sqlmock.NewRows(testEditionColumns).
			AddRow("edt_1", "wrk_123", "9780804139021", "Crown", "", 0, "", "",
				"", []byte(`{}`), 87, 0, "", "openlibrary", "{Andy Weir}", []byte(`{}`), now))
	mock.ExpectQuery(regexp.QuoteMeta("UPDATE openshelf.works SET")).
		WillReturnRows(sqlmock.NewRows(testWorkColumns).
			AddRow("wrk_123", "The Martian", "", "{}", "{Andy Weir}",
				87, "openlibrary", false, now, now, []byte(`{}`), now))

	task := &model.EnrichmentTask{
		TaskID:         "tsk_1",
		EntityType:     model.EntityEdition,
		EntityKey:      "9780804139021",
		ProvidersToTry: []string{"openlibrary"},
		ISBN:           "9780804139021",
	}
	err := shelf.ProcessEnrichmentTask(context.Background(), enrichmentTaskPayload(t, task))
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())

	// The merge spawned a low-priority author materialization task.
	authorTasks := queuedTasks(t, shelf)
	assert.Len(t, authorTasks, 1)
	assert.Equal(t, model.EntityAuthor, authorTasks[0].EntityType)
	assert.Equal(t, "Andy Weir", authorTasks[0].Author)
	assert.Equal(t, model.PriorityLow, authorTasks[0].Priority)
}

func TestEnrichEditionReprocessingIsIdempotent(t *testing.T) {
	shelf, mock, _ := newTestShelf(t)
	record := getProviderRecordMock("9780804139021", "openlibrary")
	shelf.registry.Register(&MockResolver{
		ProviderName: "openlibrary",
		FetchFunc: func(ctx context.Context, isbn string) (*model.ProviderRecord, error) {
			return record, nil
		},
	})

	// A redelivered task replays the same merge; the upserts absorb it without
	// regressing the stored scores.
	now := time.Now()
	for i := 0; i < 2; i++ {
		mock.ExpectQuery(regexp.QuoteMeta("ON CONFLICT (isbn) DO UPDATE SET")).
			WillReturnRows(sqlmock.NewRows(testEditionColumns).
				AddRow("edt_1", "wrk_123", "9780804139021", record.Publisher, record.PublishDate, record.PageCount, "Hardcover", "en",
					record.CoverURL, []byte(`{}`), 97, 0, "", "openlibrary", "{Andy Weir}", []byte(`{}`), now))
		mock.ExpectQuery(regexp.QuoteMeta("UPDATE openshelf.works SET")).
			WillReturnRows(sqlmock.NewRows(testWorkColumns).
				AddRow("wrk_123", record.Title, record.Description, "{}", "{Andy Weir}",
					97, "openlibrary", false, now, now, []byte(`{}`), now))
	}

	task := &model.EnrichmentTask{
		TaskID:         "tsk_1",
		EntityType:     model.EntityEdition,
		EntityKey:      "9780804139021",
		ProvidersToTry: []string{"openlibrary"},
		ISBN:           "9780804139021",
	}
	payload := enrichmentTaskPayload(t, task)
	assert.NoError(t, shelf.ProcessEnrichmentTask(context.Background(), payload))
	assert.NoError(t, shelf.ProcessEnrichmentTask(context.Background(), payload))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEnrichWorkWithISBNHintMergesThroughEditionPath(t *testing.T) {
	shelf, mock, _ := newTestShelf(t)
	shelf.registry.Register(&MockResolver{
		ProviderName: "openlibrary",
		FetchFunc: func(ctx context.Context, isbn string) (*model.ProviderRecord, error) {
			return &model.ProviderRecord{ISBN: isbn, Title: "The Martian", Source: "openlibrary"}, nil
		},
	})

	now := time.Now()
	mock.ExpectQuery(regexp.QuoteMeta("FROM openshelf.works WHERE work_key = $1")).
		WithArgs("wrk_123").
		WillReturnRows(sqlmock.NewRows(testWorkColumns).
			AddRow("wrk_123", "The Martian", "", "{}", "{Andy Weir}",
				model.ScoreQueuedOK, "", true, now, now, []byte(`{}`), now))
	mock.ExpectQuery(regexp.QuoteMeta("ON CONFLICT (isbn) DO UPDATE SET")).
		WillReturnRows(sqlmock.NewRows(testEditionColumns).
			AddRow("edt_1", "wrk_123", "9780804139021", "", "", 0, "", "",
				"", []byte(`{}`), 85, 0, "", "openlibrary", "{}", []byte(`{}`), now))
	mock.ExpectQuery(regexp.QuoteMeta("UPDATE openshelf.works SET")).
		WillReturnRows(sqlmock.NewRows(testWorkColumns).
			AddRow("wrk_123", "The Martian", "", "{}", "{Andy Weir}",
				85, "openlibrary", true, now, now, []byte(`{}`), now))

	task := &model.EnrichmentTask{
		TaskID:         "tsk_1",
		EntityType:     model.EntityWork,
		EntityKey:      "wrk_123",
		ProvidersToTry: []string{"openlibrary"},
		ISBN:           "9780804139021",
	}
	err := shelf.ProcessEnrichmentTask(context.Background(), enrichmentTaskPayload(t, task))
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEnrichWorkMissingRecordCompletesTask(t *testing.T) {
	shelf, mock, _ := newTestShelf(t)
	shelf.registry.Register(&MockResolver{ProviderName: "openlibrary"})

	mock.ExpectQuery(regexp.QuoteMeta("FROM openshelf.works WHERE work_key = $1")).
		WithArgs("wrk_gone").
		WillReturnError(sql.ErrNoRows)

	task := &model.EnrichmentTask{
		TaskID:         "tsk_1",
		EntityType:     model.EntityWork,
		EntityKey:      "wrk_gone",
		ProvidersToTry: []string{"openlibrary"},
	}
	// A deleted entity is not an error worth retrying; the task completes.
	err := shelf.ProcessEnrichmentTask(context.Background(), enrichmentTaskPayload(t, task))
	assert.NoError(t, err)
}

func TestEnrichAuthorUpserts(t *testing.T) {
	shelf, mock, _ := newTestShelf(t)
	shelf.registry.Register(&MockResolver{ProviderName: "openlibrary"})

	now := time.Now()
	mock.ExpectQuery(regexp.QuoteMeta("ON CONFLICT (name) DO UPDATE SET")).
		WillReturnRows(sqlmock.NewRows([]string{"author_key", "name", "completeness_score", "external_ids", "created_at"}).
			AddRow("athr_1", "Andy Weir", model.ScoreISBNResolved, []byte(`{}`), now))

	task := &model.EnrichmentTask{
		TaskID:         "tsk_1",
		EntityType:     model.EntityAuthor,
		EntityKey:      "9780804139021",
		ProvidersToTry: []string{"openlibrary"},
		Author:         "Andy Weir",
	}
	err := shelf.ProcessEnrichmentTask(context.Background(), enrichmentTaskPayload(t, task))
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFetchFromProvidersSkipsBlockedPrimary(t *testing.T) {
	shelf, _, _ := newTestShelf(t)
	ctx := context.Background()

	assert.NoError(t, shelf.gate.RecordCalls(ctx, 85))

	var primaryCalls, fallbackCalls int
	primary := &MockResolver{
		ProviderName: "isbndb",
		FetchFunc: func(ctx context.Context, isbn string) (*model.ProviderRecord, error) {
			primaryCalls++
			return &model.ProviderRecord{ISBN: isbn, Title: "From Primary", Source: "isbndb"}, nil
		},
	}
	fallback := &MockResolver{
		ProviderName: "openlibrary",
		FetchFunc: func(ctx context.Context, isbn string) (*model.ProviderRecord, error) {
			fallbackCalls++
			return &model.ProviderRecord{ISBN: isbn, Title: "From Fallback", Source: "openlibrary"}, nil
		},
	}

	record, err := shelf.fetchFromProviders(ctx, []providers.Resolver{primary, fallback}, "9780804139021", model.PriorityLow)
	assert.NoError(t, err)
	assert.NotNil(t, record)
	assert.Equal(t, "From Fallback", record.Title)
	assert.Equal(t, 0, primaryCalls)
	assert.Equal(t, 1, fallbackCalls)
}

func TestEnrichBatchBlockedByQuota(t *testing.T) {
	shelf, _, _ := newTestShelf(t)
	ctx := context.Background()

	assert.NoError(t, shelf.gate.RecordCalls(ctx, 85))

	_, err := shelf.EnrichBatch(ctx, []string{"9780804139021"}, model.PriorityHigh)
	assert.Error(t, err)
	assert.Equal(t, apierror.ErrQuotaExhausted, apierror.GetAPIErrorCode(err))
}

func TestEnrichBatchRejectsEmptyAndOversized(t *testing.T) {
	shelf, _, _ := newTestShelf(t)
	ctx := context.Background()

	_, err := shelf.EnrichBatch(ctx, nil, model.PriorityHigh)
	assert.Equal(t, apierror.ErrInvalidInput, apierror.GetAPIErrorCode(err))

	oversized := make([]string, 101)
	for i := range oversized {
		oversized[i] = "9780000000000"
	}
	_, err = shelf.EnrichBatch(ctx, oversized, model.PriorityHigh)
	assert.Equal(t, apierror.ErrInvalidInput, apierror.GetAPIErrorCode(err))
}

func TestEnrichmentExhaustedRetriesNotifiesOperator(t *testing.T) {
	shelf, mock, mr := newTestShelf(t)
	shelf.registry.Register(&MockResolver{
		ProviderName: "openlibrary",
		FetchFunc: func(ctx context.Context, isbn string) (*model.ProviderRecord, error) {
			return &model.ProviderRecord{ISBN: isbn, Title: "The Martian", Source: "openlibrary"}, nil
		},
	})

	webhook := "https://hooks.slack.com/services/T000/B000/XXXX"
	config.MockConfig(&config.Configuration{
		Redis:        config.RedisConfig{Dns: mr.Addr()},
		Notification: config.Notification{Slack: config.SlackWebhook{WebhookUrl: webhook}},
	})

	httpmock.Activate()
	defer httpmock.DeactivateAndReset()
	httpmock.RegisterResponder("POST", webhook, httpmock.NewStringResponder(http.StatusOK, "ok"))

	// The store rejects the merge. Outside asynq's retry context this counts as
	// the final attempt, so the failure must reach the operator channel even
	// though it is not a transient provider error.
	mock.ExpectQuery(regexp.QuoteMeta("ON CONFLICT (isbn) DO UPDATE SET")).
		WillReturnError(fmt.Errorf("connection refused"))

	task := &model.EnrichmentTask{
		TaskID:         "tsk_1",
		EntityType:     model.EntityEdition,
		EntityKey:      "9780804139021",
		ProvidersToTry: []string{"openlibrary"},
		ISBN:           "9780804139021",
	}
	err := shelf.ProcessEnrichmentTask(context.Background(), enrichmentTaskPayload(t, task))
	assert.Error(t, err)
	assert.NotErrorIs(t, err, asynq.SkipRetry)

	assert.Eventually(t, func() bool {
		return httpmock.GetTotalCallCount() > 0
	}, 2*time.Second, 10*time.Millisecond)
}

func batchMemberTask(taskID, isbn string) *model.EnrichmentTask {
	return &model.EnrichmentTask{
		TaskID:         taskID,
		EntityType:     model.EntityEdition,
		EntityKey:      isbn,
		ProvidersToTry: []string{"isbndb", "openlibrary"},
		Priority:       model.PriorityMedium,
		MaxRetries:     5,
		ISBN:           isbn,
	}
}

func aggregatedBatch(t *testing.T, members ...*model.EnrichmentTask) *asynq.Task {
	t.Helper()
	tasks := make([]*asynq.Task, 0, len(members))
	for _, m := range members {
		payload, err := m.ToJSON()
		assert.NoError(t, err)
		tasks = append(tasks, asynq.NewTask("new:enrichment_1", payload))
	}
	agg := AggregateEnrichmentTasks(enrichmentBatchGroup, tasks)
	assert.Equal(t, BatchTaskType, agg.Type())
	return agg
}

func expectBatchMerge(mock sqlmock.Sqlmock, isbn, workKey, title string) {
	now := time.Now()
	mock.ExpectQuery(regexp.QuoteMeta("ON CONFLICT (isbn) DO UPDATE SET")).
		WillReturnRows(sqlmock.NewRows(testEditionColumns).
			AddRow("edt_"+isbn, workKey, isbn, "", "", 0, "", "",
				"", []byte(`{}`), 85, 0, "", "isbndb", "{}", []byte(`{}`), now))
	mock.ExpectQuery(regexp.QuoteMeta("UPDATE openshelf.works SET")).
		WillReturnRows(sqlmock.NewRows(testWorkColumns).
			AddRow(workKey, title, "", "{}", "{}",
				85, "isbndb", false, now, now, []byte(`{}`), now))
}

func TestProcessEnrichmentBatchSpendsOneMeteredCall(t *testing.T) {
	shelf, mock, _ := newTestShelf(t)
	ctx := context.Background()
	shelf.primary = providers.NewISBNdb("test-key", shelf.limiter, 0.70)

	httpmock.Activate()
	defer httpmock.DeactivateAndReset()
	httpmock.RegisterResponder("POST", "https://api2.isbndb.com/books",
		httpmock.NewStringResponder(http.StatusOK,
			`{"total":2,"data":[{"title":"The Martian","isbn13":"9780804139021"},{"title":"Artemis","isbn13":"9780553448122"}]}`))

	expectBatchMerge(mock, "9780804139021", "wrk_1", "The Martian")
	expectBatchMerge(mock, "9780553448122", "wrk_2", "Artemis")

	batch := aggregatedBatch(t,
		batchMemberTask("tsk_b1", "9780804139021"),
		batchMemberTask("tsk_b2", "9780553448122"),
	)
	err := shelf.ProcessEnrichmentBatch(ctx, batch)
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())

	// Two editions, one bulk roundtrip, one unit of quota.
	assert.Equal(t, 1, httpmock.GetTotalCallCount())
	state, err := shelf.gate.State(ctx)
	assert.NoError(t, err)
	assert.Equal(t, 1, state.Used)
}

func TestProcessEnrichmentBatchBlockedQuotaFallsBack(t *testing.T) {
	shelf, mock, _ := newTestShelf(t)
	ctx := context.Background()

	// Past the hard threshold nothing may touch the primary provider.
	assert.NoError(t, shelf.gate.RecordCalls(ctx, 85))

	var primaryCalls, fallbackCalls int
	shelf.registry.Register(&MockResolver{
		ProviderName: "isbndb",
		FetchFunc: func(ctx context.Context, isbn string) (*model.ProviderRecord, error) {
			primaryCalls++
			return nil, nil
		},
	})
	shelf.registry.Register(&MockResolver{
		ProviderName: "openlibrary",
		FetchFunc: func(ctx context.Context, isbn string) (*model.ProviderRecord, error) {
			fallbackCalls++
			return &model.ProviderRecord{ISBN: isbn, Title: "The Martian", Source: "openlibrary"}, nil
		},
	})

	expectBatchMerge(mock, "9780804139021", "wrk_1", "The Martian")

	err := shelf.ProcessEnrichmentBatch(ctx, aggregatedBatch(t, batchMemberTask("tsk_b1", "9780804139021")))
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
	assert.Equal(t, 0, primaryCalls)
	assert.Equal(t, 1, fallbackCalls)

	// The blocked batch spent nothing.
	state, err := shelf.gate.State(ctx)
	assert.NoError(t, err)
	assert.Equal(t, 85, state.Used)
}

func TestProcessEnrichmentBatchMissFallsBackToFreeProviders(t *testing.T) {
	shelf, mock, _ := newTestShelf(t)
	ctx := context.Background()
	shelf.primary = providers.NewISBNdb("test-key", shelf.limiter, 0.70)

	var primaryFetches int
	shelf.registry.Register(&MockResolver{
		ProviderName: "isbndb",
		FetchFunc: func(ctx context.Context, isbn string) (*model.ProviderRecord, error) {
			primaryFetches++
			return nil, nil
		},
	})
	var fallbackISBNs []string
	shelf.registry.Register(&MockResolver{
		ProviderName: "openlibrary",
		FetchFunc: func(ctx context.Context, isbn string) (*model.ProviderRecord, error) {
			fallbackISBNs = append(fallbackISBNs, isbn)
			return &model.ProviderRecord{ISBN: isbn, Title: "Artemis", Source: "openlibrary"}, nil
		},
	})

	// The bulk call only knows the first ISBN; the second walks the free
	// providers without a second metered call.
	httpmock.Activate()
	defer httpmock.DeactivateAndReset()
	httpmock.RegisterResponder("POST", "https://api2.isbndb.com/books",
		httpmock.NewStringResponder(http.StatusOK,
			`{"total":1,"data":[{"title":"The Martian","isbn13":"9780804139021"}]}`))

	expectBatchMerge(mock, "9780804139021", "wrk_1", "The Martian")
	expectBatchMerge(mock, "9780553448122", "wrk_2", "Artemis")

	batch := aggregatedBatch(t,
		batchMemberTask("tsk_b1", "9780804139021"),
		batchMemberTask("tsk_b2", "9780553448122"),
	)
	err := shelf.ProcessEnrichmentBatch(ctx, batch)
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
	assert.Equal(t, 0, primaryFetches)
	assert.Equal(t, []string{"9780553448122"}, fallbackISBNs)

	state, err := shelf.gate.State(ctx)
	assert.NoError(t, err)
	assert.Equal(t, 1, state.Used)
}

func TestProcessEnrichmentBatchMalformedPayload(t *testing.T) {
	shelf, _, _ := newTestShelf(t)

	err := shelf.ProcessEnrichmentBatch(context.Background(), asynq.NewTask(BatchTaskType, []byte("not json")))
	assert.Error(t, err)
	assert.ErrorIs(t, err, asynq.SkipRetry)
}

func TestIsWorkKey(t *testing.T) {
	assert.True(t, isWorkKey("wrk_6f1b"))
	assert.False(t, isWorkKey("edt_6f1b"))
	assert.False(t, isWorkKey("9780804139021"))
	assert.False(t, isWorkKey("wrk_"))
}
