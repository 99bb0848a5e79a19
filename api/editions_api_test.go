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

package api

import (
	"database/sql"
	"net/http"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	model2 "github.com/openshelf/openshelf/api/model"
	"github.com/openshelf/openshelf/internal/request"
	"github.com/openshelf/openshelf/model"
)

func TestLookupEditionAPI(t *testing.T) {
	router, mock := setupRouter(t)

	now := time.Now()
	mock.ExpectQuery(regexp.QuoteMeta("FROM openshelf.editions WHERE isbn = $1")).
		WithArgs("9780804139021").
		WillReturnRows(sqlmock.NewRows(apiEditionColumns).
			AddRow("edt_1", "wrk_123", "9780804139021", "Crown", "2014-02-11", 369, "Hardcover", "en",
				"", []byte(`{}`), 91, 100, "openlibrary", "isbndb", "{Andy Weir}", []byte(`{}`), now))

	var response model.Edition
	resp, err := SetUpTestRequest(TestRequest{
		Response: &response,
		Method:   "GET",
		Route:    "/editions/9780804139021",
		Router:   router,
	})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, "edt_1", response.EditionKey)
	assert.Equal(t, "9780804139021", response.ISBN)
}

func TestLookupEditionAPIMissQueuesBackfill(t *testing.T) {
	router, mock := setupRouter(t)

	mock.ExpectQuery(regexp.QuoteMeta("FROM openshelf.editions WHERE isbn = $1")).
		WithArgs("9780593135204").
		WillReturnError(sql.ErrNoRows)

	var response map[string]interface{}
	resp, err := SetUpTestRequest(TestRequest{
		Response: &response,
		Method:   "GET",
		Route:    "/editions/9780593135204",
		Router:   router,
	})
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.Code)

	// The miss queued a backfill task keyed by the ISBN, visible through the
	// task endpoint.
	var task model.EnrichmentTask
	resp, err = SetUpTestRequest(TestRequest{
		Response: &task,
		Method:   "GET",
		Route:    "/enrichment-tasks/lookup_9780593135204",
		Router:   router,
	})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, "9780593135204", task.ISBN)
	assert.Equal(t, model.PriorityHigh, task.Priority)
}

func TestBatchEnrichAPI(t *testing.T) {
	router, mock := setupRouter(t)

	httpmock.Activate()
	defer httpmock.DeactivateAndReset()

	httpmock.RegisterResponder("POST", "https://api2.isbndb.com/books",
		httpmock.NewStringResponder(http.StatusOK, `{
			"total": 1,
			"data": [{"title": "The Martian", "isbn13": "9780804139021", "authors": ["Andy Weir"], "publisher": "Crown"}]
		}`))

	now := time.Now()
	mock.ExpectQuery(regexp.QuoteMeta("ON CONFLICT (isbn) DO UPDATE SET")).
		WillReturnRows(sqlmock.NewRows(apiEditionColumns).
			AddRow("edt_1", "wrk_123", "9780804139021", "Crown", "", 0, "", "",
				"", []byte(`{}`), 87, 0, "", "isbndb", "{Andy Weir}", []byte(`{}`), now))
	mock.ExpectQuery(regexp.QuoteMeta("UPDATE openshelf.works SET")).
		WillReturnRows(sqlmock.NewRows(apiWorkColumns).
			AddRow("wrk_123", "The Martian", "", "{}", "{Andy Weir}",
				87, "isbndb", false, now, now, []byte(`{}`), now))

	payloadBytes, _ := request.ToJsonReq(&model2.BatchEnrich{
		ISBNs:    []string{"9780804139021", "9999999999999"},
		Priority: model.PriorityHigh,
	})
	var response struct {
		Found  []string `json:"found"`
		Missed []string `json:"missed"`
	}
	resp, err := SetUpTestRequest(TestRequest{
		Payload:  payloadBytes,
		Response: &response,
		Method:   "POST",
		Route:    "/editions/batch",
		Router:   router,
	})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, []string{"9780804139021"}, response.Found)
	assert.Equal(t, []string{"9999999999999"}, response.Missed)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBatchEnrichAPIValidation(t *testing.T) {
	router, _ := setupRouter(t)

	payloadBytes, _ := request.ToJsonReq(&model2.BatchEnrich{})
	var response map[string]interface{}
	resp, err := SetUpTestRequest(TestRequest{
		Payload:  payloadBytes,
		Response: &response,
		Method:   "POST",
		Route:    "/editions/batch",
		Router:   router,
	})
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.Code)
}
