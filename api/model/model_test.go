package model

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/openshelf/openshelf/model"
)

func TestValidateCreateSyntheticWork(t *testing.T) {
	tests := []struct {
		name    string
		work    CreateSyntheticWork
		wantErr bool
	}{
		{
			name:    "Valid Work",
			work:    CreateSyntheticWork{Title: "Obscure Zine", Author: "Anon"},
			wantErr: false,
		},
		{
			name:    "Valid Work - No Author",
			work:    CreateSyntheticWork{Title: "Obscure Zine"},
			wantErr: false,
		},
		{
			name:    "Invalid Work - Empty Title",
			work:    CreateSyntheticWork{Author: "Anon"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.work.ValidateCreateSyntheticWork()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidateResolveRequest(t *testing.T) {
	tests := []struct {
		name    string
		req     ResolveRequest
		wantErr bool
	}{
		{
			name:    "Valid Request",
			req:     ResolveRequest{Title: "The Martian", Author: "Andy Weir", Priority: model.PriorityMedium},
			wantErr: false,
		},
		{
			name:    "Invalid Request - Missing Author",
			req:     ResolveRequest{Title: "The Martian"},
			wantErr: true,
		},
		{
			name:    "Invalid Request - Missing Title",
			req:     ResolveRequest{Author: "Andy Weir"},
			wantErr: true,
		},
		{
			name:    "Invalid Request - Priority Out Of Range",
			req:     ResolveRequest{Title: "The Martian", Author: "Andy Weir", Priority: 7},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.req.ValidateResolveRequest()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidateBatchEnrich(t *testing.T) {
	oversized := make([]string, 101)
	for i := range oversized {
		oversized[i] = "9780000000000"
	}

	tests := []struct {
		name    string
		batch   BatchEnrich
		wantErr bool
	}{
		{
			name:    "Valid Batch",
			batch:   BatchEnrich{ISBNs: []string{"9780804139021"}, Priority: model.PriorityHigh},
			wantErr: false,
		},
		{
			name:    "Invalid Batch - Empty",
			batch:   BatchEnrich{},
			wantErr: true,
		},
		{
			name:    "Invalid Batch - Over Provider Limit",
			batch:   BatchEnrich{ISBNs: oversized},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.batch.ValidateBatchEnrich()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidateEnqueueTask(t *testing.T) {
	tests := []struct {
		name    string
		task    EnqueueTask
		wantErr bool
	}{
		{
			name:    "Valid Task",
			task:    EnqueueTask{EntityType: model.EntityEdition, EntityKey: "9780804139021"},
			wantErr: false,
		},
		{
			name:    "Invalid Task - Unknown Entity Type",
			task:    EnqueueTask{EntityType: "planet", EntityKey: "x"},
			wantErr: true,
		},
		{
			name:    "Invalid Task - Missing Entity Key",
			task:    EnqueueTask{EntityType: model.EntityWork},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.task.ValidateEnqueueTask()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestToTaskFillsDefaults(t *testing.T) {
	req := EnqueueTask{
		EntityType: model.EntityWork,
		EntityKey:  "wrk_1",
		Priority:   model.PriorityLow,
	}

	task := req.ToTask("tsk_1", []string{"isbndb", "openlibrary"}, 5)
	assert.Equal(t, "tsk_1", task.TaskID)
	assert.Equal(t, []string{"isbndb", "openlibrary"}, task.ProvidersToTry)
	assert.Equal(t, 5, task.MaxRetries)

	// Explicit providers win over the registry default.
	req.ProvidersToTry = []string{"googlebooks"}
	task = req.ToTask("tsk_2", []string{"isbndb", "openlibrary"}, 5)
	assert.Equal(t, []string{"googlebooks"}, task.ProvidersToTry)
}
