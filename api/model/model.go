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
package model

import (
	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/openshelf/openshelf/model"
)

// CreateSyntheticWork is the request body for recording a work that could not
// be matched to any provider record.
type CreateSyntheticWork struct {
	Title  string `json:"title"`
	Author string `json:"author"`
}

func (w *CreateSyntheticWork) ValidateCreateSyntheticWork() error {
	return validation.ValidateStruct(w,
		validation.Field(&w.Title, validation.Required),
	)
}

// ResolveRequest asks the resolver chain for an ISBN.
type ResolveRequest struct {
	Title    string `json:"title"`
	Author   string `json:"author"`
	Priority int    `json:"priority"`
}

func (r *ResolveRequest) ValidateResolveRequest() error {
	return validation.ValidateStruct(r,
		validation.Field(&r.Title, validation.Required),
		validation.Field(&r.Author, validation.Required),
		validation.Field(&r.Priority, validation.Min(model.PriorityLow), validation.Max(model.PriorityHigh)),
	)
}

// BatchEnrich submits up to the primary provider's batch limit of ISBNs for
// one metered batch call.
type BatchEnrich struct {
	ISBNs    []string `json:"isbns"`
	Priority int      `json:"priority"`
}

func (b *BatchEnrich) ValidateBatchEnrich() error {
	return validation.ValidateStruct(b,
		validation.Field(&b.ISBNs, validation.Required, validation.Length(1, 100)),
		validation.Field(&b.Priority, validation.Min(model.PriorityLow), validation.Max(model.PriorityHigh)),
	)
}

// EnqueueTask submits an enrichment task directly.
type EnqueueTask struct {
	EntityType     string   `json:"entity_type"`
	EntityKey      string   `json:"entity_key"`
	ProvidersToTry []string `json:"providers_to_try"`
	Priority       int      `json:"priority"`
	Title          string   `json:"title"`
	Author         string   `json:"author"`
	ISBN           string   `json:"isbn"`
}

func (t *EnqueueTask) ValidateEnqueueTask() error {
	return validation.ValidateStruct(t,
		validation.Field(&t.EntityType, validation.Required, validation.In(model.EntityEdition, model.EntityWork, model.EntityAuthor)),
		validation.Field(&t.EntityKey, validation.Required),
		validation.Field(&t.Priority, validation.Min(model.PriorityLow), validation.Max(model.PriorityHigh)),
	)
}

// ToTask converts the request into a queue task, filling defaults the
// validation left open.
func (t *EnqueueTask) ToTask(taskID string, defaultProviders []string, maxRetries int) *model.EnrichmentTask {
	providersToTry := t.ProvidersToTry
	if len(providersToTry) == 0 {
		providersToTry = defaultProviders
	}
	return &model.EnrichmentTask{
		TaskID:         taskID,
		EntityType:     t.EntityType,
		EntityKey:      t.EntityKey,
		ProvidersToTry: providersToTry,
		Priority:       t.Priority,
		MaxRetries:     maxRetries,
		Title:          t.Title,
		Author:         t.Author,
		ISBN:           t.ISBN,
	}
}
