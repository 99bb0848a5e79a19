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

package database

import (
	"context"
	"time"

	"github.com/openshelf/openshelf/model"
)

// IDataSource defines the interface for record-store operations, grouping related functionalities.
type IDataSource interface {
	work
	edition
	author
}

// work defines methods for handling works.
type work interface {
	CreateWork(ctx context.Context, w *model.Work) (*model.Work, error)                                            // Creates a new work (synthetic or provider-backed)
	GetWorkByKey(ctx context.Context, workKey string) (*model.Work, error)                                         // Retrieves a work by key
	UpdateWorkEnrichment(ctx context.Context, w *model.Work) (*model.Work, error)                                  // Merge-upserts enrichment fields; completeness never decreases
	SetWorkEnhancementState(ctx context.Context, workKey string, score int) error                                  // Explicit state-machine score set by the enhancer
	GetEnhanceableSyntheticWorks(ctx context.Context, limit int, cooldown time.Duration) ([]*model.Work, error)    // Synthetic works without an ISBN, outside the retry cooldown
	UpdateWorkMetadata(ctx context.Context, workKey string, meta map[string]interface{}) error                     // Merges operational annotations into meta_data
	GetStuckQueuedWorks(ctx context.Context, limit int, threshold time.Duration) ([]*model.StuckWork, error)       // Queued-ok works whose enrichment never completed
	SearchWorks(ctx context.Context, query string, limit, offset int) ([]*model.Work, error)                       // Pattern-match search over title and description
}

// edition defines methods for handling editions.
type edition interface {
	CreateEdition(ctx context.Context, e *model.Edition) (*model.Edition, error)    // Creates a minimal linked edition
	GetEditionByISBN(ctx context.Context, isbn string) (*model.Edition, error)      // Retrieves an edition by ISBN
	GetEditionByKey(ctx context.Context, editionKey string) (*model.Edition, error) // Retrieves an edition by key
	UpsertEditionEnrichment(ctx context.Context, e *model.Edition) (*model.Edition, error)
}

// author defines methods for handling authors.
type author interface {
	UpsertAuthor(ctx context.Context, a *model.Author) (*model.Author, error)
	GetAuthorByKey(ctx context.Context, authorKey string) (*model.Author, error)
}
