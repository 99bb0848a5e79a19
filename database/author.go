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
	"database/sql"
	"encoding/json"
	"fmt"

	"go.opentelemetry.io/otel"

	"github.com/openshelf/openshelf/internal/apierror"
	"github.com/openshelf/openshelf/model"
)

// UpsertAuthor inserts or merges a contributor record, keyed by normalized
// name. First writer wins on the key; completeness only rises.
func (d Datasource) UpsertAuthor(ctx context.Context, a *model.Author) (*model.Author, error) {
	ctx, span := otel.Tracer("Record store").Start(ctx, "Merging author into db")
	defer span.End()

	externalIDsJSON, err := json.Marshal(a.ExternalIDs)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInvalidInput, "failed to marshal external ids", err)
	}

	authorKey := GenerateUUIDWithSuffix("athr")

	row := d.Conn.QueryRowContext(ctx,
		`INSERT INTO openshelf.authors (author_key, name, completeness_score, external_ids, created_at)
		 VALUES ($1, $2, $3, $4, NOW())
		 ON CONFLICT (name) DO UPDATE SET
		    completeness_score = GREATEST(openshelf.authors.completeness_score, EXCLUDED.completeness_score),
		    external_ids = COALESCE(openshelf.authors.external_ids, '{}'::jsonb) || EXCLUDED.external_ids
		 RETURNING author_key, name, completeness_score, COALESCE(external_ids, '{}'), created_at`,
		authorKey, a.Name, a.CompletenessScore, externalIDsJSON,
	)

	merged := &model.Author{}
	var mergedIDs []byte
	err = row.Scan(&merged.AuthorKey, &merged.Name, &merged.CompletenessScore, &mergedIDs, &merged.CreatedAt)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "failed to upsert author", err)
	}
	if len(mergedIDs) > 0 {
		if err := json.Unmarshal(mergedIDs, &merged.ExternalIDs); err != nil {
			return nil, err
		}
	}
	return merged, nil
}

// GetAuthorByKey retrieves an author by key.
func (d Datasource) GetAuthorByKey(ctx context.Context, authorKey string) (*model.Author, error) {
	ctx, span := otel.Tracer("Record store").Start(ctx, "Getting author from db")
	defer span.End()

	row := d.Conn.QueryRowContext(ctx,
		`SELECT author_key, name, completeness_score, COALESCE(external_ids, '{}'), created_at
		 FROM openshelf.authors WHERE author_key = $1`, authorKey)

	a := &model.Author{}
	var externalIDsJSON []byte
	err := row.Scan(&a.AuthorKey, &a.Name, &a.CompletenessScore, &externalIDsJSON, &a.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("author %s not found", authorKey), err)
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "failed to get author", err)
	}
	if len(externalIDsJSON) > 0 {
		if err := json.Unmarshal(externalIDsJSON, &a.ExternalIDs); err != nil {
			return nil, err
		}
	}
	return a, nil
}
