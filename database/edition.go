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
	"time"

	"github.com/lib/pq"
	"go.opentelemetry.io/otel"

	"github.com/openshelf/openshelf/internal/apierror"
	"github.com/openshelf/openshelf/model"
)

const editionColumns = `edition_key, COALESCE(work_key, ''), COALESCE(isbn, ''), COALESCE(publisher, ''),
	COALESCE(publish_date, ''), COALESCE(page_count, 0), COALESCE(format, ''), COALESCE(language, ''),
	COALESCE(cover_url, ''), COALESCE(external_ids, '{}'), completeness_score, work_match_confidence,
	COALESCE(work_match_source, ''), COALESCE(primary_provider, ''), contributors, COALESCE(meta_data, '{}'), created_at`

// CreateEdition inserts a minimal edition, typically the ISBN + work link the
// synthetic enhancer creates right after resolution.
func (d Datasource) CreateEdition(ctx context.Context, e *model.Edition) (*model.Edition, error) {
	ctx, span := otel.Tracer("Record store").Start(ctx, "Saving edition to db")
	defer span.End()

	externalIDsJSON, err := json.Marshal(e.ExternalIDs)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInvalidInput, "failed to marshal external ids", err)
	}
	metaDataJSON, err := json.Marshal(e.MetaData)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInvalidInput, "failed to marshal metadata", err)
	}

	e.EditionKey = GenerateUUIDWithSuffix("edt")
	e.CreatedAt = time.Now()

	_, err = d.Conn.ExecContext(ctx,
		`INSERT INTO openshelf.editions (edition_key, work_key, isbn, publisher, publish_date, page_count, format,
		     language, cover_url, external_ids, completeness_score, work_match_confidence, work_match_source,
		     primary_provider, contributors, meta_data, created_at)
		 VALUES ($1, NULLIF($2, ''), NULLIF($3, ''), $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`,
		e.EditionKey, e.WorkKey, e.ISBN, e.Publisher, e.PublishDate, e.PageCount, e.Format,
		e.Language, e.CoverURL, externalIDsJSON, e.CompletenessScore, e.WorkMatchConfidence,
		e.WorkMatchSource, e.PrimaryProvider, pq.Array(e.Contributors), metaDataJSON, e.CreatedAt,
	)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code.Name() == "unique_violation" {
			return nil, apierror.NewAPIError(apierror.ErrConflict, fmt.Sprintf("edition with ISBN %s already exists", e.ISBN), err)
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "failed to create edition", err)
	}
	return e, nil
}

// GetEditionByISBN retrieves an edition by ISBN.
func (d Datasource) GetEditionByISBN(ctx context.Context, isbn string) (*model.Edition, error) {
	ctx, span := otel.Tracer("Record store").Start(ctx, "Getting edition by ISBN")
	defer span.End()

	row := d.Conn.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT %s FROM openshelf.editions WHERE isbn = $1`, editionColumns), isbn)

	e, err := scanEdition(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("edition with ISBN %s not found", isbn), err)
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "failed to get edition", err)
	}
	return e, nil
}

// GetEditionByKey retrieves an edition by its key.
func (d Datasource) GetEditionByKey(ctx context.Context, editionKey string) (*model.Edition, error) {
	ctx, span := otel.Tracer("Record store").Start(ctx, "Getting edition by key")
	defer span.End()

	row := d.Conn.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT %s FROM openshelf.editions WHERE edition_key = $1`, editionColumns), editionKey)

	e, err := scanEdition(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("edition %s not found", editionKey), err)
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "failed to get edition", err)
	}
	return e, nil
}

// UpsertEditionEnrichment merges provider data into the edition for an ISBN,
// creating it if unseen. The merge is last-writer-wins per field with two
// exceptions enforced in SQL: completeness_score only rises, and work_key is
// write-once. A later pass reporting a different work with a higher
// confidence still loses; relinking would corrupt the author/work graphs
// built on the original link, so it requires an explicit correction path, not
// an enrichment pass.
func (d Datasource) UpsertEditionEnrichment(ctx context.Context, e *model.Edition) (*model.Edition, error) {
	ctx, span := otel.Tracer("Record store").Start(ctx, "Merging enrichment into edition")
	defer span.End()

	if e.ISBN == "" {
		return nil, apierror.NewAPIError(apierror.ErrInvalidInput, "edition enrichment requires an ISBN", nil)
	}

	externalIDsJSON, err := json.Marshal(e.ExternalIDs)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInvalidInput, "failed to marshal external ids", err)
	}
	metaDataJSON, err := json.Marshal(e.MetaData)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInvalidInput, "failed to marshal metadata", err)
	}

	editionKey := GenerateUUIDWithSuffix("edt")

	row := d.Conn.QueryRowContext(ctx,
		fmt.Sprintf(`INSERT INTO openshelf.editions (edition_key, work_key, isbn, publisher, publish_date, page_count,
		     format, language, cover_url, external_ids, completeness_score, work_match_confidence,
		     work_match_source, primary_provider, contributors, meta_data, created_at)
		 VALUES ($1, NULLIF($2, ''), $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, NOW())
		 ON CONFLICT (isbn) DO UPDATE SET
		    work_key = COALESCE(openshelf.editions.work_key, EXCLUDED.work_key),
		    publisher = COALESCE(NULLIF(EXCLUDED.publisher, ''), openshelf.editions.publisher),
		    publish_date = COALESCE(NULLIF(EXCLUDED.publish_date, ''), openshelf.editions.publish_date),
		    page_count = CASE WHEN EXCLUDED.page_count > 0 THEN EXCLUDED.page_count ELSE openshelf.editions.page_count END,
		    format = COALESCE(NULLIF(EXCLUDED.format, ''), openshelf.editions.format),
		    language = COALESCE(NULLIF(EXCLUDED.language, ''), openshelf.editions.language),
		    cover_url = COALESCE(NULLIF(EXCLUDED.cover_url, ''), openshelf.editions.cover_url),
		    external_ids = COALESCE(openshelf.editions.external_ids, '{}'::jsonb) || EXCLUDED.external_ids,
		    completeness_score = GREATEST(openshelf.editions.completeness_score, EXCLUDED.completeness_score),
		    work_match_confidence = CASE WHEN openshelf.editions.work_key IS NULL
		        THEN EXCLUDED.work_match_confidence ELSE openshelf.editions.work_match_confidence END,
		    work_match_source = CASE WHEN openshelf.editions.work_key IS NULL
		        THEN EXCLUDED.work_match_source ELSE openshelf.editions.work_match_source END,
		    primary_provider = COALESCE(NULLIF(EXCLUDED.primary_provider, ''), openshelf.editions.primary_provider),
		    contributors = CASE WHEN COALESCE(array_length(EXCLUDED.contributors, 1), 0) > 0
		        THEN EXCLUDED.contributors ELSE openshelf.editions.contributors END,
		    meta_data = COALESCE(openshelf.editions.meta_data, '{}'::jsonb) || EXCLUDED.meta_data
		 RETURNING %s`, editionColumns),
		editionKey, e.WorkKey, e.ISBN, e.Publisher, e.PublishDate, e.PageCount,
		e.Format, e.Language, e.CoverURL, externalIDsJSON, e.CompletenessScore, e.WorkMatchConfidence,
		e.WorkMatchSource, e.PrimaryProvider, pq.Array(e.Contributors), metaDataJSON,
	)

	merged, err := scanEdition(row)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "failed to merge edition enrichment", err)
	}
	return merged, nil
}

func scanEdition(row rowScanner) (*model.Edition, error) {
	e := &model.Edition{}
	var externalIDsJSON, metaDataJSON []byte
	err := row.Scan(
		&e.EditionKey, &e.WorkKey, &e.ISBN, &e.Publisher, &e.PublishDate, &e.PageCount,
		&e.Format, &e.Language, &e.CoverURL, &externalIDsJSON, &e.CompletenessScore,
		&e.WorkMatchConfidence, &e.WorkMatchSource, &e.PrimaryProvider,
		pq.Array(&e.Contributors), &metaDataJSON, &e.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	if len(externalIDsJSON) > 0 {
		if err := json.Unmarshal(externalIDsJSON, &e.ExternalIDs); err != nil {
			return nil, err
		}
	}
	if len(metaDataJSON) > 0 {
		if err := json.Unmarshal(metaDataJSON, &e.MetaData); err != nil {
			return nil, err
		}
	}
	return e, nil
}
