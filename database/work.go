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

// CreateWork inserts a new work. The caller decides the initial completeness
// score; synthetic placeholders start at the unresolved score.
func (d Datasource) CreateWork(ctx context.Context, w *model.Work) (*model.Work, error) {
	ctx, span := otel.Tracer("Record store").Start(ctx, "Saving work to db")
	defer span.End()

	metaDataJSON, err := json.Marshal(w.MetaData)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInvalidInput, "failed to marshal metadata", err)
	}

	w.WorkKey = GenerateUUIDWithSuffix("wrk")
	w.CreatedAt = time.Now()

	_, err = d.Conn.ExecContext(ctx,
		`INSERT INTO openshelf.works (work_key, title, description, subjects, contributors, completeness_score, primary_provider, synthetic, meta_data, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		w.WorkKey, w.Title, w.Description, pq.Array(w.Subjects), pq.Array(w.Contributors),
		w.CompletenessScore, w.PrimaryProvider, w.Synthetic, metaDataJSON, w.CreatedAt,
	)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "failed to create work", err)
	}
	return w, nil
}

// GetWorkByKey retrieves a work by its key.
func (d Datasource) GetWorkByKey(ctx context.Context, workKey string) (*model.Work, error) {
	ctx, span := otel.Tracer("Record store").Start(ctx, "Getting work from db")
	defer span.End()

	row := d.Conn.QueryRowContext(ctx,
		`SELECT work_key, title, COALESCE(description, ''), subjects, contributors, completeness_score,
		        COALESCE(primary_provider, ''), synthetic, COALESCE(last_primary_sync, '0001-01-01'::timestamp),
		        COALESCE(last_enhanced_at, '0001-01-01'::timestamp), COALESCE(meta_data, '{}'), created_at
		 FROM openshelf.works WHERE work_key = $1`, workKey)

	w, err := scanWork(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("work %s not found", workKey), err)
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "failed to get work", err)
	}
	return w, nil
}

// UpdateWorkEnrichment merge-upserts provider data into a work. Field merges
// are last-writer-wins, but the invariants hold in SQL: completeness_score
// can only rise and the synthetic flag never changes, so the provenance of an
// inferred record survives every enrichment pass.
func (d Datasource) UpdateWorkEnrichment(ctx context.Context, w *model.Work) (*model.Work, error) {
	ctx, span := otel.Tracer("Record store").Start(ctx, "Merging enrichment into work")
	defer span.End()

	metaDataJSON, err := json.Marshal(w.MetaData)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInvalidInput, "failed to marshal metadata", err)
	}

	row := d.Conn.QueryRowContext(ctx,
		`UPDATE openshelf.works SET
		    title = COALESCE(NULLIF($2, ''), title),
		    description = COALESCE(NULLIF($3, ''), description),
		    subjects = CASE WHEN COALESCE(array_length($4::text[], 1), 0) > 0 THEN $4::text[] ELSE subjects END,
		    contributors = CASE WHEN COALESCE(array_length($5::text[], 1), 0) > 0 THEN $5::text[] ELSE contributors END,
		    completeness_score = GREATEST(completeness_score, $6),
		    primary_provider = COALESCE(NULLIF($7, ''), primary_provider),
		    last_primary_sync = CASE WHEN $8::timestamp > '0001-01-01'::timestamp THEN $8 ELSE last_primary_sync END,
		    meta_data = COALESCE(meta_data, '{}'::jsonb) || $9::jsonb
		 WHERE work_key = $1
		 RETURNING work_key, title, COALESCE(description, ''), subjects, contributors, completeness_score,
		           COALESCE(primary_provider, ''), synthetic, COALESCE(last_primary_sync, '0001-01-01'::timestamp),
		           COALESCE(last_enhanced_at, '0001-01-01'::timestamp), COALESCE(meta_data, '{}'), created_at`,
		w.WorkKey, w.Title, w.Description, pq.Array(w.Subjects), pq.Array(w.Contributors),
		w.CompletenessScore, w.PrimaryProvider, w.LastPrimarySync, metaDataJSON,
	)

	merged, err := scanWork(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("work %s not found", w.WorkKey), err)
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "failed to merge work enrichment", err)
	}
	return merged, nil
}

// SetWorkEnhancementState writes the enhancement state machine's score
// directly and stamps last_enhanced_at. Unlike enrichment merges this is an
// explicit correction: queue-failed legitimately lowers the score from 50 to
// 40 so the scan can pick the work up again after the cooldown.
func (d Datasource) SetWorkEnhancementState(ctx context.Context, workKey string, score int) error {
	ctx, span := otel.Tracer("Record store").Start(ctx, "Setting work enhancement state")
	defer span.End()

	result, err := d.Conn.ExecContext(ctx,
		`UPDATE openshelf.works SET completeness_score = $2, last_enhanced_at = NOW() WHERE work_key = $1`,
		workKey, score,
	)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "failed to set enhancement state", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("work %s not found", workKey), nil)
	}
	return nil
}

// GetEnhanceableSyntheticWorks returns synthetic works that have no linked
// edition with an ISBN and were not enhanced within the cooldown window.
// Works already at or past the isbn-resolved score are excluded: a work parked
// there after an ISBN collision has nothing left for the enhancer to do and
// waits for operator review instead of re-resolving every cooldown.
// Oldest first, so starved records are retried before fresh failures.
func (d Datasource) GetEnhanceableSyntheticWorks(ctx context.Context, limit int, cooldown time.Duration) ([]*model.Work, error) {
	ctx, span := otel.Tracer("Record store").Start(ctx, "Scanning for enhanceable synthetic works")
	defer span.End()

	rows, err := d.Conn.QueryContext(ctx,
		`SELECT w.work_key, w.title, COALESCE(w.description, ''), w.subjects, w.contributors, w.completeness_score,
		        COALESCE(w.primary_provider, ''), w.synthetic, COALESCE(w.last_primary_sync, '0001-01-01'::timestamp),
		        COALESCE(w.last_enhanced_at, '0001-01-01'::timestamp), COALESCE(w.meta_data, '{}'), w.created_at
		 FROM openshelf.works w
		 WHERE w.synthetic = true
		   AND w.completeness_score < $3
		   AND NOT EXISTS (
		       SELECT 1 FROM openshelf.editions e
		       WHERE e.work_key = w.work_key AND e.isbn IS NOT NULL AND e.isbn <> ''
		   )
		   AND (w.last_enhanced_at IS NULL OR w.last_enhanced_at < NOW() - $2::interval)
		 ORDER BY w.created_at ASC
		 LIMIT $1`,
		limit, fmt.Sprintf("%d seconds", int(cooldown.Seconds())), model.ScoreISBNResolved,
	)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "failed to scan synthetic works", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	return collectWorks(rows)
}

// UpdateWorkMetadata merges the given keys into a work's meta_data without
// touching any scored field. Used to annotate records with operational state
// such as ISBN conflicts and recovery attempts.
func (d Datasource) UpdateWorkMetadata(ctx context.Context, workKey string, meta map[string]interface{}) error {
	ctx, span := otel.Tracer("Record store").Start(ctx, "Updating work metadata")
	defer span.End()

	metaDataJSON, err := json.Marshal(meta)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInvalidInput, "failed to marshal metadata", err)
	}

	result, err := d.Conn.ExecContext(ctx,
		`UPDATE openshelf.works SET meta_data = COALESCE(meta_data, '{}'::jsonb) || $2::jsonb WHERE work_key = $1`,
		workKey, metaDataJSON,
	)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "failed to update work metadata", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("work %s not found", workKey), nil)
	}
	return nil
}

// GetStuckQueuedWorks returns works stuck at the queued-ok score: their
// enrichment task was enqueued but never merged a record, and the work has
// sat untouched for longer than the threshold. The join pulls the ISBN the
// enhancer resolved so recovery can re-enqueue without re-resolving.
func (d Datasource) GetStuckQueuedWorks(ctx context.Context, limit int, threshold time.Duration) ([]*model.StuckWork, error) {
	ctx, span := otel.Tracer("Record store").Start(ctx, "Scanning for stuck queued works")
	defer span.End()

	rows, err := d.Conn.QueryContext(ctx,
		`SELECT w.work_key, w.title, e.isbn, COALESCE(w.meta_data, '{}')
		 FROM openshelf.works w
		 JOIN openshelf.editions e ON e.work_key = w.work_key AND e.isbn IS NOT NULL AND e.isbn <> ''
		 WHERE w.completeness_score = $3
		   AND w.last_enhanced_at < NOW() - $2::interval
		 ORDER BY w.last_enhanced_at ASC
		 LIMIT $1`,
		limit, fmt.Sprintf("%d seconds", int(threshold.Seconds())), model.ScoreQueuedOK,
	)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "failed to scan stuck works", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var stuck []*model.StuckWork
	for rows.Next() {
		w := &model.StuckWork{}
		var metaDataJSON []byte
		if err := rows.Scan(&w.WorkKey, &w.Title, &w.ISBN, &metaDataJSON); err != nil {
			return nil, err
		}
		if len(metaDataJSON) > 0 {
			if err := json.Unmarshal(metaDataJSON, &w.MetaData); err != nil {
				return nil, err
			}
		}
		stuck = append(stuck, w)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return stuck, nil
}

// SearchWorks pattern-matches works on title and description. Text search is
// deliberately delegated to the relational store; this system is not a
// full-text engine.
func (d Datasource) SearchWorks(ctx context.Context, query string, limit, offset int) ([]*model.Work, error) {
	ctx, span := otel.Tracer("Record store").Start(ctx, "Searching works")
	defer span.End()

	pattern := "%" + query + "%"
	rows, err := d.Conn.QueryContext(ctx,
		`SELECT work_key, title, COALESCE(description, ''), subjects, contributors, completeness_score,
		        COALESCE(primary_provider, ''), synthetic, COALESCE(last_primary_sync, '0001-01-01'::timestamp),
		        COALESCE(last_enhanced_at, '0001-01-01'::timestamp), COALESCE(meta_data, '{}'), created_at
		 FROM openshelf.works
		 WHERE title ILIKE $1 OR description ILIKE $1
		 ORDER BY completeness_score DESC, created_at DESC
		 LIMIT $2 OFFSET $3`,
		pattern, limit, offset,
	)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "failed to search works", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	return collectWorks(rows)
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanWork(row rowScanner) (*model.Work, error) {
	w := &model.Work{}
	var metaDataJSON []byte
	err := row.Scan(
		&w.WorkKey, &w.Title, &w.Description, pq.Array(&w.Subjects), pq.Array(&w.Contributors),
		&w.CompletenessScore, &w.PrimaryProvider, &w.Synthetic, &w.LastPrimarySync,
		&w.LastEnhancedAt, &metaDataJSON, &w.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	if len(metaDataJSON) > 0 {
		if err := json.Unmarshal(metaDataJSON, &w.MetaData); err != nil {
			return nil, err
		}
	}
	return w, nil
}

func collectWorks(rows *sql.Rows) ([]*model.Work, error) {
	var works []*model.Work
	for rows.Next() {
		w, err := scanWork(rows)
		if err != nil {
			return nil, err
		}
		works = append(works, w)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return works, nil
}
