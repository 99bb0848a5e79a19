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
	"encoding/json"
	"time"
)

// Completeness scores for the synthetic enhancement state machine.
// A synthetic work moves unresolved -> isbn-resolved -> queued-ok | queue-failed,
// and the enrichment worker owns the final fully-enriched transition.
const (
	ScoreUnresolved    = 30
	ScoreQueueFailed   = 40
	ScoreISBNResolved  = 50
	ScoreQueuedOK      = 80
	ScoreFullyEnriched = 85
)

// Enrichment task priorities. The soft quota threshold suppresses low and
// medium priority primary-provider calls; the hard threshold suppresses all.
const (
	PriorityLow    = 0
	PriorityMedium = 1
	PriorityHigh   = 2
)

// Entity types carried by enrichment tasks.
const (
	EntityEdition = "edition"
	EntityWork    = "work"
	EntityAuthor  = "author"
)

// Work is a logical book. Works are never deleted; a synthetic work keeps its
// work_key for life so that provenance of inferred records survives enrichment.
type Work struct {
	ID                int64                  `json:"-"`
	WorkKey           string                 `json:"work_key"`
	Title             string                 `json:"title"`
	Description       string                 `json:"description,omitempty"`
	Subjects          []string               `json:"subjects"`
	Contributors      []string               `json:"contributors"`
	CompletenessScore int                    `json:"completeness_score"`
	PrimaryProvider   string                 `json:"primary_provider,omitempty"`
	Synthetic         bool                   `json:"synthetic"`
	LastPrimarySync   time.Time              `json:"last_primary_sync,omitempty"`
	LastEnhancedAt    time.Time              `json:"last_enhanced_at,omitempty"`
	MetaData          map[string]interface{} `json:"meta_data,omitempty"`
	CreatedAt         time.Time              `json:"created_at"`
}

// Edition is one published instance of a work, keyed by ISBN once resolved.
// WorkKey is write-once: enrichment passes must never repoint an edition to a
// different work, whatever confidence the later pass reports.
type Edition struct {
	ID                  int64                  `json:"-"`
	EditionKey          string                 `json:"edition_key"`
	WorkKey             string                 `json:"work_key,omitempty"`
	ISBN                string                 `json:"isbn,omitempty"`
	Publisher           string                 `json:"publisher,omitempty"`
	PublishDate         string                 `json:"publish_date,omitempty"`
	PageCount           int                    `json:"page_count,omitempty"`
	Format              string                 `json:"format,omitempty"`
	Language            string                 `json:"language,omitempty"`
	CoverURL            string                 `json:"cover_url,omitempty"`
	ExternalIDs         map[string]string      `json:"external_ids,omitempty"`
	CompletenessScore   int                    `json:"completeness_score"`
	WorkMatchConfidence int                    `json:"work_match_confidence"`
	WorkMatchSource     string                 `json:"work_match_source,omitempty"`
	PrimaryProvider     string                 `json:"primary_provider,omitempty"`
	Contributors        []string               `json:"contributors"`
	MetaData            map[string]interface{} `json:"meta_data,omitempty"`
	CreatedAt           time.Time              `json:"created_at"`
}

// StuckWork is a queued-ok work whose enrichment task never completed, paired
// with the ISBN its edition already resolved to so recovery can re-enqueue
// without spending another resolution pass.
type StuckWork struct {
	WorkKey  string                 `json:"work_key"`
	Title    string                 `json:"title"`
	ISBN     string                 `json:"isbn"`
	MetaData map[string]interface{} `json:"meta_data,omitempty"`
}

// Author is a contributor record maintained alongside works and editions.
type Author struct {
	ID                int64     `json:"-"`
	AuthorKey         string    `json:"author_key"`
	Name              string    `json:"name"`
	CompletenessScore int       `json:"completeness_score"`
	ExternalIDs       map[string]string `json:"external_ids,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
}

// ResolutionResult is the outcome of a successful search->validate pass by one
// resolver: a validated ISBN plus a 0-100 confidence and the winning source.
type ResolutionResult struct {
	ISBN       string `json:"isbn"`
	Confidence int    `json:"confidence"`
	Source     string `json:"source"`
	Title      string `json:"title,omitempty"`
	Author     string `json:"author,omitempty"`
}

// ProviderRecord is the full metadata a provider returns for one ISBN. It is
// the unit merged into works and editions by the enrichment consumer.
type ProviderRecord struct {
	ISBN        string   `json:"isbn"`
	Title       string   `json:"title"`
	Authors     []string `json:"authors"`
	Publisher   string   `json:"publisher,omitempty"`
	PublishDate string   `json:"publish_date,omitempty"`
	PageCount   int      `json:"page_count,omitempty"`
	Format      string   `json:"format,omitempty"`
	Language    string   `json:"language,omitempty"`
	CoverURL    string   `json:"cover_url,omitempty"`
	Subjects    []string `json:"subjects,omitempty"`
	Description string   `json:"description,omitempty"`
	Source      string   `json:"source"`
	ExternalID  string   `json:"external_id,omitempty"`
}

// Completeness estimates how enriched a provider record is, on the 0-100 scale
// used by works and editions. ISBN+title is the floor; each optional field
// raises the score toward the fully-enriched band.
func (r *ProviderRecord) Completeness() int {
	score := ScoreFullyEnriched
	optional := 0
	if r.Publisher != "" {
		optional++
	}
	if r.PublishDate != "" {
		optional++
	}
	if r.PageCount > 0 {
		optional++
	}
	if r.CoverURL != "" {
		optional++
	}
	if len(r.Subjects) > 0 {
		optional++
	}
	if r.Description != "" {
		optional++
	}
	score += optional * 2
	if score > 100 {
		score = 100
	}
	return score
}

func (w *Work) ToJSON() ([]byte, error) {
	return json.Marshal(w)
}

func (e *Edition) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}
