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
	"fmt"
)

// EnrichmentTask is the queue message driving one asynchronous enrichment
// pass. Delivery is at-least-once; consumers must be idempotent.
type EnrichmentTask struct {
	TaskID         string   `json:"task_id"`
	EntityType     string   `json:"entity_type"`
	EntityKey      string   `json:"entity_key"`
	ProvidersToTry []string `json:"providers_to_try"`
	Priority       int      `json:"priority"`
	RetryCount     int      `json:"retry_count"`
	MaxRetries     int      `json:"max_retries"`

	// Hints carried from the producer so the consumer can resolve without a
	// second store read. Title/Author are set for work tasks, ISBN for editions.
	Title  string `json:"title,omitempty"`
	Author string `json:"author,omitempty"`
	ISBN   string `json:"isbn,omitempty"`
}

// Validate checks the task shape before it is enqueued or processed.
func (t *EnrichmentTask) Validate() error {
	switch t.EntityType {
	case EntityEdition, EntityWork, EntityAuthor:
	default:
		return fmt.Errorf("unknown entity type %q", t.EntityType)
	}
	if t.EntityKey == "" {
		return fmt.Errorf("entity key is required")
	}
	if len(t.ProvidersToTry) == 0 {
		return fmt.Errorf("providers_to_try cannot be empty")
	}
	return nil
}

func (t *EnrichmentTask) ToJSON() ([]byte, error) {
	return json.Marshal(t)
}

// QuotaState reports the primary provider's day-scoped budget.
type QuotaState struct {
	Provider  string `json:"provider"`
	Used      int    `json:"used"`
	Limit     int    `json:"limit"`
	Remaining int    `json:"remaining"`
	SoftLimit int    `json:"soft_limit"`
	HardLimit int    `json:"hard_limit"`
}
