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

// Package providers contains the adapters for external book-metadata
// providers. Every resolver implements the same search->validate contract:
// query the provider's fuzzy search with (title, author), then fetch each
// candidate's full metadata and accept it only when BOTH title and author
// clear the similarity threshold. Partial matches are rejected outright; a
// wrong ISBN attached to a work corrupts data silently, a missed match does
// not.
package providers

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/openshelf/openshelf/model"
)

// Resolver is one external provider in the orchestrator chain.
type Resolver interface {
	// Name returns the registry key for this provider.
	Name() string
	// Resolve runs search->validate for (title, author). It returns nil with
	// no error when the provider has no acceptable candidate; resolvers never
	// guess.
	Resolve(ctx context.Context, title, author string) (*model.ResolutionResult, error)
	// Fetch returns full metadata for a known ISBN, or nil when the provider
	// does not know the ISBN.
	Fetch(ctx context.Context, isbn string) (*model.ProviderRecord, error)
}

// TransientError marks timeouts, 5xx responses and network failures. These
// are always retryable and never surfaced as a permanent miss.
type TransientError struct {
	Provider string
	Err      error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("%s: transient provider error: %v", e.Provider, e.Err)
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// IsTransient reports whether err is a retryable provider failure.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// Registry maps provider names to resolver implementations so that
// providers-to-try lists arriving as queue data are validated against real
// adapters instead of dispatched by reflection.
type Registry struct {
	resolvers map[string]Resolver
	order     []string
}

func NewRegistry() *Registry {
	return &Registry{resolvers: make(map[string]Resolver)}
}

// Register adds a resolver under its name. Registration order is preserved
// for DefaultChain.
func (r *Registry) Register(res Resolver) {
	name := res.Name()
	if _, exists := r.resolvers[name]; !exists {
		r.order = append(r.order, name)
	}
	r.resolvers[name] = res
}

// Get returns the resolver for a name.
func (r *Registry) Get(name string) (Resolver, bool) {
	res, ok := r.resolvers[strings.ToLower(strings.TrimSpace(name))]
	return res, ok
}

// FromNames maps an ordered name list (task data) onto resolver
// implementations, rejecting unknown names.
func (r *Registry) FromNames(names []string) ([]Resolver, error) {
	out := make([]Resolver, 0, len(names))
	for _, name := range names {
		res, ok := r.Get(name)
		if !ok {
			return nil, fmt.Errorf("unknown provider %q", name)
		}
		out = append(out, res)
	}
	return out, nil
}

// DefaultChain returns every registered resolver in registration order.
func (r *Registry) DefaultChain() []Resolver {
	out := make([]Resolver, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.resolvers[name])
	}
	return out
}

// Names returns the registered provider names in registration order.
func (r *Registry) Names() []string {
	return append([]string(nil), r.order...)
}

// candidate is one ISBN a provider's fuzzy search returned.
type candidate struct {
	isbn string
}

// validateCandidates fetches each candidate's full metadata in provider order
// and accepts the first whose title AND author both clear the threshold. A
// candidate failing either axis is routine, not an error; it is logged at
// debug and skipped.
func validateCandidates(ctx context.Context, r Resolver, title, author string, threshold float64, cands []candidate) (*model.ResolutionResult, error) {
	for _, c := range cands {
		if c.isbn == "" {
			continue
		}
		rec, err := r.Fetch(ctx, c.isbn)
		if err != nil {
			// Transient fetch failures forfeit this candidate, not the chain.
			logrus.Debugf("%s: candidate %s fetch failed: %v", r.Name(), c.isbn, err)
			continue
		}
		if rec == nil {
			continue
		}

		titleSim := Similarity(title, rec.Title)
		authorSim := bestAuthorSimilarity(author, rec.Authors)
		if titleSim >= threshold && authorSim >= threshold {
			confidence := int(minFloat(titleSim, authorSim) * 100)
			return &model.ResolutionResult{
				ISBN:       rec.ISBN,
				Confidence: confidence,
				Source:     r.Name(),
				Title:      rec.Title,
				Author:     strings.Join(rec.Authors, ", "),
			}, nil
		}
		logrus.Debugf("%s: rejected candidate %s (title %.2f, author %.2f)", r.Name(), c.isbn, titleSim, authorSim)
	}
	return nil, nil
}

// bestAuthorSimilarity scores the query author against each listed
// contributor and keeps the best. Providers disagree on contributor order and
// on whether translators and editors are included.
func bestAuthorSimilarity(author string, candidates []string) float64 {
	best := 0.0
	for _, c := range candidates {
		if s := Similarity(author, c); s > best {
			best = s
		}
	}
	return best
}

func minFloat(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
