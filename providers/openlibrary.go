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

package providers

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/openshelf/openshelf/internal/ratelimit"
	"github.com/openshelf/openshelf/model"
)

const openLibraryName = "openlibrary"

// OpenLibrary is the first fallback resolver: the largest free catalog, no
// API key, generous but politely rate-limited.
type OpenLibrary struct {
	baseURL   string
	limiter   *ratelimit.Limiter
	threshold float64
}

func NewOpenLibrary(limiter *ratelimit.Limiter, threshold float64) *OpenLibrary {
	return &OpenLibrary{
		baseURL:   "https://openlibrary.org",
		limiter:   limiter,
		threshold: threshold,
	}
}

func (o *OpenLibrary) Name() string {
	return openLibraryName
}

type openLibrarySearchResponse struct {
	NumFound int `json:"numFound"`
	Docs     []struct {
		Title      string   `json:"title"`
		AuthorName []string `json:"author_name"`
		ISBN       []string `json:"isbn"`
	} `json:"docs"`
}

const maxSearchCandidates = 5

// Resolve queries the fuzzy search endpoint and validates candidates in the
// order the provider returned them.
func (o *OpenLibrary) Resolve(ctx context.Context, title, author string) (*model.ResolutionResult, error) {
	if err := o.limiter.Acquire(ctx, openLibraryName); err != nil {
		return nil, err
	}

	query := url.Values{}
	query.Set("title", title)
	query.Set("author", author)
	query.Set("limit", fmt.Sprintf("%d", maxSearchCandidates))
	query.Set("fields", "title,author_name,isbn")

	searchURL := fmt.Sprintf("%s/search.json?%s", o.baseURL, query.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, searchURL, nil)
	if err != nil {
		return nil, err
	}

	var response openLibrarySearchResponse
	resp, err := call(req, &response, openLibraryName)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}

	var cands []candidate
	for _, doc := range response.Docs {
		isbn := pickISBN(doc.ISBN)
		if isbn != "" {
			cands = append(cands, candidate{isbn: isbn})
		}
	}
	return validateCandidates(ctx, o, title, author, o.threshold, cands)
}

type openLibraryBookData struct {
	Title         string `json:"title"`
	PublishDate   string `json:"publish_date"`
	NumberOfPages int    `json:"number_of_pages"`
	Authors       []struct {
		Name string `json:"name"`
	} `json:"authors"`
	Publishers []struct {
		Name string `json:"name"`
	} `json:"publishers"`
	Subjects []struct {
		Name string `json:"name"`
	} `json:"subjects"`
	Cover struct {
		Large string `json:"large"`
	} `json:"cover"`
	Identifiers struct {
		OpenLibrary []string `json:"openlibrary"`
	} `json:"identifiers"`
}

// Fetch returns full metadata for one ISBN via the books API, or nil when
// OpenLibrary does not know the ISBN.
func (o *OpenLibrary) Fetch(ctx context.Context, isbn string) (*model.ProviderRecord, error) {
	if err := o.limiter.Acquire(ctx, openLibraryName); err != nil {
		return nil, err
	}

	bibkey := "ISBN:" + isbn
	fetchURL := fmt.Sprintf("%s/api/books?bibkeys=%s&format=json&jscmd=data", o.baseURL, url.QueryEscape(bibkey))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fetchURL, nil)
	if err != nil {
		return nil, err
	}

	response := map[string]openLibraryBookData{}
	resp, err := call(req, &response, openLibraryName)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}

	data, ok := response[bibkey]
	if !ok {
		return nil, nil
	}

	rec := &model.ProviderRecord{
		ISBN:        isbn,
		Title:       data.Title,
		PublishDate: data.PublishDate,
		PageCount:   data.NumberOfPages,
		CoverURL:    data.Cover.Large,
		Source:      openLibraryName,
	}
	for _, a := range data.Authors {
		rec.Authors = append(rec.Authors, a.Name)
	}
	if len(data.Publishers) > 0 {
		rec.Publisher = data.Publishers[0].Name
	}
	for _, s := range data.Subjects {
		rec.Subjects = append(rec.Subjects, s.Name)
	}
	if len(data.Identifiers.OpenLibrary) > 0 {
		rec.ExternalID = data.Identifiers.OpenLibrary[0]
	}
	return rec, nil
}

// pickISBN prefers the first ISBN-13 from a search document, falling back to
// the first ISBN-10.
func pickISBN(isbns []string) string {
	for _, isbn := range isbns {
		if len(isbn) == 13 {
			return isbn
		}
	}
	if len(isbns) > 0 {
		return isbns[0]
	}
	return ""
}
