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

const googleBooksName = "googlebooks"

// GoogleBooks is the second fallback resolver. Coverage is narrower than
// OpenLibrary for older editions but its search is better at partial titles.
type GoogleBooks struct {
	baseURL   string
	limiter   *ratelimit.Limiter
	threshold float64
}

func NewGoogleBooks(limiter *ratelimit.Limiter, threshold float64) *GoogleBooks {
	return &GoogleBooks{
		baseURL:   "https://www.googleapis.com/books/v1",
		limiter:   limiter,
		threshold: threshold,
	}
}

func (g *GoogleBooks) Name() string {
	return googleBooksName
}

type googleVolumeInfo struct {
	Title               string   `json:"title"`
	Authors             []string `json:"authors"`
	Publisher           string   `json:"publisher"`
	PublishedDate       string   `json:"publishedDate"`
	Description         string   `json:"description"`
	PageCount           int      `json:"pageCount"`
	Categories          []string `json:"categories"`
	Language            string   `json:"language"`
	IndustryIdentifiers []struct {
		Type       string `json:"type"`
		Identifier string `json:"identifier"`
	} `json:"industryIdentifiers"`
	ImageLinks struct {
		Thumbnail string `json:"thumbnail"`
	} `json:"imageLinks"`
}

type googleVolumesResponse struct {
	TotalItems int `json:"totalItems"`
	Items      []struct {
		ID         string           `json:"id"`
		VolumeInfo googleVolumeInfo `json:"volumeInfo"`
	} `json:"items"`
}

// Resolve searches volumes scoped by intitle/inauthor and validates the
// candidates in result order.
func (g *GoogleBooks) Resolve(ctx context.Context, title, author string) (*model.ResolutionResult, error) {
	if err := g.limiter.Acquire(ctx, googleBooksName); err != nil {
		return nil, err
	}

	q := fmt.Sprintf(`intitle:%q inauthor:%q`, title, author)
	searchURL := fmt.Sprintf("%s/volumes?q=%s&maxResults=%d", g.baseURL, url.QueryEscape(q), maxSearchCandidates)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, searchURL, nil)
	if err != nil {
		return nil, err
	}

	var response googleVolumesResponse
	resp, err := call(req, &response, googleBooksName)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}

	var cands []candidate
	for _, item := range response.Items {
		if isbn := isbnFromIdentifiers(item.VolumeInfo); isbn != "" {
			cands = append(cands, candidate{isbn: isbn})
		}
	}
	return validateCandidates(ctx, g, title, author, g.threshold, cands)
}

// Fetch looks a volume up by ISBN.
func (g *GoogleBooks) Fetch(ctx context.Context, isbn string) (*model.ProviderRecord, error) {
	if err := g.limiter.Acquire(ctx, googleBooksName); err != nil {
		return nil, err
	}

	fetchURL := fmt.Sprintf("%s/volumes?q=%s", g.baseURL, url.QueryEscape("isbn:"+isbn))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fetchURL, nil)
	if err != nil {
		return nil, err
	}

	var response googleVolumesResponse
	resp, err := call(req, &response, googleBooksName)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusNotFound || len(response.Items) == 0 {
		return nil, nil
	}

	item := response.Items[0]
	info := item.VolumeInfo
	rec := &model.ProviderRecord{
		ISBN:        isbn,
		Title:       info.Title,
		Authors:     info.Authors,
		Publisher:   info.Publisher,
		PublishDate: info.PublishedDate,
		PageCount:   info.PageCount,
		Language:    info.Language,
		CoverURL:    info.ImageLinks.Thumbnail,
		Subjects:    info.Categories,
		Description: info.Description,
		Source:      googleBooksName,
		ExternalID:  item.ID,
	}
	return rec, nil
}

func isbnFromIdentifiers(info googleVolumeInfo) string {
	var isbn10 string
	for _, id := range info.IndustryIdentifiers {
		switch id.Type {
		case "ISBN_13":
			return id.Identifier
		case "ISBN_10":
			isbn10 = id.Identifier
		}
	}
	return isbn10
}
