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
	"strings"
	"time"

	"github.com/openshelf/openshelf/internal/ratelimit"
	"github.com/openshelf/openshelf/internal/request"
	"github.com/openshelf/openshelf/model"
)

const ISBNdbName = "isbndb"

// BatchLimit is the largest ISBN batch the bulk endpoint accepts. Batching is
// the dominant cost optimization: one metered roundtrip covers up to 100
// editions.
const BatchLimit = 100

// ISBNdb is the metered primary provider. Every call here costs daily quota,
// so callers must consult the quota gate first and record calls after; the
// client itself only enforces the polite inter-call delay.
type ISBNdb struct {
	baseURL   string
	apiKey    string
	limiter   *ratelimit.Limiter
	threshold float64
}

func NewISBNdb(apiKey string, limiter *ratelimit.Limiter, threshold float64) *ISBNdb {
	return &ISBNdb{
		baseURL:   "https://api2.isbndb.com",
		apiKey:    apiKey,
		limiter:   limiter,
		threshold: threshold,
	}
}

func (i *ISBNdb) Name() string {
	return ISBNdbName
}

type isbndbBook struct {
	Title         string   `json:"title"`
	ISBN13        string   `json:"isbn13"`
	ISBN          string   `json:"isbn"`
	Authors       []string `json:"authors"`
	Publisher     string   `json:"publisher"`
	DatePublished string   `json:"date_published"`
	Pages         int      `json:"pages"`
	Binding       string   `json:"binding"`
	Language      string   `json:"language"`
	Image         string   `json:"image"`
	Subjects      []string `json:"subjects"`
	Synopsis      string   `json:"synopsis"`
}

type isbndbSearchResponse struct {
	Total int          `json:"total"`
	Books []isbndbBook `json:"books"`
}

type isbndbBookResponse struct {
	Book isbndbBook `json:"book"`
}

type isbndbBatchResponse struct {
	Total int          `json:"total"`
	Data  []isbndbBook `json:"data"`
}

// Resolve searches by title and validates candidates like any other resolver.
// This path is only taken when the quota gate has already allowed a primary
// call.
func (i *ISBNdb) Resolve(ctx context.Context, title, author string) (*model.ResolutionResult, error) {
	if err := i.limiter.Acquire(ctx, ISBNdbName); err != nil {
		return nil, err
	}

	searchURL := fmt.Sprintf("%s/books/%s?page=1&pageSize=%d&column=title", i.baseURL, url.PathEscape(title), maxSearchCandidates)
	req, err := i.newRequest(ctx, http.MethodGet, searchURL, nil)
	if err != nil {
		return nil, err
	}

	var response isbndbSearchResponse
	resp, err := call(req, &response, ISBNdbName)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}

	var cands []candidate
	for _, book := range response.Books {
		isbn := book.ISBN13
		if isbn == "" {
			isbn = book.ISBN
		}
		if isbn != "" {
			cands = append(cands, candidate{isbn: isbn})
		}
	}
	return validateCandidates(ctx, i, title, author, i.threshold, cands)
}

// Fetch retrieves one book by ISBN, retrying transient failures; a failed
// metered call wastes quota, so a retry inside the same call is cheaper than
// a full queue redelivery.
func (i *ISBNdb) Fetch(ctx context.Context, isbn string) (*model.ProviderRecord, error) {
	if err := i.limiter.Acquire(ctx, ISBNdbName); err != nil {
		return nil, err
	}

	req, err := i.newRequest(ctx, http.MethodGet, fmt.Sprintf("%s/book/%s", i.baseURL, url.PathEscape(isbn)), nil)
	if err != nil {
		return nil, err
	}

	var response isbndbBookResponse
	resp, err := request.CallWithRetry(req, &response, 30*time.Second)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusNotFound {
			return nil, nil
		}
		return nil, &TransientError{Provider: ISBNdbName, Err: err}
	}
	if resp.StatusCode == http.StatusNotFound || response.Book.Title == "" {
		return nil, nil
	}
	rec := i.toRecord(response.Book)
	if rec.ISBN == "" {
		rec.ISBN = isbn
	}
	return rec, nil
}

// FetchBatch retrieves up to BatchLimit books in one metered call. Unknown
// ISBNs are simply absent from the result map.
func (i *ISBNdb) FetchBatch(ctx context.Context, isbns []string) (map[string]*model.ProviderRecord, error) {
	if len(isbns) == 0 {
		return map[string]*model.ProviderRecord{}, nil
	}
	if len(isbns) > BatchLimit {
		return nil, fmt.Errorf("batch of %d exceeds limit %d", len(isbns), BatchLimit)
	}

	if err := i.limiter.Acquire(ctx, ISBNdbName); err != nil {
		return nil, err
	}

	body := strings.NewReader("isbns=" + strings.Join(isbns, ","))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, i.baseURL+"/books", body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", i.apiKey)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	var response isbndbBatchResponse
	resp, err := request.Call(req, &response)
	if err != nil {
		return nil, &TransientError{Provider: ISBNdbName, Err: err}
	}
	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
		return nil, &TransientError{Provider: ISBNdbName, Err: fmt.Errorf("status %d", resp.StatusCode)}
	}

	out := make(map[string]*model.ProviderRecord, len(response.Data))
	for _, book := range response.Data {
		rec := i.toRecord(book)
		if rec.ISBN != "" {
			out[rec.ISBN] = rec
		}
	}
	return out, nil
}

func (i *ISBNdb) newRequest(ctx context.Context, method, rawURL string, body *strings.Reader) (*http.Request, error) {
	var req *http.Request
	var err error
	if body != nil {
		req, err = http.NewRequestWithContext(ctx, method, rawURL, body)
	} else {
		req, err = http.NewRequestWithContext(ctx, method, rawURL, nil)
	}
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", i.apiKey)
	return req, nil
}

func (i *ISBNdb) toRecord(book isbndbBook) *model.ProviderRecord {
	isbn := book.ISBN13
	if isbn == "" {
		isbn = book.ISBN
	}
	return &model.ProviderRecord{
		ISBN:        isbn,
		Title:       book.Title,
		Authors:     book.Authors,
		Publisher:   book.Publisher,
		PublishDate: book.DatePublished,
		PageCount:   book.Pages,
		Format:      book.Binding,
		Language:    book.Language,
		CoverURL:    book.Image,
		Subjects:    book.Subjects,
		Description: book.Synopsis,
		Source:      ISBNdbName,
	}
}
