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

package openshelf

import (
	"context"

	"github.com/brianvoe/gofakeit/v6"

	"github.com/openshelf/openshelf/model"
)

// MockResolver is a scriptable provider used in tests.
type MockResolver struct {
	ProviderName string
	ResolveFunc  func(ctx context.Context, title, author string) (*model.ResolutionResult, error)
	FetchFunc    func(ctx context.Context, isbn string) (*model.ProviderRecord, error)
}

func (m *MockResolver) Name() string {
	return m.ProviderName
}

func (m *MockResolver) Resolve(ctx context.Context, title, author string) (*model.ResolutionResult, error) {
	if m.ResolveFunc != nil {
		return m.ResolveFunc(ctx, title, author)
	}
	return nil, nil
}

func (m *MockResolver) Fetch(ctx context.Context, isbn string) (*model.ProviderRecord, error) {
	if m.FetchFunc != nil {
		return m.FetchFunc(ctx, isbn)
	}
	return nil, nil
}

func getProviderRecordMock(isbn, source string) *model.ProviderRecord {
	return &model.ProviderRecord{
		ISBN:        isbn,
		Title:       gofakeit.BookTitle(),
		Authors:     []string{gofakeit.BookAuthor()},
		Publisher:   gofakeit.Company(),
		PublishDate: gofakeit.Date().Format("2006-01-02"),
		PageCount:   gofakeit.Number(100, 900),
		Format:      "Hardcover",
		Language:    "en",
		CoverURL:    gofakeit.URL(),
		Subjects:    []string{gofakeit.BookGenre()},
		Description: gofakeit.Sentence(12),
		Source:      source,
	}
}
