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
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSimilarityExactMatch(t *testing.T) {
	assert.Equal(t, 1.0, Similarity("The Martian", "The Martian"))
}

func TestSimilarityCaseAndPunctuationInsensitive(t *testing.T) {
	assert.Equal(t, 1.0, Similarity("The Martian!", "the martian"))
	assert.Equal(t, 1.0, Similarity("Don't Panic", "dont panic"))
	assert.Equal(t, 1.0, Similarity("  spaced   out  ", "spaced out"))
}

func TestSimilarityEmptyStrings(t *testing.T) {
	assert.Equal(t, 1.0, Similarity("", ""))
	assert.Equal(t, 0.0, Similarity("The Martian", ""))
	assert.Equal(t, 0.0, Similarity("", "The Martian"))
}

func TestSimilarityNearMiss(t *testing.T) {
	// A one-word title extension should land well below an exact match but
	// above unrelated strings.
	s := Similarity("The Martian", "The Martian Chronicles")
	assert.Greater(t, s, 0.3)
	assert.Less(t, s, 0.70)
}

func TestSimilarityUnrelated(t *testing.T) {
	s := Similarity("The Martian", "Pride and Prejudice")
	assert.Less(t, s, 0.3)
}

func TestNormalizeForMatch(t *testing.T) {
	assert.Equal(t, "the martian", normalizeForMatch("The Martian!"))
	assert.Equal(t, "andy weir", normalizeForMatch("  Andy   Weir.  "))
	assert.Equal(t, "", normalizeForMatch("!!!"))
}
