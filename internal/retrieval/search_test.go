// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package retrieval

import "testing"

func TestSearch_TitleMatchRanksFirst(t *testing.T) {
	s := NewSearcher(nil)

	results := s.Search("What is RAG?", 3, 0.3)
	if len(results) == 0 {
		t.Fatal("expected at least one result for RAG query")
	}
	if results[0].Document.ID != "doc-rag" {
		t.Errorf("top result = %s, want doc-rag", results[0].Document.ID)
	}
	if results[0].Score <= 0 {
		t.Errorf("top score = %f, want > 0", results[0].Score)
	}
}

func TestSearch_GibberishReturnsEmpty(t *testing.T) {
	s := NewSearcher(nil)

	if results := s.Search("asdkjhasd", 3, 0.3); len(results) != 0 {
		t.Errorf("gibberish query returned %d results", len(results))
	}
}

func TestSearch_StopWordsOnlyReturnsEmpty(t *testing.T) {
	s := NewSearcher(nil)

	if results := s.Search("what is the", 3, 0.0); len(results) != 0 {
		t.Errorf("stop-word query returned %d results", len(results))
	}
	if results := s.Search("a I", 3, 0.0); len(results) != 0 {
		t.Errorf("short-word query returned %d results", len(results))
	}
}

func TestSearch_RespectsLimit(t *testing.T) {
	s := NewSearcher(nil)

	// "context" appears in several documents.
	results := s.Search("context tokens streaming cache", 2, 0.0)
	if len(results) > 2 {
		t.Errorf("limit not respected: got %d results", len(results))
	}
}

func TestSearch_ScoresDescending(t *testing.T) {
	s := NewSearcher(nil)

	results := s.Search("streaming response frames", 6, 0.0)
	for i := 1; i < len(results); i++ {
		if results[i].Score > results[i-1].Score {
			t.Errorf("results not sorted: score[%d]=%f > score[%d]=%f",
				i, results[i].Score, i-1, results[i-1].Score)
		}
	}
}

func TestSearch_MinScoreFiltersWeakMatches(t *testing.T) {
	s := NewSearcher(nil)

	// "window" only matches doc bodies/titles weakly; a high floor must
	// exclude anything below it.
	results := s.Search("window", 10, 0.99)
	for _, r := range results {
		if r.Score < 0.99 {
			t.Errorf("result %s below floor: %f", r.Document.ID, r.Score)
		}
	}
}

func TestScoreDocument_CappedAtOne(t *testing.T) {
	doc := &Document{
		Title:   "streaming streaming",
		Tags:    []string{"streaming"},
		Content: "streaming",
	}
	score := scoreDocument(doc, []string{"streaming"})
	if score > 1.0 {
		t.Errorf("score %f exceeds 1.0 cap", score)
	}
}
