// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package retrieval

import (
	"sort"
	"strings"
	"unicode"
)

// =============================================================================
// SCORING WEIGHTS
// =============================================================================

const (
	// Per-field match weights. A word matching several fields takes the max.
	titleWeight = 1.0
	tagWeight   = 0.7
	bodyWeight  = 0.4

	// allWordsBonus multiplies the normalized score when every meaningful
	// query word matched at least one field.
	allWordsBonus = 1.2

	// titleBonus is added when any query word matched the title.
	titleBonus = 0.1
)

// stopWords are stripped from queries before scoring.
var stopWords = map[string]bool{
	"a": true, "an": true, "and": true, "are": true, "as": true, "at": true,
	"be": true, "by": true, "can": true, "do": true, "does": true, "for": true,
	"how": true, "in": true, "is": true, "it": true, "of": true, "on": true,
	"or": true, "the": true, "to": true, "was": true, "what": true,
	"when": true, "where": true, "which": true, "who": true, "why": true,
	"with": true,
}

// =============================================================================
// SEARCHER
// =============================================================================

// Searcher scores queries against a document set.
type Searcher struct {
	docs []*Document
}

// NewSearcher creates a searcher over the given documents.
// If docs is nil, the built-in corpus is used.
func NewSearcher(docs []*Document) *Searcher {
	if docs == nil {
		docs = Corpus()
	}
	return &Searcher{docs: docs}
}

// Search returns up to limit documents scoring at least minScore against the
// query, sorted by descending score.
func (s *Searcher) Search(query string, limit int, minScore float64) []SearchResult {
	words := tokenize(query)
	if len(words) == 0 {
		return nil
	}

	results := make([]SearchResult, 0, len(s.docs))
	for _, doc := range s.docs {
		score := scoreDocument(doc, words)
		if score >= minScore && score > 0 {
			results = append(results, SearchResult{Document: doc, Score: score})
		}
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})

	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	return results
}

// =============================================================================
// SCORING
// =============================================================================

// scoreDocument computes the normalized lexical overlap score of one document
// against the tokenized query.
func scoreDocument(doc *Document, words []string) float64 {
	title := strings.ToLower(doc.Title)
	body := strings.ToLower(doc.Content)

	tags := make([]string, len(doc.Tags))
	for i, tag := range doc.Tags {
		tags[i] = strings.ToLower(tag)
	}

	var sum float64
	matched := 0
	titleMatched := false

	for _, word := range words {
		weight := 0.0

		if strings.Contains(title, word) {
			weight = titleWeight
			titleMatched = true
		}
		if weight < tagWeight {
			for _, tag := range tags {
				if strings.Contains(tag, word) {
					weight = tagWeight
					break
				}
			}
		}
		if weight < bodyWeight && strings.Contains(body, word) {
			weight = bodyWeight
		}

		if weight > 0 {
			matched++
			sum += weight
		}
	}

	if matched == 0 {
		return 0
	}

	score := sum / float64(len(words))
	if matched == len(words) {
		score *= allWordsBonus
	}
	if titleMatched {
		score += titleBonus
	}
	if score > 1.0 {
		score = 1.0
	}
	return score
}

// tokenize splits a query into lowercase meaningful words, dropping stop
// words and words under 2 characters.
func tokenize(query string) []string {
	fields := strings.FieldsFunc(strings.ToLower(query), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})

	words := make([]string, 0, len(fields))
	for _, f := range fields {
		if len(f) < 2 || stopWords[f] {
			continue
		}
		words = append(words, f)
	}
	return words
}
