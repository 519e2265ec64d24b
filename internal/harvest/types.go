// Package harvest defines the core types shared across the harvesting pipeline.
package harvest

import (
	"time"
)

// Candidate is a search hit that still has to be fetched and extracted.
type Candidate struct {
	// Title is the canonical article name returned by the search provider.
	Title string
	// Topic is the query that produced this candidate.
	Topic string
	// Snippet is the provider's highlighted match excerpt.
	Snippet string
	// Size is the provider-reported article size in bytes.
	Size int
}

// Document is the raw markup returned by a Fetcher.
type Document struct {
	URL        string
	Title      string
	StatusCode int
	Body       []byte
	Duration   time.Duration
}

// KeyFact is a label/value row lifted from an article's fact table.
type KeyFact struct {
	Label string
	Value string
}

// Record is the structured output for one successfully extracted article.
// Records are immutable once produced by an Extractor.
type Record struct {
	Source  string
	URL     string
	Title   string
	Topic   string
	Content string
	// ContentLength is the character count of the normalized text before truncation.
	ContentLength int
	Categories    []string
	KeyFacts      []KeyFact
	Sections      []string
	Years         []string
	ScrapedAt     time.Time
}

// FailedQuery is a topic or candidate that could not be turned into records.
type FailedQuery struct {
	Topic  string
	Target string
	Kind   FailureKind
	Reason string
}

// Result summarizes one pipeline run.
type Result struct {
	RunID     string
	StartedAt time.Time
	Finished  time.Time
	Topics    []string
	Records   []Record
	Failures  []FailedQuery
	// Skipped counts candidates dropped by the acceptance gate.
	Skipped int
	// Duplicates counts candidates short-circuited by the deduplicator.
	Duplicates int
}

// Elapsed reports the wall time of the run.
func (r Result) Elapsed() time.Duration {
	if r.Finished.IsZero() {
		return 0
	}
	return r.Finished.Sub(r.StartedAt)
}
