package harvest

import (
	"errors"
	"fmt"
)

// FailureKind classifies why a topic or candidate produced no record.
type FailureKind string

// Failure kinds surfaced by resolvers, fetchers and extractors.
const (
	// KindTransport covers network errors, timeouts and non-200 responses.
	KindTransport FailureKind = "transport"
	// KindParse means an expected structural region was missing.
	KindParse FailureKind = "parse"
	// KindRejected means content was present but shorter than the acceptance minimum.
	KindRejected FailureKind = "rejected"
	// KindNoResults means a search returned nothing, even after fallback.
	KindNoResults FailureKind = "no_results"
)

// Failure is the typed error returned across component boundaries.
type Failure struct {
	Kind   FailureKind
	Topic  string
	Target string
	Err    error
}

// Error implements error.
func (f *Failure) Error() string {
	target := f.Target
	if target == "" {
		target = f.Topic
	}
	if f.Err == nil {
		return fmt.Sprintf("%s failure for %q", f.Kind, target)
	}
	return fmt.Sprintf("%s failure for %q: %v", f.Kind, target, f.Err)
}

// Unwrap exposes the underlying cause.
func (f *Failure) Unwrap() error {
	return f.Err
}

// NewFailure builds a Failure of the given kind.
func NewFailure(kind FailureKind, topic, target string, err error) *Failure {
	return &Failure{Kind: kind, Topic: topic, Target: target, Err: err}
}

// KindOf returns the FailureKind carried by err, or "" when err is not a Failure.
func KindOf(err error) FailureKind {
	var f *Failure
	if errors.As(err, &f) {
		return f.Kind
	}
	return ""
}

// IsKind reports whether err is a Failure of the given kind.
func IsKind(err error, kind FailureKind) bool {
	return KindOf(err) == kind
}
