package harvest

import (
	"context"
	"time"
)

// Fetcher performs a single network request for url. Implementations must
// return a *Failure of KindTransport for network errors and non-200 responses
// and must not retry. The call is the pipeline's only suspension point for
// network I/O.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (Document, error)
}

// Extractor turns article markup into a Record. It returns a *Failure of
// KindParse when the content region is missing and KindRejected when the
// normalized text is below the acceptance minimum.
type Extractor interface {
	Extract(doc Document, topic string) (*Record, error)
}

// CandidateResolver maps a topic to ranked candidates.
type CandidateResolver interface {
	Resolve(ctx context.Context, topic string) ([]Candidate, error)
}

// DelayKind selects which politeness delay applies.
type DelayKind string

// Delay kinds understood by schedulers.
const (
	DelayTopic   DelayKind = "topic"
	DelayArticle DelayKind = "article"
)

// Projection is a derived, non-authoritative progress estimate.
type Projection struct {
	Done      int
	Total     int
	Elapsed   time.Duration
	PerMinute float64
	Remaining time.Duration
}

// Scheduler enforces politeness delays and projects progress.
type Scheduler interface {
	Wait(ctx context.Context, kind DelayKind) error
	Project(done, total int) Projection
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// Observer receives pipeline counters; metrics.Recorder satisfies it.
type Observer interface {
	ObserveFetch(kind string, d time.Duration, err error)
	ObserveRecord(topic string, contentLength int)
	ObserveFailure(kind FailureKind)
	ObserveDuplicate()
	ObserveTopic()
}

// NopObserver discards every observation.
type NopObserver struct{}

// ObserveFetch implements Observer.
func (NopObserver) ObserveFetch(string, time.Duration, error) {}

// ObserveRecord implements Observer.
func (NopObserver) ObserveRecord(string, int) {}

// ObserveFailure implements Observer.
func (NopObserver) ObserveFailure(FailureKind) {}

// ObserveDuplicate implements Observer.
func (NopObserver) ObserveDuplicate() {}

// ObserveTopic implements Observer.
func (NopObserver) ObserveTopic() {}

// IDGenerator produces run identifiers.
type IDGenerator interface {
	NewID() (string, error)
}
