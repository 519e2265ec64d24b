// Package politeness enforces request pacing and projects run progress.
package politeness

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/JakeFAU/topic-harvester/internal/harvest"
)

// Scheduler modes accepted by New.
const (
	ModeFixed       = "fixed"
	ModeTokenBucket = "token_bucket"
)

// Config selects and parameterizes a scheduler.
type Config struct {
	Mode         string
	TopicDelay   time.Duration
	ArticleDelay time.Duration
	// Burst only applies to ModeTokenBucket.
	Burst int
}

// New returns the scheduler named by cfg.Mode.
func New(cfg Config, clock harvest.Clock) (harvest.Scheduler, error) {
	progress := NewProgress(clock)
	switch strings.ToLower(strings.TrimSpace(cfg.Mode)) {
	case "", ModeFixed:
		return NewFixed(cfg.TopicDelay, cfg.ArticleDelay, progress), nil
	case ModeTokenBucket:
		return NewTokenBucket(cfg.TopicDelay, cfg.ArticleDelay, cfg.Burst, progress), nil
	default:
		return nil, fmt.Errorf("unknown scheduler mode %q", cfg.Mode)
	}
}

// Progress tracks run start and derives rate projections.
type Progress struct {
	clock harvest.Clock
	start time.Time
}

// NewProgress starts tracking at clock.Now().
func NewProgress(clock harvest.Clock) *Progress {
	return &Progress{clock: clock, start: clock.Now()}
}

// Project estimates throughput and time remaining after done of total topics.
func (p *Progress) Project(done, total int) harvest.Projection {
	proj := harvest.Projection{
		Done:    done,
		Total:   total,
		Elapsed: p.clock.Now().Sub(p.start),
	}
	if done <= 0 || proj.Elapsed <= 0 {
		return proj
	}
	proj.PerMinute = float64(done) / proj.Elapsed.Minutes()
	if left := total - done; left > 0 {
		proj.Remaining = time.Duration(float64(proj.Elapsed) / float64(done) * float64(left))
	}
	return proj
}

// Fixed sleeps a constant duration per delay kind.
type Fixed struct {
	*Progress
	delays map[harvest.DelayKind]time.Duration
	sleep  func(context.Context, time.Duration) error
}

var _ harvest.Scheduler = (*Fixed)(nil)

// NewFixed builds a fixed-delay scheduler.
func NewFixed(topic, article time.Duration, progress *Progress) *Fixed {
	return &Fixed{
		Progress: progress,
		delays: map[harvest.DelayKind]time.Duration{
			harvest.DelayTopic:   topic,
			harvest.DelayArticle: article,
		},
		sleep: sleepContext,
	}
}

// Wait blocks for the delay configured for kind or until ctx is done.
func (f *Fixed) Wait(ctx context.Context, kind harvest.DelayKind) error {
	return f.sleep(ctx, f.delays[kind])
}

func sleepContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("politeness wait: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}

// TokenBucket paces each delay kind with its own token bucket, so bursts are
// allowed after idle periods while the long-run rate stays at one request per
// configured interval.
type TokenBucket struct {
	*Progress
	mu       sync.Mutex
	limiters map[harvest.DelayKind]*rate.Limiter
	burst    int
	every    map[harvest.DelayKind]time.Duration
}

var _ harvest.Scheduler = (*TokenBucket)(nil)

// NewTokenBucket builds a token-bucket scheduler.
func NewTokenBucket(topic, article time.Duration, burst int, progress *Progress) *TokenBucket {
	if burst <= 0 {
		burst = 1
	}
	return &TokenBucket{
		Progress: progress,
		limiters: make(map[harvest.DelayKind]*rate.Limiter),
		burst:    burst,
		every: map[harvest.DelayKind]time.Duration{
			harvest.DelayTopic:   topic,
			harvest.DelayArticle: article,
		},
	}
}

// Wait blocks until a token for kind is available.
func (t *TokenBucket) Wait(ctx context.Context, kind harvest.DelayKind) error {
	if err := t.limiter(kind).Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	return nil
}

func (t *TokenBucket) limiter(kind harvest.DelayKind) *rate.Limiter {
	t.mu.Lock()
	defer t.mu.Unlock()
	limiter, ok := t.limiters[kind]
	if !ok {
		limit := rate.Inf
		if d := t.every[kind]; d > 0 {
			limit = rate.Every(d)
		}
		limiter = rate.NewLimiter(limit, t.burst)
		t.limiters[kind] = limiter
	}
	return limiter
}
