package harvest

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
)

// PipelineConfig controls the run loop.
type PipelineConfig struct {
	BaseURL     string
	ArticlePath string
	// ProgressEvery logs a progress projection after every N topics; zero disables it.
	ProgressEvery int
}

// State is the mutable collection owned by one run. It is passed explicitly
// through the loop and never shared between goroutines.
type State struct {
	Dedup      *Deduplicator
	Records    []Record
	Failures   []FailedQuery
	Skipped    int
	Duplicates int
}

// NewState returns an empty State.
func NewState() *State {
	return &State{Dedup: NewDeduplicator()}
}

// Pipeline runs topics sequentially: resolve, dedup gate, fetch, extract.
type Pipeline struct {
	resolver  CandidateResolver
	fetcher   Fetcher
	extractor Extractor
	scheduler Scheduler
	clock     Clock
	ids       IDGenerator
	observer  Observer
	cfg       PipelineConfig
	logger    *zap.Logger
}

// NewPipeline wires the run loop.
func NewPipeline(
	resolver CandidateResolver,
	fetcher Fetcher,
	extractor Extractor,
	scheduler Scheduler,
	clock Clock,
	ids IDGenerator,
	observer Observer,
	cfg PipelineConfig,
	logger *zap.Logger,
) *Pipeline {
	if observer == nil {
		observer = NopObserver{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ArticlePath == "" {
		cfg.ArticlePath = "/wiki/"
	}
	return &Pipeline{
		resolver:  resolver,
		fetcher:   fetcher,
		extractor: extractor,
		scheduler: scheduler,
		clock:     clock,
		ids:       ids,
		observer:  observer,
		cfg:       cfg,
		logger:    logger,
	}
}

// Run processes every topic in order and returns the collected result. Only
// context cancellation aborts a run; in that case the partial state is
// discarded and the error wraps ctx.Err().
func (p *Pipeline) Run(ctx context.Context, topics []string) (Result, error) {
	runID, err := p.ids.NewID()
	if err != nil {
		return Result{}, fmt.Errorf("generate run id: %w", err)
	}
	state := NewState()
	started := p.clock.Now()
	p.logger.Info("harvest started", zap.String("run_id", runID), zap.Int("topics", len(topics)))

	for i, topic := range topics {
		if err := ctx.Err(); err != nil {
			return Result{}, fmt.Errorf("harvest canceled: %w", err)
		}
		if err := p.processTopic(ctx, state, topic); err != nil {
			return Result{}, err
		}
		p.observer.ObserveTopic()

		done := i + 1
		if p.cfg.ProgressEvery > 0 && (done%p.cfg.ProgressEvery == 0 || done == len(topics)) {
			p.logProgress(state, done, len(topics))
		}
		if done < len(topics) {
			if err := p.scheduler.Wait(ctx, DelayTopic); err != nil {
				return Result{}, fmt.Errorf("topic delay: %w", err)
			}
		}
	}

	result := Result{
		RunID:      runID,
		StartedAt:  started,
		Finished:   p.clock.Now(),
		Topics:     append([]string(nil), topics...),
		Records:    state.Records,
		Failures:   state.Failures,
		Skipped:    state.Skipped,
		Duplicates: state.Duplicates,
	}
	p.logger.Info("harvest finished",
		zap.String("run_id", runID),
		zap.Int("records", len(result.Records)),
		zap.Int("failures", len(result.Failures)),
		zap.Int("skipped", result.Skipped),
		zap.Int("duplicates", result.Duplicates),
		zap.Duration("elapsed", result.Elapsed()),
	)
	return result, nil
}

func (p *Pipeline) processTopic(ctx context.Context, state *State, topic string) error {
	p.logger.Debug("resolving topic", zap.String("topic", topic))
	candidates, err := p.resolver.Resolve(ctx, topic)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("harvest canceled: %w", ctxErr)
		}
		p.fail(state, topic, topic, err)
		return nil
	}
	for _, candidate := range candidates {
		if err := p.processCandidate(ctx, state, candidate); err != nil {
			return err
		}
	}
	return nil
}

func (p *Pipeline) processCandidate(ctx context.Context, state *State, candidate Candidate) error {
	if state.Dedup.Seen(candidate.Title) {
		state.Duplicates++
		p.observer.ObserveDuplicate()
		p.logger.Debug("already collected", zap.String("topic", candidate.Topic), zap.String("title", candidate.Title))
		return nil
	}

	target, err := ArticleURL(p.cfg.BaseURL, p.cfg.ArticlePath, candidate.Title)
	if err != nil {
		p.fail(state, candidate.Topic, candidate.Title, NewFailure(KindTransport, candidate.Topic, candidate.Title, err))
		return nil
	}
	p.logger.Debug("fetching article",
		zap.String("topic", candidate.Topic),
		zap.String("title", candidate.Title),
		zap.Int("size", candidate.Size),
		zap.String("snippet", candidate.Snippet),
	)
	doc, fetchErr := p.fetcher.Fetch(ctx, target)
	if err := p.scheduler.Wait(ctx, DelayArticle); err != nil {
		return fmt.Errorf("article delay: %w", err)
	}
	if fetchErr != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("harvest canceled: %w", ctxErr)
		}
		p.fail(state, candidate.Topic, candidate.Title, fetchErr)
		return nil
	}

	if doc.URL == "" {
		doc.URL = target
	}
	if doc.Title == "" {
		doc.Title = candidate.Title
	}
	record, err := p.extractor.Extract(doc, candidate.Topic)
	if err != nil {
		if IsKind(err, KindRejected) {
			state.Skipped++
			p.logger.Info("skipped short article", zap.String("topic", candidate.Topic), zap.String("title", candidate.Title))
			return nil
		}
		p.fail(state, candidate.Topic, candidate.Title, err)
		return nil
	}

	state.Dedup.Mark(candidate.Title)
	state.Records = append(state.Records, *record)
	p.observer.ObserveRecord(record.Topic, record.ContentLength)
	p.logger.Info("collected article",
		zap.String("topic", record.Topic),
		zap.String("title", record.Title),
		zap.String("url", record.URL),
		zap.Int("chars", record.ContentLength),
	)
	return nil
}

func (p *Pipeline) fail(state *State, topic, target string, err error) {
	kind := KindOf(err)
	if kind == "" {
		kind = KindTransport
	}
	reason := err.Error()
	var f *Failure
	if errors.As(err, &f) && f.Err != nil {
		reason = f.Err.Error()
	}
	state.Failures = append(state.Failures, FailedQuery{
		Topic:  topic,
		Target: target,
		Kind:   kind,
		Reason: reason,
	})
	p.observer.ObserveFailure(kind)
	p.logger.Warn("harvest failure",
		zap.String("topic", topic),
		zap.String("target", target),
		zap.String("kind", string(kind)),
		zap.Error(err),
	)
}

func (p *Pipeline) logProgress(state *State, done, total int) {
	proj := p.scheduler.Project(done, total)
	p.logger.Info("progress",
		zap.Int("done", proj.Done),
		zap.Int("total", proj.Total),
		zap.Int("records", len(state.Records)),
		zap.Float64("topics_per_minute", proj.PerMinute),
		zap.Duration("elapsed", proj.Elapsed.Round(time.Second)),
		zap.Duration("eta", proj.Remaining.Round(time.Second)),
	)
}

// ArticleURL builds the canonical article URL for title under baseURL.
func ArticleURL(baseURL, articlePath, title string) (string, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return "", errors.New("empty article title")
	}
	u, err := url.Parse(baseURL)
	if err != nil {
		return "", fmt.Errorf("parse base url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("base url %q must be absolute", baseURL)
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + articlePath + strings.ReplaceAll(title, " ", "_")
	u.RawQuery = ""
	return u.String(), nil
}

// ObservedFetcher reports every call of the wrapped Fetcher to an Observer.
type ObservedFetcher struct {
	Fetcher  Fetcher
	Observer Observer
	Kind     string
}

// Fetch implements Fetcher.
func (o ObservedFetcher) Fetch(ctx context.Context, target string) (Document, error) {
	start := time.Now()
	doc, err := o.Fetcher.Fetch(ctx, target)
	if o.Observer != nil {
		o.Observer.ObserveFetch(o.Kind, time.Since(start), err)
	}
	return doc, err
}
