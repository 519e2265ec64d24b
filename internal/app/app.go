// Package app wires configuration into a runnable harvest and maps the
// outcome to a process exit code.
package app

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/topic-harvester/internal/clock/system"
	"github.com/JakeFAU/topic-harvester/internal/config"
	"github.com/JakeFAU/topic-harvester/internal/digest"
	"github.com/JakeFAU/topic-harvester/internal/extract"
	collyfetcher "github.com/JakeFAU/topic-harvester/internal/fetcher/colly"
	"github.com/JakeFAU/topic-harvester/internal/harvest"
	"github.com/JakeFAU/topic-harvester/internal/hash/sha256"
	"github.com/JakeFAU/topic-harvester/internal/id/uuid"
	"github.com/JakeFAU/topic-harvester/internal/metrics"
	"github.com/JakeFAU/topic-harvester/internal/notify"
	"github.com/JakeFAU/topic-harvester/internal/politeness"
	"github.com/JakeFAU/topic-harvester/internal/resolver"
	"github.com/JakeFAU/topic-harvester/internal/sink"
	"github.com/JakeFAU/topic-harvester/internal/storage"
	"github.com/JakeFAU/topic-harvester/internal/storage/local"
	"github.com/JakeFAU/topic-harvester/internal/storage/memory"
	"github.com/JakeFAU/topic-harvester/internal/storage/postgres"
)

// Process exit codes.
const (
	ExitOK      = 0
	ExitFatal   = 1
	ExitPartial = 2
	ExitNoData  = 3
)

// RecordExporter receives the collected records after the files are written.
type RecordExporter interface {
	StoreRecords(ctx context.Context, runID string, records []harvest.Record) error
}

// App holds the long-lived services of one harvester invocation.
type App struct {
	cfg       config.Config
	logger    *zap.Logger
	clock     harvest.Clock
	ids       harvest.IDGenerator
	fetcher   harvest.Fetcher
	mirror    storage.Provider
	exporter  RecordExporter
	publisher notify.Publisher
	out       io.Writer
	closers   []func()
}

// Option overrides a service that New would otherwise build from config.
type Option func(*App)

// WithFetcher replaces the Colly fetcher.
func WithFetcher(f harvest.Fetcher) Option { return func(a *App) { a.fetcher = f } }

// WithClock replaces the system clock.
func WithClock(c harvest.Clock) Option { return func(a *App) { a.clock = c } }

// WithIDs replaces the UUIDv7 run id generator.
func WithIDs(g harvest.IDGenerator) Option { return func(a *App) { a.ids = g } }

// WithMirror replaces the configured storage backend.
func WithMirror(p storage.Provider) Option { return func(a *App) { a.mirror = p } }

// WithExporter replaces the Postgres record export.
func WithExporter(e RecordExporter) Option { return func(a *App) { a.exporter = e } }

// WithPublisher replaces the Pub/Sub notifier.
func WithPublisher(p notify.Publisher) Option { return func(a *App) { a.publisher = p } }

// WithOutput sets where the digest is echoed at the end of a run.
func WithOutput(w io.Writer) Option { return func(a *App) { a.out = w } }

// New builds the App. Services not supplied through options are created from
// cfg; optional integrations stay disabled when their config is empty.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger, opts ...Option) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{cfg: cfg, logger: logger, out: io.Discard}
	for _, opt := range opts {
		opt(a)
	}
	if a.clock == nil {
		a.clock = system.New()
	}
	if a.ids == nil {
		a.ids = uuid.New()
	}
	if a.fetcher == nil {
		a.fetcher = collyfetcher.New(collyfetcher.Config{
			UserAgent:     cfg.Provider.UserAgent,
			RespectRobots: cfg.Provider.RespectRobots,
			Timeout:       cfg.Provider.Timeout,
		})
	}

	if a.mirror == nil {
		mirror, err := a.newMirror(ctx)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.mirror = mirror
	}

	if a.exporter == nil && cfg.DB.DSN != "" {
		logger.Info("connecting to postgres", zap.String("table", cfg.DB.Table))
		store, err := postgres.NewRecordStore(ctx, postgres.RecordStoreConfig{
			DSN:             cfg.DB.DSN,
			Table:           cfg.DB.Table,
			MaxConns:        cfg.DB.MaxConns,
			MinConns:        cfg.DB.MinConns,
			MaxConnLifetime: cfg.DB.MaxConnLifetime,
		}, sha256.New())
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("init record store: %w", err)
		}
		a.closers = append(a.closers, store.Close)
		if err := store.EnsureSchema(ctx); err != nil {
			a.Close()
			return nil, fmt.Errorf("ensure record schema: %w", err)
		}
		a.exporter = store
	}

	if a.publisher == nil {
		if cfg.PubSub.ProjectID != "" {
			logger.Info("connecting to pubsub", zap.String("topic", cfg.PubSub.TopicName))
			ps, err := notify.NewPubSub(ctx, cfg.PubSub.ProjectID, cfg.PubSub.TopicName)
			if err != nil {
				a.Close()
				return nil, fmt.Errorf("init publisher: %w", err)
			}
			a.publisher = ps
		} else {
			a.publisher = notify.Noop{}
		}
	}
	a.closers = append(a.closers, func() {
		if err := a.publisher.Close(); err != nil {
			logger.Warn("close publisher", zap.Error(err))
		}
	})

	return a, nil
}

func (a *App) newMirror(ctx context.Context) (storage.Provider, error) {
	switch strings.ToLower(a.cfg.Storage.Backend) {
	case "gcs":
		a.logger.Info("mirroring artifacts to GCS", zap.String("bucket", a.cfg.Storage.GCSBucket))
		p, err := storage.NewGCSProvider(ctx, a.cfg.Storage.GCSBucket, a.logger)
		if err != nil {
			return nil, fmt.Errorf("init gcs mirror: %w", err)
		}
		a.closers = append(a.closers, func() {
			if err := p.Close(); err != nil {
				a.logger.Warn("close gcs client", zap.Error(err))
			}
		})
		return p, nil
	case "local":
		a.logger.Info("mirroring artifacts locally", zap.String("dir", a.cfg.Storage.LocalDir))
		p, err := local.New(local.Config{BaseDir: a.cfg.Storage.LocalDir})
		if err != nil {
			return nil, fmt.Errorf("init local mirror: %w", err)
		}
		return p, nil
	case "memory":
		a.logger.Info("dry run: mirrored artifacts are kept in memory only")
		return memory.New(), nil
	default:
		return &storage.NoOpProvider{}, nil
	}
}

// Close releases every service opened by New in reverse order.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

// Outcome describes a finished invocation.
type Outcome struct {
	Result harvest.Result
	Report digest.Report
	Paths  []string
	Code   int
}

// Run executes the full harvest and writes its artifacts. The returned error
// is non-nil only for fatal conditions, in which case Code is ExitFatal.
func (a *App) Run(ctx context.Context) (Outcome, error) {
	set, err := a.cfg.LoadTopics()
	if err != nil {
		return Outcome{Code: ExitFatal}, fmt.Errorf("load topics: %w", err)
	}
	lead, err := extract.PolicyByName(a.cfg.Extract.LeadPolicy)
	if err != nil {
		return Outcome{Code: ExitFatal}, err
	}
	sched, err := politeness.New(politeness.Config{
		Mode:         a.cfg.Politeness.Mode,
		TopicDelay:   a.cfg.Politeness.TopicDelay,
		ArticleDelay: a.cfg.Politeness.ArticleDelay,
		Burst:        a.cfg.Politeness.Burst,
	}, a.clock)
	if err != nil {
		return Outcome{Code: ExitFatal}, fmt.Errorf("init scheduler: %w", err)
	}

	recorder := metrics.New()
	res := resolver.New(resolver.Config{
		BaseURL:          a.cfg.Provider.BaseURL,
		APIPath:          a.cfg.Provider.APIPath,
		Limit:            a.cfg.Provider.SearchLimit,
		FallbackMinToken: a.cfg.Provider.FallbackMinToken,
	}, harvest.ObservedFetcher{Fetcher: a.fetcher, Observer: recorder, Kind: "search"}, a.logger)
	ext := extract.New(extract.Config{
		Source:        a.cfg.Provider.Source,
		MinLength:     a.cfg.Extract.MinLength,
		MaxLength:     a.cfg.Extract.MaxLength,
		MaxFacts:      a.cfg.Extract.MaxFacts,
		MaxCategories: a.cfg.Extract.MaxCategories,
		MaxSections:   a.cfg.Extract.MaxSections,
		MaxYears:      a.cfg.Extract.MaxYears,
		Lead:          lead,
	}, a.clock)

	pipeline := harvest.NewPipeline(
		res,
		harvest.ObservedFetcher{Fetcher: a.fetcher, Observer: recorder, Kind: "article"},
		ext,
		sched,
		a.clock,
		a.ids,
		recorder,
		harvest.PipelineConfig{
			BaseURL:       a.cfg.Provider.BaseURL,
			ArticlePath:   a.cfg.Provider.ArticlePath,
			ProgressEvery: a.cfg.Politeness.ProgressEvery,
		},
		a.logger,
	)

	result, err := pipeline.Run(ctx, set.Topics)
	if err != nil {
		return Outcome{Code: ExitFatal}, err
	}

	report := digest.NewCategorizer(set.Buckets).Summarize(result)
	out := Outcome{Result: result, Report: report}

	var extras []sink.Artifact
	if a.cfg.Metrics.Enabled {
		recorder.MarkFinished(result.Finished)
		extras = append(extras, sink.Artifact{Name: a.cfg.Metrics.FileName, Write: recorder.WriteTextfile})
	}
	s := sink.New(a.cfg.Output, a.mirror, a.logger)
	out.Paths, err = s.Persist(ctx, result, report, extras...)
	switch {
	case errors.Is(err, sink.ErrNoData):
		a.logger.Warn("no data collected; nothing written", zap.String("run_id", result.RunID))
		out.Code = ExitNoData
		return out, nil
	case err != nil:
		out.Code = ExitFatal
		return out, fmt.Errorf("persist artifacts: %w", err)
	}

	var digestText bytes.Buffer
	if err := digest.Render(&digestText, report, a.cfg.Output.Samples); err == nil {
		if _, err := a.out.Write(digestText.Bytes()); err != nil {
			a.logger.Warn("echo digest", zap.Error(err))
		}
	}

	if a.exporter != nil {
		if err := a.exporter.StoreRecords(ctx, result.RunID, result.Records); err != nil {
			out.Code = ExitFatal
			return out, fmt.Errorf("export records: %w", err)
		}
		a.logger.Info("records exported", zap.Int("records", len(result.Records)))
	}

	if msgID, err := a.publisher.Publish(ctx, result.RunID, notification(result, report, out.Paths)); err != nil {
		a.logger.Warn("publish run notification", zap.Error(err))
	} else if msgID != "" {
		a.logger.Info("run notification published", zap.String("message_id", msgID))
	}

	out.Code = ExitOK
	if len(result.Failures) > 0 {
		out.Code = ExitPartial
	}
	return out, nil
}

// Notification is the run-completion message body.
type Notification struct {
	RunID      string         `json:"run_id"`
	Records    int            `json:"records"`
	Failures   int            `json:"failures"`
	Categories map[string]int `json:"categories"`
	Artifacts  []string       `json:"artifacts"`
}

func notification(result harvest.Result, report digest.Report, paths []string) Notification {
	return Notification{
		RunID:      result.RunID,
		Records:    len(result.Records),
		Failures:   len(result.Failures),
		Categories: report.Counts(),
		Artifacts:  paths,
	}
}
