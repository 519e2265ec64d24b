// Package sink writes the end-of-run artifacts: the record CSV, the text
// digest, a JSON run report and any extra files such as the metrics textfile.
// Every artifact is written locally first and then mirrored to a
// storage.Provider under <prefix>/<run id>/<name>.
package sink

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/topic-harvester/internal/digest"
	"github.com/JakeFAU/topic-harvester/internal/harvest"
	"github.com/JakeFAU/topic-harvester/internal/storage"
)

// ErrNoData is returned by Persist when the run collected no records.
var ErrNoData = errors.New("no records collected")

// Columns is the CSV header in output order.
var Columns = []string{
	"source", "url", "title", "search_term", "content", "categories",
	"key_dates", "sections", "infobox", "content_length", "date_scraped",
}

const (
	utf8BOM         = "\ufeff"
	timestampLayout = "2006-01-02 15:04:05"
)

// Config controls artifact names and formatting.
type Config struct {
	Dir          string `mapstructure:"dir"`
	CSVName      string `mapstructure:"csv_name"`
	DigestName   string `mapstructure:"digest_name"`
	ReportName   string `mapstructure:"report_name"`
	MirrorPrefix string `mapstructure:"mirror_prefix"`
	// Delimiter joins multi-value columns.
	Delimiter  string `mapstructure:"delimiter"`
	InfoboxMax int    `mapstructure:"infobox_max"`
	Samples    int    `mapstructure:"samples"`
}

// DefaultConfig returns the standard artifact layout.
func DefaultConfig() Config {
	return Config{
		Dir:          "data/harvest",
		CSVName:      "complete_blackinfo.csv",
		DigestName:   "scraping_summary.txt",
		ReportName:   "harvest_report.json",
		MirrorPrefix: "harvest",
		Delimiter:    " | ",
		InfoboxMax:   500,
		Samples:      5,
	}
}

// Artifact is an extra file produced by a callback, written after the core
// artifacts.
type Artifact struct {
	Name  string
	Write func(path string) error
}

// Sink persists a finished run.
type Sink struct {
	cfg    Config
	mirror storage.Provider
	logger *zap.Logger
}

// New builds a Sink. Empty config fields take their defaults and a nil mirror
// discards uploads.
func New(cfg Config, mirror storage.Provider, logger *zap.Logger) *Sink {
	def := DefaultConfig()
	if cfg.Dir == "" {
		cfg.Dir = def.Dir
	}
	if cfg.CSVName == "" {
		cfg.CSVName = def.CSVName
	}
	if cfg.DigestName == "" {
		cfg.DigestName = def.DigestName
	}
	if cfg.ReportName == "" {
		cfg.ReportName = def.ReportName
	}
	if cfg.Delimiter == "" {
		cfg.Delimiter = def.Delimiter
	}
	if cfg.InfoboxMax <= 0 {
		cfg.InfoboxMax = def.InfoboxMax
	}
	if cfg.Samples <= 0 {
		cfg.Samples = def.Samples
	}
	if mirror == nil {
		mirror = &storage.NoOpProvider{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sink{cfg: cfg, mirror: mirror, logger: logger}
}

// Persist writes every artifact for result and returns the local paths in
// write order. A run with no records writes nothing and returns ErrNoData.
func (s *Sink) Persist(ctx context.Context, result harvest.Result, report digest.Report, extras ...Artifact) ([]string, error) {
	if len(result.Records) == 0 {
		return nil, ErrNoData
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("context canceled: %w", err)
	}
	if err := os.MkdirAll(s.cfg.Dir, 0o750); err != nil {
		return nil, fmt.Errorf("create output dir %s: %w", s.cfg.Dir, err)
	}

	csvData, err := s.EncodeCSV(result.Records)
	if err != nil {
		return nil, err
	}
	var digestBuf bytes.Buffer
	if err := digest.Render(&digestBuf, report, s.cfg.Samples); err != nil {
		return nil, fmt.Errorf("render digest: %w", err)
	}
	reportData, err := EncodeReport(result, report)
	if err != nil {
		return nil, err
	}

	files := []struct {
		name string
		data []byte
	}{
		{s.cfg.CSVName, csvData},
		{s.cfg.DigestName, digestBuf.Bytes()},
		{s.cfg.ReportName, reportData},
	}

	paths := make([]string, 0, len(files)+len(extras))
	for _, f := range files {
		target := filepath.Join(s.cfg.Dir, f.name)
		if err := os.WriteFile(target, f.data, 0o600); err != nil {
			return paths, fmt.Errorf("write %s: %w", target, err)
		}
		paths = append(paths, target)
		s.mirrorObject(ctx, result.RunID, f.name, f.data)
	}

	for _, extra := range extras {
		target := filepath.Join(s.cfg.Dir, extra.Name)
		if err := extra.Write(target); err != nil {
			return paths, fmt.Errorf("write %s: %w", target, err)
		}
		paths = append(paths, target)
		// #nosec G304 -- target is built from the configured output directory.
		data, err := os.ReadFile(target)
		if err != nil {
			return paths, fmt.Errorf("read back %s: %w", target, err)
		}
		s.mirrorObject(ctx, result.RunID, extra.Name, data)
	}

	s.logger.Info("artifacts written",
		zap.String("dir", s.cfg.Dir),
		zap.Int("records", len(result.Records)),
		zap.Strings("files", paths),
	)
	return paths, nil
}

// mirrorObject uploads data. Mirror failures are logged; the local copy is
// authoritative.
func (s *Sink) mirrorObject(ctx context.Context, runID, name string, data []byte) {
	object := path.Join(s.cfg.MirrorPrefix, runID, name)
	if err := s.mirror.Save(ctx, object, data); err != nil {
		s.logger.Warn("mirror upload failed", zap.String("object", object), zap.Error(err))
	}
}

// EncodeCSV renders records as UTF-8 CSV with a byte-order mark, sorted
// stably by search term.
func (s *Sink) EncodeCSV(records []harvest.Record) ([]byte, error) {
	sorted := slices.Clone(records)
	slices.SortStableFunc(sorted, func(a, b harvest.Record) int {
		return strings.Compare(a.Topic, b.Topic)
	})

	var buf bytes.Buffer
	buf.WriteString(utf8BOM)
	w := csv.NewWriter(&buf)
	if err := w.Write(Columns); err != nil {
		return nil, fmt.Errorf("write csv header: %w", err)
	}
	for _, rec := range sorted {
		if err := w.Write(s.row(rec)); err != nil {
			return nil, fmt.Errorf("write csv row %q: %w", rec.Title, err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("flush csv: %w", err)
	}
	return buf.Bytes(), nil
}

func (s *Sink) row(rec harvest.Record) []string {
	return []string{
		rec.Source,
		rec.URL,
		rec.Title,
		rec.Topic,
		rec.Content,
		strings.Join(rec.Categories, s.cfg.Delimiter),
		strings.Join(rec.Years, s.cfg.Delimiter),
		strings.Join(rec.Sections, s.cfg.Delimiter),
		s.infobox(rec.KeyFacts),
		strconv.Itoa(rec.ContentLength),
		rec.ScrapedAt.Format(timestampLayout),
	}
}

func (s *Sink) infobox(facts []harvest.KeyFact) string {
	parts := make([]string, 0, len(facts))
	for _, f := range facts {
		parts = append(parts, f.Label+": "+f.Value)
	}
	out := strings.Join(parts, s.cfg.Delimiter)
	if r := []rune(out); len(r) > s.cfg.InfoboxMax {
		out = string(r[:s.cfg.InfoboxMax])
	}
	return out
}

// RunReport is the machine-readable summary written as JSON.
type RunReport struct {
	RunID          string          `json:"run_id"`
	StartedAt      time.Time       `json:"started_at"`
	FinishedAt     time.Time       `json:"finished_at"`
	ElapsedSeconds float64         `json:"elapsed_seconds"`
	Topics         int             `json:"topics"`
	Records        int             `json:"records"`
	Skipped        int             `json:"skipped"`
	Duplicates     int             `json:"duplicates"`
	Categories     []CategoryCount `json:"categories"`
	Failures       []FailureEntry  `json:"failures"`
}

// CategoryCount is one digest bucket in the run report.
type CategoryCount struct {
	Name    string `json:"name"`
	Records int    `json:"records"`
}

// FailureEntry is one failed query in the run report.
type FailureEntry struct {
	Topic  string `json:"topic"`
	Target string `json:"target"`
	Kind   string `json:"kind"`
	Reason string `json:"reason,omitempty"`
}

// EncodeReport renders the JSON run report.
func EncodeReport(result harvest.Result, report digest.Report) ([]byte, error) {
	rr := RunReport{
		RunID:          result.RunID,
		StartedAt:      result.StartedAt,
		FinishedAt:     result.Finished,
		ElapsedSeconds: result.Elapsed().Seconds(),
		Topics:         len(result.Topics),
		Records:        len(result.Records),
		Skipped:        result.Skipped,
		Duplicates:     result.Duplicates,
		Categories:     make([]CategoryCount, 0, len(report.Groups)),
		Failures:       make([]FailureEntry, 0, len(result.Failures)),
	}
	for _, g := range report.Groups {
		rr.Categories = append(rr.Categories, CategoryCount{Name: g.Name, Records: len(g.Records)})
	}
	for _, f := range result.Failures {
		rr.Failures = append(rr.Failures, FailureEntry{
			Topic:  f.Topic,
			Target: f.Target,
			Kind:   string(f.Kind),
			Reason: f.Reason,
		})
	}
	data, err := json.MarshalIndent(rr, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal run report: %w", err)
	}
	return append(data, '\n'), nil
}
