package app

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/topic-harvester/internal/config"
	collyfetcher "github.com/JakeFAU/topic-harvester/internal/fetcher/colly"
	"github.com/JakeFAU/topic-harvester/internal/harvest"
	"github.com/JakeFAU/topic-harvester/internal/storage/memory"
)

const lead = "is a subject with a long and well documented history that spans several centuries, " +
	"many regions and a great number of notable people whose work shaped it in 1804 and later."

func articleHTML(title string) string {
	return fmt.Sprintf(`<html><body><h1 id="firstHeading">%[1]s</h1>
<div id="mw-content-text"><div class="mw-parser-output">
<p>%[1]s %[2]s</p>
<h2>History</h2><p>Body text.</p>
</div></div>
<div id="mw-normal-catlinks"><a>Categories</a><a>%[1]s topics</a></div>
</body></html>`, title, lead)
}

// newProvider serves search results for every topic in hits and an article
// for every title that appears in hits.
func newProvider(t *testing.T, hits map[string][]string) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/w/api.php", func(w http.ResponseWriter, r *http.Request) {
		titles := hits[r.URL.Query().Get("srsearch")]
		parts := make([]string, 0, len(titles))
		for _, title := range titles {
			parts = append(parts, fmt.Sprintf(`{"title":%q,"snippet":"","size":1000}`, title))
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"query":{"search":[%s]}}`, strings.Join(parts, ","))
	})
	mux.HandleFunc("/wiki/", func(w http.ResponseWriter, r *http.Request) {
		title := strings.ReplaceAll(strings.TrimPrefix(r.URL.Path, "/wiki/"), "_", " ")
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprint(w, articleHTML(title))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func testConfig(t *testing.T, baseURL string, topics ...string) config.Config {
	t.Helper()
	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.Provider.BaseURL = baseURL
	cfg.Provider.Timeout = 5 * time.Second
	cfg.Politeness.TopicDelay = 0
	cfg.Politeness.ArticleDelay = 0
	cfg.Output.Dir = filepath.Join(t.TempDir(), "out")
	cfg.Harvest.Topics = topics
	return cfg
}

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

type staticIDs string

func (s staticIDs) NewID() (string, error) { return string(s), nil }

type captureExporter struct {
	runID   string
	records []harvest.Record
	err     error
}

func (c *captureExporter) StoreRecords(_ context.Context, runID string, records []harvest.Record) error {
	c.runID = runID
	c.records = records
	return c.err
}

type capturePublisher struct {
	mu       sync.Mutex
	payloads []any
	closed   bool
}

func (p *capturePublisher) Publish(_ context.Context, _ string, payload any) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.payloads = append(p.payloads, payload)
	return "msg-1", nil
}

func (p *capturePublisher) Close() error {
	p.closed = true
	return nil
}

// countingFetcher records every URL handed to the wrapped Fetcher.
type countingFetcher struct {
	harvest.Fetcher
	mu   sync.Mutex
	urls map[string]int
}

func (c *countingFetcher) Fetch(ctx context.Context, url string) (harvest.Document, error) {
	c.mu.Lock()
	c.urls[url]++
	c.mu.Unlock()
	return c.Fetcher.Fetch(ctx, url)
}

func newTestApp(t *testing.T, cfg config.Config, opts ...Option) *App {
	t.Helper()
	base := []Option{
		WithClock(fixedClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}),
		WithIDs(staticIDs("run-1")),
	}
	a, err := New(context.Background(), cfg, nil, append(base, opts...)...)
	require.NoError(t, err)
	t.Cleanup(a.Close)
	return a
}

func TestRunFullSuccess(t *testing.T) {
	t.Parallel()

	srv := newProvider(t, map[string][]string{
		"Jazz":  {"Jazz", "Blues"},
		"Blues": {"Blues"},
		"Haiti": {"Haiti"},
	})
	cfg := testConfig(t, srv.URL, "Jazz", "Blues", "Haiti")

	mirror := memory.New()
	exporter := &captureExporter{}
	publisher := &capturePublisher{}
	var echoed bytes.Buffer
	a := newTestApp(t, cfg, WithMirror(mirror), WithExporter(exporter), WithPublisher(publisher), WithOutput(&echoed))

	out, err := a.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, ExitOK, out.Code)
	assert.Len(t, out.Result.Records, 3)
	assert.Equal(t, 1, out.Result.Duplicates, "Blues is collected once")
	assert.Empty(t, out.Result.Failures)

	require.Len(t, out.Paths, 4)
	csvData, err := os.ReadFile(filepath.Join(cfg.Output.Dir, "complete_blackinfo.csv"))
	require.NoError(t, err)
	rows, err := csv.NewReader(bytes.NewReader(bytes.TrimPrefix(csvData, []byte("\ufeff")))).ReadAll()
	require.NoError(t, err)
	assert.Len(t, rows, 4)
	assert.Equal(t, out.Report.Total(), len(rows)-1)
	assert.Equal(t, "Haiti", rows[1][3])
	assert.Equal(t, srv.URL+"/wiki/Haiti", rows[1][1])
	assert.Equal(t, []string{"Jazz", "Jazz"}, []string{rows[2][3], rows[3][3]}, "Blues was found under Jazz first")

	metricsData, err := os.ReadFile(filepath.Join(cfg.Output.Dir, "harvest_metrics.prom"))
	require.NoError(t, err)
	assert.Contains(t, string(metricsData), "harvester_records_total 3")
	assert.Contains(t, string(metricsData), `harvester_fetches_total{kind="search",outcome="ok"} 3`)

	assert.Len(t, mirror.Names(), 4)
	assert.Equal(t, "run-1", exporter.runID)
	assert.Len(t, exporter.records, 3)
	require.Len(t, publisher.payloads, 1)
	note, ok := publisher.payloads[0].(Notification)
	require.True(t, ok)
	assert.Equal(t, 3, note.Records)
	assert.Equal(t, 2, note.Categories["Music & Musicians"])
	assert.Contains(t, echoed.String(), "Total records: 3")
}

func TestRunRepeatedTopicIsDeduplicated(t *testing.T) {
	t.Parallel()

	srv := newProvider(t, map[string][]string{
		"Jazz":  {"Jazz"},
		"Haiti": {"Haiti"},
	})
	cfg := testConfig(t, srv.URL, "Jazz", "Haiti", "Jazz")
	cfg.Metrics.Enabled = false
	fetcher := &countingFetcher{Fetcher: collyfetcher.New(collyfetcher.Config{Timeout: 5 * time.Second}), urls: map[string]int{}}
	a := newTestApp(t, cfg, WithFetcher(fetcher), WithMirror(memory.New()))

	out, err := a.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, ExitOK, out.Code)
	assert.Equal(t, []string{"Jazz", "Haiti", "Jazz"}, out.Result.Topics)
	assert.Equal(t, 3, out.Report.Topics)
	assert.Len(t, out.Result.Records, 2)
	assert.Equal(t, 1, out.Result.Duplicates, "second Jazz pass stops at the deduplicator")
	assert.Equal(t, 1, fetcher.urls[srv.URL+"/wiki/Jazz"], "article fetched once")
}

func TestRunRepeatedNoResultTopicFailsEachTime(t *testing.T) {
	t.Parallel()

	srv := newProvider(t, map[string][]string{"Jazz": {"Jazz"}})
	cfg := testConfig(t, srv.URL, "Jazz", "Zzqx", "Zzqx")
	cfg.Metrics.Enabled = false
	a := newTestApp(t, cfg, WithMirror(memory.New()))

	out, err := a.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, ExitPartial, out.Code)
	assert.Len(t, out.Result.Failures, 2)
}

func TestRunPartialFailure(t *testing.T) {
	t.Parallel()

	srv := newProvider(t, map[string][]string{"Jazz": {"Jazz"}})
	cfg := testConfig(t, srv.URL, "Jazz", "Zzqx")
	cfg.Metrics.Enabled = false
	a := newTestApp(t, cfg, WithMirror(memory.New()))

	out, err := a.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, ExitPartial, out.Code)
	require.Len(t, out.Result.Failures, 1)
	assert.Equal(t, harvest.KindNoResults, out.Result.Failures[0].Kind)
	assert.Len(t, out.Paths, 3)
}

func TestRunNoData(t *testing.T) {
	t.Parallel()

	srv := newProvider(t, nil)
	cfg := testConfig(t, srv.URL, "Zzqx")
	publisher := &capturePublisher{}
	a := newTestApp(t, cfg, WithPublisher(publisher))

	out, err := a.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, ExitNoData, out.Code)
	assert.Empty(t, out.Paths)
	_, statErr := os.Stat(cfg.Output.Dir)
	assert.True(t, os.IsNotExist(statErr))
	assert.Empty(t, publisher.payloads)
}

func TestRunCanceledWritesNothing(t *testing.T) {
	t.Parallel()

	srv := newProvider(t, map[string][]string{"Jazz": {"Jazz"}})
	cfg := testConfig(t, srv.URL, "Jazz")
	a := newTestApp(t, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	out, err := a.Run(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, ExitFatal, out.Code)
	_, statErr := os.Stat(cfg.Output.Dir)
	assert.True(t, os.IsNotExist(statErr))
}

func TestRunExportFailureIsFatal(t *testing.T) {
	t.Parallel()

	srv := newProvider(t, map[string][]string{"Jazz": {"Jazz"}})
	cfg := testConfig(t, srv.URL, "Jazz")
	a := newTestApp(t, cfg, WithExporter(&captureExporter{err: errors.New("connection refused")}))

	out, err := a.Run(context.Background())
	require.Error(t, err)
	assert.Equal(t, ExitFatal, out.Code)
	assert.NotEmpty(t, out.Paths, "files are written before export")
}

func TestNewMemoryMirror(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t, "https://en.wikipedia.org", "Jazz")
	cfg.Storage.Backend = "memory"
	require.NoError(t, cfg.Validate())

	a := newTestApp(t, cfg)
	assert.IsType(t, &memory.Store{}, a.mirror)
}

func TestNewLocalMirrorAndClose(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t, "https://en.wikipedia.org", "Jazz")
	cfg.Storage.Backend = "local"
	cfg.Storage.LocalDir = filepath.Join(t.TempDir(), "mirror")
	publisher := &capturePublisher{}

	a, err := New(context.Background(), cfg, nil, WithPublisher(publisher))
	require.NoError(t, err)
	assert.NotNil(t, a.mirror)
	_, statErr := os.Stat(cfg.Storage.LocalDir)
	require.NoError(t, statErr)

	a.Close()
	assert.True(t, publisher.closed)
}
