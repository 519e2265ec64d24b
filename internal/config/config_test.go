package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/topic-harvester/internal/digest"
)

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.True(t, cfg.Logging.Development)
	assert.Equal(t, "https://en.wikipedia.org", cfg.Provider.BaseURL)
	assert.Equal(t, 15*time.Second, cfg.Provider.Timeout)
	assert.False(t, cfg.Provider.RespectRobots)
	assert.Equal(t, 5, cfg.Provider.SearchLimit)
	assert.Equal(t, "heading", cfg.Extract.LeadPolicy)
	assert.Equal(t, 150, cfg.Extract.MinLength)
	assert.Equal(t, 2500, cfg.Extract.MaxLength)
	assert.Equal(t, 1500*time.Millisecond, cfg.Politeness.TopicDelay)
	assert.Equal(t, 500*time.Millisecond, cfg.Politeness.ArticleDelay)
	assert.Equal(t, 20, cfg.Politeness.ProgressEvery)
	assert.Equal(t, "data/harvest", cfg.Output.Dir)
	assert.Equal(t, "complete_blackinfo.csv", cfg.Output.CSVName)
	assert.Equal(t, "scraping_summary.txt", cfg.Output.DigestName)
	assert.Equal(t, " | ", cfg.Output.Delimiter)
	assert.Equal(t, "none", cfg.Storage.Backend)
	assert.True(t, cfg.Metrics.Enabled)
}

func TestLoadWithFileOverrides(t *testing.T) {
	path := writeFile(t, "config.yaml", `
logging:
  development: false
  level: warn
harvest:
  topics: ["Jazz", "  ", "Haiti", "Jazz"]
  categories:
    - name: Places
      keywords: [haiti]
provider:
  base_url: https://fr.wikipedia.org
  timeout: 30s
  respect_robots: true
  search_limit: 3
extract:
  lead_policy: paragraphs
  min_length: 200
  max_length: 1000
politeness:
  mode: token_bucket
  topic_delay: 2s
  article_delay: 250ms
  burst: 2
output:
  dir: /tmp/harvest
storage:
  backend: gcs
  gcs_bucket: artifacts
pubsub:
  project_id: proj
  topic_name: harvests
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.False(t, cfg.Logging.Development)
	assert.Equal(t, "warn", cfg.Logging.Level)
	assert.Equal(t, "https://fr.wikipedia.org", cfg.Provider.BaseURL)
	assert.Equal(t, 30*time.Second, cfg.Provider.Timeout)
	assert.True(t, cfg.Provider.RespectRobots)
	assert.Equal(t, "paragraphs", cfg.Extract.LeadPolicy)
	assert.Equal(t, 1000, cfg.Extract.MaxLength)
	assert.Equal(t, "token_bucket", cfg.Politeness.Mode)
	assert.Equal(t, 2*time.Second, cfg.Politeness.TopicDelay)
	assert.Equal(t, 250*time.Millisecond, cfg.Politeness.ArticleDelay)
	assert.Equal(t, "/tmp/harvest", cfg.Output.Dir)
	assert.Equal(t, "complete_blackinfo.csv", cfg.Output.CSVName, "unset keys keep defaults")
	assert.Equal(t, "artifacts", cfg.Storage.GCSBucket)

	set, err := cfg.LoadTopics()
	require.NoError(t, err)
	assert.Equal(t, []string{"Jazz", "Haiti", "Jazz"}, set.Topics, "blank topics dropped, repeats kept")
	assert.Equal(t, []digest.Bucket{{Name: "Places", Keywords: []string{"haiti"}}}, set.Buckets)
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("HARVESTER_OUTPUT_DIR", "/var/lib/harvest")
	t.Setenv("HARVESTER_EXTRACT_MIN_LENGTH", "100")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/harvest", cfg.Output.Dir)
	assert.Equal(t, 100, cfg.Extract.MinLength)
}

func TestLoadTopicsFromEnv(t *testing.T) {
	t.Setenv("HARVESTER_HARVEST_TOPICS", "Haiti,Jazz music")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, []string{"Haiti", "Jazz music"}, cfg.Harvest.Topics)

	set, err := cfg.LoadTopics()
	require.NoError(t, err)
	assert.Equal(t, []string{"Haiti", "Jazz music"}, set.Topics)
}

func TestParseTopicsKeepsRepeats(t *testing.T) {
	t.Parallel()

	set, err := ParseTopics([]byte("topics:\n  - Haiti\n  - Jazz\n  - \"  \"\n  - Haiti\n"))
	require.NoError(t, err)
	assert.Equal(t, []string{"Haiti", "Jazz", "Haiti"}, set.Topics)

	inline, err := Config{Harvest: HarvestConfig{Topics: []string{"Zzqx", "Zzqx"}}}.LoadTopics()
	require.NoError(t, err)
	assert.Equal(t, []string{"Zzqx", "Zzqx"}, inline.Topics)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	t.Parallel()

	base, err := Load("")
	require.NoError(t, err)

	cases := map[string]func(*Config){
		"relative base url": func(c *Config) { c.Provider.BaseURL = "wikipedia.org" },
		"zero timeout":      func(c *Config) { c.Provider.Timeout = 0 },
		"zero limit":        func(c *Config) { c.Provider.SearchLimit = 0 },
		"max below min":     func(c *Config) { c.Extract.MaxLength = 100 },
		"unknown lead":      func(c *Config) { c.Extract.LeadPolicy = "sentences" },
		"unknown mode":      func(c *Config) { c.Politeness.Mode = "adaptive" },
		"negative delay":    func(c *Config) { c.Politeness.TopicDelay = -time.Second },
		"empty output":      func(c *Config) { c.Output.Dir = " " },
		"gcs no bucket":     func(c *Config) { c.Storage.Backend = "gcs" },
		"local no dir":      func(c *Config) { c.Storage.Backend = "local" },
		"unknown backend":   func(c *Config) { c.Storage.Backend = "s3" },
		"half pubsub":       func(c *Config) { c.PubSub.ProjectID = "proj" },
		"repeated bucket": func(c *Config) {
			c.Harvest.Categories = []digest.Bucket{{Name: "Music"}, {Name: " music "}}
		},
	}
	for name, mutate := range cases {
		name, mutate := name, mutate
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			cfg := base
			mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestLoadTopicsEmbeddedDefault(t *testing.T) {
	t.Parallel()

	set, err := Config{}.LoadTopics()
	require.NoError(t, err)
	assert.Greater(t, len(set.Topics), 100)
	assert.Equal(t, "Black culture", set.Topics[0])
	assert.Contains(t, set.Topics, "Haitian Revolution")
	assert.Equal(t, digest.DefaultBuckets(), set.Buckets)
}

func TestLoadTopicsFile(t *testing.T) {
	t.Parallel()

	path := writeFile(t, "topics.yaml", `
topics:
  - Reggae
  - Kwanzaa
categories:
  - name: Music
    keywords: [reggae]
`)
	cfg := Config{Harvest: HarvestConfig{
		TopicsFile: path,
		Topics:     []string{"ignored"},
		Categories: []digest.Bucket{{Name: "Ignored", Keywords: []string{"x"}}},
	}}
	set, err := cfg.LoadTopics()
	require.NoError(t, err)
	assert.Equal(t, []string{"Reggae", "Kwanzaa"}, set.Topics)
	require.Len(t, set.Buckets, 1)
	assert.Equal(t, "Music", set.Buckets[0].Name)
}

func TestLoadTopicsErrors(t *testing.T) {
	t.Parallel()

	_, err := Config{Harvest: HarvestConfig{TopicsFile: filepath.Join(t.TempDir(), "missing.yaml")}}.LoadTopics()
	require.Error(t, err)

	bad := writeFile(t, "bad.yaml", "topics: {not: a list")
	_, err = Config{Harvest: HarvestConfig{TopicsFile: bad}}.LoadTopics()
	require.Error(t, err)

	dup := writeFile(t, "dup.yaml", "topics: [Jazz]\ncategories:\n  - name: Music\n    keywords: [jazz]\n  - name: Music\n    keywords: [blues]\n")
	_, err = Config{Harvest: HarvestConfig{TopicsFile: dup}}.LoadTopics()
	require.ErrorContains(t, err, "duplicate bucket name")

	empty := writeFile(t, "empty.yaml", "topics: []\n")
	_, err = Config{Harvest: HarvestConfig{TopicsFile: empty}}.LoadTopics()
	require.ErrorContains(t, err, "no topics")
}
