// Package config loads and validates harvester configuration via Viper.
package config

import (
	_ "embed"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/JakeFAU/topic-harvester/internal/digest"
	"github.com/JakeFAU/topic-harvester/internal/logging"
	"github.com/JakeFAU/topic-harvester/internal/sink"
)

//go:embed topics.yaml
var defaultTopicsYAML []byte

// Config captures all harvester configuration knobs loaded via Viper.
type Config struct {
	Logging    logging.Config   `mapstructure:"logging"`
	Harvest    HarvestConfig    `mapstructure:"harvest"`
	Provider   ProviderConfig   `mapstructure:"provider"`
	Extract    ExtractConfig    `mapstructure:"extract"`
	Politeness PolitenessConfig `mapstructure:"politeness"`
	Output     sink.Config      `mapstructure:"output"`
	Storage    StorageConfig    `mapstructure:"storage"`
	DB         DBConfig         `mapstructure:"db"`
	PubSub     PubSubConfig     `mapstructure:"pubsub"`
	Metrics    MetricsConfig    `mapstructure:"metrics"`
}

// HarvestConfig selects the topic list and category table.
type HarvestConfig struct {
	Topics     []string        `mapstructure:"topics"`
	TopicsFile string          `mapstructure:"topics_file"`
	Categories []digest.Bucket `mapstructure:"categories"`
}

// ProviderConfig describes the encyclopedia endpoints and request identity.
type ProviderConfig struct {
	Source           string        `mapstructure:"source"`
	BaseURL          string        `mapstructure:"base_url"`
	APIPath          string        `mapstructure:"api_path"`
	ArticlePath      string        `mapstructure:"article_path"`
	UserAgent        string        `mapstructure:"user_agent"`
	Timeout          time.Duration `mapstructure:"timeout"`
	RespectRobots    bool          `mapstructure:"respect_robots"`
	SearchLimit      int           `mapstructure:"search_limit"`
	FallbackMinToken int           `mapstructure:"fallback_min_token"`
}

// ExtractConfig governs lead detection and per-field caps.
type ExtractConfig struct {
	LeadPolicy    string `mapstructure:"lead_policy"`
	MinLength     int    `mapstructure:"min_length"`
	MaxLength     int    `mapstructure:"max_length"`
	MaxFacts      int    `mapstructure:"max_facts"`
	MaxCategories int    `mapstructure:"max_categories"`
	MaxSections   int    `mapstructure:"max_sections"`
	MaxYears      int    `mapstructure:"max_years"`
}

// PolitenessConfig controls request pacing and progress reporting.
type PolitenessConfig struct {
	Mode          string        `mapstructure:"mode"`
	TopicDelay    time.Duration `mapstructure:"topic_delay"`
	ArticleDelay  time.Duration `mapstructure:"article_delay"`
	Burst         int           `mapstructure:"burst"`
	ProgressEvery int           `mapstructure:"progress_every"`
}

// StorageConfig selects where artifacts are mirrored.
type StorageConfig struct {
	// Backend is one of "none", "memory", "local" or "gcs". "memory" is a
	// dry run that exercises the mirror path without leaving the process.
	Backend   string `mapstructure:"backend"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	LocalDir  string `mapstructure:"local_dir"`
}

// DBConfig controls the optional Postgres record export.
type DBConfig struct {
	DSN             string        `mapstructure:"dsn"`
	Table           string        `mapstructure:"table"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
}

// PubSubConfig holds metadata for the run-completion notification.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// MetricsConfig toggles the Prometheus textfile.
type MetricsConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	FileName string `mapstructure:"file_name"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("HARVESTER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	out := sink.DefaultConfig()
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "")
	v.SetDefault("harvest.topics", []string{})
	v.SetDefault("harvest.topics_file", "")
	v.SetDefault("harvest.categories", []digest.Bucket{})
	v.SetDefault("provider.source", "Wikipedia")
	v.SetDefault("provider.base_url", "https://en.wikipedia.org")
	v.SetDefault("provider.api_path", "/w/api.php")
	v.SetDefault("provider.article_path", "/wiki/")
	v.SetDefault("provider.user_agent", "topic-harvester/0.1 (+https://github.com/JakeFAU/topic-harvester)")
	v.SetDefault("provider.timeout", 15*time.Second)
	v.SetDefault("provider.respect_robots", false)
	v.SetDefault("provider.search_limit", 5)
	v.SetDefault("provider.fallback_min_token", 5)
	v.SetDefault("extract.lead_policy", "heading")
	v.SetDefault("extract.min_length", 150)
	v.SetDefault("extract.max_length", 2500)
	v.SetDefault("extract.max_facts", 8)
	v.SetDefault("extract.max_categories", 8)
	v.SetDefault("extract.max_sections", 8)
	v.SetDefault("extract.max_years", 10)
	v.SetDefault("politeness.mode", "fixed")
	v.SetDefault("politeness.topic_delay", 1500*time.Millisecond)
	v.SetDefault("politeness.article_delay", 500*time.Millisecond)
	v.SetDefault("politeness.burst", 1)
	v.SetDefault("politeness.progress_every", 20)
	v.SetDefault("output.dir", out.Dir)
	v.SetDefault("output.csv_name", out.CSVName)
	v.SetDefault("output.digest_name", out.DigestName)
	v.SetDefault("output.report_name", out.ReportName)
	v.SetDefault("output.mirror_prefix", out.MirrorPrefix)
	v.SetDefault("output.delimiter", out.Delimiter)
	v.SetDefault("output.infobox_max", out.InfoboxMax)
	v.SetDefault("output.samples", out.Samples)
	v.SetDefault("storage.backend", "none")
	v.SetDefault("storage.gcs_bucket", "")
	v.SetDefault("storage.local_dir", "")
	v.SetDefault("db.dsn", "")
	v.SetDefault("db.table", "harvest_records")
	v.SetDefault("db.max_conns", 4)
	v.SetDefault("db.min_conns", 0)
	v.SetDefault("db.max_conn_lifetime", time.Hour)
	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.topic_name", "")
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.file_name", "harvest_metrics.prom")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	base, err := url.Parse(c.Provider.BaseURL)
	if err != nil || !base.IsAbs() {
		return fmt.Errorf("provider.base_url must be an absolute URL")
	}
	if c.Provider.Timeout <= 0 {
		return fmt.Errorf("provider.timeout must be > 0")
	}
	if c.Provider.SearchLimit <= 0 {
		return fmt.Errorf("provider.search_limit must be > 0")
	}
	if c.Extract.MinLength <= 0 {
		return fmt.Errorf("extract.min_length must be > 0")
	}
	if c.Extract.MaxLength < c.Extract.MinLength {
		return fmt.Errorf("extract.max_length must be >= extract.min_length")
	}
	switch strings.ToLower(c.Extract.LeadPolicy) {
	case "", "heading", "paragraphs":
	default:
		return fmt.Errorf("extract.lead_policy must be heading or paragraphs, got %q", c.Extract.LeadPolicy)
	}
	switch strings.ToLower(c.Politeness.Mode) {
	case "", "fixed", "token_bucket":
	default:
		return fmt.Errorf("politeness.mode must be fixed or token_bucket, got %q", c.Politeness.Mode)
	}
	if c.Politeness.TopicDelay < 0 || c.Politeness.ArticleDelay < 0 {
		return fmt.Errorf("politeness delays must be >= 0")
	}
	if strings.TrimSpace(c.Output.Dir) == "" {
		return fmt.Errorf("output.dir is required")
	}
	switch strings.ToLower(c.Storage.Backend) {
	case "", "none", "memory":
	case "local":
		if c.Storage.LocalDir == "" {
			return fmt.Errorf("storage.local_dir must be set when storage.backend is local")
		}
	case "gcs":
		if c.Storage.GCSBucket == "" {
			return fmt.Errorf("storage.gcs_bucket must be set when storage.backend is gcs")
		}
	default:
		return fmt.Errorf("storage.backend must be none, memory, local or gcs, got %q", c.Storage.Backend)
	}
	if err := checkBuckets(c.Harvest.Categories); err != nil {
		return fmt.Errorf("harvest.categories: %w", err)
	}
	if (c.PubSub.ProjectID == "") != (c.PubSub.TopicName == "") {
		return fmt.Errorf("pubsub.project_id and pubsub.topic_name must be set together")
	}
	return nil
}

// TopicSet is the resolved run input: ordered topics plus the category table.
type TopicSet struct {
	Topics  []string        `yaml:"topics"`
	Buckets []digest.Bucket `yaml:"categories"`
}

// LoadTopics resolves the topic list from, in order of precedence, the topics
// file, the inline list, or the embedded default. Categories from the topics
// file win over harvest.categories; both fall back to digest.DefaultBuckets.
func (c Config) LoadTopics() (TopicSet, error) {
	var set TopicSet
	switch {
	case c.Harvest.TopicsFile != "":
		// #nosec G304 -- the topics file path is operator configuration.
		data, err := os.ReadFile(c.Harvest.TopicsFile)
		if err != nil {
			return TopicSet{}, fmt.Errorf("read topics file: %w", err)
		}
		if set, err = ParseTopics(data); err != nil {
			return TopicSet{}, fmt.Errorf("parse topics file %s: %w", c.Harvest.TopicsFile, err)
		}
	case len(c.Harvest.Topics) > 0:
		set.Topics = cleanTopics(c.Harvest.Topics)
	default:
		var err error
		if set, err = ParseTopics(defaultTopicsYAML); err != nil {
			return TopicSet{}, fmt.Errorf("parse embedded topics: %w", err)
		}
	}
	if len(set.Topics) == 0 {
		return TopicSet{}, fmt.Errorf("no topics configured")
	}
	if len(set.Buckets) == 0 {
		set.Buckets = c.Harvest.Categories
	}
	if len(set.Buckets) == 0 {
		set.Buckets = digest.DefaultBuckets()
	}
	if err := checkBuckets(set.Buckets); err != nil {
		return TopicSet{}, fmt.Errorf("categories: %w", err)
	}
	return set, nil
}

// checkBuckets rejects repeated bucket names; the digest groups by name.
func checkBuckets(buckets []digest.Bucket) error {
	seen := make(map[string]struct{}, len(buckets))
	for _, b := range buckets {
		name := strings.ToLower(strings.TrimSpace(b.Name))
		if name == "" {
			continue
		}
		if _, ok := seen[name]; ok {
			return fmt.Errorf("duplicate bucket name %q", b.Name)
		}
		seen[name] = struct{}{}
	}
	return nil
}

// ParseTopics decodes a topics document. Blank topics are dropped; repeated
// topics are kept and left to the run's deduplicator.
func ParseTopics(data []byte) (TopicSet, error) {
	var set TopicSet
	if err := yaml.Unmarshal(data, &set); err != nil {
		return TopicSet{}, fmt.Errorf("decode topics yaml: %w", err)
	}
	set.Topics = cleanTopics(set.Topics)
	return set, nil
}

func cleanTopics(in []string) []string {
	out := make([]string, 0, len(in))
	for _, t := range in {
		if t = strings.TrimSpace(t); t != "" {
			out = append(out, t)
		}
	}
	return out
}
