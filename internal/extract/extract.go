// Package extract turns encyclopedia article markup into harvest records.
package extract

import (
	"bytes"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/topic-harvester/internal/harvest"
)

var (
	citationPattern = regexp.MustCompile(`\[\d+\]`)
	yearPattern     = regexp.MustCompile(`\b(1[0-9]{3}|20[0-2][0-9])\b`)
)

// Config holds the extraction limits.
type Config struct {
	Source        string
	MinLength     int
	MaxLength     int
	MaxFacts      int
	MaxCategories int
	MaxSections   int
	MaxYears      int
	Lead          LeadPolicy
}

// DefaultConfig returns the canonical extraction limits.
func DefaultConfig() Config {
	return Config{
		Source:        "Wikipedia",
		MinLength:     150,
		MaxLength:     2500,
		MaxFacts:      8,
		MaxCategories: 8,
		MaxSections:   8,
		MaxYears:      10,
		Lead:          HeadingBounded{MinBlocks: 3, MaxBlocks: 5},
	}
}

// Extractor implements harvest.Extractor with goquery selectors for
// MediaWiki article markup.
type Extractor struct {
	cfg   Config
	clock harvest.Clock
}

var _ harvest.Extractor = (*Extractor)(nil)

// New builds an Extractor. Zero limits fall back to DefaultConfig values.
func New(cfg Config, clock harvest.Clock) *Extractor {
	def := DefaultConfig()
	if cfg.Source == "" {
		cfg.Source = def.Source
	}
	if cfg.MinLength <= 0 {
		cfg.MinLength = def.MinLength
	}
	if cfg.MaxLength <= 0 {
		cfg.MaxLength = def.MaxLength
	}
	if cfg.MaxFacts <= 0 {
		cfg.MaxFacts = def.MaxFacts
	}
	if cfg.MaxCategories <= 0 {
		cfg.MaxCategories = def.MaxCategories
	}
	if cfg.MaxSections <= 0 {
		cfg.MaxSections = def.MaxSections
	}
	if cfg.MaxYears <= 0 {
		cfg.MaxYears = def.MaxYears
	}
	if cfg.Lead == nil {
		cfg.Lead = def.Lead
	}
	return &Extractor{cfg: cfg, clock: clock}
}

// Extract implements harvest.Extractor.
func (e *Extractor) Extract(doc harvest.Document, topic string) (*harvest.Record, error) {
	page, err := goquery.NewDocumentFromReader(bytes.NewReader(doc.Body))
	if err != nil {
		return nil, harvest.NewFailure(harvest.KindParse, topic, doc.Title, fmt.Errorf("parse markup: %w", err))
	}

	region := page.Find("#mw-content-text").First()
	if region.Length() == 0 {
		return nil, harvest.NewFailure(harvest.KindParse, topic, doc.Title, errors.New("content region missing"))
	}
	root := region.Find(".mw-parser-output").First()
	if root.Length() == 0 {
		root = region
	}

	text := Normalize(strings.Join(e.cfg.Lead.Lead(root), " "))
	length := utf8.RuneCountInString(text)
	if length < e.cfg.MinLength {
		return nil, harvest.NewFailure(harvest.KindRejected, topic, doc.Title,
			fmt.Errorf("lead has %d chars, need %d", length, e.cfg.MinLength))
	}

	title := strings.TrimSpace(doc.Title)
	if title == "" {
		title = strings.TrimSpace(page.Find("h1#firstHeading").First().Text())
	}

	return &harvest.Record{
		Source:        e.cfg.Source,
		URL:           doc.URL,
		Title:         title,
		Topic:         topic,
		Content:       Truncate(text, e.cfg.MaxLength),
		ContentLength: length,
		Categories:    e.categories(page),
		KeyFacts:      e.keyFacts(page),
		Sections:      e.sections(region),
		Years:         Years(text, e.cfg.MaxYears),
		ScrapedAt:     e.clock.Now(),
	}, nil
}

func (e *Extractor) keyFacts(page *goquery.Document) []harvest.KeyFact {
	var facts []harvest.KeyFact
	rows := page.Find("table.infobox").First().Find("tr")
	rows.Slice(0, min(e.cfg.MaxFacts, rows.Length())).Each(func(_ int, row *goquery.Selection) {
		th := row.Find("th").First()
		td := row.Find("td").First()
		if th.Length() == 0 || td.Length() == 0 {
			return
		}
		label := Normalize(th.Text())
		value := Normalize(td.Text())
		if label != "" && value != "" {
			facts = append(facts, harvest.KeyFact{Label: label, Value: value})
		}
	})
	return facts
}

// categories skips the first link of the category bar, which points at the
// category index rather than a category.
func (e *Extractor) categories(page *goquery.Document) []string {
	var out []string
	page.Find("#mw-normal-catlinks a").Each(func(i int, s *goquery.Selection) {
		if i == 0 || len(out) >= e.cfg.MaxCategories {
			return
		}
		if name := strings.TrimSpace(s.Text()); name != "" {
			out = append(out, name)
		}
	})
	return out
}

func (e *Extractor) sections(region *goquery.Selection) []string {
	var out []string
	headings := region.Find("h2, h3")
	headings.Slice(0, min(e.cfg.MaxSections, headings.Length())).Each(func(_ int, h *goquery.Selection) {
		h = h.Clone()
		h.Find(".mw-editsection").Remove()
		text := Normalize(h.Text())
		if text == "" || strings.HasPrefix(text, "[") {
			return
		}
		out = append(out, text)
	})
	return out
}

// Normalize strips bracketed numeric citation markers, collapses whitespace
// runs to single spaces and trims the result.
func Normalize(s string) string {
	s = citationPattern.ReplaceAllString(s, "")
	return strings.Join(strings.Fields(s), " ")
}

// Truncate cuts s to at most limit characters. The cut is a plain prefix and
// may split a sentence or word.
func Truncate(s string, limit int) string {
	if limit <= 0 || utf8.RuneCountInString(s) <= limit {
		return s
	}
	return string([]rune(s)[:limit])
}

// Years returns distinct year-like tokens (1000 to 2029) in order of first
// appearance, capped at limit.
func Years(s string, limit int) []string {
	var out []string
	seen := make(map[string]struct{})
	for _, y := range yearPattern.FindAllString(s, -1) {
		if _, ok := seen[y]; ok {
			continue
		}
		seen[y] = struct{}{}
		out = append(out, y)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}
