// Package resolver turns free-text topics into candidate article identifiers
// using the provider's text-search endpoint.
package resolver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/JakeFAU/topic-harvester/internal/harvest"
)

// maxFallbackDepth bounds the relevance-rescue recursion to one derived search.
const maxFallbackDepth = 1

// Config controls search requests.
type Config struct {
	BaseURL string
	APIPath string
	// Limit caps the ranked result list requested from the provider.
	Limit int
	// FallbackMinToken is the minimum rune length for the longest token to be
	// preferred over the first token when deriving a fallback term.
	FallbackMinToken int
}

// Resolver implements harvest.CandidateResolver against a MediaWiki-style search API.
type Resolver struct {
	cfg     Config
	fetcher harvest.Fetcher
	logger  *zap.Logger
}

var _ harvest.CandidateResolver = (*Resolver)(nil)

// New builds a Resolver.
func New(cfg Config, fetcher harvest.Fetcher, logger *zap.Logger) *Resolver {
	if cfg.Limit <= 0 {
		cfg.Limit = 5
	}
	if cfg.FallbackMinToken <= 0 {
		cfg.FallbackMinToken = 5
	}
	if cfg.APIPath == "" {
		cfg.APIPath = "/w/api.php"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{cfg: cfg, fetcher: fetcher, logger: logger}
}

// Resolve returns the ranked candidates for topic. An empty ranked list
// triggers at most one fallback search on a derived term; the fallback is a
// best-effort relevance rescue and may still come back empty, in which case a
// KindNoResults failure is returned.
func (r *Resolver) Resolve(ctx context.Context, topic string) ([]harvest.Candidate, error) {
	return r.resolve(ctx, topic, topic, 0)
}

func (r *Resolver) resolve(ctx context.Context, topic, term string, depth int) ([]harvest.Candidate, error) {
	hits, err := r.search(ctx, topic, term)
	if err != nil {
		return nil, err
	}
	if len(hits) > 0 {
		r.logger.Debug("search hits", zap.String("topic", topic), zap.String("term", term), zap.Int("hits", len(hits)))
		return hits, nil
	}
	if depth >= maxFallbackDepth {
		return nil, harvest.NewFailure(harvest.KindNoResults, topic, term, nil)
	}
	next, ok := FallbackTerm(term, r.cfg.FallbackMinToken)
	if !ok {
		return nil, harvest.NewFailure(harvest.KindNoResults, topic, term, nil)
	}
	r.logger.Info("no results, trying broader search",
		zap.String("topic", topic),
		zap.String("fallback", next),
	)
	return r.resolve(ctx, topic, next, depth+1)
}

// FallbackTerm derives a narrower search term from a multi-token query: the
// longest token when it reaches minToken runes, otherwise the first token.
// Single-token queries have no fallback.
func FallbackTerm(term string, minToken int) (string, bool) {
	tokens := strings.Fields(term)
	if len(tokens) < 2 {
		return "", false
	}
	longest := tokens[0]
	for _, tok := range tokens[1:] {
		if utf8.RuneCountInString(tok) > utf8.RuneCountInString(longest) {
			longest = tok
		}
	}
	if utf8.RuneCountInString(longest) >= minToken {
		return longest, true
	}
	return tokens[0], true
}

// SearchURL builds the text-search request URL for term.
func (r *Resolver) SearchURL(term string) (string, error) {
	base, err := url.Parse(r.cfg.BaseURL)
	if err != nil {
		return "", fmt.Errorf("parse base url: %w", err)
	}
	base.Path = strings.TrimSuffix(base.Path, "/") + r.cfg.APIPath
	q := url.Values{}
	q.Set("action", "query")
	q.Set("format", "json")
	q.Set("list", "search")
	q.Set("srsearch", term)
	q.Set("srlimit", strconv.Itoa(r.cfg.Limit))
	q.Set("srprop", "snippet|size")
	base.RawQuery = q.Encode()
	return base.String(), nil
}

type searchResponse struct {
	Query *struct {
		Search []searchHit `json:"search"`
	} `json:"query"`
	Error *struct {
		Code string `json:"code"`
		Info string `json:"info"`
	} `json:"error"`
}

type searchHit struct {
	Title   string `json:"title"`
	Snippet string `json:"snippet"`
	Size    int    `json:"size"`
}

func (r *Resolver) search(ctx context.Context, topic, term string) ([]harvest.Candidate, error) {
	searchURL, err := r.SearchURL(term)
	if err != nil {
		return nil, harvest.NewFailure(harvest.KindTransport, topic, term, err)
	}
	doc, err := r.fetcher.Fetch(ctx, searchURL)
	if err != nil {
		if harvest.KindOf(err) != "" {
			return nil, err
		}
		return nil, harvest.NewFailure(harvest.KindTransport, topic, term, err)
	}

	var resp searchResponse
	if err := json.Unmarshal(doc.Body, &resp); err != nil {
		return nil, harvest.NewFailure(harvest.KindParse, topic, term, fmt.Errorf("decode search response: %w", err))
	}
	if resp.Error != nil {
		return nil, harvest.NewFailure(harvest.KindParse, topic, term,
			fmt.Errorf("search api error %s: %s", resp.Error.Code, resp.Error.Info))
	}
	if resp.Query == nil {
		return nil, harvest.NewFailure(harvest.KindParse, topic, term, errors.New("search response missing query"))
	}

	out := make([]harvest.Candidate, 0, len(resp.Query.Search))
	for _, hit := range resp.Query.Search {
		title := strings.TrimSpace(hit.Title)
		if title == "" {
			continue
		}
		out = append(out, harvest.Candidate{
			Title:   title,
			Topic:   topic,
			Snippet: plainSnippet(hit.Snippet),
			Size:    hit.Size,
		})
		if len(out) == r.cfg.Limit {
			break
		}
	}
	return out, nil
}

// plainSnippet strips the provider's match-highlighting markup.
func plainSnippet(snippet string) string {
	if snippet == "" {
		return ""
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(snippet))
	if err != nil {
		return snippet
	}
	return strings.Join(strings.Fields(doc.Text()), " ")
}
