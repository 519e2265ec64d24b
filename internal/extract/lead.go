package extract

import (
	"fmt"
	"slices"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// LeadPolicy decides which text blocks of the content root form an article's lead.
type LeadPolicy interface {
	Name() string
	Lead(root *goquery.Selection) []string
}

// Lead policy names accepted by PolicyByName.
const (
	PolicyHeading    = "heading"
	PolicyParagraphs = "paragraphs"
)

// PolicyByName returns the named lead policy with its default parameters.
func PolicyByName(name string) (LeadPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", PolicyHeading:
		return HeadingBounded{MinBlocks: 3, MaxBlocks: 5}, nil
	case PolicyParagraphs:
		return FirstParagraphs{Count: 5}, nil
	default:
		return nil, fmt.Errorf("unknown lead policy %q", name)
	}
}

// HeadingBounded collects top-level paragraphs until the first subheading.
// Leads shorter than MinBlocks are backfilled from the first MaxBlocks
// paragraphs of the article; the result never exceeds MaxBlocks blocks.
type HeadingBounded struct {
	MinBlocks int
	MaxBlocks int
}

// Name implements LeadPolicy.
func (HeadingBounded) Name() string { return PolicyHeading }

// Lead implements LeadPolicy.
func (h HeadingBounded) Lead(root *goquery.Selection) []string {
	var blocks []string
	root.Children().EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if isSubheading(s) {
			return false
		}
		if goquery.NodeName(s) == "p" {
			if text := strings.TrimSpace(s.Text()); text != "" {
				blocks = append(blocks, text)
			}
		}
		return true
	})

	if len(blocks) < h.MinBlocks {
		paragraphs := root.Find("p")
		limit := paragraphs.Length()
		if h.MaxBlocks > 0 && h.MaxBlocks < limit {
			limit = h.MaxBlocks
		}
		paragraphs.Slice(0, limit).Each(func(_ int, s *goquery.Selection) {
			text := strings.TrimSpace(s.Text())
			if text != "" && !slices.Contains(blocks, text) {
				blocks = append(blocks, text)
			}
		})
	}
	if h.MaxBlocks > 0 && len(blocks) > h.MaxBlocks {
		blocks = blocks[:h.MaxBlocks]
	}
	return blocks
}

// FirstParagraphs takes the first Count non-empty paragraphs regardless of headings.
type FirstParagraphs struct {
	Count int
}

// Name implements LeadPolicy.
func (FirstParagraphs) Name() string { return PolicyParagraphs }

// Lead implements LeadPolicy.
func (f FirstParagraphs) Lead(root *goquery.Selection) []string {
	var blocks []string
	root.Find("p").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if text := strings.TrimSpace(s.Text()); text != "" {
			blocks = append(blocks, text)
		}
		return f.Count <= 0 || len(blocks) < f.Count
	})
	return blocks
}

func isSubheading(s *goquery.Selection) bool {
	switch goquery.NodeName(s) {
	case "h2", "h3", "h4", "h5", "h6":
		return true
	case "div":
		return s.HasClass("mw-heading")
	}
	return false
}
