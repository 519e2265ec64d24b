// Package digest buckets harvested records into topical categories and renders
// the human-readable end-of-run summary.
package digest

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/JakeFAU/topic-harvester/internal/harvest"
)

// OtherBucket receives records matching no configured bucket.
const OtherBucket = "Other"

// Bucket is one named category and the keywords that select it.
type Bucket struct {
	Name     string   `mapstructure:"name" yaml:"name" json:"name"`
	Keywords []string `mapstructure:"keywords" yaml:"keywords" json:"keywords"`
}

// DefaultBuckets returns the built-in bucket table in priority order.
func DefaultBuckets() []Bucket {
	return []Bucket{
		{Name: "Historical Figures & Activists", Keywords: []string{"Mandela", "King", "Malcolm", "Parks", "Floyd", "Tubman", "Garvey"}},
		{Name: "Music & Musicians", Keywords: []string{"Bob Marley", "Jazz", "Hip hop", "Rap", "Blues", "Akon", "Reggae", "Gospel", "Music"}},
		{Name: "Countries & Regions", Keywords: []string{"Haiti", "Jamaica", "Caribbean", "Nigeria", "Egypt", "Ethiopia", "Ghana", "Africa"}},
		{Name: "Social Movements", Keywords: []string{"Civil Rights", "Black Lives", "Pan-African", "Ferguson", "Protest", "Movement"}},
		{Name: "Culture & History", Keywords: []string{"Culture", "History", "Heritage", "Renaissance", "Literature", "Cuisine", "Diaspora"}},
	}
}

// Categorizer assigns topics to the first bucket whose keyword occurs in them.
type Categorizer struct {
	buckets []Bucket
}

// NewCategorizer builds a Categorizer over buckets in priority order. A bucket
// named OtherBucket in the table is ignored; the catch-all is always last.
func NewCategorizer(buckets []Bucket) *Categorizer {
	out := make([]Bucket, 0, len(buckets))
	for _, b := range buckets {
		if strings.EqualFold(b.Name, OtherBucket) || b.Name == "" {
			continue
		}
		kws := make([]string, 0, len(b.Keywords))
		for _, kw := range b.Keywords {
			if kw = strings.ToLower(strings.TrimSpace(kw)); kw != "" {
				kws = append(kws, kw)
			}
		}
		out = append(out, Bucket{Name: b.Name, Keywords: kws})
	}
	return &Categorizer{buckets: out}
}

// Names lists bucket names in priority order, ending with OtherBucket.
func (c *Categorizer) Names() []string {
	names := make([]string, 0, len(c.buckets)+1)
	for _, b := range c.buckets {
		names = append(names, b.Name)
	}
	return append(names, OtherBucket)
}

// Classify returns the bucket for topic. Matching is case-insensitive
// substring containment and the first bucket in priority order wins.
func (c *Categorizer) Classify(topic string) string {
	lower := strings.ToLower(topic)
	for _, b := range c.buckets {
		for _, kw := range b.Keywords {
			if strings.Contains(lower, kw) {
				return b.Name
			}
		}
	}
	return OtherBucket
}

// Group is one bucket and the records assigned to it.
type Group struct {
	Name    string
	Records []harvest.Record
}

// Report is the categorized summary of a run.
type Report struct {
	RunID       string
	GeneratedAt time.Time
	Elapsed     time.Duration
	Topics      int
	Skipped     int
	Duplicates  int
	Failures    []harvest.FailedQuery
	// Groups follow bucket priority order; empty buckets are kept.
	Groups []Group
}

// Summarize partitions the records of result into buckets.
func (c *Categorizer) Summarize(result harvest.Result) Report {
	index := make(map[string]int)
	groups := make([]Group, 0, len(c.buckets)+1)
	for i, name := range c.Names() {
		index[name] = i
		groups = append(groups, Group{Name: name})
	}
	for _, rec := range result.Records {
		i := index[c.Classify(rec.Topic)]
		groups[i].Records = append(groups[i].Records, rec)
	}
	return Report{
		RunID:       result.RunID,
		GeneratedAt: result.Finished,
		Elapsed:     result.Elapsed(),
		Topics:      len(result.Topics),
		Skipped:     result.Skipped,
		Duplicates:  result.Duplicates,
		Failures:    result.Failures,
		Groups:      groups,
	}
}

// Total is the number of records across all groups.
func (r Report) Total() int {
	n := 0
	for _, g := range r.Groups {
		n += len(g.Records)
	}
	return n
}

// Counts maps bucket name to record count.
func (r Report) Counts() map[string]int {
	out := make(map[string]int, len(r.Groups))
	for _, g := range r.Groups {
		out[g.Name] = len(g.Records)
	}
	return out
}

// Render writes the digest as plain text. At most samples titles are listed
// per bucket.
func Render(w io.Writer, r Report, samples int) error {
	var b strings.Builder
	b.WriteString("Topic Harvest Summary\n")
	b.WriteString(strings.Repeat("=", 50) + "\n")
	fmt.Fprintf(&b, "Run: %s\n", r.RunID)
	fmt.Fprintf(&b, "Date: %s\n", r.GeneratedAt.Format("2006-01-02 15:04:05"))
	fmt.Fprintf(&b, "Elapsed: %s\n", r.Elapsed.Round(time.Second))
	fmt.Fprintf(&b, "Total topics: %d\n", r.Topics)
	fmt.Fprintf(&b, "Total records: %d\n", r.Total())
	fmt.Fprintf(&b, "Failed queries: %d\n", len(r.Failures))
	fmt.Fprintf(&b, "Skipped (too short): %d\n", r.Skipped)
	fmt.Fprintf(&b, "Duplicates: %d\n\n", r.Duplicates)

	t := table.NewWriter()
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"Category", "Records"})
	for _, g := range r.Groups {
		t.AppendRow(table.Row{g.Name, len(g.Records)})
	}
	t.AppendFooter(table.Row{"Total", r.Total()})
	b.WriteString(t.Render())
	b.WriteString("\n")

	for _, g := range r.Groups {
		if len(g.Records) == 0 {
			continue
		}
		fmt.Fprintf(&b, "\n%s (%d records):\n", g.Name, len(g.Records))
		for i, rec := range g.Records {
			if samples > 0 && i == samples {
				fmt.Fprintf(&b, "  ... and %d more\n", len(g.Records)-samples)
				break
			}
			fmt.Fprintf(&b, "  - %s\n", rec.Title)
		}
	}

	if len(r.Failures) > 0 {
		b.WriteString("\nFailed queries (may need manual checking):\n")
		for _, f := range r.Failures {
			target := f.Topic
			if f.Target != "" && f.Target != f.Topic {
				target = fmt.Sprintf("%s -> %s", f.Topic, f.Target)
			}
			fmt.Fprintf(&b, "  - %s [%s]\n", target, f.Kind)
		}
	}

	if _, err := io.WriteString(w, b.String()); err != nil {
		return fmt.Errorf("write digest: %w", err)
	}
	return nil
}
