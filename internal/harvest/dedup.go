package harvest

import (
	"strings"
)

// Deduplicator remembers canonical identifiers processed during one run.
// It is owned by a single pipeline and is not safe for concurrent use.
type Deduplicator struct {
	seen map[string]struct{}
}

// NewDeduplicator returns an empty Deduplicator.
func NewDeduplicator() *Deduplicator {
	return &Deduplicator{seen: make(map[string]struct{})}
}

// Seen reports whether id was already marked.
func (d *Deduplicator) Seen(id string) bool {
	key := CanonicalID(id)
	if key == "" {
		return false
	}
	_, ok := d.seen[key]
	return ok
}

// Mark records id as processed.
func (d *Deduplicator) Mark(id string) {
	key := CanonicalID(id)
	if key == "" {
		return
	}
	d.seen[key] = struct{}{}
}

// Len returns the number of distinct identifiers marked.
func (d *Deduplicator) Len() int {
	return len(d.seen)
}

// CanonicalID folds case, treats underscores as spaces and collapses whitespace,
// so "Haitian_Revolution" and " haitian  revolution" share a key.
func CanonicalID(id string) string {
	id = strings.ReplaceAll(id, "_", " ")
	return strings.ToLower(strings.Join(strings.Fields(id), " "))
}
