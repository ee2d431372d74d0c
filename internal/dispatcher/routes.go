package dispatcher

import (
	"sort"
	"strings"
)

// RouteEntry maps a path prefix onto a backend name. Entries are loaded
// once at startup and read-only thereafter.
type RouteEntry struct {
	Prefix  string `json:"prefix"`
	Service string `json:"service"`
}

// RouteTable resolves request paths to backend names by longest-prefix
// match. Matching respects path segment boundaries: /api/order does not
// match the prefix /api/orders.
type RouteTable struct {
	entries []RouteEntry
}

func NewRouteTable(entries []RouteEntry) *RouteTable {
	sorted := make([]RouteEntry, len(entries))
	copy(sorted, entries)
	// Longest prefix first, so the first hit wins.
	sort.Slice(sorted, func(i, j int) bool {
		return len(sorted[i].Prefix) > len(sorted[j].Prefix)
	})
	return &RouteTable{entries: sorted}
}

// Match returns the backend name for the longest matching prefix.
func (t *RouteTable) Match(path string) (string, bool) {
	for _, entry := range t.entries {
		if prefixMatches(path, entry.Prefix) {
			return entry.Service, true
		}
	}
	return "", false
}

// Entries returns a copy of the table in match order.
func (t *RouteTable) Entries() []RouteEntry {
	entries := make([]RouteEntry, len(t.entries))
	copy(entries, t.entries)
	return entries
}

func prefixMatches(path, prefix string) bool {
	if prefix == "/" {
		return true
	}
	if !strings.HasPrefix(path, prefix) {
		return false
	}
	if len(path) == len(prefix) || strings.HasSuffix(prefix, "/") {
		return true
	}
	return path[len(prefix)] == '/'
}
