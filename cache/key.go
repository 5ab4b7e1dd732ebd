package cache

import (
	"sort"
	"strconv"
	"strings"
)

// Params is the query surface of a DreamFactory list request. The zero value
// means "first page, no filter".
type Params struct {
	Limit   int
	Offset  int
	Sort    string   // e.g. "name asc", "created_date desc"
	Filter  string   // DreamFactory filter expression, e.g. `(name like "%db%")`
	Related []string // related resources to embed
	Fields  []string // field projection; empty means all
}

// BuildKey derives the canonical cache key for a resource + parameter set.
// Semantically identical parameter sets always collide: parameter names are
// emitted in a fixed order, list-valued parameters are sorted, and
// insignificant whitespace is collapsed. Any semantic difference changes the
// key.
func BuildKey(resource string, p Params) string {
	var b strings.Builder
	b.WriteString(strings.Trim(resource, "/ "))

	parts := make([]string, 0, 6)
	if len(p.Fields) > 0 {
		parts = append(parts, "fields="+joinSorted(p.Fields))
	}
	if f := collapseSpace(p.Filter); f != "" {
		parts = append(parts, "filter="+f)
	}
	if p.Limit > 0 {
		parts = append(parts, "limit="+strconv.Itoa(p.Limit))
	}
	if p.Offset > 0 {
		parts = append(parts, "offset="+strconv.Itoa(p.Offset))
	}
	if len(p.Related) > 0 {
		parts = append(parts, "related="+joinSorted(p.Related))
	}
	if s := collapseSpace(strings.ToLower(p.Sort)); s != "" {
		parts = append(parts, "sort="+s)
	}

	// parts are appended in alphabetical parameter order already
	sort.Strings(parts)
	if len(parts) > 0 {
		b.WriteByte('?')
		b.WriteString(strings.Join(parts, "&"))
	}
	return b.String()
}

// RecordKey is the cache key for a single-record read.
func RecordKey(resource string, id int) string {
	return strings.Trim(resource, "/ ") + "/" + strconv.Itoa(id)
}

func joinSorted(vals []string) string {
	trimmed := make([]string, 0, len(vals))
	for _, v := range vals {
		if v = strings.TrimSpace(v); v != "" {
			trimmed = append(trimmed, v)
		}
	}
	sort.Strings(trimmed)
	return strings.Join(trimmed, ",")
}

// collapseSpace trims the string and collapses interior whitespace runs to a
// single space so formatting differences never split the cache.
func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
