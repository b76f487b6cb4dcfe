package core

import (
	"cmp"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Query is the filter and sort pipeline a list page runs over the
// collection before rendering it.
type Query struct {
	// Search matches case-insensitively against every string field.
	Search string
	// Equals keeps entities whose field formats to the given value.
	Equals map[string]string
	// SortBy names the field to order by; empty keeps collection order.
	SortBy string
	Desc   bool
	// Limit caps the result; zero means no cap.
	Limit int
}

// ParseEquals reads "field=value" pairs into an Equals map.
func ParseEquals(pairs []string) (map[string]string, error) {
	out := make(map[string]string, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		k = strings.TrimSpace(k)
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid filter %q: want field=value", p)
		}
		out[k] = strings.TrimSpace(v)
	}
	return out, nil
}

// Apply runs the query and returns a new slice; the input is not modified.
func (q Query) Apply(entities []Entity) []Entity {
	search := strings.ToLower(strings.TrimSpace(q.Search))
	out := make([]Entity, 0, len(entities))
	for _, e := range entities {
		if search != "" && !matchesSearch(e, search) {
			continue
		}
		if !matchesEquals(e, q.Equals) {
			continue
		}
		out = append(out, e)
	}

	if q.SortBy != "" {
		sort.SliceStable(out, func(i, j int) bool {
			return lessField(out[i], out[j], q.SortBy, q.Desc)
		})
	}

	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out
}

func matchesSearch(e Entity, search string) bool {
	for _, v := range e.Fields {
		s, ok := v.(string)
		if ok && strings.Contains(strings.ToLower(s), search) {
			return true
		}
	}
	return false
}

func matchesEquals(e Entity, equals map[string]string) bool {
	for field, want := range equals {
		if field == idField {
			if e.ID != want {
				return false
			}
			continue
		}
		if !strings.EqualFold(e.Fields.String(field), want) {
			return false
		}
	}
	return true
}

// lessField orders by field. Missing values always go last regardless of
// direction. Numeric values sort before text and compare as numbers; text
// compares case-insensitively.
func lessField(a, b Entity, field string, desc bool) bool {
	av, aok := sortValue(a, field)
	bv, bok := sortValue(b, field)
	switch {
	case !aok:
		return false
	case !bok:
		return true
	}
	if desc {
		return compareValues(av, bv) > 0
	}
	return compareValues(av, bv) < 0
}

func compareValues(a, b string) int {
	an, aerr := strconv.ParseFloat(a, 64)
	bn, berr := strconv.ParseFloat(b, 64)
	switch {
	case aerr == nil && berr == nil:
		return cmp.Compare(an, bn)
	case aerr == nil:
		return -1
	case berr == nil:
		return 1
	}
	return strings.Compare(strings.ToLower(a), strings.ToLower(b))
}

func sortValue(e Entity, field string) (string, bool) {
	if field == idField {
		return e.ID, e.ID != ""
	}
	s := e.Fields.String(field)
	return s, s != ""
}
