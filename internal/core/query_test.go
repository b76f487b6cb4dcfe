package core

import "testing"

func ids(es []Entity) []string {
	out := make([]string, len(es))
	for i, e := range es {
		out[i] = e.ID
	}
	return out
}

func equalIDs(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestQueryApply(t *testing.T) {
	items := []Entity{
		NewEntity("1", Fields{"name": "Milk", "price": "1.20", "checked": false}),
		NewEntity("2", Fields{"name": "Bread", "price": "2.50", "checked": true}),
		NewEntity("3", Fields{"name": "Oat milk", "price": "10", "checked": false}),
		NewEntity("4", Fields{"name": "Salt"}),
	}

	cases := []struct {
		name string
		q    Query
		want []string
	}{
		{"empty query keeps order", Query{}, []string{"1", "2", "3", "4"}},
		{"search is case-insensitive", Query{Search: "MILK"}, []string{"1", "3"}},
		{"equals filter", Query{Equals: map[string]string{"checked": "false"}}, []string{"1", "3"}},
		{"numeric sort", Query{SortBy: "price"}, []string{"1", "2", "3", "4"}},
		{"numeric sort desc keeps missing last", Query{SortBy: "price", Desc: true}, []string{"3", "2", "1", "4"}},
		{"string sort", Query{SortBy: "name"}, []string{"2", "1", "3", "4"}},
		{"limit", Query{SortBy: "name", Limit: 2}, []string{"2", "1"}},
		{"filter by id", Query{Equals: map[string]string{"id": "4"}}, []string{"4"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := ids(tc.q.Apply(items))
			if !equalIDs(got, tc.want) {
				t.Fatalf("got %v, want %v", got, tc.want)
			}
		})
	}

	if items[0].ID != "1" {
		t.Fatalf("input slice reordered")
	}
}

func TestMixedSortIsConsistent(t *testing.T) {
	mk := func(order ...string) []Entity {
		values := map[string]string{"a": "10", "b": "1a", "c": "9", "d": "Bread", "e": ""}
		out := make([]Entity, len(order))
		for i, id := range order {
			out[i] = NewEntity(id, Fields{"quantity": values[id]})
		}
		return out
	}
	inputs := [][]Entity{
		mk("a", "b", "c", "d", "e"),
		mk("e", "d", "c", "b", "a"),
		mk("b", "e", "a", "d", "c"),
	}

	for _, in := range inputs {
		if got, want := ids(Query{SortBy: "quantity"}.Apply(in)), []string{"c", "a", "b", "d", "e"}; !equalIDs(got, want) {
			t.Fatalf("asc: got %v, want %v", got, want)
		}
		if got, want := ids(Query{SortBy: "quantity", Desc: true}.Apply(in)), []string{"d", "b", "a", "c", "e"}; !equalIDs(got, want) {
			t.Fatalf("desc: got %v, want %v", got, want)
		}
	}
}

func TestParseEquals(t *testing.T) {
	m, err := ParseEquals([]string{"checked=true", " unit = kg "})
	if err != nil || m["checked"] != "true" || m["unit"] != "kg" {
		t.Fatalf("unexpected %v err=%v", m, err)
	}
	if _, err := ParseEquals([]string{"novalue"}); err == nil {
		t.Fatalf("expected error")
	}
}
