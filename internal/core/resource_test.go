package core

import "testing"

func TestResourceValidate(t *testing.T) {
	cases := []struct {
		r  Resource
		ok bool
	}{
		{Resource{Kind: KindLists}, true},
		{Resource{Kind: KindItems, ListID: "3"}, true},
		{Resource{Kind: KindItems}, false},
		{Resource{Kind: KindTodos, ListID: "3"}, false},
		{Resource{Kind: "notes"}, false},
	}
	for i, tc := range cases {
		err := tc.r.Validate()
		if tc.ok != (err == nil) {
			t.Fatalf("case %d: ok=%v err=%v", i, tc.ok, err)
		}
	}
}

func TestResourcePathAndKey(t *testing.T) {
	items := Resource{Kind: KindItems, ListID: "a b"}
	if items.Path() != "/lists/a%20b/items" {
		t.Fatalf("unexpected path %q", items.Path())
	}
	if (Resource{Kind: KindExpenses}).Path() != "/expenses" {
		t.Fatalf("unexpected expenses path")
	}

	for _, r := range []Resource{{Kind: KindLists}, {Kind: KindItems, ListID: "12"}} {
		parsed, err := ParseResourceKey(r.Key())
		if err != nil || parsed != r {
			t.Fatalf("key round trip of %v gave %v err=%v", r, parsed, err)
		}
	}
}
