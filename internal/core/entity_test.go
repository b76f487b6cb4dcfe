package core

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestEntityApplyDoesNotAlias(t *testing.T) {
	base := NewEntity("7", Fields{"quantity": "1", "unit": "kg"})
	next := base.Apply(Patch{"quantity": "3"})

	if base.Fields["quantity"] != "1" {
		t.Fatalf("base mutated: %v", base.Fields)
	}
	if next.Fields["quantity"] != "3" || next.Fields["unit"] != "kg" || next.ID != "7" {
		t.Fatalf("unexpected patched entity: %+v", next)
	}
}

func TestFieldsMergeLastWriteWins(t *testing.T) {
	p := Patch{"quantity": "3"}
	p.Merge(Patch{"quantity": "5", "unit": "g"})
	if p["quantity"] != "5" || p["unit"] != "g" {
		t.Fatalf("unexpected merge: %v", p)
	}

	var nilPatch Fields
	merged := nilPatch.Merge(Patch{"a": 1})
	if merged["a"] != 1 {
		t.Fatalf("merge into nil should allocate: %v", merged)
	}
}

func TestFieldsValidate(t *testing.T) {
	if err := (Patch{}).Validate(); !errors.Is(err, ErrInvalidPatch) {
		t.Fatalf("empty patch should be invalid, got %v", err)
	}
	if err := (Patch{"id": "3"}).Validate(); !errors.Is(err, ErrInvalidPatch) {
		t.Fatalf("id patch should be invalid, got %v", err)
	}
	if err := (Patch{"name": "x"}).Validate(); err != nil {
		t.Fatalf("expected ok, got %v", err)
	}
}

func TestEntityEqual(t *testing.T) {
	a := NewEntity("1", Fields{"name": "a", "n": 1.0})
	if !a.Equal(a.Clone()) {
		t.Fatalf("clone should be equal")
	}
	if a.Equal(a.Apply(Patch{"n": 2.0})) {
		t.Fatalf("patched entity should differ")
	}
	if a.Equal(NewEntity("2", a.Fields)) {
		t.Fatalf("different ids should differ")
	}
}

func TestEntityJSON(t *testing.T) {
	var e Entity
	if err := json.Unmarshal([]byte(`{"id": 42, "name": "Groceries", "description": "Weekly", "count": 3}`), &e); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if e.ID != "42" {
		t.Fatalf("numeric id should normalise to string, got %q", e.ID)
	}
	if e.Fields["count"] != float64(3) || e.Fields["name"] != "Groceries" {
		t.Fatalf("unexpected fields: %v", e.Fields)
	}
	if _, ok := e.Fields["id"]; ok {
		t.Fatalf("id must not stay in fields")
	}

	raw, err := json.Marshal(e)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var flat map[string]any
	if err := json.Unmarshal(raw, &flat); err != nil {
		t.Fatalf("unmarshal flat: %v", err)
	}
	if flat["id"] != "42" || flat["description"] != "Weekly" {
		t.Fatalf("unexpected wire form: %s", raw)
	}

	if err := json.Unmarshal([]byte(`{"id": true}`), &e); err == nil {
		t.Fatalf("expected error for boolean id")
	}
}

func TestEntityJSONWithoutID(t *testing.T) {
	raw, err := json.Marshal(NewEntity("", Fields{"name": "x"}))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(raw) != `{"name":"x"}` {
		t.Fatalf("empty id should be omitted, got %s", raw)
	}
}
