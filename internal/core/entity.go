package core

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"
)

type (
	// Fields maps a field name to its value. Values are whatever the
	// gateway's JSON decoder produced (string, float64, bool, nil...).
	Fields map[string]any

	// Patch is a partial set of fields; keys present overwrite, keys absent
	// are left untouched.
	Patch = Fields

	// Entity is any mutable resource: a list, a list item, an expense or a
	// todo. The identifier is kept apart from the other fields.
	Entity struct {
		ID     string
		Fields Fields
	}
)

// idField is the key the identifier travels under on the wire.
const idField = "id"

var (
	ErrUnknownID    = errors.New("unknown identifier")
	ErrTentativeID  = errors.New("identifier is tentative")
	ErrInvalidPatch = errors.New("invalid patch")
)

// NewEntity builds an entity from an id and a set of fields.
func NewEntity(id string, fields Fields) Entity {
	return Entity{ID: id, Fields: fields.Clone()}
}

// Clone returns a copy that shares no map with the receiver.
func (f Fields) Clone() Fields {
	out := make(Fields, len(f))
	for k, v := range f {
		out[k] = v
	}
	return out
}

// Merge folds next into f and returns f. Keys in next win.
func (f Fields) Merge(next Fields) Fields {
	if f == nil {
		f = make(Fields, len(next))
	}
	for k, v := range next {
		f[k] = v
	}
	return f
}

// Keys returns the field names, unsorted.
func (f Fields) Keys() []string {
	keys := make([]string, 0, len(f))
	for k := range f {
		keys = append(keys, k)
	}
	return keys
}

// Validate rejects patches that try to rewrite the identifier.
func (f Fields) Validate() error {
	if len(f) == 0 {
		return fmt.Errorf("%w: empty", ErrInvalidPatch)
	}
	if _, ok := f[idField]; ok {
		return fmt.Errorf("%w: the id field cannot be patched", ErrInvalidPatch)
	}
	return nil
}

// String returns the field as a string, formatting non-string values.
func (f Fields) String(key string) string {
	v, ok := f[key]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

// Clone returns a deep enough copy for local speculative edits.
func (e Entity) Clone() Entity {
	return Entity{ID: e.ID, Fields: e.Fields.Clone()}
}

// Apply returns a copy of e with patch applied field by field.
func (e Entity) Apply(patch Patch) Entity {
	out := e.Clone()
	out.Fields.Merge(patch)
	return out
}

// Equal reports whether both entities carry the same id and fields.
func (e Entity) Equal(other Entity) bool {
	if e.ID != other.ID || len(e.Fields) != len(other.Fields) {
		return false
	}
	for k, v := range e.Fields {
		ov, ok := other.Fields[k]
		if !ok || !reflect.DeepEqual(v, ov) {
			return false
		}
	}
	return true
}

// MarshalJSON writes the flat wire form with the id alongside the fields.
func (e Entity) MarshalJSON() ([]byte, error) {
	flat := make(map[string]any, len(e.Fields)+1)
	for k, v := range e.Fields {
		flat[k] = v
	}
	if e.ID != "" {
		flat[idField] = e.ID
	}
	return json.Marshal(flat)
}

// UnmarshalJSON reads the flat wire form. Numeric ids become strings so
// callers never have to care how the server types them.
func (e *Entity) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var flat map[string]any
	if err := dec.Decode(&flat); err != nil {
		return err
	}
	e.ID = ""
	e.Fields = make(Fields, len(flat))
	for k, v := range flat {
		if k == idField {
			id, err := normalizeID(v)
			if err != nil {
				return err
			}
			e.ID = id
			continue
		}
		e.Fields[k] = normalizeValue(v)
	}
	return nil
}

func normalizeID(v any) (string, error) {
	switch id := v.(type) {
	case nil:
		return "", nil
	case string:
		return strings.TrimSpace(id), nil
	case json.Number:
		return id.String(), nil
	default:
		return "", fmt.Errorf("unsupported id type %T", v)
	}
}

// normalizeValue turns json.Number back into float64 so decoded fields
// compare equal to values built in Go.
func normalizeValue(v any) any {
	switch val := v.(type) {
	case json.Number:
		if f, err := val.Float64(); err == nil {
			return f
		}
		return val.String()
	case map[string]any:
		for k, inner := range val {
			val[k] = normalizeValue(inner)
		}
		return val
	case []any:
		for i, inner := range val {
			val[i] = normalizeValue(inner)
		}
		return val
	default:
		return v
	}
}
