package core

import (
	"fmt"
	"net/url"
	"strings"
)

const (
	KindLists    Kind = "lists"
	KindItems    Kind = "items"
	KindExpenses Kind = "expenses"
	KindTodos    Kind = "todos"
)

type (
	Kind string

	// Resource names one collection on the backend. Items live under a
	// parent list, every other kind is top level.
	Resource struct {
		Kind   Kind
		ListID string
	}
)

// Kinds returns every supported resource kind.
func Kinds() []Kind {
	return []Kind{KindLists, KindItems, KindExpenses, KindTodos}
}

// IsValid reports whether k is a supported kind.
func (k Kind) IsValid() bool {
	switch k {
	case KindLists, KindItems, KindExpenses, KindTodos:
		return true
	default:
		return false
	}
}

func (k Kind) String() string {
	return string(k)
}

// NewResource validates and builds a resource reference.
func NewResource(kind Kind, listID string) (Resource, error) {
	r := Resource{Kind: kind, ListID: strings.TrimSpace(listID)}
	if err := r.Validate(); err != nil {
		return Resource{}, err
	}
	return r, nil
}

func (r Resource) Validate() error {
	if !r.Kind.IsValid() {
		return fmt.Errorf("invalid resource kind %q", r.Kind)
	}
	if r.Kind == KindItems && r.ListID == "" {
		return fmt.Errorf("resource %s requires a list id", r.Kind)
	}
	if r.Kind != KindItems && r.ListID != "" {
		return fmt.Errorf("resource %s does not take a list id", r.Kind)
	}
	return nil
}

// Path is the collection path relative to the gateway base URL.
func (r Resource) Path() string {
	if r.Kind == KindItems {
		return "/lists/" + url.PathEscape(r.ListID) + "/items"
	}
	return "/" + string(r.Kind)
}

// Key identifies the resource in caches, snapshots and messages.
func (r Resource) Key() string {
	if r.ListID != "" {
		return string(r.Kind) + ":" + r.ListID
	}
	return string(r.Kind)
}

func (r Resource) String() string {
	return r.Key()
}

// ParseResourceKey is the inverse of Resource.Key.
func ParseResourceKey(key string) (Resource, error) {
	kind, listID, _ := strings.Cut(key, ":")
	return NewResource(Kind(kind), listID)
}
