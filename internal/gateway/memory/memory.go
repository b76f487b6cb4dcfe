// Package memory is an in-process gateway for demos and tests. It behaves
// like the REST backend: sequential ids, validation, canonical answers.
package memory

import (
	"bufio"
	"context"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"organizer/internal/core"
	"organizer/internal/gateway"
)

// Op names a gateway call for failure injection.
type Op string

const (
	OpCreate Op = "create"
	OpUpdate Op = "update"
	OpDelete Op = "delete"
	OpList   Op = "list"
)

// FailFunc decides whether a call fails. Returning nil lets it through.
type FailFunc func(op Op, r core.Resource, id string) error

type collection struct {
	order   []string // newest first, like the store shows them
	records map[string]core.Fields
}

// Store keeps every resource in memory.
type Store struct {
	mu       sync.Mutex
	next     int
	data     map[string]*collection
	failNext []error
	failWhen FailFunc
	latency  time.Duration
	calls    map[Op]int
}

var _ gateway.Gateway = (*Store)(nil)

func New() *Store {
	return &Store{
		data:  make(map[string]*collection),
		calls: make(map[Op]int),
	}
}

// NewFromFiles seeds a store from the seed_*.txt files in base. Missing
// files are skipped; see seed for the line formats.
func NewFromFiles(base string) *Store {
	s := New()
	s.seed(base)
	return s
}

// FailNext makes the next call, whatever it is, fail with err. Calls
// queue up: FailNext(a); FailNext(b) fails the next two calls.
func (s *Store) FailNext(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failNext = append(s.failNext, err)
}

// FailWhen installs a predicate consulted on every call. Nil removes it.
func (s *Store) FailWhen(fn FailFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failWhen = fn
}

// SetLatency delays every call by d, honouring context cancellation.
func (s *Store) SetLatency(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.latency = d
}

// Calls returns how many times op was attempted.
func (s *Store) Calls(op Op) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[op]
}

func (s *Store) Create(ctx context.Context, r core.Resource, e core.Entity) (core.Entity, error) {
	if err := s.enter(ctx, OpCreate, r, ""); err != nil {
		return core.Entity{}, err
	}
	if err := core.ValidateEntity(r.Kind, core.Entity{Fields: e.Fields}); err != nil {
		return core.Entity{}, gateway.NewError(http.StatusUnprocessableEntity, "%v", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if r.Kind == core.KindItems {
		if _, ok := s.col(core.Resource{Kind: core.KindLists}).records[r.ListID]; !ok {
			return core.Entity{}, gateway.NewError(http.StatusNotFound, "list %s not found", r.ListID)
		}
	}
	return s.insert(r, e.Fields), nil
}

func (s *Store) Update(ctx context.Context, r core.Resource, id string, patch core.Patch) (core.Entity, error) {
	if err := s.enter(ctx, OpUpdate, r, id); err != nil {
		return core.Entity{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.col(r)
	current, ok := c.records[id]
	if !ok {
		return core.Entity{}, gateway.NewError(http.StatusNotFound, "%s %s not found", r.Kind, id)
	}
	merged := current.Clone().Merge(patch.Clone())
	if err := core.ValidateEntity(r.Kind, core.Entity{ID: id, Fields: merged}); err != nil {
		return core.Entity{}, gateway.NewError(http.StatusUnprocessableEntity, "%v", err)
	}
	c.records[id] = merged
	return core.NewEntity(id, merged), nil
}

func (s *Store) Delete(ctx context.Context, r core.Resource, id string) error {
	if err := s.enter(ctx, OpDelete, r, id); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.col(r)
	if _, ok := c.records[id]; !ok {
		return gateway.NewError(http.StatusNotFound, "%s %s not found", r.Kind, id)
	}
	delete(c.records, id)
	for i, v := range c.order {
		if v == id {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
	if r.Kind == core.KindLists {
		delete(s.data, core.Resource{Kind: core.KindItems, ListID: id}.Key())
	}
	return nil
}

func (s *Store) List(ctx context.Context, r core.Resource) ([]core.Entity, error) {
	if err := s.enter(ctx, OpList, r, ""); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.col(r)
	out := make([]core.Entity, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, core.NewEntity(id, c.records[id]))
	}
	return out, nil
}

// enter counts the call, applies injected failures and latency.
func (s *Store) enter(ctx context.Context, op Op, r core.Resource, id string) error {
	if err := r.Validate(); err != nil {
		return gateway.NewError(http.StatusBadRequest, "%v", err)
	}

	s.mu.Lock()
	s.calls[op]++
	latency := s.latency
	var injected error
	if len(s.failNext) > 0 {
		injected = s.failNext[0]
		s.failNext = s.failNext[1:]
	} else if s.failWhen != nil {
		injected = s.failWhen(op, r, id)
	}
	s.mu.Unlock()

	if latency > 0 {
		t := time.NewTimer(latency)
		defer t.Stop()
		select {
		case <-t.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return injected
}

// col expects s.mu to be held.
func (s *Store) col(r core.Resource) *collection {
	c, ok := s.data[r.Key()]
	if !ok {
		c = &collection{records: make(map[string]core.Fields)}
		s.data[r.Key()] = c
	}
	return c
}

// insert expects s.mu to be held.
func (s *Store) insert(r core.Resource, fields core.Fields) core.Entity {
	s.next++
	id := strconv.Itoa(s.next)
	c := s.col(r)
	c.records[id] = fields.Clone()
	c.order = append([]string{id}, c.order...)
	return core.NewEntity(id, fields)
}

// seed reads, all optional and pipe separated:
//
//	seed_lists.txt     name | description
//	seed_items.txt     list name | item name | quantity | unit | price
//	seed_todos.txt     title | due date | priority
//	seed_expenses.txt  date | description | amount | primary | secondary
//
// Lines are inserted in file order so the last line ends up first.
func (s *Store) seed(base string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	listIDs := map[string]string{}
	for _, cols := range readRecords(filepath.Join(base, "seed_lists.txt")) {
		e := core.List{Name: cols[0], Description: col(cols, 1)}.ToEntity()
		listIDs[cols[0]] = s.insert(core.Resource{Kind: core.KindLists}, e.Fields).ID
	}
	for _, cols := range readRecords(filepath.Join(base, "seed_items.txt")) {
		listID, ok := listIDs[cols[0]]
		if !ok || col(cols, 1) == "" {
			continue
		}
		item := core.Item{Name: cols[1], Quantity: col(cols, 2), Unit: col(cols, 3)}
		if cents, err := core.ParseDecimalToCents(col(cols, 4)); err == nil {
			item.Price = core.Money{Cents: cents}
		}
		s.insert(core.Resource{Kind: core.KindItems, ListID: listID}, item.ToEntity().Fields)
	}
	for _, cols := range readRecords(filepath.Join(base, "seed_todos.txt")) {
		todo := core.Todo{Title: cols[0], Priority: core.Priority(col(cols, 2))}
		if d, err := core.ParseDate(col(cols, 1)); err == nil {
			todo.Due = d
		}
		if todo.Validate() != nil {
			continue
		}
		s.insert(core.Resource{Kind: core.KindTodos}, todo.ToEntity().Fields)
	}
	for _, cols := range readRecords(filepath.Join(base, "seed_expenses.txt")) {
		d, err := core.ParseDate(cols[0])
		if err != nil {
			continue
		}
		cents, err := core.ParseDecimalToCents(col(cols, 2))
		if err != nil {
			continue
		}
		exp := core.Expense{Date: d, Description: col(cols, 1), Amount: core.Money{Cents: cents},
			Primary: col(cols, 3), Secondary: col(cols, 4)}
		if exp.Validate() != nil {
			continue
		}
		s.insert(core.Resource{Kind: core.KindExpenses}, exp.ToEntity().Fields)
	}
}

func readRecords(path string) [][]string {
	var out [][]string
	for _, line := range readLines(path) {
		parts := strings.Split(line, "|")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		if parts[0] == "" {
			continue
		}
		out = append(out, parts)
	}
	return out
}

func col(cols []string, i int) string {
	if i < len(cols) {
		return cols[i]
	}
	return ""
}

func readLines(path string) []string {
	f, err := os.Open(path)
	if err != nil {
		return nil
	}
	defer f.Close()
	var out []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		out = append(out, line)
	}
	return out
}
