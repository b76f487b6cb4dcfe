package core

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestDateValidate(t *testing.T) {
	cases := []struct {
		d  Date
		ok bool
	}{
		{NewDate(2025, 1, 1), true},
		{NewDate(2025, 12, 31), true},
		{Date{Time: time.Time{}}, false}, // zero time
	}
	for i, tc := range cases {
		err := tc.d.Validate()
		if tc.ok && err != nil {
			t.Fatalf("case %d expected ok, got %v", i, err)
		}
		if !tc.ok && err == nil {
			t.Fatalf("case %d expected error", i)
		}
	}
}

func TestParseDate(t *testing.T) {
	d, err := ParseDate("2025-03-09")
	if err != nil || d.String() != "2025-03-09" {
		t.Fatalf("unexpected date %v err=%v", d, err)
	}
	if d, err := ParseDate("  "); err != nil || !d.IsZero() {
		t.Fatalf("blank should give zero date, got %v err=%v", d, err)
	}
	if _, err := ParseDate("09/03/2025"); err == nil {
		t.Fatalf("expected error for wrong layout")
	}
}

func TestMoneyValidate(t *testing.T) {
	if err := (Money{Cents: 1}).Validate(); err != nil {
		t.Fatalf("expected ok, got %v", err)
	}
	if err := (Money{Cents: 0}).Validate(); err == nil {
		t.Fatalf("expected error for zero")
	}
}

func TestExpenseValidate(t *testing.T) {
	good := Expense{
		Date:        NewDate(2025, 1, 1),
		Description: "ok",
		Amount:      Money{Cents: 100},
		Primary:     "Cat",
		Secondary:   "Sub",
	}
	if err := good.Validate(); err != nil {
		t.Fatalf("expected ok, got %v", err)
	}

	bads := []Expense{
		{Date: Date{Time: time.Time{}}, Description: "a", Amount: Money{Cents: 1}, Primary: "c"}, // zero date
		{Date: NewDate(2025, 1, 1), Description: "", Amount: Money{Cents: 1}, Primary: "c"},
		{Date: NewDate(2025, 1, 1), Description: "a", Amount: Money{Cents: 0}, Primary: "c"},
		{Date: NewDate(2025, 1, 1), Description: "a", Amount: Money{Cents: 1}, Primary: ""},
		{Date: NewDate(2025, 1, 1), Description: strings.Repeat("x", 201), Amount: Money{Cents: 1}, Primary: "c"},
	}
	for i, e := range bads {
		if err := e.Validate(); err == nil {
			t.Fatalf("case %d expected error", i)
		}
	}
}

func TestListAndItemValidate(t *testing.T) {
	if err := (List{Name: "Groceries"}).Validate(); err != nil {
		t.Fatalf("expected ok, got %v", err)
	}
	if err := (List{Name: " "}).Validate(); !errors.Is(err, ErrEmptyName) {
		t.Fatalf("expected ErrEmptyName, got %v", err)
	}
	if err := (Item{Name: "Milk", Price: Money{Cents: -1}}).Validate(); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount, got %v", err)
	}
	if err := (Item{Name: "Milk"}).Validate(); err != nil {
		t.Fatalf("unpriced item should be valid, got %v", err)
	}
}

func TestTodoValidate(t *testing.T) {
	if err := (Todo{Title: "Call plumber", Priority: PriorityHigh}).Validate(); err != nil {
		t.Fatalf("expected ok, got %v", err)
	}
	if err := (Todo{Title: ""}).Validate(); !errors.Is(err, ErrEmptyTitle) {
		t.Fatalf("expected ErrEmptyTitle, got %v", err)
	}
	if err := (Todo{Title: "x", Priority: "urgent"}).Validate(); !errors.Is(err, ErrInvalidPriority) {
		t.Fatalf("expected ErrInvalidPriority, got %v", err)
	}
}

func TestTypedModelsThroughEntities(t *testing.T) {
	item := Item{ID: "7", Name: "Apples", Quantity: "3", Unit: "kg", Price: Money{Cents: 299}, Checked: true}
	if got := ItemFromEntity(item.ToEntity()); got != item {
		t.Fatalf("item mismatch: %+v", got)
	}

	exp := Expense{ID: "1", Date: NewDate(2025, 2, 3), Description: "Lunch", Amount: Money{Cents: 1250}, Primary: "Food"}
	gotExp, err := ExpenseFromEntity(exp.ToEntity())
	if err != nil {
		t.Fatalf("expense: %v", err)
	}
	if gotExp.Amount != exp.Amount || !gotExp.Date.Equal(exp.Date.Time) || gotExp.Description != "Lunch" {
		t.Fatalf("expense mismatch: %+v", gotExp)
	}

	todo := Todo{ID: "9", Title: "Taxes", Priority: PriorityMedium, Due: NewDate(2025, 4, 30)}
	gotTodo, err := TodoFromEntity(todo.ToEntity())
	if err != nil {
		t.Fatalf("todo: %v", err)
	}
	if gotTodo.Title != "Taxes" || gotTodo.Priority != PriorityMedium || gotTodo.Due.String() != "2025-04-30" {
		t.Fatalf("todo mismatch: %+v", gotTodo)
	}
}

func TestValidateEntity(t *testing.T) {
	cases := []struct {
		kind Kind
		e    Entity
		ok   bool
	}{
		{KindLists, NewEntity("", Fields{"name": "Groceries"}), true},
		{KindLists, NewEntity("", Fields{"description": "no name"}), false},
		{KindItems, NewEntity("", Fields{"name": "Milk", "price": "1,20"}), true},
		{KindExpenses, NewEntity("", Fields{"date": "2025-01-02", "description": "Bus", "amount_cents": float64(250), "primary_category": "Transport"}), true},
		{KindExpenses, NewEntity("", Fields{"date": "bad", "description": "Bus"}), false},
		{KindTodos, NewEntity("", Fields{"title": "Write"}), true},
		{Kind("notes"), NewEntity("", Fields{"title": "Write"}), false},
	}
	for i, tc := range cases {
		err := ValidateEntity(tc.kind, tc.e)
		if tc.ok && err != nil {
			t.Fatalf("case %d expected ok, got %v", i, err)
		}
		if !tc.ok && err == nil {
			t.Fatalf("case %d expected error", i)
		}
	}
}
