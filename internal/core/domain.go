package core

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

// DateLayout is the wire format for calendar dates.
const DateLayout = "2006-01-02"

const maxTextLength = 200

type (
	Priority string

	Date struct {
		time.Time
	}

	Money struct {
		Cents int64
	}

	// List is a named collection of shopping items.
	List struct {
		ID          string
		Name        string
		Description string
	}

	// Item is one entry of a list. Quantity and Unit are free text as typed
	// in shopping mode ("2", "500", "g").
	Item struct {
		ID       string
		Name     string
		Quantity string
		Unit     string
		Price    Money
		Checked  bool
	}

	Expense struct {
		ID          string
		Date        Date
		Description string
		Amount      Money
		Primary     string // Primary category
		Secondary   string // Secondary category
	}

	Todo struct {
		ID        string
		Title     string
		Notes     string
		Due       Date
		Priority  Priority
		Completed bool
	}
)

var (
	ErrInvalidDay       = errors.New("invalid day")
	ErrInvalidMonth     = errors.New("invalid month")
	ErrInvalidAmount    = errors.New("invalid amount")
	ErrEmptyDescription = errors.New("empty description")
	ErrEmptyName        = errors.New("empty name")
	ErrEmptyTitle       = errors.New("empty title")
	ErrEmptyPrimary     = errors.New("empty primary category")
	ErrTextTooLong      = fmt.Errorf("text too long (max %d characters)", maxTextLength)
	ErrInvalidPriority  = errors.New("invalid priority")
)

func (d Date) Validate() error {
	if d.IsZero() {
		return errors.New("date cannot be zero")
	}
	_, month, day := d.Date()
	if day < 1 || day > 31 {
		return ErrInvalidDay
	}
	if month < 1 || month > 12 {
		return ErrInvalidMonth
	}
	return nil
}

// NewDate creates a new Date from year, month, day
func NewDate(year, month, day int) Date {
	return Date{Time: time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)}
}

// ParseDate parses a YYYY-MM-DD string. An empty string yields the zero date.
func ParseDate(s string) (Date, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Date{}, nil
	}
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return Date{}, fmt.Errorf("parse date %q: %w", s, err)
	}
	return Date{Time: t}, nil
}

// String formats the date for the wire; the zero date is empty.
func (d Date) String() string {
	if d.IsZero() {
		return ""
	}
	return d.Format(DateLayout)
}

func (m Money) Validate() error {
	if m.Cents <= 0 {
		return ErrInvalidAmount
	}
	return nil
}

func (p Priority) IsValid() bool {
	switch p {
	case "", PriorityLow, PriorityMedium, PriorityHigh:
		return true
	default:
		return false
	}
}

func validateText(s string, empty error) error {
	if strings.TrimSpace(s) == "" {
		return empty
	}
	if len(s) > maxTextLength {
		return ErrTextTooLong
	}
	return nil
}

func (l List) Validate() error {
	if err := validateText(l.Name, ErrEmptyName); err != nil {
		return err
	}
	if len(l.Description) > maxTextLength {
		return ErrTextTooLong
	}
	return nil
}

func (l List) ToEntity() Entity {
	return Entity{ID: l.ID, Fields: Fields{
		"name":        l.Name,
		"description": l.Description,
	}}
}

func ListFromEntity(e Entity) List {
	return List{
		ID:          e.ID,
		Name:        e.Fields.String("name"),
		Description: e.Fields.String("description"),
	}
}

func (i Item) Validate() error {
	if err := validateText(i.Name, ErrEmptyName); err != nil {
		return err
	}
	if i.Price.Cents < 0 {
		return ErrInvalidAmount
	}
	return nil
}

func (i Item) ToEntity() Entity {
	return Entity{ID: i.ID, Fields: Fields{
		"name":     i.Name,
		"quantity": i.Quantity,
		"unit":     i.Unit,
		"price":    i.Price.Decimal(),
		"checked":  i.Checked,
	}}
}

// ItemFromEntity is lenient: a price that does not parse reads as zero.
func ItemFromEntity(e Entity) Item {
	item := Item{
		ID:       e.ID,
		Name:     e.Fields.String("name"),
		Quantity: e.Fields.String("quantity"),
		Unit:     e.Fields.String("unit"),
		Checked:  boolField(e.Fields, "checked"),
	}
	if cents, err := ParseDecimalToCents(e.Fields.String("price")); err == nil {
		item.Price = Money{Cents: cents}
	}
	return item
}

func (e Expense) Validate() error {
	if err := e.Date.Validate(); err != nil {
		return err
	}
	if err := validateText(e.Description, ErrEmptyDescription); err != nil {
		return err
	}
	if err := e.Amount.Validate(); err != nil {
		return err
	}
	if strings.TrimSpace(e.Primary) == "" {
		return ErrEmptyPrimary
	}
	return nil
}

func (e Expense) ToEntity() Entity {
	return Entity{ID: e.ID, Fields: Fields{
		"date":               e.Date.String(),
		"description":        e.Description,
		"amount_cents":       e.Amount.Cents,
		"primary_category":   e.Primary,
		"secondary_category": e.Secondary,
	}}
}

func ExpenseFromEntity(e Entity) (Expense, error) {
	date, err := ParseDate(e.Fields.String("date"))
	if err != nil {
		return Expense{}, err
	}
	cents, err := intField(e.Fields, "amount_cents")
	if err != nil {
		return Expense{}, err
	}
	return Expense{
		ID:          e.ID,
		Date:        date,
		Description: e.Fields.String("description"),
		Amount:      Money{Cents: cents},
		Primary:     e.Fields.String("primary_category"),
		Secondary:   e.Fields.String("secondary_category"),
	}, nil
}

func (t Todo) Validate() error {
	if err := validateText(t.Title, ErrEmptyTitle); err != nil {
		return err
	}
	if !t.Priority.IsValid() {
		return ErrInvalidPriority
	}
	return nil
}

func (t Todo) ToEntity() Entity {
	return Entity{ID: t.ID, Fields: Fields{
		"title":     t.Title,
		"notes":     t.Notes,
		"due_date":  t.Due.String(),
		"priority":  string(t.Priority),
		"completed": t.Completed,
	}}
}

func TodoFromEntity(e Entity) (Todo, error) {
	due, err := ParseDate(e.Fields.String("due_date"))
	if err != nil {
		return Todo{}, err
	}
	return Todo{
		ID:        e.ID,
		Title:     e.Fields.String("title"),
		Notes:     e.Fields.String("notes"),
		Due:       due,
		Priority:  Priority(e.Fields.String("priority")),
		Completed: boolField(e.Fields, "completed"),
	}, nil
}

// ValidateEntity checks an entity against the typed model of kind.
func ValidateEntity(kind Kind, e Entity) error {
	switch kind {
	case KindLists:
		return ListFromEntity(e).Validate()
	case KindItems:
		return ItemFromEntity(e).Validate()
	case KindExpenses:
		exp, err := ExpenseFromEntity(e)
		if err != nil {
			return err
		}
		return exp.Validate()
	case KindTodos:
		todo, err := TodoFromEntity(e)
		if err != nil {
			return err
		}
		return todo.Validate()
	default:
		return fmt.Errorf("invalid resource kind %q", kind)
	}
}

func boolField(f Fields, key string) bool {
	switch v := f[key].(type) {
	case bool:
		return v
	case string:
		b, _ := strconv.ParseBool(v)
		return b
	default:
		return false
	}
}

func intField(f Fields, key string) (int64, error) {
	switch v := f[key].(type) {
	case nil:
		return 0, nil
	case int:
		return int64(v), nil
	case int64:
		return v, nil
	case float64:
		return int64(v), nil
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil {
			return 0, fmt.Errorf("field %s: %w", key, err)
		}
		return n, nil
	default:
		return 0, fmt.Errorf("field %s: unsupported type %T", key, v)
	}
}
