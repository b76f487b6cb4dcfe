package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"

	"organizer/internal/core"
	"organizer/internal/optimistic"
)

// Exit codes for CLI commands.
const (
	ExitSuccess      = 0 // Successful execution
	ExitFailure      = 1 // A change was rejected or could not be saved
	ExitCommandError = 2 // Bad flags, arguments or configuration
)

// ExitError represents an error with a specific exit code.
type ExitError struct {
	Code    int    // Exit code (use ExitFailure or ExitCommandError)
	Message string // Error message
	Err     error  // Underlying error (optional)
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// NewExitError creates a new ExitError with the given code and message.
func NewExitError(code int, message string) *ExitError {
	return &ExitError{Code: code, Message: message}
}

// WrapExitError wraps an existing error with an exit code.
func WrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// GetExitCode extracts the exit code from an error.
// Returns ExitFailure (1) if the error is not an ExitError.
func GetExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitFailure
}

// OutputFormatter handles JSON vs text output for CLI commands.
type OutputFormatter struct {
	Format    string
	Writer    io.Writer
	ErrWriter io.Writer // Diagnostics, kept off Writer so JSON stays parseable
	Verbose   bool
}

// CLIResponse is the standard JSON response format for CLI output.
type CLIResponse struct {
	Status string `json:"status"`          // "ok" or "error"
	Data   any    `json:"data,omitempty"`  // success payload
	Error  string `json:"error,omitempty"` // error message
}

// recordJSON is a row as JSON output shows it: the flat entity plus its
// reconciliation flags.
type recordJSON struct {
	core.Entity
	Pending   bool `json:"-"`
	Tentative bool `json:"-"`
}

func (r recordJSON) MarshalJSON() ([]byte, error) {
	flat := map[string]any{"id": r.ID}
	for k, v := range r.Fields {
		flat[k] = v
	}
	if r.Pending {
		flat["_pending"] = true
	}
	if r.Tentative {
		flat["_tentative"] = true
	}
	return json.Marshal(flat)
}

// Success outputs a successful result in the configured format.
func (f *OutputFormatter) Success(data any) error {
	if f.Format == "json" {
		return json.NewEncoder(f.Writer).Encode(CLIResponse{Status: "ok", Data: data})
	}
	fmt.Fprintln(f.Writer, data)
	return nil
}

// Records prints rows of kind as a table or as JSON.
func (f *OutputFormatter) Records(kind core.Kind, records []optimistic.Record) error {
	if f.Format == "json" {
		rows := make([]recordJSON, len(records))
		for i, r := range records {
			rows[i] = recordJSON{Entity: r.Entity, Pending: r.Pending, Tentative: r.Tentative}
		}
		return f.Success(rows)
	}

	columns := columnsFor(kind, records)
	tw := tabwriter.NewWriter(f.Writer, 0, 4, 2, ' ', 0)
	header := append([]string{"ID"}, upper(columns)...)
	fmt.Fprintln(tw, strings.Join(header, "\t"))
	for _, r := range records {
		row := []string{r.ID}
		for _, c := range columns {
			row = append(row, r.Fields.String(c))
		}
		if r.Pending {
			row[0] += "*"
		}
		fmt.Fprintln(tw, strings.Join(row, "\t"))
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	f.VerboseLog("%d record(s), * = not yet confirmed", len(records))
	return nil
}

// Record prints one row.
func (f *OutputFormatter) Record(kind core.Kind, e core.Entity) error {
	return f.Records(kind, []optimistic.Record{{Entity: e}})
}

// VerboseLog outputs a message only if verbose mode is enabled.
func (f *OutputFormatter) VerboseLog(format string, args ...any) {
	if !f.Verbose {
		return
	}
	fmt.Fprintf(f.GetErrWriter(), format+"\n", args...)
}

// GetErrWriter returns ErrWriter if set, otherwise Writer.
func (f *OutputFormatter) GetErrWriter() io.Writer {
	if f.ErrWriter != nil {
		return f.ErrWriter
	}
	return f.Writer
}

var kindColumns = map[core.Kind][]string{
	core.KindLists:    {"name", "description"},
	core.KindItems:    {"name", "quantity", "unit", "price", "checked"},
	core.KindExpenses: {"date", "description", "amount_cents", "primary_category", "secondary_category"},
	core.KindTodos:    {"title", "due_date", "priority", "completed", "notes"},
}

// columnsFor returns the known columns of kind followed by any extra
// fields the backend sent, alphabetically.
func columnsFor(kind core.Kind, records []optimistic.Record) []string {
	known := kindColumns[kind]
	seen := make(map[string]bool, len(known))
	for _, c := range known {
		seen[c] = true
	}
	var extra []string
	for _, r := range records {
		for k := range r.Fields {
			if !seen[k] {
				seen[k] = true
				extra = append(extra, k)
			}
		}
	}
	sort.Strings(extra)
	return append(append([]string(nil), known...), extra...)
}

func upper(in []string) []string {
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = strings.ToUpper(s)
	}
	return out
}
