package cli

import (
	"fmt"
	"strconv"
	"strings"

	"organizer/internal/core"
)

// parseFields reads key=value arguments. "true" and "false" become
// booleans; for expenses "amount=12.50" is accepted in place of
// amount_cents.
func parseFields(kind core.Kind, args []string) (core.Fields, error) {
	if len(args) == 0 {
		return nil, NewExitError(ExitCommandError, "expected at least one field=value")
	}
	fields := make(core.Fields, len(args))
	for _, arg := range args {
		k, v, ok := strings.Cut(arg, "=")
		k = strings.TrimSpace(k)
		if !ok || k == "" {
			return nil, NewExitError(ExitCommandError, fmt.Sprintf("invalid field %q: want field=value", arg))
		}
		if k == "id" {
			return nil, NewExitError(ExitCommandError, "id cannot be set")
		}

		if kind == core.KindExpenses && k == "amount" {
			cents, err := core.ParseDecimalToCents(v)
			if err != nil {
				return nil, WrapExitError(ExitCommandError, fmt.Sprintf("invalid amount %q", v), err)
			}
			fields["amount_cents"] = cents
			continue
		}
		if b, err := strconv.ParseBool(v); err == nil && (v == "true" || v == "false") {
			fields[k] = b
			continue
		}
		fields[k] = v
	}
	return fields, nil
}

// parseEditLine reads "<id> field=value ..." as fed to the edit command.
func parseEditLine(kind core.Kind, line string) (string, core.Patch, error) {
	parts := strings.Fields(line)
	if len(parts) < 2 {
		return "", nil, fmt.Errorf("invalid edit %q: want <id> field=value", line)
	}
	fields, err := parseFields(kind, parts[1:])
	if err != nil {
		return "", nil, err
	}
	return parts[0], core.Patch(fields), nil
}
