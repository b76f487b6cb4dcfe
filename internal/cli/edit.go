package cli

import (
	"bufio"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"organizer/internal/backend"
	"organizer/internal/coalesce"
)

// NewEditCommand creates the edit command.
func NewEditCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "edit",
		Short: "Apply field edits read from stdin, batched",
		Long: `Read "<id> field=value ..." lines from stdin and apply them as field
edits. Edits show at once and are saved together when input pauses or
ends; several edits to one record become a single save.

Example:
  printf '12 quantity=2\n12 quantity=3\n14 checked=true\n' | organizer edit -r items --list 7`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := opts.resource()
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			return opts.withSession(ctx, func(res *backend.Result) error {
				col, err := opts.openCollection(ctx, res.Session, cmd.ErrOrStderr())
				if err != nil {
					return err
				}
				out := opts.formatter(cmd)

				edited := map[string]bool{}
				var order []string
				rejected := 0
				sc := bufio.NewScanner(cmd.InOrStdin())
				for lineNo := 1; sc.Scan(); lineNo++ {
					line := strings.TrimSpace(sc.Text())
					if line == "" || strings.HasPrefix(line, "#") {
						continue
					}
					id, patch, err := parseEditLine(r.Kind, line)
					if err == nil {
						err = col.Edit(id, patch)
					}
					if err != nil {
						rejected++
						fmt.Fprintf(out.GetErrWriter(), "line %d: %v\n", lineNo, err)
						continue
					}
					if !edited[id] {
						edited[id] = true
						order = append(order, id)
					}
				}
				if err := sc.Err(); err != nil {
					return WrapExitError(ExitCommandError, "reading edits", err)
				}

				flushErr := col.Flush(ctx)
				saved, failed := 0, 0
				for _, id := range order {
					if state, err := col.SaveState(id); state == coalesce.StateError {
						failed++
						fmt.Fprintf(out.GetErrWriter(), "%s: not saved: %v\n", id, err)
					} else {
						saved++
					}
				}
				out.VerboseLog("%d edit(s) rejected", rejected)
				if err := out.Success(fmt.Sprintf("saved %d record(s), %d failed", saved, failed)); err != nil {
					return err
				}
				if flushErr != nil || rejected > 0 || failed > 0 {
					return WrapExitError(ExitFailure, "some edits were not saved", flushErr)
				}
				return nil
			})
		},
	}
}
