package cli

import (
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"organizer/internal/backend"
)

type saveErrorJSON struct {
	Resource string    `json:"resource"`
	ID       string    `json:"id"`
	Message  string    `json:"message"`
	FailedAt time.Time `json:"failed_at"`
}

// NewStatusCommand creates the status command.
func NewStatusCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "List edits that failed to save",
		Long: `List batched edits whose last save failed and has not succeeded since.
Without an explicit --resource every resource is listed.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			resource := ""
			if cmd.Flags().Changed("resource") {
				r, err := opts.resource()
				if err != nil {
					return err
				}
				resource = r.Key()
			}

			ctx := cmd.Context()
			return opts.withSession(ctx, func(res *backend.Result) error {
				if res.Snapshots == nil {
					return NewExitError(ExitCommandError, "save errors are not kept: SQLITE_DB_PATH is empty")
				}
				errs, err := res.Session.SaveErrors(ctx, resource)
				if err != nil {
					return err
				}

				out := opts.formatter(cmd)
				if out.Format == "json" {
					rows := make([]saveErrorJSON, len(errs))
					for i, se := range errs {
						rows[i] = saveErrorJSON{Resource: se.Resource, ID: se.EntityID, Message: se.Message, FailedAt: se.FailedAt}
					}
					return out.Success(rows)
				}
				if len(errs) == 0 {
					return out.Success("all edits saved")
				}
				tw := tabwriter.NewWriter(out.Writer, 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, strings.Join([]string{"RESOURCE", "ID", "FAILED AT", "ERROR"}, "\t"))
				for _, se := range errs {
					fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", se.Resource, se.EntityID, se.FailedAt.Local().Format(time.DateTime), se.Message)
				}
				return tw.Flush()
			})
		},
	}
}
