package cli

import (
	"github.com/spf13/cobra"

	"organizer/internal/backend"
	"organizer/internal/core"
)

// ShowOptions holds flags for the show command.
type ShowOptions struct {
	*RootOptions
	Search string
	Where  []string
	SortBy string
	Desc   bool
	Limit  int
}

// NewShowCommand creates the show command.
func NewShowCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ShowOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show the records of a resource",
		Long: `Fetch a resource and print it, filtered and sorted.

Example:
  organizer show -r todos --search plumber --sort due_date
  organizer show -r items --list 7 --where checked=false`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runShow(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.Search, "search", "", "case-insensitive text search over all fields")
	cmd.Flags().StringArrayVar(&opts.Where, "where", nil, "field=value filter, repeatable")
	cmd.Flags().StringVar(&opts.SortBy, "sort", "", "field to sort by")
	cmd.Flags().BoolVar(&opts.Desc, "desc", false, "sort descending")
	cmd.Flags().IntVar(&opts.Limit, "limit", 0, "maximum number of records (0 = all)")

	return cmd
}

func runShow(cmd *cobra.Command, opts *ShowOptions) error {
	equals, err := core.ParseEquals(opts.Where)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid --where", err)
	}
	q := core.Query{Search: opts.Search, Equals: equals, SortBy: opts.SortBy, Desc: opts.Desc, Limit: opts.Limit}

	ctx := cmd.Context()
	return opts.withSession(ctx, func(res *backend.Result) error {
		col, err := opts.openCollection(ctx, res.Session, cmd.ErrOrStderr())
		if err != nil {
			return err
		}
		return opts.formatter(cmd).Records(col.Resource().Kind, col.View(q))
	})
}
