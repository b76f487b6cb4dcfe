package cli

import (
	"context"
	"errors"

	"github.com/spf13/cobra"

	"organizer/internal/backend"
	"organizer/internal/core"
)

// NewWatchCommand creates the watch command.
func NewWatchCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Print a resource again whenever another client changes it",
		Long: `Show a resource, then follow the AMQP change stream and show it again
each time another client changes it. Runs until interrupted.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			return opts.withSession(ctx, func(res *backend.Result) error {
				if res.AMQP == nil {
					return NewExitError(ExitCommandError, "watch needs a reachable broker: set AMQP_URL")
				}
				col, err := opts.openCollection(ctx, res.Session, cmd.ErrOrStderr())
				if err != nil {
					return err
				}
				out := opts.formatter(cmd)
				kind := col.Resource().Kind
				if err := out.Records(kind, col.View(core.Query{})); err != nil {
					return err
				}

				changed, unsubscribe := col.Subscribe()
				defer unsubscribe()
				go func() {
					for {
						select {
						case <-ctx.Done():
							return
						case <-changed:
							_ = out.Records(kind, col.View(core.Query{}))
						}
					}
				}()

				err = res.Session.Follow(ctx, res.AMQP)
				if errors.Is(err, context.Canceled) {
					return nil
				}
				return err
			})
		},
	}
}
