// Package cli is the organizer command line: it opens a session on one
// resource and runs a single action against it.
package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"organizer/internal/backend"
	"organizer/internal/core"
	"organizer/internal/services"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose  bool
	Format   string // "json" | "text"
	Resource string
	ListID   string

	// Connect wires the session a command runs against.
	Connect func(ctx context.Context, opts *RootOptions) (*backend.Result, error)
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command wired to the environment.
func NewRootCommand() *cobra.Command {
	return NewRootCommandWith(&RootOptions{Connect: Connect})
}

// NewRootCommandWith creates the root command around opts.
func NewRootCommandWith(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "organizer",
		Short: "Lists, todos and expenses with optimistic updates",
		Long: `Organizer works on one resource of the remote organizer backend.

Changes show locally at once and are reconciled with the backend; field
edits are batched and saved when typing pauses.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			return nil
		},
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVarP(&opts.Resource, "resource", "r", string(core.KindTodos), "resource (lists|items|expenses|todos)")
	cmd.PersistentFlags().StringVar(&opts.ListID, "list", "", "list id, required for items")

	cmd.AddCommand(NewShowCommand(opts))
	cmd.AddCommand(NewAddCommand(opts))
	cmd.AddCommand(NewUpdateCommand(opts))
	cmd.AddCommand(NewRemoveCommand(opts))
	cmd.AddCommand(NewEditCommand(opts))
	cmd.AddCommand(NewStatusCommand(opts))
	cmd.AddCommand(NewWatchCommand(opts))

	return cmd
}

// isValidFormat checks if the format is one of the allowed values.
func isValidFormat(format string) bool {
	for _, f := range ValidFormats {
		if f == format {
			return true
		}
	}
	return false
}

func (o *RootOptions) resource() (core.Resource, error) {
	r, err := core.NewResource(core.Kind(o.Resource), o.ListID)
	if err != nil {
		return core.Resource{}, WrapExitError(ExitCommandError, "invalid resource", err)
	}
	return r, nil
}

func (o *RootOptions) formatter(cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    o.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   o.Verbose,
	}
}

// withSession connects, runs fn and always cleans up. A cleanup failure
// (typically a final flush) is reported when fn itself succeeded.
func (o *RootOptions) withSession(ctx context.Context, fn func(*backend.Result) error) (err error) {
	if o.Connect == nil {
		return NewExitError(ExitCommandError, "no backend configured")
	}
	result, err := o.Connect(ctx, o)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := result.Cleanup(context.WithoutCancel(ctx)); cerr != nil && err == nil {
			err = WrapExitError(ExitFailure, "saving pending changes failed", cerr)
		}
	}()
	return fn(result)
}

// openCollection opens the selected resource, falling back to the last
// snapshot when the backend cannot be reached.
func (o *RootOptions) openCollection(ctx context.Context, sess *services.Session, stderr io.Writer) (*services.Collection, error) {
	r, err := o.resource()
	if err != nil {
		return nil, err
	}
	col, err := sess.Open(ctx, r)
	if col == nil {
		return nil, err
	}
	if err != nil {
		if len(col.View(core.Query{})) == 0 {
			return nil, fmt.Errorf("load %s: %w", r, err)
		}
		fmt.Fprintf(stderr, "warning: showing saved copy of %s: %v\n", r, err)
	}
	return col, nil
}
