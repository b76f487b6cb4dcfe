package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"organizer/internal/backend"
)

// NewAddCommand creates the add command.
func NewAddCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "add field=value...",
		Short: "Add a record",
		Long: `Add a record to a resource and print it with its assigned id.

Example:
  organizer add -r todos title="Call plumber" priority=high
  organizer add -r expenses date=2026-03-14 description=Lunch amount=12.50 primary_category=Food`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := opts.resource()
			if err != nil {
				return err
			}
			fields, err := parseFields(r.Kind, args)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			return opts.withSession(ctx, func(res *backend.Result) error {
				col, err := res.Session.Collection(r)
				if err != nil {
					return err
				}
				created, err := col.Add(ctx, fields)
				if err != nil {
					return WrapExitError(ExitFailure, "add failed", err)
				}
				return opts.formatter(cmd).Record(r.Kind, created)
			})
		},
	}
}

// NewUpdateCommand creates the update command.
func NewUpdateCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "update <id> field=value...",
		Short: "Change fields of a record",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := opts.resource()
			if err != nil {
				return err
			}
			patch, err := parseFields(r.Kind, args[1:])
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			return opts.withSession(ctx, func(res *backend.Result) error {
				col, err := opts.openCollection(ctx, res.Session, cmd.ErrOrStderr())
				if err != nil {
					return err
				}
				updated, err := col.Update(ctx, args[0], patch)
				if err != nil {
					return WrapExitError(ExitFailure, "update failed", err)
				}
				return opts.formatter(cmd).Record(r.Kind, updated)
			})
		},
	}
}

// NewRemoveCommand creates the remove command.
func NewRemoveCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:     "remove <id>",
		Aliases: []string{"rm"},
		Short:   "Remove a record",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			return opts.withSession(ctx, func(res *backend.Result) error {
				col, err := opts.openCollection(ctx, res.Session, cmd.ErrOrStderr())
				if err != nil {
					return err
				}
				if err := col.Remove(ctx, args[0]); err != nil {
					return WrapExitError(ExitFailure, "remove failed", err)
				}
				return opts.formatter(cmd).Success(fmt.Sprintf("removed %s", args[0]))
			})
		},
	}
}
