package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/cuongbtq/dubbing-be/internal/bootstrap"
	"github.com/cuongbtq/dubbing-be/internal/ytid"
)

func newMigrateCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or verify the database schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return ctx.withApp(cmd, false, func(app *bootstrap.App) error {
				if err := app.Store.Migrate(cmd.Context()); err != nil {
					return fmt.Errorf("migrate: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Schema ready (%s)\n", app.Store.Driver())
				return nil
			})
		},
	}
}

func newRolesCommand(ctx *commandContext) *cobra.Command {
	rolesCmd := &cobra.Command{
		Use:   "roles",
		Short: "Inspect and assign user roles",
	}

	rolesCmd.AddCommand(&cobra.Command{
		Use:   "get <uid>",
		Short: "Show the roles of a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withApp(cmd, false, func(app *bootstrap.App) error {
				roles, err := app.Roles.Roles(cmd.Context(), operator, args[0])
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", args[0], formatRoles(roles.Strings()))
				return nil
			})
		},
	})

	rolesCmd.AddCommand(&cobra.Command{
		Use:   "set <uid> [role...]",
		Short: "Replace the roles of a user and revoke their sessions",
		Long:  "Replace the roles of a user. Passing no roles clears them. Existing sessions of the user are revoked.",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withApp(cmd, false, func(app *bootstrap.App) error {
				roles, err := app.Roles.SetRoles(cmd.Context(), operator, args[0], args[1:])
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", args[0], formatRoles(roles.Strings()))
				return nil
			})
		},
	})

	return rolesCmd
}

func formatRoles(roles []string) string {
	if len(roles) == 0 {
		return "(none)"
	}
	return strings.Join(roles, ",")
}

func newSessionCommand(ctx *commandContext) *cobra.Command {
	sessionCmd := &cobra.Command{
		Use:   "session",
		Short: "Manage bearer sessions",
	}

	var email string
	issueCmd := &cobra.Command{
		Use:   "issue <uid>",
		Short: "Issue a bearer token for a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withApp(cmd, false, func(app *bootstrap.App) error {
				token, err := app.Verifier.Issue(cmd.Context(), args[0], email)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), token)
				return nil
			})
		},
	}
	issueCmd.Flags().StringVar(&email, "email", "", "Email recorded on the session")
	sessionCmd.AddCommand(issueCmd)

	return sessionCmd
}

func newIngestCommand(ctx *commandContext) *cobra.Command {
	var noDispatch bool
	cmd := &cobra.Command{
		Use:   "ingest <url-or-id>",
		Short: "Register a video and start the localization pipeline",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			videoID, err := ytid.Extract(args[0])
			if err != nil {
				return err
			}
			return ctx.withApp(cmd, !noDispatch, func(app *bootstrap.App) error {
				jobID, err := app.Orchestrator.Ingest(cmd.Context(), operator, videoID)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "video %s job %s\n", videoID, jobID)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&noDispatch, "no-dispatch", false, "Leave the job queued for the watchdog instead of publishing it")
	return cmd
}
