package cmd

import (
	"fmt"
	"text/tabwriter"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"dmchat/storage"
)

func newUsersCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "users",
		Short: "Manage user records",
	}
	cmd.AddCommand(newUsersAddCmd())
	cmd.AddCommand(newUsersUpdateCmd())
	cmd.AddCommand(newUsersShowCmd())
	cmd.AddCommand(newUsersListCmd())
	return cmd
}

func newUsersAddCmd() *cobra.Command {
	var (
		id      string
		picture string
		about   string
	)
	cmd := &cobra.Command{
		Use:   "add <email> <name>",
		Short: "Create a user",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer e.close()

			if id == "" {
				id = uuid.NewString()
			}
			err = e.store.AddUser(cmd.Context(), storage.User{
				ID:             id,
				Email:          args[0],
				Name:           args[1],
				ProfilePicture: picture,
				About:          about,
			})
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), id)
			return nil
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "user id (default: random UUID)")
	cmd.Flags().StringVar(&picture, "picture", "", "profile picture URL")
	cmd.Flags().StringVar(&about, "about", "", "about text")
	return cmd
}

func newUsersUpdateCmd() *cobra.Command {
	var (
		name    string
		picture string
		about   string
	)
	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Change a user's name, picture or about text",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			flags := cmd.Flags()
			if !flags.Changed("name") && !flags.Changed("picture") && !flags.Changed("about") {
				return fmt.Errorf("nothing to update: pass --name, --picture or --about")
			}

			e, err := openEnv(cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer e.close()

			profile, err := e.store.GetUserProfile(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("user %q: %w", args[0], err)
			}
			if flags.Changed("name") {
				profile.Name = name
			}
			if flags.Changed("picture") {
				profile.ProfilePicture = picture
			}
			if flags.Changed("about") {
				profile.About = about
			}

			if err := e.store.UpdateUserProfile(cmd.Context(), profile.ID, profile.Name, profile.ProfilePicture, profile.About); err != nil {
				return err
			}
			e.log.Info().Str("user_id", profile.ID).Msg("user profile updated")
			return printJSON(cmd.OutOrStdout(), profile)
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "display name")
	cmd.Flags().StringVar(&picture, "picture", "", "profile picture URL")
	cmd.Flags().StringVar(&about, "about", "", "about text")
	return cmd
}

func newUsersShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Print one user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer e.close()

			profile, err := e.store.GetUserProfile(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("user %q: %w", args[0], err)
			}
			return printJSON(cmd.OutOrStdout(), profile)
		},
	}
}

func newUsersListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List users by name",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer e.close()

			users, err := e.store.ListUsers(cmd.Context())
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tNAME\tEMAIL")
			for _, u := range users {
				fmt.Fprintf(tw, "%s\t%s\t%s\n", u.ID, u.Name, u.Email)
			}
			return tw.Flush()
		},
	}
}
