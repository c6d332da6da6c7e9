package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/mseval/internal/api"
	"github.com/tonimelisma/mseval/internal/history"
)

func newProfileCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "profile",
		Short: "View or edit your account",
	}

	cmd.AddCommand(newProfileShowCmd())
	cmd.AddCommand(newProfileUpdateCmd())
	cmd.AddCommand(newProfileDeleteCmd())

	return cmd
}

func newProfileShowCmd() *cobra.Command {
	cmd := newWhoamiCmd()
	cmd.Use = "show"
	cmd.Short = "Show your profile"

	return cmd
}

func newProfileUpdateCmd() *cobra.Command {
	var name, email, institution string

	cmd := &cobra.Command{
		Use:   "update",
		Short: "Change your name, email or institution",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cc := mustCLIContext(cmd.Context())

			if err := cc.requireLogin(); err != nil {
				return err
			}

			var update api.ProfileUpdate

			flags := cmd.Flags()
			if flags.Changed("name") {
				update.FullName = &name
			}

			if flags.Changed("email") {
				update.Email = &email
			}

			if flags.Changed("institution") {
				update.Institution = &institution
			}

			user, err := cc.Client.UpdateProfile(cmd.Context(), update).Unpack()
			if err != nil {
				return err
			}

			if err := cc.Session.RememberUser(user); err != nil {
				cc.Logger.Warn("caching profile", slog.String("error", err.Error()))
			}

			if cc.Flags.JSON {
				return cc.printJSON(user)
			}

			cc.Statusf("Profile updated.\n")

			return nil
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "full name")
	cmd.Flags().StringVar(&email, "email", "", "email address")
	cmd.Flags().StringVar(&institution, "institution", "", "institution (empty clears it)")

	return cmd
}

// errDeleteDeclined is returned when the confirmation prompt is refused.
var errDeleteDeclined = errors.New("account deletion canceled")

func newProfileDeleteCmd() *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "delete",
		Short: "Permanently delete your account",
		Long: `Permanently delete the account and every evaluation and template in it.

Asks for confirmation unless --yes is given, then for the account password.
The local session and history are removed afterwards.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cc := mustCLIContext(cmd.Context())
			ctx := cmd.Context()
			p := cc.prompts()

			if err := cc.requireLogin(); err != nil {
				return err
			}

			if !yes {
				ok, err := p.confirm("Delete your account and all of its data?")
				if err != nil {
					return err
				}

				if !ok {
					return errDeleteDeclined
				}
			}

			password, err := p.secret("Password: ")
			if err != nil {
				return err
			}

			msg, err := cc.Client.DeleteAccount(ctx, password).Unpack()
			if err != nil {
				return err
			}

			if err := cc.Session.Clear(); err != nil {
				return err
			}

			cc.remember(ctx, "clear history", func(h *history.Store) error {
				return h.Clear(ctx)
			})

			return cc.acknowledge(msg, "Account deleted.")
		},
	}

	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "skip the confirmation prompt")

	return cmd
}

func printUser(w io.Writer, u *api.User) {
	fmt.Fprintf(w, "User %s\n", u.ID)
	fmt.Fprintf(w, "  Email:       %s\n", u.Email)

	if u.FullName != "" {
		fmt.Fprintf(w, "  Name:        %s\n", u.FullName)
	}

	if u.Institution != "" {
		fmt.Fprintf(w, "  Institution: %s\n", u.Institution)
	}

	verified := "no"
	if u.IsVerified {
		verified = "yes"
	}

	fmt.Fprintf(w, "  Verified:    %s\n", verified)

	if !u.CreatedAt.IsZero() {
		fmt.Fprintf(w, "  Member since %s\n", u.CreatedAt.Format("January 2006"))
	}
}
