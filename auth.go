package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/mseval/internal/api"
	"github.com/tonimelisma/mseval/internal/history"
)

func newLoginCmd() *cobra.Command {
	var email string

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in with email and password",
		Long: `Sign in and store the session on disk.

The password is read from the terminal without echo. When stdin is not a
terminal, the email (unless --email is given) and the password are read as
lines, so credentials can be piped in.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runLogin(cmd, email)
		},
	}

	cmd.Flags().StringVar(&email, "email", "", "account email")

	return cmd
}

func newSignupCmd() *cobra.Command {
	var email, name, institution string

	cmd := &cobra.Command{
		Use:   "signup",
		Short: "Create an account and sign in",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runSignup(cmd, email, name, institution)
		},
	}

	cmd.Flags().StringVar(&email, "email", "", "account email")
	cmd.Flags().StringVar(&name, "name", "", "full name")
	cmd.Flags().StringVar(&institution, "institution", "", "institution (optional)")

	return cmd
}

func newLogoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Sign out and remove the stored session",
		Long: `Notify the backend, then remove the stored session and the local
evaluation history. The local session is removed even when the backend
cannot be reached.`,
		Args: cobra.NoArgs,
		RunE: runLogout,
	}
}

func newWhoamiCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Display the signed-in user",
		Args:  cobra.NoArgs,
		RunE:  runWhoami,
	}
}

func runLogin(cmd *cobra.Command, email string) error {
	cc := mustCLIContext(cmd.Context())

	email, err := cc.valueOrPrompt(email, "Email: ")
	if err != nil {
		return err
	}

	password, err := cc.prompts().secret("Password: ")
	if err != nil {
		return err
	}

	cc.Logger.Info("login started", slog.String("email", email))

	user, err := cc.Session.Login(cmd.Context(), email, password).Unpack()
	if err != nil {
		return err
	}

	cc.Logger.Info("login successful", slog.String("user_id", user.ID.String()))

	if cc.Flags.JSON {
		return cc.printJSON(user)
	}

	cc.Statusf("Logged in as %s.\n", displayName(&user))

	return nil
}

func runSignup(cmd *cobra.Command, email, name, institution string) error {
	cc := mustCLIContext(cmd.Context())
	p := cc.prompts()

	email, err := cc.valueOrPrompt(email, "Email: ")
	if err != nil {
		return err
	}

	name, err = cc.valueOrPrompt(name, "Full name: ")
	if err != nil {
		return err
	}

	password, err := p.secret("Password: ")
	if err != nil {
		return err
	}

	confirm, err := p.secret("Confirm password: ")
	if err != nil {
		return err
	}

	user, err := cc.Session.Signup(cmd.Context(), api.Signup{
		Email:           email,
		Password:        password,
		ConfirmPassword: confirm,
		FullName:        name,
		Institution:     institution,
	}).Unpack()
	if err != nil {
		return err
	}

	cc.Logger.Info("signup successful", slog.String("user_id", user.ID.String()))

	if cc.Flags.JSON {
		return cc.printJSON(user)
	}

	cc.Statusf("Account created. Logged in as %s.\n", displayName(&user))

	return nil
}

func runLogout(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())

	cc.Logger.Info("logout started")

	if err := cc.Session.Logout(cmd.Context()); err != nil {
		return err
	}

	cc.remember(cmd.Context(), "clear history", func(h *history.Store) error {
		return h.Clear(cmd.Context())
	})

	cc.Statusf("Logged out.\n")

	return nil
}

func runWhoami(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())

	if err := cc.requireLogin(); err != nil {
		return err
	}

	user, err := cc.Client.GetProfile(cmd.Context()).Unpack()
	if err != nil {
		return err
	}

	if err := cc.Session.RememberUser(user); err != nil {
		cc.Logger.Warn("caching profile", slog.String("error", err.Error()))
	}

	if cc.Flags.JSON {
		return cc.printJSON(user)
	}

	printUser(cc.Out, &user)

	return nil
}

func newPasswordCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "password",
		Short: "Change or reset the account password",
	}

	cmd.AddCommand(newPasswordForgotCmd())
	cmd.AddCommand(newPasswordVerifyCmd())
	cmd.AddCommand(newPasswordResetCmd())
	cmd.AddCommand(newPasswordChangeCmd())

	return cmd
}

func newPasswordForgotCmd() *cobra.Command {
	var email string

	cmd := &cobra.Command{
		Use:   "forgot",
		Short: "Email a password reset link",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cc := mustCLIContext(cmd.Context())

			email, err := cc.valueOrPrompt(email, "Email: ")
			if err != nil {
				return err
			}

			msg, err := cc.Client.ForgotPassword(cmd.Context(), email).Unpack()
			if err != nil {
				return err
			}

			return cc.acknowledge(msg, "If the address is registered, a reset link is on its way.")
		},
	}

	cmd.Flags().StringVar(&email, "email", "", "account email")

	return cmd
}

func newPasswordVerifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "verify <token>",
		Short: "Check a password reset token",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cc := mustCLIContext(cmd.Context())

			st, err := cc.Client.VerifyResetToken(cmd.Context(), args[0]).Unpack()
			if err != nil {
				return err
			}

			if cc.Flags.JSON {
				return cc.printJSON(st)
			}

			if !st.Valid {
				return fmt.Errorf("the reset link is invalid or has expired")
			}

			if st.Email != "" {
				fmt.Fprintf(cc.Out, "Reset token is valid for %s.\n", st.Email)
			} else {
				fmt.Fprintln(cc.Out, "Reset token is valid.")
			}

			return nil
		},
	}
}

func newPasswordResetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reset <token>",
		Short: "Set a new password with a reset token",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cc := mustCLIContext(cmd.Context())

			password, confirm, err := cc.newPassword()
			if err != nil {
				return err
			}

			msg, err := cc.Client.ResetPassword(cmd.Context(), args[0], password, confirm).Unpack()
			if err != nil {
				return err
			}

			return cc.acknowledge(msg, "Password reset. You can now log in.")
		},
	}
}

func newPasswordChangeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "change",
		Short: "Change the password of the signed-in account",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cc := mustCLIContext(cmd.Context())

			if err := cc.requireLogin(); err != nil {
				return err
			}

			current, err := cc.prompts().secret("Current password: ")
			if err != nil {
				return err
			}

			password, confirm, err := cc.newPassword()
			if err != nil {
				return err
			}

			msg, err := cc.Client.ChangePassword(cmd.Context(), current, password, confirm).Unpack()
			if err != nil {
				return err
			}

			return cc.acknowledge(msg, "Password changed.")
		},
	}
}

// newPassword asks for a new password twice.
func (cc *CLIContext) newPassword() (password, confirm string, err error) {
	p := cc.prompts()

	if password, err = p.secret("New password: "); err != nil {
		return "", "", err
	}

	if confirm, err = p.secret("Confirm new password: "); err != nil {
		return "", "", err
	}

	return password, confirm, nil
}

// acknowledge reports an acknowledgement-only response, preferring the
// server's own wording.
func (cc *CLIContext) acknowledge(msg api.Message, fallback string) error {
	if cc.Flags.JSON {
		return cc.printJSON(msg)
	}

	text := msg.Message
	if text == "" {
		text = fallback
	}

	cc.Statusf("%s\n", text)

	return nil
}

func displayName(u *api.User) string {
	if u.FullName != "" && u.Email != "" {
		return fmt.Sprintf("%s <%s>", u.FullName, u.Email)
	}

	if u.Email != "" {
		return u.Email
	}

	return u.FullName
}
