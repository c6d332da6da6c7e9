package main

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/mseval/internal/session"
)

// Token state constants for status reporting.
const (
	tokenStateMissing = "missing"
	tokenStateExpired = "expired"
	tokenStateValid   = "valid"
)

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show session and backend status",
		Long: `Display the stored session and the backend it talks to.

Reads the session file only and makes no network request. An expired access
token is not a problem while a refresh token is stored: the next request
renews it.`,
		Args: cobra.NoArgs,
		RunE: runStatus,
	}
}

// statusOutput is the JSON schema for `status --json`.
type statusOutput struct {
	LoggedIn    bool       `json:"logged_in"`
	Email       string     `json:"email,omitempty"`
	FullName    string     `json:"full_name,omitempty"`
	UserID      string     `json:"user_id,omitempty"`
	TokenState  string     `json:"token_state"`
	TokenExpiry *time.Time `json:"token_expiry,omitempty"`
	CanRefresh  bool       `json:"can_refresh"`
	SessionFile string     `json:"session_file"`
	BaseURL     string     `json:"base_url"`
	Environment string     `json:"environment"`
	ConfigFile  string     `json:"config_file"`
	HistoryFile string     `json:"history_file"`
}

func runStatus(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())

	out := buildStatus(cc.Session.Status(), time.Now())
	out.BaseURL = cc.Cfg.BaseURL
	out.Environment = cc.Cfg.Environment
	out.ConfigFile = cc.Cfg.ConfigPath
	out.HistoryFile = cc.Cfg.HistoryPath

	if cc.Flags.JSON {
		return cc.printJSON(out)
	}

	printStatus(cc.Out, &out)

	return nil
}

// buildStatus maps a session snapshot to the output schema.
func buildStatus(st session.Status, now time.Time) statusOutput {
	out := statusOutput{
		LoggedIn:    st.LoggedIn,
		TokenState:  tokenState(st, now),
		CanRefresh:  st.HasRefreshToken,
		SessionFile: st.Path,
	}

	if !st.Expiry.IsZero() {
		exp := st.Expiry
		out.TokenExpiry = &exp
	}

	if st.User != nil {
		out.Email = st.User.Email
		out.FullName = st.User.FullName
		out.UserID = st.User.ID.String()
	}

	return out
}

// tokenState treats an unknown expiry as valid: the backend decides.
func tokenState(st session.Status, now time.Time) string {
	switch {
	case !st.LoggedIn:
		return tokenStateMissing
	case !st.Expiry.IsZero() && !now.Before(st.Expiry):
		return tokenStateExpired
	default:
		return tokenStateValid
	}
}

func printStatus(w io.Writer, s *statusOutput) {
	if s.LoggedIn {
		who := s.Email
		if s.FullName != "" {
			who = fmt.Sprintf("%s <%s>", s.FullName, s.Email)
		}

		if who == "" {
			who = "(unknown user)"
		}

		fmt.Fprintf(w, "Account:     %s\n", who)
	} else {
		fmt.Fprintln(w, "Account:     not logged in")
	}

	token := s.TokenState
	if s.TokenExpiry != nil {
		token = fmt.Sprintf("%s (expires %s)", token, formatTime(*s.TokenExpiry))
	}

	if s.LoggedIn && s.TokenState == tokenStateExpired && s.CanRefresh {
		token += ", renews on next request"
	}

	fmt.Fprintf(w, "Token:       %s\n", token)
	fmt.Fprintf(w, "Backend:     %s (%s)\n", s.BaseURL, s.Environment)
	fmt.Fprintf(w, "Session:     %s\n", s.SessionFile)
	fmt.Fprintf(w, "Config:      %s\n", s.ConfigFile)
	fmt.Fprintf(w, "History:     %s\n", s.HistoryFile)
}
