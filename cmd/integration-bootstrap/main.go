// Thin wrapper around session.Manager.Login for seeding a session file
// before integration runs, so CI does not need an interactive login.
//
// Usage: go run ./cmd/integration-bootstrap --session /tmp/session.json
//
// Credentials are read from MSEVAL_E2E_EMAIL and MSEVAL_E2E_PASSWORD; the
// backend from MSEVAL_BASE_URL or the config file.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/tonimelisma/mseval/internal/api"
	"github.com/tonimelisma/mseval/internal/config"
	"github.com/tonimelisma/mseval/internal/session"
	"github.com/tonimelisma/mseval/internal/tokenfile"
)

func main() {
	sessionPath := flag.String("session", "", "session file to write (default: platform data dir)")
	flag.Parse()

	ctx := context.Background()
	logger := slog.Default()

	env := config.ReadEnvOverrides()
	if *sessionPath != "" {
		env.SessionFile = *sessionPath
	}

	cfg, err := config.Resolve(env, config.CLIOverrides{})
	if err != nil {
		fmt.Fprintf(os.Stderr, "loading config: %v\n", err)
		os.Exit(1)
	}

	email, password := os.Getenv("MSEVAL_E2E_EMAIL"), os.Getenv("MSEVAL_E2E_PASSWORD")
	if email == "" || password == "" {
		fmt.Fprintln(os.Stderr, "MSEVAL_E2E_EMAIL and MSEVAL_E2E_PASSWORD must be set")
		os.Exit(1)
	}

	client := api.NewClient(api.Config{
		BaseURL:       cfg.BaseURL,
		Timeout:       cfg.RequestTimeout,
		UploadTimeout: cfg.UploadTimeout,
	}, nil, nil, logger)

	mgr := session.NewManager(tokenfile.NewStore(cfg.SessionPath), client, logger)

	r := mgr.Login(ctx, email, password)
	if !r.Success {
		fmt.Fprintf(os.Stderr, "login failed: %s\n", r.Error)
		os.Exit(1)
	}

	fmt.Printf("Login successful as %s. Session saved to %s.\n", r.Data.Email, cfg.SessionPath)
}
