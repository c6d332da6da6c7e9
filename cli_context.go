package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"

	"github.com/tonimelisma/mseval/internal/api"
	"github.com/tonimelisma/mseval/internal/config"
	"github.com/tonimelisma/mseval/internal/history"
	"github.com/tonimelisma/mseval/internal/session"
)

// CLIFlags is the parsed value of the persistent flags.
type CLIFlags struct {
	ConfigPath string
	BaseURL    string
	BaseURLSet bool
	JSON       bool
	Verbose    bool
	Debug      bool
	Quiet      bool
}

// CLIContext carries everything a command needs. It is built once per
// invocation by the root PersistentPreRunE and stored in the command context.
type CLIContext struct {
	Flags   CLIFlags
	Cfg     *config.Resolved
	Logger  *slog.Logger
	Session *session.Manager
	Client  *api.Client

	In  io.Reader
	Out io.Writer
	Err io.Writer

	logFile *os.File
	prompt  *prompter
}

type cliContextKey struct{}

func withCLIContext(ctx context.Context, cc *CLIContext) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}

	return context.WithValue(ctx, cliContextKey{}, cc)
}

// cliContextFrom returns the CLIContext, or nil outside a command run.
func cliContextFrom(ctx context.Context) *CLIContext {
	if ctx == nil {
		return nil
	}

	cc, _ := ctx.Value(cliContextKey{}).(*CLIContext)

	return cc
}

// mustCLIContext is cliContextFrom for commands, which always run after the
// root pre-run.
func mustCLIContext(ctx context.Context) *CLIContext {
	cc := cliContextFrom(ctx)
	if cc == nil {
		panic("mseval: command run without CLIContext")
	}

	return cc
}

// Close releases the log file, if any.
func (cc *CLIContext) Close() error {
	if cc.logFile == nil {
		return nil
	}

	err := cc.logFile.Close()
	cc.logFile = nil

	return err
}

// requireLogin fails fast, without a network round-trip, when no session is
// stored.
func (cc *CLIContext) requireLogin() error {
	if cc.Session.IsAuthenticated() {
		return nil
	}

	return &api.Failure{
		Message: api.UserMessage(api.ErrNotLoggedIn) + " Run 'mseval login' first.",
		Err:     api.ErrNotLoggedIn,
	}
}

// watchSession follows the session file while a long-running command works,
// so a logout or login from another terminal takes effect immediately. The
// returned stop function ends the watch and waits for it.
func (cc *CLIContext) watchSession(ctx context.Context) (stop func()) {
	ctx, cancel := context.WithCancel(ctx)

	var wg sync.WaitGroup

	wg.Add(1)

	go func() {
		defer wg.Done()

		if err := cc.Session.Watch(ctx); err != nil {
			cc.Logger.Debug("session watch unavailable", slog.String("error", err.Error()))
		}
	}()

	return func() {
		cancel()
		wg.Wait()
	}
}

// withHistory opens the local history database for the duration of fn.
func (cc *CLIContext) withHistory(ctx context.Context, fn func(*history.Store) error) error {
	store, err := history.Open(ctx, cc.Cfg.HistoryPath, cc.Logger)
	if err != nil {
		return err
	}

	defer func() {
		if cerr := store.Close(); cerr != nil {
			cc.Logger.Warn("closing history database", slog.String("error", cerr.Error()))
		}
	}()

	return fn(store)
}

// remember updates the local history without failing the command: the cache
// is a convenience, the backend is the source of truth.
func (cc *CLIContext) remember(ctx context.Context, what string, fn func(*history.Store) error) {
	if err := cc.withHistory(ctx, fn); err != nil {
		cc.Logger.Warn("updating local history",
			slog.String("operation", what),
			slog.String("error", err.Error()),
		)
	}
}

// cacheEvaluations stores fresh records for "list --offline".
func (cc *CLIContext) cacheEvaluations(ctx context.Context, evals ...api.Evaluation) {
	cc.remember(ctx, "cache evaluations", func(h *history.Store) error {
		return h.UpsertEvaluations(ctx, evals)
	})
}

// printJSON writes v as indented JSON to stdout.
func (cc *CLIContext) printJSON(v any) error {
	enc := json.NewEncoder(cc.Out)
	enc.SetIndent("", "  ")

	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encoding JSON output: %w", err)
	}

	return nil
}
