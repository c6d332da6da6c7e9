package main

import (
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/tonimelisma/mseval/internal/api"
	"github.com/tonimelisma/mseval/internal/config"
	"github.com/tonimelisma/mseval/internal/session"
	"github.com/tonimelisma/mseval/internal/tokenfile"
)

// version is set at build time via ldflags.
var version = "dev"

// Global persistent flags, bound in newRootCmd().
var (
	flagConfigPath string
	flagBaseURL    string
	flagJSON       bool
	flagVerbose    bool
	flagDebug      bool
	flagQuiet      bool
)

// keepAlive is the TCP keep-alive period of the backend connection pool.
const keepAlive = 30 * time.Second

// newRootCmd builds the fully-assembled root command. Called once from
// main(), and once per case in tests.
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "mseval",
		Short:   "Manuscript evaluation client",
		Long:    "Submit manuscripts for evaluation, follow their progress, and download the reports.",
		Version: version,
		// Errors are printed by main with the friendly backend message.
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if !needsSetup(cmd) {
				return nil
			}

			cc, err := newCLIContext(cmd)
			if err != nil {
				return err
			}

			cmd.SetContext(withCLIContext(cmd.Context(), cc))

			return nil
		},
		PersistentPostRunE: func(cmd *cobra.Command, _ []string) error {
			if cc := cliContextFrom(cmd.Context()); cc != nil {
				return cc.Close()
			}

			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&flagConfigPath, "config", "", "config file path")
	cmd.PersistentFlags().StringVar(&flagBaseURL, "base-url", "", "backend API base URL (overrides config and "+config.EnvBaseURL+")")
	cmd.PersistentFlags().BoolVar(&flagJSON, "json", false, "output in JSON format")
	cmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "show informational log messages")
	cmd.PersistentFlags().BoolVar(&flagDebug, "debug", false, "show debug log messages, including every HTTP request")
	cmd.PersistentFlags().BoolVarP(&flagQuiet, "quiet", "q", false, "only print errors and requested output")
	cmd.MarkFlagsMutuallyExclusive("verbose", "debug", "quiet")

	cmd.AddCommand(newLoginCmd())
	cmd.AddCommand(newSignupCmd())
	cmd.AddCommand(newLogoutCmd())
	cmd.AddCommand(newWhoamiCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newPasswordCmd())
	cmd.AddCommand(newEvaluateCmd())
	cmd.AddCommand(newWaitCmd())
	cmd.AddCommand(newListCmd())
	cmd.AddCommand(newShowCmd())
	cmd.AddCommand(newUpdateCmd())
	cmd.AddCommand(newRmCmd())
	cmd.AddCommand(newDownloadCmd())
	cmd.AddCommand(newDownloadsCmd())
	cmd.AddCommand(newTemplateCmd())
	cmd.AddCommand(newProfileCmd())
	cmd.AddCommand(newConfigCmd())

	return cmd
}

// needsSetup reports whether cmd runs against the backend. Help and shell
// completion must work even with a broken config file.
func needsSetup(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		switch c.Name() {
		case "help", "completion", cobra.ShellCompRequestCmd, cobra.ShellCompNoDescRequestCmd:
			return false
		}
	}

	return true
}

// currentFlags snapshots the global flags after Cobra has parsed them.
func currentFlags(cmd *cobra.Command) CLIFlags {
	return CLIFlags{
		ConfigPath: flagConfigPath,
		BaseURL:    flagBaseURL,
		BaseURLSet: cmd.Flags().Changed("base-url"),
		JSON:       flagJSON,
		Verbose:    flagVerbose,
		Debug:      flagDebug,
		Quiet:      flagQuiet,
	}
}

// newCLIContext resolves configuration and wires the logger, the session
// manager and the authenticated API client.
func newCLIContext(cmd *cobra.Command) (*CLIContext, error) {
	flags := currentFlags(cmd)

	cli := config.CLIOverrides{ConfigPath: flags.ConfigPath}
	if flags.BaseURLSet {
		cli.BaseURL = &flags.BaseURL
	}

	cfg, err := config.Resolve(config.ReadEnvOverrides(), cli)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	logger, logFile, err := buildLogger(cfg, flags, cmd.ErrOrStderr())
	if err != nil {
		return nil, err
	}

	apiCfg := api.Config{
		BaseURL:       cfg.BaseURL,
		Timeout:       cfg.RequestTimeout,
		UploadTimeout: cfg.UploadTimeout,
		UserAgent:     userAgent(cfg),
		MaxUploadSize: cfg.MaxFileSize,
	}

	hc := defaultHTTPClient(cfg)

	// The manager refreshes through an anonymous client; the client handed to
	// commands authenticates through the manager.
	anon := api.NewClient(apiCfg, hc, nil, logger)
	mgr := session.NewManager(tokenfile.NewStore(cfg.SessionPath), anon, logger)

	if err := mgr.Init(); err != nil {
		logger.Warn("ignoring unreadable session file",
			slog.String("path", cfg.SessionPath),
			slog.String("error", err.Error()),
		)
	}

	logger.Debug("configuration resolved",
		slog.String("config", cfg.ConfigPath),
		slog.String("base_url", cfg.BaseURL),
		slog.String("environment", cfg.Environment),
	)

	return &CLIContext{
		Flags:   flags,
		Cfg:     cfg,
		Logger:  logger,
		Session: mgr,
		Client:  api.NewClient(apiCfg, hc, mgr, logger),
		In:      cmd.InOrStdin(),
		Out:     cmd.OutOrStdout(),
		Err:     cmd.ErrOrStderr(),
		logFile: logFile,
	}, nil
}

// defaultHTTPClient bounds connection setup only. Each request carries its
// own deadline from the API client, which differs for uploads.
func defaultHTTPClient(cfg *config.Resolved) *http.Client {
	dialer := &net.Dialer{Timeout: cfg.ConnectTimeout, KeepAlive: keepAlive}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.DialContext = dialer.DialContext
	transport.TLSHandshakeTimeout = cfg.ConnectTimeout

	return &http.Client{Transport: transport}
}

func userAgent(cfg *config.Resolved) string {
	if cfg.UserAgent != "" {
		return cfg.UserAgent
	}

	return "mseval/" + version
}

// buildLogger creates the logger from the [logging] section and the CLI
// flags. A log file, when configured, replaces stderr.
func buildLogger(cfg *config.Resolved, flags CLIFlags, stderr io.Writer) (*slog.Logger, *os.File, error) {
	var (
		out     = stderr
		logFile *os.File
	)

	if cfg.LogFile != "" {
		f, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
		if err != nil {
			return nil, nil, fmt.Errorf("opening log file: %w", err)
		}

		out, logFile = f, f
	}

	opts := &slog.HandlerOptions{Level: logLevel(cfg.LogLevel, flags)}

	if logFormat(cfg.LogFormat, isTerminal(out)) == "json" {
		return slog.New(slog.NewJSONHandler(out, opts)), logFile, nil
	}

	return slog.New(slog.NewTextHandler(out, opts)), logFile, nil
}

// logLevel applies the config level, then lets the CLI flags override it.
func logLevel(configured string, flags CLIFlags) slog.Level {
	level := slog.LevelWarn

	switch configured {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "error":
		level = slog.LevelError
	}

	switch {
	case flags.Debug:
		level = slog.LevelDebug
	case flags.Verbose:
		level = slog.LevelInfo
	case flags.Quiet:
		level = slog.LevelError
	}

	return level
}

// logFormat resolves "auto": text for a terminal, JSON otherwise.
func logFormat(configured string, terminal bool) string {
	if configured != "auto" && configured != "" {
		return configured
	}

	if terminal {
		return "text"
	}

	return "json"
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}

	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// exitOnError prints the error and exits non-zero.
func exitOnError(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}
