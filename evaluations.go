package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"slices"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/tonimelisma/mseval/internal/api"
	"github.com/tonimelisma/mseval/internal/history"
)

func newListCmd() *cobra.Command {
	var (
		page, perPage int
		all, offline  bool
	)

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List your evaluations",
		Long: `List evaluations, newest first.

By default one page is fetched. --all fetches every page. --offline reads the
local history instead of the backend; it holds every evaluation this machine
has seen.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cc := mustCLIContext(cmd.Context())

			if offline {
				return listOffline(cmd.Context(), cc)
			}

			return listOnline(cmd.Context(), cc, api.ListOptions{Page: page, PerPage: perPage}, all)
		},
	}

	cmd.Flags().IntVar(&page, "page", 1, "page number")
	cmd.Flags().IntVar(&perPage, "per-page", 20, "evaluations per page")
	cmd.Flags().BoolVar(&all, "all", false, "fetch every page")
	cmd.Flags().BoolVar(&offline, "offline", false, "read the local history only")
	cmd.MarkFlagsMutuallyExclusive("all", "offline")
	cmd.MarkFlagsMutuallyExclusive("all", "page")

	return cmd
}

// listPageJSON is the JSON schema for a single-page `list --json`.
type listPageJSON struct {
	Evaluations []evaluationJSON `json:"evaluations"`
	Total       int              `json:"total"`
	Page        int              `json:"page"`
	PerPage     int              `json:"per_page"`
	TotalPages  int              `json:"total_pages"`
}

func listOnline(ctx context.Context, cc *CLIContext, opts api.ListOptions, all bool) error {
	if err := cc.requireLogin(); err != nil {
		return err
	}

	if all {
		evals, err := cc.Client.GetEvaluations(ctx).Unpack()
		if err != nil {
			return err
		}

		cc.cacheEvaluations(ctx, evals...)

		return printEvaluations(cc, evals)
	}

	p, err := cc.Client.ListEvaluations(ctx, opts).Unpack()
	if err != nil {
		return err
	}

	cc.cacheEvaluations(ctx, p.Evaluations...)

	if cc.Flags.JSON {
		return cc.printJSON(listPageJSON{
			Evaluations: toEvaluationsJSON(p.Evaluations),
			Total:       p.Total,
			Page:        p.Page,
			PerPage:     p.PerPage,
			TotalPages:  p.TotalPages,
		})
	}

	if err := printEvaluations(cc, p.Evaluations); err != nil {
		return err
	}

	if p.TotalPages > 1 {
		cc.Statusf("Page %d of %d (%d evaluations). Use --page or --all for more.\n", p.Page, p.TotalPages, p.Total)
	}

	return nil
}

func listOffline(ctx context.Context, cc *CLIContext) error {
	var evals []api.Evaluation

	err := cc.withHistory(ctx, func(h *history.Store) error {
		var err error
		evals, err = h.Evaluations(ctx)

		return err
	})
	if err != nil {
		return err
	}

	return printEvaluations(cc, evals)
}

func printEvaluations(cc *CLIContext, evals []api.Evaluation) error {
	if cc.Flags.JSON {
		return cc.printJSON(toEvaluationsJSON(evals))
	}

	if len(evals) == 0 {
		cc.Statusf("No evaluations yet. Submit one with 'mseval evaluate <file>'.\n")
		return nil
	}

	printEvaluationsTable(cc.Out, evals)

	return nil
}

func newShowCmd() *cobra.Command {
	var offline bool

	cmd := &cobra.Command{
		Use:   "show <evaluation-id>",
		Short: "Show an evaluation and its scores",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cc := mustCLIContext(cmd.Context())
			ctx := cmd.Context()
			id := api.ID(args[0])

			var (
				eval api.Evaluation
				err  error
			)

			if offline {
				err = cc.withHistory(ctx, func(h *history.Store) error {
					eval, err = h.Evaluation(ctx, id)
					return err
				})
				if errors.Is(err, history.ErrNotCached) {
					return fmt.Errorf("evaluation %s is not in the local history", id)
				}
			} else {
				if err = cc.requireLogin(); err != nil {
					return err
				}

				if eval, err = cc.Client.GetEvaluation(ctx, id).Unpack(); err == nil {
					cc.cacheEvaluations(ctx, eval)
				}
			}

			if err != nil {
				return err
			}

			if cc.Flags.JSON {
				return cc.printJSON(toEvaluationJSON(eval))
			}

			printEvaluation(cc.Out, &eval)

			return nil
		},
	}

	cmd.Flags().BoolVar(&offline, "offline", false, "read the local history only")

	return cmd
}

func newUpdateCmd() *cobra.Command {
	var name, notes string

	cmd := &cobra.Command{
		Use:   "update <evaluation-id>",
		Short: "Rename an evaluation or edit its notes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cc := mustCLIContext(cmd.Context())

			if err := cc.requireLogin(); err != nil {
				return err
			}

			var update api.EvaluationUpdate
			if cmd.Flags().Changed("name") {
				update.OriginalFilename = &name
			}

			if cmd.Flags().Changed("notes") {
				update.Notes = &notes
			}

			eval, err := cc.Client.UpdateEvaluation(cmd.Context(), api.ID(args[0]), update).Unpack()
			if err != nil {
				return err
			}

			cc.cacheEvaluations(cmd.Context(), eval)

			if cc.Flags.JSON {
				return cc.printJSON(toEvaluationJSON(eval))
			}

			cc.Statusf("Updated evaluation %s.\n", eval.ID)

			return nil
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "new display file name")
	cmd.Flags().StringVar(&notes, "notes", "", "notes (empty clears them)")

	return cmd
}

func newRmCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "rm <evaluation-id>...",
		Aliases: []string{"delete"},
		Short:   "Delete evaluations",
		Args:    cobra.MinimumNArgs(1),
		RunE:    runRm,
	}
}

func runRm(cmd *cobra.Command, args []string) error {
	cc := mustCLIContext(cmd.Context())
	ctx := cmd.Context()

	if err := cc.requireLogin(); err != nil {
		return err
	}

	ids := make([]api.ID, 0, len(args))
	for _, a := range args {
		if id := api.ID(a); !slices.Contains(ids, id) {
			ids = append(ids, id)
		}
	}

	var (
		deleted []api.ID
		failed  []api.ID
	)

	if len(ids) == 1 {
		if _, err := cc.Client.DeleteEvaluation(ctx, ids[0]).Unpack(); err != nil {
			return err
		}

		deleted = ids
	} else {
		res, err := cc.Client.BulkDeleteEvaluations(ctx, ids).Unpack()
		if err != nil {
			return err
		}

		failed = res.FailedIDs

		for _, id := range ids {
			if !slices.Contains(failed, id) {
				deleted = append(deleted, id)
			}
		}
	}

	cc.remember(ctx, "forget deleted evaluations", func(h *history.Store) error {
		return h.DeleteEvaluations(ctx, deleted...)
	})

	if cc.Flags.JSON {
		return cc.printJSON(api.BulkDeleteResult{DeletedCount: len(deleted), FailedIDs: failed})
	}

	cc.Statusf("Deleted %d evaluation(s).\n", len(deleted))

	if len(failed) > 0 {
		return fmt.Errorf("could not delete %d evaluation(s): %v", len(failed), failed)
	}

	return nil
}

func newDownloadCmd() *cobra.Command {
	var dir, output string

	cmd := &cobra.Command{
		Use:   "download <evaluation-id>...",
		Short: "Download evaluation reports as PDF",
		Long: `Download the PDF report of one or more evaluations.

Reports are saved as evaluation-<id>-report.pdf in --dir (default
download.dir). Several reports download in parallel, up to
download.parallel at a time.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDownload(cmd, args, dir, output)
		},
	}

	cmd.Flags().StringVar(&dir, "dir", "", "directory to save reports in (default download.dir)")
	cmd.Flags().StringVarP(&output, "output", "o", "", "file to save a single report as")
	cmd.MarkFlagsMutuallyExclusive("dir", "output")

	return cmd
}

// downloadJSON is one entry of `download --json`.
type downloadJSON struct {
	EvaluationID api.ID `json:"evaluation_id"`
	Path         string `json:"path,omitempty"`
	Bytes        int64  `json:"bytes,omitempty"`
	Strategy     string `json:"strategy,omitempty"`
	Error        string `json:"error,omitempty"`
}

func runDownload(cmd *cobra.Command, args []string, dir, output string) error {
	cc := mustCLIContext(cmd.Context())
	ctx := cmd.Context()

	if err := cc.requireLogin(); err != nil {
		return err
	}

	if output != "" && len(args) > 1 {
		return fmt.Errorf("--output only works with a single evaluation; use --dir")
	}

	dest := output
	if dest == "" {
		dest = dir
		if dest == "" {
			dest = cc.Cfg.DownloadDir
		}

		if err := os.MkdirAll(dest, 0o755); err != nil {
			return fmt.Errorf("creating download directory: %w", err)
		}
	}

	stop := cc.watchSession(ctx)
	defer stop()

	results := downloadReports(ctx, cc, args, dest)

	cc.remember(ctx, "record downloads", func(h *history.Store) error {
		for _, r := range results {
			if r.Error != "" {
				continue
			}

			if err := h.RecordDownload(ctx, history.Download{
				EvaluationID: r.EvaluationID,
				Path:         r.Path,
				Bytes:        r.Bytes,
				Strategy:     r.Strategy,
			}); err != nil {
				return err
			}
		}

		return nil
	})

	var errs []error

	for _, r := range results {
		if r.Error != "" {
			errs = append(errs, fmt.Errorf("%s: %s", r.EvaluationID, r.Error))
			continue
		}

		if !cc.Flags.JSON {
			cc.Statusf("Saved %s (%s)\n", r.Path, formatSize(r.Bytes))
		}
	}

	if cc.Flags.JSON {
		if err := cc.printJSON(results); err != nil {
			return err
		}
	}

	return errors.Join(errs...)
}

// downloadReports fetches reports concurrently. Each worker owns one slot of
// results, which keeps argument order; one failure does not stop the others.
func downloadReports(ctx context.Context, cc *CLIContext, args []string, dest string) []downloadJSON {
	results := make([]downloadJSON, len(args))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(cc.Cfg.DownloadParallel)

	for i, a := range args {
		id := api.ID(a)

		g.Go(func() error {
			saved, err := cc.Client.DownloadReport(gctx, id, dest).Unpack()

			results[i] = downloadJSON{EvaluationID: id}
			if err != nil {
				results[i].Error = err.Error()

				cc.Logger.Debug("report download failed",
					slog.String("id", id.String()),
					slog.String("error", err.Error()),
				)

				return nil
			}

			results[i].Path = saved.Path
			results[i].Bytes = saved.Bytes
			results[i].Strategy = saved.Strategy

			return nil
		})
	}

	_ = g.Wait() // workers never return errors

	return results
}

func newDownloadsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "downloads [evaluation-id]",
		Short: "List reports downloaded on this machine",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cc := mustCLIContext(cmd.Context())
			ctx := cmd.Context()

			var id api.ID
			if len(args) == 1 {
				id = api.ID(args[0])
			}

			var ledger []history.Download

			err := cc.withHistory(ctx, func(h *history.Store) error {
				var err error
				ledger, err = h.Downloads(ctx, id)

				return err
			})
			if err != nil {
				return err
			}

			if cc.Flags.JSON {
				return cc.printJSON(ledger)
			}

			if len(ledger) == 0 {
				cc.Statusf("No reports downloaded yet.\n")
				return nil
			}

			rows := make([][]string, 0, len(ledger))
			for _, d := range ledger {
				rows = append(rows, []string{
					d.EvaluationID.String(),
					formatTime(d.At),
					formatSize(d.Bytes),
					label(d.Strategy),
					d.Path,
				})
			}

			printTable(cc.Out, []string{"ID", "DOWNLOADED", "SIZE", "VIA", "PATH"}, rows)

			return nil
		},
	}
}
