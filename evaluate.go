package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/mseval/internal/api"
)

func newEvaluateCmd() *cobra.Command {
	var (
		methods   []string
		templates []string
		wait      bool
	)

	cmd := &cobra.Command{
		Use:   "evaluate <manuscript.pdf>",
		Short: "Upload a manuscript for evaluation",
		Long: `Upload a PDF manuscript and start its evaluation.

Without --method the methods of upload.default_methods are used. With --wait
the command polls until the evaluation completes or fails and prints the
scores.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEvaluate(cmd, args[0], methods, templates, wait)
		},
	}

	cmd.Flags().StringArrayVar(&methods, "method", nil, "evaluation method (repeatable)")
	cmd.Flags().StringArrayVar(&templates, "template", nil, "template ID to evaluate against (repeatable)")
	cmd.Flags().BoolVar(&wait, "wait", false, "wait for the evaluation to finish")

	return cmd
}

func runEvaluate(cmd *cobra.Command, path string, methods, templates []string, wait bool) error {
	cc := mustCLIContext(cmd.Context())
	ctx := cmd.Context()

	if err := cc.requireLogin(); err != nil {
		return err
	}

	if len(methods) == 0 {
		methods = cc.Cfg.DefaultMethods
	}

	ids := make([]api.ID, len(templates))
	for i, t := range templates {
		ids[i] = api.ID(t)
	}

	stop := cc.watchSession(ctx)
	defer stop()

	cc.Statusf("Uploading %s...\n", path)

	started := time.Now()

	up, err := cc.Client.UploadManuscript(ctx, api.UploadRequest{
		Path:        path,
		Methods:     methods,
		TemplateIDs: ids,
	}).Unpack()
	if err != nil {
		return err
	}

	cc.Logger.Info("manuscript uploaded",
		slog.String("path", path),
		slog.String("evaluation_id", up.EvaluationID.String()),
		slog.Duration("elapsed", time.Since(started)),
	)

	if !wait || up.Status.Terminal() {
		return printUpload(cc, &up)
	}

	cc.Statusf("Evaluation %s submitted, waiting for results...\n", up.EvaluationID)

	eval, err := waitForEvaluation(ctx, cc, up.EvaluationID, cc.Cfg.PollInterval)
	if err != nil {
		return err
	}

	return printFinished(cc, &eval)
}

func printUpload(cc *CLIContext, up *api.UploadResult) error {
	if cc.Flags.JSON {
		out := struct {
			*api.UploadResult
			Overall *int `json:"overall,omitempty"`
		}{UploadResult: up}

		if v, ok := up.OverallScore(); ok {
			out.Overall = &v
		}

		return cc.printJSON(out)
	}

	fmt.Fprintf(cc.Out, "Evaluation %s: %s\n", up.EvaluationID, label(string(up.Status)))

	if v, ok := up.OverallScore(); ok {
		fmt.Fprintf(cc.Out, "  Overall:   %d\n", v)
	}

	printResults(cc.Out, up.Results)

	if up.Message != "" {
		cc.Statusf("%s\n", up.Message)
	}

	return nil
}

func newWaitCmd() *cobra.Command {
	var interval time.Duration

	cmd := &cobra.Command{
		Use:   "wait <evaluation-id>",
		Short: "Wait for an evaluation to finish",
		Long: `Poll an evaluation until it completes or fails, then print it.

The wait gives up after polling.timeout (0 waits forever).`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cc := mustCLIContext(cmd.Context())

			if err := cc.requireLogin(); err != nil {
				return err
			}

			if interval <= 0 {
				interval = cc.Cfg.PollInterval
			}

			stop := cc.watchSession(cmd.Context())
			defer stop()

			eval, err := waitForEvaluation(cmd.Context(), cc, api.ID(args[0]), interval)
			if err != nil {
				return err
			}

			return printFinished(cc, &eval)
		},
	}

	cmd.Flags().DurationVar(&interval, "interval", 0, "poll interval (default polling.interval)")

	return cmd
}

// waitForEvaluation polls under the configured overall timeout and caches
// the finished record.
func waitForEvaluation(ctx context.Context, cc *CLIContext, id api.ID, interval time.Duration) (api.Evaluation, error) {
	waitCtx := ctx

	if cc.Cfg.PollTimeout > 0 {
		var cancel context.CancelFunc

		waitCtx, cancel = context.WithTimeout(ctx, cc.Cfg.PollTimeout)
		defer cancel()
	}

	eval, err := cc.Client.WaitForEvaluation(waitCtx, id, interval).Unpack()
	if err != nil {
		if ctx.Err() == nil && errors.Is(waitCtx.Err(), context.DeadlineExceeded) {
			return api.Evaluation{}, &api.Failure{
				Message: fmt.Sprintf("Timed out waiting for evaluation %s after %s.", id, cc.Cfg.PollTimeout),
				Err:     err,
			}
		}

		return api.Evaluation{}, err
	}

	cc.cacheEvaluations(ctx, eval)

	return eval, nil
}

// printFinished prints a terminal evaluation. A failed evaluation exits
// non-zero after printing.
func printFinished(cc *CLIContext, eval *api.Evaluation) error {
	if cc.Flags.JSON {
		if err := cc.printJSON(toEvaluationJSON(*eval)); err != nil {
			return err
		}
	} else {
		printEvaluation(cc.Out, eval)
	}

	if eval.Status == api.StatusFailed {
		return fmt.Errorf("evaluation %s failed", eval.ID)
	}

	return nil
}
