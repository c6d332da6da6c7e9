package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
)

// exitInterrupted is the conventional exit status after SIGINT.
const exitInterrupted = 130

// exitFunc is replaced in tests.
var exitFunc = os.Exit

// shutdownContext returns a context canceled by the first SIGINT or SIGTERM.
// Canceling aborts the request in flight: uploads stop, and downloads never
// leave a partial report behind. A second signal exits at once.
func shutdownContext(parent context.Context, logger *slog.Logger, notice io.Writer) context.Context {
	ctx, cancel := context.WithCancel(parent)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		defer signal.Stop(sigCh)

		select {
		case sig := <-sigCh:
			logger.Info("received signal, canceling request",
				slog.String("signal", sig.String()),
			)
			fmt.Fprintln(notice, "Canceling... press Ctrl-C again to quit immediately.")
			cancel()
		case <-ctx.Done():
			return
		}

		select {
		case sig := <-sigCh:
			logger.Warn("received second signal, exiting",
				slog.String("signal", sig.String()),
			)
			exitFunc(exitInterrupted)
		case <-parent.Done():
		}
	}()

	return ctx
}
