package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/HildaM/logs/slog"

	"github.com/jonwraymond/kernelmcp/config"
	"github.com/jonwraymond/kernelmcp/journal"
	"github.com/jonwraymond/kernelmcp/kernel"
)

var (
	shutdownTimeout = 15 * time.Second
	shutdownExit    = os.Exit

	shutdownLoaderClose = func(l *config.Loader) error { return l.Close() }
	shutdownKernel      = func(ctx context.Context, m *kernel.Manager) error {
		return m.Shutdown(ctx)
	}
	shutdownJournalClose = func(j *journal.Journal) error { return j.Close() }
)

// shutdown stops watching the config, shuts the kernel down and closes the
// journal. The process exits if that takes longer than shutdownTimeout.
func shutdown(deps *runtimeDeps, stderr io.Writer) {
	done := make(chan struct{})
	timer := time.AfterFunc(shutdownTimeout, func() {
		slog.Error("shutdown timeout, forcing exit")
		fmt.Fprintln(stderr, "shutdown timeout, forcing exit")
		shutdownExit(1)
	})
	go func() {
		shutdownRun(deps)
		close(done)
	}()
	<-done
	timer.Stop()
	slog.Info("shutdown complete")
}

func shutdownRun(deps *runtimeDeps) {
	if deps.loader != nil {
		if err := shutdownLoaderClose(deps.loader); err != nil {
			slog.Error("stop config watch: %v", err)
		}
	}
	if deps.manager != nil {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		if err := shutdownKernel(ctx, deps.manager); err != nil {
			slog.Error("kernel shutdown: %v", err)
		}
		cancel()
	}
	if deps.journal != nil {
		if err := shutdownJournalClose(deps.journal); err != nil {
			slog.Error("close journal: %v", err)
		}
	}
}

// watchSecondSignal exits immediately on another signal during shutdown.
func watchSecondSignal(sigCh <-chan os.Signal, stderr io.Writer) func() {
	done := make(chan struct{})
	go func() {
		select {
		case <-sigCh:
			fmt.Fprintln(stderr, "forced exit")
			shutdownExit(1)
		case <-done:
		}
	}()
	return func() { close(done) }
}
