package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/spf13/cobra"
	"golang.org/x/time/rate"

	"github.com/aretw0/trail"
	"github.com/aretw0/trail/pkg/adapters/fs"
	"github.com/aretw0/trail/pkg/adapters/lifecycle"
)

var (
	watchGraph      trail.GraphOptions
	refreshInterval time.Duration
)

var watchCmd = &cobra.Command{
	Use:   "watch [pattern]",
	Short: "Re-aggregate and re-export whenever a provenance run changes",
	Args:  cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		opts, err := aggregateOptions(cmd)
		if err != nil {
			fatal("Error reading aggregation options", err)
		}
		pattern := inputPatterns(args)[0]
		if err := os.MkdirAll(watchRoot(pattern), 0755); err != nil {
			fatal("Error preparing watched directory", err)
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		store := trail.NewStore(
			trail.WithLogger(slog.Default()),
			trail.WithWatcherErrorHandler(func(err error) {
				fmt.Fprintf(os.Stderr, "watch error: %v\n", err)
			}),
		)
		events := make(chan fs.Event, 16)
		if err := store.Watch(ctx, pattern, events); err != nil {
			fatal("Error starting watcher", err)
		}
		source := lifecycle.NewSource(events)
		if err := source.Start(ctx); err != nil {
			fatal("Error starting event source", err)
		}

		refresh := func() {
			summary, err := summarize(ctx, []string{pattern}, watchGraph, opts)
			if err != nil {
				slog.Warn("aggregation skipped", "error", err)
				return
			}
			printSummary(os.Stdout, summary)
			if outputPath != "" {
				if err := writeSummary(outputPath, summary); err != nil {
					slog.Error("export failed", "path", outputPath, "error", err)
				}
			}
		}

		slog.Info("watching provenance runs", "pattern", pattern)
		refresh()
		limiter := rate.NewLimiter(rate.Every(refreshInterval), 1)
		for e := range source.Events() {
			slog.Debug("provenance changed", "event", e.String())
			if err := limiter.Wait(ctx); err != nil {
				return
			}
			refresh()
		}
	},
}

// watchRoot returns the directory part of pattern before any meta character.
func watchRoot(pattern string) string {
	base, _ := doublestar.SplitPattern(filepath.ToSlash(pattern))
	return filepath.FromSlash(base)
}

func init() {
	rootCmd.AddCommand(watchCmd)
	addGraphFlags(watchCmd, &watchGraph)
	addAggregateFlags(watchCmd)
	watchCmd.Flags().DurationVar(&refreshInterval, "interval", time.Second, "Minimum time between two refreshes")
}
