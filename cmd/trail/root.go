package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/aretw0/trail"
)

var (
	verbose bool
	noColor bool
	rootDir string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "trail",
	Short: "Provenance capture, aggregation and export for Go programs",
	Long: `Trail loads the provenance runs recorded by instrumented Go programs,
merges them into one graph and summarizes it by grouping structurally
equivalent executions and values. Summaries export to GEXF or GraphML.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		level := slog.LevelInfo
		if verbose {
			level = slog.LevelDebug
		}

		opts := &slog.HandlerOptions{
			Level: level,
		}
		logger := slog.New(slog.NewTextHandler(os.Stderr, opts))
		slog.SetDefault(logger)

		color.NoColor = noColor || !isatty.IsTerminal(os.Stdout.Fd())
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main().
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "Disable colored output")
	rootCmd.PersistentFlags().StringVar(&rootDir, "root", "", "Project root holding .trail/runs (default: nearest .trail, .git or go.mod)")
}

// projectRoot returns --root, or the nearest root above the working
// directory, or the working directory itself.
func projectRoot() string {
	if rootDir != "" {
		return rootDir
	}
	wd, err := os.Getwd()
	if err != nil {
		fatal("Error getting working directory", err)
	}
	root, err := trail.FindRoot(wd)
	if err != nil {
		return wd
	}
	return root
}

// inputPatterns returns args, or every run below the project root.
func inputPatterns(args []string) []string {
	if len(args) > 0 {
		return args
	}
	return []string{filepath.Join(trail.RunsDir(projectRoot()), "**", "*")}
}
