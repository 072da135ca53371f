package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/fatih/color"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/aretw0/trail"
	"github.com/aretw0/trail/pkg/aggregate"
)

var (
	aggregateGraph trail.GraphOptions
	aggregateOpts  trail.AggregateOptions
	byLabel        []string
	profilePath    string
	outputPath     string
	labelAttrs     []string
)

var aggregateCmd = &cobra.Command{
	Use:   "aggregate [patterns...]",
	Short: "Summarize provenance runs by grouping equivalent nodes",
	Long: `Aggregate loads every matched run, merges them into one graph and
groups nodes with the same type, selected attributes and neighborhood.
With --output the summary graph is written as GEXF or GraphML.`,
	Run: func(cmd *cobra.Command, args []string) {
		opts, err := aggregateOptions(cmd)
		if err != nil {
			fatal("Error reading aggregation options", err)
		}
		summary, err := summarize(context.Background(), inputPatterns(args), aggregateGraph, opts)
		if err != nil {
			fatal("Error aggregating provenance", err)
		}
		printSummary(os.Stdout, summary)

		if outputPath != "" {
			if err := writeSummary(outputPath, summary); err != nil {
				fatal("Error exporting summary", err)
			}
			fmt.Printf("summary written to %s\n", outputPath)
		}
	},
}

// aggregateOptions reads --profile, then lets explicitly set flags override it.
func aggregateOptions(cmd *cobra.Command) (trail.AggregateOptions, error) {
	opts := aggregateOpts
	if profilePath != "" {
		profile, err := aggregate.LoadProfile(afero.NewOsFs(), profilePath)
		if err != nil {
			return opts, err
		}
		flags := cmd.Flags()
		if !flags.Changed("attributes") {
			opts.Attributes = profile.Attributes
		}
		if !flags.Changed("use-parameters") {
			opts.UseParameters = profile.UseParameters
		}
		if !flags.Changed("use-label") {
			opts.UseLabel = profile.UseLabel
		}
		if !flags.Changed("exclude") {
			opts.Exclude = profile.Exclude
		}
		if !flags.Changed("workers") {
			opts.Workers = profile.Workers
		}
		opts.ByLabel = profile.ByLabel
	}

	for _, entry := range byLabel {
		label, attr, ok := strings.Cut(entry, "=")
		if !ok || label == "" || attr == "" {
			return opts, fmt.Errorf("--by-label expects label=attribute, got %q", entry)
		}
		if opts.ByLabel == nil {
			opts.ByLabel = make(map[string][]string)
		}
		opts.ByLabel[label] = append(opts.ByLabel[label], attr)
	}
	opts.Logger = slog.Default()
	return opts, nil
}

func summarize(ctx context.Context, patterns []string, gopts trail.GraphOptions, opts trail.AggregateOptions) (*trail.Summary, error) {
	gopts.Logger = slog.Default()
	g, err := trail.Load(ctx, gopts, patterns, trail.WithLogger(slog.Default()))
	if err != nil {
		return nil, err
	}
	return trail.Aggregate(ctx, g, opts)
}

func writeSummary(path string, summary *trail.Summary) error {
	return trail.Export(path, summary.Graph(), trail.ExportOptions{LabelAttributes: labelAttrs},
		trail.WithLogger(slog.Default()))
}

func printSummary(w io.Writer, summary *trail.Summary) {
	var buf bytes.Buffer
	tw := tabwriter.NewWriter(&buf, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "GROUP\tTYPE\tLABEL\tCOUNT\tKEY")
	for _, g := range summary.Groups {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\n", g.ID, g.Type, g.Label, g.Count, formatKey(g.Key))
	}
	fmt.Fprintln(tw)
	fmt.Fprintln(tw, "SOURCE\tROLE\tTARGET\tWEIGHT\t")
	for _, e := range summary.Edges {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t\n", e.Source, e.Role, e.Target, e.Weight)
	}
	tw.Flush()

	// Escape codes must not reach the tabwriter.
	header := color.New(color.Bold, color.FgCyan).SprintFunc()
	for _, line := range strings.SplitAfter(buf.String(), "\n") {
		if strings.HasPrefix(line, "GROUP") || strings.HasPrefix(line, "SOURCE") {
			fmt.Fprint(w, header(strings.TrimSuffix(line, "\n")), "\n")
			continue
		}
		fmt.Fprint(w, line)
	}
	fmt.Fprintf(w, "%d group(s) after %d refinement round(s)\n", len(summary.Groups), summary.Rounds)
}

func formatKey(key map[string]string) string {
	names := make([]string, 0, len(key))
	for name := range key {
		names = append(names, name)
	}
	sort.Strings(names)
	parts := make([]string, len(names))
	for i, name := range names {
		parts[i] = name + "=" + key[name]
	}
	return strings.Join(parts, " ")
}

// addAggregateFlags binds the aggregation flags shared by aggregate and watch.
func addAggregateFlags(cmd *cobra.Command) {
	flags := cmd.Flags()
	flags.StringSliceVar(&aggregateOpts.Attributes, "attributes", nil, "Attributes every node is compared on")
	flags.StringArrayVar(&byLabel, "by-label", nil, "Extra attribute for one label, as label=attribute (repeatable)")
	flags.BoolVar(&aggregateOpts.UseParameters, "use-parameters", false, "Compare executions on their function parameters")
	flags.BoolVar(&aggregateOpts.UseLabel, "use-label", false, "Compare nodes on their label")
	flags.StringSliceVar(&aggregateOpts.Exclude, "exclude", nil, "Node types dropped before aggregating")
	flags.IntVar(&aggregateOpts.Workers, "workers", 0, "Goroutines computing signatures (0 = GOMAXPROCS)")
	flags.StringVar(&profilePath, "profile", "", "YAML or TOML aggregation profile")
	flags.StringVarP(&outputPath, "output", "o", "", "Write the summary graph (.gexf or .graphml)")
	flags.StringSliceVar(&labelAttrs, "label-attributes", nil, "Attributes appended to exported node labels")
}

func init() {
	rootCmd.AddCommand(aggregateCmd)
	addGraphFlags(aggregateCmd, &aggregateGraph)
	addAggregateFlags(aggregateCmd)
}
