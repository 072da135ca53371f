package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sort"

	"github.com/spf13/cobra"

	"github.com/aretw0/trail"
	"github.com/aretw0/trail/pkg/graph"
)

var (
	inspectGraph trail.GraphOptions
	inspectJSON  bool
)

var inspectCmd = &cobra.Command{
	Use:   "inspect [patterns...]",
	Short: "Load provenance runs and report what the merged graph holds",
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		patterns := inputPatterns(args)
		store := trail.NewStore(trail.WithLogger(slog.Default()))

		files, err := store.Glob(patterns...)
		if err != nil {
			fatal("Error expanding patterns", err)
		}
		inspectGraph.Logger = slog.Default()
		g, err := trail.Load(ctx, inspectGraph, files, trail.WithLogger(slog.Default()))
		if err != nil {
			fatal("Error loading provenance", err)
		}

		report := inspectReport{
			Files: files,
			Nodes: make(map[string]int),
			Edges: make(map[string]int),
			Store: store.State(),
		}
		for _, n := range g.Nodes() {
			report.Nodes[n.Type]++
		}
		for _, e := range g.Edges() {
			report.Edges[string(e.Role)] += e.Multiplicity()
		}

		if inspectJSON {
			encoder := json.NewEncoder(os.Stdout)
			encoder.SetIndent("", "  ")
			if err := encoder.Encode(report); err != nil {
				fatal("Error encoding JSON", err)
			}
			return
		}

		fmt.Printf("%d file(s), %d nodes, %d edges\n", len(files), g.NodeCount(), g.EdgeCount())
		printCounts("nodes", report.Nodes)
		printCounts("edges", report.Edges)
	},
}

type inspectReport struct {
	Files []string       `json:"files"`
	Nodes map[string]int `json:"nodes"`
	Edges map[string]int `json:"edges"`
	Store any            `json:"store"`
}

func printCounts(title string, counts map[string]int) {
	names := make([]string, 0, len(counts))
	for name := range counts {
		names = append(names, name)
	}
	sort.Strings(names)
	fmt.Printf("%s:\n", title)
	for _, name := range names {
		fmt.Printf("  %-20s %d\n", name, counts[name])
	}
}

// addGraphFlags binds the loader options shared by inspect, aggregate and watch.
func addGraphFlags(cmd *cobra.Command, o *graph.Options) {
	cmd.Flags().BoolVar(&o.Full, "full", false, "Include functions, the script agent and name/value pairs as nodes")
	cmd.Flags().BoolVar(&o.RemoveNone, "remove-none", false, "Drop data objects holding nil")
	cmd.Flags().BoolVar(&o.CondenseMemberships, "condense", false, "Collapse container member chains into their container")
	cmd.Flags().StringSliceVar(&o.Preserve, "preserve", nil, "Value types kept when condensing memberships")
}

func init() {
	rootCmd.AddCommand(inspectCmd)
	addGraphFlags(inspectCmd, &inspectGraph)
	inspectCmd.Flags().BoolVar(&inspectJSON, "json", false, "Output in JSON format")
}
