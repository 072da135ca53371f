package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/aretw0/trail"
	"github.com/aretw0/trail/pkg/capture"
)

var (
	demoRuns   int
	demoFormat string
)

var demoCmd = &cobra.Command{
	Use:   "demo",
	Short: "Record a few runs of a small instrumented pipeline",
	Long: `Demo writes sample inputs under <root>/demo and records one provenance
run per input into <root>/.trail/runs, ready for inspect and aggregate.`,
	Args: cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		root := projectRoot()
		if _, err := trail.Init(root); err != nil {
			fatal("Error initializing runs directory", err)
		}
		script, err := os.Executable()
		if err != nil {
			fatal("Error locating executable", err)
		}

		for i := 0; i < demoRuns; i++ {
			path, err := recordDemoRun(context.Background(), root, script, i)
			if err != nil {
				fatal("Error recording demo run", err)
			}
			fmt.Printf("recorded %s\n", path)
		}
	},
}

func readLines(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return strings.Fields(string(data)), nil
}

func parse(lines []string) ([]float64, error) {
	out := make([]float64, len(lines))
	for i, l := range lines {
		v, err := strconv.ParseFloat(l, 64)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func scale(values []float64, k float64) []float64 {
	out := make([]float64, len(values))
	for i, v := range values {
		out[i] = v * k
	}
	return out
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

func writeReport(value float64, out string) error {
	return os.WriteFile(out, []byte(strconv.FormatFloat(value, 'f', -1, 64)+"\n"), 0644)
}

func recordDemoRun(ctx context.Context, root, script string, i int) (string, error) {
	dir := filepath.Join(root, "demo")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", err
	}
	input := filepath.Join(dir, fmt.Sprintf("input-%d.txt", i))
	report := filepath.Join(dir, fmt.Sprintf("report-%d.txt", i))
	var b strings.Builder
	for j := 0; j < 3+i; j++ {
		fmt.Fprintf(&b, "%d\n", (i+1)*(j+1))
	}
	if err := os.WriteFile(input, []byte(b.String()), 0644); err != nil {
		return "", err
	}

	s := trail.New(trail.WithLogger(slog.Default()), trail.WithSessionID(fmt.Sprintf("demo-%d", i)))
	readFn, err := s.Register(readLines, capture.Spec{Inputs: capture.NoInputs, FileInputs: []string{"path"}})
	if err != nil {
		return "", err
	}
	parseFn, err := s.Register(parse, capture.Spec{Inputs: []string{"lines"}})
	if err != nil {
		return "", err
	}
	scaleFn, err := s.Register(scale, capture.Spec{Inputs: []string{"values"}})
	if err != nil {
		return "", err
	}
	meanFn, err := s.Register(mean, capture.Spec{Inputs: []string{"values"}})
	if err != nil {
		return "", err
	}
	reportFn, err := s.Register(writeReport, capture.Spec{Inputs: []string{"value"}, FileOutputs: []string{"out"}})
	if err != nil {
		return "", err
	}

	if err := s.Activate(script); err != nil {
		return "", err
	}
	lines, err := capture.Invoke(s, readFn, []capture.Arg{capture.A("path", input)}, "lines := readLines(path)",
		func() ([]string, error) { return readLines(input) })
	if err != nil {
		return "", err
	}
	values, err := capture.Invoke(s, parseFn, []capture.Arg{capture.A("lines", lines)}, "values := parse(lines)",
		func() ([]float64, error) { return parse(lines) })
	if err != nil {
		return "", err
	}
	k := float64(i%2 + 2)
	scaled, err := capture.Invoke(s, scaleFn, []capture.Arg{capture.A("values", values), capture.A("k", k)}, "scaled := scale(values, k)",
		func() ([]float64, error) { return scale(values, k), nil })
	if err != nil {
		return "", err
	}
	head := scaled[:2]
	m, err := capture.Invoke(s, meanFn, []capture.Arg{capture.A("values", capture.Sliced(scaled, 0, 2, head))}, "m := mean(scaled[:2])",
		func() (float64, error) { return mean(head), nil })
	if err != nil {
		return "", err
	}
	err = capture.Run(s, reportFn, []capture.Arg{capture.A("value", m), capture.A("out", report)}, "writeReport(m, out)",
		func() error { return writeReport(m, report) })
	if err != nil {
		return "", err
	}
	if err := s.Deactivate(); err != nil {
		return "", err
	}

	path := trail.RunPath(root, s.ID(), demoFormat)
	if err := trail.Save(ctx, s, path, trail.WithLogger(slog.Default())); err != nil {
		return "", err
	}
	return path, nil
}

func init() {
	rootCmd.AddCommand(demoCmd)
	demoCmd.Flags().IntVarP(&demoRuns, "runs", "n", 3, "Number of runs to record")
	demoCmd.Flags().StringVar(&demoFormat, "format", ".json", "Run file suffix (.json, .yaml, .json.zst)")
}
