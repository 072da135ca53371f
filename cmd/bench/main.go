package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/aretw0/trail"
	"github.com/aretw0/trail/internal/platform"
	"github.com/aretw0/trail/pkg/capture"
)

func tokenize(text string, width int) []string {
	var out []string
	for i := 0; i < len(text); i += width {
		end := min(i+width, len(text))
		out = append(out, text[i:end])
	}
	return out
}

func count(tokens []string) map[string]int {
	out := make(map[string]int, len(tokens))
	for _, t := range tokens {
		out[t]++
	}
	return out
}

func main() {
	runs := flag.Int("runs", 200, "Number of runs to generate")
	calls := flag.Int("calls", 20, "Tokenize/count pairs per run")
	format := flag.String("format", ".json", "Run file suffix")
	keep := flag.Bool("keep", false, "Keep the benchmark directory after running")
	flag.Parse()

	benchDir, err := os.MkdirTemp("", "trail_bench_")
	if err != nil {
		panic(err)
	}
	defer func() {
		if !*keep {
			os.RemoveAll(benchDir)
		} else {
			fmt.Printf("Keeping bench dir: %s\n", benchDir)
		}
	}()

	ctx := context.Background()
	script := filepath.Join(benchDir, "main.go")
	if err := os.WriteFile(script, []byte("package main\n"), 0644); err != nil {
		panic(err)
	}
	if _, err := trail.Init(benchDir); err != nil {
		panic(err)
	}

	fmt.Printf("Recording %d runs of %d calls in %s...\n", *runs, 2*(*calls), benchDir)
	startGen := time.Now()
	for r := 0; r < *runs; r++ {
		s := trail.New(trail.WithSessionID(fmt.Sprintf("bench-%d", r)), trail.WithVersioning(false))
		tokenizeFn, err := s.Register(tokenize, capture.Spec{Inputs: []string{"text"}})
		if err != nil {
			panic(err)
		}
		countFn, err := s.Register(count, capture.Spec{Inputs: []string{"tokens"}})
		if err != nil {
			panic(err)
		}
		if err := s.Activate(script); err != nil {
			panic(err)
		}
		for c := 0; c < *calls; c++ {
			text := fmt.Sprintf("run %d call %d of the benchmark text", r, c)
			width := 3 + c%4
			tokens, err := capture.Invoke(s, tokenizeFn, []capture.Arg{capture.A("text", text), capture.A("width", width)}, "tokenize(text, width)",
				func() ([]string, error) { return tokenize(text, width), nil })
			if err != nil {
				panic(err)
			}
			if _, err := capture.Invoke(s, countFn, []capture.Arg{capture.A("tokens", tokens)}, "count(tokens)",
				func() (map[string]int, error) { return count(tokens), nil }); err != nil {
				panic(err)
			}
		}
		if err := s.Deactivate(); err != nil {
			panic(err)
		}
		if err := trail.Save(ctx, s, trail.RunPath(benchDir, s.ID(), *format)); err != nil {
			panic(err)
		}
	}
	fmt.Printf("Recording took: %v\n", time.Since(startGen))

	pattern := filepath.Join(trail.RunsDir(benchDir), "**", "*")
	store := trail.NewStore()

	// Run 1 parses every file; run 2 is served by the store cache.
	var loads [2]time.Duration
	var g *trail.Graph
	for i := range loads {
		files, err := store.Glob(pattern)
		if err != nil {
			panic(err)
		}
		start := time.Now()
		g, err = platform.LoadGraph(ctx, store, trail.GraphOptions{}, files...)
		if err != nil {
			panic(err)
		}
		loads[i] = time.Since(start)
	}

	var aggs []time.Duration
	var summary *trail.Summary
	workers := []int{1, runtime.GOMAXPROCS(0)}
	for _, w := range workers {
		start := time.Now()
		summary, err = trail.Aggregate(ctx, g, trail.AggregateOptions{UseParameters: true, Workers: w})
		if err != nil {
			panic(err)
		}
		aggs = append(aggs, time.Since(start))
	}

	fmt.Printf("--------------------------------------------------\n")
	fmt.Printf("Benchmark Result (%d runs, %d nodes, %d edges):\n", *runs, g.NodeCount(), g.EdgeCount())
	fmt.Printf("  Load (cold):  %v\n", loads[0])
	fmt.Printf("  Load (warm):  %v\n", loads[1])
	for i, w := range workers {
		fmt.Printf("  Aggregate (%d workers): %v\n", w, aggs[i])
	}
	fmt.Printf("  Groups: %d, rounds: %d\n", len(summary.Groups), summary.Rounds)
	fmt.Printf("--------------------------------------------------\n")
}
