// Package lifecycle exposes provenance file changes as a lifecycle.Source so
// they can drive a supervised reaction loop.
package lifecycle

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/aretw0/lifecycle"

	"github.com/aretw0/trail/pkg/adapters/fs"
)

// RunEvent is a store watch event tagged with the run it concerns, which is
// the file name up to its first dot.
type RunEvent struct {
	fs.Event
	Run string
}

func (e RunEvent) String() string {
	return fmt.Sprintf("run %s: %s", e.Run, strings.ToLower(e.Op))
}

// NewRunEvent tags e with its run name.
func NewRunEvent(e fs.Event) RunEvent {
	run, _, _ := strings.Cut(filepath.Base(e.Path), ".")
	return RunEvent{Event: e, Run: run}
}

type runSource struct {
	events <-chan fs.Event
	out    chan lifecycle.Event
}

// NewSource creates a lifecycle.Source emitting a RunEvent for every event
// read from events.
func NewSource(events <-chan fs.Event) lifecycle.Source {
	return &runSource{
		events: events,
		out:    make(chan lifecycle.Event),
	}
}

func (s *runSource) Events() <-chan lifecycle.Event {
	return s.out
}

// Start forwards events until ctx is cancelled or the input closes, then
// closes the output.
func (s *runSource) Start(ctx context.Context) error {
	lifecycle.Go(ctx, func(ctx context.Context) error {
		defer close(s.out)
		for {
			select {
			case <-ctx.Done():
				return nil
			case e, ok := <-s.events:
				if !ok {
					return nil
				}
				select {
				case s.out <- NewRunEvent(e):
				case <-ctx.Done():
					return nil
				}
			}
		}
	})
	return nil
}
