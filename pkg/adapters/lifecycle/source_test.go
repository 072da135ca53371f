package lifecycle

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aretw0/trail/pkg/adapters/fs"
)

func TestNewRunEvent(t *testing.T) {
	e := NewRunEvent(fs.Event{Path: "/w/.trail/runs/demo-1.json.zst", Op: "WRITE"})
	assert.Equal(t, "demo-1", e.Run)
	assert.Equal(t, "run demo-1: write", e.String())
}

func TestSource_Forwards(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	in := make(chan fs.Event, 1)
	src := NewSource(in)
	require.NoError(t, src.Start(ctx))

	in <- fs.Event{Path: "runs/a.json", Op: "CREATE", Timestamp: time.Now()}
	select {
	case e := <-src.Events():
		re, ok := e.(RunEvent)
		require.True(t, ok)
		assert.Equal(t, "a", re.Run)
		assert.Equal(t, "runs/a.json", re.Path)
	case <-time.After(2 * time.Second):
		t.Fatal("event not forwarded")
	}

	close(in)
	select {
	case _, ok := <-src.Events():
		assert.False(t, ok, "output closes with the input")
	case <-time.After(2 * time.Second):
		t.Fatal("output not closed")
	}
}
