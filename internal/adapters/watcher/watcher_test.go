package watcher_test

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.trai.ch/kiln/internal/adapters/logger"
	"go.trai.ch/kiln/internal/adapters/watcher"
	"go.trai.ch/kiln/internal/core/ports"
)

func newWatcher(t *testing.T) *watcher.Watcher {
	t.Helper()
	w, err := watcher.NewWatcher(logger.NewWithWriter(io.Discard))
	require.NoError(t, err)
	t.Cleanup(func() { _ = w.Stop() })
	return w
}

// collect drains events until one matching the predicate arrives or the
// timeout expires.
func collect(t *testing.T, w ports.Watcher, timeout time.Duration, match func(ports.WatchEvent) bool) *ports.WatchEvent {
	t.Helper()
	found := make(chan ports.WatchEvent, 1)
	go func() {
		for event := range w.Events() {
			if match(event) {
				found <- event
				return
			}
		}
	}()
	select {
	case event := <-found:
		return &event
	case <-time.After(timeout):
		return nil
	}
}

func TestWatcher_SeesFileCreation(t *testing.T) {
	dir := t.TempDir()
	w := newWatcher(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, w.Start(ctx, dir))

	target := filepath.Join(dir, "main.c")
	require.NoError(t, os.WriteFile(target, []byte("int main() {}\n"), 0o644))

	event := collect(t, w, 5*time.Second, func(e ports.WatchEvent) bool {
		return e.Path == target && e.Operation == ports.OpCreate
	})
	require.NotNil(t, event, "expected a create event for %s", target)
}

func TestWatcher_SeesWritesInNewSubdirectory(t *testing.T) {
	dir := t.TempDir()
	w := newWatcher(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, w.Start(ctx, dir))

	sub := filepath.Join(dir, "src")
	require.NoError(t, os.Mkdir(sub, 0o755))

	// Give the watcher a moment to pick up the new directory.
	require.NotNil(t, collect(t, w, 5*time.Second, func(e ports.WatchEvent) bool {
		return e.Path == sub && e.Operation == ports.OpCreate
	}))
	time.Sleep(100 * time.Millisecond)

	target := filepath.Join(sub, "lib.c")
	require.NoError(t, os.WriteFile(target, []byte("x"), 0o644))

	event := collect(t, w, 5*time.Second, func(e ports.WatchEvent) bool {
		return e.Path == target
	})
	require.NotNil(t, event, "expected an event from the new subdirectory")
}

func TestWatcher_IgnoresSkippedDirectories(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(dir, ".kiln"), 0o755))

	w := newWatcher(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, w.Start(ctx, dir))

	require.NoError(t, os.WriteFile(filepath.Join(dir, ".kiln", "run-info.json"), []byte("{}"), 0o644))

	event := collect(t, w, 500*time.Millisecond, func(e ports.WatchEvent) bool {
		return filepath.Base(filepath.Dir(e.Path)) == ".kiln"
	})
	assert.Nil(t, event, "events under .kiln must be suppressed")
}

func TestWatcher_StopClosesEventStream(t *testing.T) {
	dir := t.TempDir()
	w := newWatcher(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, w.Start(ctx, dir))

	require.NoError(t, w.Stop())

	done := make(chan struct{})
	go func() {
		for range w.Events() { //nolint:revive // drain until close
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("event stream did not terminate after Stop")
	}
}
