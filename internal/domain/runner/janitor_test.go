package runner

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJanitorSweep(t *testing.T) {
	root := t.TempDir()
	old := time.Now().Add(-2 * time.Hour)

	stale := filepath.Join(root, "run-stale")
	fresh := filepath.Join(root, "run-fresh")
	other := filepath.Join(root, "keep-me")
	for _, dir := range []string{stale, fresh, other} {
		require.NoError(t, os.MkdirAll(filepath.Join(dir, "nested"), 0o755))
	}
	require.NoError(t, os.Chtimes(stale, old, old))
	require.NoError(t, os.Chtimes(other, old, old))

	j := NewJanitor(root, time.Hour, nil)
	removed, err := j.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	assert.NoDirExists(t, stale)
	assert.DirExists(t, fresh)
	assert.DirExists(t, other)
}

func TestJanitorMissingRoot(t *testing.T) {
	j := NewJanitor(filepath.Join(t.TempDir(), "absent"), time.Hour, nil)
	removed, err := j.Sweep(context.Background())
	assert.NoError(t, err)
	assert.Zero(t, removed)
}

func TestJanitorRunStopsWithContext(t *testing.T) {
	j := NewJanitor(t.TempDir(), time.Hour, nil)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		j.Run(ctx, 10*time.Millisecond)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("janitor did not stop")
	}
}
