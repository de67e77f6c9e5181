package config

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func waitReload(t *testing.T, w *Watcher) Reload {
	t.Helper()
	select {
	case r, ok := <-w.Updates():
		require.True(t, ok, "updates channel closed")
		return r
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for reload")
		return Reload{}
	}
}

func TestWatcherReloadsOnChange(t *testing.T) {
	path := writeConfig(t, "job.a:\n  command: one\n")
	cfg, err := Load(path)
	require.NoError(t, err)

	w, err := NewWatcher(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = w.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	require.NoError(t, w.Start(ctx))

	require.NoError(t, os.WriteFile(path, []byte("job.a:\n  command: two\n"), 0o644))

	r := waitReload(t, w)
	require.NoError(t, r.Err)
	require.NotNil(t, r.Config)
	assert.Equal(t, "two", r.Config.Sections[0].Keys["command"])
	assert.NotEqual(t, cfg.Fingerprint, r.Config.Fingerprint)
}

func TestWatcherReportsBrokenConfig(t *testing.T) {
	path := writeConfig(t, "job.a:\n  command: one\n")
	cfg, err := Load(path)
	require.NoError(t, err)

	w, err := NewWatcher(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = w.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	require.NoError(t, w.Start(ctx))

	require.NoError(t, os.WriteFile(path, []byte("job.a: [\n"), 0o644))

	r := waitReload(t, w)
	require.Error(t, r.Err)
	assert.Nil(t, r.Config)
}

func TestNewWatcherRequiresPath(t *testing.T) {
	_, err := NewWatcher(Defaults())
	assert.Error(t, err)
}
