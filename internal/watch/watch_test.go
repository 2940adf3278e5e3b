package watch

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"

	"github.com/born-ml/born-train/internal/config"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type applied struct {
	mu   sync.Mutex
	cfgs []*config.Config
}

func (a *applied) apply(cfg *config.Config) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.cfgs = append(a.cfgs, cfg)
	return nil
}

func (a *applied) last() *config.Config {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.cfgs) == 0 {
		return nil
	}
	return a.cfgs[len(a.cfgs)-1]
}

func startWatcher(t *testing.T, path string, fn ApplyFunc) *Watcher {
	t.Helper()
	w, err := New(path, fn, zaptest.NewLogger(t))
	require.NoError(t, err)
	w.SetDebounce(40 * time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	t.Cleanup(func() {
		cancel()
		require.NoError(t, <-done)
		require.NoError(t, w.Close())
	})
	return w
}

func TestWatcher_ReloadsOnWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "borntrain.yaml")
	cfg := config.Default()
	require.NoError(t, cfg.Save(path))

	var got applied
	w := startWatcher(t, path, got.apply)

	cfg.Callbacks.GradientAccumulator.NumIterations = 16
	cfg.Callbacks.PrintEveryN.Disabled = true
	require.NoError(t, cfg.Save(path))

	require.Eventually(t, func() bool {
		last := got.last()
		return last != nil && last.Callbacks.GradientAccumulator.NumIterations == 16
	}, 5*time.Second, 10*time.Millisecond)

	assert.True(t, got.last().Callbacks.PrintEveryN.Disabled)
	assert.GreaterOrEqual(t, w.Stats().Reloads, 1)
}

func TestWatcher_IgnoresOtherFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "borntrain.yaml")
	require.NoError(t, config.Default().Save(path))

	var got applied
	w := startWatcher(t, path, got.apply)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("hi"), 0o600))
	time.Sleep(200 * time.Millisecond)

	assert.Nil(t, got.last())
	assert.Equal(t, 0, w.Stats().Events)
}

func TestWatcher_InvalidConfigIsSkipped(t *testing.T) {
	path := filepath.Join(t.TempDir(), "borntrain.yaml")
	require.NoError(t, config.Default().Save(path))

	var got applied
	w := startWatcher(t, path, got.apply)

	require.NoError(t, os.WriteFile(path, []byte("train: [not, a, map"), 0o600))
	require.Eventually(t, func() bool {
		return w.Stats().Errors >= 1
	}, 5*time.Second, 10*time.Millisecond)
	assert.Nil(t, got.last())

	// A valid write afterwards is picked up again.
	require.NoError(t, config.Default().Save(path))
	require.Eventually(t, func() bool {
		return got.last() != nil
	}, 5*time.Second, 10*time.Millisecond)
}

func TestWatcher_RenamedAwayKeepsSettings(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "borntrain.yaml")
	cfg := config.Default()
	cfg.Callbacks.GradientAccumulator.NumIterations = 16
	require.NoError(t, cfg.Save(path))

	var got applied
	w := startWatcher(t, path, got.apply)

	require.NoError(t, os.Rename(path, filepath.Join(dir, "moved.yaml")))
	require.Eventually(t, func() bool {
		return w.Stats().Missing >= 1
	}, 5*time.Second, 10*time.Millisecond)

	assert.Nil(t, got.last(), "defaults must not be applied for a missing file")
	assert.Equal(t, 0, w.Stats().Reloads)

	// Moving it back resumes reloads with the file's values.
	require.NoError(t, os.Rename(filepath.Join(dir, "moved.yaml"), path))
	require.Eventually(t, func() bool {
		return got.last() != nil
	}, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, 16, got.last().Callbacks.GradientAccumulator.NumIterations)
}

func TestWatcher_SetDebounceClampsTinyValues(t *testing.T) {
	w, err := New(filepath.Join(t.TempDir(), "borntrain.yaml"), func(*config.Config) error { return nil }, nil)
	require.NoError(t, err)
	defer w.Close()

	w.SetDebounce(0)
	assert.Equal(t, MinDebounce, w.debounce)
	w.SetDebounce(3 * time.Nanosecond)
	assert.Equal(t, MinDebounce, w.debounce)
	w.SetDebounce(time.Second)
	assert.Equal(t, time.Second, w.debounce)

	ctx, cancel := context.WithCancel(context.Background())
	w.SetDebounce(0)
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	cancel()
	require.NoError(t, <-done)
}

func TestWatcher_MissingDirectory(t *testing.T) {
	_, err := New(filepath.Join(t.TempDir(), "nope", "borntrain.yaml"), func(*config.Config) error { return nil }, nil)
	assert.Error(t, err)
}
