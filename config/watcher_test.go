package config

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vyrodovalexey/guardrail/audit"
	"github.com/vyrodovalexey/guardrail/keys"
	"github.com/vyrodovalexey/guardrail/observability"
)

func TestWatcher_ReloadsOnChange(t *testing.T) {
	dir := t.TempDir()
	path := writeConfigFile(t, dir, "logging:\n  level: info\n")

	reloaded := make(chan *Config, 4)
	w, err := NewWatcher(path, func(cfg *Config) {
		reloaded <- cfg
	}, WithDebounceDelay(20*time.Millisecond))
	require.NoError(t, err)

	require.NoError(t, w.Start(context.Background()))
	t.Cleanup(func() { _ = w.Stop() })

	initial := w.LastConfig()
	require.NotNil(t, initial)
	assert.Equal(t, "info", initial.Logging.Level)

	require.NoError(t, os.WriteFile(path, []byte("logging:\n  level: debug\n"), 0o600))

	select {
	case cfg := <-reloaded:
		assert.Equal(t, "debug", cfg.Logging.Level)
		assert.Equal(t, "debug", w.LastConfig().Logging.Level)
	case <-time.After(3 * time.Second):
		t.Fatal("reload callback was not invoked")
	}
}

func TestWatcher_InvalidFileKeepsLastConfig(t *testing.T) {
	dir := t.TempDir()
	path := writeConfigFile(t, dir, "logging:\n  level: warn\n")

	errs := make(chan error, 4)
	w, err := NewWatcher(path, nil,
		WithDebounceDelay(20*time.Millisecond),
		WithErrorCallback(func(e error) { errs <- e }),
	)
	require.NoError(t, err)

	require.NoError(t, w.Start(context.Background()))
	t.Cleanup(func() { _ = w.Stop() })

	require.NoError(t, os.WriteFile(path, []byte("logging: [broken: yaml"), 0o600))

	select {
	case e := <-errs:
		assert.Error(t, e)
	case <-time.After(3 * time.Second):
		t.Fatal("error callback was not invoked")
	}
	assert.Equal(t, "warn", w.LastConfig().Logging.Level, "bad reload must not clobber the last good config")
}

func TestWatcher_ForceReload(t *testing.T) {
	dir := t.TempDir()
	path := writeConfigFile(t, dir, "logging:\n  level: info\n")

	var got *Config
	w, err := NewWatcher(path, func(cfg *Config) { got = cfg })
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(path, []byte("logging:\n  level: error\n"), 0o600))
	require.NoError(t, w.ForceReload())

	require.NotNil(t, got)
	assert.Equal(t, "error", got.Logging.Level)
	assert.Equal(t, "error", w.LastConfig().Logging.Level)
}

func TestWatcher_StartMissingFile(t *testing.T) {
	w, err := NewWatcher(t.TempDir()+"/absent.yaml", nil)
	require.NoError(t, err)
	assert.Error(t, w.Start(context.Background()))
}

func TestSwapAuditLogger(t *testing.T) {
	km, err := keys.NewStaticManager([]byte("0123456789abcdef0123456789abcdef"))
	require.NoError(t, err)

	first, err := audit.NewLogger(audit.DefaultConfig(), km)
	require.NoError(t, err)
	holder := audit.NewAtomicLogger(first)

	next := audit.DefaultConfig()
	next.MaxEventsPerSecond = 7
	require.NoError(t, SwapAuditLogger(holder, next, km, observability.NopLogger()))

	assert.NotSame(t, first, holder.Current(), "holder must point at the rebuilt logger")

	// The swapped-in logger is live
	holder.LogEvent(context.Background(), audit.SystemEvent(audit.SeverityInfo, "after swap"))
	assert.Equal(t, uint64(1), holder.Stats().Logged)

	require.NoError(t, holder.Close())
}
