package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/forum-harvester/internal/forum"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "harvester.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestOwnsCommand(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, "worker:\n  index: 1\n  count: 2\n")
	out, err := execute(t, "owns", "--config", path, "7", "8")
	require.NoError(t, err)
	assert.Equal(t, "7\t1/2 (this worker)\n8\t0/2\n", out)

	_, err = execute(t, "owns", "--config", path, "x")
	require.ErrorContains(t, err, `thread id "x"`)
}

func TestBadPartitionFailsBeforeRunning(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, "worker:\n  index: 2\n  count: 2\n")
	_, err := execute(t, "owns", "--config", path, "1")
	require.ErrorIs(t, err, forum.ErrPartitionMisconfiguration)
}

func TestSyncCommandPrintsReport(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, "storage:\n  backend: memory\nheadless:\n  profile_root: "+t.TempDir()+"\n")
	out, err := execute(t, "sync", "--config", path)
	require.NoError(t, err)

	var report struct {
		RunID    string `json:"run_id"`
		Selected int    `json:"selected"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.NotEmpty(t, report.RunID)
	assert.Zero(t, report.Selected)
}

func TestSchemaCommandNeedsDatabase(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, "storage:\n  backend: memory\nheadless:\n  profile_root: "+t.TempDir()+"\n")
	_, err := execute(t, "schema", "--config", path)
	require.ErrorContains(t, err, "db.dsn is not configured")
}

func TestScheduleRunsImmediatelyAndStops(t *testing.T) {
	t.Parallel()

	var passes atomic.Int32
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- schedule(ctx, "@every 1h", func() { passes.Add(1) }, true, zap.NewNop())
	}()

	require.Eventually(t, func() bool { return passes.Load() == 1 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("scheduler did not stop")
	}
	assert.EqualValues(t, 1, passes.Load())
}

func TestScheduleRejectsBadExpression(t *testing.T) {
	t.Parallel()

	err := schedule(context.Background(), "not a schedule", func() {}, false, zap.NewNop())
	require.ErrorContains(t, err, "not a schedule")
}
