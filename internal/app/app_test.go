package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/forum-harvester/internal/config"
	"github.com/JakeFAU/forum-harvester/internal/forum"
	"github.com/JakeFAU/forum-harvester/internal/hostctl"
)

func testConfig(t *testing.T) config.Config {
	t.Helper()
	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.Headless.ProfileRoot = t.TempDir()
	cfg.Storage.Backend = config.BackendMemory
	return cfg
}

func TestNewWiresInMemoryDeployment(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	a, err := New(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(a.Close)

	require.NotNil(t, a.Worker())
	require.NotNil(t, a.Guardian())
	assert.Equal(t, "0/1", a.Owner().String())
	assert.Equal(t, cfg, a.Config())
	require.ErrorIs(t, a.EnsureSchema(context.Background()), ErrNoDatabase)

	// No cookies, no check page and no stored threads: the pass never
	// needs the browser.
	report, err := a.Worker().RunOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, report.Selected)
	assert.Equal(t, 1, a.Worker().Status().Passes)
}

func TestServerExposesWorkerStatus(t *testing.T) {
	t.Parallel()

	a, err := New(context.Background(), testConfig(t), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(a.Close)

	rec := httptest.NewRecorder()
	a.Server().Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/status", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"partition":"0/1"`)

	rec = httptest.NewRecorder()
	a.Server().Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestNewRejectsBadPartition(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	cfg.Worker.Index = 5
	_, err := New(context.Background(), cfg, nil)
	require.ErrorIs(t, err, forum.ErrPartitionMisconfiguration)
}

func TestNewClosesBrowserOnLaterFailure(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	cfg.Storage.Backend = "ftp"
	_, err := New(context.Background(), cfg, nil)
	require.ErrorContains(t, err, "unknown storage backend")

	entries, err := os.ReadDir(cfg.Headless.ProfileRoot)
	require.NoError(t, err)
	assert.Empty(t, entries, "browser profile should be removed")
}

func TestLocalBlobStore(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	cfg.Storage.Backend = config.BackendLocal
	cfg.Storage.Local.BaseDir = t.TempDir()
	a := &App{cfg: cfg, logger: zap.NewNop()}

	store, err := a.newBlobStore(context.Background())
	require.NoError(t, err)
	_, err = store.PutObject(context.Background(), "forum-media/1/2/0-a.jpg", "image/jpeg", []byte("jpeg"))
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(cfg.Storage.Local.BaseDir, "forum-media", "1", "2", "0-a.jpg"))
	require.NoError(t, err)
	assert.Equal(t, "jpeg", string(data))
}

func TestHostControlSelection(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	a := &App{cfg: cfg, logger: zap.NewNop()}
	host, err := a.newHostControl()
	require.NoError(t, err)
	assert.IsType(t, hostctl.LogOnly{}, host)

	a.cfg.Guardian.RestartCommand = "sudo systemctl reboot"
	host, err = a.newHostControl()
	require.NoError(t, err)
	assert.IsType(t, &hostctl.Command{}, host)
}

func TestPublisherDisabledWithoutProject(t *testing.T) {
	t.Parallel()

	a := &App{cfg: testConfig(t), logger: zap.NewNop()}
	pub, err := a.newPublisher(context.Background())
	require.NoError(t, err)
	assert.Nil(t, pub)
}
