package api

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/forum-harvester/internal/forum"
	"github.com/JakeFAU/forum-harvester/internal/partition"
	"github.com/JakeFAU/forum-harvester/internal/worker"
)

type fakeStatus struct {
	status worker.Status
}

func (f fakeStatus) Status() worker.Status { return f.status }

func serve(t *testing.T, s *Server, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestHealthz(t *testing.T) {
	t.Parallel()

	rec := serve(t, NewServer(nil, Options{}, zap.NewNop()), http.MethodGet, "/healthz")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestReadyzRunsChecks(t *testing.T) {
	t.Parallel()

	healthy := NewServer(nil, Options{Checks: map[string]ReadinessCheck{
		"db": func(context.Context) error { return nil },
	}}, nil)
	rec := serve(t, healthy, http.MethodGet, "/readyz")
	require.Equal(t, http.StatusOK, rec.Code)

	failing := NewServer(nil, Options{Checks: map[string]ReadinessCheck{
		"db":      func(context.Context) error { return errors.New("connection refused") },
		"browser": func(context.Context) error { return nil },
	}}, nil)
	rec = serve(t, failing, http.MethodGet, "/readyz")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var body struct {
		Failures map[string]string `json:"failures"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, map[string]string{"db": "connection refused"}, body.Failures)
}

func TestReadyzBoundsSlowChecks(t *testing.T) {
	t.Parallel()

	s := NewServer(nil, Options{
		CheckTimeout: 10 * time.Millisecond,
		Checks: map[string]ReadinessCheck{
			"slow": func(ctx context.Context) error {
				<-ctx.Done()
				return ctx.Err()
			},
		},
	}, nil)
	rec := serve(t, s, http.MethodGet, "/readyz")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "deadline exceeded")
}

func TestStatus(t *testing.T) {
	t.Parallel()

	status := worker.Status{
		Partition:     "1/2",
		Running:       true,
		RunID:         "run-1",
		CurrentThread: 42,
		CurrentPage:   3,
		State:         forum.StateRetrying,
	}
	rec := serve(t, NewServer(fakeStatus{status}, Options{}, nil), http.MethodGet, "/v1/status")
	require.Equal(t, http.StatusOK, rec.Code)

	var got worker.Status
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, status, got)

	rec = serve(t, NewServer(nil, Options{}, nil), http.MethodGet, "/v1/status")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestOwnership(t *testing.T) {
	t.Parallel()

	owner, err := partition.New(1, 2)
	require.NoError(t, err)
	s := NewServer(nil, Options{Owner: owner}, nil)

	rec := serve(t, s, http.MethodGet, "/v1/partition/threads/7")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"thread_id":7,"owned":true,"partition":"1/2"}`, rec.Body.String())

	rec = serve(t, s, http.MethodGet, "/v1/partition/threads/8")
	assert.JSONEq(t, `{"thread_id":8,"owned":false,"partition":"1/2"}`, rec.Body.String())

	rec = serve(t, s, http.MethodGet, "/v1/partition/threads/abc")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = serve(t, NewServer(nil, Options{}, nil), http.MethodGet, "/v1/partition/threads/7")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	t.Parallel()

	rec := serve(t, NewServer(nil, Options{}, nil), http.MethodGet, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestRecoverMiddleware(t *testing.T) {
	t.Parallel()

	s := NewServer(nil, Options{}, nil)
	s.router.Get("/boom", func(http.ResponseWriter, *http.Request) { panic("boom") })
	rec := serve(t, s, http.MethodGet, "/boom")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestRequestIDIsPropagated(t *testing.T) {
	t.Parallel()

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-ID", "abc-123")
	rec := httptest.NewRecorder()
	NewServer(nil, Options{}, nil).Handler().ServeHTTP(rec, req)
	assert.Equal(t, "abc-123", rec.Header().Get("X-Request-ID"))
}

func TestListenAndServeShutsDownOnCancel(t *testing.T) {
	t.Parallel()

	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- NewServer(nil, Options{}, nil).ListenAndServe(ctx, addr) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + addr + "/healthz")
		if err != nil {
			return false
		}
		_ = resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}
