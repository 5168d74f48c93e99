package api

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jobmarket-tools/harvester/internal/harvest"
)

// fakeManager records lifecycle calls without real workers.
type fakeManager struct {
	mu       sync.Mutex
	statuses map[string]harvest.Status
	started  map[string]time.Duration
}

func newFakeManager(sources ...string) *fakeManager {
	m := &fakeManager{
		statuses: make(map[string]harvest.Status),
		started:  make(map[string]time.Duration),
	}
	for _, name := range sources {
		m.statuses[name] = harvest.StatusStopped
	}
	return m
}

func (m *fakeManager) Start(name string, interval time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.statuses[name] = harvest.StatusRunning
	m.started[name] = interval
	return nil
}

func (m *fakeManager) Stop(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.statuses[name] = harvest.StatusStopped
}

func (m *fakeManager) Status(name string) harvest.Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	if status, ok := m.statuses[name]; ok {
		return status
	}
	return harvest.StatusNotRegistered
}

func (m *fakeManager) List() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]string, 0, len(m.statuses))
	for name := range m.statuses {
		names = append(names, name)
	}
	return names
}

func (m *fakeManager) startedWith(name string) time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.started[name]
}

func newTestServer(manager SourceManager) *Server {
	return NewServer(manager, map[string]time.Duration{"justjoin": 5 * time.Minute}, nil)
}

func TestServer_Healthz(t *testing.T) {
	t.Parallel()

	server := newTestServer(newFakeManager())
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()

	server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "ok")
	require.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestServer_Metrics(t *testing.T) {
	t.Parallel()

	server := newTestServer(newFakeManager())
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()

	server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
}

func TestServer_ListSources(t *testing.T) {
	t.Parallel()

	server := newTestServer(newFakeManager("justjoin"))
	req := httptest.NewRequest(http.MethodGet, "/v1/sources/", nil)
	rec := httptest.NewRecorder()

	server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "justjoin")
	require.Contains(t, rec.Body.String(), "stopped")
}

func TestServer_SourceStatus_NotRegistered(t *testing.T) {
	t.Parallel()

	server := newTestServer(newFakeManager())
	req := httptest.NewRequest(http.MethodGet, "/v1/sources/ghost/status", nil)
	rec := httptest.NewRecorder()

	server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_StartSource_UsesConfiguredInterval(t *testing.T) {
	t.Parallel()

	manager := newFakeManager("justjoin")
	server := newTestServer(manager)
	req := httptest.NewRequest(http.MethodPost, "/v1/sources/justjoin/start", nil)
	rec := httptest.NewRecorder()

	server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Equal(t, 5*time.Minute, manager.startedWith("justjoin"))
	require.Equal(t, harvest.StatusRunning, manager.Status("justjoin"))
}

func TestServer_StartSource_IntervalOverride(t *testing.T) {
	t.Parallel()

	manager := newFakeManager("justjoin")
	server := newTestServer(manager)
	body := bytes.NewBufferString(`{"interval_seconds": 60}`)
	req := httptest.NewRequest(http.MethodPost, "/v1/sources/justjoin/start", body)
	rec := httptest.NewRecorder()

	server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Equal(t, time.Minute, manager.startedWith("justjoin"))
}

func TestServer_StartSource_InvalidJSON(t *testing.T) {
	t.Parallel()

	server := newTestServer(newFakeManager("justjoin"))
	req := httptest.NewRequest(http.MethodPost, "/v1/sources/justjoin/start", bytes.NewBufferString("{broken"))
	rec := httptest.NewRecorder()

	server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_StopSource(t *testing.T) {
	t.Parallel()

	manager := newFakeManager("justjoin")
	require.NoError(t, manager.Start("justjoin", time.Minute))
	server := newTestServer(manager)

	req := httptest.NewRequest(http.MethodPost, "/v1/sources/justjoin/stop", nil)
	rec := httptest.NewRecorder()

	server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, harvest.StatusStopped, manager.Status("justjoin"))
}

func TestServer_StartSource_NotRegistered(t *testing.T) {
	t.Parallel()

	server := newTestServer(newFakeManager())
	req := httptest.NewRequest(http.MethodPost, "/v1/sources/ghost/start", nil)
	rec := httptest.NewRecorder()

	server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusNotFound, rec.Code)
}
