package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/evergrid-labs/bidwatch/internal/metrics"
	"github.com/evergrid-labs/bidwatch/internal/monitor"
	"github.com/evergrid-labs/bidwatch/internal/round"
	"github.com/evergrid-labs/bidwatch/internal/store"
)

func TestMain(m *testing.M) {
	metrics.Init()
	m.Run()
}

type fakeMonitor struct {
	mu       sync.Mutex
	running  bool
	task     bool
	rounds   int
	settings round.Settings
}

func (f *fakeMonitor) Start() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.running {
		return round.ErrAlreadyRunning
	}
	f.running = true
	return nil
}

func (f *fakeMonitor) Stop() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.running {
		return round.ErrNotRunning
	}
	f.running = false
	return nil
}

func (f *fakeMonitor) RunRound(context.Context) (monitor.RoundReport, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rounds++
	return monitor.RoundReport{NewRecords: 1, AdaptersRun: 1}, nil
}

func (f *fakeMonitor) Status() monitor.StateSnapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	return monitor.StateSnapshot{IsRunning: f.running, CurrentTaskRunning: f.task}
}

func (f *fakeMonitor) Settings() round.Settings {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.settings
}

func (f *fakeMonitor) UpdateSettings(s round.Settings) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.settings = s
}

func (f *fakeMonitor) roundCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.rounds
}

func newTestServer(t *testing.T) (*Server, *fakeMonitor, *store.Memory) {
	t.Helper()
	mon := &fakeMonitor{settings: round.Settings{
		Interval:     30 * time.Minute,
		Policy:       monitor.MatchPolicy{Include: []string{"光伏"}},
		EnabledSites: []string{"ccgp"},
		Contacts: []monitor.Contact{
			{Name: "ops", Enabled: true, Email: "ops@example.com", EmailPassword: "hunter2", ChatToken: "tok"},
		},
	}}
	mem := store.NewMemory()
	t.Cleanup(func() { _ = mem.Close() })
	return NewServer(mon, mem, AuthConfig{}, nil, nil), mon, mem
}

func doRequest(s *Server, method, path string, body []byte) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestServer_Healthz(t *testing.T) {
	t.Parallel()

	s, _, _ := newTestServer(t)
	rec := doRequest(s, http.MethodGet, "/healthz", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "ok")
}

func TestServer_StartStop(t *testing.T) {
	t.Parallel()

	s, mon, _ := newTestServer(t)

	rec := doRequest(s, http.MethodPost, "/api/start", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, mon.Status().IsRunning)

	// Starting again reports a conflict, not success.
	rec = doRequest(s, http.MethodPost, "/api/start", nil)
	require.Equal(t, http.StatusConflict, rec.Code)
	require.Contains(t, rec.Body.String(), `"success":false`)

	rec = doRequest(s, http.MethodPost, "/api/stop", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.False(t, mon.Status().IsRunning)

	rec = doRequest(s, http.MethodPost, "/api/stop", nil)
	require.Equal(t, http.StatusConflict, rec.Code)
}

func TestServer_RunOnce(t *testing.T) {
	t.Parallel()

	s, mon, _ := newTestServer(t)

	rec := doRequest(s, http.MethodPost, "/api/run-once", nil)
	require.Equal(t, http.StatusAccepted, rec.Code)

	require.Eventually(t, func() bool {
		return mon.roundCount() == 1
	}, time.Second, 5*time.Millisecond)
}

func TestServer_RunOnce_RejectsWhileRoundActive(t *testing.T) {
	t.Parallel()

	s, mon, _ := newTestServer(t)
	mon.task = true

	rec := doRequest(s, http.MethodPost, "/api/run-once", nil)
	require.Equal(t, http.StatusConflict, rec.Code)
	require.Equal(t, 0, mon.roundCount())
}

func TestServer_UpdateConfig(t *testing.T) {
	t.Parallel()

	s, mon, _ := newTestServer(t)
	body := []byte(`{
		"interval_minutes": 10,
		"include": ["无人机"],
		"exclude": ["测绘"],
		"must_contain": ["采购"],
		"use_browser": true,
		"enabled_sites": ["ccgp", "chinabidding"]
	}`)

	rec := doRequest(s, http.MethodPost, "/api/config", body)
	require.Equal(t, http.StatusOK, rec.Code)

	got := mon.Settings()
	require.Equal(t, 10*time.Minute, got.Interval)
	require.Equal(t, []string{"无人机"}, got.Policy.Include)
	require.Equal(t, []string{"测绘"}, got.Policy.Exclude)
	require.True(t, got.UseBrowser)
	require.Len(t, got.EnabledSites, 2)
	// Contacts are untouched by a config update.
	require.Len(t, got.Contacts, 1)
}

func TestServer_SettingsUpdatesArePersisted(t *testing.T) {
	t.Parallel()

	mon := &fakeMonitor{settings: round.Settings{Interval: 30 * time.Minute}}
	mem := store.NewMemory()
	t.Cleanup(func() { _ = mem.Close() })

	var saved []round.Settings
	s := NewServer(mon, mem, AuthConfig{}, func(settings round.Settings) error {
		saved = append(saved, settings)
		return nil
	}, nil)

	rec := doRequest(s, http.MethodPost, "/api/config", []byte(`{"interval_minutes": 10}`))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(s, http.MethodPost, "/api/sites",
		[]byte(`{"custom_sites":[{"name":"省级平台","url":"http://example.gov.cn/list"}]}`))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(s, http.MethodPost, "/api/contacts",
		[]byte(`{"contacts":[{"name":"ops","enabled":true}]}`))
	require.Equal(t, http.StatusOK, rec.Code)

	require.Len(t, saved, 3)
	require.Equal(t, 10*time.Minute, saved[0].Interval)
	require.Len(t, saved[1].CustomSites, 1)
	require.Len(t, saved[2].Contacts, 1)
}

func TestServer_UpdateConfig_InvalidInterval(t *testing.T) {
	t.Parallel()

	s, _, _ := newTestServer(t)
	rec := doRequest(s, http.MethodPost, "/api/config", []byte(`{"interval_minutes": 0}`))
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_UpdateSites(t *testing.T) {
	t.Parallel()

	s, mon, _ := newTestServer(t)
	body := []byte(`{"custom_sites":[{"name":"省级平台","url":"http://example.gov.cn/list"}]}`)

	rec := doRequest(s, http.MethodPost, "/api/sites", body)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, mon.Settings().CustomSites, 1)

	rec = doRequest(s, http.MethodPost, "/api/sites", []byte(`{"custom_sites":[{"name":"","url":""}]}`))
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_GetContacts_RedactsSecrets(t *testing.T) {
	t.Parallel()

	s, _, _ := newTestServer(t)
	rec := doRequest(s, http.MethodGet, "/api/contacts", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "ops@example.com")
	require.NotContains(t, rec.Body.String(), "hunter2")
	require.NotContains(t, rec.Body.String(), "tok")
}

func TestServer_Results(t *testing.T) {
	t.Parallel()

	s, _, mem := newTestServer(t)
	for _, title := range []string{"第一条", "第二条", "第三条"} {
		_, err := mem.Save(context.Background(), monitor.Record{
			Title: title,
			URL:   "http://example.com/" + title,
		})
		require.NoError(t, err)
	}

	rec := doRequest(s, http.MethodGet, "/api/results?limit=2", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Records []monitor.StoredRecord `json:"records"`
		Total   int64                  `json:"total"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Records, 2)
	require.Equal(t, int64(3), resp.Total)
	require.Equal(t, "第三条", resp.Records[0].Title, "newest first")
}

func TestServer_ClearHistory(t *testing.T) {
	t.Parallel()

	s, _, mem := newTestServer(t)
	_, err := mem.Save(context.Background(), monitor.Record{Title: "t", URL: "http://example.com/t"})
	require.NoError(t, err)

	rec := doRequest(s, http.MethodDelete, "/api/history", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	count, err := mem.Count(context.Background())
	require.NoError(t, err)
	require.Zero(t, count)
}

func TestServer_BasicAuth(t *testing.T) {
	t.Parallel()

	mon := &fakeMonitor{}
	mem := store.NewMemory()
	t.Cleanup(func() { _ = mem.Close() })
	s := NewServer(mon, mem, AuthConfig{Enabled: true, Username: "admin", Password: "secret"}, nil, nil)

	rec := doRequest(s, http.MethodGet, "/api/status", nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/status", nil)
	req.SetBasicAuth("admin", "secret")
	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	// Health stays open for probes.
	rec = doRequest(s, http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, rec.Code)
}
