package api_test

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/oryxsec/scanhub/internal/api"
	"github.com/oryxsec/scanhub/internal/database/models"
	"github.com/oryxsec/scanhub/internal/scans"
	"github.com/oryxsec/scanhub/internal/testutil"
	"github.com/oryxsec/scanhub/pkg/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type testAPI struct {
	db     *gorm.DB
	router http.Handler
	engine *testutil.FakeEngine
	mgr    *scans.Manager
}

func newTestAPI(t *testing.T, mutate func(cfg *config.Config)) *testAPI {
	t.Helper()

	cfg := &config.Config{
		Probes: []config.ProbeConfig{
			{Name: "probe-a", Host: "gvm.internal", Port: 9390},
		},
		Scan: config.ScanConfig{
			PollInterval:            1,
			MaxDuration:             86400,
			CleanupAfterReport:      true,
			MaxConsecutiveSameProbe: 3,
			GVMScanConfig:           "Full and fast",
			GVMScanner:              "OpenVAS Default",
			DefaultPortList:         "All IANA assigned TCP",
		},
		Source: config.SourceConfig{Timeout: 5},
		API:    config.APIConfig{TokenExpiryMinutes: 60},
	}
	if mutate != nil {
		mutate(cfg)
	}

	db := testutil.SetupTestDB(t)
	engine := testutil.NewFakeEngine("probe-a")
	mgr := scans.NewManager(db, cfg, map[string]scans.Engine{"probe-a": engine}, testutil.DiscardLogger())
	t.Cleanup(func() {
		mgr.Stop()
		mgr.Wait()
	})

	router := api.NewRouter(api.RouterConfig{
		DB:      db,
		Manager: mgr,
		Config:  cfg,
		Logger:  testutil.DiscardLogger(),
	})

	return &testAPI{db: db, router: router, engine: engine, mgr: mgr}
}

func (a *testAPI) do(t *testing.T, method, path string, body interface{}, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	rec := httptest.NewRecorder()
	a.router.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v))
}

func TestCreateScan(t *testing.T) {
	a := newTestAPI(t, nil)

	rec := a.do(t, http.MethodPost, "/scans", map[string]interface{}{"target": "10.0.0.1"}, nil)
	require.Equal(t, http.StatusCreated, rec.Code)

	var resp struct {
		ScanID    string `json:"scan_id"`
		ProbeName string `json:"probe_name"`
		Message   string `json:"message"`
	}
	decode(t, rec, &resp)
	assert.NotEmpty(t, resp.ScanID)
	assert.Equal(t, "probe-a", resp.ProbeName)
	assert.NotEmpty(t, resp.Message)
}

func TestCreateScan_Validation(t *testing.T) {
	a := newTestAPI(t, nil)

	cases := []map[string]interface{}{
		{"target": ""},
		{"target": "not a host name"},
		{"target": "10.0.0.1", "scan_type": "directed"},
		{"target": "10.0.0.1", "scan_type": "directed", "ports": []int{70000}},
		{"target": "10.0.0.1", "scan_type": "weird"},
		{"target": "10.0.0.1", "probe_name": "no-such-probe"},
	}
	for _, body := range cases {
		rec := a.do(t, http.MethodPost, "/scans", body, nil)
		assert.Equal(t, http.StatusUnprocessableEntity, rec.Code, "body: %v", body)
	}

	req := httptest.NewRequest(http.MethodPost, "/scans", bytes.NewReader([]byte("{not json")))
	rec := httptest.NewRecorder()
	a.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetScan(t *testing.T) {
	a := newTestAPI(t, nil)

	rec := a.do(t, http.MethodPost, "/scans", map[string]interface{}{
		"target": "10.0.0.1", "name": "edge-router",
	}, nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	var created struct {
		ScanID string `json:"scan_id"`
	}
	decode(t, rec, &created)

	rec = a.do(t, http.MethodGet, "/scans/"+created.ScanID, nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var scan struct {
		ScanID    string `json:"scan_id"`
		Name      string `json:"name"`
		Target    string `json:"target"`
		ScanType  string `json:"scan_type"`
		GVMStatus string `json:"gvm_status"`
		CreatedAt string `json:"created_at"`
	}
	decode(t, rec, &scan)
	assert.Equal(t, created.ScanID, scan.ScanID)
	assert.Equal(t, "edge-router", scan.Name)
	assert.Equal(t, "10.0.0.1", scan.Target)
	assert.Equal(t, "full", scan.ScanType)
	assert.NotEmpty(t, scan.GVMStatus)

	ts, err := time.Parse(time.RFC3339, scan.CreatedAt)
	require.NoError(t, err)
	assert.Equal(t, time.UTC, ts.Location())
}

func TestGetScan_NotFound(t *testing.T) {
	a := newTestAPI(t, nil)
	rec := a.do(t, http.MethodGet, "/scans/does-not-exist", nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListScans(t *testing.T) {
	a := newTestAPI(t, nil)

	for i := 0; i < 3; i++ {
		rec := a.do(t, http.MethodPost, "/scans", map[string]interface{}{"target": "10.0.0.1"}, nil)
		require.Equal(t, http.StatusCreated, rec.Code)
	}

	rec := a.do(t, http.MethodGet, "/scans", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Total int               `json:"total"`
		Scans []json.RawMessage `json:"scans"`
	}
	decode(t, rec, &resp)
	assert.Equal(t, 3, resp.Total)
	assert.Len(t, resp.Scans, 3)
}

func TestScanReport(t *testing.T) {
	a := newTestAPI(t, nil)

	// A fresh row without a report returns 409.
	require.NoError(t, a.db.Create(&models.Scan{
		ScanID:    "scan-pending",
		ProbeName: "probe-a",
		Target:    "10.0.0.1",
		ScanType:  models.ScanTypeFull,
		GVMStatus: models.StatusRunning,
		CreatedAt: time.Now().UTC(),
	}).Error)

	rec := a.do(t, http.MethodGet, "/scans/scan-pending/report", nil, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	reportXML := `<report id="rep-1"><host><ip>10.0.0.1</ip></host></report>`
	now := time.Now().UTC()
	require.NoError(t, a.db.Create(&models.Scan{
		ScanID:      "scan-done",
		ProbeName:   "probe-a",
		Target:      "10.0.0.1",
		ScanType:    models.ScanTypeFull,
		GVMStatus:   models.StatusDone,
		CreatedAt:   now,
		CompletedAt: &now,
		ReportXML:   &reportXML,
		Summary:     &models.ScanSummary{HostsScanned: 1, VulnsHigh: 2},
	}).Error)

	rec = a.do(t, http.MethodGet, "/scans/scan-done/report", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		ScanID    string `json:"scan_id"`
		GVMStatus string `json:"gvm_status"`
		ReportXML string `json:"report_xml"`
		Summary   *struct {
			HostsScanned int `json:"hosts_scanned"`
			VulnsHigh    int `json:"vulns_high"`
		} `json:"summary"`
	}
	decode(t, rec, &resp)
	assert.Equal(t, "scan-done", resp.ScanID)
	assert.Equal(t, models.StatusDone, resp.GVMStatus)
	assert.Equal(t, reportXML, resp.ReportXML)
	require.NotNil(t, resp.Summary)
	assert.Equal(t, 1, resp.Summary.HostsScanned)
	assert.Equal(t, 2, resp.Summary.VulnsHigh)

	rec = a.do(t, http.MethodGet, "/scans/missing/report", nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListProbes(t *testing.T) {
	a := newTestAPI(t, nil)

	require.NoError(t, a.db.Create(&models.Scan{
		ScanID:    "scan-active",
		ProbeName: "probe-a",
		Target:    "10.0.0.1",
		ScanType:  models.ScanTypeFull,
		GVMStatus: models.StatusRunning,
		CreatedAt: time.Now().UTC(),
	}).Error)

	rec := a.do(t, http.MethodGet, "/probes", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Probes []struct {
			Name        string `json:"name"`
			Host        string `json:"host"`
			Port        int    `json:"port"`
			ActiveScans int    `json:"active_scans"`
		} `json:"probes"`
	}
	decode(t, rec, &resp)
	require.Len(t, resp.Probes, 1)
	assert.Equal(t, "probe-a", resp.Probes[0].Name)
	assert.Equal(t, "gvm.internal", resp.Probes[0].Host)
	assert.Equal(t, 9390, resp.Probes[0].Port)
	assert.Equal(t, 1, resp.Probes[0].ActiveScans)
}

func TestListTargets(t *testing.T) {
	a := newTestAPI(t, nil)

	now := time.Now().UTC()
	require.NoError(t, a.db.Create(&models.Target{
		ExternalID:         "asset-1",
		Host:               "10.0.0.1",
		ScanType:           models.ScanTypeFull,
		Criticality:        "high",
		CriticalityWeight:  3,
		ScanFrequencyHours: 24,
		Enabled:            true,
		SyncedAt:           now,
		CreatedAt:          now,
	}).Error)

	rec := a.do(t, http.MethodGet, "/targets", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Total   int `json:"total"`
		Targets []struct {
			ExternalID  string `json:"external_id"`
			Host        string `json:"host"`
			Criticality string `json:"criticality"`
		} `json:"targets"`
	}
	decode(t, rec, &resp)
	require.Equal(t, 1, resp.Total)
	assert.Equal(t, "asset-1", resp.Targets[0].ExternalID)
	assert.Equal(t, "high", resp.Targets[0].Criticality)

	rec = a.do(t, http.MethodGet, "/targets/asset-1", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = a.do(t, http.MethodGet, "/targets/asset-missing", nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHealth(t *testing.T) {
	a := newTestAPI(t, nil)

	rec := a.do(t, http.MethodGet, "/health", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var healthy struct {
		Status string            `json:"status"`
		Probes map[string]string `json:"probes"`
	}
	decode(t, rec, &healthy)
	assert.Equal(t, "healthy", healthy.Status)
	assert.Equal(t, "connected", healthy.Probes["probe-a"])

	a.engine.SetPingError(errors.New("connection refused"))

	rec = a.do(t, http.MethodGet, "/health", nil, nil)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var degraded struct {
		Detail struct {
			Status string            `json:"status"`
			Probes map[string]string `json:"probes"`
		} `json:"detail"`
	}
	decode(t, rec, &degraded)
	assert.Equal(t, "degraded", degraded.Detail.Status)
	assert.Contains(t, degraded.Detail.Probes["probe-a"], "connection refused")
}

func TestMetricsEndpoint(t *testing.T) {
	a := newTestAPI(t, nil)
	rec := a.do(t, http.MethodGet, "/metrics", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "scanhub_")
}

func TestAuth_Disabled(t *testing.T) {
	a := newTestAPI(t, nil)

	rec := a.do(t, http.MethodGet, "/scans", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = a.do(t, http.MethodPost, "/auth/token", map[string]string{"client_id": "ci"}, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAuth_Enabled(t *testing.T) {
	a := newTestAPI(t, func(cfg *config.Config) {
		cfg.API.AuthSecret = "test-secret"
	})

	// Protected routes reject unauthenticated requests.
	rec := a.do(t, http.MethodGet, "/scans", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = a.do(t, http.MethodGet, "/scans", nil, map[string]string{"Authorization": "Bearer garbage"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// Health stays public.
	rec = a.do(t, http.MethodGet, "/health", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	// Issue a token and use it.
	rec = a.do(t, http.MethodPost, "/auth/token", map[string]string{"client_id": "ci"}, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var token struct {
		AccessToken string `json:"access_token"`
		TokenType   string `json:"token_type"`
		ExpiresIn   int    `json:"expires_in"`
	}
	decode(t, rec, &token)
	assert.Equal(t, "bearer", token.TokenType)
	assert.Equal(t, 3600, token.ExpiresIn)
	require.NotEmpty(t, token.AccessToken)

	rec = a.do(t, http.MethodGet, "/scans", nil, map[string]string{"Authorization": "Bearer " + token.AccessToken})
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = a.do(t, http.MethodPost, "/auth/token", map[string]string{}, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}
