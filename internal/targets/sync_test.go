package targets

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/oryxsec/scanhub/internal/database/models"
	"github.com/oryxsec/scanhub/internal/testutil"
	"github.com/oryxsec/scanhub/pkg/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func newSourceServer(t *testing.T, targets *[]SourceTarget, status *int) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if *status != http.StatusOK {
			w.WriteHeader(*status)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"targets": *targets})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestSync(t *testing.T, db *gorm.DB, url string) *Sync {
	t.Helper()
	return NewSync(db, config.SourceConfig{URL: url, Timeout: 5, SyncInterval: 300}, testutil.DiscardLogger())
}

func loadTarget(t *testing.T, db *gorm.DB, id string) *models.Target {
	t.Helper()
	var target models.Target
	require.NoError(t, db.Where("external_id = ?", id).First(&target).Error)
	return &target
}

func TestSyncOnce_CreatesTargets(t *testing.T) {
	db := testutil.SetupTestDB(t)

	upstream := []SourceTarget{
		{ID: "asset-1", Host: "10.0.0.1", Criticality: "critical", ScanFrequencyHours: 24},
		{ID: "asset-2", Host: "web.example.com", Ports: []int{80, 443}, ScanType: "directed"},
	}
	status := http.StatusOK
	srv := newSourceServer(t, &upstream, &status)

	s := newTestSync(t, db, srv.URL)
	require.NoError(t, s.SyncOnce(context.Background()))

	first := loadTarget(t, db, "asset-1")
	assert.Equal(t, "10.0.0.1", first.Host)
	assert.Equal(t, "critical", first.Criticality)
	assert.Equal(t, 4, first.CriticalityWeight)
	assert.Equal(t, 24, first.ScanFrequencyHours)
	assert.True(t, first.Enabled)
	// A brand new target is due immediately.
	require.NotNil(t, first.NextScanAt)
	assert.WithinDuration(t, time.Now().UTC(), *first.NextScanAt, 10*time.Second)

	second := loadTarget(t, db, "asset-2")
	assert.Equal(t, models.ScanTypeDirected, second.ScanType)
	assert.Equal(t, []int{80, 443}, second.Ports)
	// Defaults fill whatever upstream leaves out.
	assert.Equal(t, "medium", second.Criticality)
	assert.Equal(t, 168, second.ScanFrequencyHours)
}

func TestSyncOnce_UpdatePreservesSchedule(t *testing.T) {
	db := testutil.SetupTestDB(t)

	upstream := []SourceTarget{{ID: "asset-1", Host: "10.0.0.1"}}
	status := http.StatusOK
	srv := newSourceServer(t, &upstream, &status)
	s := newTestSync(t, db, srv.URL)

	require.NoError(t, s.SyncOnce(context.Background()))

	// Simulate the scheduler having advanced the target.
	future := time.Now().UTC().Add(72 * time.Hour)
	require.NoError(t, db.Model(&models.Target{}).
		Where("external_id = ?", "asset-1").
		Updates(map[string]interface{}{"next_scan_at": future, "last_scan_id": "scan-1"}).Error)

	upstream[0].Host = "10.0.0.99"
	upstream[0].Criticality = "high"
	require.NoError(t, s.SyncOnce(context.Background()))

	target := loadTarget(t, db, "asset-1")
	assert.Equal(t, "10.0.0.99", target.Host)
	assert.Equal(t, "high", target.Criticality)
	assert.Equal(t, 3, target.CriticalityWeight)
	assert.Equal(t, "scan-1", target.LastScanID)
	require.NotNil(t, target.NextScanAt)
	assert.WithinDuration(t, future, *target.NextScanAt, time.Second)
}

func TestSyncOnce_SoftDeletesAbsent(t *testing.T) {
	db := testutil.SetupTestDB(t)

	upstream := []SourceTarget{
		{ID: "asset-1", Host: "10.0.0.1"},
		{ID: "asset-2", Host: "10.0.0.2"},
	}
	status := http.StatusOK
	srv := newSourceServer(t, &upstream, &status)
	s := newTestSync(t, db, srv.URL)

	require.NoError(t, s.SyncOnce(context.Background()))

	upstream = upstream[:1]
	require.NoError(t, s.SyncOnce(context.Background()))

	assert.True(t, loadTarget(t, db, "asset-1").Enabled)
	gone := loadTarget(t, db, "asset-2")
	assert.False(t, gone.Enabled)
	// Soft delete: the row and its history survive.
	assert.Equal(t, "10.0.0.2", gone.Host)
}

func TestSyncOnce_DisabledUpstreamEntryIsUpserted(t *testing.T) {
	db := testutil.SetupTestDB(t)

	disabled := false
	upstream := []SourceTarget{{ID: "asset-1", Host: "10.0.0.1", Enabled: &disabled}}
	status := http.StatusOK
	srv := newSourceServer(t, &upstream, &status)
	s := newTestSync(t, db, srv.URL)

	require.NoError(t, s.SyncOnce(context.Background()))

	target := loadTarget(t, db, "asset-1")
	assert.False(t, target.Enabled)
	assert.Equal(t, "10.0.0.1", target.Host)
}

func TestSyncOnce_SkipsInvalidEntries(t *testing.T) {
	db := testutil.SetupTestDB(t)

	upstream := []SourceTarget{
		{ID: "", Host: "10.0.0.1"},
		{ID: "asset-2", Host: ""},
		{ID: "asset-3", Host: "10.0.0.3"},
	}
	status := http.StatusOK
	srv := newSourceServer(t, &upstream, &status)
	s := newTestSync(t, db, srv.URL)

	require.NoError(t, s.SyncOnce(context.Background()))

	var count int64
	require.NoError(t, db.Model(&models.Target{}).Count(&count).Error)
	assert.EqualValues(t, 1, count)
	assert.Equal(t, "10.0.0.3", loadTarget(t, db, "asset-3").Host)
}

func TestSyncOnce_UpstreamErrorLeavesStoreUntouched(t *testing.T) {
	db := testutil.SetupTestDB(t)

	upstream := []SourceTarget{{ID: "asset-1", Host: "10.0.0.1"}}
	status := http.StatusOK
	srv := newSourceServer(t, &upstream, &status)
	s := newTestSync(t, db, srv.URL)

	require.NoError(t, s.SyncOnce(context.Background()))

	status = http.StatusInternalServerError
	assert.Error(t, s.SyncOnce(context.Background()))

	// Nothing deactivated, nothing dropped.
	target := loadTarget(t, db, "asset-1")
	assert.True(t, target.Enabled)
}

func TestSyncOnce_Idempotent(t *testing.T) {
	db := testutil.SetupTestDB(t)

	upstream := []SourceTarget{{ID: "asset-1", Host: "10.0.0.1"}}
	status := http.StatusOK
	srv := newSourceServer(t, &upstream, &status)
	s := newTestSync(t, db, srv.URL)

	require.NoError(t, s.SyncOnce(context.Background()))
	require.NoError(t, s.SyncOnce(context.Background()))

	var count int64
	require.NoError(t, db.Model(&models.Target{}).Count(&count).Error)
	assert.EqualValues(t, 1, count)
}
