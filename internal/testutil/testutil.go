package testutil

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/oryxsec/scanhub/internal/database/models"
	"github.com/oryxsec/scanhub/internal/gmp"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// SetupTestDB opens an isolated in-memory sqlite database with the full
// schema migrated.
func SetupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}

	if err := db.AutoMigrate(&models.Scan{}, &models.Target{}); err != nil {
		t.Fatalf("failed to migrate test database: %v", err)
	}

	return db
}

// DiscardLogger returns a logger that swallows everything.
func DiscardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// FakeEngine is a scriptable in-memory scan engine. The zero value behaves
// like a healthy engine whose tasks complete on the first status poll.
type FakeEngine struct {
	ProbeName string

	mu         sync.Mutex
	pingErr    error
	startErr   error
	getTaskErr error
	reportXML  string
	statuses   []gmp.TaskState
	statusIdx  int

	PortListCalls []string
	TargetCalls   []string
	TaskCalls     []string
	StartCalls    int
	StopCalls     int
	DeleteCalls   []string
}

func NewFakeEngine(name string) *FakeEngine {
	return &FakeEngine{ProbeName: name}
}

func (f *FakeEngine) Name() string { return f.ProbeName }

func (f *FakeEngine) SetPingError(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pingErr = err
}

func (f *FakeEngine) SetStartError(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.startErr = err
}

func (f *FakeEngine) SetGetTaskError(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.getTaskErr = err
}

// SetStatuses scripts the sequence of states returned by GetTask. The last
// state repeats once the script is exhausted.
func (f *FakeEngine) SetStatuses(states ...gmp.TaskState) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses = states
	f.statusIdx = 0
}

func (f *FakeEngine) SetReportXML(xml string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reportXML = xml
}

func (f *FakeEngine) Ping(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pingErr
}

func (f *FakeEngine) EnsurePortList(ctx context.Context, name string, ports []int) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.PortListCalls = append(f.PortListCalls, name)
	return "pl-" + name, nil
}

func (f *FakeEngine) EnsureTarget(ctx context.Context, name, hosts, portListID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.TargetCalls = append(f.TargetCalls, name)
	return "tgt-" + name, nil
}

func (f *FakeEngine) EnsureTask(ctx context.Context, name, targetID, configName, scannerName string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.TaskCalls = append(f.TaskCalls, name)
	return "task-" + name, nil
}

func (f *FakeEngine) StartTask(ctx context.Context, taskID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErr != nil {
		return "", f.startErr
	}
	f.StartCalls++
	return "report-" + taskID, nil
}

func (f *FakeEngine) GetTask(ctx context.Context, taskID string) (gmp.TaskState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getTaskErr != nil {
		return gmp.TaskState{}, f.getTaskErr
	}
	if len(f.statuses) == 0 {
		return gmp.TaskState{Status: models.StatusDone, Progress: 100, LastReportID: "report-" + taskID}, nil
	}
	state := f.statuses[f.statusIdx]
	if f.statusIdx < len(f.statuses)-1 {
		f.statusIdx++
	}
	return state, nil
}

func (f *FakeEngine) GetReportXML(ctx context.Context, reportID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.reportXML != "" {
		return f.reportXML, nil
	}
	return fmt.Sprintf("<report id=%q></report>", reportID), nil
}

func (f *FakeEngine) StopTask(ctx context.Context, taskID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.StopCalls++
	return nil
}

func (f *FakeEngine) DeleteTask(ctx context.Context, taskID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.DeleteCalls = append(f.DeleteCalls, taskID)
	return nil
}

func (f *FakeEngine) DeleteTarget(ctx context.Context, targetID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.DeleteCalls = append(f.DeleteCalls, targetID)
	return nil
}

func (f *FakeEngine) DeletePortList(ctx context.Context, portListID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.DeleteCalls = append(f.DeleteCalls, portListID)
	return nil
}

func (f *FakeEngine) FindPortListID(ctx context.Context, name string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return "pl-default", nil
}

// WaitFor polls cond until it returns true or the deadline passes.
func WaitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}
