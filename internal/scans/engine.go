package scans

import (
	"context"

	"github.com/oryxsec/scanhub/internal/gmp"
)

// Engine is the per-probe handle the manager drives. *gmp.Client is the
// production implementation; tests substitute fakes.
type Engine interface {
	Name() string
	Ping(ctx context.Context) error
	EnsurePortList(ctx context.Context, name string, ports []int) (string, error)
	EnsureTarget(ctx context.Context, name, hosts, portListID string) (string, error)
	EnsureTask(ctx context.Context, name, targetID, configName, scannerName string) (string, error)
	StartTask(ctx context.Context, taskID string) (string, error)
	GetTask(ctx context.Context, taskID string) (gmp.TaskState, error)
	GetReportXML(ctx context.Context, reportID string) (string, error)
	StopTask(ctx context.Context, taskID string) error
	DeleteTask(ctx context.Context, taskID string) error
	DeleteTarget(ctx context.Context, targetID string) error
	DeletePortList(ctx context.Context, portListID string) error
	FindPortListID(ctx context.Context, name string) (string, error)
}
