// Package gmp speaks the Greenbone Management Protocol to one scan engine:
// XML commands over TLS against gvmd, usually on port 9390.
package gmp

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/oryxsec/scanhub/internal/metrics"
	"github.com/oryxsec/scanhub/pkg/config"
)

// Client is the per-probe handle. A single authenticated session is shared
// and serialized by a mutex; on transport errors the session is dropped and
// rebuilt on the next attempt. Create operations are keyed by caller-chosen
// names, so a retry after a mid-call crash finds and reuses the existing
// engine object instead of duplicating it.
type Client struct {
	name          string
	addr          string
	username      string
	password      string
	timeout       time.Duration
	retryAttempts int
	retryDelay    time.Duration
	log           *slog.Logger

	mu   sync.Mutex
	sess *conn

	// Engine ids for the named scan config / scanner / default port list,
	// resolved once per process.
	lookupMu  sync.Mutex
	lookupIDs map[string]string
}

// TaskState is the authoritative observable for a running task.
type TaskState struct {
	Status       string
	Progress     int
	LastReportID string
}

func NewClient(cfg config.ProbeConfig, log *slog.Logger) *Client {
	return &Client{
		name:          cfg.Name,
		addr:          cfg.Addr(),
		username:      cfg.Username,
		password:      cfg.Password,
		timeout:       time.Duration(cfg.Timeout) * time.Second,
		retryAttempts: cfg.RetryAttempts,
		retryDelay:    time.Duration(cfg.RetryDelay) * time.Second,
		log:           log.With("probe", cfg.Name),
		lookupIDs:     make(map[string]string),
	}
}

func (c *Client) Name() string { return c.name }

// Close drops the cached session, if any.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sess != nil {
		c.sess.close()
		c.sess = nil
	}
}

// session returns the cached authenticated session, dialing one if needed.
// Caller must hold c.mu.
func (c *Client) session() (*conn, error) {
	if c.sess != nil {
		return c.sess, nil
	}

	cn, err := dialGMP(c.addr, c.timeout)
	if err != nil {
		return nil, err
	}

	cmd := authenticateCmd{}
	cmd.Credentials.Username = c.username
	cmd.Credentials.Password = c.password

	var resp authenticateResponse
	if err := cn.roundTrip(&cmd, &resp); err != nil {
		cn.close()
		return nil, err
	}
	if !resp.ok() {
		cn.close()
		return nil, fmt.Errorf("%w: %s", ErrAuthFailed, resp.StatusText)
	}

	c.log.Debug("engine session established", "addr", c.addr)
	c.sess = cn
	return cn, nil
}

func (c *Client) dropSession() {
	if c.sess != nil {
		c.sess.close()
		c.sess = nil
	}
}

// do runs fn against an authenticated session with fixed-backoff retry on
// transient errors, reconnecting between attempts.
func (c *Client) do(ctx context.Context, op string, fn func(*conn) error) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var lastErr error
	for attempt := 1; attempt <= c.retryAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		sess, err := c.session()
		if err == nil {
			err = fn(sess)
			if err == nil {
				return nil
			}
			if !Transient(err) {
				return err
			}
		}
		lastErr = err
		metrics.EngineConnectionErrors.WithLabelValues(c.name).Inc()
		c.dropSession()

		if attempt < c.retryAttempts {
			c.log.Warn("engine operation failed, retrying",
				"op", op,
				"attempt", attempt,
				"max_attempts", c.retryAttempts,
				"error", err,
			)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(c.retryDelay):
			}
		}
	}
	return fmt.Errorf("%s on %s failed after %d attempts: %w", op, c.name, c.retryAttempts, lastErr)
}

// Ping checks live connectivity with a cheap authenticated call.
func (c *Client) Ping(ctx context.Context) error {
	return c.do(ctx, "ping", func(cn *conn) error {
		var resp getScannersResponse
		if err := cn.roundTrip(&getScannersCmd{}, &resp); err != nil {
			return err
		}
		if !resp.ok() {
			return resp.err("get_scanners")
		}
		return nil
	})
}

// EnsurePortList creates a port list with the given TCP ports, reusing an
// existing list of the same name.
func (c *Client) EnsurePortList(ctx context.Context, name string, ports []int) (string, error) {
	var id string
	err := c.do(ctx, "create_port_list", func(cn *conn) error {
		existing, err := findByName(cn, &getPortListsCmd{Filter: nameFilter(name)}, &getPortListsResponse{}, name)
		if err != nil {
			return err
		}
		if existing != "" {
			id = existing
			return nil
		}

		ranges := make([]string, len(ports))
		for i, p := range ports {
			ranges[i] = "T:" + strconv.Itoa(p)
		}
		cmd := createPortListCmd{Name: name, PortRange: strings.Join(ranges, ",")}
		var resp createResponse
		if err := cn.roundTrip(&cmd, &resp); err != nil {
			return err
		}
		if !resp.ok() {
			return resp.err("create_port_list")
		}
		if resp.ID == "" {
			return fmt.Errorf("%w: create_port_list returned no id", ErrProtocol)
		}
		id = resp.ID
		return nil
	})
	return id, err
}

// EnsureTarget creates an engine target for hosts, reusing an existing
// target of the same name. portListID may be empty for the engine default.
func (c *Client) EnsureTarget(ctx context.Context, name, hosts, portListID string) (string, error) {
	var id string
	err := c.do(ctx, "create_target", func(cn *conn) error {
		existing, err := findByName(cn, &getTargetsCmd{Filter: nameFilter(name)}, &getTargetsResponse{}, name)
		if err != nil {
			return err
		}
		if existing != "" {
			id = existing
			return nil
		}

		cmd := createTargetCmd{Name: name, Hosts: hosts}
		if portListID != "" {
			cmd.PortList = &idRef{ID: portListID}
		}
		var resp createResponse
		if err := cn.roundTrip(&cmd, &resp); err != nil {
			return err
		}
		if !resp.ok() {
			return resp.err("create_target")
		}
		if resp.ID == "" {
			return fmt.Errorf("%w: create_target returned no id", ErrProtocol)
		}
		id = resp.ID
		return nil
	})
	return id, err
}

// EnsureTask creates a task binding the target to the named scan config and
// scanner, reusing an existing task of the same name.
func (c *Client) EnsureTask(ctx context.Context, name, targetID, configName, scannerName string) (string, error) {
	var id string
	err := c.do(ctx, "create_task", func(cn *conn) error {
		var resp getTasksResponse
		if err := cn.roundTrip(&getTasksCmd{Filter: nameFilter(name)}, &resp); err != nil {
			return err
		}
		if !resp.ok() {
			return resp.err("get_tasks")
		}
		for _, t := range resp.Tasks {
			if t.Name == name {
				id = t.ID
				return nil
			}
		}

		configID, err := c.resolveName(cn, "config", configName)
		if err != nil {
			return err
		}
		scannerID, err := c.resolveName(cn, "scanner", scannerName)
		if err != nil {
			return err
		}

		cmd := createTaskCmd{
			Name:    name,
			Config:  idRef{ID: configID},
			Target:  idRef{ID: targetID},
			Scanner: idRef{ID: scannerID},
		}
		var created createResponse
		if err := cn.roundTrip(&cmd, &created); err != nil {
			return err
		}
		if !created.ok() {
			return created.err("create_task")
		}
		if created.ID == "" {
			return fmt.Errorf("%w: create_task returned no id", ErrProtocol)
		}
		id = created.ID
		return nil
	})
	return id, err
}

// StartTask starts the task and returns the engine report id.
func (c *Client) StartTask(ctx context.Context, taskID string) (string, error) {
	var reportID string
	err := c.do(ctx, "start_task", func(cn *conn) error {
		var resp startTaskResponse
		if err := cn.roundTrip(&startTaskCmd{TaskID: taskID}, &resp); err != nil {
			return err
		}
		if !resp.ok() {
			return resp.err("start_task")
		}
		if resp.ReportID == "" {
			return fmt.Errorf("%w: start_task returned no report_id", ErrProtocol)
		}
		reportID = resp.ReportID
		return nil
	})
	return reportID, err
}

// GetTask fetches current status and progress. Never cached; this is the
// authoritative observable.
func (c *Client) GetTask(ctx context.Context, taskID string) (TaskState, error) {
	var state TaskState
	err := c.do(ctx, "get_task", func(cn *conn) error {
		var resp getTasksResponse
		if err := cn.roundTrip(&getTasksCmd{TaskID: taskID}, &resp); err != nil {
			return err
		}
		if !resp.ok() {
			return resp.err("get_tasks")
		}
		if len(resp.Tasks) == 0 {
			return fmt.Errorf("%w: no status for task %s", ErrProtocol, taskID)
		}
		t := resp.Tasks[0]
		progress, _ := strconv.Atoi(t.Progress)
		if progress < 0 {
			progress = 0
		}
		state = TaskState{
			Status:       t.Status,
			Progress:     progress,
			LastReportID: t.LastReport.Report.ID,
		}
		if state.Status == "" {
			return fmt.Errorf("%w: empty status for task %s", ErrProtocol, taskID)
		}
		return nil
	})
	return state, err
}

// GetReportXML downloads the full XML report as an opaque blob.
func (c *Client) GetReportXML(ctx context.Context, reportID string) (string, error) {
	var xmlText string
	err := c.do(ctx, "get_report", func(cn *conn) error {
		formatID, err := c.resolveName(cn, "report_format", "XML")
		if err != nil {
			return err
		}

		cmd := getReportsCmd{
			ReportID:         reportID,
			FormatID:         formatID,
			Details:          "1",
			IgnorePagination: "1",
		}
		var resp getReportsResponse
		if err := cn.roundTrip(&cmd, &resp); err != nil {
			return err
		}
		if !resp.ok() {
			return resp.err("get_reports")
		}
		if resp.Report == nil {
			return fmt.Errorf("%w: no report element for report %s", ErrProtocol, reportID)
		}
		xmlText = fmt.Sprintf("<report id=%q>%s</report>", resp.Report.ID, resp.Report.Inner)
		return nil
	})
	return xmlText, err
}

// StopTask requests the engine to stop a running task.
func (c *Client) StopTask(ctx context.Context, taskID string) error {
	return c.do(ctx, "stop_task", func(cn *conn) error {
		var resp genericResponse
		if err := cn.roundTrip(&stopTaskCmd{TaskID: taskID}, &resp); err != nil {
			return err
		}
		if !resp.ok() {
			return resp.err("stop_task")
		}
		return nil
	})
}

func (c *Client) DeleteTask(ctx context.Context, taskID string) error {
	return c.do(ctx, "delete_task", func(cn *conn) error {
		var resp genericResponse
		if err := cn.roundTrip(&deleteTaskCmd{TaskID: taskID, Ultimate: "1"}, &resp); err != nil {
			return err
		}
		if !resp.ok() {
			return resp.err("delete_task")
		}
		return nil
	})
}

func (c *Client) DeleteTarget(ctx context.Context, targetID string) error {
	return c.do(ctx, "delete_target", func(cn *conn) error {
		var resp genericResponse
		if err := cn.roundTrip(&deleteTargetCmd{TargetID: targetID, Ultimate: "1"}, &resp); err != nil {
			return err
		}
		if !resp.ok() {
			return resp.err("delete_target")
		}
		return nil
	})
}

func (c *Client) DeletePortList(ctx context.Context, portListID string) error {
	return c.do(ctx, "delete_port_list", func(cn *conn) error {
		var resp genericResponse
		if err := cn.roundTrip(&deletePortListCmd{PortListID: portListID, Ultimate: "1"}, &resp); err != nil {
			return err
		}
		if !resp.ok() {
			return resp.err("delete_port_list")
		}
		return nil
	})
}

// FindPortListID resolves a port list id by its display name, for the
// configured default list on full scans.
func (c *Client) FindPortListID(ctx context.Context, name string) (string, error) {
	var id string
	err := c.do(ctx, "get_port_lists", func(cn *conn) error {
		resolved, err := c.resolveName(cn, "port_list", name)
		if err != nil {
			return err
		}
		id = resolved
		return nil
	})
	return id, err
}

// resolveName maps a (kind, display name) pair to an engine id, memoizing
// successful lookups. Scan configs, scanners, report formats and port lists
// are engine-managed and stable for the life of the process.
func (c *Client) resolveName(cn *conn, kind, name string) (string, error) {
	key := kind + "/" + name

	c.lookupMu.Lock()
	if id, ok := c.lookupIDs[key]; ok {
		c.lookupMu.Unlock()
		return id, nil
	}
	c.lookupMu.Unlock()

	var entries []namedElement
	switch kind {
	case "config":
		var resp getConfigsResponse
		if err := cn.roundTrip(&getConfigsCmd{}, &resp); err != nil {
			return "", err
		}
		if !resp.ok() {
			return "", resp.err("get_configs")
		}
		entries = resp.Configs
	case "scanner":
		var resp getScannersResponse
		if err := cn.roundTrip(&getScannersCmd{}, &resp); err != nil {
			return "", err
		}
		if !resp.ok() {
			return "", resp.err("get_scanners")
		}
		entries = resp.Scanners
	case "report_format":
		var resp getReportFormatsResponse
		if err := cn.roundTrip(&getReportFormatsCmd{}, &resp); err != nil {
			return "", err
		}
		if !resp.ok() {
			return "", resp.err("get_report_formats")
		}
		entries = resp.Formats
	case "port_list":
		var resp getPortListsResponse
		if err := cn.roundTrip(&getPortListsCmd{}, &resp); err != nil {
			return "", err
		}
		if !resp.ok() {
			return "", resp.err("get_port_lists")
		}
		entries = resp.PortLists
	default:
		return "", fmt.Errorf("%w: unknown lookup kind %q", ErrProtocol, kind)
	}

	for _, e := range entries {
		if e.Name == name {
			c.lookupMu.Lock()
			c.lookupIDs[key] = e.ID
			c.lookupMu.Unlock()
			return e.ID, nil
		}
	}
	return "", fmt.Errorf("%w: %s %q not found on engine", ErrProtocol, kind, name)
}

// findByName runs a filtered list command and returns the id of the entry
// whose name matches exactly, or "".
func findByName(cn *conn, cmd interface{}, resp interface{}, name string) (string, error) {
	if err := cn.roundTrip(cmd, resp); err != nil {
		return "", err
	}

	var status gmpStatus
	var entries []namedElement
	switch r := resp.(type) {
	case *getTargetsResponse:
		status, entries = r.gmpStatus, r.Targets
	case *getPortListsResponse:
		status, entries = r.gmpStatus, r.PortLists
	default:
		return "", fmt.Errorf("%w: unsupported list response", ErrProtocol)
	}
	if !status.ok() {
		return "", status.err("list")
	}
	for _, e := range entries {
		if e.Name == name {
			return e.ID, nil
		}
	}
	return "", nil
}

func nameFilter(name string) string {
	return fmt.Sprintf("name=%q rows=-1", name)
}
