package session

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/imkarma/drover/internal/agent"
	"github.com/imkarma/drover/internal/bridge"
	"github.com/imkarma/drover/internal/config"
	"github.com/imkarma/drover/internal/sandbox"
	"github.com/imkarma/drover/internal/store"
)

// fakeRunner drives the bridge the way an agent session would.
type fakeRunner struct {
	run func(ctx context.Context, req agent.Request, br *bridge.Bridge) (*agent.Response, error)
}

func (f *fakeRunner) Run(ctx context.Context, req agent.Request, br *bridge.Bridge) (*agent.Response, error) {
	if f.run != nil {
		return f.run(ctx, req, br)
	}
	return &agent.Response{ExitCode: 0}, nil
}

func (f *fakeRunner) Name() string { return "fake" }

// fakeSandbox is a no-op environment that can be told to fail on start.
type fakeSandbox struct {
	startErr error
	started  bool
	stopped  bool
	fresh    bool
}

func (f *fakeSandbox) Start(ctx context.Context) error {
	if f.startErr != nil {
		return f.startErr
	}
	f.started = true
	return nil
}
func (f *fakeSandbox) Stop(ctx context.Context) error { f.stopped = true; return nil }
func (f *fakeSandbox) WorkDir() string                { return "/workspace" }
func (f *fakeSandbox) Exec(ctx context.Context, command string, timeout time.Duration) (*sandbox.ExecResult, error) {
	return &sandbox.ExecResult{ExitCode: 0}, nil
}
func (f *fakeSandbox) UploadFile(ctx context.Context, localPath, remotePath string) error {
	return nil
}
func (f *fakeSandbox) DownloadFile(ctx context.Context, remotePath, localPath string) error {
	return nil
}
func (f *fakeSandbox) SyncDir(ctx context.Context, localDir, remoteDir string) error {
	return nil
}

func testController(t *testing.T, runner agent.Runner, sessType store.SessionType) (*Controller, *store.Store, *store.Project, *fakeSandbox) {
	t.Helper()

	st, err := store.New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	project, err := st.CreateProject("demo")
	if err != nil {
		t.Fatalf("CreateProject: %v", err)
	}

	sb := &fakeSandbox{}
	c := New(st, sandbox.NewRegistry(), config.DefaultConfig(), runner, project, sessType, t.TempDir())
	c.newSandbox = func(cfg sandbox.Config, reg *sandbox.Registry) (sandbox.Sandbox, error) {
		sb.fresh = cfg.Fresh
		return sb, nil
	}
	return c, st, project, sb
}

func TestRun_InitializerCompletes(t *testing.T) {
	var sawPrompt string
	runner := &fakeRunner{run: func(ctx context.Context, req agent.Request, br *bridge.Bridge) (*agent.Response, error) {
		sawPrompt = req.Prompt
		// The initializer plans a minimal roadmap.
		epic, err := br.CreateEpic(ctx, "MVP", 1)
		if err != nil {
			return nil, err
		}
		if _, err := br.CreateTask(ctx, epic.ID, "first task", "", 1); err != nil {
			return nil, err
		}
		return &agent.Response{ExitCode: 0}, nil
	}}

	c, st, project, sb := testController(t, runner, store.SessionInitializer)
	out, err := c.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out.Session.Status != store.SessionCompleted {
		t.Fatalf("expected completed, got %s (%s)", out.Session.Status, out.Session.Error)
	}
	if out.Session.Number != 0 {
		t.Errorf("initializer must be session 0, got %d", out.Session.Number)
	}
	if !out.Continue {
		t.Error("roadmap was just planned, the loop should continue")
	}
	if !sb.fresh {
		t.Error("initializer sessions must request a fresh environment")
	}
	if !sb.stopped {
		t.Error("sandbox hold not released")
	}
	if sawPrompt == "" {
		t.Error("runner received no prompt")
	}
	if out.Session.Metrics == nil || out.Session.Metrics.ToolCalls != 2 {
		t.Errorf("expected 2 recorded tool calls, got %+v", out.Session.Metrics)
	}

	// The next session must not be another initializer.
	if _, err := st.CreateSession(project.ID, store.SessionInitializer, ""); !errors.Is(err, store.ErrSessionTypeInvariant) {
		t.Errorf("expected initializer invariant, got %v", err)
	}
}

func TestRun_CodingSessionWorksTask(t *testing.T) {
	runner := &fakeRunner{run: func(ctx context.Context, req agent.Request, br *bridge.Bridge) (*agent.Response, error) {
		task, err := br.GetNextTask(ctx)
		if err != nil || task == nil {
			return nil, fmt.Errorf("no task: %v", err)
		}
		if err := br.MarkTaskDone(ctx, task.ID, "done"); err != nil {
			return nil, err
		}
		return &agent.Response{ExitCode: 0}, nil
	}}

	c, st, project, sb := testController(t, runner, store.SessionCoding)

	// Seed the roadmap the initializer would have planted.
	init, _ := st.CreateSession(project.ID, store.SessionInitializer, "")
	epic, _ := st.CreateEpic(project.ID, "MVP", 1)
	st.CreateTask(epic.ID, "only task", "", 1)
	st.FinishSession(init.ID, store.SessionCompleted, "", nil)

	out, err := c.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out.Session.Status != store.SessionCompleted {
		t.Fatalf("expected completed, got %s (%s)", out.Session.Status, out.Session.Error)
	}
	if sb.fresh {
		t.Error("coding sessions must reuse the environment, not rebuild it")
	}
	if out.Continue {
		t.Error("no work remains, the loop should stop")
	}
}

func TestRun_SandboxStartFailure(t *testing.T) {
	c, st, project, sb := testController(t, &fakeRunner{}, store.SessionInitializer)
	sb.startErr = fmt.Errorf("%w: no docker", sandbox.ErrEnvironmentUnavailable)

	out, err := c.Run(context.Background())
	if err == nil {
		t.Fatal("expected an error")
	}
	if out.Session.Status != store.SessionError {
		t.Fatalf("expected error status, got %s", out.Session.Status)
	}
	// ERROR without ever reaching RUNNING.
	if out.Session.StartedAt != nil {
		t.Error("failed start must not stamp started_at")
	}
	if out.Session.Error == "" {
		t.Error("failure reason missing from session record")
	}

	// The loop can try again with a new session.
	sessions, _ := st.ListSessions(project.ID)
	if len(sessions) != 1 {
		t.Fatalf("expected 1 session, got %d", len(sessions))
	}
}

func TestRun_AgentError(t *testing.T) {
	runner := &fakeRunner{run: func(ctx context.Context, req agent.Request, br *bridge.Bridge) (*agent.Response, error) {
		return nil, fmt.Errorf("spawn failed: executable not found")
	}}
	c, _, _, _ := testController(t, runner, store.SessionInitializer)

	out, err := c.Run(context.Background())
	if err != nil {
		t.Fatalf("Run returns the outcome, not the agent error: %v", err)
	}
	if out.Session.Status != store.SessionError {
		t.Fatalf("expected error status, got %s", out.Session.Status)
	}
	if out.Session.Error != "spawn failed: executable not found" {
		t.Errorf("reason should carry the agent error verbatim, got %q", out.Session.Error)
	}
	if out.Continue {
		t.Error("errored session must not continue the loop")
	}
}

func TestRun_NonZeroAgentExit(t *testing.T) {
	runner := &fakeRunner{run: func(ctx context.Context, req agent.Request, br *bridge.Bridge) (*agent.Response, error) {
		return &agent.Response{ExitCode: 2}, nil
	}}
	c, _, _, _ := testController(t, runner, store.SessionInitializer)

	out, err := c.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out.Session.Status != store.SessionError {
		t.Fatalf("expected error status for exit 2, got %s", out.Session.Status)
	}
}

func TestRun_Interrupted(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	runner := &fakeRunner{run: func(ctx context.Context, req agent.Request, br *bridge.Bridge) (*agent.Response, error) {
		cancel()
		<-ctx.Done()
		return nil, ctx.Err()
	}}
	c, _, _, _ := testController(t, runner, store.SessionInitializer)

	out, err := c.Run(ctx)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out.Session.Status != store.SessionInterrupted {
		t.Fatalf("expected interrupted, got %s", out.Session.Status)
	}
	if out.Session.Error != "interrupted by operator" {
		t.Errorf("unexpected reason %q", out.Session.Error)
	}
	if out.Continue {
		t.Error("interrupted session must not continue")
	}
}

func TestRun_HeartbeatAdvances(t *testing.T) {
	runner := &fakeRunner{run: func(ctx context.Context, req agent.Request, br *bridge.Bridge) (*agent.Response, error) {
		br.CreateEpic(ctx, "MVP", 1)
		time.Sleep(120 * time.Millisecond)
		return &agent.Response{ExitCode: 0}, nil
	}}
	c, _, _, _ := testController(t, runner, store.SessionInitializer)

	out, err := c.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out.Session.StartedAt == nil || out.Session.LastHeartbeat == nil {
		t.Fatal("running session must stamp both started_at and last_heartbeat")
	}
	// The initial heartbeat equals the start stamp; staleness is judged from
	// the heartbeat alone.
	if out.Session.LastHeartbeat.Before(*out.Session.StartedAt) {
		t.Error("heartbeat must never lag the start stamp")
	}
}

// backdateHeartbeat rewrites a session's liveness stamp straight in the
// database file, simulating a crashed session whose heartbeat stopped.
func backdateHeartbeat(t *testing.T, dbPath string, sessionID int64, to time.Time) {
	t.Helper()
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer db.Close()
	if _, err := db.Exec(`UPDATE sessions SET last_heartbeat = ? WHERE id = ?`, to, sessionID); err != nil {
		t.Fatalf("backdate heartbeat: %v", err)
	}
}

func TestRecoverStale(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")
	st, err := store.New(dbPath)
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	project, _ := st.CreateProject("demo")
	sess, _ := st.CreateSession(project.ID, store.SessionInitializer, "")
	st.StartSession(sess.ID)

	cfg := config.DefaultConfig()

	// Fresh heartbeat: nothing to recover.
	recovered, err := RecoverStale(st, cfg, project.ID)
	if err != nil {
		t.Fatalf("RecoverStale: %v", err)
	}
	if len(recovered) != 0 {
		t.Fatalf("fresh session recovered: %v", recovered)
	}

	// Crash simulation: the heartbeat stops advancing. A second project's
	// stale session is outside this sweep's scope.
	other, _ := st.CreateProject("elsewhere")
	osess, _ := st.CreateSession(other.ID, store.SessionInitializer, "")
	st.StartSession(osess.ID)

	cfg.Timing.StaleThresholdMin = 1
	old := time.Now().UTC().Add(-time.Hour)
	backdateHeartbeat(t, dbPath, sess.ID, old)
	backdateHeartbeat(t, dbPath, osess.ID, old)

	recovered, err = RecoverStale(st, cfg, project.ID)
	if err != nil {
		t.Fatalf("RecoverStale: %v", err)
	}
	if len(recovered) != 1 || recovered[0].ID != sess.ID {
		t.Fatalf("expected only session %d recovered, got %v", sess.ID, recovered)
	}

	final, _ := st.GetSession(sess.ID)
	if final.Status != store.SessionInterrupted {
		t.Fatalf("expected interrupted, got %s", final.Status)
	}
	if final.Error == "" {
		t.Error("recovery reason missing")
	}
	untouched, _ := st.GetSession(osess.ID)
	if untouched.Status != store.SessionRunning {
		t.Fatalf("foreign project's session swept: %s", untouched.Status)
	}

	// Idempotent: a second sweep finds nothing.
	recovered, _ = RecoverStale(st, cfg, project.ID)
	if len(recovered) != 0 {
		t.Fatalf("second sweep recovered again: %v", recovered)
	}
}
