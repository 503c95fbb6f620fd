package sandbox

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"
)

// fakeRuntime is an in-memory runtimeClient recording every call.
type fakeRuntime struct {
	lookup  containerLookup
	execs   [][]string
	created []createSpec
	started []string
	removed []string

	execCode  int
	execErr   error
	execDelay time.Duration
	startErr  error
}

func (f *fakeRuntime) Ping(ctx context.Context) error { return nil }

func (f *fakeRuntime) Lookup(ctx context.Context, name string) containerLookup {
	return f.lookup
}

func (f *fakeRuntime) Create(ctx context.Context, spec createSpec) (string, error) {
	f.created = append(f.created, spec)
	return "new-id", nil
}

func (f *fakeRuntime) Start(ctx context.Context, id string) error {
	if f.startErr != nil {
		return f.startErr
	}
	f.started = append(f.started, id)
	return nil
}

func (f *fakeRuntime) Remove(ctx context.Context, id string, force bool) error {
	f.removed = append(f.removed, id)
	return nil
}

func (f *fakeRuntime) Exec(ctx context.Context, id string, cmd []string) (string, string, int, error) {
	f.execs = append(f.execs, cmd)
	if f.execDelay > 0 {
		time.Sleep(f.execDelay)
	}
	return "", "", f.execCode, f.execErr
}

func (f *fakeRuntime) Close() error { return nil }

// testDocker builds a docker sandbox wired to a fake runtime with all host
// ports reported free.
func testDocker(t *testing.T, cfg Config, rt *fakeRuntime) *dockerSandbox {
	t.Helper()
	if cfg.ProjectName == "" {
		cfg.ProjectName = "demo"
	}
	d, err := newDocker(cfg, NewRegistry())
	if err != nil {
		t.Fatalf("newDocker: %v", err)
	}
	d.newRuntime = func() (runtimeClient, error) { return rt, nil }
	d.portFree = func(port string) bool { return true }
	d.killByCwd = func(port, projectDir string) int { return 0 }
	return d
}

func TestStart_ReusesRunningContainer(t *testing.T) {
	rt := &fakeRuntime{lookup: containerLookup{state: lookupFound, id: "abc", running: true}}
	d := testDocker(t, Config{}, rt)

	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if len(rt.created) != 0 || len(rt.removed) != 0 {
		t.Fatal("running container must be reused, not recreated")
	}
	if d.id != "abc" {
		t.Errorf("expected container id abc, got %q", d.id)
	}
	// The reuse path runs the cleanup pass.
	if len(rt.execs) != 1 || !strings.Contains(rt.execs[0][2], "pkill") {
		t.Errorf("expected one cleanup exec, got %v", rt.execs)
	}
}

func TestStart_ResumesStoppedContainer(t *testing.T) {
	rt := &fakeRuntime{lookup: containerLookup{state: lookupFound, id: "abc", running: false}}
	d := testDocker(t, Config{}, rt)

	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if len(rt.started) != 1 || rt.started[0] != "abc" {
		t.Errorf("expected stopped container resumed, got %v", rt.started)
	}
	if len(rt.created) != 0 {
		t.Error("stopped container must be resumed, not recreated")
	}
}

func TestStart_FreshForcesRebuild(t *testing.T) {
	rt := &fakeRuntime{lookup: containerLookup{state: lookupFound, id: "abc", running: true}}
	d := testDocker(t, Config{Fresh: true, Image: "img", MemoryLimit: "2g", CPULimit: 2}, rt)

	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if len(rt.removed) != 1 || rt.removed[0] != "abc" {
		t.Fatalf("expected the old container removed, got %v", rt.removed)
	}
	if len(rt.created) != 1 {
		t.Fatalf("expected a fresh container, got %d creates", len(rt.created))
	}
	spec := rt.created[0]
	if spec.MemoryBytes != 2<<30 {
		t.Errorf("expected 2GiB memory limit, got %d", spec.MemoryBytes)
	}
	if spec.NanoCPUs != 2e9 {
		t.Errorf("expected 2 CPUs, got %d", spec.NanoCPUs)
	}
	// The controller keeps its hold through the rebuild.
	if _, err := d.reg.Acquire(d.name); !errors.Is(err, ErrBusy) {
		t.Errorf("expected ErrBusy while the rebuilding controller holds the environment, got %v", err)
	}
}

func TestStart_CreatesWhenMissing(t *testing.T) {
	rt := &fakeRuntime{lookup: containerLookup{state: lookupNotFound}}
	d := testDocker(t, Config{Image: "img"}, rt)

	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if len(rt.created) != 1 {
		t.Fatalf("expected create, got %d", len(rt.created))
	}
	// New containers get the provisioning pass, never the cleanup pass.
	if len(rt.execs) != 1 || !strings.Contains(rt.execs[0][2], "apt-get") {
		t.Errorf("expected provisioning exec, got %v", rt.execs)
	}
	// Environment is minimal: host variables are never inherited.
	for _, env := range rt.created[0].Env {
		key := strings.SplitN(env, "=", 2)[0]
		switch key {
		case "PATH", "HOME", "TERM", "CI":
		default:
			t.Errorf("unexpected environment variable %s leaked into container", key)
		}
	}
}

func TestStart_UnreachableRuntime(t *testing.T) {
	rt := &fakeRuntime{lookup: containerLookup{state: lookupUnreachable}}
	d := testDocker(t, Config{}, rt)

	err := d.Start(context.Background())
	if !errors.Is(err, ErrEnvironmentUnavailable) {
		t.Fatalf("expected ErrEnvironmentUnavailable, got %v", err)
	}
	// The hold is released on failure so a retry is possible.
	if _, err := d.reg.Acquire(d.name); err != nil {
		t.Errorf("registry still held after failed start: %v", err)
	}
}

func TestStart_RuntimeConnectFailure(t *testing.T) {
	d := testDocker(t, Config{}, &fakeRuntime{})
	d.newRuntime = func() (runtimeClient, error) { return nil, fmt.Errorf("no docker socket") }

	err := d.Start(context.Background())
	if !errors.Is(err, ErrEnvironmentUnavailable) {
		t.Fatalf("expected ErrEnvironmentUnavailable, got %v", err)
	}
}

func TestRegistry_MutualExclusion(t *testing.T) {
	reg := NewRegistry()

	if _, err := reg.Acquire("drover-x"); err != nil {
		t.Fatalf("first acquire: %v", err)
	}
	if _, err := reg.Acquire("drover-x"); !errors.Is(err, ErrBusy) {
		t.Fatalf("expected ErrBusy, got %v", err)
	}
	// A different environment is independent.
	if _, err := reg.Acquire("drover-y"); err != nil {
		t.Fatalf("unrelated acquire: %v", err)
	}

	reg.Release("drover-x")
	if _, err := reg.Acquire("drover-x"); err != nil {
		t.Fatalf("acquire after release: %v", err)
	}
}

func TestRegistry_ForgetKeepsHold(t *testing.T) {
	reg := NewRegistry()

	if _, err := reg.Acquire("drover-x"); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	reg.Forget("drover-x")
	if _, err := reg.Acquire("drover-x"); !errors.Is(err, ErrBusy) {
		t.Fatalf("forgetting the handle must not drop the hold, got %v", err)
	}

	reg.Release("drover-x")
	if _, err := reg.Acquire("drover-x"); err != nil {
		t.Fatalf("acquire after release: %v", err)
	}
}

func TestRegistry_RecordsContainerID(t *testing.T) {
	rt := &fakeRuntime{lookup: containerLookup{state: lookupNotFound}}
	d := testDocker(t, Config{Image: "img"}, rt)

	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := d.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	h, err := d.reg.Acquire(d.name)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if h.ContainerID != "new-id" {
		t.Errorf("expected the created container recorded on the handle, got %q", h.ContainerID)
	}
}

func TestExec_TimeoutMapsToSyntheticResult(t *testing.T) {
	rt := &fakeRuntime{lookup: containerLookup{state: lookupNotFound}, execCode: 0}
	d := testDocker(t, Config{}, rt)
	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	// The deadline elapses before the wrapper reports 124.
	rt.execCode = 124
	rt.execDelay = 50 * time.Millisecond
	res, err := d.Exec(context.Background(), "sleep 600", 20*time.Millisecond)
	if err != nil {
		t.Fatalf("Exec: %v", err)
	}
	if !res.TimedOut || res.ExitCode != 124 {
		t.Fatalf("expected timeout result, got %+v", res)
	}
	if !strings.Contains(res.Stderr, "timed out") {
		t.Errorf("timeout result should explain itself, got %q", res.Stderr)
	}

	// The in-container wrapper carries the deadline.
	rt.execCode = 0
	rt.execDelay = 0
	if _, err := d.Exec(context.Background(), "ls", 2*time.Second); err != nil {
		t.Fatalf("Exec: %v", err)
	}
	last := rt.execs[len(rt.execs)-1]
	if last[0] != "timeout" || last[3] != "2" {
		t.Errorf("expected timeout wrapper with 2s deadline, got %v", last)
	}
}

func TestExec_FastExit124IsNotATimeout(t *testing.T) {
	rt := &fakeRuntime{lookup: containerLookup{state: lookupNotFound}}
	d := testDocker(t, Config{}, rt)
	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	// The command exits 124 on its own, well before the deadline.
	rt.execCode = 124
	res, err := d.Exec(context.Background(), "exit 124", 2*time.Second)
	if err != nil {
		t.Fatalf("Exec: %v", err)
	}
	if res.TimedOut {
		t.Fatalf("fast exit 124 misreported as timeout: %+v", res)
	}
	if res.ExitCode != 124 {
		t.Errorf("expected the command's own exit code, got %d", res.ExitCode)
	}
}

func TestExec_RuntimeFailureIsResultNotError(t *testing.T) {
	rt := &fakeRuntime{lookup: containerLookup{state: lookupNotFound}}
	d := testDocker(t, Config{}, rt)
	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	rt.execErr = fmt.Errorf("daemon went away")
	res, err := d.Exec(context.Background(), "ls", time.Second)
	if err != nil {
		t.Fatalf("Exec should degrade, got error %v", err)
	}
	if res.ExitCode != -1 || !strings.Contains(res.Stderr, "daemon went away") {
		t.Fatalf("expected degraded result, got %+v", res)
	}
}

// ─── Port conflict policy ───

func TestResolvePorts(t *testing.T) {
	rt := &fakeRuntime{lookup: containerLookup{state: lookupNotFound}}

	t.Run("free ports pass through", func(t *testing.T) {
		d := testDocker(t, Config{Ports: []string{"3000:3000", "5173:5173"}}, rt)
		got := d.resolvePorts()
		if len(got) != 2 {
			t.Fatalf("expected both ports, got %v", got)
		}
	})

	t.Run("project process killed and port reclaimed", func(t *testing.T) {
		d := testDocker(t, Config{Ports: []string{"3000:3000"}}, rt)
		free := false
		d.portFree = func(port string) bool { return free }
		killed := 0
		d.killByCwd = func(port, projectDir string) int {
			killed++
			free = true // The stale process is gone on re-probe.
			return 1
		}

		got := d.resolvePorts()
		if killed != 1 {
			t.Fatalf("expected one kill pass, got %d", killed)
		}
		if len(got) != 1 {
			t.Fatalf("expected reclaimed port kept, got %v", got)
		}
	})

	t.Run("unrelated holder drops the port only", func(t *testing.T) {
		d := testDocker(t, Config{Ports: []string{"3000:3000", "5173:5173"}}, rt)
		d.portFree = func(port string) bool { return port != "3000" }
		d.killByCwd = func(port, projectDir string) int { return 0 } // Nothing ours to kill.

		got := d.resolvePorts()
		if len(got) != 1 || got[0] != "5173:5173" {
			t.Fatalf("expected only the free port, got %v", got)
		}
	})

	t.Run("malformed pair skipped", func(t *testing.T) {
		d := testDocker(t, Config{Ports: []string{"nope", "8080:80"}}, rt)
		got := d.resolvePorts()
		if len(got) != 1 || got[0] != "8080:80" {
			t.Fatalf("expected malformed pair dropped, got %v", got)
		}
	})
}

// ─── Helpers ───

func TestContainerName(t *testing.T) {
	if got := ContainerName("MyApp"); got != "drover-myapp" {
		t.Errorf("expected drover-myapp, got %q", got)
	}
}

func TestParseMemory(t *testing.T) {
	cases := []struct {
		in   string
		want int64
	}{
		{"", 0},
		{"2g", 2 << 30},
		{"512m", 512 << 20},
		{"64k", 64 << 10},
		{"1024", 1024},
		{" 1G ", 1 << 30},
	}
	for _, tc := range cases {
		got, err := parseMemory(tc.in)
		if err != nil {
			t.Errorf("parseMemory(%q): %v", tc.in, err)
			continue
		}
		if got != tc.want {
			t.Errorf("parseMemory(%q) = %d, want %d", tc.in, got, tc.want)
		}
	}

	if _, err := parseMemory("lots"); err == nil {
		t.Error("expected error for garbage limit")
	}
}

func TestSplitPortPair(t *testing.T) {
	host, cont, err := splitPortPair("3000:3001")
	if err != nil || host != "3000" || cont != "3001" {
		t.Fatalf("got %q %q %v", host, cont, err)
	}
	if _, _, err := splitPortPair("3000"); err == nil {
		t.Error("expected error for pair without separator")
	}
}

func TestNew_BackendSelection(t *testing.T) {
	reg := NewRegistry()

	sb, err := New(Config{Type: "", ProjectDir: t.TempDir()}, reg)
	if err != nil {
		t.Fatalf("New local: %v", err)
	}
	if _, ok := sb.(*localSandbox); !ok {
		t.Errorf("expected local backend, got %T", sb)
	}

	sb, err = New(Config{Type: "docker", ProjectName: "demo"}, reg)
	if err != nil {
		t.Fatalf("New docker: %v", err)
	}
	if _, ok := sb.(*dockerSandbox); !ok {
		t.Errorf("expected docker backend, got %T", sb)
	}

	sb, err = New(Config{Type: "cloud"}, reg)
	if err != nil {
		t.Fatalf("New cloud: %v", err)
	}
	if err := sb.Start(context.Background()); !errors.Is(err, ErrUnsupported) {
		t.Errorf("cloud backend should report ErrUnsupported, got %v", err)
	}

	if _, err := New(Config{Type: "bogus"}, reg); err == nil {
		t.Error("expected error for unknown backend")
	}
}

func TestLocalExec(t *testing.T) {
	sb := newLocal(Config{ProjectDir: t.TempDir()})

	res, err := sb.Exec(context.Background(), "echo hello", 5*time.Second)
	if err != nil {
		t.Fatalf("Exec: %v", err)
	}
	if res.ExitCode != 0 || strings.TrimSpace(res.Stdout) != "hello" {
		t.Fatalf("unexpected result: %+v", res)
	}

	res, err = sb.Exec(context.Background(), "exit 3", 5*time.Second)
	if err != nil {
		t.Fatalf("Exec: %v", err)
	}
	if res.ExitCode != 3 {
		t.Fatalf("expected exit 3, got %d", res.ExitCode)
	}
}

func TestLocalExec_Timeout(t *testing.T) {
	sb := newLocal(Config{ProjectDir: t.TempDir()})

	res, err := sb.Exec(context.Background(), "sleep 10", 100*time.Millisecond)
	if err != nil {
		t.Fatalf("Exec: %v", err)
	}
	if !res.TimedOut || res.ExitCode != 124 {
		t.Fatalf("expected timeout result, got %+v", res)
	}
}
