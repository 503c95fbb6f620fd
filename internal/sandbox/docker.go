package sandbox

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	containerWorkDir = "/workspace"

	// provisionScript installs baseline developer tooling. Idempotent: a
	// second run on the same container is a fast no-op.
	provisionScript = `command -v git >/dev/null 2>&1 && command -v ps >/dev/null 2>&1 && command -v python3 >/dev/null 2>&1 || ` +
		`(apt-get update -qq && apt-get install -y -qq --no-install-recommends git procps python3 python3-pip curl)`

	// cleanupScript kills lingering runtime processes and clears caches
	// left by a previous session. Runs on every reuse, never on fresh
	// creation. Lingering dev servers are what cause port conflicts and
	// memory exhaustion across sessions.
	cleanupScript = `pkill -9 -f "node " 2>/dev/null; pkill -9 node 2>/dev/null; ` +
		`pkill -9 -f python3 2>/dev/null; ` +
		`rm -rf /tmp/* 2>/dev/null; ` +
		`rm -rf /workspace/node_modules/.cache /workspace/.next/cache /workspace/.vite 2>/dev/null; ` +
		`true`
)

// dockerSandbox is the container-backed Sandbox. Containers are named
// deterministically from the project, reused across coding/review sessions
// and rebuilt from scratch for initializer sessions.
type dockerSandbox struct {
	cfg      Config
	reg      *Registry
	cli      runtimeClient
	name     string
	id       string
	acquired bool
	log      *logrus.Entry

	// Overridable seams for the port-conflict policy.
	portFree   func(port string) bool
	killByCwd  func(port, projectDir string) int
	newRuntime func() (runtimeClient, error)
}

// ContainerName derives the deterministic environment name for a project.
func ContainerName(project string) string {
	return "drover-" + strings.ToLower(project)
}

func newDocker(cfg Config, reg *Registry) (*dockerSandbox, error) {
	if cfg.ProjectName == "" {
		return nil, fmt.Errorf("docker sandbox requires a project name")
	}
	if reg == nil {
		reg = NewRegistry()
	}
	return &dockerSandbox{
		cfg:        cfg,
		reg:        reg,
		name:       ContainerName(cfg.ProjectName),
		log:        logrus.WithField("component", "sandbox").WithField("container", ContainerName(cfg.ProjectName)),
		portFree:   hostPortFree,
		killByCwd:  killProjectListeners,
		newRuntime: func() (runtimeClient, error) { return newSDKClient() },
	}, nil
}

// Start establishes or reattaches to the project environment:
//
//  1. Fresh (initializer) sessions force-destroy any existing container and
//     rebuild, so stale installed state cannot bias roadmap planning.
//  2. Coding/review sessions reuse an existing container, resuming it if
//     stopped, and run the cleanup pass.
//  3. With no existing container, one is created regardless of session type.
func (d *dockerSandbox) Start(ctx context.Context) error {
	if _, err := d.reg.Acquire(d.name); err != nil {
		return err
	}
	d.acquired = true

	cli, err := d.newRuntime()
	if err != nil {
		d.release()
		return fmt.Errorf("%w: %v", ErrEnvironmentUnavailable, err)
	}
	d.cli = cli

	found := d.cli.Lookup(ctx, d.name)
	switch found.state {
	case lookupUnreachable:
		d.release()
		return fmt.Errorf("%w: container lookup failed", ErrEnvironmentUnavailable)

	case lookupFound:
		if d.cfg.Fresh {
			d.log.Info("initializer session: rebuilding environment from scratch")
			if err := d.cli.Remove(ctx, found.id, true); err != nil {
				d.release()
				return fmt.Errorf("remove stale container: %w", err)
			}
			// The hold stays with this controller across the rebuild; only
			// the handle of the destroyed container is dropped.
			d.reg.Forget(d.name)
			return d.create(ctx)
		}

		d.id = found.id
		if !found.running {
			d.log.Info("resuming stopped environment")
			if err := d.cli.Start(ctx, found.id); err != nil {
				d.release()
				return fmt.Errorf("%w: resume container: %v", ErrEnvironmentUnavailable, err)
			}
		} else {
			d.log.Debug("reusing active environment")
		}
		d.reg.Record(d.name, d.id)
		d.cleanup(ctx)
		return nil

	default: // lookupNotFound
		return d.create(ctx)
	}
}

// create builds a fresh container: conflict-resolved ports, resource limits,
// project bind mount, minimal environment, then baseline provisioning.
func (d *dockerSandbox) create(ctx context.Context) error {
	ports := d.resolvePorts()

	memBytes, err := parseMemory(d.cfg.MemoryLimit)
	if err != nil {
		d.release()
		return err
	}

	spec := createSpec{
		Name:        d.name,
		Image:       d.cfg.Image,
		MemoryBytes: memBytes,
		NanoCPUs:    int64(d.cfg.CPULimit * 1e9),
		ProjectDir:  d.cfg.ProjectDir,
		WorkDir:     containerWorkDir,
		Env:         baselineEnv(),
		Ports:       ports,
	}

	id, err := d.cli.Create(ctx, spec)
	if err != nil {
		d.release()
		return fmt.Errorf("%w: %v", ErrEnvironmentUnavailable, err)
	}
	d.id = id

	if err := d.cli.Start(ctx, id); err != nil {
		d.cli.Remove(ctx, id, true)
		d.reg.Forget(d.name)
		d.release()
		return fmt.Errorf("%w: start container: %v", ErrEnvironmentUnavailable, err)
	}
	d.reg.Record(d.name, id)

	d.log.Info("provisioning baseline tooling")
	if _, stderr, code, err := d.cli.Exec(ctx, id, []string{"sh", "-c", provisionScript}); err != nil || code != 0 {
		// Provisioning failures degrade, they do not abort: the image may
		// already carry everything the session needs.
		d.log.WithField("exit", code).Warnf("provisioning incomplete: %s", strings.TrimSpace(stderr))
	}
	return nil
}

// resolvePorts probes each requested host port. On conflict it terminates
// only processes whose working directory is inside this project's tree, then
// retries once. A port that stays unavailable is dropped with a warning
// rather than failing the session: browser verification may be limited but
// other work can proceed.
func (d *dockerSandbox) resolvePorts() []string {
	var usable []string
	for _, pair := range d.cfg.Ports {
		hostPort, _, err := splitPortPair(pair)
		if err != nil {
			d.log.Warnf("skipping malformed port mapping %q", pair)
			continue
		}

		if d.portFree(hostPort) {
			usable = append(usable, pair)
			continue
		}

		if n := d.killByCwd(hostPort, d.cfg.ProjectDir); n > 0 {
			d.log.Infof("killed %d stale project process(es) holding port %s", n, hostPort)
			time.Sleep(200 * time.Millisecond)
			if d.portFree(hostPort) {
				usable = append(usable, pair)
				continue
			}
		}

		d.log.Warnf("port %s unavailable (held by an unrelated process); continuing without it", hostPort)
	}
	return usable
}

// cleanup runs the reuse-time cleanup pass. Failures are logged, never fatal.
func (d *dockerSandbox) cleanup(ctx context.Context) {
	if _, stderr, code, err := d.cli.Exec(ctx, d.id, []string{"sh", "-c", cleanupScript}); err != nil {
		d.log.Warnf("cleanup pass failed: %v", err)
	} else if code != 0 {
		d.log.WithField("exit", code).Warnf("cleanup pass exited non-zero: %s", strings.TrimSpace(stderr))
	}
}

// Stop releases the controller's hold. The container keeps running so the
// next session reuses its installed dependencies.
func (d *dockerSandbox) Stop(ctx context.Context) error {
	d.release()
	if d.cli != nil {
		return d.cli.Close()
	}
	return nil
}

func (d *dockerSandbox) release() {
	if d.acquired {
		d.reg.Release(d.name)
		d.acquired = false
	}
}

// Exec runs a command in the container's working directory. The command is
// wrapped in coreutils timeout inside the container so the process tree dies
// with the deadline instead of leaking.
func (d *dockerSandbox) Exec(ctx context.Context, command string, timeout time.Duration) (*ExecResult, error) {
	// Rounded up so the wrapper never fires before the requested deadline.
	secs := int((timeout + time.Second - 1) / time.Second)
	if secs < 1 {
		secs = 1
	}
	wrapped := []string{
		"timeout", "-k", "5", strconv.Itoa(secs),
		"sh", "-c", fmt.Sprintf("cd %s && %s", containerWorkDir, command),
	}

	start := time.Now()
	stdout, stderr, code, err := d.cli.Exec(ctx, d.id, wrapped)
	duration := time.Since(start)
	if err != nil {
		// Runtime-level failure, not command failure: report it in the
		// result so the caller decides what is fatal.
		return &ExecResult{
			Stderr:   fmt.Sprintf("exec failed: %v", err),
			ExitCode: -1,
			Duration: duration,
		}, nil
	}

	// Exit 124 is the wrapper's kill signal only when the deadline actually
	// elapsed; a command exiting 124 on its own keeps its code.
	if code == 124 && duration >= timeout {
		return timeoutResult(timeout, stdout, stderr), nil
	}
	return &ExecResult{
		Stdout:   stdout,
		Stderr:   stderr,
		ExitCode: code,
		Duration: duration,
	}, nil
}

func (d *dockerSandbox) WorkDir() string { return containerWorkDir }

// The project tree is bind-mounted into the container, so file transfer is a
// no-op: both sides see the same storage.
func (d *dockerSandbox) UploadFile(ctx context.Context, localPath, remotePath string) error {
	return nil
}

func (d *dockerSandbox) DownloadFile(ctx context.Context, remotePath, localPath string) error {
	return nil
}

func (d *dockerSandbox) SyncDir(ctx context.Context, localDir, remoteDir string) error {
	return nil
}

// baselineEnv is the deliberately minimal starting environment. The host's
// variables are never inherited: credentials written into a generated app's
// .env must not leak into the orchestration layer.
func baselineEnv() []string {
	return []string{
		"PATH=/usr/local/sbin:/usr/local/bin:/usr/sbin:/usr/bin:/sbin:/bin",
		"HOME=/root",
		"TERM=xterm",
		"CI=true",
	}
}

// parseMemory converts limits like "2g" or "512m" to bytes.
func parseMemory(limit string) (int64, error) {
	if limit == "" {
		return 0, nil
	}
	s := strings.ToLower(strings.TrimSpace(limit))
	mult := int64(1)
	switch {
	case strings.HasSuffix(s, "g"):
		mult = 1 << 30
		s = strings.TrimSuffix(s, "g")
	case strings.HasSuffix(s, "m"):
		mult = 1 << 20
		s = strings.TrimSuffix(s, "m")
	case strings.HasSuffix(s, "k"):
		mult = 1 << 10
		s = strings.TrimSuffix(s, "k")
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid memory limit %q", limit)
	}
	return n * mult, nil
}
