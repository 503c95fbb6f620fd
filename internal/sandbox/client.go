package sandbox

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/docker/go-connections/nat"
)

// lookupState is the explicit tri-state result of a container lookup. Reuse
// versus create is decided by switching on this, not by catching "not found"
// errors.
type lookupState int

const (
	lookupFound lookupState = iota
	lookupNotFound
	lookupUnreachable
)

type containerLookup struct {
	state   lookupState
	id      string
	running bool
}

// createSpec is everything needed to create a project environment.
type createSpec struct {
	Name        string
	Image       string
	MemoryBytes int64
	NanoCPUs    int64
	ProjectDir  string
	WorkDir     string
	Env         []string
	Ports       []string // "host:container" pairs, already conflict-resolved.
}

// runtimeClient abstracts the container-management API so the reuse/recreate
// policy can be tested against a fake runtime.
type runtimeClient interface {
	Ping(ctx context.Context) error
	Lookup(ctx context.Context, name string) containerLookup
	Create(ctx context.Context, spec createSpec) (string, error)
	Start(ctx context.Context, id string) error
	Remove(ctx context.Context, id string, force bool) error
	Exec(ctx context.Context, id string, cmd []string) (stdout, stderr string, exitCode int, err error)
	Close() error
}

// sdkClient implements runtimeClient with the Docker SDK.
type sdkClient struct {
	cli *client.Client
}

// newSDKClient connects to the Docker daemon, trying DOCKER_HOST first and
// then the common socket locations.
func newSDKClient() (*sdkClient, error) {
	if os.Getenv("DOCKER_HOST") != "" {
		cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
		if err != nil {
			return nil, fmt.Errorf("create docker client from DOCKER_HOST: %w", err)
		}
		return &sdkClient{cli: cli}, nil
	}

	homeDir, _ := os.UserHomeDir()
	socketPaths := []string{
		"unix:///var/run/docker.sock",
		fmt.Sprintf("unix://%s/.docker/run/docker.sock", homeDir),
		fmt.Sprintf("unix://%s/.colima/default/docker.sock", homeDir),
	}

	var lastErr error
	for _, socketPath := range socketPaths {
		cli, err := client.NewClientWithOpts(
			client.WithHost(socketPath),
			client.WithAPIVersionNegotiation(),
		)
		if err != nil {
			lastErr = err
			continue
		}

		pingCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		_, err = cli.Ping(pingCtx)
		cancel()
		if err == nil {
			return &sdkClient{cli: cli}, nil
		}
		cli.Close()
		lastErr = err
	}
	return nil, fmt.Errorf("connect to docker daemon: %w", lastErr)
}

func (c *sdkClient) Ping(ctx context.Context) error {
	_, err := c.cli.Ping(ctx)
	return err
}

// Lookup finds a container by exact name.
func (c *sdkClient) Lookup(ctx context.Context, name string) containerLookup {
	containers, err := c.cli.ContainerList(ctx, container.ListOptions{
		All: true,
		Filters: filters.NewArgs(filters.KeyValuePair{
			Key:   "name",
			Value: name,
		}),
	})
	if err != nil {
		return containerLookup{state: lookupUnreachable}
	}

	for _, cont := range containers {
		// Docker prefixes names with "/".
		for _, n := range cont.Names {
			if n == "/"+name {
				return containerLookup{
					state:   lookupFound,
					id:      cont.ID,
					running: cont.State == "running",
				}
			}
		}
	}
	return containerLookup{state: lookupNotFound}
}

// Create creates the environment container with resource limits, the project
// bind mount and a minimal environment. Host environment variables are
// deliberately not inherited: the generated application's credentials must
// not leak into the orchestration layer.
func (c *sdkClient) Create(ctx context.Context, spec createSpec) (string, error) {
	exposed := nat.PortSet{}
	bindings := nat.PortMap{}
	for _, p := range spec.Ports {
		hostPort, containerPort, err := splitPortPair(p)
		if err != nil {
			return "", err
		}
		port := nat.Port(containerPort + "/tcp")
		exposed[port] = struct{}{}
		bindings[port] = []nat.PortBinding{{HostPort: hostPort}}
	}

	resp, err := c.cli.ContainerCreate(ctx, &container.Config{
		Image:        spec.Image,
		Cmd:          []string{"sleep", "infinity"},
		WorkingDir:   spec.WorkDir,
		Env:          spec.Env,
		ExposedPorts: exposed,
		Labels: map[string]string{
			"drover.managed": "true",
		},
	}, &container.HostConfig{
		PortBindings: bindings,
		Mounts: []mount.Mount{
			{
				Type:   mount.TypeBind,
				Source: spec.ProjectDir,
				Target: spec.WorkDir,
			},
		},
		Resources: container.Resources{
			Memory:   spec.MemoryBytes,
			NanoCPUs: spec.NanoCPUs,
		},
	}, nil, nil, spec.Name)
	if err != nil {
		return "", fmt.Errorf("create container: %w", err)
	}
	return resp.ID, nil
}

func (c *sdkClient) Start(ctx context.Context, id string) error {
	if err := c.cli.ContainerStart(ctx, id, container.StartOptions{}); err != nil {
		return fmt.Errorf("start container: %w", err)
	}
	return nil
}

func (c *sdkClient) Remove(ctx context.Context, id string, force bool) error {
	err := c.cli.ContainerRemove(ctx, id, container.RemoveOptions{Force: force})
	if err != nil && !client.IsErrNotFound(err) {
		return fmt.Errorf("remove container: %w", err)
	}
	return nil
}

// Exec runs a command in the container and returns its demultiplexed output
// and exit code.
func (c *sdkClient) Exec(ctx context.Context, id string, cmd []string) (string, string, int, error) {
	execResp, err := c.cli.ContainerExecCreate(ctx, id, container.ExecOptions{
		AttachStdout: true,
		AttachStderr: true,
		Cmd:          cmd,
	})
	if err != nil {
		return "", "", 0, fmt.Errorf("create exec: %w", err)
	}

	attach, err := c.cli.ContainerExecAttach(ctx, execResp.ID, container.ExecStartOptions{})
	if err != nil {
		return "", "", 0, fmt.Errorf("attach exec: %w", err)
	}
	defer attach.Close()

	var stdout, stderr bytes.Buffer
	if _, err := stdCopy(&stdout, &stderr, attach.Reader); err != nil && err != io.EOF {
		return stdout.String(), stderr.String(), 0, fmt.Errorf("read exec output: %w", err)
	}

	inspect, err := c.cli.ContainerExecInspect(ctx, execResp.ID)
	if err != nil {
		return stdout.String(), stderr.String(), 0, fmt.Errorf("inspect exec: %w", err)
	}
	return stdout.String(), stderr.String(), inspect.ExitCode, nil
}

func (c *sdkClient) Close() error {
	return c.cli.Close()
}

// stdCopy demultiplexes the docker attach stream into stdout and stderr.
var stdCopy = stdcopy.StdCopy

func splitPortPair(pair string) (host, cont string, err error) {
	for i := 0; i < len(pair); i++ {
		if pair[i] == ':' {
			return pair[:i], pair[i+1:], nil
		}
	}
	// A bare port maps to itself.
	return pair, pair, nil
}
