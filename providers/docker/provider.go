// Package docker runs host commands inside a running container through the
// Docker Engine API, so a container can stand in for a managed host.
package docker

import (
	"bytes"
	"context"
	"fmt"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/picklr-io/sysconverge/providers/system"
)

// execAPI is the part of the Docker client the runner needs.
type execAPI interface {
	ContainerInspect(ctx context.Context, containerID string) (types.ContainerJSON, error)
	ContainerExecCreate(ctx context.Context, container string, options container.ExecOptions) (types.IDResponse, error)
	ContainerExecAttach(ctx context.Context, execID string, config container.ExecAttachOptions) (types.HijackedResponse, error)
	ContainerExecInspect(ctx context.Context, execID string) (container.ExecInspect, error)
}

// Provider is a system.Runner backed by docker exec.
type Provider struct {
	container string
	User      string // exec user, root when empty
	client    execAPI
}

func New(containerID string) *Provider {
	return &Provider{container: containerID}
}

var _ system.Runner = (*Provider)(nil)

func (p *Provider) ensureClient() error {
	if p.client != nil {
		return nil
	}
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return err
	}
	p.client = cli
	return nil
}

// Check verifies the container exists and is running.
func (p *Provider) Check(ctx context.Context) error {
	if err := p.ensureClient(); err != nil {
		return fmt.Errorf("failed to create Docker client: %w", err)
	}
	info, err := p.client.ContainerInspect(ctx, p.container)
	if err != nil {
		if client.IsErrNotFound(err) {
			return fmt.Errorf("container %s not found", p.container)
		}
		return fmt.Errorf("failed to inspect container %s: %w", p.container, err)
	}
	if info.ContainerJSONBase == nil || info.State == nil || !info.State.Running {
		return fmt.Errorf("container %s is not running", p.container)
	}
	return nil
}

func (p *Provider) Run(ctx context.Context, c system.Command) ([]byte, error) {
	if err := p.ensureClient(); err != nil {
		return nil, fmt.Errorf("failed to create Docker client: %w", err)
	}

	user := p.User
	if user == "" {
		user = "root"
	}

	created, err := p.client.ContainerExecCreate(ctx, p.container, container.ExecOptions{
		User:         user,
		Cmd:          append([]string{c.Name}, c.Args...),
		Env:          c.Env,
		AttachStdin:  c.Stdin != nil,
		AttachStdout: true,
		AttachStderr: true,
	})
	if err != nil {
		return nil, fmt.Errorf("%s: exec create: %w", c, err)
	}

	hr, err := p.client.ContainerExecAttach(ctx, created.ID, container.ExecAttachOptions{})
	if err != nil {
		return nil, fmt.Errorf("%s: exec attach: %w", c, err)
	}
	defer hr.Close()

	stdinErr := make(chan error, 1)
	if c.Stdin != nil {
		go func() {
			_, err := hr.Conn.Write(c.Stdin)
			if cerr := hr.CloseWrite(); err == nil {
				err = cerr
			}
			stdinErr <- err
		}()
	} else {
		stdinErr <- nil
	}

	var stdout, stderr bytes.Buffer
	if _, err := stdcopy.StdCopy(&stdout, &stderr, hr.Reader); err != nil {
		return nil, fmt.Errorf("%s: read output: %w", c, err)
	}
	if err := <-stdinErr; err != nil {
		return nil, fmt.Errorf("%s: write stdin: %w", c, err)
	}

	inspect, err := p.client.ContainerExecInspect(ctx, created.ID)
	if err != nil {
		return nil, fmt.Errorf("%s: exec inspect: %w", c, err)
	}
	if inspect.ExitCode != 0 {
		return stdout.Bytes(), &system.ExitError{Cmd: c.String(), Code: inspect.ExitCode, Stderr: stderr.String()}
	}
	return stdout.Bytes(), nil
}
