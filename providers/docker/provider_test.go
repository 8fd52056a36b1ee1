package docker

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"net"
	"testing"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/picklr-io/sysconverge/providers/system"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeExec struct {
	running  bool
	stdout   string
	stderr   string
	exitCode int

	created container.ExecOptions
	stdin   chan []byte
}

func (f *fakeExec) ContainerInspect(ctx context.Context, id string) (types.ContainerJSON, error) {
	return types.ContainerJSON{
		ContainerJSONBase: &types.ContainerJSONBase{
			ID:    id,
			State: &types.ContainerState{Running: f.running},
		},
	}, nil
}

func (f *fakeExec) ContainerExecCreate(ctx context.Context, id string, options container.ExecOptions) (types.IDResponse, error) {
	f.created = options
	return types.IDResponse{ID: "exec-1"}, nil
}

func (f *fakeExec) ContainerExecAttach(ctx context.Context, execID string, config container.ExecAttachOptions) (types.HijackedResponse, error) {
	var frames bytes.Buffer
	_, _ = stdcopy.NewStdWriter(&frames, stdcopy.Stdout).Write([]byte(f.stdout))
	if f.stderr != "" {
		_, _ = stdcopy.NewStdWriter(&frames, stdcopy.Stderr).Write([]byte(f.stderr))
	}

	client, server := net.Pipe()
	f.stdin = make(chan []byte, 1)
	go func() {
		data, _ := io.ReadAll(server)
		f.stdin <- data
	}()

	return types.HijackedResponse{
		Conn:   client,
		Reader: bufio.NewReader(&frames),
	}, nil
}

func (f *fakeExec) ContainerExecInspect(ctx context.Context, execID string) (container.ExecInspect, error) {
	return container.ExecInspect{ExecID: execID, ExitCode: f.exitCode}, nil
}

func TestRun_Stdout(t *testing.T) {
	fake := &fakeExec{stdout: "alice:x:1001:1001::/home/alice:/bin/bash\n"}
	p := &Provider{container: "host1", client: fake}

	out, err := p.Run(context.Background(), system.Command{Name: "getent", Args: []string{"passwd", "alice"}})
	require.NoError(t, err)
	assert.Equal(t, "alice:x:1001:1001::/home/alice:/bin/bash\n", string(out))
	assert.Equal(t, []string{"getent", "passwd", "alice"}, []string(fake.created.Cmd))
	assert.Equal(t, "root", fake.created.User)
	assert.False(t, fake.created.AttachStdin)
}

func TestRun_ExitCode(t *testing.T) {
	fake := &fakeExec{stderr: "no such user\n", exitCode: 2}
	p := &Provider{container: "host1", client: fake}

	_, err := p.Run(context.Background(), system.Command{Name: "getent", Args: []string{"passwd", "ghost"}})
	assert.Equal(t, 2, system.ExitCode(err))
	assert.ErrorContains(t, err, "no such user")
}

func TestRun_Stdin(t *testing.T) {
	fake := &fakeExec{}
	p := &Provider{container: "host1", client: fake, User: "admin"}

	_, err := p.Run(context.Background(), system.Command{
		Name:  "install",
		Args:  []string{"-m", "0644", "/dev/stdin", "/etc/motd"},
		Stdin: []byte("hello\n"),
		Env:   []string{"LC_ALL=C"},
	})
	require.NoError(t, err)
	assert.True(t, fake.created.AttachStdin)
	assert.Equal(t, "admin", fake.created.User)
	assert.Equal(t, []string{"LC_ALL=C"}, fake.created.Env)
	assert.Equal(t, "hello\n", string(<-fake.stdin))
}

func TestCheck(t *testing.T) {
	p := &Provider{container: "host1", client: &fakeExec{running: true}}
	assert.NoError(t, p.Check(context.Background()))

	p = &Provider{container: "host1", client: &fakeExec{running: false}}
	assert.ErrorContains(t, p.Check(context.Background()), "not running")
}
