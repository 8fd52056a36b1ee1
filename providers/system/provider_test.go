package system

import (
	"context"
	"sync"
	"testing"

	"github.com/picklr-io/sysconverge/internal/ir"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type response struct {
	out    string
	code   int
	stderr string
}

// fakeRunner answers commands by their full command line, falling back to
// the program name. Queued responses are consumed in order; the last one
// repeats.
type fakeRunner struct {
	mu        sync.Mutex
	responses map[string][]response
	calls     []Command
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{responses: make(map[string][]response)}
}

func (f *fakeRunner) on(key string, rs ...response) *fakeRunner {
	f.responses[key] = append(f.responses[key], rs...)
	return f
}

func (f *fakeRunner) Run(_ context.Context, c Command) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, c)

	key := c.String()
	queue, ok := f.responses[key]
	if !ok {
		key = c.Name
		queue, ok = f.responses[key]
	}
	if !ok || len(queue) == 0 {
		return nil, nil
	}

	r := queue[0]
	if len(queue) > 1 {
		f.responses[key] = queue[1:]
	}
	if r.code != 0 {
		return []byte(r.out), &ExitError{Cmd: c.String(), Code: r.code, Stderr: r.stderr}
	}
	return []byte(r.out), nil
}

func (f *fakeRunner) commands() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.calls))
	for i, c := range f.calls {
		out[i] = c.String()
	}
	return out
}

func (f *fakeRunner) last(name string) Command {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.calls) - 1; i >= 0; i-- {
		if f.calls[i].Name == name {
			return f.calls[i]
		}
	}
	return Command{}
}

func TestInspectAccount_Missing(t *testing.T) {
	r := newFakeRunner().on("getent passwd ghost", response{code: 2})
	info, err := New(r).InspectAccount(context.Background(), "ghost")
	require.NoError(t, err)
	assert.False(t, info.Exists)
}

func TestInspectAccount_Present(t *testing.T) {
	r := newFakeRunner().
		on("getent passwd alice", response{out: "alice:x:1001:1001:Alice:/home/alice:/bin/bash\n"}).
		on("id -gn alice", response{out: "alice\n"}).
		on("id -nG alice", response{out: "alice wheel docker\n"}).
		on("passwd -S alice", response{out: "alice L 2024-01-01 0 99999 7 -1\n"})

	info, err := New(r).InspectAccount(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, &ir.AccountInfo{
		Exists:       true,
		Home:         "/home/alice",
		Shell:        "/bin/bash",
		PrimaryGroup: "alice",
		Groups:       []string{"wheel", "docker"},
		Locked:       true,
	}, info)
}

func TestInspectAccount_Error(t *testing.T) {
	r := newFakeRunner().on("getent passwd alice", response{code: 1, stderr: "nss failure"})
	_, err := New(r).InspectAccount(context.Background(), "alice")

	var osErr *ir.OsError
	require.ErrorAs(t, err, &osErr)
	assert.Equal(t, "getent", osErr.Op)
	assert.Equal(t, "alice", osErr.Target)
}

func TestCreateOrUpdateAccount(t *testing.T) {
	uid := 1001

	t.Run("create", func(t *testing.T) {
		r := newFakeRunner().on("getent passwd alice", response{code: 2})
		err := New(r).CreateOrUpdateAccount(context.Background(), "alice", ir.AccountSpec{
			UID:    &uid,
			Shell:  "/bin/bash",
			Groups: []string{"wheel", "adm"},
		})
		require.NoError(t, err)
		assert.Equal(t, []string{
			"getent passwd alice",
			"useradd -m -u 1001 -s /bin/bash -G wheel,adm alice",
		}, r.commands())
	})

	t.Run("update", func(t *testing.T) {
		r := newFakeRunner()
		err := New(r).CreateOrUpdateAccount(context.Background(), "alice", ir.AccountSpec{
			Shell:  "/bin/zsh",
			Groups: []string{},
		})
		require.NoError(t, err)
		assert.Equal(t, "usermod -s /bin/zsh -G  alice", r.commands()[1])
	})

	t.Run("nothing to change", func(t *testing.T) {
		r := newFakeRunner()
		require.NoError(t, New(r).CreateOrUpdateAccount(context.Background(), "alice", ir.AccountSpec{}))
		assert.Equal(t, []string{"getent passwd alice"}, r.commands())
	})
}

func TestRemoveAccount_Idempotent(t *testing.T) {
	r := newFakeRunner().on("userdel ghost", response{code: 6, stderr: "user 'ghost' does not exist"})
	assert.NoError(t, New(r).RemoveAccount(context.Background(), "ghost"))
}

func TestInspectFile(t *testing.T) {
	t.Run("missing", func(t *testing.T) {
		r := newFakeRunner().on("test -e /etc/motd", response{code: 1})
		info, err := New(r).InspectFile(context.Background(), "/etc/motd")
		require.NoError(t, err)
		assert.False(t, info.Exists)
	})

	t.Run("file", func(t *testing.T) {
		r := newFakeRunner().
			on("stat", response{out: "regular file:root:root:440\n"}).
			on("cat -- /etc/sudoers.d/alice", response{out: "alice ALL=(ALL) NOPASSWD:ALL\n"})
		info, err := New(r).InspectFile(context.Background(), "/etc/sudoers.d/alice")
		require.NoError(t, err)
		assert.Equal(t, &ir.FileInfo{
			Exists: true,
			Owner:  "root",
			Group:  "root",
			Mode:   0o440,
			Digest: ir.ContentDigest([]byte("alice ALL=(ALL) NOPASSWD:ALL\n")),
		}, info)
	})

	t.Run("directory", func(t *testing.T) {
		r := newFakeRunner().on("stat", response{out: "directory:alice:alice:700\n"})
		info, err := New(r).InspectFile(context.Background(), "/home/alice/.ssh")
		require.NoError(t, err)
		assert.True(t, info.IsDir)
		assert.Empty(t, info.Digest)
		assert.NotContains(t, r.commands(), "cat -- /home/alice/.ssh")
	})
}

func TestWriteFile(t *testing.T) {
	r := newFakeRunner()
	err := New(r).WriteFile(context.Background(), ir.FileSpec{
		Path:    "/etc/sudoers.d/alice",
		Owner:   "root",
		Group:   "root",
		Mode:    0o440,
		Content: []byte("alice ALL=(ALL) NOPASSWD:ALL\n"),
	})
	require.NoError(t, err)

	cmd := r.last("install")
	assert.Equal(t, "install -m 0440 -o root -g root /dev/stdin /etc/sudoers.d/alice", cmd.String())
	assert.Equal(t, "alice ALL=(ALL) NOPASSWD:ALL\n", string(cmd.Stdin))
}

func TestEnsureDirectory(t *testing.T) {
	r := newFakeRunner()
	require.NoError(t, New(r).EnsureDirectory(context.Background(), ir.FileSpec{Path: "/home/alice/.ssh", Owner: "alice", Mode: 0o700}))
	assert.Equal(t, "install -d -m 0700 -o alice /home/alice/.ssh", r.last("install").String())
}

func debianRunner() *fakeRunner {
	return newFakeRunner().on("cat /etc/os-release", response{out: "ID=debian\n"})
}

func TestInspectPackages_Debian(t *testing.T) {
	r := debianRunner().on("dpkg-query", response{out: "vim\tii \ncurl\tun \n", code: 1})

	got, err := New(r).InspectPackages(context.Background(), []string{"vim", "curl", "git"})
	require.NoError(t, err)
	assert.Equal(t, map[string]bool{"vim": true, "curl": false, "git": false}, got)
}

func TestInspectPackages_RedHat(t *testing.T) {
	r := newFakeRunner().
		on("cat /etc/os-release", response{out: "ID=\"rocky\"\nID_LIKE=\"rhel centos fedora\"\n"}).
		on("sh", response{out: "/usr/bin/dnf\n"}).
		on("rpm", response{out: "vim-enhanced\npackage mailx is not installed\n", code: 1})

	p := New(r)
	got, err := p.InspectPackages(context.Background(), []string{"vim-enhanced", "mailx"})
	require.NoError(t, err)
	assert.Equal(t, map[string]bool{"vim-enhanced": true, "mailx": false}, got)

	require.NoError(t, p.InstallPackages(context.Background(), []string{"mailx"}))
	assert.Equal(t, "dnf install -y -q mailx", r.last("dnf").String())
}

func TestInstallPackages_RetriesLockContention(t *testing.T) {
	r := debianRunner().on("apt-get install -y -q mailutils",
		response{code: 100, stderr: "E: Could not get lock /var/lib/dpkg/lock-frontend"},
		response{},
	)

	p := New(r, WithRetryPolicy(fastPolicy(3)))
	require.NoError(t, p.InstallPackages(context.Background(), []string{"mailutils"}))

	var installs int
	for _, c := range r.commands() {
		if c == "apt-get install -y -q mailutils" {
			installs++
		}
	}
	assert.Equal(t, 2, installs)
	assert.Equal(t, []string{"DEBIAN_FRONTEND=noninteractive"}, r.last("apt-get").Env)
}

func TestInstallPackages_RefreshesIndex(t *testing.T) {
	r := debianRunner().on("apt-get install -y -q mailutils",
		response{code: 100, stderr: "E: Unable to locate package mailutils"},
		response{},
	)

	require.NoError(t, New(r).InstallPackages(context.Background(), []string{"mailutils"}))
	assert.Contains(t, r.commands(), "apt-get update -q")
}

func TestInstallPackages_Empty(t *testing.T) {
	r := newFakeRunner()
	require.NoError(t, New(r).InstallPackages(context.Background(), nil))
	assert.Empty(t, r.commands())
}

func TestPackageManagerPinned(t *testing.T) {
	r := newFakeRunner()
	p := New(r, WithPackageManager(FamilyRedHat, "yum"))
	require.NoError(t, p.RemovePackages(context.Background(), []string{"mailx"}))
	assert.Equal(t, []string{"yum remove -y -q mailx"}, r.commands())
}

func TestAliasState(t *testing.T) {
	r := newFakeRunner().
		on("cat -- /etc/aliases", response{out: sampleAliases}).
		on("newaliases", response{code: 127})

	p := New(r)
	state, err := p.ReadAliasState(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"ops", "alice"}, state["root"])

	require.NoError(t, p.WriteAliasState(context.Background(), ir.AliasState{"alice": {}, "root": {"ops"}}))

	written := ParseAliases(r.last("install").Stdin)
	assert.Equal(t, []string{"ops"}, written["root"])
	assert.NotContains(t, written, "alice")
	assert.Equal(t, []string{"root"}, written["postmaster"])
	assert.Equal(t, "newaliases", r.commands()[len(r.commands())-1])
}

func TestAliasState_MissingFile(t *testing.T) {
	r := newFakeRunner().on("test -e /srv/aliases", response{code: 1})
	p := New(r, WithAliasFile("/srv/aliases"), WithoutNewaliases())

	state, err := p.ReadAliasState(context.Background())
	require.NoError(t, err)
	assert.Empty(t, state)

	require.NoError(t, p.WriteAliasState(context.Background(), ir.AliasState{"root": {"alice"}}))
	assert.Equal(t, "root: alice\n", string(r.last("install").Stdin))
	assert.NotContains(t, r.commands(), "newaliases")
}
