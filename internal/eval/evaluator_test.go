package eval

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/picklr-io/sysconverge/internal/ir"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const yamlDecl = `
aliasFile: /etc/mail/aliases
packages: [sudo, vim]
accounts:
  - name: alice
    email: alice@example.com
    shell: /bin/bash
    sudo: true
    locked: true
    sshKeys:
      - ssh-ed25519 AAAA alice@laptop
    profile:
      - order: 10
        content: export EDITOR=vim
  - name: bob
    state: absent
resources:
  - id: file:/etc/motd
    kind: file
    state: present
    attributes:
      path: /etc/motd
      mode: 0o644
      content: "welcome\n"
notify:
  topicArn: arn:aws:sns:us-east-1:123456789012:ops
`

const jsoncDecl = `{
  // managed admins
  "accounts": [
    {"name": "alice", "email": "alice@example.com", "uid": 1500,},
  ],
  /* keep the default alias file */
  "notifyPackages": [],
}`

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

func TestLoadConfig_YAML(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "sysadmin.yaml", yamlDecl)

	cfg, err := NewEvaluator(dir).LoadConfig(context.Background(), "", nil)
	require.NoError(t, err)

	assert.Equal(t, "/etc/mail/aliases", cfg.AliasFile)
	assert.Equal(t, []string{"sudo", "vim"}, cfg.Packages)
	require.Len(t, cfg.Accounts, 2)

	alice := cfg.Accounts[0]
	assert.Equal(t, "alice", alice.Name)
	assert.True(t, alice.Sudo)
	require.NotNil(t, alice.Locked)
	assert.True(t, *alice.Locked)
	assert.Equal(t, []*ir.ProfileFragment{{Order: 10, Content: "export EDITOR=vim"}}, alice.Profile)
	assert.Equal(t, ir.Absent, cfg.Accounts[1].State)
	assert.Nil(t, cfg.Accounts[1].Locked)

	require.Len(t, cfg.Resources, 1)
	assert.Equal(t, uint32(0o644), cfg.Resources[0].Attributes.Mode)
	assert.Equal(t, "welcome\n", cfg.Resources[0].Attributes.Content)
	assert.Equal(t, "arn:aws:sns:us-east-1:123456789012:ops", cfg.Notify.TopicARN)
}

func TestLoadConfig_JSONC(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "hosts.jsonc", jsoncDecl)

	cfg, err := NewEvaluator(dir).LoadConfig(context.Background(), "hosts.jsonc", nil)
	require.NoError(t, err)

	require.Len(t, cfg.Accounts, 1)
	require.NotNil(t, cfg.Accounts[0].UID)
	assert.Equal(t, 1500, *cfg.Accounts[0].UID)
	assert.NotNil(t, cfg.NotifyPackages)
	assert.Empty(t, cfg.NotifyPackages)
	assert.Nil(t, cfg.Packages)
}

func TestParse_RejectsUnknownFields(t *testing.T) {
	_, err := ParseYAML([]byte("accounts:\n  - name: alice\n    emial: typo@example.com\n"))
	assert.Error(t, err)

	_, err = ParseJSONC([]byte(`{"acounts": []}`))
	assert.Error(t, err)
}

func TestParseYAML_Empty(t *testing.T) {
	cfg, err := ParseYAML(nil)
	require.NoError(t, err)
	assert.Empty(t, cfg.Accounts)
}

func TestResolveEntryPoint(t *testing.T) {
	dir := t.TempDir()
	e := NewEvaluator(dir)

	_, err := e.ResolveEntryPoint("")
	assert.ErrorContains(t, err, "no declaration found")

	writeFile(t, dir, "sysadmin.json", "{}")
	path, err := e.ResolveEntryPoint("")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "sysadmin.json"), path)

	writeFile(t, dir, "sysadmin.yaml", "{}")
	path, err = e.ResolveEntryPoint("")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "sysadmin.yaml"), path)

	path, err = e.ResolveEntryPoint("/abs/other.pkl")
	require.NoError(t, err)
	assert.Equal(t, "/abs/other.pkl", path)
}

func TestLoadConfig_UnsupportedFormat(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "sysadmin.toml", "")
	_, err := NewEvaluator(dir).LoadConfig(context.Background(), "sysadmin.toml", nil)
	assert.ErrorContains(t, err, "unsupported declaration format")
}
