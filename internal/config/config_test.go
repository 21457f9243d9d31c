package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "propagator.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadWithViper_Defaults(t *testing.T) {
	cfg, err := LoadWithViper(viper.New(), writeConfig(t, "{}\n"))
	require.NoError(t, err)

	assert.Equal(t, ".", cfg.Repo.Path)
	assert.Equal(t, DefaultManifest, cfg.Repo.Manifest)
	assert.Equal(t, DefaultRemote, cfg.Git.Remote)
	assert.Equal(t, "none", cfg.Git.Auth.Type)
	assert.Equal(t, DefaultEventType, cfg.Downstream.EventType)
	assert.Equal(t, DefaultServerPath, cfg.Server.Path)
	assert.Equal(t, DefaultReadTimeout, cfg.Server.ReadTimeout)
	assert.Equal(t, DefaultQueueSize, cfg.Server.QueueSize)
	assert.Equal(t, DefaultLogFormat, cfg.Logging.Format)
}

func TestLoadWithViper_FileAndEnv(t *testing.T) {
	path := writeConfig(t, `
repo:
  manifest: setup.cfg
  branch: main
downstream:
  repository: acme/docs
server:
  read_timeout: 30s
`)
	t.Setenv("PROPAGATOR_DOWNSTREAM_TOKEN", "ghp_env")
	t.Setenv("PROPAGATOR_REPO_BRANCH", "release")

	cfg, err := LoadWithViper(viper.New(), path)
	require.NoError(t, err)

	assert.Equal(t, "setup.cfg", cfg.Repo.Manifest)
	assert.Equal(t, "release", cfg.Repo.Branch, "env overrides file")
	assert.Equal(t, "acme/docs", cfg.Downstream.Repository)
	assert.Equal(t, "ghp_env", cfg.Downstream.Token)
	assert.Equal(t, 30*time.Second, cfg.Server.ReadTimeout)
}

func TestLoadWithViper_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{name: "auth type", content: "git:\n  auth:\n    type: kerberos\n"},
		{name: "log format", content: "logging:\n  format: xml\n"},
		{name: "server path", content: "server:\n  path: webhook\n"},
		{name: "downstream", content: "downstream:\n  repository: not-a-repo\n"},
		{name: "queue size", content: "server:\n  queue_size: 0\n"},
		{name: "basic auth without password", content: "git:\n  auth:\n    type: basic\n    username: bot\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadWithViper(viper.New(), writeConfig(t, tt.content))
			assert.Error(t, err)
		})
	}
}

func TestLoadWithViper_BasicAuth(t *testing.T) {
	path := writeConfig(t, "git:\n  auth:\n    type: basic\n    username: bot\n")
	t.Setenv("PROPAGATOR_GIT_AUTH_PASSWORD", "hunter2")

	cfg, err := LoadWithViper(viper.New(), path)
	require.NoError(t, err)
	assert.Equal(t, "basic", cfg.Git.Auth.Type)
	assert.Equal(t, "bot", cfg.Git.Auth.Username)
	assert.Equal(t, "hunter2", cfg.Git.Auth.Password)
	assert.Equal(t, redacted, cfg.Redacted().Git.Auth.Password)
}

func TestLoadWithViper_MissingExplicitFile(t *testing.T) {
	_, err := LoadWithViper(viper.New(), filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestCommitMessage(t *testing.T) {
	cfg := &Config{}
	assert.Equal(t, "Update version to 2.3.0", cfg.CommitMessage("2.3.0"))

	cfg.Commit.Message = "chore(release): {version} [skip ci]"
	assert.Equal(t, "chore(release): 2.3.0 [skip ci]", cfg.CommitMessage("2.3.0"))
}

func TestRedacted(t *testing.T) {
	cfg := Config{}
	cfg.Git.Auth.Token = "ghp_git"
	cfg.Downstream.Token = "ghp_dispatch"
	cfg.Server.Secret = "hook"

	red := cfg.Redacted()
	assert.Equal(t, redacted, red.Git.Auth.Token)
	assert.Equal(t, redacted, red.Downstream.Token)
	assert.Equal(t, redacted, red.Server.Secret)
	assert.Equal(t, "ghp_git", cfg.Git.Auth.Token, "original untouched")

	empty := Config{}.Redacted()
	assert.Empty(t, empty.Downstream.Token)
}
