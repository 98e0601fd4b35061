package config

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, dir, body string) string {
	t.Helper()
	path := filepath.Join(dir, "codexctl.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 5, cfg.MaxRestartAttempts)
	assert.Equal(t, 30*time.Second, cfg.RequestTimeout)
	assert.Equal(t, "gpt-5-codex", cfg.Defaults.Model)
	assert.Equal(t, "low", cfg.Defaults.Effort)
	assert.Equal(t, "workspace-write", cfg.Defaults.SandboxMode)
	assert.Equal(t, "auto", cfg.Defaults.Summary)
	assert.Equal(t, "codexctl", cfg.Client.Name)
}

func TestLoadFromFile(t *testing.T) {
	path := writeConfig(t, t.TempDir(), `
binary_path: /opt/codex/bin/codex
extra_args: ["--config", "foo=bar"]
max_restart_attempts: 3
request_timeout: 5s
trace_path: /tmp/trace.jsonl
log:
  level: debug
  format: json
defaults:
  model: gpt-5
  effort: high
  sandbox_mode: read-only
  sandbox_network_access: true
`)
	cfg, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, "/opt/codex/bin/codex", cfg.BinaryPath)
	assert.Equal(t, []string{"--config", "foo=bar"}, cfg.ExtraArgs)
	assert.Equal(t, 3, cfg.MaxRestartAttempts)
	assert.Equal(t, 5*time.Second, cfg.RequestTimeout)
	assert.Equal(t, "/tmp/trace.jsonl", cfg.TracePath)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, "gpt-5", cfg.Defaults.Model)
	assert.Equal(t, "high", cfg.Defaults.Effort)
	assert.Equal(t, "read-only", cfg.Defaults.SandboxMode)
	assert.True(t, cfg.Defaults.SandboxNetworkAccess)
	assert.Equal(t, "auto", cfg.Defaults.Summary, "unset keys keep defaults")
}

func TestLoadFromFile_Errors(t *testing.T) {
	_, err := LoadFromFile("/nonexistent/codexctl.yaml")
	assert.Error(t, err)

	dir := t.TempDir()
	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("invalid: yaml: ["), 0o644))
	_, err = LoadFromFile(bad)
	assert.Error(t, err)

	invalid := writeConfig(t, dir, "defaults:\n  summary: verbose\nmax_restart_attempts: 0\n")
	_, err = LoadFromFile(invalid)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "defaults.summary")
	assert.Contains(t, err.Error(), "max_restart_attempts")
}

func TestLoad_EnvAndFlagsOverrideFile(t *testing.T) {
	path := writeConfig(t, t.TempDir(), "log:\n  level: warn\ndefaults:\n  model: gpt-5\n")
	t.Setenv("CODEXCTL_DEFAULTS_MODEL", "gpt-5-codex-mini")
	t.Setenv("CODEXCTL_MAX_RESTART_ATTEMPTS", "7")

	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	fs.String("log-level", "", "")
	require.NoError(t, fs.Parse([]string{"--log-level", "error"}))

	src := NewSource(path)
	require.NoError(t, src.BindFlag("log.level", fs.Lookup("log-level")))
	cfg, err := src.Load()
	require.NoError(t, err)
	assert.Equal(t, path, src.FileUsed())
	assert.Equal(t, "gpt-5-codex-mini", cfg.Defaults.Model)
	assert.Equal(t, 7, cfg.MaxRestartAttempts)
	assert.Equal(t, "error", cfg.Log.Level)

	assert.Error(t, src.BindFlag("x", nil))
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	t.Setenv("HOME", dir)
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(dir, "xdg"))

	cfg, err := Load()
	require.NoError(t, err)
	def := Default()
	assert.Equal(t, def.Defaults, cfg.Defaults)
	assert.Equal(t, def.Log, cfg.Log)
	assert.Equal(t, def.Client, cfg.Client)
	assert.Equal(t, def.RequestTimeout, cfg.RequestTimeout)
	assert.Empty(t, cfg.BinaryPath)
}

func TestSource_Watch(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "log:\n  level: info\n")
	src := NewSource(path)
	_, err := src.Load()
	require.NoError(t, err)

	var (
		mu   sync.Mutex
		seen []string
	)
	src.Watch(func(cfg *Config, err error) {
		if err != nil {
			return
		}
		mu.Lock()
		seen = append(seen, cfg.Log.Level)
		mu.Unlock()
	})

	require.NoError(t, os.WriteFile(path, []byte("log:\n  level: debug\n"), 0o644))
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) > 0 && seen[len(seen)-1] == "debug"
	}, 5*time.Second, 20*time.Millisecond)
}

func TestValidate_SandboxModes(t *testing.T) {
	for _, mode := range []string{"read-only", "workspace-write", "danger-full-access", "readOnly", "WORKSPACE-WRITE"} {
		cfg := Default()
		cfg.Defaults.SandboxMode = mode
		assert.NoError(t, cfg.Validate(), mode)
	}
	cfg := Default()
	cfg.Defaults.SandboxMode = "yolo"
	assert.Error(t, cfg.Validate())
}

func TestToServerSandboxMode(t *testing.T) {
	tests := map[string]string{
		"read-only":          "readOnly",
		"ReadOnly":           "readOnly",
		"workspace-write":    "workspaceWrite",
		"workspacewrite":     "workspaceWrite",
		"danger-full-access": "dangerFullAccess",
		"dangerFullAccess":   "dangerFullAccess",
		"custom":             "custom",
	}
	for in, want := range tests {
		assert.Equal(t, want, ToServerSandboxMode(in), in)
	}
}

func TestPresets(t *testing.T) {
	assert.Equal(t, "workspace-write", DefaultSandboxPreset().Value)
	p, ok := FindSandboxPreset("read-only")
	require.True(t, ok)
	assert.Equal(t, "Read-only", p.DisplayName)
	_, ok = FindSandboxPreset("readOnly")
	assert.False(t, ok)

	def := DefaultModelPreset()
	assert.Equal(t, "gpt-5-codex", def.Model)
	assert.Equal(t, "low", def.Effort)
	m, ok := FindModelPreset("gpt-5", "minimal")
	require.True(t, ok)
	assert.Equal(t, "gpt-5 • Minimal", m.DisplayName)
	_, ok = FindModelPreset("gpt-5", "extreme")
	assert.False(t, ok)

	for _, mode := range SandboxModes {
		_, ok := FindSandboxPreset(mode)
		assert.True(t, ok, mode)
	}
}
