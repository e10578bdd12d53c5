package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, ":memory:", cfg.Database.Path)
	assert.Equal(t, HostModeLocal, cfg.Host.Mode)
	assert.Equal(t, 2*time.Second, cfg.Host.CompletionDelay.Duration())
	assert.Equal(t, uint(3), cfg.Host.Retry.Attempts)
	assert.Equal(t, 30*time.Second, cfg.Host.StaleAfter.Duration())
	assert.Equal(t, time.Second, cfg.Reconciler.Period.Duration())
	assert.Equal(t, "127.0.0.1:9090", cfg.API.Addr())
	assert.Equal(t, 1, cfg.EventBus.GetWorkers())
	assert.Equal(t, 100, cfg.EventBus.GetQueueSize())
}

func TestLoad_FileWithEnvExpansion(t *testing.T) {
	t.Setenv("INSTALLD_TEST_PORT", "9191")
	path := writeConfig(t, `
log:
  level: debug
host:
  mode: exec
  completion_delay: 500ms
  commands:
    install: "installer add {{ .Name }}"
    status: "installer has {{ .Name }}"
  retry:
    attempts: 5
api:
  enabled: true
  port: ${INSTALLD_TEST_PORT}
  host: ${INSTALLD_TEST_HOST:0.0.0.0}
workloads:
  - name: tools
    components:
      - id: espflash
        desired_state: installed
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, HostModeExec, cfg.Host.Mode)
	assert.Equal(t, 500*time.Millisecond, cfg.Host.CompletionDelay.Duration())
	assert.Equal(t, "installer add {{ .Name }}", cfg.Host.Commands.Install)
	assert.Equal(t, uint(5), cfg.Host.Retry.Attempts)
	assert.Equal(t, "0.0.0.0:9191", cfg.API.Addr())
	require.Len(t, cfg.Workloads, 1)
	assert.Equal(t, "installed", cfg.Workloads[0].Components[0].DesiredState)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"unknown mode", "host:\n  mode: teleport\n"},
		{"exec without commands", "host:\n  mode: exec\n"},
		{"bad duration", "host:\n  stale_after: soon\n"},
		{"bad workload", "workloads:\n  - name: w\n    components:\n      - id: x\n        desired_state: in_progress\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.content))
			assert.Error(t, err)
		})
	}
}

func TestLoadEnvFile(t *testing.T) {
	assert.NoError(t, LoadEnvFile(filepath.Join(t.TempDir(), "missing.env")))

	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("INSTALLD_TEST_FROM_DOTENV=yes\n"), 0o644))
	t.Setenv("INSTALLD_TEST_FROM_DOTENV", "")
	require.NoError(t, os.Unsetenv("INSTALLD_TEST_FROM_DOTENV"))

	require.NoError(t, LoadEnvFile(path))
	assert.Equal(t, "yes", os.Getenv("INSTALLD_TEST_FROM_DOTENV"))
}

func TestExpandEnvVars(t *testing.T) {
	t.Setenv("INSTALLD_SET", "value")
	assert.Equal(t, "a=value b=fallback c=", expandEnvVars("a=${INSTALLD_SET} b=${INSTALLD_UNSET:fallback} c=${INSTALLD_UNSET}"))
}
