package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "./data/solutions", cfg.Store.Path)
	assert.Equal(t, "healerd_solutions", cfg.Store.Collection)
	assert.Equal(t, "localhost", cfg.Qdrant.Host)
	assert.Equal(t, 6334, cfg.Qdrant.Port)
	assert.False(t, cfg.Qdrant.Enabled)
	assert.Equal(t, "healerd.failures", cfg.NATS.IntakeSubject)
	assert.Equal(t, 30*time.Second, cfg.NATS.ExecuteTimeout.Duration())
	assert.Equal(t, 0.3, cfg.Engine.MutationRate)
	assert.Equal(t, 100, cfg.Engine.PopulationCap)
	assert.Equal(t, 5*time.Minute, cfg.Engine.CycleInterval.Duration())
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestLoadFromFile(t *testing.T) {
	path := writeConfigFile(t, `
logging:
  level: debug
store:
  path: /var/lib/healerd
engine:
  mutation_rate: 0.5
  population_cap: 50
  cycle_interval: 1m
nats:
  url: nats://127.0.0.1:4222
search:
  github_token: gh-token-value
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "/var/lib/healerd", cfg.Store.Path)
	assert.Equal(t, 0.5, cfg.Engine.MutationRate)
	assert.Equal(t, 50, cfg.Engine.PopulationCap)
	assert.Equal(t, time.Minute, cfg.Engine.CycleInterval.Duration())
	assert.Equal(t, "nats://127.0.0.1:4222", cfg.NATS.URL)
	assert.Equal(t, "gh-token-value", cfg.Search.GitHubToken.Value())
}

func TestLoadEnvironmentOverridesFile(t *testing.T) {
	path := writeConfigFile(t, `
store:
  path: /from/file
`)
	t.Setenv("HEALERD_STORE_PATH", "/from/env")
	t.Setenv("HEALERD_ENGINE_POPULATION_CAP", "25")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/from/env", cfg.Store.Path)
	assert.Equal(t, 25, cfg.Engine.PopulationCap)
}

func TestLoadRejectsInsecurePermissions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("store:\n  path: /x\n"), 0644))

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "insecure config file permissions")
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	path := writeConfigFile(t, `
engine:
  mutation_rate: 1.5
`)
	_, err := Load(path)
	require.Error(t, err)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}

func TestSecretRedaction(t *testing.T) {
	s := Secret("token-123")
	assert.Equal(t, "[REDACTED]", s.String())
	assert.Equal(t, "token-123", s.Value())
	assert.True(t, s.IsSet())

	out, err := s.MarshalJSON()
	require.NoError(t, err)
	assert.Equal(t, `"[REDACTED]"`, string(out))

	assert.Equal(t, "", Secret("").String())
	assert.False(t, Secret("").IsSet())
}

func TestDurationParsing(t *testing.T) {
	var d Duration
	require.NoError(t, d.UnmarshalText([]byte("90s")))
	assert.Equal(t, 90*time.Second, d.Duration())

	require.Error(t, d.UnmarshalText([]byte("-5s")))
	require.Error(t, d.UnmarshalText([]byte("soon")))
}
