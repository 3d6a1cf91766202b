package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, 8, cfg.Eval.Parallelism)
	assert.Equal(t, 60*time.Second, cfg.RunTimeout())
	assert.Equal(t, 50, cfg.Grade.FailureLimit)
	assert.Equal(t, 1e-9, cfg.Grade.Epsilon)
	assert.Len(t, cfg.Targets.Enabled, 3)
	assert.NoError(t, cfg.Validate())
}

func TestLoadMissingFileFallsBack(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, 50, cfg.Grade.FailureLimit)
}

func TestLoadLayersOverDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rulecast.yaml")
	content := `eval:
  parallelism: 2
run:
  timeout: 5s
targets:
  enabled: [golang]
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 2, cfg.Eval.Parallelism)
	assert.Equal(t, 5*time.Second, cfg.RunTimeout())
	assert.Equal(t, []string{"golang"}, cfg.Targets.Enabled)
	// untouched sections keep their defaults
	assert.Equal(t, 50, cfg.Grade.FailureLimit)
}

func TestLoadRejectsBrokenConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rulecast.yaml")
	require.NoError(t, os.WriteFile(path, []byte("targets:\n  enabled: []\n"), 0o644))

	_, err := Load(path)
	assert.Error(t, err, "empty target list must not validate")
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("RULECAST_OUTPUT_DIR", "/tmp/reports")
	t.Setenv("RULECAST_TARGETS", "sqlite, datalog")

	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "/tmp/reports", cfg.Grade.OutputDir)
	assert.Equal(t, []string{"sqlite", "datalog"}, cfg.Targets.Enabled)
}

func TestSaveRoundTrip(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Run.Timeout = "90s"
	path := filepath.Join(t.TempDir(), "conf", "rulecast.yaml")
	require.NoError(t, cfg.Save(path))

	got, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 90*time.Second, got.RunTimeout())
}

func TestRunTimeoutFallsBackOnGarbage(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Run.Timeout = "soon"
	assert.Equal(t, 60*time.Second, cfg.RunTimeout())
}
