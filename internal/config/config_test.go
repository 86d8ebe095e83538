package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/runengine/internal/document"
	"github.com/roach88/runengine/internal/engine"
	"github.com/roach88/runengine/internal/plan"
	"github.com/roach88/runengine/internal/testutil"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "sim", cfg.BeamlineID)
	assert.Equal(t, int64(1), cfg.ScanIDStart)
	assert.Equal(t, engine.DefaultPollInterval, cfg.PollInterval)
	assert.Equal(t, engine.DefaultEmitTimeout, cfg.EmitTimeout)
	assert.Equal(t, engine.DefaultQueueSize, cfg.QueueSize)
	assert.NoError(t, cfg.Validate())
}

func TestLoad_File(t *testing.T) {
	path := writeFile(t, "runengine.yaml", `
beamline_id: bl-7
owner: alice
scan_id_start: 42
poll_interval: 5ms
emit_timeout: 2s
queue_size: 128
max_steps: 1000
metadata:
  sample: Si
  temperature: 300
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "bl-7", cfg.BeamlineID)
	assert.Equal(t, "alice", cfg.Owner)
	assert.Equal(t, int64(42), cfg.ScanIDStart)
	assert.Equal(t, 5*time.Millisecond, cfg.PollInterval)
	assert.Equal(t, 2*time.Second, cfg.EmitTimeout)
	assert.Equal(t, 128, cfg.QueueSize)
	assert.Equal(t, 1000, cfg.MaxSteps)
	assert.Equal(t, map[string]any{"sample": "Si", "temperature": 300}, cfg.Metadata)
}

func TestLoad_PartialFileKeepsDefaults(t *testing.T) {
	path := writeFile(t, "runengine.yaml", "owner: bob\n")
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "bob", cfg.Owner)
	assert.Equal(t, "sim", cfg.BeamlineID)
	assert.Equal(t, engine.DefaultQueueSize, cfg.QueueSize)
}

func TestLoad_EmptyFile(t *testing.T) {
	cfg, err := Load(writeFile(t, "empty.yaml", ""))
	require.NoError(t, err)
	assert.Equal(t, Default().QueueSize, cfg.QueueSize)
}

func TestLoad_ExpandsEnv(t *testing.T) {
	t.Setenv("TEST_OWNER", "carol")
	path := writeFile(t, "runengine.yaml", "owner: ${TEST_OWNER}\n")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "carol", cfg.Owner)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv(EnvBeamlineID, "env-bl")
	t.Setenv(EnvOwner, "env-owner")
	t.Setenv(EnvScanIDStart, "900")
	path := writeFile(t, "runengine.yaml", "beamline_id: file-bl\nowner: file-owner\n")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "env-bl", cfg.BeamlineID)
	assert.Equal(t, "env-owner", cfg.Owner)
	assert.Equal(t, int64(900), cfg.ScanIDStart)
}

func TestLoad_BadScanIDEnv(t *testing.T) {
	t.Setenv(EnvScanIDStart, "many")
	_, err := Load("")

	require.Error(t, err)
	assert.Contains(t, err.Error(), EnvScanIDStart)
}

func TestLoad_UnknownField(t *testing.T) {
	_, err := Load(writeFile(t, "runengine.yaml", "beamline: typo\n"))

	require.Error(t, err)
	assert.Contains(t, err.Error(), "beamline")
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))

	require.Error(t, err)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestLoadDotEnv(t *testing.T) {
	t.Setenv("RUNENGINE_TEST_DOTENV", "")
	os.Unsetenv("RUNENGINE_TEST_DOTENV")
	path := writeFile(t, ".env", "RUNENGINE_TEST_DOTENV=from-dotenv\n")

	require.NoError(t, LoadDotEnv(path))
	assert.Equal(t, "from-dotenv", os.Getenv("RUNENGINE_TEST_DOTENV"))
}

func TestLoadDotEnv_MissingIgnored(t *testing.T) {
	assert.NoError(t, LoadDotEnv(filepath.Join(t.TempDir(), ".env")))
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"beamline", func(c *Config) { c.BeamlineID = "" }, "beamline_id"},
		{"scan id", func(c *Config) { c.ScanIDStart = 0 }, "scan_id_start"},
		{"poll interval", func(c *Config) { c.PollInterval = 0 }, "poll_interval"},
		{"emit timeout", func(c *Config) { c.EmitTimeout = -time.Second }, "emit_timeout"},
		{"queue size", func(c *Config) { c.QueueSize = 0 }, "queue_size"},
		{"max steps", func(c *Config) { c.MaxSteps = -1 }, "max_steps"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestEngineOptions(t *testing.T) {
	cfg := Default()
	cfg.BeamlineID = "bl-1"
	cfg.Owner = "dave"
	cfg.ScanIDStart = 7
	cfg.Metadata = map[string]any{"sample": "Au"}

	opts := append(cfg.EngineOptions(),
		engine.WithUIDGenerator(testutil.NewSequentialUIDs("uid")),
		engine.WithInterruptSignals(),
	)
	e := engine.New(opts...)

	rec := &testutil.Recorder{}
	require.NoError(t, e.Run(context.Background(), plan.FromList(), engine.SubscribeAll(rec.Record)))

	start := rec.Docs()[0].(document.RunStart)
	assert.Equal(t, "bl-1", start.BeamlineID)
	assert.Equal(t, "dave", start.Owner)
	assert.Equal(t, int64(7), start.ScanID)
	assert.Equal(t, map[string]any{"sample": "Au"}, start.Custom)
}
