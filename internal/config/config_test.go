package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "engine.hcl")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	m, err := Load(context.Background(), "")
	require.NoError(t, err)

	assert.Equal(t, uint(60), m.FPS)
	assert.Equal(t, 4, m.Workers)
	assert.Equal(t, "scripts", m.ScriptsPath)
	assert.Equal(t, uint64(0), m.MaxFrames)
	assert.Equal(t, time.Second, m.UpdateTimeout)
	assert.Equal(t, "info", m.LogLevel)
	assert.Equal(t, "text", m.LogFormat)
}

func TestLoadFromHCLFile(t *testing.T) {
	path := writeConfig(t, `
engine {
  fps               = 30
  workers           = 8
  scripts_path      = "game/scripts"
  max_frames        = 500
  update_timeout_ms = 250
  log_level         = "debug"
  log_format        = "json"
}
`)

	m, err := Load(context.Background(), path)
	require.NoError(t, err)

	assert.Equal(t, uint(30), m.FPS)
	assert.Equal(t, 8, m.Workers)
	assert.Equal(t, "game/scripts", m.ScriptsPath)
	assert.Equal(t, uint64(500), m.MaxFrames)
	assert.Equal(t, 250*time.Millisecond, m.UpdateTimeout)
	assert.Equal(t, "debug", m.LogLevel)
	assert.Equal(t, "json", m.LogFormat)
}

func TestPartialFileKeepsDefaults(t *testing.T) {
	path := writeConfig(t, `
engine {
  fps = 144
}
`)

	m, err := Load(context.Background(), path)
	require.NoError(t, err)

	assert.Equal(t, uint(144), m.FPS)
	assert.Equal(t, 4, m.Workers, "unset attributes keep their defaults")
	assert.Equal(t, "scripts", m.ScriptsPath)
}

func TestEnvOverridesWinOverFile(t *testing.T) {
	path := writeConfig(t, `
engine {
  fps     = 30
  workers = 8
}
`)
	t.Setenv("FRAMEGRID_FPS", "120")
	t.Setenv("FRAMEGRID_LOG_LEVEL", "warn")

	m, err := Load(context.Background(), path)
	require.NoError(t, err)

	assert.Equal(t, uint(120), m.FPS, "env beats file")
	assert.Equal(t, 8, m.Workers, "file value survives where env is silent")
	assert.Equal(t, "warn", m.LogLevel)
}

func TestLoadRejectsMalformedFile(t *testing.T) {
	path := writeConfig(t, `engine { fps = `)
	_, err := Load(context.Background(), path)
	assert.Error(t, err)
}

func TestLoadRejectsMissingFile(t *testing.T) {
	_, err := Load(context.Background(), filepath.Join(t.TempDir(), "absent.hcl"))
	assert.Error(t, err)
}

func TestValidation(t *testing.T) {
	testCases := []struct {
		name    string
		content string
		wantErr string
	}{
		{"zero fps", `engine { fps = 0 }`, "fps must be >= 1"},
		{"zero workers", `engine { workers = 0 }`, "workers must be >= 1"},
		{"negative timeout", `engine { update_timeout_ms = -5 }`, "update timeout must be positive"},
		{"bad log level", `engine { log_level = "loud" }`, "invalid log level"},
		{"bad log format", `engine { log_format = "xml" }`, "invalid log format"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			path := writeConfig(t, tc.content)
			_, err := Load(context.Background(), path)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.wantErr)
		})
	}
}
