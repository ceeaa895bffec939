package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shinji-kodama/devserve/internal/model"
)

// clearEnv unsets every variable Defaults reads, restoring them afterwards,
// so the host environment (e.g. a CI-provided PORT) cannot leak in.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, name := range []string{
		"PORT", "DEVSERVE_ENV", "DEVSERVE_OUTPUT_PATH", "DEVSERVE_WATCHER",
		"DEVSERVE_LIVE_RELOAD", "DEVSERVE_SSL_KEY", "DEVSERVE_SSL_CERT",
	} {
		t.Setenv(name, "")
		require.NoError(t, os.Unsetenv(name))
	}
}

func writeRC(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, RCFileName), []byte(content), 0o644))
	return dir
}

func TestLoadDefaults_BuiltIn(t *testing.T) {
	clearEnv(t)

	d, err := LoadDefaults()
	require.NoError(t, err)

	assert.Equal(t, 4200, d.Port)
	assert.Equal(t, "development", d.Environment)
	assert.Equal(t, "dist/", d.OutputPath)
	assert.Equal(t, "events", d.Watcher)
	assert.True(t, d.LiveReload)
	assert.Equal(t, "ssl/server.key", d.SSLKey)
	assert.Equal(t, "ssl/server.crt", d.SSLCert)
}

// TestLoadDefaults_Environment verifies that PORT and the DEVSERVE_*
// variables override built-in defaults.
func TestLoadDefaults_Environment(t *testing.T) {
	clearEnv(t)
	t.Setenv("PORT", "8080")
	t.Setenv("DEVSERVE_ENV", "production")
	t.Setenv("DEVSERVE_LIVE_RELOAD", "false")

	d, err := LoadDefaults()
	require.NoError(t, err)

	assert.Equal(t, 8080, d.Port)
	assert.Equal(t, "production", d.Environment)
	assert.False(t, d.LiveReload)
}

func TestLoadRC_Missing(t *testing.T) {
	rc, err := LoadRC(t.TempDir())
	require.NoError(t, err)
	assert.Nil(t, rc.Port)
	assert.Nil(t, rc.Proxy)
}

// TestLoadRC_JSONC verifies that comments and trailing commas are accepted
// and that only present keys are set.
func TestLoadRC_JSONC(t *testing.T) {
	dir := writeRC(t, `{
  // serve on a fixed port
  "port": 4300,
  "liveReloadPort": 8005, /* shared with docs */
  "proxy": "http://localhost:3000",
  "liveReload": false,
  "unknownKey": true,
}`)

	rc, err := LoadRC(dir)
	require.NoError(t, err)

	require.NotNil(t, rc.Port)
	assert.Equal(t, 4300, *rc.Port)
	require.NotNil(t, rc.LiveReloadPort)
	assert.Equal(t, 8005, *rc.LiveReloadPort)
	require.NotNil(t, rc.LiveReload)
	assert.False(t, *rc.LiveReload)
	assert.Nil(t, rc.Host)
}

func TestLoadRC_Invalid(t *testing.T) {
	dir := writeRC(t, `{"port": "not a number"}`)

	_, err := LoadRC(dir)
	require.Error(t, err)

	var cliErr *model.CLIError
	require.True(t, errors.As(err, &cliErr))
	assert.Equal(t, model.ExitConfigError, cliErr.Code)
}

// TestLoad_RCOverridesDefaults verifies the precedence between the two
// layers this package owns.
func TestLoad_RCOverridesDefaults(t *testing.T) {
	clearEnv(t)
	dir := writeRC(t, `{"port": 4300, "host": "0.0.0.0", "watcher": "none"}`)

	opts, err := Load(dir)
	require.NoError(t, err)

	assert.Equal(t, 4300, opts.Port)
	assert.Equal(t, "0.0.0.0", opts.Host)
	assert.Equal(t, model.WatcherNone, opts.Watcher)
	assert.Equal(t, "development", opts.Environment, "absent keys keep their default")
	assert.True(t, opts.LiveReload)
}
