package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	oai "github.com/houillon/basic-oai-harvester"
)

func write(t *testing.T, name, content string) string {
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv(PathEnv, "")
	c, err := load("", filepath.Join(t.TempDir(), ".env"))
	require.NoError(t, err)
	require.Equal(t, Default(), c)
	require.Equal(t, oai.DefaultPrefix, c.DefaultPrefix)
	require.Equal(t, 3, c.MaxRetries)
}

func TestLoadFileEnvPrecedence(t *testing.T) {
	path := write(t, "config.yaml", `
userAgent: test/1.0
timeout: 90s
maxRetries: 5
retryDelay: 2s
logLevel: debug
`)
	envFile := write(t, ".env", "OAI_HARVESTER_RETRY_DELAY=3s\nOAI_HARVESTER_LOG_LEVEL=warn\n")
	t.Setenv("OAI_HARVESTER_MAX_RETRIES", "7")
	// set by the environment already, the .env value must not win
	t.Setenv("OAI_HARVESTER_LOG_LEVEL", "error")
	t.Setenv("OAI_HARVESTER_RETRY_DELAY", "")

	c, err := load(path, envFile)
	require.NoError(t, err)
	require.Equal(t, "test/1.0", c.UserAgent)
	require.Equal(t, 90*time.Second, c.Timeout)
	require.Equal(t, 7, c.MaxRetries)
	require.Equal(t, 2*time.Second, c.RetryDelay)
	require.Equal(t, "error", c.LogLevel)
	require.Equal(t, oai.DefaultPrefix, c.DefaultPrefix)
}

func TestLoadPathFromEnv(t *testing.T) {
	path := write(t, "c.yaml", "defaultPrefix: marc21\n")
	t.Setenv(PathEnv, path)
	c, err := load("", filepath.Join(t.TempDir(), ".env"))
	require.NoError(t, err)
	require.Equal(t, "marc21", c.DefaultPrefix)
}

func TestLoadErrors(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "missing.yaml")
	noEnv := filepath.Join(t.TempDir(), ".env")

	_, err := load(missing, noEnv)
	require.Error(t, err)

	_, err = load(write(t, "bad.yaml", "timeout: soon\n"), noEnv)
	require.Error(t, err)

	_, err = load(write(t, "bad.yaml", "maxRetries: -1\n"), noEnv)
	require.Error(t, err)

	t.Setenv("OAI_HARVESTER_TIMEOUT", "forever")
	_, err = load(write(t, "ok.yaml", "logLevel: info\n"), noEnv)
	require.Error(t, err)
}

func TestClient(t *testing.T) {
	c := Default()
	c.MaxRetries = 4
	c.UserAgent = "x"
	client := c.Client()
	require.Equal(t, 4, client.MaxRetries)
	require.Equal(t, "x", client.UserAgent)
	require.Equal(t, c.Timeout, client.Timeout)
}
