package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sethvargo/go-envconfig"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), FileName)
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	path := writeConfig(t, "")

	cfg, err := LoadWith(context.Background(), path, envconfig.MapLookuper(nil))
	require.NoError(t, err)

	require.Equal(t, "", cfg.Client.APIURL)
	require.Equal(t, 2*time.Second, cfg.Client.Timeout)
	require.Equal(t, ":8000", cfg.Collector.Addr)
	require.Equal(t, "glia.db", cfg.Collector.DBPath)
	require.Equal(t, "glia:jobs", cfg.Collector.RedisStream)
	require.Equal(t, 50.0, cfg.Collector.IngestRate)
	require.Equal(t, 10*time.Second, cfg.Collector.RelayInterval)
}

func TestLoadFileValues(t *testing.T) {
	path := writeConfig(t, `
client:
  api_url: http://collector:9000
  timeout: 5s
collector:
  addr: 127.0.0.1:9000
  db_path: /var/lib/glia/jobs.db
  redis_url: redis://localhost:6379/0
`)

	cfg, err := LoadWith(context.Background(), path, envconfig.MapLookuper(nil))
	require.NoError(t, err)

	require.Equal(t, "http://collector:9000", cfg.Client.APIURL)
	require.Equal(t, 5*time.Second, cfg.Client.Timeout)
	require.Equal(t, "127.0.0.1:9000", cfg.Collector.Addr)
	require.Equal(t, "/var/lib/glia/jobs.db", cfg.Collector.DBPath)
	require.Equal(t, "redis://localhost:6379/0", cfg.Collector.RedisURL)
}

func TestEnvironmentOverridesFile(t *testing.T) {
	path := writeConfig(t, `
client:
  api_url: http://from-file:9000
`)

	cfg, err := LoadWith(context.Background(), path, envconfig.MapLookuper(map[string]string{
		"GLIA_API_URL": "http://from-env:9000",
		"GLIA_TIMEOUT": "750ms",
	}))
	require.NoError(t, err)

	require.Equal(t, "http://from-env:9000", cfg.Client.APIURL)
	require.Equal(t, 750*time.Millisecond, cfg.Client.Timeout)
}

func TestLoadMissingExplicitFile(t *testing.T) {
	_, err := LoadWith(context.Background(), filepath.Join(t.TempDir(), "nope.yaml"), envconfig.MapLookuper(nil))
	require.Error(t, err)
}

func TestLoadInvalidYAML(t *testing.T) {
	path := writeConfig(t, "client: [not, a, map")
	_, err := LoadWith(context.Background(), path, envconfig.MapLookuper(nil))
	require.Error(t, err)
}

func TestLoadRejectsNonPositiveTimeout(t *testing.T) {
	path := writeConfig(t, "")
	_, err := LoadWith(context.Background(), path, envconfig.MapLookuper(map[string]string{
		"GLIA_TIMEOUT": "-1s",
	}))
	require.Error(t, err)
}

func TestLoadClientFromEnvironment(t *testing.T) {
	t.Setenv("GLIA_API_URL", "http://env-var-url:9000/")
	t.Setenv("GLIA_TIMEOUT", "3s")

	c, err := LoadClient(context.Background())
	require.NoError(t, err)
	require.Equal(t, "http://env-var-url:9000/", c.APIURL)
	require.Equal(t, 3*time.Second, c.Timeout)
}

func TestLoadClientBadTimeoutKeepsEndpoint(t *testing.T) {
	tests := []struct {
		name    string
		timeout string
	}{
		{"missing unit", "2"},
		{"garbage", "soon"},
		{"negative", "-1s"},
		{"zero", "0s"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := LoadClientWith(context.Background(), envconfig.MapLookuper(map[string]string{
				"GLIA_API_URL": "http://collector:8000",
				"GLIA_TIMEOUT": tt.timeout,
			}))
			require.Error(t, err)
			require.Equal(t, "http://collector:8000", c.APIURL)
			require.Equal(t, DefaultClientTimeout, c.Timeout)
		})
	}
}

func TestLoadClientDefaultTimeout(t *testing.T) {
	c, err := LoadClientWith(context.Background(), envconfig.MapLookuper(map[string]string{
		"GLIA_API_URL": "http://collector:8000",
	}))
	require.NoError(t, err)
	require.Equal(t, DefaultClientTimeout, c.Timeout)
}
