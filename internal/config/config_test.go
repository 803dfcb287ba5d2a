package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_Defaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, "development", cfg.Primary.Env)
	assert.Equal(t, "files", cfg.Storage.Driver)
	assert.Equal(t, "/__clockwork", cfg.Clockwork.APIPath)
	assert.True(t, cfg.Clockwork.Enable)
	require.NotNil(t, cfg.Observability)
	assert.Equal(t, "clockwork", cfg.Observability.ServiceName)
	assert.Equal(t, "development", cfg.Observability.Environment)
}

func TestLoadConfig_EnvOverrides(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("CLOCKWORK_PRIMARY__ENV", "production")
	t.Setenv("CLOCKWORK_SERVER__PORT", "9000")
	t.Setenv("CLOCKWORK_STORAGE__DRIVER", "sqlite")
	t.Setenv("CLOCKWORK_STORAGE__FORMAT", "cbor")
	t.Setenv("CLOCKWORK_STORAGE__COMPRESS", "true")
	t.Setenv("CLOCKWORK_CLOCKWORK__COLLECT__EXCEPT", "^/health,^/metrics")
	t.Setenv("CLOCKWORK_CLOCKWORK__RECORD__ERRORS_ONLY", "true")
	t.Setenv("CLOCKWORK_CLOCKWORK__SLOW_THRESHOLD", "250")

	cfg, err := LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, "production", cfg.Primary.Env)
	assert.Equal(t, "9000", cfg.Server.Port)
	assert.Equal(t, 30, cfg.Server.ReadTimeout, "unset keys keep defaults")
	assert.Equal(t, "sqlite", cfg.Storage.Driver)
	assert.Equal(t, "cbor", cfg.Storage.Format)
	assert.True(t, cfg.Storage.Compress)
	assert.Equal(t, []string{"^/health", "^/metrics"}, cfg.Clockwork.Collect.Except)
	require.NotNil(t, cfg.Clockwork.Record.ErrorsOnly)
	assert.True(t, *cfg.Clockwork.Record.ErrorsOnly)
	assert.Equal(t, 250.0, cfg.Clockwork.SlowThreshold)
	assert.True(t, cfg.Observability.IsProduction())
}

func TestLoadConfig_DotEnvFile(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	envFile := filepath.Join(dir, "clockwork.env")
	require.NoError(t, os.WriteFile(envFile, []byte("CLOCKWORK_SERVER__PORT=7070\n"), 0o600))
	t.Cleanup(func() { os.Unsetenv("CLOCKWORK_SERVER__PORT") })

	cfg, err := LoadConfig(envFile)
	require.NoError(t, err)
	assert.Equal(t, "7070", cfg.Server.Port)

	_, err = LoadConfig(filepath.Join(dir, "missing.env"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	cases := map[string]func(*Config){
		"unknown driver":      func(c *Config) { c.Storage.Driver = "redis" },
		"bad api path":        func(c *Config) { c.Clockwork.APIPath = "clockwork" },
		"s3 without bucket":   func(c *Config) { c.Storage.Driver = "s3"; c.Storage.S3.Endpoint = "http://minio:9000" },
		"sql without db":      func(c *Config) { c.Storage.Driver = "sql"; c.Database.Name = "" },
		"auth without secret": func(c *Config) { c.Auth.Enable = true },
		"newrelic no license": func(c *Config) { c.NewRelic.Enable = true },
		"bad log level": func(c *Config) {
			c.Observability = DefaultObservabilityConfig()
			c.Observability.LogLevel = "loud"
		},
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := Default()
			mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}

	assert.NoError(t, Default().Validate())
}
