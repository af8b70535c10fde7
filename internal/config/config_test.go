package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validYAML = `
server:
  port: 9090
  env: production
storage:
  driver: postgres
postgres:
  host: db
  user: gather
  dbname: gather
redis:
  host: cache
rabbitmq:
  host: broker
  user: guest
jwt:
  secret_key: s3cret
polling:
  tally_cache_ttl: 30s
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad(t *testing.T) {
	cfg, err := Load(writeConfig(t, validYAML))
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.False(t, cfg.Server.Development())
	assert.Equal(t, DriverPostgres, cfg.Storage.Driver)
	assert.Equal(t, "host=db port=5432 user=gather password= dbname=gather sslmode=disable", cfg.Postgres.DSN())
	assert.Equal(t, "cache:6379", cfg.Redis.Addr())
	assert.Equal(t, "gather_events", cfg.RabbitMQ.Exchange)
	assert.Equal(t, 30*time.Second, cfg.Polling.TallyCacheTTL)
	assert.Equal(t, uint(3), cfg.Polling.PublishRetries)
	assert.Equal(t, 24*time.Hour, cfg.JWT.TokenDuration)
	assert.Equal(t, 20, cfg.RateLimit.Burst)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("GATHER_SERVER_PORT", "7000")
	t.Setenv("GATHER_STORAGE_DRIVER", "memory")
	t.Setenv("GATHER_POLLING_PUBLISH_RETRIES", "5")

	cfg, err := Load(writeConfig(t, validYAML))
	require.NoError(t, err)
	assert.Equal(t, 7000, cfg.Server.Port)
	assert.Equal(t, DriverMemory, cfg.Storage.Driver)
	assert.Equal(t, uint(5), cfg.Polling.PublishRetries)
}

func TestLoadValidation(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{
			name:    "unknown driver",
			yaml:    "storage:\n  driver: sqlite\njwt:\n  secret_key: x\n",
			wantErr: "storage.driver",
		},
		{
			name:    "postgres without host",
			yaml:    "redis:\n  enabled: false\nrabbitmq:\n  enabled: false\njwt:\n  secret_key: x\n",
			wantErr: "postgres.host",
		},
		{
			name:    "enabled redis without host",
			yaml:    "storage:\n  driver: memory\nrabbitmq:\n  enabled: false\njwt:\n  secret_key: x\n",
			wantErr: "redis.host",
		},
		{
			name:    "missing jwt secret",
			yaml:    "storage:\n  driver: memory\nredis:\n  enabled: false\nrabbitmq:\n  enabled: false\n",
			wantErr: "jwt.secret_key",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoadMemoryDriverNeedsNoBackends(t *testing.T) {
	yaml := "storage:\n  driver: memory\nredis:\n  enabled: false\nrabbitmq:\n  enabled: false\njwt:\n  secret_key: x\n"
	cfg, err := Load(writeConfig(t, yaml))
	require.NoError(t, err)
	assert.True(t, cfg.Server.Development())
	assert.False(t, cfg.Redis.Enabled)
}

func TestLoadMissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}
