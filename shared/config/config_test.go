package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("JWT_SECRET", "s3cret")
	t.Setenv("DB_HOST", "")
	t.Setenv("ROLE_ASSIGNMENT_POLICY", "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "localhost", cfg.Database.Host)
	assert.Equal(t, "host=localhost port=5432 user=postgres password=password dbname=tenant_rbac sslmode=disable", cfg.Database.GetDSN())
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr())
	assert.Equal(t, 24*time.Hour, cfg.JWT.TTL)
	assert.Equal(t, "clamp", cfg.AssignmentPolicy)
	assert.Equal(t, "admin-events", cfg.Kafka.Topic)
	assert.False(t, cfg.OAuth.GitHub.Enabled())
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("JWT_SECRET", "s3cret")
	t.Setenv("JWT_TTL", "90m")
	t.Setenv("REDIS_DB", "3")
	t.Setenv("SEED_DEMO_DATA", "true")
	t.Setenv("ROLE_ASSIGNMENT_POLICY", "reject")
	t.Setenv("GITHUB_CLIENT_ID", "id")
	t.Setenv("GITHUB_CLIENT_SECRET", "secret")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 90*time.Minute, cfg.JWT.TTL)
	assert.Equal(t, 3, cfg.Redis.DB)
	assert.True(t, cfg.Seed)
	assert.Equal(t, "reject", cfg.AssignmentPolicy)
	assert.True(t, cfg.OAuth.GitHub.Enabled())
}

func TestLoadRequiresSecret(t *testing.T) {
	t.Setenv("JWT_SECRET", "")

	_, err := Load()
	assert.Error(t, err)
}

func TestPortAndServiceURL(t *testing.T) {
	t.Setenv("ADMIN_SERVICE_PORT", "9100")

	assert.Equal(t, "9100", Port("admin", "8002"))
	assert.Equal(t, "8001", Port("auth", "8001"))
	assert.Equal(t, "http://auth:8001", ServiceURL("auth", "http://auth:8001"))
}
