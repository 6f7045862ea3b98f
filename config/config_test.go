package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("CLICKHOUSE_HOST", "")
	t.Setenv("ATTRIBUTION_PIXEL_ID", "")

	cfg, _, err := Load()
	require.NoError(t, err)
	assert.NotEmpty(t, cfg.Server.Port)
	assert.Equal(t, 10*time.Second, cfg.Engine.CollaboratorTimeout)
	assert.Equal(t, 20, cfg.Engine.RecentSessionLimit)
	assert.True(t, cfg.Engine.FlushOnTeardown)
	assert.False(t, cfg.ClickHouse.Enabled())
	assert.False(t, cfg.Attribution.Enabled())
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("ENGINE_COLLABORATOR_TIMEOUT", "3s")
	t.Setenv("ENGINE_FLUSH_ON_TEARDOWN", "false")
	t.Setenv("ATTRIBUTION_PIXEL_ID", "123")
	t.Setenv("ATTRIBUTION_ACCESS_TOKEN", "tok")
	t.Setenv("CLICKHOUSE_HOST", "localhost")
	t.Setenv("CLICKHOUSE_DB_NAME", "tours")

	cfg, _, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 3*time.Second, cfg.Engine.CollaboratorTimeout)
	assert.False(t, cfg.Engine.FlushOnTeardown)
	assert.True(t, cfg.Attribution.Enabled())
	assert.True(t, cfg.ClickHouse.Enabled())
}

func TestLoadRejectsBadDuration(t *testing.T) {
	t.Setenv("ENGINE_COLLABORATOR_TIMEOUT", "soon")

	_, _, err := Load()
	assert.Error(t, err)
}
