package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, 8321, cfg.Web.Port)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, "none", cfg.Messaging.Backend)
	assert.Equal(t, 3, cfg.Fleet.RetryLimit)
	assert.Equal(t, 30*time.Second, cfg.Fleet.HeartbeatTimeout.Std())
	assert.Equal(t, 4*time.Hour, cfg.Fleet.IdleTimeout.Std())
}

func TestLoadOverridesAndBackfills(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fleetcore.yaml")
	data := `
master_id: test-master
web:
  port: 9000
fleet:
  heartbeat_timeout: 45s
  retry_limit: 5
messaging:
  backend: kafka
  brokers: ["k1:9092", "k2:9092"]
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "test-master", cfg.MasterID)
	assert.Equal(t, 9000, cfg.Web.Port)
	assert.Equal(t, 45*time.Second, cfg.Fleet.HeartbeatTimeout.Std())
	assert.Equal(t, 5, cfg.Fleet.RetryLimit)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Messaging.Brokers)

	// Untouched keys still get defaults.
	assert.Equal(t, 10*time.Second, cfg.Fleet.HeartbeatInterval.Std())
	assert.Equal(t, "fleetcore.events", cfg.Messaging.EventsTopic)
	assert.Equal(t, "test-master", cfg.Messaging.ClientID)
}

func TestLoadRejectsBadDuration(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fleetcore.yaml")
	require.NoError(t, os.WriteFile(path, []byte("fleet:\n  idle_timeout: forever\n"), 0o644))
	_, err := Load(path)
	assert.Error(t, err)
}

func TestDurationRoundTrip(t *testing.T) {
	d := Duration(90 * time.Second)
	out, err := d.MarshalYAML()
	require.NoError(t, err)
	assert.Equal(t, "1m30s", out)
}
