package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)

	assert.Equal(t, DefaultPort, cfg.Cluster.ProtocolOptions.Port)
	assert.Equal(t, DefaultMaxPrepared, cfg.Cluster.MaxPrepared)
	assert.Equal(t, DefaultRefreshSchemaDelay, cfg.Cluster.RefreshSchemaDelay)
	assert.True(t, cfg.Cluster.IsMetadataSyncEnabled)
	assert.True(t, cfg.Cluster.PrepareOnAllHosts)
	assert.True(t, cfg.Cluster.RePrepareOnUp)

	assert.Equal(t, "dc-aware-round-robin", cfg.Cluster.Policies.LoadBalancing)
	assert.Equal(t, "exponential", cfg.Cluster.Policies.Reconnection)
	assert.Equal(t, "default", cfg.Cluster.Policies.Retry)

	assert.Equal(t, 2, cfg.Cluster.Pooling.CoreConnectionsPerHost["local"])
	assert.True(t, cfg.Cluster.SocketOptions.KeepAlive)
}

func TestDefaultConfig_HasRequiredDefaultProfile(t *testing.T) {
	cfg := DefaultConfig()

	profile, ok := cfg.Profiles["default"]
	require.True(t, ok, "DefaultConfig must always include a \"default\" execution profile")
	assert.Equal(t, "LOCAL_ONE", profile.Consistency)
	assert.Equal(t, 12000, profile.ReadTimeoutMs)
	assert.Equal(t, "default", profile.RetryPolicy)
}

func TestLoad_WithoutFile(t *testing.T) {
	cfg, err := Load(nil)
	require.NoError(t, err)

	assert.Equal(t, DefaultPort, cfg.Cluster.ProtocolOptions.Port)
	_, ok := cfg.Profiles["default"]
	assert.True(t, ok)
}

func TestLoad_EnvironmentVariableOverride(t *testing.T) {
	os.Setenv("CQLDRIVER_LOGGING_LEVEL", "debug")
	defer os.Unsetenv("CQLDRIVER_LOGGING_LEVEL")

	cfg, err := Load(nil)
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoad_InvokesOnConfigChangeOnlyWhenProvided(t *testing.T) {
	// Load must not panic when onConfigChange is nil — it simply skips
	// registering the viper watch callback.
	_, err := Load(nil)
	require.NoError(t, err)
}

func TestExecutionProfile_ReadTimeoutConvertsToDuration(t *testing.T) {
	cfg := DefaultConfig()
	profile := cfg.Profiles["default"]

	d := time.Duration(profile.ReadTimeoutMs) * time.Millisecond
	assert.Equal(t, 12*time.Second, d)
}

func TestClusterConfig_PoliciesResolveToKnownNames(t *testing.T) {
	cfg := DefaultConfig()

	// These are the names internal/client.wiring.go's resolve* helpers
	// recognize; a typo here would silently fall back to a default
	// policy rather than failing loudly, so pin the documented values.
	assert.Equal(t, "dc-aware-round-robin", cfg.Cluster.Policies.LoadBalancing)
	assert.Equal(t, "default", cfg.Cluster.Policies.Retry)
}
