package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/cuemby/sentinel/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)

	assert.Equal(t, ModeManual, cfg.Mode)
	assert.Equal(t, 300*time.Second, cfg.CheckInterval)
	assert.Equal(t, 30*time.Minute, cfg.MaxUpgradeDuration)
	assert.Equal(t, 5, cfg.Thresholds.MinPeers)
	assert.Equal(t, 10*time.Second, cfg.Thresholds.BlockTimeVariance)
	assert.NoError(t, cfg.Validate())
}

func TestLoadFileThenEnvironment(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
mode: auto
auto_policy: patch
container_mode: true
check_interval: 60s
story:
  binary_path: /opt/story
  service_name: story-node
  rpc_port: 36657
  github_repo: piplabs/story
thresholds:
  min_peers: 8
  block_time_variance: 15s
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))

	t.Setenv("SENTINEL_MIN_PEERS", "11")
	t.Setenv("CHECK_INTERVAL", "120")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ModeAuto, cfg.Mode)
	assert.Equal(t, PolicyPatch, cfg.AutoPolicy)
	assert.True(t, cfg.ContainerMode)
	assert.Equal(t, "/opt/story", cfg.Story.BinaryPath)
	assert.Equal(t, 15*time.Second, cfg.Thresholds.BlockTimeVariance)

	// environment wins over the file
	assert.Equal(t, 11, cfg.Thresholds.MinPeers)
	assert.Equal(t, 120*time.Second, cfg.CheckInterval)

	// untouched defaults survive a partial file
	assert.Equal(t, "/usr/local/bin/story-geth", cfg.StoryGeth.BinaryPath)
}

func TestLoadInvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("mode: [unterminated"), 0600))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"defaults are valid", func(c *Config) {}, ""},
		{"bad mode", func(c *Config) { c.Mode = "yolo" }, "invalid mode"},
		{"bad policy", func(c *Config) { c.AutoPolicy = "always" }, "invalid auto_policy"},
		{"zero interval", func(c *Config) { c.CheckInterval = 0 }, "check_interval"},
		{"window hour", func(c *Config) { c.Maintenance.WindowHour = 24 }, "window_hour"},
		{"repo format", func(c *Config) { c.Story.GitHubRepo = "story" }, "owner/name"},
		{"missing service", func(c *Config) { c.StoryGeth.ServiceName = "" }, "story_geth.service_name"},
		{"negative rate limit", func(c *Config) { c.APIRateLimit = -1 }, "api_rate_limit"},
		{"bad min severity", func(c *Config) { c.Notifications.MinSeverity = "loud" }, "min_severity"},
		{"warning min severity", func(c *Config) { c.Notifications.MinSeverity = "warning" }, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	cfg := Default()
	cfg.Mode = ModeAuto
	cfg.Thresholds.MinPeers = 9
	cfg.Maintenance.ConflictBuffer = 45 * time.Minute
	require.NoError(t, cfg.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ModeAuto, loaded.Mode)
	assert.Equal(t, 9, loaded.Thresholds.MinPeers)
	assert.Equal(t, 45*time.Minute, loaded.Maintenance.ConflictBuffer)
}

func TestServices(t *testing.T) {
	cfg := Default()
	cfg.StoryHome = "/home/node/.story"

	services := cfg.Services()
	require.Len(t, services, 2)

	consensus := cfg.Service(types.ComponentConsensus)
	assert.Equal(t, "http://localhost:26657", consensus.RPCEndpoint)
	assert.Equal(t, "story", consensus.ProcessName)
	assert.Equal(t, "/home/node/.story/story/config", consensus.ConfigDir)

	execution := cfg.Service(types.ComponentExecution)
	assert.Equal(t, "http://localhost:8545", execution.RPCEndpoint)
	assert.Equal(t, "story-geth", execution.ProcessName)
	assert.Empty(t, execution.ConfigDir)
}

func TestEnvDurationFormats(t *testing.T) {
	t.Setenv("SENTINEL_TEST_DURATION", "90s")
	assert.Equal(t, 90*time.Second, getEnvDuration("SENTINEL_TEST_DURATION", time.Second))

	t.Setenv("SENTINEL_TEST_DURATION", "600")
	assert.Equal(t, 10*time.Minute, getEnvDuration("SENTINEL_TEST_DURATION", time.Second))

	t.Setenv("SENTINEL_TEST_DURATION", "soon")
	assert.Equal(t, time.Second, getEnvDuration("SENTINEL_TEST_DURATION", time.Second))
}
