package config_test

import (
	"log/slog"
	"testing"
	"time"

	"github.com/italolelis/downloadhub/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := config.LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, time.Second, cfg.PollInterval)
	assert.True(t, cfg.QBittorrent.Enabled)
	assert.Equal(t, 10, cfg.QBittorrent.HashDiscoveryAttempts)
	assert.Equal(t, time.Second, cfg.QBittorrent.HashDiscoveryInterval)
	assert.Equal(t, "http://localhost:8080", cfg.QBittorrentURL())
	assert.Equal(t, slog.LevelInfo, cfg.SlogLevel())
}

func TestLoadConfig_FromEnv(t *testing.T) {
	t.Setenv("QBITTORRENT_HOST", "http://qbit/")
	t.Setenv("QBITTORRENT_PORT", "9090")
	t.Setenv("POLL_INTERVAL", "250ms")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "collector:4317")

	cfg, err := config.LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "http://qbit:9090", cfg.QBittorrentURL())
	assert.Equal(t, 250*time.Millisecond, cfg.PollInterval)
	assert.Equal(t, slog.LevelDebug, cfg.SlogLevel())
	assert.Equal(t, "collector:4317", cfg.Telemetry.OTLPEndpoint)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		wantErr string
	}{
		{"zero poll interval", map[string]string{"POLL_INTERVAL": "0s"}, "POLL_INTERVAL"},
		{"ntfy without topic", map[string]string{"NTFY_ENABLED": "true"}, "NTFY_TOPIC"},
		{"plex without token", map[string]string{"PLEX_ENABLED": "true", "PLEX_HOST": "http://plex"}, "PLEX_TOKEN"},
		{"api username only", map[string]string{"API_USERNAME": "admin"}, "API_PASSWORD"},
		{"no discovery attempts", map[string]string{"QBITTORRENT_HASH_DISCOVERY_ATTEMPTS": "0"}, "HASH_DISCOVERY"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			_, err := config.LoadConfig()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
