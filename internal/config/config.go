package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config struct for environment variables.
type Config struct {
	DownloadDir  string        `envconfig:"DOWNLOAD_DIR" default:"./downloads"`
	PollInterval time.Duration `envconfig:"POLL_INTERVAL" default:"1s"`
	LogLevel     string        `envconfig:"LOG_LEVEL" default:"INFO"`
	DBPath       string        `envconfig:"DB_PATH" default:"./data/downloadhub.db"`
	ScanOnStart  bool          `envconfig:"SCAN_ON_START" default:"true"`

	QBittorrent struct {
		Enabled  bool          `default:"true"`
		Host     string        `default:"http://localhost"`
		Port     int           `default:"8080"`
		Username string        `default:"admin"`
		Password string        `default:"adminadmin"`
		Timeout  time.Duration `default:"10s"`

		HashDiscoveryAttempts int           `split_words:"true" default:"10"`
		HashDiscoveryInterval time.Duration `split_words:"true" default:"1s"`
	}

	Apibay struct {
		BaseURL string `split_words:"true" default:"https://apibay.org"`
	}

	Ntfy struct {
		Enabled     bool   `default:"false"`
		ServerURL   string `split_words:"true" default:"https://ntfy.sh"`
		Topic       string
		AccessToken string `split_words:"true"`
	}

	Plex struct {
		Enabled bool `default:"false"`
		Host    string
		Token   string
	}

	DiscordWebhookURL string `envconfig:"DISCORD_WEBHOOK_URL"`

	API struct {
		Username string
		Password string
	}

	Telemetry struct {
		Enabled      bool   `default:"true"`
		ServiceName  string `split_words:"true" default:"downloadhub"`
		OTLPEndpoint string `envconfig:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	}

	Web struct {
		BindAddress     string        `split_words:"true" default:"0.0.0.0:3001"`
		ReadTimeout     time.Duration `split_words:"true" default:"30s"`
		WriteTimeout    time.Duration `split_words:"true" default:"0s"`
		IdleTimeout     time.Duration `split_words:"true" default:"60s"`
		ShutdownTimeout time.Duration `split_words:"true" default:"30s"`
	}
}

// LoadConfig reads an optional .env file and the environment and populates the Config struct.
func LoadConfig() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("error loading .env: %w", err)
	}

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("error processing env: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks values envconfig cannot express with tags.
func (c *Config) Validate() error {
	if c.DownloadDir == "" {
		return errors.New("DOWNLOAD_DIR must not be empty")
	}

	if c.PollInterval <= 0 {
		return fmt.Errorf("POLL_INTERVAL must be positive, got %s", c.PollInterval)
	}

	if c.QBittorrent.Enabled && c.QBittorrent.HashDiscoveryAttempts < 1 {
		return fmt.Errorf("QBITTORRENT_HASH_DISCOVERY_ATTEMPTS must be at least 1, got %d", c.QBittorrent.HashDiscoveryAttempts)
	}

	if c.Ntfy.Enabled && c.Ntfy.Topic == "" {
		return errors.New("NTFY_TOPIC is required when NTFY_ENABLED is true")
	}

	if c.Plex.Enabled && (c.Plex.Host == "" || c.Plex.Token == "") {
		return errors.New("PLEX_HOST and PLEX_TOKEN are required when PLEX_ENABLED is true")
	}

	if (c.API.Username == "") != (c.API.Password == "") {
		return errors.New("API_USERNAME and API_PASSWORD must be set together")
	}

	return nil
}

// QBittorrentURL joins host and port the way qBittorrent's WebUI is addressed.
func (c *Config) QBittorrentURL() string {
	return fmt.Sprintf("%s:%d", strings.TrimRight(c.QBittorrent.Host, "/"), c.QBittorrent.Port)
}

func (c *Config) SlogLevel() slog.Level {
	switch strings.ToUpper(c.LogLevel) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
