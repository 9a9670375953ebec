package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config aggregates application configuration values.
type Config struct {
	HTTP    HTTPConfig
	Gateway GatewayConfig
	Feed    FeedConfig
	Discord DiscordConfig
	Archive ArchiveConfig
	Logging LoggingConfig
}

// HTTPConfig governs HTTP server behaviour.
type HTTPConfig struct {
	Host              string
	Port              int
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	ShutdownTimeout   time.Duration
	AllowedOriginsCSV string
}

// GatewayConfig holds the merchant's static QRIS template.
type GatewayConfig struct {
	StaticPayload   string
	ConfirmInterval time.Duration
}

// FeedConfig describes the OrderKuota mutation feed.
type FeedConfig struct {
	BaseURL    string
	MerchantID string
	APIKey     string
	Timeout    time.Duration
}

// DiscordConfig enables payment notifications when both values are set.
type DiscordConfig struct {
	BotToken  string
	ChannelID string
}

// ArchiveConfig points at the sqlite audit archive; empty disables it.
type ArchiveConfig struct {
	Path string
}

// LoggingConfig controls structured logging settings.
type LoggingConfig struct {
	Level         string
	Format        string // text|json
	IncludeCaller bool
}

const (
	defaultHost            = "0.0.0.0"
	defaultPort            = 3000
	defaultReadTimeout     = 10 * time.Second
	defaultWriteTimeout    = 30 * time.Second
	defaultIdleTimeout     = 60 * time.Second
	defaultShutdownTimeout = 10 * time.Second
	defaultFeedBaseURL     = "https://gateway.okeconnect.com"
	defaultFeedTimeout     = 10 * time.Second
	defaultConfirmInterval = 10 * time.Second
	defaultLoggingLevel    = "info"
	defaultLoggingFormat   = "text"
)

// MissingError reports operational configuration a request needs but the
// environment does not provide.
type MissingError struct {
	Keys     []string
	Guidance string
}

func (e *MissingError) Error() string {
	return fmt.Sprintf("missing configuration %s: %s", strings.Join(e.Keys, ", "), e.Guidance)
}

// Load reads configuration from environment variables, applying defaults.
// Absent gateway credentials are not an error here; RequireGateway reports
// them per request.
func Load() (Config, error) {
	cfg := Config{
		HTTP: HTTPConfig{
			Host:              valueOrDefault("SERVER_HOST", defaultHost),
			AllowedOriginsCSV: valueOrDefault("SERVER_ALLOWED_ORIGINS", "*"),
		},
		Gateway: GatewayConfig{
			StaticPayload: strings.TrimSpace(os.Getenv("CODEQR")),
		},
		Feed: FeedConfig{
			BaseURL:    valueOrDefault("ORD_BASE_URL", defaultFeedBaseURL),
			MerchantID: os.Getenv("ORD_ID"),
			APIKey:     os.Getenv("ORD_APIKEY"),
		},
		Discord: DiscordConfig{
			BotToken:  os.Getenv("DISCORD_BOT_TOKEN"),
			ChannelID: os.Getenv("DISCORD_CHANNEL_ID"),
		},
		Archive: ArchiveConfig{
			Path: os.Getenv("ARCHIVE_DB_PATH"),
		},
		Logging: LoggingConfig{
			Level:         valueOrDefault("LOG_LEVEL", defaultLoggingLevel),
			Format:        valueOrDefault("LOG_FORMAT", defaultLoggingFormat),
			IncludeCaller: parseBoolWithDefault("LOG_INCLUDE_CALLER", false),
		},
	}

	port, err := parsePort("PORT", defaultPort)
	if err != nil {
		return Config{}, err
	}
	if cfg.HTTP.Port, err = parsePort("SERVER_PORT", port); err != nil {
		return Config{}, err
	}

	durations := []struct {
		key      string
		fallback time.Duration
		dst      *time.Duration
	}{
		{"SERVER_READ_TIMEOUT", defaultReadTimeout, &cfg.HTTP.ReadTimeout},
		{"SERVER_WRITE_TIMEOUT", defaultWriteTimeout, &cfg.HTTP.WriteTimeout},
		{"SERVER_IDLE_TIMEOUT", defaultIdleTimeout, &cfg.HTTP.IdleTimeout},
		{"SERVER_SHUTDOWN_TIMEOUT", defaultShutdownTimeout, &cfg.HTTP.ShutdownTimeout},
		{"ORD_TIMEOUT", defaultFeedTimeout, &cfg.Feed.Timeout},
		{"CONFIRM_INTERVAL", defaultConfirmInterval, &cfg.Gateway.ConfirmInterval},
	}
	for _, d := range durations {
		v, err := parseDuration(d.key, d.fallback)
		if err != nil {
			return Config{}, err
		}
		*d.dst = v
	}

	return cfg, nil
}

// RequireGateway reports whether everything needed to issue a payment
// request is configured.
func (c Config) RequireGateway() error {
	if c.Gateway.StaticPayload == "" {
		return &MissingError{
			Keys:     []string{"CODEQR"},
			Guidance: "set CODEQR to the merchant's static QRIS payload in the .env file",
		}
	}
	if !c.Feed.Configured() {
		return &MissingError{
			Keys:     []string{"ORD_ID", "ORD_APIKEY"},
			Guidance: "set ORD_ID and ORD_APIKEY to the OrderKuota credentials in the .env file",
		}
	}
	return nil
}

// Configured reports whether feed credentials are present.
func (f FeedConfig) Configured() bool {
	return f.MerchantID != "" && f.APIKey != ""
}

// Enabled reports whether Discord notifications can be sent.
func (d DiscordConfig) Enabled() bool {
	return d.BotToken != "" && d.ChannelID != ""
}

func valueOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func parseBoolWithDefault(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		val, err := strconv.ParseBool(v)
		if err != nil {
			return fallback
		}
		return val
	}
	return fallback
}

func parseDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}

func parsePort(key string, fallback int) (int, error) {
	if v := os.Getenv(key); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return 0, fmt.Errorf("invalid %s value %q: %w", key, v, err)
		}
		if port <= 0 || port > 65535 {
			return 0, fmt.Errorf("port %d is out of range", port)
		}
		return port, nil
	}
	return fallback, nil
}
