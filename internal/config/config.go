package config

import (
	"fmt"
	"log"
	"time"

	"github.com/caarlos0/env/v6"
)

type Platform string

const (
	PlatformDiscord  Platform = "discord"
	PlatformTelegram Platform = "telegram"
)

type Config struct {
	Platform        Platform `env:"PLATFORM" envDefault:"discord"`
	DevelopmentMode bool     `env:"DEVELOPMENT_MODE"`

	// Discord
	DiscordToken    string `env:"DISCORD_TOKEN"`
	DiscordDevToken string `env:"DISCORD_DEV_TOKEN"`

	// Telegram
	TelegramBotToken    string `env:"TELEGRAM_BOT_TOKEN"`
	TelegramDevToken    string `env:"TELEGRAM_DEV_TOKEN"`
	TelegramGroupChatID int64  `env:"TELEGRAM_GROUP_CHAT_ID"`

	// Storage
	SettingsFilePath    string `env:"SETTINGS_FILE_PATH" envDefault:"data/settings.json"`
	DataDir             string `env:"DATA_DIR" envDefault:"data"`
	StrictSurveyHeaders bool   `env:"STRICT_SURVEY_HEADERS"`

	// Role sync
	RoleSyncAttempts int           `env:"ROLE_SYNC_ATTEMPTS" envDefault:"5"`
	RoleSyncInterval time.Duration `env:"ROLE_SYNC_INTERVAL" envDefault:"2s"`
}

// Error reports settings that are missing or unparseable. The process must
// not start when one is returned.
type Error struct {
	Field string
	Err   error
}

func (e *Error) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("configuration: %v", e.Err)
	}
	return fmt.Sprintf("configuration: %s: %v", e.Field, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Parse reads the configuration from the environment.
func Parse() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, &Error{Err: err}
	}
	switch cfg.Platform {
	case PlatformDiscord, PlatformTelegram:
	default:
		return nil, &Error{Field: "PLATFORM", Err: fmt.Errorf("unknown platform %q", cfg.Platform)}
	}
	if cfg.RoleSyncAttempts < 1 {
		return nil, &Error{Field: "ROLE_SYNC_ATTEMPTS", Err: fmt.Errorf("must be positive, got %d", cfg.RoleSyncAttempts)}
	}
	if cfg.Platform == PlatformTelegram && cfg.TelegramGroupChatID == 0 {
		return nil, &Error{Field: "TELEGRAM_GROUP_CHAT_ID", Err: fmt.Errorf("required for telegram")}
	}
	if _, err := cfg.Token(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func New() *Config {
	cfg, err := Parse()
	if err != nil {
		log.Fatalf("failed to parse config: %v", err)
	}
	return cfg
}

// Token returns the bot token of the selected platform, the development one
// when DEVELOPMENT_MODE is set.
func (c *Config) Token() (string, error) {
	var token, field string
	switch {
	case c.Platform == PlatformDiscord && c.DevelopmentMode:
		token, field = c.DiscordDevToken, "DISCORD_DEV_TOKEN"
	case c.Platform == PlatformDiscord:
		token, field = c.DiscordToken, "DISCORD_TOKEN"
	case c.Platform == PlatformTelegram && c.DevelopmentMode:
		token, field = c.TelegramDevToken, "TELEGRAM_DEV_TOKEN"
	default:
		token, field = c.TelegramBotToken, "TELEGRAM_BOT_TOKEN"
	}
	if token == "" {
		return "", &Error{Field: field, Err: fmt.Errorf("token is empty")}
	}
	return token, nil
}
