package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

const (
	defaultDBPath        = "airdrop.db"
	defaultAdmins        = "@dallen32,@joyouschrs"
	defaultWebhookListen = ":8080"
	defaultLogLevel      = "info"
	defaultLogFormat     = "json"
)

// Config holds all application configuration
type Config struct {
	BotToken    string
	DBPath      string
	TasksFile   string
	Admins      []string
	AdminChatID int64
	Webhook     WebhookConfig
	Log         LogConfig
}

// WebhookConfig switches the bot from long polling to webhook delivery when URL is set.
type WebhookConfig struct {
	URL    string
	Listen string
	Secret string
}

type LogConfig struct {
	Level  string
	Format string
}

// Load reads configuration from environment variables. A .env file in the
// working directory is read first when present. BOT_TOKEN is not checked
// here; see RequireBotToken.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		BotToken:  os.Getenv("BOT_TOKEN"),
		DBPath:    getEnv("DB_PATH", defaultDBPath),
		TasksFile: os.Getenv("TASKS_FILE"),
		Admins:    parseAdmins(getEnv("ADMINS", defaultAdmins)),
		Webhook: WebhookConfig{
			URL:    os.Getenv("WEBHOOK_URL"),
			Listen: getEnv("WEBHOOK_LISTEN", defaultWebhookListen),
			Secret: os.Getenv("WEBHOOK_SECRET"),
		},
		Log: LogConfig{
			Level:  strings.ToLower(getEnv("LOG_LEVEL", defaultLogLevel)),
			Format: strings.ToLower(getEnv("LOG_FORMAT", defaultLogFormat)),
		},
	}

	if raw := os.Getenv("ADMIN_CHAT_ID"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid ADMIN_CHAT_ID %q: %w", raw, err)
		}
		cfg.AdminChatID = id
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// RequireBotToken fails when no token is configured. Only the bot needs one.
func (c *Config) RequireBotToken() error {
	if c.BotToken == "" {
		return fmt.Errorf("BOT_TOKEN is required")
	}
	return nil
}

func (c *Config) WebhookEnabled() bool {
	return c.Webhook.URL != ""
}

// DSN returns the SQLite connection string. The modernc driver applies the
// _pragma parameters on every new connection.
func (c *Config) DSN() string {
	sep := "?"
	if strings.Contains(c.DBPath, "?") {
		sep = "&"
	}
	return c.DBPath + sep + "_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
}

func (c *Config) validate() error {
	if c.DBPath == "" {
		return fmt.Errorf("DB_PATH must not be empty")
	}
	if len(c.Admins) == 0 {
		return fmt.Errorf("ADMINS must list at least one handle")
	}

	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid LOG_LEVEL %q", c.Log.Level)
	}
	switch c.Log.Format {
	case "json", "console":
	default:
		return fmt.Errorf("invalid LOG_FORMAT %q", c.Log.Format)
	}

	if c.Webhook.URL != "" {
		u, err := url.Parse(c.Webhook.URL)
		if err != nil || u.Scheme != "https" || u.Host == "" {
			return fmt.Errorf("WEBHOOK_URL must be an https URL, got %q", c.Webhook.URL)
		}
	}
	return nil
}

func parseAdmins(raw string) []string {
	var admins []string
	for _, part := range strings.Split(raw, ",") {
		handle := strings.TrimPrefix(strings.TrimSpace(part), "@")
		if handle == "" {
			continue
		}
		admins = append(admins, "@"+handle)
	}
	return admins
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
