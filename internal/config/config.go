// Package config loads and validates the opsdesk configuration from a
// JSON file, with an environment-variable fallback for container
// deployments.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/opsdesk-io/opsdesk/pkg/protocol"
)

// Config is the top-level opsdesk configuration.
type Config struct {
	Desk       DeskConfig                `json:"desk"`
	Providers  map[string]ProviderConfig `json:"providers"`
	NLU        NLUConfig                 `json:"nlu"`
	Search     SearchConfig              `json:"search"`
	Alerts     []protocol.Alert          `json:"alerts,omitempty"`
	Session    SessionConfig             `json:"session"`
	Connectors ConnectorConfig           `json:"connectors"`
	API        APIConfig                 `json:"api"`
}

// DeskConfig holds desk-level settings.
type DeskConfig struct {
	ID      string `json:"id"`
	DataDir string `json:"data_dir"`
}

// ProviderConfig holds LLM provider settings.
type ProviderConfig struct {
	Type    string `json:"type,omitempty"` // "openai" (default) or "anthropic"
	APIKey  string `json:"api_key"`
	BaseURL string `json:"base_url,omitempty"`
	Model   string `json:"model"`
}

// NLUConfig selects the provider and model used for language
// understanding.
type NLUConfig struct {
	Provider string `json:"provider,omitempty"` // name in Providers, default "default"
	Model    string `json:"model,omitempty"`
}

// SearchConfig holds settings for the information tiers.
type SearchConfig struct {
	WikiURL     string `json:"wiki_url,omitempty"`
	BraveAPIKey string `json:"brave_api_key,omitempty"`
	MaxResults  int    `json:"max_results,omitempty"` // default 3
}

// SessionConfig tunes conversation lifecycle timing. Durations use Go
// syntax ("30m", "60s").
type SessionConfig struct {
	IdleTimeout string `json:"idle_timeout,omitempty"` // default 30m
	CloseDelay  string `json:"close_delay,omitempty"`  // default 60s
}

// ConnectorConfig holds settings for chat platform connectors.
type ConnectorConfig struct {
	Telegram *TelegramConfig `json:"telegram,omitempty"`
	Slack    *SlackConfig    `json:"slack,omitempty"`
}

// TelegramConfig holds Telegram bot settings.
type TelegramConfig struct {
	Token     string  `json:"token"`
	AllowFrom []int64 `json:"allow_from,omitempty"`
}

// SlackConfig holds Slack socket-mode settings.
type SlackConfig struct {
	BotToken string `json:"bot_token"`
	AppToken string `json:"app_token"`
}

// APIConfig holds REST API server settings.
type APIConfig struct {
	Host string `json:"host"`
	Port int    `json:"port"`
	Key  string `json:"api_key"`
}

// Load reads configuration from a JSON file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadFromEnv builds a minimal config from OPSDESK_-prefixed
// environment variables.
func LoadFromEnv() (*Config, error) {
	cfg := &Config{
		Desk: DeskConfig{
			ID:      getenv("OPSDESK_DESK_ID", "default"),
			DataDir: getenv("OPSDESK_DATA_DIR", "/data"),
		},
		Providers: make(map[string]ProviderConfig),
		Search: SearchConfig{
			WikiURL:     os.Getenv("OPSDESK_WIKI_URL"),
			BraveAPIKey: os.Getenv("OPSDESK_BRAVE_API_KEY"),
		},
		Session: SessionConfig{
			IdleTimeout: os.Getenv("OPSDESK_IDLE_TIMEOUT"),
			CloseDelay:  os.Getenv("OPSDESK_CLOSE_DELAY"),
		},
		API: APIConfig{
			Host: getenv("OPSDESK_API_HOST", "0.0.0.0"),
			Port: getenvInt("OPSDESK_API_PORT", 8080),
			Key:  os.Getenv("OPSDESK_API_KEY"),
		},
	}

	if apiKey := os.Getenv("OPSDESK_ANTHROPIC_API_KEY"); apiKey != "" {
		cfg.Providers["default"] = ProviderConfig{
			Type:   "anthropic",
			APIKey: apiKey,
			Model:  getenv("OPSDESK_MODEL", "claude-sonnet-4-20250514"),
		}
	} else if apiKey := os.Getenv("OPSDESK_OPENAI_API_KEY"); apiKey != "" {
		cfg.Providers["default"] = ProviderConfig{
			Type:    "openai",
			APIKey:  apiKey,
			BaseURL: os.Getenv("OPSDESK_OPENAI_BASE_URL"),
			Model:   getenv("OPSDESK_MODEL", "gpt-4o-mini"),
		}
	}

	if token := os.Getenv("OPSDESK_TELEGRAM_TOKEN"); token != "" {
		cfg.Connectors.Telegram = &TelegramConfig{Token: token}
		if ids := os.Getenv("OPSDESK_TELEGRAM_ALLOW_FROM"); ids != "" {
			parsed, err := parseInt64List(ids)
			if err != nil {
				return nil, fmt.Errorf("config: OPSDESK_TELEGRAM_ALLOW_FROM: %w", err)
			}
			cfg.Connectors.Telegram.AllowFrom = parsed
		}
	}
	if bot := os.Getenv("OPSDESK_SLACK_BOT_TOKEN"); bot != "" {
		cfg.Connectors.Slack = &SlackConfig{
			BotToken: bot,
			AppToken: os.Getenv("OPSDESK_SLACK_APP_TOKEN"),
		}
	}

	return cfg, nil
}

// Validate checks for required fields.
func (c *Config) Validate() error {
	var errs []string

	if c.Desk.ID == "" {
		errs = append(errs, "desk.id is required")
	}
	if c.Desk.DataDir == "" {
		errs = append(errs, "desk.data_dir is required")
	}

	if len(c.Providers) == 0 {
		errs = append(errs, "at least one provider is required")
	}
	for name, p := range c.Providers {
		if p.APIKey == "" {
			errs = append(errs, fmt.Sprintf("providers.%s.api_key is required", name))
		}
		if p.Model == "" {
			errs = append(errs, fmt.Sprintf("providers.%s.model is required", name))
		}
	}

	if c.NLU.Provider != "" {
		if _, ok := c.Providers[c.NLU.Provider]; !ok {
			errs = append(errs, fmt.Sprintf("nlu.provider references unknown provider %q", c.NLU.Provider))
		}
	}

	for i, a := range c.Alerts {
		if a.ID == "" {
			errs = append(errs, fmt.Sprintf("alerts[%d].id is required", i))
		}
	}

	for _, d := range []struct{ name, value string }{
		{"session.idle_timeout", c.Session.IdleTimeout},
		{"session.close_delay", c.Session.CloseDelay},
	} {
		if d.value == "" {
			continue
		}
		if _, err := parseDuration(d.value); err != nil {
			errs = append(errs, fmt.Sprintf("%s: invalid duration %q", d.name, d.value))
		}
	}

	if c.Connectors.Telegram != nil && c.Connectors.Telegram.Token == "" {
		errs = append(errs, "connectors.telegram.token is required")
	}
	if c.Connectors.Slack != nil {
		if c.Connectors.Slack.BotToken == "" {
			errs = append(errs, "connectors.slack.bot_token is required")
		}
		if c.Connectors.Slack.AppToken == "" {
			errs = append(errs, "connectors.slack.app_token is required")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// IdleTimeout returns the parsed idle timeout (default 30m).
func (c *Config) IdleTimeout() time.Duration {
	if d, err := parseDuration(c.Session.IdleTimeout); err == nil && d > 0 {
		return d
	}
	return 30 * time.Minute
}

// CloseDelay returns the parsed suppression close delay (default 60s).
func (c *Config) CloseDelay() time.Duration {
	if d, err := parseDuration(c.Session.CloseDelay); err == nil && d > 0 {
		return d
	}
	return time.Minute
}

func parseDuration(s string) (time.Duration, error) {
	return time.ParseDuration(s)
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getenvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func parseInt64List(s string) ([]int64, error) {
	parts := strings.Split(s, ",")
	result := make([]int64, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		n, err := strconv.ParseInt(p, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid integer %q", p)
		}
		result = append(result, n)
	}
	return result, nil
}
