package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"golang.org/x/text/language"

	"github.com/tatianab/story-loop/internal/provider"
)

// Config holds the application configuration.
type Config struct {
	Provider string `env:"AI_PROVIDER" envDefault:"deepseek"`

	DeepSeekAPIKey    string `env:"DEEPSEEK_API_KEY"`
	GeminiAPIKey      string `env:"GEMINI_API_KEY"`
	SiliconFlowAPIKey string `env:"SILICONFLOW_API_KEY"`

	// Model and BaseURL fall back to the provider defaults when empty.
	Model   string `env:"AI_MODEL"`
	BaseURL string `env:"AI_BASE_URL"`

	SaveDir      string `env:"SAVE_DIR" envDefault:".saves"`
	ScenarioFile string `env:"SCENARIO_FILE"`

	MaxHistoryRounds int  `env:"MAX_HISTORY_ROUNDS" envDefault:"10"`
	TokenBudget      int  `env:"TOKEN_BUDGET" envDefault:"6000"`
	AutoFix          bool `env:"AUTO_FIX" envDefault:"true"`
	MaxRetries       int  `env:"MAX_RETRIES" envDefault:"2"`

	Locale      string `env:"LOCALE" envDefault:"zh-CN"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`
	LogFile     string `env:"LOG_FILE" envDefault:".saves/story-loop.log"`
	JournalPath string `env:"JOURNAL_PATH" envDefault:".saves/journal.db"`
}

// Load reads the configuration from the environment, after loading an
// optional .env file. It fails when the selected provider has no API key.
func Load() (*Config, error) {
	cfg, err := LoadOffline()
	if err != nil {
		return nil, err
	}
	if cfg.APIKey() == "" {
		return nil, fmt.Errorf("%s environment variable is not set", cfg.apiKeyVar())
	}
	return cfg, nil
}

// LoadOffline is Load without the API key requirement, for commands that
// never contact a provider.
func LoadOffline() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if _, err := provider.Parse(cfg.Provider); err != nil {
		return nil, fmt.Errorf("AI_PROVIDER: %w", err)
	}
	if cfg.MaxHistoryRounds < 0 {
		return nil, fmt.Errorf("MAX_HISTORY_ROUNDS must not be negative, got %d", cfg.MaxHistoryRounds)
	}
	if cfg.MaxRetries < 0 {
		return nil, fmt.Errorf("MAX_RETRIES must not be negative, got %d", cfg.MaxRetries)
	}
	return &cfg, nil
}

// AIProvider is the parsed provider. Load has already validated it.
func (c *Config) AIProvider() provider.Provider {
	p, _ := provider.Parse(c.Provider)
	return p
}

// APIKey is the key of the selected provider.
func (c *Config) APIKey() string {
	switch c.AIProvider() {
	case provider.DeepSeek:
		return c.DeepSeekAPIKey
	case provider.Gemini:
		return c.GeminiAPIKey
	case provider.SiliconFlow:
		return c.SiliconFlowAPIKey
	}
	return ""
}

func (c *Config) apiKeyVar() string {
	switch c.AIProvider() {
	case provider.Gemini:
		return "GEMINI_API_KEY"
	case provider.SiliconFlow:
		return "SILICONFLOW_API_KEY"
	}
	return "DEEPSEEK_API_KEY"
}

// ModelName is the configured model or the provider default.
func (c *Config) ModelName() string {
	if c.Model != "" {
		return c.Model
	}
	return c.AIProvider().DefaultModel()
}

// Endpoint is the configured base URL or the provider default.
func (c *Config) Endpoint() string {
	if c.BaseURL != "" {
		return c.BaseURL
	}
	return c.AIProvider().DefaultBaseURL()
}

// Language is the locale for player-facing messages. Unparseable locales
// fall back to Chinese.
func (c *Config) Language() language.Tag {
	tag, err := language.Parse(c.Locale)
	if err != nil {
		return language.Chinese
	}
	return tag
}
