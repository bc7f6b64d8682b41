// Package config loads runtime configuration from a .env file and AGROZONE_*
// environment variables layered over built-in defaults.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Model    ModelConfig
	GenAI    GenAIConfig
	External ExternalConfig
	Auth     AuthConfig
	Chat     ChatConfig
}

type ServerConfig struct {
	Port int
}

type DatabaseConfig struct {
	DataDir string
}

type ModelConfig struct {
	BaseURL string
	TopK    int
}

type GenAIConfig struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

type ExternalConfig struct {
	WeatherAPIKey string
	NewsAPIKey    string
}

type AuthConfig struct {
	JWTSecret string
	TokenTTL  time.Duration
}

type ChatConfig struct {
	MaxMessages int
	ThreadTTL   time.Duration
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port: 8080,
		},
		Database: DatabaseConfig{
			DataDir: defaultDataDir(),
		},
		Model: ModelConfig{
			BaseURL: "http://localhost:8500",
			TopK:    3,
		},
		GenAI: GenAIConfig{
			BaseURL: "http://localhost:8600",
			Timeout: 30 * time.Second,
		},
		Auth: AuthConfig{
			TokenTTL: 24 * time.Hour,
		},
		Chat: ChatConfig{
			MaxMessages: 50,
			ThreadTTL:   24 * time.Hour,
		},
	}
}

// Load reads a .env file when present, then applies AGROZONE_* environment
// overrides on top of the defaults. The JWT secret is the only required
// value.
func Load() (Config, error) {
	// Missing .env is fine; real deployments set the environment directly.
	_ = godotenv.Load()

	cfg := defaults()
	applyEnvOverrides(&cfg)

	if cfg.Auth.JWTSecret == "" {
		return Config{}, fmt.Errorf("missing required config: JWT secret. Set it via environment variable AGROZONE_JWT_SECRET")
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	setString("AGROZONE_DATA_DIR", &cfg.Database.DataDir)
	setString("AGROZONE_MODEL_URL", &cfg.Model.BaseURL)
	setString("AGROZONE_GENAI_URL", &cfg.GenAI.BaseURL)
	setString("AGROZONE_GENAI_API_KEY", &cfg.GenAI.APIKey)
	setString("AGROZONE_WEATHER_API_KEY", &cfg.External.WeatherAPIKey)
	setString("AGROZONE_NEWS_API_KEY", &cfg.External.NewsAPIKey)
	setString("AGROZONE_JWT_SECRET", &cfg.Auth.JWTSecret)

	setInt("AGROZONE_PORT", &cfg.Server.Port)
	setInt("AGROZONE_TOP_K", &cfg.Model.TopK)
	setInt("AGROZONE_CHAT_MAX_MESSAGES", &cfg.Chat.MaxMessages)

	setDuration("AGROZONE_GENAI_TIMEOUT", &cfg.GenAI.Timeout)
	setDuration("AGROZONE_TOKEN_TTL", &cfg.Auth.TokenTTL)
	setDuration("AGROZONE_CHAT_THREAD_TTL", &cfg.Chat.ThreadTTL)
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "./data"
	}
	return filepath.Join(home, ".agrozone")
}

func setString(env string, dst *string) {
	if v := os.Getenv(env); v != "" {
		*dst = v
	}
}

func setInt(env string, dst *int) {
	raw := os.Getenv(env)
	if raw == "" {
		return
	}
	if i, err := strconv.Atoi(raw); err == nil {
		*dst = i
	} else {
		fmt.Fprintf(os.Stderr, "[WARN] could not parse integer from env var %s=%q: %v. Using default value.\n", env, raw, err)
	}
}

func setDuration(env string, dst *time.Duration) {
	raw := os.Getenv(env)
	if raw == "" {
		return
	}
	if d, err := time.ParseDuration(raw); err == nil {
		*dst = d
	} else {
		fmt.Fprintf(os.Stderr, "[WARN] could not parse duration from env var %s=%q: %v. Using default value.\n", env, raw, err)
	}
}
