package config

import (
	"errors"
	"fmt"
	"io/fs"

	"github.com/joho/godotenv"
)

// Config is built once at startup and passed by value into every component.
type Config struct {
	Server  ServerConfig
	Storage StorageConfig
	Gemini  GeminiConfig
	Log     LogConfig
	MCP     MCPConfig
}

type ServerConfig struct {
	Host string
	Port int
}

type StorageConfig struct {
	DBPath string
}

// GeminiConfig describes the hosted model. An empty APIKey is valid: the
// server starts and answers every question with a configuration error.
type GeminiConfig struct {
	APIKey  string
	Model   string
	BaseURL string
}

type LogConfig struct {
	Level string
}

type MCPConfig struct {
	Enabled bool
}

// DefaultGeminiBaseURL is Gemini's OpenAI-compatible endpoint.
const DefaultGeminiBaseURL = "https://generativelanguage.googleapis.com/v1beta/openai"

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 5000,
		},
		Storage: StorageConfig{
			DBPath: "queries.db",
		},
		Gemini: GeminiConfig{
			Model:   "gemini-2.5-flash",
			BaseURL: DefaultGeminiBaseURL,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads configuration from a .env file in the working directory (if
// present), the JSON config file at $XDG_CONFIG_HOME/askd/config.json, the
// environment, and the local secrets file.
//
// Precedence, lowest first: defaults, config file, environment (including
// values seeded from .env, which never override variables already set),
// secrets file for the API key when the environment leaves it empty.
func Load() (Config, error) {
	if err := loadDotEnv(".env"); err != nil {
		return Config{}, err
	}
	return loadWith(newPlatformBackend(), secretsReader{})
}

// loadDotEnv seeds the process environment from path. A missing file is not an error.
func loadDotEnv(path string) error {
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("loading %s: %w", path, err)
	}
	return nil
}

// secretStore abstracts the secrets file for testing.
type secretStore interface {
	Get(service, account string) (string, error)
}

func loadWith(b ConfigBackend, sec secretStore) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)

	if cfg.Gemini.APIKey == "" {
		if key, err := sec.Get("askd", "gemini_api_key"); err == nil && key != "" {
			cfg.Gemini.APIKey = key
		}
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port %d", c.Server.Port)
	}
	if c.Storage.DBPath == "" {
		return fmt.Errorf("missing required config: storage.db_path")
	}
	if c.Gemini.Model == "" {
		return fmt.Errorf("missing required config: gemini.model")
	}
	return nil
}

// Addr is the host:port the HTTP server listens on.
func (c Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// InferenceConfigured reports whether a Gemini API key is available.
func (c Config) InferenceConfigured() bool {
	return c.Gemini.APIKey != ""
}
