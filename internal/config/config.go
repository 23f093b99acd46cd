// Package config loads client and relay settings from the environment.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Client configures the chat client core and CLI.
type Client struct {
	RelayURL       string        `env:"CHAT_RELAY_URL" envDefault:"ws://localhost:8080/ws"`
	AuthURL        string        `env:"CHAT_AUTH_URL" envDefault:"http://localhost:8080"`
	TypingDebounce time.Duration `env:"CHAT_TYPING_DEBOUNCE" envDefault:"2s"`
	TypingTimeout  time.Duration `env:"CHAT_TYPING_TIMEOUT" envDefault:"3s"`
	AuthTimeout    time.Duration `env:"CHAT_AUTH_TIMEOUT" envDefault:"10s"`
	DialTimeout    time.Duration `env:"CHAT_DIAL_TIMEOUT" envDefault:"10s"`
	SendQueueSize  int           `env:"CHAT_SEND_QUEUE" envDefault:"256"`
	LogLevel       string        `env:"CHAT_LOG_LEVEL" envDefault:"info"`
}

// Relay configures the reference relay.
type Relay struct {
	Addr        string   `env:"CHAT_RELAY_ADDR" envDefault:":8080"`
	DBPath      string   `env:"CHAT_RELAY_DB" envDefault:"chat.db"`
	CORSOrigins []string `env:"CORS_ORIGINS" envSeparator:"," envDefault:"http://localhost:3000"`
	LogLevel    string   `env:"CHAT_LOG_LEVEL" envDefault:"info"`
}

// LoadClient reads the client configuration, after loading any .env files.
func LoadClient(dotenv ...string) (Client, error) {
	var cfg Client
	if err := load(&cfg, dotenv); err != nil {
		return Client{}, err
	}
	if cfg.SendQueueSize <= 0 {
		return Client{}, fmt.Errorf("CHAT_SEND_QUEUE must be positive, got %d", cfg.SendQueueSize)
	}
	return cfg, nil
}

// LoadRelay reads the relay configuration, after loading any .env files.
func LoadRelay(dotenv ...string) (Relay, error) {
	var cfg Relay
	if err := load(&cfg, dotenv); err != nil {
		return Relay{}, err
	}
	return cfg, nil
}

func load(target any, dotenv []string) error {
	// A missing .env file is fine; variables may come from the process environment.
	if err := godotenv.Load(dotenv...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to load .env: %w", err)
	}
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("failed to parse config: %w", err)
	}
	return nil
}
