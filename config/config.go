package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type HTTP struct {
	Addr string `yaml:"addr"`
}

type Logging struct {
	Env       string `yaml:"env"`       // dev|prod
	Service   string `yaml:"service"`   // chat-core
	Version   string `yaml:"version"`   // v0.1.0
	Backend   string `yaml:"backend"`   // std|zap
	AddSource bool   `yaml:"addSource"` // false|true
	Debug     bool   `yaml:"debug"`     // false|true
}

type Storage struct {
	Backend string `yaml:"backend"` // memory|pebble|postgres
	Path    string `yaml:"path"`    // pebble
	DSN     string `yaml:"dsn"`     // postgres
}

type Chat struct {
	DefaultRoom      string `yaml:"defaultRoom"`
	TypingWindow     string `yaml:"typingWindow"`     // default 5s
	AwayWindow       string `yaml:"awayWindow"`       // default 60s
	SubscriberBuffer int    `yaml:"subscriberBuffer"` // default 64
}

type Auth struct {
	TokenSecret string `yaml:"tokenSecret"`
	TokenTTL    string `yaml:"tokenTTL"` // default 24h
	BcryptCost  int    `yaml:"bcryptCost"`
}

type Simulate struct {
	Enabled bool  `yaml:"enabled"`
	Seed    int64 `yaml:"seed"`
}

type Config struct {
	HTTP     HTTP     `yaml:"http"`
	Logging  Logging  `yaml:"logging"`
	Storage  Storage  `yaml:"storage"`
	Chat     Chat     `yaml:"chat"`
	Auth     Auth     `yaml:"auth"`
	Simulate Simulate `yaml:"simulate"`
}

func LoadConfig() (*Config, error) {
	path := os.Getenv("CONFIG_PATH")
	if path == "" {
		path = "./config/config.yaml"
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.HTTP.Addr == "" {
		return errors.New("http.addr is required")
	}
	switch c.Storage.Backend {
	case "", "memory":
		c.Storage.Backend = "memory"
	case "pebble":
		if c.Storage.Path == "" {
			return errors.New("storage.path is required for pebble backend")
		}
	case "postgres":
		if c.Storage.DSN == "" {
			return errors.New("storage.dsn is required for postgres backend")
		}
	default:
		return fmt.Errorf("unknown storage.backend %q", c.Storage.Backend)
	}
	if c.Auth.TokenSecret == "" {
		return errors.New("auth.tokenSecret is required")
	}
	// установка дефолтов, если значения не указаны
	if c.Logging.Service == "" {
		c.Logging.Service = "chat-core"
	}
	if c.Logging.Env == "" {
		c.Logging.Env = "dev"
	}
	if c.Logging.Version == "" {
		c.Logging.Version = "v0.1.0"
	}
	if c.Logging.Backend == "" {
		c.Logging.Backend = "std"
	}
	if c.Chat.DefaultRoom == "" {
		c.Chat.DefaultRoom = "general"
	}
	return nil
}

func (c *Chat) TypingWindowDuration() time.Duration {
	return parseDurationOr(5*time.Second, c.TypingWindow)
}

func (c *Chat) AwayWindowDuration() time.Duration {
	return parseDurationOr(60*time.Second, c.AwayWindow)
}

func (c *Auth) TokenTTLDuration() time.Duration {
	return parseDurationOr(24*time.Hour, c.TokenTTL)
}

// helper для парсинга timeout-ов
func parseDurationOr(def time.Duration, s string) time.Duration {
	if d, err := time.ParseDuration(s); err == nil && d > 0 {
		return d
	}
	return def
}
