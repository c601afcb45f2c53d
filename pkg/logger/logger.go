// Package logger настраивает общий slog для сервиса: text в dev,
// zap/JSON в prod.
package logger

import (
	"log/slog"
	"os"
	"strings"
)

type Env string

const (
	EnvDev  Env = "dev"
	EnvProd Env = "prod"
)

type Backend string

const (
	BackendStd Backend = "std" // slog TextHandler
	BackendZap Backend = "zap" // JSON через slog-zap
)

type Config struct {
	Service    string
	Version    string
	InstanceID string

	Level     slog.Level
	Env       Env
	Backend   Backend // default: zap в prod, std в dev
	Debug     bool
	AddSource bool
}

var def *slog.Logger

// Init настраивает slog в зависимости от среды.
func Init(cfg Config) {
	if cfg.Env == "" {
		cfg.Env = DetectEnv()
	}
	if cfg.Service == "" {
		cfg.Service = "chat-core"
	}
	cfg.InstanceID = ensureInstanceID(cfg.InstanceID)

	if cfg.Backend == "" {
		if cfg.Env == EnvDev {
			cfg.Backend = BackendStd
		} else {
			cfg.Backend = BackendZap
		}
	}

	var h slog.Handler
	switch cfg.Backend {
	case BackendZap:
		h = newZapHandler(cfg)
	default:
		h = newStdHandler(cfg)
	}

	h = h.WithAttrs(commonAttrs(cfg))

	base := slog.New(h)
	slog.SetDefault(base)
	def = base
}

func L() *slog.Logger {
	if def != nil {
		return def
	}
	Init(Config{})
	return def
}

func DetectEnv() Env {
	switch strings.ToLower(strings.TrimSpace(os.Getenv("APP_ENV"))) {
	case "prod", "production":
		return EnvProd
	default:
		return EnvDev
	}
}
