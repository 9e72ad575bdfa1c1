package config

import (
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

type Config struct {
	HttpServerPort uint16 `env:"HTTP_SERVER_PORT" envDefault:"8085" validate:"min=1000,max=65535"`

	// Comma-separated list of allowed websocket origins. "*" allows any.
	AllowedOrigins []string `env:"ALLOWED_ORIGINS" envSeparator:"," envDefault:"*"`

	Environment string `env:"APP_ENV" envDefault:"development"`

	// Rate limiting: new connections per address and actions (message/wave)
	// per connection, each within RateWindow.
	ConnectionLimit int           `env:"CONNECTION_LIMIT" envDefault:"50" validate:"min=1"`
	ActionLimit     int           `env:"ACTION_LIMIT"     envDefault:"10" validate:"min=1"`
	RateWindow      time.Duration `env:"RATE_WINDOW"      envDefault:"60s"`

	MaxMessageLength int `env:"MAX_MESSAGE_LENGTH" envDefault:"500" validate:"min=1"`

	JanitorInterval   time.Duration `env:"JANITOR_INTERVAL"    envDefault:"5m"`
	EmptyRoomGrace    time.Duration `env:"EMPTY_ROOM_GRACE"    envDefault:"30s"`
	RoomIdleTimeout   time.Duration `env:"ROOM_IDLE_TIMEOUT"   envDefault:"24h"`
	MemberIdleTimeout time.Duration `env:"MEMBER_IDLE_TIMEOUT" envDefault:"2h"`
}

func LoadConfig() (*Config, error) {
	// Load environment variables from .env file
	err := godotenv.Load(".env")
	if err != nil {
		zap.L().Debug(".env file not found", zap.Error(err))
	}

	cfg := &Config{}
	// Parse config from environment variables
	if err = env.Parse(cfg); err != nil {
		zap.L().Error("config_load_failed", zap.Error(err))
		return nil, err
	}

	// Validate the config
	validate := validator.New()
	err = validate.Struct(cfg)
	if err != nil {
		zap.L().Error("config_validation_failed", zap.Error(err))
		return nil, err
	}
	return cfg, nil
}
