package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"

	"github.com/rocketscienceinc/connect6-backend/internal/entity"
)

var (
	ErrInvalidLogLevel    = errors.New("log level must be debug, info, warn or error")
	ErrInvalidIdleTimeout = errors.New("session idle timeout must be positive")
	ErrInvalidWebsocket   = errors.New("websocket timings must be positive and ping interval shorter than read deadline")
)

type Config struct {
	LogLevel           string        `yaml:"log-level" env:"LOG_LEVEL" env-default:"info"`
	HTTPPort           string        `yaml:"http-port" env:"HTTP_PORT" env-default:"9090"`
	SocketPort         string        `yaml:"socket-port" env:"SOCKET_PORT" env-default:"8080"`
	BoardSize          int           `yaml:"board-size" env:"BOARD_SIZE" env-default:"19"`
	SessionIdleTimeout time.Duration `yaml:"session-idle-timeout" env:"SESSION_IDLE_TIMEOUT" env-default:"30m"`
	AdminLog           AdminLog      `yaml:"admin-log"`
	Redis              Redis         `yaml:"redis"`
	Websocket          Websocket     `yaml:"websocket"`
}

type AdminLog struct {
	Capacity int    `yaml:"capacity" env:"ADMIN_LOG_CAPACITY" env-default:"30"`
	File     string `yaml:"file" env:"ADMIN_LOG_FILE"`
}

type Redis struct {
	Enabled   bool   `yaml:"enabled" env:"REDIS_ENABLED" env-default:"false"`
	Host      string `yaml:"host" env:"REDIS_HOST" env-default:"localhost"`
	Port      int    `yaml:"port" env:"REDIS_PORT" env-default:"6379"`
	Password  string `yaml:"password" env:"REDIS_PASSWORD"`
	DB        int    `yaml:"db" env:"REDIS_DB" env-default:"0"`
	KeyPrefix string `yaml:"key-prefix" env:"REDIS_KEY_PREFIX" env-default:"connect6"`
}

type Websocket struct {
	SendBuffer   int           `yaml:"send-buffer" env:"WS_SEND_BUFFER" env-default:"64"`
	WriteTimeout time.Duration `yaml:"write-timeout" env:"WS_WRITE_TIMEOUT" env-default:"10s"`
	PingInterval time.Duration `yaml:"ping-interval" env:"WS_PING_INTERVAL" env-default:"30s"`
	ReadDeadline time.Duration `yaml:"read-deadline" env:"WS_READ_DEADLINE" env-default:"60s"`
}

// Load reads path when it exists, then the environment, and validates the result.
func Load(path string) (*Config, error) {
	config := &Config{}

	_, statErr := os.Stat(path)

	var err error
	switch {
	case statErr == nil:
		err = cleanenv.ReadConfig(path, config)
	case errors.Is(statErr, os.ErrNotExist):
		err = cleanenv.ReadEnv(config)
	default:
		err = statErr
	}

	if err != nil {
		return nil, fmt.Errorf("unable to load config: %w", err)
	}

	if err = config.validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// MustLoad - load all configurations in config.yml file.
func MustLoad(path string) *Config {
	config, err := Load(path)
	if err != nil {
		panic(err)
	}

	return config
}

func (that *Config) validate() error {
	switch that.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("%w: %q", ErrInvalidLogLevel, that.LogLevel)
	}

	if err := entity.ValidateBoardSize(that.BoardSize); err != nil {
		return fmt.Errorf("invalid board-size %d: %w", that.BoardSize, err)
	}

	if that.SessionIdleTimeout <= 0 {
		return ErrInvalidIdleTimeout
	}

	ws := that.Websocket
	if ws.SendBuffer <= 0 || ws.WriteTimeout <= 0 || ws.PingInterval <= 0 || ws.PingInterval >= ws.ReadDeadline {
		return ErrInvalidWebsocket
	}

	return nil
}
