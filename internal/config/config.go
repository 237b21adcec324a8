// Package config loads service settings from the environment.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	env "github.com/Netflix/go-env"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

type Config struct {
	ServiceName string `env:"SERVICE_NAME,default=messaging-service" validate:"required"`
	Environment string `env:"APP_ENV,default=local" validate:"required"`
	Port        string `env:"PORT,default=8083" validate:"required,numeric"`
	LogLevel    string `env:"LOG_LEVEL,default=info" validate:"oneof=debug info warn error"`
	LogDev      bool   `env:"LOG_DEVELOPMENT,default=false"`

	StoreDriver string `env:"STORE_DRIVER,default=sqlite" validate:"oneof=postgres sqlite"`
	DatabaseURL string `env:"DATABASE_URL" validate:"required_if=StoreDriver postgres"`
	SQLitePath  string `env:"SQLITE_PATH,default=messaging.db" validate:"required_if=StoreDriver sqlite"`

	AMQPURL         string `env:"AMQP_URL"`
	EventsExchange  string `env:"EVENTS_EXCHANGE,default=messaging.events" validate:"required"`
	AuditRoutingKey string `env:"AUDIT_ROUTING_KEY,default=audit.messaging" validate:"required"`

	// exactly one identity source is used; the remote auth-service wins when set
	AuthGRPCAddr     string        `env:"AUTH_GRPC_ADDR"`
	AuthTimeout      time.Duration `env:"AUTH_TIMEOUT,default=3s"`
	JWTSecret        string        `env:"JWT_SECRET" validate:"required_without=AuthGRPCAddr"`
	JWTIssuer        string        `env:"JWT_ISSUER"`
	IdentityCacheTTL time.Duration `env:"IDENTITY_CACHE_TTL,default=30s"`
	IdentityCacheLen int           `env:"IDENTITY_CACHE_SIZE,default=1024" validate:"gt=0"`

	OTLPEndpoint string `env:"OTEL_EXPORTER_OTLP_ENDPOINT"`

	WSPingInterval  time.Duration `env:"WS_PING_INTERVAL,default=25s" validate:"gt=0"`
	WSPongWait      time.Duration `env:"WS_PONG_WAIT,default=60s" validate:"gtfield=WSPingInterval"`
	WSWriteWait     time.Duration `env:"WS_WRITE_WAIT,default=10s" validate:"gt=0"`
	WSSendBuffer    int           `env:"WS_SEND_BUFFER,default=64" validate:"gt=0"`
	WSMaxMessageLen int           `env:"WS_MAX_MESSAGE_SIZE,default=65536" validate:"gt=0"`

	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT,default=15s"`
	DebugRoutes     bool          `env:"DEBUG_ROUTES,default=false"`
}

// Load reads an optional .env file and then the process environment.
func Load(files ...string) (Config, error) {
	if err := godotenv.Load(files...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load dotenv: %w", err)
	}

	var cfg Config
	if _, err := env.UnmarshalFromEnviron(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse environment: %w", err)
	}
	if err := validator.New().Struct(cfg); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}
