// Package config содержит логику чтения конфигурации сервиса фотокредитов.
package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

const (
	// EnvDev включает режим разработки: подробный журнал и cookie без Secure.
	EnvDev = "dev"
	// EnvProduction используется по умолчанию.
	EnvProduction = "production"
)

// ErrMissingGatewaySecret возвращается, если не задан ключ проверки подписи платёжного шлюза.
var ErrMissingGatewaySecret = errors.New("gateway key secret is required")

// Config содержит параметры конфигурации сервиса фотокредитов.
type Config struct {
	RunAddress        string `env:"RUN_ADDRESS"`
	DatabaseURI       string `env:"DATABASE_URI"`
	GatewayKeyID      string `env:"GATEWAY_KEY_ID"`
	GatewayKeySecret  string `env:"GATEWAY_KEY_SECRET"`
	GatewayAddress    string `env:"GATEWAY_ADDRESS"`
	GenerationAddress string `env:"GENERATION_ADDRESS"`
	GenerationAPIKey  string `env:"GENERATION_API_KEY"`
	SessionSecret     string `env:"SESSION_SECRET"`

	UploadsDir     string        `env:"UPLOADS_DIR" envDefault:"./uploads"`
	AppEnv         string        `env:"APP_ENV" envDefault:"production"`
	StoreTimeout   time.Duration `env:"STORE_TIMEOUT" envDefault:"5s"`
	RateLimitRPS   float64       `env:"RATE_LIMIT_RPS" envDefault:"10"`
	RateLimitBurst int           `env:"RATE_LIMIT_BURST" envDefault:"20"`

	// TrustProxyHeaders разрешает брать адрес клиента из X-Forwarded-For и X-Real-IP.
	// Включать только за обратным прокси, который перезаписывает эти заголовки.
	TrustProxyHeaders bool `env:"TRUST_PROXY_HEADERS" envDefault:"false"`
}

// Production сообщает, запущен ли сервис в боевом окружении.
func (c *Config) Production() bool {
	return c.AppEnv != EnvDev
}

// Parse считывает конфигурацию из файла .env, флагов командной строки и переменных окружения.
// Переменные окружения имеют приоритет над флагами, .env не перекрывает уже заданные переменные.
func Parse() (*Config, error) {
	if err := loadDotEnv(".env"); err != nil {
		return nil, err
	}

	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	envRunAddress := cfg.RunAddress
	envDatabaseURI := cfg.DatabaseURI
	envGatewaySecret := cfg.GatewayKeySecret
	envGatewayAddress := cfg.GatewayAddress
	envGenerationAddress := cfg.GenerationAddress

	flag.StringVar(&cfg.RunAddress, "a", "localhost:8080", "address and port for HTTP server")
	flag.StringVar(&cfg.DatabaseURI, "d", "", "database URI, in-memory store when empty")
	flag.StringVar(&cfg.GatewayKeySecret, "s", "", "payment gateway key secret")
	flag.StringVar(&cfg.GatewayAddress, "g", "", "payment gateway address")
	flag.StringVar(&cfg.GenerationAddress, "t", "", "image generation service address")

	flag.Parse()

	if envRunAddress != "" {
		cfg.RunAddress = envRunAddress
	}
	if envDatabaseURI != "" {
		cfg.DatabaseURI = envDatabaseURI
	}
	if envGatewaySecret != "" {
		cfg.GatewayKeySecret = envGatewaySecret
	}
	if envGatewayAddress != "" {
		cfg.GatewayAddress = envGatewayAddress
	}
	if envGenerationAddress != "" {
		cfg.GenerationAddress = envGenerationAddress
	}

	if cfg.RunAddress == "" {
		cfg.RunAddress = "localhost:8080"
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	if cfg.SessionSecret == "" {
		cfg.SessionSecret = cfg.GatewayKeySecret
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.GatewayKeySecret == "" {
		return ErrMissingGatewaySecret
	}
	if c.AppEnv != EnvDev && c.AppEnv != EnvProduction {
		return fmt.Errorf("unknown APP_ENV %q", c.AppEnv)
	}
	if c.StoreTimeout <= 0 {
		return fmt.Errorf("STORE_TIMEOUT must be positive")
	}
	if c.RateLimitRPS <= 0 || c.RateLimitBurst <= 0 {
		return fmt.Errorf("rate limit must be positive")
	}
	return nil
}

func loadDotEnv(path string) error {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}
