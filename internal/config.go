package internal

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Server        ServerConfig        `mapstructure:"http_server"`
	Database      DatabaseConfig      `mapstructure:"database"`
	Security      SecurityConfig      `mapstructure:"security"`
	Payments      PaymentsConfig      `mapstructure:"payments"`
	Wave          WaveConfig          `mapstructure:"wave"`
	OrangeMoney   OrangeMoneyConfig   `mapstructure:"orange_money"`
	Receipts      ReceiptsConfig      `mapstructure:"receipts"`
	Observability ObservabilityConfig `mapstructure:"observability"`
}

type ServerConfig struct {
	Port              int           `mapstructure:"port"`
	BaseURL           string        `mapstructure:"base_url"`
	AllowedOrigins    string        `mapstructure:"allowed_origins"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout"`
	ReadTimeout       time.Duration `mapstructure:"read_timeout"`
	IdleTimeout       time.Duration `mapstructure:"idle_timeout"`
	WriteTimeout      time.Duration `mapstructure:"write_timeout"`
}

type DatabaseConfig struct {
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
	Source          string        `mapstructure:"source"`
}

// SecurityConfig carries the service-token settings for API consumers
// (the chatbot and the admin dashboard). Client secrets are stored as
// bcrypt hashes, never in the clear.
type SecurityConfig struct {
	JWTSecret     string         `mapstructure:"jwt_secret"`
	TokenDuration time.Duration  `mapstructure:"token_duration"`
	BCryptCost    int            `mapstructure:"bcrypt_cost"`
	Clients       []ClientConfig `mapstructure:"clients"`
}

type ClientConfig struct {
	ID         string `mapstructure:"id"`
	SecretHash string `mapstructure:"secret_hash"`
}

// PaymentsConfig bounds accepted amounts and shapes the initiation retry
// policy. Amounts are XOF, which has no subunits.
type PaymentsConfig struct {
	MinAmount         int64         `mapstructure:"min_amount"`
	MaxAmount         int64         `mapstructure:"max_amount"`
	DefaultProvider   string        `mapstructure:"default_provider"`
	RetryMaxAttempts  int           `mapstructure:"retry_max_attempts"`
	RetryInitialDelay time.Duration `mapstructure:"retry_initial_delay"`
	RetryMultiplier   float64       `mapstructure:"retry_multiplier"`
	RetryMaxDelay     time.Duration `mapstructure:"retry_max_delay"`
}

type WaveConfig struct {
	BaseURL          string        `mapstructure:"base_url"`
	APIKey           string        `mapstructure:"api_key"`
	WebhookSecret    string        `mapstructure:"webhook_secret"`
	Timeout          time.Duration `mapstructure:"timeout"`
	SuccessURL       string        `mapstructure:"success_url"`
	ErrorURL         string        `mapstructure:"error_url"`
	WebhookTolerance time.Duration `mapstructure:"webhook_tolerance"`
}

type OrangeMoneyConfig struct {
	BaseURL       string        `mapstructure:"base_url"`
	ClientID      string        `mapstructure:"client_id"`
	ClientSecret  string        `mapstructure:"client_secret"`
	MerchantKey   string        `mapstructure:"merchant_key"`
	WebhookSecret string        `mapstructure:"webhook_secret"`
	Timeout       time.Duration `mapstructure:"timeout"`
}

type ReceiptsConfig struct {
	Secret       string `mapstructure:"secret"`
	NumberPrefix string `mapstructure:"number_prefix"`
	BaseURL      string `mapstructure:"base_url"`

	// The payer directory is the municipal tax registry. Leaving the URL
	// empty disables lookups; receipts then carry ledger fields only.
	DirectoryBaseURL string        `mapstructure:"directory_base_url"`
	DirectoryAPIKey  string        `mapstructure:"directory_api_key"`
	DirectoryTimeout time.Duration `mapstructure:"directory_timeout"`
}

type ObservabilityConfig struct {
	Logging LoggingConfig `mapstructure:"logging"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// ----------------- HELPERS -----------------

func getEnv(key, defaultVal string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultVal
}

func getEnvAsInt(key string, defaultVal int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvAsInt64(key string, defaultVal int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvAsDuration(key string, defaultVal time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultVal
}

// LoadConfigFromEnv builds the configuration from environment variables.
// Used in container deployments where no config file is mounted.
func LoadConfigFromEnv() *Config {
	return &Config{
		Server: ServerConfig{
			Port:              getEnvAsInt("SERVER_PORT", 8080),
			BaseURL:           getEnv("SERVER_BASE_URL", "http://localhost:8080"),
			AllowedOrigins:    getEnv("SERVER_ALLOWED_ORIGINS", "*"),
			ReadHeaderTimeout: getEnvAsDuration("SERVER_READ_HEADER_TIMEOUT", 5*time.Second),
			ReadTimeout:       getEnvAsDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:      getEnvAsDuration("SERVER_WRITE_TIMEOUT", 15*time.Second),
			IdleTimeout:       getEnvAsDuration("SERVER_IDLE_TIMEOUT", 60*time.Second),
		},
		Database: DatabaseConfig{
			Source:          getEnv("DATABASE_SOURCE", ""),
			MaxOpenConns:    getEnvAsInt("DATABASE_MAX_OPEN_CONNS", 10),
			MaxIdleConns:    getEnvAsInt("DATABASE_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: getEnvAsDuration("DATABASE_CONN_MAX_LIFETIME", 30*time.Minute),
			ConnMaxIdleTime: getEnvAsDuration("DATABASE_CONN_MAX_IDLE_TIME", 5*time.Minute),
		},
		Security: SecurityConfig{
			JWTSecret:     getEnv("SECURITY_JWT_SECRET", ""),
			TokenDuration: getEnvAsDuration("SECURITY_TOKEN_DURATION", 1*time.Hour),
			BCryptCost:    getEnvAsInt("SECURITY_BCRYPT_COST", 12),
		},
		Payments: PaymentsConfig{
			MinAmount:         getEnvAsInt64("PAYMENTS_MIN_AMOUNT", 100),
			MaxAmount:         getEnvAsInt64("PAYMENTS_MAX_AMOUNT", 10_000_000),
			DefaultProvider:   getEnv("PAYMENTS_DEFAULT_PROVIDER", "wave"),
			RetryMaxAttempts:  getEnvAsInt("PAYMENTS_RETRY_MAX_ATTEMPTS", 3),
			RetryInitialDelay: getEnvAsDuration("PAYMENTS_RETRY_INITIAL_DELAY", 500*time.Millisecond),
			RetryMultiplier:   2.0,
			RetryMaxDelay:     getEnvAsDuration("PAYMENTS_RETRY_MAX_DELAY", 10*time.Second),
		},
		Wave: WaveConfig{
			BaseURL:          getEnv("WAVE_BASE_URL", "https://api.wave.com"),
			APIKey:           getEnv("WAVE_API_KEY", ""),
			WebhookSecret:    getEnv("WAVE_WEBHOOK_SECRET", ""),
			Timeout:          getEnvAsDuration("WAVE_TIMEOUT", 30*time.Second),
			SuccessURL:       getEnv("WAVE_SUCCESS_URL", ""),
			ErrorURL:         getEnv("WAVE_ERROR_URL", ""),
			WebhookTolerance: getEnvAsDuration("WAVE_WEBHOOK_TOLERANCE", 5*time.Minute),
		},
		OrangeMoney: OrangeMoneyConfig{
			BaseURL:       getEnv("ORANGE_MONEY_BASE_URL", "https://api.orange.com"),
			ClientID:      getEnv("ORANGE_MONEY_CLIENT_ID", ""),
			ClientSecret:  getEnv("ORANGE_MONEY_CLIENT_SECRET", ""),
			MerchantKey:   getEnv("ORANGE_MONEY_MERCHANT_KEY", ""),
			WebhookSecret: getEnv("ORANGE_MONEY_WEBHOOK_SECRET", ""),
			Timeout:       getEnvAsDuration("ORANGE_MONEY_TIMEOUT", 30*time.Second),
		},
		Receipts: ReceiptsConfig{
			Secret:           getEnv("RECEIPTS_SECRET", ""),
			NumberPrefix:     getEnv("RECEIPTS_NUMBER_PREFIX", "RCU"),
			BaseURL:          getEnv("RECEIPTS_BASE_URL", ""),
			DirectoryBaseURL: getEnv("RECEIPTS_DIRECTORY_BASE_URL", ""),
			DirectoryAPIKey:  getEnv("RECEIPTS_DIRECTORY_API_KEY", ""),
			DirectoryTimeout: getEnvAsDuration("RECEIPTS_DIRECTORY_TIMEOUT", 10*time.Second),
		},
		Observability: ObservabilityConfig{
			Logging: LoggingConfig{
				Level:  getEnv("LOGGING_LEVEL", "info"),
				Format: getEnv("LOGGING_FORMAT", "json"),
			},
		},
	}
}

// ----------------- VALIDATION -----------------

func (c *Config) Validate() error {
	var errs []string

	if err := c.Server.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("server config: %v", err))
	}

	if err := c.Database.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("database config: %v", err))
	}

	if err := c.Security.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("security config: %v", err))
	}

	if err := c.Payments.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("payments config: %v", err))
	}

	if err := c.Wave.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("wave config: %v", err))
	}

	if err := c.OrangeMoney.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("orange money config: %v", err))
	}

	if err := c.Receipts.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("receipts config: %v", err))
	}

	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}

	return nil
}

func (c *ServerConfig) Validate() error {
	if c.AllowedOrigins != "" {
		origins := strings.Split(c.AllowedOrigins, ",")
		for _, origin := range origins {
			origin = strings.TrimSpace(origin)
			if origin == "*" {
				continue
			}
			if _, err := url.Parse(origin); err != nil {
				return fmt.Errorf("invalid allowed origin %s: %w", origin, err)
			}
		}
	}
	if c.ReadTimeout < c.ReadHeaderTimeout {
		return errors.New("read_timeout must be >= read_header_timeout")
	}
	return nil
}

func (c *DatabaseConfig) Validate() error {
	if c.MaxIdleConns > c.MaxOpenConns {
		return errors.New("max_idle_conns cannot be greater than max_open_conns")
	}
	return nil
}

func (c *DatabaseConfig) GetDSN() string {
	return c.Source
}

func (c *SecurityConfig) Validate() error {
	if len(c.JWTSecret) < 32 {
		return errors.New("jwt secret must be at least 32 characters")
	}
	if c.BCryptCost < 10 || c.BCryptCost > 15 {
		return errors.New("bcrypt cost must be between 10 and 15")
	}
	for _, client := range c.Clients {
		if client.ID == "" || client.SecretHash == "" {
			return errors.New("every api client needs an id and a secret_hash")
		}
	}
	return nil
}

func (c *PaymentsConfig) Validate() error {
	if c.MinAmount <= 0 {
		return errors.New("min_amount must be positive")
	}
	if c.MaxAmount <= c.MinAmount {
		return errors.New("max_amount must be greater than min_amount")
	}
	if c.RetryMaxAttempts < 1 {
		return errors.New("retry_max_attempts must be at least 1")
	}
	if c.RetryMultiplier < 1 {
		return errors.New("retry_multiplier must be >= 1")
	}
	return nil
}

func (c *WaveConfig) Validate() error {
	if c.BaseURL == "" {
		return errors.New("base_url is required")
	}
	if c.WebhookSecret == "" {
		return errors.New("webhook_secret is required")
	}
	return nil
}

func (c *OrangeMoneyConfig) Validate() error {
	if c.BaseURL == "" {
		return errors.New("base_url is required")
	}
	if c.WebhookSecret == "" {
		return errors.New("webhook_secret is required")
	}
	return nil
}

func (c *ReceiptsConfig) Validate() error {
	if len(c.Secret) < 16 {
		return errors.New("receipt secret must be at least 16 characters")
	}
	return nil
}
