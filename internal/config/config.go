package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	BackendDynamoDB = "dynamodb"
	BackendMemory   = "memory"
)

type Config struct {
	Server   ServerConfig
	Log      LogConfig
	Storage  StorageConfig
	DynamoDB DynamoDBConfig
	Redis    RedisConfig
	JWT      JWTConfig
	OTP      OTPConfig
	Auth     AuthConfig
	SMS      SMSConfig
	SMTP     SMTPConfig
	Kafka    KafkaConfig
}

type ServerConfig struct {
	Port           string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	AllowedOrigins []string
}

type LogConfig struct {
	Level string
}

type StorageConfig struct {
	// Backend selects the persistence layer: "dynamodb" (with redis for
	// session revocation) or "memory" for local development.
	Backend string
}

type DynamoDBConfig struct {
	Endpoint  string
	Region    string
	TableName string
}

type RedisConfig struct {
	Endpoint string
	Password string
	DB       int
}

type JWTConfig struct {
	SecretKey     string
	SessionExpiry time.Duration
}

// OTPConfig holds the one-time code policy. Defaults: 6 digits, 5 minute
// lifetime, 5 attempts per code, 30s between sends, 5 resends per rolling day.
type OTPConfig struct {
	Length           int
	TTL              time.Duration
	MaxAttempts      int
	ResendInterval   time.Duration
	MaxResendsPerDay int
	HashCost         int
	DeliveryTimeout  time.Duration
}

type AuthConfig struct {
	PasswordCost        int
	RequireVerification bool
	// AutoLogin issues a session token from the code submission that
	// completes verification of the last pending channel.
	AutoLogin        bool
	LoginHistorySize int
}

type SMSConfig struct {
	AccountSID string
	AuthToken  string
	From       string
	BaseURL    string
}

type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

type KafkaConfig struct {
	Brokers       []string
	ActivityTopic string
}

// Load reads an optional .env file and builds the configuration from the
// environment. Variables already set in the environment win over .env.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Server: ServerConfig{
			Port:           getEnv("PORT", "8080"),
			ReadTimeout:    getEnvAsDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:   getEnvAsDuration("SERVER_WRITE_TIMEOUT", 15*time.Second),
			AllowedOrigins: getEnvAsList("CORS_ALLOWED_ORIGINS", []string{"*"}),
		},
		Log: LogConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
		Storage: StorageConfig{
			Backend: strings.ToLower(getEnv("STORAGE_BACKEND", BackendDynamoDB)),
		},
		DynamoDB: DynamoDBConfig{
			Endpoint:  getEnv("DYNAMODB_ENDPOINT", ""),
			Region:    getEnv("DYNAMODB_REGION", "us-east-1"),
			TableName: getEnv("DYNAMODB_TABLE_NAME", "ChartMakerTable"),
		},
		Redis: RedisConfig{
			Endpoint: getEnv("REDIS_ENDPOINT", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
		},
		JWT: JWTConfig{
			SecretKey:     getEnv("JWT_SECRET_KEY", ""),
			SessionExpiry: getEnvAsDuration("JWT_SESSION_EXPIRY", 30*24*time.Hour),
		},
		OTP: DefaultOTPConfig(),
		Auth: AuthConfig{
			PasswordCost:        getEnvAsInt("PASSWORD_HASH_COST", 10),
			RequireVerification: getEnvAsBool("AUTH_REQUIRE_VERIFICATION", true),
			AutoLogin:           getEnvAsBool("AUTH_AUTO_LOGIN", false),
			LoginHistorySize:    getEnvAsInt("AUTH_LOGIN_HISTORY_SIZE", 10),
		},
		SMS: SMSConfig{
			AccountSID: getEnv("TWILIO_ACCOUNT_SID", ""),
			AuthToken:  getEnv("TWILIO_AUTH_TOKEN", ""),
			From:       getEnv("TWILIO_PHONE_NUMBER", ""),
			BaseURL:    getEnv("TWILIO_BASE_URL", "https://api.twilio.com"),
		},
		SMTP: SMTPConfig{
			Host:     getEnv("EMAIL_HOST", ""),
			Port:     getEnvAsInt("EMAIL_PORT", 587),
			Username: getEnv("EMAIL_USER", ""),
			Password: getEnv("EMAIL_PASS", ""),
			From:     getEnv("EMAIL_FROM", "Chart Maker <noreply@chartmaker.com>"),
		},
		Kafka: KafkaConfig{
			Brokers:       getEnvAsList("KAFKA_BROKERS", nil),
			ActivityTopic: getEnv("KAFKA_ACTIVITY_TOPIC", "chartmaker-activity"),
		},
	}

	cfg.OTP.Length = getEnvAsInt("OTP_LENGTH", cfg.OTP.Length)
	cfg.OTP.TTL = getEnvAsDuration("OTP_TTL", cfg.OTP.TTL)
	cfg.OTP.MaxAttempts = getEnvAsInt("OTP_MAX_ATTEMPTS", cfg.OTP.MaxAttempts)
	cfg.OTP.ResendInterval = getEnvAsDuration("OTP_RESEND_INTERVAL", cfg.OTP.ResendInterval)
	cfg.OTP.MaxResendsPerDay = getEnvAsInt("OTP_MAX_RESEND_PER_DAY", cfg.OTP.MaxResendsPerDay)
	cfg.OTP.HashCost = getEnvAsInt("OTP_HASH_COST", cfg.OTP.HashCost)
	cfg.OTP.DeliveryTimeout = getEnvAsDuration("OTP_DELIVERY_TIMEOUT", cfg.OTP.DeliveryTimeout)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// DefaultOTPConfig returns the documented code policy defaults.
func DefaultOTPConfig() OTPConfig {
	return OTPConfig{
		Length:           6,
		TTL:              5 * time.Minute,
		MaxAttempts:      5,
		ResendInterval:   30 * time.Second,
		MaxResendsPerDay: 5,
		HashCost:         10,
		DeliveryTimeout:  10 * time.Second,
	}
}

func (c *Config) Validate() error {
	if c.JWT.SecretKey == "" {
		return fmt.Errorf("JWT_SECRET_KEY environment variable is required")
	}

	if len(c.JWT.SecretKey) < 32 {
		return fmt.Errorf("JWT_SECRET_KEY must be at least 32 bytes (256 bits)")
	}

	if c.JWT.SessionExpiry <= 0 {
		return fmt.Errorf("JWT_SESSION_EXPIRY must be positive")
	}

	switch c.Storage.Backend {
	case BackendDynamoDB, BackendMemory:
	default:
		return fmt.Errorf("STORAGE_BACKEND must be %q or %q, got %q", BackendDynamoDB, BackendMemory, c.Storage.Backend)
	}

	if err := c.OTP.Validate(); err != nil {
		return err
	}

	if c.Auth.LoginHistorySize < 1 {
		return fmt.Errorf("AUTH_LOGIN_HISTORY_SIZE must be at least 1")
	}

	return nil
}

func (c *OTPConfig) Validate() error {
	// 9 digits is the widest code that still fits the uniform draw comfortably.
	if c.Length < 4 || c.Length > 9 {
		return fmt.Errorf("OTP_LENGTH must be between 4 and 9, got %d", c.Length)
	}
	if c.TTL <= 0 {
		return fmt.Errorf("OTP_TTL must be positive")
	}
	if c.MaxAttempts < 1 {
		return fmt.Errorf("OTP_MAX_ATTEMPTS must be at least 1")
	}
	if c.ResendInterval < 0 {
		return fmt.Errorf("OTP_RESEND_INTERVAL must not be negative")
	}
	if c.MaxResendsPerDay < 1 {
		return fmt.Errorf("OTP_MAX_RESEND_PER_DAY must be at least 1")
	}
	if c.DeliveryTimeout <= 0 {
		return fmt.Errorf("OTP_DELIVERY_TIMEOUT must be positive")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getEnvAsList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if s := strings.TrimSpace(part); s != "" {
			out = append(out, s)
		}
	}
	return out
}
