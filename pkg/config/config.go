package config

import (
	"errors"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

type Config struct {
	Env       string
	Port      int
	APIPrefix string

	Database   DatabaseConfig
	Redis      RedisConfig
	JWT        JWTConfig
	CORS       CORSConfig
	Log        LogConfig
	Scheduling SchedulingConfig
	Meetings   MeetingsConfig
	Payments   PaymentsConfig
	Exports    ExportsConfig
}

type DatabaseConfig struct {
	Host         string
	Port         int
	User         string
	Password     string
	Name         string
	SSLMode      string
	MaxOpenConns int
	MaxIdleConns int
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

type JWTConfig struct {
	Secret            string
	Expiration        time.Duration
	RefreshExpiration time.Duration
	Issuer            string
}

type CORSConfig struct {
	AllowedOrigins []string
}

type LogConfig struct {
	Level  string
	Format string
}

// SchedulingConfig tunes the session lifecycle engine.
type SchedulingConfig struct {
	// JoinWindowLead is how long before start_at the join action opens.
	JoinWindowLead time.Duration
	// SweepInterval drives the periodic expired-session sweep; the sweep
	// endpoint can additionally be invoked opportunistically.
	SweepInterval time.Duration
	// SweepLockTTL bounds the redis lock that keeps overlapping sweep
	// invocations from duplicating work.
	SweepLockTTL time.Duration
	// AvailabilityCacheTTL caches teacher availability rules in redis.
	AvailabilityCacheTTL time.Duration
	// MaterializerWorkers sizes the week-materialization worker pool.
	MaterializerWorkers int
	MaterializerRetries int
}

// MeetingsConfig configures the conferencing-link provider.
type MeetingsConfig struct {
	// JoinURLTemplate and StartURLTemplate receive the session ID via %s.
	JoinURLTemplate  string
	StartURLTemplate string
}

// PaymentsConfig guards the payment-confirmation webhook.
type PaymentsConfig struct {
	WebhookSecret string
}

// ExportsConfig gates the schedule export endpoints.
type ExportsConfig struct {
	Enabled bool
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
	}

	cfg := &Config{}

	cfg.Env = v.GetString("ENV")
	cfg.Port = v.GetInt("PORT")
	cfg.APIPrefix = v.GetString("API_PREFIX")

	cfg.Database = DatabaseConfig{
		Host:         v.GetString("DB_HOST"),
		Port:         v.GetInt("DB_PORT"),
		User:         v.GetString("DB_USER"),
		Password:     v.GetString("DB_PASSWORD"),
		Name:         v.GetString("DB_NAME"),
		SSLMode:      v.GetString("DB_SSL_MODE"),
		MaxOpenConns: v.GetInt("DB_MAX_OPEN_CONNS"),
		MaxIdleConns: v.GetInt("DB_MAX_IDLE_CONNS"),
	}

	cfg.Redis = RedisConfig{
		Host:     v.GetString("REDIS_HOST"),
		Port:     v.GetInt("REDIS_PORT"),
		Password: v.GetString("REDIS_PASSWORD"),
		DB:       v.GetInt("REDIS_DB"),
	}

	cfg.JWT = JWTConfig{
		Secret:            v.GetString("JWT_SECRET"),
		Expiration:        parseDuration(v.GetString("JWT_EXPIRATION"), 24*time.Hour),
		RefreshExpiration: parseDuration(v.GetString("REFRESH_TOKEN_EXPIRATION"), 7*24*time.Hour),
		Issuer:            v.GetString("JWT_ISSUER"),
	}

	cfg.CORS = CORSConfig{AllowedOrigins: splitAndTrim(v.GetString("ALLOWED_ORIGINS"))}

	cfg.Log = LogConfig{
		Level:  v.GetString("LOG_LEVEL"),
		Format: v.GetString("LOG_FORMAT"),
	}

	cfg.Scheduling = SchedulingConfig{
		JoinWindowLead:       parseDuration(v.GetString("JOIN_WINDOW_LEAD"), 15*time.Minute),
		SweepInterval:        parseDuration(v.GetString("SESSION_SWEEP_INTERVAL"), 5*time.Minute),
		SweepLockTTL:         parseDuration(v.GetString("SESSION_SWEEP_LOCK_TTL"), time.Minute),
		AvailabilityCacheTTL: parseDuration(v.GetString("AVAILABILITY_CACHE_TTL"), 10*time.Minute),
		MaterializerWorkers:  v.GetInt("MATERIALIZER_WORKERS"),
		MaterializerRetries:  v.GetInt("MATERIALIZER_RETRIES"),
	}

	cfg.Meetings = MeetingsConfig{
		JoinURLTemplate:  v.GetString("MEETING_JOIN_URL_TEMPLATE"),
		StartURLTemplate: v.GetString("MEETING_START_URL_TEMPLATE"),
	}

	cfg.Payments = PaymentsConfig{
		WebhookSecret: v.GetString("PAYMENT_WEBHOOK_SECRET"),
	}

	cfg.Exports = ExportsConfig{
		Enabled: v.GetBool("ENABLE_SCHEDULE_EXPORTS"),
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENV", EnvDevelopment)
	v.SetDefault("PORT", 8080)
	v.SetDefault("API_PREFIX", "/api/v1")

	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_NAME", "lessonloop")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 10)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)

	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("JWT_SECRET", "dev_secret")
	v.SetDefault("JWT_EXPIRATION", "24h")
	v.SetDefault("REFRESH_TOKEN_EXPIRATION", "168h")
	v.SetDefault("JWT_ISSUER", "lessonloop-api")

	v.SetDefault("ALLOWED_ORIGINS", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")

	v.SetDefault("JOIN_WINDOW_LEAD", "15m")
	v.SetDefault("SESSION_SWEEP_INTERVAL", "5m")
	v.SetDefault("SESSION_SWEEP_LOCK_TTL", "1m")
	v.SetDefault("AVAILABILITY_CACHE_TTL", "10m")
	v.SetDefault("MATERIALIZER_WORKERS", 1)
	v.SetDefault("MATERIALIZER_RETRIES", 3)

	v.SetDefault("MEETING_JOIN_URL_TEMPLATE", "")
	v.SetDefault("MEETING_START_URL_TEMPLATE", "")

	v.SetDefault("PAYMENT_WEBHOOK_SECRET", "dev_webhook_secret")

	v.SetDefault("ENABLE_SCHEDULE_EXPORTS", true)
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}

	d, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}

	return d
}

func splitAndTrim(raw string) []string {
	if raw == "" {
		return nil
	}

	parts := strings.Split(raw, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}

	return result
}
