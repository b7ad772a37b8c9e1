package config

import (
	"errors"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

// Queue drivers supported for notification delivery.
const (
	QueueDriverMemory = "memory"
	QueueDriverRedis  = "redis"
)

type Config struct {
	Env         string
	Port        int
	APIPrefix   string
	AutoMigrate bool

	Database      DatabaseConfig
	Redis         RedisConfig
	JWT           JWTConfig
	CORS          CORSConfig
	Log           LogConfig
	RateLimit     RateLimitConfig
	Attendance    AttendanceConfig
	Leave         LeaveConfig
	Mess          MessConfig
	Sessions      SessionConfig
	Notifications NotificationConfig
	Storage       StorageConfig
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
	Enabled  bool
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
	SingleSession     bool
}

type CORSConfig struct {
	AllowedOrigins []string
}

type LogConfig struct {
	Level  string
	Format string
}

// RateLimitConfig bounds login attempts per client within a fixed window.
type RateLimitConfig struct {
	LoginAttempts int
	LoginWindow   time.Duration
}

// AttendanceConfig tunes analytics caching and policy evaluation.
type AttendanceConfig struct {
	CacheTTL           time.Duration
	EvaluationWindow   time.Duration
	EvaluationInterval time.Duration
	// Timezone is the wall clock check-in deadlines are read in.
	Timezone string
}

// MessConfig tunes weekly menu caching and the calendar feed timezone.
type MessConfig struct {
	CacheTTL time.Duration
	Timezone string
}

// LeaveConfig governs the pending-approval SLA sweep.
type LeaveConfig struct {
	SLA           time.Duration
	SweepInterval time.Duration
}

// SessionConfig controls the expired session cleanup sweep.
type SessionConfig struct {
	CleanupInterval time.Duration
	Retention       time.Duration
}

// NotificationConfig selects the delivery queue and channel providers.
type NotificationConfig struct {
	QueueDriver   string
	Workers       int
	MaxRetries    int
	RetryDelay    time.Duration
	RetryInterval time.Duration
	// StaleAfter is how long a QUEUED or SENDING row may sit before the
	// retry sweep enqueues it again.
	StaleAfter time.Duration

	ResendAPIKey string
	EmailFrom    string

	SMSGatewayURL   string
	SMSGatewayToken string
	SMSSenderID     string

	PushGatewayURL   string
	PushGatewayToken string
}

// StorageConfig configures leave attachment storage.
type StorageConfig struct {
	AttachmentDir    string
	SignedURLSecret  string
	SignedURLTTL     time.Duration
	MaxFileSizeBytes int64
	AllowedMIMEs     []string
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
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
	}

	cfg := &Config{}

	cfg.Env = v.GetString("ENV")
	cfg.Port = v.GetInt("PORT")
	cfg.APIPrefix = v.GetString("API_PREFIX")
	cfg.AutoMigrate = v.GetBool("AUTO_MIGRATE")

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
		Enabled:  v.GetBool("REDIS_ENABLED"),
		Host:     v.GetString("REDIS_HOST"),
		Port:     v.GetInt("REDIS_PORT"),
		Password: v.GetString("REDIS_PASSWORD"),
		DB:       v.GetInt("REDIS_DB"),
	}

	cfg.JWT = JWTConfig{
		Secret:            v.GetString("JWT_SECRET"),
		Expiration:        parseDuration(v.GetString("JWT_EXPIRATION"), 15*time.Minute),
		RefreshExpiration: parseDuration(v.GetString("REFRESH_TOKEN_EXPIRATION"), 7*24*time.Hour),
		Issuer:            v.GetString("JWT_ISSUER"),
		SingleSession:     v.GetBool("JWT_SINGLE_SESSION"),
	}

	cfg.CORS = CORSConfig{AllowedOrigins: splitAndTrim(v.GetString("ALLOWED_ORIGINS"))}

	cfg.Log = LogConfig{
		Level:  v.GetString("LOG_LEVEL"),
		Format: v.GetString("LOG_FORMAT"),
	}

	cfg.RateLimit = RateLimitConfig{
		LoginAttempts: v.GetInt("LOGIN_RATE_LIMIT"),
		LoginWindow:   parseDuration(v.GetString("LOGIN_RATE_WINDOW"), 15*time.Minute),
	}

	cfg.Attendance = AttendanceConfig{
		CacheTTL:           parseDuration(v.GetString("ATTENDANCE_CACHE_TTL"), 10*time.Minute),
		EvaluationWindow:   parseDuration(v.GetString("ATTENDANCE_EVALUATION_WINDOW"), 30*24*time.Hour),
		EvaluationInterval: parseDuration(v.GetString("ATTENDANCE_EVALUATION_INTERVAL"), 24*time.Hour),
		Timezone:           v.GetString("ATTENDANCE_TIMEZONE"),
	}

	cfg.Mess = MessConfig{
		CacheTTL: parseDuration(v.GetString("MESS_CACHE_TTL"), time.Hour),
		Timezone: v.GetString("MESS_TIMEZONE"),
	}

	cfg.Leave = LeaveConfig{
		SLA:           parseDuration(v.GetString("LEAVE_APPROVAL_SLA"), 48*time.Hour),
		SweepInterval: parseDuration(v.GetString("LEAVE_SLA_SWEEP_INTERVAL"), time.Hour),
	}

	cfg.Sessions = SessionConfig{
		CleanupInterval: parseDuration(v.GetString("SESSION_CLEANUP_INTERVAL"), time.Hour),
		Retention:       parseDuration(v.GetString("SESSION_RETENTION"), 30*24*time.Hour),
	}

	driver := strings.ToLower(v.GetString("NOTIFICATION_QUEUE_DRIVER"))
	if driver != QueueDriverRedis {
		driver = QueueDriverMemory
	}
	cfg.Notifications = NotificationConfig{
		QueueDriver:      driver,
		Workers:          v.GetInt("NOTIFICATION_WORKERS"),
		MaxRetries:       v.GetInt("NOTIFICATION_MAX_RETRIES"),
		RetryDelay:       parseDuration(v.GetString("NOTIFICATION_RETRY_DELAY"), 5*time.Second),
		RetryInterval:    parseDuration(v.GetString("NOTIFICATION_RETRY_INTERVAL"), 10*time.Minute),
		StaleAfter:       parseDuration(v.GetString("NOTIFICATION_STALE_AFTER"), 15*time.Minute),
		ResendAPIKey:     v.GetString("RESEND_API_KEY"),
		EmailFrom:        v.GetString("EMAIL_FROM"),
		SMSGatewayURL:    v.GetString("SMS_GATEWAY_URL"),
		SMSGatewayToken:  v.GetString("SMS_GATEWAY_TOKEN"),
		SMSSenderID:      v.GetString("SMS_SENDER_ID"),
		PushGatewayURL:   v.GetString("PUSH_GATEWAY_URL"),
		PushGatewayToken: v.GetString("PUSH_GATEWAY_TOKEN"),
	}

	maxSize := v.GetInt64("ATTACHMENT_MAX_FILE_SIZE")
	if maxSize <= 0 {
		maxSize = 5 * 1024 * 1024
	}
	cfg.Storage = StorageConfig{
		AttachmentDir:    v.GetString("ATTACHMENT_STORAGE_DIR"),
		SignedURLSecret:  v.GetString("ATTACHMENT_SIGNED_URL_SECRET"),
		SignedURLTTL:     parseDuration(v.GetString("ATTACHMENT_SIGNED_URL_TTL"), 30*time.Minute),
		MaxFileSizeBytes: maxSize,
		AllowedMIMEs:     splitAndTrim(v.GetString("ATTACHMENT_ALLOWED_MIME_TYPES")),
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENV", EnvDevelopment)
	v.SetDefault("PORT", 8080)
	v.SetDefault("API_PREFIX", "/api/v1")
	v.SetDefault("AUTO_MIGRATE", false)

	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_NAME", "hostel")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 10)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)

	v.SetDefault("REDIS_ENABLED", false)
	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("JWT_SECRET", "dev_secret")
	v.SetDefault("JWT_EXPIRATION", "15m")
	v.SetDefault("REFRESH_TOKEN_EXPIRATION", "168h")
	v.SetDefault("JWT_ISSUER", "hostel-api")
	v.SetDefault("JWT_SINGLE_SESSION", false)

	v.SetDefault("ALLOWED_ORIGINS", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")

	v.SetDefault("LOGIN_RATE_LIMIT", 10)
	v.SetDefault("LOGIN_RATE_WINDOW", "15m")

	v.SetDefault("ATTENDANCE_CACHE_TTL", "10m")
	v.SetDefault("ATTENDANCE_EVALUATION_WINDOW", "720h")
	v.SetDefault("ATTENDANCE_EVALUATION_INTERVAL", "24h")
	v.SetDefault("ATTENDANCE_TIMEZONE", "UTC")

	v.SetDefault("MESS_CACHE_TTL", "1h")
	v.SetDefault("MESS_TIMEZONE", "UTC")

	v.SetDefault("LEAVE_APPROVAL_SLA", "48h")
	v.SetDefault("LEAVE_SLA_SWEEP_INTERVAL", "1h")

	v.SetDefault("SESSION_CLEANUP_INTERVAL", "1h")
	v.SetDefault("SESSION_RETENTION", "720h")

	v.SetDefault("NOTIFICATION_QUEUE_DRIVER", QueueDriverMemory)
	v.SetDefault("NOTIFICATION_WORKERS", 2)
	v.SetDefault("NOTIFICATION_MAX_RETRIES", 3)
	v.SetDefault("NOTIFICATION_RETRY_DELAY", "5s")
	v.SetDefault("NOTIFICATION_RETRY_INTERVAL", "10m")
	v.SetDefault("NOTIFICATION_STALE_AFTER", "15m")
	v.SetDefault("RESEND_API_KEY", "")
	v.SetDefault("EMAIL_FROM", "Hostel Office <noreply@hostel.local>")
	v.SetDefault("SMS_GATEWAY_URL", "")
	v.SetDefault("SMS_GATEWAY_TOKEN", "")
	v.SetDefault("SMS_SENDER_ID", "HOSTEL")
	v.SetDefault("PUSH_GATEWAY_URL", "")
	v.SetDefault("PUSH_GATEWAY_TOKEN", "")

	v.SetDefault("ATTACHMENT_STORAGE_DIR", "./attachments")
	v.SetDefault("ATTACHMENT_SIGNED_URL_SECRET", "dev_attachment_secret")
	v.SetDefault("ATTACHMENT_SIGNED_URL_TTL", "30m")
	v.SetDefault("ATTACHMENT_MAX_FILE_SIZE", 5*1024*1024)
	v.SetDefault("ATTACHMENT_ALLOWED_MIME_TYPES", "application/pdf,image/jpeg,image/png")
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
