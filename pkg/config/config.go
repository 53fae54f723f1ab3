package config

import (
	"errors"
	"fmt"
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

	Database  DatabaseConfig
	Redis     RedisConfig
	JWT       JWTConfig
	CORS      CORSConfig
	Log       LogConfig
	Cache     CacheConfig
	Scheduler SchedulerConfig
	Exports   ExportsConfig
}

type DatabaseConfig struct {
	Host            string
	Port            int
	User            string
	Password        string
	Name            string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

type RedisConfig struct {
	Host      string
	Port      int
	Password  string
	DB        int
	KeyPrefix string
}

type JWTConfig struct {
	Secret     string
	Expiration time.Duration
}

type CORSConfig struct {
	AllowedOrigins []string
}

type LogConfig struct {
	Level  string
	Format string
}

// CacheConfig tunes cached reads of run status and schedule entries.
type CacheConfig struct {
	RunStatusTTL time.Duration
	EntriesTTL   time.Duration
}

// SchedulerConfig controls the background scheduling runs.
type SchedulerConfig struct {
	Enabled                   bool
	WorkerConcurrency         int
	WorkerRetries             int
	QueueBuffer               int
	DefaultIterations         int
	MaxIterations             int
	Parallelism               int
	DefaultStrictness         int
	ProgressPersistInterval   time.Duration
	WorkingWeekdays           []time.Weekday
	ShortenPreHoliday         bool
	RespectProductionCalendar bool
}

// ExportsConfig configures timetable export rendering and signed downloads.
type ExportsConfig struct {
	Enabled         bool
	StorageDir      string
	SignedURLSecret string
	SignedURLTTL    time.Duration
	CleanupInterval time.Duration
	RetainFor       time.Duration
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
		Host:            v.GetString("DB_HOST"),
		Port:            v.GetInt("DB_PORT"),
		User:            v.GetString("DB_USER"),
		Password:        v.GetString("DB_PASSWORD"),
		Name:            v.GetString("DB_NAME"),
		SSLMode:         v.GetString("DB_SSL_MODE"),
		MaxOpenConns:    v.GetInt("DB_MAX_OPEN_CONNS"),
		MaxIdleConns:    v.GetInt("DB_MAX_IDLE_CONNS"),
		ConnMaxLifetime: parseDuration(v.GetString("DB_CONN_MAX_LIFETIME"), 30*time.Minute),
	}

	cfg.Redis = RedisConfig{
		Host:      v.GetString("REDIS_HOST"),
		Port:      v.GetInt("REDIS_PORT"),
		Password:  v.GetString("REDIS_PASSWORD"),
		DB:        v.GetInt("REDIS_DB"),
		KeyPrefix: v.GetString("REDIS_KEY_PREFIX"),
	}

	cfg.JWT = JWTConfig{
		Secret:     v.GetString("JWT_SECRET"),
		Expiration: parseDuration(v.GetString("JWT_EXPIRATION"), 24*time.Hour),
	}

	cfg.CORS = CORSConfig{AllowedOrigins: splitAndTrim(v.GetString("ALLOWED_ORIGINS"))}

	cfg.Log = LogConfig{
		Level:  v.GetString("LOG_LEVEL"),
		Format: v.GetString("LOG_FORMAT"),
	}

	cfg.Cache = CacheConfig{
		RunStatusTTL: parseDuration(v.GetString("CACHE_RUN_STATUS_TTL"), 10*time.Minute),
		EntriesTTL:   parseDuration(v.GetString("CACHE_ENTRIES_TTL"), 2*time.Minute),
	}

	weekdays, err := parseWeekdays(v.GetString("SCHEDULER_WORKING_WEEKDAYS"))
	if err != nil {
		return nil, err
	}
	cfg.Scheduler = SchedulerConfig{
		Enabled:                   v.GetBool("ENABLE_SCHEDULER"),
		WorkerConcurrency:         v.GetInt("SCHEDULER_WORKER_CONCURRENCY"),
		WorkerRetries:             v.GetInt("SCHEDULER_WORKER_RETRIES"),
		QueueBuffer:               v.GetInt("SCHEDULER_QUEUE_BUFFER"),
		DefaultIterations:         v.GetInt("SCHEDULER_DEFAULT_ITERATIONS"),
		MaxIterations:             v.GetInt("SCHEDULER_MAX_ITERATIONS"),
		Parallelism:               v.GetInt("SCHEDULER_PARALLELISM"),
		DefaultStrictness:         v.GetInt("SCHEDULER_DEFAULT_STRICTNESS"),
		ProgressPersistInterval:   parseDuration(v.GetString("SCHEDULER_PROGRESS_PERSIST_INTERVAL"), 2*time.Second),
		WorkingWeekdays:           weekdays,
		ShortenPreHoliday:         v.GetBool("SCHEDULER_SHORTEN_PRE_HOLIDAY"),
		RespectProductionCalendar: v.GetBool("SCHEDULER_RESPECT_PRODUCTION_CALENDAR"),
	}

	cfg.Exports = ExportsConfig{
		Enabled:         v.GetBool("ENABLE_EXPORTS"),
		StorageDir:      v.GetString("EXPORTS_STORAGE_DIR"),
		SignedURLSecret: v.GetString("EXPORTS_SIGNED_URL_SECRET"),
		SignedURLTTL:    parseDuration(v.GetString("EXPORTS_SIGNED_URL_TTL"), 24*time.Hour),
		CleanupInterval: parseDuration(v.GetString("EXPORTS_CLEANUP_INTERVAL"), time.Hour),
		RetainFor:       parseDuration(v.GetString("EXPORTS_RETAIN_FOR"), 72*time.Hour),
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
	v.SetDefault("DB_NAME", "univ_scheduler")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 10)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)
	v.SetDefault("DB_CONN_MAX_LIFETIME", "30m")

	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("REDIS_KEY_PREFIX", "univsched:")

	v.SetDefault("JWT_SECRET", "dev_secret")
	v.SetDefault("JWT_EXPIRATION", "24h")

	v.SetDefault("ALLOWED_ORIGINS", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")

	v.SetDefault("CACHE_RUN_STATUS_TTL", "10m")
	v.SetDefault("CACHE_ENTRIES_TTL", "2m")

	v.SetDefault("ENABLE_SCHEDULER", true)
	v.SetDefault("SCHEDULER_WORKER_CONCURRENCY", 1)
	v.SetDefault("SCHEDULER_WORKER_RETRIES", 1)
	v.SetDefault("SCHEDULER_QUEUE_BUFFER", 32)
	v.SetDefault("SCHEDULER_DEFAULT_ITERATIONS", 10)
	v.SetDefault("SCHEDULER_MAX_ITERATIONS", 200)
	v.SetDefault("SCHEDULER_PARALLELISM", 0)
	v.SetDefault("SCHEDULER_DEFAULT_STRICTNESS", 5)
	v.SetDefault("SCHEDULER_PROGRESS_PERSIST_INTERVAL", "2s")
	v.SetDefault("SCHEDULER_WORKING_WEEKDAYS", "mon,tue,wed,thu,fri,sat")
	v.SetDefault("SCHEDULER_SHORTEN_PRE_HOLIDAY", true)
	v.SetDefault("SCHEDULER_RESPECT_PRODUCTION_CALENDAR", true)

	v.SetDefault("ENABLE_EXPORTS", true)
	v.SetDefault("EXPORTS_STORAGE_DIR", "./exports")
	v.SetDefault("EXPORTS_SIGNED_URL_SECRET", "dev_exports_secret")
	v.SetDefault("EXPORTS_SIGNED_URL_TTL", "24h")
	v.SetDefault("EXPORTS_CLEANUP_INTERVAL", "1h")
	v.SetDefault("EXPORTS_RETAIN_FOR", "72h")
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

var weekdayNames = map[string]time.Weekday{
	"sun": time.Sunday,
	"mon": time.Monday,
	"tue": time.Tuesday,
	"wed": time.Wednesday,
	"thu": time.Thursday,
	"fri": time.Friday,
	"sat": time.Saturday,
}

// ParseWeekdays reads a comma separated list of three-letter weekday names.
func ParseWeekdays(raw string) ([]time.Weekday, error) {
	return parseWeekdays(raw)
}

func parseWeekdays(raw string) ([]time.Weekday, error) {
	names := splitAndTrim(raw)
	days := make([]time.Weekday, 0, len(names))
	seen := make(map[time.Weekday]struct{}, len(names))
	for _, name := range names {
		key := strings.ToLower(name)
		if len(key) > 3 {
			key = key[:3]
		}
		day, ok := weekdayNames[key]
		if !ok {
			return nil, fmt.Errorf("unknown weekday %q", name)
		}
		if _, dup := seen[day]; dup {
			continue
		}
		seen[day] = struct{}{}
		days = append(days, day)
	}
	return days, nil
}
