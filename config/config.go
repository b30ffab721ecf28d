// Package config загружает настройки движка из окружения и .env файлов.
package config

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"

	"github.com/physiohub/progress-engine/internal/domain/progress"
)

// Environment is the deployment stage.
type Environment string

const (
	EnvDevelopment Environment = "development"
	EnvStaging     Environment = "staging"
	EnvProduction  Environment = "production"
)

// Config is the complete runtime configuration. The env tags name the
// variable each field is read from and are used in validation messages.
type Config struct {
	App           AppConfig
	Database      DatabaseConfig
	Redis         RedisConfig
	HTTP          HTTPConfig
	Auth          AuthConfig
	Engine        EngineConfig
	Observability ObservabilityConfig

	Features *FeatureFlags `validate:"-"`
}

type AppConfig struct {
	Name        string      `env:"APP_NAME"`
	Environment Environment `env:"APP_ENV" validate:"oneof=development staging production"`
	Debug       bool        `env:"APP_DEBUG"`
	Version     string      `env:"APP_VERSION"`

	// Календарные серии считаются в этом поясе.
	Timezone string         `env:"APP_TIMEZONE"`
	Location *time.Location `validate:"-"`

	ShutdownTimeout time.Duration `env:"APP_SHUTDOWN_TIMEOUT" validate:"gt=0"`
}

// DatabaseConfig: пустой URL включает хранилище в памяти.
type DatabaseConfig struct {
	URL string `env:"DATABASE_URL"`

	MaxConns        int           `env:"DB_MAX_CONNS" validate:"min=1"`
	MinConns        int           `env:"DB_MIN_CONNS" validate:"min=0"`
	ConnMaxLifetime time.Duration `env:"DB_CONN_MAX_LIFETIME"`
	ConnMaxIdleTime time.Duration `env:"DB_CONN_MAX_IDLE_TIME"`
	ConnectTimeout  time.Duration `env:"DB_CONNECT_TIMEOUT" validate:"gt=0"`

	// 0 отключает журнал медленных запросов.
	SlowQuery time.Duration `env:"DB_SLOW_QUERY" validate:"min=0"`

	AutoMigrate bool `env:"DB_AUTO_MIGRATE"`
}

type RedisConfig struct {
	Addr     string `env:"REDIS_ADDR"`
	Password string `env:"REDIS_PASSWORD"`
	DB       int    `env:"REDIS_DB" validate:"min=0"`

	PoolSize     int `env:"REDIS_POOL_SIZE" validate:"min=1"`
	MinIdleConns int `env:"REDIS_MIN_IDLE_CONNS" validate:"min=0"`

	DialTimeout  time.Duration `env:"REDIS_DIAL_TIMEOUT"`
	ReadTimeout  time.Duration `env:"REDIS_READ_TIMEOUT"`
	WriteTimeout time.Duration `env:"REDIS_WRITE_TIMEOUT"`

	// Без Redis: нет кэша, нет распределённой блокировки, события локальные.
	Disabled bool `env:"REDIS_DISABLED"`
}

type HTTPConfig struct {
	Host            string        `env:"HTTP_HOST"`
	Port            int           `env:"HTTP_PORT" validate:"min=1,max=65535"`
	ReadTimeout     time.Duration `env:"HTTP_READ_TIMEOUT"`
	WriteTimeout    time.Duration `env:"HTTP_WRITE_TIMEOUT"`
	IdleTimeout     time.Duration `env:"HTTP_IDLE_TIMEOUT"`
	MaxBodyBytes    int64         `env:"HTTP_MAX_BODY_BYTES" validate:"min=1"`
	AllowedOrigins  []string      `env:"HTTP_ALLOWED_ORIGINS"`
	RateLimitPerMin int           `env:"HTTP_RATE_LIMIT_PER_MIN" validate:"min=0"`
}

type AuthConfig struct {
	JWTSecret string `env:"JWT_SECRET" validate:"required"`
	JWTIssuer string `env:"JWT_ISSUER"`
}

type EngineConfig struct {
	AchievementPolicy progress.AchievementPolicy `env:"ENGINE_ACHIEVEMENT_POLICY"`
	StreakClock       progress.StreakClock       `env:"ENGINE_STREAK_CLOCK"`

	// Попытки цикла оптимистичной блокировки.
	MaxAttempts int `env:"ENGINE_MAX_ATTEMPTS" validate:"min=1"`

	CacheTTL time.Duration `env:"ENGINE_CACHE_TTL"`

	// Сериализация записей одного ученика между инстансами через Redis.
	DistributedLock bool          `env:"ENGINE_DISTRIBUTED_LOCK"`
	LockTTL         time.Duration `env:"ENGINE_LOCK_TTL" validate:"gt=0"`

	EventChannel string `env:"ENGINE_EVENT_CHANNEL" validate:"required"`

	// Уведомление о прерванной серии только от этой длины.
	StreakNotifyMin int `env:"ENGINE_STREAK_NOTIFY_MIN" validate:"min=0"`
}

type ObservabilityConfig struct {
	LogLevel       string `env:"LOG_LEVEL"`
	LogFormat      string `env:"LOG_FORMAT" validate:"oneof=json console"`
	MetricsEnabled bool   `env:"METRICS_ENABLED"`
}

// Load reads the configuration. Each file in envFiles (".env" when none are
// given) is loaded if it exists; variables already set win over file values.
// All problems are reported together.
func Load(envFiles ...string) (*Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		if _, err := os.Stat(f); err != nil {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			return nil, fmt.Errorf("load %s: %w", f, err)
		}
	}
	return load(os.LookupEnv)
}

func load(lookup func(string) (string, bool)) (*Config, error) {
	e := &env{lookup: lookup}

	cfg := &Config{
		App:           loadApp(e),
		Database:      loadDatabase(e),
		Redis:         loadRedis(e),
		HTTP:          loadHTTP(e),
		Auth:          AuthConfig{JWTSecret: e.str("JWT_SECRET", ""), JWTIssuer: e.str("JWT_ISSUER", "")},
		Engine:        loadEngine(e),
		Observability: loadObservability(e),
		Features:      NewFeatureFlags(),
	}
	cfg.Features.apply(e)

	errs := e.errs
	errs = append(errs, cfg.Validate())
	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("configuration errors:\n  - %s", strings.ReplaceAll(err.Error(), "\n", "\n  - "))
	}
	return cfg, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Секции
// ─────────────────────────────────────────────────────────────────────────────

func loadApp(e *env) AppConfig {
	stage := Environment(strings.ToLower(e.str("APP_ENV", string(EnvDevelopment))))
	tz := e.str("APP_TIMEZONE", "UTC")

	loc, err := time.LoadLocation(tz)
	if err != nil {
		e.fail("APP_TIMEZONE", "unknown time zone %q", tz)
		loc = time.UTC
	}

	return AppConfig{
		Name:            e.str("APP_NAME", "progress-engine"),
		Environment:     stage,
		Debug:           e.boolean("APP_DEBUG", stage == EnvDevelopment),
		Version:         e.str("APP_VERSION", "0.1.0"),
		Timezone:        tz,
		Location:        loc,
		ShutdownTimeout: e.duration("APP_SHUTDOWN_TIMEOUT", 30*time.Second),
	}
}

// loadDatabase собирает URL из DB_* если DATABASE_URL не задан.
func loadDatabase(e *env) DatabaseConfig {
	url := e.str("DATABASE_URL", "")
	if host, user := e.str("DB_HOST", ""), e.str("DB_USER", ""); url == "" && host != "" && user != "" {
		url = fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
			user, e.str("DB_PASSWORD", ""), host,
			e.str("DB_PORT", "5432"), e.str("DB_NAME", "progress"), e.str("DB_SSLMODE", "disable"))
	}

	return DatabaseConfig{
		URL:             url,
		MaxConns:        e.integer("DB_MAX_CONNS", 10),
		MinConns:        e.integer("DB_MIN_CONNS", 2),
		ConnMaxLifetime: e.duration("DB_CONN_MAX_LIFETIME", time.Hour),
		ConnMaxIdleTime: e.duration("DB_CONN_MAX_IDLE_TIME", 30*time.Minute),
		ConnectTimeout:  e.duration("DB_CONNECT_TIMEOUT", 10*time.Second),
		SlowQuery:       e.duration("DB_SLOW_QUERY", 200*time.Millisecond),
		AutoMigrate:     e.boolean("DB_AUTO_MIGRATE", false),
	}
}

func loadRedis(e *env) RedisConfig {
	return RedisConfig{
		Addr:         e.str("REDIS_ADDR", "localhost:6379"),
		Password:     e.str("REDIS_PASSWORD", ""),
		DB:           e.integer("REDIS_DB", 0),
		PoolSize:     e.integer("REDIS_POOL_SIZE", 10),
		MinIdleConns: e.integer("REDIS_MIN_IDLE_CONNS", 2),
		DialTimeout:  e.duration("REDIS_DIAL_TIMEOUT", 5*time.Second),
		ReadTimeout:  e.duration("REDIS_READ_TIMEOUT", 3*time.Second),
		WriteTimeout: e.duration("REDIS_WRITE_TIMEOUT", 3*time.Second),
		Disabled:     e.boolean("REDIS_DISABLED", false),
	}
}

func loadHTTP(e *env) HTTPConfig {
	return HTTPConfig{
		Host:            e.str("HTTP_HOST", "0.0.0.0"),
		Port:            e.integer("HTTP_PORT", 8080),
		ReadTimeout:     e.duration("HTTP_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:    e.duration("HTTP_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:     e.duration("HTTP_IDLE_TIMEOUT", time.Minute),
		MaxBodyBytes:    int64(e.integer("HTTP_MAX_BODY_BYTES", 64<<10)),
		AllowedOrigins:  e.list("HTTP_ALLOWED_ORIGINS", []string{"*"}),
		RateLimitPerMin: e.integer("HTTP_RATE_LIMIT_PER_MIN", 0),
	}
}

func loadEngine(e *env) EngineConfig {
	policy, err := progress.ParseAchievementPolicy(e.str("ENGINE_ACHIEVEMENT_POLICY", string(progress.PolicyThreshold)))
	if err != nil {
		e.fail("ENGINE_ACHIEVEMENT_POLICY", "%v", err)
	}
	clock, err := progress.ParseStreakClock(e.str("ENGINE_STREAK_CLOCK", string(progress.StreakClockElapsed)))
	if err != nil {
		e.fail("ENGINE_STREAK_CLOCK", "%v", err)
	}

	return EngineConfig{
		AchievementPolicy: policy,
		StreakClock:       clock,
		MaxAttempts:       e.integer("ENGINE_MAX_ATTEMPTS", 5),
		CacheTTL:          e.duration("ENGINE_CACHE_TTL", 5*time.Minute),
		DistributedLock:   e.boolean("ENGINE_DISTRIBUTED_LOCK", false),
		LockTTL:           e.duration("ENGINE_LOCK_TTL", 10*time.Second),
		EventChannel:      e.str("ENGINE_EVENT_CHANNEL", "progress:events"),
		StreakNotifyMin:   e.integer("ENGINE_STREAK_NOTIFY_MIN", 3),
	}
}

func loadObservability(e *env) ObservabilityConfig {
	return ObservabilityConfig{
		LogLevel:       e.str("LOG_LEVEL", "info"),
		LogFormat:      strings.ToLower(e.str("LOG_FORMAT", "json")),
		MetricsEnabled: e.boolean("METRICS_ENABLED", true),
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// Проверка
// ─────────────────────────────────────────────────────────────────────────────

var validate = func() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string { return f.Tag.Get("env") })
	return v
}()

// Validate checks field ranges declared in the struct tags and the rules
// that span sections.
func (c *Config) Validate() error {
	var errs []error

	var verrs validator.ValidationErrors
	if err := validate.Struct(c); errors.As(err, &verrs) {
		for _, fe := range verrs {
			errs = append(errs, errors.New(describe(fe)))
		}
	} else if err != nil {
		errs = append(errs, err)
	}

	if c.IsProduction() && c.Auth.JWTSecret != "" && len(c.Auth.JWTSecret) < 32 {
		errs = append(errs, errors.New("JWT_SECRET must be at least 32 bytes in production"))
	}
	if c.IsProduction() && c.Database.URL == "" {
		errs = append(errs, errors.New("DATABASE_URL is required in production"))
	}
	if c.Database.MinConns > c.Database.MaxConns {
		errs = append(errs, errors.New("DB_MIN_CONNS must not exceed DB_MAX_CONNS"))
	}
	if c.Engine.DistributedLock && c.Redis.Disabled {
		errs = append(errs, errors.New("ENGINE_DISTRIBUTED_LOCK requires Redis"))
	}
	return errors.Join(errs...)
}

func describe(fe validator.FieldError) string {
	name := fe.Field()
	switch fe.Tag() {
	case "required":
		return name + " is required"
	case "min":
		return fmt.Sprintf("%s must be at least %s", name, fe.Param())
	case "max":
		return fmt.Sprintf("%s must be at most %s", name, fe.Param())
	case "gt":
		return name + " must be positive"
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", name, strings.ReplaceAll(fe.Param(), " ", ", "))
	}
	return fmt.Sprintf("%s is invalid (%s)", name, fe.Tag())
}

func (c *Config) IsDevelopment() bool { return c.App.Environment == EnvDevelopment }

func (c *Config) IsProduction() bool { return c.App.Environment == EnvProduction }

// UseInMemoryStore reports whether no database is configured.
func (c *Config) UseInMemoryStore() bool { return c.Database.URL == "" }
