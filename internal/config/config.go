package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"partyapp-referral-engine/internal/database"

	"github.com/joho/godotenv"
)

// Config holds the whole service configuration.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Scylla   ScyllaConfig
	Auth     AuthConfig
	Ranking  RankingConfig
	Log      LogConfig
	AppEnv   string

	// Warnings collects non-fatal problems found while loading, for the
	// caller to log once a logger exists.
	Warnings []string
}

type ServerConfig struct {
	GRPCPort  string
	HTTPPort  string
	PProfPort string
}

type DatabaseConfig struct {
	Dialect database.Dialect
	DSN     string
}

type RedisConfig struct {
	Enabled  bool
	Addr     string
	Password string
	DB       int
}

type ScyllaConfig struct {
	Enabled  bool
	Hosts    []string
	Keyspace string
}

type AuthConfig struct {
	// AdminJWTSecret signs admin bearer tokens. Empty disables admin auth.
	AdminJWTSecret string
	TokenExpiry    time.Duration
}

type RankingConfig struct {
	Cron            string
	HealthCron      string
	CacheTTL        time.Duration
	LeaderboardSize int
}

type LogConfig struct {
	Level      string
	Production bool
}

// LoadConfig reads .env (outside docker) and the process environment.
func LoadConfig() (*Config, error) {
	cfg := &Config{AppEnv: strings.ToLower(getEnv("APP_ENV", "dev"))}

	if cfg.AppEnv != "docker" {
		if err := godotenv.Load(); err != nil {
			cfg.warn("no .env file found, using process environment")
		}
		cfg.AppEnv = strings.ToLower(getEnv("APP_ENV", "dev"))
	}

	dialect, err := database.ParseDialect(getEnv("DB_DRIVER", "mysql"))
	if err != nil {
		return nil, err
	}

	cfg.Server = ServerConfig{
		GRPCPort:  getEnv("GRPC_PORT", "50051"),
		HTTPPort:  getEnv("HTTP_PORT", "8080"),
		PProfPort: getEnv("PPROF_PORT", "6060"),
	}
	cfg.Database = DatabaseConfig{Dialect: dialect, DSN: buildDSN(dialect)}
	cfg.Redis = RedisConfig{
		Enabled:  getEnvAsBool("REDIS_ENABLED", true),
		Addr:     fmt.Sprintf("%s:%s", getEnv("REDIS_HOST", "localhost"), getEnv("REDIS_PORT", "6379")),
		Password: getEnv("REDIS_PASSWORD", ""),
		DB:       getEnvAsInt("REDIS_DB", 0),
	}
	cfg.Scylla = ScyllaConfig{
		Enabled:  getEnvAsBool("SCYLLA_ENABLED", false),
		Hosts:    splitList(getEnv("SCYLLA_HOSTS", "localhost:9042")),
		Keyspace: getEnv("SCYLLA_KEYSPACE", "referral_engine"),
	}
	cfg.Auth = AuthConfig{
		AdminJWTSecret: getEnv("ADMIN_JWT_SECRET", ""),
		TokenExpiry:    cfg.getEnvAsDuration("ADMIN_TOKEN_EXPIRY", 12*time.Hour),
	}
	cfg.Ranking = RankingConfig{
		Cron:            getEnv("RANKING_CRON", "0 2 * * *"),
		HealthCron:      getEnv("HEALTH_CRON", "@every 5m"),
		CacheTTL:        cfg.getEnvAsDuration("LEADERBOARD_CACHE_TTL", 10*time.Minute),
		LeaderboardSize: getEnvAsInt("LEADERBOARD_DEFAULT_LIMIT", 50),
	}
	cfg.Log = LogConfig{
		Level:      getEnv("LOG_LEVEL", "info"),
		Production: cfg.AppEnv == "production" || cfg.AppEnv == "docker",
	}

	if cfg.Auth.AdminJWTSecret == "" {
		cfg.warn("ADMIN_JWT_SECRET is empty, admin endpoints are unauthenticated")
	}
	return cfg, nil
}

func buildDSN(d database.Dialect) string {
	switch d {
	case database.Postgres:
		return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
			getEnv("POSTGRES_USER", "postgres"),
			getEnv("POSTGRES_PASSWORD", "postgres"),
			getEnv("POSTGRES_HOST", "localhost"),
			getEnv("POSTGRES_PORT", "5432"),
			getEnv("POSTGRES_DB", "referrals"),
			getEnv("POSTGRES_SSLMODE", "disable"),
		)
	case database.SQLite:
		return getEnv("SQLITE_PATH", "referrals.db")
	}
	// parseTime lets the driver return DATETIME columns as time.Time.
	return fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?parseTime=true&loc=UTC",
		getEnv("MYSQL_USER", "root"),
		getEnv("MYSQL_PASSWORD", "root"),
		getEnv("MYSQL_HOST", "localhost"),
		getEnv("MYSQL_PORT", "3306"),
		getEnv("MYSQL_DB", "referrals"),
	)
}

func (c *Config) warn(format string, args ...any) {
	c.Warnings = append(c.Warnings, fmt.Sprintf(format, args...))
}

func getEnv(key, defaultVal string) string {
	if val, exists := os.LookupEnv(key); exists && val != "" {
		return val
	}
	return defaultVal
}

func getEnvAsInt(key string, defaultVal int) int {
	if val, err := strconv.Atoi(getEnv(key, "")); err == nil {
		return val
	}
	return defaultVal
}

func getEnvAsBool(key string, defaultVal bool) bool {
	if val, err := strconv.ParseBool(getEnv(key, "")); err == nil {
		return val
	}
	return defaultVal
}

func (c *Config) getEnvAsDuration(key string, defaultVal time.Duration) time.Duration {
	raw := getEnv(key, "")
	if raw == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		c.warn("invalid %s=%q, using %s", key, raw, defaultVal)
		return defaultVal
	}
	return d
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
