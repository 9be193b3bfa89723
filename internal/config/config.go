package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port                   string
	AllowedOrigin          string
	DatabaseURL            string
	RedisAddr              string
	RedisPassword          string
	RedisDB                int
	StoreID                string
	BaseCurrency           string
	CatalogCacheTTLSeconds int
	RequestLockTTLSeconds  int
	AuthSecret             string
	AccessTokenTTLMinutes  int
	LogLevel               string
	MetricsEnabled         bool
	ReturnCostPolicy       string
	SeedDemoData           bool
}

// Load reads configuration from the environment. A .env file in the working
// directory is applied first when present; real environment values win.
func Load() Config {
	_ = godotenv.Load()

	redisDB, _ := strconv.Atoi(getEnv("REDIS_DB", "0"))
	cacheTTL := positiveInt("CATALOG_CACHE_TTL_SECONDS", 60)
	lockTTL := positiveInt("REQUEST_LOCK_TTL_SECONDS", 30)
	tokenTTL := positiveInt("ACCESS_TOKEN_TTL_MINUTES", 480)
	metricsEnabled, err := strconv.ParseBool(getEnv("METRICS_ENABLED", "true"))
	if err != nil {
		metricsEnabled = true
	}
	seedDemo, _ := strconv.ParseBool(getEnv("SEED_DEMO_DATA", "false"))

	return Config{
		Port:                   getEnv("PORT", "8080"),
		AllowedOrigin:          getEnv("ALLOWED_ORIGIN", "http://127.0.0.1:3000"),
		DatabaseURL:            os.Getenv("DATABASE_URL"),
		RedisAddr:              os.Getenv("REDIS_ADDR"),
		RedisPassword:          os.Getenv("REDIS_PASSWORD"),
		RedisDB:                redisDB,
		StoreID:                getEnv("DEFAULT_STORE_ID", "main-store"),
		BaseCurrency:           strings.ToUpper(getEnv("BASE_CURRENCY", "DOP")),
		CatalogCacheTTLSeconds: cacheTTL,
		RequestLockTTLSeconds:  lockTTL,
		AuthSecret:             strings.TrimSpace(os.Getenv("AUTH_SECRET")),
		AccessTokenTTLMinutes:  tokenTTL,
		LogLevel:               strings.ToLower(getEnv("LOG_LEVEL", "info")),
		MetricsEnabled:         metricsEnabled,
		ReturnCostPolicy:       strings.ToLower(getEnv("RETURN_COST_POLICY", "explicit,average,sale_price")),
		SeedDemoData:           seedDemo,
	}
}

func (c Config) Address() string {
	return fmt.Sprintf(":%s", c.Port)
}

func (c Config) CatalogCacheTTL() time.Duration {
	return time.Duration(c.CatalogCacheTTLSeconds) * time.Second
}

func (c Config) RequestLockTTL() time.Duration {
	return time.Duration(c.RequestLockTTLSeconds) * time.Second
}

func (c Config) AccessTokenTTL() time.Duration {
	return time.Duration(c.AccessTokenTTLMinutes) * time.Minute
}

func positiveInt(key string, fallback int) int {
	val, err := strconv.Atoi(getEnv(key, strconv.Itoa(fallback)))
	if err != nil || val < 1 {
		return fallback
	}
	return val
}

func getEnv(key string, fallback string) string {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	return val
}
