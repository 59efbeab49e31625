package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

type Config struct {
	Driver     string
	DBSource   string
	SQLitePath string
	Port       string
	Env        string
	LogLevel   string

	// DefaultGroupID is the system currency group; plan fees only apply there.
	DefaultGroupID     int64
	EmailNotifications bool
	// SystemPersonID signs fee notices. Zero means the fee recipient does.
	SystemPersonID int64
	RecurringFees  bool
}

// Load reads the environment, after merging an optional .env file.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Debug("no .env file found, relying on environment")
	}

	cfg := &Config{
		Driver:     getEnv("STORE_DRIVER", DriverPostgres),
		DBSource:   os.Getenv("DB_SOURCE"),
		SQLitePath: getEnv("SQLITE_PATH", "data/commonledger.db"),
		Port:       getEnv("SERVER_PORT", "8080"),
		Env:        getEnv("ENVIRONMENT", "development"),
		LogLevel:   getEnv("LOG_LEVEL", "info"),
	}

	switch cfg.Driver {
	case DriverPostgres:
		if cfg.DBSource == "" {
			return nil, fmt.Errorf("DB_SOURCE environment variable is required")
		}
	case DriverSQLite:
	default:
		return nil, fmt.Errorf("STORE_DRIVER must be %q or %q, got %q", DriverPostgres, DriverSQLite, cfg.Driver)
	}

	var err error
	if cfg.DefaultGroupID, err = getInt("DEFAULT_GROUP_ID", 0); err != nil {
		return nil, err
	}
	if cfg.SystemPersonID, err = getInt("SYSTEM_PERSON_ID", 0); err != nil {
		return nil, err
	}
	if cfg.EmailNotifications, err = getBool("EMAIL_NOTIFICATIONS", true); err != nil {
		return nil, err
	}
	if cfg.RecurringFees, err = getBool("RECURRING_FEES", false); err != nil {
		return nil, err
	}
	return cfg, nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		return value
	}
	return fallback
}

func getInt(key string, fallback int64) (int64, error) {
	value, ok := os.LookupEnv(key)
	if !ok || value == "" {
		return fallback, nil
	}
	n, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer: %w", key, err)
	}
	return n, nil
}

func getBool(key string, fallback bool) (bool, error) {
	value, ok := os.LookupEnv(key)
	if !ok || value == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		return false, fmt.Errorf("%s must be a boolean: %w", key, err)
	}
	return b, nil
}
