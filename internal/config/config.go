package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type DBConfig struct {
	// "sqlite" (локальная БД терминала, по умолчанию) или "postgres".
	Driver string

	// sqlite
	Path string

	// postgres
	Host            string
	Port            int
	User            string
	Password        string
	Name            string
	SSLMode         string
	TimeZone        string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifeTime int // минут
}

// Статический пул слотов: категория → размер.
type SlotPool struct {
	DineIn   int
	TakeAway int
	Delivery int
}

type SyncConfig struct {
	BaseURL     string
	APIToken    string
	Interval    time.Duration
	MaxAttempts int
	BackoffBase time.Duration
	BackoffCap  time.Duration
	// Пауза между заказами в одном проходе очереди.
	Pause time.Duration
}

type Config struct {
	DB DBConfig

	BranchID   string
	TerminalID string

	TaxRate float64

	SlotPool SlotPool

	// Пороги срочности, минуты.
	UrgencyWarnMin    int
	UrgencyOverdueMin int

	Sync SyncConfig

	// Ретеншн завершённых заказов, дней.
	RetentionDays int
}

func Load() (*Config, error) {
	cfg := &Config{
		DB: DBConfig{
			Driver:          getEnv("DB_DRIVER", "sqlite"),
			Path:            getEnv("DB_PATH", "pos.db"),
			Host:            getEnv("DB_HOST", "localhost"),
			User:            getEnv("DB_USER", "pos"),
			Password:        getEnv("DB_PASSWORD", "pos"),
			Name:            getEnv("DB_NAME", "pos_db"),
			SSLMode:         getEnv("DB_SSLMODE", "disable"),
			TimeZone:        getEnv("DB_TIMEZONE", "UTC"),
			Port:            getEnvInt("DB_PORT", 5432),
			MaxOpenConns:    getEnvInt("DB_MAX_OPEN_CONNS", 5),
			MaxIdleConns:    getEnvInt("DB_MAX_IDLE_CONNS", 2),
			ConnMaxLifeTime: getEnvInt("DB_CONN_MAX_LIFETIME_MIN", 30),
		},
		BranchID:   getEnv("POS_BRANCH_ID", ""),
		TerminalID: getEnv("POS_TERMINAL_ID", ""),
		TaxRate:    getEnvFloat("POS_TAX_RATE", 0),
		SlotPool: SlotPool{
			DineIn:   getEnvInt("SLOT_POOL_DINE_IN", 8),
			TakeAway: getEnvInt("SLOT_POOL_TAKE_AWAY", 4),
			Delivery: getEnvInt("SLOT_POOL_DELIVERY", 2),
		},
		UrgencyWarnMin:    getEnvInt("URGENCY_WARN_MIN", 10),
		UrgencyOverdueMin: getEnvInt("URGENCY_OVERDUE_MIN", 20),
		Sync: SyncConfig{
			BaseURL:     getEnv("SYNC_BASE_URL", ""),
			APIToken:    getEnv("SYNC_API_TOKEN", ""),
			Interval:    time.Duration(getEnvInt("SYNC_INTERVAL_SEC", 60)) * time.Second,
			MaxAttempts: getEnvInt("SYNC_MAX_ATTEMPTS", 3),
			BackoffBase: time.Duration(getEnvInt("SYNC_BACKOFF_BASE_MS", 1000)) * time.Millisecond,
			BackoffCap:  time.Duration(getEnvInt("SYNC_BACKOFF_CAP_MS", 30000)) * time.Millisecond,
			Pause:       time.Duration(getEnvInt("SYNC_PAUSE_MS", 250)) * time.Millisecond,
		},
		RetentionDays: getEnvInt("RETENTION_DAYS", 90),
	}

	// минимальная валидация
	if cfg.DB.Driver != "sqlite" && cfg.DB.Driver != "postgres" {
		return nil, fmt.Errorf("invalid DB config: unknown driver %q", cfg.DB.Driver)
	}
	if cfg.UrgencyOverdueMin <= cfg.UrgencyWarnMin {
		return nil, fmt.Errorf("invalid urgency thresholds: overdue %d <= warn %d",
			cfg.UrgencyOverdueMin, cfg.UrgencyWarnMin)
	}
	return cfg, nil
}

func getEnv(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		i, err := strconv.Atoi(v)
		if err == nil {
			return i
		}
	}
	return def
}

func getEnvFloat(key string, def float64) float64 {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err == nil {
			return f
		}
	}
	return def
}
