package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

type AppConfig struct {
	HTTPPort    string
	PostgresDSN string
	RedisURL    string

	// InstanceID identifies this control-plane instance in the
	// primacy lease.
	InstanceID string

	// Tenants swept when the tenants table is empty.
	Tenants []string

	// SweepCron is the per-tenant cycle cadence, seconds granularity.
	SweepCron    string
	CycleTimeout time.Duration

	BaseInterval   time.Duration
	MaxRounds      int
	ReaperBatchCap int
	PrimacyTTL     time.Duration
}

func Load() AppConfig {
	port := os.Getenv("HTTP_PORT")
	if port == "" {
		port = "8080"
	}

	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		dsn = "host=localhost port=5432 user=fleet dbname=fleetdispatch sslmode=disable"
	}

	redisURL := os.Getenv("REDIS_URL")
	if redisURL == "" {
		redisURL = "redis://localhost:6379"
	}

	instanceID := os.Getenv("INSTANCE_ID")
	if instanceID == "" {
		instanceID = uuid.NewString()
	}

	var tenants []string
	for _, t := range strings.Split(os.Getenv("TENANTS"), ",") {
		if trimmed := strings.TrimSpace(t); trimmed != "" {
			tenants = append(tenants, trimmed)
		}
	}
	if len(tenants) == 0 {
		tenants = []string{"default"}
	}

	sweepCron := os.Getenv("SWEEP_CRON")
	if sweepCron == "" {
		sweepCron = "*/10 * * * * *"
	}

	return AppConfig{
		HTTPPort:       port,
		PostgresDSN:    dsn,
		RedisURL:       redisURL,
		InstanceID:     instanceID,
		Tenants:        tenants,
		SweepCron:      sweepCron,
		CycleTimeout:   durationEnv("CYCLE_TIMEOUT", 8*time.Second),
		BaseInterval:   durationEnv("BASE_BROADCAST_INTERVAL", 60*time.Second),
		MaxRounds:      intEnv("MAX_BROADCAST_ROUNDS", 5),
		ReaperBatchCap: intEnv("REAPER_BATCH_CAP", 100),
		PrimacyTTL:     durationEnv("PRIMACY_TTL", 30*time.Second),
	}
}

func durationEnv(name string, def time.Duration) time.Duration {
	if v := os.Getenv(name); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			return d
		}
	}
	return def
}

func intEnv(name string, def int) int {
	if v := os.Getenv(name); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 {
			return parsed
		}
	}
	return def
}
