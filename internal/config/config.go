package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// ServerConfig captures all tunable parameters for the HTTP API process.
// Values are primarily loaded from environment variables with sane defaults
// so the binary can run locally without excessive setup.
type ServerConfig struct {
	HTTPAddr        string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	RedisAddr     string
	RedisPassword string
	RedisGeoKey   string

	KafkaBrokers  []string
	LocationTopic string
	AlertTopic    string

	PGDSN string

	// GeoIndexKind selects the presence index: linear, grid, rtree or redis.
	GeoIndexKind      string
	FreshnessWindow   time.Duration
	CandidateLimit    int
	SearchRadiusKm    float64
	PendingTripTTL    time.Duration
	SweepInterval     time.Duration
	ServiceAreaMinLat float64
	ServiceAreaMinLon float64
	ServiceAreaMaxLat float64
	ServiceAreaMaxLon float64

	TripSpeedKmh     float64
	ApproachSpeedKmh float64

	SOSContactNumber string
	PushEndpoint     string
	AllowedOrigins   []string

	LogLevel      string
	RunMigrations bool
}

func defaultServerConfig() ServerConfig {
	return ServerConfig{
		HTTPAddr:         ":8080",
		ReadTimeout:      5 * time.Second,
		WriteTimeout:     10 * time.Second,
		IdleTimeout:      120 * time.Second,
		ShutdownTimeout:  15 * time.Second,
		RedisGeoKey:      "drivers_geo",
		LocationTopic:    "driver-locations",
		AlertTopic:       "sos-alerts",
		GeoIndexKind:     "linear",
		FreshnessWindow:  10 * time.Minute,
		CandidateLimit:   20,
		SearchRadiusKm:   5,
		PendingTripTTL:   2 * time.Minute,
		SweepInterval:    15 * time.Second,
		TripSpeedKmh:     40,
		ApproachSpeedKmh: 30,
		SOSContactNumber: "112",
		AllowedOrigins:   []string{"*"},
		LogLevel:         "info",
	}
}

func LoadServerConfig() (ServerConfig, error) {
	cfg := defaultServerConfig()
	var errs []error

	setStringFromEnv(&cfg.HTTPAddr, "HTTP_ADDR")
	setDurationFromEnv(&cfg.ReadTimeout, "HTTP_READ_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.WriteTimeout, "HTTP_WRITE_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.IdleTimeout, "HTTP_IDLE_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.ShutdownTimeout, "HTTP_SHUTDOWN_TIMEOUT", &errs)

	cfg.RedisAddr = strings.TrimSpace(os.Getenv("REDIS_ADDR"))
	cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")
	setStringFromEnv(&cfg.RedisGeoKey, "REDIS_GEO_KEY")

	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		cfg.KafkaBrokers = splitAndTrim(brokers)
	}
	setStringFromEnv(&cfg.LocationTopic, "KAFKA_LOCATION_TOPIC")
	setStringFromEnv(&cfg.AlertTopic, "KAFKA_ALERT_TOPIC")

	cfg.PGDSN = os.Getenv("PG_DSN")

	setStringFromEnv(&cfg.GeoIndexKind, "GEO_INDEX")
	setDurationFromEnv(&cfg.FreshnessWindow, "GEO_FRESHNESS_WINDOW", &errs)
	setIntFromEnv(&cfg.CandidateLimit, "GEO_CANDIDATE_LIMIT", &errs)
	setFloatFromEnv(&cfg.SearchRadiusKm, "DISPATCH_RADIUS_KM", &errs)
	setDurationFromEnv(&cfg.PendingTripTTL, "DISPATCH_PENDING_TTL", &errs)
	setDurationFromEnv(&cfg.SweepInterval, "DISPATCH_SWEEP_INTERVAL", &errs)
	setFloatFromEnv(&cfg.ServiceAreaMinLat, "SERVICE_AREA_MIN_LAT", &errs)
	setFloatFromEnv(&cfg.ServiceAreaMinLon, "SERVICE_AREA_MIN_LON", &errs)
	setFloatFromEnv(&cfg.ServiceAreaMaxLat, "SERVICE_AREA_MAX_LAT", &errs)
	setFloatFromEnv(&cfg.ServiceAreaMaxLon, "SERVICE_AREA_MAX_LON", &errs)

	setFloatFromEnv(&cfg.TripSpeedKmh, "ETA_TRIP_SPEED_KMH", &errs)
	setFloatFromEnv(&cfg.ApproachSpeedKmh, "ETA_APPROACH_SPEED_KMH", &errs)

	setStringFromEnv(&cfg.SOSContactNumber, "SOS_CONTACT_NUMBER")
	setStringFromEnv(&cfg.PushEndpoint, "PUSH_ENDPOINT")
	if origins := os.Getenv("CORS_ALLOWED_ORIGINS"); origins != "" {
		cfg.AllowedOrigins = splitAndTrim(origins)
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = strings.ToLower(v)
	}
	cfg.RunMigrations = strings.EqualFold(os.Getenv("MIGRATE"), "true")

	switch cfg.GeoIndexKind {
	case "linear", "grid", "rtree":
	case "redis":
		if cfg.RedisAddr == "" {
			errs = append(errs, fmt.Errorf("GEO_INDEX=redis requires REDIS_ADDR"))
		}
	default:
		errs = append(errs, fmt.Errorf("invalid GEO_INDEX %q", cfg.GeoIndexKind))
	}
	if cfg.CandidateLimit <= 0 {
		errs = append(errs, fmt.Errorf("GEO_CANDIDATE_LIMIT must be > 0"))
	}
	if cfg.SearchRadiusKm <= 0 {
		errs = append(errs, fmt.Errorf("DISPATCH_RADIUS_KM must be > 0"))
	}

	return cfg, errors.Join(errs...)
}

func setDurationFromEnv(target *time.Duration, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = d
	}
}

func setFloatFromEnv(target *float64, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = f
	}
}

func setIntFromEnv(target *int, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		i, err := strconv.Atoi(v)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = i
	}
}

func setStringFromEnv(target *string, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*target = v
	}
}

func splitAndTrim(v string) []string {
	raw := strings.Split(v, ",")
	out := make([]string, 0, len(raw))
	for _, r := range raw {
		r = strings.TrimSpace(r)
		if r == "" {
			continue
		}
		out = append(out, r)
	}
	return out
}
