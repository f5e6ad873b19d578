package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Defaults applied when the corresponding environment variable is unset.
const (
	DefaultAddr             = ":8080"
	DefaultGRPCAddr         = ":9090"
	DefaultIssuer           = "passport"
	DefaultAudience         = "passport-clients"
	DefaultAccessTTL        = 15 * time.Minute
	DefaultRefreshTTL       = 7 * 24 * time.Hour
	DefaultThrottleLimit    = 5
	DefaultThrottleWindow   = 15 * time.Minute
	DefaultAuditBufferSize  = 256
	DefaultShutdownTimeout  = 10 * time.Second
	DefaultRequestRateBurst = 20
	DefaultRequestRatePerS  = 10
)

// ErrMissingSecret indicates the token signing secret is not configured.
// This is the one configuration fault that must abort startup.
var ErrMissingSecret = errors.New("config: PASSPORT_TOKEN_SECRET is not set")

// Config carries the full runtime configuration of the service.
type Config struct {
	Addr     string
	GRPCAddr string

	PostgresDSN string
	RedisAddr   string

	TokenSecret string
	Issuer      string
	Audience    string
	AccessTTL   time.Duration
	RefreshTTL  time.Duration

	ThrottleLimit  int
	ThrottleWindow time.Duration

	AuditBufferSize int

	RequestRateBurst int
	RequestRatePerS  int

	ShutdownTimeout time.Duration

	LogLevel string
}

// Load reads the configuration from the environment. It fails only on a
// missing signing secret or an unparseable value; everything else falls back
// to defaults.
func Load() (Config, error) {
	cfg := Config{
		Addr:             envString("PASSPORT_ADDR", DefaultAddr),
		GRPCAddr:         envString("PASSPORT_GRPC_ADDR", DefaultGRPCAddr),
		PostgresDSN:      strings.TrimSpace(os.Getenv("PASSPORT_PG_DSN")),
		RedisAddr:        strings.TrimSpace(os.Getenv("PASSPORT_REDIS_ADDR")),
		TokenSecret:      strings.TrimSpace(os.Getenv("PASSPORT_TOKEN_SECRET")),
		Issuer:           envString("PASSPORT_TOKEN_ISSUER", DefaultIssuer),
		Audience:         envString("PASSPORT_TOKEN_AUDIENCE", DefaultAudience),
		AccessTTL:        DefaultAccessTTL,
		RefreshTTL:       DefaultRefreshTTL,
		ThrottleLimit:    DefaultThrottleLimit,
		ThrottleWindow:   DefaultThrottleWindow,
		AuditBufferSize:  DefaultAuditBufferSize,
		RequestRateBurst: DefaultRequestRateBurst,
		RequestRatePerS:  DefaultRequestRatePerS,
		ShutdownTimeout:  DefaultShutdownTimeout,
		LogLevel:         envString("PASSPORT_LOG_LEVEL", "info"),
	}

	if cfg.TokenSecret == "" {
		return Config{}, ErrMissingSecret
	}

	var err error
	if cfg.AccessTTL, err = envMinutes("PASSPORT_ACCESS_TTL_MINUTES", DefaultAccessTTL); err != nil {
		return Config{}, err
	}
	if cfg.RefreshTTL, err = envDays("PASSPORT_REFRESH_TTL_DAYS", DefaultRefreshTTL); err != nil {
		return Config{}, err
	}
	if cfg.ThrottleLimit, err = envInt("PASSPORT_THROTTLE_LIMIT", DefaultThrottleLimit); err != nil {
		return Config{}, err
	}
	if cfg.ThrottleWindow, err = envMinutes("PASSPORT_THROTTLE_WINDOW_MINUTES", DefaultThrottleWindow); err != nil {
		return Config{}, err
	}
	if cfg.AuditBufferSize, err = envInt("PASSPORT_AUDIT_BUFFER", DefaultAuditBufferSize); err != nil {
		return Config{}, err
	}
	if cfg.RequestRateBurst, err = envInt("PASSPORT_RATE_BURST", DefaultRequestRateBurst); err != nil {
		return Config{}, err
	}
	if cfg.RequestRatePerS, err = envInt("PASSPORT_RATE_PER_SECOND", DefaultRequestRatePerS); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func envString(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) (int, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("config: %s must be an integer: %w", key, err)
	}
	if v <= 0 {
		return 0, fmt.Errorf("config: %s must be positive, got %d", key, v)
	}
	return v, nil
}

func envMinutes(key string, fallback time.Duration) (time.Duration, error) {
	v, err := envInt(key, int(fallback/time.Minute))
	if err != nil {
		return 0, err
	}
	return time.Duration(v) * time.Minute, nil
}

func envDays(key string, fallback time.Duration) (time.Duration, error) {
	v, err := envInt(key, int(fallback/(24*time.Hour)))
	if err != nil {
		return 0, err
	}
	return time.Duration(v) * 24 * time.Hour, nil
}
