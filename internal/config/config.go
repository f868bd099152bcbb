package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Database  DatabaseConfig
	GRPC      GRPCConfig
	HTTP      HTTPConfig
	Auth      AuthConfig
	Log       LogConfig
	Mission   MissionConfig
	Broadcast BroadcastConfig
	NATS      NATSConfig
	Redis     RedisConfig
	FlightLog FlightLogConfig
	Influx    InfluxConfig
}

// DatabaseConfig contains database-related settings.
type DatabaseConfig struct {
	Path string // SQLite database file path
}

// GRPCConfig contains gRPC server settings.
type GRPCConfig struct {
	Address string // gRPC server listen address (e.g., ":50051")
}

// HTTPConfig contains REST/WebSocket server settings.
type HTTPConfig struct {
	Address string
}

// AuthConfig contains authentication settings.
type AuthConfig struct {
	JWTSecret string // JWT signing secret
	// BootstrapAdmin is created as an admin user on startup when no such user exists.
	BootstrapAdmin string
}

type LogConfig struct {
	Level          string
	GraylogAddress string // host:port of a GELF UDP input; empty disables
}

// MissionConfig tunes the mission engine.
type MissionConfig struct {
	ProximityMeters         float64
	AltitudeToleranceMeters float64 // 0 ignores altitude
	TelemetryTimeout        time.Duration
	HealthCheckInterval     time.Duration
	AutoComplete            bool
	MaxRetries              int
}

type BroadcastConfig struct {
	SubscriberBuffer int
}

// NATSConfig configures the telemetry source and event relay. Empty URL disables both.
type NATSConfig struct {
	URL              string
	TelemetrySubject string
	QueueGroup       string
	EventPrefix      string
}

type RedisConfig struct {
	Addr         string
	TelemetryTTL time.Duration
}

type FlightLogConfig struct {
	DSN string // PostgreSQL DSN
}

type InfluxConfig struct {
	URL    string
	Token  string
	Org    string
	Bucket string
}

const devJWTSecret = "dev-secret-change-me"

// newViper returns a viper instance reading the environment (and .env, if present)
// with every default registered.
func newViper() *viper.Viper {
	// A missing .env is fine.
	_ = godotenv.Load()

	v := viper.New()
	v.AutomaticEnv()

	v.SetDefault("DB_PATH", "fleetops.db")
	v.SetDefault("GRPC_ADDRESS", ":50051")
	v.SetDefault("HTTP_ADDRESS", ":8080")
	v.SetDefault("JWT_SECRET", "")
	v.SetDefault("BOOTSTRAP_ADMIN", "")

	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("GRAYLOG_ADDRESS", "")

	v.SetDefault("MISSION_PROXIMITY_METERS", 15.0)
	v.SetDefault("MISSION_ALTITUDE_TOLERANCE_METERS", 0.0)
	v.SetDefault("MISSION_TELEMETRY_TIMEOUT", "60s")
	v.SetDefault("MISSION_HEALTH_CHECK_INTERVAL", "10s")
	v.SetDefault("MISSION_AUTO_COMPLETE", false)
	v.SetDefault("MISSION_MAX_RETRIES", 3)

	v.SetDefault("BROADCAST_SUBSCRIBER_BUFFER", 256)

	v.SetDefault("NATS_URL", "")
	v.SetDefault("NATS_TELEMETRY_SUBJECT", "fleetops.telemetry.*")
	v.SetDefault("NATS_QUEUE_GROUP", "fleetops")
	v.SetDefault("NATS_EVENT_PREFIX", "fleetops.events")

	v.SetDefault("REDIS_ADDR", "")
	v.SetDefault("REDIS_TELEMETRY_TTL", "10m")

	v.SetDefault("FLIGHTLOG_DSN", "")

	v.SetDefault("INFLUX_URL", "")
	v.SetDefault("INFLUX_TOKEN", "")
	v.SetDefault("INFLUX_ORG", "fleetops")
	v.SetDefault("INFLUX_BUCKET", "telemetry")
	return v
}

func fromViper(v *viper.Viper) (*Config, error) {
	cfg := &Config{
		Database: DatabaseConfig{Path: v.GetString("DB_PATH")},
		GRPC:     GRPCConfig{Address: v.GetString("GRPC_ADDRESS")},
		HTTP:     HTTPConfig{Address: v.GetString("HTTP_ADDRESS")},
		Auth:     AuthConfig{JWTSecret: v.GetString("JWT_SECRET"), BootstrapAdmin: v.GetString("BOOTSTRAP_ADMIN")},
		Log: LogConfig{
			Level:          v.GetString("LOG_LEVEL"),
			GraylogAddress: v.GetString("GRAYLOG_ADDRESS"),
		},
		Mission: MissionConfig{
			ProximityMeters:         v.GetFloat64("MISSION_PROXIMITY_METERS"),
			AltitudeToleranceMeters: v.GetFloat64("MISSION_ALTITUDE_TOLERANCE_METERS"),
			TelemetryTimeout:        v.GetDuration("MISSION_TELEMETRY_TIMEOUT"),
			HealthCheckInterval:     v.GetDuration("MISSION_HEALTH_CHECK_INTERVAL"),
			AutoComplete:            v.GetBool("MISSION_AUTO_COMPLETE"),
			MaxRetries:              v.GetInt("MISSION_MAX_RETRIES"),
		},
		Broadcast: BroadcastConfig{SubscriberBuffer: v.GetInt("BROADCAST_SUBSCRIBER_BUFFER")},
		NATS: NATSConfig{
			URL:              v.GetString("NATS_URL"),
			TelemetrySubject: v.GetString("NATS_TELEMETRY_SUBJECT"),
			QueueGroup:       v.GetString("NATS_QUEUE_GROUP"),
			EventPrefix:      v.GetString("NATS_EVENT_PREFIX"),
		},
		Redis: RedisConfig{
			Addr:         v.GetString("REDIS_ADDR"),
			TelemetryTTL: v.GetDuration("REDIS_TELEMETRY_TTL"),
		},
		FlightLog: FlightLogConfig{DSN: v.GetString("FLIGHTLOG_DSN")},
		Influx: InfluxConfig{
			URL:    v.GetString("INFLUX_URL"),
			Token:  v.GetString("INFLUX_TOKEN"),
			Org:    v.GetString("INFLUX_ORG"),
			Bucket: v.GetString("INFLUX_BUCKET"),
		},
	}

	if cfg.Mission.ProximityMeters <= 0 {
		return nil, fmt.Errorf("MISSION_PROXIMITY_METERS must be positive, got %v", cfg.Mission.ProximityMeters)
	}
	if cfg.Mission.TelemetryTimeout <= 0 || cfg.Mission.HealthCheckInterval <= 0 {
		return nil, fmt.Errorf("MISSION_TELEMETRY_TIMEOUT and MISSION_HEALTH_CHECK_INTERVAL must be positive durations")
	}
	if cfg.Mission.MaxRetries <= 0 {
		return nil, fmt.Errorf("MISSION_MAX_RETRIES must be positive, got %d", cfg.Mission.MaxRetries)
	}
	return cfg, nil
}

// Load loads configuration from environment variables with sensible defaults.
func Load() (*Config, error) {
	cfg, err := fromViper(newViper())
	if err != nil {
		return nil, err
	}

	// Validate critical settings
	if cfg.Auth.JWTSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET environment variable is not set; required for production")
	}
	return cfg, nil
}

// LoadWithDefaults is like Load but uses a safe default for JWT_SECRET in development.
// WARNING: Only use in development! Use Load() in production.
func LoadWithDefaults() (*Config, error) {
	v := newViper()
	v.SetDefault("JWT_SECRET", devJWTSecret)
	return fromViper(v)
}

// String returns a string representation of the config (sensitive values are masked).
func (c *Config) String() string {
	return fmt.Sprintf("Config{DB: %s, gRPC: %s, HTTP: %s, NATS: %s, Redis: %s, FlightLog: %s, Influx: %s, Auth: *** (masked) ***}",
		c.Database.Path, c.GRPC.Address, c.HTTP.Address, maskURLs(c.NATS.URL), c.Redis.Addr, mask(c.FlightLog.DSN), maskURLs(c.Influx.URL))
}

// maskURLs hides the credentials of each URL in a comma-separated list.
func maskURLs(s string) string {
	if s == "" {
		return ""
	}
	parts := strings.Split(s, ",")
	for i, p := range parts {
		u, err := url.Parse(strings.TrimSpace(p))
		if err != nil {
			parts[i] = mask(p)
			continue
		}
		if u.User != nil {
			u.User = url.User("xxxxx")
		}
		parts[i] = u.String()
	}
	return strings.Join(parts, ",")
}

func mask(s string) string {
	if s == "" {
		return ""
	}
	return "***"
}
