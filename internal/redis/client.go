package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"fleetops/models"
)

// DefaultTelemetryTTL bounds how long a drone's last sample is served from the cache.
const DefaultTelemetryTTL = 10 * time.Minute

// RedisClientInterface defines the Redis operations used by our client
type RedisClientInterface interface {
	Ping(ctx context.Context) *redis.StatusCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Get(ctx context.Context, key string) *redis.StringCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
	Close() error
}

// Client caches the latest telemetry sample per drone. It is a gateway sink and
// backs the drone telemetry endpoint.
type Client struct {
	client RedisClientInterface
	ttl    time.Duration
}

// New creates a new Redis client
func New(addr string, ttl time.Duration) (*Client, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return NewWithClient(client, ttl), nil
}

// NewWithClient creates a new Redis client with a custom RedisClientInterface (useful for testing)
func NewWithClient(client RedisClientInterface, ttl time.Duration) *Client {
	if ttl <= 0 {
		ttl = DefaultTelemetryTTL
	}
	return &Client{client: client, ttl: ttl}
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.client.Close()
}

func telemetryKey(droneID int64) string {
	return fmt.Sprintf("fleetops:drone:%d:telemetry", droneID)
}

func (c *Client) Name() string { return "redis" }

// RecordTelemetry stores the sample as the drone's latest. Samples older than the
// mission's snapshot arrived late and are not cached.
func (c *Client) RecordTelemetry(ctx context.Context, m *models.Mission, s models.TelemetrySample) error {
	if m.Telemetry != nil && s.Timestamp.Before(m.Telemetry.Timestamp) {
		return nil
	}
	if s.MissionID == 0 {
		s.MissionID = m.ID
	}
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to marshal telemetry: %w", err)
	}
	return c.client.Set(ctx, telemetryKey(m.DroneID), data, c.ttl).Err()
}

// RecordTransition evicts the cached sample once the mission has ended, so readers
// fall back to the mission's own snapshot.
func (c *Client) RecordTransition(ctx context.Context, m *models.Mission, _ models.MissionStatus, _ string) error {
	if !m.Status.IsTerminal() {
		return nil
	}
	return c.client.Del(ctx, telemetryKey(m.DroneID)).Err()
}

// LatestTelemetry returns the cached sample for a drone, or nil when none is cached.
func (c *Client) LatestTelemetry(ctx context.Context, droneID int64) (*models.TelemetrySample, error) {
	data, err := c.client.Get(ctx, telemetryKey(droneID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get telemetry for drone %d: %w", droneID, err)
	}
	var s models.TelemetrySample
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to unmarshal telemetry for drone %d: %w", droneID, err)
	}
	return &s, nil
}
