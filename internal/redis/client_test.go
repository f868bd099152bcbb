package redis

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"fleetops/models"
)

type fakeRedis struct {
	mu     sync.Mutex
	data   map[string]string
	ttls   map[string]time.Duration
	getErr error
	closed bool
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{data: map[string]string{}, ttls: map[string]time.Duration{}}
}

func (f *fakeRedis) Ping(ctx context.Context) *redis.StatusCmd {
	return redis.NewStatusResult("PONG", nil)
}

func (f *fakeRedis) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	switch v := value.(type) {
	case []byte:
		f.data[key] = string(v)
	case string:
		f.data[key] = v
	}
	f.ttls[key] = expiration
	return redis.NewStatusResult("OK", nil)
}

func (f *fakeRedis) Get(ctx context.Context, key string) *redis.StringCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return redis.NewStringResult("", f.getErr)
	}
	v, ok := f.data[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(v, nil)
}

func (f *fakeRedis) Del(ctx context.Context, keys ...string) *redis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, k := range keys {
		if _, ok := f.data[k]; ok {
			delete(f.data, k)
			n++
		}
	}
	return redis.NewIntResult(n, nil)
}

func (f *fakeRedis) Close() error {
	f.closed = true
	return nil
}

func TestClient_RecordAndLatestTelemetry(t *testing.T) {
	fake := newFakeRedis()
	c := NewWithClient(fake, time.Minute)
	ctx := context.Background()

	m := &models.Mission{ID: 4, DroneID: 9, Status: models.MissionStatusInProgress}
	if err := c.RecordTelemetry(ctx, m, models.TelemetrySample{Lat: 1, Lng: 2, BatteryLevel: 64}); err != nil {
		t.Fatalf("RecordTelemetry() error = %v", err)
	}
	if got := fake.ttls[telemetryKey(9)]; got != time.Minute {
		t.Errorf("expected ttl 1m, got %v", got)
	}

	s, err := c.LatestTelemetry(ctx, 9)
	if err != nil {
		t.Fatalf("LatestTelemetry() error = %v", err)
	}
	if s == nil {
		t.Fatal("expected cached sample")
	}
	if s.MissionID != 4 || s.BatteryLevel != 64 || s.Lng != 2 {
		t.Errorf("unexpected sample %+v", s)
	}
}

func TestClient_RecordTelemetry_SkipsLateSample(t *testing.T) {
	fake := newFakeRedis()
	c := NewWithClient(fake, time.Minute)
	ctx := context.Background()

	newer := time.Date(2025, 6, 1, 12, 0, 5, 0, time.UTC)
	m := &models.Mission{ID: 4, DroneID: 9, Status: models.MissionStatusInProgress,
		Telemetry: &models.Telemetry{BatteryLevel: 70, Timestamp: newer}}
	if err := c.RecordTelemetry(ctx, m, models.TelemetrySample{BatteryLevel: 70, Timestamp: newer}); err != nil {
		t.Fatalf("RecordTelemetry() error = %v", err)
	}
	if err := c.RecordTelemetry(ctx, m, models.TelemetrySample{BatteryLevel: 90, Timestamp: newer.Add(-5 * time.Second)}); err != nil {
		t.Fatalf("RecordTelemetry() error = %v", err)
	}

	s, err := c.LatestTelemetry(ctx, 9)
	if err != nil {
		t.Fatalf("LatestTelemetry() error = %v", err)
	}
	if s == nil || s.BatteryLevel != 70 {
		t.Errorf("expected newer sample to stay cached, got %+v", s)
	}
}

func TestClient_LatestTelemetry_Miss(t *testing.T) {
	c := NewWithClient(newFakeRedis(), 0)
	if c.ttl != DefaultTelemetryTTL {
		t.Errorf("expected default ttl, got %v", c.ttl)
	}
	s, err := c.LatestTelemetry(context.Background(), 1)
	if err != nil || s != nil {
		t.Fatalf("expected nil, nil on miss; got %v, %v", s, err)
	}
}

func TestClient_LatestTelemetry_Errors(t *testing.T) {
	fake := newFakeRedis()
	c := NewWithClient(fake, time.Minute)

	fake.data[telemetryKey(2)] = "{broken"
	if _, err := c.LatestTelemetry(context.Background(), 2); err == nil {
		t.Error("expected decode error")
	}

	fake.getErr = errors.New("connection reset")
	if _, err := c.LatestTelemetry(context.Background(), 2); err == nil {
		t.Error("expected get error")
	}
}

func TestClient_RecordTransition_EvictsOnTerminal(t *testing.T) {
	fake := newFakeRedis()
	c := NewWithClient(fake, time.Minute)
	ctx := context.Background()
	m := &models.Mission{ID: 1, DroneID: 3, Status: models.MissionStatusInProgress}
	if err := c.RecordTelemetry(ctx, m, models.TelemetrySample{}); err != nil {
		t.Fatalf("RecordTelemetry() error = %v", err)
	}

	m.Status = models.MissionStatusPaused
	if err := c.RecordTransition(ctx, m, models.MissionStatusInProgress, "olga"); err != nil {
		t.Fatalf("RecordTransition() error = %v", err)
	}
	if _, ok := fake.data[telemetryKey(3)]; !ok {
		t.Fatal("pause must keep the cached sample")
	}

	m.Status = models.MissionStatusCompleted
	if err := c.RecordTransition(ctx, m, models.MissionStatusPaused, "olga"); err != nil {
		t.Fatalf("RecordTransition() error = %v", err)
	}
	if _, ok := fake.data[telemetryKey(3)]; ok {
		t.Fatal("expected sample evicted after completion")
	}
}

func TestClient_Close(t *testing.T) {
	fake := newFakeRedis()
	c := NewWithClient(fake, time.Minute)
	if err := c.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if !fake.closed {
		t.Error("expected underlying client closed")
	}
	if c.Name() != "redis" {
		t.Errorf("unexpected sink name %q", c.Name())
	}
}

func TestNew_Unreachable(t *testing.T) {
	if _, err := New("127.0.0.1:1", time.Minute); err == nil {
		t.Fatal("expected connection error")
	}
}
