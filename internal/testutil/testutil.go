package testutil

import (
	"context"
	"database/sql"
	"testing"

	jwt "github.com/golang-jwt/jwt/v5"
	"google.golang.org/grpc/metadata"

	"fleetops/internal/db"
	"fleetops/models"
	"fleetops/repository"
)

// OpenInMemoryDB opens an in-memory SQLite database and applies migrations.
// The database is closed via t.Cleanup. Use a distinct name per test.
func OpenInMemoryDB(t *testing.T, name string) *sql.DB {
	t.Helper()
	d, err := db.Open("file:" + name + "?mode=memory&cache=shared")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { _ = d.Close() })
	return d
}

// NewStore returns a Store over a fresh in-memory database.
func NewStore(t *testing.T, name string) *repository.Store {
	t.Helper()
	return repository.NewStore(OpenInMemoryDB(t, name))
}

// SeedDrone inserts an idle drone with a full battery.
func SeedDrone(t *testing.T, s *repository.Store, serial string) *models.Drone {
	t.Helper()
	d, err := s.Drones.Create(context.Background(), &models.Drone{Name: serial, SerialNumber: serial, BatteryLevel: 100})
	if err != nil {
		t.Fatalf("seed drone: %v", err)
	}
	return d
}

// SeedMission inserts a planned mission for droneID whose waypoints lie ~1.1 km apart along the equator.
func SeedMission(t *testing.T, s *repository.Store, droneID int64, waypoints int) *models.Mission {
	t.Helper()
	m := &models.Mission{Name: "survey", DroneID: droneID}
	for i := 0; i < waypoints; i++ {
		m.Waypoints = append(m.Waypoints, models.Waypoint{Order: i, Lat: 0, Lng: float64(i) * 0.01, Altitude: 50})
	}
	if _, err := s.Missions.Create(context.Background(), m); err != nil {
		t.Fatalf("seed mission: %v", err)
	}
	return m
}

// GenerateJWTHS256 returns a signed JWT string with minimal claims used by the app.
func GenerateJWTHS256(t *testing.T, secret, name, kind string) string {
	t.Helper()
	claims := jwt.MapClaims{
		"name": name,
		"kind": kind,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	s, err := token.SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return s
}

// CtxWithBearer returns a context containing gRPC metadata Authorization header with the given token.
func CtxWithBearer(ctx context.Context, token string) context.Context {
	md := metadata.Pairs("authorization", "Bearer "+token)
	return metadata.NewIncomingContext(ctx, md)
}
