//go:build integration

package nats

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
	"github.com/testcontainers/testcontainers-go"
	natscontainer "github.com/testcontainers/testcontainers-go/modules/nats"
	"github.com/testcontainers/testcontainers-go/wait"

	"fleetops/internal/broadcast"
	"fleetops/internal/gateway"
	"fleetops/models"
)

// setupNATS starts a NATS container and returns its connection string.
func setupNATS(t *testing.T) string {
	t.Helper()
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}
	ctx := context.Background()
	container, err := natscontainer.Run(ctx, "nats:2.9-alpine",
		testcontainers.WithWaitStrategy(wait.ForLog("Server is ready")),
	)
	if err != nil {
		t.Fatalf("Failed to start NATS container: %v", err)
	}
	t.Cleanup(func() {
		if err := container.Terminate(context.Background()); err != nil {
			t.Logf("Failed to terminate NATS container: %v", err)
		}
	})
	url, err := container.ConnectionString(ctx)
	if err != nil {
		t.Fatalf("Failed to get NATS connection string: %v", err)
	}
	return url
}

func TestClient_Integration_TelemetryRequestReply(t *testing.T) {
	url := setupNATS(t)
	client, err := New(url, zerolog.Nop())
	if err != nil {
		t.Fatalf("Failed to create NATS client: %v", err)
	}
	defer client.Close()

	ing := &fakeIngester{}
	if _, err := client.SubscribeTelemetry("", "fleetops", ing); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if err := client.Conn().Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}

	data, _ := json.Marshal(models.TelemetrySample{Lat: 1, Lng: 2, BatteryLevel: 77})
	msg, err := client.Conn().Request("fleetops.telemetry.42", data, 5*time.Second)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	var res gateway.CommandResult
	if err := json.Unmarshal(msg.Data, &res); err != nil {
		t.Fatalf("decode reply: %v", err)
	}
	if !res.Success || res.Mission == nil || res.Mission.ID != 42 {
		t.Fatalf("unexpected reply: %+v", res)
	}
	if got := ing.received(); len(got) != 1 || got[0].BatteryLevel != 77 {
		t.Fatalf("unexpected samples: %+v", got)
	}
}

func TestClient_Integration_RelayEvents(t *testing.T) {
	url := setupNATS(t)
	client, err := New(url, zerolog.Nop())
	if err != nil {
		t.Fatalf("Failed to create NATS client: %v", err)
	}
	defer client.Close()

	received := make(chan *nats.Msg, 4)
	sub, err := client.Conn().ChanSubscribe("fleetops.events.>", received)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer sub.Unsubscribe()
	if err := client.Conn().Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}

	bus, err := broadcast.New(zerolog.Nop())
	if err != nil {
		t.Fatalf("broadcaster: %v", err)
	}
	defer bus.Close()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = client.RelayEvents(ctx, bus, "") }()

	deadline := time.Now().Add(5 * time.Second)
	for bus.SubscriberCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	bus.Publish(broadcast.MissionProgress{MissionID: 8, Progress: 50, CurrentWaypointIndex: 1})

	select {
	case msg := <-received:
		if msg.Subject != "fleetops.events.missionProgress.8" {
			t.Fatalf("unexpected subject %s", msg.Subject)
		}
		ev, err := broadcast.DecodeEnvelope(msg.Data)
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		if p, ok := ev.Payload.(broadcast.MissionProgress); !ok || p.Progress != 50 {
			t.Fatalf("unexpected payload %+v", ev.Payload)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Timeout waiting for relayed event")
	}
}
