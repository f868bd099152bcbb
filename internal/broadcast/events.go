package broadcast

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"fleetops/models"
)

// Kind names an event variant on the wire.
type Kind string

const (
	KindMissionUpdate     Kind = "missionUpdate"
	KindMissionProgress   Kind = "missionProgress"
	KindDroneUpdate       Kind = "droneUpdate"
	KindDroneStatusUpdate Kind = "droneStatusUpdate"
)

// Payload is one of MissionUpdate, MissionProgress, DroneUpdate or DroneStatusUpdate.
type Payload interface {
	Kind() Kind
	Topic() string
	isPayload()
}

// MissionUpdate carries the full mission after any mutation. Deleted is set on the last
// update of a mission that was removed; Mission then holds its final state.
type MissionUpdate struct {
	Mission *models.Mission `json:"mission"`
	Deleted bool            `json:"deleted,omitempty"`
}

// MissionProgress is emitted when telemetry advanced the waypoint index.
type MissionProgress struct {
	MissionID            int64 `json:"mission_id"`
	Progress             int   `json:"progress"`
	CurrentWaypointIndex int   `json:"current_waypoint_index"`
}

// DroneUpdate carries the drone after a change that left its status unchanged.
type DroneUpdate struct {
	Drone *models.Drone `json:"drone"`
}

// DroneStatusUpdate carries the drone after its status changed.
type DroneStatusUpdate struct {
	Drone *models.Drone `json:"drone"`
}

func (MissionUpdate) Kind() Kind     { return KindMissionUpdate }
func (MissionProgress) Kind() Kind   { return KindMissionProgress }
func (DroneUpdate) Kind() Kind       { return KindDroneUpdate }
func (DroneStatusUpdate) Kind() Kind { return KindDroneStatusUpdate }

func (p MissionUpdate) Topic() string     { return MissionTopic(p.Mission.ID) }
func (p MissionProgress) Topic() string   { return MissionTopic(p.MissionID) }
func (p DroneUpdate) Topic() string       { return DroneTopic(p.Drone.ID) }
func (p DroneStatusUpdate) Topic() string { return DroneTopic(p.Drone.ID) }

func (MissionUpdate) isPayload()     {}
func (MissionProgress) isPayload()   {}
func (DroneUpdate) isPayload()       {}
func (DroneStatusUpdate) isPayload() {}

// MissionTopic returns the topic of a mission's events.
func MissionTopic(id int64) string { return "mission:" + strconv.FormatInt(id, 10) }

// DroneTopic returns the topic of a drone's events.
func DroneTopic(id int64) string { return "drone:" + strconv.FormatInt(id, 10) }

// Event is a payload stamped by the broadcaster. Seq increases by one per topic.
type Event struct {
	ID      uuid.UUID
	Kind    Kind
	Topic   string
	Seq     uint64
	Time    time.Time
	Payload Payload
}

// Envelope is the JSON wire form of an Event shared by every push transport.
type Envelope struct {
	Type    Kind            `json:"type"`
	Topic   string          `json:"topic"`
	Seq     uint64          `json:"seq"`
	ID      string          `json:"id"`
	Time    time.Time       `json:"time"`
	Payload json.RawMessage `json:"payload"`
}

// MarshalJSON encodes the event as an Envelope.
func (e Event) MarshalJSON() ([]byte, error) {
	payload, err := json.Marshal(e.Payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", e.Kind, err)
	}
	return json.Marshal(Envelope{
		Type:    e.Kind,
		Topic:   e.Topic,
		Seq:     e.Seq,
		ID:      e.ID.String(),
		Time:    e.Time,
		Payload: payload,
	})
}

// DecodeEnvelope decodes an envelope back into an Event with a typed payload.
func DecodeEnvelope(data []byte) (Event, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Event{}, fmt.Errorf("decode envelope: %w", err)
	}
	id, err := uuid.Parse(env.ID)
	if err != nil {
		return Event{}, fmt.Errorf("decode event id: %w", err)
	}
	var p Payload
	switch env.Type {
	case KindMissionUpdate:
		var v MissionUpdate
		err = json.Unmarshal(env.Payload, &v)
		p = v
	case KindMissionProgress:
		var v MissionProgress
		err = json.Unmarshal(env.Payload, &v)
		p = v
	case KindDroneUpdate:
		var v DroneUpdate
		err = json.Unmarshal(env.Payload, &v)
		p = v
	case KindDroneStatusUpdate:
		var v DroneStatusUpdate
		err = json.Unmarshal(env.Payload, &v)
		p = v
	default:
		return Event{}, fmt.Errorf("unknown event type %q", env.Type)
	}
	if err != nil {
		return Event{}, fmt.Errorf("decode %s payload: %w", env.Type, err)
	}
	return Event{ID: id, Kind: env.Type, Topic: env.Topic, Seq: env.Seq, Time: env.Time, Payload: p}, nil
}

// matches reports whether topic is selected by any filter. A filter ending in ':' selects
// a whole family ("drone:"); any other filter selects exactly one topic ("mission:1").
// No filters selects everything.
func matches(filters []string, topic string) bool {
	if len(filters) == 0 {
		return true
	}
	for _, f := range filters {
		if topic == f || (strings.HasSuffix(f, ":") && strings.HasPrefix(topic, f)) {
			return true
		}
	}
	return false
}
