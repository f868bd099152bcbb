package grpcserver

import (
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"

	"fleetops/models"
)

const (
	maxPageSize     = 100 // Maximum allowed page size for list operations.
	defaultPageSize = 20  // Default page size for list operations.
	cursorPrefix    = "m:"
)

// MissionRequest addresses one mission. Reason applies to abort, Override to complete.
type MissionRequest struct {
	MissionID int64  `json:"mission_id"`
	Reason    string `json:"reason,omitempty"`
	Override  bool   `json:"override,omitempty"`
}

type MissionResponse struct {
	Mission *models.Mission `json:"mission"`
}

type WaypointsResponse struct {
	Waypoints []models.Waypoint `json:"waypoints"`
}

// ListMissionsRequest filters missions; PageToken comes from a previous NextPageToken.
type ListMissionsRequest struct {
	Statuses  []string `json:"statuses,omitempty"`
	DroneID   int64    `json:"drone_id,omitempty"`
	PageSize  int      `json:"page_size,omitempty"`
	PageToken string   `json:"page_token,omitempty"`
}

type ListMissionsResponse struct {
	Missions      []models.Mission `json:"missions"`
	NextPageToken string           `json:"next_page_token,omitempty"`
}

// SubscribeRequest selects topics: "mission:" for a family, "drone:12" for one topic. Empty selects all.
type SubscribeRequest struct {
	Topics []string `json:"topics,omitempty"`
}

// encodeCursor turns the last returned mission id into an opaque page_token.
func encodeCursor(id int64) string {
	return base64.RawURLEncoding.EncodeToString([]byte(cursorPrefix + strconv.FormatInt(id, 10)))
}

// decodeCursor parses an opaque page_token back into a mission id.
func decodeCursor(token string) (int64, error) {
	b, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return 0, fmt.Errorf("base64: %w", err)
	}
	raw, ok := strings.CutPrefix(string(b), cursorPrefix)
	if !ok {
		return 0, fmt.Errorf("invalid cursor format")
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse id: %w", err)
	}
	return id, nil
}
