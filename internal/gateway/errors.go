package gateway

import (
	"errors"
	"fmt"
	"time"

	"fleetops/internal/consistency"
	"fleetops/internal/lifecycle"
	"fleetops/models"
)

var (
	ErrNotFound         = errors.New("not found")
	ErrForbidden        = errors.New("forbidden")
	ErrInvalidArgument  = errors.New("invalid argument")
	ErrMissionNotActive = errors.New("mission is not active")
	ErrMissionAttached  = errors.New("mission holds its drone")
)

// StaleStateError is returned when optimistic writes kept losing to concurrent writers.
// MissionID is set for mission writes, DroneID for drone-only writes.
type StaleStateError struct {
	MissionID int64
	DroneID   int64
	Attempts  int
}

func (e *StaleStateError) Error() string {
	if e.MissionID == 0 && e.DroneID != 0 {
		return fmt.Sprintf("drone %d changed concurrently; gave up after %d attempts", e.DroneID, e.Attempts)
	}
	return fmt.Sprintf("mission %d changed concurrently; gave up after %d attempts", e.MissionID, e.Attempts)
}

// TelemetryGapError describes an in-progress mission whose telemetry stopped arriving.
type TelemetryGapError struct {
	MissionID int64
	Last      time.Time
	Timeout   time.Duration
}

func (e *TelemetryGapError) Error() string {
	return fmt.Sprintf("no telemetry for mission %d since %s (timeout %s)", e.MissionID, e.Last.Format(time.RFC3339), e.Timeout)
}

// Error codes shared by every transport.
const (
	CodeInvalidTransition = "invalid_transition"
	CodeDroneUnavailable  = "drone_unavailable"
	CodeStaleState        = "stale_state"
	CodeNotFound          = "not_found"
	CodeForbidden         = "forbidden"
	CodeMissionNotActive  = "mission_not_active"
	CodeMissionAttached   = "mission_attached"
	CodeDroneBusy         = "drone_busy"
	CodeInvalidArgument   = "invalid_argument"
	CodeTelemetryGap      = "telemetry_gap"
	CodeUnavailable       = "unavailable"
	CodeInternal          = "internal"
)

// ErrorCode maps an error returned by the gateway to a stable code.
func ErrorCode(err error) string {
	var (
		ite *lifecycle.InvalidTransitionError
		due *consistency.DroneUnavailableError
		sse *StaleStateError
		tge *TelemetryGapError
	)
	switch {
	case err == nil:
		return ""
	case errors.As(err, &ite):
		return CodeInvalidTransition
	case errors.As(err, &due):
		return CodeDroneUnavailable
	case errors.As(err, &sse):
		return CodeStaleState
	case errors.As(err, &tge):
		return CodeTelemetryGap
	case errors.Is(err, ErrNotFound):
		return CodeNotFound
	case errors.Is(err, ErrForbidden):
		return CodeForbidden
	case errors.Is(err, ErrMissionNotActive):
		return CodeMissionNotActive
	case errors.Is(err, ErrMissionAttached):
		return CodeMissionAttached
	case errors.Is(err, consistency.ErrDroneBusy):
		return CodeDroneBusy
	case errors.Is(err, ErrInvalidArgument), errors.Is(err, consistency.ErrInvalidStatus):
		return CodeInvalidArgument
	}
	return CodeInternal
}

// CommandError is the error part of a CommandResult.
type CommandError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// CommandResult is the outcome of a lifecycle command as shown to clients.
type CommandResult struct {
	Success bool            `json:"success"`
	Mission *models.Mission `json:"mission,omitempty"`
	Error   *CommandError   `json:"error,omitempty"`
}

// ResultOf converts a command's return values into a CommandResult.
func ResultOf(m *models.Mission, err error) CommandResult {
	if err != nil {
		return CommandResult{Error: &CommandError{Code: ErrorCode(err), Message: err.Error()}}
	}
	return CommandResult{Success: true, Mission: m}
}
