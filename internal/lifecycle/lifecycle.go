// Package lifecycle implements the mission status state machine.
package lifecycle

import (
	"fmt"
	"strings"
	"time"

	"fleetops/models"
)

// Command is a lifecycle command issued against a mission.
type Command string

const (
	CommandStart    Command = "start"
	CommandPause    Command = "pause"
	CommandResume   Command = "resume"
	CommandAbort    Command = "abort"
	CommandComplete Command = "complete"
	CommandFail     Command = "fail"
)

// ParseCommand maps a command string to a Command. "cancel" is accepted as abort.
func ParseCommand(s string) (Command, error) {
	switch c := Command(strings.ToLower(strings.TrimSpace(s))); c {
	case CommandStart, CommandPause, CommandResume, CommandAbort, CommandComplete, CommandFail:
		return c, nil
	case "cancel":
		return CommandAbort, nil
	}
	return "", fmt.Errorf("unknown mission command %q", s)
}

// InvalidTransitionError is returned when a command is not legal in the mission's current status.
type InvalidTransitionError struct {
	From    models.MissionStatus
	Command Command
	Detail  string
}

func (e *InvalidTransitionError) Error() string {
	msg := fmt.Sprintf("cannot %s a mission that is %s", e.Command, e.From)
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	return msg
}

// Options tune a single transition.
type Options struct {
	Now time.Time
	// Override allows complete before every waypoint is reached.
	Override bool
	// Reason is recorded on terminal transitions.
	Reason string
}

// Outcome describes what a successful transition did.
type Outcome struct {
	From models.MissionStatus
	To   models.MissionStatus
	// NoOp is set when the command was accepted without changing the mission.
	NoOp bool
	// EnteredActive is set on start and resume; the drone must be (re)acquired.
	EnteredActive bool
	// EnteredTerminal is set when the mission moved into a terminal status.
	EnteredTerminal bool
}

type edge struct {
	from models.MissionStatus
	cmd  Command
}

var transitions = map[edge]models.MissionStatus{
	{models.MissionStatusPlanned, CommandStart}:       models.MissionStatusInProgress,
	{models.MissionStatusInProgress, CommandPause}:    models.MissionStatusPaused,
	{models.MissionStatusPaused, CommandResume}:       models.MissionStatusInProgress,
	{models.MissionStatusPlanned, CommandAbort}:       models.MissionStatusAborted,
	{models.MissionStatusInProgress, CommandAbort}:    models.MissionStatusAborted,
	{models.MissionStatusPaused, CommandAbort}:        models.MissionStatusAborted,
	{models.MissionStatusInProgress, CommandComplete}: models.MissionStatusCompleted,
	{models.MissionStatusPlanned, CommandFail}:        models.MissionStatusFailed,
	{models.MissionStatusInProgress, CommandFail}:     models.MissionStatusFailed,
	{models.MissionStatusPaused, CommandFail}:         models.MissionStatusFailed,
}

// Allowed reports whether cmd is legal from status, ignoring the complete guard.
func Allowed(status models.MissionStatus, cmd Command) bool {
	if status == models.MissionStatusAborted && cmd == CommandAbort {
		return true
	}
	_, ok := transitions[edge{status, cmd}]
	return ok
}

// Transition applies cmd to m. On error m is left untouched.
func Transition(m *models.Mission, cmd Command, opts Options) (Outcome, error) {
	from := m.Status
	if from == models.MissionStatusAborted && cmd == CommandAbort {
		return Outcome{From: from, To: from, NoOp: true}, nil
	}
	to, ok := transitions[edge{from, cmd}]
	if !ok {
		return Outcome{}, &InvalidTransitionError{From: from, Command: cmd}
	}
	if cmd == CommandComplete && !opts.Override && !m.AllWaypointsReached() {
		return Outcome{}, &InvalidTransitionError{
			From:    from,
			Command: cmd,
			Detail:  fmt.Sprintf("%d of %d waypoints reached", m.CurrentWaypointIndex, len(m.Waypoints)),
		}
	}

	now := opts.Now
	if now.IsZero() {
		now = time.Now()
	}
	now = now.UTC()

	m.Status = to
	switch {
	case cmd == CommandStart:
		m.StartTime = &now
		m.EndTime = nil
		m.CurrentWaypointIndex = 0
		m.StatusReason = ""
	case to.IsTerminal():
		m.EndTime = &now
		m.StatusReason = opts.Reason
	}
	m.RefreshProgress()

	return Outcome{
		From:            from,
		To:              to,
		EnteredActive:   to == models.MissionStatusInProgress,
		EnteredTerminal: to.IsTerminal(),
	}, nil
}
