package httpapi

import (
	"net/http"
	"strconv"
	"strings"

	"fleetops/internal/gateway"
	"fleetops/internal/lifecycle"
	"fleetops/models"
	"fleetops/repository"
)

type commandBody struct {
	Reason   string `json:"reason"`
	Override bool   `json:"override"`
}

// missionCommand runs start/pause/resume/abort/complete. Domain failures are reported
// in the CommandResult body with 200; only auth and malformed requests use error statuses.
func (s *Server) missionCommand(w http.ResponseWriter, r *http.Request) {
	actor, err := s.actor(r, writeRoles...)
	if err != nil {
		s.fail(w, err)
		return
	}
	id, err := pathID(r)
	if err != nil {
		s.fail(w, err)
		return
	}
	cmd, err := lifecycle.ParseCommand(r.PathValue("command"))
	if err != nil {
		writeError(w, http.StatusNotFound, gateway.CodeNotFound, err.Error())
		return
	}
	var body commandBody
	if err := decodeBody(r, &body); err != nil {
		s.fail(w, err)
		return
	}
	opts := gateway.CommandOptions{Reason: body.Reason, Override: body.Override}
	writeJSON(w, http.StatusOK, gateway.ResultOf(s.Gateway.Execute(r.Context(), actor, id, cmd, opts)))
}

func (s *Server) listMissions(w http.ResponseWriter, r *http.Request) {
	if _, err := s.actor(r, readRoles...); err != nil {
		s.fail(w, err)
		return
	}
	q := r.URL.Query()
	var p repository.ListMissionsParams
	if raw := strings.TrimSpace(q.Get("status")); raw != "" {
		for _, part := range strings.Split(raw, ",") {
			st, err := models.ParseMissionStatus(part)
			if err != nil {
				writeError(w, http.StatusBadRequest, gateway.CodeInvalidArgument, err.Error())
				return
			}
			p.Statuses = append(p.Statuses, st)
		}
	}
	var err error
	if p.PageSize, err = intParam(q.Get("page_size")); err != nil {
		s.fail(w, err)
		return
	}
	if p.AfterID, err = int64Param(q.Get("after")); err != nil {
		s.fail(w, err)
		return
	}
	if raw := q.Get("drone_id"); raw != "" {
		droneID, err := int64Param(raw)
		if err != nil {
			s.fail(w, err)
			return
		}
		p.DroneID = &droneID
	}
	missions, err := s.Gateway.ListMissions(r.Context(), p)
	if err != nil {
		s.fail(w, err)
		return
	}
	if missions == nil {
		missions = []models.Mission{}
	}
	writeJSON(w, http.StatusOK, missions)
}

func (s *Server) createMission(w http.ResponseWriter, r *http.Request) {
	actor, err := s.actor(r, writeRoles...)
	if err != nil {
		s.fail(w, err)
		return
	}
	var in gateway.MissionInput
	if err := decodeBody(r, &in); err != nil {
		s.fail(w, err)
		return
	}
	m, err := s.Gateway.CreateMission(r.Context(), actor, in)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, m)
}

func (s *Server) getMission(w http.ResponseWriter, r *http.Request) {
	if _, err := s.actor(r, readRoles...); err != nil {
		s.fail(w, err)
		return
	}
	id, err := pathID(r)
	if err != nil {
		s.fail(w, err)
		return
	}
	m, err := s.Gateway.GetMission(r.Context(), id)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (s *Server) getWaypoints(w http.ResponseWriter, r *http.Request) {
	if _, err := s.actor(r, readRoles...); err != nil {
		s.fail(w, err)
		return
	}
	id, err := pathID(r)
	if err != nil {
		s.fail(w, err)
		return
	}
	wps, err := s.Gateway.GetMissionWaypoints(r.Context(), id)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, wps)
}

// missionHistory serves the flight log of a mission; 404 when no flight log is configured.
func (s *Server) missionHistory(w http.ResponseWriter, r *http.Request) {
	if _, err := s.actor(r, readRoles...); err != nil {
		s.fail(w, err)
		return
	}
	if s.History == nil {
		writeError(w, http.StatusNotFound, gateway.CodeNotFound, "mission history is not recorded")
		return
	}
	id, err := pathID(r)
	if err != nil {
		s.fail(w, err)
		return
	}
	if _, err := s.Gateway.GetMission(r.Context(), id); err != nil {
		s.fail(w, err)
		return
	}
	out, err := s.History.Transitions(r.Context(), id)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) deleteMission(w http.ResponseWriter, r *http.Request) {
	actor, err := s.actor(r, writeRoles...)
	if err != nil {
		s.fail(w, err)
		return
	}
	id, err := pathID(r)
	if err != nil {
		s.fail(w, err)
		return
	}
	if err := s.Gateway.DeleteMission(r.Context(), actor, id); err != nil {
		s.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) ingestTelemetry(w http.ResponseWriter, r *http.Request) {
	if _, err := s.telemetryOrWriter(r); err != nil {
		s.fail(w, err)
		return
	}
	var sample models.TelemetrySample
	if err := decodeBody(r, &sample); err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, gateway.ResultOf(s.Gateway.IngestTelemetry(r.Context(), sample)))
}

// telemetryOrWriter admits telemetry bridges and, for manual corrections, admins.
func (s *Server) telemetryOrWriter(r *http.Request) (gateway.Actor, error) {
	if p, err := s.requireTelemetry(r); err == nil {
		return p, nil
	}
	return s.actor(r, models.RoleAdmin)
}

func intParam(raw string) (int, error) {
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, gateway.ErrInvalidArgument
	}
	return n, nil
}

func int64Param(raw string) (int64, error) {
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || n < 0 {
		return 0, gateway.ErrInvalidArgument
	}
	return n, nil
}
