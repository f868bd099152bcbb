package httpapi

import (
	"net/http"
	"strings"

	"fleetops/internal/gateway"
	"fleetops/models"
	"fleetops/repository"
)

func (s *Server) listDrones(w http.ResponseWriter, r *http.Request) {
	if _, err := s.actor(r, readRoles...); err != nil {
		s.fail(w, err)
		return
	}
	q := r.URL.Query()
	p := repository.ListDronesParams{
		ActiveOnly:           q.Get("active") == "true",
		NameOrSerialContains: q.Get("q"),
	}
	if raw := strings.TrimSpace(q.Get("status")); raw != "" {
		st, err := models.ParseDroneStatus(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, gateway.CodeInvalidArgument, err.Error())
			return
		}
		p.Status = &st
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
	drones, err := s.Gateway.ListDrones(r.Context(), p)
	if err != nil {
		s.fail(w, err)
		return
	}
	if drones == nil {
		drones = []models.Drone{}
	}
	writeJSON(w, http.StatusOK, drones)
}

type droneBody struct {
	Name         string  `json:"name"`
	SerialNumber string  `json:"serial_number"`
	Status       string  `json:"status"`
	BatteryLevel float64 `json:"battery_level"`
	Lat          float64 `json:"lat"`
	Lng          float64 `json:"lng"`
	Altitude     float64 `json:"altitude"`
}

func (s *Server) createDrone(w http.ResponseWriter, r *http.Request) {
	actor, err := s.actor(r, writeRoles...)
	if err != nil {
		s.fail(w, err)
		return
	}
	var body droneBody
	if err := decodeBody(r, &body); err != nil {
		s.fail(w, err)
		return
	}
	d := &models.Drone{
		Name:         body.Name,
		SerialNumber: body.SerialNumber,
		BatteryLevel: body.BatteryLevel,
		Lat:          body.Lat,
		Lng:          body.Lng,
		Altitude:     body.Altitude,
	}
	if body.Status != "" {
		if d.Status, err = models.ParseDroneStatus(body.Status); err != nil {
			writeError(w, http.StatusBadRequest, gateway.CodeInvalidArgument, err.Error())
			return
		}
	}
	out, err := s.Gateway.CreateDrone(r.Context(), actor, d)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, out)
}

func (s *Server) getDrone(w http.ResponseWriter, r *http.Request) {
	if _, err := s.actor(r, readRoles...); err != nil {
		s.fail(w, err)
		return
	}
	id, err := pathID(r)
	if err != nil {
		s.fail(w, err)
		return
	}
	d, err := s.Gateway.GetDrone(r.Context(), id)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (s *Server) setDroneStatus(w http.ResponseWriter, r *http.Request) {
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
	var body struct {
		Status string `json:"status"`
	}
	if err := decodeBody(r, &body); err != nil {
		s.fail(w, err)
		return
	}
	st, err := models.ParseDroneStatus(body.Status)
	if err != nil {
		writeError(w, http.StatusBadRequest, gateway.CodeInvalidArgument, err.Error())
		return
	}
	d, err := s.Gateway.SetDroneStatus(r.Context(), actor, id, st)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (s *Server) requestMaintenance(w http.ResponseWriter, r *http.Request) {
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
	d, err := s.Gateway.RequestMaintenance(r.Context(), actor, id)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

// droneTelemetry returns the latest sample from the cache, falling back to the
// snapshot stored on the drone's current or last mission.
func (s *Server) droneTelemetry(w http.ResponseWriter, r *http.Request) {
	if _, err := s.actor(r, readRoles...); err != nil {
		s.fail(w, err)
		return
	}
	id, err := pathID(r)
	if err != nil {
		s.fail(w, err)
		return
	}
	if s.Telemetry != nil {
		sample, err := s.Telemetry.LatestTelemetry(r.Context(), id)
		if err != nil {
			s.Log.Warn().Err(err).Int64("drone_id", id).Msg("telemetry cache lookup")
		} else if sample != nil {
			writeJSON(w, http.StatusOK, sample)
			return
		}
	}

	d, err := s.Gateway.GetDrone(r.Context(), id)
	if err != nil {
		s.fail(w, err)
		return
	}
	missionID := d.ActiveMission
	if missionID == nil {
		missionID = d.LastMission
	}
	if missionID == nil {
		writeError(w, http.StatusNotFound, gateway.CodeNotFound, "no telemetry for drone")
		return
	}
	m, err := s.Gateway.GetMission(r.Context(), *missionID)
	if err != nil {
		s.fail(w, err)
		return
	}
	if m.Telemetry == nil {
		writeError(w, http.StatusNotFound, gateway.CodeNotFound, "no telemetry for drone")
		return
	}
	writeJSON(w, http.StatusOK, models.TelemetrySample{
		MissionID:      m.ID,
		Lat:            m.Telemetry.Lat,
		Lng:            m.Telemetry.Lng,
		Altitude:       m.Telemetry.Altitude,
		Speed:          m.Telemetry.Speed,
		BatteryLevel:   m.Telemetry.BatteryLevel,
		SignalStrength: m.Telemetry.SignalStrength,
		Timestamp:      m.Telemetry.Timestamp,
	})
}
