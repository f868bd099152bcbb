package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"fleetops/internal/auth"
	"fleetops/internal/gateway"
	"fleetops/models"
	"fleetops/repository"
)

type userBody struct {
	Username string `json:"username"`
	Role     string `json:"role"`
}

func (s *Server) listUsers(w http.ResponseWriter, r *http.Request) {
	if _, err := auth.RequireAdmin(r.Context(), s.Users); err != nil {
		s.fail(w, err)
		return
	}
	q := r.URL.Query()
	limit, err := intParam(q.Get("page_size"))
	if err != nil {
		s.fail(w, err)
		return
	}
	after, err := int64Param(q.Get("after"))
	if err != nil {
		s.fail(w, err)
		return
	}
	users, err := s.Users.List(r.Context(), limit, after)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, users)
}

func (s *Server) createUser(w http.ResponseWriter, r *http.Request) {
	if _, err := auth.RequireAdmin(r.Context(), s.Users); err != nil {
		s.fail(w, err)
		return
	}
	var body userBody
	if err := decodeBody(r, &body); err != nil {
		s.fail(w, err)
		return
	}
	body.Username = strings.TrimSpace(body.Username)
	if body.Username == "" || (body.Role != "" && !models.ValidRole(strings.ToLower(strings.TrimSpace(body.Role)))) {
		writeError(w, http.StatusBadRequest, gateway.CodeInvalidArgument, "username and a known role are required")
		return
	}
	existing, err := s.Users.GetByUsername(r.Context(), body.Username)
	if err != nil {
		s.fail(w, err)
		return
	}
	if existing != nil {
		writeError(w, http.StatusConflict, "already_exists", "user "+body.Username+" already exists")
		return
	}
	u, err := s.Users.Create(r.Context(), body.Username, body.Role)
	if err != nil {
		s.fail(w, err)
		return
	}
	s.Log.Info().Str("user", u.Username).Str("role", u.Role).Msg("user created")
	writeJSON(w, http.StatusCreated, u)
}

func (s *Server) setUserRole(w http.ResponseWriter, r *http.Request) {
	if _, err := auth.RequireAdmin(r.Context(), s.Users); err != nil {
		s.fail(w, err)
		return
	}
	var body userBody
	if err := decodeBody(r, &body); err != nil {
		s.fail(w, err)
		return
	}
	if !models.ValidRole(strings.ToLower(strings.TrimSpace(body.Role))) {
		writeError(w, http.StatusBadRequest, gateway.CodeInvalidArgument, "unknown role")
		return
	}
	u, err := s.Users.UpdateRole(r.Context(), r.PathValue("username"), body.Role)
	if errors.Is(err, repository.ErrNoUser) {
		writeError(w, http.StatusNotFound, gateway.CodeNotFound, err.Error())
		return
	}
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

func (s *Server) deleteUser(w http.ResponseWriter, r *http.Request) {
	p, err := auth.RequireAdmin(r.Context(), s.Users)
	if err != nil {
		s.fail(w, err)
		return
	}
	id, err := pathID(r)
	if err != nil {
		s.fail(w, err)
		return
	}
	self, err := s.Users.GetByUsername(r.Context(), p.Name)
	if err != nil {
		s.fail(w, err)
		return
	}
	if self != nil && self.ID == id {
		writeError(w, http.StatusConflict, "self_delete", "admins cannot delete themselves")
		return
	}
	err = s.Users.Delete(r.Context(), id)
	if errors.Is(err, repository.ErrNoUser) {
		writeError(w, http.StatusNotFound, gateway.CodeNotFound, err.Error())
		return
	}
	if err != nil {
		s.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
