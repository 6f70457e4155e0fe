package api

import (
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/keyloom/keyloom/pkg/protocol"
)

func (s *Server) handleListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := s.auth.ListUsers(r.Context())
	if err != nil {
		s.sendError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.sendJSON(w, http.StatusOK, users)
}

func (s *Server) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	var req protocol.CreateUserRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, s.cfg.MaxBodySize)).Decode(&req); err != nil {
		s.sendError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Role == "" {
		s.sendError(w, http.StatusBadRequest, "role required")
		return
	}

	user, err := s.auth.CreateUser(r.Context(), req.Username, req.Password, req.Role)
	if err != nil {
		if strings.Contains(err.Error(), "duplicate key") {
			s.sendError(w, http.StatusConflict, "username taken: "+req.Username)
			return
		}
		s.sendError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.sendJSON(w, http.StatusCreated, user)
}

func (s *Server) handleDeleteUser(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(r.PathValue("id"))
	if err != nil {
		s.sendError(w, http.StatusBadRequest, "invalid user id")
		return
	}

	err = s.auth.DeleteUser(r.Context(), id)
	if errors.Is(err, sql.ErrNoRows) {
		s.sendError(w, http.StatusNotFound, "user not found")
		return
	}
	if err != nil {
		s.sendError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(r.PathValue("id"))
	if err != nil {
		s.sendError(w, http.StatusBadRequest, "invalid user id")
		return
	}

	var req protocol.ChangePasswordRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, s.cfg.MaxBodySize)).Decode(&req); err != nil {
		s.sendError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	err = s.auth.ChangePassword(r.Context(), id, req.Password)
	if errors.Is(err, sql.ErrNoRows) {
		s.sendError(w, http.StatusNotFound, "user not found")
		return
	}
	if err != nil {
		s.sendError(w, http.StatusBadRequest, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListRoles(w http.ResponseWriter, r *http.Request) {
	roles, err := s.auth.ListRoles(r.Context())
	if err != nil {
		s.sendError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.sendJSON(w, http.StatusOK, roles)
}

func (s *Server) handleCreateRole(w http.ResponseWriter, r *http.Request) {
	var req protocol.RoleRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, s.cfg.MaxBodySize)).Decode(&req); err != nil {
		s.sendError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	role, err := s.auth.CreateRole(r.Context(), req.Name, req.Permissions)
	if err != nil {
		if strings.Contains(err.Error(), "duplicate key") {
			s.sendError(w, http.StatusConflict, "role exists: "+req.Name)
			return
		}
		s.sendError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.sendJSON(w, http.StatusCreated, role)
}

func (s *Server) handleUpdateRole(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(r.PathValue("id"))
	if err != nil {
		s.sendError(w, http.StatusBadRequest, "invalid role id")
		return
	}

	var req protocol.RoleRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, s.cfg.MaxBodySize)).Decode(&req); err != nil {
		s.sendError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	err = s.auth.UpdateRole(r.Context(), id, req.Permissions)
	if errors.Is(err, sql.ErrNoRows) {
		s.sendError(w, http.StatusNotFound, "role not found")
		return
	}
	if err != nil {
		s.sendError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDeleteRole(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(r.PathValue("id"))
	if err != nil {
		s.sendError(w, http.StatusBadRequest, "invalid role id")
		return
	}

	err = s.auth.DeleteRole(r.Context(), id)
	if errors.Is(err, sql.ErrNoRows) {
		s.sendError(w, http.StatusNotFound, "role not found")
		return
	}
	if err != nil {
		s.sendError(w, http.StatusConflict, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	keys, variants, languages, jurisdictions, users, err := s.store.Stats(r.Context())
	if err != nil {
		s.sendError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.sendJSON(w, http.StatusOK, protocol.StatsResponse{
		Keys:          keys,
		Variants:      variants,
		Languages:     languages,
		Jurisdictions: jurisdictions,
		Users:         users,
	})
}
