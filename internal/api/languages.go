package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/keyloom/keyloom/internal/events"
	"github.com/keyloom/keyloom/internal/store/postgres"
	"github.com/keyloom/keyloom/pkg/protocol"
)

func (s *Server) handleListLanguages(w http.ResponseWriter, r *http.Request) {
	langs, err := s.store.ListLanguages(r.Context())
	if err != nil {
		s.sendError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.sendJSON(w, http.StatusOK, langs)
}

func (s *Server) handleCreateLanguage(w http.ResponseWriter, r *http.Request) {
	var req protocol.LanguageRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, s.cfg.MaxBodySize)).Decode(&req); err != nil {
		s.sendError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	lang, err := s.store.CreateLanguage(r.Context(), req.Code, req.Name)
	if err != nil {
		s.sendError(w, http.StatusBadRequest, err.Error())
		return
	}

	s.publishEvent(events.EventLanguage, "", lang.Code, "")
	s.sendJSON(w, http.StatusCreated, lang)
}

func (s *Server) handleUpdateLanguage(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(r.PathValue("id"))
	if err != nil {
		s.sendError(w, http.StatusBadRequest, "invalid language id")
		return
	}

	var req protocol.LanguageRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, s.cfg.MaxBodySize)).Decode(&req); err != nil {
		s.sendError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	err = s.store.UpdateLanguage(r.Context(), id, req.Name, req.Enabled)
	if errors.Is(err, postgres.ErrNotFound) {
		s.sendError(w, http.StatusNotFound, "language not found")
		return
	}
	if err != nil {
		s.sendError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.publishEvent(events.EventLanguage, "", req.Code, "")
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDeleteLanguage(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(r.PathValue("id"))
	if err != nil {
		s.sendError(w, http.StatusBadRequest, "invalid language id")
		return
	}

	err = s.store.DeleteLanguage(r.Context(), id)
	if errors.Is(err, postgres.ErrNotFound) {
		s.sendError(w, http.StatusNotFound, "language not found")
		return
	}
	if err != nil {
		s.sendError(w, http.StatusConflict, err.Error())
		return
	}

	s.publishEvent(events.EventLanguage, "", "", "")
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListJurisdictions(w http.ResponseWriter, r *http.Request) {
	jurs, err := s.store.ListJurisdictions(r.Context())
	if err != nil {
		s.sendError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.sendJSON(w, http.StatusOK, jurs)
}

func (s *Server) handleCreateJurisdiction(w http.ResponseWriter, r *http.Request) {
	var req protocol.JurisdictionRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, s.cfg.MaxBodySize)).Decode(&req); err != nil {
		s.sendError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	jur, err := s.store.CreateJurisdiction(r.Context(), req.Code, req.Name)
	if err != nil {
		s.sendError(w, http.StatusBadRequest, err.Error())
		return
	}

	s.publishEvent(events.EventJurisdiction, "", "", jur.Code)
	s.sendJSON(w, http.StatusCreated, jur)
}

func (s *Server) handleDeleteJurisdiction(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(r.PathValue("id"))
	if err != nil {
		s.sendError(w, http.StatusBadRequest, "invalid jurisdiction id")
		return
	}

	err = s.store.DeleteJurisdiction(r.Context(), id)
	if errors.Is(err, postgres.ErrNotFound) {
		s.sendError(w, http.StatusNotFound, "jurisdiction not found")
		return
	}
	if err != nil {
		s.sendError(w, http.StatusConflict, err.Error())
		return
	}

	s.publishEvent(events.EventJurisdiction, "", "", "")
	w.WriteHeader(http.StatusNoContent)
}
