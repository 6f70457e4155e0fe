package api

import (
	"compress/gzip"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/keyloom/keyloom/internal/events"
	"github.com/keyloom/keyloom/internal/store/postgres"
	"github.com/keyloom/keyloom/pkg/models"
	"github.com/keyloom/keyloom/pkg/protocol"
)

// handleChildren serves GET /api/v1/keys/children?parent=. An empty parent
// lists the root entries.
func (s *Server) handleChildren(w http.ResponseWriter, r *http.Request) {
	parent := r.URL.Query().Get("parent")

	entries, err := s.store.ListKeyChildren(r.Context(), parent)
	if errors.Is(err, postgres.ErrInvalidPath) {
		s.sendError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		s.sendError(w, http.StatusInternalServerError, err.Error())
		return
	}

	resp := protocol.ChildrenResponse{Parent: parent, Entries: entries}

	if acceptsGzip(r) {
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Content-Encoding", "gzip")
		gw := gzipPool.Get().(*gzip.Writer)
		gw.Reset(w)
		json.NewEncoder(gw).Encode(resp)
		gw.Close()
		gzipPool.Put(gw)
		return
	}
	s.sendJSON(w, http.StatusOK, resp)
}

func (s *Server) handleCreateKey(w http.ResponseWriter, r *http.Request) {
	var req protocol.CreateKeyRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, s.cfg.MaxBodySize)).Decode(&req); err != nil {
		s.sendError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req.Path = strings.TrimSpace(req.Path)
	if req.Path == "" {
		s.sendError(w, http.StatusBadRequest, "key path required")
		return
	}

	key, err := s.store.CreateKey(r.Context(), req.Path, req.Description)
	if err != nil {
		switch {
		case strings.Contains(err.Error(), "duplicate key"):
			s.sendError(w, http.StatusConflict, "key already exists: "+req.Path)
		case errors.Is(err, postgres.ErrInvalidPath):
			s.sendError(w, http.StatusBadRequest, err.Error())
		default:
			s.sendError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}

	s.publishEvent(events.EventKeyCreated, key.Path, "", "")
	s.sendJSON(w, http.StatusCreated, key)
}

// handleDeleteKeys deletes the key at the path and the whole subtree
// beneath it.
func (s *Server) handleDeleteKeys(w http.ResponseWriter, r *http.Request) {
	path := r.PathValue("path")

	deleted, err := s.store.DeleteKeyPrefix(r.Context(), path)
	if errors.Is(err, postgres.ErrNotFound) {
		s.sendError(w, http.StatusNotFound, "no keys under: "+path)
		return
	}
	if errors.Is(err, postgres.ErrInvalidPath) {
		s.sendError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		s.sendError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.publishEvent(events.EventKeyDeleted, path, "", "")
	s.sendJSON(w, http.StatusOK, protocol.DeleteKeysResponse{Path: path, Deleted: deleted})
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	if query == "" {
		s.sendError(w, http.StatusBadRequest, "query parameter q required")
		return
	}

	limit := s.cfg.SearchLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= s.cfg.SearchLimit {
			limit = n
		}
	}
	offset := 0
	if v := r.URL.Query().Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}

	keys, total, err := s.store.SearchKeys(r.Context(), query, offset, limit)
	if err != nil {
		s.sendError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.sendJSON(w, http.StatusOK, protocol.SearchResponse{
		Query:   query,
		Keys:    keys,
		Total:   total,
		Offset:  offset,
		Limit:   limit,
		HasMore: offset+len(keys) < total,
	})
}

func (s *Server) handleListVariants(w http.ResponseWriter, r *http.Request) {
	path := r.PathValue("path")

	variants, err := s.store.ListVariants(r.Context(), path)
	if errors.Is(err, postgres.ErrNotFound) {
		s.sendError(w, http.StatusNotFound, "unknown key: "+path)
		return
	}
	if err != nil {
		s.sendError(w, http.StatusInternalServerError, err.Error())
		return
	}

	// Optional per-language filter
	if lang := r.URL.Query().Get("language"); lang != "" {
		filtered := variants[:0]
		for _, v := range variants {
			if v.Language == lang {
				filtered = append(filtered, v)
			}
		}
		variants = filtered
	}

	s.sendJSON(w, http.StatusOK, protocol.VariantListResponse{Path: path, Variants: variants})
}

func (s *Server) handleSetVariant(w http.ResponseWriter, r *http.Request) {
	path := r.PathValue("path")

	var req protocol.SetVariantRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, s.cfg.MaxBodySize)).Decode(&req); err != nil {
		s.sendError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Language == "" {
		s.sendError(w, http.StatusBadRequest, "language required")
		return
	}

	variant, err := s.store.UpsertVariant(r.Context(), path, models.Variant{
		Language:     req.Language,
		Jurisdiction: req.Jurisdiction,
		Value:        req.Value,
		Status:       req.Status,
	})
	if errors.Is(err, postgres.ErrNotFound) {
		s.sendError(w, http.StatusNotFound, "unknown key: "+path)
		return
	}
	if err != nil {
		s.sendError(w, http.StatusBadRequest, err.Error())
		return
	}

	s.publishEvent(events.EventVariantUpdated, path, variant.Language, variant.Jurisdiction)
	s.sendJSON(w, http.StatusOK, variant)
}
