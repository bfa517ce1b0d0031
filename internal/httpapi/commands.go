package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/SirClappington/fscmd/internal/dispatch"
	"github.com/SirClappington/fscmd/internal/domain"
	"github.com/SirClappington/fscmd/internal/storage"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	defaultListLimit = 100
	maxListLimit     = 1000
)

type commandRequest struct {
	Key    string `json:"key"`
	Action string `json:"action"`
	Cmd    string `json:"cmd"`
	Args   string `json:"args"`
	UUID   string `json:"uuid"`
	Cause  string `json:"cause"`
	UUIDA  string `json:"uuidA"`
	UUIDB  string `json:"uuidB"`
	File   string `json:"file"`
	Legs   string `json:"legs"`
}

func (s *Server) createCommand(w http.ResponseWriter, r *http.Request) {
	table := chi.URLParam(r, "table")
	if !storage.ValidTable(table) {
		writeError(w, http.StatusBadRequest, "invalid table")
		return
	}
	var req commandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	key := strings.TrimSpace(req.Key)
	if key == "" {
		key = uuid.NewString()
	}
	c := domain.Command{
		ID:     domain.RecordID{Table: table, Key: key},
		Action: strings.ToLower(strings.TrimSpace(req.Action)),
		Cmd:    req.Cmd,
		Args:   req.Args,
		UUID:   req.UUID,
		Cause:  req.Cause,
		UUIDA:  req.UUIDA,
		UUIDB:  req.UUIDB,
		File:   req.File,
		Legs:   req.Legs,
		Status: domain.StatusNew,
	}
	if _, _, problem := dispatch.Route(domain.ActionOf(c)); problem != "" {
		writeError(w, http.StatusBadRequest, problem)
		return
	}

	if err := s.store.Insert(r.Context(), c); err != nil {
		s.storeError(w, err)
		return
	}
	s.log.Info("command enqueued", zap.Stringer("id", c.ID), zap.String("action", c.Action))
	writeJSON(w, http.StatusCreated, c)
}

func (s *Server) listCommands(w http.ResponseWriter, r *http.Request) {
	limit := defaultListLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxListLimit)
	}
	out, err := s.store.List(r.Context(), chi.URLParam(r, "table"), limit)
	if err != nil {
		s.storeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) getCommand(w http.ResponseWriter, r *http.Request) {
	c, err := s.store.Get(r.Context(), recordID(r))
	if err != nil {
		s.storeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (s *Server) patchCommand(w http.ResponseWriter, r *http.Request) {
	var fields map[string]any
	if err := json.NewDecoder(r.Body).Decode(&fields); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	c, err := s.store.Patch(r.Context(), recordID(r), fields)
	if err != nil {
		s.storeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func recordID(r *http.Request) domain.RecordID {
	return domain.RecordID{Table: chi.URLParam(r, "table"), Key: chi.URLParam(r, "key")}
}

func (s *Server) storeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, storage.ErrDuplicate):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, storage.ErrInvalidTable),
		errors.Is(err, storage.ErrUnknownField),
		errors.Is(err, storage.ErrReadOnlyField):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		s.log.Error("store error", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
