package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/SirClappington/fscmd/internal/subscription"
	"github.com/go-chi/chi/v5"
)

type subscribeRequest struct {
	Filter string `json:"filter"`
}

func (s *Server) listSubscriptions(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.subs.List())
}

func (s *Server) getSubscription(w http.ResponseWriter, r *http.Request) {
	info, ok := s.subs.Get(chi.URLParam(r, "topic"))
	if !ok {
		writeError(w, http.StatusNotFound, "no subscription")
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (s *Server) subscribe(w http.ResponseWriter, r *http.Request) {
	topic := chi.URLParam(r, "topic")
	var req subscribeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	filter, err := subscription.NewFilter(req.Filter)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid filter: "+err.Error())
		return
	}

	_, existed := s.subs.Get(topic)
	code := s.subs.Subscribe(topic, s.sink(topic), subscription.WithFilter(filter))
	if code != subscription.StatusOK {
		writeStatus(w, code)
		return
	}
	info, _ := s.subs.Get(topic)
	status := http.StatusCreated
	if existed {
		status = http.StatusOK
	}
	writeJSON(w, status, info)
}

func (s *Server) unsubscribe(w http.ResponseWriter, r *http.Request) {
	if code := s.subs.Unsubscribe(chi.URLParam(r, "topic")); code != subscription.StatusOK {
		writeStatus(w, code)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) emit(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil || !json.Valid(body) {
		writeError(w, http.StatusBadRequest, "body must be a JSON document")
		return
	}
	code, err := s.subs.Emit(r.Context(), chi.URLParam(r, "topic"), body)
	if err != nil && code == subscription.StatusInvalid {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	if code != subscription.StatusOK {
		writeStatus(w, code)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func writeStatus(w http.ResponseWriter, code subscription.StatusCode) {
	switch code {
	case subscription.StatusNotFound:
		writeError(w, http.StatusNotFound, code.String())
	case subscription.StatusInvalid:
		writeError(w, http.StatusBadRequest, code.String())
	case subscription.StatusClosed:
		writeError(w, http.StatusServiceUnavailable, code.String())
	default:
		writeError(w, http.StatusInternalServerError, code.String())
	}
}
