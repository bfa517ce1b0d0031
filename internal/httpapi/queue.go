package httpapi

import (
	"context"
	"net/http"

	"github.com/SirClappington/fscmd/internal/storage"
	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
)

// RelayQueue is the redis hand-off queue a redis sink writes to.
type RelayQueue interface {
	Len(ctx context.Context, topic string) (int64, error)
	Subscribe(ctx context.Context, topics ...string) *redis.PubSub
}

// WithQueue exposes depth and live events of the relay queue.
func (s *Server) WithQueue(q RelayQueue) *Server {
	s.queue = q
	return s
}

type queueDepth struct {
	Topic  string `json:"topic"`
	Queued int64  `json:"queued"`
}

func (s *Server) queueTopic(w http.ResponseWriter, r *http.Request) (string, bool) {
	if s.queue == nil {
		writeError(w, http.StatusNotFound, "no relay queue configured")
		return "", false
	}
	topic := chi.URLParam(r, "topic")
	if !storage.ValidTable(topic) {
		writeError(w, http.StatusBadRequest, "invalid topic")
		return "", false
	}
	return topic, true
}

func (s *Server) getQueueDepth(w http.ResponseWriter, r *http.Request) {
	topic, ok := s.queueTopic(w, r)
	if !ok {
		return
	}
	n, err := s.queue.Len(r.Context(), topic)
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, queueDepth{Topic: topic, Queued: n})
}

// streamQueueEvents writes every payload published for the topic as one
// JSON document per line until the client goes away.
func (s *Server) streamQueueEvents(w http.ResponseWriter, r *http.Request) {
	topic, ok := s.queueTopic(w, r)
	if !ok {
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	ctx := r.Context()
	ps := s.queue.Subscribe(ctx, topic)
	defer ps.Close()
	if _, err := ps.Receive(ctx); err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	msgs := ps.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-msgs:
			if !ok {
				return
			}
			if _, err := w.Write([]byte(msg.Payload + "\n")); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
