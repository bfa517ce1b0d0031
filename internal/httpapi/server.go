package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/SirClappington/fscmd/internal/domain"
	"github.com/SirClappington/fscmd/internal/subscription"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// CommandStore is the record store surface the operator API needs.
type CommandStore interface {
	Insert(ctx context.Context, c domain.Command) error
	List(ctx context.Context, table string, limit int) ([]domain.Command, error)
	Get(ctx context.Context, id domain.RecordID) (domain.Command, error)
	Patch(ctx context.Context, id domain.RecordID, fields map[string]any) (domain.Command, error)
	Ping(ctx context.Context) error
}

// SinkFactory picks the sink a new subscription notifies.
type SinkFactory func(topic string) subscription.Sink

type Server struct {
	store CommandStore
	subs  *subscription.Manager
	sink  SinkFactory
	queue RelayQueue
	log   *zap.Logger
}

func New(store CommandStore, subs *subscription.Manager, sink SinkFactory, log *zap.Logger) *Server {
	return &Server{store: store, subs: subs, sink: sink, log: log}
}

func (s *Server) Routes() chi.Router {
	rtr := chi.NewRouter()
	rtr.Use(middleware.RequestID)
	rtr.Use(middleware.Recoverer)
	rtr.Use(s.accessLog)

	rtr.Get("/healthz", s.health)
	rtr.Method(http.MethodGet, "/metrics", promhttp.Handler())

	rtr.Route("/v1/commands/{table}", func(rtr chi.Router) {
		rtr.Post("/", s.createCommand)
		rtr.Get("/", s.listCommands)
		rtr.Get("/{key}", s.getCommand)
		rtr.Patch("/{key}", s.patchCommand)
	})

	rtr.Route("/v1/subscriptions", func(rtr chi.Router) {
		rtr.Get("/", s.listSubscriptions)
		rtr.Get("/{topic}", s.getSubscription)
		rtr.Put("/{topic}", s.subscribe)
		rtr.Delete("/{topic}", s.unsubscribe)
		rtr.Post("/{topic}/emit", s.emit)
		rtr.Get("/{topic}/queue", s.getQueueDepth)
		rtr.Get("/{topic}/queue/events", s.streamQueueEvents)
	})
	return rtr
}

func (s *Server) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.log.Debug("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("took", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
