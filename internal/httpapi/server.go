// Package httpapi exposes the gateway's operational HTTP surface: health,
// stats, and Prometheus metrics. The websocket endpoint is mounted alongside.
package httpapi

import (
	"context"
	"net/http"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/edumatrix/realtime-gateway/internal/bus"
	"github.com/edumatrix/realtime-gateway/internal/gateway"
	"github.com/edumatrix/realtime-gateway/internal/session"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// RedisPinger reports shared-cache connectivity.
type RedisPinger interface {
	IsAvailable(ctx context.Context) error
}

// Options configures the operational server.
type Options struct {
	Addr         string
	ServiceName  string
	KafkaEnabled bool
}

// Server serves /health, /stats, and /metrics, plus the websocket endpoint.
type Server struct {
	opts       Options
	log        *zap.Logger
	hub        *gateway.Hub
	registry   *session.Registry
	translator *bus.Translator
	redis      RedisPinger
	started    time.Time
	srv        *http.Server
}

func NewServer(opts Options, ws http.Handler, hub *gateway.Hub, registry *session.Registry, translator *bus.Translator, redis RedisPinger, log *zap.Logger) *Server {
	s := &Server{
		opts:       opts,
		log:        log.With(zap.String("module", "httpapi")),
		hub:        hub,
		registry:   registry,
		translator: translator,
		redis:      redis,
		started:    time.Now(),
	}

	mux := http.NewServeMux()
	mux.Handle("/ws", ws)
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/stats", s.handleStats)
	mux.Handle("/metrics", promhttp.Handler())

	s.srv = &http.Server{
		Addr:              opts.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	return s
}

// Handler returns the mux, for tests that mount it on their own listener.
func (s *Server) Handler() http.Handler { return s.srv.Handler }

// Run serves until the context is cancelled, then drains with a deadline.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.log.Info("http server listening", zap.String("addr", s.opts.Addr))
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return <-errCh
	case err := <-errCh:
		return err
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	redisUp := true
	if err := s.redis.IsAvailable(r.Context()); err != nil {
		redisUp = false
	}
	status := "ok"
	code := http.StatusOK
	if !redisUp {
		status = "degraded"
		code = http.StatusServiceUnavailable
	}

	s.writeJSON(w, code, map[string]interface{}{
		"status":      status,
		"service":     s.opts.ServiceName,
		"uptime":      time.Since(s.started).Round(time.Second).String(),
		"timestamp":   time.Now().UTC().Format(time.RFC3339),
		"connections": s.hub.Count(),
		"rooms":       s.hub.RoomCount(),
		"activeCalls": len(s.translator.ActiveCalls()),
		"services": map[string]bool{
			"redis": redisUp,
			"kafka": s.opts.KafkaEnabled,
		},
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	userIDs := s.hub.ConnectedUserIDs()
	presences, err := s.registry.GetMany(r.Context(), userIDs)
	if err != nil {
		s.log.Warn("failed to load presences for stats", zap.Error(err))
	}

	users := make([]map[string]interface{}, 0, len(presences))
	for _, p := range presences {
		users = append(users, map[string]interface{}{
			"userId":    p.UserID,
			"status":    p.Status,
			"studyMode": p.StudyMode,
		})
	}

	calls := make([]string, 0)
	for callID := range s.translator.ActiveCalls() {
		calls = append(calls, callID)
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"connections": s.hub.Count(),
		"users":       users,
		"rooms":       s.hub.RoomOccupancy(),
		"activeCalls": calls,
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.log.Warn("failed to encode response", zap.Error(err))
	}
}
