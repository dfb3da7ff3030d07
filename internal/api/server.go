package api

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/beaconaudit/beacon/internal/audit"
	"github.com/beaconaudit/beacon/internal/config"
	"github.com/beaconaudit/beacon/internal/handler"
	"github.com/beaconaudit/beacon/internal/message"
	"github.com/beaconaudit/beacon/internal/middleware"
)

// Trigger processes one delivered dispatch payload.
type Trigger interface {
	Handle(ctx context.Context, payload []byte) (handler.Outcome, error)
}

// Server wires HTTP handlers to the trigger and the dispatch sink.
type Server struct {
	router  chi.Router
	trigger Trigger
	sink    audit.Sink
	logger  *zap.Logger
	cfg     config.Config
}

// NewServer constructs a Server with middleware and routes.
func NewServer(trigger Trigger, sink audit.Sink, cfg config.Config, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		trigger: trigger,
		sink:    sink,
		logger:  logger,
		cfg:     cfg,
	}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(middleware.Metrics)
	r.Use(timeoutMiddleware(2 * time.Minute))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		if cfg.Auth.Enabled {
			r.Use(apiKeyMiddleware(cfg.Auth.APIKey))
		}
		r.Post("/push", s.push)
		r.Post("/dispatch", s.dispatch)
	})

	s.router = r
	return s
}

// Handler returns the router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(s.logger, w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(s.logger, w, http.StatusOK, map[string]string{"status": "ready"})
}

// pushEnvelope is the Pub/Sub push delivery wrapper.
type pushEnvelope struct {
	Message struct {
		Data      string `json:"data"`
		MessageID string `json:"messageId"`
	} `json:"message"`
	Subscription string `json:"subscription"`
}

// push receives a Pub/Sub push delivery and runs the trigger. Rejections
// return 200 so the broker acks and stops redelivering; collaborator
// failures return 500 so the broker retries.
func (s *Server) push(w http.ResponseWriter, r *http.Request) {
	var env pushEnvelope
	if err := json.NewDecoder(r.Body).Decode(&env); err != nil {
		writeError(s.logger, w, http.StatusBadRequest, "invalid push envelope")
		return
	}
	payload, err := base64.StdEncoding.DecodeString(env.Message.Data)
	if err != nil {
		writeError(s.logger, w, http.StatusBadRequest, "invalid base64 payload")
		return
	}

	outcome, err := s.trigger.Handle(r.Context(), payload)
	if err != nil {
		s.logger.Error("push trigger failed",
			zap.String("message_id", env.Message.MessageID),
			zap.Error(err),
		)
		writeError(s.logger, w, http.StatusInternalServerError, "trigger failed")
		return
	}
	writeJSON(s.logger, w, http.StatusOK, outcomeResponse(outcome))
}

// dispatch publishes the catalog-wide sentinel so the trigger fans out
// one job per identity, mode, and device.
func (s *Server) dispatch(w http.ResponseWriter, r *http.Request) {
	payload, err := message.Encode(audit.Job{Identity: audit.SentinelAll})
	if err != nil {
		writeError(s.logger, w, http.StatusInternalServerError, "encode dispatch message")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()
	if err := s.sink.Publish(ctx, payload); err != nil {
		s.logger.Error("manual dispatch publish failed", zap.Error(err))
		writeError(s.logger, w, http.StatusBadGateway, "publish dispatch message")
		return
	}
	writeJSON(s.logger, w, http.StatusAccepted, map[string]string{"status": "dispatched"})
}

func outcomeResponse(o handler.Outcome) map[string]any {
	resp := map[string]any{"kind": string(o.Kind)}
	if o.Reason != "" {
		resp["reason"] = string(o.Reason)
	}
	if o.Delta > 0 {
		resp["elapsed_seconds"] = int64(o.Delta.Seconds())
	}
	if o.BatchID != "" {
		resp["batch_id"] = o.BatchID
	}
	return resp
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.NewString()
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func loggingMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(ww, r)
			logger.Info("request completed",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.status),
				zap.Int64("duration_ms", time.Since(start).Milliseconds()),
			)
		})
	}
}

func recoverMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("panic recovered", zap.Any("panic", rec))
					writeError(logger, w, http.StatusInternalServerError, "internal server error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

func apiKeyMiddleware(expected string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("X-API-Key")
			if key == "" {
				key = r.URL.Query().Get("api_key")
			}
			if key != expected {
				http.Error(w, `{"error":"unauthorized"}`, http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	if err != nil {
		return n, fmt.Errorf("write response: %w", err)
	}
	return n, nil
}

type requestIDKey struct{}

func writeJSON(logger *zap.Logger, w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logger.Error("write JSON failed", zap.Error(err))
	}
}

func writeError(logger *zap.Logger, w http.ResponseWriter, status int, msg string) {
	writeJSON(logger, w, status, map[string]string{"error": msg})
}
