package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/sweep-progress/internal/config"
	"github.com/JakeFAU/sweep-progress/internal/progress"
	"github.com/JakeFAU/sweep-progress/internal/records"
	"github.com/JakeFAU/sweep-progress/internal/telemetry"
	"github.com/JakeFAU/sweep-progress/internal/wsconn"
)

// RecordService creates and reads sweep configs.
type RecordService interface {
	Create(ctx context.Context, spec records.SweepSpec) (records.StoredSweep, error)
	Get(ctx context.Context, id uuid.UUID) (records.StoredSweep, error)
	Recent(ctx context.Context, limit int) ([]records.Entry, error)
}

// ProgressService runs live progress sessions.
type ProgressService interface {
	Subscribe(ctx context.Context, topic string, ch progress.Channel) error
	Closed() bool
}

// JoinPolicy decides whether a client may open another progress socket.
type JoinPolicy interface {
	Allow(key string) bool
}

// Server wires HTTP handlers to the record and progress services.
type Server struct {
	router   chi.Router
	records  RecordService
	progress ProgressService
	upgrader *wsconn.Upgrader
	joins    JoinPolicy
	cfg      config.Config
	logger   *zap.Logger
}

const (
	rootMessage           = "Parameter Sweep API is running! Go to /docs or /redoc for interaction!"
	defaultRequestTimeout = 30 * time.Second
)

// NewServer constructs a Server with middleware and routes.
func NewServer(
	recs RecordService,
	prog ProgressService,
	upgrader *wsconn.Upgrader,
	joins JoinPolicy,
	cfg config.Config,
	logger *zap.Logger,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		records:  recs,
		progress: prog,
		upgrader: upgrader,
		joins:    joins,
		cfg:      cfg,
		logger:   logger,
	}
	timeout := cfg.Server.RequestTimeout
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(telemetry.Middleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORS.AllowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"*"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/", s.root)
	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Handle("/metrics", telemetry.Handler())

	r.Route("/configs", func(r chi.Router) {
		// TimeoutHandler cannot hijack, so it stays off the WebSocket route.
		r.Use(timeoutMiddleware(timeout))
		r.Post("/", s.createConfig)
		r.Get("/recent", s.recentConfigs)
		r.Get("/{id}", s.getConfig)
	})
	r.Get("/ws/configs/{config_id}", s.subscribe)

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) root(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"message": rootMessage})
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	if s.progress == nil || s.progress.Closed() {
		writeError(w, http.StatusServiceUnavailable, "shutting down")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) createConfig(w http.ResponseWriter, r *http.Request) {
	var spec records.SweepSpec
	dec := json.NewDecoder(r.Body)
	dec.UseNumber()
	if err := dec.Decode(&spec); err != nil {
		writeError(w, http.StatusUnprocessableEntity, "invalid JSON body")
		return
	}
	rec, err := s.records.Create(r.Context(), spec)
	var verr *records.ValidationError
	switch {
	case errors.As(err, &verr):
		writeError(w, http.StatusUnprocessableEntity, verr.Error())
		return
	case err != nil:
		s.logger.Error("create config failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to store config")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"id": rec.ID.String()})
}

func (s *Server) recentConfigs(w http.ResponseWriter, r *http.Request) {
	limit := records.DefaultRecentLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, http.StatusUnprocessableEntity, "limit must be an integer")
			return
		}
		if n < 1 {
			writeError(w, http.StatusUnprocessableEntity, "limit must be >= 1")
			return
		}
		limit = n
	}
	entries, err := s.records.Recent(r.Context(), limit)
	if err != nil {
		s.logger.Error("list recent configs failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list configs")
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) getConfig(w http.ResponseWriter, r *http.Request) {
	id, err := records.ParseID(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid id format")
		return
	}
	rec, err := s.records.Get(r.Context(), id)
	switch {
	case errors.Is(err, records.ErrNotFound):
		writeError(w, http.StatusNotFound, "Not found")
		return
	case err != nil:
		s.logger.Error("get config failed", zap.String("id", id.String()), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load config")
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// subscribe upgrades to a WebSocket and runs one progress session on it. The
// handler returns when the session ends.
func (s *Server) subscribe(w http.ResponseWriter, r *http.Request) {
	topic := chi.URLParam(r, "config_id")
	if s.progress.Closed() {
		writeError(w, http.StatusServiceUnavailable, "shutting down")
		return
	}
	if s.joins != nil && !s.joins.Allow(clientKey(r)) {
		writeError(w, http.StatusTooManyRequests, "too many connections")
		return
	}
	ch, err := s.upgrader.Upgrade(w, r)
	if err != nil {
		s.logger.Debug("websocket upgrade failed", zap.String("topic", topic), zap.Error(err))
		return
	}
	err = s.progress.Subscribe(r.Context(), topic, ch)
	switch {
	case err == nil:
		s.logger.Debug("progress session closed", zap.String("topic", topic))
	case errors.Is(err, progress.ErrServiceClosed):
		s.logger.Debug("progress session ended by shutdown", zap.String("topic", topic))
	default:
		s.logger.Debug("progress session ended abruptly", zap.String("topic", topic), zap.Error(err))
	}
}

func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get("X-Request-ID")
		if reqID == "" {
			reqID = uuid.NewString()
		}
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
			reqID, _ := r.Context().Value(requestIDKey{}).(string)
			logger.Info("request completed",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.status),
				zap.Int64("duration_ms", time.Since(start).Milliseconds()),
				zap.String("request_id", reqID),
			)
		})
	}
}

func recoverMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("panic recovered", zap.Any("error", rec), zap.String("path", r.URL.Path))
					writeError(w, http.StatusInternalServerError, "internal server error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, `{"detail":"request timed out"}`)
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

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := rw.ResponseWriter.(http.Hijacker); ok {
		conn, buf, err := h.Hijack()
		if err != nil {
			return nil, nil, fmt.Errorf("hijack connection: %w", err)
		}
		rw.status = http.StatusSwitchingProtocols
		return conn, buf, nil
	}
	return nil, nil, errors.New("hijacker not supported")
}

type requestIDKey struct{}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"detail": msg})
}
