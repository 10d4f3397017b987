package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/CoolE88/threat-sentry/internal/domain"
	"github.com/CoolE88/threat-sentry/internal/metrics"
	"github.com/CoolE88/threat-sentry/internal/monitor"
	"github.com/CoolE88/threat-sentry/internal/service"
	"github.com/CoolE88/threat-sentry/internal/spectral"
	"github.com/CoolE88/threat-sentry/pkg/utils"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const maxBodyBytes = 1 << 20

type ThreatService interface {
	CheckDBConnection(ctx context.Context) error
	Status() service.Status
	StartSession(ctx context.Context, duration time.Duration) (service.Status, error)
	StopSession() service.Status
	Snapshot() domain.ThreatSnapshot
	History() []domain.ThreatSnapshot
	Spectrum() (spectral.Spectrum, error)
	ScanEmail(ctx context.Context, bodies, urls []string) (domain.ScanResult, error)
	GetSnapshot(ctx context.Context, sessionID string, sequence uint64) (*domain.SnapshotRecord, error)
	GetSnapshotsByTimeRange(ctx context.Context, start, end time.Time) ([]*domain.SnapshotRecord, error)
}

type HTTPServer struct {
	server  *http.Server
	service ThreatService
	logger  *zap.Logger
	// sessionCtx родительский контекст сессий, запущенных через API
	sessionCtx context.Context
}

type scanRequest struct {
	Bodies []string `json:"bodies"`
	URLs   []string `json:"urls"`
}

type startRequest struct {
	Duration string `json:"duration"`
}

func NewHTTPServer(ctx context.Context, addr string, service ThreatService, logger *zap.Logger) *HTTPServer {
	router := mux.NewRouter()

	s := &HTTPServer{
		server: &http.Server{
			Addr:              addr,
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
		},
		service:    service,
		logger:     logger,
		sessionCtx: ctx,
	}

	// Middleware регистрации
	router.Use(s.metricsMiddleware)
	router.Use(s.loggingMiddleware)

	// Маршруты
	router.HandleFunc("/health", s.healthCheck).Methods("GET")
	router.HandleFunc("/api/v1/status", s.getStatus).Methods("GET")
	router.HandleFunc("/api/v1/snapshot", s.getSnapshot).Methods("GET")
	router.HandleFunc("/api/v1/history", s.getHistory).Methods("GET")
	router.HandleFunc("/api/v1/spectrum", s.getSpectrum).Methods("GET")
	router.HandleFunc("/api/v1/session/start", s.startSession).Methods("POST")
	router.HandleFunc("/api/v1/session/stop", s.stopSession).Methods("POST")
	router.HandleFunc("/api/v1/email/scan", s.scanEmail).Methods("POST")
	router.HandleFunc("/api/v1/snapshots", s.getSnapshotsByTimeRange).Methods("GET")
	router.HandleFunc("/api/v1/sessions/{session}/snapshots/{seq}", s.getJournalSnapshot).Methods("GET")

	// Метрики Prometheus
	router.Handle("/metrics", promhttp.Handler()).Methods("GET")

	return s
}

func (s *HTTPServer) Start() error {
	s.logger.Info("Starting HTTP server", zap.String("addr", s.server.Addr))
	return s.server.ListenAndServe()
}

func (s *HTTPServer) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down HTTP server")
	return s.server.Shutdown(ctx)
}

// responseWriter для отслеживания статус кода и размера
type responseWriter struct {
	http.ResponseWriter
	statusCode int
	size       int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	size, err := rw.ResponseWriter.Write(b)
	rw.size += size
	return size, err
}

// middleware для сбора метрик HTTP запросов с использованием шаблона пути
func (s *HTTPServer) metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(rw, r)

		duration := time.Since(start).Seconds()
		method := r.Method
		status := strconv.Itoa(rw.statusCode)

		// Получаем шаблон пути из mux (если доступен)
		path := r.URL.Path
		if route := mux.CurrentRoute(r); route != nil {
			if tpl, err := route.GetPathTemplate(); err == nil {
				path = tpl
			}
		}

		metrics.HTTPRequests.WithLabelValues(method, path, status).Inc()
		metrics.HTTPRequestDuration.WithLabelValues(method, path).Observe(duration)
		metrics.HTTPResponseSize.WithLabelValues(method, path).Observe(float64(rw.size))
	})
}

// middleware для логирования HTTP запросов
func (s *HTTPServer) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(rw, r)

		s.logger.Info("HTTP request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.String("query", r.URL.RawQuery),
			zap.String("ip", r.RemoteAddr),
			zap.String("user_agent", r.UserAgent()),
			zap.Int("status", rw.statusCode),
			zap.Int("response_size", rw.size),
			zap.Duration("duration", time.Since(start)),
		)
	})
}

func (s *HTTPServer) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("Failed to encode response", zap.Error(err))
	}
}

func (s *HTTPServer) healthCheck(w http.ResponseWriter, r *http.Request) {
	if err := s.service.CheckDBConnection(r.Context()); err != nil {
		s.logger.Error("Health check failed", zap.Error(err))
		http.Error(w, "Service unavailable", http.StatusServiceUnavailable)
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func (s *HTTPServer) getStatus(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.service.Status())
}

func (s *HTTPServer) getSnapshot(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.service.Snapshot())
}

func (s *HTTPServer) getHistory(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.service.History())
}

func (s *HTTPServer) getSpectrum(w http.ResponseWriter, r *http.Request) {
	spec, err := s.service.Spectrum()
	if errors.Is(err, service.ErrNoSpectrum) {
		http.Error(w, "Not found", http.StatusNotFound)
		return
	}
	if err != nil {
		s.logger.Error("Failed to get spectrum", zap.Error(err))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, http.StatusOK, spec)
}

func (s *HTTPServer) startSession(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}
	}

	var duration time.Duration
	if req.Duration != "" {
		d, err := time.ParseDuration(req.Duration)
		if err != nil {
			http.Error(w, "invalid duration", http.StatusBadRequest)
			return
		}
		duration = d
	}

	// сессия живёт дольше запроса, поэтому не r.Context()
	st, err := s.service.StartSession(s.sessionCtx, duration)
	switch {
	case errors.Is(err, monitor.ErrAlreadyRunning):
		http.Error(w, "monitoring session already running", http.StatusConflict)
		return
	case errors.Is(err, domain.ErrConfiguration):
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	case err != nil:
		s.logger.Error("Failed to start session", zap.Error(err))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	s.writeJSON(w, http.StatusAccepted, st)
}

func (s *HTTPServer) stopSession(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.service.StopSession())
}

func (s *HTTPServer) scanEmail(w http.ResponseWriter, r *http.Request) {
	var req scanRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	res, err := s.service.ScanEmail(r.Context(), req.Bodies, req.URLs)
	if err != nil {
		if errors.Is(err, domain.ErrMalformedInput) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		s.logger.Error("Failed to scan email", zap.Error(err))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	s.writeJSON(w, http.StatusOK, res)
}

func (s *HTTPServer) getSnapshotsByTimeRange(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	startStr := r.URL.Query().Get("start")
	endStr := r.URL.Query().Get("end")

	if startStr == "" || endStr == "" {
		http.Error(w, "start and end parameters are required", http.StatusBadRequest)
		return
	}

	start, err := time.Parse(time.RFC3339, startStr)
	if err != nil {
		s.logger.Error("invalid start time format",
			zap.Error(err),
			zap.String("received_start", startStr))
		http.Error(w, "invalid start time format", http.StatusBadRequest)
		return
	}

	end, err := time.Parse(time.RFC3339, endStr)
	if err != nil {
		s.logger.Error("invalid end time format",
			zap.Error(err),
			zap.String("received_end", endStr))
		http.Error(w, "invalid end time format", http.StatusBadRequest)
		return
	}

	data, err := s.service.GetSnapshotsByTimeRange(ctx, start, end)
	if err != nil {
		if errors.Is(err, service.ErrInvalidRange) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		s.logger.Error("Failed to get snapshots by time range", zap.Error(err))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	if data == nil {
		data = []*domain.SnapshotRecord{}
	}
	s.writeJSON(w, http.StatusOK, data)
}

func (s *HTTPServer) getJournalSnapshot(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	session := vars["session"]
	if !utils.IsValidUUID(session) {
		http.Error(w, "invalid session ID", http.StatusBadRequest)
		return
	}

	seq, err := strconv.ParseUint(vars["seq"], 10, 64)
	if err != nil {
		http.Error(w, "invalid sequence", http.StatusBadRequest)
		return
	}

	data, err := s.service.GetSnapshot(r.Context(), session, seq)
	switch {
	case errors.Is(err, service.ErrNotFound):
		http.Error(w, "Not found", http.StatusNotFound)
		return
	case errors.Is(err, service.ErrInvalidID):
		http.Error(w, "invalid session ID", http.StatusBadRequest)
		return
	case err != nil:
		s.logger.Error("Failed to get snapshot", zap.String("session", session), zap.Error(err))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	s.writeJSON(w, http.StatusOK, data)
}
