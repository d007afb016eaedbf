// Package httpapi exposes the memory service over HTTP.
package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"recall/internal/domain"
	"recall/internal/retrieval"
	"recall/internal/service"
)

// Memory is the application surface the handlers call.
type Memory interface {
	AddText(ctx context.Context, title, content string) (service.AddResult, error)
	Ask(ctx context.Context, query string) (service.Answer, error)
	Rebuild(ctx context.Context) (retrieval.RebuildStats, error)
	Stats() retrieval.Stats
	Ready(ctx context.Context) error
}

// Options configures the router.
type Options struct {
	AllowedOrigins []string
	RequestTimeout time.Duration
}

// NewRouter configures all routes and middleware.
func NewRouter(mem Memory, opts Options, logger *zap.Logger) http.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 60 * time.Second
	}
	if len(opts.AllowedOrigins) == 0 {
		opts.AllowedOrigins = []string{"http://localhost:3000"}
	}
	h := &handlers{mem: mem, logger: logger}

	r := chi.NewRouter()

	// Core middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(logger))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(opts.RequestTimeout))

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   opts.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/", h.root)
	r.Get("/healthz", h.health)
	r.Get("/readyz", h.ready)
	r.Get("/stats", h.stats)
	r.Post("/add_text", h.addText)
	r.Post("/query_ai", h.queryAI)
	r.Post("/rebuild", h.rebuild)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "endpoint not found", nil)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed", nil)
	})
	return r
}

// requestLogger logs one line per request with the chi request id.
func requestLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			defer func() {
				logger.Info("request",
					zap.String("request_id", middleware.GetReqID(r.Context())),
					zap.String("method", r.Method),
					zap.String("path", r.URL.Path),
					zap.Int("status", ww.Status()),
					zap.Int("bytes", ww.BytesWritten()),
					zap.Duration("duration", time.Since(start)))
			}()
			next.ServeHTTP(ww, r)
		})
	}
}

type handlers struct {
	mem    Memory
	logger *zap.Logger
}

func (h *handlers) root(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"message": "Welcome to the recall backend"})
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string            `json:"status"`
	Timestamp string            `json:"timestamp"`
	Checks    map[string]string `json:"checks,omitempty"`
}

func (h *handlers) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

// ready reports unhealthy until the record store answers and a generation has been built.
func (h *handlers) ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	checks := make(map[string]string)
	allHealthy := true

	if err := h.mem.Ready(ctx); err != nil {
		h.logger.Warn("record store health check failed", zap.Error(err))
		checks["record_store"] = "unhealthy"
		allHealthy = false
	} else {
		checks["record_store"] = "healthy"
	}
	if h.mem.Stats().GenerationID == "" {
		checks["index"] = "building"
		allHealthy = false
	} else {
		checks["index"] = "healthy"
	}

	status, httpStatus := "healthy", http.StatusOK
	if !allHealthy {
		status, httpStatus = "unhealthy", http.StatusServiceUnavailable
	}
	writeJSON(w, httpStatus, HealthResponse{
		Status:    status,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Checks:    checks,
	})
}

func (h *handlers) stats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.mem.Stats())
}

// AddTextRequest is the body of POST /add_text.
type AddTextRequest struct {
	Title   string `json:"title" validate:"required,max=256"`
	Content string `json:"content" validate:"required,max=65536"`
}

// AddTextResponse mirrors the status/message shape the web client expects.
type AddTextResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

func (h *handlers) addText(w http.ResponseWriter, r *http.Request) {
	var req AddTextRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}
	res, err := h.mem.AddText(r.Context(), req.Title, req.Content)
	if err != nil {
		h.serviceError(w, "add_text", err)
		return
	}

	resp := AddTextResponse{Status: "success", Message: "Text added and index updated."}
	if res.Outcome == domain.OutcomeUpdated {
		resp = AddTextResponse{Status: "updated", Message: "Existing title updated and index refreshed."}
	}
	if !res.Indexed {
		resp.Message = "Text stored, but the index could not be updated yet."
	}
	writeJSON(w, http.StatusOK, resp)
}

// QueryRequest is the body of POST /query_ai.
type QueryRequest struct {
	Query string `json:"query" validate:"required,max=2048"`
}

// QueryResponse carries the stored snippet verbatim, or the no-data sentinel.
type QueryResponse struct {
	Answer string `json:"answer"`
	Found  bool   `json:"found"`
}

func (h *handlers) queryAI(w http.ResponseWriter, r *http.Request) {
	var req QueryRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}
	ans, err := h.mem.Ask(r.Context(), req.Query)
	if err != nil {
		h.serviceError(w, "query_ai", err)
		return
	}
	writeJSON(w, http.StatusOK, QueryResponse{Answer: ans.Text, Found: ans.Found})
}

// RebuildResponse describes the generation a forced rebuild produced.
type RebuildResponse struct {
	GenerationID string `json:"generation_id"`
	Documents    int    `json:"documents"`
	Embedded     int    `json:"embedded"`
	Reused       int    `json:"reused"`
	Failed       int    `json:"failed"`
	DurationMS   int64  `json:"duration_ms"`
}

func (h *handlers) rebuild(w http.ResponseWriter, r *http.Request) {
	stats, err := h.mem.Rebuild(r.Context())
	if err != nil {
		h.serviceError(w, "rebuild", err)
		return
	}
	writeJSON(w, http.StatusOK, RebuildResponse{
		GenerationID: stats.GenerationID.String(),
		Documents:    stats.Documents,
		Embedded:     stats.Embedded,
		Reused:       stats.Reused,
		Failed:       stats.Failed,
		DurationMS:   stats.Duration.Milliseconds(),
	})
}

func (h *handlers) serviceError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, domain.ErrInvalidRecord):
		writeError(w, http.StatusBadRequest, err.Error(), nil)
	case errors.Is(err, domain.ErrEmbeddingFailure), errors.Is(err, domain.ErrRetrievalUnavailable):
		h.logger.Warn("request could not be served", zap.String("op", op), zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, "the embedding backend is unavailable", nil)
	default:
		h.logger.Error("request failed", zap.String("op", op), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal server error", nil)
	}
}
