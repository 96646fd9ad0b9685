package http

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	sharedobs "github.com/couchcryptid/storm-data-shared/observability"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/couchcryptid/ocean-color-archive/internal/batch"
)

// ReportSource exposes the outcome of the most recent batch.
type ReportSource interface {
	sharedobs.ReadinessChecker
	LastReport() (batch.Report, bool)
}

// Server exposes health, readiness, batch status, and metrics HTTP endpoints.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer creates an HTTP server with /healthz, /readyz, /status, and /metrics routes.
func NewServer(addr string, source ReportSource, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	s := &Server{
		httpServer: &http.Server{
			Addr:         addr,
			Handler:      mux,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		logger: logger,
	}

	mux.HandleFunc("GET /healthz", sharedobs.LivenessHandler())
	mux.HandleFunc("GET /readyz", sharedobs.ReadinessHandler(source))
	mux.HandleFunc("GET /status", handleStatus(source))
	mux.Handle("GET /metrics", promhttp.Handler())

	return s
}

// Start begins listening. Returns http.ErrServerClosed on graceful shutdown.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully drains connections within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// ServeHTTP delegates to the underlying handler, useful for testing.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.httpServer.Handler.ServeHTTP(w, r)
}

type itemStatus struct {
	ID      string `json:"id"`
	Outcome string `json:"outcome"`
	Error   string `json:"error,omitempty"`
}

type statusResponse struct {
	Status string                `json:"status"`
	Items  int                   `json:"items"`
	Counts map[batch.Outcome]int `json:"counts"`
	Failed []itemStatus          `json:"failed,omitempty"`
}

func handleStatus(source ReportSource) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		report, ok := source.LastReport()
		if !ok {
			sharedobs.WriteJSON(w, http.StatusOK, statusResponse{Status: "running", Counts: map[batch.Outcome]int{}})
			return
		}
		resp := statusResponse{
			Status: "finished",
			Items:  len(report.Results),
			Counts: report.Counts(),
		}
		for _, res := range report.Failed() {
			st := itemStatus{ID: res.ID, Outcome: string(res.Outcome)}
			if res.Err != nil {
				st.Error = res.Err.Error()
			}
			resp.Failed = append(resp.Failed, st)
		}
		sharedobs.WriteJSON(w, http.StatusOK, resp)
	}
}
