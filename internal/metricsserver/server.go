// Package metricsserver exposes the pipeline's prometheus registry and a
// liveness check over HTTP, grounded on the teacher's internal/api.Router()
// assembly (mux router, recovery, request-logging middleware) and its
// cmd/image-service/main.go metrics.Serve goroutine.
package metricsserver

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"

	"github.com/teacup-imaging/imagepipeline/internal/handler"
	"github.com/teacup-imaging/imagepipeline/internal/logger"
)

// HealthChecker reports whether the pipeline is able to serve requests.
type HealthChecker interface {
	Healthy() error
}

// Server is the metrics/health HTTP surface for an embedding process.
type Server struct {
	Registry *prometheus.Registry
	Log      *logger.Logger
	Checker  HealthChecker

	// CORSAllowedOrigins, when non-empty, wraps the router in the same
	// rs/cors middleware the teacher's internal/api.Router() applies to
	// its own routes, for a dashboard that fetches /metrics from a
	// different origin than the one it's served from. Left empty, no
	// CORS middleware is applied: a scraped, same-origin-only surface
	// has nothing to bind it to.
	CORSAllowedOrigins []string
}

// Router builds the http.Handler for the metrics/health surface.
func (s *Server) Router() http.Handler {
	router := mux.NewRouter()
	router.Handle("/metrics", promhttp.HandlerFor(s.Registry, promhttp.HandlerOpts{})).Methods("GET").Name("Metrics")
	router.Handle("/healthz", handler.Handler(s.healthHandler)).Methods("GET").Name("Health")

	var httpHandler http.Handler = router
	if len(s.CORSAllowedOrigins) > 0 {
		c := cors.New(cors.Options{
			AllowedMethods: []string{"GET"},
			AllowedOrigins: s.CORSAllowedOrigins,
		})
		httpHandler = c.Handler(httpHandler)
	}

	httpHandler = handler.Recovery(s.Log, httpHandler)
	httpHandler = handler.Logger(s.Log, httpHandler)
	return httpHandler
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) *handler.Error {
	if s.Checker == nil {
		w.WriteHeader(http.StatusOK)
		return nil
	}
	if err := s.Checker.Healthy(); err != nil {
		return &handler.Error{Message: err.Error(), Code: http.StatusServiceUnavailable}
	}
	w.WriteHeader(http.StatusOK)
	return nil
}

// Serve runs the metrics server until ctx is cancelled.
func Serve(ctx context.Context, log *logger.Logger, s *Server, listen string) {
	srv := &http.Server{
		Addr:     listen,
		Handler:  s.Router(),
		ErrorLog: logger.NewHTTPErrorLog(log),
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Errorw("metrics server stopped", "error", err)
	}
}
