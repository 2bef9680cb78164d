package handler

import (
	"net/http"
	"runtime/debug"

	"github.com/teacup-imaging/imagepipeline/internal/logger"
)

// Recovery guards the metrics/health surface against a panic in a route
// handler taking down the whole embedding process: it recovers, reports
// 500, and logs the stack so a panic in /healthz never kills a scrape
// loop that's also feeding an operator's liveness probe.
func Recovery(log *logger.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				w.WriteHeader(http.StatusInternalServerError)
				logFields := LogFields(r, "stacktrace", string(debug.Stack()), "panic", err)
				log.Errorw("panic handling request", logFields...)
			}
		}()

		next.ServeHTTP(w, r)
	})
}
