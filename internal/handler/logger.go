package handler

import (
	"context"
	"fmt"
	"net/http"

	"github.com/felixge/httpsnoop"
	"github.com/teacup-imaging/imagepipeline/internal/logger"
	"github.com/teacup-imaging/imagepipeline/internal/tracing"
)

// Logger is a handler that logs requests using zap, via the pipeline's
// logger.Logger wrapper.
func Logger(log *logger.Logger, h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		respMetrics := httpsnoop.CaptureMetricsFn(w, func(ww http.ResponseWriter) {
			h.ServeHTTP(ww, r)
		})

		ctx := r.Context()
		traceID, spanID := tracing.TraceInfo(ctx)

		logFields := []interface{}{
			"http-method", r.Method,
			"remote-addr", r.RemoteAddr,
			"user-agent", r.UserAgent(),
			"uri", r.URL.String(),
			"status-code", respMetrics.Code,
			"elapsed", fmt.Sprintf("%.9fs", respMetrics.Duration.Seconds()),
		}

		if traceID != "" {
			logFields = append(logFields, "trace-id", traceID, "span-id", spanID)
		}

		if ctxErr := ctx.Err(); ctxErr != nil {
			logFields = append(logFields, "context-error", ctxErr.Error())
		}

		switch {
		case respMetrics.Code == http.StatusServiceUnavailable && ctx.Err() == context.Canceled:
			log.Infow("request cancelled by client", logFields...)
		case respMetrics.Code == http.StatusServiceUnavailable && ctx.Err() == context.DeadlineExceeded:
			log.Errorw("request timeout", logFields...)
		case respMetrics.Code >= 500:
			log.Errorw("request completed", logFields...)
		default:
			log.Debugw("request completed", logFields...)
		}
	})
}
