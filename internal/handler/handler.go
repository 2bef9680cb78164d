// Package handler adapts the teacher's internal/handler middleware chain
// (recovery, structured request logging) for the pipeline's operator-facing
// metrics/health HTTP surface.
package handler

import (
	"net/http"

	"github.com/teacup-imaging/imagepipeline/internal/tracing"
)

// Error is a handler-level error carrying the HTTP status to report.
type Error struct {
	Message string
	Code    int
}

func (e *Error) Error() string { return e.Message }

// Func is an http handler that may return a structured Error instead of
// writing its own failure response.
type Func func(w http.ResponseWriter, r *http.Request) *Error

// Handler adapts a Func into a standard http.Handler, writing the Error
// body when one is returned.
func Handler(f Func) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := f(w, r); err != nil {
			http.Error(w, err.Message, err.Code)
		}
	})
}

// LogFields returns the given keys and values for a request, prefixed
// with trace-id/span-id pairs when the request context carries a trace.
func LogFields(r *http.Request, keysAndValues ...interface{}) []interface{} {
	traceID, spanID := tracing.TraceInfo(r.Context())
	if traceID != "" {
		return append([]interface{}{"trace-id", traceID, "span-id", spanID}, keysAndValues...)
	}
	return keysAndValues
}
