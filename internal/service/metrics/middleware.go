package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// unmatchedRoute labels requests no route matched, keeping path cardinality bounded.
const unmatchedRoute = "unmatched"

// Middleware records Prometheus metrics for each request.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		m.InFlightInc()
		defer m.InFlightDec()

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		path := RoutePath(r)
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}

		m.RecordHTTPRequest(r.Method, path, strconv.Itoa(status))
		m.RecordHTTPDuration(r.Method, path, time.Since(start).Seconds())
		m.RecordHTTPResponseSize(r.Method, path, float64(ww.BytesWritten()))
	})
}

// RoutePath returns the chi route pattern that served r. Query strings are
// never part of the label since callback URLs carry codes.
func RoutePath(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := rctx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return unmatchedRoute
}
