package middleware

import (
	"context"
	"net/http"
	"strconv"

	"github.com/remind101/fieldcrypt/httpx"
	"github.com/remind101/fieldcrypt/metrics"
)

// ResponseTimeReporter reports response timings tagged with the route
// template and status.
//
// Usage:
//
//	r := httpx.NewRouter()
//	...
//	h := ReportResponseTimes(r, r.RouteTemplate)
type ResponseTimeReporter struct {
	handler httpx.Handler
	route   func(*http.Request) string
}

func ReportResponseTimes(h httpx.Handler, route func(*http.Request) string) *ResponseTimeReporter {
	return &ResponseTimeReporter{handler: h, route: route}
}

func (h *ResponseTimeReporter) ServeHTTPContext(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	rw := NewResponseWriter(w) // exposes status code
	t := metrics.Time("fieldcrypt.http.response_time", nil, 1.0)

	err := h.handler.ServeHTTPContext(ctx, rw, r)

	status := rw.Status()
	if err != nil {
		status = httpx.ErrorStatusCode(err)
	}
	t.SetTags(map[string]string{
		"route":  r.Method + " " + h.route(r),
		"status": strconv.Itoa(status),
	})
	t.Done()

	return err
}
