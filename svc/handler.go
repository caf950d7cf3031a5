// Package svc provides the tooling to run fieldcrypt's HTTP surface.
//
// Usage:
//
//	func main() {
//		env := svc.InitAll("fieldcrypt", "info", os.Getenv("STATSD_ADDR"))
//		defer env.Close()
//
//		r := httpx.NewRouter()
//		// ... add routes
//
//		h := svc.NewStandardHandler(svc.HandlerOpts{Router: r})
//		s := svc.NewServer(h, svc.WithPort("8080"))
//		svc.RunServer(env.Context, s)
//	}
package svc

import (
	"net/http"

	"github.com/remind101/fieldcrypt/httpx"
	"github.com/remind101/fieldcrypt/httpx/middleware"
)

type HandlerOpts struct {
	Router       *httpx.Router
	ErrorHandler middleware.ErrorHandlerFunc
	// Logger generates the per request logger. The zero value is
	// middleware.LoggerWithRequestID.
	Logger middleware.LoggerGenerator
}

// NewStandardHandler returns an http.Handler with a standard middleware stack.
// The last middleware added is the first middleware to handle the request.
// Order is pretty important as some middleware depends on others having run
// already.
func NewStandardHandler(opts HandlerOpts) http.Handler {
	h := httpx.Handler(opts.Router)

	// Recover from panics. A panic is converted to an error. This should be first,
	// even though it means panics in middleware will not be recovered, because
	// later middleware expects endpoint panics to be returned as an error.
	h = middleware.BasicRecover(h)

	// Handler errors returned by endpoint handler or recovery middleware.
	// Errors will no longer be returned after this middeware.
	errorHandler := opts.ErrorHandler
	if errorHandler == nil {
		errorHandler = middleware.DefaultErrorHandler
	}
	h = middleware.HandleError(h, errorHandler)

	// Must go after HandleError to see the final status code.
	h = middleware.ReportResponseTimes(h, opts.Router.RouteTemplate)

	// Insert logger into context and log requests at INFO level.
	g := opts.Logger
	if g == nil {
		g = middleware.LoggerWithRequestID
	}
	h = middleware.LogTo(h, g)

	// Add the request id to the context.
	h = middleware.ExtractRequestID(h)

	// Wrap the route in middleware to add a context.Context. This middleware must be
	// last as it acts as the adaptor between http.Handler and httpx.Handler.
	return middleware.BackgroundContext(h)
}
