// Package server exposes fieldcrypt's health probe and rotation admin API
// over HTTP.
package server

import (
	"context"
	"net/http"

	"github.com/remind101/fieldcrypt/cryptostate"
	"github.com/remind101/fieldcrypt/httpx"
	"github.com/remind101/fieldcrypt/httpx/middleware"
	"github.com/remind101/fieldcrypt/keyregistry"
	"github.com/remind101/fieldcrypt/rotation"
	"github.com/remind101/fieldcrypt/svc"
)

const (
	StatusOK       = "ok"
	StatusDegraded = "degraded"
)

type Options struct {
	State    *cryptostate.Context
	Rotation *rotation.Engine
	Keys     keyregistry.Registry

	// HealthFatal makes /health answer 503 while crypto is not ready.
	HealthFatal bool

	// Admin routes are only mounted when both are set.
	AdminUser, AdminPass string
}

// Server routes requests to the rotation engine.
type Server struct {
	opts   Options
	router *httpx.Router
}

func New(opts Options) *Server {
	s := &Server{opts: opts, router: httpx.NewRouter()}

	s.router.HandleFunc("/health", s.health).Methods("GET")

	if opts.AdminUser != "" && opts.AdminPass != "" {
		admin := func(f httpx.HandlerFunc) httpx.Handler {
			return middleware.BasicAuth(f, opts.AdminUser, opts.AdminPass, "fieldcrypt")
		}
		s.router.Handle("/admin/keys", admin(s.listKeys)).Methods("GET")
		s.router.Handle("/admin/rotation/begin", admin(s.begin)).Methods("POST")
		s.router.Handle("/admin/rotation/run", admin(s.run)).Methods("POST")
		s.router.Handle("/admin/rotation/finalize", admin(s.finalize)).Methods("POST")
		s.router.Handle("/admin/rotation/status", admin(s.status)).Methods("GET")
	}

	return s
}

// Handler wraps the routes in the standard middleware stack.
func (s *Server) Handler() http.Handler {
	return svc.NewStandardHandler(svc.HandlerOpts{Router: s.router})
}

// Health is the body of GET /health.
type Health struct {
	Status      string `json:"status"`
	CryptoReady bool   `json:"crypto_ready"`
	CryptoMode  string `json:"crypto_mode"`
	CryptoLabel string `json:"crypto_label"`
}

func (s *Server) health(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	st := s.opts.State.Status(ctx)
	h := Health{
		Status:      StatusOK,
		CryptoReady: st.Ready,
		CryptoMode:  st.Mode,
		CryptoLabel: st.Label,
	}

	code := http.StatusOK
	if !st.Ready {
		h.Status = StatusDegraded
		if s.opts.HealthFatal {
			code = http.StatusServiceUnavailable
		}
	}
	return httpx.Encode(w, code, h)
}

// Keys is the body of GET /admin/keys.
type Keys struct {
	WriteLabel string                   `json:"write_label"`
	Keys       []*keyregistry.KeyRecord `json:"keys"`
}

func (s *Server) listKeys(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	resp, err := ListKeys(ctx, s.opts.Keys, s.opts.State)
	if err != nil {
		return err
	}
	return httpx.Encode(w, http.StatusOK, resp)
}

// ListKeys describes every registered key. Wrapped material is never
// included.
func ListKeys(ctx context.Context, reg keyregistry.Registry, state *cryptostate.Context) (*Keys, error) {
	labels, err := reg.ListLabels(ctx)
	if err != nil {
		return nil, err
	}

	resp := &Keys{WriteLabel: state.WriteLabel(), Keys: make([]*keyregistry.KeyRecord, 0, len(labels))}
	for _, l := range labels {
		k, err := reg.Get(ctx, l)
		if err != nil {
			return nil, err
		}
		resp.Keys = append(resp.Keys, k)
	}
	return resp, nil
}

// BeginRequest is the body of POST /admin/rotation/begin. An empty label
// generates one.
type BeginRequest struct {
	Label string `json:"label"`
}

func (s *Server) begin(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	var req BeginRequest
	if err := httpx.Decode(r, &req); err != nil {
		return err
	}

	k, err := s.opts.Rotation.Begin(ctx, req.Label)
	if err != nil {
		return err
	}
	return httpx.Encode(w, http.StatusCreated, k)
}

func (s *Server) run(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	var req rotation.Request
	if err := httpx.Decode(r, &req); err != nil {
		return err
	}

	res, err := s.opts.Rotation.Run(ctx, req)
	if err != nil {
		return err
	}
	return httpx.Encode(w, http.StatusOK, res)
}

// FinalizeRequest is the body of POST /admin/rotation/finalize.
type FinalizeRequest struct {
	Target string `json:"target"`
}

func (s *Server) finalize(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	var req FinalizeRequest
	if err := httpx.Decode(r, &req); err != nil {
		return err
	}

	res, err := s.opts.Rotation.Finalize(ctx, req.Target)
	if err != nil {
		return err
	}
	return httpx.Encode(w, http.StatusOK, res)
}

func (s *Server) status(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	st, err := s.opts.Rotation.Status(ctx, r.URL.Query().Get("target"))
	if err != nil {
		return err
	}
	return httpx.Encode(w, http.StatusOK, st)
}
