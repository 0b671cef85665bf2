package api

import (
	"context"
	"net/http"
	"time"

	"pobbin/cfg"
	"pobbin/svc/cache"
	"pobbin/svc/session"
	"pobbin/svc/svc"
	"pobbin/svc/util"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/hlog"
)

// Pinger is a dependency the readiness probe checks.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Server struct {
	router     *chi.Mux
	cfg        *cfg.Cfg
	objects    Pinger
	cache      Pinger
	httpServer *http.Server
}

// NewServer wires the routes. cachePing may be nil for the in-process cache.
func NewServer(c *cfg.Cfg, p *svc.Paste, edge *cache.Controller, sess *session.Verifier, objects, cachePing Pinger) *Server {
	s := &Server{cfg: c, objects: objects, cache: cachePing}
	r := chi.NewRouter()
	mw := NewMw(c)
	r.Group(func(r chi.Router) {
		r.Use(mw.Recoverer)
		r.Get("/health", s.Health)
		r.Get("/ready", s.Ready)
		r.Handle("/metrics", promhttp.Handler())
	})

	r.Group(func(r chi.Router) {
		r.Use(mw.Recoverer)
		r.Use(mw.RequestID)
		r.Use(hlog.NewHandler(util.GetLogger()))
		r.Use(hlog.AccessHandler(func(req *http.Request, status, size int, dur time.Duration) {
			hlog.FromRequest(req).Info().
				Str("method", req.Method).
				Str("url", req.URL.String()).
				Int("status", status).
				Int("size", size).
				Dur("duration", dur).
				Str("request_id", util.GetRequestID(req.Context())).
				Msg("http request")
		}))
		r.Use(mw.Metrics)
		r.Use(mw.ContextTimeout)
		r.Use(mw.SecurityHeaders)
		r.Use(sess.Middleware)

		hdl := &Hdl{paste: p, edge: edge, cfg: c}
		r.Get("/{id}", hdl.cached(unscopedOwner, hdl.View))
		r.Get("/{id}/raw", hdl.cached(unscopedOwner, hdl.Raw))
		r.Get("/{id}/json", hdl.cached(unscopedOwner, hdl.JSON))
		r.Get("/u/{user}", hdl.cached(routeUser, hdl.UserPage))
		r.Get("/u/{user}/{id}", hdl.cached(routeUser, hdl.View))
		r.Get("/u/{user}/{id}/raw", hdl.cached(routeUser, hdl.Raw))
		r.Get("/u/{user}/{id}/json", hdl.cached(routeUser, hdl.JSON))
		r.Get("/pob/{pid}", hdl.cached(pidOwner, hdl.Raw))
		r.Get("/pob/u/{user}/{id}", hdl.cached(routeUser, hdl.Raw))
		r.Get("/api/internal/user/{user}", hdl.cached(routeUser, hdl.UserList))

		r.Route("/api/internal/paste", func(r chi.Router) {
			r.Use(mw.JSONContentType)
			r.Post("/", hdl.Create)
			r.Put("/{pid}", hdl.Update)
			r.Delete("/{pid}", hdl.Delete)
		})
	})

	s.router = r
	s.httpServer = &http.Server{
		Addr:           ":" + c.Port,
		Handler:        r,
		ReadTimeout:    15 * time.Second,
		WriteTimeout:   15 * time.Second,
		IdleTimeout:    60 * time.Second,
		MaxHeaderBytes: 256 * 1024,
	}
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) Start() error {
	util.Info().Str("port", s.cfg.Port).Msg("starting server")
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		util.Error().Err(err).Str("port", s.cfg.Port).Msg("server failed to start")
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}
