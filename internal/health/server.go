// Package health serves the liveness, readiness and metrics endpoints.
// Readiness flips only once every tunnel gate has been released, so the
// endpoint is reachable exactly when a valid connector token is present.
package health

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"go.uber.org/atomic"
)

const shutdownTimeout = 5 * time.Second

// Server exposes /healthz, /readyz and /metrics on one listener.
type Server struct {
	addr  string
	log   *logrus.Logger
	ready atomic.Bool
	srv   *http.Server
}

// NewServer builds a server listening on addr, initially not ready.
func NewServer(addr string, log *logrus.Logger) *Server {
	s := &Server{
		addr: addr,
		log:  log,
	}
	s.srv = &http.Server{
		Addr:    addr,
		Handler: s.router(),
	}
	return s
}

// SetReady flips the readiness signal.
func (s *Server) SetReady() {
	s.ready.Store(true)
}

func (s *Server) router() http.Handler {
	mux := chi.NewRouter()
	mux.Use(middleware.Recoverer)

	mux.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	mux.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if !s.ready.Load() {
			http.Error(w, "provisioning", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ready"))
	})
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}

// Run serves until the context is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.log.WithFields(logrus.Fields{
			"addr": s.addr,
		}).Infof("health server listening")
		errCh <- s.srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return s.srv.Shutdown(sctx)
	}
}
