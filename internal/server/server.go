// File: internal/server/server.go

// Package server exposes the automation agent over a local WebSocket
// endpoint. One hub fans loop events out to every connected client and
// funnels client instructions into a single serialized worker.
package server

import (
	"context"
	"errors"
	"net/http"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xkilldash9x/droidpilot/internal/config"
)

// Server ties the hub to an HTTP listener and manages their shared lifecycle.
type Server struct {
	cfg    config.ServerConfig
	hub    *Hub
	logger *zap.Logger
}

// New creates a Server around an already-bound hub.
func New(cfg config.ServerConfig, hub *Hub, logger *zap.Logger) *Server {
	return &Server{
		cfg:    cfg,
		hub:    hub,
		logger: logger.Named("server"),
	}
}

// Run starts the hub, the instruction worker and the HTTP listener, then
// blocks until ctx ends or the listener fails. Shutdown drains in-flight
// HTTP exchanges within the configured timeout.
func (s *Server) Run(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.hub.HandleWS)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	httpServer := &http.Server{
		Addr:    s.cfg.ListenAddr,
		Handler: mux,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		s.hub.Run(gctx)
		return nil
	})
	g.Go(func() error {
		s.hub.RunWorker(gctx)
		return nil
	})
	g.Go(func() error {
		s.logger.Info("Listening", zap.String("addr", s.cfg.ListenAddr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	err := g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
