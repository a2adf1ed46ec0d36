// Package api exposes the broadcast operations over HTTP.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"

	"tourcast/internal/broadcast"
	"tourcast/internal/channel"
	logx "tourcast/pkg/logx"
	"tourcast/pkg/metrics"
)

type Config struct {
	Enabled bool
	Addr    string
}

func (c Config) withDefaults() Config {
	if c.Addr == "" {
		c.Addr = ":8080"
	}
	return c
}

type Server struct {
	cfg   Config
	core  *broadcast.Service
	inbox *channel.InboxAdapter
	met   *metrics.Metrics
	log   logx.Logger

	validate *validator.Validate
	srv      *http.Server
}

func New(cfg Config, core *broadcast.Service, inbox *channel.InboxAdapter, met *metrics.Metrics, log logx.Logger) *Server {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Server{
		cfg:      cfg.withDefaults(),
		core:     core,
		inbox:    inbox,
		met:      met,
		log:      log,
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
}

// Start binds the listener and serves in a background goroutine.
func (s *Server) Start(ctx context.Context) error {
	_ = ctx

	s.srv = &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		s.log.Info("http api listening", logx.String("addr", s.cfg.Addr))
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("http api serve failed", logx.Err(err))
		}
	}()
	return nil
}

func (s *Server) Stop(ctx context.Context) {
	if s.srv == nil {
		return
	}
	start := time.Now()
	if err := s.srv.Shutdown(ctx); err != nil {
		s.log.Warn("http api shutdown", logx.Err(err))
	}
	s.log.Info("http api stopped", logx.Duration("took", time.Since(start)))
}
