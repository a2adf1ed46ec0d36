package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	logx "tourcast/pkg/logx"
)

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(chimiddleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	if s.met != nil {
		r.Method(http.MethodGet, "/metrics", s.met.Handler())
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/broadcasts", func(r chi.Router) {
			r.Post("/", s.handleCreateBroadcast)
			r.Get("/", s.handleListBroadcasts)
			r.Post("/preview-audience", s.handlePreviewAudience)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetBroadcast)
				r.Post("/cancel", s.handleCancelBroadcast)
				r.Post("/ack", s.handleAcknowledge)
			})
		})
		r.Post("/receipts", s.handleReceipt)
		r.Get("/recipients/{id}/inbox", s.handleInbox)
	})

	return r
}

// requestLogger logs one line per request with status and latency.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.log.Debug("http request",
			logx.String("method", r.Method),
			logx.String("path", r.URL.Path),
			logx.Int("status", ww.Status()),
			logx.Duration("took", time.Since(start)))
	})
}
