// Package server provides the read-only HTTP surface over the incident history.
package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/charmbracelet/log"
	"github.com/cockroachdb/errors"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/bryan-buckman/statuspulse/internal/model"
	"github.com/bryan-buckman/statuspulse/internal/query"
	"github.com/bryan-buckman/statuspulse/internal/rss"
)

// Counter reports how many incidents are recorded.
type Counter interface {
	Len() int
}

// Server is the HTTP server.
type Server struct {
	query   *query.Service
	counter Counter
	poller  *rss.Poller // optional; polled in the background while serving
	router  chi.Router
	logger  *log.Logger
	started time.Time
}

// New creates a server. poller may be nil.
func New(q *query.Service, counter Counter, poller *rss.Poller, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.Default()
	}
	s := &Server{
		query:   q,
		counter: counter,
		poller:  poller,
		logger:  logger,
		started: time.Now(),
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)

	r.Route("/api", func(r chi.Router) {
		r.Get("/incidents", s.handleIncidents)
		r.Get("/feeds", s.handleFeeds)
	})

	s.router = r
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves on addr until ctx is cancelled, running the poller alongside
// when one was provided.
func (s *Server) Start(ctx context.Context, addr string) error {
	if s.poller != nil {
		s.poller.Start()
		defer s.poller.Stop()
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Server starting", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return errors.Wrap(err, "listen")
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s.logger.Info("Server stopping")
	return srv.Shutdown(shutdownCtx)
}

// --- Handlers ---

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := map[string]interface{}{
		"status":    "ok",
		"incidents": s.counter.Len(),
		"uptime":    time.Since(s.started).Truncate(time.Second).String(),
	}
	if s.poller != nil {
		resp["poller"] = s.poller.State().String()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleIncidents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	start, end, color := q.Get("start"), q.Get("end"), q.Get("color")

	var (
		records []model.IncidentRecord
		err     error
	)
	switch {
	case start != "" || end != "":
		if start == "" || end == "" {
			writeError(w, http.StatusBadRequest, "both start and end are required")
			return
		}
		records, err = s.query.Range(start, end)
	case color != "":
		records, err = s.query.Filter(color)
	default:
		records = s.query.All()
	}
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if records == nil {
		records = []model.IncidentRecord{}
	}
	writeJSON(w, http.StatusOK, records)
}

func (s *Server) handleFeeds(w http.ResponseWriter, r *http.Request) {
	type feed struct {
		Endpoint string `json:"endpoint"`
		ETag     string `json:"etag,omitempty"`
	}
	feeds := []feed{}
	if s.poller != nil {
		for _, c := range s.poller.Endpoints() {
			feeds = append(feeds, feed{Endpoint: c.Endpoint, ETag: c.ETag})
		}
	}
	writeJSON(w, http.StatusOK, feeds)
}

// --- Helpers ---

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("Request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()))
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
