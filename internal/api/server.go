package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"gopower/adapters/report"
	"gopower/domain/core"
	"gopower/internal"
	apperrors "gopower/internal/errors"
	"gopower/ports"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

const defaultListLimit = 50

// Server exposes stored power-analysis runs over HTTP
type Server struct {
	router *chi.Mux
	repo   ports.ResultsRepository
	logger *internal.Logger
}

// Config holds server configuration
type Config struct {
	Port string
}

// NewServer creates the report server over a results repository
func NewServer(repo ports.ResultsRepository) *Server {
	s := &Server{
		router: chi.NewRouter(),
		repo:   repo,
		logger: internal.DefaultLogger.With("api"),
	}
	s.setupMiddleware()
	s.setupRoutes()
	return s
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.Logger)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Compress(5))
}

func (s *Server) setupRoutes() {
	s.router.Get("/healthz", s.handleHealth)
	s.router.Get("/runs", s.handleListRuns)
	s.router.Get("/runs/{id}", s.handleGetRun)
	s.router.Get("/runs/{id}/report", s.handleRunReport)
}

// ServeHTTP makes the server usable as an http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully
func (s *Server) ListenAndServe(ctx context.Context, cfg Config) error {
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("listening on %s", srv.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	limit := defaultListLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			s.writeError(w, apperrors.InvalidInput("limit must be a non-negative integer"))
			return
		}
		limit = n
	}

	runs, err := s.repo.ListRuns(r.Context(), limit)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, runs)
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	id, err := core.ParseRunID(chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, apperrors.InvalidInput(err.Error()))
		return
	}
	run, err := s.repo.GetRun(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, run)
}

func (s *Server) handleRunReport(w http.ResponseWriter, r *http.Request) {
	id, err := core.ParseRunID(chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, apperrors.InvalidInput(err.Error()))
		return
	}
	run, err := s.repo.GetRun(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(report.HTML(run)); err != nil {
		s.logger.Debug("writing report %s: %v", id, err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	code := apperrors.GetCode(err)
	switch {
	case core.IsNotFoundError(err):
		status = http.StatusNotFound
	case code == apperrors.CodeInvalidInput:
		status = http.StatusBadRequest
	default:
		s.logger.Error("request failed: %v", err)
	}

	msg := err.Error()
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		msg = appErr.Message
	}
	s.writeJSON(w, status, map[string]string{"error": msg, "code": code})
}

// writeJSON sends v with the given status. The status line is already out when
// encoding fails, so the error is only logged.
func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Debug("writing response: %v", err)
	}
}
