// Package api exposes live tracking and model training over HTTP.
package api

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"sleepstage/app"
	"sleepstage/domain/core"
	"sleepstage/internal"
	"sleepstage/internal/errors"
)

// Server wires HTTP routes to the tracking and training services
type Server struct {
	router   *chi.Mux
	tracking *app.TrackingService
	training *app.TrainingService
	hub      *SSEHub
	logger   *internal.Logger

	reports sync.Map // core.UserID -> *app.TrainingReport
}

// NewServer creates a server. hub may be nil, which disables event streams.
func NewServer(tracking *app.TrackingService, training *app.TrainingService, hub *SSEHub, logger *internal.Logger) *Server {
	if logger == nil {
		logger = internal.NewNopLogger()
	}
	s := &Server{
		router:   chi.NewRouter(),
		tracking: tracking,
		training: training,
		hub:      hub,
		logger:   logger,
	}
	s.setupMiddleware()
	s.setupRoutes()
	return s
}

// Handler returns the root handler
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.Recoverer)
	s.router.Use(s.requestLogger)
}

func (s *Server) setupRoutes() {
	s.router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	s.router.Route("/api/sessions/{user}", func(r chi.Router) {
		r.Use(validUser)
		r.Get("/", s.handleSessionStatus)
		r.Post("/start", s.handleStartSession)
		r.Post("/stop", s.handleStopSession)
		r.Post("/tick", s.handleTick)
		if s.hub != nil {
			r.Get("/events", s.hub.HandleSSE)
		}
	})

	s.router.Route("/api/models/{user}", func(r chi.Router) {
		r.Use(validUser)
		r.Get("/", s.handleGetModel)
		r.Delete("/", s.handleClearModel)
		r.Post("/train", s.handleTrain)
		r.Get("/report", s.handleReport)
		r.Get("/runs", s.handleRuns)
	})
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Debug("[API] %s %s -> %d", r.Method, r.URL.Path, ww.Status())
	})
}

// validUser rejects malformed user keys before any handler runs.
func validUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, err := core.ParseUserID(chi.URLParam(r, "user")); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		next.ServeHTTP(w, r)
	})
}

func userParam(r *http.Request) core.UserID {
	return core.UserID(chi.URLParam(r, "user"))
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// writeAppError maps an error code onto an HTTP status
func (s *Server) writeAppError(w http.ResponseWriter, err error) {
	status := errors.HTTPStatus(err)
	if status == http.StatusInternalServerError {
		s.logger.Error("[API] %v", err)
	}
	writeJSON(w, status, map[string]string{"error": err.Error(), "code": errors.GetCode(err)})
}
