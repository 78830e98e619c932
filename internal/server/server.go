// Package server exposes the engine over the HTTP action boundary consumed
// by the orchestration layer.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Jasonzhangf/webauto-sub011/api/schemas"
	"github.com/Jasonzhangf/webauto-sub011/internal/config"
	"github.com/Jasonzhangf/webauto-sub011/internal/engine"
	"github.com/Jasonzhangf/webauto-sub011/internal/library"
)

// Server hosts the action endpoint and the read-only debug endpoints.
type Server struct {
	cfg    config.ServerConfig
	logger *zap.Logger
	engine *engine.Engine
	libs   engine.Libraries

	httpServer *http.Server
}

func New(cfg config.ServerConfig, logger *zap.Logger, eng *engine.Engine, libs engine.Libraries) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		cfg:    cfg,
		logger: logger.Named("server"),
		engine: eng,
		libs:   libs,
	}
	s.httpServer = &http.Server{
		Addr:         cfg.Addr,
		Handler:      s.Router(),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	return s
}

// Router builds the chi router. Exposed for httptest.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(s.requestLogger)

	r.Get("/healthz", s.handleHealth)

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/actions", s.handleAction)
		r.Route("/sites/{site}", func(r chi.Router) {
			r.Get("/roots", s.handleRoots)
			r.Get("/containers/{id}", s.handleDefinition)
			r.Get("/containers/{id}/tree", s.handleSubtree)
		})
	})
	return r
}

// ListenAndServe blocks until the server stops or ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Action server listening.", zap.String("addr", s.cfg.Addr))
		errCh <- s.httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleAction(w http.ResponseWriter, r *http.Request) {
	var req schemas.ActionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	switch req.Action {
	case schemas.ActionContainersMatch:
		var payload schemas.MatchPayload
		if err := json.Unmarshal(req.Payload, &payload); err != nil {
			writeError(w, http.StatusBadRequest, "invalid match payload")
			return
		}
		result, err := s.engine.Match(r.Context(), payload)
		if err != nil {
			s.writeEngineError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, result)

	case schemas.ActionContainersTag:
		var payload schemas.TagPayload
		if err := json.Unmarshal(req.Payload, &payload); err != nil {
			writeError(w, http.StatusBadRequest, "invalid tag payload")
			return
		}
		result, err := s.engine.Tag(r.Context(), payload)
		if err != nil {
			s.writeEngineError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, result)

	case schemas.ActionContainersInvalidate:
		var payload schemas.InvalidatePayload
		if err := json.Unmarshal(req.Payload, &payload); err != nil {
			writeError(w, http.StatusBadRequest, "invalid invalidate payload")
			return
		}
		s.engine.InvalidateURL(payload.Profile, payload.URL)
		writeJSON(w, http.StatusOK, schemas.InvalidateResult{Invalidated: true})

	default:
		writeError(w, http.StatusBadRequest, "unknown action "+req.Action)
	}
}

func (s *Server) handleRoots(w http.ResponseWriter, r *http.Request) {
	site := chi.URLParam(r, "site")
	roots, err := s.libs.Roots(site)
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"site": site, "roots": roots})
}

func (s *Server) handleDefinition(w http.ResponseWriter, r *http.Request) {
	site := chi.URLParam(r, "site")
	id := chi.URLParam(r, "id")
	def, err := s.libs.Definition(site, id)
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, def)
}

func (s *Server) handleSubtree(w http.ResponseWriter, r *http.Request) {
	site := chi.URLParam(r, "site")
	id := chi.URLParam(r, "id")
	tree, err := s.libs.SubtreeByRoot(site, id)
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tree)
}

// writeEngineError maps engine failures onto the boundary: an unregistered
// site is the caller's mistake, everything else is ours.
func (s *Server) writeEngineError(w http.ResponseWriter, r *http.Request, err error) {
	var loadErr *library.LoadError
	if errors.As(err, &loadErr) && loadErr.Site != "" {
		writeError(w, http.StatusNotFound, loadErr.Error())
		return
	}
	var notFound *library.NotFoundError
	if errors.As(err, &notFound) {
		writeError(w, http.StatusNotFound, notFound.Error())
		return
	}

	status := http.StatusInternalServerError
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		status = http.StatusGatewayTimeout
	}
	s.logger.Error("Action failed.",
		zap.String("path", r.URL.Path), zap.Error(err))
	writeError(w, status, err.Error())
}

// requestLogger assigns a request id and logs completion with zap.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := uuid.NewString()
		w.Header().Set("X-Request-Id", requestID)

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)

		s.logger.Debug("Request completed.",
			zap.String("request_id", requestID),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("elapsed", time.Since(start)))
	})
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, schemas.ErrorResult{Error: msg})
}
