package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/shopassist/server/internal/agent/model"
	errx "github.com/shopassist/server/internal/core/error"
	logx "github.com/shopassist/server/pkg/logger"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 64 << 10

// Assistant is the conversation entry point served over HTTP.
type Assistant interface {
	RunSingleTurn(ctx context.Context, threadID, text string) (model.TurnResult, error)
	ResolveEscalation(ctx context.Context, threadID, note string) (*model.Conversation, error)
	Reset(ctx context.Context, threadID string) error
	Conversation(ctx context.Context, threadID string) (*model.Conversation, error)
	Threads(ctx context.Context) ([]string, error)
}

// Server exposes an Assistant as a JSON API.
type Server struct {
	assistant Assistant
}

type messageRequest struct {
	Text string `json:"text"`
}

type resolveRequest struct {
	Note string `json:"note"`
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// NewHandler builds the router. metrics may be nil, in which case /metrics
// is not mounted.
func NewHandler(assistant Assistant, metrics http.Handler) http.Handler {
	s := &Server{assistant: assistant}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)

	r.Get("/healthz", s.health)
	if metrics != nil {
		r.Method(http.MethodGet, "/metrics", metrics)
	}

	r.Route("/threads", func(r chi.Router) {
		r.Get("/", s.listThreads)
		r.Post("/", s.createThread)
		r.Route("/{threadID}", func(r chi.Router) {
			r.Get("/", s.getThread)
			r.Delete("/", s.resetThread)
			r.Post("/messages", s.postMessage)
			r.Post("/escalation/resolve", s.resolveEscalation)
		})
	})
	return r
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) listThreads(w http.ResponseWriter, r *http.Request) {
	ids, err := s.assistant.Threads(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	if ids == nil {
		ids = []string{}
	}
	writeJSON(w, http.StatusOK, map[string][]string{"threads": ids})
}

func (s *Server) createThread(w http.ResponseWriter, r *http.Request) {
	var body messageRequest
	if err := decode(w, r, &body); err != nil {
		writeError(w, r, err)
		return
	}
	result, err := s.assistant.RunSingleTurn(r.Context(), "", body.Text)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

func (s *Server) postMessage(w http.ResponseWriter, r *http.Request) {
	var body messageRequest
	if err := decode(w, r, &body); err != nil {
		writeError(w, r, err)
		return
	}
	result, err := s.assistant.RunSingleTurn(r.Context(), chi.URLParam(r, "threadID"), body.Text)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) getThread(w http.ResponseWriter, r *http.Request) {
	conv, err := s.assistant.Conversation(r.Context(), chi.URLParam(r, "threadID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, conv)
}

func (s *Server) resetThread(w http.ResponseWriter, r *http.Request) {
	if err := s.assistant.Reset(r.Context(), chi.URLParam(r, "threadID")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) resolveEscalation(w http.ResponseWriter, r *http.Request) {
	var body resolveRequest
	if err := decode(w, r, &body); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, r, err)
		return
	}
	conv, err := s.assistant.ResolveEscalation(r.Context(), chi.URLParam(r, "threadID"), body.Note)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, conv)
}

// decode reads a JSON body. An empty body yields an error matching io.EOF.
func decode(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("%w: %w", errx.InvalidArgument("request body is empty"), io.EOF)
		}
		return errx.InvalidArgument("invalid request body: %v", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logx.Error().Err(err).Msg("Failed to encode response")
	}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := errx.StatusOf(err)
	kind := errx.KindOf(err)
	message := errx.MessageOf(err)
	if errors.Is(err, context.DeadlineExceeded) {
		status, kind, message = http.StatusGatewayTimeout, "Timeout", "turn timed out"
	}

	event := logx.Warn()
	if status >= http.StatusInternalServerError {
		event = logx.Error()
	}
	event.Err(err).
		Str("request_id", middleware.GetReqID(r.Context())).
		Int("status", status).
		Msg("Request failed")

	writeJSON(w, status, errorResponse{Error: kind, Message: message})
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		logx.Debug().
			Str("request_id", middleware.GetReqID(r.Context())).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int64("duration_ms", time.Since(start).Milliseconds()).
			Msg("HTTP request")
	})
}
